package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/control-theory/logprobe/internal/deploy"
	"github.com/control-theory/logprobe/internal/logstream"
	"github.com/control-theory/logprobe/internal/probe"
	"github.com/control-theory/logprobe/internal/provision"
	"github.com/control-theory/logprobe/internal/render"
	"github.com/control-theory/logprobe/internal/stimulus"
	"github.com/control-theory/logprobe/internal/tail"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
)

// runNames are the per-run resource names. Every run gets a fresh random
// suffix so repeated runs never collide and leftovers are attributable.
type runNames struct {
	group string
	plan  string
	app   string
}

func newRunNames(cfg appConfig) runNames {
	suffix := uuid.NewString()[:8]
	return runNames{
		group: cfg.NamePrefix + "-rg-" + suffix,
		plan:  cfg.NamePrefix + "-plan-" + suffix,
		app:   cfg.NamePrefix + "-app-" + suffix,
	}
}

// runProbe provisions a one-shot function app, deploys the embedded
// handler, tails its live log stream for the configured window while the
// stimulus plan pokes it, and deletes everything again.
func runProbe(cfg appConfig, creds provision.Credentials, plan *stimulus.Plan) error {
	// Diagnostics go to stderr so the tailed log lines own stdout.
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.SetOutput(os.Stderr)

	names := newRunNames(cfg)

	prov, err := provision.NewClient(creds, provision.Options{
		BaseURL:      cfg.ManagementURL,
		AuthURL:      cfg.AuthURL,
		APIVersion:   cfg.APIVersion,
		PollInterval: cfg.PollInterval,
		PollTimeout:  cfg.PollTimeout,
		Logf:         log.Printf,
	})
	if err != nil {
		return fmt.Errorf("building management client: %w", err)
	}

	caller := stimulus.NewCaller(stimulus.CallerOptions{
		Timeout: cfg.CallTimeout,
		Logf:    log.Printf,
	})

	runner := &probe.Runner{
		Provision: prov,
		NewDeployer: func(target provision.PublishTarget) (probe.Deployer, error) {
			return deploy.NewTransport(deploy.Target{
				SCMURL:   target.SCMURL,
				Username: target.Username,
				Password: target.Password,
			}, log.Printf)
		},
		OpenStream: func(ctx context.Context, target provision.PublishTarget) (tail.LineStream, error) {
			client, err := logstream.NewClient(logstream.Options{
				SCMURL:   target.SCMURL,
				Username: target.Username,
				Password: target.Password,
			})
			if err != nil {
				return nil, err
			}
			return client.Open(ctx)
		},
		Caller: caller,
		Logf:   log.Printf,
	}

	// Set up context and signal handling before anything is provisioned.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nAborting, cleaning up... (press Ctrl+C again to force)")
		cancel()
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nForce exit. Cloud resources may be left behind.")
		os.Exit(1)
	}()

	printRunBanner(cfg, names, plan)

	sink := render.NewLineWriter(os.Stdout, render.ShouldColor(cfg.Color, os.Stdout))

	summary, err := runner.Run(ctx, probe.Config{
		Group:           names.group,
		Plan:            names.plan,
		App:             names.app,
		Function:        cfg.FunctionName,
		Location:        cfg.Location,
		Assets:          deployAssets(cfg.FunctionName),
		Warmups:         cfg.Warmups,
		WarmupBody:      cfg.WarmupBody,
		StimulusPlan:    plan,
		Window:          cfg.Window,
		Sink:            sink,
		TeardownTimeout: cfg.TeardownTimeout,
	})
	if summary != nil {
		printRunSummary(summary)
	}
	return err
}

func printRunBanner(cfg appConfig, names runNames, plan *stimulus.Plan) {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cyan := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	yellow := lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	bold := lipgloss.NewStyle().Bold(true)

	check := green.Render("●")
	dot := dim.Render("●")

	logo := cyan.Bold(true).Render(`
    ╦  ╔═╗╔═╗  ╔═╗╦═╗╔═╗╔╗ ╔═╗
    ║  ║ ║║ ╦  ╠═╝╠╦╝║ ║╠╩╗║╣
    ╩═╝╚═╝╚═╝  ╩  ╩╚═╚═╝╚═╝╚═╝`)

	ver := dim.Render("v" + version)

	var lines []string
	lines = append(lines, "")
	lines = append(lines, logo)
	lines = append(lines, "    "+ver)
	lines = append(lines, "")

	separator := dim.Render("    ─────────────────────────────────")
	lines = append(lines, separator)
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Target"))
	lines = append(lines, "")
	lines = append(lines, fmt.Sprintf("    %s  Management API %s", check, cyan.Render(cfg.ManagementURL)))
	lines = append(lines, fmt.Sprintf("    %s  Token Issuer   %s", check, dim.Render(cfg.AuthURL)))
	lines = append(lines, fmt.Sprintf("    %s  Location       %s", check, dim.Render(cfg.Location)))
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Probe"))
	lines = append(lines, "")
	lines = append(lines, fmt.Sprintf("    %s  Resource Group %s", check, cyan.Render(names.group)))
	lines = append(lines, fmt.Sprintf("    %s  Function App   %s", check, cyan.Render(names.app)))
	lines = append(lines, fmt.Sprintf("    %s  Function       %s", check, cyan.Render(cfg.FunctionName)))
	lines = append(lines, fmt.Sprintf("    %s  Tail Window    %s", check, yellow.Render(cfg.Window.String())))

	if cfg.Warmups > 0 {
		lines = append(lines, fmt.Sprintf("    %s  Warmup Calls   %s", check, dim.Render(strconv.Itoa(cfg.Warmups))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Warmup Calls   %s", dot, dim.Render("disabled")))
	}

	if plan != nil && len(plan.Steps) > 0 {
		lines = append(lines, fmt.Sprintf("    %s  Stimulus Steps %s", check, dim.Render(strconv.Itoa(len(plan.Steps)))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Stimulus Steps %s", dot, dim.Render("none")))
	}
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Config"))
	lines = append(lines, "")
	if cfg.ConfigPath != "" {
		lines = append(lines, fmt.Sprintf("    %s  Config File    %s", check, dim.Render(shortenPath(cfg.ConfigPath))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Config File    %s", dot, dim.Render("default (no file)")))
	}

	lines = append(lines, "")
	lines = append(lines, separator)
	lines = append(lines, "")
	lines = append(lines, "    "+dim.Render("Press ")+yellow.Render("Ctrl+C")+dim.Render(" to abort and clean up"))
	lines = append(lines, "")

	fmt.Println(strings.Join(lines, "\n"))
}

func printRunSummary(s *probe.Summary) {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	red := lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	yellow := lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	bold := lipgloss.NewStyle().Bold(true)

	check := green.Render("●")
	cross := red.Render("●")
	dot := dim.Render("●")

	var lines []string
	lines = append(lines, "")
	lines = append(lines, dim.Render("    ─────────────────────────────────"))
	lines = append(lines, "")
	lines = append(lines, bold.Render("    Run Summary"))
	lines = append(lines, "")
	if s.Tail.Elapsed > 0 {
		lines = append(lines, fmt.Sprintf("    %s  Lines Read     %s", check, yellow.Render(strconv.Itoa(s.Tail.Lines))))
		lines = append(lines, fmt.Sprintf("    %s  Tail Time      %s", check, dim.Render(s.Tail.Elapsed.Round(time.Millisecond).String())))
		lines = append(lines, fmt.Sprintf("    %s  Stopped By     %s", check, dim.Render(s.Tail.Reason.String())))
		if s.Tail.ReadErr != nil {
			lines = append(lines, fmt.Sprintf("    %s  Stream Error   %s", cross, red.Render(s.Tail.ReadErr.Error())))
		}
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Log Tail       %s", dot, dim.Render("did not run")))
	}
	lines = append(lines, fmt.Sprintf("    %s  Warmup Calls   %s", check, dim.Render(strconv.Itoa(s.Warmups))))

	switch {
	case s.TornDown:
		lines = append(lines, fmt.Sprintf("    %s  Teardown       %s", check, green.Render("all resources deleted")))
	case s.TeardownErr != nil:
		lines = append(lines, fmt.Sprintf("    %s  Teardown       %s", cross, red.Render("FAILED: "+s.TeardownErr.Error())))
		lines = append(lines, "       "+dim.Render("Delete resource group ")+yellow.Render(s.Group)+dim.Render(" manually."))
	default:
		lines = append(lines, fmt.Sprintf("    %s  Teardown       %s", dot, dim.Render("nothing provisioned")))
	}
	lines = append(lines, "")

	fmt.Println(strings.Join(lines, "\n"))
}

func shortenPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return path
}
