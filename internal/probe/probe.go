// Package probe orchestrates one full probe run: provision a disposable
// app, deploy the probe function, warm it up, tail its log stream while a
// stimulus schedule pokes it, and tear everything down again. Teardown is
// guaranteed on every exit path once the resource group exists.
package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/control-theory/logprobe/internal/provision"
	"github.com/control-theory/logprobe/internal/stimulus"
	"github.com/control-theory/logprobe/internal/tail"

	"golang.org/x/sync/errgroup"
)

// DefaultTeardownTimeout bounds the deferred resource-group delete.
const DefaultTeardownTimeout = 3 * time.Minute

// Provisioner is the control-plane contract the runner needs.
type Provisioner interface {
	CreateResourceGroup(ctx context.Context, name, location string) (*provision.ResourceGroup, error)
	CreateAppWithPlan(ctx context.Context, group, plan, app, location string) (*provision.App, error)
	CreateFunctionUnderApp(ctx context.Context, group, app, name string, cfg provision.FunctionConfig) (*provision.Function, error)
	PublishingCredentials(ctx context.Context, group, app string) (*provision.PublishTarget, error)
	DeleteResourceGroup(ctx context.Context, name string) error
}

// Deployer pushes code to an app's SCM surface. UploadBytes may be called
// concurrently for independent files.
type Deployer interface {
	UploadBytes(ctx context.Context, data []byte, remotePath string) error
	SyncTriggers(ctx context.Context) error
}

// Caller drives warmup traffic and builds scheduled stimulus steps.
type Caller interface {
	Warmup(ctx context.Context, url, body string, n int) int
	Step(name string, after time.Duration, url, body string) stimulus.Step
}

// Runner wires the pieces of a probe run together. All fields are required
// except Logf.
type Runner struct {
	Provision   Provisioner
	NewDeployer func(target provision.PublishTarget) (Deployer, error)
	OpenStream  func(ctx context.Context, target provision.PublishTarget) (tail.LineStream, error)
	Caller      Caller
	Logf        func(format string, args ...any)
}

// Asset is one file to deploy before the tail starts.
type Asset struct {
	RemotePath string
	Data       []byte
}

// Config describes one probe run.
type Config struct {
	Group    string
	Plan     string
	App      string
	Function string
	Location string

	Assets     []Asset
	Warmups    int
	WarmupBody string

	StimulusPlan *stimulus.Plan
	Window       time.Duration
	Sink         io.Writer

	TeardownTimeout time.Duration
}

// Summary reports what a run did. It is populated even when Run returns an
// error.
type Summary struct {
	Group     string
	App       string
	Function  string
	InvokeURL string
	Warmups   int
	Tail      tail.Result

	TornDown    bool
	TeardownErr error
}

func (r *Runner) validate(cfg Config) error {
	switch {
	case r.Provision == nil:
		return errors.New("probe: provisioner is required")
	case r.NewDeployer == nil:
		return errors.New("probe: deployer factory is required")
	case r.OpenStream == nil:
		return errors.New("probe: stream opener is required")
	case r.Caller == nil:
		return errors.New("probe: caller is required")
	}
	var missing []string
	for _, field := range []struct{ name, value string }{
		{"group", cfg.Group},
		{"plan", cfg.Plan},
		{"app", cfg.App},
		{"function", cfg.Function},
		{"location", cfg.Location},
	} {
		if field.value == "" {
			missing = append(missing, field.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("probe: config missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// Run executes one probe run. Provisioning and deployment errors abort the
// run and are returned; warmup, stimulus, tail-read, and teardown problems
// are reported through the Summary instead. The resource group is deleted
// before Run returns whenever it was created, under a fresh context so
// cancellation of ctx cannot skip it.
func (r *Runner) Run(ctx context.Context, cfg Config) (*Summary, error) {
	if err := r.validate(cfg); err != nil {
		return nil, err
	}
	logf := r.Logf
	if logf == nil {
		logf = log.Printf
	}
	teardownTimeout := cfg.TeardownTimeout
	if teardownTimeout <= 0 {
		teardownTimeout = DefaultTeardownTimeout
	}

	summary := &Summary{Group: cfg.Group, App: cfg.App, Function: cfg.Function}

	created := false
	defer func() {
		if !created {
			logf("probe: nothing provisioned, skipping teardown")
			return
		}
		tctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		defer cancel()
		logf("probe: deleting resource group %s", cfg.Group)
		if err := r.Provision.DeleteResourceGroup(tctx, cfg.Group); err != nil {
			summary.TeardownErr = err
			logf("probe: teardown failed, resources may remain: %v", err)
			return
		}
		summary.TornDown = true
		logf("probe: resource group %s deleted", cfg.Group)
	}()

	if _, err := r.Provision.CreateResourceGroup(ctx, cfg.Group, cfg.Location); err != nil {
		return summary, fmt.Errorf("probe: create resource group: %w", err)
	}
	created = true

	app, err := r.Provision.CreateAppWithPlan(ctx, cfg.Group, cfg.Plan, cfg.App, cfg.Location)
	if err != nil {
		return summary, fmt.Errorf("probe: create app: %w", err)
	}
	summary.InvokeURL = app.InvokeURL

	fn, err := r.Provision.CreateFunctionUnderApp(ctx, cfg.Group, cfg.App, cfg.Function, provision.DefaultHTTPConfig())
	if err != nil {
		return summary, fmt.Errorf("probe: create function: %w", err)
	}

	target, err := r.Provision.PublishingCredentials(ctx, cfg.Group, cfg.App)
	if err != nil {
		return summary, fmt.Errorf("probe: publishing credentials: %w", err)
	}

	deployer, err := r.NewDeployer(*target)
	if err != nil {
		return summary, fmt.Errorf("probe: build deployer: %w", err)
	}
	g, uctx := errgroup.WithContext(ctx)
	for _, asset := range cfg.Assets {
		asset := asset // per-iteration copy: module was written for go >= 1.22 loop semantics
		g.Go(func() error {
			if err := deployer.UploadBytes(uctx, asset.Data, asset.RemotePath); err != nil {
				return fmt.Errorf("probe: upload %s: %w", asset.RemotePath, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return summary, err
	}
	if err := deployer.SyncTriggers(ctx); err != nil {
		return summary, fmt.Errorf("probe: sync triggers: %w", err)
	}

	invokeURL := fn.InvokeURL
	if invokeURL == "" {
		invokeURL = strings.TrimSuffix(app.InvokeURL, "/") + "/api/" + cfg.Function
	}
	summary.InvokeURL = invokeURL

	if cfg.Warmups > 0 {
		summary.Warmups = r.Caller.Warmup(ctx, invokeURL, cfg.WarmupBody, cfg.Warmups)
		logf("probe: warmup finished, %d/%d calls succeeded", summary.Warmups, cfg.Warmups)
	}

	stream, err := r.OpenStream(ctx, *target)
	if err != nil {
		return summary, fmt.Errorf("probe: open log stream: %w", err)
	}

	var stim func(context.Context)
	if cfg.StimulusPlan != nil && len(cfg.StimulusPlan.Steps) > 0 {
		sched := make(stimulus.Schedule, 0, len(cfg.StimulusPlan.Steps))
		for _, step := range cfg.StimulusPlan.Steps {
			sched = append(sched, r.Caller.Step(step.Name, time.Duration(step.After), invokeURL, step.Body))
		}
		stim = func(ctx context.Context) { sched.Run(ctx, logf) }
	}

	logf("probe: tailing logs for %s", cfg.Window)
	summary.Tail = tail.Run(ctx, stream, tail.Options{
		Window:   cfg.Window,
		Sink:     cfg.Sink,
		Stimulus: stim,
		Logf:     logf,
	})
	if summary.Tail.ReadErr != nil {
		logf("probe: log stream ended with a read error: %v", summary.Tail.ReadErr)
	}
	logf("probe: tail finished: %d lines in %s (%s)", summary.Tail.Lines, summary.Tail.Elapsed.Round(time.Millisecond), summary.Tail.Reason)
	return summary, nil
}
