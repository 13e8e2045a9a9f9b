package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/control-theory/logprobe/internal/sim"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/viper"
)

// Build variables - set by ldflags during build.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
	goVersion = "unknown"
)

func main() {
	var configPath string
	var listenAddr string
	var showVersion bool

	flag.StringVar(&configPath, "config", "", "config file (default is $HOME/.config/logprobe/sim.yml)")
	flag.StringVar(&listenAddr, "listen", "", "override listen address")
	flag.BoolVar(&showVersion, "version", false, "print version information")
	flag.Parse()

	if showVersion {
		fmt.Printf("Logprobe Sim - Local Vendor API Simulator\n")
		fmt.Printf("  Version:    %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Built:      %s\n", buildTime)
		fmt.Printf("  Go version: %s\n", goVersion)
		return
	}

	cfg, err := loadSimConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if listenAddr != "" {
		cfg.ListenAddr = listenAddr
	}

	if err := runSim(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadSimConfig(configPath string) (simConfig, error) {
	var cfg simConfig

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, fmt.Errorf("finding home directory: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("LOGPROBE_SIM")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetDefault("listen-addr", defaultListenAddr)
	v.SetDefault("client-id", "")
	v.SetDefault("client-secret", "")
	v.SetDefault("ready-delay", defaultReadyDelay)
	v.SetDefault("heartbeat-interval", defaultHeartbeatInterval)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigFile(filepath.Join(home, ".config", "logprobe", "sim.yml"))
	}

	fileRead := true
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFound) && !os.IsNotExist(err) {
			return cfg, err
		}
		fileRead = false
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	if fileRead {
		cfg.ConfigPath = v.ConfigFileUsed()
	}

	if cfg.ListenAddr == "" {
		return cfg, errors.New("listen-addr must be set")
	}
	if cfg.ReadyDelay < 0 {
		return cfg, fmt.Errorf("invalid ready-delay: %s", cfg.ReadyDelay)
	}
	if cfg.HeartbeatInterval <= 0 {
		return cfg, fmt.Errorf("invalid heartbeat-interval: %s", cfg.HeartbeatInterval)
	}
	if (cfg.ClientID == "") != (cfg.ClientSecret == "") {
		return cfg, errors.New("client-id and client-secret must be set together")
	}

	return cfg, nil
}

func runSim(cfg simConfig) error {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	server := sim.NewServer(sim.Options{
		Addr:              cfg.ListenAddr,
		ClientID:          cfg.ClientID,
		ClientSecret:      cfg.ClientSecret,
		ReadyDelay:        cfg.ReadyDelay,
		HeartbeatInterval: cfg.HeartbeatInterval,
	})
	if err := server.Start(); err != nil {
		return fmt.Errorf("starting simulator: %w", err)
	}

	printSimBanner(cfg, server)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	fmt.Println("\nShutting down gracefully... (press Ctrl+C again to force)")

	stopped := make(chan error, 1)
	go func() { stopped <- server.Stop() }()

	// Shutdown deadline starts now — not at boot.
	deadline := time.NewTimer(10 * time.Second)
	defer deadline.Stop()

	select {
	case err := <-stopped:
		return err
	case <-sigCh:
		fmt.Println("\nForce shutdown.")
	case <-deadline.C:
		fmt.Println("Shutdown timed out, forcing exit.")
	}
	os.Exit(1)
	return nil
}

func printSimBanner(cfg simConfig, server *sim.Server) {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cyan := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	yellow := lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	bold := lipgloss.NewStyle().Bold(true)

	check := green.Render("●")
	dot := dim.Render("●")

	logo := cyan.Bold(true).Render(`
    ╔═╗╦╔╦╗
    ╚═╗║║║║
    ╚═╝╩╩ ╩`)

	ver := dim.Render("v" + version)

	var lines []string
	lines = append(lines, "")
	lines = append(lines, logo)
	lines = append(lines, "    "+ver)
	lines = append(lines, "")

	separator := dim.Render("    ─────────────────────────────────")
	lines = append(lines, separator)
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Endpoints"))
	lines = append(lines, "")
	lines = append(lines, fmt.Sprintf("    %s  Management API %s", check, cyan.Render(server.BaseURL())))
	lines = append(lines, fmt.Sprintf("    %s  Token Issuer   %s", check, cyan.Render(server.AuthURL())))
	lines = append(lines, fmt.Sprintf("    %s  Metrics        %s", check, dim.Render(server.BaseURL()+"/metrics")))
	lines = append(lines, fmt.Sprintf("    %s  Health         %s", check, dim.Render(server.BaseURL()+"/healthz")))
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Behavior"))
	lines = append(lines, "")
	lines = append(lines, fmt.Sprintf("    %s  Ready Delay    %s", check, dim.Render(cfg.ReadyDelay.String())))
	lines = append(lines, fmt.Sprintf("    %s  Heartbeat      %s", check, dim.Render(cfg.HeartbeatInterval.String())))
	if cfg.ClientID != "" {
		lines = append(lines, fmt.Sprintf("    %s  Credentials    %s", check, dim.Render("enforced")))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Credentials    %s", dot, dim.Render("any accepted")))
	}
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Config"))
	lines = append(lines, "")
	if cfg.ConfigPath != "" {
		lines = append(lines, fmt.Sprintf("    %s  Config File    %s", check, dim.Render(cfg.ConfigPath)))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Config File    %s", dot, dim.Render("default (no file)")))
	}

	lines = append(lines, "")
	lines = append(lines, separator)
	lines = append(lines, "")
	lines = append(lines, "    "+dim.Render("Press ")+yellow.Render("Ctrl+C")+dim.Render(" to stop"))
	lines = append(lines, "")

	fmt.Println(strings.Join(lines, "\n"))
}
