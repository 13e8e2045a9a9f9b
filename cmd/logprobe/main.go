package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/control-theory/logprobe/internal/provision"
	"github.com/control-theory/logprobe/internal/stimulus"

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
	var showVersion bool

	flag.StringVar(&configPath, "config", "", "config file (default is $HOME/.config/logprobe/config.yml)")
	flag.BoolVar(&showVersion, "version", false, "print version information")
	flag.Parse()

	if showVersion {
		fmt.Printf("Logprobe - Serverless Log Pipeline Probe\n")
		fmt.Printf("  Version:    %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Built:      %s\n", buildTime)
		fmt.Printf("  Go version: %s\n", goVersion)
		return
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	creds, err := provision.CredentialsFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading credentials: %v\n", err)
		os.Exit(1)
	}

	var plan *stimulus.Plan
	if cfg.StimulusPlan != "" {
		plan, err = stimulus.LoadPlan(cfg.StimulusPlan)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading stimulus plan: %v\n", err)
			os.Exit(1)
		}
	} else {
		plan = stimulus.DefaultPlan(cfg.StimulusCount, cfg.StimulusSpacing, cfg.StimulusBody)
	}

	// The probe is a diagnostic tool: a failed run is itself a useful
	// result, so by default it reports and exits clean. strict-exit turns
	// run failures into a non-zero exit for CI use.
	if err := runProbe(cfg, creds, plan); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if cfg.StrictExit {
			os.Exit(1)
		}
	}
}

func loadConfig(configPath string) (appConfig, error) {
	var cfg appConfig

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, fmt.Errorf("finding home directory: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("LOGPROBE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetDefault("management-url", defaultManagementURL)
	v.SetDefault("auth-url", "")
	v.SetDefault("location", defaultLocation)
	v.SetDefault("name-prefix", defaultNamePrefix)
	v.SetDefault("function-name", defaultFunctionName)
	v.SetDefault("window", defaultWindow)
	v.SetDefault("warmups", defaultWarmups)
	v.SetDefault("warmup-body", defaultWarmupBody)
	v.SetDefault("stimulus-plan", "")
	v.SetDefault("stimulus-count", defaultStimulusCount)
	v.SetDefault("stimulus-spacing", defaultStimulusSpacing)
	v.SetDefault("stimulus-body", defaultStimulusBody)
	v.SetDefault("call-timeout", defaultCallTimeout)
	v.SetDefault("api-version", defaultAPIVersion)
	v.SetDefault("poll-interval", defaultPollInterval)
	v.SetDefault("poll-timeout", defaultPollTimeout)
	v.SetDefault("teardown-timeout", defaultTeardownTimeout)
	v.SetDefault("color", defaultColorMode)
	v.SetDefault("strict-exit", false)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigFile(filepath.Join(home, ".config", "logprobe", "config.yml"))
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

	if cfg.ManagementURL == "" {
		return cfg, errors.New("management-url must be set")
	}
	if cfg.AuthURL == "" {
		cfg.AuthURL = strings.TrimSuffix(cfg.ManagementURL, "/") + "/login"
	}
	if cfg.Window <= 0 {
		return cfg, fmt.Errorf("invalid window: %s", cfg.Window)
	}
	if cfg.Warmups < 0 {
		return cfg, fmt.Errorf("invalid warmups: %d", cfg.Warmups)
	}
	if cfg.StimulusCount < 0 {
		return cfg, fmt.Errorf("invalid stimulus-count: %d", cfg.StimulusCount)
	}
	switch cfg.Color {
	case "auto", "always", "never":
	default:
		return cfg, fmt.Errorf("invalid color mode %q (want auto, always or never)", cfg.Color)
	}

	return cfg, nil
}
