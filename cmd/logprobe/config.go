package main

import (
	"time"

	"github.com/control-theory/logprobe/internal/probe"
	"github.com/control-theory/logprobe/internal/provision"
	"github.com/control-theory/logprobe/internal/stimulus"
)

const (
	defaultManagementURL   = "http://127.0.0.1:8090"
	defaultLocation        = "westeurope"
	defaultNamePrefix      = "logprobe"
	defaultFunctionName    = "probe"
	defaultWindow          = 60 * time.Second
	defaultWarmups         = 3
	defaultWarmupBody      = "warmup"
	defaultStimulusCount   = 5
	defaultStimulusSpacing = 10 * time.Second
	defaultStimulusBody    = "Hello from logprobe"
	defaultCallTimeout     = stimulus.DefaultTimeout
	defaultAPIVersion      = provision.DefaultAPIVersion
	defaultPollInterval    = provision.DefaultPollInterval
	defaultPollTimeout     = provision.DefaultPollTimeout
	defaultTeardownTimeout = probe.DefaultTeardownTimeout
	defaultColorMode       = "auto"
)

// appConfig is internal runtime configuration.
// It is package-private to keep defaults and shape local to the CLI entrypoint.
type appConfig struct {
	ManagementURL   string        `mapstructure:"management-url"`
	AuthURL         string        `mapstructure:"auth-url"`
	Location        string        `mapstructure:"location"`
	NamePrefix      string        `mapstructure:"name-prefix"`
	FunctionName    string        `mapstructure:"function-name"`
	Window          time.Duration `mapstructure:"window"`
	Warmups         int           `mapstructure:"warmups"`
	WarmupBody      string        `mapstructure:"warmup-body"`
	StimulusPlan    string        `mapstructure:"stimulus-plan"`
	StimulusCount   int           `mapstructure:"stimulus-count"`
	StimulusSpacing time.Duration `mapstructure:"stimulus-spacing"`
	StimulusBody    string        `mapstructure:"stimulus-body"`
	CallTimeout     time.Duration `mapstructure:"call-timeout"`
	APIVersion      string        `mapstructure:"api-version"`
	PollInterval    time.Duration `mapstructure:"poll-interval"`
	PollTimeout     time.Duration `mapstructure:"poll-timeout"`
	TeardownTimeout time.Duration `mapstructure:"teardown-timeout"`
	Color           string        `mapstructure:"color"`
	StrictExit      bool          `mapstructure:"strict-exit"`
	ConfigPath      string        `mapstructure:"-"` // not from config file
}
