package main

import (
	"time"

	"github.com/control-theory/logprobe/internal/sim"
)

const (
	defaultListenAddr        = "127.0.0.1:8090"
	defaultReadyDelay        = sim.DefaultReadyDelay
	defaultHeartbeatInterval = sim.DefaultHeartbeatInterval
)

// simConfig is the simulator's runtime configuration. Leaving client-id and
// client-secret empty makes the token endpoint accept any credentials,
// which is the usual mode for local walkthroughs.
type simConfig struct {
	ListenAddr        string        `mapstructure:"listen-addr"`
	ClientID          string        `mapstructure:"client-id"`
	ClientSecret      string        `mapstructure:"client-secret"`
	ReadyDelay        time.Duration `mapstructure:"ready-delay"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat-interval"`
	ConfigPath        string        `mapstructure:"-"` // not from config file
}
