// Package config loads the server's typed, environment-derived
// configuration. Every field follows the STT_<SECTION>_<KEY> convention
// documented in the wire interface notes; nesting maps to a leading
// section prefix via struct tags.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// ServerConfig is the STT_SERVER_* section.
type ServerConfig struct {
	Host            string `env:"HOST" envDefault:"127.0.0.1"`
	Port            int    `env:"PORT" envDefault:"9876"`
	Provider        string `env:"PROVIDER" envDefault:"cuda"`
	MaxConnections  int    `env:"MAX_CONNECTIONS" envDefault:"10"`
	RejectWhenFull  bool   `env:"REJECT_WHEN_FULL" envDefault:"true"`
	MaxFrameBytes   int    `env:"MAX_FRAME_BYTES" envDefault:"10485760"`
	WorkerPoolSize  int    `env:"WORKER_POOL_SIZE" envDefault:"1"`
	ShutdownTimeout string `env:"SHUTDOWN_TIMEOUT" envDefault:"5s"`
}

// AudioConfig is the STT_AUDIO_* section.
type AudioConfig struct {
	SampleRate      int `env:"SAMPLE_RATE" envDefault:"16000"`
	MaxDurationSecs int `env:"MAX_DURATION_SECS" envDefault:"30"`
}

// LogConfig is the STT_LOG_* section.
type LogConfig struct {
	Level string `env:"LEVEL" envDefault:"info"`
}

// Config is the full server configuration tree.
type Config struct {
	Server ServerConfig `envPrefix:"SERVER_"`
	Audio  AudioConfig  `envPrefix:"AUDIO_"`
	Log    LogConfig    `envPrefix:"LOG_"`
}

// Load parses Config from the process environment under the STT_ prefix.
// A zero-environment run still produces fully-populated defaults.
func Load() (Config, error) {
	var cfg Config
	opts := env.Options{Prefix: "STT_"}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("config: load: %w", err)
	}
	return cfg, nil
}
