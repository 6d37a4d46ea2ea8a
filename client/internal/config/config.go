// Package config loads the client's typed, environment-derived
// configuration, mirroring the server's STT_<SECTION>_<KEY> convention.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// ClientConfig is the STT_CLIENT_* section.
type ClientConfig struct {
	ServerURL        string `env:"SERVER_URL" envDefault:"ws://127.0.0.1:9876"`
	Output           string `env:"OUTPUT" envDefault:"stdout"`
	ReconnectAttempts int   `env:"RECONNECT_ATTEMPTS" envDefault:"3"`
	ReconnectDelay   string `env:"RECONNECT_DELAY" envDefault:"1s"`
	DaemonDelay      string `env:"DAEMON_DELAY" envDefault:"5s"`
	ConnectTimeout   string `env:"CONNECT_TIMEOUT" envDefault:"10s"`
	ReadyTimeout     string `env:"READY_TIMEOUT" envDefault:"10s"`
	FinalTimeout     string `env:"FINAL_TIMEOUT" envDefault:"30s"`
	AudioQueueDepth  int    `env:"AUDIO_QUEUE_DEPTH" envDefault:"1000"`
}

// AudioConfig is the STT_AUDIO_* section.
type AudioConfig struct {
	SampleRate int `env:"SAMPLE_RATE" envDefault:"16000"`
	ChunkMS    int `env:"CHUNK_MS" envDefault:"100"`
}

// PTTConfig is the STT_PTT_* section.
type PTTConfig struct {
	Hotkey                 []string `env:"HOTKEY" envDefault:"LEFTCTRL,LEFTMETA" envSeparator:","`
	TerminalHotkey         string   `env:"TERMINAL_HOTKEY" envDefault:" "`
	ClickSound             bool     `env:"CLICK_SOUND" envDefault:"true"`
	MaxDurationSeconds     int      `env:"MAX_DURATION_SECONDS" envDefault:"30"`
	ProcessingTimeoutSecs  int      `env:"PROCESSING_TIMEOUT_SECONDS" envDefault:"60"`
	DeviceScanIntervalSecs int      `env:"DEVICE_SCAN_INTERVAL_SECONDS" envDefault:"2"`
}

// LogConfig is the STT_LOG_* section.
type LogConfig struct {
	Level string `env:"LEVEL" envDefault:"info"`
	Dir   string `env:"DIR" envDefault:""`
}

// Config is the full client configuration tree.
type Config struct {
	Client ClientConfig `envPrefix:"CLIENT_"`
	Audio  AudioConfig  `envPrefix:"AUDIO_"`
	PTT    PTTConfig    `envPrefix:"PTT_"`
	Log    LogConfig    `envPrefix:"LOG_"`
}

// Load parses Config from the process environment under the STT_ prefix.
func Load() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "STT_"}); err != nil {
		return Config{}, fmt.Errorf("config: load: %w", err)
	}
	return cfg, nil
}
