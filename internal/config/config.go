package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds server configuration loaded from environment variables.
type Config struct {
	Port   string `env:"PORT" envDefault:"8080"`
	DBPath string `env:"DB_PATH" envDefault:"pokersync.db"`

	MaxRooms      int           `env:"MAX_ROOMS" envDefault:"1000"`
	RoomIdleTTL   time.Duration `env:"ROOM_IDLE_TTL" envDefault:"10m"`
	SweepInterval time.Duration `env:"ROOM_SWEEP_INTERVAL" envDefault:"1m"`

	// ResetVotesOnStoryChange clears the vote board whenever the moderator
	// selects a different story.
	ResetVotesOnStoryChange bool `env:"RESET_VOTES_ON_STORY_CHANGE" envDefault:"false"`

	PersistWorkers    int           `env:"PERSIST_WORKERS" envDefault:"4"`
	PersistQueueSize  int           `env:"PERSIST_QUEUE_SIZE" envDefault:"256"`
	PersistMaxRetries uint          `env:"PERSIST_MAX_RETRIES" envDefault:"5"`
	PersistTimeout    time.Duration `env:"PERSIST_TIMEOUT" envDefault:"5s"`

	MessageRate  float64 `env:"WS_MESSAGE_RATE" envDefault:"20"`
	MessageBurst int     `env:"WS_MESSAGE_BURST" envDefault:"40"`

	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN" envDefault:"*"`
	LogLevel          string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads configuration from environment variables with sensible defaults.
// Values that fail to parse are an error rather than silently defaulted.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.MaxRooms <= 0 {
		return Config{}, fmt.Errorf("MAX_ROOMS must be positive, got %d", cfg.MaxRooms)
	}
	if cfg.PersistWorkers <= 0 {
		return Config{}, fmt.Errorf("PERSIST_WORKERS must be positive, got %d", cfg.PersistWorkers)
	}
	if cfg.SweepInterval <= 0 {
		return Config{}, fmt.Errorf("ROOM_SWEEP_INTERVAL must be positive, got %s", cfg.SweepInterval)
	}
	return cfg, nil
}
