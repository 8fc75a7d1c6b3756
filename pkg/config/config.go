// Package config loads boardcol settings from the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/kernel/boardcol/pkg/credentials"
)

type Config struct {
	BaseURL        string        `env:"BOARD_API_BASE" envDefault:"https://api.the-board.jp/v1"`
	APIKey         string        `env:"BOARD_API_KEY"`
	APIToken       string        `env:"BOARD_API_TOKEN"`
	CacheTTL       time.Duration `env:"BOARDCOL_CACHE_TTL" envDefault:"1h"`
	DBPath         string        `env:"BOARDCOL_DB_PATH"`
	KeyringService string        `env:"BOARDCOL_KEYRING_SERVICE" envDefault:"boardcol"`
	ListenAddr     string        `env:"BOARDCOL_LISTEN_ADDR" envDefault:"127.0.0.1:8765"`
	HTTPTimeout    time.Duration `env:"BOARDCOL_HTTP_TIMEOUT" envDefault:"30s"`
}

// Load reads an optional .env file from the working directory, then parses
// the environment. Variables already set win over the file.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}
	return Parse()
}

// Parse reads the environment only.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.DBPath == "" {
		cfg.DBPath = defaultDBPath()
	}
	if cfg.CacheTTL <= 0 {
		return Config{}, fmt.Errorf("BOARDCOL_CACHE_TTL must be positive, got %s", cfg.CacheTTL)
	}
	return cfg, nil
}

// EnvCredentials returns the credentials given through the environment.
func (c Config) EnvCredentials() credentials.Credentials {
	return credentials.Credentials{APIKey: c.APIKey, APIToken: c.APIToken}
}

func defaultDBPath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "boardcol", "cache.db")
}
