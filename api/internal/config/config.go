package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrConfig marks configuration problems that must stop the process at startup.
var ErrConfig = errors.New("config")

type Config struct {
	BotToken    string
	PresetsPath string
	TempDir     string
	Port        string
	WebhookURL  string
	DatabaseURL string
	LogLevel    string

	DownloadTimeout time.Duration
	MaxConcurrent   int
}

func defaults(v *viper.Viper) {
	v.SetDefault("PRESETS_PATH", "presets.json")
	v.SetDefault("TEMP_DIR", "temp")
	v.SetDefault("PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DOWNLOAD_TIMEOUT", "60s")
	v.SetDefault("MAX_CONCURRENT", 8)
}

// Load reads configuration from the environment. A local .env is honoured unless
// RENDER is set (the hosted platform injects variables itself).
func Load() (*Config, error) {
	if os.Getenv("RENDER") == "" {
		_ = godotenv.Load()
	}
	v := viper.New()
	v.AutomaticEnv()
	defaults(v)
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	token := strings.TrimSpace(v.GetString("BOT_TOKEN"))
	if token == "" {
		return nil, fmt.Errorf("%w: BOT_TOKEN not found, set it in .env or the environment", ErrConfig)
	}

	timeout, err := time.ParseDuration(strings.TrimSpace(v.GetString("DOWNLOAD_TIMEOUT")))
	if err != nil || timeout <= 0 {
		return nil, fmt.Errorf("%w: bad DOWNLOAD_TIMEOUT %q", ErrConfig, v.GetString("DOWNLOAD_TIMEOUT"))
	}
	workers := v.GetInt("MAX_CONCURRENT")
	if workers <= 0 {
		return nil, fmt.Errorf("%w: MAX_CONCURRENT must be > 0, got %q", ErrConfig, v.GetString("MAX_CONCURRENT"))
	}

	return &Config{
		BotToken:        token,
		PresetsPath:     v.GetString("PRESETS_PATH"),
		TempDir:         v.GetString("TEMP_DIR"),
		Port:            v.GetString("PORT"),
		WebhookURL:      strings.TrimSpace(v.GetString("WEBHOOK_URL")),
		DatabaseURL:     strings.TrimSpace(v.GetString("DATABASE_URL")),
		LogLevel:        v.GetString("LOG_LEVEL"),
		DownloadTimeout: timeout,
		MaxConcurrent:   workers,
	}, nil
}
