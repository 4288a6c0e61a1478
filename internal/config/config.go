// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/jason-s-yu/sionline/internal/models"
)

// Config holds every setting of the lobby client.
type Config struct {
	ServerURL string `yaml:"server_url"`

	UserName   string `yaml:"user_name"`
	Sex        string `yaml:"sex"`
	AvatarPath string `yaml:"avatar_path"`
	Culture    string `yaml:"culture"`

	// UseHostTransport selects the session-host websocket join; false uses
	// the legacy direct socket.
	UseHostTransport bool `yaml:"use_host_transport"`

	ContentServiceURI string `yaml:"content_service_uri"`
	ContentSecret     string `yaml:"content_secret"`

	OnlineGameURL    string `yaml:"online_game_url"`
	NewOnlineGameURL string `yaml:"new_online_game_url"`

	// Language orders game names, as a BCP 47 tag.
	Language string `yaml:"language"`

	// RedisAddr enables the shared content URI memo when set.
	RedisAddr string        `yaml:"redis_addr"`
	MemoTTL   time.Duration `yaml:"memo_ttl"`

	ReconnectAttempts int           `yaml:"reconnect_attempts"`
	ReconnectBackoff  time.Duration `yaml:"reconnect_backoff"`
	MaxResyncPages    int           `yaml:"max_resync_pages"`

	RequestsPerSecond float64 `yaml:"requests_per_second"`
	RequestBurst      int     `yaml:"request_burst"`

	LogLevel string `yaml:"log_level"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		ServerURL:         "http://localhost:8080",
		Sex:               "male",
		Culture:           "en-US",
		UseHostTransport:  true,
		OnlineGameURL:     "https://sionline.example/join?gameId=",
		NewOnlineGameURL:  "sionline://game/",
		Language:          "en",
		MemoTTL:           24 * time.Hour,
		ReconnectAttempts: 10,
		ReconnectBackoff:  time.Second,
		MaxResyncPages:    100,
		RequestsPerSecond: 20,
		RequestBurst:      10,
		LogLevel:          "info",
	}
}

// Load builds the configuration from defaults, an optional .env file, the
// YAML file at path (skipped when path is empty) and SIONLINE_* environment
// variables, in that order of precedence.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.ServerURL = envStr("SIONLINE_SERVER_URL", cfg.ServerURL)
	cfg.UserName = envStr("SIONLINE_USER_NAME", cfg.UserName)
	cfg.Sex = envStr("SIONLINE_SEX", cfg.Sex)
	cfg.AvatarPath = envStr("SIONLINE_AVATAR_PATH", cfg.AvatarPath)
	cfg.Culture = envStr("SIONLINE_CULTURE", cfg.Culture)
	cfg.UseHostTransport = envBool("SIONLINE_USE_HOST_TRANSPORT", cfg.UseHostTransport)
	cfg.ContentServiceURI = envStr("SIONLINE_CONTENT_SERVICE_URI", cfg.ContentServiceURI)
	cfg.ContentSecret = envStr("SIONLINE_CONTENT_SECRET", cfg.ContentSecret)
	cfg.OnlineGameURL = envStr("SIONLINE_ONLINE_GAME_URL", cfg.OnlineGameURL)
	cfg.NewOnlineGameURL = envStr("SIONLINE_NEW_ONLINE_GAME_URL", cfg.NewOnlineGameURL)
	cfg.Language = envStr("SIONLINE_LANGUAGE", cfg.Language)
	cfg.RedisAddr = envStr("SIONLINE_REDIS_ADDR", cfg.RedisAddr)
	cfg.MemoTTL = envDuration("SIONLINE_MEMO_TTL", cfg.MemoTTL)
	cfg.ReconnectAttempts = envInt("SIONLINE_RECONNECT_ATTEMPTS", cfg.ReconnectAttempts)
	cfg.ReconnectBackoff = envDuration("SIONLINE_RECONNECT_BACKOFF", cfg.ReconnectBackoff)
	cfg.MaxResyncPages = envInt("SIONLINE_MAX_RESYNC_PAGES", cfg.MaxResyncPages)
	cfg.RequestBurst = envInt("SIONLINE_REQUEST_BURST", cfg.RequestBurst)
	cfg.LogLevel = envStr("LOG_LEVEL", cfg.LogLevel)
	if v := os.Getenv("SIONLINE_REQUESTS_PER_SECOND"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RequestsPerSecond = f
		}
	}

	return cfg, cfg.Validate()
}

// Validate checks the settings that have no usable fallback.
func (c Config) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server url is required")
	}
	if _, err := c.SexValue(); err != nil {
		return err
	}
	if c.MaxResyncPages <= 0 {
		return fmt.Errorf("max resync pages must be positive, got %d", c.MaxResyncPages)
	}
	return nil
}

// SexValue parses Sex.
func (c Config) SexValue() (models.Sex, error) {
	switch strings.ToLower(c.Sex) {
	case "", "m", "male":
		return models.SexMale, nil
	case "f", "female":
		return models.SexFemale, nil
	}
	return models.SexMale, fmt.Errorf("unknown sex %q", c.Sex)
}

// JoinURLPrefixes returns the configured join-by-link prefixes.
func (c Config) JoinURLPrefixes() []string {
	var out []string
	for _, p := range []string{c.OnlineGameURL, c.NewOnlineGameURL} {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Level parses LogLevel, defaulting to info.
func (c Config) Level() log.Level {
	lvl, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
