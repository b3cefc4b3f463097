// Package config loads service configuration: show timing and scoring
// bounds from a YAML file, secrets and endpoints from the environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("failed to parse duration %q: %w", s, err)
	}
	*d = Duration(dur)
	return nil
}

// Std converts to a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ShowConfig fixes the daily schedule and lifecycle offsets.
type ShowConfig struct {
	StartHour       int      `yaml:"start_hour"`
	StartMinute     int      `yaml:"start_minute"`
	LobbyOpen       Duration `yaml:"lobby_open"`
	Countdown       Duration `yaml:"countdown"`
	Playing         Duration `yaml:"playing"`
	Results         Duration `yaml:"results"`
	DisconnectGrace Duration `yaml:"disconnect_grace"`
}

// ScoreConfig bounds score submissions.
type ScoreConfig struct {
	Window         Duration `yaml:"window"`
	MaxPerWindow   int      `yaml:"max_per_window"`
	TimeAliveSlack Duration `yaml:"time_alive_slack"`
}

// Config is the full service configuration.
type Config struct {
	Port          string   `yaml:"-"`
	DatabaseURL   string   `yaml:"-"`
	NATSURL       string   `yaml:"-"`
	JWTSecret     string   `yaml:"-"`
	AdminSecret   string   `yaml:"-"`
	AdminPassword string   `yaml:"-"`
	CORSOrigins   []string `yaml:"-"`

	Show  ShowConfig  `yaml:"show"`
	Score ScoreConfig `yaml:"score"`
}

func defaults() *Config {
	return &Config{
		Port:        "8080",
		JWTSecret:   "dev-secret-change-me",
		CORSOrigins: []string{"*"},
		Show: ShowConfig{
			StartHour:       20,
			StartMinute:     0,
			LobbyOpen:       Duration(5 * time.Minute),
			Countdown:       Duration(30 * time.Second),
			Playing:         Duration(60 * time.Second),
			Results:         Duration(20 * time.Second),
			DisconnectGrace: Duration(8 * time.Second),
		},
		Score: ScoreConfig{
			Window:         Duration(60 * time.Second),
			MaxPerWindow:   5,
			TimeAliveSlack: Duration(2 * time.Second),
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path if it
// exists, and environment overrides, in that order.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// No file is fine; defaults plus env carry dev setups.
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.NATSURL = getEnv("NATS_URL", cfg.NATSURL)
	cfg.JWTSecret = getEnv("JWT_SECRET", cfg.JWTSecret)
	cfg.AdminSecret = getEnv("ADMIN_SECRET", cfg.AdminSecret)
	cfg.AdminPassword = getEnv("ADMIN_PASSWORD", cfg.AdminPassword)
	if origins := os.Getenv("CORS_ORIGIN"); origins != "" {
		parts := strings.Split(origins, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		cfg.CORSOrigins = parts
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
