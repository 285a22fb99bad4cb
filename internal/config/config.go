// Package config loads the timecapsule configuration.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/mdouchement/timecapsule/internal/database"
	"github.com/pkg/errors"
)

// EnvPrefix is the prefix of the environment variables overriding the configuration file.
const EnvPrefix = "TIMECAPSULE_"

type (
	// Config holds the whole configuration.
	Config struct {
		Address        string
		DatabasePath   string
		DatabaseEngine string
		SecretKey      []byte
		VaultKey       []byte
		NoRegistration bool
		DashboardURL   string
		Log            Log
		SMTP           SMTP
		Milestone      Milestone
		Delivery       Delivery
		Sweep          Sweep
	}

	// Log holds the logger settings.
	Log struct {
		Level  string
		Format string
		File   string
	}

	// SMTP holds the mail relay settings.
	SMTP struct {
		Host     string
		Port     int
		Username string
		Password string
		From     string
		Timeout  time.Duration
	}

	// Milestone holds the milestone provider settings.
	Milestone struct {
		GitHubAPI string
		Timeout   time.Duration
	}

	// Delivery holds the orchestrator settings.
	Delivery struct {
		SettleDelay time.Duration
		Concurrency int
		CallTimeout time.Duration
	}

	// Sweep holds the scheduler settings.
	Sweep struct {
		Interval  time.Duration
		Reminders bool
	}
)

var defaults = map[string]any{
	"address":               "localhost:5000",
	"database_path":         "",
	"database_engine":       database.EngineStorm,
	"secret_key":            "",
	"vault_key":             "",
	"no_registration":       false,
	"dashboard_url":         "http://localhost:5000",
	"log.level":             "info",
	"log.format":            "text",
	"log.file":              "",
	"smtp.host":             "",
	"smtp.port":             587,
	"smtp.username":         "",
	"smtp.password":         "",
	"smtp.from":             "",
	"smtp.timeout":          "10s",
	"milestone.github_api":  "https://api.github.com",
	"milestone.timeout":     "10s",
	"delivery.settle_delay": "0s",
	"delivery.concurrency":  8,
	"delivery.call_timeout": "15s",
	"sweep.interval":        "1m",
	"sweep.reminders":       true,
}

// Load reads the configuration from the given YAML file (optional), the .env file
// of the working directory and the TIMECAPSULE_ environment variables, in that order of precedence.
func Load(filename string) (*Config, error) {
	return LoadWithEnvFile(filename, ".env")
}

// LoadWithEnvFile is like Load with an explicit dotenv file.
func LoadWithEnvFile(filename, envfile string) (*Config, error) {
	if envfile != "" {
		if _, err := os.Stat(envfile); err == nil {
			// Already defined variables are not overridden.
			if err = godotenv.Load(envfile); err != nil {
				return nil, errors.Wrap(err, "could not load dotenv file")
			}
		}
	}

	konf := koanf.New(".")
	if err := konf.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, errors.Wrap(err, "could not load defaults")
	}

	if filename != "" {
		if err := konf.Load(file.Provider(filename), yaml.Parser()); err != nil {
			return nil, errors.Wrap(err, "could not load configuration file")
		}
	}

	keys := map[string]string{}
	for key := range defaults {
		keys[strings.ReplaceAll(key, ".", "_")] = key
	}
	err := konf.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return keys[s] // Unknown variables are ignored
	}), nil)
	if err != nil {
		return nil, errors.Wrap(err, "could not load environment")
	}

	return &Config{
		Address:        konf.String("address"),
		DatabasePath:   konf.String("database_path"),
		DatabaseEngine: konf.String("database_engine"),
		SecretKey:      konf.Bytes("secret_key"),
		VaultKey:       konf.Bytes("vault_key"),
		NoRegistration: konf.Bool("no_registration"),
		DashboardURL:   konf.String("dashboard_url"),
		Log: Log{
			Level:  konf.String("log.level"),
			Format: konf.String("log.format"),
			File:   konf.String("log.file"),
		},
		SMTP: SMTP{
			Host:     konf.String("smtp.host"),
			Port:     konf.Int("smtp.port"),
			Username: konf.String("smtp.username"),
			Password: konf.String("smtp.password"),
			From:     konf.String("smtp.from"),
			Timeout:  konf.Duration("smtp.timeout"),
		},
		Milestone: Milestone{
			GitHubAPI: konf.String("milestone.github_api"),
			Timeout:   konf.Duration("milestone.timeout"),
		},
		Delivery: Delivery{
			SettleDelay: konf.Duration("delivery.settle_delay"),
			Concurrency: konf.Int("delivery.concurrency"),
			CallTimeout: konf.Duration("delivery.call_timeout"),
		},
		Sweep: Sweep{
			Interval:  konf.Duration("sweep.interval"),
			Reminders: konf.Bool("sweep.reminders"),
		},
	}, nil
}

// Validate checks the keys needed to serve capsules.
func (c *Config) Validate() error {
	if len(c.SecretKey) == 0 {
		return errors.New("secret_key not found")
	}
	if len(c.VaultKey) == 0 {
		return errors.New("vault_key not found")
	}
	if c.Delivery.Concurrency < 1 {
		return errors.New("delivery.concurrency must be positive")
	}
	if c.Sweep.Interval <= 0 {
		return errors.New("sweep.interval must be positive")
	}
	return nil
}

// DatabaseFilename returns the database file path according the configured engine.
func (c *Config) DatabaseFilename() string {
	if c.DatabaseEngine == database.EngineSQLite {
		return database.SQLiteFilename(c.DatabasePath)
	}
	return database.StormFilename(c.DatabasePath)
}
