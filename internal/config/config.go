// Package config loads tally settings from a YAML file, TALLY_ environment
// variables and command-line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Keys understood by Load.
const (
	KeyDBPath            = "db_path"
	KeyLogLevel          = "log_level"
	KeyRenewalWindowDays = "renewal_window_days"
	KeyPriceAlertDays    = "price_alert_days"
	KeyStrict            = "strict"
)

// EnvPrefix is prepended to every key for environment overrides, e.g. TALLY_DB_PATH.
const EnvPrefix = "TALLY"

// Config is the resolved configuration.
type Config struct {
	DBPath            string
	LogLevel          string
	RenewalWindowDays int
	PriceAlertDays    int
	Strict            bool
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyDBPath, "~/.local/share/tally/tally.db")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyRenewalWindowDays, 7)
	v.SetDefault(KeyPriceAlertDays, 30)
	v.SetDefault(KeyStrict, false)
}

// Load reads configuration into v. cfgFile may be empty, in which case
// config.yaml is searched in ~/.config/tally and the working directory; a
// missing file is not an error.
func Load(v *viper.Viper, cfgFile string) (Config, error) {
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "tally"))
		}
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := Config{
		DBPath:            ExpandPath(v.GetString(KeyDBPath)),
		LogLevel:          strings.ToLower(v.GetString(KeyLogLevel)),
		RenewalWindowDays: v.GetInt(KeyRenewalWindowDays),
		PriceAlertDays:    v.GetInt(KeyPriceAlertDays),
		Strict:            v.GetBool(KeyStrict),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the ledger cannot run with.
func (c Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("%s must not be empty", KeyDBPath)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid %s %q", KeyLogLevel, c.LogLevel)
	}
	if c.RenewalWindowDays < 0 {
		return fmt.Errorf("%s must not be negative", KeyRenewalWindowDays)
	}
	if c.PriceAlertDays < 0 {
		return fmt.Errorf("%s must not be negative", KeyPriceAlertDays)
	}
	return nil
}

// ExpandPath expands ~ and environment variables in a file path.
func ExpandPath(path string) string {
	if path == "" {
		return path
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	} else if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			path = home
		}
	}
	return os.ExpandEnv(path)
}
