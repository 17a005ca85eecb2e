// Package config loads issuesync settings from flags, environment variables
// (ISSUESYNC_*) and an optional config.yaml, and validates them.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables read by viper.
const EnvPrefix = "ISSUESYNC"

var v *viper.Viper

// Initialize sets up the viper singleton. configFile, when non-empty, is read
// instead of searching ./.issuesync/config.yaml and
// $HOME/.config/issuesync/config.yaml. A missing searched file is not an
// error; a missing explicit one is.
func Initialize(configFile string) error {
	v = viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
		return nil
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.Join(".", ".issuesync"))
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "issuesync"))
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend", "github")
	v.SetDefault("debug", "DEBUG")
	v.SetDefault("db-driver", "sqlite")
	v.SetDefault("db-dsn", "issuesync.db")
	v.SetDefault("page-size", 50)
	v.SetDefault("parallel", 1)
	v.SetDefault("log-format", "auto")
	v.SetDefault("request-timeout", 60*time.Second)
	v.SetDefault("retry-max-elapsed", 5*time.Minute)
}

// BindPFlag binds a config key to a command-line flag, so a set flag takes
// precedence over environment and file.
func BindPFlag(key string, flag *pflag.Flag) error {
	if v == nil {
		if err := Initialize(""); err != nil {
			return err
		}
	}
	if flag == nil {
		return fmt.Errorf("no flag for config key %q", key)
	}
	return v.BindPFlag(key, flag)
}

// ConfigFileUsed returns the path of the config file read, if any.
func ConfigFileUsed() string {
	if v == nil {
		return ""
	}
	return v.ConfigFileUsed()
}

// GetString retrieves a string configuration value
func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// GetBool retrieves a boolean configuration value
func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

// GetInt retrieves an integer configuration value
func GetInt(key string) int {
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

// GetDuration retrieves a duration configuration value
func GetDuration(key string) time.Duration {
	if v == nil {
		return 0
	}
	return v.GetDuration(key)
}

// Set sets a configuration value
func Set(key string, value interface{}) {
	if v != nil {
		v.Set(key, value)
	}
}

// AllSettings returns all configuration settings as a map
func AllSettings() map[string]interface{} {
	if v == nil {
		return map[string]interface{}{}
	}
	return v.AllSettings()
}
