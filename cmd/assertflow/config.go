package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rendis/assertflow/pkg/schema"
)

const envPrefix = "ASSERTFLOW"

// Config holds all assertflow CLI configuration.
// Priority: flags > env vars (ASSERTFLOW_*) > config file > defaults.
type Config struct {
	LogLevel  string
	LogFormat string
	DBPath    string // empty disables run history
	PoolSize  int
	Timeout   time.Duration // per run; zero means none
	Dialect   schema.Dialect
}

func assertflowDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".assertflow"
	}
	return filepath.Join(home, ".assertflow")
}

func defaultDBPath() string {
	return filepath.Join(assertflowDir(), "history.db")
}

func setupFlags(cmd *cobra.Command, v *viper.Viper) error {
	f := cmd.PersistentFlags()
	f.String("config", "", "Path to config file (YAML, JSON or TOML); default ~/.assertflow/config.*")
	f.String("log-level", "warn", "Log level: debug, info, warn, error")
	f.String("log-format", "console", "Log format: console or json")
	f.String("db-path", defaultDBPath(), "Run history database; empty disables history")
	f.Int("pool-size", 4, "Concurrent runs when several workflows are run at once")
	f.Duration("timeout", 0, "Per-run timeout (0 disables)")
	f.String("dialect", string(schema.DialectNative), "Expression dialect for workflows that do not set one: native, cel, expr")
	return v.BindPFlags(f)
}

func loadConfig(v *viper.Viper) (Config, error) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", file, err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(assertflowDir())
		if err := v.ReadInConfig(); err != nil {
			// it's ok if the default config file doesn't exist
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		LogLevel:  v.GetString("log-level"),
		LogFormat: v.GetString("log-format"),
		DBPath:    v.GetString("db-path"),
		PoolSize:  v.GetInt("pool-size"),
		Timeout:   v.GetDuration("timeout"),
		Dialect:   schema.Dialect(strings.ToLower(v.GetString("dialect"))),
	}

	if cfg.PoolSize < 1 {
		return Config{}, fmt.Errorf("pool-size must be at least 1, got %d", cfg.PoolSize)
	}
	if cfg.Timeout < 0 {
		return Config{}, fmt.Errorf("timeout must not be negative, got %s", cfg.Timeout)
	}
	switch cfg.Dialect {
	case schema.DialectNative, schema.DialectCEL, schema.DialectExpr:
	default:
		return Config{}, fmt.Errorf("unknown dialect %q (want native, cel or expr)", cfg.Dialect)
	}
	return cfg, nil
}
