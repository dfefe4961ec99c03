package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/liliang-cn/vecmem/pkg/core"
)

// cliConfig is the resolved CLI configuration
type cliConfig struct {
	DB                  string `mapstructure:"db"`
	BatchSize           int    `mapstructure:"batch_size"`
	TopK                int    `mapstructure:"top_k"`
	MaxThreads          int    `mapstructure:"max_threads"`
	MemoryLimit         int64  `mapstructure:"memory_limit"`
	DisableAcceleration bool   `mapstructure:"disable_acceleration"`
	LogLevel            string `mapstructure:"log_level"`
}

var configKeys = []string{"db", "batch_size", "top_k", "max_threads", "memory_limit", "disable_acceleration", "log_level"}

// loadConfig merges defaults, an optional config file, VECMEM_* environment
// variables and flags, in increasing priority
func loadConfig(flags *pflag.FlagSet, configFile string) (*cliConfig, error) {
	v := viper.New()
	setDefaults(v)

	if configFile == "" {
		configFile = os.Getenv("VECMEM_CONFIG")
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix("VECMEM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	// only flags the user actually set override env and file values
	if flags != nil {
		for _, key := range configKeys {
			f := flags.Lookup(strings.ReplaceAll(key, "_", "-"))
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("error binding flag %s: %w", f.Name, err)
			}
		}
	}

	var config cliConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	def := core.DefaultConfig()
	v.SetDefault("db", "")
	v.SetDefault("batch_size", def.BatchSize)
	v.SetDefault("top_k", def.DefaultTopK)
	v.SetDefault("max_threads", def.MaxThreads)
	v.SetDefault("memory_limit", def.MemoryLimitBytes)
	v.SetDefault("disable_acceleration", false)
	v.SetDefault("log_level", "warn")
}

// storeConfig converts the CLI configuration into a store configuration
func (c *cliConfig) storeConfig() core.Config {
	config := core.DefaultConfig()
	config.Path = c.DB
	config.BatchSize = c.BatchSize
	config.DefaultTopK = c.TopK
	config.MaxThreads = c.MaxThreads
	config.MemoryLimitBytes = c.MemoryLimit
	config.DisableAcceleration = c.DisableAcceleration
	config.Logger = core.NewStdLogger(parseLogLevel(c.LogLevel))
	return config
}

func parseLogLevel(s string) core.LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return core.LevelDebug
	case "info":
		return core.LevelInfo
	case "error":
		return core.LevelError
	default:
		return core.LevelWarn
	}
}
