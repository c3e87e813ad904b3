package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix is prepended to every override variable.
const EnvPrefix = "TOOLBOX_"

// envOverrides lists the settings that may come from the environment, which
// wins over the file. Secrets belong here rather than in a committed config.
type envOverrides struct {
	Token         string  `env:"TELEGRAM_TOKEN"`
	Owners        []int64 `env:"TELEGRAM_OWNERS" envSeparator:","`
	StorageDriver string  `env:"STORAGE_DRIVER"`
	StoragePath   string  `env:"STORAGE_PATH"`
	LogLevel      string  `env:"LOG_LEVEL"`
}

// ApplyEnv overlays TOOLBOX_* variables from environ (os.Environ() when nil).
func ApplyEnv(cfg *Config, environ map[string]string) error {
	if cfg == nil {
		return nil
	}
	if environ == nil {
		environ = envMap(os.Environ())
	}
	var o envOverrides
	if err := env.ParseWithOptions(&o, env.Options{Prefix: EnvPrefix, Environment: environ}); err != nil {
		return fmt.Errorf("env overrides: %w", err)
	}
	if o.Token != "" {
		cfg.Telegram.Token = o.Token
	}
	if len(o.Owners) > 0 {
		cfg.Telegram.OwnerUserIDs = o.Owners
	}
	if o.StorageDriver != "" {
		cfg.Storage.Driver = o.StorageDriver
	}
	if o.StoragePath != "" {
		cfg.Storage.Path = o.StoragePath
	}
	if o.LogLevel != "" {
		cfg.Logging.Level = o.LogLevel
	}
	return nil
}

func envMap(kv []string) map[string]string {
	out := make(map[string]string, len(kv))
	for _, s := range kv {
		if k, v, ok := strings.Cut(s, "="); ok {
			out[k] = v
		}
	}
	return out
}
