package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	logx "toolbox/pkg/logx"
)

var knownDrivers = map[string]bool{
	"": true, "none": true, "memory": true, "mem": true,
	"file": true, "sqlite": true, "sqlite3": true,
}

// Validate checks a parsed config. All problems are reported together.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token is required (or set "+EnvPrefix+"TELEGRAM_TOKEN)"))
	}
	if cfg.Telegram.RatePerSec < 0 || cfg.Telegram.Burst < 0 || cfg.Telegram.Workers < 0 {
		errs = append(errs, errors.New("telegram.rate_per_sec, burst and workers must be >= 0"))
	}
	if lv := strings.TrimSpace(cfg.Logging.Level); lv != "" && !logx.ValidLevel(lv) {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", lv))
	}
	if lv := strings.TrimSpace(cfg.Logging.Telegram.MinLevel); lv != "" && !logx.ValidLevel(lv) {
		errs = append(errs, fmt.Errorf("logging.telegram.min_level: unknown level %q", lv))
	}
	if cfg.Logging.Telegram.Enabled && cfg.Telegram.GroupLog == 0 {
		errs = append(errs, errors.New("logging.telegram.enabled needs telegram.group_log"))
	}

	d := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if !knownDrivers[d] {
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	if (d == "file" || d == "sqlite" || d == "sqlite3") && strings.TrimSpace(cfg.Storage.Path) == "" {
		errs = append(errs, fmt.Errorf("storage.path is required for driver %q", d))
	}

	for path, raw := range map[string]string{
		"telegram.poll_timeout": cfg.Telegram.PollTimeout,
		"storage.busy_timeout":  cfg.Storage.BusyTimeout,
		"sessions.idle_timeout": cfg.Sessions.IdleTimeout,
		"sessions.sweep_every":  cfg.Sessions.SweepEvery,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	return errors.Join(errs...)
}
