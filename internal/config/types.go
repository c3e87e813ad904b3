package config

import (
	"bytes"
	"encoding/json"
	"time"
)

type Config struct {
	Telegram  TelegramConfig             `json:"telegram"`
	Logging   LoggingConfig              `json:"logging"`
	Storage   StorageConfig              `json:"storage"`
	Sessions  SessionsConfig             `json:"sessions"`
	Scheduler SchedulerConfig            `json:"scheduler"`
	Plugins   map[string]PluginConfigRaw `json:"plugins"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// AllowedChats restricts the bot to these chats (owners are always let in).
	// Empty means every chat.
	AllowedChats []int64 `json:"allowed_chats,omitempty"`
	// GroupLog is the chat that receives the telegram log sink.
	GroupLog int64 `json:"group_log,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`

	// Per-chat request rate limit. 0 disables it.
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	Burst      int     `json:"burst,omitempty"`
	Workers    int     `json:"workers,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the durable backend for every chat's stores.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./toolbox.db", "quota_bytes": 5242880 }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	// QuotaBytes caps the bytes stored per chat. 0 selects the default (5 MiB),
	// a negative value disables the quota.
	QuotaBytes int64 `json:"quota_bytes,omitempty"`
}

// SessionsConfig controls the reaper for abandoned tool sessions.
type SessionsConfig struct {
	IdleTimeout string `json:"idle_timeout,omitempty"` // default 10m
	SweepEvery  string `json:"sweep_every,omitempty"`  // default 1m
}

// SchedulerConfig controls the maintenance trigger service (session reaper,
// storage usage report). It is on unless explicitly disabled.
type SchedulerConfig struct {
	Enabled  *bool  `json:"enabled,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

type PluginConfigRaw struct {
	Enabled bool            `json:"enabled"`
	Config  json.RawMessage `json:"config,omitempty"`
}

// UnmarshalJSON disallows unknown fields so typos in plugin blocks are
// caught on reload.
func (p *PluginConfigRaw) UnmarshalJSON(b []byte) error {
	type tmp struct {
		Enabled bool            `json:"enabled"`
		Config  json.RawMessage `json:"config,omitempty"`
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var t tmp
	if err := dec.Decode(&t); err != nil {
		return err
	}
	*p = PluginConfigRaw{Enabled: t.Enabled, Config: t.Config}
	return nil
}

const (
	DefaultQuotaBytes  = 5 << 20
	DefaultIdleTimeout = 10 * time.Minute
	DefaultSweepEvery  = time.Minute
	DefaultPollTimeout = 10 * time.Second
)

// Effective values. Validate has already rejected malformed durations, so
// parse errors fall back to defaults here.

func (c *Config) PollTimeout() time.Duration {
	d, _ := ParseDurationOrDefault("telegram.poll_timeout", c.Telegram.PollTimeout, DefaultPollTimeout)
	return d
}

func (c *Config) IdleTimeout() time.Duration {
	d, _ := ParseDurationOrDefault("sessions.idle_timeout", c.Sessions.IdleTimeout, DefaultIdleTimeout)
	return d
}

func (c *Config) SweepEvery() time.Duration {
	d, _ := ParseDurationOrDefault("sessions.sweep_every", c.Sessions.SweepEvery, DefaultSweepEvery)
	return d
}

func (c *Config) SchedulerEnabled() bool {
	return c.Scheduler.Enabled == nil || *c.Scheduler.Enabled
}

func (c *Config) BusyTimeout() time.Duration {
	d, _ := ParseDurationOrDefault("storage.busy_timeout", c.Storage.BusyTimeout, 5*time.Second)
	return d
}

// QuotaBytes returns the per-chat quota; 0 means unlimited.
func (c *Config) QuotaBytes() int64 {
	switch q := c.Storage.QuotaBytes; {
	case q == 0:
		return DefaultQuotaBytes
	case q < 0:
		return 0
	default:
		return q
	}
}
