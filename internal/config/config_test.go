package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

const yamlCfg = `
telegram:
  token: "123:abc"
  owner_user_ids: [42]
  poll_timeout: 20s
logging:
  level: debug
storage:
  driver: sqlite
  path: ./toolbox.db
  quota_bytes: 1048576
sessions:
  idle_timeout: 5m
plugins:
  qr:
    enabled: true
    config:
      history_cap: 50
`

func TestLoadYAML(t *testing.T) {
	m := NewConfigManager(writeFile(t, "config.yaml", yamlCfg))
	m.SetEnviron(map[string]string{})
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" || cfg.PollTimeout() != 20*time.Second {
		t.Fatalf("telegram: %+v", cfg.Telegram)
	}
	if cfg.QuotaBytes() != 1<<20 || cfg.IdleTimeout() != 5*time.Minute || cfg.SweepEvery() != DefaultSweepEvery {
		t.Fatalf("effective values: quota=%d idle=%s sweep=%s", cfg.QuotaBytes(), cfg.IdleTimeout(), cfg.SweepEvery())
	}
	if !cfg.Plugins["qr"].Enabled || !strings.Contains(string(cfg.Plugins["qr"].Config), "history_cap") {
		t.Fatalf("plugins: %+v", cfg.Plugins)
	}
	if m.Get() != cfg {
		t.Fatalf("Load did not commit")
	}
}

func TestParseRejectsUnknownAndTrailing(t *testing.T) {
	cases := map[string]string{
		"unknown.json":  `{"telegram":{"token":"x"},"bogus":1}`,
		"trailing.json": `{"telegram":{"token":"x"}}{}`,
		"plugin.json":   `{"telegram":{"token":"x"},"plugins":{"qr":{"enabled":true,"timeout":"1s"}}}`,
	}
	for name, body := range cases {
		m := NewConfigManager(writeFile(t, name, body))
		m.SetEnviron(map[string]string{})
		if _, err := m.Parse(); err == nil {
			t.Fatalf("%s: expected parse error", name)
		}
	}
}

func TestEnvOverrides(t *testing.T) {
	m := NewConfigManager(writeFile(t, "c.json", `{"telegram":{"token":"file"},"storage":{"driver":"memory"}}`))
	m.SetEnviron(map[string]string{
		"TOOLBOX_TELEGRAM_TOKEN":  "env",
		"TOOLBOX_TELEGRAM_OWNERS": "1,2",
		"TOOLBOX_STORAGE_DRIVER":  "file",
		"TOOLBOX_STORAGE_PATH":    "/tmp/x.json",
		"TOOLBOX_LOG_LEVEL":       "warn",
		"UNRELATED":               "y",
	})
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "env" || cfg.Storage.Driver != "file" || cfg.Storage.Path != "/tmp/x.json" || cfg.Logging.Level != "warn" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if diff := cmp.Diff([]int64{1, 2}, cfg.Telegram.OwnerUserIDs); diff != "" {
		t.Fatalf("owners (-want +got):\n%s", diff)
	}
}

func TestValidate(t *testing.T) {
	ok := &Config{Telegram: TelegramConfig{Token: "t"}}
	if err := Validate(ok); err != nil {
		t.Fatalf("minimal config: %v", err)
	}

	bad := &Config{
		Logging:   LoggingConfig{Level: "loud"},
		Storage:   StorageConfig{Driver: "sqlite"},
		Sessions:  SessionsConfig{IdleTimeout: "soon"},
		Scheduler: SchedulerConfig{Timezone: "Mars/Base"},
	}
	err := Validate(bad)
	if err == nil {
		t.Fatalf("expected errors")
	}
	for _, want := range []string{"telegram.token", "logging.level", "storage.path", "sessions.idle_timeout", "scheduler.timezone"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("missing %q in %v", want, err)
		}
	}
}

func TestQuotaBytes(t *testing.T) {
	for in, want := range map[int64]int64{0: DefaultQuotaBytes, -1: 0, 1000: 1000} {
		c := &Config{Storage: StorageConfig{QuotaBytes: in}}
		if got := c.QuotaBytes(); got != want {
			t.Fatalf("QuotaBytes(%d)=%d want %d", in, got, want)
		}
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	a := &Config{Telegram: TelegramConfig{Token: "t"}, Plugins: map[string]PluginConfigRaw{
		"qr":  {Enabled: true, Config: []byte(`{"a":1, "b":2}`)},
		"pgp": {Enabled: true},
	}}
	b := &Config{Telegram: TelegramConfig{Token: "t"}, Sessions: SessionsConfig{IdleTimeout: "1m"}, Plugins: map[string]PluginConfigRaw{
		"qr":  {Enabled: true, Config: []byte(`{"b":2,"a":1}`)},
		"pgp": {Enabled: false},
	}}
	changed, _, plugins := SummarizeConfigChange(a, b)
	if diff := cmp.Diff([]string{"plugins", "sessions"}, changed); diff != "" {
		t.Fatalf("sections (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"pgp"}, plugins); diff != "" {
		t.Fatalf("plugins (-want +got):\n%s", diff)
	}
	if r := RestartRequired(a, b); len(r) != 0 {
		t.Fatalf("restart required: %v", r)
	}
}
