// Package plugin hosts the tools. Each tool is a Plugin: it contributes
// commands, callback routes and input routes to the router, and is started,
// reconfigured and stopped by the PluginManager as the config changes.
package plugin

import (
	"bytes"
	"context"
	"encoding/json"

	"toolbox/internal/config"
	"toolbox/internal/eventbus"
	"toolbox/internal/session"
	"toolbox/internal/storage"
	"toolbox/internal/task/scheduler"
	kit "toolbox/internal/transport"
	"toolbox/internal/transport/telegram/router"
	logx "toolbox/pkg/logx"
)

type Plugin interface {
	Name() string
	Init(ctx context.Context, deps Deps) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Commands() []Command
}

type ConfigurablePlugin interface {
	OnConfigChange(ctx context.Context, raw json.RawMessage) error
}

// ConfigValidator is an optional hook to validate plugin config before applying it.
type ConfigValidator interface {
	ValidateConfig(ctx context.Context, raw json.RawMessage) error
}

type CallbackProvider interface {
	Callbacks() []CallbackRoute
}

// InputProvider receives plain messages and media.
type InputProvider interface {
	Inputs() []InputRoute
}

// HealthChecker is reported by PluginManager.Snapshot.
type HealthChecker interface {
	Health(ctx context.Context) (status string, err error)
}

// Deps is what every plugin gets at Init.
type Deps struct {
	Logger    logx.Logger
	Adapter   kit.Adapter
	Config    *config.ConfigManager
	Store     *storage.Store
	Sessions  *session.Manager
	Scheduler *scheduler.Service
	Bus       eventbus.Bus
	Owners    []int64
}

type StopReason string

const (
	StopShutdown         StopReason = "shutdown"
	StopPluginDisable    StopReason = "plugin_disable"
	StopPluginQuarantine StopReason = "plugin_quarantine"
)

type (
	Access              = router.Access
	Command             = router.Command
	Request             = router.Request
	HandlerFunc         = router.HandlerFunc
	CallbackHandlerFunc = router.CallbackHandlerFunc
	CallbackRoute       = router.CallbackRoute
	InputRoute          = router.InputRoute
	CommandManager      = router.CommandManager
)

const (
	AccessEveryone  = router.AccessEveryone
	AccessOwnerOnly = router.AccessOwnerOnly
)

// DecodePluginConfig decodes a per-plugin raw json blob into T. Unknown
// fields are rejected.
func DecodePluginConfig[T any](raw json.RawMessage) (T, error) {
	var out T
	if len(raw) == 0 {
		return out, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}

var (
	MessageRequest  = router.MessageRequest
	CallbackRequest = router.CallbackRequest
)
