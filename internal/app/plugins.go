package app

import (
	"context"

	"toolbox/internal/config"
	"toolbox/internal/plugin"
	"toolbox/internal/plugin/builtin/clock"
	"toolbox/internal/plugin/builtin/hashkit"
	"toolbox/internal/plugin/builtin/pgp"
	"toolbox/internal/plugin/builtin/qr"
	"toolbox/internal/plugin/builtin/recorder"
	"toolbox/internal/plugin/builtin/viewsource"
	logx "toolbox/pkg/logx"
)

// Builtins returns a fresh instance of every tool.
func Builtins() []plugin.Plugin {
	return []plugin.Plugin{
		recorder.New(),
		viewsource.New(),
		hashkit.New(),
		clock.New(),
		pgp.New(),
		qr.New(),
	}
}

// CheckConfig loads and validates the config at path, including every
// enabled tool's block. Nothing is started.
func CheckConfig(ctx context.Context, path string) (*config.Config, error) {
	cfgm := config.NewConfigManager(path)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	pm := plugin.NewPluginManager(logx.Nop(), cfgm, plugin.Deps{}, nil)
	pm.Register(Builtins()...)
	if err := pm.ValidateConfig(ctx, cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
