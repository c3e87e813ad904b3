package clock

import (
	"context"

	core "toolbox/internal/plugin"
	pluginkit "toolbox/internal/plugin/kit"
	"toolbox/pkg/tgui"
)

const (
	viewClock     = "clock"
	viewStopwatch = "sw"
	viewMemo      = "memo"
)

func (p *Plugin) handleClock(ctx context.Context, req *core.Request) error {
	return p.ui.Show(ctx, req, pluginkit.UIState{View: viewClock})
}

func (p *Plugin) viewClock(ctx context.Context, req *core.Request, st pluginkit.UIState) (tgui.Message, error) {
	now := p.now().In(p.location())
	kb := tgui.NewInline().Row(p.ui.Button("🔄 Refresh", pluginkit.UIState{View: viewClock}))
	return tgui.New().
		Title("🕒", "Clock").
		RawLine(tgui.B(now.Format("15:04:05")).String() + tgui.Code(now.Format(".000")).String()).
		Line(now.Format("Monday, 2 January 2006") + " (" + now.Format("MST") + ")").
		Inline(kb).
		Build(), nil
}
