package viewsource

import (
	"bytes"
	"context"
	"strconv"

	core "toolbox/internal/plugin"
	pluginkit "toolbox/internal/plugin/kit"
	kit "toolbox/internal/transport"
	"toolbox/pkg/tgui"
)

func (p *Plugin) handleSource(ctx context.Context, req *core.Request) error {
	u, err := ParseURL(req.Text())
	if err != nil {
		return err
	}
	if !p.config().AllowPrivateNetworks {
		if err := checkHost(u); err != nil {
			return err
		}
	}
	chat := req.Chat
	ad := req.Adapter
	intro := tgui.New().Title("🔎", "View source").Code(ViewSourceURL(u)).Build()
	if _, err := intro.Send(ctx, ad, chat); err != nil {
		return err
	}
	return pluginkit.RunAsync(ctx, p.Supervisor(), req, pluginkit.AsyncOp{
		Name:    "fetch",
		Status:  "Fetching " + u.Host,
		Timeout: p.config().Timeouts.OperationOr(DefaultFetchTimeout),
		Run: func(ctx context.Context) (tgui.Message, error) {
			page, err := p.fetch(ctx, u)
			if err != nil {
				return tgui.Message{}, err
			}
			_, err = ad.SendFile(ctx, chat, kit.OutFile{
				Kind:    kit.FileDocument,
				Name:    fileName(u),
				MIME:    "text/html",
				Caption: tgui.TruncRunes(page.URL, 200),
				Reader:  bytes.NewReader(page.Body),
			}, nil)
			if err != nil {
				return tgui.Message{}, err
			}
			return summary(page), nil
		},
	})
}

func summary(page *Page) tgui.Message {
	b := tgui.New().Title("📄", "Page source")
	if page.Title != "" {
		b.KV("Title", tgui.TruncRunes(page.Title, 120))
	}
	size := strconv.Itoa(len(page.Body)) + " bytes"
	if page.Truncated {
		size += " (truncated)"
	}
	return b.
		KV("Status", strconv.Itoa(page.Status)).
		KV("Type", page.ContentType).
		KV("Size", size).
		KV("Links", strconv.Itoa(page.Links)).
		KV("Scripts", strconv.Itoa(page.Scripts)).
		Build()
}
