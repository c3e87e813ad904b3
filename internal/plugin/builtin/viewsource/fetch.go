package viewsource

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"toolbox/internal/toolerr"
	logx "toolbox/pkg/logx"
)

// ParseURL accepts an absolute http or https URL.
func ParseURL(s string) (*url.URL, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "view-source:")
	if s == "" {
		return nil, toolerr.Validation("enter a URL: /source <url>")
	}
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" || (u.Host == "" && u.Opaque == "") {
		return nil, toolerr.Validation("invalid URL")
	}
	if err := checkScheme(u); err != nil {
		return nil, err
	}
	if u.Host == "" {
		return nil, toolerr.Validation("invalid URL")
	}
	return u, nil
}

func checkScheme(u *url.URL) error {
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return nil
	}
	return toolerr.Validation("only http and https URLs are supported")
}

// ViewSourceURL is the address a browser opens the source view at.
func ViewSourceURL(u *url.URL) string { return "view-source:" + u.String() }

// Page is a fetched document.
type Page struct {
	URL         string // after redirects
	Status      int
	ContentType string
	Body        []byte
	Truncated   bool

	Title   string
	Links   int
	Scripts int
}

func (p *Plugin) fetch(ctx context.Context, u *url.URL) (*Page, error) {
	cfg := p.config()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, toolerr.Wrap(toolerr.ValidationFailure, "invalid URL", err)
	}
	req.Header.Set("User-Agent", cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := p.client.Do(req)
	if err != nil {
		// Refusals from the dialer or the redirect check keep their code.
		var te *toolerr.Error
		if errors.As(err, &te) {
			return nil, te
		}
		return nil, toolerr.Wrap(toolerr.Internal, "fetch failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, toolerr.New(toolerr.Internal, "server answered "+resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, cfg.MaxBytes+1))
	if err != nil {
		return nil, toolerr.Wrap(toolerr.Internal, "read failed", err)
	}
	page := &Page{
		URL:         resp.Request.URL.String(),
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
	}
	if int64(len(body)) > cfg.MaxBytes {
		body, page.Truncated = body[:cfg.MaxBytes], true
	}
	page.Body = body
	if err := page.inspect(); err != nil {
		p.Log.Debug("html inspect failed", logx.Err(err))
	}
	return page, nil
}

// inspect pulls the title and a few element counts out of the body.
func (pg *Page) inspect() error {
	doc, err := html.Parse(strings.NewReader(string(pg.Body)))
	if err != nil {
		return err
	}
	var walk func(n *html.Node, depth int)
	walk = func(n *html.Node, depth int) {
		if depth > 200 {
			return
		}
		if n.Type == html.ElementNode {
			switch n.Data {
			case "title":
				if pg.Title == "" && n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
					pg.Title = strings.TrimSpace(n.FirstChild.Data)
				}
			case "a":
				pg.Links++
			case "script":
				pg.Scripts++
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, depth+1)
		}
	}
	walk(doc, 0)
	return nil
}

// fileName turns the host into a safe document name, e.g. "example.com.html".
func fileName(u *url.URL) string {
	host := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			return r
		}
		return '_'
	}, u.Hostname())
	if host == "" {
		host = "page"
	}
	return host + ".html"
}
