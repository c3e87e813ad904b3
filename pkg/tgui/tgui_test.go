package tgui

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type state struct {
	View string `json:"v"`
	Key  string `json:"k,omitempty"`
}

func TestActionDataInline(t *testing.T) {
	data, err := ActionData("qr", "ui", state{View: "h"}, nil)
	if err != nil {
		t.Fatalf("ActionData: %v", err)
	}
	parts := strings.SplitN(data, ":", 3)
	if len(parts) != 3 || parts[0] != "qr" || parts[1] != "ui" {
		t.Fatalf("data=%q", data)
	}
	var got state
	if err := UnpackJSON(parts[2], &got); err != nil {
		t.Fatalf("UnpackJSON: %v", err)
	}
	if got.View != "h" {
		t.Fatalf("state=%+v", got)
	}
}

func TestActionDataParksLargeState(t *testing.T) {
	big := state{View: "memo", Key: strings.Repeat("x", 80)}
	if _, err := ActionData("clock", "ui", big, nil); !errors.Is(err, ErrCallbackDataTooLong) {
		t.Fatalf("err=%v", err)
	}

	store := NewTokenStore()
	data, err := ActionData("clock", "ui", big, store)
	if err != nil {
		t.Fatalf("ActionData: %v", err)
	}
	if len(data) > MaxCallbackDataLen || !strings.HasPrefix(data, "clock:ui:~") {
		t.Fatalf("data=%q", data)
	}
	raw, ok := store.GetString(strings.TrimPrefix(data, "clock:ui:"))
	if !ok || !strings.Contains(raw, big.Key) {
		t.Fatalf("parked=%q ok=%v", raw, ok)
	}
}

func TestTokenStoreExpires(t *testing.T) {
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	s := NewTokenStore()
	s.now = func() time.Time { return now }

	tok := s.PutString("payload")
	if strings.Contains(tok, ":") || !strings.HasPrefix(tok, "~") {
		t.Fatalf("token=%q", tok)
	}
	if v, ok := s.GetString(tok); !ok || v != "payload" {
		t.Fatalf("get=%q ok=%v", v, ok)
	}

	now = now.Add(tokenTTL + time.Second)
	if _, ok := s.GetString(tok); ok {
		t.Fatalf("token survived its ttl")
	}
	if len(s.m) != 0 {
		t.Fatalf("expired entry kept: %d", len(s.m))
	}
}

func TestBuilderEscapes(t *testing.T) {
	msg := New().
		Title("📝", "a<b").
		Line("1 & 2").
		KV("Type", "<url>").
		Inline(ConfirmInline(Btn("yes", "x:y"), URLBtn("open", "https://example.com"))).
		Build()
	want := "📝 <b>a&lt;b</b>\n1 &amp; 2\n• <b>Type</b>: &lt;url&gt;"
	if diff := cmp.Diff(want, msg.Text); diff != "" {
		t.Fatalf("text (-want +got):\n%s", diff)
	}
	if msg.Opt.ParseMode != "HTML" || !msg.Opt.DisablePreview || msg.Opt.ReplyMarkupAdapter == nil {
		t.Fatalf("opt=%+v", msg.Opt)
	}
}

func TestPreMultiSplitsOnNewlines(t *testing.T) {
	line := strings.Repeat("a", 99) + "\n"
	text := strings.Repeat(line, 80)

	msg := New().PreMulti(text).Build()
	chunks := append([]string{msg.Text}, msg.More...)
	if len(chunks) != 3 {
		t.Fatalf("chunks=%d", len(chunks))
	}
	var joined []string
	for _, c := range chunks {
		if !strings.HasPrefix(c, "<pre><code>") || !strings.HasSuffix(c, "</code></pre>") {
			t.Fatalf("unbalanced chunk %q", TruncRunes(c, 40))
		}
		body := strings.TrimSuffix(strings.TrimPrefix(c, "<pre><code>"), "</code></pre>")
		if len([]rune(body)) > preChunkRunes {
			t.Fatalf("chunk size %d", len([]rune(body)))
		}
		joined = append(joined, body)
	}
	if got := strings.Join(joined, "\n"); got != strings.TrimRight(text, "\n") {
		t.Fatalf("text lost while splitting")
	}
}

func TestTruncRunes(t *testing.T) {
	for _, tc := range []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 5, "hello"},
		{"hello", 3, "hel…"},
		{"héllo wörld", 7, "héllo w…"},
		{"x", 0, ""},
	} {
		if got := TruncRunes(tc.in, tc.n); got != tc.want {
			t.Fatalf("TruncRunes(%q, %d)=%q want %q", tc.in, tc.n, got, tc.want)
		}
	}
}
