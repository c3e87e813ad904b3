package hashkit

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	core "toolbox/internal/plugin"
	"toolbox/internal/toolerr"
	kit "toolbox/internal/transport"
	"toolbox/internal/transport/transporttest"
)

// zeroReader makes crypto/rand.Int always pick index 0.
type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}

func TestDigestKnownVectors(t *testing.T) {
	cases := map[string]string{
		"sha256": "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad",
		"base64": "YWJj",
	}
	for algo, want := range cases {
		got, err := Digest(algo, "abc")
		if err != nil {
			t.Fatalf("%s: %v", algo, err)
		}
		if got != want {
			t.Fatalf("%s(abc)=%s want %s", algo, got, want)
		}
	}
	for algo, hexLen := range map[string]int{"sha512": 128, "SHA3-256": 64, "blake2b": 128} {
		got, err := Digest(algo, "abc")
		if err != nil {
			t.Fatalf("%s: %v", algo, err)
		}
		if len(got) != hexLen {
			t.Fatalf("%s: len=%d want %d", algo, len(got), hexLen)
		}
	}
}

func TestDigestRejectsBadInput(t *testing.T) {
	if _, err := Digest("sha256", ""); !toolerr.Is(err, toolerr.ValidationFailure) {
		t.Fatalf("empty text: %v", err)
	}
	if _, err := Digest("md4", "x"); !toolerr.Is(err, toolerr.ValidationFailure) {
		t.Fatalf("unknown algo: %v", err)
	}
}

func TestGeneratePassword(t *testing.T) {
	pw, err := GeneratePassword(PasswordOptions{Length: 6, Upper: true}, zeroReader{})
	if err != nil {
		t.Fatalf("GeneratePassword: %v", err)
	}
	if pw != "AAAAAA" {
		t.Fatalf("pw=%q", pw)
	}

	pw, err = GeneratePassword(PasswordOptions{Length: 1000, Numbers: true}, nil)
	if err != nil {
		t.Fatalf("GeneratePassword: %v", err)
	}
	if len(pw) != MaxPasswordLength {
		t.Fatalf("len=%d want clamp to %d", len(pw), MaxPasswordLength)
	}
	if strings.Trim(pw, digitChars) != "" {
		t.Fatalf("non-digit in %q", pw)
	}

	if _, err := GeneratePassword(PasswordOptions{Length: 8}, nil); !toolerr.Is(err, toolerr.ValidationFailure) {
		t.Fatalf("no classes: %v", err)
	}
}

func TestPasswordOptionsRoundTrip(t *testing.T) {
	o := PasswordOptions{Length: 20, Lower: true, Symbols: true}
	got, err := decodePasswordOptions(o.encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != o {
		t.Fatalf("got %+v want %+v", got, o)
	}
	if _, err := decodePasswordOptions("x"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestStrength(t *testing.T) {
	cases := []struct {
		pw    string
		score int
		label string
	}{
		{"abc", 15, "weak"},
		{"abcdefgh1", 50, "medium"},
		{"Abcdefgh1!xyzQRS", 100, "strong"},
	}
	for _, c := range cases {
		score, label := Strength(c.pw)
		if score != c.score || label != c.label {
			t.Fatalf("Strength(%q)=%d,%s want %d,%s", c.pw, score, label, c.score, c.label)
		}
	}
}

func TestRandomText(t *testing.T) {
	out, err := RandomText(TextOptions{Charset: "hex", Length: 4, Lines: 3}, zeroReader{})
	if err != nil {
		t.Fatalf("RandomText: %v", err)
	}
	if out != "0000\n0000\n0000" {
		t.Fatalf("out=%q", out)
	}

	out, err = RandomText(TextOptions{Charset: "custom", Custom: "xy", Length: 5, Lines: 1, Upper: true}, nil)
	if err != nil {
		t.Fatalf("RandomText custom: %v", err)
	}
	if len(out) != 5 || strings.Trim(out, "XY") != "" {
		t.Fatalf("custom out=%q", out)
	}

	bad := []TextOptions{
		{Charset: "custom", Length: 5, Lines: 1},
		{Charset: "emoji", Length: 5, Lines: 1},
		{Length: 0, Lines: 1},
		{Length: 5, Lines: 51},
		{Length: 1000, Lines: 4},
	}
	for _, o := range bad {
		if _, err := RandomText(o, nil); !toolerr.Is(err, toolerr.ValidationFailure) {
			t.Fatalf("%+v: err=%v", o, err)
		}
	}
}

func newPlugin(t *testing.T, raw string) *Plugin {
	t.Helper()
	p := New()
	if err := p.Init(context.Background(), core.Deps{}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if raw != "" {
		if err := p.OnConfigChange(context.Background(), json.RawMessage(raw)); err != nil {
			t.Fatalf("OnConfigChange: %v", err)
		}
	}
	return p
}

func command(t *testing.T, p *Plugin, route string) core.Command {
	t.Helper()
	for _, c := range p.Commands() {
		if c.Route == route {
			return c
		}
	}
	t.Fatalf("no command %q", route)
	return core.Command{}
}

func TestHashCommand(t *testing.T) {
	p := newPlugin(t, "")
	ad := transporttest.New()

	req := core.MessageRequest(ad, &kit.Message{ChatID: 1, Text: "/hash sha256 abc"}, 1)
	if err := command(t, p, "hash").Handle(context.Background(), req); err != nil {
		t.Fatalf("hash: %v", err)
	}
	got := ad.LastText()
	if !strings.Contains(got, "ba7816bf8f01cfea") || strings.Contains(got, "Base64") {
		t.Fatalf("text=%q", got)
	}

	// Without an algorithm every encoding is shown for the whole text.
	req = core.MessageRequest(ad, &kit.Message{ChatID: 1, Text: "/hash abc"}, 1)
	if err := command(t, p, "hash").Handle(context.Background(), req); err != nil {
		t.Fatalf("hash all: %v", err)
	}
	got = ad.LastText()
	for _, want := range []string{"SHA-256", "SHA-512", "SHA3-256", "BLAKE2b-512", "YWJj"} {
		if !strings.Contains(got, want) {
			t.Fatalf("missing %q in %q", want, got)
		}
	}

	req = core.MessageRequest(ad, &kit.Message{ChatID: 1, Text: "/hash sha256"}, 1)
	if err := command(t, p, "hash").Handle(context.Background(), req); !toolerr.Is(err, toolerr.ValidationFailure) {
		t.Fatalf("empty text: %v", err)
	}
}

func TestPasswordCommandAndRegenerate(t *testing.T) {
	p := newPlugin(t, `{"password_length": 10}`)
	ad := transporttest.New()

	req := core.MessageRequest(ad, &kit.Message{ChatID: 1, Text: "/password --no-symbols"}, 1)
	if err := command(t, p, "password").Handle(context.Background(), req); err != nil {
		t.Fatalf("password: %v", err)
	}
	sent := ad.Texts()
	if len(sent) != 1 || !strings.Contains(sent[0].Text, "Length</b>: 10") {
		t.Fatalf("sent=%+v", sent)
	}

	cb := &kit.Callback{ID: "cb", ChatID: 1, MessageID: 1, Data: "hashkit:pw:12.1"}
	route := p.Callbacks()[0]
	if err := route.Handle(context.Background(), core.CallbackRequest(ad, cb), "12.1"); err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	edits := ad.Edits()
	if len(edits) != 1 || !strings.Contains(edits[0].Text, "Length</b>: 12") {
		t.Fatalf("edits=%+v", edits)
	}

	req = core.MessageRequest(ad, &kit.Message{ChatID: 1, Text: "/pw ten"}, 1)
	if err := command(t, p, "password").Handle(context.Background(), req); !toolerr.Is(err, toolerr.ValidationFailure) {
		t.Fatalf("bad length: %v", err)
	}
}

func TestRandTextCommand(t *testing.T) {
	p := newPlugin(t, "")
	ad := transporttest.New()

	req := core.MessageRequest(ad, &kit.Message{ChatID: 1, Text: "/rt --charset numbers --length 8 --lines 2"}, 1)
	if err := command(t, p, "randtext").Handle(context.Background(), req); err != nil {
		t.Fatalf("randtext: %v", err)
	}
	if got := ad.LastText(); !strings.Contains(got, "<pre>") {
		t.Fatalf("text=%q", got)
	}

	req = core.MessageRequest(ad, &kit.Message{ChatID: 1, Text: "/rt --length x"}, 1)
	if err := command(t, p, "randtext").Handle(context.Background(), req); !toolerr.Is(err, toolerr.ValidationFailure) {
		t.Fatalf("bad length: %v", err)
	}
}

func TestValidateConfig(t *testing.T) {
	p := New()
	for _, raw := range []string{`{"password_length": 2}`, `{"bogus": 1}`, `{"timeouts": {"command": "-1s"}}`} {
		if err := p.ValidateConfig(context.Background(), json.RawMessage(raw)); err == nil {
			t.Fatalf("%s: expected error", raw)
		}
	}
	if err := p.ValidateConfig(context.Background(), json.RawMessage(`{"password_length": 32, "timeouts": {"command": "5s"}}`)); err != nil {
		t.Fatalf("valid config: %v", err)
	}
}
