package qr

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
	tele "gopkg.in/telebot.v4"

	core "toolbox/internal/plugin"
	"toolbox/internal/session"
	"toolbox/internal/storage"
	"toolbox/internal/toolerr"
	kit "toolbox/internal/transport"
	"toolbox/internal/transport/transporttest"
	logx "toolbox/pkg/logx"
)

func qrPNG(t *testing.T, text string) []byte {
	t.Helper()
	img, err := qrcode.NewQRCodeWriter().Encode(text, gozxing.BarcodeFormat_QR_CODE, 240, 240, nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png: %v", err)
	}
	return buf.Bytes()
}

func blankPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 120, 120))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png: %v", err)
	}
	return buf.Bytes()
}

type harness struct {
	p  *Plugin
	ad *transporttest.Adapter
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{p: New(), ad: transporttest.New()}
	h.p.now = func() time.Time { return time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC) }
	deps := core.Deps{
		Adapter:  h.ad,
		Store:    storage.NewStore(storage.NewMemory(), 0, logx.Nop()),
		Sessions: session.NewManager(session.Options{}),
	}
	if err := h.p.Init(context.Background(), deps); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return h
}

func (h *harness) image(t *testing.T, msg *kit.Message) error {
	t.Helper()
	in := h.p.Inputs()[0]
	if !in.Match(msg) {
		t.Fatalf("image route did not match %+v", msg)
	}
	return in.Handle(context.Background(), core.MessageRequest(h.ad, msg, 0))
}

func (h *harness) history(t *testing.T) []storage.Record[Scan] {
	t.Helper()
	recs, err := h.p.history(1).List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	return recs
}

func photo(id string) *kit.Message {
	return &kit.Message{ChatID: 1, Attachment: &kit.Attachment{Kind: kit.AttachPhoto, FileID: id}}
}

func TestDecodeRoundTrip(t *testing.T) {
	got, err := Decode(context.Background(), qrPNG(t, "hello qr"))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != "hello qr" {
		t.Fatalf("got %q", got)
	}
}

func TestDecodeFailures(t *testing.T) {
	if _, err := Decode(context.Background(), []byte("not an image")); !toolerr.Is(err, toolerr.DecodeFailure) {
		t.Fatalf("corrupt: %v", err)
	}
	if _, err := Decode(context.Background(), blankPNG(t)); !toolerr.Is(err, toolerr.DecodeFailure) {
		t.Fatalf("blank: %v", err)
	}
}

func TestInvert(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 2, 1))
	img.SetGray(0, 0, color.Gray{Y: 0})
	img.SetGray(1, 0, color.Gray{Y: 200})
	out := invert(img).(*image.Gray)
	if out.GrayAt(0, 0).Y != 255 || out.GrayAt(1, 0).Y != 55 {
		t.Fatalf("pix=%v", out.Pix)
	}
}

func TestImageIsDecodedAndRecorded(t *testing.T) {
	h := newHarness(t)
	h.ad.Files["p1"] = qrPNG(t, "https://example.com/x")

	if err := h.image(t, photo("p1")); err != nil {
		t.Fatalf("image: %v", err)
	}
	got := h.ad.LastText()
	stamp := h.p.now().In(time.Local).Format("2006-01-02 15:04:05")
	for _, want := range []string{"https://example.com/x", "Type</b>: URL", stamp} {
		if !strings.Contains(got, want) {
			t.Fatalf("missing %q in %q", want, got)
		}
	}
	recs := h.history(t)
	if len(recs) != 1 || recs[0].Payload.Text != "https://example.com/x" || recs[0].Payload.Time != h.p.now().UnixMilli() {
		t.Fatalf("history=%+v", recs)
	}
}

func TestNoCodeLeavesHistoryUnchanged(t *testing.T) {
	h := newHarness(t)
	h.ad.Files["blank"] = blankPNG(t)
	if err := h.image(t, photo("blank")); !toolerr.Is(err, toolerr.DecodeFailure) {
		t.Fatalf("err=%v", err)
	}
	if n := len(h.history(t)); n != 0 {
		t.Fatalf("history=%d", n)
	}
}

func TestGroupNeedsScan(t *testing.T) {
	h := newHarness(t)
	h.ad.Files["g"] = qrPNG(t, "plain text")
	msg := photo("g")
	msg.IsGroup = true

	if h.p.Inputs()[0].Match(msg) {
		t.Fatalf("group image matched without /qr scan")
	}
	scan := h.p.Commands()[0]
	if err := scan.Handle(context.Background(), core.MessageRequest(h.ad, &kit.Message{ChatID: 1, IsGroup: true, Text: "/qr scan"}, 2)); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if err := h.image(t, msg); err != nil {
		t.Fatalf("image: %v", err)
	}
	if got := h.ad.LastText(); !strings.Contains(got, "Type</b>: Text") {
		t.Fatalf("text=%q", got)
	}
	if h.p.Inputs()[0].Match(msg) {
		t.Fatalf("scan request not used up")
	}
}

func TestReloadReaddsToHistory(t *testing.T) {
	h := newHarness(t)
	h.ad.Files["a"] = qrPNG(t, "first")
	h.ad.Files["b"] = qrPNG(t, "second")
	for _, id := range []string{"a", "b"} {
		if err := h.image(t, photo(id)); err != nil {
			t.Fatalf("image %s: %v", id, err)
		}
	}
	recs := h.history(t)
	if recs[0].Payload.Text != "second" || recs[1].Payload.Text != "first" {
		t.Fatalf("order=%q,%q", recs[0].Payload.Text, recs[1].Payload.Text)
	}

	cb := &kit.Callback{ID: "cb", ChatID: 1, MessageID: 3}
	if err := h.p.Callbacks()[0].Handle(context.Background(), core.CallbackRequest(h.ad, cb), "u:0:"+recs[1].ID); err != nil {
		t.Fatalf("load: %v", err)
	}
	recs = h.history(t)
	if len(recs) != 3 || recs[0].Payload.Text != "first" {
		t.Fatalf("history after load=%+v", recs)
	}
}

func TestHistoryIsCapped(t *testing.T) {
	h := newHarness(t)
	req := core.MessageRequest(h.ad, &kit.Message{ChatID: 1}, 0)
	for i := 0; i <= historyCap; i++ {
		if err := h.p.showResult(context.Background(), req, "code "+strconv.Itoa(i)); err != nil {
			t.Fatalf("showResult: %v", err)
		}
	}
	recs := h.history(t)
	if len(recs) != historyCap {
		t.Fatalf("len=%d", len(recs))
	}
	if recs[0].Payload.Text != "code 50" || recs[historyCap-1].Payload.Text != "code 1" {
		t.Fatalf("first=%q last=%q", recs[0].Payload.Text, recs[historyCap-1].Payload.Text)
	}
}

func TestIsURL(t *testing.T) {
	for s, want := range map[string]bool{"https://a.b": true, "http://x": true, "ftp://x": false, "see https://a": false} {
		if IsURL(s) != want {
			t.Fatalf("IsURL(%q)", s)
		}
	}
}

func buttonURLs(t *testing.T, opt *kit.SendOptions) []string {
	t.Helper()
	rm, ok := opt.ReplyMarkupAdapter.(*tele.ReplyMarkup)
	if !ok {
		t.Fatalf("markup=%T", opt.ReplyMarkupAdapter)
	}
	var urls []string
	for _, row := range rm.InlineKeyboard {
		for _, b := range row {
			if b.URL != "" {
				urls = append(urls, b.URL)
			}
		}
	}
	return urls
}

func TestOpenButtonNeedsUsableLink(t *testing.T) {
	h := newHarness(t)
	cases := map[string]int{
		"https://example.com/x": 1,
		"https://exa mple":      0,
		"http://":               0,
		"https://%zz":           0,
	}
	cases["https://"+strings.Repeat("a", maxLinkLen)] = 0
	for text, want := range cases {
		rec := storage.Record[Scan]{ID: "1", Payload: Scan{Text: text}}
		msg := h.p.resultMessage(rec)
		if !strings.Contains(msg.Text, "Type</b>: URL") {
			t.Fatalf("%q not labelled URL: %q", text, msg.Text)
		}
		if got := buttonURLs(t, msg.Opt); len(got) != want {
			t.Fatalf("%q: url buttons=%v", text, got)
		}
	}
}
