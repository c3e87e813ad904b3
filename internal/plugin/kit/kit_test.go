package pluginkit

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	core "toolbox/internal/plugin"
	"toolbox/internal/eventbus"
	rtsup "toolbox/internal/runtime/supervisor"
	"toolbox/internal/storage"
	"toolbox/internal/toolerr"
	kit "toolbox/internal/transport"
	"toolbox/internal/transport/transporttest"
	logx "toolbox/pkg/logx"
	"toolbox/pkg/tgui"
)

type note struct {
	Text string `json:"text"`
}

type viewHarness struct {
	ad      *transporttest.Adapter
	list    *storage.List[note]
	view    *RecordView[note]
	changes []string
	used    []string
}

func newViewHarness(t *testing.T, n int) *viewHarness {
	t.Helper()
	h := &viewHarness{ad: transporttest.New()}
	st := storage.NewStore(storage.NewMemory(), 0, logx.Nop())
	seq := 0
	h.list = storage.NewList[note](st.Chat(1), "notes", storage.ListOptions{NewID: func() string {
		seq++
		return "n" + strconv.Itoa(seq)
	}})
	for i := 1; i <= n; i++ {
		if _, err := h.list.Append(context.Background(), note{Text: "note " + strconv.Itoa(i)}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	h.view = NewRecordView(RecordViewConfig[note]{
		Plugin: "notes",
		Title:  "Notes",
		Open:   func(int64) storage.Collection[note] { return h.list },
		Label:  func(r storage.Record[note]) string { return r.Payload.Text },
		Copy:   func(r storage.Record[note]) string { return r.Payload.Text },
		Use: func(_ context.Context, _ *core.Request, r storage.Record[note]) error {
			h.used = append(h.used, r.ID)
			return nil
		},
		Location: func() *time.Location { return time.UTC },
		OnChange: func(typ string, _ int64, id string) { h.changes = append(h.changes, typ+":"+id) },
	})
	return h
}

func (h *viewHarness) press(t *testing.T, payload string) error {
	t.Helper()
	req := &core.Request{
		Update:  kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: "cb", ChatID: 1, MessageID: 7, Data: "notes:rec:" + payload}},
		Chat:    kit.ChatTarget{ChatID: 1},
		Adapter: h.ad,
	}
	return h.view.Route().Handle(context.Background(), req, payload)
}

func (h *viewHarness) ids(t *testing.T) []string {
	t.Helper()
	recs, err := h.list.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}

func TestRecordViewEmpty(t *testing.T) {
	h := newViewHarness(t, 0)
	msg, err := h.view.Render(context.Background(), 1, 0, "")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(msg.Text, "Nothing saved yet.") {
		t.Fatalf("text=%q", msg.Text)
	}
}

func TestRecordViewPaginates(t *testing.T) {
	h := newViewHarness(t, 7)
	msg, err := h.view.Render(context.Background(), 1, 1, "")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	for _, want := range []string{"6. <b>note 6</b>", "7. <b>note 7</b>", "Page 2/2"} {
		if !strings.Contains(msg.Text, want) {
			t.Fatalf("missing %q in %q", want, msg.Text)
		}
	}
	if strings.Contains(msg.Text, "note 5") {
		t.Fatalf("page 2 shows first page entries: %q", msg.Text)
	}
}

func TestRecordViewDeleteAsksFirst(t *testing.T) {
	h := newViewHarness(t, 3)

	if err := h.press(t, "d:0:n2"); err != nil {
		t.Fatalf("delete prompt: %v", err)
	}
	if got := h.ad.LastText(); !strings.Contains(got, "Delete") || !strings.Contains(got, "note 2") {
		t.Fatalf("prompt=%q", got)
	}
	if len(h.ids(t)) != 3 {
		t.Fatalf("prompt removed a record")
	}

	if err := h.press(t, "D:0:n2"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got := strings.Join(h.ids(t), ","); got != "n1,n3" {
		t.Fatalf("ids=%s", got)
	}
	if got := strings.Join(h.changes, ","); got != eventbus.RecordRemoved+":n2" {
		t.Fatalf("changes=%s", got)
	}
	if !strings.Contains(h.ad.LastText(), "Deleted.") {
		t.Fatalf("after delete: %q", h.ad.LastText())
	}
}

func TestRecordViewMissingRecordIsReported(t *testing.T) {
	h := newViewHarness(t, 1)
	if err := h.press(t, "D:0:gone"); err != nil {
		t.Fatalf("press: %v", err)
	}
	if a := h.ad.Answers(); len(a) != 1 || a[0] != "That entry no longer exists." {
		t.Fatalf("answers=%v", a)
	}
	if len(h.ids(t)) != 1 {
		t.Fatalf("store changed")
	}
}

func TestRecordViewClearAll(t *testing.T) {
	h := newViewHarness(t, 2)
	if err := h.press(t, "k:0:"); err != nil {
		t.Fatalf("clear prompt: %v", err)
	}
	if len(h.ids(t)) != 2 {
		t.Fatalf("prompt cleared the store")
	}
	if err := h.press(t, "K:0:"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if len(h.ids(t)) != 0 {
		t.Fatalf("store not cleared")
	}
	if !strings.Contains(h.ad.LastText(), "Nothing saved yet.") {
		t.Fatalf("after clear: %q", h.ad.LastText())
	}
}

func TestRecordViewUseAndCopy(t *testing.T) {
	h := newViewHarness(t, 2)
	if err := h.press(t, "u:0:n1"); err != nil {
		t.Fatalf("use: %v", err)
	}
	if len(h.used) != 1 || h.used[0] != "n1" || len(h.ids(t)) != 2 {
		t.Fatalf("used=%v", h.used)
	}
	if err := h.press(t, "c:0:n2"); err != nil {
		t.Fatalf("copy: %v", err)
	}
	if got := h.ad.LastText(); got != "<code>note 2</code>" {
		t.Fatalf("copy text=%q", got)
	}
}

func TestRecordViewExplainsUseButton(t *testing.T) {
	h := newViewHarness(t, 1)
	msg, err := h.view.Render(context.Background(), 1, 0, "")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(msg.Text, "↩ Load") {
		t.Fatalf("default label missing: %q", msg.Text)
	}

	cfg := h.view.cfg
	cfg.UseLabel = "Load for decryption"
	msg, err = NewRecordView(cfg).Render(context.Background(), 1, 0, "")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(msg.Text, "↩ Load for decryption") {
		t.Fatalf("custom label missing: %q", msg.Text)
	}

	cfg.Use = nil
	msg, err = NewRecordView(cfg).Render(context.Background(), 1, 0, "")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if strings.Contains(msg.Text, "↩") {
		t.Fatalf("legend without a use action: %q", msg.Text)
	}
}

func TestRecordViewRejectsMalformedPayload(t *testing.T) {
	h := newViewHarness(t, 1)
	for _, p := range []string{"", "d", "d:x:n1", "zz:0:n1"} {
		err := h.press(t, p)
		if !toolerr.Is(err, toolerr.ValidationFailure) {
			t.Fatalf("payload %q: err=%v", p, err)
		}
	}
}

func TestRecordViewLongIDUsesToken(t *testing.T) {
	h := newViewHarness(t, 0)
	b := h.view.btn("x", opDeleteYes, 0, strings.Repeat("a", 60))
	if len(b.Data) > tgui.MaxCallbackDataLen || !strings.HasPrefix(b.Data, "notes:rec:~") {
		t.Fatalf("data=%q", b.Data)
	}
	payload := strings.TrimPrefix(b.Data, "notes:rec:")
	if err := h.press(t, payload); err != nil {
		t.Fatalf("token press: %v", err)
	}
	if a := h.ad.Answers(); len(a) != 1 {
		t.Fatalf("expected missing-record answer, got %v", a)
	}
}

func TestTimeoutsConfig(t *testing.T) {
	var to Timeouts
	if err := json.Unmarshal([]byte(`{"command":"5s","operation":"2m"}`), &to); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if to.CommandOr(time.Second) != 5*time.Second || to.OperationOr(time.Second) != 2*time.Minute {
		t.Fatalf("parsed %+v", to)
	}
	if err := json.Unmarshal([]byte(`{"task":"1s"}`), &to); err == nil {
		t.Fatalf("unknown key accepted")
	}
	if err := (Timeouts{Command: "-1s"}).Validate("x.timeouts"); err == nil {
		t.Fatalf("negative duration accepted")
	}
	if got := (Timeouts{}).OperationOr(time.Minute); got != time.Minute {
		t.Fatalf("default=%s", got)
	}
}

func runAsync(t *testing.T, op AsyncOp) *transporttest.Adapter {
	t.Helper()
	ad := transporttest.New()
	sup := rtsup.New(context.Background())
	req := &core.Request{Chat: kit.ChatTarget{ChatID: 1}, Adapter: ad}
	if err := RunAsync(context.Background(), sup, req, op); err != nil {
		t.Fatalf("RunAsync: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sup.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if s := ad.Texts(); len(s) != 1 || !strings.Contains(s[0].Text, "Working") {
		t.Fatalf("status=%v", s)
	}
	return ad
}

func TestRunAsyncEditsStatus(t *testing.T) {
	ad := runAsync(t, AsyncOp{Name: "ok", Status: "Working", Run: func(context.Context) (tgui.Message, error) {
		return tgui.New().Line("done").Build(), nil
	}})
	if got := ad.LastText(); got != "done" {
		t.Fatalf("final=%q", got)
	}

	ad = runAsync(t, AsyncOp{Name: "bad", Status: "Working", Run: func(context.Context) (tgui.Message, error) {
		return tgui.Message{}, toolerr.Decode("no QR code found", errors.New("not found"))
	}})
	if got := ad.LastText(); !strings.Contains(got, "Working failed.") || !strings.Contains(got, "Could not decode: no QR code found") {
		t.Fatalf("final=%q", got)
	}
}

func TestRunAsyncTimeout(t *testing.T) {
	ad := runAsync(t, AsyncOp{Name: "slow", Status: "Working", Timeout: 20 * time.Millisecond, Run: func(ctx context.Context) (tgui.Message, error) {
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		return tgui.New().Line("late").Build(), nil
	}})
	if got := ad.LastText(); !strings.Contains(got, "timed out") {
		t.Fatalf("final=%q", got)
	}
}

func TestUIHubNavigates(t *testing.T) {
	ad := transporttest.New()
	hub := NewUIHub("clock").On("tick", func(_ context.Context, _ *core.Request, st UIState) (tgui.Message, error) {
		return tgui.New().Line("page " + strconv.Itoa(st.Page)).Build(), nil
	})
	btn := hub.Button("next", UIState{View: "tick", Page: 3})
	payload := strings.TrimPrefix(btn.Data, "clock:ui:")
	req := &core.Request{
		Update:  kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: "cb", ChatID: 1, MessageID: 2}},
		Chat:    kit.ChatTarget{ChatID: 1},
		Adapter: ad,
	}
	if err := hub.Route().Handle(context.Background(), req, payload); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if e := ad.Edits(); len(e) != 1 || e[0].Text != "page 3" || e[0].Ref.MessageID != 2 {
		t.Fatalf("edits=%+v", e)
	}
	if err := hub.Route().Handle(context.Background(), req, "~missing"); !toolerr.Is(err, toolerr.ValidationFailure) {
		t.Fatalf("expired token: %v", err)
	}
}
