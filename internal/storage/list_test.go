package storage

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"toolbox/internal/toolerr"
	logx "toolbox/pkg/logx"
)

type recording struct {
	Name      string `json:"name"`
	Data      string `json:"data"`
	Timestamp string `json:"timestamp"`
}

func newTestScope(t *testing.T, quota int64) *Scope {
	t.Helper()
	return NewStore(NewMemory(), quota, logx.Nop()).Chat(1)
}

func seqIDs() func() string {
	n := 0
	return func() string {
		n++
		return "r" + strconv.Itoa(n)
	}
}

func ids[T any](recs []Record[T]) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}

func TestListEmptyWhenNothingPersisted(t *testing.T) {
	l := NewList[recording](newTestScope(t, 0), "audioRecordings", ListOptions{})
	got, err := l.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil list, got %#v", got)
	}
}

func TestListAppendOrderAndRemove(t *testing.T) {
	ctx := context.Background()
	l := NewList[recording](newTestScope(t, 0), "audioRecordings", ListOptions{NewID: seqIDs()})

	for _, name := range []string{"A", "B", "C"} {
		if _, err := l.Append(ctx, recording{Name: name}); err != nil {
			t.Fatalf("Append %s: %v", name, err)
		}
	}
	got, _ := l.List(ctx)
	if diff := cmp.Diff([]string{"r1", "r2", "r3"}, ids(got)); diff != "" {
		t.Fatalf("order (-want +got):\n%s", diff)
	}

	if err := l.Remove(ctx, "r2"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	got, _ = l.List(ctx)
	names := []string{got[0].Payload.Name, got[1].Payload.Name}
	if diff := cmp.Diff([]string{"A", "C"}, names); diff != "" {
		t.Fatalf("after remove (-want +got):\n%s", diff)
	}
}

func TestListRemoveAbsentIsNoop(t *testing.T) {
	ctx := context.Background()
	l := NewList[recording](newTestScope(t, 0), "audioRecordings", ListOptions{})
	if _, err := l.Append(ctx, recording{Name: "only"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	before, _ := l.List(ctx)
	if err := l.Remove(ctx, "missing"); err != nil {
		t.Fatalf("Remove absent: %v", err)
	}
	after, _ := l.List(ctx)
	if diff := cmp.Diff(before, after); diff != "" {
		t.Fatalf("remove of absent id changed the list:\n%s", diff)
	}
}

func TestListClear(t *testing.T) {
	ctx := context.Background()
	l := NewList[recording](newTestScope(t, 0), "audioRecordings", ListOptions{})
	for i := 0; i < 3; i++ {
		_, _ = l.Append(ctx, recording{Name: strconv.Itoa(i)})
	}
	if err := l.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	got, _ := l.List(ctx)
	if len(got) != 0 {
		t.Fatalf("expected empty after clear, got %d", len(got))
	}
}

func TestListRoundTripPreservesFields(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	l := NewList[recording](newTestScope(t, 0), "audioRecordings", ListOptions{Now: func() time.Time { return now }})

	in := recording{Name: "recording_2024-01-02T03-04-05", Data: "data:audio/ogg;base64,AAAA", Timestamp: "2024/1/2 3:04:05"}
	rec, err := l.Append(ctx, in)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	reopened := NewList[recording](l.sc, "audioRecordings", ListOptions{})
	got, ok, err := reopened.Get(ctx, rec.ID)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	want := Record[recording]{ID: rec.ID, Payload: in, CreatedAt: now}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("round trip (-want +got):\n%s", diff)
	}
}

func TestListPrependCapped(t *testing.T) {
	ctx := context.Background()
	const n = 50
	l := NewList[string](newTestScope(t, 0), "qr_history", ListOptions{Order: Prepended, Cap: n, NewID: seqIDs()})

	for i := 1; i <= n+1; i++ {
		if _, err := l.Append(ctx, "scan-"+strconv.Itoa(i)); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}
	got, _ := l.List(ctx)
	if len(got) != n {
		t.Fatalf("len=%d want %d", len(got), n)
	}
	if got[0].Payload != "scan-51" {
		t.Fatalf("newest first: got %q", got[0].Payload)
	}
	for _, r := range got {
		if r.Payload == "scan-1" {
			t.Fatalf("oldest entry should have been dropped")
		}
	}
}

func TestListAppendCappedDropsOldest(t *testing.T) {
	ctx := context.Background()
	l := NewList[string](newTestScope(t, 0), "k", ListOptions{Cap: 2})
	for _, s := range []string{"a", "b", "c"} {
		_, _ = l.Append(ctx, s)
	}
	got, _ := l.List(ctx)
	if len(got) != 2 || got[0].Payload != "b" || got[1].Payload != "c" {
		t.Fatalf("unexpected list: %+v", got)
	}
}

func TestListQuotaFailureKeepsPriorState(t *testing.T) {
	ctx := context.Background()
	l := NewList[recording](newTestScope(t, 400), "audioRecordings", ListOptions{})

	if _, err := l.Append(ctx, recording{Name: "small", Data: "data:,x"}); err != nil {
		t.Fatalf("first append: %v", err)
	}
	before, _ := l.List(ctx)

	big := make([]byte, 1024)
	for i := range big {
		big[i] = 'a'
	}
	_, err := l.Append(ctx, recording{Name: "big", Data: string(big)})
	if !errors.Is(err, ErrQuotaExceeded) || !toolerr.Is(err, toolerr.StorageQuotaExceeded) {
		t.Fatalf("expected quota error, got %v", err)
	}

	after, _ := l.List(ctx)
	if diff := cmp.Diff(before, after); diff != "" {
		t.Fatalf("list changed after failed append:\n%s", diff)
	}
}

func TestListCorruptSlotReadsEmpty(t *testing.T) {
	ctx := context.Background()
	sc := newTestScope(t, 0)
	if err := sc.Put(ctx, "qr_history", []byte("{not json")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	l := NewList[string](sc, "qr_history", ListOptions{Order: Prepended, Cap: 50})
	got, err := l.List(ctx)
	if err != nil || len(got) != 0 {
		t.Fatalf("expected empty list, got %v err=%v", got, err)
	}
	if _, err := l.Append(ctx, "fresh"); err != nil {
		t.Fatalf("Append over corrupt slot: %v", err)
	}
	got, _ = l.List(ctx)
	if len(got) != 1 || got[0].Payload != "fresh" {
		t.Fatalf("unexpected list: %+v", got)
	}
}

func TestScopesAreIsolated(t *testing.T) {
	ctx := context.Background()
	st := NewStore(NewMemory(), 0, logx.Nop())
	a := NewList[string](st.Chat(1), "k", ListOptions{})
	b := NewList[string](st.Chat(2), "k", ListOptions{})

	_, _ = a.Append(ctx, "one")
	got, _ := b.List(ctx)
	if len(got) != 0 {
		t.Fatalf("chat 2 sees chat 1 records: %+v", got)
	}
}
