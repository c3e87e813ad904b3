package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	logx "toolbox/pkg/logx"
)

func openBackends(t *testing.T) map[string]Backend {
	t.Helper()
	dir := t.TempDir()

	fb, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "store.json")}, logx.Nop())
	if err != nil {
		t.Fatalf("open file: %v", err)
	}
	sb, err := Open(Config{Driver: "sqlite", Path: filepath.Join(dir, "store.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		_ = fb.Close()
		_ = sb.Close()
	})
	return map[string]Backend{"memory": NewMemory(), "file": fb, "sqlite": sb}
}

func TestBackendContract(t *testing.T) {
	ctx := context.Background()
	for name, b := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			err := b.Commit(ctx, Batch{Put: map[string][]byte{
				"chat/1/a":   []byte("1"),
				"chat/1/b":   []byte("22"),
				"chat/10/a":  []byte("x"),
				"chat/2/a":   []byte("y"),
				"other/keys": []byte("z"),
			}})
			if err != nil {
				t.Fatalf("Commit: %v", err)
			}

			v, ok, err := b.Get(ctx, "chat/1/b")
			if err != nil || !ok || string(v) != "22" {
				t.Fatalf("Get: %q ok=%v err=%v", v, ok, err)
			}
			if _, ok, _ := b.Get(ctx, "chat/1/zz"); ok {
				t.Fatalf("missing key reported present")
			}

			keys, err := b.Keys(ctx, "chat/1/")
			if err != nil {
				t.Fatalf("Keys: %v", err)
			}
			if diff := cmp.Diff([]string{"chat/1/a", "chat/1/b"}, keys); diff != "" {
				t.Fatalf("Keys (-want +got):\n%s", diff)
			}

			n, err := b.Usage(ctx, "chat/1/")
			if err != nil || n != int64(len("chat/1/a")+1+len("chat/1/b")+2) {
				t.Fatalf("Usage=%d err=%v", n, err)
			}

			if err := b.Commit(ctx, Batch{Delete: []string{"chat/1/a", "chat/1/missing"}}); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			keys, _ = b.Keys(ctx, "chat/1/")
			if diff := cmp.Diff([]string{"chat/1/b"}, keys); diff != "" {
				t.Fatalf("after delete (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBackendQuotaIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	for name, b := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			if err := b.Commit(ctx, Batch{Put: map[string][]byte{"p/a": []byte("0123456789")}}); err != nil {
				t.Fatalf("seed: %v", err)
			}
			err := b.Commit(ctx, Batch{
				Put:         map[string][]byte{"p/a": []byte("short"), "p/b": []byte("0123456789012345678901234567890")},
				Limit:       32,
				LimitPrefix: "p/",
			})
			if !errors.Is(err, ErrQuotaExceeded) {
				t.Fatalf("expected quota error, got %v", err)
			}
			v, _, _ := b.Get(ctx, "p/a")
			if string(v) != "0123456789" {
				t.Fatalf("partial apply: p/a=%q", v)
			}
			if _, ok, _ := b.Get(ctx, "p/b"); ok {
				t.Fatalf("partial apply: p/b present")
			}

			// Shrinking writes are accepted even above the limit.
			if err := b.Commit(ctx, Batch{Put: map[string][]byte{"p/a": []byte("1")}, Limit: 1, LimitPrefix: "p/"}); err != nil {
				t.Fatalf("shrinking write rejected: %v", err)
			}
		})
	}
}

func TestFileBackendPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "store.json")
	cfg := Config{Driver: "file", Path: path}

	b, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	st := NewStore(b, 0, logx.Nop())
	l := NewList[string](st.Chat(7), "audioRecordings", ListOptions{})
	rec, err := l.Append(ctx, "hello")
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	_ = st.Close()

	b2, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer b2.Close()
	got, _ := NewList[string](NewStore(b2, 0, logx.Nop()).Chat(7), "audioRecordings", ListOptions{}).List(ctx)
	if len(got) != 1 || got[0].ID != rec.ID || got[0].Payload != "hello" {
		t.Fatalf("unexpected list after reopen: %+v", got)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := Open(Config{Driver: "none"}, logx.Nop()); !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
}

func TestPrefixEnd(t *testing.T) {
	if got, ok := prefixEnd("chat/1/"); !ok || got != "chat/10" {
		t.Fatalf("prefixEnd=%q ok=%v", got, ok)
	}
	if got, ok := prefixEnd("a\xff"); !ok || got != "b" {
		t.Fatalf("prefixEnd=%q ok=%v", got, ok)
	}
	if _, ok := prefixEnd("\xff\xff"); ok {
		t.Fatalf("all-0xff prefix has no end")
	}
}
