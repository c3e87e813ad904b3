package app

import (
	"context"
	"testing"

	"toolbox/internal/config"
	"toolbox/internal/storage"
	logx "toolbox/pkg/logx"
)

func TestCheckOfflineClear(t *testing.T) {
	for _, tc := range []struct {
		driver string
		force  bool
		ok     bool
	}{
		{"sqlite", false, true},
		{"SQLite3", false, true},
		{"file", false, false},
		{"file", true, true},
		{"memory", true, false},
		{"none", false, false},
		{"", false, false},
	} {
		cfg := &config.Config{Storage: config.StorageConfig{Driver: tc.driver}}
		if err := CheckOfflineClear(cfg, tc.force); (err == nil) != tc.ok {
			t.Fatalf("driver=%q force=%v: err=%v", tc.driver, tc.force, err)
		}
	}
}

func TestClearChatKeepsOtherChats(t *testing.T) {
	ctx := context.Background()
	st := storage.NewStore(storage.NewMemory(), 0, logx.Nop())
	for _, chat := range []int64{1, 2} {
		for _, k := range []string{"simple-memo", "qr_history"} {
			if err := st.Chat(chat).Put(ctx, k, []byte("x")); err != nil {
				t.Fatalf("Put: %v", err)
			}
		}
	}

	prefix, n, err := ClearChat(ctx, st, 1)
	if err != nil {
		t.Fatalf("ClearChat: %v", err)
	}
	if n != 2 || prefix != st.Chat(1).Prefix() {
		t.Fatalf("prefix=%q n=%d", prefix, n)
	}
	if keys, _ := st.Chat(1).Keys(ctx, ""); len(keys) != 0 {
		t.Fatalf("chat 1 keys=%v", keys)
	}
	if keys, _ := st.Chat(2).Keys(ctx, ""); len(keys) != 2 {
		t.Fatalf("chat 2 keys=%v", keys)
	}

	if _, n, err := ClearChat(ctx, st, 1); err != nil || n != 0 {
		t.Fatalf("second clear n=%d err=%v", n, err)
	}
}
