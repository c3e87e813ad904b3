package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"toolbox/internal/config"
	"toolbox/internal/storage"
	logx "toolbox/pkg/logx"
)

func storageConfig(cfg *config.Config) storage.Config {
	return storage.Config{
		Driver:      strings.TrimSpace(cfg.Storage.Driver),
		Path:        strings.TrimSpace(cfg.Storage.Path),
		BusyTimeout: cfg.BusyTimeout(),
		QuotaBytes:  cfg.QuotaBytes(),
	}
}

// OpenStore opens the configured backend as a Store. Tools always need a
// store, so driver "none" falls back to process memory.
func OpenStore(cfg *config.Config, log logx.Logger) (*storage.Store, error) {
	return openStore(cfg, log)
}

func openStore(cfg *config.Config, log logx.Logger) (*storage.Store, error) {
	sc := storageConfig(cfg)
	b, err := storage.Open(sc, log)
	if errors.Is(err, storage.ErrDisabled) {
		log.Warn("storage driver \"none\": using memory, saved records are lost on restart")
		b, err = storage.NewMemory(), nil
	}
	if err != nil {
		return nil, err
	}
	log.Info("storage ready", logx.String("driver", sc.Driver), logx.Int64("quota_bytes", sc.QuotaBytes))
	return storage.NewStore(b, sc.QuotaBytes, log), nil
}

// ChatUsage is the stored size of one chat.
type ChatUsage struct {
	Prefix string
	Bytes  int64
}

// Usage lists the stored bytes per chat, in key order.
func Usage(ctx context.Context, st *storage.Store) ([]ChatUsage, error) {
	keys, err := st.Backend().Keys(ctx, "chat/")
	if err != nil {
		return nil, err
	}
	var out []ChatUsage
	seen := map[string]bool{}
	for _, k := range keys {
		rest := strings.TrimPrefix(k, "chat/")
		i := strings.IndexByte(rest, '/')
		if i < 0 {
			continue
		}
		prefix := "chat/" + rest[:i+1]
		if seen[prefix] {
			continue
		}
		seen[prefix] = true
		n, err := st.Backend().Usage(ctx, prefix)
		if err != nil {
			return nil, err
		}
		out = append(out, ChatUsage{Prefix: prefix, Bytes: n})
	}
	return out, nil
}

// reportUsage warns about chats close to their quota.
func reportUsage(ctx context.Context, st *storage.Store, log logx.Logger) error {
	usage, err := Usage(ctx, st)
	if err != nil {
		return err
	}
	quota := st.Quota()
	var total int64
	for _, u := range usage {
		total += u.Bytes
		if quota > 0 && u.Bytes*10 >= quota*8 {
			log.Warn("chat storage near quota", logx.String("prefix", u.Prefix), logx.Int64("bytes", u.Bytes), logx.Int64("quota", quota))
		}
	}
	log.Debug("storage usage", logx.Int("chats", len(usage)), logx.Int64("bytes", total))
	return nil
}

// CheckOfflineClear refuses CLI clears that a running bot would undo. The
// file backend holds the whole table in memory and rewrites the snapshot on
// its next commit, so clearing it is only safe with the bot stopped; force
// asserts that. Memory backends have nothing on disk to clear.
func CheckOfflineClear(cfg *config.Config, force bool) error {
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)); driver {
	case "sqlite", "sqlite3":
		return nil
	case "file":
		if force {
			return nil
		}
		return errors.New(`storage driver "file": a running bot would write the cleared keys back; stop it first and pass --force`)
	default:
		return fmt.Errorf("storage driver %q keeps nothing on disk to clear", driver)
	}
}

// ClearChat deletes every key of one chat in a single commit and returns the
// chat prefix and the number of keys removed.
func ClearChat(ctx context.Context, st *storage.Store, chatID int64) (string, int, error) {
	sc := st.Chat(chatID)
	keys, err := sc.Keys(ctx, "")
	if err != nil {
		return "", 0, err
	}
	if len(keys) == 0 {
		return sc.Prefix(), 0, nil
	}
	if err := sc.Commit(ctx, storage.Batch{Delete: keys}); err != nil {
		return "", 0, err
	}
	return sc.Prefix(), len(keys), nil
}
