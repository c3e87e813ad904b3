package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "toolbox/pkg/logx"
)

// fileBackend keeps the whole table in memory and rewrites one snapshot file
// on every commit (tmp file + fsync + rename). A failed write leaves both the
// file and the in-memory table untouched.
type fileBackend struct {
	log  logx.Logger
	path string

	mu   sync.RWMutex
	data kvMap
}

type fileSnapshot struct {
	Version int               `json:"version"`
	Entries map[string][]byte `json:"entries"`
}

func openFile(cfg Config, log logx.Logger) (Backend, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	fb := &fileBackend{log: log, path: path, data: kvMap{}}
	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	case len(strings.TrimSpace(string(b))) > 0:
		var snap fileSnapshot
		if err := json.Unmarshal(b, &snap); err != nil {
			return nil, fmt.Errorf("storage snapshot %s: %w", path, err)
		}
		for k, v := range snap.Entries {
			fb.data[k] = v
		}
	}
	log.Info("file storage opened", logx.String("path", path), logx.Int("keys", len(fb.data)))
	return fb, nil
}

func (f *fileBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (f *fileBackend) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.data.keys(prefix), nil
}

func (f *fileBackend) Usage(ctx context.Context, prefix string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.data.usage(prefix), nil
}

func (f *fileBackend) Commit(ctx context.Context, b Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.empty() {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	next, err := f.data.apply(b)
	if err != nil {
		return err
	}
	if err := f.writeSnapshot(next); err != nil {
		return err
	}
	f.data = next
	return nil
}

func (f *fileBackend) writeSnapshot(data kvMap) error {
	b, err := json.Marshal(fileSnapshot{Version: 1, Entries: data})
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		cleanup()
		return err
	}
	return nil
}

func (f *fileBackend) Close() error { return nil }
