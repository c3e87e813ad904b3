package storage

import (
	"context"
	"errors"
	"time"

	"toolbox/internal/toolerr"
)

var ErrDisabled = errors.New("storage disabled")

// ErrQuotaExceeded is returned by Commit when the batch would grow a scope
// past its limit. Nothing of the batch is applied.
var ErrQuotaExceeded = toolerr.New(toolerr.StorageQuotaExceeded, "storage quota exceeded")

// Config configures storage.
//
// Driver values:
//   - "memory": process memory only (tests, dry runs)
//   - "file": single JSON snapshot rewritten atomically
//   - "sqlite": SQLite database file (modernc.org/sqlite)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	QuotaBytes  int64         // per scope; 0 disables the check
}

// Batch is a set of writes applied all-or-nothing.
//
// Limit, when positive, caps the total size (key bytes + value bytes) of all
// keys starting with LimitPrefix after the batch is applied. A batch that
// does not grow the prefix is always accepted.
type Batch struct {
	Put    map[string][]byte
	Delete []string

	Limit       int64
	LimitPrefix string
}

func (b Batch) empty() bool { return len(b.Put) == 0 && len(b.Delete) == 0 }

// Backend is the raw persistence API.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Keys returns the keys starting with prefix in ascending byte order.
	Keys(ctx context.Context, prefix string) ([]string, error)
	Commit(ctx context.Context, b Batch) error
	// Usage returns the size of all keys starting with prefix.
	Usage(ctx context.Context, prefix string) (int64, error)
	Close() error
}

func entrySize(key string, val []byte) int64 { return int64(len(key) + len(val)) }
