package storage

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	logx "toolbox/pkg/logx"
)

// Store splits one Backend into independent Scopes and owns the per-key
// locks that serialize read-modify-write cycles inside this process.
type Store struct {
	b     Backend
	quota atomic.Int64
	log   logx.Logger

	locks sync.Map // full key -> *sync.Mutex
}

func NewStore(b Backend, quotaBytes int64, log logx.Logger) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Store{b: b, log: log}
	s.quota.Store(quotaBytes)
	return s
}

// SetQuota changes the per-scope byte limit for later commits. Zero or less
// disables the check.
func (s *Store) SetQuota(quotaBytes int64) { s.quota.Store(max(0, quotaBytes)) }

func (s *Store) Quota() int64 { return s.quota.Load() }

func (s *Store) Backend() Backend { return s.b }

func (s *Store) Close() error {
	if s == nil || s.b == nil {
		return nil
	}
	return s.b.Close()
}

// Scope returns the key space under prefix. The quota applies per scope.
func (s *Store) Scope(prefix string) *Scope {
	return &Scope{st: s, prefix: prefix}
}

// Chat returns the scope owned by one chat.
func (s *Store) Chat(chatID int64) *Scope {
	return s.Scope(ChatPrefix(chatID))
}

func ChatPrefix(chatID int64) string {
	return "chat/" + strconv.FormatInt(chatID, 10) + "/"
}

func (s *Store) lock(key string) func() {
	v, _ := s.locks.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Scope is a prefixed view of a Store. Keys passed to and returned from a
// Scope are relative to its prefix.
type Scope struct {
	st     *Store
	prefix string
}

func (sc *Scope) Prefix() string { return sc.prefix }

func (sc *Scope) Logger() logx.Logger { return sc.st.log }

func (sc *Scope) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return sc.st.b.Get(ctx, sc.prefix+key)
}

func (sc *Scope) Keys(ctx context.Context, prefix string) ([]string, error) {
	keys, err := sc.st.b.Keys(ctx, sc.prefix+prefix)
	if err != nil {
		return nil, err
	}
	for i, k := range keys {
		keys[i] = strings.TrimPrefix(k, sc.prefix)
	}
	return keys, nil
}

// Commit applies b atomically under this scope's quota.
func (sc *Scope) Commit(ctx context.Context, b Batch) error {
	full := Batch{
		Limit:       sc.st.quota.Load(),
		LimitPrefix: sc.prefix,
	}
	if len(b.Put) > 0 {
		full.Put = make(map[string][]byte, len(b.Put))
		for k, v := range b.Put {
			full.Put[sc.prefix+k] = v
		}
	}
	for _, k := range b.Delete {
		full.Delete = append(full.Delete, sc.prefix+k)
	}
	return sc.st.b.Commit(ctx, full)
}

func (sc *Scope) Put(ctx context.Context, key string, val []byte) error {
	return sc.Commit(ctx, Batch{Put: map[string][]byte{key: val}})
}

func (sc *Scope) Delete(ctx context.Context, key string) error {
	return sc.Commit(ctx, Batch{Delete: []string{key}})
}

func (sc *Scope) Usage(ctx context.Context) (int64, error) {
	return sc.st.b.Usage(ctx, sc.prefix)
}

// Lock serializes writers of key within this process.
func (sc *Scope) Lock(key string) func() {
	return sc.st.lock(sc.prefix + key)
}
