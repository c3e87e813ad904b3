package storage

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	logx "toolbox/pkg/logx"
)

// Family stores one record per key, all keys sharing a prefix
// (for example "pgp_key_1718000000000"). The id is the creation time in
// milliseconds; a collision moves the id forward by one.
type Family[T any] struct {
	sc     *Scope
	prefix string
	now    func() time.Time
	log    logx.Logger
}

var _ Collection[struct{}] = (*Family[struct{}])(nil)

func NewFamily[T any](sc *Scope, prefix string, now func() time.Time) *Family[T] {
	if now == nil {
		now = time.Now
	}
	return &Family[T]{
		sc:     sc,
		prefix: prefix,
		now:    now,
		log:    sc.Logger().With(logx.String("comp", "storage.family"), logx.String("prefix", sc.Prefix()+prefix)),
	}
}

func (f *Family[T]) Prefix() string { return f.prefix }

func (f *Family[T]) Append(ctx context.Context, payload T) (Record[T], error) {
	// The whole family shares one lock so id allocation cannot race.
	unlock := f.sc.Lock(f.prefix)
	defer unlock()

	at := f.now()
	id := at.UnixMilli()
	for {
		_, exists, err := f.sc.Get(ctx, f.prefix+strconv.FormatInt(id, 10))
		if err != nil {
			return Record[T]{}, err
		}
		if !exists {
			break
		}
		id++
	}

	rec := Record[T]{ID: strconv.FormatInt(id, 10), Payload: payload, CreatedAt: at}
	b, err := json.Marshal(rec)
	if err != nil {
		return Record[T]{}, err
	}
	if err := f.sc.Put(ctx, f.prefix+rec.ID, b); err != nil {
		return Record[T]{}, err
	}
	return rec, nil
}

// List returns every member ordered by id. Unreadable members are skipped.
func (f *Family[T]) List(ctx context.Context) ([]Record[T], error) {
	keys, err := f.sc.Keys(ctx, f.prefix)
	if err != nil {
		return nil, err
	}
	out := make([]Record[T], 0, len(keys))
	for _, k := range keys {
		rec, ok, err := f.read(ctx, k)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, _ := strconv.ParseInt(out[i].ID, 10, 64)
		b, _ := strconv.ParseInt(out[j].ID, 10, 64)
		return a < b
	})
	return out, nil
}

func (f *Family[T]) read(ctx context.Context, key string) (Record[T], bool, error) {
	b, ok, err := f.sc.Get(ctx, key)
	if err != nil || !ok {
		return Record[T]{}, false, err
	}
	var rec Record[T]
	if err := json.Unmarshal(b, &rec); err != nil {
		f.log.Warn("stored record is corrupt; skipping", logx.String("member", key), logx.Err(err))
		return Record[T]{}, false, nil
	}
	if rec.ID == "" {
		rec.ID = strings.TrimPrefix(key, f.prefix)
	}
	return rec, true, nil
}

func (f *Family[T]) Get(ctx context.Context, id string) (Record[T], bool, error) {
	if id == "" {
		return Record[T]{}, false, nil
	}
	return f.read(ctx, f.prefix+id)
}

func (f *Family[T]) Remove(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	unlock := f.sc.Lock(f.prefix)
	defer unlock()
	return f.sc.Delete(ctx, f.prefix+id)
}

// Clear deletes every member in one batch.
func (f *Family[T]) Clear(ctx context.Context) error {
	unlock := f.sc.Lock(f.prefix)
	defer unlock()

	keys, err := f.sc.Keys(ctx, f.prefix)
	if err != nil || len(keys) == 0 {
		return err
	}
	return f.sc.Commit(ctx, Batch{Delete: keys})
}
