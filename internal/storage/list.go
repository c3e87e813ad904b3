package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	logx "toolbox/pkg/logx"
)

// Record is one stored entry. ID and CreatedAt are assigned on creation and
// never change.
type Record[T any] struct {
	ID        string    `json:"id"`
	Payload   T         `json:"payload"`
	CreatedAt time.Time `json:"createdAt"`
}

// Collection is the ordered record store every tool persists through.
type Collection[T any] interface {
	Append(ctx context.Context, payload T) (Record[T], error)
	List(ctx context.Context) ([]Record[T], error)
	Get(ctx context.Context, id string) (Record[T], bool, error)
	// Remove deletes the record with id. An absent id is a no-op.
	Remove(ctx context.Context, id string) error
	Clear(ctx context.Context) error
}

// Order selects where new records go.
type Order int

const (
	// Oldest first; new records go to the end.
	Appended Order = iota
	// Newest first; new records go to the front.
	Prepended
)

// ListOptions configures a List.
type ListOptions struct {
	Order Order
	// Cap bounds the number of records. The oldest records are dropped
	// first. Zero means unbounded.
	Cap int

	Now   func() time.Time
	NewID func() string
}

// List stores a whole collection as one JSON array under a single key.
// Every mutation reads the full array, changes it in memory and writes it
// back in one commit.
type List[T any] struct {
	sc  *Scope
	key string
	opt ListOptions
	log logx.Logger
}

var _ Collection[struct{}] = (*List[struct{}])(nil)

func NewList[T any](sc *Scope, key string, opt ListOptions) *List[T] {
	if opt.Now == nil {
		opt.Now = time.Now
	}
	if opt.NewID == nil {
		opt.NewID = uuid.NewString
	}
	return &List[T]{
		sc:  sc,
		key: key,
		opt: opt,
		log: sc.Logger().With(logx.String("comp", "storage.list"), logx.String("key", sc.Prefix()+key)),
	}
}

func (l *List[T]) Key() string { return l.key }

// load reads the collection. Missing or unparseable data reads as empty.
func (l *List[T]) load(ctx context.Context) ([]Record[T], error) {
	b, ok, err := l.sc.Get(ctx, l.key)
	if err != nil || !ok {
		return nil, err
	}
	var out []Record[T]
	if err := json.Unmarshal(b, &out); err != nil {
		l.log.Warn("stored list is corrupt; treating as empty", logx.Err(err))
		return nil, nil
	}
	return out, nil
}

func (l *List[T]) save(ctx context.Context, recs []Record[T]) error {
	if len(recs) == 0 {
		return l.sc.Delete(ctx, l.key)
	}
	b, err := json.Marshal(recs)
	if err != nil {
		return err
	}
	return l.sc.Put(ctx, l.key, b)
}

func (l *List[T]) Append(ctx context.Context, payload T) (Record[T], error) {
	unlock := l.sc.Lock(l.key)
	defer unlock()

	recs, err := l.load(ctx)
	if err != nil {
		return Record[T]{}, err
	}
	rec := Record[T]{ID: l.opt.NewID(), Payload: payload, CreatedAt: l.opt.Now()}

	if l.opt.Order == Prepended {
		recs = append([]Record[T]{rec}, recs...)
		if l.opt.Cap > 0 && len(recs) > l.opt.Cap {
			recs = recs[:l.opt.Cap]
		}
	} else {
		recs = append(recs, rec)
		if l.opt.Cap > 0 && len(recs) > l.opt.Cap {
			recs = recs[len(recs)-l.opt.Cap:]
		}
	}

	if err := l.save(ctx, recs); err != nil {
		return Record[T]{}, err
	}
	return rec, nil
}

func (l *List[T]) List(ctx context.Context) ([]Record[T], error) {
	recs, err := l.load(ctx)
	if err != nil {
		return nil, err
	}
	if recs == nil {
		recs = []Record[T]{}
	}
	return recs, nil
}

func (l *List[T]) Get(ctx context.Context, id string) (Record[T], bool, error) {
	recs, err := l.load(ctx)
	if err != nil {
		return Record[T]{}, false, err
	}
	for _, r := range recs {
		if r.ID == id {
			return r, true, nil
		}
	}
	return Record[T]{}, false, nil
}

func (l *List[T]) Remove(ctx context.Context, id string) error {
	unlock := l.sc.Lock(l.key)
	defer unlock()

	recs, err := l.load(ctx)
	if err != nil {
		return err
	}
	for i, r := range recs {
		if r.ID == id {
			recs = append(recs[:i:i], recs[i+1:]...)
			return l.save(ctx, recs)
		}
	}
	return nil
}

func (l *List[T]) Clear(ctx context.Context) error {
	unlock := l.sc.Lock(l.key)
	defer unlock()
	return l.sc.Delete(ctx, l.key)
}
