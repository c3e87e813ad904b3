package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"toolbox/internal/toolerr"
	logx "toolbox/pkg/logx"
)

type Middleware func(next HandlerFunc) HandlerFunc

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger := log
					if req != nil && !req.Logger.IsZero() {
						logger = req.Logger
					}
					logger.Error("panic recovered",
						logx.Any("panic", r),
						logx.Stack(string(debug.Stack())),
					)
					err = toolerr.Wrap(toolerr.Internal, "the tool crashed", fmt.Errorf("panic: %v", r))
				}
			}()
			return next(ctx, req)
		}
	}
}

func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			logger := log
			if req != nil && !req.Logger.IsZero() {
				logger = req.Logger
			}
			err := next(ctx, req)
			d := time.Since(start)

			fields := []logx.Field{
				logx.String("kind", string(req.Update.Kind)),
				logx.Chat(req.Chat.ChatID),
				logx.Int("thread_id", req.Chat.ThreadID),
				logx.Int64("from_id", req.FromID),
				logx.String("cmd", req.Command),
				logx.Duration("dur", d),
			}
			if err != nil {
				fields = append(fields, logx.String("code", string(toolerr.CodeOf(err))), logx.Err(err))
				if toolerr.CodeOf(err) == toolerr.Internal {
					logger.Error("request failed", fields...)
				} else {
					logger.Warn("request failed", fields...)
				}
			} else if d >= 750*time.Millisecond {
				logger.Info("request ok", fields...)
			} else {
				logger.Debug("request ok", fields...)
			}
			return err
		}
	}
}

// MWReportError turns a handler error into a chat message so no failure is
// silent. Callback failures are also shown as a toast.
func MWReportError() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			err := next(ctx, req)
			if err == nil || req == nil || req.Adapter == nil {
				return err
			}
			text := toolerr.UserText(err)
			// The handler context may have expired; the report still goes out.
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			if cb := req.Update.Callback; cb != nil {
				_ = req.Adapter.AnswerCallback(rctx, cb.ID, truncateRunes(text, 190))
			}
			if _, serr := req.Adapter.SendText(rctx, req.Chat, text, nil); serr != nil && !req.Logger.IsZero() {
				req.Logger.Warn("error report not delivered", logx.Err(serr))
			}
			return err
		}
	}
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// chatLimiter is a token bucket per chat.
type chatLimiter struct {
	mu     sync.Mutex
	limit  rate.Limit
	burst  int
	chats  map[int64]*limiterEntry
	nowFun func() time.Time
}

type limiterEntry struct {
	lim  *rate.Limiter
	seen time.Time
}

func newChatLimiter(perSec float64, burst int) *chatLimiter {
	l := &chatLimiter{chats: map[int64]*limiterEntry{}, nowFun: time.Now}
	l.configure(perSec, burst)
	return l
}

func (l *chatLimiter) configure(perSec float64, burst int) {
	if burst <= 0 {
		burst = max(1, int(perSec*2))
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limit, l.burst = rate.Limit(perSec), burst
	if perSec <= 0 {
		l.limit = rate.Inf
	}
	// Existing buckets keep their tokens but pick up the new shape.
	for _, e := range l.chats {
		e.lim.SetLimit(l.limit)
		e.lim.SetBurst(l.burst)
	}
}

func (l *chatLimiter) allow(chatID int64) bool {
	l.mu.Lock()
	if l.limit == rate.Inf {
		l.mu.Unlock()
		return true
	}
	now := l.nowFun()
	e, ok := l.chats[chatID]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(l.limit, l.burst)}
		l.chats[chatID] = e
	}
	e.seen = now
	l.mu.Unlock()
	return e.lim.AllowN(now, 1)
}

// prune forgets chats not seen for idle.
func (l *chatLimiter) prune(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cut := l.nowFun().Add(-idle)
	n := 0
	for id, e := range l.chats {
		if e.seen.Before(cut) {
			delete(l.chats, id)
			n++
		}
	}
	return n
}
