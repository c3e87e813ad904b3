package pluginkit

import (
	"context"
	"errors"
	"fmt"
	"time"

	core "toolbox/internal/plugin"
	rtsup "toolbox/internal/runtime/supervisor"
	"toolbox/internal/toolerr"
	logx "toolbox/pkg/logx"
	"toolbox/pkg/tgui"
)

const DefaultOperationTimeout = time.Minute

// AsyncOp is a long operation started from a handler.
type AsyncOp struct {
	// Name labels the goroutine in the supervisor.
	Name string
	// Status is shown while the operation runs, e.g. "Generating key pair".
	Status  string
	Timeout time.Duration
	Run     func(ctx context.Context) (tgui.Message, error)
}

// RunAsync replies with an in-progress status message and runs op under
// sup. The status message is edited with the result, the failure reason or
// a timeout notice, so the chat never stays on "working".
func RunAsync(ctx context.Context, sup *rtsup.Supervisor, req *core.Request, op AsyncOp) error {
	if sup == nil {
		return toolerr.New(toolerr.Internal, "tool is not running")
	}
	if op.Timeout <= 0 {
		op.Timeout = DefaultOperationTimeout
	}
	status := tgui.New().Line("⏳ " + op.Status + "…").Build()
	ref, err := status.Send(ctx, req.Adapter, req.Chat)
	if err != nil {
		return err
	}

	log := req.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("op", op.Name))
	chat := req.Chat
	ad := req.Adapter

	sup.Go0("async."+op.Name, func(sctx context.Context) {
		octx, cancel := context.WithTimeout(sctx, op.Timeout)
		defer cancel()

		type result struct {
			msg tgui.Message
			err error
		}
		done := make(chan result, 1)
		go func() {
			m, err := op.Run(octx)
			done <- result{m, err}
		}()

		var final tgui.Message
		select {
		case r := <-done:
			if r.err != nil {
				log.Warn("async operation failed", logx.String("code", string(toolerr.CodeOf(r.err))), logx.Err(r.err))
				final = failureMessage(op.Status, r.err)
			} else {
				final = r.msg
			}
		case <-octx.Done():
			err := octx.Err()
			if errors.Is(err, context.DeadlineExceeded) {
				log.Warn("async operation timed out", logx.Duration("timeout", op.Timeout))
				final = tgui.New().Line(fmt.Sprintf("⌛ %s timed out after %s.", op.Status, op.Timeout)).Build()
			} else {
				final = tgui.New().Line("✖ " + op.Status + " canceled.").Build()
			}
		}

		ectx, ecancel := context.WithTimeout(context.WithoutCancel(sctx), 10*time.Second)
		defer ecancel()
		if err := final.Edit(ectx, ad, ref, chat); err != nil {
			log.Warn("status edit failed", logx.Err(err))
		}
	})
	return nil
}

func failureMessage(status string, err error) tgui.Message {
	return tgui.New().
		Line("❌ " + status + " failed.").
		Line(toolerr.UserText(err)).
		Build()
}
