package orders

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-pod-fulfillment/internal/metrics"
)

// Hook is a best-effort side effect run after a transaction commits.
type Hook interface {
	Name() string
	Handle(ctx context.Context, ev Event) error
}

type HookFunc struct {
	HookName string
	Fn       func(ctx context.Context, ev Event) error
}

func (h HookFunc) Name() string                               { return h.HookName }
func (h HookFunc) Handle(ctx context.Context, ev Event) error { return h.Fn(ctx, ev) }

type Hooks []Hook

// Fire runs every hook in order. A failing or panicking hook is logged and
// counted; it never stops the others and never reaches the caller.
func (hs Hooks) Fire(ctx context.Context, log *zap.Logger, ev Event) {
	ctx = context.WithoutCancel(ctx)
	for _, h := range hs {
		if err := runHook(ctx, h, ev); err != nil {
			metrics.HookFailures.WithLabelValues(h.Name()).Inc()
			log.Error("post-commit hook failed",
				zap.String("hook", h.Name()),
				zap.String("event", ev.Type),
				zap.String("order_id", ev.OrderID),
				zap.Error(err),
			)
		}
	}
}

func runHook(ctx context.Context, h Hook, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h.Handle(ctx, ev)
}
