package engine

import (
	"context"

	"github.com/roach88/voltchain/internal/ir"
)

// Notifier receives every committed notification after the batch is
// durable and the transition's locks are released.
//
// Notifiers run synchronously on the calling goroutine and must not call
// back into the engine for the same records.
type Notifier interface {
	Notify(ctx context.Context, n ir.Notification)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, n ir.Notification)

func (f NotifierFunc) Notify(ctx context.Context, n ir.Notification) {
	f(ctx, n)
}
