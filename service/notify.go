package service

import (
	"context"

	"github.com/noturnachs/wasteph-sub000/pkg/logger"
)

// LogNotifier is the default Notifier: it records the event in the service
// log. Real channels (in-app, webhook) plug in behind the same interface.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, event string, message string) error {
	logger.Info(ctx, "notification", "event", event, "message", message)
	return nil
}

// notify delivers a best-effort notification. Failure is logged and never
// propagated to the business operation that triggered it.
func notify(ctx context.Context, n Notifier, event, message string) {
	if n == nil {
		return
	}
	if err := n.Notify(ctx, event, message); err != nil {
		logger.Warn(ctx, "notification failed", "event", event, "error", err)
	}
}
