package service

import (
	"context"

	"github.com/noturnachs/wasteph-sub000/model"
	"github.com/noturnachs/wasteph-sub000/pkg/logger"
)

// audit appends a transition record synchronously but best-effort: an audit
// write failure is logged and never rolls back the transition it describes.
func audit(ctx context.Context, store AuditStore, entry model.AuditEntry) {
	if store == nil {
		return
	}
	if err := store.Append(ctx, &entry); err != nil {
		logger.Warn(ctx, "audit write failed",
			"entity_kind", entry.EntityKind,
			"entity_id", entry.EntityID,
			"action", entry.Action,
			"error", err,
		)
	}
}
