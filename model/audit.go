package model

import "time"

// AuditEntry is an append-only record of a state transition. Written
// synchronously but best-effort: a failed write never rolls back the
// business transaction it describes.
type AuditEntry struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	EntityKind string `gorm:"not null;index:idx_audit_entity,priority:1" json:"entity_kind"`
	EntityID   uint   `gorm:"not null;index:idx_audit_entity,priority:2" json:"entity_id"`
	Action     string `gorm:"not null" json:"action"`
	ActorID    uint   `json:"actor_id"`
	FromStatus string `json:"from_status,omitempty"`
	ToStatus   string `json:"to_status,omitempty"`
	Note       string `json:"note,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
