package model

// SequenceCounter issues gap-free, monotonically increasing document numbers
// per (kind, calendar day). Value is advanced with an atomic upsert-increment.
type SequenceCounter struct {
	ID    uint   `gorm:"primaryKey" json:"id"`
	Kind  string `gorm:"not null;uniqueIndex:idx_sequence_kind_day,priority:1" json:"kind"`
	Day   string `gorm:"not null;uniqueIndex:idx_sequence_kind_day,priority:2" json:"day"` // YYYY-MM-DD
	Value int    `gorm:"not null" json:"value"`
}

// Sequence kinds
const (
	SequenceProposal = "proposal"
	SequenceContract = "contract"
)
