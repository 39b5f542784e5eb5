package model

import (
	"strings"
	"time"
)

// Client is the durable customer record materialized when a contract is
// signed. Keyed by normalized email; created at most once per email.
type Client struct {
	ID      uint   `gorm:"primaryKey" json:"id"`
	Email   string `gorm:"uniqueIndex;not null" json:"email"`
	Name    string `json:"name"`
	Company string `json:"company,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NormalizeEmail trims and lower-cases an email for use as the natural key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
