package model

import "time"

// Inquiry is the inbound lead a proposal is drafted against. The lifecycle
// core only reads it through the InquiryStore collaborator and best-effort
// advances its status after a successful proposal send.
type Inquiry struct {
	ID              uint   `gorm:"primaryKey" json:"id"`
	Name            string `gorm:"not null" json:"name"`
	Email           string `gorm:"not null" json:"email"`
	Company         string `json:"company,omitempty"`
	ServiceCategory string `json:"service_category,omitempty"`
	Status          string `gorm:"not null;default:'new'" json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Inquiry statuses the lifecycle touches
const (
	InquiryNew      = "new"
	InquiryProposed = "proposed"
)
