package model

import (
	"time"
)

// Proposal is a priced offer drafted against an inquiry. It carries its own
// workflow status plus an independent email delivery status, because an
// approved proposal can still have a failed send behind it.
type Proposal struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	Number     string `gorm:"uniqueIndex;not null" json:"number"` // e.g. PROP-20260131-0001, immutable
	InquiryID  uint   `gorm:"not null;index" json:"inquiry_id"`
	TemplateID uint   `gorm:"not null" json:"template_id"`

	RequesterID uint  `gorm:"not null;index" json:"requester_id"`
	ReviewerID  *uint `json:"reviewer_id,omitempty"`
	SenderID    *uint `json:"sender_id,omitempty"`

	// Payload holds services, pricing and terms. The lifecycle never parses
	// it; it is handed to the renderer as-is.
	Payload JSONMap `gorm:"type:jsonb" json:"payload"`

	Status          string `gorm:"not null;default:'pending';index" json:"status"`
	EmailStatus     string `gorm:"default:''" json:"email_status"`
	RejectionReason string `json:"rejection_reason,omitempty"`

	WasTemplateSuggested bool `gorm:"not null;default:false" json:"was_template_suggested"`

	DocumentKey string     `json:"document_key,omitempty"` // rendered PDF in the blob store
	ValidUntil  time.Time  `json:"valid_until"`
	ReviewedAt  *time.Time `json:"reviewed_at,omitempty"`
	SentAt      *time.Time `json:"sent_at,omitempty"`

	ClientResponse    string     `json:"client_response,omitempty"` // accepted, declined
	ClientRespondedAt *time.Time `json:"client_responded_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Proposal workflow statuses
const (
	ProposalPending   = "pending"
	ProposalApproved  = "approved"
	ProposalRejected  = "rejected"
	ProposalSent      = "sent"
	ProposalCancelled = "cancelled"
)

// Email delivery statuses, tracked separately from the workflow status
const (
	EmailUnset  = ""
	EmailSent   = "sent"
	EmailFailed = "failed"
)

// Client response annotations
const (
	ResponseAccepted = "accepted"
	ResponseDeclined = "declined"
)
