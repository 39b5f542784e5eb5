package model

import (
	"time"
)

// Contract is the binding document derived from a proposal. Its status chain
// is strictly linear; no transition may skip a state.
type Contract struct {
	ID         uint  `gorm:"primaryKey" json:"id"`
	ProposalID uint  `gorm:"uniqueIndex;not null" json:"proposal_id"`
	ClientID   *uint `json:"client_id,omitempty"` // populated only after signing
	TemplateID *uint `json:"template_id,omitempty"`

	// Fields carries dates, schedule, rate and signatories as entered by the
	// requester or edited by the admin.
	Fields JSONMap `gorm:"type:jsonb" json:"fields"`

	// ContractDuration is the denormalized display string derived from the
	// start/end dates, e.g. "January 1, 2026 – December 31, 2026".
	ContractDuration string `json:"contract_duration,omitempty"`

	Status string `gorm:"not null;default:'pending_request';index" json:"status"`

	DocumentKey       string `json:"document_key,omitempty"`        // rendered or uploaded PDF
	UploadedKey       string `json:"uploaded_key,omitempty"`        // requester-supplied template file, stored verbatim
	SignedDocumentKey string `json:"signed_document_key,omitempty"` // counterparty-returned document
	DraftHTML         string `json:"draft_html,omitempty"`          // admin-edited HTML snapshot

	// SubmissionToken exists iff status has reached sent_to_client.
	SubmissionToken string `gorm:"index" json:"-"`

	SentToClientAt *time.Time `json:"sent_to_client_at,omitempty"`
	SignedAt       *time.Time `json:"signed_at,omitempty"`
	SignerIP       string     `json:"signer_ip,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Contract statuses, in order. Transitions only ever move forward.
const (
	ContractPendingRequest    = "pending_request"
	ContractRequested         = "requested"
	ContractSentToSales       = "sent_to_sales"
	ContractSentToClient      = "sent_to_client"
	ContractSigned            = "signed"
	ContractHardboundReceived = "hardbound_received"
)

// contractOrder maps each status to its position in the linear chain.
var contractOrder = map[string]int{
	ContractPendingRequest:    0,
	ContractRequested:         1,
	ContractSentToSales:       2,
	ContractSentToClient:      3,
	ContractSigned:            4,
	ContractHardboundReceived: 5,
}

// ContractStatusRank returns the position of a status in the chain, or -1
// for an unknown status.
func ContractStatusRank(status string) int {
	if rank, ok := contractOrder[status]; ok {
		return rank
	}
	return -1
}
