package service

import (
	"context"
	"errors"
	"time"

	"github.com/noturnachs/wasteph-sub000/model"
)

// Storage sentinels. Stores return these; services translate them into the
// caller-facing taxonomy.
var (
	ErrRecordNotFound = errors.New("record not found")
	ErrStatusConflict = errors.New("status changed concurrently")
	ErrDuplicate      = errors.New("duplicate record")
)

// ProposalStore persists proposals. MarkSent is the one conditional write in
// the system: it flips approved→sent keyed on the pre-transition status so a
// send race has exactly one winner.
type ProposalStore interface {
	Create(ctx context.Context, p *model.Proposal) error
	GetByID(ctx context.Context, id uint) (*model.Proposal, error)
	Update(ctx context.Context, p *model.Proposal) error
	// MarkSent succeeds only while the row still reads status=approved;
	// otherwise it returns ErrStatusConflict. The document key rides on the
	// same write so a losing sender cannot clobber the winner's row.
	MarkSent(ctx context.Context, id, senderID uint, documentKey string, at time.Time) (*model.Proposal, error)
	// MarkEmailFailed records a failed delivery, also keyed on
	// status=approved. It touches only email_status and document_key; a full
	// row save here could revert a concurrent winner's sent state.
	MarkEmailFailed(ctx context.Context, id uint, documentKey string) error
}

// SignRequest carries everything RecordSigning persists in one unit.
type SignRequest struct {
	SignedDocumentKey string
	SignerIP          string
	SignedAt          time.Time
	ClientEmail       string
	ClientName        string
	ClientCompany     string
}

// ContractStore persists contracts. Sign runs the client provisioning and the
// signed flip as one unit: if the client row cannot be looked up or created,
// the contract is not marked signed.
type ContractStore interface {
	Create(ctx context.Context, c *model.Contract) error
	GetByID(ctx context.Context, id uint) (*model.Contract, error)
	GetByProposal(ctx context.Context, proposalID uint) (*model.Contract, error)
	GetByToken(ctx context.Context, token string) (*model.Contract, error)
	Update(ctx context.Context, c *model.Contract) error
	Sign(ctx context.Context, id uint, req SignRequest) (*model.Contract, error)
}

// ClientStore looks clients up by their natural key. FindOrCreate is an
// idempotent upsert: concurrent callers with the same normalized email
// resolve to the same row.
type ClientStore interface {
	GetByEmail(ctx context.Context, email string) (*model.Client, error)
	FindOrCreate(ctx context.Context, client *model.Client) (*model.Client, error)
}

// TemplateStore is the raw storage under TemplateService. SetDefault unsets
// every other default in the same transaction.
type TemplateStore interface {
	Create(ctx context.Context, t *model.Template) error
	GetByID(ctx context.Context, id uint) (*model.Template, error)
	Update(ctx context.Context, t *model.Template) error
	SetDefault(ctx context.Context, id uint) (*model.Template, error)
	SoftDelete(ctx context.Context, id uint) error
	ActiveByType(ctx context.Context, templateType string) (*model.Template, error)
	Default(ctx context.Context) (*model.Template, error)
	NewestActive(ctx context.Context) (*model.Template, error)
}

// SequenceStore allocates document numbers. Allocate is an atomic
// increment-or-initialize per (kind, day); numbers are never reused and never
// reset mid-day.
type SequenceStore interface {
	Allocate(ctx context.Context, kind, day string) (int, error)
}

// InquiryStore is the narrow view of the inquiry subsystem the lifecycle
// consumes.
type InquiryStore interface {
	GetByID(ctx context.Context, id uint) (*model.Inquiry, error)
	UpdateStatus(ctx context.Context, id uint, status string) error
}

// AuditStore appends transition records.
type AuditStore interface {
	Append(ctx context.Context, entry *model.AuditEntry) error
}

// BlobStore stores rendered and uploaded documents. Keys are namespaced by
// entity kind and a date folder; nothing else about the key is interpreted.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// Notifier is a fire-and-forget side channel. Failures are logged at the call
// site and never surfaced through a business result.
type Notifier interface {
	Notify(ctx context.Context, event string, message string) error
}
