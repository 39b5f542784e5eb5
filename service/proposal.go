package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/noturnachs/wasteph-sub000/model"
	"github.com/noturnachs/wasteph-sub000/pkg/logger"
)

// ProposalService drives the proposal state machine: creation, review,
// sending, cancellation and revision. The send transition is the only place
// a race is explicitly defended against; every other write is preceded by a
// status guard and relies on single-row update atomicity.
type ProposalService struct {
	proposals ProposalStore
	inquiries InquiryStore
	templates *TemplateService
	sequences SequenceStore
	renderer  DocumentRenderer
	mailer    MailGateway
	blobs     BlobStore
	notifier  Notifier
	auditLog  AuditStore

	validityDays int
}

type ProposalDeps struct {
	Proposals ProposalStore
	Inquiries InquiryStore
	Templates *TemplateService
	Sequences SequenceStore
	Renderer  DocumentRenderer
	Mailer    MailGateway
	Blobs     BlobStore
	Notifier  Notifier
	AuditLog  AuditStore

	ValidityDays int
}

func NewProposalService(deps ProposalDeps) *ProposalService {
	if deps.ValidityDays <= 0 {
		deps.ValidityDays = 30
	}
	return &ProposalService{
		proposals:    deps.Proposals,
		inquiries:    deps.Inquiries,
		templates:    deps.Templates,
		sequences:    deps.Sequences,
		renderer:     deps.Renderer,
		mailer:       deps.Mailer,
		blobs:        deps.Blobs,
		notifier:     deps.Notifier,
		auditLog:     deps.AuditLog,
		validityDays: deps.ValidityDays,
	}
}

type ProposalInput struct {
	InquiryID  uint          `json:"inquiry_id" binding:"required"`
	TemplateID *uint         `json:"template_id"`
	Payload    model.JSONMap `json:"payload"`
}

// categoryTemplateType maps an inquiry's declared service category to a
// template type. Unknown categories fall through to the proposal default.
var categoryTemplateType = map[string]string{
	"web development": model.TemplateProposal,
	"consulting":      model.TemplateProposal,
	"maintenance":     model.TemplateProposal,
}

// SuggestTemplateType is the deterministic category -> template-type lookup
// used when a proposal is created without an explicit template.
func SuggestTemplateType(serviceCategory string) string {
	if t, ok := categoryTemplateType[strings.ToLower(strings.TrimSpace(serviceCategory))]; ok {
		return t
	}
	return model.TemplateProposal
}

// Create drafts a proposal against an inquiry. The template is either the
// explicit one or auto-suggested from the inquiry's service category, with
// the default template as universal fallback; the suggestion is recorded for
// audit.
func (s *ProposalService) Create(ctx context.Context, actor model.Actor, in ProposalInput) (*model.Proposal, error) {
	if err := Authorize(actor, 0, OpCreate); err != nil {
		return nil, err
	}

	inquiry, err := s.inquiries.GetByID(ctx, in.InquiryID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, NotFound("inquiry", "inquiry not found")
		}
		return nil, err
	}

	var tmpl *model.Template
	suggested := false
	if in.TemplateID != nil {
		tmpl, err = s.templates.GetByID(ctx, *in.TemplateID)
	} else {
		tmpl, err = s.templates.GetByType(ctx, SuggestTemplateType(inquiry.ServiceCategory))
		suggested = true
	}
	if err != nil {
		return nil, err
	}

	now := time.Now()
	seq, err := s.sequences.Allocate(ctx, model.SequenceProposal, SequenceDay(now))
	if err != nil {
		return nil, fmt.Errorf("allocate proposal number: %w", err)
	}

	p := &model.Proposal{
		Number:               FormatNumber("PROP", now, seq),
		InquiryID:            inquiry.ID,
		TemplateID:           tmpl.ID,
		RequesterID:          actor.ID,
		Payload:              in.Payload,
		Status:               model.ProposalPending,
		WasTemplateSuggested: suggested,
		ValidUntil:           now.AddDate(0, 0, s.validityDays),
	}
	if err := s.proposals.Create(ctx, p); err != nil {
		return nil, err
	}

	audit(ctx, s.auditLog, model.AuditEntry{
		EntityKind: "proposal", EntityID: p.ID, Action: "create",
		ActorID: actor.ID, ToStatus: p.Status,
		Note: fmt.Sprintf("template %d suggested=%t", tmpl.ID, suggested),
	})
	return p, nil
}

func (s *ProposalService) Get(ctx context.Context, actor model.Actor, id uint) (*model.Proposal, error) {
	p, err := s.proposals.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, NotFound("proposal", "proposal not found")
		}
		return nil, err
	}
	if err := Authorize(actor, p.RequesterID, OpUpdate); err != nil {
		return nil, err
	}
	return p, nil
}

// Approve moves pending -> approved and records the reviewer. The requester
// notification is best-effort: its failure never fails the approval.
func (s *ProposalService) Approve(ctx context.Context, actor model.Actor, id uint) (*model.Proposal, error) {
	if err := Authorize(actor, 0, OpApprove); err != nil {
		return nil, err
	}
	p, err := s.proposals.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, NotFound("proposal", "proposal not found")
		}
		return nil, err
	}
	if p.Status != model.ProposalPending {
		return nil, InvalidTransition("proposal", fmt.Sprintf("cannot approve a %s proposal", p.Status))
	}

	now := time.Now()
	p.Status = model.ProposalApproved
	p.ReviewerID = &actor.ID
	p.ReviewedAt = &now
	if err := s.proposals.Update(ctx, p); err != nil {
		return nil, err
	}

	notify(ctx, s.notifier, "proposal.approved",
		fmt.Sprintf("proposal %s approved, requester %d", p.Number, p.RequesterID))
	audit(ctx, s.auditLog, model.AuditEntry{
		EntityKind: "proposal", EntityID: p.ID, Action: "approve",
		ActorID: actor.ID, FromStatus: model.ProposalPending, ToStatus: p.Status,
	})
	return p, nil
}

// Reject moves pending -> rejected. A non-empty reason is mandatory.
func (s *ProposalService) Reject(ctx context.Context, actor model.Actor, id uint, reason string) (*model.Proposal, error) {
	if err := Authorize(actor, 0, OpReject); err != nil {
		return nil, err
	}
	if strings.TrimSpace(reason) == "" {
		return nil, Invalid("proposal", "rejection_reason", "a rejection reason is required")
	}
	p, err := s.proposals.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, NotFound("proposal", "proposal not found")
		}
		return nil, err
	}
	if p.Status != model.ProposalPending {
		return nil, InvalidTransition("proposal", fmt.Sprintf("cannot reject a %s proposal", p.Status))
	}

	now := time.Now()
	p.Status = model.ProposalRejected
	p.RejectionReason = reason
	p.ReviewerID = &actor.ID
	p.ReviewedAt = &now
	if err := s.proposals.Update(ctx, p); err != nil {
		return nil, err
	}

	audit(ctx, s.auditLog, model.AuditEntry{
		EntityKind: "proposal", EntityID: p.ID, Action: "reject",
		ActorID: actor.ID, FromStatus: model.ProposalPending, ToStatus: p.Status,
		Note: reason,
	})
	return p, nil
}

// Update revises the payload. Revising a rejected proposal is the single
// back-edge in the machine: it resets to pending and clears the reviewer and
// the rejection reason.
func (s *ProposalService) Update(ctx context.Context, actor model.Actor, id uint, payload model.JSONMap) (*model.Proposal, error) {
	p, err := s.proposals.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, NotFound("proposal", "proposal not found")
		}
		return nil, err
	}
	if err := Authorize(actor, p.RequesterID, OpUpdate); err != nil {
		return nil, err
	}
	if p.Status != model.ProposalPending && p.Status != model.ProposalRejected {
		return nil, InvalidTransition("proposal", fmt.Sprintf("cannot update a %s proposal", p.Status))
	}

	from := p.Status
	if p.Status == model.ProposalRejected {
		p.Status = model.ProposalPending
		p.RejectionReason = ""
		p.ReviewerID = nil
		p.ReviewedAt = nil
	}
	if payload != nil {
		p.Payload = payload
	}
	if err := s.proposals.Update(ctx, p); err != nil {
		return nil, err
	}

	audit(ctx, s.auditLog, model.AuditEntry{
		EntityKind: "proposal", EntityID: p.ID, Action: "update",
		ActorID: actor.ID, FromStatus: from, ToStatus: p.Status,
	})
	return p, nil
}

// Send renders the proposal document, attempts delivery, and flips
// approved -> sent with a conditional write so a concurrent second send
// loses with ConflictingWrite instead of double-sending. On delivery failure
// the rendered document and EmailStatus=failed are persisted, the status
// stays approved, and a manual retry can re-send without re-rendering.
func (s *ProposalService) Send(ctx context.Context, actor model.Actor, id uint) (*model.Proposal, error) {
	p, err := s.proposals.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, NotFound("proposal", "proposal not found")
		}
		return nil, err
	}
	if err := Authorize(actor, p.RequesterID, OpSend); err != nil {
		return nil, err
	}
	if p.Status == model.ProposalSent {
		// A send that observes the row already sent lost the race to another
		// sender; classify it like the conditional-write loser below.
		return nil, Conflict("proposal", "proposal was already sent")
	}
	if p.Status != model.ProposalApproved {
		return nil, InvalidTransition("proposal", fmt.Sprintf("only an approved proposal can be sent, not %s", p.Status))
	}

	inquiry, err := s.inquiries.GetByID(ctx, p.InquiryID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, NotFound("inquiry", "originating inquiry no longer exists")
		}
		return nil, err
	}
	tmpl, err := s.templates.GetByID(ctx, p.TemplateID)
	if err != nil {
		return nil, err
	}

	data := renderData(p, inquiry)
	html, err := s.renderer.Render(tmpl, data)
	if err != nil {
		return nil, err
	}
	pdf, err := s.renderer.ToPDF(ctx, html)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	key := BlobKey("proposals", now, p.Number+".pdf")
	if err := s.blobs.Put(ctx, key, pdf, "application/pdf"); err != nil {
		return nil, fmt.Errorf("store proposal document: %w", err)
	}

	result := s.mailer.Send(ctx, Mail{
		To:      inquiry.Email,
		Subject: fmt.Sprintf("Proposal %s", p.Number),
		HTML:    html,
		Attachment: &Attachment{
			Filename:    p.Number + ".pdf",
			Content:     pdf,
			ContentType: "application/pdf",
		},
	})
	if !result.Success {
		// Keep the rendered document so a manual retry skips the expensive
		// work; the transition itself is aborted. The write is conditional on
		// status=approved so it cannot revert a concurrent winner's sent row.
		if err := s.proposals.MarkEmailFailed(ctx, p.ID, key); err != nil {
			if errors.Is(err, ErrStatusConflict) {
				logger.Warn(ctx, "delivery failure not recorded, proposal moved concurrently", "proposal_id", p.ID)
			} else {
				logger.Error(ctx, "failed to persist delivery failure", "proposal_id", p.ID, "error", err)
			}
		}
		audit(ctx, s.auditLog, model.AuditEntry{
			EntityKind: "proposal", EntityID: p.ID, Action: "send_failed",
			ActorID: actor.ID, FromStatus: p.Status, ToStatus: p.Status,
		})
		return nil, DeliveryFailed(result.Err)
	}

	sent, err := s.proposals.MarkSent(ctx, p.ID, actor.ID, key, now)
	if err != nil {
		if errors.Is(err, ErrStatusConflict) {
			return nil, Conflict("proposal", "no longer approved or already sent")
		}
		return nil, err
	}

	// Advancing the inquiry is best-effort; the proposal is already sent.
	if err := s.inquiries.UpdateStatus(ctx, inquiry.ID, model.InquiryProposed); err != nil {
		logger.Warn(ctx, "failed to advance inquiry status", "inquiry_id", inquiry.ID, "error", err)
	}

	audit(ctx, s.auditLog, model.AuditEntry{
		EntityKind: "proposal", EntityID: p.ID, Action: "send",
		ActorID: actor.ID, FromStatus: model.ProposalApproved, ToStatus: sent.Status,
	})
	return sent, nil
}

// RetryEmail re-sends the previously stored document without re-rendering.
// Success flips EmailStatus to sent and leaves the workflow status alone.
func (s *ProposalService) RetryEmail(ctx context.Context, actor model.Actor, id uint) (*model.Proposal, error) {
	if err := Authorize(actor, 0, OpRetryEmail); err != nil {
		return nil, err
	}
	p, err := s.proposals.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, NotFound("proposal", "proposal not found")
		}
		return nil, err
	}
	if p.EmailStatus != model.EmailFailed {
		return nil, InvalidTransition("proposal", "no failed delivery to retry")
	}
	if p.Status != model.ProposalPending && p.Status != model.ProposalApproved {
		return nil, InvalidTransition("proposal", fmt.Sprintf("cannot retry delivery for a %s proposal", p.Status))
	}
	if p.DocumentKey == "" {
		return nil, NotFound("document", "no stored document to re-send")
	}

	inquiry, err := s.inquiries.GetByID(ctx, p.InquiryID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, NotFound("inquiry", "originating inquiry no longer exists")
		}
		return nil, err
	}
	pdf, err := s.blobs.Get(ctx, p.DocumentKey)
	if err != nil {
		return nil, fmt.Errorf("load stored document: %w", err)
	}

	result := s.mailer.Send(ctx, Mail{
		To:      inquiry.Email,
		Subject: fmt.Sprintf("Proposal %s", p.Number),
		HTML:    fmt.Sprintf("<p>Please find proposal %s attached.</p>", p.Number),
		Attachment: &Attachment{
			Filename:    p.Number + ".pdf",
			Content:     pdf,
			ContentType: "application/pdf",
		},
	})
	if !result.Success {
		return nil, DeliveryFailed(result.Err)
	}

	p.EmailStatus = model.EmailSent
	if err := s.proposals.Update(ctx, p); err != nil {
		return nil, err
	}

	audit(ctx, s.auditLog, model.AuditEntry{
		EntityKind: "proposal", EntityID: p.ID, Action: "retry_email",
		ActorID: actor.ID, FromStatus: p.Status, ToStatus: p.Status,
	})
	return p, nil
}

// Cancel terminates a pending proposal.
func (s *ProposalService) Cancel(ctx context.Context, actor model.Actor, id uint) (*model.Proposal, error) {
	p, err := s.proposals.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, NotFound("proposal", "proposal not found")
		}
		return nil, err
	}
	if err := Authorize(actor, p.RequesterID, OpCancel); err != nil {
		return nil, err
	}
	if p.Status != model.ProposalPending {
		return nil, InvalidTransition("proposal", fmt.Sprintf("cannot cancel a %s proposal", p.Status))
	}

	p.Status = model.ProposalCancelled
	if err := s.proposals.Update(ctx, p); err != nil {
		return nil, err
	}

	audit(ctx, s.auditLog, model.AuditEntry{
		EntityKind: "proposal", EntityID: p.ID, Action: "cancel",
		ActorID: actor.ID, FromStatus: model.ProposalPending, ToStatus: p.Status,
	})
	return p, nil
}

// RecordClientResponse stores the counterparty's accept/decline as a
// timestamped terminal annotation on a sent proposal.
func (s *ProposalService) RecordClientResponse(ctx context.Context, id uint, response string) (*model.Proposal, error) {
	if response != model.ResponseAccepted && response != model.ResponseDeclined {
		return nil, Invalid("proposal", "response", "response must be accepted or declined")
	}
	p, err := s.proposals.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, NotFound("proposal", "proposal not found")
		}
		return nil, err
	}
	if p.Status != model.ProposalSent {
		return nil, InvalidTransition("proposal", "only a sent proposal can receive a client response")
	}
	if p.ClientResponse != "" {
		return nil, InvalidTransition("proposal", "client response already recorded")
	}

	now := time.Now()
	p.ClientResponse = response
	p.ClientRespondedAt = &now
	if err := s.proposals.Update(ctx, p); err != nil {
		return nil, err
	}

	notify(ctx, s.notifier, "proposal.client_response",
		fmt.Sprintf("proposal %s %s by client", p.Number, response))
	audit(ctx, s.auditLog, model.AuditEntry{
		EntityKind: "proposal", EntityID: p.ID, Action: "client_response",
		FromStatus: p.Status, ToStatus: p.Status, Note: response,
	})
	return p, nil
}

// renderData hands the opaque payload to the renderer together with the
// built-in document fields. Payload keys win over built-ins.
func renderData(p *model.Proposal, inquiry *model.Inquiry) model.JSONMap {
	data := model.JSONMap{
		"proposal_number": p.Number,
		"valid_until":     p.ValidUntil.Format("January 2, 2006"),
		"client_name":     inquiry.Name,
		"client_email":    inquiry.Email,
		"client_company":  inquiry.Company,
	}
	for k, v := range p.Payload {
		data[k] = v
	}
	return data
}
