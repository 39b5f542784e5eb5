package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/Knetic/govaluate"
	"github.com/noturnachs/wasteph-sub000/model"
)

// ContractService drives the secondary, proposal-dependent state machine.
// The chain is strictly linear; every transition re-checks the current
// status and no transition may skip a state.
type ContractService struct {
	contracts ContractStore
	proposals ProposalStore
	inquiries InquiryStore
	templates *TemplateService
	renderer  DocumentRenderer
	mailer    MailGateway
	blobs     BlobStore
	notifier  Notifier
	auditLog  AuditStore

	publicURL string
}

type ContractDeps struct {
	Contracts ContractStore
	Proposals ProposalStore
	Inquiries InquiryStore
	Templates *TemplateService
	Renderer  DocumentRenderer
	Mailer    MailGateway
	Blobs     BlobStore
	Notifier  Notifier
	AuditLog  AuditStore

	PublicURL string
}

func NewContractService(deps ContractDeps) *ContractService {
	return &ContractService{
		contracts: deps.Contracts,
		proposals: deps.Proposals,
		inquiries: deps.Inquiries,
		templates: deps.Templates,
		renderer:  deps.Renderer,
		mailer:    deps.Mailer,
		blobs:     deps.Blobs,
		notifier:  deps.Notifier,
		auditLog:  deps.AuditLog,
		publicURL: deps.PublicURL,
	}
}

// FormatDateRange derives the human-readable duration string stored on the
// contract, e.g. "January 1, 2026 – December 31, 2026".
func FormatDateRange(start, end time.Time) string {
	return start.Format("January 2, 2006") + " – " + end.Format("January 2, 2006")
}

// newSubmissionToken returns a cryptographically random single-use token.
func newSubmissionToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate submission token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Materialize returns the contract for a proposal, creating it lazily at
// pending_request on first use. At most one contract exists per proposal.
// The proposal must exist and the actor must be allowed to see it; a read
// must not create contract rows for ghost proposals.
func (s *ContractService) Materialize(ctx context.Context, actor model.Actor, proposalID uint) (*model.Contract, error) {
	p, err := s.proposals.GetByID(ctx, proposalID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, NotFound("proposal", "proposal not found")
		}
		return nil, err
	}
	if err := Authorize(actor, p.RequesterID, OpUpdate); err != nil {
		return nil, err
	}
	return s.materialize(ctx, proposalID)
}

func (s *ContractService) materialize(ctx context.Context, proposalID uint) (*model.Contract, error) {
	c, err := s.contracts.GetByProposal(ctx, proposalID)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, ErrRecordNotFound) {
		return nil, err
	}

	c = &model.Contract{
		ProposalID: proposalID,
		Status:     model.ContractPendingRequest,
	}
	if err := s.contracts.Create(ctx, c); err != nil {
		if errors.Is(err, ErrDuplicate) {
			// Another handler materialized it first.
			return s.contracts.GetByProposal(ctx, proposalID)
		}
		return nil, err
	}
	return c, nil
}

type ContractRequestInput struct {
	TemplateID   *uint         `json:"template_id"`
	UploadedName string        `json:"-"`
	UploadedFile []byte        `json:"-"`
	StartDate    string        `json:"start_date" binding:"required"` // 2006-01-02
	EndDate      string        `json:"end_date" binding:"required"`
	Fields       model.JSONMap `json:"fields"`
}

// Request moves pending_request -> requested. The requester either supplies
// a template file (stored verbatim) or a system template is resolved by
// contract type with the default as fallback.
func (s *ContractService) Request(ctx context.Context, actor model.Actor, proposalID uint, in ContractRequestInput) (*model.Contract, error) {
	p, err := s.proposals.GetByID(ctx, proposalID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, NotFound("proposal", "proposal not found")
		}
		return nil, err
	}
	if err := Authorize(actor, p.RequesterID, OpRequest); err != nil {
		return nil, err
	}

	start, err := time.Parse("2006-01-02", in.StartDate)
	if err != nil {
		return nil, Invalid("contract", "start_date", "start date must be YYYY-MM-DD")
	}
	end, err := time.Parse("2006-01-02", in.EndDate)
	if err != nil {
		return nil, Invalid("contract", "end_date", "end date must be YYYY-MM-DD")
	}
	if end.Before(start) {
		return nil, Invalid("contract", "end_date", "end date precedes start date")
	}

	c, err := s.materialize(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if c.Status != model.ContractPendingRequest {
		return nil, InvalidTransition("contract", fmt.Sprintf("cannot request a %s contract", c.Status))
	}

	if len(in.UploadedFile) > 0 {
		key := BlobKey("contracts", time.Now(), in.UploadedName)
		if err := s.blobs.Put(ctx, key, in.UploadedFile, "application/octet-stream"); err != nil {
			return nil, fmt.Errorf("store uploaded template: %w", err)
		}
		c.UploadedKey = key
	} else {
		var tmpl *model.Template
		if in.TemplateID != nil {
			tmpl, err = s.templates.GetByID(ctx, *in.TemplateID)
		} else {
			tmpl, err = s.templates.GetByType(ctx, model.TemplateContract)
		}
		if err != nil {
			return nil, err
		}
		c.TemplateID = &tmpl.ID
	}

	fields := in.Fields
	if fields == nil {
		fields = model.JSONMap{}
	}
	fields["start_date"] = in.StartDate
	fields["end_date"] = in.EndDate

	c.Fields = fields
	c.ContractDuration = FormatDateRange(start, end)
	c.Status = model.ContractRequested
	if err := s.contracts.Update(ctx, c); err != nil {
		return nil, err
	}

	audit(ctx, s.auditLog, model.AuditEntry{
		EntityKind: "contract", EntityID: c.ID, Action: "request",
		ActorID: actor.ID, FromStatus: model.ContractPendingRequest, ToStatus: c.Status,
	})
	return c, nil
}

type ContractFulfillInput struct {
	DocumentName string        `json:"-"`
	Document     []byte        `json:"-"` // finished document upload
	Fields       model.JSONMap `json:"fields"`
	DraftHTML    string        `json:"draft_html"`
}

// Fulfill moves requested -> sent_to_sales, or re-fulfills while still in
// sent_to_sales so the admin can iterate before the requester sends it
// onward. The admin either uploads a finished document or generates one from
// the contract template, optionally with edited field values and a
// hand-edited draft HTML snapshot.
func (s *ContractService) Fulfill(ctx context.Context, actor model.Actor, id uint, in ContractFulfillInput) (*model.Contract, error) {
	if err := Authorize(actor, 0, OpFulfill); err != nil {
		return nil, err
	}
	c, err := s.getContract(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != model.ContractRequested && c.Status != model.ContractSentToSales {
		return nil, InvalidTransition("contract", fmt.Sprintf("cannot fulfill a %s contract", c.Status))
	}

	if in.Fields != nil {
		merged := c.Fields
		if merged == nil {
			merged = model.JSONMap{}
		}
		for k, v := range in.Fields {
			merged[k] = v
		}
		c.Fields = merged
	}

	if len(in.Document) > 0 {
		key := BlobKey("contracts", time.Now(), in.DocumentName)
		if err := s.blobs.Put(ctx, key, in.Document, "application/pdf"); err != nil {
			return nil, fmt.Errorf("store contract document: %w", err)
		}
		c.DocumentKey = key
	} else {
		tmpl, err := s.resolveTemplate(ctx, c)
		if err != nil {
			return nil, err
		}
		data := contractRenderData(c)
		html := c.DraftHTML
		if in.DraftHTML != "" {
			html = in.DraftHTML
		}
		if html == "" {
			html, err = s.renderer.Render(tmpl, data)
			if err != nil {
				return nil, err
			}
		}
		pdf, err := s.renderer.ToPDF(ctx, html)
		if err != nil {
			return nil, err
		}
		key := BlobKey("contracts", time.Now(), fmt.Sprintf("contract-%d.pdf", c.ID))
		if err := s.blobs.Put(ctx, key, pdf, "application/pdf"); err != nil {
			return nil, fmt.Errorf("store contract document: %w", err)
		}
		c.DocumentKey = key
	}

	if in.DraftHTML != "" {
		c.DraftHTML = in.DraftHTML
	}

	from := c.Status
	c.Status = model.ContractSentToSales
	if err := s.contracts.Update(ctx, c); err != nil {
		return nil, err
	}

	audit(ctx, s.auditLog, model.AuditEntry{
		EntityKind: "contract", EntityID: c.ID, Action: "fulfill",
		ActorID: actor.ID, FromStatus: from, ToStatus: c.Status,
	})
	return c, nil
}

// SaveDraftHTML persists a hand-edited HTML snapshot without touching the
// workflow status. Drafts can be saved repeatedly.
func (s *ContractService) SaveDraftHTML(ctx context.Context, actor model.Actor, id uint, html string) (*model.Contract, error) {
	if err := Authorize(actor, 0, OpFulfill); err != nil {
		return nil, err
	}
	if html == "" {
		return nil, Invalid("contract", "draft_html", "draft html is empty")
	}
	c, err := s.getContract(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != model.ContractRequested && c.Status != model.ContractSentToSales {
		return nil, InvalidTransition("contract", fmt.Sprintf("cannot edit a %s contract", c.Status))
	}

	c.DraftHTML = html
	if err := s.contracts.Update(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// SendToCounterparty moves sent_to_sales -> sent_to_client: generates the
// submission token, emails the document with the embedded signing link, and
// records when it went out. A contract without a rendered document cannot be
// sent.
func (s *ContractService) SendToCounterparty(ctx context.Context, actor model.Actor, id uint) (*model.Contract, error) {
	c, err := s.getContract(ctx, id)
	if err != nil {
		return nil, err
	}
	p, err := s.proposals.GetByID(ctx, c.ProposalID)
	if err != nil {
		return nil, fmt.Errorf("load proposal for contract %d: %w", c.ID, err)
	}
	if err := Authorize(actor, p.RequesterID, OpSend); err != nil {
		return nil, err
	}
	if c.Status != model.ContractSentToSales {
		return nil, InvalidTransition("contract", fmt.Sprintf("cannot send a %s contract to the client", c.Status))
	}
	if c.DocumentKey == "" {
		return nil, Invalid("contract", "document", "no rendered document to send")
	}

	inquiry, err := s.inquiries.GetByID(ctx, p.InquiryID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, NotFound("inquiry", "originating inquiry no longer exists")
		}
		return nil, err
	}
	pdf, err := s.blobs.Get(ctx, c.DocumentKey)
	if err != nil {
		return nil, fmt.Errorf("load contract document: %w", err)
	}

	token, err := newSubmissionToken()
	if err != nil {
		return nil, err
	}
	signingLink := fmt.Sprintf("%s/public/contracts/%s", s.publicURL, token)

	result := s.mailer.Send(ctx, Mail{
		To:      inquiry.Email,
		Subject: fmt.Sprintf("Service contract for %s", inquiry.Name),
		HTML: fmt.Sprintf(
			"<p>Please review the attached contract and sign it here: <a href=%q>%s</a></p>",
			signingLink, signingLink),
		Attachment: &Attachment{
			Filename:    fmt.Sprintf("contract-%d.pdf", c.ID),
			Content:     pdf,
			ContentType: "application/pdf",
		},
	})
	if !result.Success {
		return nil, DeliveryFailed(result.Err)
	}

	now := time.Now()
	c.SubmissionToken = token
	c.Status = model.ContractSentToClient
	c.SentToClientAt = &now
	if err := s.contracts.Update(ctx, c); err != nil {
		return nil, err
	}

	audit(ctx, s.auditLog, model.AuditEntry{
		EntityKind: "contract", EntityID: c.ID, Action: "send_to_client",
		ActorID: actor.ID, FromStatus: model.ContractSentToSales, ToStatus: c.Status,
	})
	return c, nil
}

// ValidateToken resolves a submission token. The comparison against the
// stored token is constant-time; a contract that already collected a
// signature is reported distinctly from one that is not open for signing.
func (s *ContractService) ValidateToken(ctx context.Context, token string) (*model.Contract, error) {
	c, err := s.contracts.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, NotFound("contract", "contract not available")
		}
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(c.SubmissionToken), []byte(token)) != 1 {
		return nil, NotFound("contract", "contract not available")
	}
	if c.SignedAt != nil || model.ContractStatusRank(c.Status) > model.ContractStatusRank(model.ContractSentToClient) {
		return nil, InvalidTransition("contract", "contract already signed")
	}
	if c.Status != model.ContractSentToClient {
		return nil, InvalidTransition("contract", "contract not available for signing")
	}
	return c, nil
}

type SigningInput struct {
	DocumentName string
	Document     []byte
	SignerIP     string
}

// RecordSigning stores the counterparty-returned document and moves
// sent_to_client -> signed. Client provisioning is part of the same unit: a
// client row is looked up by normalized email and created only on miss, and
// the contract is marked signed only if that step succeeds. A second call
// with the same token fails as already signed.
func (s *ContractService) RecordSigning(ctx context.Context, token string, in SigningInput) (*model.Contract, error) {
	c, err := s.ValidateToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if len(in.Document) == 0 {
		return nil, Invalid("contract", "document", "signed document is required")
	}

	p, err := s.proposals.GetByID(ctx, c.ProposalID)
	if err != nil {
		return nil, fmt.Errorf("load proposal for contract %d: %w", c.ID, err)
	}
	inquiry, err := s.inquiries.GetByID(ctx, p.InquiryID)
	if err != nil {
		return nil, fmt.Errorf("load inquiry for contract %d: %w", c.ID, err)
	}

	key := BlobKey("contracts-signed", time.Now(), in.DocumentName)
	if err := s.blobs.Put(ctx, key, in.Document, "application/pdf"); err != nil {
		return nil, fmt.Errorf("store signed document: %w", err)
	}

	signed, err := s.contracts.Sign(ctx, c.ID, SignRequest{
		SignedDocumentKey: key,
		SignerIP:          in.SignerIP,
		SignedAt:          time.Now(),
		ClientEmail:       inquiry.Email,
		ClientName:        inquiry.Name,
		ClientCompany:     inquiry.Company,
	})
	if err != nil {
		if errors.Is(err, ErrStatusConflict) {
			return nil, InvalidTransition("contract", "contract already signed")
		}
		return nil, err
	}

	notify(ctx, s.notifier, "contract.signed",
		fmt.Sprintf("contract %d signed by %s", signed.ID, inquiry.Email))
	audit(ctx, s.auditLog, model.AuditEntry{
		EntityKind: "contract", EntityID: signed.ID, Action: "sign",
		FromStatus: model.ContractSentToClient, ToStatus: signed.Status,
		Note: in.SignerIP,
	})
	return signed, nil
}

// RecordHardbound confirms receipt of the physical copy: signed ->
// hardbound_received, the terminal state.
func (s *ContractService) RecordHardbound(ctx context.Context, actor model.Actor, id uint) (*model.Contract, error) {
	if err := Authorize(actor, 0, OpHardbound); err != nil {
		return nil, err
	}
	c, err := s.getContract(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != model.ContractSigned {
		return nil, InvalidTransition("contract", fmt.Sprintf("cannot record hardbound for a %s contract", c.Status))
	}

	c.Status = model.ContractHardboundReceived
	if err := s.contracts.Update(ctx, c); err != nil {
		return nil, err
	}

	audit(ctx, s.auditLog, model.AuditEntry{
		EntityKind: "contract", EntityID: c.ID, Action: "hardbound",
		ActorID: actor.ID, FromStatus: model.ContractSigned, ToStatus: c.Status,
	})
	return c, nil
}

func (s *ContractService) Get(ctx context.Context, actor model.Actor, id uint) (*model.Contract, error) {
	c, err := s.getContract(ctx, id)
	if err != nil {
		return nil, err
	}
	p, err := s.proposals.GetByID(ctx, c.ProposalID)
	if err != nil {
		return nil, fmt.Errorf("load proposal for contract %d: %w", c.ID, err)
	}
	if err := Authorize(actor, p.RequesterID, OpUpdate); err != nil {
		return nil, err
	}
	return c, nil
}

// PaymentPreview is one installment of a previewed schedule.
type PaymentPreview struct {
	Label   string  `json:"label"`
	DueDate string  `json:"due_date"`
	Amount  float64 `json:"amount"`
}

// PreviewPaymentSchedule evaluates the installment formulas declared in the
// contract template's config against the contract's amounts. Pure preview,
// nothing is persisted.
func (s *ContractService) PreviewPaymentSchedule(ctx context.Context, actor model.Actor, id uint) ([]PaymentPreview, error) {
	c, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	tmpl, err := s.resolveTemplate(ctx, c)
	if err != nil {
		return nil, err
	}

	installments, ok := tmpl.Config["installments"].([]any)
	if !ok || len(installments) == 0 {
		return nil, Invalid("template", "installments", "template declares no installment schedule")
	}

	total, _ := asFloat(c.Fields["total_amount"])
	discounted, hasDiscounted := asFloat(c.Fields["discounted_amount"])
	if !hasDiscounted {
		discounted = total
	}
	parameters := map[string]any{
		"total":      total,
		"discounted": discounted,
		"discount":   total - discounted,
	}

	start := time.Now()
	if raw, ok := c.Fields["start_date"].(string); ok {
		if parsed, err := time.Parse("2006-01-02", raw); err == nil {
			start = parsed
		}
	}

	schedule := make([]PaymentPreview, 0, len(installments))
	for i, raw := range installments {
		inst, ok := raw.(map[string]any)
		if !ok {
			return nil, Invalid("template", "installments", fmt.Sprintf("installment %d is malformed", i))
		}
		formula, _ := inst["formula"].(string)
		expression, err := govaluate.NewEvaluableExpression(formula)
		if err != nil {
			return nil, Invalid("template", "installments", fmt.Sprintf("formula %q does not parse", formula))
		}
		result, err := expression.Evaluate(parameters)
		if err != nil {
			return nil, Invalid("template", "installments", fmt.Sprintf("formula %q failed to evaluate", formula))
		}
		amount, ok := result.(float64)
		if !ok {
			return nil, Invalid("template", "installments", fmt.Sprintf("formula %q is not numeric", formula))
		}

		months := 0
		if m, ok := asFloat(inst["months_after_start"]); ok {
			months = int(m)
		}
		label, _ := inst["label"].(string)
		schedule = append(schedule, PaymentPreview{
			Label:   label,
			DueDate: start.AddDate(0, months, 0).Format("January 2, 2006"),
			Amount:  amount,
		})
	}
	return schedule, nil
}

// --- helpers ---

func (s *ContractService) getContract(ctx context.Context, id uint) (*model.Contract, error) {
	c, err := s.contracts.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, NotFound("contract", "contract not found")
		}
		return nil, err
	}
	return c, nil
}

func (s *ContractService) resolveTemplate(ctx context.Context, c *model.Contract) (*model.Template, error) {
	if c.TemplateID != nil {
		return s.templates.GetByID(ctx, *c.TemplateID)
	}
	return s.templates.GetByType(ctx, model.TemplateContract)
}

func contractRenderData(c *model.Contract) model.JSONMap {
	data := model.JSONMap{
		"contract_duration": c.ContractDuration,
	}
	for k, v := range c.Fields {
		data[k] = v
	}
	return data
}
