package service

import (
	"context"
	"sync"
	"time"

	"github.com/noturnachs/wasteph-sub000/model"
)

// MemStore is an in-memory implementation of every store interface. It backs
// the test suite and mirrors the row-level atomicity the database store
// provides: every mutation happens under one lock.
type MemStore struct {
	mu sync.Mutex

	proposals map[uint]*model.Proposal
	contracts map[uint]*model.Contract
	clients   map[string]*model.Client // keyed by normalized email
	templates map[uint]*model.Template
	inquiries map[uint]*model.Inquiry
	sequences map[string]int // kind|day
	audit     []*model.AuditEntry

	nextProposal uint
	nextContract uint
	nextClient   uint
	nextTemplate uint
}

func NewMemStore() *MemStore {
	return &MemStore{
		proposals: make(map[uint]*model.Proposal),
		contracts: make(map[uint]*model.Contract),
		clients:   make(map[string]*model.Client),
		templates: make(map[uint]*model.Template),
		inquiries: make(map[uint]*model.Inquiry),
		sequences: make(map[string]int),
	}
}

// cloneProposal, cloneContract and cloneTemplate back the copy-out
// semantics: rows leave and enter the store as copies that share no maps
// with the caller.
func cloneProposal(p *model.Proposal) *model.Proposal {
	cp := *p
	cp.Payload = p.Payload.Clone()
	return &cp
}

func cloneContract(c *model.Contract) *model.Contract {
	cp := *c
	cp.Fields = c.Fields.Clone()
	return &cp
}

func cloneTemplate(t *model.Template) *model.Template {
	cp := *t
	cp.Config = t.Config.Clone()
	return &cp
}

// --- ProposalStore ---

func (s *MemStore) Create(ctx context.Context, p *model.Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextProposal++
	p.ID = s.nextProposal
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	s.proposals[p.ID] = cloneProposal(p)
	return nil
}

func (s *MemStore) GetByID(ctx context.Context, id uint) (*model.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.proposals[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return cloneProposal(p), nil
}

func (s *MemStore) Update(ctx context.Context, p *model.Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.proposals[p.ID]; !ok {
		return ErrRecordNotFound
	}
	p.UpdatedAt = time.Now()
	s.proposals[p.ID] = cloneProposal(p)
	return nil
}

func (s *MemStore) MarkSent(ctx context.Context, id, senderID uint, documentKey string, at time.Time) (*model.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.proposals[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	if p.Status != model.ProposalApproved {
		return nil, ErrStatusConflict
	}
	p.Status = model.ProposalSent
	p.EmailStatus = model.EmailSent
	p.SenderID = &senderID
	p.DocumentKey = documentKey
	p.SentAt = &at
	p.UpdatedAt = time.Now()
	return cloneProposal(p), nil
}

func (s *MemStore) MarkProposalEmailFailed(ctx context.Context, id uint, documentKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.proposals[id]
	if !ok {
		return ErrRecordNotFound
	}
	if p.Status != model.ProposalApproved {
		return ErrStatusConflict
	}
	p.EmailStatus = model.EmailFailed
	p.DocumentKey = documentKey
	p.UpdatedAt = time.Now()
	return nil
}

// --- ContractStore ---

func (s *MemStore) CreateContract(ctx context.Context, c *model.Contract) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.contracts {
		if existing.ProposalID == c.ProposalID {
			return ErrDuplicate
		}
	}
	s.nextContract++
	c.ID = s.nextContract
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	s.contracts[c.ID] = cloneContract(c)
	return nil
}

func (s *MemStore) GetContract(ctx context.Context, id uint) (*model.Contract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contracts[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return cloneContract(c), nil
}

func (s *MemStore) GetContractByProposal(ctx context.Context, proposalID uint) (*model.Contract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.contracts {
		if c.ProposalID == proposalID {
			return cloneContract(c), nil
		}
	}
	return nil, ErrRecordNotFound
}

func (s *MemStore) GetContractByToken(ctx context.Context, token string) (*model.Contract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token == "" {
		return nil, ErrRecordNotFound
	}
	for _, c := range s.contracts {
		if c.SubmissionToken == token {
			return cloneContract(c), nil
		}
	}
	return nil, ErrRecordNotFound
}

func (s *MemStore) UpdateContract(ctx context.Context, c *model.Contract) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.contracts[c.ID]; !ok {
		return ErrRecordNotFound
	}
	c.UpdatedAt = time.Now()
	s.contracts[c.ID] = cloneContract(c)
	return nil
}

func (s *MemStore) SignContract(ctx context.Context, id uint, req SignRequest) (*model.Contract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contracts[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	if c.Status != model.ContractSentToClient {
		return nil, ErrStatusConflict
	}

	client := s.findOrCreateClientLocked(&model.Client{
		Email:   model.NormalizeEmail(req.ClientEmail),
		Name:    req.ClientName,
		Company: req.ClientCompany,
	})

	c.Status = model.ContractSigned
	c.SignedDocumentKey = req.SignedDocumentKey
	c.SignerIP = req.SignerIP
	at := req.SignedAt
	c.SignedAt = &at
	c.ClientID = &client.ID
	c.UpdatedAt = time.Now()
	return cloneContract(c), nil
}

// --- ClientStore ---

func (s *MemStore) GetByEmail(ctx context.Context, email string) (*model.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	client, ok := s.clients[model.NormalizeEmail(email)]
	if !ok {
		return nil, ErrRecordNotFound
	}
	cp := *client
	return &cp, nil
}

func (s *MemStore) FindOrCreate(ctx context.Context, client *model.Client) (*model.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	found := s.findOrCreateClientLocked(client)
	cp := *found
	return &cp, nil
}

func (s *MemStore) findOrCreateClientLocked(client *model.Client) *model.Client {
	email := model.NormalizeEmail(client.Email)
	if existing, ok := s.clients[email]; ok {
		return existing
	}
	s.nextClient++
	created := &model.Client{
		ID:        s.nextClient,
		Email:     email,
		Name:      client.Name,
		Company:   client.Company,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	s.clients[email] = created
	return created
}

func (s *MemStore) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// --- TemplateStore ---

func (s *MemStore) CreateTemplate(ctx context.Context, t *model.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextTemplate++
	t.ID = s.nextTemplate
	t.CreatedAt = time.Now()
	t.UpdatedAt = t.CreatedAt
	s.templates[t.ID] = cloneTemplate(t)
	return nil
}

func (s *MemStore) GetTemplate(ctx context.Context, id uint) (*model.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.templates[id]
	if !ok || t.DeletedAt.Valid {
		return nil, ErrRecordNotFound
	}
	return cloneTemplate(t), nil
}

func (s *MemStore) UpdateTemplate(ctx context.Context, t *model.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.templates[t.ID]; !ok {
		return ErrRecordNotFound
	}
	t.UpdatedAt = time.Now()
	s.templates[t.ID] = cloneTemplate(t)
	return nil
}

func (s *MemStore) SetDefaultTemplate(ctx context.Context, id uint) (*model.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.templates[id]
	if !ok || target.DeletedAt.Valid {
		return nil, ErrRecordNotFound
	}
	for _, t := range s.templates {
		t.IsDefault = false
	}
	target.IsDefault = true
	target.UpdatedAt = time.Now()
	return cloneTemplate(target), nil
}

func (s *MemStore) SoftDeleteTemplate(ctx context.Context, id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.templates[id]
	if !ok || t.DeletedAt.Valid {
		return ErrRecordNotFound
	}
	t.DeletedAt.Time = time.Now()
	t.DeletedAt.Valid = true
	return nil
}

func (s *MemStore) ActiveTemplateByType(ctx context.Context, templateType string) (*model.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var newest *model.Template
	for _, t := range s.templates {
		if t.DeletedAt.Valid || !t.IsActive || t.Type != templateType {
			continue
		}
		if newest == nil || t.CreatedAt.After(newest.CreatedAt) {
			newest = t
		}
	}
	if newest == nil {
		return nil, ErrRecordNotFound
	}
	return cloneTemplate(newest), nil
}

func (s *MemStore) DefaultTemplate(ctx context.Context) (*model.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.templates {
		if !t.DeletedAt.Valid && t.IsActive && t.IsDefault {
			return cloneTemplate(t), nil
		}
	}
	return nil, ErrRecordNotFound
}

func (s *MemStore) NewestActiveTemplate(ctx context.Context) (*model.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var newest *model.Template
	for _, t := range s.templates {
		if t.DeletedAt.Valid || !t.IsActive {
			continue
		}
		if newest == nil || t.CreatedAt.After(newest.CreatedAt) {
			newest = t
		}
	}
	if newest == nil {
		return nil, ErrRecordNotFound
	}
	return cloneTemplate(newest), nil
}

// --- SequenceStore ---

func (s *MemStore) Allocate(ctx context.Context, kind, day string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := kind + "|" + day
	s.sequences[key]++
	return s.sequences[key], nil
}

// --- InquiryStore ---

func (s *MemStore) PutInquiry(inq *model.Inquiry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *inq
	s.inquiries[inq.ID] = &cp
}

func (s *MemStore) GetInquiry(ctx context.Context, id uint) (*model.Inquiry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inq, ok := s.inquiries[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	cp := *inq
	return &cp, nil
}

func (s *MemStore) UpdateInquiryStatus(ctx context.Context, id uint, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inq, ok := s.inquiries[id]
	if !ok {
		return ErrRecordNotFound
	}
	inq.Status = status
	inq.UpdatedAt = time.Now()
	return nil
}

// --- AuditStore ---

func (s *MemStore) Append(ctx context.Context, entry *model.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *entry
	cp.CreatedAt = time.Now()
	s.audit = append(s.audit, &cp)
	return nil
}

func (s *MemStore) AuditEntries() []*model.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.AuditEntry, len(s.audit))
	copy(out, s.audit)
	return out
}

// --- interface views ---
//
// The per-entity store interfaces overlap in method names, so MemStore
// exposes them through thin views.

type memProposals struct{ s *MemStore }
type memContracts struct{ s *MemStore }
type memClients struct{ s *MemStore }
type memTemplates struct{ s *MemStore }
type memInquiries struct{ s *MemStore }

func (s *MemStore) Proposals() ProposalStore { return memProposals{s} }
func (s *MemStore) Contracts() ContractStore { return memContracts{s} }
func (s *MemStore) Clients() ClientStore     { return memClients{s} }
func (s *MemStore) Templates() TemplateStore { return memTemplates{s} }
func (s *MemStore) Inquiries() InquiryStore  { return memInquiries{s} }

func (v memProposals) Create(ctx context.Context, p *model.Proposal) error { return v.s.Create(ctx, p) }
func (v memProposals) GetByID(ctx context.Context, id uint) (*model.Proposal, error) {
	return v.s.GetByID(ctx, id)
}
func (v memProposals) Update(ctx context.Context, p *model.Proposal) error { return v.s.Update(ctx, p) }
func (v memProposals) MarkSent(ctx context.Context, id, senderID uint, documentKey string, at time.Time) (*model.Proposal, error) {
	return v.s.MarkSent(ctx, id, senderID, documentKey, at)
}
func (v memProposals) MarkEmailFailed(ctx context.Context, id uint, documentKey string) error {
	return v.s.MarkProposalEmailFailed(ctx, id, documentKey)
}

func (v memContracts) Create(ctx context.Context, c *model.Contract) error {
	return v.s.CreateContract(ctx, c)
}
func (v memContracts) GetByID(ctx context.Context, id uint) (*model.Contract, error) {
	return v.s.GetContract(ctx, id)
}
func (v memContracts) GetByProposal(ctx context.Context, proposalID uint) (*model.Contract, error) {
	return v.s.GetContractByProposal(ctx, proposalID)
}
func (v memContracts) GetByToken(ctx context.Context, token string) (*model.Contract, error) {
	return v.s.GetContractByToken(ctx, token)
}
func (v memContracts) Update(ctx context.Context, c *model.Contract) error {
	return v.s.UpdateContract(ctx, c)
}
func (v memContracts) Sign(ctx context.Context, id uint, req SignRequest) (*model.Contract, error) {
	return v.s.SignContract(ctx, id, req)
}

func (v memClients) GetByEmail(ctx context.Context, email string) (*model.Client, error) {
	return v.s.GetByEmail(ctx, email)
}
func (v memClients) FindOrCreate(ctx context.Context, client *model.Client) (*model.Client, error) {
	return v.s.FindOrCreate(ctx, client)
}

func (v memTemplates) Create(ctx context.Context, t *model.Template) error {
	return v.s.CreateTemplate(ctx, t)
}
func (v memTemplates) GetByID(ctx context.Context, id uint) (*model.Template, error) {
	return v.s.GetTemplate(ctx, id)
}
func (v memTemplates) Update(ctx context.Context, t *model.Template) error {
	return v.s.UpdateTemplate(ctx, t)
}
func (v memTemplates) SetDefault(ctx context.Context, id uint) (*model.Template, error) {
	return v.s.SetDefaultTemplate(ctx, id)
}
func (v memTemplates) SoftDelete(ctx context.Context, id uint) error {
	return v.s.SoftDeleteTemplate(ctx, id)
}
func (v memTemplates) ActiveByType(ctx context.Context, templateType string) (*model.Template, error) {
	return v.s.ActiveTemplateByType(ctx, templateType)
}
func (v memTemplates) Default(ctx context.Context) (*model.Template, error) {
	return v.s.DefaultTemplate(ctx)
}
func (v memTemplates) NewestActive(ctx context.Context) (*model.Template, error) {
	return v.s.NewestActiveTemplate(ctx)
}

func (v memInquiries) GetByID(ctx context.Context, id uint) (*model.Inquiry, error) {
	return v.s.GetInquiry(ctx, id)
}
func (v memInquiries) UpdateStatus(ctx context.Context, id uint, status string) error {
	return v.s.UpdateInquiryStatus(ctx, id, status)
}
