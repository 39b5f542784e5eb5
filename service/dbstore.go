package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/noturnachs/wasteph-sub000/model"
	"gorm.io/gorm"
)

// DBStore is the postgres-backed implementation of the store interfaces.
type DBStore struct {
	db *gorm.DB
}

func NewDBStore(db *gorm.DB) *DBStore {
	return &DBStore{db: db}
}

// Migrate creates or updates the lifecycle tables.
func (s *DBStore) Migrate() error {
	return s.db.AutoMigrate(
		&model.Proposal{},
		&model.Contract{},
		&model.Client{},
		&model.Template{},
		&model.SequenceCounter{},
		&model.Inquiry{},
		&model.AuditEntry{},
	)
}

func translateDBError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrRecordNotFound
	}
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "duplicate key value")
}

// --- ProposalStore ---

type dbProposals struct{ s *DBStore }

func (s *DBStore) Proposals() ProposalStore { return dbProposals{s} }

func (v dbProposals) Create(ctx context.Context, p *model.Proposal) error {
	return translateDBError(v.s.db.WithContext(ctx).Create(p).Error)
}

func (v dbProposals) GetByID(ctx context.Context, id uint) (*model.Proposal, error) {
	var p model.Proposal
	if err := v.s.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, translateDBError(err)
	}
	return &p, nil
}

func (v dbProposals) Update(ctx context.Context, p *model.Proposal) error {
	return translateDBError(v.s.db.WithContext(ctx).Save(p).Error)
}

// MarkSent is the conditional write keyed on (id, status=approved). A losing
// concurrent sender sees zero affected rows and gets ErrStatusConflict.
func (v dbProposals) MarkSent(ctx context.Context, id, senderID uint, documentKey string, at time.Time) (*model.Proposal, error) {
	result := v.s.db.WithContext(ctx).Model(&model.Proposal{}).
		Where("id = ? AND status = ?", id, model.ProposalApproved).
		Updates(map[string]any{
			"status":       model.ProposalSent,
			"email_status": model.EmailSent,
			"sender_id":    senderID,
			"document_key": documentKey,
			"sent_at":      at,
		})
	if result.Error != nil {
		return nil, translateDBError(result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrStatusConflict
	}
	return v.GetByID(ctx, id)
}

// MarkEmailFailed records the failed delivery with the same status key as
// MarkSent so it can never revert a row a concurrent sender already moved.
func (v dbProposals) MarkEmailFailed(ctx context.Context, id uint, documentKey string) error {
	result := v.s.db.WithContext(ctx).Model(&model.Proposal{}).
		Where("id = ? AND status = ?", id, model.ProposalApproved).
		Updates(map[string]any{
			"email_status": model.EmailFailed,
			"document_key": documentKey,
		})
	if result.Error != nil {
		return translateDBError(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrStatusConflict
	}
	return nil
}

// --- ContractStore ---

type dbContracts struct{ s *DBStore }

func (s *DBStore) Contracts() ContractStore { return dbContracts{s} }

func (v dbContracts) Create(ctx context.Context, c *model.Contract) error {
	return translateDBError(v.s.db.WithContext(ctx).Create(c).Error)
}

func (v dbContracts) GetByID(ctx context.Context, id uint) (*model.Contract, error) {
	var c model.Contract
	if err := v.s.db.WithContext(ctx).First(&c, id).Error; err != nil {
		return nil, translateDBError(err)
	}
	return &c, nil
}

func (v dbContracts) GetByProposal(ctx context.Context, proposalID uint) (*model.Contract, error) {
	var c model.Contract
	if err := v.s.db.WithContext(ctx).Where("proposal_id = ?", proposalID).First(&c).Error; err != nil {
		return nil, translateDBError(err)
	}
	return &c, nil
}

func (v dbContracts) GetByToken(ctx context.Context, token string) (*model.Contract, error) {
	if token == "" {
		return nil, ErrRecordNotFound
	}
	var c model.Contract
	if err := v.s.db.WithContext(ctx).Where("submission_token = ?", token).First(&c).Error; err != nil {
		return nil, translateDBError(err)
	}
	return &c, nil
}

func (v dbContracts) Update(ctx context.Context, c *model.Contract) error {
	return translateDBError(v.s.db.WithContext(ctx).Save(c).Error)
}

// Sign provisions the client and flips the contract to signed in one
// transaction. The status re-check inside the transaction keeps a retried
// signing request from double-applying.
func (v dbContracts) Sign(ctx context.Context, id uint, req SignRequest) (*model.Contract, error) {
	var signed *model.Contract
	err := v.s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var c model.Contract
		if err := tx.First(&c, id).Error; err != nil {
			return translateDBError(err)
		}
		if c.Status != model.ContractSentToClient {
			return ErrStatusConflict
		}

		client, err := findOrCreateClientTx(tx, &model.Client{
			Email:   model.NormalizeEmail(req.ClientEmail),
			Name:    req.ClientName,
			Company: req.ClientCompany,
		})
		if err != nil {
			return err
		}

		at := req.SignedAt
		result := tx.Model(&model.Contract{}).
			Where("id = ? AND status = ?", id, model.ContractSentToClient).
			Updates(map[string]any{
				"status":              model.ContractSigned,
				"signed_document_key": req.SignedDocumentKey,
				"signer_ip":           req.SignerIP,
				"signed_at":           at,
				"client_id":           client.ID,
			})
		if result.Error != nil {
			return translateDBError(result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrStatusConflict
		}

		c.Status = model.ContractSigned
		c.SignedDocumentKey = req.SignedDocumentKey
		c.SignerIP = req.SignerIP
		c.SignedAt = &at
		c.ClientID = &client.ID
		signed = &c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return signed, nil
}

// --- ClientStore ---

type dbClients struct{ s *DBStore }

func (s *DBStore) Clients() ClientStore { return dbClients{s} }

func (v dbClients) GetByEmail(ctx context.Context, email string) (*model.Client, error) {
	var client model.Client
	err := v.s.db.WithContext(ctx).Where("email = ?", model.NormalizeEmail(email)).First(&client).Error
	if err != nil {
		return nil, translateDBError(err)
	}
	return &client, nil
}

func (v dbClients) FindOrCreate(ctx context.Context, client *model.Client) (*model.Client, error) {
	return findOrCreateClientTx(v.s.db.WithContext(ctx), client)
}

// findOrCreateClientTx looks a client up by normalized email and inserts on
// miss. A concurrent insert loses the unique-index race and re-reads, so the
// same email never yields two rows.
func findOrCreateClientTx(tx *gorm.DB, client *model.Client) (*model.Client, error) {
	email := model.NormalizeEmail(client.Email)

	var existing model.Client
	err := tx.Where("email = ?", email).First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	created := model.Client{Email: email, Name: client.Name, Company: client.Company}
	if err := tx.Create(&created).Error; err != nil {
		if isUniqueViolation(err) {
			if err := tx.Where("email = ?", email).First(&existing).Error; err != nil {
				return nil, translateDBError(err)
			}
			return &existing, nil
		}
		return nil, err
	}
	return &created, nil
}

// --- TemplateStore ---

type dbTemplates struct{ s *DBStore }

func (s *DBStore) Templates() TemplateStore { return dbTemplates{s} }

func (v dbTemplates) Create(ctx context.Context, t *model.Template) error {
	return translateDBError(v.s.db.WithContext(ctx).Create(t).Error)
}

func (v dbTemplates) GetByID(ctx context.Context, id uint) (*model.Template, error) {
	var t model.Template
	if err := v.s.db.WithContext(ctx).First(&t, id).Error; err != nil {
		return nil, translateDBError(err)
	}
	return &t, nil
}

func (v dbTemplates) Update(ctx context.Context, t *model.Template) error {
	return translateDBError(v.s.db.WithContext(ctx).Save(t).Error)
}

// SetDefault unsets every other default and flags the target in one
// transaction so the single-default invariant survives a crash between the
// two writes.
func (v dbTemplates) SetDefault(ctx context.Context, id uint) (*model.Template, error) {
	var target model.Template
	err := v.s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&target, id).Error; err != nil {
			return translateDBError(err)
		}
		if err := tx.Model(&model.Template{}).Where("id <> ?", id).
			Update("is_default", false).Error; err != nil {
			return err
		}
		if err := tx.Model(&target).Update("is_default", true).Error; err != nil {
			return err
		}
		target.IsDefault = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &target, nil
}

func (v dbTemplates) SoftDelete(ctx context.Context, id uint) error {
	result := v.s.db.WithContext(ctx).Delete(&model.Template{}, id)
	if result.Error != nil {
		return translateDBError(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (v dbTemplates) ActiveByType(ctx context.Context, templateType string) (*model.Template, error) {
	var t model.Template
	err := v.s.db.WithContext(ctx).
		Where("type = ? AND is_active = ?", templateType, true).
		Order("created_at desc").First(&t).Error
	if err != nil {
		return nil, translateDBError(err)
	}
	return &t, nil
}

func (v dbTemplates) Default(ctx context.Context) (*model.Template, error) {
	var t model.Template
	err := v.s.db.WithContext(ctx).
		Where("is_default = ? AND is_active = ?", true, true).First(&t).Error
	if err != nil {
		return nil, translateDBError(err)
	}
	return &t, nil
}

func (v dbTemplates) NewestActive(ctx context.Context) (*model.Template, error) {
	var t model.Template
	err := v.s.db.WithContext(ctx).
		Where("is_active = ?", true).Order("created_at desc").First(&t).Error
	if err != nil {
		return nil, translateDBError(err)
	}
	return &t, nil
}

// --- SequenceStore ---

// Allocate advances the per-(kind, day) counter with a single upsert so
// concurrent callers never observe the same value and no read-then-write gap
// exists.
func (s *DBStore) Allocate(ctx context.Context, kind, day string) (int, error) {
	var row struct{ Value int }
	err := s.db.WithContext(ctx).Raw(`
		INSERT INTO sequence_counters (kind, day, value) VALUES (?, ?, 1)
		ON CONFLICT (kind, day) DO UPDATE SET value = sequence_counters.value + 1
		RETURNING value`, kind, day).Scan(&row).Error
	if err != nil {
		return 0, err
	}
	return row.Value, nil
}

// --- InquiryStore ---

type dbInquiries struct{ s *DBStore }

func (s *DBStore) Inquiries() InquiryStore { return dbInquiries{s} }

func (v dbInquiries) GetByID(ctx context.Context, id uint) (*model.Inquiry, error) {
	var inq model.Inquiry
	if err := v.s.db.WithContext(ctx).First(&inq, id).Error; err != nil {
		return nil, translateDBError(err)
	}
	return &inq, nil
}

func (v dbInquiries) UpdateStatus(ctx context.Context, id uint, status string) error {
	result := v.s.db.WithContext(ctx).Model(&model.Inquiry{}).
		Where("id = ?", id).Update("status", status)
	if result.Error != nil {
		return translateDBError(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// --- AuditStore ---

func (s *DBStore) Append(ctx context.Context, entry *model.AuditEntry) error {
	return translateDBError(s.db.WithContext(ctx).Create(entry).Error)
}
