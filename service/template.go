package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/noturnachs/wasteph-sub000/model"
	"github.com/noturnachs/wasteph-sub000/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// TemplateService manages versioned document templates and enforces the
// "one active per type" and "one default overall" rules. Reads on the hot
// path go through an optional redis cache; the cache is a non-critical
// collaborator, so every cache failure is logged and bypassed.
type TemplateService struct {
	store TemplateStore
	cache *redis.Client
	ttl   time.Duration
}

func NewTemplateService(store TemplateStore, cache *redis.Client, ttl time.Duration) *TemplateService {
	return &TemplateService{store: store, cache: cache, ttl: ttl}
}

type TemplateInput struct {
	Type   string        `json:"type" binding:"required"`
	Name   string        `json:"name" binding:"required"`
	HTML   string        `json:"html" binding:"required"`
	Config model.JSONMap `json:"config"`
}

func (s *TemplateService) Create(ctx context.Context, in TemplateInput) (*model.Template, error) {
	if in.Type != model.TemplateProposal && in.Type != model.TemplateContract {
		return nil, Invalid("template", "type", "type must be proposal or contract")
	}
	if in.HTML == "" {
		return nil, Invalid("template", "html", "template body is required")
	}

	// Creating a new active template supersedes the previous active one of
	// the same type.
	if prev, err := s.store.ActiveByType(ctx, in.Type); err == nil {
		prev.IsActive = false
		if err := s.store.Update(ctx, prev); err != nil {
			return nil, fmt.Errorf("deactivate previous template: %w", err)
		}
	} else if !errors.Is(err, ErrRecordNotFound) {
		return nil, err
	}

	t := &model.Template{
		Type:     in.Type,
		Name:     in.Name,
		HTML:     in.HTML,
		Config:   in.Config,
		IsActive: true,
	}
	if err := s.store.Create(ctx, t); err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	return t, nil
}

// TemplateUpdateInput carries a partial update. Empty fields are left
// untouched; the type of an existing template never changes.
type TemplateUpdateInput struct {
	Type   string        `json:"type"`
	Name   string        `json:"name"`
	HTML   string        `json:"html"`
	Config model.JSONMap `json:"config"`
}

func (s *TemplateService) Update(ctx context.Context, id uint, in TemplateUpdateInput) (*model.Template, error) {
	t, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, NotFound("template", "template not found")
		}
		return nil, err
	}
	if in.Type != "" && in.Type != t.Type {
		return nil, Invalid("template", "type", "template type cannot be changed")
	}
	if in.Name != "" {
		t.Name = in.Name
	}
	if in.HTML != "" {
		t.HTML = in.HTML
	}
	if in.Config != nil {
		t.Config = in.Config
	}
	if err := s.store.Update(ctx, t); err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	return t, nil
}

// SetDefault atomically moves the default flag; the previous default is
// unset in the same storage transaction.
func (s *TemplateService) SetDefault(ctx context.Context, id uint) (*model.Template, error) {
	t, err := s.store.SetDefault(ctx, id)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, NotFound("template", "template not found")
		}
		return nil, err
	}
	s.invalidate(ctx)
	return t, nil
}

// SoftDelete retires a template. The current default cannot be deleted.
func (s *TemplateService) SoftDelete(ctx context.Context, id uint) error {
	t, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return NotFound("template", "template not found")
		}
		return err
	}
	if t.IsDefault {
		return Invalid("template", "is_default", "the default template cannot be deleted")
	}
	if err := s.store.SoftDelete(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

func (s *TemplateService) GetByID(ctx context.Context, id uint) (*model.Template, error) {
	t, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, NotFound("template", "template not found")
		}
		return nil, err
	}
	return t, nil
}

// GetByType resolves the active template for a type, falling back to the
// default when none matches.
func (s *TemplateService) GetByType(ctx context.Context, templateType string) (*model.Template, error) {
	if t := s.cached(ctx, "template:type:"+templateType); t != nil {
		return t, nil
	}
	t, err := s.store.ActiveByType(ctx, templateType)
	if errors.Is(err, ErrRecordNotFound) {
		return s.GetDefault(ctx)
	}
	if err != nil {
		return nil, err
	}
	s.put(ctx, "template:type:"+templateType, t)
	return t, nil
}

// GetDefault resolves the flagged default, falling back to the most recently
// created active template. No templates at all is a fatal configuration
// error, distinct from an empty list.
func (s *TemplateService) GetDefault(ctx context.Context) (*model.Template, error) {
	if t := s.cached(ctx, "template:default"); t != nil {
		return t, nil
	}
	t, err := s.store.Default(ctx)
	if errors.Is(err, ErrRecordNotFound) {
		t, err = s.store.NewestActive(ctx)
		if errors.Is(err, ErrRecordNotFound) {
			return nil, NotFound("template", "no document templates are configured")
		}
	}
	if err != nil {
		return nil, err
	}
	s.put(ctx, "template:default", t)
	return t, nil
}

// --- cache helpers ---

func (s *TemplateService) cached(ctx context.Context, key string) *model.Template {
	if s.cache == nil {
		return nil
	}
	data, err := s.cache.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Warn(ctx, "template cache read failed", "key", key, "error", err)
		}
		return nil
	}
	var t model.Template
	if err := json.Unmarshal(data, &t); err != nil {
		logger.Warn(ctx, "template cache entry corrupt", "key", key, "error", err)
		return nil
	}
	return &t
}

func (s *TemplateService) put(ctx context.Context, key string, t *model.Template) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(t)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, data, s.ttl).Err(); err != nil {
		logger.Warn(ctx, "template cache write failed", "key", key, "error", err)
	}
}

func (s *TemplateService) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	keys := []string{
		"template:default",
		"template:type:" + model.TemplateProposal,
		"template:type:" + model.TemplateContract,
	}
	if err := s.cache.Del(ctx, keys...).Err(); err != nil {
		logger.Warn(ctx, "template cache invalidation failed", "error", err)
	}
}
