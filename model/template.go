package model

import (
	"time"

	"gorm.io/gorm"
)

// Template is a reusable document skeleton: an HTML body plus structured
// config. At most one active template per type; exactly one default overall.
type Template struct {
	ID   uint   `gorm:"primaryKey" json:"id"`
	Type string `gorm:"not null;index" json:"type"` // proposal, contract
	Name string `gorm:"not null" json:"name"`
	HTML string `gorm:"type:text;not null" json:"html"`

	// Config may carry renderer hints such as "required_fields" and, for
	// contract templates, an "installments" schedule definition.
	Config JSONMap `gorm:"type:jsonb" json:"config"`

	IsActive  bool `gorm:"not null;default:true" json:"is_active"`
	IsDefault bool `gorm:"not null;default:false" json:"is_default"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// Template types
const (
	TemplateProposal = "proposal"
	TemplateContract = "contract"
)

// RequiredFields returns the field names the template expects in its data,
// from the "required_fields" config entry. A template without the entry
// expects nothing in particular.
func (t *Template) RequiredFields() []string {
	raw, ok := t.Config["required_fields"]
	if !ok {
		return nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	fields := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			fields = append(fields, s)
		}
	}
	return fields
}
