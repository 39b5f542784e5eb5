package service

import (
	"context"
	"strings"
	"testing"

	"github.com/noturnachs/wasteph-sub000/model"
)

func newTemplateService(t *testing.T) (*TemplateService, *MemStore) {
	t.Helper()
	store := NewMemStore()
	return NewTemplateService(store.Templates(), nil, 0), store
}

func TestTemplateCreateSupersedesActive(t *testing.T) {
	svc, _ := newTemplateService(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, TemplateInput{Type: model.TemplateProposal, Name: "v1", HTML: "<p>v1</p>"})
	if err != nil {
		t.Fatalf("Failed to create: %v", err)
	}
	second, err := svc.Create(ctx, TemplateInput{Type: model.TemplateProposal, Name: "v2", HTML: "<p>v2</p>"})
	if err != nil {
		t.Fatalf("Failed to create: %v", err)
	}

	got, err := svc.GetByType(ctx, model.TemplateProposal)
	if err != nil {
		t.Fatalf("Failed to resolve by type: %v", err)
	}
	if got.ID != second.ID {
		t.Errorf("Active template = %d, want %d", got.ID, second.ID)
	}

	reloaded, err := svc.GetByID(ctx, first.ID)
	if err != nil {
		t.Fatalf("Failed to reload first: %v", err)
	}
	if reloaded.IsActive {
		t.Error("Previous template should have been deactivated")
	}
}

func TestTemplateCreateValidation(t *testing.T) {
	svc, _ := newTemplateService(t)

	tests := []struct {
		name string
		in   TemplateInput
	}{
		{"bad type", TemplateInput{Type: "invoice", Name: "x", HTML: "<p></p>"}},
		{"empty html", TemplateInput{Type: model.TemplateProposal, Name: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Create(context.Background(), tt.in); KindOf(err) != KindValidationFailed {
				t.Errorf("Expected validation_failed, got %v", err)
			}
		})
	}
}

func TestTemplateSetDefaultMovesFlag(t *testing.T) {
	svc, _ := newTemplateService(t)
	ctx := context.Background()

	a, _ := svc.Create(ctx, TemplateInput{Type: model.TemplateProposal, Name: "a", HTML: "<p>a</p>"})
	b, _ := svc.Create(ctx, TemplateInput{Type: model.TemplateContract, Name: "b", HTML: "<p>b</p>"})

	if _, err := svc.SetDefault(ctx, a.ID); err != nil {
		t.Fatalf("Failed to set default: %v", err)
	}
	if _, err := svc.SetDefault(ctx, b.ID); err != nil {
		t.Fatalf("Failed to move default: %v", err)
	}

	oldDefault, err := svc.GetByID(ctx, a.ID)
	if err != nil {
		t.Fatalf("Failed to reload: %v", err)
	}
	if oldDefault.IsDefault {
		t.Error("Previous default flag not cleared")
	}
	newDefault, err := svc.GetDefault(ctx)
	if err != nil {
		t.Fatalf("Failed to resolve default: %v", err)
	}
	if newDefault.ID != b.ID {
		t.Errorf("Default = %d, want %d", newDefault.ID, b.ID)
	}
}

func TestTemplateDeleteDefaultRejected(t *testing.T) {
	svc, _ := newTemplateService(t)
	ctx := context.Background()

	tmpl, _ := svc.Create(ctx, TemplateInput{Type: model.TemplateProposal, Name: "a", HTML: "<p>a</p>"})
	if _, err := svc.SetDefault(ctx, tmpl.ID); err != nil {
		t.Fatalf("Failed to set default: %v", err)
	}

	if err := svc.SoftDelete(ctx, tmpl.ID); KindOf(err) != KindValidationFailed {
		t.Errorf("Expected validation_failed deleting the default, got %v", err)
	}
}

func TestTemplateSoftDeleteHidesFromResolution(t *testing.T) {
	svc, _ := newTemplateService(t)
	ctx := context.Background()

	a, _ := svc.Create(ctx, TemplateInput{Type: model.TemplateProposal, Name: "a", HTML: "<p>a</p>"})
	b, _ := svc.Create(ctx, TemplateInput{Type: model.TemplateContract, Name: "b", HTML: "<p>b</p>"})

	if err := svc.SoftDelete(ctx, b.ID); err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}
	if _, err := svc.GetByID(ctx, b.ID); KindOf(err) != KindNotFound {
		t.Errorf("Expected not_found after delete, got %v", err)
	}

	// Contract type now falls back through the chain to the one remaining
	// active template
	got, err := svc.GetByType(ctx, model.TemplateContract)
	if err != nil {
		t.Fatalf("Failed to resolve: %v", err)
	}
	if got.ID != a.ID {
		t.Errorf("Fallback resolved %d, want %d", got.ID, a.ID)
	}
}

func TestTemplateFallbackChain(t *testing.T) {
	svc, _ := newTemplateService(t)
	ctx := context.Background()

	// Nothing configured at all
	_, err := svc.GetByType(ctx, model.TemplateContract)
	if KindOf(err) != KindNotFound {
		t.Fatalf("Expected not_found with no templates, got %v", err)
	}
	if !strings.Contains(err.Error(), "no document templates are configured") {
		t.Errorf("Expected the configuration message, got %v", err)
	}

	// An active proposal template is found via newest-active fallback
	a, _ := svc.Create(ctx, TemplateInput{Type: model.TemplateProposal, Name: "a", HTML: "<p>a</p>"})
	got, err := svc.GetByType(ctx, model.TemplateContract)
	if err != nil {
		t.Fatalf("Failed to fall back: %v", err)
	}
	if got.ID != a.ID {
		t.Errorf("Fallback = %d, want %d", got.ID, a.ID)
	}

	// An explicit default outranks newest-active
	b, _ := svc.Create(ctx, TemplateInput{Type: model.TemplateProposal, Name: "b", HTML: "<p>b</p>"})
	if _, err := svc.SetDefault(ctx, b.ID); err != nil {
		t.Fatalf("Failed to set default: %v", err)
	}
	got, err = svc.GetByType(ctx, model.TemplateContract)
	if err != nil {
		t.Fatalf("Failed to resolve default: %v", err)
	}
	if got.ID != b.ID {
		t.Errorf("Default fallback = %d, want %d", got.ID, b.ID)
	}
}

func TestTemplateUpdate(t *testing.T) {
	svc, _ := newTemplateService(t)
	ctx := context.Background()

	tmpl, _ := svc.Create(ctx, TemplateInput{Type: model.TemplateProposal, Name: "a", HTML: "<p>a</p>"})
	updated, err := svc.Update(ctx, tmpl.ID, TemplateUpdateInput{HTML: "<p>a2</p>"})
	if err != nil {
		t.Fatalf("Failed to update: %v", err)
	}
	if updated.HTML != "<p>a2</p>" || updated.Name != "a" {
		t.Errorf("Partial update wrong: %+v", updated)
	}

	if _, err := svc.Update(ctx, 999, TemplateUpdateInput{HTML: "<p></p>"}); KindOf(err) != KindNotFound {
		t.Errorf("Expected not_found, got %v", err)
	}
}

func TestTemplateUpdateRejectsTypeChange(t *testing.T) {
	svc, _ := newTemplateService(t)
	ctx := context.Background()

	tmpl, _ := svc.Create(ctx, TemplateInput{Type: model.TemplateProposal, Name: "a", HTML: "<p>a</p>"})

	if _, err := svc.Update(ctx, tmpl.ID, TemplateUpdateInput{Type: model.TemplateContract}); KindOf(err) != KindValidationFailed {
		t.Errorf("Expected validation_failed for type change, got %v", err)
	}

	// Restating the current type is not a change
	updated, err := svc.Update(ctx, tmpl.ID, TemplateUpdateInput{Type: model.TemplateProposal, Name: "a2"})
	if err != nil {
		t.Fatalf("Failed to update with same type: %v", err)
	}
	if updated.Name != "a2" || updated.Type != model.TemplateProposal {
		t.Errorf("Update wrong: %+v", updated)
	}
}
