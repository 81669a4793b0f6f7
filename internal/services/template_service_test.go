package services

import (
	"context"
	"testing"

	"planhub/internal/models"
)

func newTemplateService(t *testing.T) *TemplateService {
	t.Helper()
	svc := NewTemplateService(newEngineTestDB(t), nil, "UTC")
	if err := svc.Seed(context.Background()); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	return svc
}

func TestTemplateService_SeedIsIdempotent(t *testing.T) {
	svc := newTemplateService(t)
	ctx := context.Background()

	first, err := svc.List(ctx, "")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(first) == 0 {
		t.Fatal("seed should install the builtin catalog")
	}

	if err := svc.Seed(ctx); err != nil {
		t.Fatalf("second seed failed: %v", err)
	}
	second, err := svc.List(ctx, "")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(second) != len(first) {
		t.Errorf("reseeding duplicated templates: %d -> %d", len(first), len(second))
	}
}

func TestTemplateService_ListCategoryFilter(t *testing.T) {
	svc := newTemplateService(t)

	templates, err := svc.List(context.Background(), "integrations")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(templates) == 0 {
		t.Fatal("expected at least one integrations template")
	}
	for _, tpl := range templates {
		if tpl.Category != "integrations" {
			t.Errorf("template %s has category %q", tpl.ID, tpl.Category)
		}
	}
}

func TestTemplateService_Instantiate(t *testing.T) {
	svc := newTemplateService(t)
	ctx := context.Background()

	rule, err := svc.Instantiate(ctx, "tpl-notify-high-priority", "proj-9", "user-1")
	if err != nil {
		t.Fatalf("instantiate failed: %v", err)
	}
	if rule.ProjectID != "proj-9" || rule.CreatedBy != "user-1" {
		t.Errorf("rule ownership: project=%q created_by=%q", rule.ProjectID, rule.CreatedBy)
	}
	if !rule.IsActive {
		t.Error("instantiated rules start active")
	}

	tpl, err := svc.Get(ctx, "tpl-notify-high-priority")
	if err != nil {
		t.Fatalf("get template: %v", err)
	}
	if tpl.UsageCount != 1 {
		t.Errorf("usage_count = %d, want 1", tpl.UsageCount)
	}

	var tplActions, ruleActions []models.Action
	if err := decodeJSON(tpl.Actions, &tplActions); err != nil {
		t.Fatalf("decode template actions: %v", err)
	}
	if err := decodeJSON(rule.Actions, &ruleActions); err != nil {
		t.Fatalf("decode rule actions: %v", err)
	}
	if ruleActions[0].ID == tplActions[0].ID {
		t.Error("instantiated actions must get fresh ids")
	}

	if _, err := svc.Instantiate(ctx, "tpl-missing", "proj-9", "user-1"); err == nil {
		t.Error("expected error for unknown template")
	}
}

func TestTemplateService_InstantiateScheduleTemplate(t *testing.T) {
	svc := newTemplateService(t)

	rule, err := svc.Instantiate(context.Background(), "tpl-done-archive", "proj-9", "user-1")
	if err != nil {
		t.Fatalf("instantiate failed: %v", err)
	}
	if rule.NextExecutionAt == nil {
		t.Error("schedule template should produce a rule with next_execution_at")
	}
}

func TestTemplateService_InstancesAreIndependent(t *testing.T) {
	svc := newTemplateService(t)
	ctx := context.Background()

	a, err := svc.Instantiate(ctx, "tpl-overdue-escalation", "proj-1", "user-1")
	if err != nil {
		t.Fatalf("instantiate failed: %v", err)
	}
	b, err := svc.Instantiate(ctx, "tpl-overdue-escalation", "proj-2", "user-2")
	if err != nil {
		t.Fatalf("instantiate failed: %v", err)
	}
	if a.ID == b.ID {
		t.Error("instances must get distinct ids")
	}

	var aActions, bActions []models.Action
	decodeJSON(a.Actions, &aActions)
	decodeJSON(b.Actions, &bActions)
	if aActions[0].ID == bActions[0].ID {
		t.Error("instances must not share action ids")
	}

	tpl, _ := svc.Get(ctx, "tpl-overdue-escalation")
	if tpl.UsageCount != 2 {
		t.Errorf("usage_count = %d, want 2", tpl.UsageCount)
	}
}
