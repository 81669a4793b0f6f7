package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"planhub/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newEngineTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := t.Name()
	dsn := "file:engine_" + name + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(
		&models.User{},
		&models.Project{},
		&models.Task{},
		&models.Milestone{},
		&models.Notification{},
		&models.ActivityLog{},
		&models.AutomationRule{},
		&models.RuleExecution{},
		&models.RuleTemplate{},
	); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return db
}

func makeRule(t *testing.T, db *gorm.DB, id, priority string, trig models.Trigger) models.AutomationRule {
	t.Helper()
	rule := models.AutomationRule{
		ID:              id,
		Name:            "rule " + id,
		ProjectID:       "proj-1",
		IsActive:        true,
		Priority:        priority,
		AllowConcurrent: true,
		Trigger:         mustJSON(trig),
		Actions:         mustJSON([]models.Action{{ID: "a1", Type: models.ActionAddLabel, Params: map[string]interface{}{"label": "x"}}}),
		CreatedAt:       time.Now(),
	}
	if err := db.Create(&rule).Error; err != nil {
		t.Fatalf("create rule: %v", err)
	}
	return rule
}

func TestTriggerMatcher_KindAndFilters(t *testing.T) {
	db := newEngineTestDB(t)
	matcher := NewTriggerMatcher(db, logrus.New())

	makeRule(t, db, "r-created", "medium", models.Trigger{
		Kind:       models.TriggerEntityCreated,
		EntityType: "task",
		Priorities: []string{"high"},
	})
	makeRule(t, db, "r-updated", "medium", models.Trigger{
		Kind: models.TriggerEntityUpdated,
	})

	evt := Event{
		ID:         "evt-1",
		Kind:       models.TriggerEntityCreated,
		EntityType: "task",
		ProjectID:  "proj-1",
		OccurredAt: time.Now(),
		Payload:    map[string]interface{}{"priority": "high"},
	}
	matched, err := matcher.Match(context.Background(), evt)
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if len(matched) != 1 || matched[0].ID != "r-created" {
		t.Fatalf("expected only r-created, got %v", ruleIDs(matched))
	}

	// priority filter rejects a low priority task
	evt.Payload["priority"] = "low"
	matched, err = matcher.Match(context.Background(), evt)
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if len(matched) != 0 {
		t.Fatalf("expected no match, got %v", ruleIDs(matched))
	}
}

func TestTriggerMatcher_InactiveAndDeletedExcluded(t *testing.T) {
	db := newEngineTestDB(t)
	matcher := NewTriggerMatcher(db, logrus.New())

	rule := makeRule(t, db, "r-1", "medium", models.Trigger{Kind: models.TriggerEntityCreated})
	db.Model(&rule).Update("is_active", false)

	deleted := makeRule(t, db, "r-2", "medium", models.Trigger{Kind: models.TriggerEntityCreated})
	db.Delete(&deleted)

	evt := Event{ID: "evt-1", Kind: models.TriggerEntityCreated, ProjectID: "proj-1", OccurredAt: time.Now()}
	matched, err := matcher.Match(context.Background(), evt)
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if len(matched) != 0 {
		t.Fatalf("inactive and deleted rules must not match, got %v", ruleIDs(matched))
	}
}

func TestTriggerMatcher_PriorityOrdering(t *testing.T) {
	db := newEngineTestDB(t)
	matcher := NewTriggerMatcher(db, logrus.New())

	makeRule(t, db, "r-low", "low", models.Trigger{Kind: models.TriggerEntityCreated})
	makeRule(t, db, "r-high", "high", models.Trigger{Kind: models.TriggerEntityCreated})
	makeRule(t, db, "r-med", "medium", models.Trigger{Kind: models.TriggerEntityCreated})

	evt := Event{ID: "evt-1", Kind: models.TriggerEntityCreated, ProjectID: "proj-1", OccurredAt: time.Now()}
	matched, err := matcher.Match(context.Background(), evt)
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	got := ruleIDs(matched)
	want := []string{"r-high", "r-med", "r-low"}
	for i := range want {
		if i >= len(got) || got[i] != want[i] {
			t.Fatalf("order mismatch: got %v, want %v", got, want)
		}
	}
}

func TestTriggerMatcher_DueSoonWindow(t *testing.T) {
	db := newEngineTestDB(t)
	matcher := NewTriggerMatcher(db, logrus.New())

	makeRule(t, db, "r-due", "medium", models.Trigger{
		Kind:       models.TriggerDueSoon,
		EntityType: "task",
		DaysBefore: 2,
	})

	evt := Event{
		ID: "evt-1", Kind: models.TriggerDueSoon, EntityType: "task",
		ProjectID: "proj-1", OccurredAt: time.Now(),
		Payload: map[string]interface{}{"days_until_due": float64(1)},
	}
	matched, _ := matcher.Match(context.Background(), evt)
	if len(matched) != 1 {
		t.Fatalf("1 day out should fall within a 2 day window, got %v", ruleIDs(matched))
	}

	evt.ID = "evt-2"
	evt.Payload["days_until_due"] = float64(5)
	matched, _ = matcher.Match(context.Background(), evt)
	if len(matched) != 0 {
		t.Fatalf("5 days out must not match a 2 day window, got %v", ruleIDs(matched))
	}
}

func TestTriggerMatcher_WebhookSignature(t *testing.T) {
	db := newEngineTestDB(t)
	matcher := NewTriggerMatcher(db, logrus.New())

	secret := "hook-secret"
	makeRule(t, db, "r-hook", "medium", models.Trigger{
		Kind:    models.TriggerWebhook,
		Webhook: &models.WebhookSpec{Secret: secret},
	})

	body := `{"ref":"main"}`
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	sig := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	evt := Event{
		ID: "evt-1", Kind: models.TriggerWebhook, OccurredAt: time.Now(),
		Payload: map[string]interface{}{
			"rule_id":   "r-hook",
			"raw_body":  body,
			"signature": sig,
		},
	}
	matched, _ := matcher.Match(context.Background(), evt)
	if len(matched) != 1 {
		t.Fatal("valid signature should match the webhook rule")
	}

	evt.Payload["signature"] = "sha256=deadbeef"
	matched, _ = matcher.Match(context.Background(), evt)
	if len(matched) != 0 {
		t.Fatal("invalid signature must not match")
	}
}

func TestVerifyWebhookSignature(t *testing.T) {
	secret := "s3cret"
	body := []byte("hello")
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	sig := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	if !VerifyWebhookSignature(secret, body, sig) {
		t.Error("correct signature should verify")
	}
	if VerifyWebhookSignature(secret, body, "sha256=00") {
		t.Error("wrong signature must fail")
	}
	if VerifyWebhookSignature(secret, body, "") {
		t.Error("empty signature must fail")
	}
}

func ruleIDs(rules []models.AutomationRule) []string {
	ids := make([]string, len(rules))
	for i, r := range rules {
		ids[i] = r.ID
	}
	return ids
}
