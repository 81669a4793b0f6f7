package handlers

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"planhub/internal/config"
	"planhub/internal/models"
	"planhub/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newEventHandlerTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:event_handler_" + t.Name() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(
		&models.Task{},
		&models.Notification{},
		&models.AutomationRule{},
		&models.RuleExecution{},
	); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return db
}

func newEventTestRouter(t *testing.T, db *gorm.DB) (*gin.Engine, *services.RuleEngine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := logrus.New()
	cfg := config.EngineConfig{MaxActionDelay: time.Minute}
	executor := services.NewActionExecutor(db, logger, cfg,
		services.NewGormMutator(db),
		services.NewDBNotifier(db, logger),
		services.NewLogMailer(logger),
		nil, nil)
	matcher := services.NewTriggerMatcher(db, logger)
	engine := services.NewRuleEngine(db, logger, matcher, executor)
	handler := NewEventHandler(engine, logger)

	router := gin.New()
	api := router.Group("/api/v1")
	RegisterEventRoutes(api, handler)
	RegisterWebhookRoutes(router, handler)
	return router, engine
}

func seedEventRule(t *testing.T, db *gorm.DB, id string, trig models.Trigger) {
	t.Helper()
	trigJSON, _ := json.Marshal(trig)
	actionsJSON, _ := json.Marshal([]models.Action{
		{ID: "a1", Type: models.ActionAddLabel, Params: map[string]interface{}{"label": "seen"}},
	})
	rule := models.AutomationRule{
		ID:              id,
		Name:            "rule " + id,
		ProjectID:       "proj-1",
		IsActive:        true,
		Priority:        "medium",
		AllowConcurrent: true,
		Trigger:         trigJSON,
		Actions:         actionsJSON,
		CreatedAt:       time.Now(),
	}
	if err := db.Create(&rule).Error; err != nil {
		t.Fatalf("seed rule: %v", err)
	}
}

func TestEventHandler_Ingest_Accepted(t *testing.T) {
	db := newEventHandlerTestDB(t)
	router, engine := newEventTestRouter(t, db)
	seedEventRule(t, db, "r-evt", models.Trigger{Kind: models.TriggerEntityUpdated, EntityType: "task"})

	db.Create(&models.Task{ID: "task-1", ProjectID: "proj-1", Title: "Fix bug", Status: "open"})

	payload := map[string]interface{}{
		"id":          "evt-1",
		"kind":        "entity_updated",
		"entity_type": "task",
		"entity_id":   "task-1",
		"project_id":  "proj-1",
		"occurred_at": time.Now().Format(time.RFC3339),
	}
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest("POST", "/api/v1/events", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	engine.Wait()

	var count int64
	db.Model(&models.RuleExecution{}).Where("rule_id = ?", "r-evt").Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestEventHandler_Ingest_MissingID(t *testing.T) {
	db := newEventHandlerTestDB(t)
	router, _ := newEventTestRouter(t, db)

	body, _ := json.Marshal(map[string]interface{}{"kind": "entity_updated"})
	req := httptest.NewRequest("POST", "/api/v1/events", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEventHandler_Ingest_Replay(t *testing.T) {
	db := newEventHandlerTestDB(t)
	router, engine := newEventTestRouter(t, db)
	seedEventRule(t, db, "r-replay", models.Trigger{Kind: models.TriggerEntityUpdated, EntityType: "task"})
	db.Create(&models.Task{ID: "task-1", ProjectID: "proj-1", Title: "Fix bug", Status: "open"})

	payload := map[string]interface{}{
		"id":          "evt-same",
		"kind":        "entity_updated",
		"entity_type": "task",
		"entity_id":   "task-1",
		"project_id":  "proj-1",
	}
	body, _ := json.Marshal(payload)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("POST", "/api/v1/events", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusAccepted, w.Code)
		engine.Wait()
	}

	var count int64
	db.Model(&models.RuleExecution{}).Where("rule_id = ?", "r-replay").Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestEventHandler_InboundWebhook(t *testing.T) {
	db := newEventHandlerTestDB(t)
	router, engine := newEventTestRouter(t, db)

	secret := "hook-secret"
	seedEventRule(t, db, "r-hook", models.Trigger{
		Kind:    models.TriggerWebhook,
		Webhook: &models.WebhookSpec{Secret: secret},
	})

	body := []byte(`{"ref":"main","commits":3}`)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	signature := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	req := httptest.NewRequest("POST", "/hooks/r-hook", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signature", signature)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	engine.Wait()

	var count int64
	db.Model(&models.RuleExecution{}).Where("rule_id = ?", "r-hook").Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestEventHandler_InboundWebhook_BadSignature(t *testing.T) {
	db := newEventHandlerTestDB(t)
	router, engine := newEventTestRouter(t, db)

	seedEventRule(t, db, "r-hook", models.Trigger{
		Kind:    models.TriggerWebhook,
		Webhook: &models.WebhookSpec{Secret: "hook-secret"},
	})

	body := []byte(`{"ref":"main"}`)
	req := httptest.NewRequest("POST", "/hooks/r-hook", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signature", "sha256=deadbeef")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	// the request is accepted but the rule never fires
	assert.Equal(t, http.StatusAccepted, w.Code)
	engine.Wait()

	var count int64
	db.Model(&models.RuleExecution{}).Where("rule_id = ?", "r-hook").Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestEventHandler_InboundWebhook_ReplayDedupes(t *testing.T) {
	db := newEventHandlerTestDB(t)
	router, engine := newEventTestRouter(t, db)

	secret := "hook-secret"
	seedEventRule(t, db, "r-hook", models.Trigger{
		Kind:    models.TriggerWebhook,
		Webhook: &models.WebhookSpec{Secret: secret},
	})

	body := []byte(`{"ref":"main"}`)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	signature := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	// no X-Event-ID header, so the body hash is the idempotency key
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("POST", "/hooks/r-hook", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Signature", signature)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusAccepted, w.Code)
		engine.Wait()
	}

	var count int64
	db.Model(&models.RuleExecution{}).Where("rule_id = ?", "r-hook").Count(&count)
	assert.Equal(t, int64(1), count)
}
