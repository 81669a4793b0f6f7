package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"planhub/internal/models"
	"planhub/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newRuleHandlerTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:rule_handler_" + t.Name() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&models.AutomationRule{}, &models.RuleExecution{}, &models.RuleTemplate{}); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return db
}

func newRuleTestRouter(t *testing.T) (*gin.Engine, *services.RuleService) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := newRuleHandlerTestDB(t)
	svc := services.NewRuleService(db, logrus.New(), "UTC")
	handler := NewRuleHandler(svc, logrus.New())

	router := gin.New()
	api := router.Group("/api/v1")
	RegisterRuleRoutes(api, handler)
	return router, svc
}

func ruleCreateBody() map[string]interface{} {
	return map[string]interface{}{
		"name":       "notify on update",
		"project_id": "proj-1",
		"trigger": map[string]interface{}{
			"kind":        "entity_updated",
			"entity_type": "task",
		},
		"actions": []map[string]interface{}{
			{"type": "add_label", "params": map[string]interface{}{"label": "seen"}},
		},
	}
}

func postJSON(router *gin.Engine, path string, payload interface{}) *httptest.ResponseRecorder {
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest("POST", path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRuleHandler_Create_Success(t *testing.T) {
	router, _ := newRuleTestRouter(t)

	w := postJSON(router, "/api/v1/rules", ruleCreateBody())

	assert.Equal(t, http.StatusCreated, w.Code)

	var rule models.AutomationRule
	err := json.Unmarshal(w.Body.Bytes(), &rule)
	assert.NoError(t, err)
	assert.NotEmpty(t, rule.ID)
	assert.Equal(t, "medium", rule.Priority)
	assert.True(t, rule.IsActive)
}

func TestRuleHandler_Create_MissingActions(t *testing.T) {
	router, _ := newRuleTestRouter(t)

	payload := ruleCreateBody()
	delete(payload, "actions")
	w := postJSON(router, "/api/v1/rules", payload)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRuleHandler_Create_BadTrigger(t *testing.T) {
	router, _ := newRuleTestRouter(t)

	payload := ruleCreateBody()
	payload["trigger"] = map[string]interface{}{"kind": "task_teleported"}
	w := postJSON(router, "/api/v1/rules", payload)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRuleHandler_List(t *testing.T) {
	router, _ := newRuleTestRouter(t)

	postJSON(router, "/api/v1/rules", ruleCreateBody())
	other := ruleCreateBody()
	other["project_id"] = "proj-2"
	postJSON(router, "/api/v1/rules", other)

	req := httptest.NewRequest("GET", "/api/v1/rules?project_id=proj-1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response PaginatedResponse
	err := json.Unmarshal(w.Body.Bytes(), &response)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), response.Total)
}

func TestRuleHandler_GetAndNotFound(t *testing.T) {
	router, _ := newRuleTestRouter(t)

	created := postJSON(router, "/api/v1/rules", ruleCreateBody())
	var rule models.AutomationRule
	json.Unmarshal(created.Body.Bytes(), &rule)

	req := httptest.NewRequest("GET", "/api/v1/rules/"+rule.ID, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest("GET", "/api/v1/rules/missing", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRuleHandler_Toggle(t *testing.T) {
	router, svc := newRuleTestRouter(t)

	created := postJSON(router, "/api/v1/rules", ruleCreateBody())
	var rule models.AutomationRule
	json.Unmarshal(created.Body.Bytes(), &rule)

	w := postJSON(router, "/api/v1/rules/"+rule.ID+"/toggle", map[string]interface{}{"active": false})
	assert.Equal(t, http.StatusOK, w.Code)

	got, err := svc.Get(context.Background(), rule.ID)
	assert.NoError(t, err)
	assert.False(t, got.IsActive)

	// missing active flag is a binding error
	w = postJSON(router, "/api/v1/rules/"+rule.ID+"/toggle", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = postJSON(router, "/api/v1/rules/missing/toggle", map[string]interface{}{"active": true})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRuleHandler_Duplicate(t *testing.T) {
	router, _ := newRuleTestRouter(t)

	created := postJSON(router, "/api/v1/rules", ruleCreateBody())
	var rule models.AutomationRule
	json.Unmarshal(created.Body.Bytes(), &rule)

	w := postJSON(router, "/api/v1/rules/"+rule.ID+"/duplicate", nil)
	assert.Equal(t, http.StatusCreated, w.Code)

	var clone models.AutomationRule
	err := json.Unmarshal(w.Body.Bytes(), &clone)
	assert.NoError(t, err)
	assert.NotEqual(t, rule.ID, clone.ID)
	assert.False(t, clone.IsActive)
}

func TestRuleHandler_TestEndpoint(t *testing.T) {
	router, _ := newRuleTestRouter(t)

	payload := ruleCreateBody()
	payload["conditions"] = []map[string]interface{}{
		{"kind": "field", "field": "priority", "op": "equals", "value": "high"},
	}
	created := postJSON(router, "/api/v1/rules", payload)
	var rule models.AutomationRule
	json.Unmarshal(created.Body.Bytes(), &rule)

	w := postJSON(router, "/api/v1/rules/"+rule.ID+"/test", map[string]interface{}{
		"event": map[string]interface{}{
			"id":          "evt-1",
			"kind":        "entity_updated",
			"entity_type": "task",
			"entity_id":   "task-1",
			"project_id":  "proj-1",
		},
		"snapshot": map[string]interface{}{"priority": "high"},
	})
	assert.Equal(t, http.StatusOK, w.Code)

	var result map[string]interface{}
	err := json.Unmarshal(w.Body.Bytes(), &result)
	assert.NoError(t, err)
	assert.Equal(t, true, result["matched"])
}

func TestRuleHandler_Delete(t *testing.T) {
	router, _ := newRuleTestRouter(t)

	created := postJSON(router, "/api/v1/rules", ruleCreateBody())
	var rule models.AutomationRule
	json.Unmarshal(created.Body.Bytes(), &rule)

	req := httptest.NewRequest("DELETE", "/api/v1/rules/"+rule.ID, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest("DELETE", "/api/v1/rules/"+rule.ID, nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
