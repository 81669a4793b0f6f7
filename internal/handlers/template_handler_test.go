package handlers

import (
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
)

func newTemplateTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := newRuleHandlerTestDB(t)
	svc := services.NewTemplateService(db, logrus.New(), "UTC")
	if err := svc.Seed(context.Background()); err != nil {
		t.Fatalf("seed templates: %v", err)
	}
	handler := NewTemplateHandler(svc, logrus.New())

	router := gin.New()
	api := router.Group("/api/v1")
	RegisterTemplateRoutes(api, handler)
	return router
}

func TestTemplateHandler_List(t *testing.T) {
	router := newTemplateTestRouter(t)

	req := httptest.NewRequest("GET", "/api/v1/templates", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response struct {
		Data []models.RuleTemplate `json:"data"`
	}
	err := json.Unmarshal(w.Body.Bytes(), &response)
	assert.NoError(t, err)
	assert.NotEmpty(t, response.Data)
}

func TestTemplateHandler_ListByCategory(t *testing.T) {
	router := newTemplateTestRouter(t)

	req := httptest.NewRequest("GET", "/api/v1/templates?category=integrations", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response struct {
		Data []models.RuleTemplate `json:"data"`
	}
	err := json.Unmarshal(w.Body.Bytes(), &response)
	assert.NoError(t, err)
	for _, tpl := range response.Data {
		assert.Equal(t, "integrations", tpl.Category)
	}
}

func TestTemplateHandler_Get(t *testing.T) {
	router := newTemplateTestRouter(t)

	req := httptest.NewRequest("GET", "/api/v1/templates/tpl-notify-high-priority", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest("GET", "/api/v1/templates/missing", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTemplateHandler_Instantiate(t *testing.T) {
	router := newTemplateTestRouter(t)

	w := postJSON(router, "/api/v1/templates/tpl-notify-high-priority/instantiate",
		map[string]interface{}{"project_id": "proj-1"})

	assert.Equal(t, http.StatusCreated, w.Code)

	var rule models.AutomationRule
	err := json.Unmarshal(w.Body.Bytes(), &rule)
	assert.NoError(t, err)
	assert.Equal(t, "proj-1", rule.ProjectID)
	assert.True(t, rule.IsActive)
}

func TestTemplateHandler_Instantiate_MissingProject(t *testing.T) {
	router := newTemplateTestRouter(t)

	w := postJSON(router, "/api/v1/templates/tpl-notify-high-priority/instantiate",
		map[string]interface{}{})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
