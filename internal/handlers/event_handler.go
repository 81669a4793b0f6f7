package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"planhub/internal/models"
	"planhub/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const maxWebhookBody = 1 << 20 // 1 MiB

// EventHandler 事件入口处理器，覆盖应用事件投递与入站 Webhook
type EventHandler struct {
	engine *services.RuleEngine
	logger *logrus.Logger
}

// NewEventHandler 创建事件处理器
func NewEventHandler(engine *services.RuleEngine, logger *logrus.Logger) *EventHandler {
	return &EventHandler{
		engine: engine,
		logger: logger,
	}
}

// IngestEvent 投递领域事件
// @Summary 投递领域事件
// @Description 接收一次应用事件并触发规则匹配。投递语义为至少一次，引擎按 (rule_id, event_id) 去重
// @Tags 事件
// @Accept json
// @Produce json
// @Param event body services.Event true "事件"
// @Success 202 {object} SuccessResponse
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/events [post]
func (h *EventHandler) IngestEvent(c *gin.Context) {
	var evt services.Event
	if err := c.ShouldBindJSON(&evt); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Message: err.Error(),
		})
		return
	}
	if evt.ID == "" || evt.Kind == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid event",
			Message: "id and kind are required",
		})
		return
	}

	if err := h.engine.OnEvent(c.Request.Context(), evt); err != nil {
		h.logger.Errorf("Failed to process event %s: %v", evt.ID, err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to process event",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, SuccessResponse{Message: "Event accepted"})
}

// InboundWebhook 入站 Webhook 入口
// @Summary 入站 Webhook 入口
// @Description 外部系统回调入口。签名在触发匹配阶段校验，校验失败的请求静默不触发
// @Tags 事件
// @Accept json
// @Produce json
// @Param ruleID path string true "目标规则ID"
// @Success 202 {object} SuccessResponse
// @Failure 400 {object} ErrorResponse
// @Router /hooks/{ruleID} [post]
func (h *EventHandler) InboundWebhook(c *gin.Context) {
	ruleID := c.Param("ruleID")

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Message: err.Error(),
		})
		return
	}

	// 事件ID取自回调方的幂等头，缺省时退化为请求体哈希，
	// 这样同一回调的重放仍命中同一条幂等键。
	eventID := c.GetHeader("X-Event-ID")
	if eventID == "" {
		sum := sha256.Sum256(body)
		eventID = "webhook:" + ruleID + ":" + hex.EncodeToString(sum[:8])
	}

	payload := map[string]interface{}{
		"rule_id":   ruleID,
		"raw_body":  string(body),
		"signature": c.GetHeader("X-Signature"),
	}
	var parsed map[string]interface{}
	if json.Unmarshal(body, &parsed) == nil {
		for k, v := range parsed {
			if _, reserved := payload[k]; !reserved {
				payload[k] = v
			}
		}
	}

	evt := services.Event{
		ID:         eventID,
		Kind:       models.TriggerWebhook,
		OccurredAt: time.Now(),
		Payload:    payload,
	}
	if err := h.engine.OnEvent(c.Request.Context(), evt); err != nil {
		h.logger.Errorf("Failed to process webhook for rule %s: %v", ruleID, err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to process webhook",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, SuccessResponse{Message: "Webhook accepted"})
}

// RegisterEventRoutes 注册事件投递路由
func RegisterEventRoutes(r *gin.RouterGroup, handler *EventHandler) {
	r.POST("/events", handler.IngestEvent)
}

// RegisterWebhookRoutes 注册入站 Webhook 路由（免认证，靠签名校验）
func RegisterWebhookRoutes(r *gin.Engine, handler *EventHandler) {
	r.POST("/hooks/:ruleID", handler.InboundWebhook)
}
