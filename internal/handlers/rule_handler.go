package handlers

import (
	"errors"
	"net/http"

	"planhub/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// RuleHandler 自动化规则处理器
type RuleHandler struct {
	ruleService *services.RuleService
	logger      *logrus.Logger
}

// NewRuleHandler 创建规则处理器
func NewRuleHandler(ruleService *services.RuleService, logger *logrus.Logger) *RuleHandler {
	return &RuleHandler{
		ruleService: ruleService,
		logger:      logger,
	}
}

func currentUserID(c *gin.Context) string {
	if v, ok := c.Get("user_id"); ok {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// CreateRule 创建自动化规则
// @Summary 创建自动化规则
// @Description 创建新的自动化规则，触发器与动作必填
// @Tags 自动化规则
// @Accept json
// @Produce json
// @Param rule body services.RuleCreateRequest true "规则定义"
// @Success 201 {object} models.AutomationRule
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/rules [post]
func (h *RuleHandler) CreateRule(c *gin.Context) {
	var req services.RuleCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Message: err.Error(),
		})
		return
	}

	rule, err := h.ruleService.Create(c.Request.Context(), currentUserID(c), &req)
	if err != nil {
		h.logger.Errorf("Failed to create rule: %v", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Failed to create rule",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, rule)
}

// GetRule 获取规则详情
// @Summary 获取规则详情
// @Tags 自动化规则
// @Produce json
// @Param id path string true "规则ID"
// @Success 200 {object} models.AutomationRule
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/rules/{id} [get]
func (h *RuleHandler) GetRule(c *gin.Context) {
	rule, err := h.ruleService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "Rule not found",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, rule)
}

// ListRules 获取规则列表
// @Summary 获取规则列表
// @Description 获取规则列表，支持按项目与启用状态过滤
// @Tags 自动化规则
// @Produce json
// @Param project_id query string false "项目过滤"
// @Param active query bool false "启用状态过滤"
// @Param page query int false "页码"
// @Param page_size query int false "每页大小"
// @Success 200 {object} PaginatedResponse{data=[]models.AutomationRule}
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/rules [get]
func (h *RuleHandler) ListRules(c *gin.Context) {
	var req services.RuleListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid query parameters",
			Message: err.Error(),
		})
		return
	}

	rules, total, err := h.ruleService.List(c.Request.Context(), &req)
	if err != nil {
		h.logger.Errorf("Failed to list rules: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to list rules",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, PaginatedResponse{
		Data:     rules,
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
	})
}

// UpdateRule 更新规则
// @Summary 更新规则
// @Description 部分更新规则定义，修改只对后续事件生效
// @Tags 自动化规则
// @Accept json
// @Produce json
// @Param id path string true "规则ID"
// @Param rule body services.RuleUpdateRequest true "更新内容"
// @Success 200 {object} models.AutomationRule
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/rules/{id} [put]
func (h *RuleHandler) UpdateRule(c *gin.Context) {
	var req services.RuleUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Message: err.Error(),
		})
		return
	}

	rule, err := h.ruleService.Update(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "Rule not found",
				Message: err.Error(),
			})
			return
		}
		h.logger.Errorf("Failed to update rule %s: %v", c.Param("id"), err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Failed to update rule",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, rule)
}

// DeleteRule 删除规则
// @Summary 删除规则
// @Description 软删除规则，立即停止匹配
// @Tags 自动化规则
// @Produce json
// @Param id path string true "规则ID"
// @Success 200 {object} SuccessResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/rules/{id} [delete]
func (h *RuleHandler) DeleteRule(c *gin.Context) {
	if err := h.ruleService.Delete(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "Rule not found",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "Rule deleted"})
}

// ToggleRule 启停规则
// @Summary 启停规则
// @Description 停用规则同时作为进行中执行的取消信号
// @Tags 自动化规则
// @Accept json
// @Produce json
// @Param id path string true "规则ID"
// @Param body body object{active=bool} true "目标状态"
// @Success 200 {object} SuccessResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/rules/{id}/toggle [post]
func (h *RuleHandler) ToggleRule(c *gin.Context) {
	var req struct {
		Active *bool `json:"active" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Message: err.Error(),
		})
		return
	}

	if err := h.ruleService.SetActive(c.Request.Context(), c.Param("id"), *req.Active); err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "Rule not found",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Rule updated",
		"rule_id": c.Param("id"),
		"active":  *req.Active,
	})
}

// DuplicateRule 复制规则
// @Summary 复制规则
// @Description 以新ID复制规则，计数器清零，默认停用
// @Tags 自动化规则
// @Produce json
// @Param id path string true "规则ID"
// @Success 201 {object} models.AutomationRule
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/rules/{id}/duplicate [post]
func (h *RuleHandler) DuplicateRule(c *gin.Context) {
	clone, err := h.ruleService.Duplicate(c.Request.Context(), c.Param("id"), currentUserID(c))
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "Rule not found",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, clone)
}

// TestRule 规则条件试运行
// @Summary 规则条件试运行
// @Description 对给定事件与实体快照评估规则条件，不执行任何动作
// @Tags 自动化规则
// @Accept json
// @Produce json
// @Param id path string true "规则ID"
// @Param body body object{event=services.Event,snapshot=object} true "测试输入"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/rules/{id}/test [post]
func (h *RuleHandler) TestRule(c *gin.Context) {
	var req struct {
		Event    services.Event          `json:"event" binding:"required"`
		Snapshot services.EntitySnapshot `json:"snapshot"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Message: err.Error(),
		})
		return
	}

	matched, err := h.ruleService.DryRun(c.Request.Context(), c.Param("id"), req.Event, req.Snapshot)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "Rule not found",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"rule_id": c.Param("id"),
		"matched": matched,
	})
}

// RegisterRuleRoutes 注册规则管理相关路由
func RegisterRuleRoutes(r *gin.RouterGroup, handler *RuleHandler) {
	rules := r.Group("/rules")
	{
		rules.POST("", handler.CreateRule)
		rules.GET("", handler.ListRules)
		rules.GET("/:id", handler.GetRule)
		rules.PUT("/:id", handler.UpdateRule)
		rules.DELETE("/:id", handler.DeleteRule)
		rules.POST("/:id/toggle", handler.ToggleRule)
		rules.POST("/:id/duplicate", handler.DuplicateRule)
		rules.POST("/:id/test", handler.TestRule)
	}
}
