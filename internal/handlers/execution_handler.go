package handlers

import (
	"net/http"
	"strconv"

	"planhub/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ExecutionHandler 执行台账处理器
type ExecutionHandler struct {
	executionService *services.ExecutionService
	logger           *logrus.Logger
}

// NewExecutionHandler 创建执行台账处理器
func NewExecutionHandler(executionService *services.ExecutionService, logger *logrus.Logger) *ExecutionHandler {
	return &ExecutionHandler{
		executionService: executionService,
		logger:           logger,
	}
}

// ListExecutions 获取执行记录列表
// @Summary 获取执行记录列表
// @Description 按规则、状态与时间区间过滤执行记录
// @Tags 执行台账
// @Produce json
// @Param rule_id query string false "规则过滤"
// @Param project_id query string false "项目过滤"
// @Param status query string false "状态过滤"
// @Param from query string false "开始时间 RFC3339"
// @Param to query string false "结束时间 RFC3339"
// @Param page query int false "页码"
// @Param page_size query int false "每页大小"
// @Success 200 {object} PaginatedResponse{data=[]models.RuleExecution}
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/executions [get]
func (h *ExecutionHandler) ListExecutions(c *gin.Context) {
	var req services.ExecutionListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid query parameters",
			Message: err.Error(),
		})
		return
	}

	executions, total, err := h.executionService.List(c.Request.Context(), &req)
	if err != nil {
		h.logger.Errorf("Failed to list executions: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to list executions",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, PaginatedResponse{
		Data:     executions,
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
	})
}

// GetExecution 获取执行记录详情
// @Summary 获取执行记录详情
// @Tags 执行台账
// @Produce json
// @Param id path string true "执行记录ID"
// @Success 200 {object} models.RuleExecution
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/executions/{id} [get]
func (h *ExecutionHandler) GetExecution(c *gin.Context) {
	execution, err := h.executionService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "Execution not found",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, execution)
}

// GetAnalytics 获取执行统计
// @Summary 获取执行统计
// @Description 成功率、平均耗时、按天/按小时分布、动作类型用量与高频错误
// @Tags 执行台账
// @Produce json
// @Param rule_id query string false "规则过滤"
// @Param days query int false "统计窗口天数，默认30"
// @Success 200 {object} services.ExecutionAnalytics
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/executions/analytics [get]
func (h *ExecutionHandler) GetAnalytics(c *gin.Context) {
	days, err := strconv.Atoi(c.DefaultQuery("days", "30"))
	if err != nil {
		days = 30
	}

	analytics, err := h.executionService.Aggregate(c.Request.Context(), c.Query("rule_id"), days)
	if err != nil {
		h.logger.Errorf("Failed to aggregate executions: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to aggregate executions",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, analytics)
}

// RegisterExecutionRoutes 注册执行台账相关路由
func RegisterExecutionRoutes(r *gin.RouterGroup, handler *ExecutionHandler) {
	executions := r.Group("/executions")
	{
		executions.GET("", handler.ListExecutions)
		executions.GET("/analytics", handler.GetAnalytics)
		executions.GET("/:id", handler.GetExecution)
	}
}
