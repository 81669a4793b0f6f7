package handlers

import (
	"net/http"

	"planhub/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// TemplateHandler 规则模板处理器
type TemplateHandler struct {
	templateService *services.TemplateService
	logger          *logrus.Logger
}

// NewTemplateHandler 创建模板处理器
func NewTemplateHandler(templateService *services.TemplateService, logger *logrus.Logger) *TemplateHandler {
	return &TemplateHandler{
		templateService: templateService,
		logger:          logger,
	}
}

// ListTemplates 获取模板目录
// @Summary 获取模板目录
// @Description 获取规则模板目录，支持按分类过滤
// @Tags 规则模板
// @Produce json
// @Param category query string false "分类过滤"
// @Success 200 {object} SuccessResponse{data=[]models.RuleTemplate}
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/templates [get]
func (h *TemplateHandler) ListTemplates(c *gin.Context) {
	templates, err := h.templateService.List(c.Request.Context(), c.Query("category"))
	if err != nil {
		h.logger.Errorf("Failed to list templates: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to list templates",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Data: templates})
}

// GetTemplate 获取模板详情
// @Summary 获取模板详情
// @Tags 规则模板
// @Produce json
// @Param id path string true "模板ID"
// @Success 200 {object} models.RuleTemplate
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/templates/{id} [get]
func (h *TemplateHandler) GetTemplate(c *gin.Context) {
	tpl, err := h.templateService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "Template not found",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, tpl)
}

// InstantiateTemplate 实例化模板
// @Summary 实例化模板
// @Description 将模板深拷贝为目标项目下的独立规则
// @Tags 规则模板
// @Accept json
// @Produce json
// @Param id path string true "模板ID"
// @Param body body object{project_id=string} true "目标项目"
// @Success 201 {object} models.AutomationRule
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/templates/{id}/instantiate [post]
func (h *TemplateHandler) InstantiateTemplate(c *gin.Context) {
	var req struct {
		ProjectID string `json:"project_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Message: err.Error(),
		})
		return
	}

	rule, err := h.templateService.Instantiate(c.Request.Context(), c.Param("id"), req.ProjectID, currentUserID(c))
	if err != nil {
		h.logger.Errorf("Failed to instantiate template %s: %v", c.Param("id"), err)
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "Failed to instantiate template",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, rule)
}

// RegisterTemplateRoutes 注册模板相关路由
func RegisterTemplateRoutes(r *gin.RouterGroup, handler *TemplateHandler) {
	templates := r.Group("/templates")
	{
		templates.GET("", handler.ListTemplates)
		templates.GET("/:id", handler.GetTemplate)
		templates.POST("/:id/instantiate", handler.InstantiateTemplate)
	}
}
