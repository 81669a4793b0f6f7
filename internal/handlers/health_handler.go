package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"planhub/internal/metrics"
	"planhub/internal/services"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// HealthHandler 健康检查与指标处理器
type HealthHandler struct {
	db  *gorm.DB
	hub *services.StreamHub
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(db *gorm.DB, hub *services.StreamHub) *HealthHandler {
	return &HealthHandler{db: db, hub: hub}
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Services  map[string]ServiceInfo `json:"services"`
	System    SystemInfo             `json:"system"`
}

// ServiceInfo 服务信息
type ServiceInfo struct {
	Status  string      `json:"status"`
	Latency string      `json:"latency,omitempty"`
	Error   string      `json:"error,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

// SystemInfo 系统信息
type SystemInfo struct {
	Uptime     string `json:"uptime"`
	GoVersion  string `json:"go_version"`
	Goroutines int    `json:"goroutines"`
}

var startTime = time.Now()

// Health 健康检查端点
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Services:  make(map[string]ServiceInfo),
		System: SystemInfo{
			Uptime:     time.Since(startTime).String(),
			GoVersion:  runtime.Version(),
			Goroutines: runtime.NumGoroutine(),
		},
	}

	start := time.Now()
	dbInfo := ServiceInfo{Status: "healthy"}
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		dbInfo.Status = "unhealthy"
		dbInfo.Error = err.Error()
		response.Status = "unhealthy"
	}
	dbInfo.Latency = time.Since(start).String()
	response.Services["database"] = dbInfo

	if h.hub != nil {
		response.Services["stream"] = ServiceInfo{
			Status:  "healthy",
			Details: map[string]interface{}{"clients": h.hub.ClientCount()},
		}
	}

	statusCode := http.StatusOK
	if response.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, response)
}

// Ready 就绪检查端点
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	ready := true
	sqlDB, err := h.db.DB()
	if err != nil || sqlDB.PingContext(ctx) != nil {
		ready = false
	}

	statusCode := http.StatusOK
	if !ready {
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, gin.H{
		"ready":     ready,
		"timestamp": time.Now(),
	})
}

// Metrics 引擎计数器输出
func (h *HealthHandler) Metrics(c *gin.Context) {
	events, matched, executions, duplicates, actionFailures, byStatus := metrics.EngineSnapshot()
	c.JSON(http.StatusOK, gin.H{
		"events_seen":      events,
		"rules_matched":    matched,
		"executions":       executions,
		"duplicate_events": duplicates,
		"action_failures":  actionFailures,
		"by_status":        byStatus,
	})
}

// RegisterHealthRoutes 注册健康检查与指标路由
func RegisterHealthRoutes(r *gin.Engine, handler *HealthHandler) {
	r.GET("/health", handler.Health)
	r.GET("/ready", handler.Ready)
	r.GET("/metrics", handler.Metrics)
}
