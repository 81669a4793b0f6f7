package handlers

import (
	"planhub/internal/services"

	"github.com/gin-gonic/gin"
)

// RegisterStreamRoutes 注册执行动态 WebSocket 路由
func RegisterStreamRoutes(r *gin.RouterGroup, hub *services.StreamHub) {
	r.GET("/stream", hub.HandleWebSocket)
}
