package handlers

import (
	"campusadmin/internal/database"
	"campusadmin/internal/services"
	"campusadmin/pkg/response"
	"context"
	"time"

	"github.com/gin-gonic/gin"
)

// SystemHandler 健康检查与一致性巡检
type SystemHandler struct {
	auditor *services.ConsistencyAuditor
}

// NewSystemHandler 创建系统处理器
func NewSystemHandler(auditor *services.ConsistencyAuditor) *SystemHandler {
	return &SystemHandler{
		auditor: auditor,
	}
}

// Health 健康检查
func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	status := gin.H{"database": "ok", "redis": "ok"}
	if sqlDB, err := database.GetDB().DB(); err != nil || sqlDB.PingContext(ctx) != nil {
		status["database"] = "unavailable"
	}
	if err := database.PingRedis(ctx); err != nil {
		status["redis"] = "unavailable"
	}

	response.Success(c, status)
}

// AuditReport 最近一次巡检结果
func (h *SystemHandler) AuditReport(c *gin.Context) {
	report := h.auditor.LastReport()
	if report == nil {
		response.NotFound(c, "尚未执行巡检")
		return
	}
	response.Success(c, report)
}

// RunAudit 立即执行一次巡检
func (h *SystemHandler) RunAudit(c *gin.Context) {
	report, err := h.auditor.Run(c.Request.Context())
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, report)
}
