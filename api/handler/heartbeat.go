package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/querysentry/querysentry/internal/model"
	"github.com/querysentry/querysentry/internal/service"
	"github.com/querysentry/querysentry/pkg/logger"
)

// APIKeyHeader 采集端接入密钥请求头
const APIKeyHeader = "X-Collector-API-Key"

// HeartbeatHandler 采集端侧接口处理器（心跳与指令回执）
type HeartbeatHandler struct {
	heartbeatService *service.HeartbeatService
}

// NewHeartbeatHandler 创建心跳处理器
func NewHeartbeatHandler(heartbeatService *service.HeartbeatService) *HeartbeatHandler {
	return &HeartbeatHandler{heartbeatService: heartbeatService}
}

// commandView 心跳响应中的指令视图
type commandView struct {
	ID        string            `json:"id"`
	Command   model.CommandType `json:"command"`
	Payload   string            `json:"payload,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Heartbeat 处理采集器心跳
// @Summary 采集器心跳
// @Description 认证采集器、刷新活性与统计，并返回待执行指令
// @Tags collectors
// @Accept json
// @Produce json
// @Param id path string true "采集器ID"
// @Success 200 {object} map[string]interface{} "心跳受理"
// @Failure 401 {object} ErrorResponse "密钥无效"
// @Router /api/v1/collectors/{id}/heartbeat [post]
func (h *HeartbeatHandler) Heartbeat(c *gin.Context) {
	collectorID := c.Param("id")
	apiKey := c.GetHeader(APIKeyHeader)

	var req service.HeartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Error("Invalid heartbeat body", "collector_id", collectorID, "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_PARAMS",
			Message: "请求参数无效: " + err.Error(),
		})
		return
	}

	commands, err := h.heartbeatService.Process(collectorID, apiKey, &req)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}

	views := make([]commandView, 0, len(commands))
	for _, cmd := range commands {
		views = append(views, commandView{
			ID:        cmd.ID,
			Command:   cmd.Command,
			Payload:   cmd.Payload,
			CreatedAt: cmd.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"commands": views,
	})
}

// executeRequest 指令执行回执
type executeRequest struct {
	Success bool                   `json:"success"`
	Result  map[string]interface{} `json:"result"`
}

// Execute 处理指令执行回执（幂等：重复与过期回执均受理）
// @Summary 指令执行回执
// @Tags collectors
// @Accept json
// @Produce json
// @Param id path string true "采集器ID"
// @Param cmd_id path string true "指令ID"
// @Success 200 {object} map[string]interface{} "回执受理"
// @Failure 401 {object} ErrorResponse "密钥无效"
// @Failure 404 {object} ErrorResponse "指令不存在"
// @Router /api/v1/collectors/{id}/commands/{cmd_id}/execute [post]
func (h *HeartbeatHandler) Execute(c *gin.Context) {
	collectorID := c.Param("id")
	commandID := c.Param("cmd_id")
	apiKey := c.GetHeader(APIKeyHeader)

	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Error("Invalid execute body", "command_id", commandID, "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_PARAMS",
			Message: "请求参数无效: " + err.Error(),
		})
		return
	}

	if err := h.heartbeatService.AcknowledgeExecution(collectorID, apiKey, commandID, req.Success, req.Result); err != nil {
		abortWithServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
