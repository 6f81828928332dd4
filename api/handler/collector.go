package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/querysentry/querysentry/internal/database"
	"github.com/querysentry/querysentry/internal/model"
	"github.com/querysentry/querysentry/internal/service"
	"github.com/querysentry/querysentry/pkg/logger"
)

// CollectorHandler 管理端采集器处理器
type CollectorHandler struct {
	queue *service.CommandQueue
}

// NewCollectorHandler 创建采集器处理器
func NewCollectorHandler(queue *service.CommandQueue) *CollectorHandler {
	return &CollectorHandler{queue: queue}
}

// Register 注册采集器
// @Summary 注册采集器
// @Description 创建采集器记录并返回仅此一次可见的明文接入密钥
// @Tags collectors
// @Accept json
// @Produce json
// @Success 201 {object} SuccessResponse "注册成功"
// @Failure 400 {object} ErrorResponse "请求参数错误"
// @Router /api/v1/collectors [post]
func (h *CollectorHandler) Register(c *gin.Context) {
	var req service.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_PARAMS",
			Message: "请求参数无效: " + err.Error(),
		})
		return
	}

	collector, apiKey, err := service.RegisterCollector(&req)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, SuccessResponse{
		Code:    "SUCCESS",
		Message: "采集器注册成功，接入密钥仅此一次返回",
		Data: gin.H{
			"collector": collector,
			"api_key":   apiKey,
		},
	})
}

// List 查询采集器列表
// @Summary 查询采集器列表
// @Tags collectors
// @Produce json
// @Router /api/v1/collectors [get]
func (h *CollectorHandler) List(c *gin.Context) {
	collectors, err := service.ListCollectors(c.Query("organization_id"))
	if err != nil {
		abortWithServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Code:    "SUCCESS",
		Message: "查询成功",
		Data:    gin.H{"collectors": collectors, "total": len(collectors)},
	})
}

// Get 查询单个采集器
// @Summary 查询采集器详情
// @Tags collectors
// @Produce json
// @Param id path string true "采集器ID"
// @Router /api/v1/collectors/{id} [get]
func (h *CollectorHandler) Get(c *gin.Context) {
	collector, err := service.GetCollector(c.Param("id"))
	if err != nil {
		abortWithServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Code:    "SUCCESS",
		Message: "查询成功",
		Data: gin.H{
			"collector": collector,
			"is_online": collector.IsOnline(),
		},
	})
}

// RegenerateKey 重置接入密钥
// @Summary 重置采集器接入密钥
// @Description 生成新密钥并使采集器回到 starting 状态
// @Tags collectors
// @Produce json
// @Param id path string true "采集器ID"
// @Router /api/v1/collectors/{id}/regenerate-key [post]
func (h *CollectorHandler) RegenerateKey(c *gin.Context) {
	apiKey, err := service.RegenerateAPIKey(c.Param("id"))
	if err != nil {
		abortWithServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Code:    "SUCCESS",
		Message: "接入密钥已重置，仅此一次返回",
		Data:    gin.H{"api_key": apiKey},
	})
}

// Delete 删除采集器（级联清理指令）
// @Summary 删除采集器
// @Tags collectors
// @Produce json
// @Param id path string true "采集器ID"
// @Router /api/v1/collectors/{id} [delete]
func (h *CollectorHandler) Delete(c *gin.Context) {
	if err := service.DeleteCollector(c.Param("id")); err != nil {
		abortWithServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Code:    "SUCCESS",
		Message: "采集器已删除",
	})
}

// Start 下发 start 指令
// @Summary 下发启动采集指令
// @Tags commands
// @Produce json
// @Param id path string true "采集器ID"
// @Router /api/v1/collectors/{id}/start [post]
func (h *CollectorHandler) Start(c *gin.Context) {
	h.enqueue(c, model.CommandStart, "")
}

// Stop 下发 stop 指令
// @Summary 下发停止采集指令
// @Tags commands
// @Produce json
// @Param id path string true "采集器ID"
// @Router /api/v1/collectors/{id}/stop [post]
func (h *CollectorHandler) Stop(c *gin.Context) {
	h.enqueue(c, model.CommandStop, "")
}

// Collect 下发 collect 指令（计划外的一次立即采集）
// @Summary 下发立即采集指令
// @Tags commands
// @Produce json
// @Param id path string true "采集器ID"
// @Router /api/v1/collectors/{id}/collect [post]
func (h *CollectorHandler) Collect(c *gin.Context) {
	h.enqueue(c, model.CommandCollect, "")
}

// UpdateConfig 下发 update_config 指令
// @Summary 下发配置更新指令
// @Description 载荷为不透明JSON，在采集端下一次采集前原子生效
// @Tags commands
// @Accept json
// @Produce json
// @Param id path string true "采集器ID"
// @Router /api/v1/collectors/{id}/config [post]
func (h *CollectorHandler) UpdateConfig(c *gin.Context) {
	var payload json.RawMessage
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_PARAMS",
			Message: "配置载荷必须为合法JSON: " + err.Error(),
		})
		return
	}
	h.enqueue(c, model.CommandUpdateConfig, string(payload))
}

func (h *CollectorHandler) enqueue(c *gin.Context, command model.CommandType, payload string) {
	collectorID := c.Param("id")

	cmd, err := h.queue.Enqueue(collectorID, command, payload)
	if err != nil {
		logger.Error("Failed to enqueue command",
			"collector_id", collectorID, "command", string(command), "error", err)
		abortWithServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Code:    "SUCCESS",
		Message: "指令已入队",
		Data: gin.H{
			"command_id": cmd.ID,
			"command":    cmd.Command,
			"expires_at": cmd.ExpiresAt,
		},
	})
}

// Health 健康检查
// @Summary 健康检查
// @Tags system
// @Produce json
// @Success 200 {object} SuccessResponse "服务正常"
// @Failure 503 {object} ErrorResponse "服务异常"
// @Router /api/v1/health [get]
func (h *CollectorHandler) Health(c *gin.Context) {
	if err := database.Health(); err != nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Code:    "SERVICE_UNAVAILABLE",
			Message: "数据库不可用: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Code:    "SUCCESS",
		Message: "服务正常",
	})
}
