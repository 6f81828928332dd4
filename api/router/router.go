package router

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/querysentry/querysentry/api/handler"
	"github.com/querysentry/querysentry/internal/service"
	"github.com/querysentry/querysentry/pkg/logger"
)

// SetupRouter 设置路由
func SetupRouter(heartbeatService *service.HeartbeatService, queue *service.CommandQueue, adminToken string) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(CORSMiddleware())
	r.Use(RequestIDMiddleware())
	r.Use(LoggingMiddleware())

	heartbeatHandler := handler.NewHeartbeatHandler(heartbeatService)
	collectorHandler := handler.NewCollectorHandler(queue)

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"name":    "Query Sentry",
			"version": "1.0.0",
			"status":  "running",
		})
	})

	v1 := r.Group("/api/v1")
	{
		v1.GET("/health", collectorHandler.Health)

		// 采集端侧接口：密钥在处理器内认证
		v1.POST("/collectors/:id/heartbeat", heartbeatHandler.Heartbeat)
		v1.POST("/collectors/:id/commands/:cmd_id/execute", heartbeatHandler.Execute)

		// 管理端接口：正式环境由外部JWT网关认证，此处保留静态令牌挂点
		admin := v1.Group("")
		admin.Use(AdminAuthMiddleware(adminToken))
		{
			admin.POST("/collectors", collectorHandler.Register)
			admin.GET("/collectors", collectorHandler.List)
			admin.GET("/collectors/:id", collectorHandler.Get)
			admin.DELETE("/collectors/:id", collectorHandler.Delete)
			admin.POST("/collectors/:id/regenerate-key", collectorHandler.RegenerateKey)
			admin.POST("/collectors/:id/start", collectorHandler.Start)
			admin.POST("/collectors/:id/stop", collectorHandler.Stop)
			admin.POST("/collectors/:id/collect", collectorHandler.Collect)
			admin.POST("/collectors/:id/config", collectorHandler.UpdateConfig)
		}
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "NOT_FOUND",
			"message": "接口不存在",
			"path":    c.Request.URL.Path,
		})
	})

	return r
}

// AdminAuthMiddleware 管理端静态令牌校验；令牌为空时放行（外部网关已鉴权的部署形态）
func AdminAuthMiddleware(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token != "" && c.GetHeader("X-Admin-Token") != token {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "AUTHENTICATION_FAILED",
				"message": "管理令牌无效",
			})
			return
		}
		c.Next()
	}
}

// CORSMiddleware 跨域中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID, X-Collector-API-Key, X-Admin-Token")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// RequestIDMiddleware 请求ID中间件
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}
		c.Header("X-Request-ID", requestID)
		c.Set("request_id", requestID)
		c.Next()
	}
}

// LoggingMiddleware 日志中间件
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start)
		requestID := c.GetString("request_id")
		statusCode := c.Writer.Status()

		logger.Info("HTTP Request",
			"request_id", requestID,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", statusCode,
			"duration", duration,
			"client_ip", c.ClientIP(),
		)

		if statusCode >= 500 {
			logger.Error("HTTP Error",
				"request_id", requestID,
				"method", c.Request.Method,
				"path", c.Request.URL.Path,
				"status", statusCode,
			)
		}
	}
}

// generateRequestID 生成请求ID
func generateRequestID() string {
	return fmt.Sprintf("%d", time.Now().UnixNano())
}
