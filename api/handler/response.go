package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/querysentry/querysentry/internal/service"
)

// ErrorResponse 错误响应
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SuccessResponse 成功响应
type SuccessResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// abortWithServiceError 按服务层错误分类映射HTTP状态码
func abortWithServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrAuthentication):
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Code:    "AUTHENTICATION_FAILED",
			Message: "接入密钥无效",
		})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Code:    "NOT_FOUND",
			Message: err.Error(),
		})
	case errors.Is(err, service.ErrInvalidPayload):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_PAYLOAD",
			Message: err.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "INTERNAL_ERROR",
			Message: err.Error(),
		})
	}
}
