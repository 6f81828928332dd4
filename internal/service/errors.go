package service

import "errors"

// 服务层错误分类；处理器据此映射HTTP状态码
var (
	// ErrNotFound 采集器或指令不存在
	ErrNotFound = errors.New("resource not found")
	// ErrAuthentication 接入密钥缺失或校验失败；不改动任何状态
	ErrAuthentication = errors.New("authentication failed")
	// ErrInvalidPayload 指令载荷不合法
	ErrInvalidPayload = errors.New("invalid command payload")
)
