package service

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/querysentry/querysentry/internal/model"
	"github.com/querysentry/querysentry/internal/store"
	"github.com/querysentry/querysentry/pkg/logger"
)

// HeartbeatRequest 心跳请求体
type HeartbeatRequest struct {
	Stats model.HeartbeatStats `json:"stats"`
	Error string               `json:"error,omitempty"`
}

// HeartbeatService 心跳服务：认证、刷新活性与统计、返回指令积压
type HeartbeatService struct {
	queue *CommandQueue
}

// NewHeartbeatService 创建心跳服务
func NewHeartbeatService(queue *CommandQueue) *HeartbeatService {
	return &HeartbeatService{queue: queue}
}

// Authenticate 校验采集器接入密钥；未知采集器与密钥不符均视为认证失败
func (s *HeartbeatService) Authenticate(collectorID, apiKey string) (*model.Collector, error) {
	if apiKey == "" {
		return nil, ErrAuthentication
	}
	c, err := store.GetCollector(collectorID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAuthentication
		}
		return nil, err
	}
	if !verifyAPIKey(c.APIKeyHash, apiKey) {
		return nil, ErrAuthentication
	}
	return c, nil
}

// Process 处理一次心跳：starting/offline 切换为 online，刷新心跳时间，
// 统计字段以采集端累计值整体覆盖，并返回待下发指令积压
func (s *HeartbeatService) Process(collectorID, apiKey string, req *HeartbeatRequest) ([]model.CollectorCommand, error) {
	collector, err := s.Authenticate(collectorID, apiKey)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if err := store.UpdateHeartbeat(collectorID, now, req.Stats, req.Error); err != nil {
		return nil, fmt.Errorf("failed to record heartbeat: %w", err)
	}

	if collector.Status == model.CollectorStatusStarting || collector.Status == model.CollectorStatusOffline {
		logger.Info("Collector transitioned online",
			"collector_id", collectorID, "previous_status", collector.Status)
	}
	if req.Error != "" {
		logger.Warn("Collector reported error", "collector_id", collectorID, "error", req.Error)
	}

	commands, err := s.queue.Pending(collectorID)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending commands: %w", err)
	}

	logger.Debug("Heartbeat processed",
		"collector_id", collectorID,
		"queries_collected", req.Stats.QueriesCollected,
		"pending_commands", len(commands))
	return commands, nil
}

// AcknowledgeExecution 采集端回报指令执行结果；重复与过期确认幂等接受
func (s *HeartbeatService) AcknowledgeExecution(collectorID, apiKey, commandID string, success bool, details map[string]interface{}) error {
	if _, err := s.Authenticate(collectorID, apiKey); err != nil {
		return err
	}

	cmd, err := store.GetCommand(commandID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: command %s", ErrNotFound, commandID)
		}
		return err
	}
	if cmd.CollectorID != collectorID {
		return fmt.Errorf("%w: command %s", ErrNotFound, commandID)
	}

	return s.queue.Acknowledge(commandID, success, details)
}
