package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/querysentry/querysentry/internal/model"
	"github.com/querysentry/querysentry/internal/store"
	"github.com/querysentry/querysentry/pkg/logger"
)

// DefaultCommandTTL 指令有效期
const DefaultCommandTTL = 5 * time.Minute

// CommandQueue 指令队列：创建带TTL的指令并提供先进先出的未达积压
type CommandQueue struct {
	ttl time.Duration
}

// NewCommandQueue 创建指令队列
func NewCommandQueue(ttl time.Duration) *CommandQueue {
	if ttl <= 0 {
		ttl = DefaultCommandTTL
	}
	return &CommandQueue{ttl: ttl}
}

// Enqueue 创建指令；未知采集器返回 ErrNotFound
func (q *CommandQueue) Enqueue(collectorID string, command model.CommandType, payload string) (*model.CollectorCommand, error) {
	if _, err := GetCollector(collectorID); err != nil {
		return nil, err
	}

	if command == model.CommandUpdateConfig {
		trimmed := strings.TrimSpace(payload)
		if trimmed == "" || !json.Valid([]byte(trimmed)) {
			return nil, fmt.Errorf("%w: update_config requires a JSON payload", ErrInvalidPayload)
		}
		payload = trimmed
	} else {
		payload = ""
	}

	now := time.Now()
	cmd := &model.CollectorCommand{
		ID:          uuid.NewString(),
		CollectorID: collectorID,
		Command:     command,
		Payload:     payload,
		CreatedAt:   now,
		ExpiresAt:   now.Add(q.ttl),
		Executed:    false,
	}
	if err := store.CreateCommand(cmd); err != nil {
		return nil, fmt.Errorf("failed to enqueue command: %w", err)
	}

	logger.Info("Command enqueued",
		"command_id", cmd.ID, "collector_id", collectorID,
		"command", string(command), "expires_at", cmd.ExpiresAt)
	return cmd, nil
}

// Pending 返回未执行且未过期的指令，按创建时间先进先出
// 不做任何“已下发”标记：同一指令在确认前可被重复取走（至少一次语义）
func (q *CommandQueue) Pending(collectorID string) ([]model.CollectorCommand, error) {
	return store.PendingCommands(collectorID, time.Now())
}

// Acknowledge 记录指令终态；成败皆为终止。重复确认与过期后确认均幂等受理，
// 但都不改写既有终态，也不触发状态联动
func (q *CommandQueue) Acknowledge(commandID string, success bool, details map[string]interface{}) error {
	cmd, err := store.GetCommand(commandID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: command %s", ErrNotFound, commandID)
		}
		return err
	}

	now := time.Now()
	result := model.CommandResult{Success: success, Details: details}.Encode()

	flipped, err := store.AcknowledgeCommand(commandID, result, now)
	if err != nil {
		return fmt.Errorf("failed to acknowledge command: %w", err)
	}
	if !flipped {
		if !cmd.Executed && cmd.IsExpired(now) {
			// 过期后才到达的确认：受理但不改写已过期的终态
			logger.Warn("Command acknowledged after expiry, result discarded",
				"command_id", commandID, "collector_id", cmd.CollectorID,
				"expired_at", cmd.ExpiresAt)
			return nil
		}
		// 指令已被确认过：至少一次下发下的良性竞态
		logger.Info("Command already acknowledged, ignoring duplicate",
			"command_id", commandID, "collector_id", cmd.CollectorID)
		return nil
	}

	logger.Info("Command acknowledged",
		"command_id", commandID, "collector_id", cmd.CollectorID,
		"command", string(cmd.Command), "success", success)

	// 成功执行的 start/stop 同步推进采集器状态机
	if success {
		q.applyStatusTransition(cmd)
	}
	return nil
}

// applyStatusTransition 成功确认的 stop 置 stopped；start 将 stopped 拉回 online
func (q *CommandQueue) applyStatusTransition(cmd *model.CollectorCommand) {
	switch cmd.Command {
	case model.CommandStop:
		if err := store.SetCollectorStatus(cmd.CollectorID, model.CollectorStatusStopped); err != nil {
			logger.Error("Failed to mark collector stopped", "collector_id", cmd.CollectorID, "error", err)
		}
		if err := store.SetAutoCollect(cmd.CollectorID, false); err != nil {
			logger.Error("Failed to disable auto collect", "collector_id", cmd.CollectorID, "error", err)
		}
	case model.CommandStart:
		c, err := store.GetCollector(cmd.CollectorID)
		if err == nil && c.Status == model.CollectorStatusStopped {
			if err := store.SetCollectorStatus(cmd.CollectorID, model.CollectorStatusOnline); err != nil {
				logger.Error("Failed to mark collector online", "collector_id", cmd.CollectorID, "error", err)
			}
		}
		if err := store.SetAutoCollect(cmd.CollectorID, true); err != nil {
			logger.Error("Failed to enable auto collect", "collector_id", cmd.CollectorID, "error", err)
		}
	case model.CommandCollect, model.CommandUpdateConfig:
		// 无服务端状态副作用
	}
}
