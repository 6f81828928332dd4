package service

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/querysentry/querysentry/internal/model"
	"github.com/querysentry/querysentry/internal/store"
	"github.com/querysentry/querysentry/pkg/logger"
)

// RegisterRequest 采集器注册请求
type RegisterRequest struct {
	OrganizationID            string `json:"organization_id" binding:"required"`
	TeamID                    string `json:"team_id"`
	Name                      string `json:"name" binding:"required"`
	Type                      string `json:"type" binding:"required"`
	CollectionIntervalMinutes int    `json:"collection_interval_minutes"`
}

// RegisterCollector 注册采集器；返回的明文密钥仅此一次可见
func RegisterCollector(req *RegisterRequest) (*model.Collector, string, error) {
	switch strings.ToLower(strings.TrimSpace(req.Type)) {
	case model.CollectorTypeMySQL, model.CollectorTypePostgres:
	default:
		return nil, "", fmt.Errorf("%w: unsupported collector type %q", ErrInvalidPayload, req.Type)
	}

	apiKey, hash, err := newAPIKey()
	if err != nil {
		return nil, "", err
	}

	interval := req.CollectionIntervalMinutes
	if interval <= 0 {
		interval = 5
	}

	collector := &model.Collector{
		ID:                        uuid.NewString(),
		OrganizationID:            req.OrganizationID,
		TeamID:                    req.TeamID,
		Name:                      req.Name,
		Type:                      strings.ToLower(strings.TrimSpace(req.Type)),
		APIKeyHash:                hash,
		Status:                    model.CollectorStatusStarting,
		AutoCollect:               true,
		CollectionIntervalMinutes: interval,
	}

	if err := store.CreateCollector(collector); err != nil {
		return nil, "", fmt.Errorf("failed to create collector: %w", err)
	}

	logger.Info("Collector registered", "collector_id", collector.ID, "type", collector.Type)
	return collector, apiKey, nil
}

// GetCollector 查询采集器
func GetCollector(id string) (*model.Collector, error) {
	c, err := store.GetCollector(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: collector %s", ErrNotFound, id)
		}
		return nil, err
	}
	return c, nil
}

// ListCollectors 查询采集器列表
func ListCollectors(orgID string) ([]model.Collector, error) {
	return store.ListCollectors(orgID)
}

// RegenerateAPIKey 重置接入密钥；同时清空缓存的在线判定（回到 starting）
func RegenerateAPIKey(id string) (string, error) {
	if _, err := GetCollector(id); err != nil {
		return "", err
	}

	apiKey, hash, err := newAPIKey()
	if err != nil {
		return "", err
	}
	if err := store.ResetAPIKey(id, hash); err != nil {
		return "", fmt.Errorf("failed to reset api key: %w", err)
	}

	logger.Info("Collector API key regenerated", "collector_id", id)
	return apiKey, nil
}

// DeleteCollector 删除采集器并级联清理其指令
func DeleteCollector(id string) error {
	if _, err := GetCollector(id); err != nil {
		return err
	}
	if err := store.DeleteCollector(id); err != nil {
		return fmt.Errorf("failed to delete collector: %w", err)
	}
	logger.Info("Collector deleted", "collector_id", id)
	return nil
}

// newAPIKey 生成明文密钥与其盐化哈希
func newAPIKey() (string, string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("failed to generate api key: %w", err)
	}
	apiKey := "qsk_" + hex.EncodeToString(raw)

	hash, err := bcrypt.GenerateFromPassword([]byte(apiKey), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("failed to hash api key: %w", err)
	}
	return apiKey, string(hash), nil
}

// verifyAPIKey 以恒定时间比较校验明文密钥
func verifyAPIKey(hash, apiKey string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(apiKey)) == nil
}
