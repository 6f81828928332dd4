package service

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/querysentry/querysentry/internal/config"
	"github.com/querysentry/querysentry/internal/database"
	"github.com/querysentry/querysentry/internal/model"
)

// setupTestDB 初始化基于临时目录的测试数据库
func setupTestDB(t *testing.T) {
	t.Helper()
	err := database.InitSQLite(config.SQLiteConfig{
		Path:            filepath.Join(t.TempDir(), "test.db"),
		ConnMaxLifetime: time.Hour,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = database.Close()
	})
}

// registerTestCollector 注册一个测试采集器，返回记录与明文密钥
func registerTestCollector(t *testing.T) (*model.Collector, string) {
	t.Helper()
	collector, apiKey, err := RegisterCollector(&RegisterRequest{
		OrganizationID: "org-1",
		TeamID:         "team-1",
		Name:           "test-collector",
		Type:           model.CollectorTypeMySQL,
	})
	require.NoError(t, err)
	require.NotEmpty(t, apiKey)
	return collector, apiKey
}
