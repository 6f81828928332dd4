package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querysentry/querysentry/internal/model"
	"github.com/querysentry/querysentry/internal/store"
)

func TestRegisterCollectorDefaults(t *testing.T) {
	setupTestDB(t)

	collector, apiKey, err := RegisterCollector(&RegisterRequest{
		OrganizationID: "org-1",
		Name:           "prod-orders-db",
		Type:           "MySQL",
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(apiKey, "qsk_"))
	assert.Equal(t, model.CollectorTypeMySQL, collector.Type)
	assert.Equal(t, model.CollectorStatusStarting, collector.Status)
	assert.True(t, collector.AutoCollect)
	assert.Equal(t, 5, collector.CollectionIntervalMinutes)
	assert.False(t, collector.IsOnline())

	// 库中只存哈希，不存明文
	stored, err := store.GetCollector(collector.ID)
	require.NoError(t, err)
	assert.NotEqual(t, apiKey, stored.APIKeyHash)
	assert.True(t, verifyAPIKey(stored.APIKeyHash, apiKey))
}

func TestRegisterCollectorRejectsUnknownType(t *testing.T) {
	setupTestDB(t)

	_, _, err := RegisterCollector(&RegisterRequest{
		OrganizationID: "org-1",
		Name:           "bad",
		Type:           "oracle",
	})
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestGetCollectorNotFound(t *testing.T) {
	setupTestDB(t)

	_, err := GetCollector("no-such-collector")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListCollectorsByOrganization(t *testing.T) {
	setupTestDB(t)

	_, _, err := RegisterCollector(&RegisterRequest{OrganizationID: "org-a", Name: "a1", Type: "mysql"})
	require.NoError(t, err)
	_, _, err = RegisterCollector(&RegisterRequest{OrganizationID: "org-a", Name: "a2", Type: "postgres"})
	require.NoError(t, err)
	_, _, err = RegisterCollector(&RegisterRequest{OrganizationID: "org-b", Name: "b1", Type: "mysql"})
	require.NoError(t, err)

	out, err := ListCollectors("org-a")
	require.NoError(t, err)
	assert.Len(t, out, 2)

	all, err := ListCollectors("")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestRegenerateAPIKeyInvalidatesOldKey(t *testing.T) {
	setupTestDB(t)
	collector, oldKey := registerTestCollector(t)
	svc := newTestHeartbeatService()

	// 先心跳拉起，验证重置会清空在线判定
	_, err := svc.Process(collector.ID, oldKey, &HeartbeatRequest{})
	require.NoError(t, err)

	newKey, err := RegenerateAPIKey(collector.ID)
	require.NoError(t, err)
	assert.NotEqual(t, oldKey, newKey)

	_, err = svc.Authenticate(collector.ID, oldKey)
	assert.ErrorIs(t, err, ErrAuthentication)
	_, err = svc.Authenticate(collector.ID, newKey)
	assert.NoError(t, err)

	stored, err := GetCollector(collector.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CollectorStatusStarting, stored.Status)
	assert.Nil(t, stored.LastHeartbeat)
}

func TestDeleteCollectorCascadesCommands(t *testing.T) {
	setupTestDB(t)
	collector, _ := registerTestCollector(t)
	queue := NewCommandQueue(DefaultCommandTTL)

	cmd, err := queue.Enqueue(collector.ID, model.CommandCollect, "")
	require.NoError(t, err)

	require.NoError(t, DeleteCollector(collector.ID))

	_, err = GetCollector(collector.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.GetCommand(cmd.ID)
	assert.Error(t, err)
}

func TestDeleteCollectorNotFound(t *testing.T) {
	setupTestDB(t)

	err := DeleteCollector("no-such-collector")
	assert.ErrorIs(t, err, ErrNotFound)
}
