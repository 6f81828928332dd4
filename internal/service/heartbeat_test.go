package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querysentry/querysentry/internal/model"
	"github.com/querysentry/querysentry/internal/store"
)

func newTestHeartbeatService() *HeartbeatService {
	return NewHeartbeatService(NewCommandQueue(DefaultCommandTTL))
}

func TestAuthenticateRejectsEmptyKey(t *testing.T) {
	setupTestDB(t)
	collector, _ := registerTestCollector(t)
	svc := newTestHeartbeatService()

	_, err := svc.Authenticate(collector.ID, "")
	assert.ErrorIs(t, err, ErrAuthentication)
}

func TestAuthenticateRejectsUnknownCollector(t *testing.T) {
	setupTestDB(t)
	svc := newTestHeartbeatService()

	_, err := svc.Authenticate("no-such-collector", "qsk_whatever")
	assert.ErrorIs(t, err, ErrAuthentication)
}

func TestAuthenticateRejectsWrongKey(t *testing.T) {
	setupTestDB(t)
	collector, _ := registerTestCollector(t)
	svc := newTestHeartbeatService()

	_, err := svc.Authenticate(collector.ID, "qsk_wrong")
	assert.ErrorIs(t, err, ErrAuthentication)
}

func TestFailedAuthDoesNotTouchLiveness(t *testing.T) {
	setupTestDB(t)
	collector, _ := registerTestCollector(t)
	svc := newTestHeartbeatService()

	_, err := svc.Process(collector.ID, "qsk_wrong", &HeartbeatRequest{})
	require.ErrorIs(t, err, ErrAuthentication)

	stored, err := GetCollector(collector.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.LastHeartbeat)
	assert.Equal(t, model.CollectorStatusStarting, stored.Status)
}

func TestHeartbeatBringsCollectorOnline(t *testing.T) {
	setupTestDB(t)
	collector, apiKey := registerTestCollector(t)
	svc := newTestHeartbeatService()

	commands, err := svc.Process(collector.ID, apiKey, &HeartbeatRequest{})
	require.NoError(t, err)
	assert.Empty(t, commands)

	stored, err := GetCollector(collector.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CollectorStatusOnline, stored.Status)
	require.NotNil(t, stored.LastHeartbeat)
	assert.WithinDuration(t, time.Now(), *stored.LastHeartbeat, 2*time.Second)
}

func TestHeartbeatRevivesOfflineCollector(t *testing.T) {
	setupTestDB(t)
	collector, apiKey := registerTestCollector(t)
	svc := newTestHeartbeatService()

	require.NoError(t, store.SetCollectorStatus(collector.ID, model.CollectorStatusOffline))

	_, err := svc.Process(collector.ID, apiKey, &HeartbeatRequest{})
	require.NoError(t, err)

	stored, err := GetCollector(collector.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CollectorStatusOnline, stored.Status)
}

func TestHeartbeatKeepsStoppedCollectorStopped(t *testing.T) {
	setupTestDB(t)
	collector, apiKey := registerTestCollector(t)
	svc := newTestHeartbeatService()

	require.NoError(t, store.SetCollectorStatus(collector.ID, model.CollectorStatusStopped))

	// 已停止采集器仍可心跳续命，但状态保持 stopped
	_, err := svc.Process(collector.ID, apiKey, &HeartbeatRequest{})
	require.NoError(t, err)

	stored, err := GetCollector(collector.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CollectorStatusStopped, stored.Status)
	assert.NotNil(t, stored.LastHeartbeat)
}

func TestHeartbeatOverwritesStats(t *testing.T) {
	setupTestDB(t)
	collector, apiKey := registerTestCollector(t)
	svc := newTestHeartbeatService()

	_, err := svc.Process(collector.ID, apiKey, &HeartbeatRequest{
		Stats: model.HeartbeatStats{QueriesCollected: 100, ErrorsCount: 3, UptimeSeconds: 600},
	})
	require.NoError(t, err)

	// 统计为采集端累计值，整体覆盖而非服务端累加
	_, err = svc.Process(collector.ID, apiKey, &HeartbeatRequest{
		Stats: model.HeartbeatStats{QueriesCollected: 42, ErrorsCount: 1, UptimeSeconds: 60},
	})
	require.NoError(t, err)

	stored, err := GetCollector(collector.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(42), stored.QueriesCollected)
	assert.Equal(t, int64(1), stored.ErrorsCount)
	assert.Equal(t, int64(60), stored.UptimeSeconds)
}

func TestHeartbeatRecordsReportedError(t *testing.T) {
	setupTestDB(t)
	collector, apiKey := registerTestCollector(t)
	svc := newTestHeartbeatService()

	_, err := svc.Process(collector.ID, apiKey, &HeartbeatRequest{Error: "pg_stat_statements not enabled"})
	require.NoError(t, err)

	stored, err := GetCollector(collector.ID)
	require.NoError(t, err)
	assert.Equal(t, "pg_stat_statements not enabled", stored.LastError)
}

func TestHeartbeatReturnsPendingCommands(t *testing.T) {
	setupTestDB(t)
	collector, apiKey := registerTestCollector(t)
	queue := NewCommandQueue(DefaultCommandTTL)
	svc := NewHeartbeatService(queue)

	cmd, err := queue.Enqueue(collector.ID, model.CommandCollect, "")
	require.NoError(t, err)

	commands, err := svc.Process(collector.ID, apiKey, &HeartbeatRequest{})
	require.NoError(t, err)
	require.Len(t, commands, 1)
	assert.Equal(t, cmd.ID, commands[0].ID)
}

func TestAcknowledgeExecutionRejectsForeignCommand(t *testing.T) {
	setupTestDB(t)
	owner, _ := registerTestCollector(t)
	other, otherKey := registerTestCollector(t)
	queue := NewCommandQueue(DefaultCommandTTL)
	svc := NewHeartbeatService(queue)

	cmd, err := queue.Enqueue(owner.ID, model.CommandCollect, "")
	require.NoError(t, err)

	// 他人指令不可确认：按不存在处理，不泄露归属
	err = svc.AcknowledgeExecution(other.ID, otherKey, cmd.ID, true, nil)
	assert.ErrorIs(t, err, ErrNotFound)

	stored, err := store.GetCommand(cmd.ID)
	require.NoError(t, err)
	assert.False(t, stored.Executed)
}

func TestStopCommandLifecycle(t *testing.T) {
	setupTestDB(t)
	collector, apiKey := registerTestCollector(t)
	queue := NewCommandQueue(DefaultCommandTTL)
	svc := NewHeartbeatService(queue)

	// 心跳拉起采集器
	_, err := svc.Process(collector.ID, apiKey, &HeartbeatRequest{})
	require.NoError(t, err)

	// 管理端下发 stop
	cmd, err := queue.Enqueue(collector.ID, model.CommandStop, "")
	require.NoError(t, err)

	// 下一次心跳携带该指令
	commands, err := svc.Process(collector.ID, apiKey, &HeartbeatRequest{})
	require.NoError(t, err)
	require.Len(t, commands, 1)
	assert.Equal(t, model.CommandStop, commands[0].Command)

	// 采集端回报执行成功
	require.NoError(t, svc.AcknowledgeExecution(collector.ID, apiKey, cmd.ID, true, nil))

	stored, err := GetCollector(collector.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CollectorStatusStopped, stored.Status)
	assert.False(t, stored.AutoCollect)

	// 确认后积压清空
	commands, err = svc.Process(collector.ID, apiKey, &HeartbeatRequest{})
	require.NoError(t, err)
	assert.Empty(t, commands)
}
