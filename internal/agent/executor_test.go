package agent

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querysentry/querysentry/internal/config"
	"github.com/querysentry/querysentry/internal/model"
)

func newTestRuntime() *Runtime {
	return NewRuntime(&config.AgentConfig{
		CollectorID:        "test-collector",
		APIKey:             "qsk_test",
		BackendURL:         "http://backend.local",
		DBType:             "mysql",
		DBDSN:              "user:pass@tcp(db:3306)/",
		SlowThresholdMS:    1000,
		HeartbeatInterval:  30 * time.Second,
		CollectionInterval: 5 * time.Minute,
		AutoCollect:        true,
	}, nil, nil)
}

func TestHandledSetBound(t *testing.T) {
	s := newHandledSet(3)
	ok := model.CommandResult{Success: true}

	s.Add("a", ok)
	s.Add("b", ok)
	s.Add("c", ok)
	require.True(t, s.Contains("a"))

	// 超出上限淘汰最早记录
	s.Add("d", ok)
	assert.False(t, s.Contains("a"))
	assert.True(t, s.Contains("b"))
	assert.True(t, s.Contains("d"))
}

func TestHandledSetAddIdempotent(t *testing.T) {
	s := newHandledSet(2)

	s.Add("a", model.CommandResult{Success: true})
	s.Add("a", model.CommandResult{Success: false})
	s.Add("b", model.CommandResult{Success: true})

	// 重复Add不占用额外容量，也不覆盖首次结果
	first, found := s.Get("a")
	require.True(t, found)
	assert.True(t, first.Success)

	s.Add("c", model.CommandResult{Success: true})
	assert.False(t, s.Contains("a"))
	assert.True(t, s.Contains("b"))
	assert.True(t, s.Contains("c"))
}

func TestHandledSetKeepsOriginalResult(t *testing.T) {
	s := newHandledSet(4)

	s.Add("failed-cmd", model.CommandResult{
		Success: false,
		Details: map[string]interface{}{"error": "invalid config payload"},
	})

	result, found := s.Get("failed-cmd")
	require.True(t, found)
	assert.False(t, result.Success)
	assert.Equal(t, "invalid config payload", result.Details["error"])
}

func TestExecuteStopDisablesAutoCollect(t *testing.T) {
	r := newTestRuntime()

	result := r.executeCommand(Command{ID: "cmd-1", Command: model.CommandStop})
	assert.True(t, result.Success)
	assert.False(t, r.autoCollect)

	// 重复执行幂等
	result = r.executeCommand(Command{ID: "cmd-2", Command: model.CommandStop})
	assert.True(t, result.Success)
	assert.False(t, r.autoCollect)
}

func TestExecuteStartEnablesAutoCollect(t *testing.T) {
	r := newTestRuntime()
	r.autoCollect = false

	result := r.executeCommand(Command{ID: "cmd-1", Command: model.CommandStart})
	assert.True(t, result.Success)
	assert.True(t, r.autoCollect)
}

func TestExecuteCollectTriggersAndMerges(t *testing.T) {
	r := newTestRuntime()

	result := r.executeCommand(Command{ID: "cmd-1", Command: model.CommandCollect})
	assert.True(t, result.Success)
	assert.Len(t, r.collectNow, 1)

	// 已有待处理触发时合并，不阻塞
	result = r.executeCommand(Command{ID: "cmd-2", Command: model.CommandCollect})
	assert.True(t, result.Success)
	assert.Len(t, r.collectNow, 1)
}

func TestExecuteUnknownCommand(t *testing.T) {
	r := newTestRuntime()

	result := r.executeCommand(Command{ID: "cmd-1", Command: model.CommandType("restart")})
	assert.False(t, result.Success)
	assert.Contains(t, fmt.Sprint(result.Details["error"]), "unknown command type")
}

func TestApplyConfigPatchUpdatesFields(t *testing.T) {
	r := newTestRuntime()

	payload := `{"db_dsn":"user:pass@tcp(replica:3306)/","slow_threshold_ms":500,"collection_interval_minutes":10}`
	result := r.executeCommand(Command{ID: "cmd-1", Command: model.CommandUpdateConfig, Payload: payload})

	require.True(t, result.Success)
	assert.Equal(t, "user:pass@tcp(replica:3306)/", r.dbConfig.DSN)
	assert.Equal(t, int64(500), r.dbConfig.SlowThresholdMS)
	assert.Equal(t, 10*time.Minute, r.collectionInterval)
	// 未出现在载荷中的字段保持不变
	assert.Equal(t, "mysql", r.dbConfig.Type)
}

func TestApplyConfigPatchRejectsInvalidJSON(t *testing.T) {
	r := newTestRuntime()
	before := r.dbConfig

	result := r.executeCommand(Command{ID: "cmd-1", Command: model.CommandUpdateConfig, Payload: "{not json"})
	assert.False(t, result.Success)
	assert.Equal(t, before, r.dbConfig)
}

func TestApplyConfigPatchRejectsEmptyPatch(t *testing.T) {
	r := newTestRuntime()

	result := r.executeCommand(Command{ID: "cmd-1", Command: model.CommandUpdateConfig, Payload: `{"unknown_field":1}`})
	assert.False(t, result.Success)
}
