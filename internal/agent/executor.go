package agent

import (
	"encoding/json"
	"fmt"

	"github.com/querysentry/querysentry/internal/model"
	"github.com/querysentry/querysentry/pkg/logger"
)

// handledSet 记录已处理指令及其原始执行结果的有界集合
// 下发语义为至少一次，同一指令可能随多次心跳重复到达；
// 重复到达时需原样重发当时的结果，故连同结果一并保留
type handledSet struct {
	max     int
	results map[string]model.CommandResult
	order   []string
}

func newHandledSet(max int) *handledSet {
	if max <= 0 {
		max = 1024
	}
	return &handledSet{
		max:     max,
		results: make(map[string]model.CommandResult, max),
	}
}

// Contains 是否已处理过该指令
func (s *handledSet) Contains(id string) bool {
	_, ok := s.results[id]
	return ok
}

// Get 返回已处理指令的原始执行结果
func (s *handledSet) Get(id string) (model.CommandResult, bool) {
	result, ok := s.results[id]
	return result, ok
}

// Add 记录指令ID与执行结果；超出上限时淘汰最早的记录
func (s *handledSet) Add(id string, result model.CommandResult) {
	if s.Contains(id) {
		return
	}
	if len(s.order) >= s.max {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.results, oldest)
	}
	s.results[id] = result
	s.order = append(s.order, id)
}

// configPatch update_config 指令载荷
type configPatch struct {
	DBType                    string `json:"db_type,omitempty"`
	DBDSN                     string `json:"db_dsn,omitempty"`
	SlowThresholdMS           int64  `json:"slow_threshold_ms,omitempty"`
	CollectionIntervalMinutes int    `json:"collection_interval_minutes,omitempty"`
}

// executeCommand 按指令类型穷尽派发；所有处理器幂等，重复执行不改变结果
func (r *Runtime) executeCommand(cmd Command) model.CommandResult {
	switch cmd.Command {
	case model.CommandStart:
		r.mu.Lock()
		r.autoCollect = true
		r.mu.Unlock()
		logger.Info("Auto collect enabled by remote command", "command_id", cmd.ID)
		return model.CommandResult{
			Success: true,
			Details: map[string]interface{}{"auto_collect": true},
		}

	case model.CommandStop:
		r.mu.Lock()
		r.autoCollect = false
		r.mu.Unlock()
		logger.Info("Auto collect disabled by remote command", "command_id", cmd.ID)
		return model.CommandResult{
			Success: true,
			Details: map[string]interface{}{"auto_collect": false},
		}

	case model.CommandCollect:
		// 触发一次计划外采集；不重置周期计时。已有待处理触发时合并
		select {
		case r.collectNow <- struct{}{}:
		default:
		}
		logger.Info("Immediate collection triggered by remote command", "command_id", cmd.ID)
		return model.CommandResult{
			Success: true,
			Details: map[string]interface{}{"triggered": true},
		}

	case model.CommandUpdateConfig:
		return r.applyConfigPatch(cmd)

	default:
		logger.Warn("Unknown command type received", "command_id", cmd.ID, "command", string(cmd.Command))
		return model.CommandResult{
			Success: false,
			Details: map[string]interface{}{"error": fmt.Sprintf("unknown command type: %s", cmd.Command)},
		}
	}
}

// applyConfigPatch 原子替换被监控库配置；下一次采集生效
// 非法载荷回报 success=false 与说明，绝不让循环崩溃
func (r *Runtime) applyConfigPatch(cmd Command) model.CommandResult {
	var patch configPatch
	if err := json.Unmarshal([]byte(cmd.Payload), &patch); err != nil {
		logger.Error("Invalid update_config payload", "command_id", cmd.ID, "error", err)
		return model.CommandResult{
			Success: false,
			Details: map[string]interface{}{"error": "invalid config payload: " + err.Error()},
		}
	}
	if patch == (configPatch{}) {
		return model.CommandResult{
			Success: false,
			Details: map[string]interface{}{"error": "config payload contains no recognized fields"},
		}
	}

	applied := map[string]interface{}{}
	r.mu.Lock()
	if patch.DBType != "" {
		r.dbConfig.Type = patch.DBType
		applied["db_type"] = patch.DBType
	}
	if patch.DBDSN != "" {
		r.dbConfig.DSN = patch.DBDSN
		applied["db_dsn"] = "updated"
	}
	if patch.SlowThresholdMS > 0 {
		r.dbConfig.SlowThresholdMS = patch.SlowThresholdMS
		applied["slow_threshold_ms"] = patch.SlowThresholdMS
	}
	if patch.CollectionIntervalMinutes > 0 {
		r.collectionInterval = minutes(patch.CollectionIntervalMinutes)
		applied["collection_interval_minutes"] = patch.CollectionIntervalMinutes
	}
	r.mu.Unlock()

	logger.Info("Collector config updated by remote command", "command_id", cmd.ID)
	return model.CommandResult{Success: true, Details: applied}
}
