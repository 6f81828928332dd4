package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/querysentry/querysentry/internal/store"
	"github.com/querysentry/querysentry/pkg/logger"
)

// 巡检默认参数
const (
	DefaultSweepInterval    = 30 * time.Second
	DefaultOfflineThreshold = 2 * time.Minute
)

// HealthMonitor 后台巡检：心跳静默判离线 + 过期指令观测
// 生命周期由持有方管理（Start/Stop），不以包级单例常驻
type HealthMonitor struct {
	sweepInterval    time.Duration
	offlineThreshold time.Duration

	mutex   sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	// lastExpirySweep 上次过期扫描的截止时间，避免重复上报同一批过期指令
	// 零值使首轮扫描覆盖进程启动前已过期的积压
	lastExpirySweep time.Time
}

// NewHealthMonitor 创建巡检器
func NewHealthMonitor(sweepInterval, offlineThreshold time.Duration) *HealthMonitor {
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	if offlineThreshold <= 0 {
		offlineThreshold = DefaultOfflineThreshold
	}
	return &HealthMonitor{
		sweepInterval:    sweepInterval,
		offlineThreshold: offlineThreshold,
	}
}

// Start 启动巡检循环
func (m *HealthMonitor) Start(ctx context.Context) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.running {
		return fmt.Errorf("health monitor is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true

	go m.run(runCtx)

	logger.Info("Health monitor started",
		"sweep_interval", m.sweepInterval, "offline_threshold", m.offlineThreshold)
	return nil
}

// Stop 停止巡检循环并等待当前一轮结束
func (m *HealthMonitor) Stop() {
	m.mutex.Lock()
	if !m.running {
		m.mutex.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	done := m.done
	m.mutex.Unlock()

	cancel()
	<-done
	logger.Info("Health monitor stopped")
}

func (m *HealthMonitor) run(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Sweep 执行一轮巡检；两项清理相互独立，单项失败不影响另一项
func (m *HealthMonitor) Sweep() {
	m.sweepLiveness()
	m.sweepExpiredCommands()
}

// sweepLiveness 单条条件UPDATE完成静默判离线
// 判据在写入时重新校验，与并发心跳写入不存在丢失更新
func (m *HealthMonitor) sweepLiveness() {
	cutoff := time.Now().Add(-m.offlineThreshold)
	affected, err := store.MarkStaleOffline(cutoff)
	if err != nil {
		logger.Error("Liveness sweep failed", "error", err)
		return
	}
	if affected > 0 {
		logger.Warn("Collectors marked offline after heartbeat silence",
			"count", affected, "threshold", m.offlineThreshold)
	}
}

// sweepExpiredCommands 输出新近过期、从未执行的指令的观测日志
// 记录保留在库中供审计；下发侧查询已自行排除过期项，这里不改状态
func (m *HealthMonitor) sweepExpiredCommands() {
	now := time.Now()
	expired, err := store.ExpiredCommands(m.lastExpirySweep, now)
	if err != nil {
		logger.Error("Command expiry sweep failed", "error", err)
		return
	}
	m.lastExpirySweep = now

	for _, cmd := range expired {
		logger.Warn("Command expired without execution",
			"command_id", cmd.ID, "collector_id", cmd.CollectorID,
			"command", string(cmd.Command),
			"created_at", cmd.CreatedAt, "expired_at", cmd.ExpiresAt)
	}
}
