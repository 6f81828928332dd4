package agent

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/querysentry/querysentry/internal/config"
	"github.com/querysentry/querysentry/internal/model"
	"github.com/querysentry/querysentry/pkg/logger"
)

// Runtime 采集端运行时：心跳循环与采集循环并发运行，共享状态由互斥锁保护
// 慢的采集周期不会推迟心跳——按时心跳是后端判定在线的唯一依据
type Runtime struct {
	client    BackendClient
	archiver  *Archiver
	collectFn CollectFunc

	heartbeatInterval time.Duration
	// checkInterval 采集循环的条件检查周期
	checkInterval time.Duration

	mu                 sync.Mutex
	autoCollect        bool
	dbConfig           DBConfig
	collectionInterval time.Duration
	lastCollection     time.Time
	queriesCollected   int64
	errorsCount        int64
	lastError          string

	startedAt  time.Time
	handled    *handledSet
	collectNow chan struct{}
}

// NewRuntime 创建运行时
func NewRuntime(cfg *config.AgentConfig, client BackendClient, archiver *Archiver) *Runtime {
	checkInterval := 10 * time.Second
	if cfg.CollectionInterval < checkInterval {
		checkInterval = cfg.CollectionInterval
	}

	return &Runtime{
		client:            client,
		archiver:          archiver,
		collectFn:         CollectSlowQueries,
		heartbeatInterval: cfg.HeartbeatInterval,
		checkInterval:     checkInterval,
		autoCollect:       cfg.AutoCollect,
		dbConfig: DBConfig{
			Type:            cfg.DBType,
			DSN:             cfg.DBDSN,
			SlowThresholdMS: cfg.SlowThresholdMS,
		},
		collectionInterval: cfg.CollectionInterval,
		startedAt:          time.Now(),
		handled:            newHandledSet(1024),
		collectNow:         make(chan struct{}, 1),
	}
}

// Run 启动两个循环并阻塞到上下文取消；在途调用允许完成后退出
func (r *Runtime) Run(ctx context.Context) error {
	logger.Info("Agent runtime starting",
		"heartbeat_interval", r.heartbeatInterval,
		"collection_interval", r.collectionInterval,
		"auto_collect", r.autoCollect)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r.heartbeatLoop(gctx)
		return nil
	})
	g.Go(func() error {
		r.collectionLoop(gctx)
		return nil
	})
	err := g.Wait()

	logger.Info("Agent runtime stopped")
	return err
}

// heartbeatLoop 心跳循环：上报统计、取回指令、派发并回执
func (r *Runtime) heartbeatLoop(ctx context.Context) {
	// 启动即先发一次心跳，尽快脱离 starting 状态
	r.heartbeatOnce()

	ticker := time.NewTicker(r.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.heartbeatOnce()
		}
	}
}

// heartbeatOnce 执行一次心跳；传输失败只记录日志，等待下一个周期
// 不做即时重试——后端巡检才是权威的失败信号
func (r *Runtime) heartbeatOnce() {
	stats, lastError := r.snapshotStats()

	// 出站调用由客户端超时限定边界；循环取消不打断在途请求
	commands, err := r.client.Heartbeat(context.Background(), stats, lastError)
	if err != nil {
		logger.Warn("Heartbeat failed, waiting for next tick", "error", err)
		return
	}

	for _, cmd := range commands {
		r.handleCommand(cmd)
	}
}

// handleCommand 处理一条指令。重复到达的已处理指令不再执行，
// 但原样重发当时的结果——重复下发意味着上一次回执未被后端收到，
// 重发不得篡改成败
func (r *Runtime) handleCommand(cmd Command) {
	result, seen := r.handled.Get(cmd.ID)
	if seen {
		logger.Info("Command re-delivered, resending original result",
			"command_id", cmd.ID, "success", result.Success)
	} else {
		result = r.executeCommand(cmd)
		r.handled.Add(cmd.ID, result)
	}

	if err := r.client.ReportExecution(context.Background(), cmd.ID, result.Success, result.Details); err != nil {
		// 回执丢失不致命：指令会随下一次心跳重新下发，走上面的去重回执路径
		logger.Warn("Failed to report command execution", "command_id", cmd.ID, "error", err)
	}
}

// collectionLoop 采集循环：按周期检查采集条件，同时响应立即采集触发
func (r *Runtime) collectionLoop(ctx context.Context) {
	ticker := time.NewTicker(r.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if r.shouldCollect() {
				r.runCollection(true)
			}
		case <-r.collectNow:
			// 计划外采集：执行但不重置周期计时
			r.runCollection(false)
		}
	}
}

// shouldCollect 周期采集条件：开关开启且距上次采集超过间隔
func (r *Runtime) shouldCollect() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.autoCollect && time.Since(r.lastCollection) >= r.collectionInterval
}

// runCollection 执行一次采集周期；任何失败都只累计错误并等待下一轮
func (r *Runtime) runCollection(scheduled bool) {
	r.mu.Lock()
	dbCfg := r.dbConfig
	r.mu.Unlock()

	queries, err := r.collectFn(context.Background(), dbCfg)
	if err != nil {
		r.recordError("collection failed: " + err.Error())
		return
	}

	if len(queries) > 0 {
		if err := r.client.PushQueries(context.Background(), queries); err != nil {
			r.recordError("failed to push queries: " + err.Error())
			return
		}
		if err := r.archiver.Archive(context.Background(), queries); err != nil {
			// 归档失败不算采集失败
			logger.Warn("Failed to archive batch", "error", err)
		}
	}

	r.mu.Lock()
	r.queriesCollected += int64(len(queries))
	r.lastError = ""
	if scheduled {
		r.lastCollection = time.Now()
	}
	r.mu.Unlock()

	logger.Info("Collection cycle completed", "queries", len(queries), "scheduled", scheduled)
}

// recordError 累计错误并记录最近错误；循环继续运行
func (r *Runtime) recordError(msg string) {
	r.mu.Lock()
	r.errorsCount++
	r.lastError = msg
	r.mu.Unlock()
	logger.Error("Collection error", "error", msg)
}

// snapshotStats 读取当前累计统计快照
func (r *Runtime) snapshotStats() (model.HeartbeatStats, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return model.HeartbeatStats{
		QueriesCollected: r.queriesCollected,
		ErrorsCount:      r.errorsCount,
		UptimeSeconds:    int64(time.Since(r.startedAt).Seconds()),
	}, r.lastError
}

func minutes(n int) time.Duration {
	return time.Duration(n) * time.Minute
}
