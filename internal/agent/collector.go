package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// SlowQuery 一条采集到的慢查询
type SlowQuery struct {
	QueryText   string    `json:"query_text"`
	Calls       int64     `json:"calls"`
	AvgTimeMS   float64   `json:"avg_time_ms"`
	TotalTimeMS float64   `json:"total_time_ms"`
	Database    string    `json:"database,omitempty"`
	CollectedAt time.Time `json:"collected_at"`
}

// DBConfig 被监控数据库的连接与阈值配置；由 update_config 指令原子替换
type DBConfig struct {
	Type            string `json:"db_type,omitempty"`
	DSN             string `json:"db_dsn,omitempty"`
	SlowThresholdMS int64  `json:"slow_threshold_ms,omitempty"`
}

// CollectFunc 一次采集周期的实现；可注入以便测试
type CollectFunc func(ctx context.Context, cfg DBConfig) ([]SlowQuery, error)

// CollectSlowQueries 连接被监控数据库并提取超过阈值的慢查询
func CollectSlowQueries(ctx context.Context, cfg DBConfig) ([]SlowQuery, error) {
	db, err := openMonitoredDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect monitored database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	defer sqlDB.Close()

	switch strings.ToLower(cfg.Type) {
	case "mysql":
		return collectMySQL(ctx, db, cfg.SlowThresholdMS)
	case "postgres":
		return collectPostgres(ctx, db, cfg.SlowThresholdMS)
	default:
		return nil, fmt.Errorf("unsupported db_type: %s", cfg.Type)
	}
}

func openMonitoredDB(cfg DBConfig) (*gorm.DB, error) {
	gormCfg := &gorm.Config{Logger: gormLogger.Default.LogMode(gormLogger.Silent)}
	switch strings.ToLower(cfg.Type) {
	case "mysql":
		return gorm.Open(mysql.Open(cfg.DSN), gormCfg)
	case "postgres":
		return gorm.Open(postgres.Open(cfg.DSN), gormCfg)
	default:
		return nil, fmt.Errorf("unsupported db_type: %s", cfg.Type)
	}
}

// collectMySQL 读取 performance_schema 的语句摘要统计
// AVG_TIMER_WAIT 单位为皮秒，换算为毫秒后与阈值比较
func collectMySQL(ctx context.Context, db *gorm.DB, thresholdMS int64) ([]SlowQuery, error) {
	type row struct {
		DigestText string
		SchemaName string
		CountStar  int64
		AvgMS      float64
		TotalMS    float64
	}

	var rows []row
	err := db.WithContext(ctx).Raw(`
		SELECT DIGEST_TEXT AS digest_text,
		       IFNULL(SCHEMA_NAME, '') AS schema_name,
		       COUNT_STAR AS count_star,
		       AVG_TIMER_WAIT / 1000000000 AS avg_ms,
		       SUM_TIMER_WAIT / 1000000000 AS total_ms
		FROM performance_schema.events_statements_summary_by_digest
		WHERE DIGEST_TEXT IS NOT NULL
		  AND AVG_TIMER_WAIT / 1000000000 >= ?
		ORDER BY avg_ms DESC
		LIMIT 500`, thresholdMS).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query performance_schema: %w", err)
	}

	now := time.Now()
	out := make([]SlowQuery, 0, len(rows))
	for _, r := range rows {
		out = append(out, SlowQuery{
			QueryText:   r.DigestText,
			Calls:       r.CountStar,
			AvgTimeMS:   r.AvgMS,
			TotalTimeMS: r.TotalMS,
			Database:    r.SchemaName,
			CollectedAt: now,
		})
	}
	return out, nil
}

// collectPostgres 读取 pg_stat_statements 的语句统计
func collectPostgres(ctx context.Context, db *gorm.DB, thresholdMS int64) ([]SlowQuery, error) {
	type row struct {
		Query   string
		Calls   int64
		MeanMS  float64
		TotalMS float64
	}

	var rows []row
	err := db.WithContext(ctx).Raw(`
		SELECT query,
		       calls,
		       mean_exec_time AS mean_ms,
		       total_exec_time AS total_ms
		FROM pg_stat_statements
		WHERE mean_exec_time >= ?
		ORDER BY mean_exec_time DESC
		LIMIT 500`, float64(thresholdMS)).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query pg_stat_statements: %w", err)
	}

	now := time.Now()
	out := make([]SlowQuery, 0, len(rows))
	for _, r := range rows {
		out = append(out, SlowQuery{
			QueryText:   r.Query,
			Calls:       r.Calls,
			AvgTimeMS:   r.MeanMS,
			TotalTimeMS: r.TotalMS,
			CollectedAt: now,
		})
	}
	return out, nil
}
