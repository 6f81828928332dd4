package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// AgentConfig 采集端配置结构
type AgentConfig struct {
	CollectorID string `mapstructure:"collector_id"`
	APIKey      string `mapstructure:"api_key"`
	BackendURL  string `mapstructure:"backend_url"`
	// IngestURL 慢查询批量上报地址；留空则复用 backend_url
	IngestURL string `mapstructure:"ingest_url"`

	// DBType 被监控数据库类型：mysql | postgres
	DBType string `mapstructure:"db_type"`
	// DBDSN 被监控数据库连接串
	DBDSN string `mapstructure:"db_dsn"`
	// SlowThresholdMS 慢查询判定阈值（毫秒）
	SlowThresholdMS int64 `mapstructure:"slow_threshold_ms"`

	HeartbeatInterval  time.Duration `mapstructure:"heartbeat_interval"`
	CollectionInterval time.Duration `mapstructure:"collection_interval"`
	// RequestTimeout 对后端与被监控库的单次调用超时
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// AutoCollect 启动时是否自动采集（后续由远程指令翻转）
	AutoCollect bool `mapstructure:"auto_collect"`

	Archive ArchiveConfig `mapstructure:"archive"`
	Log     LogConfig     `mapstructure:"log"`
}

// ArchiveConfig 采集批次归档配置（MinIO 优先，失败回退本地目录）
type ArchiveConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Backend string `mapstructure:"backend"` // local | minio
	// LocalDir 本地归档目录（回退路径）
	LocalDir string      `mapstructure:"local_dir"`
	Minio    MinioConfig `mapstructure:"minio"`
}

// MinioConfig 对象存储配置
type MinioConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Secure    bool   `mapstructure:"secure"`
}

// LoadAgent 加载采集端配置文件
func LoadAgent(configPath string) (*AgentConfig, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	setAgentDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("agent")
		v.AddConfigPath("./configs")
		v.AddConfigPath("../configs")
	}

	v.SetEnvPrefix("QUERY_SENTRY_AGENT")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read agent config: %w", err)
	}

	var cfg AgentConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal agent config: %w", err)
	}

	// 敏感项支持 ${ENV_VAR} 引用
	cfg.APIKey = expandEnvRef(cfg.APIKey)
	cfg.DBDSN = expandEnvRef(cfg.DBDSN)
	cfg.Archive.Minio.SecretKey = expandEnvRef(cfg.Archive.Minio.SecretKey)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setAgentDefaults(v *viper.Viper) {
	v.SetDefault("heartbeat_interval", 30*time.Second)
	v.SetDefault("collection_interval", 5*time.Minute)
	v.SetDefault("request_timeout", 10*time.Second)
	v.SetDefault("slow_threshold_ms", 1000)
	v.SetDefault("auto_collect", true)
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.backend", "local")
	v.SetDefault("archive.local_dir", "./data/archives")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.output", "console")
}

// Validate 校验采集端必填项
func (c *AgentConfig) Validate() error {
	if strings.TrimSpace(c.CollectorID) == "" {
		return fmt.Errorf("collector_id is required")
	}
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("api_key is required")
	}
	if strings.TrimSpace(c.BackendURL) == "" {
		return fmt.Errorf("backend_url is required")
	}
	switch strings.ToLower(strings.TrimSpace(c.DBType)) {
	case "mysql", "postgres":
	default:
		return fmt.Errorf("unsupported db_type: %s", c.DBType)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat_interval must be positive")
	}
	if c.CollectionInterval <= 0 {
		return fmt.Errorf("collection_interval must be positive")
	}
	return nil
}
