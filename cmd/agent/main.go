package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/querysentry/querysentry/internal/agent"
	"github.com/querysentry/querysentry/internal/config"
	"github.com/querysentry/querysentry/pkg/logger"
)

func main() {
	configPath := flag.String("config", "configs/agent.yaml", "path to agent config file")
	flag.Parse()

	cfg, err := config.LoadAgent(*configPath)
	if err != nil {
		fmt.Printf("Failed to load agent config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		FilePath:   cfg.Log.FilePath,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	}); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	logger.Info("Starting Query Sentry Agent",
		"collector_id", cfg.CollectorID, "db_type", cfg.DBType)

	client := agent.NewHTTPClient(cfg.BackendURL, cfg.IngestURL, cfg.CollectorID, cfg.APIKey, cfg.RequestTimeout)
	archiver := agent.NewArchiver(cfg.Archive, cfg.CollectorID)
	runtime := agent.NewRuntime(cfg, client, archiver)

	// SIGINT/SIGTERM 取消循环；在途请求允许完成
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runtime.Run(ctx); err != nil {
		logger.Error("Agent runtime exited with error", "error", err)
		os.Exit(1)
	}
}
