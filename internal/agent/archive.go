package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/querysentry/querysentry/internal/config"
	"github.com/querysentry/querysentry/pkg/logger"
)

// Archiver 采集批次归档：MinIO 优先，客户端不可用或写入失败时回退本地目录
type Archiver struct {
	cfg         config.ArchiveConfig
	collectorID string
	client      *minio.Client
}

// NewArchiver 创建归档器；未启用时返回 nil
func NewArchiver(cfg config.ArchiveConfig, collectorID string) *Archiver {
	if !cfg.Enabled {
		return nil
	}

	a := &Archiver{cfg: cfg, collectorID: collectorID}
	if cfg.Backend == "minio" {
		client, err := minio.New(
			fmt.Sprintf("%s:%d", cfg.Minio.Host, cfg.Minio.Port),
			&minio.Options{
				Creds:  credentials.NewStaticV4(cfg.Minio.AccessKey, cfg.Minio.SecretKey, ""),
				Secure: cfg.Minio.Secure,
			},
		)
		if err != nil {
			logger.Warn("MinIO client init failed; archives will fall back to local", "error", err)
		} else {
			a.client = client
		}
	}
	return a
}

// Archive 写入一个采集批次
func (a *Archiver) Archive(ctx context.Context, queries []SlowQuery) error {
	if a == nil || len(queries) == 0 {
		return nil
	}

	data, err := json.MarshalIndent(queries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode archive batch: %w", err)
	}

	now := time.Now()
	objectName := fmt.Sprintf("%s/%s/%s.json",
		a.collectorID, now.Format("20060102"), now.Format("150405.000"))

	if a.cfg.Backend == "minio" && a.client != nil {
		_, err := a.client.PutObject(ctx, a.cfg.Minio.Bucket, objectName,
			bytes.NewReader(data), int64(len(data)),
			minio.PutObjectOptions{ContentType: "application/json"})
		if err == nil {
			logger.Debug("Archived batch to MinIO", "object", objectName, "queries", len(queries))
			return nil
		}
		logger.Warn("MinIO archive failed; falling back to local", "error", err)
	}

	return a.writeLocal(objectName, data)
}

func (a *Archiver) writeLocal(objectName string, data []byte) error {
	path := filepath.Join(a.cfg.LocalDir, filepath.FromSlash(objectName))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write archive file: %w", err)
	}
	logger.Debug("Archived batch to local directory", "path", path)
	return nil
}
