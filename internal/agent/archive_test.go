package agent

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querysentry/querysentry/internal/config"
)

func TestNewArchiverDisabledReturnsNil(t *testing.T) {
	a := NewArchiver(config.ArchiveConfig{Enabled: false}, "c-1")
	assert.Nil(t, a)

	// nil 归档器可安全调用
	assert.NoError(t, a.Archive(context.Background(), []SlowQuery{{QueryText: "SELECT 1"}}))
}

func TestArchiveSkipsEmptyBatch(t *testing.T) {
	dir := t.TempDir()
	a := NewArchiver(config.ArchiveConfig{Enabled: true, Backend: "local", LocalDir: dir}, "c-1")
	require.NotNil(t, a)

	require.NoError(t, a.Archive(context.Background(), nil))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestArchiveWritesLocalBatch(t *testing.T) {
	dir := t.TempDir()
	a := NewArchiver(config.ArchiveConfig{Enabled: true, Backend: "local", LocalDir: dir}, "collector-1")
	require.NotNil(t, a)

	queries := []SlowQuery{
		{QueryText: "SELECT * FROM orders WHERE status = ?", Calls: 12, AvgTimeMS: 1500},
	}
	require.NoError(t, a.Archive(context.Background(), queries))

	// 归档路径按 采集器/日期 分层
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Contains(t, files[0], filepath.Join(dir, "collector-1"))

	data, err := os.ReadFile(files[0])
	require.NoError(t, err)

	var restored []SlowQuery
	require.NoError(t, json.Unmarshal(data, &restored))
	require.Len(t, restored, 1)
	assert.Equal(t, "SELECT * FROM orders WHERE status = ?", restored[0].QueryText)
	assert.Equal(t, int64(12), restored[0].Calls)
}
