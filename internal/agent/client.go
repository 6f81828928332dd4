package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/querysentry/querysentry/internal/model"
)

// Command 心跳响应中的待执行指令
type Command struct {
	ID        string            `json:"id"`
	Command   model.CommandType `json:"command"`
	Payload   string            `json:"payload,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// heartbeatResponse 心跳响应体
type heartbeatResponse struct {
	Status   string    `json:"status"`
	Commands []Command `json:"commands"`
}

// BackendClient 后端接口抽象；运行时只依赖该行为集合
type BackendClient interface {
	Heartbeat(ctx context.Context, stats model.HeartbeatStats, lastError string) ([]Command, error)
	ReportExecution(ctx context.Context, commandID string, success bool, details map[string]interface{}) error
	PushQueries(ctx context.Context, queries []SlowQuery) error
}

// HTTPClient 基于HTTP的后端客户端；所有出站调用携带有界超时
type HTTPClient struct {
	backendURL  string
	ingestURL   string
	collectorID string
	apiKey      string
	httpClient  *http.Client
}

// NewHTTPClient 创建后端客户端
func NewHTTPClient(backendURL, ingestURL, collectorID, apiKey string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	backendURL = strings.TrimRight(backendURL, "/")
	if ingestURL == "" {
		ingestURL = backendURL
	}
	return &HTTPClient{
		backendURL:  backendURL,
		ingestURL:   strings.TrimRight(ingestURL, "/"),
		collectorID: collectorID,
		apiKey:      apiKey,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

// Heartbeat 上报心跳并取回待执行指令
func (c *HTTPClient) Heartbeat(ctx context.Context, stats model.HeartbeatStats, lastError string) ([]Command, error) {
	body := map[string]interface{}{"stats": stats}
	if lastError != "" {
		body["error"] = lastError
	}

	url := fmt.Sprintf("%s/api/v1/collectors/%s/heartbeat", c.backendURL, c.collectorID)
	data, err := c.post(ctx, url, body)
	if err != nil {
		return nil, err
	}

	var resp heartbeatResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode heartbeat response: %w", err)
	}
	return resp.Commands, nil
}

// ReportExecution 回报指令执行结果
func (c *HTTPClient) ReportExecution(ctx context.Context, commandID string, success bool, details map[string]interface{}) error {
	url := fmt.Sprintf("%s/api/v1/collectors/%s/commands/%s/execute", c.backendURL, c.collectorID, commandID)
	_, err := c.post(ctx, url, map[string]interface{}{
		"success": success,
		"result":  details,
	})
	return err
}

// PushQueries 将采集到的慢查询批量推送到上报端点
func (c *HTTPClient) PushQueries(ctx context.Context, queries []SlowQuery) error {
	url := fmt.Sprintf("%s/api/v1/collectors/%s/queries/bulk", c.ingestURL, c.collectorID)
	_, err := c.post(ctx, url, map[string]interface{}{"queries": queries})
	return err
}

func (c *HTTPClient) post(ctx context.Context, url string, body interface{}) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(apiKeyHeader, c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transport error: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("backend returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}

const apiKeyHeader = "X-Collector-API-Key"
