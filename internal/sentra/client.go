// Package sentra 封装 sentra agent 补全端点的 HTTP 客户端。
//
// 端点只有一个: POST {base}/chat/completions。stream=true 时响应体是
// 按行分隔的帧流 (交给 internal/stream 消费), 否则是单个 JSON 体。
package sentra

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/deepwiki/sentra-console/pkg/errors"
	"github.com/deepwiki/sentra-console/pkg/logger"
)

// 错误响应体最多读这么多字节, 防止把整个 HTML 错误页塞进错误消息。
const maxErrorBodyBytes = 2048

// ChatMessage 发往补全端点的单条消息。Content 为 string 或
// content-part 数组 ([]map[string]any), 两者都直接序列化。
type ChatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// ToolConfirmation 工具执行确认回执, 跟随重发的用户轮次一起上行。
type ToolConfirmation struct {
	Required  bool   `json:"required"`
	Confirmed bool   `json:"confirmed"`
	ToolCalls any    `json:"toolCalls,omitempty"`
	ToolsXML  string `json:"toolsXml,omitempty"`
}

// Request 一次补全请求。
type Request struct {
	Messages         []ChatMessage     `json:"messages"`
	Stream           bool              `json:"stream"`
	AgentMode        string            `json:"agent_mode,omitempty"`
	AgentStateID     string            `json:"agent_state_id,omitempty"`
	ToolConfirmation *ToolConfirmation `json:"tool_confirmation,omitempty"`
}

// Client sentra 补全端点客户端。并发安全。
//
// 超时只对非流式请求生效, 通过 per-request context deadline 实现;
// http.Client 自身不设 Timeout — 它覆盖整个响应体读取,
// 会把尚在输出的长流掐断成传输错误。
type Client struct {
	baseURL   string
	apiKey    string
	agentMode string
	timeout   time.Duration
	http      *http.Client
}

// Option 客户端可选配置。
type Option func(*Client)

// WithTimeout 设置非流式请求的整体超时。流式请求不受此限, 靠 ctx 取消。
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithAPIKey 设置 Bearer 鉴权。空值表示端点无鉴权。
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithAgentMode 设置默认 agent_mode, 请求未显式指定时使用。
func WithAgentMode(mode string) Option {
	return func(c *Client) { c.agentMode = mode }
}

// NewClient 创建客户端。baseURL 形如 http://127.0.0.1:8000。
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: 300 * time.Second,
		http:    &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) endpoint() string {
	return c.baseURL + "/chat/completions"
}

// Stream 发起流式补全, 返回原始响应体供 stream.Reader 消费。
// 调用方负责 Close。非 2xx 时读取服务端错误文本并返回错误。
func (c *Client) Stream(ctx context.Context, req Request) (io.ReadCloser, error) {
	req.Stream = true
	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Complete 发起非流式补全, 返回完整响应体字节。
func (c *Client) Complete(ctx context.Context, req Request) ([]byte, error) {
	req.Stream = false
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Wrap(err, "sentra.Complete", "read response body")
	}
	return body, nil
}

func (c *Client) do(ctx context.Context, req Request) (*http.Response, error) {
	const op = "sentra.do"

	if req.AgentMode == "" {
		req.AgentMode = c.agentMode
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, apperrors.Wrap(err, op, "marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(payload))
	if err != nil {
		return nil, apperrors.Wrap(err, op, "build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		// 超时 (DeadlineExceeded) 算传输失败, 只有主动取消算取消
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, apperrors.Wrap(apperrors.ErrCancelled, op, "request cancelled")
		}
		return nil, apperrors.Wrap(err, op, "post completion")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		text := strings.TrimSpace(string(body))
		if text == "" {
			text = resp.Status
		}
		logger.Warn("sentra: completion endpoint error",
			logger.FieldStatus, resp.StatusCode,
			logger.FieldURL, c.endpoint())
		return nil, apperrors.Newf(op, "completion endpoint %d: %s", resp.StatusCode, text)
	}
	return resp, nil
}

// ErrorText 从客户端错误里取适合直接展示的文本。
func ErrorText(err error) string {
	if err == nil {
		return ""
	}
	if appErr, ok := err.(*apperrors.AppError); ok {
		return appErr.Message
	}
	return fmt.Sprintf("request failed: %v", err)
}
