// Package chatclient 实现聊天客户端：在内存中维护对话，提交时流式接收回复。
package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"gemini-chat-go/internal/model"
	"gemini-chat-go/internal/stream"

	"github.com/google/uuid"
)

var (
	// ErrEmptyInput 表示输入为空或只包含空白。
	ErrEmptyInput = errors.New("input is empty")
	// ErrBusy 表示上一次提交的回复仍在进行。
	ErrBusy = errors.New("a reply is still streaming")
)

// State 是客户端所处的阶段：idle → submitting → streaming → idle。
type State int

const (
	StateIdle State = iota
	StateSubmitting
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateSubmitting:
		return "submitting"
	case StateStreaming:
		return "streaming"
	default:
		return "idle"
	}
}

// StatusError 表示服务端返回了非 200 状态。
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("chat request failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("chat request failed with status %d: %s", e.StatusCode, e.Message)
}

// StreamError 表示服务端在流中发送了错误分块，回复被截断。
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string { return "reply interrupted: " + e.Message }

// Update 在每次对话变化后交给回调。Delta 是本次追加到助手消息的文本。
type Update struct {
	Messages []model.Message
	Delta    string
}

// Client 维护一段对话并与 /api/chat 交互。对话只存在于内存中。
type Client struct {
	endpoint   string
	httpClient *http.Client
	onUpdate   func(Update)

	mu       sync.Mutex
	messages []model.Message
	state    State
}

// Option 配置 Client。
type Option func(*Client)

// WithHTTPClient 替换默认的 http.Client。流式请求不应设置整体超时。
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithUpdateFunc 注册对话变化回调，每个分块到达后调用一次。
func WithUpdateFunc(fn func(Update)) Option {
	return func(c *Client) { c.onUpdate = fn }
}

// New 创建客户端，baseURL 形如 http://localhost:8080。
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		endpoint:   strings.TrimRight(baseURL, "/") + "/api/chat",
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Messages 返回当前对话的副本。
func (c *Client) Messages() []model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Message(nil), c.messages...)
}

// State 返回客户端当前阶段。
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Client) notify(delta string) {
	if c.onUpdate != nil {
		c.onUpdate(Update{Messages: c.Messages(), Delta: delta})
	}
}

// Submit 追加一条用户消息，把整段对话发给服务端，并在助手回复流入时逐块扩展。
// 请求失败时用户消息保留在对话中；已收到的部分回复同样保留。
func (c *Client) Submit(ctx context.Context, input string) error {
	if strings.TrimSpace(input) == "" {
		return ErrEmptyInput
	}

	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrBusy
	}
	c.state = StateSubmitting
	c.messages = append(c.messages, model.Message{ID: uuid.NewString(), Role: model.RoleUser, Content: input})
	payload := model.ChatRequest{Messages: make([]model.Message, len(c.messages))}
	for i, m := range c.messages {
		payload.Messages[i] = model.Message{Role: m.Role, Content: m.Content}
	}
	c.mu.Unlock()
	defer c.setState(StateIdle)
	c.notify("")

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal chat request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send chat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}

	c.setState(StateStreaming)
	return c.consume(resp.Body)
}

// consume 读取数据流，第一个文本分块到达时创建助手消息。
func (c *Client) consume(body io.Reader) error {
	dec := stream.NewDecoder(body)
	assistant := -1
	for {
		part, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read reply stream: %w", err)
		}

		switch part.Type {
		case stream.PartText:
			c.mu.Lock()
			if assistant < 0 {
				c.messages = append(c.messages, model.Message{ID: uuid.NewString(), Role: model.RoleAssistant})
				assistant = len(c.messages) - 1
			}
			c.messages[assistant].Content += part.Text
			c.mu.Unlock()
			c.notify(part.Text)
		case stream.PartError:
			return &StreamError{Message: part.Error}
		case stream.PartFinishMessage:
			return nil
		}
	}
}

func statusError(resp *http.Response) error {
	var env struct {
		Message string `json:"message"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err := json.Unmarshal(raw, &env); err != nil || env.Message == "" {
		env.Message = strings.TrimSpace(string(raw))
	}
	return &StatusError{StatusCode: resp.StatusCode, Message: env.Message}
}
