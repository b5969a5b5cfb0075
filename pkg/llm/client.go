// Package llm provides streaming clients for hosted Large Language Model APIs.
package llm

import (
	"context"
	"fmt"
	"gemini-chat-go/internal/config"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("gemini-chat-go/pkg/llm")

// Message 表示一条角色消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationParams 控制生成行为，nil 字段沿用模型默认值。
type GenerationParams struct {
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Request is one streaming chat call. Messages are sent in order; system
// messages are mapped to the provider's native system instruction slot.
type Request struct {
	Messages   []Message
	Generation *GenerationParams
}

// ChunkWriter receives reply text as the upstream produces it.
type ChunkWriter interface {
	WriteChunk(text string) error
}

// ChunkWriterFunc adapts a plain function to ChunkWriter.
type ChunkWriterFunc func(text string) error

func (f ChunkWriterFunc) WriteChunk(text string) error { return f(text) }

// FinishInfo 描述一次流式回复结束时的状态与用量。
type FinishInfo struct {
	FinishReason     string
	PromptTokens     int
	CompletionTokens int
}

// Client defines the interface for an LLM client.
type Client interface {
	// StreamChat 将 messages 发送给模型，并把流式分块依次写入 w。
	StreamChat(ctx context.Context, req Request, w ChunkWriter) (*FinishInfo, error)
}

// NewClient creates a new LLM client based on the provider in the config.
func NewClient(cfg config.LLMConfig) (Client, error) {
	switch cfg.Provider {
	case "", "gemini":
		return newGeminiClient(cfg), nil
	case "openai":
		return newOpenAIClient(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}

// GenerationFromConfig 把配置中的非零生成参数转换为 GenerationParams；全部为零时返回 nil。
func GenerationFromConfig(cfg config.LLMGenerationConfig) *GenerationParams {
	var gp GenerationParams
	if cfg.Temperature != 0 {
		t := cfg.Temperature
		gp.Temperature = &t
	}
	if cfg.TopP != 0 {
		p := cfg.TopP
		gp.TopP = &p
	}
	if cfg.MaxTokens != 0 {
		m := cfg.MaxTokens
		gp.MaxTokens = &m
	}
	if gp.Temperature == nil && gp.TopP == nil && gp.MaxTokens == nil {
		return nil
	}
	return &gp
}
