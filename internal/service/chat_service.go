// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gemini-chat-go/internal/config"
	"gemini-chat-go/internal/model"
	"gemini-chat-go/pkg/llm"
	"gemini-chat-go/pkg/log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("gemini-chat-go/internal/service")

// ChatService 定义了聊天操作的接口。
type ChatService interface {
	// StreamReply 在对话前加上系统指令后转发给模型，并把回复分块写入 w。
	StreamReply(ctx context.Context, conversation []model.Message, w llm.ChunkWriter) (*llm.FinishInfo, error)
}

type chatService struct {
	llmClient    llm.Client
	systemPrompt string
	generation   *llm.GenerationParams
	timeout      time.Duration
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(llmClient llm.Client, cfg config.LLMConfig) ChatService {
	prompt := cfg.SystemPrompt
	if prompt == "" {
		prompt = config.DefaultSystemPrompt
	}
	return &chatService{
		llmClient:    llmClient,
		systemPrompt: prompt,
		generation:   llm.GenerationFromConfig(cfg.Generation),
		timeout:      cfg.Timeout,
	}
}

// StreamReply 不保留任何状态：请求结束后对话即被丢弃。
func (s *chatService) StreamReply(ctx context.Context, conversation []model.Message, w llm.ChunkWriter) (*llm.FinishInfo, error) {
	ctx, span := tracer.Start(ctx, "chat.stream_reply")
	defer span.End()
	span.SetAttributes(attribute.Int("chat.conversation_length", len(conversation)))

	// 上游超时只作用于本次调用，调用方的 ctx 保持有效，便于返回 504
	callCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	recorder := &replyRecorder{next: w}
	info, err := s.llmClient.StreamChat(callCtx, llm.Request{
		Messages:   s.composeMessages(conversation),
		Generation: s.generation,
	}, recorder)
	if err != nil {
		if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
		}
		return info, fmt.Errorf("stream reply: %w", err)
	}

	log.Infow("聊天回复完成",
		"messages", len(conversation),
		"chunks", recorder.chunks,
		"replyBytes", recorder.bytes,
		"finishReason", info.FinishReason,
		"latency", time.Since(start).String(),
	)
	return info, nil
}

// composeMessages 在对话最前面放置且仅放置一条系统指令，其余消息按原顺序转发。
func (s *chatService) composeMessages(conversation []model.Message) []llm.Message {
	msgs := make([]llm.Message, 0, len(conversation)+1)
	msgs = append(msgs, llm.Message{Role: string(model.RoleSystem), Content: s.systemPrompt})
	for _, m := range conversation {
		msgs = append(msgs, llm.Message{Role: string(m.Role), Content: m.Content})
	}
	return msgs
}

// replyRecorder 是对下游 writer 的封装，用于统计回复分块。
type replyRecorder struct {
	next   llm.ChunkWriter
	chunks int
	bytes  int
}

func (r *replyRecorder) WriteChunk(text string) error {
	r.chunks++
	r.bytes += len(text)
	return r.next.WriteChunk(text)
}
