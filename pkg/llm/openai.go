package llm

import (
	"context"
	"errors"
	"fmt"
	"io"

	"gemini-chat-go/internal/config"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// openAIClient talks to any OpenAI-compatible /chat/completions endpoint.
type openAIClient struct {
	cfg    config.LLMConfig
	client *openai.Client
}

func newOpenAIClient(cfg config.LLMConfig) *openAIClient {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return &openAIClient{
		cfg:    cfg,
		client: openai.NewClientWithConfig(oc),
	}
}

func buildOpenAIRequest(model string, req Request) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	out := openai.ChatCompletionRequest{
		Model:         model,
		Messages:      msgs,
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	}
	if gen := req.Generation; gen != nil {
		if gen.Temperature != nil {
			out.Temperature = float32(*gen.Temperature)
		}
		if gen.TopP != nil {
			out.TopP = float32(*gen.TopP)
		}
		if gen.MaxTokens != nil {
			out.MaxTokens = *gen.MaxTokens
		}
	}
	return out
}

// toUpstreamError 将 go-openai 返回的错误归类为 UpstreamError。
func toUpstreamError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &UpstreamError{Provider: "openai", StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &UpstreamError{Provider: "openai", StatusCode: reqErr.HTTPStatusCode, Body: reqErr.Error(), Err: err}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &UpstreamError{Provider: "openai", Err: err}
}

func openAIFinishReason(reason openai.FinishReason) string {
	switch reason {
	case openai.FinishReasonStop:
		return "stop"
	case openai.FinishReasonLength:
		return "length"
	case openai.FinishReasonContentFilter:
		return "content-filter"
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		return "tool-calls"
	case "":
		return ""
	default:
		return "other"
	}
}

func (c *openAIClient) StreamChat(ctx context.Context, req Request, w ChunkWriter) (*FinishInfo, error) {
	ctx, span := tracer.Start(ctx, "llm.openai.stream")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", c.cfg.Model), attribute.Int("llm.messages", len(req.Messages)))

	info, err := c.stream(ctx, req, w)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return info, err
}

func (c *openAIClient) stream(ctx context.Context, req Request, w ChunkWriter) (*FinishInfo, error) {
	stream, err := c.client.CreateChatCompletionStream(ctx, buildOpenAIRequest(c.cfg.Model, req))
	if err != nil {
		return nil, toUpstreamError(err)
	}
	defer stream.Close()

	info := &FinishInfo{}
	emitted := false
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return info, interrupted(emitted, toUpstreamError(err))
		}

		if resp.Usage != nil {
			info.PromptTokens = resp.Usage.PromptTokens
			info.CompletionTokens = resp.Usage.CompletionTokens
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]
		if content := choice.Delta.Content; content != "" {
			if err := w.WriteChunk(content); err != nil {
				return info, fmt.Errorf("failed to write chunk: %w", err)
			}
			emitted = true
		}
		if r := openAIFinishReason(choice.FinishReason); r != "" {
			info.FinishReason = r
		}
	}

	if info.FinishReason == "" {
		info.FinishReason = "stop"
	}
	return info, nil
}
