package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"gemini-chat-go/internal/config"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type geminiClient struct {
	cfg    config.LLMConfig
	client *http.Client
}

func newGeminiClient(cfg config.LLMConfig) *geminiClient {
	return &geminiClient{
		cfg:    cfg,
		client: &http.Client{},
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	Contents          []geminiContent         `json:"contents"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiChunk struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// buildGeminiRequest 将通用消息转换为 Gemini 请求体。
// Gemini 没有 system 角色：所有 system 消息按出现顺序合并进 systemInstruction，
// assistant 对应 Gemini 的 "model" 角色。
func buildGeminiRequest(req Request) geminiRequest {
	var out geminiRequest
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			if out.SystemInstruction == nil {
				out.SystemInstruction = &geminiContent{}
			}
			out.SystemInstruction.Parts = append(out.SystemInstruction.Parts, geminiPart{Text: m.Content})
		case "assistant":
			out.Contents = append(out.Contents, geminiContent{Role: "model", Parts: []geminiPart{{Text: m.Content}}})
		default:
			out.Contents = append(out.Contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: m.Content}}})
		}
	}
	if gen := req.Generation; gen != nil {
		out.GenerationConfig = &geminiGenerationConfig{
			Temperature:     gen.Temperature,
			TopP:            gen.TopP,
			MaxOutputTokens: gen.MaxTokens,
		}
	}
	return out
}

// geminiFinishReason 将 Gemini 的结束原因归一为 stop/length/content-filter/other。
func geminiFinishReason(reason string) string {
	switch reason {
	case "STOP":
		return "stop"
	case "MAX_TOKENS":
		return "length"
	case "SAFETY", "RECITATION", "BLOCKLIST", "PROHIBITED_CONTENT", "SPII":
		return "content-filter"
	case "":
		return ""
	default:
		return "other"
	}
}

// StreamChat calls the Gemini streamGenerateContent API and streams the response.
func (c *geminiClient) StreamChat(ctx context.Context, req Request, w ChunkWriter) (*FinishInfo, error) {
	ctx, span := tracer.Start(ctx, "llm.gemini.stream")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", c.cfg.Model), attribute.Int("llm.messages", len(req.Messages)))

	info, err := c.stream(ctx, req, w)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return info, err
}

func (c *geminiClient) stream(ctx context.Context, req Request, w ChunkWriter) (*FinishInfo, error) {
	reqBytes, err := json.Marshal(buildGeminiRequest(req))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal gemini request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", strings.TrimRight(c.cfg.BaseURL, "/"), c.cfg.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("x-goog-api-key", c.cfg.APIKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, &UpstreamError{Provider: "gemini", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &UpstreamError{Provider: "gemini", StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}

	info := &FinishInfo{}
	emitted := false
	err = readSSE(resp.Body, func(data string) error {
		var chunk geminiChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return nil
		}
		if chunk.Error != nil {
			return &UpstreamError{Provider: "gemini", StatusCode: chunk.Error.Code, Body: chunk.Error.Message}
		}
		if chunk.UsageMetadata.PromptTokenCount > 0 || chunk.UsageMetadata.CandidatesTokenCount > 0 {
			info.PromptTokens = chunk.UsageMetadata.PromptTokenCount
			info.CompletionTokens = chunk.UsageMetadata.CandidatesTokenCount
		}
		if len(chunk.Candidates) == 0 {
			return nil
		}
		cand := chunk.Candidates[0]
		for _, part := range cand.Content.Parts {
			if part.Text == "" {
				continue
			}
			if err := w.WriteChunk(part.Text); err != nil {
				return fmt.Errorf("failed to write chunk: %w", err)
			}
			emitted = true
		}
		if r := geminiFinishReason(cand.FinishReason); r != "" {
			info.FinishReason = r
		}
		return nil
	})
	if err != nil {
		return info, interrupted(emitted, err)
	}
	if info.FinishReason == "" {
		info.FinishReason = "stop"
	}
	return info, nil
}
