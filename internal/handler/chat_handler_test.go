package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gemini-chat-go/internal/config"
	"gemini-chat-go/internal/model"
	"gemini-chat-go/internal/service"
	"gemini-chat-go/internal/stream"
	"gemini-chat-go/pkg/llm"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

type fakeChatService struct {
	chunks []string
	err    error
	got    []model.Message
}

func (f *fakeChatService) StreamReply(ctx context.Context, conversation []model.Message, w llm.ChunkWriter) (*llm.FinishInfo, error) {
	f.got = conversation
	for _, c := range f.chunks {
		if err := w.WriteChunk(c); err != nil {
			return nil, err
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llm.FinishInfo{FinishReason: "stop", PromptTokens: 4, CompletionTokens: len(f.chunks)}, nil
}

func newTestRouter(h *ChatHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/api/chat", h.Stream)
	r.GET("/api/chat/ws", h.Handle)
	return r
}

func postChat(r http.Handler, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(rec, req)
	return rec
}

func TestStreamHello(t *testing.T) {
	svc := &fakeChatService{chunks: []string{"Hel", "lo"}}
	rec := postChat(newTestRouter(NewChatHandler(svc)), `{"messages":[{"role":"user","content":"hello"}]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "v1", rec.Header().Get(stream.HeaderName))
	assert.Equal(t, []model.Message{{Role: model.RoleUser, Content: "hello"}}, svc.got)

	var text strings.Builder
	var finish *stream.Finish
	d := stream.NewDecoder(rec.Body)
	for {
		p, err := d.Next()
		if err != nil {
			break
		}
		switch p.Type {
		case stream.PartText:
			text.WriteString(p.Text)
		case stream.PartFinishMessage:
			finish = p.Finish
		}
	}
	assert.Equal(t, "Hello", text.String())
	require.NotNil(t, finish)
	assert.Equal(t, "stop", finish.FinishReason)
}

func TestStreamMalformedRequest(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", "hello there"},
		{"messages not a list", `{"messages":"hello"}`},
		{"no messages", `{}`},
		{"unknown role", `{"messages":[{"role":"robot","content":"x"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeChatService{}
			rec := postChat(newTestRouter(NewChatHandler(svc)), tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Nil(t, svc.got)

			var env struct {
				Code    int    `json:"code"`
				Message string `json:"message"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
			assert.Equal(t, http.StatusBadRequest, env.Code)
			assert.NotEmpty(t, env.Message)
		})
	}
}

func TestStreamUpstreamFailureBeforeFirstChunk(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"rate limited", &llm.UpstreamError{Provider: "gemini", StatusCode: 429}, http.StatusTooManyRequests},
		{"unauthorized", &llm.UpstreamError{Provider: "gemini", StatusCode: 401}, http.StatusBadGateway},
		{"unreachable", &llm.UpstreamError{Provider: "gemini", Err: errors.New("dial tcp: refused")}, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postChat(newTestRouter(NewChatHandler(&fakeChatService{err: tt.err})), `{"messages":[{"role":"user","content":"hello"}]}`)

			assert.Equal(t, tt.status, rec.Code)
			assert.Empty(t, rec.Header().Get(stream.HeaderName))
			assert.Contains(t, rec.Body.String(), upstreamFailureMessage)
		})
	}
}

func TestStreamInterruptedAfterFirstChunk(t *testing.T) {
	svc := &fakeChatService{
		chunks: []string{"partial"},
		err:    errors.Join(llm.ErrStreamInterrupted, errors.New("connection reset")),
	}
	rec := postChat(newTestRouter(NewChatHandler(svc)), `{"messages":[{"role":"user","content":"hello"}]}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `0:"partial"`)
	assert.True(t, strings.HasSuffix(body, `3:"`+upstreamFailureMessage+`"`+"\n"))
	assert.NotContains(t, body, "\nd:")
}

// stalledLLM 模拟迟迟不返回数据的上游，直到 ctx 结束。
type stalledLLM struct{}

func (stalledLLM) StreamChat(ctx context.Context, _ llm.Request, _ llm.ChunkWriter) (*llm.FinishInfo, error) {
	<-ctx.Done()
	return nil, &llm.UpstreamError{Provider: "gemini", Err: ctx.Err()}
}

func TestStreamUpstreamTimeoutReturns504(t *testing.T) {
	svc := service.NewChatService(stalledLLM{}, config.LLMConfig{Timeout: 30 * time.Millisecond})
	rec := postChat(newTestRouter(NewChatHandler(svc)), `{"messages":[{"role":"user","content":"hello"}]}`)

	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Empty(t, rec.Header().Get(stream.HeaderName))
	assert.Contains(t, rec.Body.String(), upstreamFailureMessage)
}

func TestStreamRequestDeadlineBeforeFirstChunkIsNot200(t *testing.T) {
	svc := service.NewChatService(stalledLLM{}, config.LLMConfig{})
	r := newTestRouter(NewChatHandler(svc))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"messages":[{"role":"user","content":"hello"}]}`)).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.NotEmpty(t, rec.Body.String())
}

func TestClassifyUpstreamFailure(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		level zapcore.Level
	}{
		{"bad credentials", &llm.UpstreamError{Provider: "gemini", StatusCode: http.StatusForbidden}, zapcore.ErrorLevel},
		{"rate limited", &llm.UpstreamError{Provider: "gemini", StatusCode: http.StatusTooManyRequests}, zapcore.WarnLevel},
		{"timeout", fmt.Errorf("stream reply: %w", context.DeadlineExceeded), zapcore.WarnLevel},
		{"client gone", &llm.UpstreamError{Provider: "openai", Err: context.Canceled}, zapcore.InfoLevel},
		{"unreachable", &llm.UpstreamError{Provider: "gemini", Err: errors.New("dial tcp: refused")}, zapcore.ErrorLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			level, msg := classifyUpstreamFailure(tt.err)
			assert.Equal(t, tt.level, level)
			assert.NotEmpty(t, msg)
		})
	}

	_, credMsg := classifyUpstreamFailure(&llm.UpstreamError{Provider: "gemini", StatusCode: http.StatusUnauthorized})
	_, otherMsg := classifyUpstreamFailure(&llm.UpstreamError{Provider: "gemini", StatusCode: http.StatusInternalServerError})
	assert.Contains(t, credMsg, "api_key")
	assert.NotEqual(t, credMsg, otherMsg)
}
