package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"gemini-chat-go/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedOpenAIRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

func TestOpenAIStreamChat(t *testing.T) {
	var got capturedOpenAIRequest
	var gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"role":"assistant","content":"Hi"}}]}`+"\n\n")
		fmt.Fprint(w, `data: {"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":" there"},"finish_reason":"stop"}]}`+"\n\n")
		fmt.Fprint(w, `data: {"id":"1","object":"chat.completion.chunk","choices":[],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`+"\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := newOpenAIClient(config.LLMConfig{BaseURL: srv.URL + "/v1", Model: "test-model", APIKey: "sk-test"})
	var chunks []string
	info, err := c.StreamChat(context.Background(), Request{Messages: []Message{
		{Role: "system", Content: "You are a helpful assistant."},
		{Role: "user", Content: "hello"},
	}}, collect(&chunks))
	require.NoError(t, err)

	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "test-model", got.Model)
	assert.True(t, got.Stream)
	assert.Equal(t, []Message{
		{Role: "system", Content: "You are a helpful assistant."},
		{Role: "user", Content: "hello"},
	}, got.Messages)

	assert.Equal(t, []string{"Hi", " there"}, chunks)
	assert.Equal(t, &FinishInfo{FinishReason: "stop", PromptTokens: 5, CompletionTokens: 2}, info)
}

func TestOpenAIRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"slow down","type":"rate_limit_error"}}`)
	}))
	defer srv.Close()

	c := newOpenAIClient(config.LLMConfig{BaseURL: srv.URL, Model: "test-model"})
	_, err := c.StreamChat(context.Background(), Request{Messages: []Message{{Role: "user", Content: "x"}}}, collect(new([]string)))

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestNewClientProvider(t *testing.T) {
	c, err := NewClient(config.LLMConfig{Provider: "gemini"})
	require.NoError(t, err)
	assert.IsType(t, &geminiClient{}, c)

	c, err = NewClient(config.LLMConfig{Provider: "openai"})
	require.NoError(t, err)
	assert.IsType(t, &openAIClient{}, c)

	_, err = NewClient(config.LLMConfig{Provider: "bedrock"})
	assert.Error(t, err)
}

func TestGenerationFromConfig(t *testing.T) {
	assert.Nil(t, GenerationFromConfig(config.LLMGenerationConfig{}))

	gp := GenerationFromConfig(config.LLMGenerationConfig{Temperature: 0.2, MaxTokens: 256})
	require.NotNil(t, gp)
	assert.Equal(t, 0.2, *gp.Temperature)
	assert.Nil(t, gp.TopP)
	assert.Equal(t, 256, *gp.MaxTokens)
}
