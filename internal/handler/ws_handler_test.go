package handler

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gemini-chat-go/internal/model"
	"gemini-chat-go/pkg/llm"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingChatService writes one chunk and then waits for cancellation.
type blockingChatService struct{}

func (blockingChatService) StreamReply(ctx context.Context, _ []model.Message, w llm.ChunkWriter) (*llm.FinishInfo, error) {
	if err := w.WriteChunk("thinking"); err != nil {
		return nil, err
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func dialWS(t *testing.T, h *ChatHandler) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(newTestRouter(h))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/chat/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	var frame map[string]any
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestWebSocketStreamsChunksThenCompletion(t *testing.T) {
	conn := dialWS(t, NewChatHandler(&fakeChatService{chunks: []string{"Hi", "!"}}))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"messages":[{"role":"user","content":"hello"}]}`)))

	assert.Equal(t, "Hi", readFrame(t, conn)["chunk"])
	assert.Equal(t, "!", readFrame(t, conn)["chunk"])
	done := readFrame(t, conn)
	assert.Equal(t, "completion", done["type"])
	assert.Equal(t, "finished", done["status"])
}

func TestWebSocketBusyAndStop(t *testing.T) {
	conn := dialWS(t, NewChatHandler(blockingChatService{}))
	req := []byte(`{"messages":[{"role":"user","content":"hello"}]}`)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, req))
	assert.Equal(t, "thinking", readFrame(t, conn)["chunk"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, req))
	assert.Equal(t, "a reply is already streaming", readFrame(t, conn)["error"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"stop"}`)))
	done := readFrame(t, conn)
	assert.Equal(t, "completion", done["type"])
	assert.Equal(t, "stopped", done["status"])
}

func TestWebSocketRejectsMalformedRequest(t *testing.T) {
	conn := dialWS(t, NewChatHandler(&fakeChatService{}))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	assert.Contains(t, readFrame(t, conn)["error"], "messages")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"stop"}`)))
	assert.Equal(t, "no reply in progress", readFrame(t, conn)["error"])
}
