package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"gemini-chat-go/internal/model"
	"gemini-chat-go/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var (
	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // 允许所有来源
		},
	}
)

// wsControl 是客户端发送的控制指令，例如 {"type":"stop"}。
type wsControl struct {
	Type string `json:"type"`
}

// wsSession 保存一条 WebSocket 连接上当前进行中的回复。
type wsSession struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc
}

// begin 为新回复创建可取消的上下文；已有回复在进行时返回 false。
func (s *wsSession) begin(parent context.Context) (context.Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil, false
	}
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	return ctx, true
}

func (s *wsSession) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// stop 取消进行中的回复，返回是否确实有回复被取消。
func (s *wsSession) stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return false
	}
	s.cancel()
	return true
}

func (s *wsSession) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

// WriteChunk 满足 llm.ChunkWriter 接口，将原始分块包装成 {"chunk":"..."}。
func (s *wsSession) WriteChunk(text string) error {
	return s.writeJSON(gin.H{"chunk": text})
}

func (s *wsSession) sendError(message string) {
	_ = s.writeJSON(gin.H{"error": message})
}

// sendCompletion 发送完成通知，status 为 finished / stopped / error。
func (s *wsSession) sendCompletion(status string) {
	now := time.Now()
	_ = s.writeJSON(gin.H{
		"type":      "completion",
		"status":    status,
		"timestamp": now.UnixMilli(),
		"date":      now.Format("2006-01-02T15:04:05"),
	})
}

// Handle 处理 GET /api/chat/ws。每个文本帧是一次 {"messages":[...]} 请求，
// 同一连接同一时刻只允许一条回复在进行。
func (h *ChatHandler) Handle(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	sess := &wsSession{conn: conn}
	connCtx, cancelConn := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancelConn()

	log.Infof("WebSocket 连接已建立: %s", c.ClientIP())

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Infof("WebSocket 连接关闭: %v", err)
			return
		}

		var ctrl wsControl
		if err := json.Unmarshal(message, &ctrl); err == nil && ctrl.Type == "stop" {
			if !sess.stop() {
				sess.sendError("no reply in progress")
			}
			continue
		}

		var req model.ChatRequest
		if err := json.Unmarshal(message, &req); err != nil {
			sess.sendError("request must be {\"messages\": [...]}")
			continue
		}
		if err := req.Validate(); err != nil {
			sess.sendError(err.Error())
			continue
		}

		ctx, ok := sess.begin(connCtx)
		if !ok {
			sess.sendError("a reply is already streaming")
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()

			_, err := h.chatService.StreamReply(ctx, req.Messages, sess)
			stopped := ctx.Err() != nil
			// 先释放会话，客户端收到完成通知后即可发起下一次请求
			sess.end()
			switch {
			case err == nil:
				sess.sendCompletion("finished")
			case stopped:
				log.Info("收到停止指令，流式响应已中断")
				sess.sendCompletion("stopped")
			default:
				log.Errorf("处理流式响应失败: %v", err)
				sess.sendError(upstreamFailureMessage)
				sess.sendCompletion("error")
			}
		}()
	}
}
