// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"context"
	"errors"
	"net/http"

	"gemini-chat-go/internal/model"
	"gemini-chat-go/internal/service"
	"gemini-chat-go/internal/stream"
	"gemini-chat-go/pkg/llm"
	"gemini-chat-go/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap/zapcore"
)

const upstreamFailureMessage = "AI service is temporarily unavailable, please retry later"

// ChatHandler 负责把对话转发给模型并流式返回回复。
type ChatHandler struct {
	chatService service.ChatService
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// Stream 处理 POST /api/chat，以数据流协议逐块返回模型回复。
func (h *ChatHandler) Stream(c *gin.Context) {
	var req model.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "request body must be {\"messages\": [...]}")
		return
	}
	if err := req.Validate(); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	ctx := c.Request.Context()
	w := stream.NewWriter(c.Writer, "msg-"+uuid.NewString())
	info, err := h.chatService.StreamReply(ctx, req.Messages, w)
	if err != nil {
		if !w.Started() {
			logUpstreamFailure(err)
			respondError(c, upstreamStatus(err), upstreamFailureMessage)
			return
		}
		if ctx.Err() != nil {
			// 客户端已断开，无需再写任何内容
			log.Infof("客户端断开，流式响应已取消: %v", err)
			return
		}
		log.Warnw("流式响应中断", "error", err)
		if ferr := w.Fail(upstreamFailureMessage); ferr != nil {
			log.Warnf("写入错误分块失败: %v", ferr)
		}
		return
	}

	if err := w.Finish(info); err != nil {
		log.Warnf("写入结束分块失败: %v", err)
	}
}

// upstreamStatus 把上游错误映射为返回给客户端的状态码。
func upstreamStatus(err error) int {
	switch {
	case errors.Is(err, llm.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// classifyUpstreamFailure 决定上游失败的日志级别与提示，凭据问题需要运维介入，单独提示。
func classifyUpstreamFailure(err error) (zapcore.Level, string) {
	switch {
	case errors.Is(err, llm.ErrUnauthorized):
		return zapcore.ErrorLevel, "模型服务拒绝了 API Key，请检查 llm.api_key 配置"
	case errors.Is(err, context.Canceled):
		return zapcore.InfoLevel, "客户端断开，流式响应已取消"
	case errors.Is(err, context.DeadlineExceeded):
		return zapcore.WarnLevel, "调用模型超时"
	case errors.Is(err, llm.ErrRateLimited):
		return zapcore.WarnLevel, "模型服务限流"
	default:
		return zapcore.ErrorLevel, "调用模型失败"
	}
}

func logUpstreamFailure(err error) {
	level, msg := classifyUpstreamFailure(err)
	switch level {
	case zapcore.InfoLevel:
		log.Infof("%s: %v", msg, err)
	case zapcore.WarnLevel:
		log.Warnf("%s: %v", msg, err)
	default:
		log.Error(msg, err)
	}
}

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"code": status, "message": message, "data": nil})
}
