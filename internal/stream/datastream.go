// Package stream 实现浏览器端使用的数据流协议（data stream protocol）。
//
// 每一行是 "<类型码>:<JSON>\n"：
//
//	f:{"messageId":"msg-..."}     回复开始
//	0:"token"                     文本分块
//	e:{"finishReason":...}        生成步骤结束
//	d:{"finishReason":...}        整条消息结束
//	3:"message"                   错误
package stream

import (
	"encoding/json"
	"fmt"
	"net/http"

	"gemini-chat-go/pkg/llm"
)

// PartType 是数据流中每行的类型码。
type PartType string

const (
	PartText          PartType = "0"
	PartError         PartType = "3"
	PartStartStep     PartType = "f"
	PartFinishStep    PartType = "e"
	PartFinishMessage PartType = "d"
)

// HeaderName 标识响应体采用数据流协议。
const HeaderName = "X-Vercel-AI-Data-Stream"

// Usage 是 finish 分块里的 token 用量。
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
}

// Finish 对应 e/d 两种结束分块的负载。
type Finish struct {
	FinishReason string `json:"finishReason"`
	Usage        Usage  `json:"usage"`
	IsContinued  *bool  `json:"isContinued,omitempty"`
}

type startStep struct {
	MessageID string `json:"messageId"`
}

// Writer 把模型分块写成数据流协议并在每个分块后立即 Flush。
// 响应头在第一次写入时才发送，以便在上游失败时仍能返回非 200 状态码。
type Writer struct {
	w         http.ResponseWriter
	messageID string
	started   bool
}

// NewWriter 创建一个 Writer，messageID 写入开始分块。
func NewWriter(w http.ResponseWriter, messageID string) *Writer {
	return &Writer{w: w, messageID: messageID}
}

// Started 表示响应头与开始分块是否已经发出。
func (s *Writer) Started() bool { return s.started }

func (s *Writer) start() error {
	if s.started {
		return nil
	}
	s.started = true
	h := s.w.Header()
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Accel-Buffering", "no")
	h.Set(HeaderName, "v1")
	s.w.WriteHeader(http.StatusOK)
	return s.writePart(PartStartStep, startStep{MessageID: s.messageID})
}

func (s *Writer) writePart(t PartType, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s part: %w", t, err)
	}
	if _, err := fmt.Fprintf(s.w, "%s:%s\n", t, b); err != nil {
		return err
	}
	if f, ok := s.w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

// WriteChunk 满足 llm.ChunkWriter 接口。
func (s *Writer) WriteChunk(text string) error {
	if err := s.start(); err != nil {
		return err
	}
	return s.writePart(PartText, text)
}

// Finish 写出步骤结束与消息结束两个分块。
func (s *Writer) Finish(info *llm.FinishInfo) error {
	if err := s.start(); err != nil {
		return err
	}
	f := Finish{FinishReason: "stop"}
	if info != nil {
		if info.FinishReason != "" {
			f.FinishReason = info.FinishReason
		}
		f.Usage = Usage{PromptTokens: info.PromptTokens, CompletionTokens: info.CompletionTokens}
	}
	continued := false
	step := f
	step.IsContinued = &continued
	if err := s.writePart(PartFinishStep, step); err != nil {
		return err
	}
	return s.writePart(PartFinishMessage, f)
}

// Fail 写出错误分块，流随之结束。
func (s *Writer) Fail(message string) error {
	if err := s.start(); err != nil {
		return err
	}
	return s.writePart(PartError, message)
}
