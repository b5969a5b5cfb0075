// Package model 包含了应用的数据模型定义。
package model

import (
	"errors"
	"fmt"
)

// ErrMalformedRequest 表示请求体无法解析为合法的对话。
var ErrMalformedRequest = errors.New("malformed request")

// Role 标识消息的发送方。
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid 判断角色是否属于 user/assistant/system 之一。
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Message 代表对话中的一轮消息。ID 仅由客户端使用，服务端转发时忽略。
type Message struct {
	ID      string `json:"id,omitempty"`
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest 是 POST /api/chat 的请求体。
type ChatRequest struct {
	Messages []Message `json:"messages"`
}

// Validate 校验对话至少包含一条消息且角色均合法。
func (r *ChatRequest) Validate() error {
	if len(r.Messages) == 0 {
		return fmt.Errorf("%w: messages must not be empty", ErrMalformedRequest)
	}
	for i, m := range r.Messages {
		if !m.Role.Valid() {
			return fmt.Errorf("%w: messages[%d] has unknown role %q", ErrMalformedRequest, i, m.Role)
		}
	}
	return nil
}
