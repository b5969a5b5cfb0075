package chatclient

import (
	"fmt"
	"io"
	"strings"

	"gemini-chat-go/internal/model"
)

// Align 决定消息气泡靠哪一侧显示。
type Align int

const (
	AlignLeft Align = iota
	AlignRight
)

// Row 是渲染后的一行。Anchor 行不含内容，只用于滚动定位。
type Row struct {
	Key    string
	Role   model.Role
	Text   string
	Align  Align
	Anchor bool
}

// View 是对话的可视化结果，最后一行始终是滚动锚点。
type View struct {
	Rows []Row
}

const anchorKey = "message-end"

// Render 把对话转换为行列表：用户消息靠右，其余靠左，末尾追加锚点。
// 这是纯函数，同一对话多次渲染得到相同结果。
func Render(messages []model.Message) View {
	rows := make([]Row, 0, len(messages)+1)
	for i, m := range messages {
		key := m.ID
		if key == "" {
			key = fmt.Sprintf("message-%d", i)
		}
		align := AlignLeft
		if m.Role == model.RoleUser {
			align = AlignRight
		}
		rows = append(rows, Row{Key: key, Role: m.Role, Text: m.Content, Align: align})
	}
	rows = append(rows, Row{Key: anchorKey, Anchor: true})
	return View{Rows: rows}
}

// ScrollTarget 返回每次对话变化后应滚动到的行。
func (v View) ScrollTarget() Row {
	if len(v.Rows) == 0 {
		return Row{Key: anchorKey, Anchor: true}
	}
	return v.Rows[len(v.Rows)-1]
}

// Latest 返回紧挨滚动目标之前的消息行，即滚动后可见的最新消息。
func (v View) Latest() (Row, bool) {
	target := v.ScrollTarget()
	for i := len(v.Rows) - 1; i > 0; i-- {
		if v.Rows[i] == target {
			return v.Rows[i-1], true
		}
	}
	return Row{}, false
}

// Label 是终端里显示的发送方名称。
func (r Row) Label() string {
	switch r.Role {
	case model.RoleUser:
		return "You"
	case model.RoleSystem:
		return "System"
	default:
		return "Assistant"
	}
}

// WriteTo 以纯文本形式输出整段对话，终端客户端的 /history 命令使用它。
func (v View) WriteTo(w io.Writer) (int64, error) {
	var b strings.Builder
	for _, r := range v.Rows {
		if r.Anchor {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", r.Label(), r.Text)
	}
	n, err := io.WriteString(w, b.String())
	return int64(n), err
}
