package stream

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Part 是解码后的一行数据流。
type Part struct {
	Type      PartType
	Text      string  // PartText
	Error     string  // PartError
	MessageID string  // PartStartStep
	Finish    *Finish // PartFinishStep, PartFinishMessage
	Raw       string  // 未识别类型的原始负载
}

// Decoder 从响应体中逐个读取分块。
type Decoder struct {
	r *bufio.Reader
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Next 返回下一个分块；流正常结束时返回 io.EOF。
func (d *Decoder) Next() (Part, error) {
	for {
		line, err := d.r.ReadString('\n')
		if err != nil && (err != io.EOF || line == "") {
			return Part{}, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}
		return parsePart(line)
	}
}

func parsePart(line string) (Part, error) {
	code, payload, ok := strings.Cut(line, ":")
	if !ok {
		return Part{}, fmt.Errorf("invalid stream part %q", line)
	}

	p := Part{Type: PartType(code)}
	var err error
	switch p.Type {
	case PartText:
		err = json.Unmarshal([]byte(payload), &p.Text)
	case PartError:
		err = json.Unmarshal([]byte(payload), &p.Error)
	case PartStartStep:
		var s startStep
		err = json.Unmarshal([]byte(payload), &s)
		p.MessageID = s.MessageID
	case PartFinishStep, PartFinishMessage:
		p.Finish = &Finish{}
		err = json.Unmarshal([]byte(payload), p.Finish)
	default:
		p.Raw = payload
	}
	if err != nil {
		return Part{}, fmt.Errorf("invalid %s part: %w", code, err)
	}
	return p, nil
}
