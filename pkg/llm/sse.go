package llm

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// readSSE 逐行读取 text/event-stream，把每个 data 字段交给 handle。
// 遇到 "[DONE]" 或 EOF 时正常结束。
func readSSE(r io.Reader, handle func(data string) error) error {
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return fmt.Errorf("failed to read from stream: %w", err)
		}

		if data, ok := strings.CutPrefix(strings.TrimRight(line, "\r\n"), "data:"); ok {
			data = strings.TrimSpace(data)
			if data == "[DONE]" {
				return nil
			}
			if data != "" {
				if herr := handle(data); herr != nil {
					return herr
				}
			}
		}

		if err == io.EOF {
			return nil
		}
	}
}
