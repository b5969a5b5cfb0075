// Package main 是终端聊天客户端。
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"gemini-chat-go/internal/chatclient"
	"gemini-chat-go/internal/model"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// transcript 把每次对话更新渲染为视图，只输出最新消息新增的文本。
type transcript struct {
	out   io.Writer
	key   string
	shown int
}

func (t *transcript) update(u chatclient.Update) {
	row, ok := chatclient.Render(u.Messages).Latest()
	if !ok {
		return
	}
	if row.Key != t.key {
		t.key = row.Key
		t.shown = 0
		if row.Role == model.RoleUser {
			// 用户输入已经显示在提示符后
			t.shown = len(row.Text)
			return
		}
		fmt.Fprintf(t.out, "%s: ", row.Label())
	}
	if len(row.Text) > t.shown {
		fmt.Fprint(t.out, row.Text[t.shown:])
		t.shown = len(row.Text)
	}
}

// printHistory 输出完整对话。
func printHistory(out io.Writer, messages []model.Message) error {
	_, err := chatclient.Render(messages).WriteTo(out)
	return err
}

func main() {
	pflag.String("server", "http://localhost:8080", "chat server base URL")
	pflag.Parse()

	v := viper.New()
	v.SetEnvPrefix("CHAT")
	v.AutomaticEnv()
	_ = v.BindPFlag("server_url", pflag.Lookup("server"))
	serverURL := v.GetString("server_url")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	view := &transcript{out: os.Stdout}
	client := chatclient.New(serverURL, chatclient.WithUpdateFunc(view.update))

	fmt.Printf("Connected to %s. Type a message and press Enter, /history to show the conversation, Ctrl-D to quit.\n", serverURL)
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Print("\n> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			fmt.Println("\nGoodbye!")
			return
		}
		line = strings.TrimRight(line, "\r\n")

		if strings.TrimSpace(line) == "/history" {
			if err := printHistory(os.Stdout, client.Messages()); err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
			}
			continue
		}

		err = client.Submit(ctx, line)
		fmt.Println()
		switch {
		case err == nil:
		case errors.Is(err, chatclient.ErrEmptyInput):
			continue
		case errors.Is(err, context.Canceled):
			fmt.Println("Interrupted.")
			return
		default:
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
}
