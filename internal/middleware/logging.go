// Package middleware 存放 Gin 框架的中间件。
package middleware

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"time"

	"gemini-chat-go/pkg/log"

	"github.com/gin-gonic/gin"
)

const (
	// 日志中只保留请求/响应体的前若干字节，流式回复可能很长。
	maxLoggedBody = 2048
	// 请求体上限，超出直接返回 413。
	maxRequestBody = 4 << 20
)

// bodyLogWriter 用于捕获响应体
type bodyLogWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

// Write 将响应写入 gin.ResponseWriter，并把前 maxLoggedBody 字节留作日志。
func (w bodyLogWriter) Write(b []byte) (int, error) {
	if room := maxLoggedBody - w.body.Len(); room > 0 {
		if len(b) < room {
			room = len(b)
		}
		w.body.Write(b[:room])
	}
	return w.ResponseWriter.Write(b)
}

func (w bodyLogWriter) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}

// RequestLogger 是一个 Gin 中间件，用于记录请求和响应日志。
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		// 记录请求开始时间
		startTime := time.Now()

		// 读取并重新缓存请求体
		var requestBody []byte
		if c.Request.Body != nil {
			var err error
			requestBody, err = io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBody))
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				log.Warnf("请求体超过 %d 字节，已拒绝: %s %s", tooLarge.Limit, c.Request.Method, c.Request.URL.Path)
				c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
					"code":    http.StatusRequestEntityTooLarge,
					"message": "request body too large",
					"data":    nil,
				})
				return
			}
		}
		// 将读取的请求体重新设置回 c.Request.Body，以便后续处理函数可以正常读取
		c.Request.Body = io.NopCloser(bytes.NewBuffer(requestBody))

		// 使用自定义的 ResponseWriter 捕获响应
		blw := &bodyLogWriter{body: bytes.NewBufferString(""), ResponseWriter: c.Writer}
		c.Writer = blw

		// 处理请求
		c.Next()

		if len(requestBody) > maxLoggedBody {
			requestBody = requestBody[:maxLoggedBody]
		}
		log.Infow("HTTP Request Log",
			"statusCode", c.Writer.Status(),
			"latency", time.Since(startTime).String(),
			"clientIP", c.ClientIP(),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"requestBody", string(requestBody),
			"responseBody", blw.body.String(),
		)
	}
}
