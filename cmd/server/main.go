// Package main 是应用程序的入口点。
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gemini-chat-go/internal/config"
	"gemini-chat-go/internal/handler"
	"gemini-chat-go/internal/middleware"
	"gemini-chat-go/internal/service"
	"gemini-chat-go/internal/web"
	"gemini-chat-go/pkg/database"
	"gemini-chat-go/pkg/llm"
	"gemini-chat-go/pkg/log"
	"gemini-chat-go/pkg/telemetry"

	"github.com/gin-gonic/gin"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(log.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		OutputPath: cfg.Log.OutputPath,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 链路追踪
	shutdownTracing, err := telemetry.Init(context.Background(), cfg.Telemetry)
	if err != nil {
		log.Fatal("链路追踪初始化失败", err)
	}

	// 4. 初始化模型客户端和 Service
	if cfg.LLM.APIKey == "" {
		log.Warnf("未配置 %s 的 API Key，请求将被上游拒绝", cfg.LLM.Provider)
	}
	llmClient, err := llm.NewClient(cfg.LLM)
	if err != nil {
		log.Fatal("模型客户端初始化失败", err)
	}
	chatService := service.NewChatService(llmClient, cfg.LLM)
	chatHandler := handler.NewChatHandler(chatService)

	// 5. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 6. 注册路由
	r.GET("/", web.Index)
	r.GET("/healthz", handler.Health)

	chat := r.Group("/api/chat")
	if cfg.RateLimit.Enabled {
		database.InitRedis(cfg.Redis)
		defer database.CloseRedis()
		chat.Use(middleware.RateLimit(database.RDB, cfg.RateLimit.QPS))
		log.Infof("已启用限流: 每个客户端 %d 次/秒", cfg.RateLimit.QPS)
	}
	{
		chat.POST("", chatHandler.Stream)
		chat.GET("/ws", chatHandler.Handle)
	}

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s，模型 %s/%s", srv.Addr, cfg.LLM.Provider, cfg.LLM.Model)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP 服务监听失败: %s", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	// 设置一个5秒的超时上下文
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}
	if err := shutdownTracing(ctx); err != nil {
		log.Warnf("刷新链路追踪数据失败: %v", err)
	}
	log.Info("服务已优雅关闭")
}
