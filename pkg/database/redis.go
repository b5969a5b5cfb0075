// Package database 管理外部存储连接。
package database

import (
	"context"
	"time"

	"gemini-chat-go/internal/config"
	"gemini-chat-go/pkg/log"

	"github.com/go-redis/redis/v8"
)

var RDB *redis.Client

// InitRedis 初始化 Redis 客户端连接，目前仅供限流使用。
func InitRedis(cfg config.RedisConfig) {
	RDB = redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := RDB.Ping(ctx).Err(); err != nil {
		log.Fatal("failed to connect to redis", err)
	}

	log.Info("Redis client connected successfully")
}

// CloseRedis 关闭 Redis 连接（若已初始化）。
func CloseRedis() {
	if RDB != nil {
		_ = RDB.Close()
	}
}
