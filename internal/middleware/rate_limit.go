package middleware

import (
	"net/http"
	"strconv"
	"time"

	"gemini-chat-go/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
)

// 令牌桶脚本：KEYS[1]=桶，ARGV=容量、每秒补充速率、当前时间(秒)、本次消耗。
// 返回 {是否放行, 剩余令牌, 建议重试秒数}。
var rateLimitScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local requested = tonumber(ARGV[4])

local bucket = redis.call('HMGET', key, 'tokens', 'updated_at')
local tokens = tonumber(bucket[1])
local updated_at = tonumber(bucket[2])

if tokens == nil or updated_at == nil then
    tokens = capacity
    updated_at = now
end

local elapsed = math.max(0, now - updated_at)
tokens = math.min(capacity, tokens + elapsed * rate)

local allowed = 0
local retry_after = 0

if tokens >= requested then
    tokens = tokens - requested
    allowed = 1
else
    retry_after = (requested - tokens) / rate
end

redis.call('HMSET', key, 'tokens', tokens, 'updated_at', now)
redis.call('EXPIRE', key, 86400)

return {allowed, math.floor(tokens), math.ceil(retry_after)}
`)

// RateLimit 按客户端 IP 做令牌桶限流，容量为 2*qps，每秒补充 qps 个令牌。
// Redis 不可用时直接放行，限流故障不影响聊天。
func RateLimit(rdb *redis.Client, qps int) gin.HandlerFunc {
	if qps <= 0 {
		qps = 1
	}
	capacity := 2 * qps
	return func(c *gin.Context) {
		key := "rate_limit:chat:" + c.ClientIP()
		now := float64(time.Now().UnixNano()) / 1e9

		result, err := rateLimitScript.Run(c.Request.Context(), rdb, []string{key}, capacity, qps, now, 1).Result()
		if err != nil {
			log.Warnf("限流服务异常(已降级放行): %v", err)
			c.Next()
			return
		}

		allowed, remaining, retryAfter := int64(0), int64(capacity), int64(0)
		if arr, ok := result.([]interface{}); ok && len(arr) >= 3 {
			if v, ok := arr[0].(int64); ok {
				allowed = v
			}
			if v, ok := arr[1].(int64); ok {
				remaining = v
			}
			if v, ok := arr[2].(int64); ok {
				retryAfter = v
			}
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(capacity))
		if allowed == 0 {
			c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":    http.StatusTooManyRequests,
				"message": "too many requests, please retry later",
				"data":    nil,
			})
			return
		}
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		c.Next()
	}
}
