// Package config 负责加载和管理应用程序的配置。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultSystemPrompt 是转发给模型的固定系统指令。
const DefaultSystemPrompt = "You are a helpful assistant."

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Redis     RedisConfig     `mapstructure:"redis"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	Provider     string              `mapstructure:"provider"` // gemini | openai
	APIKey       string              `mapstructure:"api_key"`
	BaseURL      string              `mapstructure:"base_url"`
	Model        string              `mapstructure:"model"`
	SystemPrompt string              `mapstructure:"system_prompt"`
	Timeout      time.Duration       `mapstructure:"timeout"` // 单次回复的上游总时长，0 表示不限制
	Generation   LLMGenerationConfig `mapstructure:"generation"`
}

// LLMGenerationConfig 配置生成相关参数（可选，零值表示沿用模型默认值）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// RateLimitConfig 配置按客户端 IP 的令牌桶限流。
type RateLimitConfig struct {
	Enabled bool `mapstructure:"enabled"`
	QPS     int  `mapstructure:"qps"`
}

// TelemetryConfig 配置 OpenTelemetry 链路追踪。
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
	OutputPath  string `mapstructure:"output_path"`
}

type providerDefaults struct {
	keyEnv  string // 提供方 SDK 约定俗成的密钥环境变量
	baseURL string
	model   string
}

var providers = map[string]providerDefaults{
	"gemini": {
		keyEnv:  "GOOGLE_GENERATIVE_AI_API_KEY",
		baseURL: "https://generativelanguage.googleapis.com/v1beta",
		model:   "gemini-1.5-pro-latest",
	},
	"openai": {
		keyEnv:  "OPENAI_API_KEY",
		baseURL: "https://api.openai.com/v1",
		model:   "gpt-4o-mini",
	},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("llm.provider", "gemini")
	// AutomaticEnv 只作用于 viper 已知的键，api_key 需要显式注册。
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.system_prompt", DefaultSystemPrompt)
	v.SetDefault("llm.timeout", "2m")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("rate_limit.qps", 5)
	v.SetDefault("telemetry.service_name", "gemini-chat-go")
	v.SetDefault("telemetry.output_path", "logs")
}

// Load 读取 YAML 配置文件并叠加 CHAT_ 前缀的环境变量。
// 配置文件不存在时仅使用默认值与环境变量。
func Load(configPath string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("CHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}

	cfg.LLM.Provider = strings.ToLower(strings.TrimSpace(cfg.LLM.Provider))
	if d, ok := providers[cfg.LLM.Provider]; ok {
		if cfg.LLM.APIKey == "" {
			cfg.LLM.APIKey = os.Getenv(d.keyEnv)
		}
		if cfg.LLM.BaseURL == "" {
			cfg.LLM.BaseURL = d.baseURL
		}
		if cfg.LLM.Model == "" {
			cfg.LLM.Model = d.model
		}
	}
	if cfg.LLM.SystemPrompt == "" {
		cfg.LLM.SystemPrompt = DefaultSystemPrompt
	}
	return cfg, nil
}

// Init 初始化配置加载，解析结果写入全局 Conf 变量。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = cfg
}
