// Package config 全局配置加载与管理。
//
// 所有字段通过 struct tag 声明环境变量映射:
//
//	`env:"VAR_NAME" default:"value" min:"0"`
//
// Load() 使用反射自动填充，无需手动逐行赋值。
// 会话管线 (stream/chat) 只读这里的值 — 深层逻辑禁止临时读环境变量。
package config

import (
	"github.com/deepwiki/sentra-console/pkg/util"
)

// Config 应用全局配置，字段名与 .env 变量一一对应。
type Config struct {
	// Sentra 补全端点
	SentraBaseURL     string `env:"SENTRA_BASE_URL" default:"http://127.0.0.1:8000"`
	SentraAPIKey      string `env:"SENTRA_API_KEY"`
	AgentMode         string `env:"SENTRA_AGENT_MODE" default:"deepwiki_sentra_xml"`
	StreamEnabled     bool   `env:"SENTRA_STREAM_ENABLED" default:"true"`
	RequestTimeoutSec int    `env:"SENTRA_REQUEST_TIMEOUT_SEC" default:"300" min:"1"`

	// 会话持久化
	SaveDebounceMS int `env:"CONVERSATION_SAVE_DEBOUNCE_MS" default:"600" min:"50"`

	// 文件引用
	FilePreviewMaxBytes int    `env:"FILE_PREVIEW_MAX_BYTES" default:"16384" min:"256"`
	FileRootDir         string `env:"FILE_ROOT_DIR" default:"."`

	// PostgreSQL
	PostgresConnStr        string `env:"POSTGRES_CONNECTION_STRING"`
	PostgresSchema         string `env:"POSTGRES_SCHEMA" default:"public"`
	PostgresPoolMinSize    int    `env:"POSTGRES_POOL_MIN_SIZE" default:"1" min:"1"`
	PostgresPoolMaxSize    int    `env:"POSTGRES_POOL_MAX_SIZE" default:"10" min:"1"`
	PostgresPoolTimeoutSec int    `env:"POSTGRES_POOL_TIMEOUT_SEC" default:"10" min:"1"`

	// API 服务
	ListenAddr string `env:"LISTEN_ADDR" default:":8787"`

	// 日志
	LogLevel string `env:"LOG_LEVEL" default:"INFO"`
	LogEnv   string `env:"LOG_ENV" default:"production"`
}

// Load 从环境变量加载配置 (通过反射读取 struct tag)。
func Load() *Config {
	var cfg Config
	util.LoadFromEnv(&cfg)
	return &cfg
}
