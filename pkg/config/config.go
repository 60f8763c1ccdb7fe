// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config 应用配置结构体
type Config struct {
	API        APIConfig        `mapstructure:"api"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Upload     UploadConfig     `mapstructure:"upload"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Supervisor SupervisorConfig `mapstructure:"supervisor"`
	Health     HealthConfig     `mapstructure:"health"`
	Redaction  RedactionConfig  `mapstructure:"redaction"`
	Secrets    SecretsConfig    `mapstructure:"secrets"`
	Log        LogConfig        `mapstructure:"log"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// APIConfig API 服务配置
type APIConfig struct {
	Port       int              `mapstructure:"port"`
	Host       string           `mapstructure:"host"`
	Timeout    string           `mapstructure:"timeout"`
	CORS       CORSConfig       `mapstructure:"cors"`
	Middleware MiddlewareConfig `mapstructure:"middleware"`
}

// CORSConfig CORS 配置
type CORSConfig struct {
	Enable       bool     `mapstructure:"enable"`
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// MiddlewareConfig 中间件配置
type MiddlewareConfig struct {
	Auth          bool   `mapstructure:"auth"`
	RateLimit     bool   `mapstructure:"rate_limit"`
	RateLimitRPS  int    `mapstructure:"rate_limit_rps"`
	JWTKey        string `mapstructure:"jwt_key"`
	JWTTimeout    string `mapstructure:"jwt_timeout"`     // 如 "1h"
	JWTMaxRefresh string `mapstructure:"jwt_max_refresh"` // 如 "1h"
}

// QueueConfig 文档处理队列配置
type QueueConfig struct {
	Type         string `mapstructure:"type"`          // memory | postgres
	DSN          string `mapstructure:"dsn"`           // Postgres 连接串，type=postgres 时必填
	Name         string `mapstructure:"name"`          // 队列名，空则默认 "vault-documents"
	MaxAttempts  int    `mapstructure:"max_attempts"`  // 单 Job 最大尝试次数（含首次），<=0 时默认 3
	RetryBackoff string `mapstructure:"retry_backoff"` // 失败后重回 waiting 前的延迟，如 "30s"
	LeaseTimeout string `mapstructure:"lease_timeout"` // active 租约时长，过期可被重新认领，如 "5m"
	PollInterval string `mapstructure:"poll_interval"` // Postgres 队列空轮询间隔，如 "1s"
}

// StorageConfig 存储配置
type StorageConfig struct {
	Record RecordConfig `mapstructure:"record"`
	Object ObjectConfig `mapstructure:"object"`
	Cache  CacheConfig  `mapstructure:"cache"`
}

// RecordConfig 文档记录存储配置
type RecordConfig struct {
	Type     string `mapstructure:"type"` // memory | postgres
	DSN      string `mapstructure:"dsn"`
	PoolSize int    `mapstructure:"pool_size"`
}

// ObjectConfig 对象存储配置（签名上传/下载 URL 由此后端签发）
type ObjectConfig struct {
	Type         string `mapstructure:"type"` // memory | gcs
	Bucket       string `mapstructure:"bucket"`
	Endpoint     string `mapstructure:"endpoint"`
	SignedURLTTL string `mapstructure:"signed_url_ttl"` // 如 "15m"
}

// CacheConfig 缓存配置（队列统计短 TTL 缓存）
type CacheConfig struct {
	Type     string `mapstructure:"type"` // memory | redis
	Addr     string `mapstructure:"addr"`
	DB       int    `mapstructure:"db"`
	Password string `mapstructure:"password"`
	TTL      string `mapstructure:"ttl"` // 如 "5s"
}

// UploadConfig 上传校验配置
type UploadConfig struct {
	MaxSizeBytes     int64    `mapstructure:"max_size_bytes"`     // <=0 时默认 50MB
	AllowedMimeTypes []string `mapstructure:"allowed_mime_types"` // 空则使用内置白名单
}

// WorkerConfig Worker 服务配置
type WorkerConfig struct {
	Concurrency     int    `mapstructure:"concurrency"`      // 同时处理的 Job 数，<=0 时默认 1
	ShutdownTimeout string `mapstructure:"shutdown_timeout"` // 优雅关闭等待，如 "30s"
}

// SupervisorConfig 进程监管配置
type SupervisorConfig struct {
	MaxRestarts         int    `mapstructure:"max_restarts"`          // <=0 时默认 5
	RestartDelay        string `mapstructure:"restart_delay"`         // 如 "2s"
	GracePeriod         string `mapstructure:"grace_period"`          // 信号转发后强杀前的等待，如 "30s"
	MemoryCheckInterval string `mapstructure:"memory_check_interval"` // 如 "30s"
	MemoryWarnMB        int    `mapstructure:"memory_warn_mb"`        // 超出则告警，<=0 时默认 512
	LogFile             string `mapstructure:"log_file"`              // 传给子进程的日志落盘路径
}

// HealthConfig 健康/积压阈值配置
type HealthConfig struct {
	FailedThreshold  int    `mapstructure:"failed_threshold"`  // failed 超出则提示高失败率，<=0 时默认 10
	BacklogThreshold int    `mapstructure:"backlog_threshold"` // waiting 超出则提示积压，<=0 时默认 100
	StatsCacheTTL    string `mapstructure:"stats_cache_ttl"`   // 统计缓存 TTL，如 "5s"；健康探测不缓存
}

// RedactionConfig 脱敏配置
type RedactionConfig struct {
	DisabledCategories []string `mapstructure:"disabled_categories"` // 关闭的 PII 类别，默认全开
}

// SecretsConfig Secret 来源配置
type SecretsConfig struct {
	Provider string `mapstructure:"provider"` // env | vault | memory
	Address  string `mapstructure:"address"`  // vault 地址
	Token    string `mapstructure:"token"`
	Prefix   string `mapstructure:"prefix"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// MonitoringConfig 监控配置
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

// PrometheusConfig Prometheus 配置
type PrometheusConfig struct {
	Enable bool `mapstructure:"enable"`
	Port   int  `mapstructure:"port"`
}

// TracingConfig 链路追踪配置（OpenTelemetry）
type TracingConfig struct {
	Enable         bool   `mapstructure:"enable"`
	ServiceName    string `mapstructure:"service_name"`
	ExportEndpoint string `mapstructure:"export_endpoint"`
	Insecure       bool   `mapstructure:"insecure"`
}

// LoadConfig 加载配置文件
func LoadConfig(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("无法读取配置文件: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("无法解析配置文件: %w", err)
	}

	replaceEnvVars(&config)
	return &config, nil
}

// replaceEnvVars 替换配置中 ${VAR} 形式的环境变量（DSN、密码、JWT key）
func replaceEnvVars(config *Config) {
	config.Queue.DSN = expandEnv(config.Queue.DSN)
	config.Storage.Record.DSN = expandEnv(config.Storage.Record.DSN)
	config.Storage.Cache.Password = expandEnv(config.Storage.Cache.Password)
	config.API.Middleware.JWTKey = expandEnv(config.API.Middleware.JWTKey)
	config.Secrets.Token = expandEnv(config.Secrets.Token)
}

func expandEnv(v string) string {
	if !strings.HasPrefix(v, "${") || !strings.HasSuffix(v, "}") {
		return v
	}
	envVar := strings.TrimSuffix(strings.TrimPrefix(v, "${"), "}")
	if val := os.Getenv(envVar); val != "" {
		return val
	}
	return v
}

// LoadAPIConfig 加载 API 配置（configs/api.yaml）
func LoadAPIConfig() (*Config, error) {
	return LoadConfig("configs/api.yaml")
}

// LoadWorkerConfig 加载 Worker 配置（configs/worker.yaml）
func LoadWorkerConfig() (*Config, error) {
	return LoadConfig("configs/worker.yaml")
}
