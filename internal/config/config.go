package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"SmartTodo/pkg/logger"
)

// 环境变量覆盖项。
const (
	EnvConfigPath = "SMARTTODO_CONFIG"
	EnvDSN        = "SMARTTODO_DSN"
	EnvJWTSecret  = "SMARTTODO_JWT_SECRET"
	EnvAddress    = "SMARTTODO_ADDR"
)

// Config 描述 SmartTodo 服务启动时需要加载的全部配置。
type Config struct {
	Server  ServerConfig  `json:"server"`
	Storage StorageConfig `json:"storage"`
	Events  EventsConfig  `json:"events"`
	Auth    AuthConfig    `json:"auth"`
	Logging logger.Config `json:"logging"`
	Metrics MetricsConfig `json:"metrics"`
	Alerts  AlertsConfig  `json:"alerts"`
}

// ServerConfig 控制 API 服务的监听地址与超时。
type ServerConfig struct {
	Address         string   `json:"address"`
	ReadTimeout     Duration `json:"read_timeout"`
	WriteTimeout    Duration `json:"write_timeout"`
	ShutdownTimeout Duration `json:"shutdown_timeout"`
	MaxBodyBytes    int64    `json:"max_body_bytes"`
}

// StorageConfig 描述待办数据的持久化方式。
type StorageConfig struct {
	// Driver 可选 memory、mysql、postgres、sqlite。
	Driver          string   `json:"driver"`
	DSN             string   `json:"dsn"`
	MaxOpenConns    int      `json:"max_open_conns"`
	MaxIdleConns    int      `json:"max_idle_conns"`
	ConnMaxLifetime Duration `json:"conn_max_lifetime"`
	AutoMigrate     bool     `json:"auto_migrate"`
}

// EventsConfig 描述变更事件总线。
type EventsConfig struct {
	// Driver 可选 memory、redis、rabbitmq。
	Driver   string         `json:"driver"`
	Buffer   int            `json:"buffer"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig Redis 发布订阅所需参数。
type RedisConfig struct {
	Address  string `json:"address"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Channel  string `json:"channel"`
}

// RabbitMQConfig RabbitMQ 扇出交换机参数。
type RabbitMQConfig struct {
	URL      string `json:"url"`
	Exchange string `json:"exchange"`
	Prefetch int    `json:"prefetch"`
}

// AuthConfig 身份认证配置。
type AuthConfig struct {
	// Mode 可选 oauth、jwt、header、disabled。
	Mode          string      `json:"mode"`
	AnonymousUser string      `json:"anonymous_user"`
	Header        string      `json:"header"`
	JWT           JWTConfig   `json:"jwt"`
	OAuth         OAuthConfig `json:"oauth"`
}

// JWTConfig 本地开发使用的令牌签发配置。
type JWTConfig struct {
	Secret     string     `json:"secret"`
	Issuer     string     `json:"issuer"`
	Audience   []string   `json:"audience"`
	AccessTTL  Duration   `json:"access_ttl"`
	RefreshTTL Duration   `json:"refresh_ttl"`
	Users      []UserSeed `json:"users"`
}

// UserSeed 预置的开发账号。
type UserSeed struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// OAuthConfig 外部身份提供方配置。
type OAuthConfig struct {
	IntrospectionURL string   `json:"introspection_url"`
	TokenURL         string   `json:"token_url"`
	ClientID         string   `json:"client_id"`
	ClientSecret     string   `json:"client_secret"`
	Scopes           []string `json:"scopes"`
	Timeout          Duration `json:"timeout"`
}

// MetricsConfig Prometheus 指标配置。
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
	// Address 非空时在独立端口暴露指标，否则挂在 API 路由上。
	Address string `json:"address"`
}

// AlertsConfig 告警通道配置。
type AlertsConfig struct {
	WebhookURL string   `json:"webhook_url"`
	Timeout    Duration `json:"timeout"`
}

// Duration 支持 "5s" 字符串或纳秒整数两种写法。
type Duration time.Duration

// Std 返回标准库时长。
func (d Duration) Std() time.Duration { return time.Duration(d) }

// MarshalJSON 以字符串形式输出。
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON 解析字符串或数字形式的时长。
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case nil:
		*d = 0
	case float64:
		*d = Duration(time.Duration(v))
	case string:
		if strings.TrimSpace(v) == "" {
			*d = 0
			return nil
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("无法解析时长 %q: %w", v, err)
		}
		*d = Duration(parsed)
	default:
		return fmt.Errorf("不支持的时长类型 %T", raw)
	}
	return nil
}

// Default 返回全部使用默认值的配置。
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults("")
	cfg.applyEnv()
	return cfg
}

// Load 按扩展名解析 JSON、YAML 或 TOML 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	data, err := normalize(filepath.Ext(path), content)
	if err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// normalize 将 YAML/TOML 转为 JSON，保证只维护一套 json 标签。
func normalize(ext string, content []byte) ([]byte, error) {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		var doc map[string]any
		if err := yaml.Unmarshal(content, &doc); err != nil {
			return nil, err
		}
		return json.Marshal(doc)
	case ".toml":
		var doc map[string]any
		if _, err := toml.Decode(string(content), &doc); err != nil {
			return nil, err
		}
		return json.Marshal(doc)
	case ".json", "":
		return content, nil
	default:
		return nil, fmt.Errorf("不支持的配置格式 %q", ext)
	}
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = Duration(15 * time.Second)
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = Duration(15 * time.Second)
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = Duration(10 * time.Second)
	}
	if c.Server.MaxBodyBytes <= 0 {
		c.Server.MaxBodyBytes = 1 << 20
	}

	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Storage.MaxOpenConns <= 0 {
		c.Storage.MaxOpenConns = 10
	}
	if c.Storage.MaxIdleConns <= 0 {
		c.Storage.MaxIdleConns = 5
	}
	if c.Storage.ConnMaxLifetime == 0 {
		c.Storage.ConnMaxLifetime = Duration(30 * time.Minute)
	}
	if c.Storage.Driver == "sqlite" && c.Storage.DSN != "" && baseDir != "" &&
		!strings.HasPrefix(c.Storage.DSN, "file:") && !filepath.IsAbs(c.Storage.DSN) {
		c.Storage.DSN = filepath.Join(baseDir, c.Storage.DSN)
	}

	c.Events.Driver = strings.ToLower(strings.TrimSpace(c.Events.Driver))
	if c.Events.Driver == "" {
		c.Events.Driver = "memory"
	}
	if c.Events.Buffer <= 0 {
		c.Events.Buffer = 64
	}
	if c.Events.Redis.Channel == "" {
		c.Events.Redis.Channel = "smarttodo:events"
	}
	if c.Events.RabbitMQ.Exchange == "" {
		c.Events.RabbitMQ.Exchange = "smarttodo.events"
	}
	if c.Events.RabbitMQ.Prefetch <= 0 {
		c.Events.RabbitMQ.Prefetch = 32
	}

	c.Auth.Mode = strings.ToLower(strings.TrimSpace(c.Auth.Mode))
	if c.Auth.Mode == "" {
		c.Auth.Mode = "disabled"
	}
	if c.Auth.AnonymousUser == "" {
		c.Auth.AnonymousUser = "local"
	}
	if c.Auth.Header == "" {
		c.Auth.Header = "X-User-ID"
	}
	if c.Auth.JWT.Issuer == "" {
		c.Auth.JWT.Issuer = "smarttodo"
	}
	if c.Auth.JWT.AccessTTL == 0 {
		c.Auth.JWT.AccessTTL = Duration(15 * time.Minute)
	}
	if c.Auth.JWT.RefreshTTL == 0 {
		c.Auth.JWT.RefreshTTL = Duration(24 * time.Hour)
	}
	if c.Auth.OAuth.Timeout == 0 {
		c.Auth.OAuth.Timeout = Duration(5 * time.Second)
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Alerts.Timeout == 0 {
		c.Alerts.Timeout = Duration(5 * time.Second)
	}

	if c.Logging.Audit.Enabled && c.Logging.Audit.Path != "" && baseDir != "" && !filepath.IsAbs(c.Logging.Audit.Path) {
		c.Logging.Audit.Path = filepath.Join(baseDir, c.Logging.Audit.Path)
	}
}

// applyEnv 使用环境变量覆盖敏感或部署相关的字段。
func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvDSN)); v != "" {
		c.Storage.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvJWTSecret)); v != "" {
		c.Auth.JWT.Secret = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvAddress)); v != "" {
		c.Server.Address = v
	}
}

// Validate 检查配置组合是否可用。
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory":
	case "mysql", "postgres", "sqlite":
		if c.Storage.DSN == "" {
			return fmt.Errorf("存储驱动 %s 需要配置 dsn", c.Storage.Driver)
		}
	default:
		return fmt.Errorf("不支持的存储驱动 %q", c.Storage.Driver)
	}

	switch c.Events.Driver {
	case "memory":
	case "redis":
		if c.Events.Redis.Address == "" {
			return errors.New("redis 事件总线需要配置 address")
		}
	case "rabbitmq":
		if c.Events.RabbitMQ.URL == "" {
			return errors.New("rabbitmq 事件总线需要配置 url")
		}
	default:
		return fmt.Errorf("不支持的事件总线 %q", c.Events.Driver)
	}

	switch c.Auth.Mode {
	case "disabled", "header":
	case "jwt":
		if c.Auth.JWT.Secret == "" {
			return errors.New("jwt 模式需要配置 secret")
		}
	case "oauth":
		if c.Auth.OAuth.IntrospectionURL == "" {
			return errors.New("oauth 模式需要配置 introspection_url")
		}
	default:
		return fmt.Errorf("不支持的认证模式 %q", c.Auth.Mode)
	}
	if c.Auth.AnonymousUser == "default" {
		return errors.New("anonymous_user 不能使用保留名称 default")
	}
	return nil
}
