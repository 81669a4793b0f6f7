package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	JWT        JWTConfig        `yaml:"jwt"`
	Log        LogConfig        `yaml:"log"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Engine     EngineConfig     `yaml:"engine"`
	Webhook    WebhookConfig    `yaml:"webhook"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Name            string        `yaml:"name"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type JWTConfig struct {
	Secret    string        `yaml:"secret"`
	ExpiresIn time.Duration `yaml:"expires_in"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`     // json, text
	Output     string `yaml:"output"`     // stdout, file, both
	FilePath   string `yaml:"file_path"`
	MaxSize    int    `yaml:"max_size"`    // MB
	MaxAge     int    `yaml:"max_age"`     // days
	MaxBackups int    `yaml:"max_backups"` // number of backup files
	Compress   bool   `yaml:"compress"`    // compress backup files
}

type MonitoringConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MetricsPath string        `yaml:"metrics_path"`
	Tracing     TracingConfig `yaml:"tracing"`
}

// TracingConfig OpenTelemetry 追踪配置
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`     // OTLP gRPC 端点，例如 http://otel-collector:4317
	Insecure    bool    `yaml:"insecure"`     // 是否使用明文（本地/开发）
	SampleRatio float64 `yaml:"sample_ratio"` // 采样率 0.0~1.0
	ServiceName string  `yaml:"service_name"` // 缺省使用 "planhub"
}

// EngineConfig 自动化引擎配置
type EngineConfig struct {
	ScheduleTick    time.Duration `yaml:"schedule_tick"`     // schedule trigger poll interval
	MaxActionDelay  time.Duration `yaml:"max_action_delay"`  // clamp for per-action delay_seconds
	DefaultTimezone string        `yaml:"default_timezone"`  // schedule specs without an explicit tz
	DueSoonTick     time.Duration `yaml:"due_soon_tick"`     // due_soon/overdue scan interval
}

// WebhookConfig 出站 Webhook 客户端配置
type WebhookConfig struct {
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	MaxElapsed time.Duration `yaml:"max_elapsed"` // exponential backoff budget
}

func Load() *Config {
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(err)
	}
	applyDefaults(&config)
	return &config
}

// GetDefaultConfig 返回默认配置
func GetDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "postgres",
			Password:        "password",
			Name:            "planhub",
			MaxOpenConns:    100,
			MaxIdleConns:    10,
			ConnMaxLifetime: 3600 * time.Second,
		},
		JWT: JWTConfig{
			Secret:    "default-secret-key",
			ExpiresIn: 24 * time.Hour,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			Output:     "both",
			FilePath:   "./logs/planhub.log",
			MaxSize:    100,
			MaxAge:     7,
			MaxBackups: 3,
			Compress:   true,
		},
		Monitoring: MonitoringConfig{
			Enabled:     true,
			MetricsPath: "/metrics",
			Tracing: TracingConfig{
				Enabled:     false,
				Endpoint:    "http://localhost:4317",
				Insecure:    true,
				SampleRatio: 0.1,
				ServiceName: "planhub",
			},
		},
		Engine: EngineConfig{
			ScheduleTick:    30 * time.Second,
			MaxActionDelay:  15 * time.Minute,
			DefaultTimezone: "UTC",
			DueSoonTick:     5 * time.Minute,
		},
		Webhook: WebhookConfig{
			Timeout:    10 * time.Second,
			MaxRetries: 3,
			MaxElapsed: 2 * time.Minute,
		},
	}
}

// applyDefaults fills zero values left by an absent or partial config file.
func applyDefaults(cfg *Config) {
	def := GetDefaultConfig()
	if cfg.Server.Port == 0 {
		cfg.Server = def.Server
	}
	if cfg.Database.Host == "" {
		cfg.Database = def.Database
	}
	if cfg.JWT.Secret == "" {
		cfg.JWT = def.JWT
	}
	if cfg.Log.Level == "" {
		cfg.Log = def.Log
	}
	if cfg.Monitoring.MetricsPath == "" {
		cfg.Monitoring.MetricsPath = def.Monitoring.MetricsPath
	}
	if cfg.Monitoring.Tracing.SampleRatio == 0 {
		cfg.Monitoring.Tracing.SampleRatio = def.Monitoring.Tracing.SampleRatio
	}
	if cfg.Monitoring.Tracing.ServiceName == "" {
		cfg.Monitoring.Tracing.ServiceName = def.Monitoring.Tracing.ServiceName
	}
	if cfg.Engine.ScheduleTick == 0 {
		cfg.Engine.ScheduleTick = def.Engine.ScheduleTick
	}
	if cfg.Engine.MaxActionDelay == 0 {
		cfg.Engine.MaxActionDelay = def.Engine.MaxActionDelay
	}
	if cfg.Engine.DefaultTimezone == "" {
		cfg.Engine.DefaultTimezone = def.Engine.DefaultTimezone
	}
	if cfg.Engine.DueSoonTick == 0 {
		cfg.Engine.DueSoonTick = def.Engine.DueSoonTick
	}
	if cfg.Webhook.Timeout == 0 {
		cfg.Webhook = def.Webhook
	}
}
