package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/voyplan/orchestrator/internal/tracing"
)

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port      int `mapstructure:"port"`
	AdminPort int `mapstructure:"admin_port"`
	RateLimit struct {
		RequestsPerMinute int `mapstructure:"requests_per_minute"`
		Burst             int `mapstructure:"burst"`
	} `mapstructure:"rate_limit"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// PostgresConfig holds settings for the read-side projection database.
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// DSN renders a lib/pq connection string.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// LLMConfig holds settings for the LLM completion service.
type LLMConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
}

// SagaConfig holds the step execution policy knobs.
type SagaConfig struct {
	StepTimeout time.Duration `mapstructure:"step_timeout"`
	MaxRetries  int           `mapstructure:"max_retries"`
}

// Config is the top-level service configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Saga     SagaConfig     `mapstructure:"saga"`
	Tracing  tracing.Config `mapstructure:"tracing"`
	Agents   string         `mapstructure:"agents"` // path to agent definitions file
}

// Load reads configuration from CONFIG_PATH (default ./config/orchestrator.yaml),
// applying defaults for anything the file omits. A missing file is not an error;
// defaults plus environment overrides apply.
func Load() (*Config, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "./config/orchestrator.yaml"
	}

	v := viper.New()
	v.SetConfigFile(cfgPath)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, statErr := os.Stat(cfgPath); statErr == nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	applyEnvOverrides(&c)
	return &c, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.admin_port", 8081)
	v.SetDefault("server.rate_limit.requests_per_minute", 60)
	v.SetDefault("server.rate_limit.burst", 10)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "voyplan")
	v.SetDefault("postgres.database", "voyplan")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("llm.base_url", "http://llm-service:8000")
	v.SetDefault("llm.timeout", 2*time.Minute)
	v.SetDefault("llm.requests_per_second", 10.0)
	v.SetDefault("llm.burst", 20)
	v.SetDefault("saga.step_timeout", 30*time.Second)
	v.SetDefault("saga.max_retries", 1)
	v.SetDefault("tracing.service_name", "voyplan-orchestrator")
	v.SetDefault("agents", "./config/agents.yaml")
}

func applyEnvOverrides(c *Config) {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Redis.Addr = addr
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		c.Redis.Password = pw
	}
	if host := os.Getenv("POSTGRES_HOST"); host != "" {
		c.Postgres.Host = host
	}
	if pw := os.Getenv("POSTGRES_PASSWORD"); pw != "" {
		c.Postgres.Password = pw
	}
	if url := os.Getenv("LLM_SERVICE_URL"); url != "" {
		c.LLM.BaseURL = url
	}
}
