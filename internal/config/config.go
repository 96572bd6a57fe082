package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/n0madic/go-llmportal/internal/logger"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	EnvPrefix      = "LLMPORTAL"
)

// Config is the full runtime configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Assistant AssistantConfig `mapstructure:"assistant"`
	Session   SessionConfig   `mapstructure:"session"`
	Models    ModelsConfig    `mapstructure:"models"`
	Log       logger.Config   `mapstructure:"log"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host        string `mapstructure:"host" validate:"required"`
	Port        int    `mapstructure:"port" validate:"min=1,max=65535"`
	AccessToken string `mapstructure:"access_token"`
	Verbose     bool   `mapstructure:"verbose"`
	Debug       bool   `mapstructure:"debug"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// OpenAIConfig describes the upstream endpoint and its credentials.
type OpenAIConfig struct {
	BaseURL      string        `mapstructure:"base_url" validate:"required,url"`
	APIKey       string        `mapstructure:"api_key"`
	Organization string        `mapstructure:"organization"`
	Project      string        `mapstructure:"project"`
	Timeout      time.Duration `mapstructure:"timeout" validate:"min=0"`
	OAuth        OAuthConfig   `mapstructure:"oauth"`
}

// OAuthConfig enables a client-credentials grant when TokenURL is set.
type OAuthConfig struct {
	TokenURL     string   `mapstructure:"token_url" validate:"omitempty,url"`
	ClientID     string   `mapstructure:"client_id" validate:"required_with=TokenURL"`
	ClientSecret string   `mapstructure:"client_secret"`
	Scopes       []string `mapstructure:"scopes"`
}

// AssistantConfig controls the assistant/thread/run workflow.
type AssistantConfig struct {
	AssistantID  string        `mapstructure:"assistant_id"`
	ThreadID     string        `mapstructure:"thread_id"`
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	MaxWait      time.Duration `mapstructure:"max_wait" validate:"min=0"`
	MaxPolls     int           `mapstructure:"max_polls" validate:"min=0"`
}

// SessionConfig selects the conversation state backend.
type SessionConfig struct {
	Backend  string        `mapstructure:"backend" validate:"oneof=memory redis"`
	TTL      time.Duration `mapstructure:"ttl" validate:"min=0"`
	Capacity int           `mapstructure:"capacity" validate:"min=0"`
	Redis    RedisConfig   `mapstructure:"redis"`
}

// RedisConfig is used when Session.Backend is redis.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"min=0"`
	Prefix   string `mapstructure:"prefix"`
}

// ModelsConfig controls the upstream model listing cache.
type ModelsConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl" validate:"min=0"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Host: "127.0.0.1", Port: 8000},
		OpenAI: OpenAIConfig{
			BaseURL: DefaultBaseURL,
			Timeout: 120 * time.Second,
		},
		Assistant: AssistantConfig{
			PollInterval: time.Second,
			MaxWait:      5 * time.Minute,
		},
		Session: SessionConfig{
			Backend:  "memory",
			TTL:      24 * time.Hour,
			Capacity: 10000,
			Redis:    RedisConfig{Addr: "localhost:6379", Prefix: "llmportal:session:"},
		},
		Models: ModelsConfig{CacheTTL: 5 * time.Minute},
		Log:    *logger.DefaultConfig(),
	}
}

// DefaultFromEnv returns Default overlaid with environment variables only.
func DefaultFromEnv() *Config {
	cfg, err := Load("")
	if err != nil {
		cfg = Default()
	}
	return cfg
}

// Load builds a Config from defaults, the optional file at path and the
// LLMPORTAL_* environment. The result is validated.
func Load(path string) (*Config, error) {
	return LoadWith(viper.New(), path)
}

// LoadWith is Load on a caller-provided viper instance, so CLI flags bound
// to v take precedence over file and environment.
func LoadWith(v *viper.Viper, path string) (*Config, error) {
	setDefaults(v, Default())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if strings.TrimSpace(cfg.OpenAI.APIKey) == "" {
		cfg.OpenAI.APIKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	}
	if cfg.OpenAI.Organization == "" {
		cfg.OpenAI.Organization = strings.TrimSpace(os.Getenv("OPENAI_ORGANIZATION"))
	}
	if cfg.OpenAI.Project == "" {
		cfg.OpenAI.Project = strings.TrimSpace(os.Getenv("OPENAI_PROJECT"))
	}
	if envBool("LLMPORTAL_DEBUG") {
		cfg.Server.Debug = true
	}
	cfg.OpenAI.BaseURL = strings.TrimRight(cfg.OpenAI.BaseURL, "/")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks struct constraints and the nested logger config.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if c.Session.Backend == "redis" && strings.TrimSpace(c.Session.Redis.Addr) == "" {
		return fmt.Errorf("session.redis.addr is required for the redis backend")
	}
	return c.Log.Validate()
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.access_token", "")
	v.SetDefault("server.verbose", false)
	v.SetDefault("server.debug", false)

	v.SetDefault("openai.base_url", d.OpenAI.BaseURL)
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.organization", "")
	v.SetDefault("openai.project", "")
	v.SetDefault("openai.timeout", d.OpenAI.Timeout)
	v.SetDefault("openai.oauth.token_url", "")
	v.SetDefault("openai.oauth.client_id", "")
	v.SetDefault("openai.oauth.client_secret", "")
	v.SetDefault("openai.oauth.scopes", []string{})

	v.SetDefault("assistant.assistant_id", "")
	v.SetDefault("assistant.thread_id", "")
	v.SetDefault("assistant.poll_interval", d.Assistant.PollInterval)
	v.SetDefault("assistant.max_wait", d.Assistant.MaxWait)
	v.SetDefault("assistant.max_polls", d.Assistant.MaxPolls)

	v.SetDefault("session.backend", d.Session.Backend)
	v.SetDefault("session.ttl", d.Session.TTL)
	v.SetDefault("session.capacity", d.Session.Capacity)
	v.SetDefault("session.redis.addr", d.Session.Redis.Addr)
	v.SetDefault("session.redis.password", "")
	v.SetDefault("session.redis.db", 0)
	v.SetDefault("session.redis.prefix", d.Session.Redis.Prefix)

	v.SetDefault("models.cache_ttl", d.Models.CacheTTL)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.output", d.Log.Output)
	v.SetDefault("log.file.filename", d.Log.File.Filename)
	v.SetDefault("log.file.max_size", d.Log.File.MaxSize)
	v.SetDefault("log.file.max_age", d.Log.File.MaxAge)
	v.SetDefault("log.file.max_backups", d.Log.File.MaxBackups)
	v.SetDefault("log.file.compress", d.Log.File.Compress)
	v.SetDefault("log.enable_caller", d.Log.EnableCaller)
	v.SetDefault("log.enable_stacktrace", d.Log.EnableStacktrace)
}

func envBool(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}
