package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrConfig marks a missing or unusable required setting (secret, endpoint).
// Callers surface it as a 500-class failure and never retry it.
var ErrConfig = errors.New("configuration error")

// Side selects which service a Config is built for.
type Side string

const (
	SideAgent Side = "agent"
	SideTool  Side = "tool"
)

// DefaultConfigPath is read when CONFIG_PATH is unset. A missing file is not an error.
const DefaultConfigPath = "/app/config/leadflow.yaml"

type HTTPConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// ToolServiceConfig is the agent side's view of the tool service.
type ToolServiceConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type LLMConfig struct {
	APIKey        string        `mapstructure:"api_key"`
	BaseURL       string        `mapstructure:"base_url"`
	Model         string        `mapstructure:"model"`
	Temperature   float64       `mapstructure:"temperature"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxToolRounds int           `mapstructure:"max_tool_rounds"`
}

type AuthConfig struct {
	ReplayWindow time.Duration `mapstructure:"replay_window"`
	// ReplayCache additionally rejects signatures already seen inside the window.
	ReplayCache bool `mapstructure:"replay_cache"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type LedgerConfig struct {
	Driver string        `mapstructure:"driver"` // memory | redis | postgres | sqlite
	DSN    string        `mapstructure:"dsn"`
	TTL    time.Duration `mapstructure:"ttl"`
	// PendingTTL bounds how long an unfinished reservation blocks retries.
	PendingTTL time.Duration `mapstructure:"pending_ttl"`
}

type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

type TracingConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Config is built once at process start and treated as read-only afterwards.
type Config struct {
	Side        Side              `mapstructure:"-"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	ToolService ToolServiceConfig `mapstructure:"tool_service"`
	LLM         LLMConfig         `mapstructure:"llm"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Ledger      LedgerConfig      `mapstructure:"ledger"`
	RateLimit   RateLimitConfig   `mapstructure:"ratelimit"`
	Tracing     TracingConfig     `mapstructure:"tracing"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Secrets     Secrets           `mapstructure:"-"`
}

// legacyEnv maps config keys to the environment variable names the services
// have always honoured. Every other key is also reachable as LEADFLOW_<KEY>.
var legacyEnv = map[string][]string{
	"tool_service.base_url": {"MCP_SERVER_URL"},
	"llm.api_key":           {"OPENAI_API_KEY"},
	"llm.base_url":          {"OPENAI_BASE_URL"},
	"llm.model":             {"LLM_MODEL"},
	"http.port":             {"PORT"},
	"metrics.port":          {"METRICS_PORT"},
	"redis.url":             {"REDIS_URL"},
	"ledger.driver":         {"LEDGER_DRIVER"},
	"ledger.dsn":            {"LEDGER_DSN"},
	"tracing.enabled":       {"TRACING_ENABLED"},
	"tracing.otlp_endpoint": {"OTEL_EXPORTER_OTLP_ENDPOINT"},
	"logging.level":         {"LOG_LEVEL"},
}

func setDefaults(v *viper.Viper, side Side) {
	port, metricsPort := 3001, 2112
	service := "leadflow-agent"
	if side == SideTool {
		port, metricsPort = 3000, 2113
		service = "leadflow-toolserver"
	}
	v.SetDefault("http.port", port)
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 5*time.Minute)
	v.SetDefault("http.max_body_bytes", 1<<20)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", metricsPort)
	v.SetDefault("tool_service.base_url", "http://localhost:3000")
	v.SetDefault("tool_service.timeout", 10*time.Second)
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.model", "gpt-3.5-turbo")
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("llm.max_tool_rounds", 5)
	v.SetDefault("auth.replay_window", 5*time.Minute)
	v.SetDefault("auth.replay_cache", false)
	v.SetDefault("redis.url", "")
	v.SetDefault("ledger.driver", "memory")
	v.SetDefault("ledger.dsn", "")
	v.SetDefault("ledger.ttl", 24*time.Hour)
	v.SetDefault("ledger.pending_ttl", 30*time.Second)
	v.SetDefault("ratelimit.rps", 10.0)
	v.SetDefault("ratelimit.burst", 20)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", service)
	v.SetDefault("tracing.otlp_endpoint", "localhost:4317")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Load builds the configuration for one side: defaults, then the optional YAML
// file at CONFIG_PATH, then environment variables. Secrets are resolved next
// and overrides, such as command-line flags, are applied before validation.
func Load(side Side, overrides ...func(*Config)) (*Config, error) {
	// Local runs keep settings in .env; absence is normal in containers.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v, side)

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = DefaultConfigPath
	}
	if _, err := os.Stat(cfgPath); err == nil {
		v.SetConfigFile(cfgPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", cfgPath, err)
		}
	}

	v.SetEnvPrefix("LEADFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range legacyEnv {
		args := append([]string{key, "LEADFLOW_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, names...)
		if err := v.BindEnv(args...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Side = side

	secrets, err := ResolveSecrets(os.Getenv, os.ReadFile)
	if err != nil {
		return nil, err
	}
	cfg.Secrets = secrets

	for _, override := range overrides {
		override(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings a side cannot start without. The tool service
// starts without secrets and reports ErrConfig per request instead.
func (c *Config) Validate() error {
	if c.Side == SideAgent {
		if c.ToolService.BaseURL == "" {
			return fmt.Errorf("%w: tool service base URL is required", ErrConfig)
		}
		if c.Secrets.HMACSecret == "" {
			return fmt.Errorf("%w: HMAC secret is required", ErrConfig)
		}
	}
	if c.Auth.ReplayWindow <= 0 {
		return fmt.Errorf("%w: auth.replay_window must be positive", ErrConfig)
	}
	switch c.Ledger.Driver {
	case "memory", "redis", "postgres", "sqlite":
	default:
		return fmt.Errorf("%w: unknown ledger driver %q", ErrConfig, c.Ledger.Driver)
	}
	return nil
}
