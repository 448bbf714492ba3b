package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete backend configuration.
type Config struct {
	// Server HTTP server configuration
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Agents declarative agent set configuration
	Agents AgentsConfig `yaml:"agents" env:"AGENTS"`

	// Voice speech cascade configuration
	Voice VoiceConfig `yaml:"voice" env:"VOICE"`

	// Tools tool registry configuration
	Tools ToolsConfig `yaml:"tools" env:"TOOLS"`

	// LLM chat completion configuration
	LLM LLMConfig `yaml:"llm" env:"LLM"`

	// Speech STT/TTS gateway configuration
	Speech SpeechConfig `yaml:"speech" env:"SPEECH"`

	// Redis session persistence configuration
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Auth transport authentication configuration
	Auth AuthConfig `yaml:"auth" env:"AUTH"`

	// Log logging configuration
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry OTel configuration
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"ADDR"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" env:"MAX_HEADER_BYTES"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// AgentsConfig configures the declarative agent set.
type AgentsConfig struct {
	// Dir is scanned for *.yaml agent definitions at startup.
	Dir string `yaml:"dir" env:"DIR"`
	// EntryAgent owns every new session until a handoff occurs.
	EntryAgent string `yaml:"entry_agent" env:"ENTRY_AGENT"`
}

// VoiceConfig configures the speech cascade.
type VoiceConfig struct {
	// MaxToolIterations bounds chained tool calls within one turn.
	MaxToolIterations int `yaml:"max_tool_iterations" env:"MAX_TOOL_ITERATIONS"`
	// SentenceMinChars sets the minimum accumulated text before a
	// sentence boundary is considered for synthesis.
	SentenceMinChars int `yaml:"sentence_min_chars" env:"SENTENCE_MIN_CHARS"`
	// IdleTimeout ends a session when no user audio arrives.
	IdleTimeout time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	// BargeInEnabled allows user speech to cancel in-flight synthesis.
	BargeInEnabled bool `yaml:"barge_in_enabled" env:"BARGE_IN_ENABLED"`
	// FallbackUtterance is spoken when a turn fails unrecoverably.
	FallbackUtterance string `yaml:"fallback_utterance" env:"FALLBACK_UTTERANCE"`
	// HistoryTokenBudget bounds the conversation window handed to the LLM.
	HistoryTokenBudget int `yaml:"history_token_budget" env:"HISTORY_TOKEN_BUDGET"`
}

// ToolsConfig configures the tool registry.
type ToolsConfig struct {
	// DefaultTimeout applies when a tool declares none. Conservative
	// for voice-path tools.
	DefaultTimeout time.Duration `yaml:"default_timeout" env:"DEFAULT_TIMEOUT"`
	// RateLimitRPS bounds per-session tool invocations per second.
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int   `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// MCPServers lists remote tool servers validated at deferred startup.
	MCPServers []MCPServerConfig `yaml:"mcp_servers"`
}

// MCPServerConfig describes one remote MCP-style tool server.
type MCPServerConfig struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
	// Required marks the server as a required deferred dependency.
	// Failure is logged as an error in readiness detail but never
	// revokes liveness.
	Required bool          `yaml:"required"`
	Timeout  time.Duration `yaml:"timeout"`
}

// LLMConfig configures the chat completion client.
type LLMConfig struct {
	// BaseURL points at an OpenAI-compatible chat completion endpoint.
	BaseURL      string        `yaml:"base_url" env:"BASE_URL"`
	APIKey       string        `yaml:"api_key" env:"API_KEY"`
	Model        string        `yaml:"model" env:"MODEL"`
	Timeout      time.Duration `yaml:"timeout" env:"TIMEOUT"`
	MaxRetries   int           `yaml:"max_retries" env:"MAX_RETRIES"`
	InitialDelay time.Duration `yaml:"initial_delay" env:"INITIAL_DELAY"`
	MaxDelay     time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
}

// SpeechConfig configures the recognition and synthesis gateway.
type SpeechConfig struct {
	// STTURL is the websocket recognition endpoint.
	STTURL string `yaml:"stt_url" env:"STT_URL"`
	// TTSURL is the HTTP synthesis endpoint.
	TTSURL   string        `yaml:"tts_url" env:"TTS_URL"`
	APIKey   string        `yaml:"api_key" env:"API_KEY"`
	Model    string        `yaml:"model" env:"MODEL"`
	Language string        `yaml:"language" env:"LANGUAGE"`
	Timeout  time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// RedisConfig configures session persistence.
type RedisConfig struct {
	Addr         string        `yaml:"addr" env:"ADDR"`
	Password     string        `yaml:"password" env:"PASSWORD"`
	DB           int           `yaml:"db" env:"DB"`
	PoolSize     int           `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int           `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	SessionTTL   time.Duration `yaml:"session_ttl" env:"SESSION_TTL"`
}

// AuthConfig configures WebSocket connection authentication.
type AuthConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
	Issuer    string `yaml:"issuer" env:"ISSUER"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level            string   `yaml:"level" env:"LEVEL"`
	Format           string   `yaml:"format" env:"FORMAT"`
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig configures OTel tracing and metrics export.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// Loader loads configuration with builder-style options.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "ARTVOICE",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath sets the YAML config file path.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator adds a config validator run after loading.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load loads configuration. Precedence: defaults, YAML file, env vars.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", l.configPath, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", l.configPath, err)
	}
	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		tag := t.Field(i).Tag.Get("env")
		if tag == "" {
			continue
		}
		key := prefix + "_" + tag

		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(time.Duration(0)) {
			if err := l.setFieldsFromEnv(field, key); err != nil {
				return err
			}
			continue
		}

		value, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		if err := setFieldValue(field, value); err != nil {
			return fmt.Errorf("env %s: %w", key, err)
		}
	}
	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	if field.Type() == reflect.TypeOf(time.Duration(0)) {
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			field.Set(reflect.ValueOf(strings.Split(value, ",")))
		}
	default:
		return fmt.Errorf("unsupported field kind %s", field.Kind())
	}
	return nil
}

// MustLoad loads configuration from the given path, panicking on error.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	if c.Agents.EntryAgent == "" {
		return fmt.Errorf("agents.entry_agent must be set")
	}
	if c.Voice.MaxToolIterations < 1 {
		return fmt.Errorf("voice.max_tool_iterations must be at least 1")
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must be set when auth is enabled")
	}
	for _, s := range c.Tools.MCPServers {
		if s.Name == "" || s.URL == "" {
			return fmt.Errorf("mcp server entries require name and url")
		}
	}
	return nil
}
