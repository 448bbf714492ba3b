package config

import "time"

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Agents:    DefaultAgentsConfig(),
		Voice:     DefaultVoiceConfig(),
		Tools:     DefaultToolsConfig(),
		LLM:       DefaultLLMConfig(),
		Speech:    DefaultSpeechConfig(),
		Redis:     DefaultRedisConfig(),
		Auth:      DefaultAuthConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig returns the default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:            ":8080",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     120 * time.Second,
		MaxHeaderBytes:  1 << 20, // 1 MB
		ShutdownTimeout: 15 * time.Second,
	}
}

// DefaultAgentsConfig returns the default agent set configuration.
func DefaultAgentsConfig() AgentsConfig {
	return AgentsConfig{
		Dir:        "agents",
		EntryAgent: "Concierge",
	}
}

// DefaultVoiceConfig returns speech cascade defaults tuned for low
// perceived latency on the voice path.
func DefaultVoiceConfig() VoiceConfig {
	return VoiceConfig{
		MaxToolIterations:  5,
		SentenceMinChars:   24,
		IdleTimeout:        90 * time.Second,
		BargeInEnabled:     true,
		FallbackUtterance:  "I'm sorry, I'm having trouble with that right now. Could you say that again?",
		HistoryTokenBudget: 6000,
	}
}

// DefaultToolsConfig returns the default tool registry configuration.
func DefaultToolsConfig() ToolsConfig {
	return ToolsConfig{
		DefaultTimeout: 5 * time.Second,
		RateLimitRPS:   5,
		RateLimitBurst: 10,
	}
}

// DefaultLLMConfig returns the default LLM client configuration.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Model:        "gpt-4o-mini",
		Timeout:      30 * time.Second,
		MaxRetries:   2,
		InitialDelay: 250 * time.Millisecond,
		MaxDelay:     2 * time.Second,
	}
}

// DefaultSpeechConfig returns the default speech gateway configuration.
func DefaultSpeechConfig() SpeechConfig {
	return SpeechConfig{
		STTURL:   "ws://localhost:7080/v1/listen",
		TTSURL:   "http://localhost:7080/v1/speak",
		Language: "en",
		Timeout:  15 * time.Second,
	}
}

// DefaultRedisConfig returns the default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		SessionTTL:   30 * time.Minute,
	}
}

// DefaultAuthConfig returns the default auth configuration.
func DefaultAuthConfig() AuthConfig {
	return AuthConfig{
		Enabled: false,
		Issuer:  "artvoice",
	}
}

// DefaultLogConfig returns the default log configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:        "info",
		Format:       "json",
		OutputPaths:  []string{"stdout"},
		EnableCaller: true,
	}
}

// DefaultTelemetryConfig returns the default telemetry configuration.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "artvoice-backend",
		SampleRate:   1.0,
	}
}
