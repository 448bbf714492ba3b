package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/briandenicola/art-voice-agent-accelerator/agent"
	"github.com/briandenicola/art-voice-agent-accelerator/agent/handoff"
	"github.com/briandenicola/art-voice-agent-accelerator/cascade"
	"github.com/briandenicola/art-voice-agent-accelerator/config"
	"github.com/briandenicola/art-voice-agent-accelerator/internal/metrics"
	"github.com/briandenicola/art-voice-agent-accelerator/internal/server"
	"github.com/briandenicola/art-voice-agent-accelerator/internal/telemetry"
	"github.com/briandenicola/art-voice-agent-accelerator/lifecycle"
	"github.com/briandenicola/art-voice-agent-accelerator/llm"
	"github.com/briandenicola/art-voice-agent-accelerator/session"
	"github.com/briandenicola/art-voice-agent-accelerator/speech"
	"github.com/briandenicola/art-voice-agent-accelerator/tool"
	"github.com/briandenicola/art-voice-agent-accelerator/transport"
)

// Server wires configuration into the running process: lifecycle
// steps, the voice pipeline collaborators and the HTTP surface.
type Server struct {
	cfg       *config.Config
	logger    *zap.Logger
	lc        *lifecycle.Manager
	otel      *telemetry.Providers
	registry  *prometheus.Registry
	collector *metrics.Collector

	// Populated by critical startup steps, in order.
	store   *session.RedisStore
	agents  *agent.Store
	tools   *tool.Registry
	counter *llm.TiktokenCounter
	httpSrv *server.Manager
}

// NewServer builds an unstarted server from loaded configuration.
func NewServer(cfg *config.Config, logger *zap.Logger, otelProviders *telemetry.Providers) *Server {
	registry := prometheus.NewRegistry()
	return &Server{
		cfg:       cfg,
		logger:    logger,
		lc:        lifecycle.NewManager(logger),
		otel:      otelProviders,
		registry:  registry,
		collector: metrics.NewCollector("artvoice", registry, logger),
	}
}

// Start registers lifecycle steps and runs critical startup. The
// process is live and serving once this returns; deferred dependency
// work continues in the background.
func (s *Server) Start(ctx context.Context) error {
	s.registerCriticalSteps()
	s.registerDeferredSteps()

	if err := s.lc.RunStartup(ctx); err != nil {
		return err
	}
	s.lc.StartDeferred(ctx)
	return nil
}

// Wait blocks until the shutdown signal fires or the HTTP server
// fails fatally.
func (s *Server) Wait(ctx context.Context) {
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-s.httpSrv.Errors():
		s.logger.Error("http server failed", zap.Error(err))
	}
}

// Shutdown stops lifecycle steps in reverse order and flushes
// telemetry.
func (s *Server) Shutdown(ctx context.Context) {
	s.lc.RunShutdown(ctx)
	if s.otel != nil {
		if err := s.otel.Shutdown(ctx); err != nil {
			s.logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}
}

func (s *Server) registerCriticalSteps() {
	s.lc.AddStep(&lifecycle.Step{
		Name: "session_store",
		Start: func(ctx context.Context) error {
			store, err := session.NewRedisStore(ctx, session.RedisStoreConfig{
				Addr:         s.cfg.Redis.Addr,
				Password:     s.cfg.Redis.Password,
				DB:           s.cfg.Redis.DB,
				PoolSize:     s.cfg.Redis.PoolSize,
				MinIdleConns: s.cfg.Redis.MinIdleConns,
				SessionTTL:   s.cfg.Redis.SessionTTL,
			}, s.logger)
			if err != nil {
				return err
			}
			s.store = store
			return nil
		},
		Stop: func(context.Context) error {
			return s.store.Close()
		},
	})

	s.lc.AddStep(&lifecycle.Step{
		Name: "agent_store",
		Start: func(context.Context) error {
			defs, err := agent.NewYAMLLoader().LoadDir(s.cfg.Agents.Dir)
			if err != nil {
				return err
			}
			store, err := agent.NewStore(defs, s.logger)
			if err != nil {
				return err
			}
			if _, err := store.Resolve(s.cfg.Agents.EntryAgent); err != nil {
				return fmt.Errorf("entry agent %q not defined: %w", s.cfg.Agents.EntryAgent, err)
			}
			s.agents = store
			return nil
		},
	})

	s.lc.AddStep(&lifecycle.Step{
		Name: "tool_registry",
		Start: func(context.Context) error {
			s.tools = tool.NewRegistry(tool.Config{
				DefaultTimeout: s.cfg.Tools.DefaultTimeout,
				RateLimitRPS:   s.cfg.Tools.RateLimitRPS,
				RateLimitBurst: s.cfg.Tools.RateLimitBurst,
			}, s.logger)
			s.counter = llm.NewTiktokenCounter(s.cfg.LLM.Model)
			return nil
		},
	})

	s.lc.AddStep(&lifecycle.Step{
		Name: "http_server",
		Start: func(context.Context) error {
			s.httpSrv = server.NewManager(s.buildHandler(), s.cfg.Server, s.logger)
			return s.httpSrv.Start()
		},
		Stop: func(ctx context.Context) error {
			return s.httpSrv.Shutdown(ctx)
		},
	})
}

func (s *Server) registerDeferredSteps() {
	requiredServers := 0
	for _, mcp := range s.cfg.Tools.MCPServers {
		if mcp.Required {
			requiredServers++
		}
	}

	// Deferred steps run sequentially in one goroutine, so a plain
	// counter is safe here.
	validated := 0
	for _, mcp := range s.cfg.Tools.MCPServers {
		mcp := mcp
		step := &lifecycle.Step{
			Name:     "mcp_" + mcp.Name,
			Deferred: true,
			Required: mcp.Required,
			Start: func(ctx context.Context) error {
				client := tool.NewMCPClient(mcp.Name, mcp.URL, mcp.Timeout, s.logger)
				if err := client.Validate(ctx); err != nil {
					return err
				}
				n, err := client.RegisterAll(ctx, s.tools)
				if err != nil {
					return err
				}
				s.logger.Info("mcp tools registered",
					zap.String("server", mcp.Name), zap.Int("count", n))
				return nil
			},
		}
		if mcp.Required {
			step.OnSuccess = func(rs *lifecycle.ReadinessState) {
				validated++
				if validated == requiredServers {
					rs.MarkMCPReady()
				}
			}
		}
		s.lc.AddStep(step)
	}
	if requiredServers == 0 {
		s.lc.Readiness().MarkMCPReady()
	}

	// Tokenizer encodings load lazily on first use; pull them off the
	// first caller's turn.
	s.lc.AddStep(&lifecycle.Step{
		Name:     "warmup",
		Deferred: true,
		Start: func(context.Context) error {
			s.counter.Count("warmup")
			return nil
		},
		OnSuccess: func(rs *lifecycle.ReadinessState) { rs.MarkWarmupCompleted() },
	})
}

// buildHandler assembles the HTTP surface: health probes, metrics,
// version and the WebSocket media endpoint.
func (s *Server) buildHandler() http.Handler {
	mux := http.NewServeMux()

	health := lifecycle.NewHealth(s.lc.Readiness(), []lifecycle.DiagCheck{
		{Name: "redis", Check: func(ctx context.Context) error { return s.store.Ping(ctx) }},
	}, s.logger)
	health.Register(mux)

	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("/version", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"version":    Version,
			"build_time": BuildTime,
			"git_commit": GitCommit,
		})
	})

	mux.Handle("/api/v1/media/ws", s.buildMediaHandler())

	return mux
}

func (s *Server) buildMediaHandler() *transport.MediaHandler {
	gatewayCfg := speech.GatewayConfig{
		STTURL:   s.cfg.Speech.STTURL,
		TTSURL:   s.cfg.Speech.TTSURL,
		APIKey:   s.cfg.Speech.APIKey,
		Model:    s.cfg.Speech.Model,
		Language: s.cfg.Speech.Language,
		Timeout:  s.cfg.Speech.Timeout,
	}

	deps := cascade.Deps{
		Agents:   s.agents,
		Handoffs: handoff.NewService(s.agents, s.cfg.Agents.EntryAgent, s.logger),
		Tools:    s.tools,
		Client: llm.NewOpenAIClient(llm.OpenAIConfig{
			BaseURL: s.cfg.LLM.BaseURL,
			APIKey:  s.cfg.LLM.APIKey,
			Timeout: s.cfg.LLM.Timeout,
		}, s.logger),
		TTS:   speech.NewGatewayTTS(gatewayCfg, s.logger),
		Store: s.store,
		Retryer: llm.NewRetryer(&llm.Policy{
			MaxRetries:   s.cfg.LLM.MaxRetries,
			InitialDelay: s.cfg.LLM.InitialDelay,
			MaxDelay:     s.cfg.LLM.MaxDelay,
			Multiplier:   2.0,
			Jitter:       true,
		}, s.logger),
		Counter: s.counter,
		Metrics: s.collector,
		Tracer:  otel.Tracer("cascade"),
		Logger:  s.logger,
	}

	mediaCfg := transport.MediaConfig{
		EntryAgent: s.cfg.Agents.EntryAgent,
		Turns: cascade.Config{
			Model:              s.cfg.LLM.Model,
			MaxToolIterations:  s.cfg.Voice.MaxToolIterations,
			SentenceMinChars:   s.cfg.Voice.SentenceMinChars,
			HistoryTokenBudget: s.cfg.Voice.HistoryTokenBudget,
			FallbackUtterance:  s.cfg.Voice.FallbackUtterance,
		},
		Shell: cascade.HandlerConfig{
			SampleRate:     16000,
			IdleTimeout:    s.cfg.Voice.IdleTimeout,
			BargeInEnabled: s.cfg.Voice.BargeInEnabled,
		},
	}

	auth := transport.NewAuthenticator(s.cfg.Auth, s.logger)
	stt := speech.NewGatewaySTT(gatewayCfg, s.logger)

	return transport.NewMediaHandler(deps, stt, auth, mediaCfg, s.logger)
}
