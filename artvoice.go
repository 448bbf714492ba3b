// Package artvoice provides a top-level convenience entry point for
// embedding the voice agent pipeline in an existing HTTP server.
//
// Usage:
//
//	import "github.com/briandenicola/art-voice-agent-accelerator"
//
//	h, err := artvoice.New(config.DefaultConfig(), logger)
//	mux.Handle("/media/ws", h)
//
// The handler runs one speech cascade per WebSocket connection with
// sessions held in memory. Processes that need Redis-backed session
// persistence, health probes and deferred startup should run the
// artvoice command instead; see cmd/artvoice.
package artvoice

import (
	"go.uber.org/zap"

	"github.com/briandenicola/art-voice-agent-accelerator/agent"
	"github.com/briandenicola/art-voice-agent-accelerator/agent/handoff"
	"github.com/briandenicola/art-voice-agent-accelerator/cascade"
	"github.com/briandenicola/art-voice-agent-accelerator/config"
	"github.com/briandenicola/art-voice-agent-accelerator/llm"
	"github.com/briandenicola/art-voice-agent-accelerator/session"
	"github.com/briandenicola/art-voice-agent-accelerator/speech"
	"github.com/briandenicola/art-voice-agent-accelerator/tool"
	"github.com/briandenicola/art-voice-agent-accelerator/transport"
)

// Version of the module.
const Version = "0.1.0"

// New wires a WebSocket media handler from configuration: agents are
// loaded from cfg.Agents.Dir, sessions live in memory and speech runs
// through the configured gateway endpoints.
func New(cfg *config.Config, logger *zap.Logger) (*transport.MediaHandler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	defs, err := agent.NewYAMLLoader().LoadDir(cfg.Agents.Dir)
	if err != nil {
		return nil, err
	}
	agents, err := agent.NewStore(defs, logger)
	if err != nil {
		return nil, err
	}

	gatewayCfg := speech.GatewayConfig{
		STTURL:   cfg.Speech.STTURL,
		TTSURL:   cfg.Speech.TTSURL,
		APIKey:   cfg.Speech.APIKey,
		Model:    cfg.Speech.Model,
		Language: cfg.Speech.Language,
		Timeout:  cfg.Speech.Timeout,
	}

	deps := cascade.Deps{
		Agents:   agents,
		Handoffs: handoff.NewService(agents, cfg.Agents.EntryAgent, logger),
		Tools: tool.NewRegistry(tool.Config{
			DefaultTimeout: cfg.Tools.DefaultTimeout,
			RateLimitRPS:   cfg.Tools.RateLimitRPS,
			RateLimitBurst: cfg.Tools.RateLimitBurst,
		}, logger),
		Client: llm.NewOpenAIClient(llm.OpenAIConfig{
			BaseURL: cfg.LLM.BaseURL,
			APIKey:  cfg.LLM.APIKey,
			Timeout: cfg.LLM.Timeout,
		}, logger),
		TTS:     speech.NewGatewayTTS(gatewayCfg, logger),
		Store:   session.NewMemoryStore(),
		Counter: llm.NewTiktokenCounter(cfg.LLM.Model),
		Logger:  logger,
	}

	mediaCfg := transport.MediaConfig{
		EntryAgent: cfg.Agents.EntryAgent,
		Turns: cascade.Config{
			Model:              cfg.LLM.Model,
			MaxToolIterations:  cfg.Voice.MaxToolIterations,
			SentenceMinChars:   cfg.Voice.SentenceMinChars,
			HistoryTokenBudget: cfg.Voice.HistoryTokenBudget,
			FallbackUtterance:  cfg.Voice.FallbackUtterance,
		},
		Shell: cascade.HandlerConfig{
			SampleRate:     16000,
			IdleTimeout:    cfg.Voice.IdleTimeout,
			BargeInEnabled: cfg.Voice.BargeInEnabled,
		},
	}

	return transport.NewMediaHandler(
		deps,
		speech.NewGatewaySTT(gatewayCfg, logger),
		transport.NewAuthenticator(cfg.Auth, logger),
		mediaCfg,
		logger,
	), nil
}
