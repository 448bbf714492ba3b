package cascade

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/briandenicola/art-voice-agent-accelerator/agent"
	"github.com/briandenicola/art-voice-agent-accelerator/agent/handoff"
	"github.com/briandenicola/art-voice-agent-accelerator/internal/metrics"
	"github.com/briandenicola/art-voice-agent-accelerator/llm"
	"github.com/briandenicola/art-voice-agent-accelerator/session"
	"github.com/briandenicola/art-voice-agent-accelerator/speech"
	"github.com/briandenicola/art-voice-agent-accelerator/tool"
	"github.com/briandenicola/art-voice-agent-accelerator/types"
)

// turnState labels the phases of one voice turn for logs and traces.
type turnState string

const (
	stateIdle         turnState = "idle"
	stateRouting      turnState = "routing"
	stateGenerating   turnState = "generating"
	stateToolCall     turnState = "tool_call"
	stateSynthesizing turnState = "synthesizing"
)

// AudioSink receives synthesized audio. The transport layer implements
// it; for telephony that means media frames on the call leg, for
// browsers a websocket binary message.
type AudioSink interface {
	WriteAudio(ctx context.Context, ev speech.SpeechEvent) error
}

// Config tunes turn behavior.
type Config struct {
	// Model names the chat model requested from the LLM client.
	Model string
	// MaxToolIterations bounds tool rounds within one turn.
	MaxToolIterations int
	// SentenceMinChars suppresses sentence boundaries that would
	// produce very short synthesis chunks.
	SentenceMinChars int
	// HistoryTokenBudget caps the prompt history; zero disables
	// trimming.
	HistoryTokenBudget int
	// FallbackUtterance is spoken when a turn fails terminally.
	FallbackUtterance string
}

// Deps are the collaborators one Orchestrator is built from.
type Deps struct {
	Agents   *agent.Store
	Handoffs *handoff.Service
	Tools    *tool.Registry
	Client   llm.Client
	TTS      speech.TTSProvider
	Sink     AudioSink
	Store    session.Store
	Retryer  *llm.Retryer
	Counter  llm.TokenCounter
	Metrics  *metrics.Collector
	Tracer   trace.Tracer
	Logger   *zap.Logger
}

// Orchestrator drives the turn state machine. One instance serves many
// sessions; all per-session mutable state lives in session.State.
type Orchestrator struct {
	agents   *agent.Store
	handoffs *handoff.Service
	tools    *tool.Registry
	client   llm.Client
	tts      speech.TTSProvider
	sink     AudioSink
	store    session.Store
	retryer  *llm.Retryer
	counter  llm.TokenCounter
	metrics  *metrics.Collector
	tracer   trace.Tracer
	cfg      Config
	logger   *zap.Logger
}

// NewOrchestrator wires the turn engine.
func NewOrchestrator(deps Deps, cfg Config) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Tracer == nil {
		deps.Tracer = noop.NewTracerProvider().Tracer("cascade")
	}
	if deps.Retryer == nil {
		deps.Retryer = llm.NewRetryer(nil, deps.Logger)
	}
	if cfg.MaxToolIterations <= 0 {
		cfg.MaxToolIterations = 5
	}
	if cfg.FallbackUtterance == "" {
		cfg.FallbackUtterance = "I'm sorry, I'm having trouble with that right now. Could you try again?"
	}
	return &Orchestrator{
		agents:   deps.Agents,
		handoffs: deps.Handoffs,
		tools:    deps.Tools,
		client:   deps.Client,
		tts:      deps.TTS,
		sink:     deps.Sink,
		store:    deps.Store,
		retryer:  deps.Retryer,
		counter:  deps.Counter,
		metrics:  deps.Metrics,
		tracer:   deps.Tracer,
		cfg:      cfg,
		logger:   deps.Logger.With(zap.String("component", "orchestrator")),
	}
}

// RouteTurn runs one full turn for a finalized utterance. Failures are
// spoken as a fallback utterance and returned for observability; the
// session stays usable either way. The session snapshot is persisted
// when the turn ends regardless of outcome.
func (o *Orchestrator) RouteTurn(ctx context.Context, sess *session.State, userText string) error {
	ctx, span := o.tracer.Start(ctx, "orchestrator.route_turn",
		trace.WithAttributes(
			attribute.String("session.id", sess.ID()),
			attribute.String("agent.name", sess.ActiveAgent()),
		),
	)
	defer span.End()

	start := time.Now()
	status := "ok"
	defer func() {
		o.metrics.RecordTurn(sess.ActiveAgent(), status, time.Since(start))
		o.persist(ctx, sess)
	}()

	if sess.Closed() {
		status = "closed"
		return types.NewError(types.ErrSessionClosed, "session is closed")
	}

	o.transition(sess, stateIdle, stateRouting)
	def, err := o.agents.Resolve(sess.ActiveAgent())
	if err != nil {
		status = "error"
		o.speak(ctx, sess, nil, o.cfg.FallbackUtterance)
		return err
	}

	sess.AppendMessage(types.NewUserMessage(userText))

	// A greeting scheduled by an announced handoff on a previous turn
	// is spoken before this turn's substantive response.
	if greeting := sess.TakePendingGreeting(); greeting != "" {
		o.speak(ctx, sess, def, greeting)
	}

	spoken, err := o.generate(ctx, sess, def)
	if spoken != "" {
		sess.AppendMessage(types.NewAssistantMessage(sess.ActiveAgent(), spoken))
	}
	if err != nil {
		status = "fallback"
		span.RecordError(err)
		o.logger.Warn("turn ended with fallback",
			zap.String("session_id", sess.ID()),
			zap.String("agent", sess.ActiveAgent()),
			zap.Error(err),
		)
		return err
	}

	o.transition(sess, stateSynthesizing, stateIdle)
	return nil
}

// generate streams the LLM response, executing tool calls and handoffs
// between rounds. It returns the text actually spoken.
func (o *Orchestrator) generate(ctx context.Context, sess *session.State, def *agent.Definition) (string, error) {
	chunker := &sentenceChunker{minChars: o.cfg.SentenceMinChars}
	var spoken strings.Builder
	cur := def
	toolRounds := 0

	for {
		o.transition(sess, stateRouting, stateGenerating)

		req := o.buildRequest(sess, cur)
		var toolCalls []types.ToolCall

		llmStart := time.Now()
		err := o.retryer.Do(ctx, func() error {
			toolCalls = toolCalls[:0]
			// Discard partial text left by a failed attempt; the
			// retry replays the whole segment.
			chunker.Flush()
			voiced := false
			// Scoped to this attempt so an early return releases the
			// stream producer and its connection.
			streamCtx, cancelStream := context.WithCancel(ctx)
			defer cancelStream()
			stream, err := o.client.Stream(streamCtx, req)
			if err != nil {
				return err
			}
			for chunk := range stream {
				if chunk.Err != nil {
					if voiced {
						// The caller already heard part of this
						// segment; a retry would speak it twice.
						return fmt.Errorf("stream failed after speech started: %w", chunk.Err)
					}
					return chunk.Err
				}
				if len(chunk.ToolCalls) > 0 {
					toolCalls = append(toolCalls, chunk.ToolCalls...)
				}
				if chunk.Delta == "" {
					continue
				}
				for _, sentence := range chunker.Write(chunk.Delta) {
					// Checkpoint: barge-in lands between sentences.
					if sess.CancelRequested() {
						return nil
					}
					if o.speak(ctx, sess, cur, sentence) {
						spoken.WriteString(sentence)
						voiced = true
					}
				}
			}
			return nil
		})
		o.metrics.RecordLLMRequest(req.Model, llmStatus(err), time.Since(llmStart))
		if err != nil {
			o.speak(ctx, sess, cur, o.cfg.FallbackUtterance)
			return spoken.String(), err
		}

		if sess.CancelRequested() {
			return spoken.String(), nil
		}

		if len(toolCalls) == 0 {
			if tail := chunker.Flush(); tail != "" {
				if o.speak(ctx, sess, cur, tail) {
					spoken.WriteString(tail)
				}
			}
			return spoken.String(), nil
		}

		toolRounds++
		if toolRounds > o.cfg.MaxToolIterations {
			o.speak(ctx, sess, cur, o.cfg.FallbackUtterance)
			return spoken.String(), types.Errorf(types.ErrTurnIterationsExceeded,
				"turn exceeded %d tool iterations", o.cfg.MaxToolIterations)
		}

		cur = o.runToolRound(ctx, sess, cur, toolCalls)

		// Checkpoint: cancellation between tool iterations ends the
		// turn at the last completed round.
		if sess.CancelRequested() {
			return spoken.String(), nil
		}
	}
}

// runToolRound executes one batch of tool calls and returns the agent
// the remaining generation continues under, which changes when a
// handoff succeeds mid-turn.
func (o *Orchestrator) runToolRound(ctx context.Context, sess *session.State, cur *agent.Definition, calls []types.ToolCall) *agent.Definition {
	o.transition(sess, stateGenerating, stateToolCall)

	valid := calls[:0]
	for _, call := range calls {
		// Malformed payloads from the model are dropped, not fatal.
		if call.Name == "" || !json.Valid(orEmptyObject(call.Arguments)) {
			o.logger.Warn("dropping malformed tool call",
				zap.String("session_id", sess.ID()),
				zap.String("tool", call.Name),
			)
			continue
		}
		valid = append(valid, call)
	}
	if len(valid) == 0 {
		return cur
	}

	sess.AppendMessage(types.NewAssistantMessage(sess.ActiveAgent(), "").WithToolCalls(valid))

	for _, call := range valid {
		if o.handoffs.IsHandoffTool(call.Name) {
			cur = o.runHandoff(ctx, sess, cur, call)
			continue
		}

		start := time.Now()
		result := o.tools.Invoke(ctx, call, sess)
		o.metrics.RecordToolInvocation(call.Name, toolStatus(result), time.Since(start))
		sess.AppendMessage(result.ToMessage())
	}
	return cur
}

// runHandoff applies a transfer_to_agent call. Denials become a tool
// error the model can read; the conversation continues either way.
func (o *Orchestrator) runHandoff(ctx context.Context, sess *session.State, cur *agent.Definition, call types.ToolCall) *agent.Definition {
	req, err := handoff.ParseRequest(call.Arguments)
	if err == nil {
		var res *handoff.Result
		res, err = o.handoffs.Transition(sess, req)
		if err == nil {
			o.metrics.RecordHandoff(res.From, res.To, string(res.Kind))
			next, rerr := o.agents.Resolve(res.To)
			if rerr != nil {
				o.logger.Error("handoff target vanished after transition",
					zap.String("target", res.To), zap.Error(rerr))
			} else {
				cur = next
			}
			// Announced transitions greet immediately: the rest of
			// this turn already belongs to the new agent.
			if greeting := sess.TakePendingGreeting(); greeting != "" {
				o.speak(ctx, sess, cur, greeting)
			}
			payload, _ := json.Marshal(map[string]string{"status": "transferred", "agent": res.To})
			sess.AppendMessage(types.NewToolMessage(call.ID, call.Name, string(payload)))
			return cur
		}
	}

	payload, _ := json.Marshal(map[string]string{"error": err.Error()})
	sess.AppendMessage(types.NewToolMessage(call.ID, call.Name, string(payload)))
	return cur
}

// buildRequest assembles the prompt for the current agent: rendered
// system prompt, then token-budgeted shared history.
func (o *Orchestrator) buildRequest(sess *session.State, cur *agent.Definition) *llm.Request {
	vars := sess.SystemVars()
	for k, v := range sess.AgentVars() {
		vars[k] = v
	}

	system, err := cur.RenderPrompt(vars)
	if err != nil {
		o.logger.Warn("prompt render failed, using raw template",
			zap.String("agent", cur.Name), zap.Error(err))
		system = cur.SystemPrompt
	}

	history := sess.History()
	if o.cfg.HistoryTokenBudget > 0 && o.counter != nil {
		history = llm.TrimHistory(o.counter, history, o.cfg.HistoryTokenBudget)
	}

	messages := make([]types.Message, 0, len(history)+1)
	messages = append(messages, types.NewSystemMessage(system))
	messages = append(messages, history...)

	schemas := o.tools.SchemasFor(cur.Tools)
	if len(cur.HandoffTargets) > 0 {
		schemas = append(schemas, handoff.Schema(cur))
	}

	return &llm.Request{
		Model:    o.cfg.Model,
		Messages: messages,
		Tools:    schemas,
	}
}

// speak synthesizes one chunk under the agent's voice and forwards the
// audio to the sink. It reports whether the chunk played to completion;
// barge-in between audio events aborts the rest.
func (o *Orchestrator) speak(ctx context.Context, sess *session.State, def *agent.Definition, text string) bool {
	if text == "" || o.tts == nil || o.sink == nil {
		return false
	}
	if sess.CancelRequested() {
		return false
	}

	req := &speech.SynthesisRequest{Text: text}
	if def != nil {
		req.Voice = def.Voice
		req.Style = def.VoiceStyle
	}

	synthCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, err := o.tts.Synthesize(synthCtx, req)
	if err != nil {
		o.logger.Warn("synthesis failed",
			zap.String("session_id", sess.ID()), zap.Error(err))
		return false
	}

	for ev := range events {
		if sess.CancelRequested() {
			cancel()
			for range events {
				// Drain so the provider goroutine can exit.
			}
			return false
		}
		if err := o.sink.WriteAudio(ctx, ev); err != nil {
			o.logger.Warn("audio sink write failed",
				zap.String("session_id", sess.ID()), zap.Error(err))
			return false
		}
	}
	return true
}

// persist saves the session snapshot, surviving a cancelled turn
// context.
func (o *Orchestrator) persist(ctx context.Context, sess *session.State) {
	if o.store == nil {
		return
	}
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := o.store.Save(saveCtx, sess.Snapshot()); err != nil {
		o.logger.Warn("session persist failed",
			zap.String("session_id", sess.ID()), zap.Error(err))
	}
}

func (o *Orchestrator) transition(sess *session.State, from, to turnState) {
	o.logger.Debug("turn state",
		zap.String("session_id", sess.ID()),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
}

func orEmptyObject(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	return raw
}

func llmStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func toolStatus(result types.ToolResult) string {
	if result.IsError() {
		return string(result.ErrorCode)
	}
	return "ok"
}
