package speech

import "context"

// SynthesisRequest asks for one chunk of text to be spoken. Voice and
// Style come from the active agent's persona so callers hear a voice
// change on announced agent transitions.
type SynthesisRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
	Style string `json:"style,omitempty"`
}

// TTSProvider renders text to audio. Synthesize returns a channel of
// audio events; cancelling the context aborts synthesis mid-stream,
// which is how barge-in cuts the agent off.
type TTSProvider interface {
	Synthesize(ctx context.Context, req *SynthesisRequest) (<-chan SpeechEvent, error)
	Name() string
}
