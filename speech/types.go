package speech

import "time"

// AudioChunk is one frame of PCM audio in either direction.
type AudioChunk struct {
	Data       []byte    `json:"data"`
	SampleRate int       `json:"sample_rate"`
	Channels   int       `json:"channels"`
	Timestamp  time.Time `json:"timestamp"`
}

// TranscriptEvent is one recognition result. Partial events carry
// in-progress hypotheses and may be revised; a final event closes the
// utterance.
type TranscriptEvent struct {
	Text       string    `json:"text"`
	IsFinal    bool      `json:"is_final"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// SpeechEvent is one increment of synthesized speech. Text carries the
// source chunk the audio was rendered from; IsFinal marks the end of
// the synthesis stream.
type SpeechEvent struct {
	Audio     []byte    `json:"audio"`
	Text      string    `json:"text"`
	IsFinal   bool      `json:"is_final"`
	Timestamp time.Time `json:"timestamp"`
}
