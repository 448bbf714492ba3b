package speech

import "context"

// STTStream is one live recognition session. Send pushes caller audio;
// Receive yields partial and final transcripts until Close.
type STTStream interface {
	Send(chunk AudioChunk) error
	Receive() <-chan TranscriptEvent
	Close() error
}

// STTProvider opens recognition streams.
type STTProvider interface {
	StartStream(ctx context.Context, sampleRate int) (STTStream, error)
	Name() string
}
