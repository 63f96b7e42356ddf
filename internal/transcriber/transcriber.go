package transcriber

import "context"

// StreamConfig describes the PCM a caller will write. Audio is always
// LINEAR16.
type StreamConfig struct {
	Language     string
	SampleRateHz int
	Channels     int
}

type StreamWriter interface {
	Write(pcm []byte) error
	Close() error
}

type ResultReceiver interface {
	OnResult(segmentIndex int, text string, isFinal bool)
	OnError(err error)
}

type Transcriber interface {
	StartStreaming(ctx context.Context, sessionID string, cfg StreamConfig, receiver ResultReceiver) (StreamWriter, error)
}
