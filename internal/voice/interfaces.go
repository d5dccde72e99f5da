package voice

import "context"

// STTResult is a single transcription outcome.
type STTResult struct {
	Text       string
	Confidence float64
}

// STTClient transcribes a complete audio buffer. Partial passes and the
// final pass use the same call; isFinal only affects provider hints and
// logging.
type STTClient interface {
	Transcribe(ctx context.Context, audio []byte, isFinal bool) (STTResult, error)
}

// LLMClient streams a completion for a fully built prompt. onDelta receives
// each new token and the text accumulated so far; returning an error from
// onDelta aborts the stream. The accumulated text is returned either way.
type LLMClient interface {
	GenerateStream(ctx context.Context, prompt string, onDelta func(delta, fullText string) error) (string, error)
}

// TTSClient synthesizes text and delivers audio incrementally through
// onChunk. Returning an error from onChunk aborts the download.
type TTSClient interface {
	SynthesizeStream(ctx context.Context, text string, onChunk func(chunk []byte) error) error
}
