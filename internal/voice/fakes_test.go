package voice

import (
	"context"
	"strings"
	"sync"
	"time"
)

type fakeSTT struct {
	mu         sync.Mutex
	partials   []string
	partialIdx int
	finalText  string
	finalErr   error
	finalDelay time.Duration

	inFlight    int
	maxInFlight int
}

func (f *fakeSTT) Transcribe(ctx context.Context, audio []byte, isFinal bool) (STTResult, error) {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if isFinal {
		if f.finalDelay > 0 {
			select {
			case <-ctx.Done():
				return STTResult{}, ctx.Err()
			case <-time.After(f.finalDelay):
			}
		}
		if f.finalErr != nil {
			return STTResult{}, f.finalErr
		}
		return STTResult{Text: f.finalText, Confidence: 0.85}, nil
	}

	// Simulated provider latency keeps partial passes overlapping with
	// inbound frames.
	select {
	case <-ctx.Done():
		return STTResult{}, ctx.Err()
	case <-time.After(5 * time.Millisecond):
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.partials) == 0 {
		return STTResult{}, nil
	}
	idx := f.partialIdx
	if idx >= len(f.partials) {
		idx = len(f.partials) - 1
	}
	f.partialIdx++
	return STTResult{Text: f.partials[idx], Confidence: 0.75}, nil
}

// fakeLLM streams the scripted response in fixed-size pieces, observing ctx
// between deltas.
type fakeLLM struct {
	mu        sync.Mutex
	response  string
	pieceLen  int
	delay     time.Duration
	calls     []string
	callCtxs  []context.Context
	streamErr error
}

func (f *fakeLLM) GenerateStream(ctx context.Context, prompt string, onDelta func(delta, fullText string) error) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, prompt)
	f.callCtxs = append(f.callCtxs, ctx)
	response := f.response
	pieceLen := f.pieceLen
	delay := f.delay
	streamErr := f.streamErr
	f.mu.Unlock()

	if streamErr != nil {
		return "", streamErr
	}
	if pieceLen <= 0 {
		pieceLen = 8
	}

	var full strings.Builder
	for i := 0; i < len(response); i += pieceLen {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if delay > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}
		end := i + pieceLen
		if end > len(response) {
			end = len(response)
		}
		delta := response[i:end]
		full.WriteString(delta)
		if err := onDelta(delta, full.String()); err != nil {
			return "", err
		}
	}
	return full.String(), nil
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeTTS emits len(chunks) fixed chunks per synthesis call and records
// every text it was asked to speak. With cancelLag set the fake paces
// chunks without watching ctx, like a provider stream that notices
// cancellation only on its next delivery.
type fakeTTS struct {
	mu         sync.Mutex
	texts      []string
	chunks     [][]byte
	chunkDelay time.Duration
	cancelLag  time.Duration
	audioFor   func(text string) []byte
}

func (f *fakeTTS) SynthesizeStream(ctx context.Context, text string, onChunk func(chunk []byte) error) error {
	f.mu.Lock()
	f.texts = append(f.texts, text)
	chunks := f.chunks
	delay := f.chunkDelay
	lag := f.cancelLag
	audioFor := f.audioFor
	f.mu.Unlock()

	if audioFor != nil {
		return onChunk(audioFor(text))
	}
	if len(chunks) == 0 {
		chunks = [][]byte{[]byte("audio:" + text)}
	}
	for _, chunk := range chunks {
		if lag > 0 {
			time.Sleep(lag)
		} else {
			if err := ctx.Err(); err != nil {
				return err
			}
			if delay > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(delay):
				}
			}
		}
		if err := onChunk(chunk); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeTTS) spokenTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.texts))
	copy(out, f.texts)
	return out
}
