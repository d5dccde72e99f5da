package fal

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/egeaydin1/fal-freya-garsonai/internal/reliability"
	"github.com/egeaydin1/fal-freya-garsonai/internal/voice"
)

const (
	// Buffers below this produce hallucinated transcripts on the STT model,
	// so they are not worth a round trip.
	minAudioBytes = 500

	sttMaxAttempts   = 3
	sttBackoffBase   = 1500 * time.Millisecond
	sttBackoffFactor = 2
)

// Transcribe uploads the buffered audio and runs one STT pass. Retries up to
// three times on transient failures with exponential backoff. Buffers under
// minAudioBytes return reliability.ErrAudioTooSmall without any network
// traffic.
func (c *Client) Transcribe(ctx context.Context, audio []byte, isFinal bool) (voice.STTResult, error) {
	if len(audio) < minAudioBytes {
		return voice.STTResult{}, fmt.Errorf("stt: %d bytes buffered: %w", len(audio), reliability.ErrAudioTooSmall)
	}

	fileName := fmt.Sprintf("audio_%d_%d.webm", time.Now().UnixMilli(), len(audio))

	var lastErr error
	for attempt := 0; attempt < sttMaxAttempts; attempt++ {
		if attempt > 0 {
			delay := c.sttBackoff
			for i := 1; i < attempt; i++ {
				delay *= sttBackoffFactor
			}
			log.Printf("stt: retry %d/%d in %v (final=%v): %v", attempt, sttMaxAttempts-1, delay, isFinal, lastErr)
			select {
			case <-ctx.Done():
				return voice.STTResult{}, ctx.Err()
			case <-time.After(delay):
			}
		}

		result, err := c.transcribeOnce(ctx, audio, fileName)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !errors.Is(err, reliability.ErrProviderRetryable) {
			return voice.STTResult{}, err
		}
	}
	return voice.STTResult{}, fmt.Errorf("stt: exhausted retries: %w", lastErr)
}

func (c *Client) transcribeOnce(ctx context.Context, audio []byte, fileName string) (voice.STTResult, error) {
	audioURL, err := c.upload(ctx, audio, fileName, "audio/webm")
	if err != nil {
		return voice.STTResult{}, fmt.Errorf("stt upload: %w", err)
	}

	result, err := c.subscribe(ctx, c.sttModel, map[string]any{
		"audio_url": audioURL,
		"language":  c.language,
	})
	if err != nil {
		return voice.STTResult{}, fmt.Errorf("stt generate: %w", err)
	}

	text := strings.TrimSpace(extractTranscript(result))
	return voice.STTResult{
		Text:       text,
		Confidence: estimateConfidence(text),
	}, nil
}

// extractTranscript handles both response shapes the model emits: a flat
// "text" field or a "chunks" array of segment objects.
func extractTranscript(result map[string]any) string {
	if text := stringField(result, "text"); text != "" {
		return text
	}

	chunks, ok := result["chunks"].([]any)
	if !ok {
		return ""
	}
	parts := make([]string, 0, len(chunks))
	for _, raw := range chunks {
		chunk, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if text := strings.TrimSpace(stringField(chunk, "text")); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

// estimateConfidence approximates confidence from transcript length; the
// model does not report one.
func estimateConfidence(text string) float64 {
	switch {
	case len(text) >= 20:
		return 0.85
	case len(text) >= 5:
		return 0.75
	default:
		return 0.5
	}
}
