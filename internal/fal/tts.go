package fal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/egeaydin1/fal-freya-garsonai/internal/reliability"
)

const ttsChunkSize = 32 * 1024

// SynthesizeStream runs TTS for the given text, then downloads the produced
// audio file and forwards it in fixed-size chunks. The synthesis itself is
// not incremental; streaming the download still lets playback start before
// the whole file has transferred.
func (c *Client) SynthesizeStream(ctx context.Context, text string, onChunk func(chunk []byte) error) error {
	result, err := c.subscribe(ctx, c.ttsModel, map[string]any{
		"input": text,
		"voice": c.ttsVoice,
		"speed": c.ttsSpeed,
	})
	if err != nil {
		return fmt.Errorf("tts generate: %w", err)
	}

	audioURL := extractAudioURL(result)
	if audioURL == "" {
		return fmt.Errorf("tts generate: no audio url in response: %w", reliability.ErrProviderPermanent)
	}
	return c.downloadChunks(ctx, audioURL, onChunk)
}

func (c *Client) downloadChunks(ctx context.Context, url string, onChunk func(chunk []byte) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create download request: %w", err)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("tts download: %w", wrapTransport(err))
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return statusError("tts download", res)
	}

	buf := make([]byte, ttsChunkSize)
	for {
		n, readErr := res.Body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if err := onChunk(chunk); err != nil {
				return err
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return nil
			}
			return fmt.Errorf("tts download read: %w", readErr)
		}
	}
}

func extractAudioURL(result map[string]any) string {
	if audio, ok := result["audio"].(map[string]any); ok {
		if url := stringField(audio, "url"); url != "" {
			return url
		}
	}
	return stringField(result, "audio_url")
}
