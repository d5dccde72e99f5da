package fal

import (
	"context"
	"fmt"
	"log"
	"strings"
)

// GenerateStream streams a completion through the router model. Stream events
// carry the accumulated output so far; the delta is computed against the text
// already seen. When the stream closes without producing any content the call
// falls back to a synchronous run so a slow or misbehaving stream endpoint
// never yields an empty turn.
func (c *Client) GenerateStream(ctx context.Context, prompt string, onDelta func(delta, fullText string) error) (string, error) {
	payload := map[string]any{
		"model":  c.llmModel,
		"prompt": prompt,
	}

	var full strings.Builder
	err := c.stream(ctx, c.llmRoute, payload, func(event map[string]any) error {
		chunk := stringField(event, "output")
		if chunk == "" {
			chunk = stringField(event, "text")
		}
		if chunk == "" {
			return nil
		}

		seen := full.String()
		var delta string
		if strings.HasPrefix(chunk, seen) {
			delta = chunk[len(seen):]
			full.Reset()
			full.WriteString(chunk)
		} else {
			delta = chunk
			full.WriteString(chunk)
		}
		if delta == "" {
			return nil
		}
		if onDelta != nil {
			return onDelta(delta, full.String())
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("llm stream: %w", err)
	}

	if full.Len() > 0 {
		return full.String(), nil
	}

	// Stream produced nothing. One synchronous attempt before giving up.
	log.Printf("llm: stream returned no content, falling back to sync run")
	result, err := c.subscribe(ctx, c.llmRoute, payload)
	if err != nil {
		return "", fmt.Errorf("llm fallback: %w", err)
	}
	text := strings.TrimSpace(stringField(result, "output"))
	if text == "" {
		return "", nil
	}
	if onDelta != nil {
		if err := onDelta(text, text); err != nil {
			return "", err
		}
	}
	return text, nil
}
