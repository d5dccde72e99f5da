package fal

import (
	"context"
	"log"
	"sync"
	"time"
)

// Warmer keeps the serverless STT and TTS endpoints hot with periodic
// minimal requests so real turns never pay a cold-start penalty. Failures
// are logged and otherwise ignored; a failed ping means the next ping tries
// again.
type Warmer struct {
	client   *Client
	interval time.Duration
}

func NewWarmer(client *Client, interval time.Duration) *Warmer {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Warmer{client: client, interval: interval}
}

// Run pings both endpoints on each tick until ctx is cancelled. The two
// pings run in parallel; the tick handler waits for both so slow responses
// cannot pile up unbounded in-flight requests.
func (w *Warmer) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	log.Printf("warmer: started, interval=%v", w.interval)
	for {
		select {
		case <-ctx.Done():
			log.Printf("warmer: stopped")
			return
		case <-ticker.C:
			w.pingOnce(ctx)
		}
	}
}

func (w *Warmer) pingOnce(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := w.client.SynthesizeStream(ctx, "test", func([]byte) error { return nil }); err != nil && ctx.Err() == nil {
			log.Printf("warmer: tts ping failed: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		// 1000 zero bytes clears the minimum-size gate without being real
		// speech.
		if _, err := w.client.Transcribe(ctx, make([]byte, 1000), false); err != nil && ctx.Err() == nil {
			log.Printf("warmer: stt ping failed: %v", err)
		}
	}()
	wg.Wait()
}
