package voice

import (
	"context"
	"errors"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/egeaydin1/fal-freya-garsonai/internal/menu"
	"github.com/egeaydin1/fal-freya-garsonai/internal/observability"
	"github.com/egeaydin1/fal-freya-garsonai/internal/protocol"
)

// firstSentenceRe finds the first complete sentence inside the streaming
// spoken_response JSON string value. It works on the raw in-progress text,
// which is why the prompt insists spoken_response comes first.
var firstSentenceRe = regexp.MustCompile(`"spoken_response"\s*:\s*"([^"]*?[.!?])`)

// TurnParams carries everything one turn needs. Send and SendAudio must be
// safe to call from the turn goroutine and the parallel TTS goroutine.
type TurnParams struct {
	Transcript string
	Prompt     string
	Products   []menu.Product

	LLM   LLMClient
	TTS   TTSClient
	Cache *PhraseCache

	Send      func(msg any) error
	SendAudio func(chunk []byte) error

	// AdoptGate, when non-nil, holds back ai_complete and recommendation
	// until the channel is closed. A speculative turn streams tokens and
	// audio live but its structured result only reaches the client once
	// the reconciliation decision adopts it; if the turn is cancelled
	// instead, the gate never opens and nothing structured leaks.
	AdoptGate <-chan struct{}

	Metrics *observability.Metrics
}

// RunTurn drives one complete assistant reply: LLM stream to ai_token
// events, first-sentence TTS in parallel, envelope parse at stream end,
// recommendation resolution, remainder synthesis, tts_complete. Honors ctx
// at every suspension point; on cancellation it returns ctx's error without
// emitting completion events.
func RunTurn(ctx context.Context, p TurnParams) (Envelope, error) {
	start := time.Now()

	if err := emit(ctx, p.Send, protocol.NewStatus("thinking")); err != nil {
		return Envelope{}, err
	}

	var (
		firstSentence string
		ttsDone       chan error
		firstTokenAt  time.Time
	)

	startTTS := func(sentence string) {
		ttsDone = make(chan error, 1)
		go func() {
			ttsDone <- p.streamSentence(ctx, sentence, start)
		}()
	}

	full, err := p.LLM.GenerateStream(ctx, p.Prompt, func(delta, fullText string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if firstTokenAt.IsZero() {
			firstTokenAt = time.Now()
			if p.Metrics != nil {
				p.Metrics.ObserveTurnStage("llm_first_token", time.Since(start))
			}
		}
		if err := emit(ctx, p.Send, protocol.NewAIToken(delta, fullText)); err != nil {
			return err
		}
		if firstSentence == "" {
			if m := firstSentenceRe.FindStringSubmatch(fullText); m != nil {
				firstSentence = m[1]
				if p.Metrics != nil {
					p.Metrics.ObserveTurnStage("first_sentence", time.Since(start))
				}
				if err := emit(ctx, p.Send, protocol.NewTTSStart()); err != nil {
					return err
				}
				startTTS(firstSentence)
			}
		}
		return nil
	})
	if err != nil {
		waitTTS(ttsDone)
		return Envelope{}, err
	}
	if err := ctx.Err(); err != nil {
		waitTTS(ttsDone)
		return Envelope{}, err
	}

	env := resolveEnvelope(full)

	// A reply with no sentence terminator, or an envelope recovered from
	// prose, never triggered streaming TTS. Speak the whole reply now.
	if firstSentence == "" && env.SpokenResponse != "" {
		if err := emit(ctx, p.Send, protocol.NewTTSStart()); err != nil {
			return Envelope{}, err
		}
		firstSentence = env.SpokenResponse
		startTTS(firstSentence)
	}

	if p.AdoptGate != nil {
		select {
		case <-ctx.Done():
			waitTTS(ttsDone)
			return Envelope{}, ctx.Err()
		case <-p.AdoptGate:
		}
	}

	if err := emit(ctx, p.Send, protocol.NewAIComplete(env)); err != nil {
		waitTTS(ttsDone)
		return Envelope{}, err
	}

	if env.Intent == IntentRecommend {
		if product, ok := p.resolveRecommendation(env); ok {
			if err := emit(ctx, p.Send, protocol.NewRecommendation(product)); err != nil {
				waitTTS(ttsDone)
				return Envelope{}, err
			}
		} else {
			log.Printf("turn: recommendation did not resolve against menu, suppressed")
		}
	}

	if ttsDone != nil {
		select {
		case <-ctx.Done():
			waitTTS(ttsDone)
			return Envelope{}, ctx.Err()
		case ttsErr := <-ttsDone:
			if ttsErr != nil {
				return Envelope{}, ttsErr
			}
		}
	}

	// The first sentence may cover only a prefix of the full reply.
	if rest := spokenRemainder(env.SpokenResponse, firstSentence); rest != "" {
		if err := p.TTS.SynthesizeStream(ctx, rest, func(chunk []byte) error {
			return emitAudio(ctx, p.SendAudio, chunk)
		}); err != nil {
			return Envelope{}, err
		}
	}

	if ttsDone != nil {
		if err := emit(ctx, p.Send, protocol.NewTTSComplete()); err != nil {
			return Envelope{}, err
		}
	}

	if p.Metrics != nil {
		p.Metrics.ObserveTurnStage("turn_total", time.Since(start))
	}
	return env, nil
}

// streamSentence synthesizes the first detected sentence, serving a cached
// opener prefix from memory when one matches.
func (p TurnParams) streamSentence(ctx context.Context, sentence string, turnStart time.Time) error {
	firstAudioSent := false
	forward := func(chunk []byte) error {
		if !firstAudioSent {
			firstAudioSent = true
			if p.Metrics != nil {
				d := time.Since(turnStart)
				p.Metrics.ObserveTurnStage("first_audio", d)
				p.Metrics.ObserveFirstAudioLatency(d)
			}
		}
		return emitAudio(ctx, p.SendAudio, chunk)
	}

	if cached, rest, ok := p.Cache.Match(sentence); ok {
		if p.Metrics != nil {
			p.Metrics.ObserveIndicator("phrase_cache_hit")
		}
		for _, chunk := range ChunkBytes(cached, CacheChunkSize) {
			if err := forward(chunk); err != nil {
				return err
			}
		}
		if strings.TrimSpace(rest) == "" {
			return nil
		}
		return p.TTS.SynthesizeStream(ctx, rest, forward)
	}
	return p.TTS.SynthesizeStream(ctx, sentence, forward)
}

func (p TurnParams) resolveRecommendation(env Envelope) (menu.RecommendedProduct, bool) {
	var id int64
	var name, reason string
	if env.Recommendation != nil {
		id = env.Recommendation.ProductID
		name = env.Recommendation.ProductName
		reason = env.Recommendation.Reason
	}
	if id == 0 && env.ProductID != nil {
		id = *env.ProductID
	}
	if name == "" && env.ProductName != nil {
		name = *env.ProductName
	}
	return menu.ResolveRecommendation(p.Products, id, name, reason)
}

func resolveEnvelope(full string) Envelope {
	if strings.TrimSpace(full) == "" {
		log.Printf("turn: model returned empty output")
		return ErrorEnvelope()
	}
	env, err := ParseEnvelope(full)
	if err != nil {
		log.Printf("turn: envelope parse failed, using raw text: %v", err)
		return DefaultEnvelope(full)
	}
	return env
}

// spokenRemainder returns the part of the full reply the first-sentence
// synthesis did not cover.
func spokenRemainder(spoken, firstSentence string) string {
	if firstSentence == "" || spoken == "" {
		return ""
	}
	if !strings.HasPrefix(spoken, firstSentence) {
		return ""
	}
	rest := spoken[len(firstSentence):]
	if strings.TrimSpace(rest) == "" {
		return ""
	}
	return rest
}

func emit(ctx context.Context, send func(any) error, msg any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return send(msg)
}

func emitAudio(ctx context.Context, sendAudio func([]byte) error, chunk []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return sendAudio(chunk)
}

// waitTTS drains a finished or cancelled TTS task so RunTurn never leaves a
// goroutine blocked on its result channel.
func waitTTS(done chan error) {
	if done == nil {
		return
	}
	if err := <-done; err != nil && !isContextError(err) {
		log.Printf("turn: tts task ended with error after turn abort: %v", err)
	}
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
