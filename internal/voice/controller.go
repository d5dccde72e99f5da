package voice

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/egeaydin1/fal-freya-garsonai/internal/menu"
	"github.com/egeaydin1/fal-freya-garsonai/internal/observability"
	"github.com/egeaydin1/fal-freya-garsonai/internal/protocol"
	"github.com/egeaydin1/fal-freya-garsonai/internal/reliability"
	"github.com/egeaydin1/fal-freya-garsonai/internal/session"
)

const minSpeculationWords = 3

// ControllerConfig carries the scheduling knobs for the per-connection
// state machine.
type ControllerConfig struct {
	MinChunksForPartial   int
	PartialSTTMinInterval time.Duration
	SpeculationThreshold  float64
	SilenceBeforeEarlyLLM time.Duration
	OpenerPhrases         []string
}

// Controller drives voice connections: one RunConnection call per
// websocket, sharing the process-wide inference clients and phrase cache.
type Controller struct {
	cfg     ControllerConfig
	stt     STTClient
	llm     LLMClient
	tts     TTSClient
	cache   *PhraseCache
	metrics *observability.Metrics
}

func NewController(cfg ControllerConfig, stt STTClient, llm LLMClient, tts TTSClient, cache *PhraseCache, metrics *observability.Metrics) *Controller {
	if cfg.MinChunksForPartial < 1 {
		cfg.MinChunksForPartial = 2
	}
	if cfg.PartialSTTMinInterval <= 0 {
		cfg.PartialSTTMinInterval = 600 * time.Millisecond
	}
	if cfg.SpeculationThreshold <= 0 || cfg.SpeculationThreshold > 1 {
		cfg.SpeculationThreshold = 0.7
	}
	if cfg.SilenceBeforeEarlyLLM <= 0 {
		cfg.SilenceBeforeEarlyLLM = 300 * time.Millisecond
	}
	if len(cfg.OpenerPhrases) == 0 {
		cfg.OpenerPhrases = DefaultOpenerPhrases
	}
	return &Controller{
		cfg:     cfg,
		stt:     stt,
		llm:     llm,
		tts:     tts,
		cache:   cache,
		metrics: metrics,
	}
}

// conn is the per-connection state the loop goroutine and its spawned tasks
// share.
type conn struct {
	ctrl     *Controller
	sess     *session.Session
	scope    menu.Scope
	outbound chan<- any

	// turnActive guards the audio_end path: a second end-of-utterance
	// while a turn is still running is dropped.
	turnActive atomic.Bool

	// earlySpec is a speculative turn launched on a silence gap, before
	// the client commits with audio_end. Only the connection loop
	// goroutine touches it; handleAudioEnd hands it off to the turn
	// goroutine.
	earlySpec *speculation
	silence   *time.Timer
}

// speculation is one speculative assistant turn: RunTurn started on a
// partial transcript, structured result held behind the gate until
// reconciliation adopts it.
type speculation struct {
	basedOn string
	gate    chan struct{}
	done    chan turnResult
	cancel  context.CancelFunc
}

// RunConnection consumes inbound frames until the channel closes or ctx is
// cancelled. All spawned work is rooted at ctx; cancellation tears down the
// partial STT, any speculation, and the active turn before returning.
func (c *Controller) RunConnection(ctx context.Context, sess *session.Session, scope menu.Scope, inbound <-chan any, outbound chan<- any) {
	cn := &conn{ctrl: c, sess: sess, scope: scope, outbound: outbound}
	defer sess.CancelAll()

	cn.silence = time.NewTimer(c.cfg.SilenceBeforeEarlyLLM)
	if !cn.silence.Stop() {
		<-cn.silence.C
	}
	defer cn.silence.Stop()

	sess.SetState(session.StateListening)

	for {
		select {
		case <-ctx.Done():
			return
		case <-cn.silence.C:
			cn.handleSilence(ctx)
		case msg, ok := <-inbound:
			if !ok {
				return
			}
			switch m := msg.(type) {
			case protocol.AudioFrame:
				cn.handleAudioFrame(ctx, m.Data)
			case protocol.ClientControl:
				switch m.Type {
				case protocol.TypePing:
					cn.send(ctx, protocol.NewPong())
				case protocol.TypeAudioEnd:
					cn.handleAudioEnd(ctx)
				case protocol.TypeInterrupt:
					cn.handleInterrupt(ctx)
				case protocol.TypePlaybackComplete:
					sess.SetPlaying(false)
					sess.SetState(session.StateListening)
				}
			}
		}
	}
}

func (cn *conn) send(ctx context.Context, msg any) error {
	select {
	case cn.outbound <- msg:
		if cn.ctrl.metrics != nil {
			cn.ctrl.metrics.WSMessages.WithLabelValues("outbound", messageTypeOf(msg)).Inc()
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (cn *conn) handleAudioFrame(ctx context.Context, frame []byte) {
	// Speech resuming invalidates a silence-triggered speculation; the
	// utterance is still going.
	cn.dropEarlySpeculation()

	count := cn.sess.AppendAudio(frame)
	cn.armSilenceTimer()
	if count == 1 {
		cn.sess.SetState(session.StateListening)
		cn.send(ctx, protocol.NewStatus("receiving"))
	}

	if count < cn.ctrl.cfg.MinChunksForPartial {
		return
	}
	if !cn.sess.BeginPartialSTT(cn.ctrl.cfg.PartialSTTMinInterval) {
		return
	}

	snapshot := cn.sess.SnapshotAudio()
	pctx, cancel := context.WithCancel(ctx)
	cn.sess.SetPartialCancel(cancel)

	go func() {
		defer cancel()
		start := time.Now()
		res, err := cn.ctrl.stt.Transcribe(pctx, snapshot, false)
		if err != nil {
			// Partial passes fail silently; the final pass is the one
			// that matters.
			if !errors.Is(err, reliability.ErrAudioTooSmall) && pctx.Err() == nil {
				log.Printf("session %s: partial stt failed: %v", cn.sess.ID, err)
				if cn.ctrl.metrics != nil {
					cn.ctrl.metrics.ProviderErrors.WithLabelValues("stt", "partial").Inc()
				}
			}
			cn.sess.EndPartialSTT("")
			return
		}
		if cn.ctrl.metrics != nil {
			cn.ctrl.metrics.ObserveTurnStage("partial_stt", time.Since(start))
		}

		merged := MergeTranscripts(cn.sess.PartialText(), res.Text)
		cn.sess.EndPartialSTT(merged)
		if pctx.Err() != nil || merged == "" {
			return
		}
		cn.send(ctx, protocol.NewPartialTranscript(merged, res.Confidence))
	}()
}

type turnResult struct {
	env Envelope
	err error
}

func (cn *conn) armSilenceTimer() {
	if !cn.silence.Stop() {
		select {
		case <-cn.silence.C:
		default:
		}
	}
	cn.silence.Reset(cn.ctrl.cfg.SilenceBeforeEarlyLLM)
}

// handleSilence fires when no audio has arrived for SilenceBeforeEarlyLLM.
// A gap that long usually means the utterance is over, so the assistant
// turn starts speculatively now instead of waiting for audio_end.
func (cn *conn) handleSilence(ctx context.Context) {
	if cn.turnActive.Load() || cn.earlySpec != nil {
		return
	}
	partial := cn.sess.PartialText()
	if len(strings.Fields(partial)) < minSpeculationWords {
		// The transcript may still be catching up; keep watching the gap
		// while the utterance is open.
		if cn.sess.PartialInFlight() || cn.sess.ChunkCount() > 0 {
			cn.silence.Reset(cn.ctrl.cfg.SilenceBeforeEarlyLLM)
		}
		return
	}
	cn.earlySpec = cn.launchSpeculation(ctx, partial)
	if cn.ctrl.metrics != nil {
		cn.ctrl.metrics.ObserveIndicator("early_llm_trigger")
	}
}

// launchSpeculation starts a gated turn on the partial transcript. The
// cancel handle is registered on the session so barge-in kills it.
func (cn *conn) launchSpeculation(parent context.Context, partial string) *speculation {
	specCtx, cancel := context.WithCancel(parent)
	cn.sess.SetSpeculationCancel(cancel)
	spec := &speculation{
		basedOn: partial,
		gate:    make(chan struct{}),
		done:    make(chan turnResult, 1),
		cancel:  cancel,
	}
	if cn.ctrl.metrics != nil {
		cn.ctrl.metrics.ObserveIndicator("speculation_launched")
	}

	params := cn.turnParams(specCtx, partial)
	params.AdoptGate = spec.gate
	go func() {
		env, err := RunTurn(specCtx, params)
		spec.done <- turnResult{env: env, err: err}
	}()
	return spec
}

// dropEarlySpeculation cancels a silence-triggered turn that never got
// adopted. The result channel is buffered, so the turn goroutine is free
// to finish on its own.
func (cn *conn) dropEarlySpeculation() {
	spec := cn.earlySpec
	if spec == nil {
		return
	}
	cn.earlySpec = nil
	spec.cancel()
	cn.sess.SetSpeculationCancel(nil)
	if cn.ctrl.metrics != nil {
		cn.ctrl.metrics.ObserveIndicator("speculation_discarded")
	}
}

// handleAudioEnd runs the end-of-utterance path in its own goroutine so the
// connection loop keeps consuming frames and can still deliver an interrupt
// mid-turn.
func (cn *conn) handleAudioEnd(ctx context.Context) {
	if !cn.turnActive.CompareAndSwap(false, true) {
		log.Printf("session %s: audio_end while turn active, ignored", cn.sess.ID)
		return
	}

	// A silence gap may already have a speculative turn running; the
	// utterance goroutine takes it over.
	spec := cn.earlySpec
	cn.earlySpec = nil

	cn.sess.CancelPartial()

	turnCtx, turnCancel := context.WithCancel(ctx)
	cn.sess.SetTurnCancel(turnCancel)

	go func() {
		defer cn.turnActive.Store(false)
		defer turnCancel()
		cn.runUtteranceTurn(turnCtx, spec)
	}()
}

func (cn *conn) runUtteranceTurn(turnCtx context.Context, spec *speculation) {
	sess := cn.sess
	sess.SetState(session.StateProcessingSTT)
	cn.send(turnCtx, protocol.NewStatus("transcribing"))

	partial := sess.PartialText()

	// Speculative turn: bet that the partial transcript is already the
	// whole utterance and start generating while the final STT runs. A
	// silence gap may have placed that bet already.
	if spec == nil && len(strings.Fields(partial)) >= minSpeculationWords {
		spec = cn.launchSpeculation(turnCtx, partial)
	}

	discardSpeculation := func() {
		if spec == nil {
			return
		}
		spec.cancel()
		<-spec.done
		sess.SetSpeculationCancel(nil)
		if cn.ctrl.metrics != nil {
			cn.ctrl.metrics.ObserveIndicator("speculation_discarded")
		}
	}

	finish := func() {
		// A barge-in mid-turn already reset the session; the dying turn
		// must not wipe speech that arrived after the interrupt_ack.
		if turnCtx.Err() != nil {
			return
		}
		sess.ClearBuffer(true)
		sess.SetState(session.StateIdle)
		sess.SetTurnCancel(nil)
		cn.send(turnCtx, protocol.NewStatus("idle"))
	}

	sttStart := time.Now()
	res, sttErr := cn.ctrl.stt.Transcribe(turnCtx, sess.SnapshotAudio(), true)
	if turnCtx.Err() != nil {
		discardSpeculation()
		return
	}

	var finalText string
	if sttErr != nil {
		if spec == nil {
			// No fallback available. Surface the failure and abandon the
			// turn.
			if !errors.Is(sttErr, reliability.ErrAudioTooSmall) {
				log.Printf("session %s: final stt failed: %v", sess.ID, sttErr)
				if cn.ctrl.metrics != nil {
					cn.ctrl.metrics.ProviderErrors.WithLabelValues("stt", "final").Inc()
				}
			}
			cn.send(turnCtx, protocol.NewErrorEvent("Sizi anlayamadım, tekrar eder misiniz?"))
			finish()
			return
		}
		// The speculation is running on the partial transcript; treat it
		// as the utterance rather than losing the turn.
		log.Printf("session %s: final stt failed, adopting speculation on partial: %v", sess.ID, sttErr)
		finalText = spec.basedOn
	} else {
		if cn.ctrl.metrics != nil {
			cn.ctrl.metrics.ObserveTurnStage("final_stt", time.Since(sttStart))
		}
		finalText = MergeTranscripts(partial, res.Text)
	}

	if strings.TrimSpace(finalText) == "" {
		discardSpeculation()
		cn.send(turnCtx, protocol.NewErrorEvent("Sizi anlayamadım, tekrar eder misiniz?"))
		finish()
		return
	}

	if spec != nil {
		overlap := TokenOverlapRatio(spec.basedOn, finalText)
		if overlap >= cn.ctrl.cfg.SpeculationThreshold {
			// Speculative hit: open the gate and let the running turn
			// deliver its structured result.
			if cn.ctrl.metrics != nil {
				cn.ctrl.metrics.ObserveIndicator("speculation_adopted")
			}
			close(spec.gate)
			result := <-spec.done
			spec.cancel()
			sess.SetSpeculationCancel(nil)
			if result.err == nil {
				sess.AppendExchange(finalText, result.env.SpokenResponse)
			} else if turnCtx.Err() == nil {
				log.Printf("session %s: adopted speculative turn failed: %v", sess.ID, result.err)
				cn.send(turnCtx, protocol.NewErrorEvent("Bir sorun oluştu, tekrar dener misiniz?"))
			}
			finish()
			return
		}
		discardSpeculation()
	}

	// Fresh turn on the final transcript.
	cn.send(turnCtx, protocol.NewTranscript(finalText))
	sess.SetState(session.StateGeneratingLLM)

	env, err := RunTurn(turnCtx, cn.turnParams(turnCtx, finalText))
	if err != nil {
		if turnCtx.Err() == nil {
			log.Printf("session %s: turn failed: %v", sess.ID, err)
			if cn.ctrl.metrics != nil {
				cn.ctrl.metrics.ProviderErrors.WithLabelValues("llm", "turn").Inc()
			}
			cn.send(turnCtx, protocol.NewErrorEvent("Bir sorun oluştu, tekrar dener misiniz?"))
		}
		finish()
		return
	}
	sess.AppendExchange(finalText, env.SpokenResponse)
	finish()
}

func (cn *conn) turnParams(turnCtx context.Context, transcript string) TurnParams {
	prompt := BuildPrompt(cn.scope.MenuContext, cn.ctrl.cfg.OpenerPhrases, cn.sess.History(), transcript)
	return TurnParams{
		Transcript: transcript,
		Prompt:     prompt,
		Products:   cn.scope.Products,
		LLM:        cn.ctrl.llm,
		TTS:        cn.ctrl.tts,
		Cache:      cn.ctrl.cache,
		Metrics:    cn.ctrl.metrics,
		Send: func(msg any) error {
			return cn.send(turnCtx, msg)
		},
		SendAudio: func(chunk []byte) error {
			return cn.send(turnCtx, protocol.AudioChunk{Data: chunk})
		},
	}
}

// handleInterrupt is barge-in: everything in flight dies, the buffers
// reset, and the session is immediately ready for new speech.
func (cn *conn) handleInterrupt(ctx context.Context) {
	count := cn.sess.RecordInterruption()
	cn.sess.SetState(session.StateInterrupted)
	cn.dropEarlySpeculation()
	cn.sess.CancelAll()
	cn.sess.ClearBuffer(false)
	cn.sess.SetPlaying(false)

	if cn.ctrl.metrics != nil {
		cn.ctrl.metrics.SessionEvents.WithLabelValues("interrupt").Inc()
	}
	log.Printf("session %s: interrupt #%d", cn.sess.ID, count)

	cn.send(ctx, protocol.NewInterruptAck())
	cn.sess.SetState(session.StateListening)
}

func messageTypeOf(msg any) string {
	switch m := msg.(type) {
	case protocol.AudioChunk:
		return "audio_chunk"
	case protocol.Status:
		return string(m.Type)
	case protocol.Pong:
		return string(m.Type)
	case protocol.PartialTranscript:
		return string(m.Type)
	case protocol.Transcript:
		return string(m.Type)
	case protocol.AIToken:
		return string(m.Type)
	case protocol.AIComplete:
		return string(m.Type)
	case protocol.Recommendation:
		return string(m.Type)
	case protocol.TTSStart:
		return string(m.Type)
	case protocol.TTSComplete:
		return string(m.Type)
	case protocol.InterruptAck:
		return string(m.Type)
	case protocol.ErrorEvent:
		return string(m.Type)
	case protocol.Greeting:
		return string(m.Type)
	default:
		return "unknown"
	}
}
