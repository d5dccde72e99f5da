// Package session tracks per-connection voice state: the rolling audio
// buffer, partial transcripts, conversation history, and the cancellation
// handles that make barge-in immediate.
package session

import (
	"context"
	"sync"
	"time"
)

type State string

const (
	StateIdle          State = "idle"
	StateListening     State = "listening"
	StateProcessingSTT State = "processing_stt"
	StateGeneratingLLM State = "generating_llm"
	StateStreamingTTS  State = "streaming_tts"
	StateInterrupted   State = "interrupted"
)

const (
	// MaxBufferSize caps buffered audio per session. On overflow the oldest
	// audio is dropped, keeping the most recent keepOnOverflow bytes.
	MaxBufferSize  = 1 << 20
	keepOnOverflow = 500 * 1024

	// overlapBytes is how much trailing audio survives a buffer clear so
	// the next partial pass has acoustic context across the boundary.
	overlapBytes = 8000
)

// Exchange is one completed user/assistant turn pair.
type Exchange struct {
	User      string
	Assistant string
}

const maxHistoryExchanges = 4

// Session is one websocket connection's state. All methods are safe for
// concurrent use; the controller goroutine and the spawned turn goroutines
// both touch it.
type Session struct {
	ID      string
	ScopeID string

	mu             sync.Mutex
	state          State
	startedAt      time.Time
	lastActivityAt time.Time

	audio       []byte
	chunkCount  int
	lastChunkAt time.Time

	partialText     string
	lastPartialAt   time.Time
	partialInFlight bool

	history []Exchange

	playing bool

	interruptions int

	cancelTurn        context.CancelFunc
	cancelSpeculation context.CancelFunc
	cancelPartial     context.CancelFunc
}

func newSession(id, scopeID string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:             id,
		ScopeID:        scopeID,
		state:          StateIdle,
		startedAt:      now,
		lastActivityAt: now,
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) SetState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	s.lastActivityAt = time.Now().UTC()
}

func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivityAt = time.Now().UTC()
}

func (s *Session) LastActivityAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivityAt
}

// AppendAudio adds one inbound frame to the buffer. When the buffer would
// exceed MaxBufferSize the oldest audio is dropped; speech that old belongs
// to an abandoned utterance anyway.
func (s *Session) AppendAudio(chunk []byte) (chunkCount int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.audio = append(s.audio, chunk...)
	if len(s.audio) > MaxBufferSize {
		trimmed := make([]byte, keepOnOverflow)
		copy(trimmed, s.audio[len(s.audio)-keepOnOverflow:])
		s.audio = trimmed
	}
	s.chunkCount++
	s.lastChunkAt = time.Now().UTC()
	s.lastActivityAt = s.lastChunkAt
	return s.chunkCount
}

// SnapshotAudio returns a copy of the current buffer for a transcription
// pass.
func (s *Session) SnapshotAudio() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, len(s.audio))
	copy(out, s.audio)
	return out
}

func (s *Session) BufferedBytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.audio)
}

func (s *Session) ChunkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chunkCount
}

func (s *Session) LastChunkAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastChunkAt
}

// ClearBuffer resets the audio buffer and chunk counter. With keepOverlap
// the trailing overlapBytes survive so the next utterance's first partial
// pass has context.
func (s *Session) ClearBuffer(keepOverlap bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if keepOverlap && len(s.audio) > overlapBytes {
		tail := make([]byte, overlapBytes)
		copy(tail, s.audio[len(s.audio)-overlapBytes:])
		s.audio = tail
	} else {
		s.audio = nil
	}
	s.chunkCount = 0
	s.partialText = ""
	s.lastPartialAt = time.Time{}
}

// BeginPartialSTT reserves the single in-flight partial transcription slot.
// Returns false when a pass is already running or the minimum interval since
// the previous launch has not elapsed. On success the chunk counter resets
// and the launch time is recorded.
func (s *Session) BeginPartialSTT(minInterval time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.partialInFlight {
		return false
	}
	if !s.lastPartialAt.IsZero() && time.Since(s.lastPartialAt) < minInterval {
		return false
	}
	s.partialInFlight = true
	s.lastPartialAt = time.Now().UTC()
	s.chunkCount = 0
	return true
}

// EndPartialSTT releases the slot and records the partial text when the
// pass produced one.
func (s *Session) EndPartialSTT(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.partialInFlight = false
	if text != "" {
		s.partialText = text
	}
}

func (s *Session) PartialInFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.partialInFlight
}

func (s *Session) PartialText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.partialText
}

func (s *Session) AppendExchange(user, assistant string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, Exchange{User: user, Assistant: assistant})
	if len(s.history) > maxHistoryExchanges {
		s.history = s.history[len(s.history)-maxHistoryExchanges:]
	}
}

func (s *Session) History() []Exchange {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Exchange, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Session) SetPlaying(playing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playing = playing
	s.lastActivityAt = time.Now().UTC()
}

func (s *Session) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

func (s *Session) SetTurnCancel(cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelTurn = cancel
}

func (s *Session) SetSpeculationCancel(cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelSpeculation = cancel
}

func (s *Session) SetPartialCancel(cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelPartial = cancel
}

// CancelPartial stops any in-flight partial transcription pass.
func (s *Session) CancelPartial() {
	s.mu.Lock()
	cancel := s.cancelPartial
	s.cancelPartial = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// CancelSpeculation stops any live speculative turn.
func (s *Session) CancelSpeculation() {
	s.mu.Lock()
	cancel := s.cancelSpeculation
	s.cancelSpeculation = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// CancelAll stops everything in flight for this session: the active turn,
// any speculation, and any partial transcription pass.
func (s *Session) CancelAll() {
	s.mu.Lock()
	cancels := []context.CancelFunc{s.cancelTurn, s.cancelSpeculation, s.cancelPartial}
	s.cancelTurn = nil
	s.cancelSpeculation = nil
	s.cancelPartial = nil
	s.mu.Unlock()

	for _, cancel := range cancels {
		if cancel != nil {
			cancel()
		}
	}
}

// RecordInterruption counts a barge-in.
func (s *Session) RecordInterruption() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interruptions++
	return s.interruptions
}
