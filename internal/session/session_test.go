package session

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func TestAppendAudioOverflowKeepsRecentBytes(t *testing.T) {
	s := newSession("s1", "demo/1")

	// Fill just under the cap with a marker prefix, then push it over.
	prefix := bytes.Repeat([]byte{1}, MaxBufferSize-10)
	s.AppendAudio(prefix)
	tail := bytes.Repeat([]byte{2}, 100)
	s.AppendAudio(tail)

	buffered := s.SnapshotAudio()
	if len(buffered) != keepOnOverflow {
		t.Fatalf("buffered = %d bytes, want %d", len(buffered), keepOnOverflow)
	}
	// The newest bytes must survive the trim.
	if !bytes.Equal(buffered[len(buffered)-100:], tail) {
		t.Fatalf("newest audio lost on overflow")
	}
	if s.ChunkCount() != 2 {
		t.Fatalf("ChunkCount = %d, want 2", s.ChunkCount())
	}
}

func TestClearBufferKeepOverlap(t *testing.T) {
	s := newSession("s1", "demo/1")
	s.AppendAudio(bytes.Repeat([]byte{3}, 20000))
	s.EndPartialSTT("iki lahmacun")

	s.ClearBuffer(true)
	if got := s.BufferedBytes(); got != overlapBytes {
		t.Fatalf("BufferedBytes = %d, want %d", got, overlapBytes)
	}
	if s.ChunkCount() != 0 {
		t.Fatalf("ChunkCount = %d, want 0", s.ChunkCount())
	}
	if s.PartialText() != "" {
		t.Fatalf("PartialText = %q, want empty", s.PartialText())
	}

	s.ClearBuffer(false)
	if got := s.BufferedBytes(); got != 0 {
		t.Fatalf("BufferedBytes = %d, want 0", got)
	}
}

func TestBeginPartialSTTSingleFlight(t *testing.T) {
	s := newSession("s1", "demo/1")

	if !s.BeginPartialSTT(600 * time.Millisecond) {
		t.Fatalf("first BeginPartialSTT should succeed")
	}
	if s.BeginPartialSTT(600 * time.Millisecond) {
		t.Fatalf("second BeginPartialSTT should fail while one is in flight")
	}

	s.EndPartialSTT("merhaba")
	// Slot is free but the minimum interval has not elapsed.
	if s.BeginPartialSTT(600 * time.Millisecond) {
		t.Fatalf("BeginPartialSTT should respect the minimum interval")
	}
	if s.BeginPartialSTT(0) != true {
		t.Fatalf("BeginPartialSTT with zero interval should succeed")
	}
}

func TestEndPartialSTTKeepsLastNonEmptyText(t *testing.T) {
	s := newSession("s1", "demo/1")
	s.BeginPartialSTT(0)
	s.EndPartialSTT("iki lahmacun")
	s.BeginPartialSTT(0)
	s.EndPartialSTT("")

	if got := s.PartialText(); got != "iki lahmacun" {
		t.Fatalf("PartialText = %q, want previous text kept", got)
	}
}

func TestHistoryRingCapsAtFourExchanges(t *testing.T) {
	s := newSession("s1", "demo/1")
	for i := 0; i < 6; i++ {
		s.AppendExchange("user", "assistant")
	}
	if got := len(s.History()); got != 4 {
		t.Fatalf("history length = %d, want 4", got)
	}
}

func TestCancelAllFiresEveryHandle(t *testing.T) {
	s := newSession("s1", "demo/1")

	turnCtx, turnCancel := context.WithCancel(context.Background())
	specCtx, specCancel := context.WithCancel(context.Background())
	partCtx, partCancel := context.WithCancel(context.Background())
	s.SetTurnCancel(turnCancel)
	s.SetSpeculationCancel(specCancel)
	s.SetPartialCancel(partCancel)

	s.CancelAll()

	for name, ctx := range map[string]context.Context{
		"turn": turnCtx, "speculation": specCtx, "partial": partCtx,
	} {
		select {
		case <-ctx.Done():
		default:
			t.Fatalf("%s context not cancelled", name)
		}
	}

	// Second call must be a no-op, not a panic on nil handles.
	s.CancelAll()
}

func TestManagerLifecycle(t *testing.T) {
	m := NewManager(time.Minute)

	s := m.Create("demo/1")
	if s.ID == "" {
		t.Fatalf("session has no id")
	}
	if m.ActiveCount() != 1 {
		t.Fatalf("ActiveCount = %d, want 1", m.ActiveCount())
	}

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ID != s.ID {
		t.Fatalf("Get returned wrong session")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.SetTurnCancel(cancel)
	m.Remove(s.ID)

	if m.ActiveCount() != 0 {
		t.Fatalf("ActiveCount = %d after remove, want 0", m.ActiveCount())
	}
	select {
	case <-ctx.Done():
	default:
		t.Fatalf("Remove did not cancel in-flight work")
	}
	if _, err := m.Get(s.ID); err != ErrNotFound {
		t.Fatalf("Get after remove = %v, want ErrNotFound", err)
	}
}

func TestManagerExpiresInactiveSessions(t *testing.T) {
	m := NewManager(10 * time.Millisecond)

	var expired []*Session
	m.SetExpireHook(func(s *Session) { expired = append(expired, s) })

	s := m.Create("demo/1")
	time.Sleep(20 * time.Millisecond)
	m.expireInactive()

	if m.ActiveCount() != 0 {
		t.Fatalf("ActiveCount = %d, want 0", m.ActiveCount())
	}
	if len(expired) != 1 || expired[0].ID != s.ID {
		t.Fatalf("expire hook not called for session")
	}
}
