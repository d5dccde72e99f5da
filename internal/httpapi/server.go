package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/egeaydin1/fal-freya-garsonai/internal/config"
	"github.com/egeaydin1/fal-freya-garsonai/internal/menu"
	"github.com/egeaydin1/fal-freya-garsonai/internal/observability"
	"github.com/egeaydin1/fal-freya-garsonai/internal/protocol"
	"github.com/egeaydin1/fal-freya-garsonai/internal/session"
)

// Close code sent when the QR token resolves to no active table.
const closeCodeTableNotFound = 4004

const defaultGreeting = "Hoş geldiniz! Size nasıl yardımcı olabilirim?"

// VoiceRunner drives one websocket connection worth of voice turns.
type VoiceRunner interface {
	RunConnection(ctx context.Context, sess *session.Session, scope menu.Scope, inbound <-chan any, outbound chan<- any)
}

type Server struct {
	cfg      config.Config
	sessions *session.Manager
	store    menu.Store
	runner   VoiceRunner
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func New(cfg config.Config, sessions *session.Manager, store menu.Store, runner VoiceRunner, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		store:    store,
		runner:   runner,
		metrics:  metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only same-origin browser connections. A foreign
				// page must not be able to drive a table's mic session.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	r.Get("/ws/voice/{token}", s.handleVoiceWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"active_sessions": s.sessions.ActiveCount(),
	})
}

// handleVoiceWS is the duplex voice endpoint. The token in the path is the
// table's QR token; an unknown token closes the socket with 4004 so the
// client can distinguish it from transport failures.
func (s *Server) handleVoiceWS(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(chi.URLParam(r, "token"))

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	scope, err := s.store.LookupScope(r.Context(), token)
	if err != nil {
		code := websocket.CloseInternalServerErr
		reason := "lookup failed"
		if errors.Is(err, menu.ErrScopeNotFound) {
			code = closeCodeTableNotFound
			reason = "Table not found"
		} else {
			log.Printf("ws: scope lookup for token %q failed: %v", token, err)
		}
		deadline := time.Now().Add(2 * time.Second)
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		return
	}

	sess := s.sessions.Create(scope.ScopeID)
	if s.metrics != nil {
		s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
		s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()
	}
	defer func() {
		s.sessions.Remove(sess.ID)
		if s.metrics != nil {
			s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
			s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, 256)
	outbound := make(chan any, 256)

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		s.runner.RunConnection(ctx, sess, scope, inbound, outbound)
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				var werr error
				if chunk, isAudio := msg.(protocol.AudioChunk); isAudio {
					werr = conn.WriteMessage(websocket.BinaryMessage, chunk.Data)
				} else {
					werr = conn.WriteJSON(msg)
				}
				if werr != nil {
					cancel()
					return
				}
			}
		}
	}()

	outbound <- protocol.NewGreeting(defaultGreeting)

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))

		var parsed any
		switch msgType {
		case websocket.BinaryMessage:
			if len(data) == 0 {
				continue
			}
			parsed = protocol.AudioFrame{Data: data}
		case websocket.TextMessage:
			control, err := protocol.ParseClientMessage(data)
			if err != nil {
				// Keep writes single-threaded through the outbound queue;
				// drop the complaint if it is saturated.
				select {
				case outbound <- protocol.NewErrorEvent("invalid message"):
				default:
				}
				continue
			}
			parsed = control
		default:
			continue
		}

		if s.metrics != nil {
			s.metrics.WSMessages.WithLabelValues("inbound", inboundTypeOf(parsed)).Inc()
		}
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	cancel()
	close(inbound)
	<-runDone
	<-writerDone
}

func inboundTypeOf(msg any) string {
	switch m := msg.(type) {
	case protocol.AudioFrame:
		return "audio_frame"
	case protocol.ClientControl:
		return string(m.Type)
	default:
		return "unknown"
	}
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
