package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	// Outbound (server -> client). Binary frames carry raw audio and have
	// no JSON envelope.
	TypeGreeting          MessageType = "greeting"
	TypeStatus            MessageType = "status"
	TypePong              MessageType = "pong"
	TypePartialTranscript MessageType = "partial_transcript"
	TypeTranscript        MessageType = "transcript"
	TypeAIToken           MessageType = "ai_token"
	TypeAIComplete        MessageType = "ai_complete"
	TypeRecommendation    MessageType = "recommendation"
	TypeTTSStart          MessageType = "tts_start"
	TypeTTSComplete       MessageType = "tts_complete"
	TypeInterruptAck      MessageType = "interrupt_ack"
	TypeErrorEvent        MessageType = "error"

	// Inbound (client -> server) control actions.
	TypePing             MessageType = "ping"
	TypeAudioEnd         MessageType = "audio_end"
	TypeInterrupt        MessageType = "interrupt"
	TypePlaybackComplete MessageType = "playback_complete"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientControl is any inbound text frame. Audio never arrives as JSON.
type ClientControl struct {
	Type MessageType `json:"type"`
}

// AudioFrame wraps an inbound binary frame so the controller can switch on
// payload types uniformly.
type AudioFrame struct {
	Data []byte
}

// AudioChunk marks an outbound payload that must be written as a binary
// websocket frame rather than JSON.
type AudioChunk struct {
	Data []byte
}

type Greeting struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

type Status struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

type Pong struct {
	Type MessageType `json:"type"`
}

type PartialTranscript struct {
	Type       MessageType `json:"type"`
	Text       string      `json:"text"`
	Confidence float64     `json:"confidence"`
	IsFinal    bool        `json:"is_final"`
}

type Transcript struct {
	Type    MessageType `json:"type"`
	Text    string      `json:"text"`
	IsFinal bool        `json:"is_final"`
}

type AIToken struct {
	Type     MessageType `json:"type"`
	Token    string      `json:"token"`
	FullText string      `json:"full_text"`
}

// AIComplete carries the structured assistant envelope once the full LLM
// response has been parsed.
type AIComplete struct {
	Type MessageType `json:"type"`
	Data any         `json:"data"`
}

type Recommendation struct {
	Type    MessageType `json:"type"`
	Product any         `json:"product"`
}

type TTSStart struct {
	Type MessageType `json:"type"`
}

type TTSComplete struct {
	Type MessageType `json:"type"`
}

type InterruptAck struct {
	Type MessageType `json:"type"`
}

type ErrorEvent struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

func NewGreeting(text string) Greeting {
	return Greeting{Type: TypeGreeting, Text: text}
}

func NewStatus(message string) Status {
	return Status{Type: TypeStatus, Message: message}
}

func NewPong() Pong {
	return Pong{Type: TypePong}
}

func NewPartialTranscript(text string, confidence float64) PartialTranscript {
	return PartialTranscript{Type: TypePartialTranscript, Text: text, Confidence: confidence, IsFinal: false}
}

func NewTranscript(text string) Transcript {
	return Transcript{Type: TypeTranscript, Text: text, IsFinal: true}
}

func NewAIToken(token, fullText string) AIToken {
	return AIToken{Type: TypeAIToken, Token: token, FullText: fullText}
}

func NewAIComplete(data any) AIComplete {
	return AIComplete{Type: TypeAIComplete, Data: data}
}

func NewRecommendation(product any) Recommendation {
	return Recommendation{Type: TypeRecommendation, Product: product}
}

func NewTTSStart() TTSStart {
	return TTSStart{Type: TypeTTSStart}
}

func NewTTSComplete() TTSComplete {
	return TTSComplete{Type: TypeTTSComplete}
}

func NewInterruptAck() InterruptAck {
	return InterruptAck{Type: TypeInterruptAck}
}

func NewErrorEvent(message string) ErrorEvent {
	return ErrorEvent{Type: TypeErrorEvent, Message: message}
}

// ParseClientMessage decodes an inbound text frame into a typed control
// message. Unknown actions are rejected so the controller loop stays strict.
func ParseClientMessage(raw []byte) (ClientControl, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return ClientControl{}, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypePing, TypeAudioEnd, TypeInterrupt, TypePlaybackComplete:
		return ClientControl{Type: env.Type}, nil
	default:
		return ClientControl{}, ErrUnsupportedType
	}
}
