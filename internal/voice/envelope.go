package voice

import (
	"encoding/json"
	"errors"
	"strings"
)

// Intent tags the structured decision the assistant made for a turn.
type Intent string

const (
	IntentHi        Intent = "hi"
	IntentAdd       Intent = "add"
	IntentInfo      Intent = "info"
	IntentRecommend Intent = "recommend"
	IntentError     Intent = "error"
)

// RecommendationRef is the model's pointer at a menu product. It is resolved
// against the session's product snapshot before anything reaches the client.
type RecommendationRef struct {
	ProductID   int64  `json:"product_id"`
	ProductName string `json:"product_name"`
	Reason      string `json:"reason"`
}

// Envelope is the JSON contract between the model and the client: the reply
// to speak plus the structured ordering fields.
type Envelope struct {
	SpokenResponse string             `json:"spoken_response"`
	Intent         Intent             `json:"intent"`
	ProductName    *string            `json:"product_name"`
	ProductID      *int64             `json:"product_id"`
	Quantity       int                `json:"quantity"`
	Recommendation *RecommendationRef `json:"recommendation"`
}

var errNoEnvelope = errors.New("no json envelope in model output")

// ParseEnvelope extracts the envelope from raw model output. Fenced code
// blocks are stripped; the parse runs on the region between the first "{"
// and the last "}" so chatter around the object is tolerated.
func ParseEnvelope(raw string) (Envelope, error) {
	text := stripFence(strings.TrimSpace(raw))

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return Envelope{}, errNoEnvelope
	}

	var env Envelope
	if err := json.Unmarshal([]byte(text[start:end+1]), &env); err != nil {
		return Envelope{}, err
	}

	switch env.Intent {
	case IntentHi, IntentAdd, IntentInfo, IntentRecommend, IntentError:
	default:
		env.Intent = IntentInfo
	}
	if env.Quantity <= 0 {
		env.Quantity = 1
	}
	return env, nil
}

// DefaultEnvelope wraps unstructured model output so the turn still
// completes: the whole text becomes the spoken reply.
func DefaultEnvelope(text string) Envelope {
	return Envelope{
		SpokenResponse: strings.TrimSpace(text),
		Intent:         IntentInfo,
		Quantity:       1,
	}
}

// ErrorEnvelope is spoken when the model produced nothing usable.
func ErrorEnvelope() Envelope {
	return Envelope{
		SpokenResponse: "Üzgünüm, bir sorun oluştu. Tekrar eder misiniz?",
		Intent:         IntentError,
		Quantity:       1,
	}
}

func stripFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if i := strings.Index(text, "\n"); i >= 0 {
		// Drop the language tag line ("json").
		text = text[i+1:]
	}
	if i := strings.LastIndex(text, "```"); i >= 0 {
		text = text[:i]
	}
	return strings.TrimSpace(text)
}
