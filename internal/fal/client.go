// Package fal adapts the fal.ai HTTP surface (queue-less synchronous runs,
// file storage uploads, SSE streaming) to the provider interfaces the voice
// pipeline consumes.
package fal

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/egeaydin1/fal-freya-garsonai/internal/reliability"
)

const (
	defaultTimeout = 30 * time.Second
	maxConnections = 10
)

// Options configures a Client. Zero values fall back to sane defaults where
// one exists; APIKey has no default.
type Options struct {
	APIKey     string
	BaseURL    string
	StorageURL string

	STTModel string
	LLMModel string
	LLMRoute string
	TTSModel string
	TTSVoice string
	TTSSpeed float64

	Language string
	Timeout  time.Duration
}

// Client is a shared fal.ai client. One instance serves all sessions; the
// underlying transport pools keep-alive connections so warm requests skip
// the TLS handshake.
type Client struct {
	httpClient *http.Client
	baseURL    string
	storageURL string
	apiKey     string

	sttModel string
	llmModel string
	llmRoute string
	ttsModel string
	ttsVoice string
	ttsSpeed float64
	language string

	sttBackoff time.Duration
}

func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://fal.run"
	}
	storageURL := strings.TrimRight(opts.StorageURL, "/")
	if storageURL == "" {
		storageURL = "https://rest.alpha.fal.ai"
	}
	speed := opts.TTSSpeed
	if speed <= 0 {
		speed = 1.1
	}

	transport := &http.Transport{
		MaxIdleConns:        maxConnections,
		MaxIdleConnsPerHost: maxConnections,
		MaxConnsPerHost:     maxConnections,
		IdleConnTimeout:     30 * time.Second,
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		baseURL:    baseURL,
		storageURL: storageURL,
		apiKey:     strings.TrimSpace(opts.APIKey),
		sttModel:   opts.STTModel,
		llmModel:   opts.LLMModel,
		llmRoute:   opts.LLMRoute,
		ttsModel:   opts.TTSModel,
		ttsVoice:   opts.TTSVoice,
		ttsSpeed:   speed,
		language:   opts.Language,
		sttBackoff: sttBackoffBase,
	}
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Key "+c.apiKey)
	}
}

// upload pushes raw bytes to fal storage and returns the public file URL.
// Two steps: initiate to get a signed upload URL, then PUT the payload.
func (c *Client) upload(ctx context.Context, data []byte, fileName, contentType string) (string, error) {
	initPayload, err := json.Marshal(map[string]string{
		"file_name":    fileName,
		"content_type": contentType,
	})
	if err != nil {
		return "", fmt.Errorf("marshal initiate: %w", err)
	}

	initURL := c.storageURL + "/storage/upload/initiate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, initURL, bytes.NewReader(initPayload))
	if err != nil {
		return "", fmt.Errorf("create initiate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("initiate upload: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", statusError("storage initiate", res)
	}

	var initiated struct {
		UploadURL string `json:"upload_url"`
		FileURL   string `json:"file_url"`
	}
	if err := json.NewDecoder(res.Body).Decode(&initiated); err != nil {
		return "", fmt.Errorf("decode initiate response: %w", err)
	}
	if initiated.UploadURL == "" || initiated.FileURL == "" {
		return "", fmt.Errorf("storage initiate: missing urls: %w", reliability.ErrProviderPermanent)
	}

	putReq, err := http.NewRequestWithContext(ctx, http.MethodPut, initiated.UploadURL, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("create put request: %w", err)
	}
	putReq.Header.Set("Content-Type", contentType)
	putReq.ContentLength = int64(len(data))

	putRes, err := c.httpClient.Do(putReq)
	if err != nil {
		return "", fmt.Errorf("put upload: %w", err)
	}
	defer putRes.Body.Close()
	io.Copy(io.Discard, putRes.Body)

	if putRes.StatusCode < 200 || putRes.StatusCode >= 300 {
		return "", statusError("storage put", putRes)
	}
	return initiated.FileURL, nil
}

// subscribe runs a model synchronously and returns the decoded result map.
func (c *Client) subscribe(ctx context.Context, model string, payload any) (map[string]any, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	url := c.baseURL + "/" + strings.TrimLeft(model, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", model, wrapTransport(err))
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, statusError(model, res)
	}

	var result map[string]any
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", model, err)
	}
	return result, nil
}

// stream runs a model with SSE streaming and feeds each decoded event to
// onEvent. Lines that are not JSON objects are skipped.
func (c *Client) stream(ctx context.Context, model string, payload any, onEvent func(event map[string]any) error) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	url := c.baseURL + "/" + strings.TrimLeft(model, "/") + "/stream"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	c.authorize(req)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s stream: %w", model, wrapTransport(err))
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return statusError(model, res)
	}

	scanner := bufio.NewScanner(res.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line == "data: [DONE]" {
			continue
		}
		if strings.HasPrefix(line, "data:") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}

		var event map[string]any
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			continue
		}
		if err := onEvent(event); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("%s stream read: %w", model, err)
	}
	return nil
}

func statusError(op string, res *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
	return fmt.Errorf("%s status %d: %s: %w", op, res.StatusCode,
		strings.TrimSpace(string(body)), reliability.ClassifyHTTPStatus(res.StatusCode))
}

// wrapTransport marks network-level failures retryable unless the context
// itself ended.
func wrapTransport(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", reliability.ErrProviderRetryable, err)
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
