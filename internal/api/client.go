package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wandersure/voice-client/internal/observability"
	"github.com/wandersure/voice-client/internal/resilience"
)

// Client wraps the assistant backend's REST API. Transcription and
// synthesis calls are retried on transient failure; transcript saves
// are fire-and-forget behind a circuit breaker; the session-status
// query is never retried internally because the payment watcher owns
// its own cadence.
type Client struct {
	baseURL     string
	token       string
	httpClient  *http.Client
	log         zerolog.Logger
	retryConfig *resilience.RetryConfig
	saveBreaker *resilience.CircuitBreaker
}

// Options configures a Client.
type Options struct {
	BaseURL        string
	Token          string
	RequestTimeout time.Duration
	Retry          *resilience.RetryConfig
	SaveBreaker    *resilience.CircuitBreaker
}

// NewClient creates a backend client.
func NewClient(opts Options) *Client {
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	retryConfig := opts.Retry
	if retryConfig == nil {
		retryConfig = resilience.DefaultRetryConfig()
	}
	breaker := opts.SaveBreaker
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker("transcript-save", 5, 30*time.Second)
	}
	return &Client{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		token:       opts.Token,
		httpClient:  &http.Client{Timeout: timeout},
		log:         observability.Component("api"),
		retryConfig: retryConfig,
		saveBreaker: breaker,
	}
}

// Transcribe uploads a WAV payload and returns its transcription.
// Retried on transient transport failures and 5xx responses.
func (c *Client) Transcribe(ctx context.Context, audio []byte, language string) (*TranscriptionResult, error) {
	if len(audio) == 0 {
		return nil, fmt.Errorf("empty audio payload")
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, fmt.Errorf("failed to build upload: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return nil, fmt.Errorf("failed to build upload: %w", err)
	}
	if language != "" {
		if err := writer.WriteField("language", language); err != nil {
			return nil, fmt.Errorf("failed to build upload: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to build upload: %w", err)
	}

	var result TranscriptionResult
	err = resilience.Retry(ctx, func() error {
		data, err := c.do(ctx, http.MethodPost, "/api/v1/audio/transcriptions", "transcribe",
			bytes.NewReader(body.Bytes()), writer.FormDataContentType())
		if err != nil {
			return err
		}
		return json.Unmarshal(data, &result)
	}, c.retryConfig, isTransient)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Synthesize converts text to speech and returns the binary audio
// payload (MP3). The caller registers it with the clip store to obtain
// a playback locator. Retried on transient failure.
func (c *Client) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("empty synthesis text")
	}

	payload, err := json.Marshal(synthesisRequest{Text: text, Voice: voice})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var audio []byte
	err = resilience.Retry(ctx, func() error {
		data, err := c.do(ctx, http.MethodPost, "/api/v1/audio/speech", "synthesize",
			bytes.NewReader(payload), "application/json")
		if err != nil {
			return err
		}
		if len(data) == 0 {
			return fmt.Errorf("backend returned empty audio")
		}
		audio = data
		return nil
	}, c.retryConfig, isTransient)
	if err != nil {
		return nil, err
	}
	return audio, nil
}

// SaveTranscript records one transcript entry. Fire-and-forget by
// contract: failures are swallowed after a debug log, and an open
// circuit breaker skips the request entirely so a dead backend is not
// hammered.
func (c *Client) SaveTranscript(ctx context.Context, sessionID, role, content string) {
	payload, err := json.Marshal(transcriptEntry{Role: role, Content: content})
	if err != nil {
		c.log.Debug().Err(err).Msg("transcript save skipped")
		return
	}

	err = c.saveBreaker.Call(func() error {
		_, err := c.do(ctx, http.MethodPost, "/api/v1/sessions/"+sessionID+"/transcript", "save_transcript",
			bytes.NewReader(payload), "application/json")
		return err
	})
	if err != nil {
		if err == resilience.ErrCircuitOpen {
			c.log.Debug().Str("session_id", sessionID).Msg("transcript save skipped: circuit open")
		} else {
			observability.IncrementCircuitBreakerFailures(c.saveBreaker.Name())
			c.log.Debug().Err(err).Str("session_id", sessionID).Msg("transcript save failed")
		}
	}
	observability.UpdateCircuitBreakerState(c.saveBreaker.Name(), int(c.saveBreaker.GetState()))
}

// SessionStatus fetches the session's transcript and payment
// confirmation flag. Not retried; the payment watcher owns cadence.
func (c *Client) SessionStatus(ctx context.Context, sessionID string) (*SessionStatus, error) {
	data, err := c.do(ctx, http.MethodGet, "/api/v1/sessions/"+sessionID+"/status", "session_status", nil, "")
	if err != nil {
		return nil, err
	}
	var status SessionStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("failed to decode session status: %w", err)
	}
	return &status, nil
}

// SendMessage posts a user message and returns the assistant's reply.
func (c *Client) SendMessage(ctx context.Context, sessionID, text string) (*ChatMessage, error) {
	payload, err := json.Marshal(messageRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	data, err := c.do(ctx, http.MethodPost, "/api/v1/sessions/"+sessionID+"/messages", "send_message",
		bytes.NewReader(payload), "application/json")
	if err != nil {
		return nil, err
	}
	var reply ChatMessage
	if err := json.Unmarshal(data, &reply); err != nil {
		return nil, fmt.Errorf("failed to decode reply: %w", err)
	}
	return &reply, nil
}

// CreateSession opens a fresh chat session and returns its identifier.
func (c *Client) CreateSession(ctx context.Context) (string, error) {
	data, err := c.do(ctx, http.MethodPost, "/api/v1/sessions", "create_session", nil, "application/json")
	if err != nil {
		return "", err
	}
	var created sessionCreated
	if err := json.Unmarshal(data, &created); err != nil {
		return "", fmt.Errorf("failed to decode session: %w", err)
	}
	if created.SessionID == "" {
		return "", fmt.Errorf("backend returned empty session id")
	}
	return created.SessionID, nil
}

// Ping probes backend reachability for the readiness endpoint.
func (c *Client) Ping(ctx context.Context) (bool, error) {
	_, err := c.do(ctx, http.MethodGet, "/health", "ping", nil, "")
	if err != nil {
		return false, err
	}
	return true, nil
}

// do issues one request and returns the response body. Non-2xx
// responses become *Error carrying the upstream message when the body
// has one, else the fixed fallback.
func (c *Client) do(ctx context.Context, method, path, endpoint string, body io.Reader, contentType string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	requestID := uuid.NewString()
	req.Header.Set("X-Request-ID", requestID)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		observability.RecordAPIError(endpoint)
		c.log.Debug().Err(err).Str("method", method).Str("path", path).
			Str("request_id", requestID).Dur("duration", elapsed).Msg("request failed")
		return nil, fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		observability.RecordAPIError(endpoint)
		return nil, fmt.Errorf("failed to read response from %s: %w", path, err)
	}

	observability.ObserveAPIRequest(endpoint, statusClass(resp.StatusCode), elapsed)
	c.log.Debug().Str("method", method).Str("path", path).Int("status", resp.StatusCode).
		Str("request_id", requestID).Dur("duration", elapsed).Msg("request completed")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		observability.RecordAPIError(endpoint)
		return nil, &Error{StatusCode: resp.StatusCode, Message: upstreamMessage(data)}
	}
	return data, nil
}

// upstreamMessage extracts the backend's own error message from a
// response body, falling back to the fixed message when absent.
func upstreamMessage(body []byte) string {
	var parsed errorBody
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Error != "" {
			return parsed.Error
		}
		if parsed.Detail != "" {
			return parsed.Detail
		}
	}
	return fallbackMessage
}

// isTransient reports whether a request is worth retrying: transport
// errors and 5xx responses are, client errors are not.
func isTransient(err error) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500
	}
	return resilience.IsRetryableNetworkError(err)
}

func statusClass(code int) string {
	return fmt.Sprintf("%dxx", code/100)
}
