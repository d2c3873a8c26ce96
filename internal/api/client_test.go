package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wandersure/voice-client/internal/resilience"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient(Options{
		BaseURL:        server.URL,
		RequestTimeout: 5 * time.Second,
		Retry: &resilience.RetryConfig{
			MaxAttempts:       3,
			InitialBackoff:    time.Millisecond,
			MaxBackoff:        5 * time.Millisecond,
			BackoffMultiplier: 2.0,
		},
	})
	return client, server
}

func TestTranscribe_Success(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/audio/transcriptions" {
			t.Errorf("Unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("Failed to parse multipart form: %v", err)
		}
		if got := r.FormValue("language"); got != "en" {
			t.Errorf("Expected language field en, got %q", got)
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("Missing file part: %v", err)
		}
		data, _ := io.ReadAll(file)
		if len(data) != 4 {
			t.Errorf("Expected 4 audio bytes, got %d", len(data))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"text":"hello there","duration":1.2,"language":"en"}`))
	}))

	result, err := client.Transcribe(context.Background(), []byte{1, 2, 3, 4}, "en")
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if !result.Success || result.Text != "hello there" {
		t.Errorf("Unexpected result: %+v", result)
	}
}

func TestTranscribe_EmptyPayload(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("No request expected for empty payload")
	}))

	if _, err := client.Transcribe(context.Background(), nil, "en"); err == nil {
		t.Error("Expected error for empty payload")
	}
}

func TestSynthesize_RetriesServerErrors(t *testing.T) {
	var calls int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("mp3-bytes"))
	}))

	audio, err := client.Synthesize(context.Background(), "hello", "alloy")
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}
	if string(audio) != "mp3-bytes" {
		t.Errorf("Unexpected audio payload: %q", audio)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("Expected 3 attempts, got %d", got)
	}
}

func TestSynthesize_DoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"text too long"}`))
	}))

	_, err := client.Synthesize(context.Background(), "hello", "")
	if err == nil {
		t.Fatal("Expected error")
	}
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected *Error, got %T: %v", err, err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Message != "text too long" {
		t.Errorf("Unexpected error: %+v", apiErr)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("Expected 1 attempt for a 4xx, got %d", got)
	}
}

func TestUpstreamMessage(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"error field", `{"error":"bad voice"}`, "bad voice"},
		{"detail field", `{"detail":"quota exceeded"}`, "quota exceeded"},
		{"error wins over detail", `{"error":"a","detail":"b"}`, "a"},
		{"empty body", ``, fallbackMessage},
		{"non-json body", `<html>gateway error</html>`, fallbackMessage},
		{"json without message", `{"status":500}`, fallbackMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := upstreamMessage([]byte(tt.body)); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestSessionStatus(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/sessions/sess-42/status" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"messages":[{"role":"user","content":"pay"},{"role":"assistant","content":"done"}],"payment_confirmed":true}`))
	}))

	status, err := client.SessionStatus(context.Background(), "sess-42")
	if err != nil {
		t.Fatalf("SessionStatus failed: %v", err)
	}
	if len(status.Messages) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(status.Messages))
	}
	if status.Messages[1].Role != "assistant" || !status.PaymentConfirmed {
		t.Errorf("Unexpected status: %+v", status)
	}
}

func TestSaveTranscript_SwallowsFailures(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	// Must not panic or surface the failure in any way.
	client.SaveTranscript(context.Background(), "sess-42", "user", "hello")
}

func TestSaveTranscript_OpenBreakerSkipsRequest(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	breaker := resilience.NewCircuitBreaker("transcript-save", 2, time.Minute)
	client := NewClient(Options{
		BaseURL:     server.URL,
		SaveBreaker: breaker,
	})

	for i := 0; i < 5; i++ {
		client.SaveTranscript(context.Background(), "sess-42", "user", "hello")
	}

	if breaker.GetState() != resilience.StateOpen {
		t.Errorf("Expected open breaker, got %v", breaker.GetState())
	}
	// Two failures trip the breaker; the rest must be skipped.
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("Expected 2 requests before the circuit opened, got %d", got)
	}
}

func TestSendMessage(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/sessions/sess-42/messages" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"text":"I need travel insurance"}` {
			t.Errorf("Unexpected body: %s", body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"role":"assistant","content":"Of course."}`))
	}))

	reply, err := client.SendMessage(context.Background(), "sess-42", "I need travel insurance")
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if reply.Role != "assistant" || reply.Content != "Of course." {
		t.Errorf("Unexpected reply: %+v", reply)
	}
}

func TestCreateSession(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/sessions" {
			t.Errorf("Unexpected request: %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"session_id":"sess-42"}`))
	}))

	id, err := client.CreateSession(context.Background())
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if id != "sess-42" {
		t.Errorf("Expected sess-42, got %q", id)
	}
}

func TestRequestCarriesHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Request-ID") == "" {
			t.Error("Missing X-Request-ID header")
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Unexpected Authorization header: %q", got)
		}
		w.Write([]byte(`{"session_id":"s"}`))
	}))
	defer server.Close()

	client := NewClient(Options{BaseURL: server.URL, Token: "secret"})
	if _, err := client.CreateSession(context.Background()); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
}
