package api

import "fmt"

// fallbackMessage is shown when the backend fails without a usable
// error body.
const fallbackMessage = "the assistant service is unavailable"

// Error is a non-2xx response from the assistant backend. Message is
// the upstream-provided message when the body carried one, otherwise
// the fixed fallback.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Message)
}

// TranscriptionResult is the response of the transcription endpoint
type TranscriptionResult struct {
	Success  bool    `json:"success"`
	Text     string  `json:"text"`
	Duration float64 `json:"duration,omitempty"`
	Language string  `json:"language,omitempty"`
}

// ChatMessage is one transcript entry
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SessionStatus is the response of the session-status endpoint: the
// ordered transcript plus the payment confirmation flag.
type SessionStatus struct {
	Messages         []ChatMessage `json:"messages"`
	PaymentConfirmed bool          `json:"payment_confirmed"`
}

type synthesisRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

type transcriptEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messageRequest struct {
	Text string `json:"text"`
}

type sessionCreated struct {
	SessionID string `json:"session_id"`
}

type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}
