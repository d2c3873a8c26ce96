package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/wandersure/voice-client/internal/api"
	"github.com/wandersure/voice-client/internal/observability"
	"github.com/wandersure/voice-client/internal/payment"
	"github.com/wandersure/voice-client/internal/playback"
)

// ErrEmptyTranscription is returned when the recorded question could
// not be transcribed into usable text.
var ErrEmptyTranscription = errors.New("could not understand the recording")

// saveTimeout bounds the background transcript saves so they never
// outlive the session by much.
const saveTimeout = 10 * time.Second

// Recorder captures one spoken question as a WAV payload.
type Recorder interface {
	Record(ctx context.Context) ([]byte, error)
}

// Config carries the session's speech settings.
type Config struct {
	Voice    string // synthesis voice preset
	Language string // transcription language hint
}

// Session is the conversation façade: it exchanges messages with the
// assistant, speaks replies through the playback controller, and
// watches for payment confirmation. One session maps to one backend
// chat session.
type Session struct {
	id       string
	client   *api.Client
	playback *playback.Controller
	clips    *playback.ClipStore
	watcher  *payment.Watcher
	recorder Recorder
	cfg      Config
	log      zerolog.Logger
	metrics  *observability.Metrics

	watch *payment.Watch
}

// NewSession opens a backend chat session and wires the conversation
// around it.
func NewSession(ctx context.Context, client *api.Client, controller *playback.Controller,
	clips *playback.ClipStore, watcher *payment.Watcher, recorder Recorder, cfg Config) (*Session, error) {

	id, err := client.CreateSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}

	metrics := observability.NewSessionMetrics(id)
	metrics.RecordSessionStart()

	log := observability.Component("chat").With().Str("session_id", id).Logger()
	log.Info().Msg("session opened")

	return &Session{
		id:       id,
		client:   client,
		playback: controller,
		clips:    clips,
		watcher:  watcher,
		recorder: recorder,
		cfg:      cfg,
		log:      log,
		metrics:  metrics,
	}, nil
}

// ID returns the backend session identifier.
func (s *Session) ID() string { return s.id }

// Ask sends a user message and returns the assistant's reply. The
// reply is synthesized and played in the background; synthesis or
// playback failures degrade to text only and never mask the reply.
// Transcript saves for both sides are fire-and-forget.
func (s *Session) Ask(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("empty question")
	}

	reply, err := s.client.SendMessage(ctx, s.id, text)
	if err != nil {
		return "", err
	}

	s.saveTranscript("user", text)
	s.saveTranscript(reply.Role, reply.Content)

	s.speak(ctx, reply.Content)
	return reply.Content, nil
}

// AskVoice records a spoken question, transcribes it, and asks it.
// Returns both the transcribed question and the reply.
func (s *Session) AskVoice(ctx context.Context) (string, string, error) {
	wav, err := s.recorder.Record(ctx)
	if err != nil {
		return "", "", fmt.Errorf("recording failed: %w", err)
	}

	result, err := s.client.Transcribe(ctx, wav, s.cfg.Language)
	if err != nil {
		return "", "", err
	}
	if !result.Success || strings.TrimSpace(result.Text) == "" {
		return "", "", ErrEmptyTranscription
	}

	reply, err := s.Ask(ctx, result.Text)
	if err != nil {
		return result.Text, "", err
	}
	return result.Text, reply, nil
}

// WatchPayment starts polling this session for payment confirmation.
// Idempotent while a watch is active.
func (s *Session) WatchPayment(onConfirmed func()) *payment.Watch {
	s.watch = s.watcher.Start(s.id, onConfirmed)
	return s.watch
}

// CancelPayment stops the active payment watch, if any.
func (s *Session) CancelPayment() {
	s.watcher.Cancel(s.watch)
}

// Playback passthroughs for the terminal client.

func (s *Session) Pause() { s.playback.Pause() }

func (s *Session) Resume() { s.playback.Resume() }

func (s *Session) StopPlayback() { s.playback.Stop() }

func (s *Session) Seek(seconds float64) { s.playback.Seek(seconds) }

func (s *Session) PlaybackSnapshot() playback.Snapshot { return s.playback.Snapshot() }

// Close tears the session down: the payment watcher first, then the
// playback controller, so no timer or audio resource outlives it.
func (s *Session) Close() {
	s.watcher.Close()
	s.playback.Close()
	s.metrics.RecordSessionEnd()
	s.log.Info().Msg("session closed")
}

// speak synthesizes the reply and hands it to the playback controller.
// Failures are logged and swallowed: the caller still has the text.
func (s *Session) speak(ctx context.Context, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}

	mp3, err := s.client.Synthesize(ctx, text, s.cfg.Voice)
	if err != nil {
		s.log.Warn().Err(err).Msg("synthesis failed, reply stays text-only")
		return
	}

	locator := s.clips.Add(mp3)
	if err := s.playback.Play(locator); err != nil {
		s.log.Warn().Err(err).Str("locator", locator).Msg("playback failed, reply stays text-only")
	}
}

// saveTranscript records one entry in the background. Save failures
// are swallowed by the api client per contract.
func (s *Session) saveTranscript(role, content string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()
		s.client.SaveTranscript(ctx, s.id, role, content)
	}()
}
