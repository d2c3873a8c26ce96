package payment

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wandersure/voice-client/internal/api"
	"github.com/wandersure/voice-client/internal/observability"
)

// SuccessMarker is the phrase the assistant includes in its payment
// confirmation message. The substring match is brittle against wording
// changes, so the structured payment_confirmed flag is checked first
// and wins whenever the backend provides it.
const SuccessMarker = "Payment Successful"

// Status describes a poll session's lifecycle.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusPolling   Status = "polling"
	StatusCompleted Status = "completed"
	StatusTimedOut  Status = "timed_out"
	StatusCancelled Status = "cancelled"
)

// StatusClient issues one session-status query per poll attempt.
type StatusClient interface {
	SessionStatus(ctx context.Context, sessionID string) (*api.SessionStatus, error)
}

// Options bounds the polling loop.
type Options struct {
	Interval    time.Duration // fixed spacing between attempts
	MaxAttempts int           // attempts before the silent timeout
}

// DefaultOptions returns the standard cadence: one query every 5
// seconds, giving up silently after 60 attempts (a 5-minute ceiling).
func DefaultOptions() Options {
	return Options{
		Interval:    5 * time.Second,
		MaxAttempts: 60,
	}
}

// Watch is one poll session. Terminal watches never resurrect; a fresh
// Start on the watcher creates a new Watch.
type Watch struct {
	id       string
	targetID string

	mu         sync.Mutex
	status     Status
	attempts   int
	timer      Timer
	onComplete func()
}

// ID returns the watch's unique identifier.
func (w *Watch) ID() string { return w.id }

// TargetID returns the session being watched.
func (w *Watch) TargetID() string { return w.targetID }

// Status returns the watch's current lifecycle status.
func (w *Watch) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Attempts returns how many status queries have been issued.
func (w *Watch) Attempts() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.attempts
}

// stopTimerLocked stops the watch's timer if one is bound. Callers hold
// w.mu.
func (w *Watch) stopTimerLocked() {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

// Watcher polls the session-status endpoint on a fixed cadence until a
// payment confirmation appears, the attempt ceiling is reached, or the
// watch is cancelled. At most one watch polls at a time: Start while a
// watch is active returns the existing handle instead of spawning a
// second loop.
type Watcher struct {
	client StatusClient
	sched  Scheduler
	opts   Options
	log    zerolog.Logger

	mu      sync.Mutex
	current *Watch
	closed  bool
}

// NewWatcher creates a watcher over the given status client and
// scheduler.
func NewWatcher(client StatusClient, sched Scheduler, opts Options, log zerolog.Logger) *Watcher {
	if opts.Interval <= 0 {
		opts.Interval = DefaultOptions().Interval
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultOptions().MaxAttempts
	}
	return &Watcher{
		client: client,
		sched:  sched,
		opts:   opts,
		log:    log,
	}
}

// Start begins polling for targetID. Idempotent: while a watch is
// polling, Start returns that watch regardless of targetID instead of
// starting a second loop. onComplete is invoked at most once, only when
// the confirmation predicate matches; the silent timeout never invokes
// it. The first query fires after the first interval, not immediately.
func (w *Watcher) Start(targetID string, onComplete func()) *Watch {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	if cur := w.current; cur != nil && cur.Status() == StatusPolling {
		w.mu.Unlock()
		w.log.Debug().Str("watch_id", cur.id).Str("target_id", cur.targetID).
			Msg("watch already polling, reusing it")
		return cur
	}

	watch := &Watch{
		id:         uuid.NewString(),
		targetID:   targetID,
		status:     StatusPolling,
		onComplete: onComplete,
	}
	w.current = watch
	w.mu.Unlock()

	timer := w.sched.Schedule(w.opts.Interval, func() { w.tick(watch) })

	watch.mu.Lock()
	if watch.status == StatusPolling {
		watch.timer = timer
		watch.mu.Unlock()
	} else {
		// Cancelled before the timer was bound.
		watch.mu.Unlock()
		timer.Stop()
	}

	w.log.Info().Str("watch_id", watch.id).Str("target_id", targetID).
		Dur("interval", w.opts.Interval).Int("max_attempts", w.opts.MaxAttempts).
		Msg("payment watch started")
	return watch
}

// Cancel stops the watch immediately. Idempotent; after Cancel returns
// no further queries are issued and the completion callback never
// fires. A query already in flight is allowed to finish, but its result
// is discarded.
func (w *Watcher) Cancel(watch *Watch) {
	if watch == nil {
		return
	}
	watch.mu.Lock()
	if watch.status != StatusPolling {
		watch.mu.Unlock()
		return
	}
	watch.status = StatusCancelled
	watch.onComplete = nil
	watch.stopTimerLocked()
	watch.mu.Unlock()

	observability.RecordWatchOutcome(string(StatusCancelled))
	w.log.Info().Str("watch_id", watch.id).Msg("payment watch cancelled")
}

// Close cancels the active watch and refuses further starts. Safe to
// call repeatedly.
func (w *Watcher) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	watch := w.current
	w.mu.Unlock()

	w.Cancel(watch)
}

// tick runs once per interval on the scheduler's goroutine: it counts
// the attempt, issues one status query and folds the result back in.
// Ticks arriving after a terminal transition are stale timer fires and
// are ignored.
func (w *Watcher) tick(watch *Watch) {
	watch.mu.Lock()
	if watch.status != StatusPolling {
		watch.mu.Unlock()
		return
	}
	watch.attempts++
	attempt := watch.attempts
	final := attempt >= w.opts.MaxAttempts
	if final {
		// The ceiling is reached; stop the cadence before the last
		// query resolves so attempts can never exceed the maximum.
		watch.stopTimerLocked()
	}
	watch.mu.Unlock()

	observability.RecordPollAttempt()

	status, err := w.client.SessionStatus(context.Background(), watch.targetID)

	watch.mu.Lock()
	if watch.status != StatusPolling {
		// Cancelled (or otherwise terminal) while the query was in
		// flight; the result is discarded.
		watch.mu.Unlock()
		return
	}

	if err != nil {
		// A failed query still counts toward the ceiling but does not
		// terminate the loop.
		w.log.Warn().Err(err).Str("watch_id", watch.id).Int("attempt", attempt).
			Msg("status query failed")
	} else if confirmed(status) {
		watch.status = StatusCompleted
		watch.stopTimerLocked()
		callback := watch.onComplete
		watch.onComplete = nil
		watch.mu.Unlock()

		observability.RecordWatchOutcome(string(StatusCompleted))
		w.log.Info().Str("watch_id", watch.id).Int("attempt", attempt).
			Msg("payment confirmed")
		if callback != nil {
			callback()
		}
		return
	}

	if final {
		watch.status = StatusTimedOut
		watch.stopTimerLocked()
		watch.onComplete = nil
		watch.mu.Unlock()

		observability.RecordWatchOutcome(string(StatusTimedOut))
		w.log.Info().Str("watch_id", watch.id).Int("attempts", attempt).
			Msg("payment watch timed out")
		return
	}
	watch.mu.Unlock()
}

// confirmed is the completion predicate: the structured confirmation
// flag, or an assistant-authored last message containing SuccessMarker.
func confirmed(status *api.SessionStatus) bool {
	if status == nil {
		return false
	}
	if status.PaymentConfirmed {
		return true
	}
	if len(status.Messages) == 0 {
		return false
	}
	last := status.Messages[len(status.Messages)-1]
	return last.Role == "assistant" && strings.Contains(last.Content, SuccessMarker)
}
