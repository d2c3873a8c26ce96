package payment

import (
	"sync"
	"time"
)

// Scheduler fires a callback on a fixed cadence. Injected so tests can
// drive ticks by hand instead of waiting on the wall clock.
type Scheduler interface {
	Schedule(interval time.Duration, fn func()) Timer
}

// Timer is a running schedule. Stop is idempotent; after Stop returns
// no further callbacks begin, though one already running may finish.
type Timer interface {
	Stop()
}

// TickerScheduler is the production Scheduler, backed by time.Ticker.
// Callbacks run sequentially on a dedicated goroutine; a callback that
// outlasts the interval delays later fires rather than overlapping
// them.
type TickerScheduler struct{}

func (TickerScheduler) Schedule(interval time.Duration, fn func()) Timer {
	t := &tickerTimer{
		ticker: time.NewTicker(interval),
		done:   make(chan struct{}),
	}
	go t.run(fn)
	return t
}

type tickerTimer struct {
	ticker *time.Ticker
	done   chan struct{}
	once   sync.Once
}

func (t *tickerTimer) run(fn func()) {
	for {
		select {
		case <-t.done:
			return
		case <-t.ticker.C:
			select {
			case <-t.done:
				return
			default:
			}
			fn()
		}
	}
}

func (t *tickerTimer) Stop() {
	t.once.Do(func() {
		t.ticker.Stop()
		close(t.done)
	})
}
