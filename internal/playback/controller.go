package playback

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/wandersure/voice-client/internal/observability"
)

// Controller owns at most one live audio resource and serializes every
// state transition. A new Play releases the previous resource before the
// replacement is constructed, so two resources are never audible at once.
// Generation tokens tie each resource's events to the controller state
// they belong to; events from a released resource are discarded.
type Controller struct {
	capability Capability
	log        zerolog.Logger

	mu         sync.Mutex
	observer   Observer
	generation uint64
	resource   Resource
	snap       Snapshot
	lastState  State
	closed     bool
}

// NewController creates a controller over the given capability.
func NewController(capability Capability, log zerolog.Logger) *Controller {
	return &Controller{
		capability: capability,
		log:        log,
		snap:       Snapshot{State: StateIdle},
		lastState:  StateIdle,
	}
}

// SetObserver registers the snapshot observer. Passing nil removes it.
func (c *Controller) SetObserver(fn Observer) {
	c.mu.Lock()
	c.observer = fn
	c.mu.Unlock()
}

// Snapshot returns a copy of the current playback state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

// Play starts playback of the audio behind locator. Any resource already
// held is paused and released first; the most recent call always wins.
// Play returns once playback has been requested, not when audio finishes.
func (c *Controller) Play(locator string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	prev := c.releaseLocked()
	gen := c.generation
	c.snap = Snapshot{State: StateLoading, Locator: locator}
	c.notifyLocked()
	c.mu.Unlock()

	// The predecessor is silenced before the replacement exists.
	if prev != nil {
		prev.Pause()
		prev.Release()
	}

	onEvent := func(ev Event) { c.apply(gen, ev) }
	res, err := c.capability.Create(locator, onEvent)
	if err != nil {
		perr := &Error{Kind: classify(err), Err: err}
		c.fail(gen, nil, perr)
		return perr
	}

	c.mu.Lock()
	if c.closed || c.generation != gen {
		// A newer Play or Close superseded this call while the resource
		// was being constructed.
		c.mu.Unlock()
		res.Release()
		return nil
	}
	c.resource = res
	observability.SetActiveResources(1)
	c.mu.Unlock()

	if err := res.Play(); err != nil {
		perr := &Error{Kind: classify(err), Err: err}
		c.fail(gen, res, perr)
		return perr
	}

	c.log.Debug().Str("locator", locator).Msg("playback requested")
	return nil
}

// Pause suspends output when playing. No-op in any other state.
func (c *Controller) Pause() {
	c.mu.Lock()
	res := c.resource
	ok := res != nil && c.snap.State == StatePlaying
	c.mu.Unlock()
	if !ok {
		return
	}
	if err := res.Pause(); err != nil {
		c.log.Warn().Err(err).Msg("pause request failed")
	}
}

// Resume restarts output when paused. No-op in any other state.
func (c *Controller) Resume() {
	c.mu.Lock()
	res := c.resource
	gen := c.generation
	ok := res != nil && c.snap.State == StatePaused
	c.mu.Unlock()
	if !ok {
		return
	}
	if err := res.Play(); err != nil {
		c.fail(gen, res, &Error{Kind: classify(err), Err: err})
	}
}

// Stop halts playback, releases the held resource and resets the snapshot
// to idle with position zero. Safe to call repeatedly.
func (c *Controller) Stop() {
	c.mu.Lock()
	res := c.releaseLocked()
	if res == nil && c.snap.State == StateIdle && c.snap.Position == 0 && c.snap.Locator == "" {
		c.mu.Unlock()
		return
	}
	c.snap = Snapshot{State: StateIdle}
	c.notifyLocked()
	c.mu.Unlock()

	if res != nil {
		res.Pause()
		res.Release()
	}
}

// Seek moves the playhead, clamped to [0, duration]. While duration is
// unknown the only reachable position is 0. No-op without a resource.
func (c *Controller) Seek(seconds float64) {
	c.mu.Lock()
	res := c.resource
	if res == nil {
		c.mu.Unlock()
		return
	}
	target := seconds
	if target < 0 {
		target = 0
	}
	if c.snap.Duration > 0 {
		if target > c.snap.Duration {
			target = c.snap.Duration
		}
	} else {
		target = 0
	}
	c.snap.Position = target
	c.notifyLocked()
	c.mu.Unlock()

	if err := res.Seek(target); err != nil {
		c.log.Warn().Err(err).Float64("seconds", target).Msg("seek request failed")
	}
}

// Close tears the controller down: the held resource is released and any
// later Play is refused.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	res := c.releaseLocked()
	c.snap = Snapshot{State: StateIdle}
	c.notifyLocked()
	c.mu.Unlock()

	if res != nil {
		res.Pause()
		res.Release()
	}
	c.log.Debug().Msg("playback controller closed")
}

// apply folds one resource event into the snapshot. Events whose
// generation no longer matches come from a released resource and are
// dropped.
func (c *Controller) apply(gen uint64, ev Event) {
	var release Resource

	c.mu.Lock()
	if c.closed || gen != c.generation {
		c.mu.Unlock()
		return
	}

	switch ev.Kind {
	case EventLoadedMetadata:
		c.snap.Duration = ev.Duration
		if c.snap.Position > ev.Duration {
			c.snap.Position = ev.Duration
		}
		c.notifyLocked()

	case EventTimeUpdate:
		pos := ev.Position
		if pos < 0 {
			pos = 0
		}
		if c.snap.Duration > 0 && pos > c.snap.Duration {
			pos = c.snap.Duration
		}
		c.snap.Position = pos
		c.notifyLocked()

	case EventStarted:
		c.snap.State = StatePlaying
		c.snap.Err = nil
		c.notifyLocked()

	case EventPaused:
		c.snap.State = StatePaused
		c.notifyLocked()

	case EventEnded:
		c.snap.State = StateEnded
		if c.snap.Duration > 0 {
			c.snap.Position = c.snap.Duration
		}
		c.notifyLocked()

		// Ended resources are released and the controller returns to
		// idle with the position reset.
		release = c.releaseLocked()
		c.snap = Snapshot{State: StateIdle}
		c.notifyLocked()

	case EventError:
		perr := &Error{Kind: kindFromCode(ev.Code), Err: ErrResourceFailed}
		release = c.releaseLocked()
		c.snap.State = StateErrored
		c.snap.Err = perr
		c.notifyLocked()
		observability.RecordPlaybackError(string(perr.Kind))
		c.log.Warn().Str("kind", string(perr.Kind)).Str("locator", c.snap.Locator).Msg("resource reported error")
	}
	c.mu.Unlock()

	if release != nil {
		release.Release()
	}
}

// fail applies a classified failure for the given generation, releasing
// the resource if it is still current.
func (c *Controller) fail(gen uint64, res Resource, perr *Error) {
	var release Resource

	c.mu.Lock()
	if c.closed || gen != c.generation {
		c.mu.Unlock()
		if res != nil {
			res.Release()
		}
		return
	}
	release = c.releaseLocked()
	if release == nil {
		release = res
	}
	c.snap.State = StateErrored
	c.snap.Err = perr
	c.notifyLocked()
	c.mu.Unlock()

	observability.RecordPlaybackError(string(perr.Kind))
	c.log.Warn().Err(perr).Msg("playback failed")
	if release != nil {
		release.Release()
	}
}

// releaseLocked detaches the held resource and bumps the generation so
// any in-flight events from it are discarded. The caller releases the
// returned resource outside the lock.
func (c *Controller) releaseLocked() Resource {
	res := c.resource
	c.resource = nil
	c.generation++
	if res != nil {
		observability.SetActiveResources(0)
	}
	return res
}

// notifyLocked pushes the current snapshot to the observer and records
// state-transition metrics. Must be called with c.mu held.
func (c *Controller) notifyLocked() {
	if c.snap.State != c.lastState {
		observability.RecordPlaybackState(string(c.snap.State))
		c.lastState = c.snap.State
	}
	if c.observer != nil {
		c.observer(c.snap)
	}
}
