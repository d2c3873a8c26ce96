package playback

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/hajimehoshi/go-mp3"
	"github.com/rs/zerolog"

	"github.com/wandersure/voice-client/internal/audio"
)

const (
	// go-mp3 always decodes to 16-bit stereo, so one PCM frame is 4 bytes.
	bytesPerFrame = 4

	pumpFrames         = 1024
	timeUpdateInterval = 250 * time.Millisecond
)

// DeviceCapability plays audio through the default output device.
// Locators are either clip-store handles holding synthesized MP3 bytes
// or plain file paths; releasing a clip-backed resource revokes its
// store entry.
type DeviceCapability struct {
	clips *ClipStore
	log   zerolog.Logger
}

// NewDeviceCapability creates the production media capability.
func NewDeviceCapability(clips *ClipStore, log zerolog.Logger) *DeviceCapability {
	return &DeviceCapability{clips: clips, log: log}
}

// Create decodes the audio behind locator and prepares a playable
// resource. The duration is announced through a loadedMetadata event
// before Create returns.
func (d *DeviceCapability) Create(locator string, onEvent func(Event)) (Resource, error) {
	data, err := d.resolve(locator)
	if err != nil {
		return nil, err
	}

	decoder, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}

	duration := float64(decoder.Length()) / float64(bytesPerFrame*decoder.SampleRate())
	res := &deviceResource{
		locator:  locator,
		clips:    d.clips,
		decoder:  decoder,
		rate:     decoder.SampleRate(),
		duration: duration,
		onEvent:  onEvent,
		log:      d.log.With().Str("locator", locator).Logger(),
		stop:     make(chan struct{}),
	}
	res.cond = sync.NewCond(&res.mu)

	onEvent(Event{Kind: EventLoadedMetadata, Duration: duration})
	return res, nil
}

func (d *DeviceCapability) resolve(locator string) ([]byte, error) {
	if IsClipLocator(locator) {
		data, ok := d.clips.Get(locator)
		if !ok {
			return nil, fmt.Errorf("unknown clip locator %q", locator)
		}
		return data, nil
	}
	data, err := os.ReadFile(locator)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio file: %w", err)
	}
	return data, nil
}

// deviceResource streams decoded PCM to a portaudio output stream on a
// pump goroutine. The pump parks while paused and exits on release or
// end of audio.
type deviceResource struct {
	locator  string
	clips    *ClipStore
	decoder  *mp3.Decoder
	rate     int
	duration float64
	onEvent  func(Event)
	log      zerolog.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	stream   *portaudio.Stream
	buf      []int16
	playing  bool
	released bool
	consumed int64 // decoded bytes handed to the device

	stop     chan struct{}
	pumpDone chan struct{}

	releaseOnce sync.Once
}

// Play starts or resumes output. The first call opens the device and
// launches the pump.
func (r *deviceResource) Play() error {
	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		return fmt.Errorf("resource for %q already released", r.locator)
	}

	if r.stream == nil {
		if err := r.open(); err != nil {
			r.mu.Unlock()
			return err
		}
		r.pumpDone = make(chan struct{})
		go r.pump()
	}

	if err := r.stream.Start(); err != nil {
		r.mu.Unlock()
		return fmt.Errorf("failed to start output stream: %w", err)
	}
	r.playing = true
	r.cond.Broadcast()
	r.mu.Unlock()

	r.onEvent(Event{Kind: EventStarted})
	return nil
}

// open prepares portaudio and the output stream. Callers hold r.mu.
func (r *deviceResource) open() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("%w: %v", ErrPermission, err)
	}
	r.buf = make([]int16, pumpFrames*2) // stereo
	stream, err := portaudio.OpenDefaultStream(0, 2, float64(r.rate), pumpFrames, r.buf)
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("%w: %v", ErrPermission, err)
	}
	r.stream = stream
	return nil
}

// Pause suspends output without losing the playhead.
func (r *deviceResource) Pause() error {
	r.mu.Lock()
	if r.released || r.stream == nil || !r.playing {
		r.mu.Unlock()
		return nil
	}
	r.playing = false
	stream := r.stream
	r.mu.Unlock()

	if err := stream.Stop(); err != nil {
		return fmt.Errorf("failed to stop output stream: %w", err)
	}
	r.onEvent(Event{Kind: EventPaused})
	return nil
}

// Seek moves the playhead to the given offset in seconds.
func (r *deviceResource) Seek(seconds float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return nil
	}

	offset := int64(seconds * float64(r.rate) * bytesPerFrame)
	offset -= offset % bytesPerFrame
	if offset < 0 {
		offset = 0
	}
	if length := r.decoder.Length(); offset > length {
		offset = length
	}
	if _, err := r.decoder.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("seek failed: %w", err)
	}
	r.consumed = offset
	return nil
}

// Release stops output, closes the device and revokes a clip-backed
// locator. Idempotent; no events are emitted once Release returns.
func (r *deviceResource) Release() {
	r.releaseOnce.Do(func() {
		r.mu.Lock()
		r.released = true
		r.playing = false
		r.cond.Broadcast()
		pumpDone := r.pumpDone
		r.mu.Unlock()

		close(r.stop)
		if pumpDone != nil {
			<-pumpDone
		}

		r.mu.Lock()
		if r.stream != nil {
			r.stream.Stop()
			r.stream.Close()
			r.stream = nil
			portaudio.Terminate()
		}
		r.mu.Unlock()

		if IsClipLocator(r.locator) {
			r.clips.Release(r.locator)
		}
	})
}

// pump drains the decoder into the output stream, reporting progress
// through timeUpdate events and ended/error at the end of the road.
// Events are suppressed after release so a released resource never
// speaks again.
func (r *deviceResource) pump() {
	defer close(r.pumpDone)

	raw := make([]byte, pumpFrames*bytesPerFrame)
	lastUpdate := time.Now()

	for {
		r.mu.Lock()
		for !r.playing && !r.released {
			r.cond.Wait()
		}
		if r.released {
			r.mu.Unlock()
			return
		}
		stream := r.stream
		r.mu.Unlock()

		select {
		case <-r.stop:
			return
		default:
		}

		n, err := io.ReadFull(r.decoder, raw)
		if n > 0 {
			samples := audio.BytesToInt16(raw[:n])
			r.mu.Lock()
			copy(r.buf, samples)
			for i := len(samples); i < len(r.buf); i++ {
				r.buf[i] = 0
			}
			r.consumed += int64(n)
			position := float64(r.consumed) / float64(bytesPerFrame*r.rate)
			r.mu.Unlock()

			if werr := stream.Write(); werr != nil {
				r.log.Debug().Err(werr).Msg("output stream write failed")
			}

			if time.Since(lastUpdate) >= timeUpdateInterval {
				lastUpdate = time.Now()
				r.emit(Event{Kind: EventTimeUpdate, Position: position})
			}
		}

		if err == io.EOF || err == io.ErrUnexpectedEOF {
			r.emit(Event{Kind: EventEnded})
			return
		}
		if err != nil {
			r.log.Warn().Err(err).Msg("decode failed during playback")
			r.emit(Event{Kind: EventError, Code: CodeGeneric})
			return
		}
	}
}

// emit forwards an event unless the resource has been released.
func (r *deviceResource) emit(ev Event) {
	r.mu.Lock()
	released := r.released
	r.mu.Unlock()
	if !released {
		r.onEvent(ev)
	}
}
