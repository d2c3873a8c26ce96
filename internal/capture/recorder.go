package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"

	"github.com/wandersure/voice-client/internal/audio"
	"github.com/wandersure/voice-client/internal/observability"
)

// ErrNoSpeech is returned when the utterance ends without any voiced
// frames.
var ErrNoSpeech = errors.New("no speech detected")

// ErrDeviceUnavailable wraps failures opening the input device.
var ErrDeviceUnavailable = errors.New("input device unavailable")

// Config bounds one recording.
type Config struct {
	SampleRate  int           // Hz, mono PCM16
	FrameSize   int           // samples per frame read from the device
	MaxDuration time.Duration // hard cap per utterance
	BufferSize  int           // staging ring buffer size in bytes
	VAD         *audio.VADConfig
}

// DefaultConfig matches the transcription endpoint's expectations:
// 16kHz mono with 20ms frames and a 30s cap.
func DefaultConfig() Config {
	return Config{
		SampleRate:  16000,
		FrameSize:   320,
		MaxDuration: 30 * time.Second,
		BufferSize:  64 * 1024,
	}
}

// FrameSource yields successive PCM16 frames from an input device.
type FrameSource interface {
	ReadFrame() ([]int16, error)
	Close() error
}

// Recorder records one utterance at a time from the default microphone,
// ending on trailing silence, the duration cap, or context
// cancellation.
type Recorder struct {
	cfg Config
	log zerolog.Logger

	// openSource is swapped in tests to avoid a real device.
	openSource func() (FrameSource, error)
}

// NewRecorder creates a microphone recorder.
func NewRecorder(cfg Config, log zerolog.Logger) *Recorder {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultConfig().SampleRate
	}
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = DefaultConfig().FrameSize
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = DefaultConfig().MaxDuration
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	r := &Recorder{cfg: cfg, log: log}
	r.openSource = func() (FrameSource, error) {
		return openMicrophone(cfg.SampleRate, cfg.FrameSize)
	}
	return r
}

// Record captures one utterance and returns it as a WAV payload ready
// for the transcription endpoint.
func (r *Recorder) Record(ctx context.Context) ([]byte, error) {
	src, err := r.openSource()
	if err != nil {
		return nil, err
	}
	defer src.Close()

	start := time.Now()
	samples, err := r.captureLoop(ctx, src)
	if err != nil {
		return nil, err
	}
	observability.ObserveCaptureDuration(time.Since(start))

	wav, err := audio.EncodeWAV(samples, r.cfg.SampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to encode utterance: %w", err)
	}
	r.log.Debug().Int("samples", len(samples)).
		Dur("elapsed", time.Since(start)).Msg("utterance captured")
	return wav, nil
}

// captureLoop stages frames through the ring buffer and drains them
// into the utterance, stopping when the voice-activity detector flags
// the end of speech, the cap elapses, or ctx is cancelled.
func (r *Recorder) captureLoop(ctx context.Context, src FrameSource) ([]int16, error) {
	ring := audio.NewRingBuffer(r.cfg.BufferSize)
	vad := audio.NewVADDetector(r.cfg.VAD)

	maxSamples := int(r.cfg.MaxDuration.Seconds() * float64(r.cfg.SampleRate))
	var utterance []int16
	spoke := false

	drain := make([]byte, r.cfg.FrameSize*2)
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		frame, err := src.ReadFrame()
		if err != nil {
			return nil, fmt.Errorf("failed to read from input device: %w", err)
		}

		ring.Write(audio.Int16ToBytes(frame))
		for {
			n := ring.Read(drain)
			if n == 0 {
				break
			}
			utterance = append(utterance, audio.BytesToInt16(drain[:n])...)
		}

		speaking, started, ended := vad.ProcessFrame(frame)
		if started {
			r.log.Debug().Msg("speech started")
		}
		if speaking {
			spoke = true
		}
		if ended {
			r.log.Debug().Msg("speech ended")
			break
		}

		if len(utterance) >= maxSamples {
			r.log.Debug().Msg("utterance reached duration cap")
			utterance = utterance[:maxSamples]
			break
		}
	}

	if !spoke {
		return nil, ErrNoSpeech
	}
	return utterance, nil
}

// paSource reads PCM16 frames from the default portaudio input device.
type paSource struct {
	stream *portaudio.Stream
	buf    []int16
}

func openMicrophone(sampleRate, frameSize int) (FrameSource, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	buf := make([]int16, frameSize)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), frameSize, buf)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	return &paSource{stream: stream, buf: buf}, nil
}

func (s *paSource) ReadFrame() ([]int16, error) {
	if err := s.stream.Read(); err != nil {
		return nil, err
	}
	frame := make([]int16, len(s.buf))
	copy(frame, s.buf)
	return frame, nil
}

func (s *paSource) Close() error {
	s.stream.Stop()
	err := s.stream.Close()
	portaudio.Terminate()
	return err
}
