package chat

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/wandersure/voice-client/internal/api"
	"github.com/wandersure/voice-client/internal/payment"
	"github.com/wandersure/voice-client/internal/playback"
)

// fakeBackend is a scripted assistant backend.
type fakeBackend struct {
	mu          sync.Mutex
	reply       string
	synthesized []byte
	synthFail   bool
	transcript  string
	saves       int
	messages    []string
}

func (b *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"session_id":"sess-42"}`))
	})
	mux.HandleFunc("POST /api/v1/sessions/sess-42/messages", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		reply := b.reply
		b.mu.Unlock()
		w.Write([]byte(`{"role":"assistant","content":"` + reply + `"}`))
	})
	mux.HandleFunc("POST /api/v1/sessions/sess-42/transcript", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.saves++
		b.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /api/v1/audio/speech", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		fail := b.synthFail
		data := b.synthesized
		b.mu.Unlock()
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write(data)
	})
	mux.HandleFunc("POST /api/v1/audio/transcriptions", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		text := b.transcript
		b.mu.Unlock()
		if text == "" {
			w.Write([]byte(`{"success":false,"text":""}`))
			return
		}
		w.Write([]byte(`{"success":true,"text":"` + text + `"}`))
	})
	return mux
}

// fakeCapability records requested locators and never errors.
type fakeCapability struct {
	mu       sync.Mutex
	locators []string
}

func (c *fakeCapability) Create(locator string, onEvent func(playback.Event)) (playback.Resource, error) {
	c.mu.Lock()
	c.locators = append(c.locators, locator)
	c.mu.Unlock()
	return fakeResource{}, nil
}

type fakeResource struct{}

func (fakeResource) Play() error                { return nil }
func (fakeResource) Pause() error               { return nil }
func (fakeResource) Seek(seconds float64) error { return nil }
func (fakeResource) Release()                   {}

type fakeRecorder struct {
	wav []byte
	err error
}

func (r *fakeRecorder) Record(ctx context.Context) ([]byte, error) {
	return r.wav, r.err
}

type sessionFixture struct {
	session *Session
	backend *fakeBackend
	cap     *fakeCapability
	clips   *playback.ClipStore
}

func newFixture(t *testing.T) *sessionFixture {
	t.Helper()
	backend := &fakeBackend{reply: "Of course.", synthesized: []byte("mp3")}
	server := httptest.NewServer(backend.handler())
	t.Cleanup(server.Close)

	client := api.NewClient(api.Options{BaseURL: server.URL, RequestTimeout: 5 * time.Second})
	cap := &fakeCapability{}
	controller := playback.NewController(cap, zerolog.Nop())
	clips := playback.NewClipStore()
	watcher := payment.NewWatcher(client, payment.TickerScheduler{}, payment.Options{
		Interval:    time.Hour, // ticks never fire within a test
		MaxAttempts: 60,
	}, zerolog.Nop())

	session, err := NewSession(context.Background(), client, controller, clips,
		watcher, &fakeRecorder{wav: []byte("RIFFwav")}, Config{Voice: "alloy", Language: "en"})
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	t.Cleanup(session.Close)

	return &sessionFixture{session: session, backend: backend, cap: cap, clips: clips}
}

func (f *sessionFixture) waitForSaves(t *testing.T, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.backend.mu.Lock()
		saves := f.backend.saves
		f.backend.mu.Unlock()
		if saves >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %d transcript saves", want)
}

func TestAsk_RepliesAndSpeaks(t *testing.T) {
	f := newFixture(t)

	reply, err := f.session.Ask(context.Background(), "I need travel insurance")
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}
	if reply != "Of course." {
		t.Errorf("Unexpected reply: %q", reply)
	}

	// The reply was registered as a clip and handed to playback.
	f.cap.mu.Lock()
	locators := f.cap.locators
	f.cap.mu.Unlock()
	if len(locators) != 1 || !playback.IsClipLocator(locators[0]) {
		t.Errorf("Expected one clip locator, got %v", locators)
	}

	// Both sides of the exchange get saved in the background.
	f.waitForSaves(t, 2)
}

func TestAsk_EmptyQuestion(t *testing.T) {
	f := newFixture(t)

	if _, err := f.session.Ask(context.Background(), "   "); err == nil {
		t.Error("Expected error for empty question")
	}
}

func TestAsk_SynthesisFailureDegradesToText(t *testing.T) {
	f := newFixture(t)
	f.backend.mu.Lock()
	f.backend.synthFail = true
	f.backend.mu.Unlock()

	reply, err := f.session.Ask(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Ask must succeed despite synthesis failure: %v", err)
	}
	if reply != "Of course." {
		t.Errorf("Unexpected reply: %q", reply)
	}

	f.cap.mu.Lock()
	locators := len(f.cap.locators)
	f.cap.mu.Unlock()
	if locators != 0 {
		t.Errorf("Nothing should have been played, got %d locators", locators)
	}
}

func TestAskVoice_TranscribesAndAsks(t *testing.T) {
	f := newFixture(t)
	f.backend.mu.Lock()
	f.backend.transcript = "how much is a policy"
	f.backend.mu.Unlock()

	question, reply, err := f.session.AskVoice(context.Background())
	if err != nil {
		t.Fatalf("AskVoice failed: %v", err)
	}
	if question != "how much is a policy" {
		t.Errorf("Unexpected question: %q", question)
	}
	if reply != "Of course." {
		t.Errorf("Unexpected reply: %q", reply)
	}
}

func TestAskVoice_EmptyTranscription(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.session.AskVoice(context.Background())
	if !errors.Is(err, ErrEmptyTranscription) {
		t.Errorf("Expected ErrEmptyTranscription, got %v", err)
	}
}

func TestAskVoice_RecordingFailure(t *testing.T) {
	f := newFixture(t)
	f.session.recorder = &fakeRecorder{err: errors.New("microphone busy")}

	if _, _, err := f.session.AskVoice(context.Background()); err == nil {
		t.Error("Expected error for failed recording")
	}
}

func TestWatchPayment_TargetsThisSession(t *testing.T) {
	f := newFixture(t)

	watch := f.session.WatchPayment(func() {})
	if watch == nil {
		t.Fatal("Expected a watch handle")
	}
	if watch.TargetID() != "sess-42" {
		t.Errorf("Watch targets %q, want sess-42", watch.TargetID())
	}
	if watch.Status() != payment.StatusPolling {
		t.Errorf("Expected polling, got %v", watch.Status())
	}

	f.session.CancelPayment()
	if watch.Status() != payment.StatusCancelled {
		t.Errorf("Expected cancelled, got %v", watch.Status())
	}
}

func TestClose_TearsDownWatchAndPlayback(t *testing.T) {
	backend := &fakeBackend{reply: "ok", synthesized: []byte("mp3")}
	server := httptest.NewServer(backend.handler())
	defer server.Close()

	client := api.NewClient(api.Options{BaseURL: server.URL})
	cap := &fakeCapability{}
	controller := playback.NewController(cap, zerolog.Nop())
	watcher := payment.NewWatcher(client, payment.TickerScheduler{}, payment.Options{
		Interval: time.Hour, MaxAttempts: 60,
	}, zerolog.Nop())

	session, err := NewSession(context.Background(), client, controller,
		playback.NewClipStore(), watcher, &fakeRecorder{}, Config{})
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}

	watch := session.WatchPayment(func() { t.Error("Callback after teardown") })
	session.Close()

	if watch.Status() != payment.StatusCancelled {
		t.Errorf("Expected cancelled watch after close, got %v", watch.Status())
	}
	if snap := controller.Snapshot(); snap.State != playback.StateIdle {
		t.Errorf("Expected idle playback after close, got %v", snap.State)
	}
}
