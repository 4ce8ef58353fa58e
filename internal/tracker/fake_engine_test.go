package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vincentbai/gazetrace-agent/internal/engine"
	"github.com/vincentbai/gazetrace-agent/internal/events"
	"github.com/vincentbai/gazetrace-agent/internal/models"
	"github.com/vincentbai/gazetrace-agent/internal/session"
)

type recordedPosition struct{ X, Y float64 }

// fakeEngine stands in for the browser engine. Emit pushes a prediction
// to the registered listener regardless of pause state so tests can
// exercise the tracker's own filtering.
type fakeEngine struct {
	mu         sync.Mutex
	beginErr   error
	regression string
	tracker    string
	listener   engine.Listener
	ready      bool
	ends       int
	pauses     int
	resumes    int
	clears     int
	recorded   []recordedPosition
	onRecord   func(n int)
}

func (f *fakeEngine) SetRegression(name string) { f.regression = name }
func (f *fakeEngine) SetTracker(name string) { f.tracker = name }
func (f *fakeEngine) ShowVideo(bool) {}
func (f *fakeEngine) ShowPredictionPoints(bool) {}
func (f *fakeEngine) SetGazeListener(l engine.Listener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listener = l
}

func (f *fakeEngine) Begin(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.beginErr != nil {
		return f.beginErr
	}
	f.ready = true
	return nil
}

func (f *fakeEngine) End() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ready = false
	f.ends++
}

func (f *fakeEngine) Pause() { f.mu.Lock(); f.pauses++; f.mu.Unlock() }
func (f *fakeEngine) Resume() { f.mu.Lock(); f.resumes++; f.mu.Unlock() }

func (f *fakeEngine) ClearData() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
}

func (f *fakeEngine) RecordScreenPosition(x, y float64) {
	f.mu.Lock()
	f.recorded = append(f.recorded, recordedPosition{x, y})
	n := len(f.recorded)
	hook := f.onRecord
	f.mu.Unlock()
	if hook != nil {
		hook(n)
	}
}

func (f *fakeEngine) IsReady() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeEngine) Emit(p *models.Prediction) {
	f.mu.Lock()
	listener := f.listener
	f.mu.Unlock()
	if listener != nil {
		listener(p)
	}
}

func (f *fakeEngine) Recorded() []recordedPosition {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedPosition(nil), f.recorded...)
}

var errCameraDenied = errors.New("camera permission denied")

// fakeClock advances by step on every read.
type fakeClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now = c.now.Add(c.step)
	return now
}

func fastTiming() CalibrationTiming {
	return CalibrationTiming{SamplesPerPoint: 5, SampleDelay: time.Millisecond, SettleDelay: time.Millisecond}
}

type fixture struct {
	engine *fakeEngine
	store  *session.MemoryStore
	state  *session.State
	bus    *events.Bus
	clock  *fakeClock
	tr     *Tracker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		engine: &fakeEngine{},
		store:  session.NewMemoryStore(),
		bus:    events.NewBus(nil),
		clock:  &fakeClock{now: time.UnixMilli(1760860800000), step: 10 * time.Millisecond},
	}
	f.state = session.NewState(f.store)
	f.tr = New(f.engine,
		WithBus(f.bus),
		WithSessionState(f.state),
		WithViewport(FixedViewport{Width: 1000, Height: 800}),
		WithClock(f.clock.Now),
	)
	return f
}

func (f *fixture) init(t *testing.T) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Calibration = fastTiming()
	if err := f.tr.Init(context.Background(), cfg); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
}
