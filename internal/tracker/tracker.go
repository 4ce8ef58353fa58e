// Package tracker turns engine predictions into a page-tagged gaze
// sequence and drives calibration.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/vincentbai/gazetrace-agent/internal/engine"
	"github.com/vincentbai/gazetrace-agent/internal/events"
	"github.com/vincentbai/gazetrace-agent/internal/logger"
	"github.com/vincentbai/gazetrace-agent/internal/metrics"
	"github.com/vincentbai/gazetrace-agent/internal/models"
	"github.com/vincentbai/gazetrace-agent/internal/session"
)

var (
	ErrNotInitialized        = errors.New("tracker not initialized")
	ErrInitFailed            = errors.New("gaze engine initialization failed")
	ErrCalibrationInProgress = errors.New("calibration already in progress")
	ErrCalibrationCancelled  = errors.New("calibration cancelled")
	ErrNoViewport            = errors.New("no viewport to place calibration targets")
)

const (
	DefaultRegression     = "ridge"
	DefaultFeatureTracker = "TFFacemesh"
)

type Config struct {
	Regression           string
	FeatureTracker       string
	ShowVideo            bool
	ShowPredictionPoints bool
	Calibration          CalibrationTiming
}

func DefaultConfig() Config {
	return Config{
		Regression:     DefaultRegression,
		FeatureTracker: DefaultFeatureTracker,
		Calibration:    DefaultCalibrationTiming(),
	}
}

// Viewport reports the participant's current viewport in CSS pixels.
type Viewport interface {
	ViewportSize() models.Size
}

type FixedViewport models.Size

func (v FixedViewport) ViewportSize() models.Size { return models.Size(v) }

type Option func(*Tracker)

func WithLogger(log logger.Logger) Option {
	return func(t *Tracker) { t.logger = log }
}

func WithBus(bus *events.Bus) Option {
	return func(t *Tracker) { t.bus = bus }
}

func WithSessionState(state *session.State) Option {
	return func(t *Tracker) { t.state = state }
}

func WithViewport(viewport Viewport) Option {
	return func(t *Tracker) { t.viewport = viewport }
}

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

// Tracker is the gaze capture adapter. The sequence it owns is only
// appended to, except by ClearData.
type Tracker struct {
	engine   engine.Engine
	logger   logger.Logger
	bus      *events.Bus
	state    *session.State
	viewport Viewport
	now      func() time.Time
	metrics  *metrics.Metrics

	mu          sync.Mutex
	initialized bool
	active      bool
	paused      bool
	startedAt   time.Time
	page        string
	gaze        []models.GazePoint
	timing      CalibrationTiming
	calibration *models.CalibrationRecord
	calState    CalibrationState
}

func New(eng engine.Engine, opts ...Option) *Tracker {
	t := &Tracker{
		engine: eng,
		now:    time.Now,
		timing: DefaultCalibrationTiming(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = logger.NewNop()
	}
	if t.bus == nil {
		t.bus = events.NewBus(t.logger)
	}
	return t
}

func (t *Tracker) Bus() *events.Bus {
	return t.bus
}

func toMillis(ts time.Time) float64 {
	return float64(ts.UnixMicro()) / 1000
}

func validMillis(ms float64) bool {
	return ms > 0 && !math.IsNaN(ms) && !math.IsInf(ms, 0)
}

// Init configures and starts the engine. On failure the caller may carry
// on untracked; the error wraps ErrInitFailed.
func (t *Tracker) Init(ctx context.Context, cfg Config) error {
	if cfg.Regression == "" {
		cfg.Regression = DefaultRegression
	}
	if cfg.FeatureTracker == "" {
		cfg.FeatureTracker = DefaultFeatureTracker
	}
	if cfg.Calibration.SamplesPerPoint <= 0 {
		cfg.Calibration = DefaultCalibrationTiming()
	}

	t.engine.SetRegression(cfg.Regression)
	t.engine.SetTracker(cfg.FeatureTracker)
	t.engine.ShowVideo(cfg.ShowVideo)
	t.engine.ShowPredictionPoints(cfg.ShowPredictionPoints)
	t.engine.SetGazeListener(t.onPrediction)

	if err := t.engine.Begin(ctx); err != nil {
		wrapped := fmt.Errorf("%w: %w", ErrInitFailed, err)
		t.logger.Error("Gaze engine failed to start", logger.Error(err))
		t.bus.Publish(events.Event{Kind: events.InitFailed, Err: wrapped})
		return wrapped
	}

	t.mu.Lock()
	t.initialized = true
	t.active = true
	t.paused = false
	t.startedAt = t.now()
	t.timing = cfg.Calibration
	t.mu.Unlock()

	t.logger.Info("Gaze engine started",
		logger.String("regression", cfg.Regression),
		logger.String("tracker", cfg.FeatureTracker),
	)
	t.bus.Publish(events.Event{Kind: events.Initialized})
	return nil
}

func (t *Tracker) onPrediction(prediction *models.Prediction) {
	if prediction == nil {
		return
	}

	t.mu.Lock()
	if t.calState.Phase.Running() {
		t.mu.Unlock()
		t.metrics.RecordDroppedSample()
		return
	}
	ts := prediction.Timestamp
	if !validMillis(ts) {
		ts = toMillis(t.now())
	}
	elapsed := prediction.ElapsedTime
	if elapsed <= 0 {
		elapsed = ts - toMillis(t.startedAt)
	}
	point := models.GazePoint{
		X:           prediction.X,
		Y:           prediction.Y,
		Timestamp:   ts,
		ElapsedTime: elapsed,
		Page:        t.page,
	}
	t.gaze = append(t.gaze, point)
	t.mu.Unlock()

	t.metrics.RecordSample(point.Page)
	t.bus.Publish(events.Event{Kind: events.GazeSample, Point: &point})
}

func (t *Tracker) SetPage(page string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.page = page
}

// StartPage begins a fresh sequence for a newly loaded page. Unlike
// ClearData it leaves the engine's training data alone.
func (t *Tracker) StartPage(page string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.page = page
	t.gaze = nil
}

func (t *Tracker) Page() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.page
}

// Stop ends prediction. Safe to call repeatedly; it does nothing until the
// engine reports ready.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if !t.initialized || !t.engine.IsReady() {
		t.mu.Unlock()
		return
	}
	t.active = false
	t.paused = false
	t.mu.Unlock()

	t.engine.End()
	t.logger.Info("Gaze engine stopped")
}

func (t *Tracker) Pause() {
	t.mu.Lock()
	if !t.active || t.paused {
		t.mu.Unlock()
		return
	}
	t.paused = true
	t.mu.Unlock()

	t.engine.Pause()
}

func (t *Tracker) Resume() {
	t.mu.Lock()
	if !t.active || !t.paused {
		t.mu.Unlock()
		return
	}
	t.paused = false
	t.mu.Unlock()

	t.engine.Resume()
}

// ClearData empties the sequence and, while the engine runs, its
// training samples as well.
func (t *Tracker) ClearData() {
	t.mu.Lock()
	cleared := len(t.gaze)
	t.gaze = nil
	active := t.active
	t.mu.Unlock()

	if active {
		t.engine.ClearData()
	}
	t.logger.Debug("Gaze data cleared", logger.Int("points", cleared))
	t.bus.Publish(events.Event{Kind: events.DataCleared})
}

// GazeData returns a copy of the captured sequence.
func (t *Tracker) GazeData() []models.GazePoint {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.GazePoint, len(t.gaze))
	copy(out, t.gaze)
	return out
}

func (t *Tracker) IsInitialized() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.initialized
}

func (t *Tracker) IsActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active && !t.paused
}
