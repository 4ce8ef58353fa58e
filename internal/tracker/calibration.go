package tracker

import (
	"context"
	"fmt"
	"time"

	"github.com/vincentbai/gazetrace-agent/internal/events"
	"github.com/vincentbai/gazetrace-agent/internal/logger"
	"github.com/vincentbai/gazetrace-agent/internal/metrics"
	"github.com/vincentbai/gazetrace-agent/internal/models"
	"github.com/vincentbai/gazetrace-agent/internal/session"
)

// CalibrationTiming is fixed per tracker. More samples per target trade
// calibration time for regression accuracy.
type CalibrationTiming struct {
	SamplesPerPoint int
	SampleDelay     time.Duration
	SettleDelay     time.Duration
}

func DefaultCalibrationTiming() CalibrationTiming {
	return CalibrationTiming{
		SamplesPerPoint: 5,
		SampleDelay:     100 * time.Millisecond,
		SettleDelay:     500 * time.Millisecond,
	}
}

// DefaultPositions is a 9-point grid in percent of the viewport.
var DefaultPositions = []models.Position{
	{X: 10, Y: 10}, {X: 50, Y: 10}, {X: 90, Y: 10},
	{X: 10, Y: 50}, {X: 50, Y: 50}, {X: 90, Y: 50},
	{X: 10, Y: 90}, {X: 50, Y: 90}, {X: 90, Y: 90},
}

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAwaitingTarget
	PhaseSamplingTarget
	PhaseSettling
	PhaseComplete
	PhaseCancelled
)

var phaseNames = [...]string{"idle", "awaiting_target", "sampling_target", "settling", "complete", "cancelled"}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return "unknown"
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Running reports whether a calibration sequence owns the engine.
func (p Phase) Running() bool {
	return p == PhaseAwaitingTarget || p == PhaseSamplingTarget || p == PhaseSettling
}

type CalibrationState struct {
	Phase  Phase `json:"phase"`
	Target int   `json:"target"`
	Total  int   `json:"total"`
}

func usable(viewport models.Size) bool {
	return viewport.Width > 0 && viewport.Height > 0
}

// ToPixels converts a percentage position against a viewport size.
func ToPixels(position models.Position, viewport models.Size) (float64, float64) {
	return position.X / 100 * viewport.Width, position.Y / 100 * viewport.Height
}

func (t *Tracker) CalibrationState() CalibrationState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calState
}

// CalibrationRecord returns a copy of the current record, or nil.
func (t *Tracker) CalibrationRecord() *models.CalibrationRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.calibration == nil {
		return nil
	}
	record := *t.calibration
	record.Positions = append([]models.Position(nil), t.calibration.Positions...)
	return &record
}

func (t *Tracker) setPhase(phase Phase, target int) {
	t.mu.Lock()
	t.calState.Phase = phase
	t.calState.Target = target
	t.mu.Unlock()
}

// wait blocks for d or until ctx is done.
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Calibrate visits each target in order, training the engine on it, and
// returns the completed record. Cancelling ctx abandons the sequence; the
// record is discarded and never persisted, and a record completed by an
// earlier run stays current. Nil positions use DefaultPositions.
func (t *Tracker) Calibrate(ctx context.Context, positions []models.Position) (models.CalibrationRecord, error) {
	if len(positions) == 0 {
		positions = DefaultPositions
	}
	positions = append([]models.Position(nil), positions...)

	t.mu.Lock()
	if !t.initialized {
		t.mu.Unlock()
		return models.CalibrationRecord{}, ErrNotInitialized
	}
	if t.calState.Phase.Running() {
		t.mu.Unlock()
		return models.CalibrationRecord{}, ErrCalibrationInProgress
	}
	if t.viewport == nil || !usable(t.viewport.ViewportSize()) {
		t.mu.Unlock()
		return models.CalibrationRecord{}, ErrNoViewport
	}
	record := models.CalibrationRecord{
		Positions: positions,
		Timestamp: toMillis(t.now()),
	}
	t.calState = CalibrationState{Phase: PhaseAwaitingTarget, Total: len(positions)}
	timing := t.timing
	t.mu.Unlock()

	started := time.Now()
	t.logger.Info("Calibration started", logger.Int("targets", len(positions)))
	t.bus.Publish(events.Event{Kind: events.CalibrationStarted, Record: &record})

	var x, y float64
	index := 0
	for {
		switch t.CalibrationState().Phase {
		case PhaseAwaitingTarget:
			viewport := t.viewport.ViewportSize()
			if !usable(viewport) {
				return t.cancelCalibration(index, ErrNoViewport)
			}
			x, y = ToPixels(positions[index], viewport)
			t.setPhase(PhaseSamplingTarget, index)
			t.bus.Publish(events.Event{
				Kind:   events.CalibrationTarget,
				Target: &events.Target{Index: index, Position: positions[index], PixelX: x, PixelY: y},
			})

		case PhaseSamplingTarget:
			if err := t.sampleTarget(ctx, timing, x, y); err != nil {
				return t.cancelCalibration(index, err)
			}
			t.bus.Publish(events.Event{
				Kind:   events.CalibrationTargetDone,
				Target: &events.Target{Index: index, Position: positions[index], PixelX: x, PixelY: y},
			})
			if index == len(positions)-1 {
				t.setPhase(PhaseComplete, index)
			} else {
				t.setPhase(PhaseSettling, index)
			}

		case PhaseSettling:
			if err := wait(ctx, timing.SettleDelay); err != nil {
				return t.cancelCalibration(index, err)
			}
			index++
			t.setPhase(PhaseAwaitingTarget, index)

		case PhaseComplete:
			record.Completed = true
			return t.completeCalibration(ctx, record, time.Since(started)), nil

		default:
			return models.CalibrationRecord{}, fmt.Errorf("unexpected calibration phase %s", t.CalibrationState().Phase)
		}
	}
}

func (t *Tracker) sampleTarget(ctx context.Context, timing CalibrationTiming, x, y float64) error {
	for i := 0; i < timing.SamplesPerPoint; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		t.engine.RecordScreenPosition(x, y)
		if err := wait(ctx, timing.SampleDelay); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tracker) cancelCalibration(index int, cause error) (models.CalibrationRecord, error) {
	t.setPhase(PhaseCancelled, index)
	t.metrics.RecordCalibration(metrics.OutcomeCancelled, 0)
	t.logger.Warn("Calibration cancelled", logger.Int("target", index), logger.Error(cause))
	t.bus.Publish(events.Event{Kind: events.CalibrationCancelled, Err: cause})
	return models.CalibrationRecord{}, fmt.Errorf("%w: %w", ErrCalibrationCancelled, cause)
}

func (t *Tracker) completeCalibration(ctx context.Context, record models.CalibrationRecord, took time.Duration) models.CalibrationRecord {
	t.mu.Lock()
	stored := record
	t.calibration = &stored
	t.mu.Unlock()

	if t.state != nil {
		if err := t.state.SaveCalibrationState(ctx, record); err != nil {
			t.logger.Error("Failed to persist calibration state", logger.Error(err))
		}
	}

	t.metrics.RecordCalibration(metrics.OutcomeCompleted, took.Seconds())
	t.logger.Info("Calibration complete",
		logger.Int("targets", len(record.Positions)),
		logger.Duration("took", took),
	)
	t.bus.Publish(events.Event{Kind: events.CalibrationComplete, Record: &record})
	return record
}

// SaveCalibrationState persists the current record if it is complete.
func (t *Tracker) SaveCalibrationState(ctx context.Context) error {
	if t.state == nil {
		return nil
	}
	record := t.CalibrationRecord()
	if record == nil {
		return session.ErrIncompleteCalibration
	}
	return t.state.SaveCalibrationState(ctx, *record)
}

// RestoreCalibration adopts a calibration persisted by an earlier page.
func (t *Tracker) RestoreCalibration(ctx context.Context) bool {
	if t.state == nil {
		return false
	}
	record, ok := t.state.LoadCalibrationState(ctx)
	if !ok {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.calState.Phase.Running() {
		return false
	}
	t.calibration = record
	t.calState = CalibrationState{Phase: PhaseComplete, Target: len(record.Positions) - 1, Total: len(record.Positions)}
	return true
}

// IsCalibrated needs both the in-memory record and the persisted flag to
// agree, so a reload without persisted confirmation never counts.
func (t *Tracker) IsCalibrated(ctx context.Context) bool {
	t.mu.Lock()
	completed := t.calibration != nil && t.calibration.Completed
	t.mu.Unlock()

	if !completed || t.state == nil {
		return false
	}
	return t.state.PersistedFlag(ctx)
}
