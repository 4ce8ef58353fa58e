package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/vincentbai/gazetrace-agent/internal/models"
)

const (
	KeyCalibrationCompleted = "calibrationCompleted"
	KeyCalibrationTimestamp = "calibrationTimestamp"
	KeyCalibrationData      = "calibrationData"

	flagTrue = "true"
)

var ErrIncompleteCalibration = errors.New("calibration not completed")

// State reads and writes the calibration flags of one session.
type State struct {
	store Store
}

func NewState(store Store) *State {
	return &State{store: store}
}

// SaveCalibrationState persists a completed calibration. Incomplete
// records are refused so no later page trusts a partial calibration.
func (s *State) SaveCalibrationState(ctx context.Context, record models.CalibrationRecord) error {
	if !record.Completed {
		return ErrIncompleteCalibration
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal calibration: %w", err)
	}

	// Flag goes last: a failure part way leaves the state unreadable, not trusted.
	if err := s.store.Set(ctx, KeyCalibrationData, string(data)); err != nil {
		return fmt.Errorf("failed to save calibration data: %w", err)
	}
	if err := s.store.Set(ctx, KeyCalibrationTimestamp, strconv.FormatFloat(record.Timestamp, 'f', -1, 64)); err != nil {
		return fmt.Errorf("failed to save calibration timestamp: %w", err)
	}
	if err := s.store.Set(ctx, KeyCalibrationCompleted, flagTrue); err != nil {
		return fmt.Errorf("failed to save calibration flag: %w", err)
	}
	return nil
}

// LoadCalibrationState returns the persisted record. Missing, partial or
// corrupted state reads as not calibrated; it is never an error.
func (s *State) LoadCalibrationState(ctx context.Context) (*models.CalibrationRecord, bool) {
	flag, ok, err := s.store.Get(ctx, KeyCalibrationCompleted)
	if err != nil || !ok || flag != flagTrue {
		return nil, false
	}
	if _, ok, err := s.store.Get(ctx, KeyCalibrationTimestamp); err != nil || !ok {
		return nil, false
	}
	data, ok, err := s.store.Get(ctx, KeyCalibrationData)
	if err != nil || !ok {
		return nil, false
	}

	var record models.CalibrationRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil || !record.Completed {
		return nil, false
	}
	return &record, true
}

// PersistedFlag reports whether the completion flag is set, without
// looking at the other keys.
func (s *State) PersistedFlag(ctx context.Context) bool {
	flag, ok, err := s.store.Get(ctx, KeyCalibrationCompleted)
	return err == nil && ok && flag == flagTrue
}

func (s *State) Clear(ctx context.Context) error {
	for _, key := range []string{KeyCalibrationCompleted, KeyCalibrationTimestamp, KeyCalibrationData} {
		if err := s.store.Delete(ctx, key); err != nil {
			return fmt.Errorf("failed to clear %s: %w", key, err)
		}
	}
	return nil
}
