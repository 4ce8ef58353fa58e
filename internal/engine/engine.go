// Package engine defines the boundary to the gaze-prediction engine that
// runs in the participant's browser.
package engine

import (
	"context"

	"github.com/vincentbai/gazetrace-agent/internal/models"
)

// Listener receives predictions. A nil prediction means the engine could
// not produce one for that frame.
type Listener func(prediction *models.Prediction)

type Engine interface {
	SetRegression(name string)
	SetTracker(name string)
	ShowVideo(show bool)
	ShowPredictionPoints(show bool)
	SetGazeListener(listener Listener)
	Begin(ctx context.Context) error
	End()
	Pause()
	Resume()
	// ClearData discards the engine's regression training samples.
	ClearData()
	// RecordScreenPosition trains the regression with the current
	// feature state looking at (x, y) in pixels.
	RecordScreenPosition(x, y float64)
	IsReady() bool
}
