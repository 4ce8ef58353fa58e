// Package export snapshots a session into the record handed to analysis.
package export

import (
	"time"

	"github.com/vincentbai/gazetrace-agent/internal/models"
)

// Source is satisfied by *tracker.Tracker.
type Source interface {
	GazeData() []models.GazePoint
	CalibrationRecord() *models.CalibrationRecord
}

// Environment is satisfied by *client.Environment.
type Environment interface {
	UserAgent() string
	ScreenSize() models.Size
	ViewportSize() models.Size
}

type Exporter struct {
	source Source
	env    Environment
	now    func() time.Time
}

func NewExporter(source Source, env Environment) *Exporter {
	return &Exporter{source: source, env: env, now: time.Now}
}

// ExportGazeData builds a snapshot. It performs no I/O; delivering the
// record is up to the caller.
func (e *Exporter) ExportGazeData() models.ExportRecord {
	gaze := e.source.GazeData()
	if gaze == nil {
		gaze = []models.GazePoint{}
	}
	return models.ExportRecord{
		GazeData:        gaze,
		CalibrationData: e.source.CalibrationRecord(),
		Metadata: models.ExportMetadata{
			UserAgent:        e.env.UserAgent(),
			ScreenResolution: e.env.ScreenSize().String(),
			ViewportSize:     e.env.ViewportSize().String(),
			ExportTime:       e.now().UTC().Format(time.RFC3339Nano),
		},
	}
}
