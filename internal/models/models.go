package models

import "fmt"

// GazePoint is one predicted gaze location. Timestamps are milliseconds.
type GazePoint struct {
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Timestamp   float64 `json:"timestamp"`   // ms since Unix epoch
	ElapsedTime float64 `json:"elapsedTime"` // ms since engine start
	Page        string  `json:"page"`
}

// Position is a calibration target in percent of the viewport.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type CalibrationRecord struct {
	Positions []Position `json:"positions"`
	Timestamp float64    `json:"timestamp"`
	Completed bool       `json:"completed"`
}

type ExportMetadata struct {
	UserAgent        string `json:"userAgent"`
	ScreenResolution string `json:"screenResolution"`
	ViewportSize     string `json:"viewportSize"`
	ExportTime       string `json:"exportTime"`
}

type ExportRecord struct {
	GazeData        []GazePoint        `json:"gazeData"`
	CalibrationData *CalibrationRecord `json:"calibrationData"` // nullable
	Metadata        ExportMetadata     `json:"metadata"`
}

// Size is a width/height pair in CSS pixels.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (s Size) String() string {
	return fmt.Sprintf("%gx%g", s.Width, s.Height)
}

type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (r Rect) Left() float64 { return r.X }
func (r Rect) Top() float64 { return r.Y }
func (r Rect) Right() float64 { return r.X + r.Width }
func (r Rect) Bottom() float64 { return r.Y + r.Height }

// Prediction is a raw sample from the gaze-prediction engine. Timestamp
// is when the engine produced it, in ms since the Unix epoch; zero when
// the engine does not report one.
type Prediction struct {
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Timestamp   float64 `json:"timestamp,omitempty"`
	ElapsedTime float64 `json:"elapsedTime"`
}

// GazeBatch is the body the browser posts to /gaze. Null entries are
// predictions the engine could not make.
type GazeBatch struct {
	Predictions []*Prediction `json:"predictions"`
}

// ClientReport is posted by the browser on page load and on resize.
type ClientReport struct {
	Page      string `json:"page"`
	UserAgent string `json:"userAgent"`
	Screen    Size   `json:"screen"`
	Viewport  Size   `json:"viewport"`
}

type DwellTimes map[string]float64

type GazeStats struct {
	TotalPoints     int      `json:"totalPoints"`
	PointsOnElement int      `json:"pointsOnElement"`
	Percentage      float64  `json:"percentage"`
	FirstTimestamp  *float64 `json:"firstTimestamp"` // nullable
	LastTimestamp   *float64 `json:"lastTimestamp"`  // nullable
	DwellSpan       float64  `json:"dwellSpan"`
}

// TimeRange bounds a window of timestamps, inclusive on both ends.
type TimeRange struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// RegionSpec is how the browser describes a marked region to the agent.
type RegionSpec struct {
	Label string `json:"label"`
	Rect
}

type DwellRequest struct {
	Regions []RegionSpec `json:"regions"`
}

type StatsRequest struct {
	Region    RegionSpec `json:"region"`
	TimeRange *TimeRange `json:"timeRange"` // optional
}

// StoredExport is an export row as kept in the database.
type StoredExport struct {
	ID         string `json:"id"`
	SessionID  string `json:"sessionId"`
	CreatedUTC int64  `json:"createdUtc"`
	Points     int    `json:"points"`
	Bytes      int    `json:"bytes"`
	Calibrated bool   `json:"calibrated"`
}
