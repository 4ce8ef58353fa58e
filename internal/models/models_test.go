package models

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestExportRecordJSONRoundTrip(t *testing.T) {
	record := ExportRecord{
		GazeData: []GazePoint{
			{X: 10, Y: 20, Timestamp: 1700000000000, ElapsedTime: 12.5, Page: "passage-1"},
			{X: 11.25, Y: 19.75, Timestamp: 1700000000033, ElapsedTime: 45.5, Page: "passage-1"},
		},
		CalibrationData: &CalibrationRecord{
			Positions: []Position{{X: 10, Y: 10}, {X: 50, Y: 50}},
			Timestamp: 1699999990000,
			Completed: true,
		},
		Metadata: ExportMetadata{
			UserAgent:        "Mozilla/5.0",
			ScreenResolution: "1920x1080",
			ViewportSize:     "1280x720",
			ExportTime:       "2026-10-19T08:00:00Z",
		},
	}

	jsonData, err := json.Marshal(record)
	if err != nil {
		t.Fatalf("Failed to marshal export: %v", err)
	}

	var unmarshaled ExportRecord
	if err := json.Unmarshal(jsonData, &unmarshaled); err != nil {
		t.Fatalf("Failed to unmarshal export: %v", err)
	}

	if !reflect.DeepEqual(unmarshaled.GazeData, record.GazeData) {
		t.Errorf("GazeData mismatch: got %+v, want %+v", unmarshaled.GazeData, record.GazeData)
	}
	if !reflect.DeepEqual(unmarshaled.CalibrationData, record.CalibrationData) {
		t.Errorf("CalibrationData mismatch: got %+v, want %+v", unmarshaled.CalibrationData, record.CalibrationData)
	}
}

func TestExportWithNullCalibration(t *testing.T) {
	record := ExportRecord{GazeData: []GazePoint{}}

	jsonData, err := json.Marshal(record)
	if err != nil {
		t.Fatalf("Failed to marshal export with null calibration: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(jsonData, &raw); err != nil {
		t.Fatalf("Failed to unmarshal export: %v", err)
	}
	if value, ok := raw["calibrationData"]; !ok || value != nil {
		t.Errorf("Expected calibrationData to be null, got %v", value)
	}
}

func TestGazeBatchWithNullPrediction(t *testing.T) {
	body := []byte(`{"predictions":[{"x":1,"y":2,"elapsedTime":3},null]}`)

	var batch GazeBatch
	if err := json.Unmarshal(body, &batch); err != nil {
		t.Fatalf("Failed to unmarshal batch: %v", err)
	}
	if len(batch.Predictions) != 2 {
		t.Fatalf("Expected 2 predictions, got %d", len(batch.Predictions))
	}
	if batch.Predictions[1] != nil {
		t.Errorf("Expected second prediction to be nil, got %+v", batch.Predictions[1])
	}
}

func TestRectEdges(t *testing.T) {
	r := Rect{X: 5, Y: 10, Width: 20, Height: 30}
	if r.Right() != 25 || r.Bottom() != 40 {
		t.Errorf("Unexpected edges: right=%v bottom=%v", r.Right(), r.Bottom())
	}
}

func TestSizeString(t *testing.T) {
	if got := (Size{Width: 1920, Height: 1080}).String(); got != "1920x1080" {
		t.Errorf("Size.String() = %s, want 1920x1080", got)
	}
}

func TestStatsRequestRegionFlattened(t *testing.T) {
	body := []byte(`{"region":{"label":"title","x":0,"y":0,"width":20,"height":20}}`)

	var request StatsRequest
	if err := json.Unmarshal(body, &request); err != nil {
		t.Fatalf("Failed to unmarshal stats request: %v", err)
	}
	if request.Region.Label != "title" || request.Region.Width != 20 {
		t.Errorf("Unexpected region: %+v", request.Region)
	}
	if request.TimeRange != nil {
		t.Errorf("Expected nil time range, got %+v", request.TimeRange)
	}
}
