// Package aoi measures gaze coverage of marked regions of interest.
package aoi

import (
	"fmt"
	"math"

	"github.com/vincentbai/gazetrace-agent/internal/models"
)

// MaxSampleGap is the largest inter-sample delta, in milliseconds, that
// still counts as dwell. Longer gaps are calibration breaks or dropouts.
const MaxSampleGap = 500.0

// Region is a marked element. Bounds is read on every call because the
// layout can shift between samples.
type Region interface {
	Label() string
	Bounds() models.Rect
}

// Source enumerates the regions currently marked on the page.
type Source interface {
	Regions() []Region
}

type StaticRegion struct {
	Name string
	Rect models.Rect
}

func (r StaticRegion) Label() string { return r.Name }
func (r StaticRegion) Bounds() models.Rect { return r.Rect }

type StaticSource []Region

func (s StaticSource) Regions() []Region { return s }

// SourceFromSpecs adapts regions reported by the browser.
func SourceFromSpecs(specs []models.RegionSpec) StaticSource {
	source := make(StaticSource, 0, len(specs))
	for _, s := range specs {
		source = append(source, StaticRegion{Name: s.Label, Rect: s.Rect})
	}
	return source
}

// IsGazeOnElement reports whether (x, y) lies inside the region, edges included.
func IsGazeOnElement(x, y float64, region Region) bool {
	bounds := region.Bounds()
	return x >= bounds.Left() && x <= bounds.Right() &&
		y >= bounds.Top() && y <= bounds.Bottom()
}

// labels returns a unique key per region, in order. Unlabelled regions
// become aoi-<index>; repeats get -2, -3, ... suffixes.
func labels(regions []Region) []string {
	keys := make([]string, len(regions))
	used := make(map[string]bool, len(regions))
	for i, region := range regions {
		base := region.Label()
		if base == "" {
			base = fmt.Sprintf("aoi-%d", i)
		}
		key := base
		for n := 2; used[key]; n++ {
			key = fmt.Sprintf("%s-%d", base, n)
		}
		used[key] = true
		keys[i] = key
	}
	return keys
}

func validGap(delta float64) bool {
	return !math.IsNaN(delta) && !math.IsInf(delta, 0) && delta > 0 && delta < MaxSampleGap
}

// CalculateDwellTimeOnAOIs credits each inter-sample delta to every
// region containing the earlier sample of the pair.
func CalculateDwellTimeOnAOIs(source Source, points []models.GazePoint) models.DwellTimes {
	regions := source.Regions()
	keys := labels(regions)

	dwell := make(models.DwellTimes, len(regions))
	for _, key := range keys {
		dwell[key] = 0
	}

	for i := 0; i+1 < len(points); i++ {
		current, next := points[i], points[i+1]
		delta := next.Timestamp - current.Timestamp
		if !validGap(delta) {
			continue
		}
		for j, region := range regions {
			if IsGazeOnElement(current.X, current.Y, region) {
				dwell[keys[j]] += delta
			}
		}
	}
	return dwell
}

// CalculateGazeStats summarises how much of the sequence lands on region.
// DwellSpan is last minus first hit, a coarse proxy that is not the same
// measure as CalculateDwellTimeOnAOIs.
func CalculateGazeStats(region Region, points []models.GazePoint, window *models.TimeRange) models.GazeStats {
	var stats models.GazeStats
	for _, point := range points {
		if window != nil && (point.Timestamp < window.Start || point.Timestamp > window.End) {
			continue
		}
		stats.TotalPoints++
		if !IsGazeOnElement(point.X, point.Y, region) {
			continue
		}
		stats.PointsOnElement++
		ts := point.Timestamp
		if stats.FirstTimestamp == nil {
			stats.FirstTimestamp = &ts
		}
		stats.LastTimestamp = &ts
	}

	if stats.TotalPoints > 0 {
		stats.Percentage = float64(stats.PointsOnElement) / float64(stats.TotalPoints) * 100
	}
	if stats.FirstTimestamp != nil {
		stats.DwellSpan = *stats.LastTimestamp - *stats.FirstTimestamp
	}
	return stats
}
