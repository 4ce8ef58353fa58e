// Package events is a small typed publish/subscribe bus for tracker
// lifecycle notifications.
package events

import (
	"sync"

	"github.com/vincentbai/gazetrace-agent/internal/logger"
	"github.com/vincentbai/gazetrace-agent/internal/models"
)

type Kind int

const (
	Initialized Kind = iota + 1
	InitFailed
	GazeSample
	CalibrationStarted
	CalibrationTarget
	CalibrationTargetDone
	CalibrationComplete
	CalibrationCancelled
	DataCleared
)

var kindNames = map[Kind]string{
	Initialized:           "initialized",
	InitFailed:            "init_failed",
	GazeSample:            "gaze_sample",
	CalibrationStarted:    "calibration_started",
	CalibrationTarget:     "calibration_target",
	CalibrationTargetDone: "calibration_target_done",
	CalibrationComplete:   "calibration_complete",
	CalibrationCancelled:  "calibration_cancelled",
	DataCleared:           "data_cleared",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Target describes a calibration target being shown, in both percent
// and pixel coordinates.
type Target struct {
	Index    int             `json:"index"`
	Position models.Position `json:"position"`
	PixelX   float64         `json:"pixelX"`
	PixelY   float64         `json:"pixelY"`
}

// Event carries whichever payload fits its Kind; other fields are zero.
type Event struct {
	Kind   Kind
	Point  *models.GazePoint
	Target *Target
	Record *models.CalibrationRecord
	Err    error
}

type Handler func(Event)

type subscription struct {
	id      uint64
	handler Handler
}

// Bus dispatches synchronously, in subscription order, on the
// publisher's goroutine.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[Kind][]subscription
	logger logger.Logger
}

func NewBus(log logger.Logger) *Bus {
	if log == nil {
		log = logger.NewNop()
	}
	return &Bus{
		subs:   make(map[Kind][]subscription),
		logger: log,
	}
}

// Subscribe registers handler for kind and returns a function that removes it.
func (b *Bus) Subscribe(kind Kind, handler Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[kind] = append(b.subs[kind], subscription{id: id, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(kind, id) })
	}
}

func (b *Bus) remove(kind Kind, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[kind]
	for i, s := range subs {
		if s.id == id {
			b.subs[kind] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	subs := append([]subscription(nil), b.subs[event.Kind]...)
	b.mu.RUnlock()

	for _, s := range subs {
		b.dispatch(s, event)
	}
}

func (b *Bus) dispatch(s subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Event handler panicked",
				logger.String("kind", event.Kind.String()),
				logger.Any("panic", r),
			)
		}
	}()
	s.handler(event)
}
