package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/vincentbai/gazetrace-agent/internal/models"
)

// CommandType names an instruction the browser-side engine must apply.
type CommandType string

const (
	CommandSetRegression        CommandType = "set_regression"
	CommandSetTracker           CommandType = "set_tracker"
	CommandShowVideo            CommandType = "show_video"
	CommandShowPredictionPoints CommandType = "show_prediction_points"
	CommandBegin                CommandType = "begin"
	CommandEnd                  CommandType = "end"
	CommandPause                CommandType = "pause"
	CommandResume               CommandType = "resume"
	CommandClearData            CommandType = "clear_data"
	CommandRecordScreenPosition CommandType = "record_screen_position"
)

type Command struct {
	Type CommandType `json:"type"`
	Name string      `json:"name,omitempty"`
	Show *bool       `json:"show,omitempty"`
	X    *float64    `json:"x,omitempty"`
	Y    *float64    `json:"y,omitempty"`
}

// maxQueuedCommands bounds the queue when the browser stops polling.
const maxQueuedCommands = 4096

var (
	ErrRegressionNotSet = errors.New("regression strategy not set")
	ErrTrackerNotSet    = errors.New("feature tracker not set")
)

// Remote mirrors an engine running in the browser. Predictions come in
// through Deliver; everything the agent asks of the engine is queued for
// the browser to pick up with DrainCommands.
type Remote struct {
	mu         sync.Mutex
	regression string
	tracker    string
	listener   Listener
	running    bool
	paused     bool
	commands   []Command
	dropped    int
}

func NewRemote() *Remote {
	return &Remote{}
}

func (r *Remote) enqueue(command Command) {
	if len(r.commands) >= maxQueuedCommands {
		r.commands = r.commands[1:]
		r.dropped++
	}
	r.commands = append(r.commands, command)
}

func (r *Remote) SetRegression(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.regression = name
	r.enqueue(Command{Type: CommandSetRegression, Name: name})
}

func (r *Remote) SetTracker(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tracker = name
	r.enqueue(Command{Type: CommandSetTracker, Name: name})
}

func (r *Remote) ShowVideo(show bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enqueue(Command{Type: CommandShowVideo, Show: &show})
}

func (r *Remote) ShowPredictionPoints(show bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enqueue(Command{Type: CommandShowPredictionPoints, Show: &show})
}

func (r *Remote) SetGazeListener(listener Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listener = listener
}

func (r *Remote) Begin(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.regression == "" {
		return ErrRegressionNotSet
	}
	if r.tracker == "" {
		return ErrTrackerNotSet
	}
	r.running = true
	r.paused = false
	r.enqueue(Command{Type: CommandBegin})
	return nil
}

func (r *Remote) End() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = false
	r.paused = false
	r.enqueue(Command{Type: CommandEnd})
}

func (r *Remote) Pause() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused = true
	r.enqueue(Command{Type: CommandPause})
}

func (r *Remote) Resume() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused = false
	r.enqueue(Command{Type: CommandResume})
}

func (r *Remote) ClearData() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enqueue(Command{Type: CommandClearData})
}

func (r *Remote) RecordScreenPosition(x, y float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enqueue(Command{Type: CommandRecordScreenPosition, X: &x, Y: &y})
}

func (r *Remote) IsReady() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Deliver hands a browser prediction to the listener. It reports whether
// the prediction was forwarded.
func (r *Remote) Deliver(prediction *models.Prediction) bool {
	r.mu.Lock()
	listener := r.listener
	active := r.running && !r.paused
	r.mu.Unlock()

	if prediction == nil || listener == nil || !active {
		return false
	}
	listener(prediction)
	return true
}

// DrainCommands returns and clears queued commands, plus how many were
// dropped because the queue overflowed since the last drain.
func (r *Remote) DrainCommands() ([]Command, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	commands := r.commands
	dropped := r.dropped
	r.commands = nil
	r.dropped = 0
	return commands, dropped
}
