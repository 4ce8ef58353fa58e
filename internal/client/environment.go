// Package client holds what the participant's browser last reported
// about itself.
package client

import (
	"sync"

	"github.com/vincentbai/gazetrace-agent/internal/models"
)

// Environment is updated on every page load and resize report.
type Environment struct {
	mu        sync.RWMutex
	userAgent string
	screen    models.Size
	viewport  models.Size
}

func NewEnvironment() *Environment {
	return &Environment{}
}

// Update applies a report. Empty or zero fields keep their previous value.
func (e *Environment) Update(report models.ClientReport) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if report.UserAgent != "" {
		e.userAgent = report.UserAgent
	}
	if report.Screen.Width > 0 && report.Screen.Height > 0 {
		e.screen = report.Screen
	}
	if report.Viewport.Width > 0 && report.Viewport.Height > 0 {
		e.viewport = report.Viewport
	}
}

func (e *Environment) UserAgent() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.userAgent
}

func (e *Environment) ScreenSize() models.Size {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.screen
}

func (e *Environment) ViewportSize() models.Size {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.viewport
}
