package engine

import (
	"time"
)

// Option is a functional option for configuring an Engine.
type Option func(*engineImpl)

// WithProfiling enables or disables performance logging.
//
// Parameters:
//   - enabled: if true, enables the profiler
//
// Returns:
//   - Option: option function to apply
func WithProfiling(enabled bool) Option {
	return func(e *engineImpl) {
		e.profilingEnabled = enabled
	}
}

// WithTickRate sets the logic tick rate in ticks per second. Values <= 0 keep
// the 60Hz default.
//
// Parameters:
//   - tps: target ticks per second
//
// Returns:
//   - Option: option function to apply
func WithTickRate(tps float64) Option {
	return func(e *engineImpl) {
		if tps > 0 {
			e.tickRate = time.Second / time.Duration(tps)
		}
	}
}

// WithResizeCallback registers a callback invoked after the renderer has
// resized its targets for a new framebuffer size. Useful for keeping a
// camera's aspect ratio in sync.
//
// Parameters:
//   - callback: function receiving the new framebuffer size in pixels
//
// Returns:
//   - Option: option function to apply
func WithResizeCallback(callback func(width, height int)) Option {
	return func(e *engineImpl) {
		e.resizeCallback = callback
	}
}

// WithTickCallback registers the logic tick callback at construction.
//
// Parameters:
//   - callback: function receiving the delta time in seconds
//
// Returns:
//   - Option: option function to apply
func WithTickCallback(callback func(deltaTime float32)) Option {
	return func(e *engineImpl) {
		e.tickCallback = callback
	}
}
