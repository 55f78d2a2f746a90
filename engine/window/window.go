// package window provides the viewer's platform window: GLFW-backed, exposing
// a WebGPU surface descriptor and the input events the orbit camera needs.
package window

import (
	"fmt"
	"runtime"

	"github.com/cogentcore/webgpu/wgpu"
)

// Window wraps the platform window with the capability set the viewer uses.
type Window interface {
	// SetUpdateCallback sets the function called each message loop iteration.
	//
	// Parameters:
	//   - callback: function to call (or nil to disable)
	SetUpdateCallback(callback func())

	// SetResizeCallback sets the function called when the framebuffer is
	// resized, receiving the new pixel dimensions.
	//
	// Parameters:
	//   - callback: function receiving new width and height in pixels
	SetResizeCallback(callback func(width, height int))

	// SetScrollCallback sets the callback for mouse scroll wheel events.
	//
	// Parameters:
	//   - callback: function receiving scroll delta (positive = zoom in)
	SetScrollCallback(callback func(delta float32))

	// SetKeyDownCallback sets the callback for key press events.
	//
	// Parameters:
	//   - callback: function receiving the key code
	SetKeyDownCallback(callback func(keyCode uint32))

	// SetOrbitDragCallback sets the callback for middle-mouse drag state,
	// which the viewer camera uses for orbiting.
	//
	// Parameters:
	//   - callback: function receiving drag active state and cursor position
	SetOrbitDragCallback(callback func(active bool, x, y int32))

	// SetMouseMoveCallback sets the callback for mouse movement.
	//
	// Parameters:
	//   - callback: function receiving mouse x, y position
	SetMouseMoveCallback(callback func(x, y int32))

	// SurfaceDescriptor returns a platform-appropriate wgpu.SurfaceDescriptor
	// for creating the WebGPU surface, or nil before initialization.
	SurfaceDescriptor() *wgpu.SurfaceDescriptor

	// IsRunning returns true while the window is open.
	IsRunning() bool

	// Close destroys the window and releases platform resources.
	Close() error

	// ProcessMessages runs the message loop until the window closes, calling
	// the update callback each iteration.
	ProcessMessages()

	// Width returns the framebuffer width in pixels.
	Width() int

	// Height returns the framebuffer height in pixels.
	Height() int
}

// Option configures a window before creation.
type Option func(*viewerWindow)

// WithTitle sets the window title.
func WithTitle(title string) Option {
	return func(w *viewerWindow) {
		w.title = title
	}
}

// WithSize sets the initial window size in screen coordinates.
func WithSize(width, height int) Option {
	return func(w *viewerWindow) {
		if width > 0 && height > 0 {
			w.width = width
			w.height = height
		}
	}
}

type viewerWindow struct {
	title  string
	width  int
	height int

	// internalWindow holds the platform-specific state (glfwWindow).
	internalWindow any

	onUpdate    func()
	onResize    func(width, height int)
	onScroll    func(delta float32)
	onKeyDown   func(keyCode uint32)
	onOrbitDrag func(active bool, x, y int32)
	onMouseMove func(x, y int32)
}

var _ Window = &viewerWindow{}

// New creates and opens a window. Panics if the platform window cannot be
// created; a viewer without a window cannot run.
//
// Parameters:
//   - options: functional options applied in order over the defaults
//
// Returns:
//   - Window: the opened window
func New(options ...Option) Window {
	w := &viewerWindow{
		title:  "Alkahest Viewer",
		width:  1280,
		height: 720,
	}
	for _, opt := range options {
		opt(w)
	}
	if err := newPlatformWindow(w); err != nil {
		panic(fmt.Sprintf("window: %v", err))
	}
	return w
}

func (w *viewerWindow) SetUpdateCallback(callback func()) {
	w.onUpdate = callback
}

func (w *viewerWindow) SetResizeCallback(callback func(width, height int)) {
	w.onResize = callback
}

func (w *viewerWindow) SetScrollCallback(callback func(delta float32)) {
	w.onScroll = callback
}

func (w *viewerWindow) SetKeyDownCallback(callback func(keyCode uint32)) {
	w.onKeyDown = callback
}

func (w *viewerWindow) SetOrbitDragCallback(callback func(active bool, x, y int32)) {
	w.onOrbitDrag = callback
}

func (w *viewerWindow) SetMouseMoveCallback(callback func(x, y int32)) {
	w.onMouseMove = callback
}

func (w *viewerWindow) SurfaceDescriptor() *wgpu.SurfaceDescriptor {
	return platformGetSurfaceDescriptor(w)
}

func (w *viewerWindow) IsRunning() bool {
	return platformIsRunningCheck(w)
}

func (w *viewerWindow) Close() error {
	return platformCloseWindow(w)
}

func (w *viewerWindow) ProcessMessages() {
	for w.IsRunning() {
		if ok := platformProcessMessages(w); !ok {
			break
		}

		if w.onUpdate != nil {
			w.onUpdate()
		}

		runtime.Gosched()
	}
}

func (w *viewerWindow) Width() int {
	return w.width
}

func (w *viewerWindow) Height() int {
	return w.height
}
