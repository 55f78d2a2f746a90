// package engine wires the window, scene, and renderer into the viewer's
// frame loop: logic ticks on a fixed-rate goroutine, rendering runs on the
// window thread one stage sequence per frame.
package engine

import (
	"log"
	"sync"
	"time"

	"github.com/Taskeren/alkahest/common"
	"github.com/Taskeren/alkahest/engine/drawable"
	"github.com/Taskeren/alkahest/engine/gpu"
	"github.com/Taskeren/alkahest/engine/profiler"
	"github.com/Taskeren/alkahest/engine/renderer"
	"github.com/Taskeren/alkahest/engine/scene"
	"github.com/Taskeren/alkahest/engine/window"
)

// Engine is the viewer's main entry point. It owns the frame loop and the
// fixed-rate logic tick.
type Engine interface {
	// Window returns the underlying window.
	Window() window.Window

	// Scene returns the scene the frame loop dispatches from.
	Scene() scene.Scene

	// Renderer returns the frame renderer.
	Renderer() *renderer.Renderer

	// EnableProfiler enables performance logging.
	EnableProfiler()

	// DisableProfiler disables performance logging.
	DisableProfiler()

	// SetTickRate sets the logic tick rate in ticks per second.
	//
	// Parameters:
	//   - tps: target ticks per second (defaults to 60 if <= 0)
	SetTickRate(tps float64)

	// SetTickCallback registers the function called each logic tick, for
	// camera movement and scene updates.
	//
	// Parameters:
	//   - callback: function receiving the delta time in seconds
	SetTickCallback(callback func(deltaTime float32))

	// Run starts the frame loop and blocks until the window closes.
	Run()

	// Quit stops the logic goroutine and closes the loop. Safe to call more
	// than once.
	Quit()
}

type engineImpl struct {
	win  window.Window
	sc   scene.Scene
	rend *renderer.Renderer

	prof             *profiler.Profiler
	profilingEnabled bool

	tickRate        time.Duration
	tickRateChannel chan time.Duration
	tickCallback    func(deltaTime float32)
	resizeCallback  func(width, height int)

	quitChannel chan struct{}
	quitOnce    sync.Once
	wg          sync.WaitGroup
}

var _ Engine = &engineImpl{}

// New creates an engine over an opened window, a scene, and a renderer.
// Panics if any of them is nil. The window's resize events are wired to the
// renderer's G-buffer recreation.
func New(win window.Window, sc scene.Scene, rend *renderer.Renderer, options ...Option) Engine {
	if win == nil || sc == nil || rend == nil {
		panic("engine: window, scene, and renderer must not be nil")
	}

	e := &engineImpl{
		win:             win,
		sc:              sc,
		rend:            rend,
		prof:            profiler.New(),
		tickRate:        time.Second / 60,
		tickRateChannel: make(chan time.Duration, 1),
		quitChannel:     make(chan struct{}),
	}
	for _, opt := range options {
		opt(e)
	}

	win.SetResizeCallback(func(width, height int) {
		if err := rend.Resize(sizeOf(width, height)); err != nil {
			log.Printf("[engine] resize failed: %v", err)
		}
		if e.resizeCallback != nil {
			e.resizeCallback(width, height)
		}
	})
	win.SetUpdateCallback(e.renderFrame)

	return e
}

func (e *engineImpl) Window() window.Window {
	return e.win
}

func (e *engineImpl) Scene() scene.Scene {
	return e.sc
}

func (e *engineImpl) Renderer() *renderer.Renderer {
	return e.rend
}

func (e *engineImpl) EnableProfiler() {
	e.profilingEnabled = true
}

func (e *engineImpl) DisableProfiler() {
	e.profilingEnabled = false
}

func (e *engineImpl) SetTickRate(tps float64) {
	if tps <= 0 {
		tps = 60
	}
	newRate := time.Second / time.Duration(tps)

	select {
	case e.tickRateChannel <- newRate:
	default:
		select {
		case <-e.tickRateChannel:
		default:
		}
		e.tickRateChannel <- newRate
	}
}

func (e *engineImpl) SetTickCallback(callback func(deltaTime float32)) {
	e.tickCallback = callback
}

func (e *engineImpl) Run() {
	e.wg.Add(1)
	go e.handleTick()

	e.win.ProcessMessages()
	e.Quit()
	e.wg.Wait()
}

func (e *engineImpl) Quit() {
	e.quitOnce.Do(func() {
		close(e.quitChannel)
	})
}

// handleTick runs the fixed-rate logic loop in its own goroutine. Rendering
// stays on the window thread; this loop only advances scene state.
func (e *engineImpl) handleTick() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.tickRate)
	defer ticker.Stop()

	lastTick := time.Now()
	for {
		select {
		case <-e.quitChannel:
			return
		case <-ticker.C:
			now := time.Now()
			dt := float32(now.Sub(lastTick).Seconds())
			lastTick = now

			if e.tickCallback != nil {
				e.tickCallback(dt)
			}
		case newRate := <-e.tickRateChannel:
			ticker.Reset(newRate)
			e.tickRate = newRate
		}
	}
}

// renderFrame executes one full frame: shadow refresh, the fixed stage
// sequence into the G-buffer, sky objects, SSAO, and the post-process chain.
func (e *engineImpl) renderFrame() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[engine] frame recovered from panic: %v", r)
			e.Quit()
		}
	}()

	if e.profilingEnabled {
		e.prof.BeginFrame()
	}

	e.rend.BeginFrame()
	e.rend.UpdateShadowMaps(e.sc)

	gb := e.rend.GBuffer()
	dev := e.rend.Device()

	if err := dev.SetRenderTargets(nil, gb.Depth.Texture); err != nil {
		log.Printf("[engine] depth prepass target bind failed: %v", err)
		return
	}
	if err := gb.Depth.Clear(dev); err != nil {
		log.Printf("[engine] depth clear failed: %v", err)
	}
	e.runStage(drawable.StageDepthPrepass)

	colors := []gpu.Texture{gb.RT0.Texture, gb.RT1.Texture, gb.RT2.Texture, gb.RT3.Texture}
	if err := dev.SetRenderTargets(colors, gb.Depth.Texture); err != nil {
		log.Printf("[engine] gbuffer target bind failed: %v", err)
		return
	}
	e.runStage(drawable.StageGenerateGbuffer)

	if err := gb.Depth.CopyDepth(dev); err != nil {
		log.Printf("[engine] depth copy failed: %v", err)
	}
	if err := gb.RT1.CopyTo(dev, gb.RT1Read); err != nil {
		log.Printf("[engine] rt1 copy failed: %v", err)
	}

	if err := e.rend.DrawSSAO(); err != nil {
		log.Printf("[engine] ssao failed: %v", err)
	}

	if err := dev.SetRenderTargets(colors, gb.Depth.Texture); err == nil {
		e.runStage(drawable.StageDecals)
		e.runStage(drawable.StageDecalsAdditive)
		e.runStage(drawable.StageInvestmentDecals)
	}

	if err := dev.SetRenderTargets([]gpu.Texture{gb.ShadingResult.Texture}, gb.Depth.Texture); err == nil {
		e.runStage(drawable.StageTransparents)
		e.stageTimed("sky", func() { e.rend.DrawSkyObjects(e.sc) })
	}

	if err := e.rend.DrawPostProcess(); err != nil {
		log.Printf("[engine] postprocess failed: %v", err)
	}

	if err := e.rend.EndFrame(); err != nil {
		log.Printf("[engine] frame submit failed: %v", err)
	}

	if e.profilingEnabled {
		e.prof.Tick()
	}
}

func (e *engineImpl) runStage(stage drawable.RenderStage) {
	e.stageTimed(stage.String(), func() {
		e.rend.RunStage(e.sc, stage)
	})
}

func (e *engineImpl) stageTimed(name string, fn func()) {
	if !e.profilingEnabled {
		fn()
		return
	}
	start := time.Now()
	fn()
	e.prof.RecordStage(name, time.Since(start))
}

func sizeOf(width, height int) (s common.Size) {
	if width > 0 {
		s.Width = uint32(width)
	}
	if height > 0 {
		s.Height = uint32(height)
	}
	return s
}
