// package renderer is the frame orchestrator: it dispatches drawable systems
// per render stage, schedules shadow-map refreshes under a frame budget, and
// runs the post-process chain over the G-buffer's ping/pong targets.
package renderer

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Taskeren/alkahest/common"
	"github.com/Taskeren/alkahest/engine/assets"
	"github.com/Taskeren/alkahest/engine/drawable"
	"github.com/Taskeren/alkahest/engine/gbuffer"
	"github.com/Taskeren/alkahest/engine/gpu"
	"github.com/Taskeren/alkahest/engine/technique"
)

// shadowGenerationMode restricts which drawable categories run during a
// ShadowGenerate dispatch.
type shadowGenerationMode uint8

const (
	shadowModeAll shadowGenerationMode = iota
	shadowModeStationaryOnly
	shadowModeMovingOnly
)

// View is the active camera or shadow view bound for dispatch.
type View struct {
	// ViewProj is the combined view-projection matrix, row-major.
	ViewProj [16]float32

	// Position is the view origin in world space, used for sky-object sorting
	// and depth-probe distance.
	Position common.Vec3

	// Index is the view's visibility index in the scene's cull masks.
	Index uint32
}

// frameScope is the per-frame constant block layout.
type frameScope struct {
	Time       float32
	DeltaTime  float32
	Width      float32
	Height     float32
	FrameIndex uint32
	_          [3]uint32
}

// Renderer owns the G-buffer, the technique binder, and the per-frame view
// state. All methods are frame-synchronous and must be called from the render
// thread; the internal lock only guards against inspection from other threads.
type Renderer struct {
	mu *sync.Mutex

	dev     gpu.Device
	binder  technique.Binder
	assets  assets.Manager
	gbuffer *gbuffer.GBuffer

	// Settings is the external render configuration, read each frame.
	Settings Settings

	// ShaderBall is the optional material preview model. Unlike production
	// drawables its parts must have techniques; a missing one is a bug in the
	// preview assets and panics.
	ShaderBall *drawable.DynamicModel

	frameIndex  uint64
	presentable bool
	started     time.Time
	lastFrame   time.Time
	view        View
	frustum     common.Frustum
	shadowMode  shadowGenerationMode

	ssao *ssaoPass
	post *postProcessPasses
}

// New creates a renderer over a device at an initial output size.
//
// Parameters:
//   - dev: the graphics device; must not be nil
//   - mgr: the asset manager; must not be nil
//   - size: the initial output surface size
//   - settings: the render configuration
//
// Returns:
//   - *Renderer: the renderer
//   - error: an error if G-buffer allocation failed
func New(dev gpu.Device, mgr assets.Manager, size common.Size, settings Settings) (*Renderer, error) {
	if dev == nil {
		panic("renderer: device must not be nil")
	}
	if mgr == nil {
		panic("renderer: asset manager must not be nil")
	}

	gb, err := gbuffer.New(dev, size)
	if err != nil {
		return nil, fmt.Errorf("renderer: %w", err)
	}

	// Surfaceless devices render offscreen; everything else must configure.
	presentable := true
	if err := dev.ConfigureSurface(size, settings.VSync); err != nil {
		if !errors.Is(err, gpu.ErrNoSurface) {
			gb.Release()
			return nil, fmt.Errorf("renderer: surface: %w", err)
		}
		presentable = false
	}

	now := time.Now()
	return &Renderer{
		mu:          &sync.Mutex{},
		dev:         dev,
		binder:      technique.NewBinder(dev),
		assets:      mgr,
		gbuffer:     gb,
		Settings:    settings,
		presentable: presentable,
		started:     now,
		lastFrame:   now,
	}, nil
}

// GBuffer returns the renderer's resource set.
func (r *Renderer) GBuffer() *gbuffer.GBuffer {
	return r.gbuffer
}

// Device returns the graphics device the renderer issues onto.
func (r *Renderer) Device() gpu.Device {
	return r.dev
}

// FrameIndex returns the current frame counter.
func (r *Renderer) FrameIndex() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frameIndex
}

// ActiveView returns the currently bound view.
func (r *Renderer) ActiveView() View {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view
}

// Resize recreates every sized G-buffer resource for a new output surface and
// reconfigures the presentation surface to match.
func (r *Renderer) Resize(size common.Size) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.gbuffer.Resize(size); err != nil {
		return err
	}
	if r.presentable {
		if err := r.dev.ConfigureSurface(size, r.Settings.VSync); err != nil {
			return fmt.Errorf("renderer: surface: %w", err)
		}
	}
	return nil
}

// BeginFrame advances the frame counter and uploads the per-frame scope.
func (r *Renderer) BeginFrame() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.frameIndex++
	now := time.Now()
	size := r.gbuffer.Size()

	scope := frameScope{
		Time:       float32(now.Sub(r.started).Seconds()),
		DeltaTime:  float32(now.Sub(r.lastFrame).Seconds()),
		Width:      float32(size.Width),
		Height:     float32(size.Height),
		FrameIndex: uint32(r.frameIndex),
	}
	r.lastFrame = now

	if err := r.dev.WriteScopeData(technique.ScopeFrame.Slot(), common.StructToBytes(&scope)); err != nil {
		log.Printf("[renderer] frame scope upload failed: %v", err)
	}
}

// EndFrame submits all recorded GPU work and, when a surface is configured,
// presents the shading result to the display.
func (r *Renderer) EndFrame() error {
	if err := r.dev.Flush(); err != nil {
		return err
	}
	if !r.presentable {
		return nil
	}
	if err := r.dev.Present(r.gbuffer.ShadingResult.Texture); err != nil {
		return fmt.Errorf("renderer: present: %w", err)
	}
	return nil
}

// BindView binds a camera or shadow view: uploads its view scope and makes it
// the view visibility queries run against.
func (r *Renderer) BindView(v View) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindViewLocked(v)
}

func (r *Renderer) bindViewLocked(v View) {
	r.view = v
	r.frustum = common.ExtractFrustumFromMatrix(v.ViewProj[:])
	if err := r.dev.WriteScopeData(technique.ScopeView.Slot(), common.SliceToBytes(v.ViewProj[:])); err != nil {
		log.Printf("[renderer] view scope upload failed: %v", err)
	}
}

// DepthDistanceCenter reads the depth texel under the screen center and
// returns the world-space distance from the view position to the point it
// projects to. This blocks on the GPU; call at most once per frame.
//
// Returns:
//   - float32: the distance, or 0 when the depth read failed or the view
//     projection is singular
func (r *Renderer) DepthDistanceCenter() float32 {
	r.mu.Lock()
	view := r.view
	r.mu.Unlock()

	raw := r.gbuffer.DepthBufferReadCenter()

	var inv [16]float32
	if !common.Invert4(inv[:], view.ViewProj[:]) {
		return 0
	}

	// Unproject the center of the screen at the sampled depth.
	x := inv[0]*0 + inv[1]*0 + inv[2]*raw + inv[3]
	y := inv[4]*0 + inv[5]*0 + inv[6]*raw + inv[7]
	z := inv[8]*0 + inv[9]*0 + inv[10]*raw + inv[11]
	w := inv[12]*0 + inv[13]*0 + inv[14]*raw + inv[15]
	if w == 0 {
		return 0
	}
	world := common.Vec3{x / w, y / w, z / w}
	return world.Sub(view.Position).Length()
}

// Release frees the renderer's GPU resources. The device is not released; the
// caller owns it.
func (r *Renderer) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gbuffer.Release()
}
