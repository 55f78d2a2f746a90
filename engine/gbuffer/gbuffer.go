package gbuffer

import (
	"encoding/binary"
	"fmt"
	"log"
	"math"

	"github.com/Taskeren/alkahest/common"
	"github.com/Taskeren/alkahest/engine/gpu"
)

// depthLookupSize is the fixed extent of the depth/angle/density lookup target.
// It never tracks the output surface.
const depthLookupSize = 512

// targetSet is the full collection of size-tracking resources. Resize allocates
// a complete replacement set before releasing anything, so a failed allocation
// leaves the previous set untouched.
type targetSet struct {
	rt0, rt1, rt1Read, rt2, rt3                  *RenderTarget
	lightDiffuse, lightSpecular, lightIBL        *RenderTarget
	shadingResult, shadingResultRead             *RenderTarget
	ssaoIntermediate                             *RenderTarget
	atmosFarLookup, atmosNearLookup              *RenderTarget
	postprocessPing, postprocessPong             *RenderTarget
	depth                                        *DepthTarget
	depthStaging                                 *CPUStagingBuffer
}

func (ts *targetSet) release() {
	for _, rt := range ts.renderTargets() {
		if rt != nil {
			rt.Release()
		}
	}
	if ts.depth != nil {
		ts.depth.Release()
	}
	if ts.depthStaging != nil {
		ts.depthStaging.Release()
	}
}

func (ts *targetSet) renderTargets() []*RenderTarget {
	return []*RenderTarget{
		ts.rt0, ts.rt1, ts.rt1Read, ts.rt2, ts.rt3,
		ts.lightDiffuse, ts.lightSpecular, ts.lightIBL,
		ts.shadingResult, ts.shadingResultRead,
		ts.ssaoIntermediate, ts.atmosFarLookup, ts.atmosNearLookup,
		ts.postprocessPing, ts.postprocessPong,
	}
}

func allocateTargets(dev gpu.Device, size common.Size) (*targetSet, error) {
	ts := &targetSet{}
	quarter := size.Quarter()

	var err error
	alloc := func(name string, s common.Size, format gpu.TextureFormat) *RenderTarget {
		if err != nil {
			return nil
		}
		var rt *RenderTarget
		rt, err = NewRenderTarget(dev, name, s, format)
		return rt
	}

	ts.rt0 = alloc("RT0", size, gpu.TextureFormatBGRA8UnormSrgb)
	ts.rt1 = alloc("RT1", size, gpu.TextureFormatRGB10A2Unorm)
	ts.rt1Read = alloc("RT1_Clone", size, gpu.TextureFormatRGB10A2Unorm)
	ts.rt2 = alloc("RT2", size, gpu.TextureFormatBGRA8Unorm)
	ts.rt3 = alloc("RT3", size, gpu.TextureFormatBGRA8Unorm)

	ts.lightDiffuse = alloc("Light_Diffuse", size, gpu.TextureFormatRG11B10Float)
	ts.lightSpecular = alloc("Light_Specular", size, gpu.TextureFormatRG11B10Float)
	ts.lightIBL = alloc("Specular_IBL", size, gpu.TextureFormatRG11B10Float)

	ts.shadingResult = alloc("Shading_Result", size, gpu.TextureFormatRG11B10Float)
	ts.shadingResultRead = alloc("Shading_Result_Clone", size, gpu.TextureFormatRG11B10Float)

	ts.ssaoIntermediate = alloc("SSAO_Intermediate", size, gpu.TextureFormatR8Unorm)
	ts.atmosFarLookup = alloc("atmos_ss_far_lookup", quarter, gpu.TextureFormatRGBA16Float)
	ts.atmosNearLookup = alloc("atmos_ss_near_lookup", quarter, gpu.TextureFormatRGBA16Float)

	ts.postprocessPing = alloc("postprocess_ping", size, gpu.TextureFormatRGBA8UnormSrgb)
	ts.postprocessPong = alloc("postprocess_pong", size, gpu.TextureFormatRGBA8UnormSrgb)

	if err == nil {
		ts.depth, err = NewDepthTarget(dev, "gbuffer_depth", size)
	}
	if err == nil {
		ts.depthStaging, err = NewCPUStagingBuffer(dev, "Depth_Buffer_Staging", size, gpu.TextureFormatR32Float)
	}

	if err != nil {
		ts.release()
		return nil, err
	}
	return ts, nil
}

// GBuffer aggregates every per-frame-size target of the deferred pipeline plus
// the ping/pong post-process pair. All resources share one lifecycle: created
// together, resized together, released together. Single-threaded by contract,
// so the ping/pong parity is a plain field.
type GBuffer struct {
	dev gpu.Device

	// RT0 holds albedo. Stays sRGB for direct presentation debugging.
	RT0 *RenderTarget
	// RT1 holds packed world-space normals; RT1Read is its sampleable clone.
	RT1, RT1Read *RenderTarget
	// RT2 and RT3 hold material parameters.
	RT2, RT3 *RenderTarget

	// Light accumulation targets, written by the lighting passes.
	LightDiffuse, LightSpecular, LightIBLSpecular *RenderTarget

	// ShadingResult receives the composited shading output; ShadingResultRead is
	// the clone later passes sample while ShadingResult is bound.
	ShadingResult, ShadingResultRead *RenderTarget

	// Depth is the primary depth target with its sampleable copy.
	Depth *DepthTarget
	// DepthStaging is the CPU-readable surface the depth probe reads through.
	DepthStaging *CPUStagingBuffer

	// SSAOIntermediate holds the unblurred occlusion mask.
	SSAOIntermediate *RenderTarget

	// Quarter-resolution atmospheric scattering lookups.
	AtmosFarLookup, AtmosNearLookup *RenderTarget

	// DepthAngleDensityLookup is a fixed 512x512 lookup, exempt from resize.
	DepthAngleDensityLookup *RenderTarget

	postprocessPing *RenderTarget
	postprocessPong *RenderTarget
	pong            bool

	size common.Size
}

// New allocates the full G-buffer at the given size. Zero dimensions are
// clamped to 1x1 with a warning. Any allocation failure releases everything
// already created and is returned naming the failing resource.
//
// Parameters:
//   - dev: the graphics device; must not be nil
//   - size: initial pixel extent
//
// Returns:
//   - *GBuffer: the created resource set
//   - error: an error naming the first resource that failed to allocate
func New(dev gpu.Device, size common.Size) (*GBuffer, error) {
	if dev == nil {
		panic("gbuffer: device must not be nil")
	}

	clamped, wasClamped := size.Clamped()
	if wasClamped {
		log.Printf("[gbuffer] zero size requested, using %dx%d", clamped.Width, clamped.Height)
	}

	ts, err := allocateTargets(dev, clamped)
	if err != nil {
		return nil, fmt.Errorf("gbuffer create: %w", err)
	}

	lookup, err := NewRenderTarget(dev, "depth_angle_density_lookup",
		common.Size{Width: depthLookupSize, Height: depthLookupSize}, gpu.TextureFormatRGBA16Float)
	if err != nil {
		ts.release()
		return nil, fmt.Errorf("gbuffer create: %w", err)
	}

	g := &GBuffer{dev: dev, DepthAngleDensityLookup: lookup, size: clamped}
	g.adopt(ts)
	return g, nil
}

// adopt installs a freshly allocated target set.
func (g *GBuffer) adopt(ts *targetSet) {
	g.RT0, g.RT1, g.RT1Read, g.RT2, g.RT3 = ts.rt0, ts.rt1, ts.rt1Read, ts.rt2, ts.rt3
	g.LightDiffuse, g.LightSpecular, g.LightIBLSpecular = ts.lightDiffuse, ts.lightSpecular, ts.lightIBL
	g.ShadingResult, g.ShadingResultRead = ts.shadingResult, ts.shadingResultRead
	g.Depth, g.DepthStaging = ts.depth, ts.depthStaging
	g.SSAOIntermediate = ts.ssaoIntermediate
	g.AtmosFarLookup, g.AtmosNearLookup = ts.atmosFarLookup, ts.atmosNearLookup
	g.postprocessPing, g.postprocessPong = ts.postprocessPing, ts.postprocessPong
}

func (g *GBuffer) currentSet() *targetSet {
	return &targetSet{
		rt0: g.RT0, rt1: g.RT1, rt1Read: g.RT1Read, rt2: g.RT2, rt3: g.RT3,
		lightDiffuse: g.LightDiffuse, lightSpecular: g.LightSpecular, lightIBL: g.LightIBLSpecular,
		shadingResult: g.ShadingResult, shadingResultRead: g.ShadingResultRead,
		ssaoIntermediate: g.SSAOIntermediate,
		atmosFarLookup:   g.AtmosFarLookup, atmosNearLookup: g.AtmosNearLookup,
		postprocessPing: g.postprocessPing, postprocessPong: g.postprocessPong,
		depth: g.Depth, depthStaging: g.DepthStaging,
	}
}

// Size returns the current primary-target extent.
func (g *GBuffer) Size() common.Size { return g.size }

// Resize replaces every size-tracking resource at the new extent. The whole
// replacement set is allocated before anything is released, so a failed
// allocation leaves the previous set fully intact. Resizing to the current size
// is a no-op. The quarter-resolution lookups scale proportionally; the fixed
// 512x512 lookup is untouched.
//
// Parameters:
//   - size: new pixel extent, clamped to at least 1x1
//
// Returns:
//   - error: an error naming the failing resource; the G-buffer remains valid
//     at its previous size in that case
func (g *GBuffer) Resize(size common.Size) error {
	clamped, wasClamped := size.Clamped()
	if wasClamped {
		log.Printf("[gbuffer] zero size resize requested, using %dx%d", clamped.Width, clamped.Height)
	}
	if clamped == g.size {
		return nil
	}

	replacement, err := allocateTargets(g.dev, clamped)
	if err != nil {
		return fmt.Errorf("gbuffer resize to %dx%d: %w", clamped.Width, clamped.Height, err)
	}

	old := g.currentSet()
	g.adopt(replacement)
	g.size = clamped
	old.release()
	return nil
}

// PostProcessRT returns the (source, target) pair for the next full-screen pass
// per the current ping/pong parity. When swapAfterUse is set the parity flips,
// so the next caller sees the just-written slot as its source. Source and
// target never alias; that invariant is checked on every call.
//
// Parameters:
//   - swapAfterUse: flip parity after returning the pair
//
// Returns:
//   - *RenderTarget: the source slot (latest written content)
//   - *RenderTarget: the target slot for the pass to write
func (g *GBuffer) PostProcessRT(swapAfterUse bool) (*RenderTarget, *RenderTarget) {
	src, dst := g.postprocessPing, g.postprocessPong
	if g.pong {
		src, dst = g.postprocessPong, g.postprocessPing
	}

	if src == dst || src.Texture == dst.Texture {
		panic("gbuffer: postprocess ping and pong alias the same resource")
	}

	if swapAfterUse {
		g.pong = !g.pong
	}
	return src, dst
}

// PostProcessOutput returns the slot holding the latest post-process result,
// i.e. the slot PostProcessRT would hand out as source.
func (g *GBuffer) PostProcessOutput() *RenderTarget {
	if g.pong {
		return g.postprocessPong
	}
	return g.postprocessPing
}

// DepthBufferRead stages the depth buffer into CPU-readable memory and reads
// the raw depth value at (x, y). This is a blocking GPU sync point; call at
// most once per frame. Failures read as 0.
//
// Parameters:
//   - x, y: texel coordinates in the depth buffer
//
// Returns:
//   - float32: the raw depth value, 0 on failure
func (g *GBuffer) DepthBufferRead(x, y uint32) float32 {
	if err := g.dev.CopyTextureToBuffer(g.Depth.Texture, g.DepthStaging.Buffer); err != nil {
		log.Printf("[gbuffer] depth staging copy failed: %v", err)
		return 0
	}

	texel, err := g.DepthStaging.ReadTexel(g.dev, x, y)
	if err != nil {
		log.Printf("[gbuffer] depth read failed: %v", err)
		return 0
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(texel))
}

// DepthBufferReadCenter reads the raw depth value at the center of the buffer.
func (g *GBuffer) DepthBufferReadCenter() float32 {
	return g.DepthBufferRead(g.size.Width/2, g.size.Height/2)
}

// Release frees every owned resource. The G-buffer must not be used afterwards.
func (g *GBuffer) Release() {
	g.currentSet().release()
	if g.DepthAngleDensityLookup != nil {
		g.DepthAngleDensityLookup.Release()
		g.DepthAngleDensityLookup = nil
	}
}
