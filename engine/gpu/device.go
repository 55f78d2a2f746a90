// package gpu defines the graphics device capability set the render core depends on,
// plus the WebGPU implementation of it. Renderer-side code only ever sees the Device
// interface, so headless tooling and tests can substitute the null backend.
package gpu

import (
	"errors"

	"github.com/Taskeren/alkahest/common"
)

// ErrNoSurface is returned by ConfigureSurface and Present on devices created
// without a window surface. Callers running headless treat it as "skip
// presentation" rather than a failure.
var ErrNoSurface = errors.New("gpu: device has no presentable surface")

// TextureFormat identifies the pixel format of a texture.
type TextureFormat uint32

const (
	// TextureFormatRGBA8UnormSrgb is 8-bit RGBA with sRGB encoding.
	TextureFormatRGBA8UnormSrgb TextureFormat = iota

	// TextureFormatBGRA8Unorm is 8-bit BGRA, linear.
	TextureFormatBGRA8Unorm

	// TextureFormatBGRA8UnormSrgb is 8-bit BGRA with sRGB encoding.
	TextureFormatBGRA8UnormSrgb

	// TextureFormatRGB10A2Unorm packs 10-bit color channels with a 2-bit alpha,
	// used for world-space normals.
	TextureFormatRGB10A2Unorm

	// TextureFormatRG11B10Float is a packed small-float HDR format for light
	// accumulation and shading results.
	TextureFormatRG11B10Float

	// TextureFormatRGBA16Float is a half-float HDR format for lookup targets.
	TextureFormatRGBA16Float

	// TextureFormatR8Unorm is a single 8-bit channel, used for occlusion masks.
	TextureFormatR8Unorm

	// TextureFormatR32Float is a single 32-bit float channel, the color-viewable
	// representation of depth.
	TextureFormatR32Float

	// TextureFormatDepth32Float is the depth-stencil attachment format.
	TextureFormatDepth32Float
)

// BytesPerPixel returns the per-texel byte size of the format.
func (f TextureFormat) BytesPerPixel() uint32 {
	switch f {
	case TextureFormatR8Unorm:
		return 1
	case TextureFormatRGBA16Float:
		return 8
	default:
		return 4
	}
}

// IsDepth reports whether the format is a depth-stencil attachment format.
func (f TextureFormat) IsDepth() bool {
	return f == TextureFormatDepth32Float
}

// String returns the format name for diagnostics.
func (f TextureFormat) String() string {
	switch f {
	case TextureFormatRGBA8UnormSrgb:
		return "RGBA8UnormSrgb"
	case TextureFormatBGRA8Unorm:
		return "BGRA8Unorm"
	case TextureFormatBGRA8UnormSrgb:
		return "BGRA8UnormSrgb"
	case TextureFormatRGB10A2Unorm:
		return "RGB10A2Unorm"
	case TextureFormatRG11B10Float:
		return "RG11B10Float"
	case TextureFormatRGBA16Float:
		return "RGBA16Float"
	case TextureFormatR8Unorm:
		return "R8Unorm"
	case TextureFormatR32Float:
		return "R32Float"
	case TextureFormatDepth32Float:
		return "Depth32Float"
	default:
		return "Unknown"
	}
}

// TextureUsage is a bitset of the ways a texture may be bound.
type TextureUsage uint32

const (
	// TextureUsageRenderAttachment allows binding as a color or depth attachment.
	TextureUsageRenderAttachment TextureUsage = 1 << iota

	// TextureUsageShaderResource allows sampling from shaders.
	TextureUsageShaderResource

	// TextureUsageCopySrc allows the texture to be the source of a copy.
	TextureUsageCopySrc

	// TextureUsageCopyDst allows the texture to be the destination of a copy or upload.
	TextureUsageCopyDst
)

// PrimitiveTopology selects how the input assembler interprets the index stream.
type PrimitiveTopology uint8

const (
	// TopologyTriangleList draws independent triangles from each index triple.
	TopologyTriangleList PrimitiveTopology = iota

	// TopologyTriangleStrip draws a connected triangle strip.
	TopologyTriangleStrip

	// TopologyLineList draws independent line segments.
	TopologyLineList

	// TopologyPointList draws one point per index.
	TopologyPointList
)

// ProgramStage identifies which pipeline stage a shader program targets.
type ProgramStage uint8

const (
	// ProgramStageVertex is a vertex program.
	ProgramStageVertex ProgramStage = iota

	// ProgramStagePixel is a pixel (fragment) program.
	ProgramStagePixel
)

// TextureDesc describes a 2D texture to create.
type TextureDesc struct {
	// Label names the texture in diagnostics and GPU debuggers.
	Label string
	// Size is the pixel extent. Must be non-zero in both dimensions.
	Size common.Size
	// Format is the pixel format.
	Format TextureFormat
	// Usage is the set of allowed bindings.
	Usage TextureUsage
}

// Texture is an owned 2D GPU texture with its views. Render and shader views are
// created with the texture and live for its lifetime; Release frees all of them.
type Texture interface {
	// Label returns the texture's diagnostic name.
	Label() string
	// Size returns the pixel extent the texture was created with.
	Size() common.Size
	// Format returns the pixel format the texture was created with.
	Format() TextureFormat
	// Release frees the texture and its views. The texture must not be used afterwards.
	Release()
}

// Buffer is an owned GPU buffer.
type Buffer interface {
	// Label returns the buffer's diagnostic name.
	Label() string
	// Size returns the byte size of the buffer.
	Size() uint64
	// Release frees the buffer. The buffer must not be used afterwards.
	Release()
}

// Program is a compiled shader program handle, immutable after creation and
// shared across techniques.
type Program interface {
	// Label returns the program's diagnostic name.
	Label() string
	// Stage returns the pipeline stage the program targets.
	Stage() ProgramStage
}

// Device is the narrow graphics capability set the render core is written against.
// All methods are frame-synchronous; only ReadBuffer blocks on the GPU.
type Device interface {
	// CreateTexture creates a 2D texture and its views.
	//
	// Parameters:
	//   - desc: the texture descriptor (label, size, format, usage)
	//
	// Returns:
	//   - Texture: the created texture
	//   - error: an error naming the texture if creation failed
	CreateTexture(desc TextureDesc) (Texture, error)

	// CreateReadbackBuffer creates a CPU-readable buffer usable as a copy destination.
	//
	// Parameters:
	//   - label: diagnostic name for the buffer
	//   - size: byte size of the buffer
	//
	// Returns:
	//   - Buffer: the created buffer
	//   - error: an error if creation failed
	CreateReadbackBuffer(label string, size uint64) (Buffer, error)

	// CreateVertexBuffer creates a vertex buffer initialized with the given data.
	//
	// Parameters:
	//   - label: diagnostic name for the buffer
	//   - data: raw vertex bytes uploaded at creation
	//
	// Returns:
	//   - Buffer: the created buffer
	//   - error: an error if creation failed
	CreateVertexBuffer(label string, data []byte) (Buffer, error)

	// CreateIndexBuffer creates a uint32 index buffer initialized with the given data.
	//
	// Parameters:
	//   - label: diagnostic name for the buffer
	//   - data: raw index bytes uploaded at creation
	//
	// Returns:
	//   - Buffer: the created buffer
	//   - error: an error if creation failed
	CreateIndexBuffer(label string, data []byte) (Buffer, error)

	// CreateProgram compiles a shader program from source.
	//
	// Parameters:
	//   - label: diagnostic name for the program
	//   - stage: the pipeline stage the program targets
	//   - source: shader source code
	//
	// Returns:
	//   - Program: the compiled program handle
	//   - error: an error if compilation failed
	CreateProgram(label string, stage ProgramStage, source string) (Program, error)

	// WriteTexture uploads tightly packed pixel data covering the whole texture.
	//
	// Parameters:
	//   - dst: destination texture (must carry TextureUsageCopyDst)
	//   - data: pixel bytes, rows tightly packed at Format().BytesPerPixel()
	//
	// Returns:
	//   - error: an error if the upload could not be issued
	WriteTexture(dst Texture, data []byte) error

	// CopyTextureToTexture copies the full extent of src into dst. Both textures
	// must share size and compatible formats.
	//
	// Parameters:
	//   - src: source texture (must carry TextureUsageCopySrc)
	//   - dst: destination texture (must carry TextureUsageCopyDst)
	//
	// Returns:
	//   - error: an error if the copy could not be encoded
	CopyTextureToTexture(src, dst Texture) error

	// CopyTextureToBuffer copies the full extent of src into a readback buffer,
	// rows padded to the device's row alignment.
	//
	// Parameters:
	//   - src: source texture (must carry TextureUsageCopySrc)
	//   - dst: destination readback buffer
	//
	// Returns:
	//   - error: an error if the copy could not be encoded
	CopyTextureToBuffer(src Texture, dst Buffer) error

	// ReadBuffer synchronously reads bytes from a readback buffer into dst. This is
	// a blocking GPU-CPU synchronization point; pending work is flushed first.
	//
	// Parameters:
	//   - src: the readback buffer to map
	//   - offset: byte offset into the buffer
	//   - dst: destination slice; len(dst) bytes are read
	//
	// Returns:
	//   - error: an error if the map or read failed
	ReadBuffer(src Buffer, offset uint64, dst []byte) error

	// SetRenderTargets ends any open pass and begins a pass targeting the given
	// color attachments and optional depth attachment. Passing no colors and a
	// nil depth is equivalent to UnbindRenderTargets.
	//
	// Parameters:
	//   - colors: color attachment textures, bound in slot order
	//   - depth: depth attachment texture, or nil for color-only passes
	//
	// Returns:
	//   - error: an error if the pass could not be begun
	SetRenderTargets(colors []Texture, depth Texture) error

	// UnbindRenderTargets ends the current pass, leaving no attachments bound.
	// Must be called before a texture written by the pass is sampled.
	UnbindRenderTargets()

	// UnbindShaderInputs clears all shader-resource slots bound via BindShaderInput.
	UnbindShaderInputs()

	// BindShaderInput binds a texture for sampling at the given slot for
	// subsequent draws.
	//
	// Parameters:
	//   - slot: shader-resource slot index
	//   - tex: the texture to sample
	BindShaderInput(slot uint32, tex Texture)

	// BindPrograms sets the vertex and pixel programs for subsequent draws.
	//
	// Parameters:
	//   - vertex: vertex program
	//   - pixel: pixel program
	//
	// Returns:
	//   - error: an error if either program is invalid for its stage
	BindPrograms(vertex, pixel Program) error

	// OverrideVertexProgram replaces only the vertex program for subsequent draws,
	// keeping the bound pixel program. Used for skinned vertex paths.
	//
	// Parameters:
	//   - vertex: replacement vertex program
	//
	// Returns:
	//   - error: an error if the program is invalid for the vertex stage
	OverrideVertexProgram(vertex Program) error

	// SetTopology sets the primitive topology for subsequent draws.
	SetTopology(topology PrimitiveTopology)

	// BindMeshBuffers sets the vertex and index buffers for subsequent indexed draws.
	//
	// Parameters:
	//   - vertex: vertex buffer
	//   - index: uint32 index buffer
	BindMeshBuffers(vertex, index Buffer)

	// WriteScopeData uploads constant data for the given scope slot, visible to
	// subsequent draws. Rewriting a slot fully replaces its contents.
	//
	// Parameters:
	//   - slot: scope slot index
	//   - data: raw constant bytes
	//
	// Returns:
	//   - error: an error if the upload failed
	WriteScopeData(slot uint32, data []byte) error

	// DrawIndexed issues an indexed, optionally instanced draw with the current
	// pipeline state.
	//
	// Parameters:
	//   - indexCount: number of indices to draw
	//   - instanceCount: number of instances (1 for non-instanced)
	//   - firstIndex: offset into the index buffer
	//   - baseVertex: value added to each index before vertex fetch
	DrawIndexed(indexCount, instanceCount, firstIndex uint32, baseVertex int32)

	// Draw issues a non-indexed draw with the current pipeline state.
	//
	// Parameters:
	//   - vertexCount: number of vertices to draw
	//   - instanceCount: number of instances (1 for non-instanced)
	Draw(vertexCount, instanceCount uint32)

	// FullScreenPass runs a single full-screen triangle pass: binds the sources as
	// shader inputs, targets the given texture, and draws. Previous attachments and
	// shader inputs are unbound first.
	//
	// Parameters:
	//   - pixel: the pixel program for the pass
	//   - target: the render target written by the pass
	//   - sources: textures sampled by the pass, bound in slot order
	//
	// Returns:
	//   - error: an error if the pass could not be encoded
	FullScreenPass(pixel Program, target Texture, sources ...Texture) error

	// ClearTexture clears a color texture to the given value by running an
	// attachment-clearing pass.
	//
	// Parameters:
	//   - tex: the texture to clear (must carry TextureUsageRenderAttachment)
	//   - r, g, b, a: clear color components
	//
	// Returns:
	//   - error: an error if the clearing pass could not be encoded
	ClearTexture(tex Texture, r, g, b, a float64) error

	// ClearDepth clears a depth texture to the given value.
	//
	// Parameters:
	//   - tex: the depth texture to clear
	//   - value: the depth clear value, typically 1.0
	//
	// Returns:
	//   - error: an error if the clearing pass could not be encoded
	ClearDepth(tex Texture, value float32) error

	// Blit copies src into dst via a full-screen pass, converting formats where a
	// direct copy is not possible.
	//
	// Parameters:
	//   - src: source texture
	//   - dst: destination render target
	//
	// Returns:
	//   - error: an error if the blit could not be encoded
	Blit(src, dst Texture) error

	// Flush ends any open pass and submits all encoded work to the GPU queue.
	//
	// Returns:
	//   - error: an error if submission failed
	Flush() error

	// ConfigureSurface sizes the device's window surface and selects its present
	// mode. Must be called before the first Present and again on every resize.
	//
	// Parameters:
	//   - size: surface pixel extent, clamped to at least 1x1
	//   - vsync: true to synchronize presentation with the display refresh
	//
	// Returns:
	//   - error: ErrNoSurface on surfaceless devices, or a configuration error
	ConfigureSurface(size common.Size, vsync bool) error

	// Present acquires the surface's current texture, blits src into it, submits
	// the work, and presents it to the display.
	//
	// Parameters:
	//   - src: the texture shown on screen, typically the frame's shading result
	//
	// Returns:
	//   - error: ErrNoSurface on surfaceless devices, or an acquire/encode error
	Present(src Texture) error

	// Release ends any open pass and frees device-owned resources.
	Release()
}
