// package gbuffer owns every per-frame-size GPU render target, depth target, and
// CPU staging surface of the deferred pipeline, including the ping/pong pair used
// by the post-process chain.
package gbuffer

import (
	"fmt"
	"log"

	"github.com/Taskeren/alkahest/common"
	"github.com/Taskeren/alkahest/engine/gpu"
)

// RenderTarget is a thin owned wrapper binding one GPU texture to its render and
// shader views. Format is fixed at creation; resize replaces the texture wholesale.
type RenderTarget struct {
	// Texture is the owned GPU texture, never nil for a live target.
	Texture gpu.Texture

	name   string
	format gpu.TextureFormat
}

// NewRenderTarget creates a render target of the given size and format. A zero
// size is clamped to 1x1 with a warning, matching the resource manager contract.
//
// Parameters:
//   - dev: the graphics device
//   - name: diagnostic name for the target
//   - size: pixel extent, clamped to at least 1x1
//   - format: pixel format, fixed for the target's lifetime
//
// Returns:
//   - *RenderTarget: the created target
//   - error: an error naming the target if texture creation failed
func NewRenderTarget(dev gpu.Device, name string, size common.Size, format gpu.TextureFormat) (*RenderTarget, error) {
	clamped, wasClamped := size.Clamped()
	if wasClamped {
		log.Printf("[gbuffer] zero size render target requested for %s, using 1x1", name)
	}

	tex, err := dev.CreateTexture(gpu.TextureDesc{
		Label:  name,
		Size:   clamped,
		Format: format,
		Usage: gpu.TextureUsageRenderAttachment | gpu.TextureUsageShaderResource |
			gpu.TextureUsageCopySrc | gpu.TextureUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("render target %s: %w", name, err)
	}

	return &RenderTarget{Texture: tex, name: name, format: format}, nil
}

// Name returns the target's diagnostic name.
func (rt *RenderTarget) Name() string { return rt.name }

// Format returns the target's pixel format.
func (rt *RenderTarget) Format() gpu.TextureFormat { return rt.format }

// Size returns the target's current pixel extent.
func (rt *RenderTarget) Size() common.Size { return rt.Texture.Size() }

// Resize recreates the target's texture at the new size, keeping name and format.
//
// Parameters:
//   - dev: the graphics device
//   - size: new pixel extent
//
// Returns:
//   - error: an error if the replacement texture could not be created; the
//     existing texture is kept in that case
func (rt *RenderTarget) Resize(dev gpu.Device, size common.Size) error {
	replacement, err := NewRenderTarget(dev, rt.name, size, rt.format)
	if err != nil {
		return err
	}
	rt.Texture.Release()
	rt.Texture = replacement.Texture
	return nil
}

// CopyTo copies this target's full contents into another target of the same size.
func (rt *RenderTarget) CopyTo(dev gpu.Device, dst *RenderTarget) error {
	return dev.CopyTextureToTexture(rt.Texture, dst.Texture)
}

// CopyToStaging copies this target's contents into a CPU staging buffer.
func (rt *RenderTarget) CopyToStaging(dev gpu.Device, dst *CPUStagingBuffer) error {
	return dev.CopyTextureToBuffer(rt.Texture, dst.Buffer)
}

// Clear fills the target with the given color.
func (rt *RenderTarget) Clear(dev gpu.Device, r, g, b, a float64) error {
	return dev.ClearTexture(rt.Texture, r, g, b, a)
}

// Release frees the target's texture.
func (rt *RenderTarget) Release() {
	if rt.Texture != nil {
		rt.Texture.Release()
		rt.Texture = nil
	}
}

// DepthTarget owns the depth-stencil texture plus a same-sized color-viewable
// copy texture, so later passes can sample depth while the depth attachment
// stays bound.
type DepthTarget struct {
	// Texture is the depth-stencil attachment texture.
	Texture gpu.Texture
	// Copy is the R32 float texture CopyDepth mirrors the attachment into.
	Copy gpu.Texture

	name string
}

// NewDepthTarget creates the depth attachment and its sampleable copy.
//
// Parameters:
//   - dev: the graphics device
//   - name: diagnostic name for the depth target
//   - size: pixel extent, clamped to at least 1x1
//
// Returns:
//   - *DepthTarget: the created target
//   - error: an error naming the failing texture
func NewDepthTarget(dev gpu.Device, name string, size common.Size) (*DepthTarget, error) {
	clamped, wasClamped := size.Clamped()
	if wasClamped {
		log.Printf("[gbuffer] zero size depth target requested for %s, using 1x1", name)
	}

	tex, err := dev.CreateTexture(gpu.TextureDesc{
		Label:  name,
		Size:   clamped,
		Format: gpu.TextureFormatDepth32Float,
		Usage:  gpu.TextureUsageRenderAttachment | gpu.TextureUsageShaderResource | gpu.TextureUsageCopySrc,
	})
	if err != nil {
		return nil, fmt.Errorf("depth target %s: %w", name, err)
	}

	cp, err := dev.CreateTexture(gpu.TextureDesc{
		Label:  name + " copy",
		Size:   clamped,
		Format: gpu.TextureFormatR32Float,
		Usage:  gpu.TextureUsageShaderResource | gpu.TextureUsageCopyDst | gpu.TextureUsageCopySrc,
	})
	if err != nil {
		tex.Release()
		return nil, fmt.Errorf("depth target %s copy: %w", name, err)
	}

	return &DepthTarget{Texture: tex, Copy: cp, name: name}, nil
}

// Name returns the depth target's diagnostic name.
func (dt *DepthTarget) Name() string { return dt.name }

// Size returns the depth target's current pixel extent.
func (dt *DepthTarget) Size() common.Size { return dt.Texture.Size() }

// Resize recreates both the depth attachment and its copy at the new size.
func (dt *DepthTarget) Resize(dev gpu.Device, size common.Size) error {
	replacement, err := NewDepthTarget(dev, dt.name, size)
	if err != nil {
		return err
	}
	dt.Texture.Release()
	dt.Copy.Release()
	dt.Texture = replacement.Texture
	dt.Copy = replacement.Copy
	return nil
}

// CopyDepth mirrors the depth attachment into the sampleable copy texture. Must
// run while the depth attachment is not bound as a pass output.
func (dt *DepthTarget) CopyDepth(dev gpu.Device) error {
	return dev.CopyTextureToTexture(dt.Texture, dt.Copy)
}

// Clear resets the depth attachment to the far plane value.
func (dt *DepthTarget) Clear(dev gpu.Device) error {
	return dev.ClearDepth(dt.Texture, 1.0)
}

// Release frees both owned textures.
func (dt *DepthTarget) Release() {
	if dt.Texture != nil {
		dt.Texture.Release()
		dt.Texture = nil
	}
	if dt.Copy != nil {
		dt.Copy.Release()
		dt.Copy = nil
	}
}

// CPUStagingBuffer is a CPU-readable copy destination sized for one full texture,
// used for single-texel depth probes. Reading is a blocking GPU sync point.
type CPUStagingBuffer struct {
	// Buffer is the owned readback buffer.
	Buffer gpu.Buffer

	name   string
	size   common.Size
	format gpu.TextureFormat
}

// NewCPUStagingBuffer creates a readback buffer large enough for a texture of
// the given size and format, rows padded to the device copy alignment.
func NewCPUStagingBuffer(dev gpu.Device, name string, size common.Size, format gpu.TextureFormat) (*CPUStagingBuffer, error) {
	clamped, _ := size.Clamped()
	byteSize := uint64(gpu.AlignedRowSize(clamped.Width, format)) * uint64(clamped.Height)
	buf, err := dev.CreateReadbackBuffer(name, byteSize)
	if err != nil {
		return nil, fmt.Errorf("staging buffer %s: %w", name, err)
	}
	return &CPUStagingBuffer{Buffer: buf, name: name, size: clamped, format: format}, nil
}

// Size returns the texel extent the buffer is laid out for.
func (sb *CPUStagingBuffer) Size() common.Size { return sb.size }

// Resize recreates the buffer for the new extent.
func (sb *CPUStagingBuffer) Resize(dev gpu.Device, size common.Size) error {
	replacement, err := NewCPUStagingBuffer(dev, sb.name, size, sb.format)
	if err != nil {
		return err
	}
	sb.Buffer.Release()
	sb.Buffer = replacement.Buffer
	sb.size = replacement.size
	return nil
}

// ReadTexel blocks until preceding GPU work completes and reads one texel's raw
// bytes at (x, y). Coordinates outside the buffer return an error.
//
// Parameters:
//   - dev: the graphics device
//   - x, y: texel coordinates
//
// Returns:
//   - []byte: the texel bytes, BytesPerPixel long
//   - error: an error if the coordinates are out of range or the read failed
func (sb *CPUStagingBuffer) ReadTexel(dev gpu.Device, x, y uint32) ([]byte, error) {
	if x >= sb.size.Width || y >= sb.size.Height {
		return nil, fmt.Errorf("staging buffer %s: texel (%d, %d) out of %dx%d", sb.name, x, y, sb.size.Width, sb.size.Height)
	}

	bpp := sb.format.BytesPerPixel()
	offset := uint64(y)*uint64(gpu.AlignedRowSize(sb.size.Width, sb.format)) + uint64(x)*uint64(bpp)
	// Buffer maps must start on an 8 byte boundary, which a texel offset only
	// hits for some x. Map from the aligned offset below and slice the texel out.
	aligned := offset &^ 7
	span := make([]byte, (offset-aligned)+uint64(bpp))
	if err := dev.ReadBuffer(sb.Buffer, aligned, span); err != nil {
		return nil, err
	}
	return span[offset-aligned:], nil
}

// Release frees the readback buffer.
func (sb *CPUStagingBuffer) Release() {
	if sb.Buffer != nil {
		sb.Buffer.Release()
		sb.Buffer = nil
	}
}
