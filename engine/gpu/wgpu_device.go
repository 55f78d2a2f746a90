package gpu

import (
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/Taskeren/alkahest/common"
	"github.com/cogentcore/webgpu/wgpu"
)

// readback row alignment required by WebGPU texture-to-buffer copies.
const rowAlignment = 256

type wgpuTexture struct {
	label   string
	size    common.Size
	format  TextureFormat
	texture *wgpu.Texture
	view    *wgpu.TextureView
}

var _ Texture = &wgpuTexture{}

func (t *wgpuTexture) Label() string         { return t.label }
func (t *wgpuTexture) Size() common.Size     { return t.size }
func (t *wgpuTexture) Format() TextureFormat { return t.format }

func (t *wgpuTexture) Release() {
	if t.view != nil {
		t.view.Release()
		t.view = nil
	}
	if t.texture != nil {
		t.texture.Release()
		t.texture = nil
	}
}

type wgpuBuffer struct {
	label  string
	size   uint64
	buffer *wgpu.Buffer
}

var _ Buffer = &wgpuBuffer{}

func (b *wgpuBuffer) Label() string { return b.label }
func (b *wgpuBuffer) Size() uint64  { return b.size }

func (b *wgpuBuffer) Release() {
	if b.buffer != nil {
		b.buffer.Release()
		b.buffer = nil
	}
}

type wgpuProgram struct {
	label  string
	stage  ProgramStage
	module *wgpu.ShaderModule
}

var _ Program = &wgpuProgram{}

func (p *wgpuProgram) Label() string       { return p.label }
func (p *wgpuProgram) Stage() ProgramStage { return p.stage }

// fullscreenVertexWGSL emits a single clip-space triangle covering the screen,
// so full-screen passes need no vertex buffer.
const fullscreenVertexWGSL = `
struct VSOut {
    @builtin(position) position: vec4<f32>,
    @location(0) uv: vec2<f32>,
}

@vertex
fn vs_main(@builtin(vertex_index) vi: u32) -> VSOut {
    var out: VSOut;
    let x = f32(i32(vi % 2u) * 4 - 1);
    let y = f32(i32(vi / 2u) * 4 - 1);
    out.position = vec4<f32>(x, y, 0.0, 1.0);
    out.uv = vec2<f32>((x + 1.0) * 0.5, (1.0 - y) * 0.5);
    return out;
}
`

const blitPixelWGSL = `
@group(1) @binding(0) var blit_sampler: sampler;
@group(1) @binding(1) var blit_source: texture_2d<f32>;

@fragment
fn fs_main(@location(0) uv: vec2<f32>) -> @location(0) vec4<f32> {
    return textureSample(blit_source, blit_sampler, uv);
}
`

// wgpuDeviceImpl implements Device on the WebGPU API. Render pipelines are
// created lazily and cached by pipeline state signature; shader programs follow
// the engine binding convention of group 0 for scope uniform buffers and
// group 1 for the shared sampler plus bound source textures.
type wgpuDeviceImpl struct {
	mu     *sync.Mutex
	device *wgpu.Device
	queue  *wgpu.Queue

	// presentation state, nil on headless devices
	adapter       *wgpu.Adapter
	surface       *wgpu.Surface
	surfaceFormat TextureFormat
	surfaceSize   common.Size

	encoder *wgpu.CommandEncoder
	pass    *wgpu.RenderPassEncoder

	// current pipeline state, applied at draw time
	vertexProgram  *wgpuProgram
	pixelProgram   *wgpuProgram
	overrideVertex *wgpuProgram
	topology       PrimitiveTopology
	shaderInputs   map[uint32]*wgpuTexture
	scopeBuffers   map[uint32]*wgpu.Buffer
	scopeSizes     map[uint32]uint64
	vertexBuffer   *wgpuBuffer
	indexBuffer    *wgpuBuffer

	// formats of the attachments bound by the current pass
	targetFormats []TextureFormat
	depthBound    bool

	pipelines map[string]*wgpu.RenderPipeline
	sampler   *wgpu.Sampler

	fullscreenVS *wgpuProgram
	blitPS       *wgpuProgram
}

var _ Device = &wgpuDeviceImpl{}

// meshVertexLayout is the fixed vertex stream convention every mesh program is
// authored against: position, normal, tangent, texcoord.
var meshVertexLayout = wgpu.VertexBufferLayout{
	ArrayStride: 48,
	StepMode:    wgpu.VertexStepModeVertex,
	Attributes: []wgpu.VertexAttribute{
		{Format: wgpu.VertexFormatFloat32x3, Offset: 0, ShaderLocation: 0},
		{Format: wgpu.VertexFormatFloat32x3, Offset: 12, ShaderLocation: 1},
		{Format: wgpu.VertexFormatFloat32x4, Offset: 24, ShaderLocation: 2},
		{Format: wgpu.VertexFormatFloat32x2, Offset: 40, ShaderLocation: 3},
	},
}

// NewWGPUDevice wraps an already-initialized WebGPU device and queue in the
// Device interface. Panics if either is nil since no fallback exists.
//
// Parameters:
//   - device: the WebGPU device
//   - queue: the device's submission queue
//
// Returns:
//   - Device: the backend implementation
func NewWGPUDevice(device *wgpu.Device, queue *wgpu.Queue) Device {
	if device == nil || queue == nil {
		panic("gpu: device and queue must not be nil")
	}
	return &wgpuDeviceImpl{
		mu:           &sync.Mutex{},
		device:       device,
		queue:        queue,
		shaderInputs: make(map[uint32]*wgpuTexture),
		scopeBuffers: make(map[uint32]*wgpu.Buffer),
		scopeSizes:   make(map[uint32]uint64),
		pipelines:    make(map[string]*wgpu.RenderPipeline),
	}
}

// NewWGPUSurfaceDevice wraps an already-initialized WebGPU device and queue
// like NewWGPUDevice, and additionally binds the window surface the adapter
// was selected against so frames can be presented. The caller keeps ownership
// of the surface. Panics if any argument is nil.
//
// Parameters:
//   - device: the WebGPU device
//   - queue: the device's submission queue
//   - adapter: the adapter the surface is compatible with
//   - surface: the window surface to present to
//
// Returns:
//   - Device: the backend implementation
func NewWGPUSurfaceDevice(device *wgpu.Device, queue *wgpu.Queue, adapter *wgpu.Adapter, surface *wgpu.Surface) Device {
	if device == nil || queue == nil || adapter == nil || surface == nil {
		panic("gpu: device, queue, adapter, and surface must not be nil")
	}
	d := NewWGPUDevice(device, queue).(*wgpuDeviceImpl)
	d.adapter = adapter
	d.surface = surface
	return d
}

func toWGPUFormat(f TextureFormat) wgpu.TextureFormat {
	switch f {
	case TextureFormatRGBA8UnormSrgb:
		return wgpu.TextureFormatRGBA8UnormSrgb
	case TextureFormatBGRA8Unorm:
		return wgpu.TextureFormatBGRA8Unorm
	case TextureFormatBGRA8UnormSrgb:
		return wgpu.TextureFormatBGRA8UnormSrgb
	case TextureFormatRGB10A2Unorm:
		return wgpu.TextureFormatRGB10A2Unorm
	case TextureFormatRG11B10Float:
		return wgpu.TextureFormatRG11B10Ufloat
	case TextureFormatRGBA16Float:
		return wgpu.TextureFormatRGBA16Float
	case TextureFormatR8Unorm:
		return wgpu.TextureFormatR8Unorm
	case TextureFormatR32Float:
		return wgpu.TextureFormatR32Float
	case TextureFormatDepth32Float:
		return wgpu.TextureFormatDepth32Float
	default:
		return wgpu.TextureFormatRGBA8UnormSrgb
	}
}

// fromWGPUFormat maps the surface formats an adapter can report back onto the
// engine format enum.
func fromWGPUFormat(f wgpu.TextureFormat) TextureFormat {
	switch f {
	case wgpu.TextureFormatBGRA8Unorm:
		return TextureFormatBGRA8Unorm
	case wgpu.TextureFormatBGRA8UnormSrgb:
		return TextureFormatBGRA8UnormSrgb
	case wgpu.TextureFormatRGBA8UnormSrgb:
		return TextureFormatRGBA8UnormSrgb
	default:
		return TextureFormatBGRA8Unorm
	}
}

func toWGPUUsage(u TextureUsage) wgpu.TextureUsage {
	var out wgpu.TextureUsage
	if u&TextureUsageRenderAttachment != 0 {
		out |= wgpu.TextureUsageRenderAttachment
	}
	if u&TextureUsageShaderResource != 0 {
		out |= wgpu.TextureUsageTextureBinding
	}
	if u&TextureUsageCopySrc != 0 {
		out |= wgpu.TextureUsageCopySrc
	}
	if u&TextureUsageCopyDst != 0 {
		out |= wgpu.TextureUsageCopyDst
	}
	return out
}

func toWGPUTopology(t PrimitiveTopology) wgpu.PrimitiveTopology {
	switch t {
	case TopologyTriangleStrip:
		return wgpu.PrimitiveTopologyTriangleStrip
	case TopologyLineList:
		return wgpu.PrimitiveTopologyLineList
	case TopologyPointList:
		return wgpu.PrimitiveTopologyPointList
	default:
		return wgpu.PrimitiveTopologyTriangleList
	}
}

func asWGPUTexture(t Texture) (*wgpuTexture, error) {
	wt, ok := t.(*wgpuTexture)
	if !ok || wt.texture == nil {
		return nil, fmt.Errorf("gpu: texture %q is not a live wgpu texture", t.Label())
	}
	return wt, nil
}

func asWGPUBuffer(b Buffer) (*wgpuBuffer, error) {
	wb, ok := b.(*wgpuBuffer)
	if !ok || wb.buffer == nil {
		return nil, fmt.Errorf("gpu: buffer %q is not a live wgpu buffer", b.Label())
	}
	return wb, nil
}

func (d *wgpuDeviceImpl) CreateTexture(desc TextureDesc) (Texture, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if desc.Size.IsZero() {
		return nil, fmt.Errorf("gpu: texture %q requested with zero size", desc.Label)
	}

	tex, err := d.device.CreateTexture(&wgpu.TextureDescriptor{
		Label:     desc.Label,
		Usage:     toWGPUUsage(desc.Usage),
		Dimension: wgpu.TextureDimension2D,
		Size: wgpu.Extent3D{
			Width:              desc.Size.Width,
			Height:             desc.Size.Height,
			DepthOrArrayLayers: 1,
		},
		Format:        toWGPUFormat(desc.Format),
		MipLevelCount: 1,
		SampleCount:   1,
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: failed to create texture %q: %w", desc.Label, err)
	}

	view, err := tex.CreateView(nil)
	if err != nil {
		tex.Release()
		return nil, fmt.Errorf("gpu: failed to create view for texture %q: %w", desc.Label, err)
	}

	return &wgpuTexture{
		label:   desc.Label,
		size:    desc.Size,
		format:  desc.Format,
		texture: tex,
		view:    view,
	}, nil
}

func (d *wgpuDeviceImpl) CreateReadbackBuffer(label string, size uint64) (Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	buf, err := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: label,
		Size:  size,
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: failed to create readback buffer %q: %w", label, err)
	}
	return &wgpuBuffer{label: label, size: size, buffer: buf}, nil
}

func (d *wgpuDeviceImpl) CreateVertexBuffer(label string, data []byte) (Buffer, error) {
	return d.createInitializedBuffer(label, data, wgpu.BufferUsageVertex|wgpu.BufferUsageCopyDst)
}

func (d *wgpuDeviceImpl) CreateIndexBuffer(label string, data []byte) (Buffer, error) {
	return d.createInitializedBuffer(label, data, wgpu.BufferUsageIndex|wgpu.BufferUsageCopyDst)
}

func (d *wgpuDeviceImpl) createInitializedBuffer(label string, data []byte, usage wgpu.BufferUsage) (Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	buf, err := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: label,
		Size:  uint64(len(data)),
		Usage: usage,
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: failed to create buffer %q: %w", label, err)
	}
	if len(data) > 0 {
		d.queue.WriteBuffer(buf, 0, data)
	}
	return &wgpuBuffer{label: label, size: uint64(len(data)), buffer: buf}, nil
}

func (d *wgpuDeviceImpl) CreateProgram(label string, stage ProgramStage, source string) (Program, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.createProgramLocked(label, stage, source)
}

func (d *wgpuDeviceImpl) createProgramLocked(label string, stage ProgramStage, source string) (*wgpuProgram, error) {
	module, err := d.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label: label,
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{
			Code: source,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: failed to compile program %q: %w", label, err)
	}
	return &wgpuProgram{label: label, stage: stage, module: module}, nil
}

func (d *wgpuDeviceImpl) WriteTexture(dst Texture, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	wt, err := asWGPUTexture(dst)
	if err != nil {
		return err
	}

	bpp := wt.format.BytesPerPixel()
	d.queue.WriteTexture(
		&wgpu.ImageCopyTexture{
			Texture:  wt.texture,
			MipLevel: 0,
			Origin:   wgpu.Origin3D{},
			Aspect:   wgpu.TextureAspectAll,
		},
		data,
		&wgpu.TextureDataLayout{
			Offset:       0,
			BytesPerRow:  wt.size.Width * bpp,
			RowsPerImage: wt.size.Height,
		},
		&wgpu.Extent3D{
			Width:              wt.size.Width,
			Height:             wt.size.Height,
			DepthOrArrayLayers: 1,
		},
	)
	return nil
}

// ensureEncoder creates the frame command encoder on first use.
func (d *wgpuDeviceImpl) ensureEncoder() (*wgpu.CommandEncoder, error) {
	if d.encoder != nil {
		return d.encoder, nil
	}
	enc, err := d.device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, fmt.Errorf("gpu: failed to create command encoder: %w", err)
	}
	d.encoder = enc
	return enc, nil
}

func (d *wgpuDeviceImpl) endPassLocked() {
	if d.pass != nil {
		d.pass.End()
		d.pass.Release()
		d.pass = nil
	}
	d.targetFormats = nil
	d.depthBound = false
}

func (d *wgpuDeviceImpl) CopyTextureToTexture(src, dst Texture) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	ws, err := asWGPUTexture(src)
	if err != nil {
		return err
	}
	wd, err := asWGPUTexture(dst)
	if err != nil {
		return err
	}
	if ws.size != wd.size {
		return fmt.Errorf("gpu: copy size mismatch %q -> %q", ws.label, wd.label)
	}

	d.endPassLocked()
	enc, err := d.ensureEncoder()
	if err != nil {
		return err
	}

	enc.CopyTextureToTexture(
		&wgpu.ImageCopyTexture{Texture: ws.texture, MipLevel: 0, Origin: wgpu.Origin3D{}, Aspect: wgpu.TextureAspectAll},
		&wgpu.ImageCopyTexture{Texture: wd.texture, MipLevel: 0, Origin: wgpu.Origin3D{}, Aspect: wgpu.TextureAspectAll},
		&wgpu.Extent3D{Width: ws.size.Width, Height: ws.size.Height, DepthOrArrayLayers: 1},
	)
	return nil
}

// AlignedRowSize returns the padded bytes-per-row used when copying a texture of
// the given width and format into a readback buffer.
func AlignedRowSize(width uint32, format TextureFormat) uint32 {
	row := width * format.BytesPerPixel()
	return (row + rowAlignment - 1) &^ (rowAlignment - 1)
}

func (d *wgpuDeviceImpl) CopyTextureToBuffer(src Texture, dst Buffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	ws, err := asWGPUTexture(src)
	if err != nil {
		return err
	}
	wb, err := asWGPUBuffer(dst)
	if err != nil {
		return err
	}

	d.endPassLocked()
	enc, err := d.ensureEncoder()
	if err != nil {
		return err
	}

	paddedRow := AlignedRowSize(ws.size.Width, ws.format)
	enc.CopyTextureToBuffer(
		&wgpu.ImageCopyTexture{Texture: ws.texture, MipLevel: 0, Origin: wgpu.Origin3D{}, Aspect: wgpu.TextureAspectAll},
		&wgpu.ImageCopyBuffer{
			Buffer: wb.buffer,
			Layout: wgpu.TextureDataLayout{
				Offset:       0,
				BytesPerRow:  paddedRow,
				RowsPerImage: ws.size.Height,
			},
		},
		&wgpu.Extent3D{Width: ws.size.Width, Height: ws.size.Height, DepthOrArrayLayers: 1},
	)
	return nil
}

func (d *wgpuDeviceImpl) ReadBuffer(src Buffer, offset uint64, dst []byte) error {
	if err := d.Flush(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	wb, err := asWGPUBuffer(src)
	if err != nil {
		return err
	}

	var status wgpu.BufferMapAsyncStatus
	if mapErr := wb.buffer.MapAsync(wgpu.MapModeRead, offset, uint64(len(dst)), func(stat wgpu.BufferMapAsyncStatus) {
		status = stat
	}); mapErr != nil {
		return fmt.Errorf("gpu: map of buffer %q failed: %w", wb.label, mapErr)
	}

	// The map callback only fires once the device is polled; block here until
	// the GPU has finished with the buffer.
	d.device.Poll(true, nil)

	if status != wgpu.BufferMapAsyncStatusSuccess {
		return fmt.Errorf("gpu: map of buffer %q failed: %s", wb.label, status.String())
	}
	bm := wb.buffer.GetMappedRange(uint(offset), uint(len(dst)))
	copy(dst, bm)
	wb.buffer.Unmap()
	return nil
}

func (d *wgpuDeviceImpl) SetRenderTargets(colors []Texture, depth Texture) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.setRenderTargetsLocked(colors, depth, false, wgpu.Color{}, 1.0)
}

func (d *wgpuDeviceImpl) setRenderTargetsLocked(colors []Texture, depth Texture, clear bool, clearColor wgpu.Color, clearDepth float32) error {
	d.endPassLocked()

	if len(colors) == 0 && depth == nil {
		return nil
	}

	enc, err := d.ensureEncoder()
	if err != nil {
		return err
	}

	loadOp := wgpu.LoadOpLoad
	if clear {
		loadOp = wgpu.LoadOpClear
	}

	attachments := make([]wgpu.RenderPassColorAttachment, 0, len(colors))
	formats := make([]TextureFormat, 0, len(colors))
	for _, c := range colors {
		wt, texErr := asWGPUTexture(c)
		if texErr != nil {
			return texErr
		}
		attachments = append(attachments, wgpu.RenderPassColorAttachment{
			View:       wt.view,
			LoadOp:     loadOp,
			StoreOp:    wgpu.StoreOpStore,
			ClearValue: clearColor,
		})
		formats = append(formats, wt.format)
	}

	desc := &wgpu.RenderPassDescriptor{
		ColorAttachments: attachments,
	}
	if depth != nil {
		wd, depthErr := asWGPUTexture(depth)
		if depthErr != nil {
			return depthErr
		}
		depthLoad := wgpu.LoadOpLoad
		if clear {
			depthLoad = wgpu.LoadOpClear
		}
		desc.DepthStencilAttachment = &wgpu.RenderPassDepthStencilAttachment{
			View:            wd.view,
			DepthLoadOp:     depthLoad,
			DepthStoreOp:    wgpu.StoreOpStore,
			DepthClearValue: clearDepth,
		}
	}

	d.pass = enc.BeginRenderPass(desc)
	d.targetFormats = formats
	d.depthBound = depth != nil
	return nil
}

func (d *wgpuDeviceImpl) UnbindRenderTargets() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.endPassLocked()
}

func (d *wgpuDeviceImpl) UnbindShaderInputs() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shaderInputs = make(map[uint32]*wgpuTexture)
}

func (d *wgpuDeviceImpl) BindShaderInput(slot uint32, tex Texture) {
	d.mu.Lock()
	defer d.mu.Unlock()

	wt, err := asWGPUTexture(tex)
	if err != nil {
		log.Printf("[gpu] %v", err)
		return
	}
	d.shaderInputs[slot] = wt
}

func (d *wgpuDeviceImpl) BindPrograms(vertex, pixel Program) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	vp, vok := vertex.(*wgpuProgram)
	pp, pok := pixel.(*wgpuProgram)
	if !vok || vp.stage != ProgramStageVertex {
		return fmt.Errorf("gpu: %q is not a vertex program", vertex.Label())
	}
	if !pok || pp.stage != ProgramStagePixel {
		return fmt.Errorf("gpu: %q is not a pixel program", pixel.Label())
	}
	d.vertexProgram = vp
	d.pixelProgram = pp
	d.overrideVertex = nil
	return nil
}

func (d *wgpuDeviceImpl) OverrideVertexProgram(vertex Program) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	vp, ok := vertex.(*wgpuProgram)
	if !ok || vp.stage != ProgramStageVertex {
		return fmt.Errorf("gpu: %q is not a vertex program", vertex.Label())
	}
	d.overrideVertex = vp
	return nil
}

func (d *wgpuDeviceImpl) SetTopology(topology PrimitiveTopology) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.topology = topology
}

func (d *wgpuDeviceImpl) BindMeshBuffers(vertex, index Buffer) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if vb, err := asWGPUBuffer(vertex); err == nil {
		d.vertexBuffer = vb
	} else {
		log.Printf("[gpu] %v", err)
	}
	if ib, err := asWGPUBuffer(index); err == nil {
		d.indexBuffer = ib
	} else {
		log.Printf("[gpu] %v", err)
	}
}

func (d *wgpuDeviceImpl) WriteScopeData(slot uint32, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	buf, ok := d.scopeBuffers[slot]
	if ok && d.scopeSizes[slot] < uint64(len(data)) {
		buf.Release()
		delete(d.scopeBuffers, slot)
		ok = false
	}
	if !ok {
		created, err := d.device.CreateBuffer(&wgpu.BufferDescriptor{
			Label: fmt.Sprintf("scope %d", slot),
			Size:  uint64(len(data)),
			Usage: wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
		})
		if err != nil {
			return fmt.Errorf("gpu: failed to create scope buffer %d: %w", slot, err)
		}
		d.scopeBuffers[slot] = created
		d.scopeSizes[slot] = uint64(len(data))
		buf = created
	}
	d.queue.WriteBuffer(buf, 0, data)
	return nil
}

// activeVertexProgram resolves the vertex program for the next draw, honoring
// the skinning override.
func (d *wgpuDeviceImpl) activeVertexProgram() *wgpuProgram {
	if d.overrideVertex != nil {
		return d.overrideVertex
	}
	return d.vertexProgram
}

func (d *wgpuDeviceImpl) sortedScopeSlots() []uint32 {
	slots := make([]uint32, 0, len(d.scopeBuffers))
	for s := range d.scopeBuffers {
		slots = append(slots, s)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i] < slots[j] })
	return slots
}

func (d *wgpuDeviceImpl) sortedInputSlots() []uint32 {
	slots := make([]uint32, 0, len(d.shaderInputs))
	for s := range d.shaderInputs {
		slots = append(slots, s)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i] < slots[j] })
	return slots
}

func (d *wgpuDeviceImpl) ensureSampler() (*wgpu.Sampler, error) {
	if d.sampler != nil {
		return d.sampler, nil
	}
	samp, err := d.device.CreateSampler(&wgpu.SamplerDescriptor{
		Label:         "shared linear sampler",
		AddressModeU:  wgpu.AddressModeClampToEdge,
		AddressModeV:  wgpu.AddressModeClampToEdge,
		AddressModeW:  wgpu.AddressModeClampToEdge,
		MagFilter:     wgpu.FilterModeLinear,
		MinFilter:     wgpu.FilterModeLinear,
		MipmapFilter:  wgpu.MipmapFilterModeNearest,
		LodMinClamp:   0.0,
		LodMaxClamp:   32.0,
		MaxAnisotropy: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: failed to create sampler: %w", err)
	}
	d.sampler = samp
	return samp, nil
}

// buildBindGroups creates the layouts and bind groups for the current scope and
// shader-input bindings. Group 0 holds scope uniform buffers, group 1 holds the
// shared sampler and source textures.
func (d *wgpuDeviceImpl) buildBindGroups() ([]*wgpu.BindGroupLayout, []*wgpu.BindGroup, error) {
	scopeSlots := d.sortedScopeSlots()
	inputSlots := d.sortedInputSlots()

	scopeEntries := make([]wgpu.BindGroupLayoutEntry, 0, len(scopeSlots))
	scopeBindings := make([]wgpu.BindGroupEntry, 0, len(scopeSlots))
	for _, slot := range scopeSlots {
		entry := wgpu.BindGroupLayoutEntry{
			Binding:    slot,
			Visibility: wgpu.ShaderStageVertex | wgpu.ShaderStageFragment,
		}
		entry.Buffer.Type = wgpu.BufferBindingTypeUniform
		scopeEntries = append(scopeEntries, entry)
		scopeBindings = append(scopeBindings, wgpu.BindGroupEntry{
			Binding: slot,
			Buffer:  d.scopeBuffers[slot],
			Offset:  0,
			Size:    wgpu.WholeSize,
		})
	}

	inputEntries := make([]wgpu.BindGroupLayoutEntry, 0, len(inputSlots)+1)
	inputBindings := make([]wgpu.BindGroupEntry, 0, len(inputSlots)+1)
	if len(inputSlots) > 0 {
		samp, err := d.ensureSampler()
		if err != nil {
			return nil, nil, err
		}
		sampEntry := wgpu.BindGroupLayoutEntry{
			Binding:    0,
			Visibility: wgpu.ShaderStageFragment,
		}
		sampEntry.Sampler.Type = wgpu.SamplerBindingTypeFiltering
		inputEntries = append(inputEntries, sampEntry)
		inputBindings = append(inputBindings, wgpu.BindGroupEntry{Binding: 0, Sampler: samp})

		for i, slot := range inputSlots {
			texEntry := wgpu.BindGroupLayoutEntry{
				Binding:    uint32(i) + 1,
				Visibility: wgpu.ShaderStageFragment,
			}
			texEntry.Texture.SampleType = wgpu.TextureSampleTypeFloat
			texEntry.Texture.ViewDimension = wgpu.TextureViewDimension2D
			inputEntries = append(inputEntries, texEntry)
			inputBindings = append(inputBindings, wgpu.BindGroupEntry{
				Binding:     uint32(i) + 1,
				TextureView: d.shaderInputs[slot].view,
			})
		}
	}

	scopeLayout, err := d.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label:   "scope bindings",
		Entries: scopeEntries,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("gpu: failed to create scope layout: %w", err)
	}
	inputLayout, err := d.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label:   "shader input bindings",
		Entries: inputEntries,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("gpu: failed to create input layout: %w", err)
	}

	scopeGroup, err := d.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   "scope bind group",
		Layout:  scopeLayout,
		Entries: scopeBindings,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("gpu: failed to create scope bind group: %w", err)
	}
	inputGroup, err := d.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   "shader input bind group",
		Layout:  inputLayout,
		Entries: inputBindings,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("gpu: failed to create input bind group: %w", err)
	}

	return []*wgpu.BindGroupLayout{scopeLayout, inputLayout},
		[]*wgpu.BindGroup{scopeGroup, inputGroup}, nil
}

// pipelineKey builds the cache signature for the current pipeline state.
func (d *wgpuDeviceImpl) pipelineKey(vs, ps *wgpuProgram, withVertexLayout bool) string {
	key := fmt.Sprintf("%s|%s|%d|%t|%t|", vs.label, ps.label, d.topology, d.depthBound, withVertexLayout)
	for _, f := range d.targetFormats {
		key += f.String() + ","
	}
	key += fmt.Sprintf("|s%d|t%d", len(d.scopeBuffers), len(d.shaderInputs))
	return key
}

func (d *wgpuDeviceImpl) ensurePipeline(withVertexLayout bool) (*wgpu.RenderPipeline, []*wgpu.BindGroup, error) {
	vs := d.activeVertexProgram()
	ps := d.pixelProgram
	if vs == nil || ps == nil {
		return nil, nil, fmt.Errorf("gpu: no programs bound")
	}

	layouts, groups, err := d.buildBindGroups()
	if err != nil {
		return nil, nil, err
	}

	key := d.pipelineKey(vs, ps, withVertexLayout)
	if cached, ok := d.pipelines[key]; ok {
		return cached, groups, nil
	}

	pipelineLayout, err := d.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            key,
		BindGroupLayouts: layouts,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("gpu: failed to create pipeline layout: %w", err)
	}

	targets := make([]wgpu.ColorTargetState, 0, len(d.targetFormats))
	for _, f := range d.targetFormats {
		targets = append(targets, wgpu.ColorTargetState{
			Format:    toWGPUFormat(f),
			WriteMask: wgpu.ColorWriteMaskAll,
		})
	}

	var buffers []wgpu.VertexBufferLayout
	if withVertexLayout {
		buffers = []wgpu.VertexBufferLayout{meshVertexLayout}
	}

	desc := &wgpu.RenderPipelineDescriptor{
		Label:  key,
		Layout: pipelineLayout,
		Vertex: wgpu.VertexState{
			Module:     vs.module,
			EntryPoint: "vs_main",
			Buffers:    buffers,
		},
		Fragment: &wgpu.FragmentState{
			Module:     ps.module,
			EntryPoint: "fs_main",
			Targets:    targets,
		},
		Primitive: wgpu.PrimitiveState{
			Topology:  toWGPUTopology(d.topology),
			FrontFace: wgpu.FrontFaceCCW,
			CullMode:  wgpu.CullModeBack,
		},
		Multisample: wgpu.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	}
	if d.depthBound {
		desc.DepthStencil = &wgpu.DepthStencilState{
			Format:            wgpu.TextureFormatDepth32Float,
			DepthWriteEnabled: true,
			DepthCompare:      wgpu.CompareFunctionLessEqual,
			StencilFront: wgpu.StencilFaceState{
				Compare: wgpu.CompareFunctionAlways,
			},
			StencilBack: wgpu.StencilFaceState{
				Compare: wgpu.CompareFunctionAlways,
			},
		}
	}

	created, err := d.device.CreateRenderPipeline(desc)
	if err != nil {
		return nil, nil, fmt.Errorf("gpu: failed to create render pipeline: %w", err)
	}
	d.pipelines[key] = created
	return created, groups, nil
}

func (d *wgpuDeviceImpl) DrawIndexed(indexCount, instanceCount, firstIndex uint32, baseVertex int32) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pass == nil {
		log.Printf("[gpu] DrawIndexed with no render pass bound")
		return
	}
	if d.vertexBuffer == nil || d.indexBuffer == nil {
		log.Printf("[gpu] DrawIndexed with no mesh buffers bound")
		return
	}

	pipeline, groups, err := d.ensurePipeline(true)
	if err != nil {
		log.Printf("[gpu] %v", err)
		return
	}

	d.pass.SetPipeline(pipeline)
	for i, g := range groups {
		d.pass.SetBindGroup(uint32(i), g, nil)
	}
	d.pass.SetVertexBuffer(0, d.vertexBuffer.buffer, 0, wgpu.WholeSize)
	d.pass.SetIndexBuffer(d.indexBuffer.buffer, wgpu.IndexFormatUint32, 0, wgpu.WholeSize)
	d.pass.DrawIndexed(indexCount, instanceCount, firstIndex, baseVertex, 0)
}

func (d *wgpuDeviceImpl) Draw(vertexCount, instanceCount uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pass == nil {
		log.Printf("[gpu] Draw with no render pass bound")
		return
	}

	pipeline, groups, err := d.ensurePipeline(false)
	if err != nil {
		log.Printf("[gpu] %v", err)
		return
	}

	d.pass.SetPipeline(pipeline)
	for i, g := range groups {
		d.pass.SetBindGroup(uint32(i), g, nil)
	}
	d.pass.Draw(vertexCount, instanceCount, 0, 0)
}

func (d *wgpuDeviceImpl) ensureFullscreenVS() (*wgpuProgram, error) {
	if d.fullscreenVS != nil {
		return d.fullscreenVS, nil
	}
	vs, err := d.createProgramLocked("fullscreen triangle", ProgramStageVertex, fullscreenVertexWGSL)
	if err != nil {
		return nil, err
	}
	d.fullscreenVS = vs
	return vs, nil
}

func (d *wgpuDeviceImpl) FullScreenPass(pixel Program, target Texture, sources ...Texture) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fullScreenPassLocked(pixel, target, sources...)
}

func (d *wgpuDeviceImpl) fullScreenPassLocked(pixel Program, target Texture, sources ...Texture) error {
	pp, ok := pixel.(*wgpuProgram)
	if !ok || pp.stage != ProgramStagePixel {
		return fmt.Errorf("gpu: %q is not a pixel program", pixel.Label())
	}

	vs, err := d.ensureFullscreenVS()
	if err != nil {
		return err
	}

	d.endPassLocked()
	d.shaderInputs = make(map[uint32]*wgpuTexture)
	for i, src := range sources {
		wt, srcErr := asWGPUTexture(src)
		if srcErr != nil {
			return srcErr
		}
		d.shaderInputs[uint32(i)] = wt
	}

	if err := d.setRenderTargetsLocked([]Texture{target}, nil, false, wgpu.Color{}, 1.0); err != nil {
		return err
	}

	prevVertex, prevPixel, prevOverride := d.vertexProgram, d.pixelProgram, d.overrideVertex
	d.vertexProgram, d.pixelProgram, d.overrideVertex = vs, pp, nil

	pipeline, groups, err := d.ensurePipeline(false)
	if err == nil {
		d.pass.SetPipeline(pipeline)
		for i, g := range groups {
			d.pass.SetBindGroup(uint32(i), g, nil)
		}
		d.pass.Draw(3, 1, 0, 0)
	}

	d.vertexProgram, d.pixelProgram, d.overrideVertex = prevVertex, prevPixel, prevOverride
	d.endPassLocked()
	d.shaderInputs = make(map[uint32]*wgpuTexture)
	return err
}

func (d *wgpuDeviceImpl) ClearTexture(tex Texture, r, g, b, a float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	err := d.setRenderTargetsLocked([]Texture{tex}, nil, true, wgpu.Color{R: r, G: g, B: b, A: a}, 1.0)
	d.endPassLocked()
	return err
}

func (d *wgpuDeviceImpl) ClearDepth(tex Texture, value float32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	err := d.setRenderTargetsLocked(nil, tex, true, wgpu.Color{}, value)
	d.endPassLocked()
	return err
}

func (d *wgpuDeviceImpl) Blit(src, dst Texture) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.blitPS == nil {
		ps, err := d.createProgramLocked("blit", ProgramStagePixel, blitPixelWGSL)
		if err != nil {
			return err
		}
		d.blitPS = ps
	}
	return d.fullScreenPassLocked(d.blitPS, dst, src)
}

func (d *wgpuDeviceImpl) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.flushLocked()
}

func (d *wgpuDeviceImpl) flushLocked() error {
	d.endPassLocked()
	if d.encoder == nil {
		return nil
	}

	commands, err := d.encoder.Finish(nil)
	if err != nil {
		d.encoder.Release()
		d.encoder = nil
		return fmt.Errorf("gpu: failed to finish command encoder: %w", err)
	}
	d.queue.Submit(commands)
	commands.Release()
	d.encoder.Release()
	d.encoder = nil
	return nil
}

func (d *wgpuDeviceImpl) ConfigureSurface(size common.Size, vsync bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.surface == nil {
		return ErrNoSurface
	}
	clamped, _ := size.Clamped()

	mode := wgpu.PresentModeImmediate
	if vsync {
		mode = wgpu.PresentModeFifo
	}

	capabilities := d.surface.GetCapabilities(d.adapter)
	d.surface.Configure(d.adapter, d.device, &wgpu.SurfaceConfiguration{
		Usage:       wgpu.TextureUsageRenderAttachment,
		Format:      capabilities.Formats[0],
		Width:       clamped.Width,
		Height:      clamped.Height,
		PresentMode: mode,
		AlphaMode:   capabilities.AlphaModes[0],
	})
	d.surfaceFormat = fromWGPUFormat(capabilities.Formats[0])
	d.surfaceSize = clamped
	return nil
}

func (d *wgpuDeviceImpl) Present(src Texture) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.surface == nil {
		return ErrNoSurface
	}

	surfaceTexture, err := d.surface.GetCurrentTexture()
	if err != nil {
		return fmt.Errorf("gpu: failed to acquire surface texture: %w", err)
	}
	view, err := surfaceTexture.CreateView(nil)
	if err != nil {
		surfaceTexture.Release()
		return fmt.Errorf("gpu: failed to view surface texture: %w", err)
	}
	target := &wgpuTexture{
		label:   "surface",
		size:    d.surfaceSize,
		format:  d.surfaceFormat,
		texture: surfaceTexture,
		view:    view,
	}

	if d.blitPS == nil {
		ps, psErr := d.createProgramLocked("blit", ProgramStagePixel, blitPixelWGSL)
		if psErr != nil {
			view.Release()
			surfaceTexture.Release()
			return psErr
		}
		d.blitPS = ps
	}
	err = d.fullScreenPassLocked(d.blitPS, target, src)
	if err == nil {
		err = d.flushLocked()
	}
	if err != nil {
		view.Release()
		surfaceTexture.Release()
		return err
	}

	d.surface.Present()
	view.Release()
	surfaceTexture.Release()
	return nil
}

func (d *wgpuDeviceImpl) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.endPassLocked()
	if d.encoder != nil {
		d.encoder.Release()
		d.encoder = nil
	}
	for _, p := range d.pipelines {
		p.Release()
	}
	d.pipelines = make(map[string]*wgpu.RenderPipeline)
	for slot, b := range d.scopeBuffers {
		b.Release()
		delete(d.scopeBuffers, slot)
		delete(d.scopeSizes, slot)
	}
	if d.sampler != nil {
		d.sampler.Release()
		d.sampler = nil
	}
}
