package gpu

import (
	"fmt"
	"strings"
	"sync"

	"github.com/Taskeren/alkahest/common"
)

type nullTexture struct {
	desc     TextureDesc
	data     []byte
	released bool
}

var _ Texture = &nullTexture{}

func (t *nullTexture) Label() string         { return t.desc.Label }
func (t *nullTexture) Size() common.Size     { return t.desc.Size }
func (t *nullTexture) Format() TextureFormat { return t.desc.Format }
func (t *nullTexture) Release()              { t.released = true }

type nullBuffer struct {
	label    string
	data     []byte
	released bool
}

var _ Buffer = &nullBuffer{}

func (b *nullBuffer) Label() string { return b.label }
func (b *nullBuffer) Size() uint64  { return uint64(len(b.data)) }
func (b *nullBuffer) Release()      { b.released = true }

type nullProgram struct {
	label string
	stage ProgramStage
}

var _ Program = &nullProgram{}

func (p *nullProgram) Label() string       { return p.label }
func (p *nullProgram) Stage() ProgramStage { return p.stage }

// NullDevice is a headless Device implementation that performs no GPU work but
// keeps texture contents in CPU memory and counts every operation. It backs the
// render core's tests and allows running the frame loop without a graphics
// adapter.
type NullDevice struct {
	mu sync.Mutex

	// TextureCreates counts successful CreateTexture calls.
	TextureCreates int
	// DrawIndexedCount counts DrawIndexed calls.
	DrawIndexedCount int
	// DrawCount counts non-indexed Draw calls.
	DrawCount int
	// FullScreenPasses records the pixel program label of each full-screen pass.
	FullScreenPasses []string
	// BlitCount counts Blit calls.
	BlitCount int
	// ScopeWrites counts WriteScopeData calls per slot.
	ScopeWrites map[uint32]int
	// VertexOverrides counts OverrideVertexProgram calls.
	VertexOverrides int
	// ReadBufferOffsets records the byte offset of each ReadBuffer call.
	ReadBufferOffsets []uint64
	// SurfaceConfigures counts ConfigureSurface calls; SurfaceSize and
	// SurfaceVSync hold the most recent configuration.
	SurfaceConfigures int
	SurfaceSize       common.Size
	SurfaceVSync      bool
	// Presents records the source texture label of each Present call.
	Presents []string
	// BoundVertex and BoundPixel hold the labels of the most recently bound programs.
	BoundVertex, BoundPixel string

	// FailTextureSubstring, when non-empty, makes CreateTexture fail for any
	// label containing it. Used to exercise allocation-failure paths.
	FailTextureSubstring string

	colorTargets []Texture
	depthTarget  Texture
	inputs       map[uint32]Texture
	topology     PrimitiveTopology
}

var _ Device = &NullDevice{}

// NewNullDevice creates an empty headless device.
func NewNullDevice() *NullDevice {
	return &NullDevice{
		ScopeWrites: make(map[uint32]int),
		inputs:      make(map[uint32]Texture),
	}
}

func (d *NullDevice) CreateTexture(desc TextureDesc) (Texture, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if desc.Size.IsZero() {
		return nil, fmt.Errorf("gpu: texture %q requested with zero size", desc.Label)
	}
	if d.FailTextureSubstring != "" && strings.Contains(desc.Label, d.FailTextureSubstring) {
		return nil, fmt.Errorf("gpu: failed to create texture %q: injected failure", desc.Label)
	}

	d.TextureCreates++
	size := uint64(desc.Size.Width) * uint64(desc.Size.Height) * uint64(desc.Format.BytesPerPixel())
	return &nullTexture{desc: desc, data: make([]byte, size)}, nil
}

func (d *NullDevice) CreateReadbackBuffer(label string, size uint64) (Buffer, error) {
	return &nullBuffer{label: label, data: make([]byte, size)}, nil
}

func (d *NullDevice) CreateVertexBuffer(label string, data []byte) (Buffer, error) {
	return &nullBuffer{label: label, data: append([]byte(nil), data...)}, nil
}

func (d *NullDevice) CreateIndexBuffer(label string, data []byte) (Buffer, error) {
	return &nullBuffer{label: label, data: append([]byte(nil), data...)}, nil
}

func (d *NullDevice) CreateProgram(label string, stage ProgramStage, source string) (Program, error) {
	return &nullProgram{label: label, stage: stage}, nil
}

func (d *NullDevice) WriteTexture(dst Texture, data []byte) error {
	nt, ok := dst.(*nullTexture)
	if !ok {
		return fmt.Errorf("gpu: foreign texture %q", dst.Label())
	}
	copy(nt.data, data)
	return nil
}

func (d *NullDevice) CopyTextureToTexture(src, dst Texture) error {
	ns, sok := src.(*nullTexture)
	nd, dok := dst.(*nullTexture)
	if !sok || !dok {
		return fmt.Errorf("gpu: foreign texture in copy")
	}
	if ns.desc.Size != nd.desc.Size {
		return fmt.Errorf("gpu: copy size mismatch %q -> %q", ns.desc.Label, nd.desc.Label)
	}
	copy(nd.data, ns.data)
	return nil
}

func (d *NullDevice) CopyTextureToBuffer(src Texture, dst Buffer) error {
	ns, sok := src.(*nullTexture)
	nb, bok := dst.(*nullBuffer)
	if !sok || !bok {
		return fmt.Errorf("gpu: foreign resource in copy")
	}

	bpp := ns.desc.Format.BytesPerPixel()
	row := ns.desc.Size.Width * bpp
	padded := AlignedRowSize(ns.desc.Size.Width, ns.desc.Format)
	for y := uint32(0); y < ns.desc.Size.Height; y++ {
		srcOff := uint64(y) * uint64(row)
		dstOff := uint64(y) * uint64(padded)
		if dstOff+uint64(row) > uint64(len(nb.data)) {
			break
		}
		copy(nb.data[dstOff:dstOff+uint64(row)], ns.data[srcOff:srcOff+uint64(row)])
	}
	return nil
}

func (d *NullDevice) ReadBuffer(src Buffer, offset uint64, dst []byte) error {
	nb, ok := src.(*nullBuffer)
	if !ok {
		return fmt.Errorf("gpu: foreign buffer %q", src.Label())
	}
	if offset%8 != 0 {
		return fmt.Errorf("gpu: read offset %d of buffer %q not 8 byte aligned", offset, nb.label)
	}
	if offset+uint64(len(dst)) > uint64(len(nb.data)) {
		return fmt.Errorf("gpu: read past end of buffer %q", nb.label)
	}
	d.mu.Lock()
	d.ReadBufferOffsets = append(d.ReadBufferOffsets, offset)
	d.mu.Unlock()
	copy(dst, nb.data[offset:])
	return nil
}

func (d *NullDevice) SetRenderTargets(colors []Texture, depth Texture) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.colorTargets = append([]Texture(nil), colors...)
	d.depthTarget = depth
	return nil
}

func (d *NullDevice) UnbindRenderTargets() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.colorTargets = nil
	d.depthTarget = nil
}

func (d *NullDevice) UnbindShaderInputs() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inputs = make(map[uint32]Texture)
}

func (d *NullDevice) BindShaderInput(slot uint32, tex Texture) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inputs[slot] = tex
}

func (d *NullDevice) BindPrograms(vertex, pixel Program) error {
	if vertex == nil || pixel == nil {
		return fmt.Errorf("gpu: nil program bound")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.BoundVertex = vertex.Label()
	d.BoundPixel = pixel.Label()
	return nil
}

func (d *NullDevice) OverrideVertexProgram(vertex Program) error {
	if vertex == nil {
		return fmt.Errorf("gpu: nil vertex override")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.VertexOverrides++
	d.BoundVertex = vertex.Label()
	return nil
}

func (d *NullDevice) SetTopology(topology PrimitiveTopology) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.topology = topology
}

func (d *NullDevice) BindMeshBuffers(vertex, index Buffer) {}

func (d *NullDevice) WriteScopeData(slot uint32, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ScopeWrites[slot]++
	return nil
}

func (d *NullDevice) DrawIndexed(indexCount, instanceCount, firstIndex uint32, baseVertex int32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.DrawIndexedCount++
}

func (d *NullDevice) Draw(vertexCount, instanceCount uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.DrawCount++
}

func (d *NullDevice) FullScreenPass(pixel Program, target Texture, sources ...Texture) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.FullScreenPasses = append(d.FullScreenPasses, pixel.Label())
	return nil
}

func (d *NullDevice) ClearTexture(tex Texture, r, g, b, a float64) error { return nil }

func (d *NullDevice) ClearDepth(tex Texture, value float32) error { return nil }

func (d *NullDevice) Blit(src, dst Texture) error {
	ns, sok := src.(*nullTexture)
	nd, dok := dst.(*nullTexture)
	if sok && dok && ns.desc.Size == nd.desc.Size && len(ns.data) == len(nd.data) {
		copy(nd.data, ns.data)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.BlitCount++
	return nil
}

func (d *NullDevice) Flush() error { return nil }

func (d *NullDevice) ConfigureSurface(size common.Size, vsync bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	clamped, _ := size.Clamped()
	d.SurfaceConfigures++
	d.SurfaceSize = clamped
	d.SurfaceVSync = vsync
	return nil
}

func (d *NullDevice) Present(src Texture) error {
	if src == nil {
		return fmt.Errorf("gpu: nil present source")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Presents = append(d.Presents, src.Label())
	return nil
}

func (d *NullDevice) Release() {}
