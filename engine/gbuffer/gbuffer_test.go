package gbuffer

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/Taskeren/alkahest/common"
	"github.com/Taskeren/alkahest/engine/gpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGBuffer(t *testing.T, w, h uint32) (*GBuffer, *gpu.NullDevice) {
	t.Helper()
	dev := gpu.NewNullDevice()
	g, err := New(dev, common.Size{Width: w, Height: h})
	require.NoError(t, err)
	return g, dev
}

func TestZeroSizeClampsToOnePixel(t *testing.T) {
	g, _ := newTestGBuffer(t, 0, 0)
	assert.Equal(t, common.Size{Width: 1, Height: 1}, g.Size())
	assert.Equal(t, common.Size{Width: 1, Height: 1}, g.RT0.Size())
}

func TestQuarterResolutionLookups(t *testing.T) {
	g, _ := newTestGBuffer(t, 800, 600)

	assert.Equal(t, common.Size{Width: 200, Height: 150}, g.AtmosFarLookup.Size())
	assert.Equal(t, common.Size{Width: 200, Height: 150}, g.AtmosNearLookup.Size())
	assert.Equal(t, common.Size{Width: 512, Height: 512}, g.DepthAngleDensityLookup.Size())
}

func TestPostProcessSwapAlternatesRoles(t *testing.T) {
	g, _ := newTestGBuffer(t, 64, 64)

	src1, dst1 := g.PostProcessRT(true)
	require.NotSame(t, src1, dst1)
	assert.NotEqual(t, src1.Texture, dst1.Texture)

	src2, dst2 := g.PostProcessRT(true)
	assert.Same(t, src1, dst2)
	assert.Same(t, dst1, src2)

	// without swap the pair is stable
	src3, dst3 := g.PostProcessRT(false)
	src4, dst4 := g.PostProcessRT(false)
	assert.Same(t, src3, src4)
	assert.Same(t, dst3, dst4)
}

func TestPostProcessOutputTracksLastWritten(t *testing.T) {
	g, _ := newTestGBuffer(t, 64, 64)

	_, dst := g.PostProcessRT(true)
	assert.Same(t, dst, g.PostProcessOutput())

	src, _ := g.PostProcessRT(false)
	assert.Same(t, dst, src)
}

func TestResizeSameSizeIsIdempotent(t *testing.T) {
	g, dev := newTestGBuffer(t, 320, 240)

	require.NoError(t, g.Resize(common.Size{Width: 640, Height: 480}))
	created := dev.TextureCreates
	firstRT0 := g.RT0.Texture

	require.NoError(t, g.Resize(common.Size{Width: 640, Height: 480}))
	assert.Equal(t, created, dev.TextureCreates, "same-size resize must not reallocate")
	assert.Equal(t, firstRT0, g.RT0.Texture)
	assert.Equal(t, common.Size{Width: 640, Height: 480}, g.Size())
}

func TestResizeScalesLookupsProportionally(t *testing.T) {
	g, _ := newTestGBuffer(t, 320, 240)
	require.NoError(t, g.Resize(common.Size{Width: 1024, Height: 768}))

	assert.Equal(t, common.Size{Width: 256, Height: 192}, g.AtmosFarLookup.Size())
	assert.Equal(t, common.Size{Width: 512, Height: 512}, g.DepthAngleDensityLookup.Size())
}

func TestResizeFailureKeepsPreviousResources(t *testing.T) {
	g, dev := newTestGBuffer(t, 320, 240)
	before := g.RT2.Texture

	dev.FailTextureSubstring = "RT2"
	err := g.Resize(common.Size{Width: 640, Height: 480})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RT2")

	// the previous set is fully intact and still consistently sized
	assert.Equal(t, common.Size{Width: 320, Height: 240}, g.Size())
	assert.Same(t, before, g.RT2.Texture)
	assert.Equal(t, common.Size{Width: 320, Height: 240}, g.RT0.Size())
	assert.Equal(t, common.Size{Width: 320, Height: 240}, g.Depth.Size())

	// a later resize succeeds once allocation recovers
	dev.FailTextureSubstring = ""
	require.NoError(t, g.Resize(common.Size{Width: 640, Height: 480}))
	assert.Equal(t, common.Size{Width: 640, Height: 480}, g.RT2.Size())
}

func TestDepthBufferReadCenter(t *testing.T) {
	g, dev := newTestGBuffer(t, 4, 4)

	// fill the depth texture with a known value
	data := make([]byte, 4*4*4)
	for i := 0; i < 16; i++ {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(0.75))
	}
	require.NoError(t, dev.WriteTexture(g.Depth.Texture, data))

	assert.InDelta(t, 0.75, g.DepthBufferReadCenter(), 1e-6)
	assert.InDelta(t, 0.75, g.DepthBufferRead(3, 3), 1e-6)
}

func TestDepthBufferReadEveryTexel(t *testing.T) {
	g, dev := newTestGBuffer(t, 4, 4)

	// distinct values per texel so a wrong offset reads a wrong value
	data := make([]byte, 4*4*4)
	for i := 0; i < 16; i++ {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(float32(i)/16))
	}
	require.NoError(t, dev.WriteTexture(g.Depth.Texture, data))

	for y := uint32(0); y < 4; y++ {
		for x := uint32(0); x < 4; x++ {
			want := float32(y*4+x) / 16
			assert.InDelta(t, want, g.DepthBufferRead(x, y), 1e-6, "texel (%d, %d)", x, y)
		}
	}

	require.NotEmpty(t, dev.ReadBufferOffsets)
	for _, off := range dev.ReadBufferOffsets {
		assert.Zero(t, off%8, "map offset %d must be 8 byte aligned", off)
	}
}
