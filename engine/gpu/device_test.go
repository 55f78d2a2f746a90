package gpu

import (
	"testing"

	"github.com/Taskeren/alkahest/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadBufferIsSynchronous(t *testing.T) {
	dev := NewNullDevice()

	tex, err := dev.CreateTexture(TextureDesc{
		Label:  "depth sample",
		Size:   common.Size{Width: 2, Height: 2},
		Format: TextureFormatR32Float,
		Usage:  TextureUsageCopySrc,
	})
	require.NoError(t, err)
	require.NoError(t, dev.WriteTexture(tex, []byte{
		1, 2, 3, 4, 5, 6, 7, 8,
		9, 10, 11, 12, 13, 14, 15, 16,
	}))

	buf, err := dev.CreateReadbackBuffer("depth sample readback",
		uint64(AlignedRowSize(2, TextureFormatR32Float))*2)
	require.NoError(t, err)
	require.NoError(t, dev.CopyTextureToBuffer(tex, buf))

	// The contract is a blocking read: dst holds the bytes on return.
	dst := make([]byte, 8)
	require.NoError(t, dev.ReadBuffer(buf, 0, dst))
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, dst)

	assert.Error(t, dev.ReadBuffer(buf, 4, dst), "map offsets must be 8 byte aligned")
}
