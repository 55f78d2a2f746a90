package drawable

import (
	"github.com/Taskeren/alkahest/common"
	"github.com/Taskeren/alkahest/engine/gpu"
	"github.com/Taskeren/alkahest/engine/technique"
)

// TerrainPatch is one ground tile with a single technique and a dyemap texture
// identifying surface materials. Terrain only participates in the g-buffer,
// shadow, and depth-prepass stages; the dispatcher enforces that.
type TerrainPatch struct {
	// Bounds is the patch's world-space bounding sphere for culling.
	Bounds common.Sphere

	Vertex gpu.Buffer
	Index  gpu.Buffer

	IndexCount uint32

	Technique *technique.Technique

	// Dyemap is the per-patch material identity texture, bound as the first
	// shader input. May be nil for untextured preview patches.
	Dyemap gpu.Texture
}

// Draw submits the patch. A nil technique skips the patch silently; patches
// stream in with geometry before their technique resolves.
func (t *TerrainPatch) Draw(dev gpu.Device, binder technique.Binder) error {
	if t.Technique == nil || t.IndexCount == 0 {
		return nil
	}

	binder.BindForPart(t.Technique, nil)
	if t.Dyemap != nil {
		dev.BindShaderInput(0, t.Dyemap)
	}

	dev.BindMeshBuffers(t.Vertex, t.Index)
	dev.SetTopology(gpu.TopologyTriangleList)
	dev.DrawIndexed(t.IndexCount, 1, 0, 0)
	return nil
}
