package drawable

import (
	"fmt"

	"github.com/Taskeren/alkahest/engine/gpu"
	"github.com/Taskeren/alkahest/engine/technique"
)

// StaticInstances is an instanced batch of one static mesh. Every placement of
// the mesh in the scene draws in a single instanced call per part.
type StaticInstances struct {
	// Feature classifies the batch for toggles and stage sort order.
	Feature FeatureType

	// Mesh is the shared geometry; the batch does not own it.
	Mesh *Mesh

	// InstanceCount is the number of placements drawn per part.
	InstanceCount uint32
}

// NewStaticInstances creates a batch. Panics if the mesh is nil; a batch with
// no geometry cannot be represented.
func NewStaticInstances(feature FeatureType, mesh *Mesh, instanceCount uint32) *StaticInstances {
	if mesh == nil {
		panic("drawable: static instances need a mesh")
	}
	return &StaticInstances{
		Feature:       feature,
		Mesh:          mesh,
		InstanceCount: instanceCount,
	}
}

// Draw submits the batch's parts for one stage as instanced draws. Eligibility
// matches DynamicModel.Draw minus the identifier filter; static batches have
// no logical pieces to isolate.
func (s *StaticInstances) Draw(dev gpu.Device, binder technique.Binder, stage RenderStage) error {
	if s.InstanceCount == 0 {
		return nil
	}
	if !s.Mesh.SubscribesTo(stage) {
		return nil
	}

	parts := s.Mesh.PartsForStage(stage)
	if len(parts) == 0 {
		return nil
	}

	dev.BindMeshBuffers(s.Mesh.Vertex, s.Mesh.Index)

	for i := range parts {
		part := &parts[i]
		if !part.LOD.IsHighestDetail() {
			continue
		}

		variant := s.Mesh.Variants.Resolve(part.MapIndex, 0)
		binder.BindForPart(part.Technique, variant)

		dev.SetTopology(part.Topology)
		dev.DrawIndexed(part.IndexCount, s.InstanceCount, part.IndexStart, part.BaseVertex)
	}
	return nil
}

// Decorator is a set of instanced foliage batches drawn behind the speedtree
// feature toggle. Decorators only ever draw alongside tree rendering.
type Decorator struct {
	Batches []*StaticInstances
}

// Draw submits every batch for the stage.
func (d *Decorator) Draw(dev gpu.Device, binder technique.Binder, stage RenderStage) error {
	for _, b := range d.Batches {
		if err := b.Draw(dev, binder, stage); err != nil {
			return fmt.Errorf("drawable: decorator batch: %w", err)
		}
	}
	return nil
}
