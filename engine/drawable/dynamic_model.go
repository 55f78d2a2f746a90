package drawable

import (
	"fmt"
	"log"

	"github.com/Taskeren/alkahest/engine/gpu"
	"github.com/Taskeren/alkahest/engine/technique"
)

// DynamicModel is a mesh-switchable, variant-switchable drawable. One model
// asset carries several meshes (damage states, gear permutations) and a
// variant selector cycling per-part technique overrides.
type DynamicModel struct {
	// Feature classifies the model for toggles and stage sort order.
	Feature FeatureType

	// Identifier is the model's own external identifier, used by callers that
	// want to draw just this logical piece. Defaults to NoIdentifier.
	Identifier uint16

	// SkinningOverride is the entity vertex shader bound in place of the
	// technique's own vertex program for skinned parts. May be nil when the
	// model has no skinned content.
	SkinningOverride gpu.Program

	meshes          []*Mesh
	selectedMesh    int
	selectedVariant uint16
}

// NewDynamicModel creates a model over its mesh list. Panics if the list is
// empty; an asset with no meshes cannot be represented.
func NewDynamicModel(feature FeatureType, meshes []*Mesh) *DynamicModel {
	if len(meshes) == 0 {
		panic("drawable: dynamic model needs at least one mesh")
	}
	return &DynamicModel{
		Feature:    feature,
		Identifier: NoIdentifier,
		meshes:     meshes,
	}
}

// SelectedMesh returns the active mesh.
func (m *DynamicModel) SelectedMesh() *Mesh {
	return m.meshes[m.selectedMesh]
}

// MeshCount returns the number of switchable meshes.
func (m *DynamicModel) MeshCount() int {
	return len(m.meshes)
}

// SelectMesh switches the active mesh.
//
// Parameters:
//   - index: the mesh index to activate
//
// Returns:
//   - error: an error if the index is out of range; the selection is unchanged
func (m *DynamicModel) SelectMesh(index int) error {
	if index < 0 || index >= len(m.meshes) {
		return fmt.Errorf("drawable: mesh index %d out of range [0, %d)", index, len(m.meshes))
	}
	m.selectedMesh = index
	return nil
}

// VariantCount returns the largest variant count across the active mesh's map
// entries. Zero means the mesh carries no variants.
func (m *DynamicModel) VariantCount() int {
	count := 0
	for _, e := range m.SelectedMesh().Variants.Entries {
		if int(e.Count) > count {
			count = int(e.Count)
		}
	}
	return count
}

// SelectVariant switches the active variant selector.
//
// Parameters:
//   - variant: the variant index to activate
//
// Returns:
//   - error: an error if the active mesh has variants and the index is out of
//     range; the selection is unchanged
func (m *DynamicModel) SelectVariant(variant uint16) error {
	count := m.VariantCount()
	if count == 0 {
		if variant != 0 {
			return fmt.Errorf("drawable: mesh has no variants, got %d", variant)
		}
		m.selectedVariant = 0
		return nil
	}
	if int(variant) >= count {
		return fmt.Errorf("drawable: variant %d out of range [0, %d)", variant, count)
	}
	m.selectedVariant = variant
	return nil
}

// Draw submits the active mesh's parts for one stage. A part is skipped when
// the caller asked for a specific identifier and it does not match, or when
// its LOD category is not highest detail. Skinned parts draw through the
// entity vertex shader override.
//
// Parameters:
//   - dev: the graphics device
//   - binder: the technique binder
//   - stage: the render stage being dispatched
//   - identifier: an external identifier restricting the draw to one logical
//     piece, or NoIdentifier for all parts
//
// Returns:
//   - error: an error if a draw-level bind failed; part skips are not errors
func (m *DynamicModel) Draw(dev gpu.Device, binder technique.Binder, stage RenderStage, identifier uint16) error {
	mesh := m.SelectedMesh()
	if !mesh.SubscribesTo(stage) {
		return nil
	}

	parts := mesh.PartsForStage(stage)
	if len(parts) == 0 {
		return nil
	}

	dev.BindMeshBuffers(mesh.Vertex, mesh.Index)

	for i := range parts {
		part := &parts[i]
		if identifier != NoIdentifier && part.ExternalIdentifier != identifier {
			continue
		}
		if !part.LOD.IsHighestDetail() {
			continue
		}

		variant := mesh.Variants.Resolve(part.MapIndex, m.selectedVariant)
		scopes := binder.BindForPart(part.Technique, variant)

		if mesh.Subscriptions.Has(ComputeSkinning) || scopes.Has(technique.ScopeSkinning) {
			if m.SkinningOverride == nil {
				log.Printf("[drawable] skinned part without override shader, skipping")
				continue
			}
			if err := dev.OverrideVertexProgram(m.SkinningOverride); err != nil {
				return fmt.Errorf("drawable: skinning override: %w", err)
			}
		}

		dev.SetTopology(part.Topology)
		dev.DrawIndexed(part.IndexCount, 1, part.IndexStart, part.BaseVertex)
	}
	return nil
}
