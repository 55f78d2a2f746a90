package drawable

import (
	"github.com/Taskeren/alkahest/engine/gpu"
	"github.com/Taskeren/alkahest/engine/technique"
)

// LODCategory is a part's authored level-of-detail class. Lower values are
// more detailed; only the highest-detail category is ever drawn.
type LODCategory uint8

const (
	LODHighest LODCategory = iota
	LODMedium
	LODLow
	LODLowest
)

// IsHighestDetail reports whether parts of this category are drawable.
func (l LODCategory) IsHighestDetail() bool {
	return l == LODHighest
}

// NoIdentifier is the sentinel external identifier meaning "draw every part".
const NoIdentifier = ^uint16(0)

// Part is one draw record of a mesh: an index range plus the technique state
// needed to draw it. Parts are immutable after load.
type Part struct {
	// IndexStart and IndexCount address the mesh's shared index buffer.
	IndexStart uint32
	IndexCount uint32

	// BaseVertex offsets indices into the shared vertex buffer.
	BaseVertex int32

	// Technique is the part's base technique, may be nil for depth-only parts.
	Technique *technique.Technique

	// MapIndex selects the variant map entry for this part. Parts without
	// variants carry the sentinel selector there.
	MapIndex int

	// ExternalIdentifier groups parts into a logical piece that callers can
	// draw in isolation. NoIdentifier means the part belongs to no group.
	ExternalIdentifier uint16

	// LOD is the part's level-of-detail category.
	LOD LODCategory

	Topology gpu.PrimitiveTopology
}

// FeatureType classifies a drawable for per-feature render toggles and for
// the dispatch sort order within a stage.
type FeatureType uint8

const (
	FeatureRigidObject FeatureType = iota
	FeatureDynamicObjects
	FeatureWater
	FeatureSkyTransparent
	FeatureSpeedtreeTrees
	FeatureTerrain
)

func (f FeatureType) String() string {
	switch f {
	case FeatureRigidObject:
		return "rigid_object"
	case FeatureDynamicObjects:
		return "dynamic_objects"
	case FeatureWater:
		return "water"
	case FeatureSkyTransparent:
		return "sky_transparent"
	case FeatureSpeedtreeTrees:
		return "speedtree_trees"
	case FeatureTerrain:
		return "terrain"
	default:
		return "unknown"
	}
}

// SortBucket orders features within a stage. Water draws before rigid and
// dynamic objects; everything else sorts last.
func (f FeatureType) SortBucket() int {
	switch f {
	case FeatureWater:
		return 1
	case FeatureRigidObject, FeatureDynamicObjects:
		return 2
	default:
		return 99
	}
}

// Mesh is one loaded geometry asset: shared vertex and index buffers, the part
// list, and the authored per-stage part ranges. Meshes are shared across many
// drawables and are read-only after load.
type Mesh struct {
	Vertex gpu.Buffer
	Index  gpu.Buffer

	Parts  []Part
	Ranges []PartRange

	// Subscriptions is FromPartRanges(Ranges), optionally with ComputeSkinning
	// set by the loader. Stored rather than recomputed per draw.
	Subscriptions StageBits

	// Variants is the mesh's variant technique table.
	Variants technique.VariantTable
}

// NewMesh builds a mesh and computes its subscription bits from the ranges.
// Set skinned for meshes whose vertex streams come out of a skinning pass.
func NewMesh(vertex, index gpu.Buffer, parts []Part, ranges []PartRange, variants technique.VariantTable, skinned bool) *Mesh {
	bits := FromPartRanges(ranges)
	if skinned {
		bits |= ComputeSkinning
	}
	return &Mesh{
		Vertex:        vertex,
		Index:         index,
		Parts:         parts,
		Ranges:        ranges,
		Subscriptions: bits,
		Variants:      variants,
	}
}

// SubscribesTo reports whether any part range covers the stage.
func (m *Mesh) SubscribesTo(stage RenderStage) bool {
	return m.Subscriptions.Has(stage.Bit())
}

// PartsForStage returns the part indices active for a stage, in authored
// order. Out-of-range authored values are clamped to the part list.
func (m *Mesh) PartsForStage(stage RenderStage) []Part {
	for _, r := range m.Ranges {
		if r.Stage != stage {
			continue
		}
		start, end := r.Start, r.End
		if start > uint32(len(m.Parts)) {
			start = uint32(len(m.Parts))
		}
		if end > uint32(len(m.Parts)) {
			end = uint32(len(m.Parts))
		}
		if end <= start {
			return nil
		}
		return m.Parts[start:end]
	}
	return nil
}
