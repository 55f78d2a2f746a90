// package drawable holds the geometry kinds the renderer dispatches per render
// stage: dynamic models, static instance batches, terrain patches, and
// decorator sets, each with its per-stage part ranges and subscriptions.
package drawable

// RenderStage is one named phase of the frame. Stages run in a fixed,
// caller-defined order; ShadowGenerate repeats once per refreshed light.
type RenderStage uint8

const (
	StageDepthPrepass RenderStage = iota
	StageGenerateGbuffer
	StageShadowGenerate
	StageDecals
	StageDecalsAdditive
	StageInvestmentDecals
	StageTransparents
	StageWaterReflection

	numRenderStages
)

// Stages lists every render stage in frame order, for dispatch loops.
var Stages = [numRenderStages]RenderStage{
	StageDepthPrepass,
	StageGenerateGbuffer,
	StageShadowGenerate,
	StageDecals,
	StageDecalsAdditive,
	StageInvestmentDecals,
	StageTransparents,
	StageWaterReflection,
}

func (s RenderStage) String() string {
	switch s {
	case StageDepthPrepass:
		return "depth_prepass"
	case StageGenerateGbuffer:
		return "generate_gbuffer"
	case StageShadowGenerate:
		return "shadow_generate"
	case StageDecals:
		return "decals"
	case StageDecalsAdditive:
		return "decals_additive"
	case StageInvestmentDecals:
		return "investment_decals"
	case StageTransparents:
		return "transparents"
	case StageWaterReflection:
		return "water_reflection"
	default:
		return "unknown"
	}
}

// StageBits is a bitset over RenderStage, plus the compute-skinning bit. A
// mesh's bits are computed once from its authored part ranges at load time and
// never change afterwards.
type StageBits uint16

// ComputeSkinning marks a mesh whose vertex streams are produced by a skinning
// pass. Drawing such a mesh routes through the entity vertex shader override.
const ComputeSkinning StageBits = 1 << 15

// Bit returns the subscription bit for a stage.
func (s RenderStage) Bit() StageBits {
	return 1 << s
}

// Has reports whether all bits in other are set.
func (b StageBits) Has(other StageBits) bool {
	return b&other == other
}

// PartRange declares which contiguous run of a mesh's parts is active for one
// stage. Ranges are authored in the asset and are half-open: [Start, End).
type PartRange struct {
	Stage RenderStage
	Start uint32
	End   uint32
}

// FromPartRanges computes a mesh's subscription bits from its authored part
// ranges. Empty ranges contribute nothing. The result is a pure function of
// the input; callers compute it at load time and store it.
func FromPartRanges(ranges []PartRange) StageBits {
	var bits StageBits
	for _, r := range ranges {
		if r.End <= r.Start {
			continue
		}
		bits |= r.Stage.Bit()
	}
	return bits
}
