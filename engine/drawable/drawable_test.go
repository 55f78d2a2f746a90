package drawable

import (
	"testing"

	"github.com/Taskeren/alkahest/engine/gpu"
	"github.com/Taskeren/alkahest/engine/technique"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMeshBuffers(t *testing.T, dev gpu.Device) (gpu.Buffer, gpu.Buffer) {
	t.Helper()
	vb, err := dev.CreateVertexBuffer("test vb", make([]byte, 48*3))
	require.NoError(t, err)
	ib, err := dev.CreateIndexBuffer("test ib", make([]byte, 4*64))
	require.NoError(t, err)
	return vb, ib
}

func testDrawTechnique(t *testing.T, dev gpu.Device, name string, scopes technique.ScopeBits) *technique.Technique {
	t.Helper()
	vs, err := dev.CreateProgram(name+" vs", gpu.ProgramStageVertex, "")
	require.NoError(t, err)
	ps, err := dev.CreateProgram(name+" ps", gpu.ProgramStagePixel, "")
	require.NoError(t, err)
	return &technique.Technique{Name: name, Scopes: scopes, Vertex: vs, Pixel: ps}
}

func TestSubscriptionsUnionPartRanges(t *testing.T) {
	ranges := []PartRange{
		{Stage: StageGenerateGbuffer, Start: 0, End: 3},
		{Stage: StageShadowGenerate, Start: 0, End: 2},
		{Stage: StageTransparents, Start: 3, End: 4},
		{Stage: StageDecals, Start: 2, End: 2},
	}

	bits := FromPartRanges(ranges)

	var union StageBits
	for _, stage := range Stages {
		if bits.Has(stage.Bit()) {
			union |= stage.Bit()
		}
	}
	assert.Equal(t, bits, union, "per-stage bits must union back to the overall set")

	assert.True(t, bits.Has(StageGenerateGbuffer.Bit()))
	assert.True(t, bits.Has(StageShadowGenerate.Bit()))
	assert.True(t, bits.Has(StageTransparents.Bit()))
	assert.False(t, bits.Has(StageDecals.Bit()), "empty range contributes no subscription")
	assert.False(t, bits.Has(StageDepthPrepass.Bit()))
}

func TestNonHighestLODNeverDrawn(t *testing.T) {
	dev := gpu.NewNullDevice()
	binder := technique.NewBinder(dev)
	vb, ib := testMeshBuffers(t, dev)
	base := testDrawTechnique(t, dev, "base", technique.ScopeInstances)

	parts := []Part{
		{IndexCount: 6, Technique: base, MapIndex: -1, ExternalIdentifier: NoIdentifier, LOD: LODHighest},
		{IndexCount: 6, Technique: base, MapIndex: -1, ExternalIdentifier: NoIdentifier, LOD: LODMedium},
		{IndexCount: 6, Technique: base, MapIndex: -1, ExternalIdentifier: NoIdentifier, LOD: LODLowest},
	}
	ranges := []PartRange{{Stage: StageGenerateGbuffer, Start: 0, End: 3}}
	mesh := NewMesh(vb, ib, parts, ranges, technique.VariantTable{}, false)

	model := NewDynamicModel(FeatureDynamicObjects, []*Mesh{mesh})
	require.NoError(t, model.Draw(dev, binder, StageGenerateGbuffer, NoIdentifier))

	assert.Equal(t, 1, dev.DrawIndexedCount, "only the highest-detail part is submitted")
}

func TestDrawSkipsUnsubscribedStage(t *testing.T) {
	dev := gpu.NewNullDevice()
	binder := technique.NewBinder(dev)
	vb, ib := testMeshBuffers(t, dev)
	base := testDrawTechnique(t, dev, "base", 0)

	parts := []Part{{IndexCount: 6, Technique: base, MapIndex: -1, ExternalIdentifier: NoIdentifier}}
	ranges := []PartRange{{Stage: StageGenerateGbuffer, Start: 0, End: 1}}
	mesh := NewMesh(vb, ib, parts, ranges, technique.VariantTable{}, false)

	model := NewDynamicModel(FeatureRigidObject, []*Mesh{mesh})
	require.NoError(t, model.Draw(dev, binder, StageTransparents, NoIdentifier))

	assert.Zero(t, dev.DrawIndexedCount)
}

func TestDrawFiltersByExternalIdentifier(t *testing.T) {
	dev := gpu.NewNullDevice()
	binder := technique.NewBinder(dev)
	vb, ib := testMeshBuffers(t, dev)
	base := testDrawTechnique(t, dev, "base", 0)

	parts := []Part{
		{IndexCount: 6, Technique: base, MapIndex: -1, ExternalIdentifier: 7},
		{IndexCount: 6, Technique: base, MapIndex: -1, ExternalIdentifier: 9},
		{IndexCount: 6, Technique: base, MapIndex: -1, ExternalIdentifier: 7},
	}
	ranges := []PartRange{{Stage: StageGenerateGbuffer, Start: 0, End: 3}}
	mesh := NewMesh(vb, ib, parts, ranges, technique.VariantTable{}, false)
	model := NewDynamicModel(FeatureDynamicObjects, []*Mesh{mesh})

	require.NoError(t, model.Draw(dev, binder, StageGenerateGbuffer, 7))
	assert.Equal(t, 2, dev.DrawIndexedCount, "only parts matching the identifier draw")

	require.NoError(t, model.Draw(dev, binder, StageGenerateGbuffer, NoIdentifier))
	assert.Equal(t, 5, dev.DrawIndexedCount, "sentinel identifier draws everything")
}

func TestSkinnedPartUsesVertexOverride(t *testing.T) {
	dev := gpu.NewNullDevice()
	binder := technique.NewBinder(dev)
	vb, ib := testMeshBuffers(t, dev)
	base := testDrawTechnique(t, dev, "base", technique.ScopeSkinning)
	override, err := dev.CreateProgram("entity vs", gpu.ProgramStageVertex, "")
	require.NoError(t, err)

	parts := []Part{{IndexCount: 6, Technique: base, MapIndex: -1, ExternalIdentifier: NoIdentifier}}
	ranges := []PartRange{{Stage: StageGenerateGbuffer, Start: 0, End: 1}}
	mesh := NewMesh(vb, ib, parts, ranges, technique.VariantTable{}, false)

	model := NewDynamicModel(FeatureDynamicObjects, []*Mesh{mesh})
	model.SkinningOverride = override
	require.NoError(t, model.Draw(dev, binder, StageGenerateGbuffer, NoIdentifier))

	assert.Equal(t, 1, dev.VertexOverrides)
	assert.Equal(t, "entity vs", dev.BoundVertex)
	assert.Equal(t, 1, dev.DrawIndexedCount)
}

func TestSkinnedPartWithoutOverrideIsSkipped(t *testing.T) {
	dev := gpu.NewNullDevice()
	binder := technique.NewBinder(dev)
	vb, ib := testMeshBuffers(t, dev)
	base := testDrawTechnique(t, dev, "base", 0)

	parts := []Part{{IndexCount: 6, Technique: base, MapIndex: -1, ExternalIdentifier: NoIdentifier}}
	ranges := []PartRange{{Stage: StageGenerateGbuffer, Start: 0, End: 1}}
	mesh := NewMesh(vb, ib, parts, ranges, technique.VariantTable{}, true)

	model := NewDynamicModel(FeatureDynamicObjects, []*Mesh{mesh})
	require.NoError(t, model.Draw(dev, binder, StageGenerateGbuffer, NoIdentifier))

	assert.Zero(t, dev.DrawIndexedCount)
}

func TestSelectMeshAndVariantChecked(t *testing.T) {
	dev := gpu.NewNullDevice()
	vb, ib := testMeshBuffers(t, dev)

	vt := technique.VariantTable{
		Entries:    []technique.MapEntry{{Start: 0, Count: 3}},
		Techniques: make([]*technique.Technique, 3),
	}
	plain := NewMesh(vb, ib, nil, nil, technique.VariantTable{}, false)
	varied := NewMesh(vb, ib, nil, nil, vt, false)

	model := NewDynamicModel(FeatureDynamicObjects, []*Mesh{plain, varied})

	assert.Error(t, model.SelectMesh(-1))
	assert.Error(t, model.SelectMesh(2))
	require.NoError(t, model.SelectMesh(1))
	assert.Same(t, varied, model.SelectedMesh())

	assert.Equal(t, 3, model.VariantCount())
	require.NoError(t, model.SelectVariant(2))
	assert.Error(t, model.SelectVariant(3))

	require.NoError(t, model.SelectMesh(0))
	assert.Error(t, model.SelectVariant(1), "mesh without variants accepts only zero")
	require.NoError(t, model.SelectVariant(0))
}

func TestStaticInstancesDrawInstanced(t *testing.T) {
	dev := gpu.NewNullDevice()
	binder := technique.NewBinder(dev)
	vb, ib := testMeshBuffers(t, dev)
	base := testDrawTechnique(t, dev, "base", 0)

	parts := []Part{
		{IndexCount: 6, Technique: base, MapIndex: -1, ExternalIdentifier: NoIdentifier},
		{IndexCount: 6, Technique: base, MapIndex: -1, ExternalIdentifier: NoIdentifier, LOD: LODLow},
	}
	ranges := []PartRange{{Stage: StageShadowGenerate, Start: 0, End: 2}}
	mesh := NewMesh(vb, ib, parts, ranges, technique.VariantTable{}, false)

	batch := NewStaticInstances(FeatureRigidObject, mesh, 16)
	require.NoError(t, batch.Draw(dev, binder, StageShadowGenerate))
	assert.Equal(t, 1, dev.DrawIndexedCount)

	batch.InstanceCount = 0
	require.NoError(t, batch.Draw(dev, binder, StageShadowGenerate))
	assert.Equal(t, 1, dev.DrawIndexedCount, "empty batch draws nothing")
}

func TestSortBuckets(t *testing.T) {
	assert.Equal(t, 1, FeatureWater.SortBucket())
	assert.Equal(t, 2, FeatureRigidObject.SortBucket())
	assert.Equal(t, 2, FeatureDynamicObjects.SortBucket())
	assert.Equal(t, 99, FeatureSkyTransparent.SortBucket())
	assert.Equal(t, 99, FeatureSpeedtreeTrees.SortBucket())
}
