package technique

import (
	"testing"

	"github.com/Taskeren/alkahest/engine/gpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTechnique(t *testing.T, dev gpu.Device, name string, scopes ScopeBits) *Technique {
	t.Helper()
	vs, err := dev.CreateProgram(name+" vs", gpu.ProgramStageVertex, "")
	require.NoError(t, err)
	ps, err := dev.CreateProgram(name+" ps", gpu.ProgramStagePixel, "")
	require.NoError(t, err)
	return &Technique{Name: name, Scopes: scopes, Vertex: vs, Pixel: ps}
}

func TestVariantResolutionWrapsAround(t *testing.T) {
	dev := gpu.NewNullDevice()

	list := make([]*Technique, 8)
	for i := range list {
		list[i] = testTechnique(t, dev, "variant", 0)
	}
	vt := &VariantTable{
		Entries:    []MapEntry{{Start: 0, Count: 2}, {Start: 5, Count: 3}},
		Techniques: list,
	}

	expected := []int{5, 6, 7, 5, 6}
	for variant, want := range expected {
		got := vt.Resolve(1, uint16(variant))
		require.NotNil(t, got)
		assert.Same(t, list[want], got, "variant %d", variant)
	}
}

func TestVariantResolutionSentinelAndBounds(t *testing.T) {
	vt := &VariantTable{
		Entries:    []MapEntry{{Start: 0, Count: 2}, {Start: 1, Count: 4}},
		Techniques: []*Technique{{Name: "a"}, {Name: "b"}},
	}

	assert.Nil(t, vt.Resolve(0, NoVariant), "sentinel yields no variant")
	assert.Nil(t, vt.Resolve(5, 0), "out-of-range map index is a skipped lookup")
	assert.Nil(t, vt.Resolve(-1, 0))
	assert.Nil(t, vt.Resolve(1, 2), "resolved index past list yields none")
}

func TestBinderAccumulatesScopeUnion(t *testing.T) {
	dev := gpu.NewNullDevice()
	binder := NewBinder(dev)

	base := testTechnique(t, dev, "base", ScopeFrame|ScopeView)
	variant := testTechnique(t, dev, "variant", ScopeInstances|ScopeSkinning)

	scopes := binder.BindForPart(base, variant)
	assert.Equal(t, ScopeFrame|ScopeView|ScopeInstances|ScopeSkinning, scopes)
	assert.Equal(t, "variant vs", dev.BoundVertex, "variant bound after base")

	assert.Equal(t, base.Scopes, binder.BindForPart(base, nil))
	assert.Equal(t, ScopeBits(0), binder.BindForPart(nil, nil))
}

func TestBinderBaseFailureStillBindsVariant(t *testing.T) {
	dev := gpu.NewNullDevice()
	binder := NewBinder(dev)

	// base with no programs fails to bind
	base := &Technique{Name: "broken", Scopes: ScopeFrame}
	variant := testTechnique(t, dev, "variant", ScopeDecal)

	scopes := binder.BindForPart(base, variant)
	assert.Equal(t, ScopeFrame|ScopeDecal, scopes)
	assert.Equal(t, "variant vs", dev.BoundVertex)
}

func TestTechniqueBindUploadsConstants(t *testing.T) {
	dev := gpu.NewNullDevice()
	tech := testTechnique(t, dev, "lit", ScopeFrame)
	tech.ConstantSlot = 3
	tech.Constants = []byte{1, 2, 3, 4}

	require.NoError(t, tech.Bind(dev))
	assert.Equal(t, 1, dev.ScopeWrites[3])
}
