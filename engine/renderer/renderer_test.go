package renderer

import (
	"path/filepath"
	"testing"

	"github.com/Taskeren/alkahest/common"
	"github.com/Taskeren/alkahest/engine/assets"
	"github.com/Taskeren/alkahest/engine/drawable"
	"github.com/Taskeren/alkahest/engine/gpu"
	"github.com/Taskeren/alkahest/engine/scene"
	"github.com/Taskeren/alkahest/engine/technique"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAssets struct {
	idle bool
}

func (s *stubAssets) Get(uint64) (any, bool)                           { return nil, false }
func (s *stubAssets) Resolve(uint64) (any, error)                      { return nil, assets.ErrUnknownKey }
func (s *stubAssets) Load(_ uint64, load assets.LoadFunc) (any, error) { return load() }
func (s *stubAssets) Prefetch(uint64, assets.LoadFunc)                 {}
func (s *stubAssets) Pending() int                                     { return 0 }
func (s *stubAssets) Idle() bool                                       { return s.idle }

// drawOrderDevice records which pixel program was bound at each indexed draw.
type drawOrderDevice struct {
	*gpu.NullDevice
	order []string
}

func (d *drawOrderDevice) DrawIndexed(indexCount, instanceCount, firstIndex uint32, baseVertex int32) {
	d.NullDevice.DrawIndexed(indexCount, instanceCount, firstIndex, baseVertex)
	d.order = append(d.order, d.BoundPixel)
}

func newTestRenderer(t *testing.T, dev gpu.Device, idle bool) *Renderer {
	t.Helper()
	r, err := New(dev, &stubAssets{idle: idle}, common.Size{Width: 64, Height: 64}, DefaultSettings())
	require.NoError(t, err)
	return r
}

func stageMesh(t *testing.T, dev gpu.Device, name string, stages ...drawable.RenderStage) *drawable.Mesh {
	t.Helper()
	vb, err := dev.CreateVertexBuffer(name+" vb", make([]byte, 48*3))
	require.NoError(t, err)
	ib, err := dev.CreateIndexBuffer(name+" ib", make([]byte, 4*6))
	require.NoError(t, err)
	vs, err := dev.CreateProgram(name+" vs", gpu.ProgramStageVertex, "")
	require.NoError(t, err)
	ps, err := dev.CreateProgram(name+" ps", gpu.ProgramStagePixel, "")
	require.NoError(t, err)

	parts := []drawable.Part{{
		IndexCount:         6,
		Technique:          &technique.Technique{Name: name, Vertex: vs, Pixel: ps},
		MapIndex:           -1,
		ExternalIdentifier: drawable.NoIdentifier,
	}}
	var ranges []drawable.PartRange
	for _, s := range stages {
		ranges = append(ranges, drawable.PartRange{Stage: s, Start: 0, End: 1})
	}
	return drawable.NewMesh(vb, ib, parts, ranges, technique.VariantTable{}, false)
}

func TestDisabledTransparentsIssuesNoDraws(t *testing.T) {
	dev := gpu.NewNullDevice()
	r := newTestRenderer(t, dev, true)

	sc := scene.New()
	e := sc.Spawn()
	mesh := stageMesh(t, dev, "glass", drawable.StageTransparents)
	sc.AttachDynamicModel(e, drawable.NewDynamicModel(drawable.FeatureDynamicObjects, []*drawable.Mesh{mesh}))

	r.Settings.StageTransparents = false
	r.RunStage(sc, drawable.StageTransparents)
	assert.Zero(t, dev.DrawIndexedCount)

	r.Settings.StageTransparents = true
	r.RunStage(sc, drawable.StageTransparents)
	assert.Equal(t, 1, dev.DrawIndexedCount)
}

func TestWaterDrawsBeforeRigidObjects(t *testing.T) {
	dev := &drawOrderDevice{NullDevice: gpu.NewNullDevice()}
	r := newTestRenderer(t, dev, true)

	sc := scene.New()
	rigid := sc.Spawn()
	sc.AttachDynamicModel(rigid, drawable.NewDynamicModel(drawable.FeatureRigidObject,
		[]*drawable.Mesh{stageMesh(t, dev, "rigid", drawable.StageGenerateGbuffer)}))
	water := sc.Spawn()
	sc.AttachDynamicModel(water, drawable.NewDynamicModel(drawable.FeatureWater,
		[]*drawable.Mesh{stageMesh(t, dev, "water", drawable.StageGenerateGbuffer)}))

	r.RunStage(sc, drawable.StageGenerateGbuffer)
	require.Equal(t, []string{"water ps", "rigid ps"}, dev.order)
}

func TestSkyObjectsDrawBackToFront(t *testing.T) {
	dev := &drawOrderDevice{NullDevice: gpu.NewNullDevice()}
	r := newTestRenderer(t, dev, true)

	sc := scene.New()
	distances := map[string]float32{"near": 1, "far": 100, "mid": 25}
	for name, dist := range distances {
		e := sc.Spawn()
		sc.SetTransform(e, scene.Transform{Position: common.Vec3{dist, 0, 0}})
		sc.AttachDynamicModel(e, drawable.NewDynamicModel(drawable.FeatureSkyTransparent,
			[]*drawable.Mesh{stageMesh(t, dev, name, drawable.StageTransparents)}))
	}

	r.DrawSkyObjects(sc)
	require.Equal(t, []string{"far ps", "mid ps", "near ps"}, dev.order)
}

func TestSkyObjectsExcludedFromGenericDispatch(t *testing.T) {
	dev := gpu.NewNullDevice()
	r := newTestRenderer(t, dev, true)

	sc := scene.New()
	e := sc.Spawn()
	sc.AttachDynamicModel(e, drawable.NewDynamicModel(drawable.FeatureSkyTransparent,
		[]*drawable.Mesh{stageMesh(t, dev, "sky", drawable.StageTransparents)}))

	r.RunStage(sc, drawable.StageTransparents)
	assert.Zero(t, dev.DrawIndexedCount)
}

func addShadowLight(sc scene.Scene, lastUpdate uint64, visible bool) *scene.ShadowLight {
	e := sc.Spawn()
	if !visible {
		sc.SetVisibility(e, scene.Visibility{Hidden: true})
	}
	light := &scene.ShadowLight{LastUpdate: lastUpdate, StationaryNeedsUpdate: true}
	sc.AttachShadowLight(e, light)
	return light
}

func TestShadowBudgetRefreshesOldestFirst(t *testing.T) {
	dev := gpu.NewNullDevice()
	r := newTestRenderer(t, dev, true)
	r.Settings.ShadowUpdatesPerFrame = 2

	sc := scene.New()
	newest := addShadowLight(sc, 50, true)
	oldest := addShadowLight(sc, 1, true)
	middle := addShadowLight(sc, 30, true)

	for i := 0; i < 60; i++ {
		r.BeginFrame()
	}
	frame := r.FrameIndex()
	r.UpdateShadowMaps(sc)

	assert.Equal(t, frame, oldest.LastUpdate)
	assert.Equal(t, frame, middle.LastUpdate)
	assert.Equal(t, uint64(50), newest.LastUpdate, "budget of two leaves the newest light untouched")
	assert.NotNil(t, oldest.Stationary)
	assert.NotNil(t, oldest.Moving)
}

func TestShadowQualityOffIsNoOp(t *testing.T) {
	dev := gpu.NewNullDevice()
	r := newTestRenderer(t, dev, true)
	r.Settings.ShadowQuality = ShadowOff

	sc := scene.New()
	light := addShadowLight(sc, 0, true)

	r.BeginFrame()
	r.UpdateShadowMaps(sc)
	assert.Nil(t, light.Stationary)
	assert.Zero(t, light.LastUpdate)
}

func TestMatcapSuspendsShadowUpdates(t *testing.T) {
	dev := gpu.NewNullDevice()
	r := newTestRenderer(t, dev, true)
	r.Settings.Matcap = true

	sc := scene.New()
	light := addShadowLight(sc, 0, true)

	r.BeginFrame()
	r.UpdateShadowMaps(sc)
	assert.Nil(t, light.Stationary)
}

func TestStreamingKeepsStationaryDirty(t *testing.T) {
	dev := gpu.NewNullDevice()
	r := newTestRenderer(t, dev, false)
	r.Settings.ShadowUpdatesPerFrame = 4

	sc := scene.New()
	hidden := addShadowLight(sc, 0, false)

	r.BeginFrame()
	r.UpdateShadowMaps(sc)

	assert.Equal(t, r.FrameIndex(), hidden.LastUpdate,
		"streaming makes even culled lights eligible")
	assert.True(t, hidden.StationaryNeedsUpdate,
		"stationary content is retried while assets stream")
}

func TestStationaryClearedOnceAssetsIdle(t *testing.T) {
	dev := gpu.NewNullDevice()
	r := newTestRenderer(t, dev, true)
	r.Settings.ShadowUpdatesPerFrame = 4

	sc := scene.New()
	light := addShadowLight(sc, 0, true)

	r.BeginFrame()
	r.UpdateShadowMaps(sc)
	assert.False(t, light.StationaryNeedsUpdate)
}

func TestShadowPassesSplitStationaryAndMoving(t *testing.T) {
	dev := gpu.NewNullDevice()
	r := newTestRenderer(t, dev, true)
	r.Settings.ShadowUpdatesPerFrame = 1

	sc := scene.New()
	static := sc.Spawn()
	sc.AttachStaticInstances(static, drawable.NewStaticInstances(drawable.FeatureRigidObject,
		stageMesh(t, dev, "house", drawable.StageShadowGenerate), 4))
	dynamic := sc.Spawn()
	sc.AttachDynamicModel(dynamic, drawable.NewDynamicModel(drawable.FeatureDynamicObjects,
		[]*drawable.Mesh{stageMesh(t, dev, "guard", drawable.StageShadowGenerate)}))
	addShadowLight(sc, 0, true)

	r.BeginFrame()
	r.UpdateShadowMaps(sc)
	assert.Equal(t, 2, dev.DrawIndexedCount,
		"dirty light draws statics in the stationary pass and dynamics in the moving pass")

	r.BeginFrame()
	r.UpdateShadowMaps(sc)
	assert.Equal(t, 3, dev.DrawIndexedCount,
		"clean light regenerates only the moving contribution")
}

func TestPostProcessChainWithAndWithoutFXAA(t *testing.T) {
	dev := gpu.NewNullDevice()
	r := newTestRenderer(t, dev, true)

	r.Settings.FXAA = false
	require.NoError(t, r.DrawPostProcess())
	assert.Equal(t, 2, dev.BlitCount)
	assert.Empty(t, dev.FullScreenPasses)

	r.Settings.FXAA = true
	require.NoError(t, r.DrawPostProcess())
	assert.Equal(t, 4, dev.BlitCount)
	assert.Equal(t, []string{"fxaa ps"}, dev.FullScreenPasses)
}

func TestFXAANoiseSelectsGrainVariant(t *testing.T) {
	dev := gpu.NewNullDevice()
	r := newTestRenderer(t, dev, true)

	r.Settings.FXAA = true
	r.Settings.FXAANoise = true
	require.NoError(t, r.DrawPostProcess())
	assert.Equal(t, []string{"fxaa noise ps"}, dev.FullScreenPasses)
}

func TestSSAODrawsGenerateAndBlurPasses(t *testing.T) {
	dev := gpu.NewNullDevice()
	r := newTestRenderer(t, dev, true)

	r.Settings.SSAO = false
	require.NoError(t, r.DrawSSAO())
	assert.Empty(t, dev.FullScreenPasses)

	r.Settings.SSAO = true
	require.NoError(t, r.DrawSSAO())
	assert.Equal(t, []string{"ssao ps", "ssao blur ps"}, dev.FullScreenPasses)
}

func TestShaderBallMissingTechniquePanics(t *testing.T) {
	dev := gpu.NewNullDevice()
	r := newTestRenderer(t, dev, true)

	vb, err := dev.CreateVertexBuffer("ball vb", make([]byte, 48))
	require.NoError(t, err)
	ib, err := dev.CreateIndexBuffer("ball ib", make([]byte, 24))
	require.NoError(t, err)
	parts := []drawable.Part{{IndexCount: 6, MapIndex: -1, ExternalIdentifier: drawable.NoIdentifier}}
	ranges := []drawable.PartRange{{Stage: drawable.StageGenerateGbuffer, Start: 0, End: 1}}
	mesh := drawable.NewMesh(vb, ib, parts, ranges, technique.VariantTable{}, false)
	r.ShaderBall = drawable.NewDynamicModel(drawable.FeatureRigidObject, []*drawable.Mesh{mesh})

	assert.Panics(t, func() {
		r.RunStage(scene.New(), drawable.StageGenerateGbuffer)
	})
}

func TestEndFramePresentsShadingResult(t *testing.T) {
	dev := gpu.NewNullDevice()
	r := newTestRenderer(t, dev, true)

	require.Equal(t, 1, dev.SurfaceConfigures)
	assert.Equal(t, common.Size{Width: 64, Height: 64}, dev.SurfaceSize)
	assert.True(t, dev.SurfaceVSync, "default settings run with vsync on")

	require.NoError(t, r.EndFrame())
	require.NoError(t, r.EndFrame())
	assert.Equal(t, []string{"Shading_Result", "Shading_Result"}, dev.Presents)
}

func TestResizeReconfiguresSurface(t *testing.T) {
	dev := gpu.NewNullDevice()
	r := newTestRenderer(t, dev, true)
	r.Settings.VSync = false

	require.NoError(t, r.Resize(common.Size{Width: 128, Height: 96}))
	assert.Equal(t, 2, dev.SurfaceConfigures)
	assert.Equal(t, common.Size{Width: 128, Height: 96}, dev.SurfaceSize)
	assert.False(t, dev.SurfaceVSync)
}

func TestSettingsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "render.toml")

	s := DefaultSettings()
	s.ShadowQuality = ShadowHighest
	s.ShadowUpdatesPerFrame = 7
	s.FXAA = false
	require.NoError(t, SaveSettings(path, s))

	loaded, err := LoadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, s, loaded)
}

func TestLoadSettingsMissingFileYieldsDefaults(t *testing.T) {
	loaded, err := LoadSettings(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), loaded)
}

func TestShadowQualityTables(t *testing.T) {
	assert.Equal(t, uint32(256), ShadowOff.Resolution())
	assert.Equal(t, uint32(256), ShadowLowest.Resolution())
	assert.Equal(t, uint32(512), ShadowLow.Resolution())
	assert.Equal(t, uint32(1024), ShadowMedium.Resolution())
	assert.Equal(t, uint32(2048), ShadowHigh.Resolution())
	assert.Equal(t, uint32(4096), ShadowHighest.Resolution())

	assert.Equal(t, 13, ShadowLow.PCFSamples())
	assert.Equal(t, 17, ShadowMedium.PCFSamples())
	assert.Equal(t, 21, ShadowHighest.PCFSamples())
}
