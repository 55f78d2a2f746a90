package renderer

import (
	"log"
	"sort"

	"github.com/Taskeren/alkahest/engine/drawable"
	"github.com/Taskeren/alkahest/engine/scene"
)

// RunStage dispatches every drawable system for one render stage, in fixed
// order: terrain patches, the shader ball preview (both only for the g-buffer,
// shadow, and depth-prepass stages), static instance batches, then dynamic
// models. Sky transparents are excluded here; DrawSkyObjects handles them.
//
// Parameters:
//   - sc: the scene to dispatch from
//   - stage: the render stage
func (r *Renderer) RunStage(sc scene.Scene, stage drawable.RenderStage) {
	if !r.Settings.StageEnabled(stage) {
		return
	}

	switch stage {
	case drawable.StageGenerateGbuffer, drawable.StageShadowGenerate, drawable.StageDepthPrepass:
		r.drawTerrainPatches(sc)
		r.drawShaderBall(stage)
	}

	r.drawStaticInstances(sc, stage)
	r.drawDynamicModels(sc, stage)
}

// inView combines the scene's per-view visibility mask with a frustum test
// against the entity's bounding sphere. Entities without a transform or with
// zero-radius bounds skip the frustum test.
func (r *Renderer) inView(sc scene.Scene, e scene.Entity, t *scene.Transform) bool {
	if !sc.VisibleInView(e, r.view.Index) {
		return false
	}
	if t == nil || t.Bounds.Radius <= 0 {
		return true
	}
	return r.frustum.ContainsSphere(t.Bounds)
}

func (r *Renderer) drawTerrainPatches(sc scene.Scene) {
	if r.shadowMode == shadowModeMovingOnly {
		return
	}
	if !r.Settings.FeatureEnabled(drawable.FeatureTerrain) {
		return
	}

	sc.EachTerrainPatch(func(e scene.Entity, t *scene.Transform, p *drawable.TerrainPatch) bool {
		if !r.inView(sc, e, t) {
			return true
		}
		if err := p.Draw(r.dev, r.binder); err != nil {
			log.Printf("[renderer] terrain patch draw failed: %v", err)
		}
		return true
	})
}

// drawShaderBall draws the material preview model. This is a debug path: a
// preview part without a technique is an asset bug and panics instead of
// being skipped.
func (r *Renderer) drawShaderBall(stage drawable.RenderStage) {
	if r.ShaderBall == nil || r.shadowMode == shadowModeMovingOnly {
		return
	}

	mesh := r.ShaderBall.SelectedMesh()
	for _, part := range mesh.PartsForStage(stage) {
		if part.LOD.IsHighestDetail() && part.Technique == nil {
			panic("renderer: shader ball part has no technique")
		}
	}
	if err := r.ShaderBall.Draw(r.dev, r.binder, stage, drawable.NoIdentifier); err != nil {
		log.Printf("[renderer] shader ball draw failed: %v", err)
	}
}

func (r *Renderer) drawStaticInstances(sc scene.Scene, stage drawable.RenderStage) {
	if r.shadowMode == shadowModeMovingOnly {
		return
	}

	var batches []*drawable.StaticInstances
	sc.EachStaticInstances(func(e scene.Entity, t *scene.Transform, b *drawable.StaticInstances) bool {
		if !r.inView(sc, e, t) {
			return true
		}
		if !r.Settings.FeatureEnabled(b.Feature) {
			return true
		}
		batches = append(batches, b)
		return true
	})

	sort.SliceStable(batches, func(i, j int) bool {
		return batches[i].Feature.SortBucket() < batches[j].Feature.SortBucket()
	})

	for _, b := range batches {
		if err := b.Draw(r.dev, r.binder, stage); err != nil {
			log.Printf("[renderer] static batch draw failed: %v", err)
		}
	}
}

func (r *Renderer) drawDynamicModels(sc scene.Scene, stage drawable.RenderStage) {
	if r.shadowMode == shadowModeStationaryOnly {
		return
	}

	var models []*drawable.DynamicModel
	sc.EachDynamicModel(func(e scene.Entity, t *scene.Transform, m *drawable.DynamicModel) bool {
		if m.Feature == drawable.FeatureSkyTransparent {
			return true
		}
		if !r.inView(sc, e, t) {
			return true
		}
		if !r.Settings.FeatureEnabled(m.Feature) {
			return true
		}
		models = append(models, m)
		return true
	})

	// Water needs its depth state ordered against opaque geometry, hence the
	// fixed priority buckets rather than a distance sort.
	sort.SliceStable(models, func(i, j int) bool {
		return models[i].Feature.SortBucket() < models[j].Feature.SortBucket()
	})

	for _, m := range models {
		if err := m.Draw(r.dev, r.binder, stage, drawable.NoIdentifier); err != nil {
			log.Printf("[renderer] dynamic model draw failed: %v", err)
		}
	}

	if r.Settings.FeatureEnabled(drawable.FeatureSpeedtreeTrees) {
		sc.EachDecorator(func(e scene.Entity, t *scene.Transform, d *drawable.Decorator) bool {
			if !r.inView(sc, e, t) {
				return true
			}
			if err := d.Draw(r.dev, r.binder, stage); err != nil {
				log.Printf("[renderer] decorator draw failed: %v", err)
			}
			return true
		})
	}
}

// DrawSkyObjects draws sky-transparent models back to front by distance from
// the view position, so the nearest sky volume wins depth-tested overdraw.
// Sky objects always dispatch with the transparents stage.
func (r *Renderer) DrawSkyObjects(sc scene.Scene) {
	if !r.Settings.StageEnabled(drawable.StageTransparents) {
		return
	}
	if !r.Settings.FeatureEnabled(drawable.FeatureSkyTransparent) {
		return
	}

	origin := r.view.Position

	type skyEntry struct {
		model  *drawable.DynamicModel
		distSq float32
	}
	var entries []skyEntry
	sc.EachDynamicModel(func(e scene.Entity, t *scene.Transform, m *drawable.DynamicModel) bool {
		if m.Feature != drawable.FeatureSkyTransparent {
			return true
		}
		if !r.inView(sc, e, t) {
			return true
		}
		entry := skyEntry{model: m}
		if t != nil {
			entry.distSq = t.Position.DistanceSq(origin)
		}
		entries = append(entries, entry)
		return true
	})

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].distSq > entries[j].distSq
	})

	for _, entry := range entries {
		if err := entry.model.Draw(r.dev, r.binder, drawable.StageTransparents, drawable.NoIdentifier); err != nil {
			log.Printf("[renderer] sky object draw failed: %v", err)
		}
	}
}
