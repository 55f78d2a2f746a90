package renderer

import (
	"fmt"
	"log"
	"sort"

	"github.com/Taskeren/alkahest/common"
	"github.com/Taskeren/alkahest/engine/drawable"
	"github.com/Taskeren/alkahest/engine/gpu"
	"github.com/Taskeren/alkahest/engine/scene"
)

// UpdateShadowMaps refreshes shadow-casting lights under the per-frame budget.
// Lights visible in view 0 are eligible; while the asset manager is still
// streaming, every light stays eligible so shadows converge once loading
// settles. The oldest-updated lights refresh first. For each selected light
// the cached stationary contribution regenerates only when dirty; the moving
// contribution regenerates every time.
//
// This is a no-op when shadow quality is off or matcap preview is active.
func (r *Renderer) UpdateShadowMaps(sc scene.Scene) {
	if r.Settings.ShadowQuality == ShadowOff || r.Settings.Matcap {
		return
	}

	type candidate struct {
		entity     scene.Entity
		light      *scene.ShadowLight
		lastUpdate uint64
	}

	streaming := !r.assets.Idle()
	var candidates []candidate
	sc.EachShadowLight(func(e scene.Entity, _ *scene.Transform, l *scene.ShadowLight) bool {
		if sc.VisibleInView(e, 0) || streaming {
			candidates = append(candidates, candidate{entity: e, light: l, lastUpdate: l.LastUpdate})
		}
		return true
	})

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].lastUpdate < candidates[j].lastUpdate
	})
	if budget := r.Settings.ShadowUpdatesPerFrame; budget >= 0 && len(candidates) > budget {
		candidates = candidates[:budget]
	}

	r.mu.Lock()
	frame := r.frameIndex
	mainView := r.view
	r.mu.Unlock()

	for _, c := range candidates {
		light := c.light
		if err := r.ensureShadowResources(light); err != nil {
			log.Printf("[renderer] shadow map allocation failed: %v", err)
			continue
		}

		light.LastUpdate = frame

		// Shadow visibility still runs against view 0; shadow views are not
		// their own cull views yet.
		r.BindView(View{ViewProj: light.ViewProj, Position: light.Bounds.Center, Index: 0})

		if light.StationaryNeedsUpdate {
			r.runShadowPass(sc, light.Stationary, shadowModeStationaryOnly)
			if r.assets.Idle() {
				light.StationaryNeedsUpdate = false
			}
		}

		r.runShadowPass(sc, light.Moving, shadowModeMovingOnly)
	}

	r.BindView(mainView)
}

func (r *Renderer) runShadowPass(sc scene.Scene, target gpu.Texture, mode shadowGenerationMode) {
	if err := r.dev.SetRenderTargets(nil, target); err != nil {
		log.Printf("[renderer] shadow target bind failed: %v", err)
		return
	}
	if err := r.dev.ClearDepth(target, 1.0); err != nil {
		log.Printf("[renderer] shadow clear failed: %v", err)
	}

	r.shadowMode = mode
	r.RunStage(sc, drawable.StageShadowGenerate)
	r.shadowMode = shadowModeAll

	r.dev.UnbindRenderTargets()
}

// ensureShadowResources allocates or reallocates a light's depth targets at
// the configured quality. Existing targets at the right resolution are kept;
// a quality change releases and recreates them.
func (r *Renderer) ensureShadowResources(light *scene.ShadowLight) error {
	res := r.Settings.ShadowQuality.Resolution()
	size := common.Size{Width: res, Height: res}

	if light.Stationary != nil && light.Stationary.Size() == size {
		return nil
	}

	if light.Stationary != nil {
		light.Stationary.Release()
		light.Stationary = nil
	}
	if light.Moving != nil {
		light.Moving.Release()
		light.Moving = nil
	}

	stationary, err := r.dev.CreateTexture(gpu.TextureDesc{
		Label:  "Shadow_Stationary",
		Size:   size,
		Format: gpu.TextureFormatDepth32Float,
		Usage:  gpu.TextureUsageRenderAttachment | gpu.TextureUsageShaderResource,
	})
	if err != nil {
		return fmt.Errorf("renderer: stationary shadow map: %w", err)
	}
	moving, err := r.dev.CreateTexture(gpu.TextureDesc{
		Label:  "Shadow_Moving",
		Size:   size,
		Format: gpu.TextureFormatDepth32Float,
		Usage:  gpu.TextureUsageRenderAttachment | gpu.TextureUsageShaderResource,
	})
	if err != nil {
		stationary.Release()
		return fmt.Errorf("renderer: moving shadow map: %w", err)
	}

	light.Stationary = stationary
	light.Moving = moving
	light.StationaryNeedsUpdate = true
	return nil
}
