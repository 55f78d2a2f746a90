package renderer

import (
	"fmt"
	"log"
	"math/rand"

	"github.com/Taskeren/alkahest/common"
	"github.com/Taskeren/alkahest/engine/gpu"
	"github.com/chewxy/math32"
)

const fxaaPixelWGSL = `
@group(1) @binding(0) var samp: sampler;
@group(1) @binding(1) var src: texture_2d<f32>;

fn luma(c: vec3<f32>) -> f32 {
	return dot(c, vec3<f32>(0.299, 0.587, 0.114));
}

@fragment
fn fs_main(@location(0) uv: vec2<f32>) -> @location(0) vec4<f32> {
	let dims = vec2<f32>(textureDimensions(src));
	let texel = 1.0 / dims;

	let c = textureSample(src, samp, uv).rgb;
	let n = textureSample(src, samp, uv + vec2<f32>(0.0, -texel.y)).rgb;
	let s = textureSample(src, samp, uv + vec2<f32>(0.0, texel.y)).rgb;
	let w = textureSample(src, samp, uv + vec2<f32>(-texel.x, 0.0)).rgb;
	let e = textureSample(src, samp, uv + vec2<f32>(texel.x, 0.0)).rgb;

	let lc = luma(c);
	let lmin = min(lc, min(min(luma(n), luma(s)), min(luma(w), luma(e))));
	let lmax = max(lc, max(max(luma(n), luma(s)), max(luma(w), luma(e))));

	if lmax - lmin < max(0.0312, lmax * 0.125) {
		return vec4<f32>(c, 1.0);
	}
	let blended = (c + n + s + w + e) * 0.2;
	return vec4<f32>(blended, 1.0);
}
`

// fxaaNoisePixelWGSL is the FXAA variant that layers a hash-based film grain
// over the anti-aliased result to break up banding in smooth gradients.
const fxaaNoisePixelWGSL = `
@group(1) @binding(0) var samp: sampler;
@group(1) @binding(1) var src: texture_2d<f32>;

fn luma(c: vec3<f32>) -> f32 {
	return dot(c, vec3<f32>(0.299, 0.587, 0.114));
}

fn grain(p: vec2<f32>) -> f32 {
	return (fract(sin(dot(p, vec2<f32>(12.9898, 78.233))) * 43758.5453) - 0.5) / 255.0;
}

@fragment
fn fs_main(@location(0) uv: vec2<f32>) -> @location(0) vec4<f32> {
	let dims = vec2<f32>(textureDimensions(src));
	let texel = 1.0 / dims;
	let g = grain(uv * dims);

	let c = textureSample(src, samp, uv).rgb;
	let n = textureSample(src, samp, uv + vec2<f32>(0.0, -texel.y)).rgb;
	let s = textureSample(src, samp, uv + vec2<f32>(0.0, texel.y)).rgb;
	let w = textureSample(src, samp, uv + vec2<f32>(-texel.x, 0.0)).rgb;
	let e = textureSample(src, samp, uv + vec2<f32>(texel.x, 0.0)).rgb;

	let lc = luma(c);
	let lmin = min(lc, min(min(luma(n), luma(s)), min(luma(w), luma(e))));
	let lmax = max(lc, max(max(luma(n), luma(s)), max(luma(w), luma(e))));

	if lmax - lmin < max(0.0312, lmax * 0.125) {
		return vec4<f32>(c + g, 1.0);
	}
	let blended = (c + n + s + w + e) * 0.2;
	return vec4<f32>(blended + g, 1.0);
}
`

const ssaoPixelWGSL = `
struct SsaoScope {
	target_pixel_to_world: mat4x4<f32>,
	params: vec4<f32>,
	samples: array<vec4<f32>, 32>,
	noise: array<vec4<f32>, 16>,
}

@group(0) @binding(0) var<uniform> scope: SsaoScope;
@group(1) @binding(0) var samp: sampler;
@group(1) @binding(1) var depth_tex: texture_2d<f32>;
@group(1) @binding(2) var normal_tex: texture_2d<f32>;

@fragment
fn fs_main(@location(0) uv: vec2<f32>) -> @location(0) vec4<f32> {
	let radius = scope.params.x;
	let bias = scope.params.y;
	let kernel_size = i32(scope.params.z);

	let depth = textureSample(depth_tex, samp, uv).r;
	let normal = normalize(textureSample(normal_tex, samp, uv).xyz * 2.0 - 1.0);

	let dims = vec2<f32>(textureDimensions(depth_tex));
	let noise_index = (i32(uv.y * dims.y) % 4) * 4 + (i32(uv.x * dims.x) % 4);
	let noise = scope.noise[noise_index].xyz;

	var occlusion = 0.0;
	for (var i = 0; i < kernel_size; i++) {
		let offset = reflect(scope.samples[i].xyz, noise) * radius;
		let sample_uv = uv + offset.xy / dims;
		let sample_depth = textureSample(depth_tex, samp, sample_uv).r;
		if sample_depth + bias * 0.001 < depth {
			occlusion += max(dot(normal, normalize(offset)), 0.0);
		}
	}
	occlusion = 1.0 - occlusion / f32(kernel_size);
	return vec4<f32>(occlusion, occlusion, occlusion, 1.0);
}
`

const ssaoBlurPixelWGSL = `
@group(1) @binding(0) var samp: sampler;
@group(1) @binding(1) var src: texture_2d<f32>;

@fragment
fn fs_main(@location(0) uv: vec2<f32>) -> @location(0) vec4<f32> {
	let texel = 1.0 / vec2<f32>(textureDimensions(src));
	var sum = 0.0;
	for (var y = -2; y <= 1; y++) {
		for (var x = -2; x <= 1; x++) {
			sum += textureSample(src, samp, uv + vec2<f32>(f32(x), f32(y)) * texel).r;
		}
	}
	let ao = sum / 16.0;
	return vec4<f32>(ao, ao, ao, 1.0);
}
`

type postProcessPasses struct {
	fxaa      gpu.Program
	fxaaNoise gpu.Program
}

const ssaoKernelSize = 32

type ssaoPass struct {
	generate gpu.Program
	blur     gpu.Program
	scope    []float32
}

// DrawPostProcess runs the fixed post-process chain: blit the shading result
// into the next ping/pong slot, optionally run FXAA into the other slot, then
// blit whichever slot holds the latest result back into the shading-result
// target. Every pass unbinds the previous pass's targets and inputs first; a
// texture must never be bound as input and output at once.
func (r *Renderer) DrawPostProcess() error {
	r.dev.UnbindRenderTargets()
	r.dev.UnbindShaderInputs()

	_, target := r.gbuffer.PostProcessRT(true)
	if err := r.dev.Blit(r.gbuffer.ShadingResult.Texture, target.Texture); err != nil {
		return fmt.Errorf("renderer: postprocess blit: %w", err)
	}

	if r.Settings.FXAA {
		if err := r.ensurePostPrograms(); err != nil {
			return err
		}
		source, target := r.gbuffer.PostProcessRT(true)
		program := r.post.fxaa
		if r.Settings.FXAANoise {
			program = r.post.fxaaNoise
		}

		r.dev.UnbindRenderTargets()
		r.dev.UnbindShaderInputs()
		if err := r.dev.FullScreenPass(program, target.Texture, source.Texture); err != nil {
			return fmt.Errorf("renderer: fxaa: %w", err)
		}
	}

	r.dev.UnbindRenderTargets()
	r.dev.UnbindShaderInputs()
	output := r.gbuffer.PostProcessOutput()
	if err := r.dev.Blit(output.Texture, r.gbuffer.ShadingResult.Texture); err != nil {
		return fmt.Errorf("renderer: postprocess final blit: %w", err)
	}
	return nil
}

func (r *Renderer) ensurePostPrograms() error {
	if r.post != nil {
		return nil
	}
	fxaa, err := r.dev.CreateProgram("fxaa ps", gpu.ProgramStagePixel, fxaaPixelWGSL)
	if err != nil {
		return fmt.Errorf("renderer: fxaa program: %w", err)
	}
	noise, err := r.dev.CreateProgram("fxaa noise ps", gpu.ProgramStagePixel, fxaaNoisePixelWGSL)
	if err != nil {
		return fmt.Errorf("renderer: fxaa noise program: %w", err)
	}
	r.post = &postProcessPasses{fxaa: fxaa, fxaaNoise: noise}
	return nil
}

// DrawSSAO renders the ambient occlusion mask into the intermediate target
// and blurs it into the diffuse light buffer. Skipped when disabled.
func (r *Renderer) DrawSSAO() error {
	if !r.Settings.SSAO {
		return nil
	}
	if err := r.ensureSSAO(); err != nil {
		return err
	}

	if err := r.dev.ClearTexture(r.gbuffer.SSAOIntermediate.Texture, 0, 0, 0, 0); err != nil {
		log.Printf("[renderer] ssao clear failed: %v", err)
	}

	r.mu.Lock()
	view := r.view
	r.mu.Unlock()

	var inv [16]float32
	if !common.Invert4(inv[:], view.ViewProj[:]) {
		common.Identity(inv[:])
	}
	copy(r.ssao.scope[:16], inv[:])

	if err := r.dev.WriteScopeData(0, common.SliceToBytes(r.ssao.scope)); err != nil {
		return fmt.Errorf("renderer: ssao scope: %w", err)
	}

	r.dev.UnbindRenderTargets()
	r.dev.UnbindShaderInputs()
	if err := r.dev.FullScreenPass(r.ssao.generate, r.gbuffer.SSAOIntermediate.Texture,
		r.gbuffer.Depth.Copy, r.gbuffer.RT1Read.Texture); err != nil {
		return fmt.Errorf("renderer: ssao generate: %w", err)
	}

	r.dev.UnbindRenderTargets()
	r.dev.UnbindShaderInputs()
	if err := r.dev.FullScreenPass(r.ssao.blur, r.gbuffer.LightDiffuse.Texture,
		r.gbuffer.SSAOIntermediate.Texture); err != nil {
		return fmt.Errorf("renderer: ssao blur: %w", err)
	}
	return nil
}

func (r *Renderer) ensureSSAO() error {
	if r.ssao != nil {
		return nil
	}

	generate, err := r.dev.CreateProgram("ssao ps", gpu.ProgramStagePixel, ssaoPixelWGSL)
	if err != nil {
		return fmt.Errorf("renderer: ssao program: %w", err)
	}
	blur, err := r.dev.CreateProgram("ssao blur ps", gpu.ProgramStagePixel, ssaoBlurPixelWGSL)
	if err != nil {
		return fmt.Errorf("renderer: ssao blur program: %w", err)
	}

	r.ssao = &ssaoPass{
		generate: generate,
		blur:     blur,
		scope:    buildSSAOScope(),
	}
	return nil
}

// buildSSAOScope packs the SSAO constant block: an inverse view-projection
// placeholder, radius/bias/kernel-size parameters, the hemisphere sample
// kernel, and the 4x4 rotation noise. The kernel is seeded so occlusion is
// identical across runs.
func buildSSAOScope() []float32 {
	scope := make([]float32, 0, 16+4+ssaoKernelSize*4+16*4)

	var ident [16]float32
	common.Identity(ident[:])
	scope = append(scope, ident[:]...)

	scope = append(scope, 1.0, 0.10, float32(ssaoKernelSize), 0)

	rng := rand.New(rand.NewSource(0x2901bc71))
	for i := 0; i < ssaoKernelSize; i++ {
		sample := common.Vec3{rng.Float32()*2 - 1, rng.Float32()*2 - 1, 0}.Normalized()
		sample = sample.Scale(rng.Float32())

		// Weight samples toward the center of the kernel.
		scale := float32(i) / float32(ssaoKernelSize)
		sample = sample.Scale(common.Lerp(0.1, 1.0, scale*scale))
		scope = append(scope, sample[0], sample[1], sample[2], 1)
	}

	for i := 0; i < 16; i++ {
		angle := rng.Float32() * 2 * math32.Pi
		scope = append(scope, math32.Cos(angle), math32.Sin(angle), 0, 0)
	}
	return scope
}
