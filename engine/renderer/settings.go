package renderer

import (
	"fmt"
	"os"

	"github.com/Taskeren/alkahest/engine/drawable"
	toml "github.com/pelletier/go-toml/v2"
)

// ShadowQuality is the ordered shadow fidelity tier. Each tier maps to a
// shadow-map resolution and a PCF sample count.
type ShadowQuality uint8

const (
	ShadowOff ShadowQuality = iota
	ShadowLowest
	ShadowLow
	ShadowMedium
	ShadowHigh
	ShadowHighest
)

// Resolution returns the per-light shadow-map edge length in pixels.
func (q ShadowQuality) Resolution() uint32 {
	switch q {
	case ShadowOff, ShadowLowest:
		return 256
	case ShadowLow:
		return 512
	case ShadowMedium:
		return 1024
	case ShadowHigh:
		return 2048
	case ShadowHighest:
		return 4096
	default:
		return 256
	}
}

// PCFSamples returns the filter tap count used when sampling the shadow map.
func (q ShadowQuality) PCFSamples() int {
	switch q {
	case ShadowMedium:
		return 17
	case ShadowHigh, ShadowHighest:
		return 21
	default:
		return 13
	}
}

func (q ShadowQuality) String() string {
	switch q {
	case ShadowOff:
		return "off"
	case ShadowLowest:
		return "lowest"
	case ShadowLow:
		return "low"
	case ShadowMedium:
		return "medium"
	case ShadowHigh:
		return "high"
	case ShadowHighest:
		return "highest"
	default:
		return "off"
	}
}

// MarshalText encodes the tier as its lowercase name for config files.
func (q ShadowQuality) MarshalText() ([]byte, error) {
	return []byte(q.String()), nil
}

// UnmarshalText decodes a tier name from a config file.
func (q *ShadowQuality) UnmarshalText(text []byte) error {
	switch string(text) {
	case "off":
		*q = ShadowOff
	case "lowest":
		*q = ShadowLowest
	case "low":
		*q = ShadowLow
	case "medium":
		*q = ShadowMedium
	case "high":
		*q = ShadowHigh
	case "highest":
		*q = ShadowHighest
	default:
		return fmt.Errorf("renderer: unknown shadow quality %q", text)
	}
	return nil
}

// Settings is the external render configuration, consumed read-only per frame.
type Settings struct {
	VSync bool `toml:"vsync"`

	// Matcap swaps every material for a preview capture material. Shadow
	// updates are suspended while active.
	Matcap bool `toml:"matcap"`

	SSAO      bool `toml:"ssao"`
	FXAA      bool `toml:"fxaa"`
	FXAANoise bool `toml:"fxaa_noise"`

	// Per-stage toggles, checked before any per-entity work.
	StageTransparents   bool `toml:"stage_transparents"`
	StageDecals         bool `toml:"stage_decals"`
	StageDecalsAdditive bool `toml:"stage_decals_additive"`

	// Per-feature toggles.
	FeatureWater          bool `toml:"feature_water"`
	FeatureRigidObject    bool `toml:"feature_rigid_object"`
	FeatureDynamicObjects bool `toml:"feature_dynamic_objects"`
	FeatureSkyTransparent bool `toml:"feature_sky_transparent"`
	FeatureSpeedtreeTrees bool `toml:"feature_speedtree_trees"`
	FeatureTerrain        bool `toml:"feature_terrain"`

	ShadowQuality         ShadowQuality `toml:"shadow_quality"`
	ShadowUpdatesPerFrame int           `toml:"shadow_updates_per_frame"`
}

// DefaultSettings returns the configuration used when no file is present:
// everything on, medium shadows, two shadow refreshes per frame.
func DefaultSettings() Settings {
	return Settings{
		VSync:                 true,
		SSAO:                  true,
		FXAA:                  true,
		StageTransparents:     true,
		StageDecals:           true,
		StageDecalsAdditive:   true,
		FeatureWater:          true,
		FeatureRigidObject:    true,
		FeatureDynamicObjects: true,
		FeatureSkyTransparent: true,
		FeatureSpeedtreeTrees: true,
		FeatureTerrain:        true,
		ShadowQuality:         ShadowMedium,
		ShadowUpdatesPerFrame: 2,
	}
}

// StageEnabled reports whether a stage's toggle allows dispatch. Stages
// without a toggle are always enabled.
func (s *Settings) StageEnabled(stage drawable.RenderStage) bool {
	switch stage {
	case drawable.StageTransparents:
		return s.StageTransparents
	case drawable.StageDecals:
		return s.StageDecals
	case drawable.StageDecalsAdditive:
		return s.StageDecalsAdditive
	default:
		return true
	}
}

// FeatureEnabled reports whether a feature type's toggle allows drawing.
func (s *Settings) FeatureEnabled(f drawable.FeatureType) bool {
	switch f {
	case drawable.FeatureWater:
		return s.FeatureWater
	case drawable.FeatureRigidObject:
		return s.FeatureRigidObject
	case drawable.FeatureDynamicObjects:
		return s.FeatureDynamicObjects
	case drawable.FeatureSkyTransparent:
		return s.FeatureSkyTransparent
	case drawable.FeatureSpeedtreeTrees:
		return s.FeatureSpeedtreeTrees
	case drawable.FeatureTerrain:
		return s.FeatureTerrain
	default:
		return true
	}
}

// LoadSettings reads settings from a TOML file. A missing file yields the
// defaults without error.
//
// Parameters:
//   - path: the config file path
//
// Returns:
//   - Settings: the loaded or default settings
//   - error: an error if the file exists but cannot be parsed
func LoadSettings(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultSettings(), nil
		}
		return DefaultSettings(), fmt.Errorf("renderer: read settings: %w", err)
	}
	s := DefaultSettings()
	if err := toml.Unmarshal(data, &s); err != nil {
		return DefaultSettings(), fmt.Errorf("renderer: parse settings: %w", err)
	}
	return s, nil
}

// SaveSettings writes settings to a TOML file.
func SaveSettings(path string, s Settings) error {
	data, err := toml.Marshal(s)
	if err != nil {
		return fmt.Errorf("renderer: encode settings: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("renderer: write settings: %w", err)
	}
	return nil
}
