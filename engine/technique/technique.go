// package technique models shader techniques and their constant-buffer scope
// requirements, including per-part variant technique selection and the binder
// that applies base plus variant state before a draw.
package technique

import (
	"fmt"

	"github.com/Taskeren/alkahest/engine/gpu"
)

// ScopeBits is a bitset of the constant-buffer scopes a technique requires
// bound before drawing.
type ScopeBits uint32

const (
	// ScopeFrame is per-frame global state (time, resolution, exposure).
	ScopeFrame ScopeBits = 1 << iota

	// ScopeView is the active camera or shadow view transform block.
	ScopeView

	// ScopeInstances is the per-object transform and instance data block.
	ScopeInstances

	// ScopeTransparent carries blending state for the transparents stages.
	ScopeTransparent

	// ScopeDecal carries projection state for decal stages.
	ScopeDecal

	// ScopeTerrain carries the terrain patch constant block.
	ScopeTerrain

	// ScopeSkinning is the bone matrix block. A part requiring this scope is
	// drawn through the entity vertex shader override.
	ScopeSkinning
)

// Slot returns the device scope slot a single scope bit maps to.
func (s ScopeBits) Slot() uint32 {
	slot := uint32(0)
	for bit := ScopeBits(1); bit < s; bit <<= 1 {
		slot++
	}
	return slot
}

// Has reports whether all bits in other are set.
func (s ScopeBits) Has(other ScopeBits) bool {
	return s&other == other
}

// NoVariant is the sentinel variant selector meaning "no variant technique".
const NoVariant = ^uint16(0)

// Technique is a shader program pair plus its required scopes and the constant
// block written when bound. Techniques are shared across drawables and are
// immutable after load.
type Technique struct {
	// Name identifies the technique in diagnostics.
	Name string

	// Scopes is the set of constant-buffer scopes the technique requires.
	Scopes ScopeBits

	// Vertex and Pixel are the compiled program handles.
	Vertex, Pixel gpu.Program

	// ConstantSlot and Constants describe the technique's own constant block,
	// uploaded on every bind. An empty block skips the upload.
	ConstantSlot uint32
	Constants    []byte
}

// Bind binds the technique's programs and uploads its constant block. Binding
// is idempotent per draw; no state diffing is required.
//
// Parameters:
//   - dev: the graphics device
//
// Returns:
//   - error: an error if the programs are missing or a bind step failed
func (t *Technique) Bind(dev gpu.Device) error {
	if t.Vertex == nil || t.Pixel == nil {
		return fmt.Errorf("technique %s: missing programs", t.Name)
	}
	if err := dev.BindPrograms(t.Vertex, t.Pixel); err != nil {
		return fmt.Errorf("technique %s: %w", t.Name, err)
	}
	if len(t.Constants) > 0 {
		if err := dev.WriteScopeData(t.ConstantSlot, t.Constants); err != nil {
			return fmt.Errorf("technique %s constants: %w", t.Name, err)
		}
	}
	return nil
}

// MapEntry is one technique-map record: a start index and count into the shared
// flat variant technique list.
type MapEntry struct {
	Start uint16
	Count uint16
}

// VariantTable holds the per-mesh technique map and the flat variant list it
// indexes into. Built at load time, read-only afterwards.
type VariantTable struct {
	// Entries are the technique-map records, indexed by a part's map index.
	Entries []MapEntry

	// Techniques is the flat variant technique list.
	Techniques []*Technique
}

// Resolve returns the variant technique for a map entry and variant selector.
// The selector wraps around the entry's count, cycling through authored
// variants. The sentinel selector, an out-of-range map index, an empty entry,
// or a resolved index past the list all yield nil rather than failing.
//
// Parameters:
//   - mapIndex: index into the technique map
//   - variant: the variant selector, NoVariant for none
//
// Returns:
//   - *Technique: the resolved variant technique, or nil for no variant
func (vt *VariantTable) Resolve(mapIndex int, variant uint16) *Technique {
	if variant == NoVariant {
		return nil
	}
	if mapIndex < 0 || mapIndex >= len(vt.Entries) {
		return nil
	}
	entry := vt.Entries[mapIndex]
	if entry.Count == 0 {
		return nil
	}
	idx := int(entry.Start) + int(variant%entry.Count)
	if idx >= len(vt.Techniques) {
		return nil
	}
	return vt.Techniques[idx]
}
