package technique

import (
	"log"

	"github.com/Taskeren/alkahest/engine/gpu"
)

// Binder applies base-then-variant technique state before a draw and reports
// the union of required scopes. Bind failures are logged, never fatal: one
// malformed technique must not abort the frame.
type Binder interface {
	// BindForPart binds the base technique first, then the variant when present,
	// in that order so variant constant writes take precedence. A base bind
	// failure does not suppress the variant attempt.
	//
	// Parameters:
	//   - base: the part's base technique, may be nil
	//   - variant: the resolved variant technique, may be nil
	//
	// Returns:
	//   - ScopeBits: the union of both techniques' required scopes
	BindForPart(base, variant *Technique) ScopeBits
}

type binderImpl struct {
	dev gpu.Device
}

var _ Binder = &binderImpl{}

// NewBinder creates a Binder issuing state onto the given device. Panics if the
// device is nil.
func NewBinder(dev gpu.Device) Binder {
	if dev == nil {
		panic("technique: device must not be nil")
	}
	return &binderImpl{dev: dev}
}

func (b *binderImpl) BindForPart(base, variant *Technique) ScopeBits {
	var scopes ScopeBits

	if base != nil {
		if err := base.Bind(b.dev); err != nil {
			log.Printf("[technique] base bind failed: %v", err)
		}
		scopes |= base.Scopes
	}
	if variant != nil {
		if err := variant.Bind(b.dev); err != nil {
			log.Printf("[technique] variant bind failed: %v", err)
		}
		scopes |= variant.Scopes
	}
	return scopes
}
