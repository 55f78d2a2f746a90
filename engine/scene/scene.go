// package scene is the entity registry the renderer dispatches from. It holds
// typed component stores keyed by entity and iterates them in insertion order,
// which keeps draw submission deterministic across frames.
package scene

import (
	"sync"

	"github.com/Taskeren/alkahest/common"
	"github.com/Taskeren/alkahest/engine/drawable"
	"github.com/Taskeren/alkahest/engine/gpu"
)

// Entity is a unique identifier for an entity.
type Entity uint64

// Transform is an entity's placement and cull bounds.
type Transform struct {
	Position common.Vec3
	Bounds   common.Sphere
}

// Visibility is the optional per-view cull result for an entity. Entities
// without a Visibility component are treated as visible everywhere; culling
// only ever narrows the drawn set.
type Visibility struct {
	// Hidden force-hides the entity in every view.
	Hidden bool

	// ViewMask has one bit per view index, set when the entity passed culling
	// for that view this frame.
	ViewMask uint32
}

// ShadowLight is a shadow-casting light. The shadow scheduler owns its depth
// resources and bookkeeping fields.
type ShadowLight struct {
	// Bounds is the light's world-space influence sphere.
	Bounds common.Sphere

	// ViewProj is the light's view-projection matrix for the shadow pass.
	ViewProj [16]float32

	// LastUpdate is the frame index of the light's most recent refresh. The
	// scheduler refreshes oldest-updated lights first.
	LastUpdate uint64

	// StationaryNeedsUpdate marks the cached stationary contribution dirty.
	StationaryNeedsUpdate bool

	// Stationary and Moving are the light's depth targets, allocated lazily
	// by the scheduler at the configured quality.
	Stationary gpu.Texture
	Moving     gpu.Texture
}

// Scene is the entity and component registry. Each* iterators snapshot the
// matching entities under the read lock and invoke callbacks with the lock
// released, so callbacks may call back into the scene (VisibleInView,
// Transform) without deadlocking against a pending writer. Thread-safe for
// concurrent access.
type Scene interface {
	// Spawn creates a new entity.
	//
	// Returns:
	//   - Entity: the new entity's id
	Spawn() Entity

	// Despawn removes an entity and all its components. Unknown entities are
	// ignored.
	//
	// Parameters:
	//   - e: the entity to remove
	Despawn(e Entity)

	// Len returns the number of live entities.
	Len() int

	// SetTransform attaches or replaces an entity's transform.
	SetTransform(e Entity, t Transform)

	// Transform returns an entity's transform, or nil when absent.
	Transform(e Entity) *Transform

	// SetVisibility attaches or replaces an entity's visibility component.
	SetVisibility(e Entity, v Visibility)

	// VisibleInView reports whether an entity should be considered for a view.
	// Entities without a visibility component are visible.
	//
	// Parameters:
	//   - e: the entity
	//   - view: the view index
	//
	// Returns:
	//   - bool: true when the entity is drawable in the view
	VisibleInView(e Entity, view uint32) bool

	// AttachDynamicModel attaches a dynamic model component.
	AttachDynamicModel(e Entity, m *drawable.DynamicModel)

	// AttachStaticInstances attaches a static instance batch component.
	AttachStaticInstances(e Entity, b *drawable.StaticInstances)

	// AttachTerrainPatch attaches a terrain patch component.
	AttachTerrainPatch(e Entity, p *drawable.TerrainPatch)

	// AttachDecorator attaches a decorator set component.
	AttachDecorator(e Entity, d *drawable.Decorator)

	// AttachShadowLight attaches a shadow-casting light component.
	AttachShadowLight(e Entity, l *ShadowLight)

	// EachDynamicModel calls fn for every entity with a dynamic model, in
	// insertion order, until fn returns false.
	EachDynamicModel(fn func(e Entity, t *Transform, m *drawable.DynamicModel) bool)

	// EachStaticInstances calls fn for every entity with a static batch, in
	// insertion order, until fn returns false.
	EachStaticInstances(fn func(e Entity, t *Transform, b *drawable.StaticInstances) bool)

	// EachTerrainPatch calls fn for every entity with a terrain patch, in
	// insertion order, until fn returns false.
	EachTerrainPatch(fn func(e Entity, t *Transform, p *drawable.TerrainPatch) bool)

	// EachDecorator calls fn for every entity with a decorator set, in
	// insertion order, until fn returns false.
	EachDecorator(fn func(e Entity, t *Transform, d *drawable.Decorator) bool)

	// EachShadowLight calls fn for every entity with a shadow light, in
	// insertion order, until fn returns false.
	EachShadowLight(fn func(e Entity, t *Transform, l *ShadowLight) bool)
}

type sceneImpl struct {
	mu     *sync.RWMutex
	nextID Entity
	order  []Entity
	alive  map[Entity]bool

	transforms   map[Entity]*Transform
	visibility   map[Entity]*Visibility
	models       map[Entity]*drawable.DynamicModel
	statics      map[Entity]*drawable.StaticInstances
	terrain      map[Entity]*drawable.TerrainPatch
	decorators   map[Entity]*drawable.Decorator
	shadowLights map[Entity]*ShadowLight
}

var _ Scene = &sceneImpl{}

// New creates an empty scene.
func New() Scene {
	return &sceneImpl{
		mu:           &sync.RWMutex{},
		nextID:       1,
		alive:        make(map[Entity]bool),
		transforms:   make(map[Entity]*Transform),
		visibility:   make(map[Entity]*Visibility),
		models:       make(map[Entity]*drawable.DynamicModel),
		statics:      make(map[Entity]*drawable.StaticInstances),
		terrain:      make(map[Entity]*drawable.TerrainPatch),
		decorators:   make(map[Entity]*drawable.Decorator),
		shadowLights: make(map[Entity]*ShadowLight),
	}
}

func (s *sceneImpl) Spawn() Entity {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.alive[id] = true
	s.order = append(s.order, id)
	return id
}

func (s *sceneImpl) Despawn(e Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.alive[e] {
		return
	}
	delete(s.alive, e)
	delete(s.transforms, e)
	delete(s.visibility, e)
	delete(s.models, e)
	delete(s.statics, e)
	delete(s.terrain, e)
	delete(s.decorators, e)
	delete(s.shadowLights, e)
	for i, id := range s.order {
		if id == e {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *sceneImpl) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.alive)
}

func (s *sceneImpl) SetTransform(e Entity, t Transform) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.alive[e] {
		s.transforms[e] = &t
	}
}

func (s *sceneImpl) Transform(e Entity) *Transform {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transforms[e]
}

func (s *sceneImpl) SetVisibility(e Entity, v Visibility) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.alive[e] {
		s.visibility[e] = &v
	}
}

func (s *sceneImpl) VisibleInView(e Entity, view uint32) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.visibleInViewLocked(e, view)
}

func (s *sceneImpl) visibleInViewLocked(e Entity, view uint32) bool {
	vis, ok := s.visibility[e]
	if !ok {
		return true
	}
	if vis.Hidden {
		return false
	}
	return vis.ViewMask&(1<<view) != 0
}

func (s *sceneImpl) AttachDynamicModel(e Entity, m *drawable.DynamicModel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.alive[e] && m != nil {
		s.models[e] = m
	}
}

func (s *sceneImpl) AttachStaticInstances(e Entity, b *drawable.StaticInstances) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.alive[e] && b != nil {
		s.statics[e] = b
	}
}

func (s *sceneImpl) AttachTerrainPatch(e Entity, p *drawable.TerrainPatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.alive[e] && p != nil {
		s.terrain[e] = p
	}
}

func (s *sceneImpl) AttachDecorator(e Entity, d *drawable.Decorator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.alive[e] && d != nil {
		s.decorators[e] = d
	}
}

func (s *sceneImpl) AttachShadowLight(e Entity, l *ShadowLight) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.alive[e] && l != nil {
		s.shadowLights[e] = l
	}
}

// eachSnapshot collects the entities holding a component of type C in
// insertion order under the read lock, then invokes fn with the lock released.
// Callbacks see the component set as of the snapshot; concurrent attaches and
// despawns take effect on the next iteration.
func eachSnapshot[C any](s *sceneImpl, comps map[Entity]C, fn func(e Entity, t *Transform, c C) bool) {
	type row struct {
		e Entity
		t *Transform
		c C
	}

	s.mu.RLock()
	rows := make([]row, 0, len(comps))
	for _, e := range s.order {
		if c, ok := comps[e]; ok {
			rows = append(rows, row{e, s.transforms[e], c})
		}
	}
	s.mu.RUnlock()

	for _, r := range rows {
		if !fn(r.e, r.t, r.c) {
			return
		}
	}
}

func (s *sceneImpl) EachDynamicModel(fn func(e Entity, t *Transform, m *drawable.DynamicModel) bool) {
	eachSnapshot(s, s.models, fn)
}

func (s *sceneImpl) EachStaticInstances(fn func(e Entity, t *Transform, b *drawable.StaticInstances) bool) {
	eachSnapshot(s, s.statics, fn)
}

func (s *sceneImpl) EachTerrainPatch(fn func(e Entity, t *Transform, p *drawable.TerrainPatch) bool) {
	eachSnapshot(s, s.terrain, fn)
}

func (s *sceneImpl) EachDecorator(fn func(e Entity, t *Transform, d *drawable.Decorator) bool) {
	eachSnapshot(s, s.decorators, fn)
}

func (s *sceneImpl) EachShadowLight(fn func(e Entity, t *Transform, l *ShadowLight) bool) {
	eachSnapshot(s, s.shadowLights, fn)
}
