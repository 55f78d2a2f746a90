// package common contains common types that are used throughout this engine. They are not interface-wrapped structs, just plain structs that express
// commonly used data-types.
package common

import (
	"github.com/chewxy/math32"
)

// Size describes the pixel dimensions of a render surface or texture.
type Size struct {
	// Width is the horizontal extent in pixels.
	Width uint32
	// Height is the vertical extent in pixels.
	Height uint32
}

// Clamped returns a copy of the size with both dimensions forced to at least 1.
// GPU texture creation rejects zero extents, so callers that receive surface
// sizes from the window system should clamp before allocating.
//
// Returns:
//   - Size: the size with zero dimensions replaced by 1
//   - bool: true if any dimension was clamped
func (s Size) Clamped() (Size, bool) {
	clamped := false
	if s.Width == 0 {
		s.Width = 1
		clamped = true
	}
	if s.Height == 0 {
		s.Height = 1
		clamped = true
	}
	return s, clamped
}

// Quarter returns the size divided by four in each dimension, with a minimum of 1 pixel.
// Used for reduced-resolution lookup targets.
func (s Size) Quarter() Size {
	q := Size{Width: s.Width / 4, Height: s.Height / 4}
	q, _ = q.Clamped()
	return q
}

// IsZero reports whether either dimension is zero.
func (s Size) IsZero() bool {
	return s.Width == 0 || s.Height == 0
}

// Vec3 is a 3-component float vector stored as a plain array, matching GPU layout.
type Vec3 [3]float32

// Sub returns v - o.
func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{v[0] - o[0], v[1] - o[1], v[2] - o[2]}
}

// Add returns v + o.
func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{v[0] + o[0], v[1] + o[1], v[2] + o[2]}
}

// Scale returns v scaled by s.
func (v Vec3) Scale(s float32) Vec3 {
	return Vec3{v[0] * s, v[1] * s, v[2] * s}
}

// Dot returns the dot product of v and o.
func (v Vec3) Dot(o Vec3) float32 {
	return v[0]*o[0] + v[1]*o[1] + v[2]*o[2]
}

// LengthSq returns the squared length of the vector. Prefer this over Length
// when only relative ordering matters, such as distance sorting.
func (v Vec3) LengthSq() float32 {
	return v.Dot(v)
}

// Length returns the euclidean length of the vector.
func (v Vec3) Length() float32 {
	return math32.Sqrt(v.LengthSq())
}

// Normalized returns the unit-length vector in the same direction, or the zero
// vector if the input has zero length.
func (v Vec3) Normalized() Vec3 {
	l := v.Length()
	if l == 0 {
		return Vec3{}
	}
	return v.Scale(1.0 / l)
}

// Cross returns the cross product of v and o.
func (v Vec3) Cross(o Vec3) Vec3 {
	return Vec3{
		v[1]*o[2] - v[2]*o[1],
		v[2]*o[0] - v[0]*o[2],
		v[0]*o[1] - v[1]*o[0],
	}
}

// DistanceSq returns the squared distance between two points.
func (v Vec3) DistanceSq(o Vec3) float32 {
	return v.Sub(o).LengthSq()
}

// Vec4 is a 4-component float vector stored as a plain array, matching GPU layout.
type Vec4 [4]float32

// XYZ returns the first three components as a Vec3.
func (v Vec4) XYZ() Vec3 {
	return Vec3{v[0], v[1], v[2]}
}

// Sphere is a bounding sphere used for visibility and shadow caster tests.
type Sphere struct {
	// Center is the sphere center in world space.
	Center Vec3
	// Radius is the sphere radius. A zero radius degenerates to a point test.
	Radius float32
}
