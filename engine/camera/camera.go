// package camera is the viewer's orbit camera: a target point, a distance,
// and yaw/pitch angles, producing the view bound for dispatch each frame.
package camera

import (
	"sync"

	"github.com/Taskeren/alkahest/common"
	"github.com/Taskeren/alkahest/engine/renderer"
	"github.com/chewxy/math32"
)

const (
	minPitch    = -math32.Pi/2 + 0.01
	maxPitch    = math32.Pi/2 - 0.01
	minDistance = 0.5
)

// Camera orbits a target point and produces the renderer view. Thread-safe:
// input callbacks mutate it from the window thread while the tick loop reads.
type Camera interface {
	// View computes the current view for dispatch.
	//
	// Returns:
	//   - renderer.View: the view-projection and world position
	View() renderer.View

	// Orbit rotates around the target by yaw and pitch deltas in radians.
	// Pitch is clamped short of the poles.
	Orbit(dyaw, dpitch float32)

	// Zoom moves toward or away from the target. Positive deltas zoom in.
	Zoom(delta float32)

	// Pan moves the target point in the view plane.
	Pan(dx, dy float32)

	// SetAspect updates the projection aspect ratio on resize.
	SetAspect(aspect float32)

	// Position returns the camera's world position.
	Position() common.Vec3
}

type cameraImpl struct {
	mu *sync.Mutex

	target   common.Vec3
	distance float32
	yaw      float32
	pitch    float32

	fov    float32
	aspect float32
	near   float32
	far    float32
}

var _ Camera = &cameraImpl{}

// New creates an orbit camera looking at the origin from the given distance.
//
// Parameters:
//   - distance: initial orbit distance
//   - aspect: initial projection aspect ratio
//
// Returns:
//   - Camera: the camera
func New(distance, aspect float32) Camera {
	if distance < minDistance {
		distance = minDistance
	}
	return &cameraImpl{
		mu:       &sync.Mutex{},
		distance: distance,
		pitch:    0.3,
		fov:      math32.Pi / 3,
		aspect:   aspect,
		near:     0.1,
		far:      2000,
	}
}

func (c *cameraImpl) positionLocked() common.Vec3 {
	cp := math32.Cos(c.pitch)
	dir := common.Vec3{
		cp * math32.Cos(c.yaw),
		math32.Sin(c.pitch),
		cp * math32.Sin(c.yaw),
	}
	return c.target.Add(dir.Scale(c.distance))
}

func (c *cameraImpl) View() renderer.View {
	c.mu.Lock()
	defer c.mu.Unlock()

	pos := c.positionLocked()

	var view, proj [16]float32
	common.LookAt(view[:], pos, c.target, common.Vec3{0, 1, 0})
	common.Perspective(proj[:], c.fov, c.aspect, c.near, c.far)

	var v renderer.View
	common.Mul4(v.ViewProj[:], proj[:], view[:])
	v.Position = pos
	return v
}

func (c *cameraImpl) Orbit(dyaw, dpitch float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.yaw += dyaw
	c.pitch += dpitch
	if c.pitch < minPitch {
		c.pitch = minPitch
	}
	if c.pitch > maxPitch {
		c.pitch = maxPitch
	}
}

func (c *cameraImpl) Zoom(delta float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.distance *= math32.Pow(0.9, delta)
	if c.distance < minDistance {
		c.distance = minDistance
	}
}

func (c *cameraImpl) Pan(dx, dy float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	forward := c.target.Sub(c.positionLocked()).Normalized()
	right := forward.Cross(common.Vec3{0, 1, 0}).Normalized()
	up := right.Cross(forward)

	scale := c.distance * 0.002
	c.target = c.target.Add(right.Scale(dx * scale)).Add(up.Scale(dy * scale))
}

func (c *cameraImpl) SetAspect(aspect float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if aspect > 0 {
		c.aspect = aspect
	}
}

func (c *cameraImpl) Position() common.Vec3 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.positionLocked()
}
