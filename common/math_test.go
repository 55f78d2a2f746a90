package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMul4Identity(t *testing.T) {
	var id, m, out [16]float32
	Identity(id[:])
	Perspective(m[:], 1.2, 16.0/9.0, 0.1, 1000)

	Mul4(out[:], id[:], m[:])
	assert.Equal(t, m, out)

	Mul4(out[:], m[:], id[:])
	assert.Equal(t, m, out)
}

func TestPerspectiveDepthRange(t *testing.T) {
	var proj [16]float32
	near, far := float32(0.5), float32(100)
	Perspective(proj[:], 1.0, 1.0, near, far)

	// A point on the near plane projects to depth 0, one on the far plane to 1.
	nearZ := project(proj[:], Vec3{0, 0, -near})
	farZ := project(proj[:], Vec3{0, 0, -far})
	assert.InDelta(t, 0.0, nearZ, 1e-5)
	assert.InDelta(t, 1.0, farZ, 1e-4)
}

func TestInvert4RoundTrip(t *testing.T) {
	var view, proj, vp, inv, out [16]float32
	LookAt(view[:], Vec3{3, 4, 5}, Vec3{}, Vec3{0, 1, 0})
	Perspective(proj[:], 1.0, 1.5, 0.1, 500)
	Mul4(vp[:], proj[:], view[:])

	require.True(t, Invert4(inv[:], vp[:]))
	Mul4(out[:], vp[:], inv[:])

	var id [16]float32
	Identity(id[:])
	for i := range id {
		assert.InDelta(t, id[i], out[i], 1e-3)
	}
}

func TestInvert4SingularFails(t *testing.T) {
	var zero, out [16]float32
	assert.False(t, Invert4(out[:], zero[:]))
}

func TestFrustumContainsSphere(t *testing.T) {
	var view, proj, vp [16]float32
	LookAt(view[:], Vec3{0, 0, 10}, Vec3{}, Vec3{0, 1, 0})
	Perspective(proj[:], 1.0, 1.0, 0.1, 100)
	Mul4(vp[:], proj[:], view[:])

	f := ExtractFrustumFromMatrix(vp[:])

	assert.True(t, f.ContainsSphere(Sphere{Center: Vec3{0, 0, 0}, Radius: 1}), "in front of the camera")
	assert.False(t, f.ContainsSphere(Sphere{Center: Vec3{0, 0, 50}, Radius: 1}), "behind the camera")
	assert.False(t, f.ContainsSphere(Sphere{Center: Vec3{500, 0, 0}, Radius: 1}), "far outside the side planes")

	// Straddling a plane counts as inside.
	assert.True(t, f.ContainsSphere(Sphere{Center: Vec3{0, 0, 10.05}, Radius: 1}), "straddles the near plane")
}

func TestSphereDegeneratesToPoint(t *testing.T) {
	var view, proj, vp [16]float32
	LookAt(view[:], Vec3{0, 0, 10}, Vec3{}, Vec3{0, 1, 0})
	Perspective(proj[:], 1.0, 1.0, 0.1, 100)
	Mul4(vp[:], proj[:], view[:])

	f := ExtractFrustumFromMatrix(vp[:])
	assert.True(t, f.ContainsSphere(Sphere{Center: Vec3{0, 0, 0}}))
	assert.False(t, f.ContainsSphere(Sphere{Center: Vec3{0, 0, 20}}))
}

// project runs a world point through a projection matrix and returns its NDC
// depth after the perspective divide.
func project(m []float32, p Vec3) float32 {
	x, y, z := p[0], p[1], p[2]
	outZ := m[2]*x + m[6]*y + m[10]*z + m[14]
	outW := m[3]*x + m[7]*y + m[11]*z + m[15]
	return outZ / outW
}
