package scene

import (
	"testing"
	"time"

	"github.com/Taskeren/alkahest/common"
	"github.com/Taskeren/alkahest/engine/drawable"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIterationFollowsInsertionOrder(t *testing.T) {
	s := New()

	var want []Entity
	for i := 0; i < 5; i++ {
		e := s.Spawn()
		s.AttachTerrainPatch(e, &drawable.TerrainPatch{})
		want = append(want, e)
	}
	s.Despawn(want[2])
	want = append(want[:2], want[3:]...)

	var got []Entity
	s.EachTerrainPatch(func(e Entity, _ *Transform, _ *drawable.TerrainPatch) bool {
		got = append(got, e)
		return true
	})
	assert.Equal(t, want, got)
}

func TestMissingVisibilityMeansVisible(t *testing.T) {
	s := New()
	e := s.Spawn()

	assert.True(t, s.VisibleInView(e, 0))
	assert.True(t, s.VisibleInView(e, 3))

	s.SetVisibility(e, Visibility{ViewMask: 1 << 2})
	assert.False(t, s.VisibleInView(e, 0))
	assert.True(t, s.VisibleInView(e, 2))

	s.SetVisibility(e, Visibility{Hidden: true, ViewMask: ^uint32(0)})
	assert.False(t, s.VisibleInView(e, 2), "hidden wins over any cull result")
}

func TestDespawnRemovesAllComponents(t *testing.T) {
	s := New()
	e := s.Spawn()
	s.SetTransform(e, Transform{Position: common.Vec3{1, 2, 3}})
	s.AttachShadowLight(e, &ShadowLight{})
	require.Equal(t, 1, s.Len())

	s.Despawn(e)
	assert.Zero(t, s.Len())
	assert.Nil(t, s.Transform(e))
	count := 0
	s.EachShadowLight(func(Entity, *Transform, *ShadowLight) bool {
		count++
		return true
	})
	assert.Zero(t, count)

	s.Despawn(e)
	assert.Zero(t, s.Len())
}

func TestIterationCallbackMayQueryVisibility(t *testing.T) {
	s := New()
	e := s.Spawn()
	s.AttachDynamicModel(e, &drawable.DynamicModel{})

	writerQueued := make(chan struct{})
	writerDone := make(chan struct{})
	visible := make(chan bool, 1)
	go func() {
		s.EachDynamicModel(func(e Entity, _ *Transform, _ *drawable.DynamicModel) bool {
			go func() {
				close(writerQueued)
				s.SetTransform(e, Transform{Position: common.Vec3{1, 0, 0}})
				close(writerDone)
			}()
			<-writerQueued
			// Give the writer time to queue on the scene lock before the
			// callback reads back through it.
			time.Sleep(10 * time.Millisecond)
			visible <- s.VisibleInView(e, 0)
			return true
		})
	}()

	select {
	case v := <-visible:
		assert.True(t, v)
	case <-time.After(2 * time.Second):
		t.Fatal("visibility query inside iteration never completed")
	}
	select {
	case <-writerDone:
	case <-time.After(2 * time.Second):
		t.Fatal("concurrent transform write never completed")
	}
}

func TestAttachIgnoresDeadEntities(t *testing.T) {
	s := New()
	e := s.Spawn()
	s.Despawn(e)

	s.SetTransform(e, Transform{})
	s.AttachTerrainPatch(e, &drawable.TerrainPatch{})
	assert.Nil(t, s.Transform(e))
}
