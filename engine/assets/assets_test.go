package assets

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCachesFirstResult(t *testing.T) {
	m := NewManager(1)
	key := KeyOf("mesh/crate")

	calls := 0
	load := func() (any, error) {
		calls++
		return "crate", nil
	}

	first, err := m.Load(key, load)
	require.NoError(t, err)
	second, err := m.Load(key, load)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls, "second load hits the cache")
}

func TestFailedLoadIsRetried(t *testing.T) {
	m := NewManager(1)
	key := KeyOf("mesh/broken")

	_, err := m.Load(key, func() (any, error) {
		return nil, errors.New("corrupt header")
	})
	require.Error(t, err)

	_, ok := m.Get(key)
	assert.False(t, ok, "failures are not cached")

	asset, err := m.Load(key, func() (any, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, asset)
}

func TestPrefetchCompletesInBackground(t *testing.T) {
	m := NewManager(2)
	key := KeyOf("technique/water")

	m.Prefetch(key, func() (any, error) { return "water", nil })

	deadline := time.Now().Add(2 * time.Second)
	for !m.Idle() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	require.True(t, m.Idle(), "prefetch did not settle")

	asset, ok := m.Get(key)
	require.True(t, ok)
	assert.Equal(t, "water", asset)
}

func TestKeyOfIsStable(t *testing.T) {
	assert.Equal(t, KeyOf("a/b"), KeyOf("a/b"))
	assert.NotEqual(t, KeyOf("a/b"), KeyOf("a/c"))
}

func TestResolveUnknownKeyErrors(t *testing.T) {
	m := NewManager(1)
	key := KeyOf("texture/dyemap")

	_, err := m.Resolve(key)
	require.ErrorIs(t, err, ErrUnknownKey)

	_, err = m.Load(key, func() (any, error) { return "dyemap", nil })
	require.NoError(t, err)

	asset, err := m.Resolve(key)
	require.NoError(t, err)
	assert.Equal(t, "dyemap", asset)
}
