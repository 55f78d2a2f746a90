// package assets is the shared handle cache for loaded GPU assets. Meshes,
// techniques, and textures are reference-shared across drawables under a
// hashed key; loads can run in the background on a worker pool, and the
// renderer polls Idle to know whether streaming has settled.
package assets

import (
	"errors"
	"fmt"
	"hash/fnv"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
)

// ErrUnknownKey is returned by Resolve for keys with no cached asset.
var ErrUnknownKey = errors.New("assets: unknown key")

// LoadFunc produces an asset for a key. Load functions run at most once per
// key; concurrent requests for the same key share the first result.
type LoadFunc func() (any, error)

// KeyOf derives a cache key from an asset name.
func KeyOf(name string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	return h.Sum64()
}

// Manager caches loaded assets under hashed keys and runs prefetches on a
// background worker pool. Thread-safe for concurrent access.
type Manager interface {
	// Get returns the cached asset for a key.
	//
	// Parameters:
	//   - key: the asset key
	//
	// Returns:
	//   - any: the asset, nil when not loaded
	//   - bool: true when the asset is present
	Get(key uint64) (any, bool)

	// Resolve returns the cached asset for a key, or ErrUnknownKey when the
	// asset has not been loaded. Use it where an absent asset is a content
	// error rather than a cache miss to fill.
	//
	// Parameters:
	//   - key: the asset key
	//
	// Returns:
	//   - any: the asset
	//   - error: ErrUnknownKey when absent
	Resolve(key uint64) (any, error)

	// Load returns the cached asset for a key, loading it synchronously on
	// first request. A failed load is not cached; the next request retries.
	//
	// Parameters:
	//   - key: the asset key
	//   - load: the producer invoked when the key is absent
	//
	// Returns:
	//   - any: the asset
	//   - error: an error if the load failed
	Load(key uint64, load LoadFunc) (any, error)

	// Prefetch queues a background load for a key. Already-cached and
	// already-queued keys are ignored. Prefetch failures are logged and the
	// key stays absent.
	//
	// Parameters:
	//   - key: the asset key
	//   - load: the producer run on the worker pool
	Prefetch(key uint64, load LoadFunc)

	// Pending returns the number of background loads not yet finished.
	Pending() int

	// Idle reports whether no background loads are in flight. The shadow
	// scheduler keeps stationary shadow content marked dirty while this is
	// false, so streaming scenes converge once loading settles.
	Idle() bool
}

type managerImpl struct {
	mu      *sync.Mutex
	cache   map[uint64]any
	queued  map[uint64]bool
	pending atomic.Int64
	pool    worker.DynamicWorkerPool
	taskID  int
}

var _ Manager = &managerImpl{}

// NewManager creates a manager with the given number of background load
// workers. Workers persist between loads; queue depth 256 covers typical
// prefetch bursts.
func NewManager(workers int) Manager {
	if workers < 1 {
		workers = 1
	}
	return &managerImpl{
		mu:     &sync.Mutex{},
		cache:  make(map[uint64]any),
		queued: make(map[uint64]bool),
		pool:   worker.NewDynamicWorkerPool(workers, 256, 1*time.Second),
	}
}

func (m *managerImpl) Get(key uint64) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	asset, ok := m.cache[key]
	return asset, ok
}

func (m *managerImpl) Resolve(key uint64) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	asset, ok := m.cache[key]
	if !ok {
		return nil, fmt.Errorf("%w: %#x", ErrUnknownKey, key)
	}
	return asset, nil
}

func (m *managerImpl) Load(key uint64, load LoadFunc) (any, error) {
	m.mu.Lock()
	if asset, ok := m.cache[key]; ok {
		m.mu.Unlock()
		return asset, nil
	}
	m.mu.Unlock()

	asset, err := load()
	if err != nil {
		return nil, fmt.Errorf("assets: load %#x: %w", key, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// A concurrent load may have won the race; keep the first result so every
	// holder shares one handle.
	if existing, ok := m.cache[key]; ok {
		return existing, nil
	}
	m.cache[key] = asset
	return asset, nil
}

func (m *managerImpl) Prefetch(key uint64, load LoadFunc) {
	m.mu.Lock()
	if _, ok := m.cache[key]; ok || m.queued[key] {
		m.mu.Unlock()
		return
	}
	m.queued[key] = true
	m.taskID++
	id := m.taskID
	m.mu.Unlock()

	m.pending.Add(1)
	m.pool.SubmitTask(worker.Task{
		ID: id,
		Do: func() (any, error) {
			defer m.pending.Add(-1)

			asset, err := load()

			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.queued, key)
			if err != nil {
				log.Printf("[assets] prefetch %#x failed: %v", key, err)
				return nil, err
			}
			if _, ok := m.cache[key]; !ok {
				m.cache[key] = asset
			}
			return asset, nil
		},
	})
}

func (m *managerImpl) Pending() int {
	return int(m.pending.Load())
}

func (m *managerImpl) Idle() bool {
	return m.pending.Load() == 0
}
