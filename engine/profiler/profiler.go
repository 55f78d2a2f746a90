// package profiler tracks frame timing and memory statistics for the viewer
// loop, logging a summary line at a fixed interval.
package profiler

import (
	"log"
	"runtime"
	"sort"
	"strings"
	"time"
)

// Profiler accumulates per-frame and per-stage CPU timings. Call Tick once
// per frame; stats are logged once per update interval.
type Profiler struct {
	frameCount     int
	lastTime       time.Time
	frameStart     time.Time
	worstFrame     time.Duration
	updateInterval time.Duration
	stageTotals    map[string]time.Duration
	memStats       runtime.MemStats
	lastGCCount    uint32
	lastTotalAlloc uint64
}

// New creates a profiler logging once per second.
//
// Returns:
//   - *Profiler: the newly created profiler instance
func New() *Profiler {
	now := time.Now()
	return &Profiler{
		lastTime:       now,
		frameStart:     now,
		updateInterval: time.Second,
		stageTotals:    make(map[string]time.Duration),
	}
}

// BeginFrame marks the start of a frame for worst-frame tracking.
func (p *Profiler) BeginFrame() {
	p.frameStart = time.Now()
}

// RecordStage accumulates CPU time spent in a named render stage or pass.
// Totals reset when stats are logged.
//
// Parameters:
//   - name: the stage or pass name
//   - d: the elapsed CPU time
func (p *Profiler) RecordStage(name string, d time.Duration) {
	p.stageTotals[name] += d
}

// Tick ends the frame and logs statistics when the update interval elapsed:
// FPS, worst frame time, per-stage CPU totals, heap usage, allocation rate,
// and GC pauses.
//
// Returns:
//   - bool: true if stats were logged this tick
func (p *Profiler) Tick() bool {
	p.frameCount++
	if d := time.Since(p.frameStart); d > p.worstFrame {
		p.worstFrame = d
	}

	currentTime := time.Now()
	elapsed := currentTime.Sub(p.lastTime)
	if elapsed < p.updateInterval {
		return false
	}

	fps := float64(p.frameCount) / elapsed.Seconds()

	runtime.ReadMemStats(&p.memStats)
	allocMB := float64(p.memStats.Alloc) / 1024 / 1024

	allocDelta := p.memStats.TotalAlloc - p.lastTotalAlloc
	allocRateMB := float64(allocDelta) / 1024 / 1024 / elapsed.Seconds()

	// PauseNs is a circular buffer of the last 256 GC pauses.
	gcCount := p.memStats.NumGC
	var maxPauseUs uint64
	if gcCount > 0 {
		startIdx := p.lastGCCount
		if gcCount-startIdx > 256 {
			startIdx = gcCount - 256
		}
		for i := startIdx; i < gcCount; i++ {
			pause := p.memStats.PauseNs[i%256] / 1000
			if pause > maxPauseUs {
				maxPauseUs = pause
			}
		}
	}

	log.Printf("[profiler] fps: %.1f | worst frame: %.2f ms | heap: %.1f MB | alloc: %.1f MB/s | gc: %d (max pause %d us)%s",
		fps, float64(p.worstFrame.Microseconds())/1000, allocMB, allocRateMB, gcCount, maxPauseUs, p.stageSummary())

	p.frameCount = 0
	p.worstFrame = 0
	p.lastTime = currentTime
	p.lastGCCount = gcCount
	p.lastTotalAlloc = p.memStats.TotalAlloc
	clear(p.stageTotals)
	return true
}

// stageSummary formats accumulated stage totals, slowest first.
func (p *Profiler) stageSummary() string {
	if len(p.stageTotals) == 0 {
		return ""
	}
	type entry struct {
		name  string
		total time.Duration
	}
	entries := make([]entry, 0, len(p.stageTotals))
	for name, total := range p.stageTotals {
		entries = append(entries, entry{name, total})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].total > entries[j].total
	})

	var sb strings.Builder
	sb.WriteString(" | stages:")
	for _, e := range entries {
		sb.WriteString(" ")
		sb.WriteString(e.name)
		sb.WriteString("=")
		sb.WriteString(e.total.Round(10 * time.Microsecond).String())
	}
	return sb.String()
}
