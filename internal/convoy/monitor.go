package convoy

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// ResourceSample is a point-in-time reading of host resource usage.
type ResourceSample struct {
	CPUPercent    float64
	MemoryPercent float64
	SampledAt     time.Time
}

// ResourceMonitor periodically samples host CPU and memory usage and
// derives adaptive concurrency decisions from it. There is no original
// direct ancestor for the sampling loop itself (the Python resource
// monitor module was not part of the retrieved reference set); the
// calculate/throttle contract below is grounded on how convoy execution
// calls into it.
type ResourceMonitor struct {
	mu             sync.RWMutex
	sampleInterval time.Duration
	last           ResourceSample

	stop chan struct{}
}

// NewResourceMonitor builds a ResourceMonitor sampling every interval. A
// zero interval samples synchronously on each call instead of running a
// background loop.
func NewResourceMonitor(interval time.Duration) *ResourceMonitor {
	m := &ResourceMonitor{sampleInterval: interval}
	m.sampleOnce()
	if interval > 0 {
		m.stop = make(chan struct{})
		go m.loop()
	}
	return m
}

func (m *ResourceMonitor) loop() {
	ticker := time.NewTicker(m.sampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sampleOnce()
		case <-m.stop:
			return
		}
	}
}

func (m *ResourceMonitor) sampleOnce() {
	sample := ResourceSample{SampledAt: time.Now()}

	if percents, err := cpu.PercentWithContext(context.Background(), 200*time.Millisecond, false); err == nil && len(percents) > 0 {
		sample.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(context.Background()); err == nil {
		sample.MemoryPercent = vm.UsedPercent
	}

	m.mu.Lock()
	m.last = sample
	m.mu.Unlock()
}

// CurrentMetrics returns the most recent resource sample, sampling
// synchronously if no background loop is running.
func (m *ResourceMonitor) CurrentMetrics() ResourceSample {
	if m.sampleInterval == 0 {
		m.sampleOnce()
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// Close stops the background sampling loop, if any.
func (m *ResourceMonitor) Close() {
	if m.stop != nil {
		close(m.stop)
	}
}

// CalculateOptimalParallelism picks a concurrency level between baseline
// and maxParallel, scaling down as CPU/memory usage rises so a convoy
// never starts wider than the host can sustain.
func (m *ResourceMonitor) CalculateOptimalParallelism(maxParallel, baseline int) int {
	sample := m.CurrentMetrics()
	load := sample.CPUPercent
	if sample.MemoryPercent > load {
		load = sample.MemoryPercent
	}

	switch {
	case load >= 90:
		return baseline
	case load >= 70:
		mid := (baseline + maxParallel) / 2
		if mid < baseline {
			mid = baseline
		}
		return mid
	default:
		return maxParallel
	}
}

// ShouldThrottle reports whether current CPU or memory usage exceeds the
// configured thresholds.
func (m *ResourceMonitor) ShouldThrottle(cpuThreshold, memoryThreshold float64) bool {
	sample := m.CurrentMetrics()
	return sample.CPUPercent >= cpuThreshold || sample.MemoryPercent >= memoryThreshold
}

// ThrottleFactor returns a value in [0,1] describing how hard to throttle:
// 1.0 means no throttling needed, 0.0 means maximum throttling.
func (m *ResourceMonitor) ThrottleFactor(cpuThreshold, memoryThreshold float64) float64 {
	sample := m.CurrentMetrics()

	cpuOverage := (sample.CPUPercent - cpuThreshold) / (100 - cpuThreshold)
	memOverage := (sample.MemoryPercent - memoryThreshold) / (100 - memoryThreshold)

	overage := cpuOverage
	if memOverage > overage {
		overage = memOverage
	}
	if overage <= 0 {
		return 1.0
	}
	if overage >= 1 {
		return 0.0
	}
	return 1.0 - overage
}
