package router

import (
	"bufio"
	"encoding/json"
	"os"

	"github.com/squadcore/core/internal/workspace"
)

// HealthConfig holds health thresholds and circuit-breaker settings, scored
// against the block rate observed over a rolling window of routing events.
type HealthConfig struct {
	WarnBlockRate           float64
	CriticalBlockRate       float64
	CircuitBreakerBlockRate float64
	ThrottleBlockRate       float64
	MinEvents               int
	Window                  int
}

// DefaultHealthConfig matches the thresholds tuned against production
// routing traffic: a destination with fewer than 5 recent events is
// reported as insufficient_data rather than scored.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		WarnBlockRate:           0.25,
		CriticalBlockRate:       0.5,
		CircuitBreakerBlockRate: 0.7,
		ThrottleBlockRate:       0.5,
		MinEvents:               5,
		Window:                  200,
	}
}

// Score classifies a block rate against the configured thresholds.
func (c HealthConfig) Score(blockRate float64, total int) string {
	if total < c.MinEvents {
		return "insufficient_data"
	}
	if blockRate >= c.CriticalBlockRate {
		return "critical"
	}
	if blockRate >= c.WarnBlockRate {
		return "warn"
	}
	return "healthy"
}

// DestinationHealth is the aggregated health of a single routing
// destination over the rolling window.
type DestinationHealth struct {
	Total         int     `json:"total"`
	Blocked       int     `json:"blocked"`
	Routed        int     `json:"routed"`
	BlockRate     float64 `json:"block_rate"`
	Status        string  `json:"status"`
	Throttled     bool    `json:"throttled"`
	CircuitOpen   bool    `json:"circuit_open"`
	LastTimestamp string  `json:"last_timestamp,omitempty"`
}

// DestinationCounts tallies routing outcomes for one source, destination,
// or priority bucket.
type DestinationCounts struct {
	Total   int `json:"total"`
	Routed  int `json:"routed"`
	Blocked int `json:"blocked"`
}

// Summary is an aggregate view across every destination in the window.
type Summary struct {
	Total          int                          `json:"total"`
	Routed         int                          `json:"routed"`
	Blocked        int                          `json:"blocked"`
	BySource       map[string]*DestinationCounts `json:"by_source"`
	ByDestination  map[string]*DestinationCounts `json:"by_destination"`
	ByPriority     map[string]*DestinationCounts `json:"by_priority"`
	OverallStatus  string                       `json:"overall_status,omitempty"`
	BlockRate      float64                      `json:"block_rate,omitempty"`
}

// HealthView reads the routing event log to answer health queries without
// holding any routing state in memory between calls, matching the
// event-sourced design of the rest of the workspace.
type HealthView struct {
	paths  workspace.Paths
	window int
}

// NewHealthView builds a HealthView reading events/routing.jsonl under
// workspaceRoot, considering at most the most recent window events.
func NewHealthView(workspaceRoot string, window int) *HealthView {
	if window <= 0 {
		window = 200
	}
	return &HealthView{paths: workspace.Resolve(workspaceRoot), window: window}
}

func (v *HealthView) loadEvents() ([]map[string]any, error) {
	f, err := os.Open(v.paths.Routing())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var ring []map[string]any
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		var ev map[string]any
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue
		}
		ring = append(ring, ev)
		if len(ring) > v.window {
			ring = ring[1:]
		}
	}
	return ring, scanner.Err()
}

func stringField(m map[string]any, key, def string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return def
}

// Summarize aggregates every event in the window by source, destination,
// and priority. config may be nil to skip the overall status/block rate.
func (v *HealthView) Summarize(config *HealthConfig) Summary {
	events, _ := v.loadEvents()
	summary := Summary{
		BySource:      map[string]*DestinationCounts{},
		ByDestination: map[string]*DestinationCounts{},
		ByPriority:    map[string]*DestinationCounts{},
	}

	bump := func(m map[string]*DestinationCounts, key, status string) {
		c, ok := m[key]
		if !ok {
			c = &DestinationCounts{}
			m[key] = c
		}
		c.Total++
		switch status {
		case "routed":
			c.Routed++
		case "blocked":
			c.Blocked++
		}
	}

	for _, ev := range events {
		status := stringField(ev, "status", "unknown")
		source := stringField(ev, "source", "unknown")
		destination := stringField(ev, "destination", "unknown")
		priority := "normal"
		if meta, ok := ev["metadata"].(map[string]any); ok {
			if p, ok := meta["priority"].(string); ok && p != "" {
				priority = p
			}
		}

		summary.Total++
		switch status {
		case "routed":
			summary.Routed++
		case "blocked":
			summary.Blocked++
		}

		bump(summary.BySource, source, status)
		bump(summary.ByDestination, destination, status)
		bump(summary.ByPriority, priority, status)
	}

	if config != nil {
		var blockRate float64
		if summary.Total > 0 {
			blockRate = float64(summary.Blocked) / float64(summary.Total)
		}
		summary.BlockRate = blockRate
		summary.OverallStatus = config.Score(blockRate, summary.Total)
	}

	return summary
}

// DestinationHealth computes the health of a single destination over the
// rolling window, including circuit-breaker and throttle state.
func (v *HealthView) DestinationHealth(destination string, config HealthConfig) DestinationHealth {
	events, _ := v.loadEvents()

	var total, blocked, routed int
	var lastTimestamp string
	for _, ev := range events {
		if stringField(ev, "destination", "") != destination {
			continue
		}
		total++
		switch stringField(ev, "status", "") {
		case "blocked":
			blocked++
		case "routed":
			routed++
		}
		lastTimestamp = stringField(ev, "timestamp", lastTimestamp)
	}

	var blockRate float64
	if total > 0 {
		blockRate = float64(blocked) / float64(total)
	}

	return DestinationHealth{
		Total:         total,
		Blocked:       blocked,
		Routed:        routed,
		BlockRate:     blockRate,
		Status:        config.Score(blockRate, total),
		Throttled:     blockRate >= config.ThrottleBlockRate && total >= config.MinEvents,
		CircuitOpen:   blockRate >= config.CircuitBreakerBlockRate && total >= config.MinEvents,
		LastTimestamp: lastTimestamp,
	}
}
