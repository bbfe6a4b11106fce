// Package router implements organization-plane routing: policy checks over
// candidate destinations plus a health/circuit-breaker layer fed by a
// rolling window of routing events.
package router

import (
	"context"
	"time"

	"github.com/squadcore/core/observability"
)

// Candidate is a route destination (agent or model) with routing attributes.
type Candidate struct {
	Name            string
	CapabilityTags  []string
	TrustLevel      string
	DataSensitivity string
	LatencyMS       *int
}

// Priority mirrors the handoff/signalbus priority vocabulary for metadata
// purposes; routing itself does not prioritize by it.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Request describes a routing decision to make.
type Request struct {
	Candidates             []Candidate
	RequestedCapabilityTags []string
	DataSensitivity        string
	TrustLevel             string
	Priority               Priority
	Metadata               map[string]any
}

// Router enforces a PolicyRule over candidates and consults a HealthView to
// avoid unhealthy or circuit-broken destinations.
type Router struct {
	policy      PolicyRule
	healthCfg   HealthConfig
	healthView  *HealthView
	emitter     *EventEmitter
	observer    observability.Observer
}

// New builds a Router persisting routing events under workspaceRoot.
func New(workspaceRoot string, policy PolicyRule, healthCfg *HealthConfig, observer observability.Observer) (*Router, error) {
	if observer == nil {
		observer = observability.NoOpObserver{}
	}
	cfg := DefaultHealthConfig()
	if healthCfg != nil {
		cfg = *healthCfg
	}
	emitter, err := NewEventEmitter(workspaceRoot)
	if err != nil {
		return nil, err
	}
	return &Router{
		policy:     policy,
		healthCfg:  cfg,
		healthView: NewHealthView(workspaceRoot, cfg.Window),
		emitter:    emitter,
		observer:   observer,
	}, nil
}

// Route selects the best viable, healthy candidate for a request, recording
// a routing event regardless of outcome. Returns nil (no error) when no
// candidate could be routed to; the reason is available on the emitted
// event.
func (r *Router) Route(ctx context.Context, req Request) (*Candidate, error) {
	metadata := req.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	var viable []Candidate
	for _, c := range req.Candidates {
		if r.policy.Permits(c, req.RequestedCapabilityTags, req.DataSensitivity, req.TrustLevel) {
			viable = append(viable, c)
		}
	}

	type scored struct {
		candidate Candidate
		health    DestinationHealth
	}
	var healthy, throttled []scored
	var circuitBlocked []Candidate

	for _, c := range viable {
		health := r.healthView.DestinationHealth(c.Name, r.healthCfg)
		switch {
		case health.CircuitOpen:
			circuitBlocked = append(circuitBlocked, c)
		case health.Throttled:
			throttled = append(throttled, scored{c, health})
		default:
			healthy = append(healthy, scored{c, health})
		}
	}

	pickLowestLatency := func(pool []scored) *Candidate {
		var best *Candidate
		var bestLatency int
		for i := range pool {
			c := pool[i].candidate
			if c.LatencyMS == nil {
				continue
			}
			if best == nil || *c.LatencyMS < bestLatency {
				cc := c
				best = &cc
				bestLatency = *c.LatencyMS
			}
		}
		if best != nil {
			return best
		}
		if len(pool) > 0 {
			cc := pool[0].candidate
			return &cc
		}
		return nil
	}

	var chosen *Candidate
	if len(healthy) > 0 {
		chosen = pickLowestLatency(healthy)
	} else if len(throttled) > 0 {
		chosen = pickLowestLatency(throttled)
	}

	blockReason := "policy_block"
	if len(healthy) == 0 && len(circuitBlocked) > 0 {
		blockReason = "circuit_breaker"
	}
	if len(healthy) == 0 && len(throttled) > 0 && chosen == nil {
		blockReason = "throttled"
	}

	status := "blocked"
	reason := blockReason
	if chosen != nil {
		status = "routed"
		reason = "policy_check"
		for _, t := range throttled {
			if t.candidate.Name == chosen.Name {
				reason = "throttled_route"
				break
			}
		}
	}

	healthMeta := map[string]any{}
	for _, h := range healthy {
		healthMeta[h.candidate.Name] = h.health
	}
	throttledMeta := map[string]any{}
	for _, t := range throttled {
		throttledMeta[t.candidate.Name] = t.health
	}
	var circuitNames []string
	for _, c := range circuitBlocked {
		circuitNames = append(circuitNames, c.Name)
	}
	var viableNames []string
	for _, c := range viable {
		viableNames = append(viableNames, c.Name)
	}

	destination := "none"
	if chosen != nil {
		destination = chosen.Name
	}

	event := NewRoutingEvent(RoutingEventParams{
		Source:        "org_router",
		Destination:   destination,
		Status:        status,
		ExecutionMode: "org",
		Reason:        reason,
		Metadata: map[string]any{
			"requested_capability_tags": req.RequestedCapabilityTags,
			"data_sensitivity":          req.DataSensitivity,
			"trust_level":               req.TrustLevel,
			"viable":                    viableNames,
			"metadata":                  metadata,
			"priority":                  req.Priority,
			"health":                    healthMeta,
			"throttled":                 throttledMeta,
			"circuit_blocked":           circuitNames,
		},
	})

	if err := r.emitter.EmitRouting(event); err != nil {
		return nil, err
	}
	r.observer.OnEvent(ctx, observability.Event{
		Type:      EventRouted,
		Level:     observability.LevelInfo,
		Timestamp: time.Now(),
		Source:    "router",
		Data:      map[string]any{"destination": destination, "status": status, "reason": reason},
	})

	return chosen, nil
}

// Summary returns an aggregate health view over the rolling window of
// routing events, for dashboards and patrol sweeps.
func (r *Router) Summary() Summary {
	return r.healthView.Summarize(&r.healthCfg)
}

// DestinationHealth returns the health view for a single destination.
func (r *Router) DestinationHealth(destination string) DestinationHealth {
	return r.healthView.DestinationHealth(destination, r.healthCfg)
}
