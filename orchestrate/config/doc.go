// Package config provides configuration structures for the state-graph
// orchestration primitives under orchestrate/state.
//
// # Graph Configuration
//
// GraphConfig defines settings for a state graph instance:
//
//	cfg := config.GraphConfig{
//	    Name:          "battleplan-feature-rollout",
//	    Observer:      "slog",
//	    MaxIterations: 1000,
//	}
//
//	graph, err := state.NewGraph(cfg)
//
// # Default Configuration
//
//	cfg := config.DefaultGraphConfig("workflow")
//	// Observer: "slog"
//	// MaxIterations: 1000
//	// Checkpoint: disabled (Interval=0)
//
// # Design Principles
//
//   - Configuration only exists during initialization
//   - Does not persist into runtime components
//   - Validation happens at point of use (the state package)
//   - Observer and checkpoint store fields are strings so plain JSON
//     configuration can select a registered implementation at runtime
//
// # Configuration Merging
//
// Configuration types support a Merge pattern: loaded configs merge over
// defaults.
//
//	cfg := config.DefaultGraphConfig("workflow")
//	var loaded config.GraphConfig
//	json.Unmarshal(data, &loaded)
//	cfg.Merge(&loaded)
//
// Merge semantics by field type:
//
//   - Strings: Merge if source is non-empty
//   - Integers: Merge if source is greater than zero
//   - Nested configs: Recursive merge
package config
