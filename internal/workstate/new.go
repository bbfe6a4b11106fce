package workstate

import (
	"fmt"

	"github.com/squadcore/core/observability"
)

// New builds a Store from cfg.Backend: "json" (default) or "bbolt".
func New(workspaceRoot string, cfg Config, observer observability.Observer) (Store, error) {
	switch cfg.Backend {
	case "", "json":
		return NewJSONStore(workspaceRoot, cfg, observer)
	case "bbolt":
		return NewBoltStore(workspaceRoot, cfg, observer)
	default:
		return nil, fmt.Errorf("workstate: unknown backend %q", cfg.Backend)
	}
}
