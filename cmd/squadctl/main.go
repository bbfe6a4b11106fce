// Command squadctl is the composition root for the squad orchestration
// core: it wires the work state store, battle plan manager, convoy
// manager/executor, org router, patrol sweep, and captain coordinator
// over a single workspace directory and exposes them as subcommands.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"

	"github.com/squadcore/core/internal/battleplan"
	"github.com/squadcore/core/internal/captain"
	"github.com/squadcore/core/internal/convoy"
	"github.com/squadcore/core/internal/opgraph"
	"github.com/squadcore/core/internal/patrol"
	"github.com/squadcore/core/internal/router"
	"github.com/squadcore/core/internal/squadrpc"
	"github.com/squadcore/core/internal/workstate"
	"github.com/squadcore/core/observability"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	workspace := flag.NewFlagSet("global", flag.ContinueOnError)
	workspaceRoot := workspace.String("workspace", ".", "Workspace root directory")
	verbose := workspace.Bool("verbose", false, "Enable debug logging")

	cmd := os.Args[1]
	args := os.Args[2:]
	if err := workspace.Parse(args); err != nil {
		os.Exit(2)
	}

	logger := newLogger(*verbose)
	slog.SetDefault(logger)
	observer := observability.NewSlogObserver(logger)

	store, err := workstate.NewJSONStore(*workspaceRoot, workstate.DefaultConfig(), observer)
	if err != nil {
		log.Fatalf("open work state store: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	switch cmd {
	case "status":
		runStatus(ctx, store)
	case "dispatch":
		runDispatch(ctx, *workspaceRoot, store, workspace.Args())
	case "patrol":
		runPatrol(ctx, *workspaceRoot, store)
	case "run":
		runCaptain(ctx, *workspaceRoot, store, observer, workspace.Args())
	case "serve":
		runServe(ctx, store, observer, workspace.Args())
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: squadctl <command> [-workspace dir] [-verbose] [args]

Commands:
  status                 print overall work item status
  dispatch <id> <agent>  dispatch a ready work item to an agent
  patrol                 run a stale-work sweep
  run <issue_number>     run captain coordination for an issue
  serve <addr>           serve the worker dispatch bridge`)
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func runStatus(ctx context.Context, store workstate.Store) {
	c := captain.New(store, nil, nil, nil, nil, captain.RoutingConfig{}, nil)
	status, err := c.GetStatus(ctx, nil)
	if err != nil {
		log.Fatalf("get status: %v", err)
	}
	fmt.Printf("Total: %d  Ready: %d  In progress: %d  Blocked: %d  Done: %d\n",
		status.Overall.Total, len(status.ReadyWork), len(status.InProgress),
		status.Overall.Blocked, status.Overall.Completed)
}

func runDispatch(ctx context.Context, workspaceRoot string, store workstate.Store, args []string) {
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "Usage: squadctl dispatch <work_item_id> <agent_type>")
		os.Exit(1)
	}
	c := captain.New(store, nil, nil, nil, nil, captain.RoutingConfig{}, nil)
	ok, err := c.DispatchWork(ctx, args[0], args[1])
	if err != nil {
		log.Fatalf("dispatch: %v", err)
	}
	if !ok {
		fmt.Fprintln(os.Stderr, "work item not ready or not found")
		os.Exit(1)
	}

	if graph, err := opgraph.New(workspaceRoot); err != nil {
		slog.WarnContext(ctx, "operational graph unavailable", "error", err)
	} else {
		if _, err := graph.AddNode(args[0], opgraph.NodeWorkItem, nil); err != nil {
			slog.WarnContext(ctx, "record work item node failed", "error", err)
		}
		if _, err := graph.AddNode(args[1], opgraph.NodeAgent, nil); err != nil {
			slog.WarnContext(ctx, "record agent node failed", "error", err)
		}
		if _, err := graph.AddEdge(args[0], args[1], opgraph.EdgeDelegates, nil); err != nil {
			slog.WarnContext(ctx, "record delegation edge failed", "error", err)
		}
	}

	fmt.Printf("dispatched %s to %s\n", args[0], args[1])
}

func runPatrol(ctx context.Context, workspaceRoot string, store workstate.Store) {
	m := patrol.New(workspaceRoot, store)
	events, err := m.Run(ctx)
	if err != nil {
		log.Fatalf("patrol: %v", err)
	}
	fmt.Printf("patrol: %d stale work items\n", len(events))
	for _, e := range events {
		fmt.Printf("  %s (%s, %d minutes stale)\n", e.WorkItemID, e.Status, e.MinutesStale)
	}
}

func runCaptain(ctx context.Context, workspaceRoot string, store workstate.Store, observer observability.Observer, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: squadctl run <issue_number>")
		os.Exit(1)
	}
	var issueNumber int
	if _, err := fmt.Sscanf(args[0], "%d", &issueNumber); err != nil {
		log.Fatalf("invalid issue number: %v", err)
	}

	plans, err := battleplan.NewManager(workspaceRoot, "", observer)
	if err != nil {
		log.Fatalf("load battle plans: %v", err)
	}
	convoys := convoy.NewManager(store, observer)

	orgRouter, err := router.New(workspaceRoot, router.DefaultPolicyRule(), nil, observer)
	if err != nil {
		log.Fatalf("init router: %v", err)
	}

	c := captain.New(store, plans, convoys, nil, orgRouter, captain.RoutingConfig{}, observer)
	result, err := c.Run(ctx, issueNumber)
	if err != nil {
		log.Fatalf("captain run: %v", err)
	}
	fmt.Println(result)
}

func runServe(ctx context.Context, store workstate.Store, observer observability.Observer, args []string) {
	addr := ":8080"
	if len(args) == 1 {
		addr = args[0]
	}

	agentFn := func(ctx context.Context, agentType, workItemID string, taskContext map[string]any) (string, error) {
		item, err := store.Get(ctx, workItemID)
		if err != nil {
			return "", err
		}
		if _, err := store.TransitionStatus(ctx, item.ID, workstate.StatusDone, nil); err != nil {
			return "", err
		}
		return fmt.Sprintf("acknowledged %s for %s", agentType, workItemID), nil
	}

	slog.InfoContext(ctx, "worker bridge listening", "addr", addr)
	if err := serveUntilDone(ctx, addr, squadrpc.NewMux(agentFn)); err != nil {
		log.Fatalf("serve: %v", err)
	}
}
