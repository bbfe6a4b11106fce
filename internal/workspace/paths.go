// Package workspace centralizes the on-disk layout of a squadcore workspace
// so every subsystem agrees on where its files live, matching the original
// implementation's single runtime_paths helper rather than letting each
// store compute its own join of the workspace root.
package workspace

import "path/filepath"

// DefaultDir is the workspace subdirectory name used when the caller does
// not override it.
const DefaultDir = ".squad"

// Paths resolves every file and directory a subsystem needs, rooted at a
// single workspace directory (by default "<root>/.squad").
type Paths struct {
	Root string
}

// Resolve builds a Paths rooted at root/.squad, joining DefaultDir onto
// root even when root already ends in it.
func Resolve(root string) Paths {
	base := filepath.Join(root, DefaultDir)
	return Paths{Root: base}
}

// ResolveNamed builds a Paths rooted at root/dir, for callers that want a
// workspace directory name other than the default.
func ResolveNamed(root, dir string) Paths {
	return Paths{Root: filepath.Join(root, dir)}
}

func (p Paths) WorkStateJSON() string { return filepath.Join(p.Root, "workstate.json") }
func (p Paths) HistoryDB() string     { return filepath.Join(p.Root, "history.db") }

func (p Paths) HooksDir() string          { return filepath.Join(p.Root, "hooks") }
func (p Paths) HookDir(itemID string) string {
	return filepath.Join(p.HooksDir(), itemID)
}
func (p Paths) HookWorkItem(itemID string) string {
	return filepath.Join(p.HookDir(itemID), "work_item.json")
}

func (p Paths) SignalDir() string      { return filepath.Join(p.Root, "signal") }
func (p Paths) Messages() string       { return filepath.Join(p.SignalDir(), "messages.json") }
func (p Paths) Mailboxes() string      { return filepath.Join(p.SignalDir(), "mailboxes.json") }

func (p Paths) HandoffsDir() string  { return filepath.Join(p.Root, "handoffs") }
func (p Paths) Handoffs() string     { return filepath.Join(p.HandoffsDir(), "handoffs.json") }

func (p Paths) DelegationsDir() string { return filepath.Join(p.Root, "delegations") }
func (p Paths) Delegations() string    { return filepath.Join(p.DelegationsDir(), "delegations.json") }

func (p Paths) EventsDir() string   { return filepath.Join(p.Root, "events") }
func (p Paths) Routing() string     { return filepath.Join(p.EventsDir(), "routing.jsonl") }
func (p Paths) Patrol() string      { return filepath.Join(p.EventsDir(), "patrol.jsonl") }

func (p Paths) GraphDir() string  { return filepath.Join(p.Root, "graph") }
func (p Paths) Nodes() string     { return filepath.Join(p.GraphDir(), "nodes.json") }
func (p Paths) Edges() string     { return filepath.Join(p.GraphDir(), "edges.json") }

func (p Paths) ReportsDir() string { return filepath.Join(p.Root, "reports") }
func (p Paths) AfterOperationReport(convoyID string) string {
	return filepath.Join(p.ReportsDir(), "after-operation-"+convoyID+".md")
}

func (p Paths) ConvoysDir() string { return filepath.Join(p.Root, "convoys") }

func (p Paths) StrategiesDir() string { return filepath.Join(p.Root, "strategies") }
