/*
Package dualflow provides a dual-process workflow engine for interactive
analysis applications: a pipeline of user-configured operations executes in a
separate OS process from the GUI, while the GUI edits what appears to be a
single, consistent, live model.

Wire Protocol (pkg/wire):
  - Message kinds and payloads exchanged between the two halves
  - gob-based value registration for polymorphic operations and views

Message Channel (pkg/channel):
  - Ordered, bidirectional message pipe; one send and one receive
    goroutine per side

Execution (pkg/scheduling/execqueue):
  - Unique (deduplicating) priority queue plus the single-worker scheduler
    that runs estimate/apply/plot tasks in causal order

Workflow (pkg/workflow):
  - Local: the GUI-facing mirror; forwards edits, receives status
  - Remote: the authoritative engine; reacts to edits by scheduling work

Canvas (pkg/canvas):
  - Raster frames travel remote -> local; input and resize events travel
    local -> remote, so plots rendered remotely behave as if local

Process (pkg/process):
  - Spawning and joining the worker process with the two pipe pairs
    pre-wired

Example usage:

	import (
		"github.com/dualflow/dualflow/pkg/process"
		"github.com/dualflow/dualflow/pkg/workflow"
	)

	child, _ := process.Spawn(ctx, workerBin, nil)
	local := workflow.NewLocal(child.Workflow, workflow.LocalConfig{})

	item, _ := local.AddOperation(op)
	_ = local.SetOperationField(0, "threshold", 0.5) // schedules a remote apply
*/
package dualflow
