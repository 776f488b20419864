/*
Package workflow implements the mirrored two-process analysis pipeline.

The pipeline is an ordered chain of items, each wrapping one operation and
its views. Two copies of the chain exist: a Local copy in the GUI process,
which owns every user-settable field and never computes, and a Remote copy
in the worker process, which owns the results and runs every estimate,
apply, and plot on a single scheduler goroutine. The copies converse over an
ordered message pipe; user edits flow local to remote, computed status
fields flow remote to local, and neither side ever sets a field the other
owns. Violations of that ownership rule panic rather than letting the
copies drift apart.

Operations and views declare a role for each of their fields (apply,
estimate, status, transient), and the engine dispatches on those roles:
apply-role edits invalidate the item and schedule recomputation,
estimate-role edits clear cached model fits, and status-role fields travel
remote to local only. Recomputation cascades down the chain, since each
operation consumes its predecessor's result.

	local := workflow.NewLocal(pipe, workflow.LocalConfig{Logger: log})
	item, _ := local.AddOperation(op)
	_ = local.SetOperationField(0, "threshold", 100.0)
	// ... the remote engine applies, and item's status fields update.

The worker side runs the mirror image:

	remote := workflow.NewRemote(pipe, workflow.RemoteConfig{Renderer: canvas})
	_ = remote.Run() // blocks until shutdown
*/
package workflow
