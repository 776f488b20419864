/*
Package execqueue provides the unique priority queue and single-worker
scheduler that order the remote engine's work.

Priority keys combine an item's pipeline index with a fractional offset
(estimate: index-0.1, apply: index, plot: index+0.1) so that, per item,
estimate precedes apply precedes plot, while earlier pipeline stages always
run before later ones. Equal keys run in push order.

Pushing a task whose (DedupID, Kind) pair is already pending is a silent
no-op; this is the engine's only cancellation mechanism. A superseded task is
simply never enqueued twice, and a task that runs after the relevant state
changed again recomputes against live fields because it reads them under the
item's lock, not from a snapshot.

	q := execqueue.NewQueue()
	s := execqueue.New(q, execqueue.Config{Name: "remote"})
	go s.Run()

	s.Schedule(execqueue.Task{Key: 2, Kind: execqueue.TaskApply, DedupID: id, Lock: item, Run: apply})
	s.Schedule(execqueue.Task{Key: math.Inf(1), Kind: execqueue.TaskShutdown}) // drain, then exit
*/
package execqueue
