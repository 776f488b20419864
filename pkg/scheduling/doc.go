/*
Package scheduling groups the execution primitives of the remote engine.

  - execqueue: unique priority queue and the single-worker scheduler loop
    that orders estimates, applies, and plots across the pipeline

The remote engine computes on exactly one goroutine. The queue's priority
keys give it pipeline order, and its deduplication gives it cancellation:
an edit arriving while the matching recomputation is still pending simply
never enqueues a second one.
*/
package scheduling
