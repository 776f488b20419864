package execqueue

import (
	"fmt"
	"sync"

	"github.com/emirpasic/gods/trees/binaryheap"
	"github.com/emirpasic/gods/utils"
)

// TaskKind classifies a scheduled task.
type TaskKind uint8

// Task kinds. Estimate, apply, and plot are pipeline work bound to an item;
// Command is process-wide work (debug eval/exec); Shutdown terminates the
// scheduler loop.
const (
	TaskEstimate TaskKind = iota + 1
	TaskApply
	TaskPlot
	TaskCommand
	TaskShutdown
)

var taskKindNames = map[TaskKind]string{
	TaskEstimate: "estimate",
	TaskApply:    "apply",
	TaskPlot:     "plot",
	TaskCommand:  "command",
	TaskShutdown: "shutdown",
}

// String returns the task kind's name.
func (k TaskKind) String() string {
	if s, ok := taskKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("taskkind(%d)", uint8(k))
}

// Task is one unit of scheduled work. Key orders execution: lower keys run
// first, equal keys run in push order. DedupID, combined with Kind, forms
// the deduplication key; an empty DedupID disables deduplication (used for
// command and shutdown tasks, which must never collapse).
type Task struct {
	Key     float64
	Kind    TaskKind
	DedupID string
	Lock    sync.Locker
	Run     func()
}

func (t Task) dedupKey() (string, bool) {
	if t.DedupID == "" {
		return "", false
	}
	return t.DedupID + "/" + t.Kind.String(), true
}

type entry struct {
	task Task
	seq  uint64
}

// compareEntries orders by priority key, breaking ties by push sequence so
// equal-key tasks run FIFO.
func compareEntries(a, b interface{}) int {
	ea, eb := a.(entry), b.(entry)
	switch {
	case ea.task.Key < eb.task.Key:
		return -1
	case ea.task.Key > eb.task.Key:
		return 1
	case ea.seq < eb.seq:
		return -1
	case ea.seq > eb.seq:
		return 1
	default:
		return 0
	}
}

var _ utils.Comparator = compareEntries

// Queue is a blocking priority queue that silently drops a push when a task
// with the same deduplication key is already pending. This keeps a rapidly
// edited parameter from piling up redundant recomputation requests: only the
// most recently needed "recompute item N" has to exist at a time.
type Queue struct {
	mu       sync.Mutex
	nonEmpty *sync.Cond
	heap     *binaryheap.Heap
	pending  map[string]struct{}
	seq      uint64
	closed   bool
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	q := &Queue{
		heap:    binaryheap.NewWith(compareEntries),
		pending: make(map[string]struct{}),
	}
	q.nonEmpty = sync.NewCond(&q.mu)
	return q
}

// Push inserts the task unless an equal-dedup-key task is already pending,
// in which case it is a silent no-op. Returns true if the task was enqueued.
// Pushing to a closed queue returns false.
func (q *Queue) Push(t Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	if key, ok := t.dedupKey(); ok {
		if _, dup := q.pending[key]; dup {
			return false
		}
		q.pending[key] = struct{}{}
	}

	q.seq++
	q.heap.Push(entry{task: t, seq: q.seq})
	q.nonEmpty.Signal()
	return true
}

// Pop blocks until a task is available and returns the lowest-key task,
// removing its deduplication marker. The second return is false once the
// queue has been closed and drained.
func (q *Queue) Pop() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.heap.Empty() && !q.closed {
		q.nonEmpty.Wait()
	}
	v, ok := q.heap.Pop()
	if !ok {
		return Task{}, false
	}
	t := v.(entry).task
	if key, ok := t.dedupKey(); ok {
		delete(q.pending, key)
	}
	return t, true
}

// Len returns the number of pending tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Size()
}

// Close wakes all blocked Pop calls. Pending tasks remain poppable; once
// drained, Pop returns false.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.nonEmpty.Broadcast()
}
