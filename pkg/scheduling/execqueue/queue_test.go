package execqueue

import (
	"math"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/dualflow/dualflow/internal/testutil"
)

func TestQueuePopsLowestKeyFirst(t *testing.T) {
	q := NewQueue()
	q.Push(Task{Key: 2.1, Kind: TaskPlot, DedupID: "b"})
	q.Push(Task{Key: 0.9, Kind: TaskEstimate, DedupID: "a"})
	q.Push(Task{Key: 2.0, Kind: TaskApply, DedupID: "b"})
	q.Push(Task{Key: 1.0, Kind: TaskApply, DedupID: "a"})

	want := []float64{0.9, 1.0, 2.0, 2.1}
	for _, key := range want {
		task, ok := q.Pop()
		testutil.AssertEqual(t, ok, true)
		testutil.AssertEqual(t, task.Key, key)
	}
}

func TestQueueEqualKeysRunInPushOrder(t *testing.T) {
	q := NewQueue()
	var got []int
	for i := 0; i < 10; i++ {
		i := i
		q.Push(Task{Key: 5, Kind: TaskCommand, Run: func() { got = append(got, i) }})
	}
	for i := 0; i < 10; i++ {
		task, ok := q.Pop()
		testutil.AssertEqual(t, ok, true)
		task.Run()
	}
	for i, v := range got {
		testutil.AssertEqual(t, v, i)
	}
}

func TestQueueDeduplicates(t *testing.T) {
	q := NewQueue()
	testutil.AssertEqual(t, q.Push(Task{Key: 1, Kind: TaskApply, DedupID: "item"}), true)
	testutil.AssertEqual(t, q.Push(Task{Key: 1, Kind: TaskApply, DedupID: "item"}), false)
	testutil.AssertEqual(t, q.Len(), 1)

	// A different kind for the same item is distinct work.
	testutil.AssertEqual(t, q.Push(Task{Key: 1.1, Kind: TaskPlot, DedupID: "item"}), true)
	testutil.AssertEqual(t, q.Len(), 2)
}

func TestQueueDedupClearsAfterPop(t *testing.T) {
	q := NewQueue()
	q.Push(Task{Key: 1, Kind: TaskApply, DedupID: "item"})
	_, ok := q.Pop()
	testutil.AssertEqual(t, ok, true)

	// The earlier task is no longer pending, so this is fresh work.
	testutil.AssertEqual(t, q.Push(Task{Key: 1, Kind: TaskApply, DedupID: "item"}), true)
}

func TestQueueEmptyDedupIDNeverCollapses(t *testing.T) {
	q := NewQueue()
	testutil.AssertEqual(t, q.Push(Task{Key: 1e15, Kind: TaskCommand}), true)
	testutil.AssertEqual(t, q.Push(Task{Key: 1e15, Kind: TaskCommand}), true)
	testutil.AssertEqual(t, q.Len(), 2)
}

func TestQueuePopBlocksUntilPush(t *testing.T) {
	q := NewQueue()
	popped := make(chan Task, 1)
	go func() {
		task, _ := q.Pop()
		popped <- task
	}()

	select {
	case <-popped:
		t.Fatal("Pop returned from an empty queue")
	case <-time.After(20 * time.Millisecond):
	}

	q.Push(Task{Key: 3, Kind: TaskApply, DedupID: "x"})
	select {
	case task := <-popped:
		testutil.AssertEqual(t, task.DedupID, "x")
	case <-time.After(testutil.TestTimeout):
		t.Fatal("Pop never returned after Push")
	}
}

func TestQueueCloseDrainsThenStops(t *testing.T) {
	q := NewQueue()
	q.Push(Task{Key: 1, Kind: TaskApply, DedupID: "a"})
	q.Push(Task{Key: 2, Kind: TaskApply, DedupID: "b"})
	q.Close()

	_, ok := q.Pop()
	testutil.AssertEqual(t, ok, true)
	_, ok = q.Pop()
	testutil.AssertEqual(t, ok, true)
	_, ok = q.Pop()
	testutil.AssertEqual(t, ok, false)

	testutil.AssertEqual(t, q.Push(Task{Key: 3, Kind: TaskApply, DedupID: "c"}), false)
}

func TestQueueRandomizedOrdering(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	q := NewQueue()

	var keys []float64
	for i := 0; i < 200; i++ {
		key := math.Round(rng.Float64()*1000) / 10
		if q.Push(Task{Key: key, Kind: TaskApply, DedupID: ""}) {
			keys = append(keys, key)
		}
	}
	sort.Float64s(keys)

	for _, want := range keys {
		task, ok := q.Pop()
		testutil.AssertEqual(t, ok, true)
		testutil.AssertEqual(t, task.Key, want)
	}
}
