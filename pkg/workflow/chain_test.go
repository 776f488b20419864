package workflow

import (
	"testing"

	"github.com/dualflow/dualflow/internal/testutil"
	"github.com/dualflow/dualflow/pkg/wire"
)

type stubOp struct {
	N float64
}

func (o *stubOp) Name() string { return "stub" }

func (o *stubOp) Fields() FieldMap { return FieldMap{"n": RoleApply} }

func (o *stubOp) Get(string) any { return o.N }

func (o *stubOp) Set(_ string, v any) error { o.N = v.(float64); return nil }

func (o *stubOp) ShouldApply(Change) bool { return true }

func (o *stubOp) Apply(Result) (Result, error) { return nil, nil }

func chain(n int) []*Item {
	items := make([]*Item, n)
	for i := range items {
		items[i] = NewItem(&stubOp{})
	}
	relinkLocked(items)
	return items
}

func TestRelinkProducesSingleChain(t *testing.T) {
	items := chain(4)

	testutil.AssertEqual(t, items[0].prev, -1)
	testutil.AssertEqual(t, items[len(items)-1].next, -1)
	for i, it := range items {
		if i > 0 {
			testutil.AssertEqual(t, it.prev, i-1)
		}
		if i < len(items)-1 {
			testutil.AssertEqual(t, it.next, i+1)
		}
	}
}

func TestRelinkAfterRemoval(t *testing.T) {
	items := chain(3)
	items = append(items[:1], items[2:]...)
	relinkLocked(items)

	testutil.AssertEqual(t, len(items), 2)
	testutil.AssertEqual(t, items[0].prev, -1)
	testutil.AssertEqual(t, items[0].next, 1)
	testutil.AssertEqual(t, items[1].prev, 0)
	testutil.AssertEqual(t, items[1].next, -1)
}

func TestSnapshotRoundTrip(t *testing.T) {
	it := NewItem(&stubOp{N: 7})
	it.currentPlot = "left"
	it.channels = []string{"FSC-A"}

	snap := it.Snapshot()
	got, err := itemFromSnapshot(snap)
	testutil.AssertNoError(t, err)

	testutil.AssertEqual(t, got.id, it.id)
	testutil.AssertEqual(t, got.status, StatusLoading)
	testutil.AssertEqual(t, got.currentPlot, "left")
	testutil.AssertEqual(t, got.operation.(*stubOp).N, 7.0)
}

func TestSnapshotRejectsNonOperation(t *testing.T) {
	_, err := itemFromSnapshot(wire.ItemSnapshot{ID: "x", Operation: "not an operation"})
	testutil.AssertError(t, err)
}

func TestApplyStatusFieldPanicsOnUserField(t *testing.T) {
	it := NewItem(&stubOp{})
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on non-status field")
		}
	}()
	it.applyStatusFieldLocked("n", 3.0)
}

func TestStatusSetterForwardsOnce(t *testing.T) {
	it := NewItem(&stubOp{})
	var got []Status
	it.notify = func(field string, value any) {
		if field == FieldStatus {
			got = append(got, value.(Status))
		}
	}

	it.mu.Lock()
	it.setStatusLocked(StatusApplying)
	it.setStatusLocked(StatusApplying) // no-op, already there
	it.setStatusLocked(StatusValid)
	it.mu.Unlock()

	testutil.AssertEqual(t, len(got), 2)
	testutil.AssertEqual(t, got[0], StatusApplying)
	testutil.AssertEqual(t, got[1], StatusValid)
}
