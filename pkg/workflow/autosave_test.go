package workflow_test

import (
	"sync"
	"testing"
	"time"

	"github.com/dualflow/dualflow/internal/testutil"
	"github.com/dualflow/dualflow/pkg/workflow"
)

func TestAutosaveRequiresSaveFunc(t *testing.T) {
	_, err := workflow.NewAutosave(nil, workflow.AutosaveConfig{})
	testutil.AssertError(t, err)
}

func TestAutosavePersistsModifiedPipeline(t *testing.T) {
	local := startPipeline(t)

	a, err := local.AddOperation(&sumOp{Label: "a", Addend: 1})
	testutil.AssertNoError(t, err)
	waitValid(t, a)
	testutil.AssertEqual(t, local.Modified(), true)

	var mu sync.Mutex
	saves := 0
	as, err := workflow.NewAutosave(local, workflow.AutosaveConfig{
		Interval: time.Second,
		Save: func(items []*workflow.Item) error {
			mu.Lock()
			saves++
			mu.Unlock()
			return nil
		},
	})
	testutil.AssertNoError(t, err)
	testutil.AssertNoError(t, as.Start())
	defer as.Stop()

	testutil.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return saves >= 1 && !local.Modified()
	}, "autosave ran and cleared the modified flag")

	// A clean pipeline does not get re-saved.
	mu.Lock()
	before := saves
	mu.Unlock()
	time.Sleep(1500 * time.Millisecond)
	mu.Lock()
	after := saves
	mu.Unlock()
	testutil.AssertEqual(t, after, before)
}
