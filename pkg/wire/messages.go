package wire

import "fmt"

// Kind identifies a workflow channel message.
type Kind uint8

// Workflow channel message kinds. Direction is noted as L->R (local mirror
// to remote engine), R->L, or both.
const (
	KindInvalid Kind = iota

	// KindNewWorkflow replaces the entire remote pipeline. L->R.
	KindNewWorkflow

	// KindAddItems inserts one item at an index. L->R.
	KindAddItems

	// KindRemoveItems removes the item at an index. L->R.
	KindRemoveItems

	// KindSelect changes the selected item. L->R.
	KindSelect

	// KindUpdateOp carries an operation field update. L->R for
	// user-settable fields, R->L for status fields.
	KindUpdateOp

	// KindUpdateView carries a view field update. Same asymmetry as
	// KindUpdateOp.
	KindUpdateView

	// KindUpdateItem carries a status field update on the item itself.
	// R->L only.
	KindUpdateItem

	// KindChangeCurrentView switches an item's active view. Both directions.
	KindChangeCurrentView

	// KindChangeCurrentPlot switches the named subplot the active view
	// renders. Both directions.
	KindChangeCurrentPlot

	// KindEstimate asks the remote engine to schedule an estimate task. L->R.
	KindEstimate

	// KindRunAll schedules estimate+apply for every item, in order. L->R.
	KindRunAll

	// KindApplyCalled reports the cumulative apply() call count. R->L.
	KindApplyCalled

	// KindPlotCalled reports the cumulative plot() call count. R->L.
	KindPlotCalled

	// KindEval requests (L->R) or answers (R->L) a debug expression
	// evaluation in the remote process.
	KindEval

	// KindExec requests (L->R) or acknowledges (R->L) a debug statement
	// execution in the remote process.
	KindExec

	// KindShutdown begins coordinated teardown. Both directions.
	KindShutdown
)

var kindNames = map[Kind]string{
	KindNewWorkflow:       "NEW_WORKFLOW",
	KindAddItems:          "ADD_ITEMS",
	KindRemoveItems:       "REMOVE_ITEMS",
	KindSelect:            "SELECT",
	KindUpdateOp:          "UPDATE_OP",
	KindUpdateView:        "UPDATE_VIEW",
	KindUpdateItem:        "UPDATE_WI",
	KindChangeCurrentView: "CHANGE_CURRENT_VIEW",
	KindChangeCurrentPlot: "CHANGE_CURRENT_PLOT",
	KindEstimate:          "ESTIMATE",
	KindRunAll:            "RUN_ALL",
	KindApplyCalled:       "APPLY_CALLED",
	KindPlotCalled:        "PLOT_CALLED",
	KindEval:              "EVAL",
	KindExec:              "EXEC",
	KindShutdown:          "SHUTDOWN",
}

// String returns the protocol name of the kind.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("KIND(%d)", uint8(k))
}

// Message is one immutable tagged payload on the workflow channel. Messages
// are totally ordered within a channel but carry no ordering guarantee
// relative to the canvas channel.
type Message struct {
	Kind    Kind
	Payload any
}

// ItemSnapshot is the serialized form of a workflow item as it crosses the
// process boundary. Operation and Views hold concrete types registered via
// RegisterOperation / RegisterView; status fields travel separately as
// KindUpdateItem messages after the remote engine computes them.
type ItemSnapshot struct {
	ID            string
	Operation     any
	Views         []any
	CurrentViewID string
	CurrentPlot   string
	Channels      []string
	Conditions    []string
	Statistics    []string
}

// NewWorkflow replaces the whole remote pipeline.
type NewWorkflow struct {
	Items []ItemSnapshot
}

// AddItems inserts one item at Index.
type AddItems struct {
	Index int
	Item  ItemSnapshot
}

// RemoveItems removes the item at Index.
type RemoveItems struct {
	Index int
}

// Select changes the selection. Index is -1 when nothing is selected.
type Select struct {
	Index int
}

// UpdateField updates a single named field. Used for KindUpdateOp and
// KindUpdateItem payloads.
type UpdateField struct {
	Index int
	Field string
	Value any
}

// UpdateView updates a single named field on a view identified by ViewID.
type UpdateView struct {
	Index  int
	ViewID string
	Field  string
	Value  any
}

// ChangeCurrentView switches the active view of the item at Index, creating
// the view instance remotely if it is not already present.
type ChangeCurrentView struct {
	Index int
	View  any
}

// ChangeCurrentPlot switches the named subplot of the item's active view.
type ChangeCurrentPlot struct {
	Index int
	Plot  string
}

// Estimate schedules an estimate task for the item at Index.
type Estimate struct {
	Index int
}

// CallCount reports a cumulative remote call counter.
type CallCount struct {
	Count int64
}

// Eval is a debug-only synchronous expression evaluation. The local side
// fills ID and Expr; the remote side echoes ID and fills Result or Err.
type Eval struct {
	ID     string
	Expr   string
	Result string
	Err    string
}

// Exec is a debug-only synchronous statement execution. The local side fills
// ID and Stmt; the remote side echoes ID and fills Err.
type Exec struct {
	ID   string
	Stmt string
	Err  string
}
