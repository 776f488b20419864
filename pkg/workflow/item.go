package workflow

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/dualflow/dualflow/pkg/wire"
)

// Status field names on the item itself, forwarded remote -> local as
// KindUpdateItem messages. These are the only item fields a message may set.
const (
	FieldStatus          = "status"
	FieldChannels        = "channels"
	FieldConditions      = "conditions"
	FieldStatistics      = "statistics"
	FieldPlotNames       = "plot_names"
	FieldPlotNamesBy     = "plot_names_by"
	FieldOpError         = "op_error"
	FieldOpWarning       = "op_warning"
	FieldEstimateError   = "estimate_error"
	FieldEstimateWarning = "estimate_warning"
	FieldViewError       = "view_error"
	FieldViewWarning     = "view_warning"
)

func init() {
	wire.RegisterValue(StatusInvalid)
}

// Item is one stage of the analysis pipeline: an operation, its computed
// result, and the views of that result. Items exist in mirrored pairs; the
// local copy never computes, the remote copy owns the real work.
//
// The item's mutex guards the operation's parameters, the result, the views,
// and all status fields. The scheduler holds it for the duration of any task
// targeting the item. The chain links (prev/next) are guarded by the owning
// workflow's mutex instead, so relinking never contends with a running task.
type Item struct {
	mu sync.Mutex

	id        string
	operation Operation

	views       []View
	currentView View
	currentPlot string

	result Result
	status Status

	// Arena indices into the owning workflow's item slice; -1 means none.
	prev, next int

	removed atomic.Bool

	// Metadata mirrored from result. Derived, never authoritative.
	channels    []string
	conditions  []string
	statistics  []string
	plotNames   []string
	plotNamesBy string

	opError         string
	opWarning       string
	estimateError   string
	estimateWarning string
	viewError       string
	viewWarning     string

	// notify forwards a status field change to the peer process. Set on
	// remote items only; called with the item's mutex held.
	notify func(field string, value any)
}

// NewItem creates an item wrapping op. If the operation provides a default
// view, it becomes the item's current view.
func NewItem(op Operation) *Item {
	it := &Item{
		id:        uuid.NewString(),
		operation: op,
		status:    StatusInvalid,
		prev:      -1,
		next:      -1,
	}
	if dv, ok := op.(DefaultViewer); ok {
		if v := dv.DefaultView(); v != nil {
			it.views = append(it.views, v)
			it.currentView = v
		}
	}
	return it
}

// ID returns the item's stable identity. It survives the process boundary
// and index shifts from inserts and removals.
func (it *Item) ID() string { return it.id }

// Lock acquires the item's mutex.
func (it *Item) Lock() { it.mu.Lock() }

// Unlock releases the item's mutex.
func (it *Item) Unlock() { it.mu.Unlock() }

// Operation returns the wrapped operation.
func (it *Item) Operation() Operation {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.operation
}

// Result returns the last computed result, or nil.
func (it *Item) Result() Result {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.result
}

// Status returns the item's lifecycle state.
func (it *Item) Status() Status {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.status
}

// Views returns the item's views.
func (it *Item) Views() []View {
	it.mu.Lock()
	defer it.mu.Unlock()
	out := make([]View, len(it.views))
	copy(out, it.views)
	return out
}

// CurrentView returns the designated view, or nil.
func (it *Item) CurrentView() View {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.currentView
}

// CurrentPlot returns the selected subplot name.
func (it *Item) CurrentPlot() string {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.currentPlot
}

// Channels returns the cached channel names from the result.
func (it *Item) Channels() []string {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.channels
}

// Conditions returns the cached condition names from the result.
func (it *Item) Conditions() []string {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.conditions
}

// Statistics returns the cached summary-statistic keys from the result.
func (it *Item) Statistics() []string {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.statistics
}

// PlotNames returns the available subplot names of the current view.
func (it *Item) PlotNames() []string {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.plotNames
}

// PlotNamesBy returns the label of the facet the plot names enumerate.
func (it *Item) PlotNamesBy() string {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.plotNamesBy
}

// OpError returns the error from the last apply, or "".
func (it *Item) OpError() string {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.opError
}

// EstimateError returns the error from the last estimate, or "".
func (it *Item) EstimateError() string {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.estimateError
}

// ViewError returns the error from the last plot, or "".
func (it *Item) ViewError() string {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.viewError
}

// ViewWarning returns the warning from the last plot, or "".
func (it *Item) ViewWarning() string {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.viewWarning
}

// viewByIDLocked finds a view by its identity. Caller holds the item mutex.
func (it *Item) viewByIDLocked(id string) View {
	for _, v := range it.views {
		if v.ID() == id {
			return v
		}
	}
	return nil
}

// Status field setters. Callers hold the item mutex; on remote items the
// change is forwarded to the mirror via notify.

func (it *Item) setStatusLocked(s Status) {
	if it.status == s {
		return
	}
	it.status = s
	it.notifyLocked(FieldStatus, s)
}

func (it *Item) setChannelsLocked(v []string) {
	it.channels = v
	it.notifyLocked(FieldChannels, v)
}

func (it *Item) setConditionsLocked(v []string) {
	it.conditions = v
	it.notifyLocked(FieldConditions, v)
}

func (it *Item) setStatisticsLocked(v []string) {
	it.statistics = v
	it.notifyLocked(FieldStatistics, v)
}

func (it *Item) setPlotNamesLocked(names []string, by string) {
	it.plotNames = names
	it.plotNamesBy = by
	it.notifyLocked(FieldPlotNames, names)
	it.notifyLocked(FieldPlotNamesBy, by)
}

func (it *Item) setOpErrorLocked(msg string) {
	if it.opError == msg {
		return
	}
	it.opError = msg
	it.notifyLocked(FieldOpError, msg)
}

func (it *Item) setOpWarningLocked(msg string) {
	if it.opWarning == msg {
		return
	}
	it.opWarning = msg
	it.notifyLocked(FieldOpWarning, msg)
}

func (it *Item) setEstimateErrorLocked(msg string) {
	if it.estimateError == msg {
		return
	}
	it.estimateError = msg
	it.notifyLocked(FieldEstimateError, msg)
}

func (it *Item) setViewErrorLocked(msg string) {
	if it.viewError == msg {
		return
	}
	it.viewError = msg
	it.notifyLocked(FieldViewError, msg)
}

func (it *Item) setViewWarningLocked(msg string) {
	if it.viewWarning == msg {
		return
	}
	it.viewWarning = msg
	it.notifyLocked(FieldViewWarning, msg)
}

func (it *Item) notifyLocked(field string, value any) {
	if it.notify != nil {
		it.notify(field, value)
	}
}

// applyStatusFieldLocked applies an inbound status update from the remote
// engine. Applying a message to a field not in the status set is a protocol
// violation and panics: it would mean the remote process is pushing
// authoritative-looking data into a field the user controls.
func (it *Item) applyStatusFieldLocked(field string, value any) {
	switch field {
	case FieldStatus:
		it.status = value.(Status)
	case FieldChannels:
		it.channels = value.([]string)
	case FieldConditions:
		it.conditions = value.([]string)
	case FieldStatistics:
		it.statistics = value.([]string)
	case FieldPlotNames:
		it.plotNames = value.([]string)
	case FieldPlotNamesBy:
		it.plotNamesBy = value.(string)
	case FieldOpError:
		it.opError = value.(string)
	case FieldOpWarning:
		it.opWarning = value.(string)
	case FieldEstimateError:
		it.estimateError = value.(string)
	case FieldEstimateWarning:
		it.estimateWarning = value.(string)
	case FieldViewError:
		it.viewError = value.(string)
	case FieldViewWarning:
		it.viewWarning = value.(string)
	default:
		panic(fmt.Sprintf("workflow: protocol violation: %q is not an item status field", field))
	}
}

// snapshotLocked captures the item's user-settable state for transmission.
// Caller holds the item mutex.
func (it *Item) snapshotLocked() wire.ItemSnapshot {
	views := make([]any, len(it.views))
	for i, v := range it.views {
		views[i] = v
	}
	currentViewID := ""
	if it.currentView != nil {
		currentViewID = it.currentView.ID()
	}
	return wire.ItemSnapshot{
		ID:            it.id,
		Operation:     it.operation,
		Views:         views,
		CurrentViewID: currentViewID,
		CurrentPlot:   it.currentPlot,
		Channels:      it.channels,
		Conditions:    it.conditions,
		Statistics:    it.statistics,
	}
}

// Snapshot captures the item's user-settable state for transmission or
// persistence.
func (it *Item) Snapshot() wire.ItemSnapshot {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.snapshotLocked()
}

// itemFromSnapshot reconstructs an item on the receiving side of the
// boundary. The item starts in StatusLoading; the caller switches it to
// StatusInvalid once the chain links are repaired.
func itemFromSnapshot(s wire.ItemSnapshot) (*Item, error) {
	op, ok := s.Operation.(Operation)
	if !ok {
		return nil, fmt.Errorf("workflow: snapshot operation is %T, not a workflow.Operation", s.Operation)
	}
	it := &Item{
		id:          s.ID,
		operation:   op,
		status:      StatusLoading,
		prev:        -1,
		next:        -1,
		currentPlot: s.CurrentPlot,
		channels:    s.Channels,
		conditions:  s.Conditions,
		statistics:  s.Statistics,
	}
	for _, raw := range s.Views {
		v, ok := raw.(View)
		if !ok {
			return nil, fmt.Errorf("workflow: snapshot view is %T, not a workflow.View", raw)
		}
		it.views = append(it.views, v)
	}
	if s.CurrentViewID != "" {
		it.currentView = it.viewByIDLocked(s.CurrentViewID)
	}
	return it, nil
}
