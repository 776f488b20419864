package workflow

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/dualflow/dualflow/pkg/channel"
	"github.com/dualflow/dualflow/pkg/metrics"
	"github.com/dualflow/dualflow/pkg/wire"
)

// LocalConfig holds configuration for the GUI-side workflow mirror.
type LocalConfig struct {
	// Logger for protocol traffic. Defaults to zap.NewNop().
	Logger *zap.Logger

	// Metrics is the registry to record into. May be nil.
	Metrics *metrics.Registry

	// OnItemChanged is invoked, on the channel's receive goroutine, after a
	// remote status update lands on the item at the given index. GUI code
	// uses it to repaint. May be nil.
	OnItemChanged func(index int)

	// QueueSize is the outbound channel queue capacity.
	QueueSize int
}

// Local is the GUI-side half of the mirrored pipeline. It owns the
// user-settable state: structural edits and parameter changes happen here
// first and are forwarded to the remote engine, which computes and streams
// status fields back. Local never computes anything itself.
type Local struct {
	cfg LocalConfig
	ch  *channel.Channel[wire.Message]

	// mu guards items, selected, and the chain links of every item. It is
	// never held while an item's own mutex is held.
	mu       sync.Mutex
	items    []*Item
	selected int

	modified atomic.Bool

	applyCalls atomic.Int64
	plotCalls  atomic.Int64

	pendingMu   sync.Mutex
	pendingEval map[string]chan wire.Eval
	pendingExec map[string]chan wire.Exec
}

// NewLocal creates the local mirror over the workflow pipe and starts its
// channel loops.
func NewLocal(rw io.ReadWriter, cfg LocalConfig) *Local {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	l := &Local{
		cfg:         cfg,
		selected:    -1,
		pendingEval: make(map[string]chan wire.Eval),
		pendingExec: make(map[string]chan wire.Exec),
	}
	l.ch = channel.New(rw, channel.Config[wire.Message]{
		Logger:    cfg.Logger.Named("workflow-local"),
		Name:      "workflow-local",
		Last:      func(m wire.Message) bool { return m.Kind == wire.KindShutdown },
		KindOf:    func(m wire.Message) string { return m.Kind.String() },
		Metrics:   cfg.Metrics,
		QueueSize: cfg.QueueSize,
	})
	l.ch.Start(l.handle)
	return l
}

// Items returns the items in pipeline order.
func (l *Local) Items() []*Item {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Item, len(l.items))
	copy(out, l.items)
	return out
}

// Selected returns the selected item's index, or -1.
func (l *Local) Selected() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.selected
}

// SelectedItem returns the selected item, or nil.
func (l *Local) SelectedItem() *Item {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.selected < 0 {
		return nil
	}
	return l.items[l.selected]
}

// relinkLocked recomputes every item's prev/next index after a structural
// edit. Caller holds l.mu.
func relinkLocked(items []*Item) {
	for i, it := range items {
		it.prev = i - 1
		if i == len(items)-1 {
			it.next = -1
		} else {
			it.next = i + 1
		}
	}
}

// AddOperation wraps op in a new item, inserts it after the current
// selection (or at the end if nothing is selected), selects it, and forwards
// both changes to the remote engine. The new item inherits its predecessor's
// metadata caches so GUI widgets have plausible choices before the first
// apply completes.
func (l *Local) AddOperation(op Operation) (*Item, error) {
	it := NewItem(op)

	l.mu.Lock()
	idx := l.selected + 1
	if l.selected < 0 {
		idx = len(l.items)
	}
	if idx > 0 {
		prev := l.items[idx-1]
		prev.mu.Lock()
		it.channels = prev.channels
		it.conditions = prev.conditions
		it.statistics = prev.statistics
		prev.mu.Unlock()
	}
	l.items = append(l.items[:idx], append([]*Item{it}, l.items[idx:]...)...)
	relinkLocked(l.items)
	l.selected = idx
	snap := it.Snapshot()
	l.mu.Unlock()

	if err := l.ch.Send(wire.Message{Kind: wire.KindAddItems, Payload: wire.AddItems{Index: idx, Item: snap}}); err != nil {
		return nil, err
	}
	if err := l.ch.Send(wire.Message{Kind: wire.KindSelect, Payload: wire.Select{Index: idx}}); err != nil {
		return nil, err
	}
	l.modified.Store(true)
	return it, nil
}

// Remove removes the item at index. If it was selected, the selection moves
// to its predecessor.
func (l *Local) Remove(index int) error {
	l.mu.Lock()
	if index < 0 || index >= len(l.items) {
		l.mu.Unlock()
		return pkgerrors.Errorf("workflow: remove index %d out of range", index)
	}
	it := l.items[index]
	it.removed.Store(true)
	l.items = append(l.items[:index], l.items[index+1:]...)
	relinkLocked(l.items)

	reselect := -2
	if l.selected == index {
		l.selected = index - 1
		reselect = l.selected
	} else if l.selected > index {
		l.selected--
	}
	l.mu.Unlock()

	if err := l.ch.Send(wire.Message{Kind: wire.KindRemoveItems, Payload: wire.RemoveItems{Index: index}}); err != nil {
		return err
	}
	if reselect != -2 {
		if err := l.ch.Send(wire.Message{Kind: wire.KindSelect, Payload: wire.Select{Index: reselect}}); err != nil {
			return err
		}
	}
	l.modified.Store(true)
	return nil
}

// Select changes the selected item. Index -1 clears the selection.
func (l *Local) Select(index int) error {
	l.mu.Lock()
	if index < -1 || index >= len(l.items) {
		l.mu.Unlock()
		return pkgerrors.Errorf("workflow: select index %d out of range", index)
	}
	l.selected = index
	l.mu.Unlock()

	return l.ch.Send(wire.Message{Kind: wire.KindSelect, Payload: wire.Select{Index: index}})
}

// LoadItems replaces the whole pipeline, typically after deserializing a
// saved analysis, and pushes it to the remote engine as one message.
func (l *Local) LoadItems(items []*Item) error {
	snaps := make([]wire.ItemSnapshot, len(items))
	for i, it := range items {
		snaps[i] = it.Snapshot()
	}

	l.mu.Lock()
	for _, old := range l.items {
		old.removed.Store(true)
	}
	l.items = items
	relinkLocked(l.items)
	l.selected = -1
	l.mu.Unlock()

	l.modified.Store(false)
	return l.ch.Send(wire.Message{Kind: wire.KindNewWorkflow, Payload: wire.NewWorkflow{Items: snaps}})
}

// SetOperationField assigns a user-settable operation field on the item at
// index and forwards the change. Setting a status field from the local side
// is a programming error and panics; transient fields change locally only.
func (l *Local) SetOperationField(index int, field string, value any) error {
	it, err := l.itemAt(index)
	if err != nil {
		return err
	}

	it.mu.Lock()
	role := it.operation.Fields().Role(field)
	if role == RoleStatus {
		it.mu.Unlock()
		panic(fmt.Sprintf("workflow: %q is a status field; only the remote engine may set it", field))
	}
	if err := it.operation.Set(field, value); err != nil {
		it.mu.Unlock()
		return pkgerrors.Wrapf(err, "workflow: set %s.%s", it.operation.Name(), field)
	}
	it.mu.Unlock()

	if role == RoleTransient {
		return nil
	}
	l.modified.Store(true)
	return l.ch.Send(wire.Message{
		Kind:    wire.KindUpdateOp,
		Payload: wire.UpdateField{Index: index, Field: field, Value: value},
	})
}

// SetViewField assigns a user-settable view field and forwards the change.
func (l *Local) SetViewField(index int, viewID, field string, value any) error {
	it, err := l.itemAt(index)
	if err != nil {
		return err
	}

	it.mu.Lock()
	v := it.viewByIDLocked(viewID)
	if v == nil {
		it.mu.Unlock()
		return pkgerrors.Errorf("workflow: item %d has no view %q", index, viewID)
	}
	role := v.Fields().Role(field)
	if role == RoleStatus {
		it.mu.Unlock()
		panic(fmt.Sprintf("workflow: %q is a status field; only the remote engine may set it", field))
	}
	if err := v.Set(field, value); err != nil {
		it.mu.Unlock()
		return pkgerrors.Wrapf(err, "workflow: set view %s.%s", v.Name(), field)
	}
	it.mu.Unlock()

	if role == RoleTransient {
		return nil
	}
	l.modified.Store(true)
	return l.ch.Send(wire.Message{
		Kind:    wire.KindUpdateView,
		Payload: wire.UpdateView{Index: index, ViewID: viewID, Field: field, Value: value},
	})
}

// SetCurrentView switches the item's active view, adding it to the item's
// view list if new, and forwards the change. The remote engine replots.
func (l *Local) SetCurrentView(index int, v View) error {
	it, err := l.itemAt(index)
	if err != nil {
		return err
	}

	it.mu.Lock()
	if existing := it.viewByIDLocked(v.ID()); existing != nil {
		v = existing
	} else {
		it.views = append(it.views, v)
	}
	it.currentView = v
	it.mu.Unlock()

	l.modified.Store(true)
	return l.ch.Send(wire.Message{
		Kind:    wire.KindChangeCurrentView,
		Payload: wire.ChangeCurrentView{Index: index, View: v},
	})
}

// SetCurrentPlot switches the named subplot the item's active view renders.
func (l *Local) SetCurrentPlot(index int, plot string) error {
	it, err := l.itemAt(index)
	if err != nil {
		return err
	}

	it.mu.Lock()
	it.currentPlot = plot
	it.mu.Unlock()

	l.modified.Store(true)
	return l.ch.Send(wire.Message{
		Kind:    wire.KindChangeCurrentPlot,
		Payload: wire.ChangeCurrentPlot{Index: index, Plot: plot},
	})
}

// Estimate asks the remote engine to run the item's estimation step.
func (l *Local) Estimate(index int) error {
	if _, err := l.itemAt(index); err != nil {
		return err
	}
	return l.ch.Send(wire.Message{Kind: wire.KindEstimate, Payload: wire.Estimate{Index: index}})
}

// RunAll asks the remote engine to re-estimate and re-apply every item in
// pipeline order.
func (l *Local) RunAll() error {
	return l.ch.Send(wire.Message{Kind: wire.KindRunAll})
}

// RemoteEval synchronously evaluates a debug expression in the remote
// process and returns its rendered result.
func (l *Local) RemoteEval(expr string) (string, error) {
	id := uuid.NewString()
	reply := make(chan wire.Eval, 1)

	l.pendingMu.Lock()
	l.pendingEval[id] = reply
	l.pendingMu.Unlock()

	err := l.ch.Send(wire.Message{Kind: wire.KindEval, Payload: wire.Eval{ID: id, Expr: expr}})
	if err != nil {
		l.pendingMu.Lock()
		delete(l.pendingEval, id)
		l.pendingMu.Unlock()
		return "", err
	}

	var r wire.Eval
	select {
	case r = <-reply:
	case <-l.ch.Done():
		l.pendingMu.Lock()
		delete(l.pendingEval, id)
		l.pendingMu.Unlock()
		// The reply may have been delivered just before the loop exited.
		select {
		case r = <-reply:
		default:
			return "", pkgerrors.Wrap(channel.ErrClosed, "workflow: remote eval")
		}
	}
	if r.Err != "" {
		return "", pkgerrors.Errorf("workflow: remote eval: %s", r.Err)
	}
	return r.Result, nil
}

// RemoteExec synchronously executes a debug statement in the remote process.
func (l *Local) RemoteExec(stmt string) error {
	id := uuid.NewString()
	reply := make(chan wire.Exec, 1)

	l.pendingMu.Lock()
	l.pendingExec[id] = reply
	l.pendingMu.Unlock()

	err := l.ch.Send(wire.Message{Kind: wire.KindExec, Payload: wire.Exec{ID: id, Stmt: stmt}})
	if err != nil {
		l.pendingMu.Lock()
		delete(l.pendingExec, id)
		l.pendingMu.Unlock()
		return err
	}

	var r wire.Exec
	select {
	case r = <-reply:
	case <-l.ch.Done():
		l.pendingMu.Lock()
		delete(l.pendingExec, id)
		l.pendingMu.Unlock()
		select {
		case r = <-reply:
		default:
			return pkgerrors.Wrap(channel.ErrClosed, "workflow: remote exec")
		}
	}
	if r.Err != "" {
		return pkgerrors.Errorf("workflow: remote exec: %s", r.Err)
	}
	return nil
}

// ApplyCalls returns the cumulative number of apply() calls the remote
// engine has reported.
func (l *Local) ApplyCalls() int64 { return l.applyCalls.Load() }

// PlotCalls returns the cumulative number of plot() calls the remote engine
// has reported.
func (l *Local) PlotCalls() int64 { return l.plotCalls.Load() }

// Modified reports whether the pipeline has unsaved user edits.
func (l *Local) Modified() bool { return l.modified.Load() }

// ClearModified marks the pipeline as saved.
func (l *Local) ClearModified() { l.modified.Store(false) }

// Shutdown sends the shutdown message, which drains the remote queue, and
// waits for the remote engine's acknowledgement and both loop exits.
func (l *Local) Shutdown() error {
	if err := l.ch.Send(wire.Message{Kind: wire.KindShutdown}); err != nil {
		return err
	}
	return l.ch.Join()
}

// Join blocks until the channel loops exit.
func (l *Local) Join() error { return l.ch.Join() }

// Close force-stops the channel. Prefer Shutdown.
func (l *Local) Close() error { return l.ch.Close() }

func (l *Local) itemAt(index int) (*Item, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if index < 0 || index >= len(l.items) {
		return nil, pkgerrors.Errorf("workflow: index %d out of range", index)
	}
	return l.items[index], nil
}

// handle dispatches one inbound message from the remote engine. It runs on
// the channel's receive goroutine. A message kind the mirror cannot apply is
// a protocol violation and panics: state divergence between the processes is
// unrecoverable.
func (l *Local) handle(m wire.Message) {
	switch m.Kind {
	case wire.KindUpdateItem:
		p := m.Payload.(wire.UpdateField)
		it, ok := l.mirrorItem(p.Index)
		if !ok {
			return
		}
		it.mu.Lock()
		it.applyStatusFieldLocked(p.Field, p.Value)
		it.mu.Unlock()
		l.itemChanged(p.Index)

	case wire.KindUpdateOp:
		p := m.Payload.(wire.UpdateField)
		it, ok := l.mirrorItem(p.Index)
		if !ok {
			return
		}
		it.mu.Lock()
		if it.operation.Fields().Role(p.Field) != RoleStatus {
			it.mu.Unlock()
			panic(fmt.Sprintf("workflow: protocol violation: remote set non-status operation field %q", p.Field))
		}
		if err := it.operation.Set(p.Field, p.Value); err != nil {
			it.mu.Unlock()
			panic(fmt.Sprintf("workflow: protocol violation: remote value rejected for %q: %v", p.Field, err))
		}
		it.mu.Unlock()
		l.itemChanged(p.Index)

	case wire.KindUpdateView:
		p := m.Payload.(wire.UpdateView)
		it, ok := l.mirrorItem(p.Index)
		if !ok {
			return
		}
		it.mu.Lock()
		v := it.viewByIDLocked(p.ViewID)
		if v == nil {
			it.mu.Unlock()
			l.cfg.Logger.Warn("status update for unknown view",
				zap.Int("index", p.Index),
				zap.String("view", p.ViewID))
			return
		}
		if v.Fields().Role(p.Field) != RoleStatus {
			it.mu.Unlock()
			panic(fmt.Sprintf("workflow: protocol violation: remote set non-status view field %q", p.Field))
		}
		if err := v.Set(p.Field, p.Value); err != nil {
			it.mu.Unlock()
			panic(fmt.Sprintf("workflow: protocol violation: remote value rejected for view field %q: %v", p.Field, err))
		}
		it.mu.Unlock()
		l.itemChanged(p.Index)

	case wire.KindChangeCurrentPlot:
		p := m.Payload.(wire.ChangeCurrentPlot)
		it, ok := l.mirrorItem(p.Index)
		if !ok {
			return
		}
		it.mu.Lock()
		it.currentPlot = p.Plot
		it.mu.Unlock()
		l.itemChanged(p.Index)

	case wire.KindApplyCalled:
		l.applyCalls.Store(m.Payload.(wire.CallCount).Count)

	case wire.KindPlotCalled:
		l.plotCalls.Store(m.Payload.(wire.CallCount).Count)

	case wire.KindEval:
		p := m.Payload.(wire.Eval)
		l.pendingMu.Lock()
		reply, ok := l.pendingEval[p.ID]
		delete(l.pendingEval, p.ID)
		l.pendingMu.Unlock()
		if ok {
			reply <- p
		}

	case wire.KindExec:
		p := m.Payload.(wire.Exec)
		l.pendingMu.Lock()
		reply, ok := l.pendingExec[p.ID]
		delete(l.pendingExec, p.ID)
		l.pendingMu.Unlock()
		if ok {
			reply <- p
		}

	case wire.KindShutdown:
		l.cfg.Logger.Debug("remote engine acknowledged shutdown")

	default:
		panic(fmt.Sprintf("workflow: protocol violation: local mirror received %s", m.Kind))
	}
}

// mirrorItem resolves an index from a remote status message. A stale index
// (the item was removed while the update was in flight) is dropped.
func (l *Local) mirrorItem(index int) (*Item, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if index < 0 || index >= len(l.items) {
		l.cfg.Logger.Warn("status update for out-of-range item", zap.Int("index", index))
		return nil, false
	}
	return l.items[index], true
}

func (l *Local) itemChanged(index int) {
	if l.cfg.OnItemChanged != nil {
		l.cfg.OnItemChanged(index)
	}
}
