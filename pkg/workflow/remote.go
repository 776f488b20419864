package workflow

import (
	"fmt"
	"io"
	"math"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/dualflow/dualflow/pkg/channel"
	"github.com/dualflow/dualflow/pkg/metrics"
	"github.com/dualflow/dualflow/pkg/scheduling/execqueue"
	"github.com/dualflow/dualflow/pkg/wire"
)

// Command task keys. Large enough that debug commands run only once every
// pending pipeline task has finished; shutdown sorts after everything.
const (
	keyExec = 1e15
	keyEval = 1e15 + 1
)

// Evaluator executes debug expressions and statements inside the remote
// process. May be nil, in which case eval and exec requests fail.
type Evaluator interface {
	Eval(expr string) (string, error)
	Exec(stmt string) error
}

// RemoteConfig holds configuration for the computing half of the pipeline.
type RemoteConfig struct {
	// Logger for protocol traffic and task failures. Defaults to
	// zap.NewNop().
	Logger *zap.Logger

	// Metrics is the registry to record into. May be nil.
	Metrics *metrics.Registry

	// Renderer is handed to every plot call. Defaults to NopRenderer.
	Renderer Renderer

	// Evaluator backs the debug eval/exec messages. May be nil.
	Evaluator Evaluator

	// QueueSize is the outbound channel queue capacity.
	QueueSize int
}

// Remote is the authoritative, computing half of the mirrored pipeline. It
// holds the real operation results, runs every estimate, apply, and plot on
// a single scheduler goroutine, and streams status fields back to the local
// mirror.
//
// Lock ordering: code holding r.mu never acquires an item's mutex; code
// holding an item's mutex may take r.mu (that is how status notifications
// find the item's index). Only the scheduler goroutine ever holds two item
// mutexes at once, and message handlers never block while holding one, so
// the scheduler may freely lock an item's neighbors around its own.
type Remote struct {
	cfg   RemoteConfig
	ch    *channel.Channel[wire.Message]
	queue *execqueue.Queue
	sched *execqueue.Scheduler

	// mu guards items, selected, and the chain links of every item.
	mu       sync.Mutex
	items    []*Item
	selected int

	applyCalls atomic.Int64
	plotCalls  atomic.Int64
}

// NewRemote creates the remote engine over the workflow pipe. Call Run to
// start it.
func NewRemote(rw io.ReadWriter, cfg RemoteConfig) *Remote {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Renderer == nil {
		cfg.Renderer = NopRenderer{}
	}
	r := &Remote{
		cfg:      cfg,
		selected: -1,
		queue:    execqueue.NewQueue(),
	}
	r.sched = execqueue.New(r.queue, execqueue.Config{
		Name:    "remote",
		Logger:  cfg.Logger.Named("scheduler"),
		Metrics: cfg.Metrics,
	})
	r.ch = channel.New(rw, channel.Config[wire.Message]{
		Logger:    cfg.Logger.Named("workflow-remote"),
		Name:      "workflow-remote",
		Last:      func(m wire.Message) bool { return m.Kind == wire.KindShutdown },
		KindOf:    func(m wire.Message) string { return m.Kind.String() },
		Metrics:   cfg.Metrics,
		QueueSize: cfg.QueueSize,
	})
	return r
}

// Run starts the channel loops and runs the scheduler until the local side
// sends shutdown. The shutdown message enqueues at infinite priority, so
// every already-scheduled task finishes first; the acknowledgement is the
// last message on the pipe.
func (r *Remote) Run() error {
	r.ch.Start(r.handle)
	r.sched.Run()

	if err := r.ch.Send(wire.Message{Kind: wire.KindShutdown}); err != nil {
		return err
	}
	return r.ch.Join()
}

// Items returns the items in pipeline order.
func (r *Remote) Items() []*Item {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Item, len(r.items))
	copy(out, r.items)
	return out
}

// handle dispatches one inbound message. It runs on the channel's receive
// goroutine and must never block on computation: anything slow becomes a
// scheduler task. An inapplicable message kind panics; the two processes
// cannot continue once their state diverges.
func (r *Remote) handle(m wire.Message) {
	switch m.Kind {
	case wire.KindNewWorkflow:
		r.handleNewWorkflow(m.Payload.(wire.NewWorkflow))

	case wire.KindAddItems:
		r.handleAddItems(m.Payload.(wire.AddItems))

	case wire.KindRemoveItems:
		r.handleRemoveItems(m.Payload.(wire.RemoveItems))

	case wire.KindSelect:
		r.handleSelect(m.Payload.(wire.Select))

	case wire.KindUpdateOp:
		r.handleUpdateOp(m.Payload.(wire.UpdateField))

	case wire.KindUpdateView:
		r.handleUpdateView(m.Payload.(wire.UpdateView))

	case wire.KindChangeCurrentView:
		r.handleChangeCurrentView(m.Payload.(wire.ChangeCurrentView))

	case wire.KindChangeCurrentPlot:
		r.handleChangeCurrentPlot(m.Payload.(wire.ChangeCurrentPlot))

	case wire.KindEstimate:
		p := m.Payload.(wire.Estimate)
		if it, idx, ok := r.itemAt(p.Index); ok {
			r.scheduleEstimate(it, idx)
		}

	case wire.KindRunAll:
		r.handleRunAll()

	case wire.KindEval:
		p := m.Payload.(wire.Eval)
		r.sched.Schedule(execqueue.Task{
			Key:  keyEval,
			Kind: execqueue.TaskCommand,
			Run:  func() { r.runEval(p) },
		})

	case wire.KindExec:
		p := m.Payload.(wire.Exec)
		r.sched.Schedule(execqueue.Task{
			Key:  keyExec,
			Kind: execqueue.TaskCommand,
			Run:  func() { r.runExec(p) },
		})

	case wire.KindShutdown:
		r.sched.Schedule(execqueue.Task{
			Key:  math.Inf(1),
			Kind: execqueue.TaskShutdown,
		})

	default:
		panic(fmt.Sprintf("workflow: protocol violation: remote engine received %s", m.Kind))
	}
}

func (r *Remote) handleNewWorkflow(p wire.NewWorkflow) {
	items := make([]*Item, 0, len(p.Items))
	for _, snap := range p.Items {
		it, err := itemFromSnapshot(snap)
		if err != nil {
			panic(fmt.Sprintf("workflow: protocol violation: %v", err))
		}
		it.notify = r.notifyFunc(it)
		items = append(items, it)
	}

	r.mu.Lock()
	for _, old := range r.items {
		old.removed.Store(true)
	}
	r.items = items
	relinkLocked(r.items)
	r.selected = -1
	r.mu.Unlock()

	// Links are repaired; the items are now merely stale, not loading.
	for _, it := range items {
		it.mu.Lock()
		it.setStatusLocked(StatusInvalid)
		it.mu.Unlock()
	}
}

func (r *Remote) handleAddItems(p wire.AddItems) {
	it, err := itemFromSnapshot(p.Item)
	if err != nil {
		panic(fmt.Sprintf("workflow: protocol violation: %v", err))
	}
	it.notify = r.notifyFunc(it)

	r.mu.Lock()
	if p.Index < 0 || p.Index > len(r.items) {
		r.mu.Unlock()
		panic(fmt.Sprintf("workflow: protocol violation: add at index %d of %d", p.Index, len(r.items)))
	}
	r.items = append(r.items[:p.Index], append([]*Item{it}, r.items[p.Index:]...)...)
	relinkLocked(r.items)
	if r.selected >= p.Index {
		r.selected++
	}
	r.mu.Unlock()

	it.mu.Lock()
	it.setStatusLocked(StatusInvalid)
	it.mu.Unlock()

	r.scheduleApply(it, p.Index)
}

func (r *Remote) handleRemoveItems(p wire.RemoveItems) {
	r.mu.Lock()
	if p.Index < 0 || p.Index >= len(r.items) {
		r.mu.Unlock()
		panic(fmt.Sprintf("workflow: protocol violation: remove index %d of %d", p.Index, len(r.items)))
	}
	it := r.items[p.Index]
	it.removed.Store(true)
	r.items = append(r.items[:p.Index], r.items[p.Index+1:]...)
	relinkLocked(r.items)
	if r.selected == p.Index {
		r.selected = -1
	} else if r.selected > p.Index {
		r.selected--
	}
	var successor *Item
	if p.Index < len(r.items) {
		successor = r.items[p.Index]
	}
	r.mu.Unlock()

	// The successor's upstream just changed identity; its result is stale.
	if successor != nil {
		successor.mu.Lock()
		successor.setStatusLocked(StatusInvalid)
		successor.mu.Unlock()
		r.scheduleApply(successor, p.Index)
	}
}

func (r *Remote) handleSelect(p wire.Select) {
	r.mu.Lock()
	if p.Index < -1 || p.Index >= len(r.items) {
		r.mu.Unlock()
		panic(fmt.Sprintf("workflow: protocol violation: select index %d of %d", p.Index, len(r.items)))
	}
	r.selected = p.Index
	var it *Item
	if p.Index >= 0 {
		it = r.items[p.Index]
	}
	r.mu.Unlock()

	if it != nil {
		r.schedulePlot(it, p.Index)
		return
	}

	// Clearing the canvas goes through the scheduler so every renderer call
	// stays on the one goroutine that plots.
	r.sched.Schedule(execqueue.Task{
		Key:  float64(p.Index) + 0.1,
		Kind: execqueue.TaskPlot,
		Run: func() {
			r.cfg.Renderer.Clear()
			r.cfg.Renderer.Flush()
		},
	})
}

func (r *Remote) handleUpdateOp(p wire.UpdateField) {
	it, idx, ok := r.itemAt(p.Index)
	if !ok {
		return
	}

	it.mu.Lock()
	role := it.operation.Fields().Role(p.Field)
	if role == RoleStatus || role == RoleTransient {
		it.mu.Unlock()
		panic(fmt.Sprintf("workflow: protocol violation: local set %v operation field %q", role, p.Field))
	}
	if err := it.operation.Set(p.Field, p.Value); err != nil {
		it.setOpErrorLocked(err.Error())
		it.mu.Unlock()
		return
	}

	needsApply := false
	switch role {
	case RoleEstimate:
		change := Change{Kind: ChangeEstimate, Field: p.Field, Value: p.Value}
		if est, ok := it.operation.(Estimator); ok && est.ShouldClearEstimate(change) {
			est.ClearEstimate()
			it.setStatusLocked(StatusInvalid)
		}
	default:
		change := Change{Kind: ChangeOperation, Field: p.Field, Value: p.Value}
		if it.operation.ShouldApply(change) {
			it.setStatusLocked(StatusInvalid)
			needsApply = true
		}
	}
	it.mu.Unlock()

	if needsApply {
		r.scheduleApply(it, idx)
	}
}

func (r *Remote) handleUpdateView(p wire.UpdateView) {
	it, idx, ok := r.itemAt(p.Index)
	if !ok {
		return
	}

	it.mu.Lock()
	v := it.viewByIDLocked(p.ViewID)
	if v == nil {
		it.mu.Unlock()
		r.cfg.Logger.Warn("view update for unknown view",
			zap.Int("index", p.Index),
			zap.String("view", p.ViewID))
		return
	}
	role := v.Fields().Role(p.Field)
	if role == RoleStatus || role == RoleTransient {
		it.mu.Unlock()
		panic(fmt.Sprintf("workflow: protocol violation: local set %v view field %q", role, p.Field))
	}
	if err := v.Set(p.Field, p.Value); err != nil {
		it.setViewErrorLocked(err.Error())
		it.mu.Unlock()
		return
	}
	replot := v == it.currentView &&
		v.ShouldPlot(Change{Kind: ChangeView, Field: p.Field, Value: p.Value})
	it.mu.Unlock()

	if replot && r.isSelected(idx) {
		r.schedulePlot(it, idx)
	}
}

func (r *Remote) handleChangeCurrentView(p wire.ChangeCurrentView) {
	it, idx, ok := r.itemAt(p.Index)
	if !ok {
		return
	}
	v, isView := p.View.(View)
	if !isView {
		panic(fmt.Sprintf("workflow: protocol violation: current view is %T, not a workflow.View", p.View))
	}

	it.mu.Lock()
	if existing := it.viewByIDLocked(v.ID()); existing != nil {
		v = existing
	} else {
		it.views = append(it.views, v)
	}
	it.currentView = v
	it.mu.Unlock()

	if r.isSelected(idx) {
		r.schedulePlot(it, idx)
	}
}

func (r *Remote) handleChangeCurrentPlot(p wire.ChangeCurrentPlot) {
	it, idx, ok := r.itemAt(p.Index)
	if !ok {
		return
	}

	it.mu.Lock()
	changed := it.currentPlot != p.Plot
	it.currentPlot = p.Plot
	it.mu.Unlock()

	if changed && r.isSelected(idx) {
		r.schedulePlot(it, idx)
	}
}

func (r *Remote) handleRunAll() {
	r.mu.Lock()
	items := make([]*Item, len(r.items))
	copy(items, r.items)
	r.mu.Unlock()

	for idx, it := range items {
		// Operations without an estimation step just reapply; the missing
		// step is an error only when the user asks for it by name.
		if _, ok := it.operation.(Estimator); ok {
			r.scheduleEstimate(it, idx)
		}
		r.scheduleApply(it, idx)
	}
}

// itemAt resolves an index from an inbound message. A stale index from a
// message crossing a removal in flight is dropped.
func (r *Remote) itemAt(index int) (*Item, int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if index < 0 || index >= len(r.items) {
		r.cfg.Logger.Warn("message for out-of-range item", zap.Int("index", index))
		return nil, -1, false
	}
	return r.items[index], index, true
}

func (r *Remote) isSelected(idx int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.selected == idx
}

// indexOf returns the item's current pipeline index, or -1 once removed.
func (r *Remote) indexOf(it *Item) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, cand := range r.items {
		if cand == it {
			return i
		}
	}
	return -1
}

// notifyFunc builds the status forwarder for a remote item. It is called
// with the item's mutex held, which is safe because nothing takes an item
// mutex while holding r.mu.
func (r *Remote) notifyFunc(it *Item) func(field string, value any) {
	return func(field string, value any) {
		idx := r.indexOf(it)
		if idx < 0 {
			return
		}
		if err := r.ch.Send(wire.Message{
			Kind:    wire.KindUpdateItem,
			Payload: wire.UpdateField{Index: idx, Field: field, Value: value},
		}); err != nil {
			r.cfg.Logger.Warn("status update dropped", zap.Error(err))
		}
	}
}

// Task scheduling. Keys interleave per-item phases with pipeline order:
// estimate at index-0.1, apply at index, plot at index+0.1.

func (r *Remote) scheduleEstimate(it *Item, idx int) {
	r.sched.Schedule(execqueue.Task{
		Key:     float64(idx) - 0.1,
		Kind:    execqueue.TaskEstimate,
		DedupID: it.id,
		Lock:    it,
		Run:     func() { r.runEstimate(it) },
	})
}

func (r *Remote) scheduleApply(it *Item, idx int) {
	r.sched.Schedule(execqueue.Task{
		Key:     float64(idx),
		Kind:    execqueue.TaskApply,
		DedupID: it.id,
		Lock:    it,
		Run:     func() { r.runApply(it) },
	})
}

func (r *Remote) schedulePlot(it *Item, idx int) {
	r.sched.Schedule(execqueue.Task{
		Key:     float64(idx) + 0.1,
		Kind:    execqueue.TaskPlot,
		DedupID: it.id,
		Lock:    it,
		Run:     func() { r.runPlot(it) },
	})
}

// prevResult reads the upstream item's result. The caller holds it.mu; the
// scheduler is the only goroutine that locks a second item, so locking the
// predecessor here cannot deadlock.
func (r *Remote) prevResult(it *Item) Result {
	r.mu.Lock()
	var prev *Item
	if it.prev >= 0 && it.prev < len(r.items) {
		prev = r.items[it.prev]
	}
	r.mu.Unlock()

	if prev == nil {
		return nil
	}
	prev.mu.Lock()
	defer prev.mu.Unlock()
	return prev.result
}

// Task bodies. The scheduler holds it.mu for the duration of each.

func (r *Remote) runEstimate(it *Item) {
	if it.removed.Load() {
		return
	}
	est, ok := it.operation.(Estimator)
	if !ok {
		it.setEstimateErrorLocked("operation has no estimation step")
		return
	}

	r.cfg.Renderer.SetWorking(true)
	defer r.cfg.Renderer.SetWorking(false)

	it.setStatusLocked(StatusEstimating)
	it.setEstimateErrorLocked("")

	prev := r.prevResult(it)
	if err := est.Estimate(prev); err != nil {
		it.setEstimateErrorLocked(err.Error())
		it.setStatusLocked(StatusInvalid)
		return
	}

	// A successful estimate does not validate the item; the result still
	// has to be recomputed from the new parameters.
	it.setStatusLocked(StatusInvalid)
	r.syncOpStatusFieldsLocked(it)

	if it.currentView != nil &&
		it.currentView.ShouldPlot(Change{Kind: ChangeEstimateResult}) {
		if idx := r.indexOf(it); idx >= 0 && r.isSelected(idx) {
			r.schedulePlot(it, idx)
		}
	}
}

func (r *Remote) runApply(it *Item) {
	if it.removed.Load() {
		return
	}

	r.cfg.Renderer.SetWorking(true)
	defer r.cfg.Renderer.SetWorking(false)

	it.setStatusLocked(StatusApplying)
	it.setOpErrorLocked("")

	prev := r.prevResult(it)
	result, err := it.operation.Apply(prev)

	r.applyCalls.Add(1)
	r.sendCallCount(wire.KindApplyCalled, r.applyCalls.Load())

	if err != nil {
		it.result = nil
		it.setOpErrorLocked(err.Error())
		it.setStatusLocked(StatusInvalid)
		r.resultChangedLocked(it)
		return
	}

	it.result = result
	it.setStatusLocked(StatusValid)
	r.syncOpStatusFieldsLocked(it)
	r.resultChangedLocked(it)
}

// resultChangedLocked reacts to a new (or newly absent) result on it:
// refresh the mirrored metadata, replot if the item is on screen, and
// invalidate the downstream neighbor. Caller holds it.mu.
func (r *Remote) resultChangedLocked(it *Item) {
	if it.result != nil {
		it.setChannelsLocked(it.result.Channels())
		it.setConditionsLocked(it.result.Conditions())
		it.setStatisticsLocked(it.result.Statistics())
		r.updatePlotNamesLocked(it)
	}

	idx := r.indexOf(it)
	if idx < 0 {
		return
	}
	if r.isSelected(idx) && it.currentView != nil &&
		it.currentView.ShouldPlot(Change{Kind: ChangeResult}) {
		r.schedulePlot(it, idx)
	}

	r.mu.Lock()
	var next *Item
	if it.next >= 0 && it.next < len(r.items) {
		next = r.items[it.next]
	}
	r.mu.Unlock()

	if next != nil {
		// Forward lock order: the scheduler already holds it.mu, and next
		// sits later in the pipeline.
		next.mu.Lock()
		next.setStatusLocked(StatusInvalid)
		next.mu.Unlock()
		r.scheduleApply(next, idx+1)
	}
}

func (r *Remote) runPlot(it *Item) {
	if it.removed.Load() {
		return
	}
	v := it.currentView
	if v == nil {
		r.cfg.Renderer.Clear()
		r.cfg.Renderer.Flush()
		return
	}

	result := it.result
	it.setViewWarningLocked("")
	if result == nil {
		// Views of a not-yet-applied item render against the upstream
		// result so the user can position gates before computing.
		result = r.prevResult(it)
		if result != nil {
			it.setViewWarningLocked("result not yet computed; plotting previous operation's data")
		}
	}

	r.cfg.Renderer.SetWorking(true)
	defer r.cfg.Renderer.SetWorking(false)

	r.plotCalls.Add(1)
	r.sendCallCount(wire.KindPlotCalled, r.plotCalls.Load())

	r.cfg.Renderer.Clear()
	if result == nil {
		it.setViewErrorLocked("no data to plot")
		r.cfg.Renderer.Flush()
		return
	}

	if err := v.Plot(r.cfg.Renderer, result, it.currentPlot); err != nil {
		it.setViewErrorLocked(err.Error())
	} else {
		it.setViewErrorLocked("")
	}
	r.cfg.Renderer.Flush()

	r.updatePlotNamesLocked(it)
	r.syncViewStatusFieldsLocked(it, v)
}

// updatePlotNamesLocked refreshes the enumerated subplot names of the
// current view. Caller holds it.mu.
func (r *Remote) updatePlotNamesLocked(it *Item) {
	if it.currentView == nil || it.result == nil {
		return
	}
	names, by := it.currentView.EnumPlots(it.result)
	it.setPlotNamesLocked(names, by)
}

// syncOpStatusFieldsLocked forwards every status-role operation field to the
// mirror. Estimate and apply mutate these in place; there is no per-field
// hook, so the whole set travels after each computation. Caller holds it.mu.
func (r *Remote) syncOpStatusFieldsLocked(it *Item) {
	idx := r.indexOf(it)
	if idx < 0 {
		return
	}
	for field, role := range it.operation.Fields() {
		if role != RoleStatus {
			continue
		}
		if err := r.ch.Send(wire.Message{
			Kind:    wire.KindUpdateOp,
			Payload: wire.UpdateField{Index: idx, Field: field, Value: it.operation.Get(field)},
		}); err != nil {
			r.cfg.Logger.Warn("operation status update dropped", zap.Error(err))
		}
	}
}

func (r *Remote) syncViewStatusFieldsLocked(it *Item, v View) {
	idx := r.indexOf(it)
	if idx < 0 {
		return
	}
	for field, role := range v.Fields() {
		if role != RoleStatus {
			continue
		}
		if err := r.ch.Send(wire.Message{
			Kind:    wire.KindUpdateView,
			Payload: wire.UpdateView{Index: idx, ViewID: v.ID(), Field: field, Value: v.Get(field)},
		}); err != nil {
			r.cfg.Logger.Warn("view status update dropped", zap.Error(err))
		}
	}
}

func (r *Remote) sendCallCount(kind wire.Kind, n int64) {
	if err := r.ch.Send(wire.Message{Kind: kind, Payload: wire.CallCount{Count: n}}); err != nil {
		r.cfg.Logger.Warn("call count dropped", zap.Error(err))
	}
}

func (r *Remote) runEval(p wire.Eval) {
	reply := wire.Eval{ID: p.ID, Expr: p.Expr}
	if r.cfg.Evaluator == nil {
		reply.Err = "no evaluator configured"
	} else if result, err := r.cfg.Evaluator.Eval(p.Expr); err != nil {
		reply.Err = err.Error()
	} else {
		reply.Result = result
	}
	if err := r.ch.Send(wire.Message{Kind: wire.KindEval, Payload: reply}); err != nil {
		r.cfg.Logger.Warn("eval reply dropped", zap.Error(err))
	}
}

func (r *Remote) runExec(p wire.Exec) {
	reply := wire.Exec{ID: p.ID, Stmt: p.Stmt}
	if r.cfg.Evaluator == nil {
		reply.Err = "no evaluator configured"
	} else if err := r.cfg.Evaluator.Exec(p.Stmt); err != nil {
		reply.Err = err.Error()
	}
	if err := r.ch.Send(wire.Message{Kind: wire.KindExec, Payload: reply}); err != nil {
		r.cfg.Logger.Warn("exec reply dropped", zap.Error(err))
	}
}
