package workflow

// FieldRole classifies a field of an operation or view. The role table is
// the explicit replacement for reflective attribute observation: every field
// that crosses the process boundary is named here, and the engine dispatches
// on the role instead of intercepting attribute access.
type FieldRole uint8

const (
	// RoleApply marks a user-settable field whose value feeds the
	// operation's Apply. Changing it invalidates the item's result.
	RoleApply FieldRole = iota + 1

	// RoleEstimate marks a user-settable field whose value feeds the
	// operation's Estimate. Changing it may clear the cached estimate but
	// never forces recomputation on its own.
	RoleEstimate

	// RoleStatus marks a derived/output field. Only the remote engine may
	// set it; the local mirror receives it via status updates.
	RoleStatus

	// RoleTransient marks a field that never crosses the process boundary.
	RoleTransient
)

var fieldRoleNames = map[FieldRole]string{
	RoleApply:     "apply",
	RoleEstimate:  "estimate",
	RoleStatus:    "status",
	RoleTransient: "transient",
}

// String returns the role name.
func (r FieldRole) String() string {
	if n, ok := fieldRoleNames[r]; ok {
		return n
	}
	return "unknown"
}

// FieldMap maps field names to their roles.
type FieldMap map[string]FieldRole

// Role returns the role of a field. Fields absent from the map are treated
// as apply-affecting user fields.
func (m FieldMap) Role(field string) FieldRole {
	if r, ok := m[field]; ok {
		return r
	}
	return RoleApply
}

// ChangeKind classifies a change event dispatched to the reactive
// predicates of operations and views.
type ChangeKind uint8

const (
	// ChangeOperation: an apply-affecting operation field changed.
	ChangeOperation ChangeKind = iota + 1

	// ChangeEstimate: an estimate-affecting operation field changed.
	ChangeEstimate

	// ChangeView: a view field changed.
	ChangeView

	// ChangeEstimateResult: the operation's cached estimate was recomputed.
	ChangeEstimateResult

	// ChangeResult: the item's own result changed.
	ChangeResult

	// ChangePrevResult: the previous item's result changed.
	ChangePrevResult
)

// Change describes one observed field or result change. Field and Value are
// empty for result-level changes.
type Change struct {
	Kind  ChangeKind
	Field string
	Value any
}

// Result is the opaque output of an operation. The engine only reads the
// derived metadata it mirrors to the GUI; everything else is private to the
// operations and views that produce and consume it. Results never cross the
// process boundary.
type Result interface {
	// Channels returns the channel names present in the result.
	Channels() []string

	// Conditions returns the experimental condition names.
	Conditions() []string

	// Statistics returns the summary-statistic keys.
	Statistics() []string
}

// Operation is one unit of pipeline work. Implementations must be
// gob-encodable (exported parameter fields) and registered with
// wire.RegisterOperation so they can cross the process boundary.
type Operation interface {
	// Name returns a human-readable operation name.
	Name() string

	// Fields returns the role table for this operation's fields.
	Fields() FieldMap

	// Get returns the current value of a field.
	Get(field string) any

	// Set assigns a field. The engine has already checked the field's
	// role; Set only validates the value itself.
	Set(field string, value any) error

	// ShouldApply reports whether the change actually requires
	// recomputation. Some apply-role fields only affect rendering.
	ShouldApply(change Change) bool

	// Apply computes this operation's result from the previous item's
	// result (nil for the pipeline head).
	Apply(prev Result) (Result, error)
}

// Estimator is implemented by operations with a data-driven estimation step
// (e.g. fitting a mixture model before gating on it). Estimation runs only
// when the user asks for it.
type Estimator interface {
	// Estimate computes and caches the operation's estimated parameters.
	Estimate(prev Result) error

	// ClearEstimate discards the cached estimate.
	ClearEstimate()

	// ShouldClearEstimate reports whether the change invalidates the
	// cached estimate.
	ShouldClearEstimate(change Change) bool
}

// DefaultViewer is implemented by operations that provide a default view of
// their result (typically a diagnostic plot of the estimate).
type DefaultViewer interface {
	DefaultView() View
}

// View renders an item's result. Implementations must be gob-encodable and
// registered with wire.RegisterView.
type View interface {
	// ID uniquely identifies this view instance across the boundary.
	ID() string

	// Name returns a human-readable view name.
	Name() string

	// Fields returns the role table for this view's fields.
	Fields() FieldMap

	// Get returns the current value of a field.
	Get(field string) any

	// Set assigns a field.
	Set(field string, value any) error

	// ShouldPlot reports whether the change requires replotting.
	ShouldPlot(change Change) bool

	// Plot renders the result onto the renderer. plotName selects one of
	// the named subplots from EnumPlots, or is empty.
	Plot(r Renderer, result Result, plotName string) error

	// EnumPlots returns the available subplot names for a result and the
	// label of the facet they enumerate. Both may be empty.
	EnumPlots(result Result) (names []string, by string)
}

// Renderer is the explicit rendering context handed to every plot call,
// replacing process-wide mutable plotting state. The canvas package's
// remote side satisfies it.
type Renderer interface {
	// SetWorking flags long-running computation so the local side can
	// show a busy indicator.
	SetWorking(working bool)

	// Clear blanks the figure.
	Clear()

	// Flush pushes the completed frame to the local side. The remote
	// rendering surface is not interactive; Flush batches the updates of
	// one plot call.
	Flush()
}

// NopRenderer discards all rendering. Used for headless operation and in
// tests.
type NopRenderer struct{}

// SetWorking implements Renderer.
func (NopRenderer) SetWorking(bool) {}

// Clear implements Renderer.
func (NopRenderer) Clear() {}

// Flush implements Renderer.
func (NopRenderer) Flush() {}
