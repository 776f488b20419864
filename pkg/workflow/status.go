package workflow

import "fmt"

// Status is an item's lifecycle state. Any parameter or upstream-result
// change returns a valid item to invalid; loading is transient, used only
// while a persisted pipeline is being reconstructed and its cross-links are
// not yet valid.
type Status uint8

const (
	// StatusLoading: the item is being reconstructed from a snapshot. No
	// task may run against it.
	StatusLoading Status = iota + 1

	// StatusInvalid: the result is missing or stale.
	StatusInvalid

	// StatusEstimating: the estimate task is running.
	StatusEstimating

	// StatusApplying: the apply task is running.
	StatusApplying

	// StatusValid: the result is current.
	StatusValid
)

var statusNames = map[Status]string{
	StatusLoading:    "loading",
	StatusInvalid:    "invalid",
	StatusEstimating: "estimating",
	StatusApplying:   "applying",
	StatusValid:      "valid",
}

// String returns the status name.
func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}
