package wire

import (
	"encoding/gob"
	"time"
)

func init() {
	// Payload structs carried in Message.Payload.
	gob.Register(NewWorkflow{})
	gob.Register(AddItems{})
	gob.Register(RemoveItems{})
	gob.Register(Select{})
	gob.Register(UpdateField{})
	gob.Register(UpdateView{})
	gob.Register(ChangeCurrentView{})
	gob.Register(ChangeCurrentPlot{})
	gob.Register(Estimate{})
	gob.Register(CallCount{})
	gob.Register(Eval{})
	gob.Register(Exec{})

	// Common field value types carried in UpdateField.Value and friends.
	// gob transmits interface values only for registered concrete types.
	gob.Register(false)
	gob.Register(int(0))
	gob.Register(int64(0))
	gob.Register(float64(0))
	gob.Register("")
	gob.Register([]string(nil))
	gob.Register([]float64(nil))
	gob.Register([]int(nil))
	gob.Register(map[string]string(nil))
	gob.Register(map[string]float64(nil))
	gob.Register(time.Time{})
}

// RegisterOperation records an operation's concrete type so it can travel
// inside ItemSnapshot.Operation. Call once per operation type, typically
// from the operation package's init.
func RegisterOperation(op any) {
	gob.Register(op)
}

// RegisterView records a view's concrete type so it can travel inside
// ItemSnapshot.Views and ChangeCurrentView.View.
func RegisterView(view any) {
	gob.Register(view)
}

// RegisterValue records an additional field value type beyond the defaults
// registered by this package.
func RegisterValue(v any) {
	gob.Register(v)
}
