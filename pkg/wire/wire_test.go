package wire_test

import (
	"bytes"
	"encoding/gob"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dualflow/dualflow/pkg/wire"
)

// fakeGate stands in for a real operation type crossing the boundary.
type fakeGate struct {
	Channel   string
	Threshold float64
}

// fakeHistogram stands in for a view type.
type fakeHistogram struct {
	ViewID  string
	Channel string
	Bins    int
}

func init() {
	wire.RegisterOperation(fakeGate{})
	wire.RegisterView(fakeHistogram{})
}

func roundTrip(t *testing.T, in wire.Message) wire.Message {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, gob.NewEncoder(&buf).Encode(&in))
	var out wire.Message
	require.NoError(t, gob.NewDecoder(&buf).Decode(&out))
	return out
}

func TestAddItemsCarriesConcreteTypes(t *testing.T) {
	in := wire.Message{
		Kind: wire.KindAddItems,
		Payload: wire.AddItems{
			Index: 2,
			Item: wire.ItemSnapshot{
				ID:            "item-1",
				Operation:     fakeGate{Channel: "FSC-A", Threshold: 1000},
				Views:         []any{fakeHistogram{ViewID: "v1", Channel: "FSC-A", Bins: 128}},
				CurrentViewID: "v1",
				Channels:      []string{"FSC-A", "SSC-A"},
			},
		},
	}

	out := roundTrip(t, in)
	require.Equal(t, wire.KindAddItems, out.Kind)

	p, ok := out.Payload.(wire.AddItems)
	require.True(t, ok)
	require.Equal(t, 2, p.Index)

	// The payload comes back as the registered concrete type, not a map or
	// a generic blob; that is the whole point of the registration step.
	op, ok := p.Item.Operation.(fakeGate)
	require.True(t, ok)
	require.Equal(t, "FSC-A", op.Channel)
	require.Equal(t, 1000.0, op.Threshold)

	require.Len(t, p.Item.Views, 1)
	v, ok := p.Item.Views[0].(fakeHistogram)
	require.True(t, ok)
	require.Equal(t, 128, v.Bins)
}

func TestUpdateFieldCarriesCommonValueTypes(t *testing.T) {
	for _, value := range []any{
		true,
		int(7),
		3.5,
		"FSC-A",
		[]string{"a", "b"},
		[]float64{0.5, 1.5},
	} {
		in := wire.Message{
			Kind:    wire.KindUpdateOp,
			Payload: wire.UpdateField{Index: 0, Field: "f", Value: value},
		}
		out := roundTrip(t, in)
		p, ok := out.Payload.(wire.UpdateField)
		require.True(t, ok)
		require.Equal(t, value, p.Value)
	}
}

func TestKindNamesAreStable(t *testing.T) {
	require.Equal(t, "NEW_WORKFLOW", wire.KindNewWorkflow.String())
	require.Equal(t, "UPDATE_WI", wire.KindUpdateItem.String())
	require.Equal(t, "SHUTDOWN", wire.KindShutdown.String())
}
