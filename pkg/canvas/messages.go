package canvas

import (
	"encoding/gob"
	"fmt"
)

// Kind identifies a canvas channel message.
type Kind uint8

// Canvas channel message kinds. Raster data flows remote to local; input
// events and geometry flow local to remote. The canvas pipe is ordered
// within itself but carries no ordering guarantee relative to the workflow
// pipe.
const (
	KindInvalid Kind = iota

	// KindDraw carries a full frame. R->L.
	KindDraw

	// KindBlit carries a partial frame update. R->L.
	KindBlit

	// KindWorking toggles the busy indicator. R->L.
	KindWorking

	// KindDPI reports the local display's dots per inch. L->R, once at
	// startup and again if the window moves to a different display.
	KindDPI

	// KindResize reports the new figure size in inches. L->R.
	KindResize

	// KindMousePress, KindMouseMove, KindMouseRelease, and
	// KindMouseDoubleClick replay pointer input onto the remote figure,
	// in figure coordinates with the origin at the bottom left. L->R.
	KindMousePress
	KindMouseMove
	KindMouseRelease
	KindMouseDoubleClick

	// KindPrint asks the remote figure to export itself to a file. L->R.
	KindPrint
)

var kindNames = map[Kind]string{
	KindDraw:             "DRAW",
	KindBlit:             "BLIT",
	KindWorking:          "WORKING",
	KindDPI:              "DPI",
	KindResize:           "RESIZE",
	KindMousePress:       "MOUSE_PRESS",
	KindMouseMove:        "MOUSE_MOVE",
	KindMouseRelease:     "MOUSE_RELEASE",
	KindMouseDoubleClick: "MOUSE_DOUBLE_CLICK",
	KindPrint:            "PRINT",
}

// String returns the protocol name of the kind.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("KIND(%d)", uint8(k))
}

// Message is one tagged payload on the canvas channel.
type Message struct {
	Kind    Kind
	Payload any
}

// Draw is a full RGBA frame, 4 bytes per pixel in row-major order.
type Draw struct {
	Buffer []byte
	W, H   int
}

// Blit is a partial RGBA frame update placed at (Top, Left) of the current
// frame, in pixels from the top-left corner.
type Blit struct {
	Buffer    []byte
	W, H      int
	Top, Left int
}

// Working toggles the busy indicator while the remote process computes.
type Working struct {
	Working bool
}

// DPI reports the local display density so remote rendering matches the
// screen.
type DPI struct {
	DPI float64
}

// Resize reports the figure's new size in inches.
type Resize struct {
	WidthInches, HeightInches float64
}

// Mouse is one pointer event in figure coordinates (origin bottom-left,
// device-independent points).
type Mouse struct {
	X, Y   float64
	Button int
}

// Print asks the remote figure to export itself at the given geometry.
type Print struct {
	Path                      string
	Format                    string
	WidthInches, HeightInches float64
	DPI                       float64
}

func init() {
	gob.Register(Draw{})
	gob.Register(Blit{})
	gob.Register(Working{})
	gob.Register(DPI{})
	gob.Register(Resize{})
	gob.Register(Mouse{})
	gob.Register(Print{})
}
