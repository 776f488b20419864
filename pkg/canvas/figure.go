package canvas

import "image"

// Figure is the remote-side rendering surface the canvas replays geometry
// and input onto. Implementations are not required to be safe for
// concurrent use; the canvas serializes all calls.
type Figure interface {
	// Resize sets the figure size in inches.
	Resize(widthInches, heightInches float64)

	// SetDPI sets the rendering density.
	SetDPI(dpi float64)

	// Size returns the current size in inches.
	Size() (widthInches, heightInches float64)

	// Render rasterizes the figure's current state.
	Render() *image.RGBA

	// MouseEvent replays one pointer event, in figure coordinates with the
	// origin at the bottom left. kind is one of the mouse message kinds.
	MouseEvent(kind Kind, x, y float64, button int)

	// Export writes the figure to a file at the requested geometry.
	Export(p Print) error

	// Clear blanks the figure.
	Clear()
}
