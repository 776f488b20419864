package canvas_test

import (
	"image"
	"image/color"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dualflow/dualflow/internal/testutil"
	"github.com/dualflow/dualflow/pkg/canvas"
)

// fakeFigure records everything replayed onto it and renders solid frames.
type fakeFigure struct {
	mu       sync.Mutex
	wIn, hIn float64
	dpi      float64
	fill     color.RGBA
	renders  int
	resizes  int
	mouse    []canvas.Mouse
	kinds    []canvas.Kind
	exports  []canvas.Print
	clears   int
}

func newFakeFigure() *fakeFigure {
	return &fakeFigure{wIn: 4, hIn: 3, dpi: 96, fill: color.RGBA{R: 255, A: 255}}
}

func (f *fakeFigure) Resize(w, h float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wIn, f.hIn = w, h
	f.resizes++
}

func (f *fakeFigure) SetDPI(dpi float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dpi = dpi
}

func (f *fakeFigure) Size() (float64, float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.wIn, f.hIn
}

func (f *fakeFigure) Render() *image.RGBA {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renders++
	w := int(f.wIn * f.dpi)
	h := int(f.hIn * f.dpi)
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, f.fill)
		}
	}
	return img
}

func (f *fakeFigure) MouseEvent(kind canvas.Kind, x, y float64, button int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kinds = append(f.kinds, kind)
	f.mouse = append(f.mouse, canvas.Mouse{X: x, Y: y, Button: button})
}

func (f *fakeFigure) Export(p canvas.Print) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exports = append(f.exports, p)
	return nil
}

func (f *fakeFigure) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
}

func (f *fakeFigure) resizeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resizes
}

func (f *fakeFigure) mouseEvents() ([]canvas.Kind, []canvas.Mouse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kinds := append([]canvas.Kind(nil), f.kinds...)
	mouse := append([]canvas.Mouse(nil), f.mouse...)
	return kinds, mouse
}

func (f *fakeFigure) exportCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.exports)
}

type harness struct {
	fig    *fakeFigure
	local  *canvas.Local
	remote *canvas.Remote
}

func start(t *testing.T, localCfg canvas.LocalConfig) *harness {
	t.Helper()

	c1, c2 := net.Pipe()
	fig := newFakeFigure()

	remote := canvas.NewRemote(c2, canvas.RemoteConfig{
		Figure:       fig,
		SendInterval: 10 * time.Millisecond,
	})
	remoteDone := make(chan error, 1)
	go func() { remoteDone <- remote.Run() }()

	local := canvas.NewLocal(c1, localCfg)

	t.Cleanup(func() {
		_ = local.Close()
		_ = remote.Close()
		<-remoteDone
	})
	return &harness{fig: fig, local: local, remote: remote}
}

func TestStartupReportsDPI(t *testing.T) {
	h := start(t, canvas.LocalConfig{DPI: 120, Scale: 2})

	testutil.Eventually(t, func() bool {
		h.fig.mu.Lock()
		defer h.fig.mu.Unlock()
		return h.fig.dpi == 240
	}, "display density reached the figure")
}

func TestFlushDeliversFrame(t *testing.T) {
	h := start(t, canvas.LocalConfig{})

	h.remote.Flush()

	testutil.Eventually(t, func() bool {
		frame := h.local.Frame()
		if frame == nil {
			return false
		}
		b := frame.Bounds()
		return b.Dx() == 4*96 && b.Dy() == 3*96 &&
			frame.RGBAAt(10, 10) == (color.RGBA{R: 255, A: 255})
	}, "rendered frame arrived intact")
}

func TestFramesCoalesce(t *testing.T) {
	h := start(t, canvas.LocalConfig{})

	// Many flushes inside one pump interval ship at most a couple of frames.
	for i := 0; i < 50; i++ {
		h.remote.Flush()
	}

	testutil.Eventually(t, func() bool {
		return h.local.Frame() != nil
	}, "a frame arrived")
}

func TestBlitPatchesFrame(t *testing.T) {
	h := start(t, canvas.LocalConfig{})

	h.remote.Flush()
	testutil.Eventually(t, func() bool {
		return h.local.Frame() != nil
	}, "base frame arrived")

	patch := image.NewRGBA(image.Rect(0, 0, 8, 8))
	blue := color.RGBA{B: 255, A: 255}
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			patch.SetRGBA(x, y, blue)
		}
	}
	h.remote.BlitRegion(patch, 16, 32)

	testutil.Eventually(t, func() bool {
		frame := h.local.Frame()
		return frame != nil &&
			frame.RGBAAt(32, 16) == blue &&
			frame.RGBAAt(0, 0) == (color.RGBA{R: 255, A: 255})
	}, "blit landed at (top=16, left=32) without touching the rest")
}

// overlapFigure trips if two of its methods ever run at the same time.
type overlapFigure struct {
	busy    atomic.Int32
	overlap atomic.Bool
	mouseN  atomic.Int32
}

func (f *overlapFigure) enter() {
	if f.busy.Add(1) != 1 {
		f.overlap.Store(true)
	}
	time.Sleep(100 * time.Microsecond)
}

func (f *overlapFigure) exit() { f.busy.Add(-1) }

func (f *overlapFigure) Resize(_, _ float64) { f.enter(); f.exit() }

func (f *overlapFigure) SetDPI(float64) { f.enter(); f.exit() }

func (f *overlapFigure) Size() (float64, float64) { return 1, 1 }

func (f *overlapFigure) Render() *image.RGBA {
	f.enter()
	defer f.exit()
	return image.NewRGBA(image.Rect(0, 0, 4, 4))
}

func (f *overlapFigure) MouseEvent(canvas.Kind, float64, float64, int) {
	f.enter()
	f.mouseN.Add(1)
	f.exit()
}

func (f *overlapFigure) Export(canvas.Print) error {
	f.enter()
	defer f.exit()
	return nil
}

func (f *overlapFigure) Clear() { f.enter(); f.exit() }

func TestFigureCallsAreSerialized(t *testing.T) {
	c1, c2 := net.Pipe()
	fig := &overlapFigure{}
	remote := canvas.NewRemote(c2, canvas.RemoteConfig{
		Figure:       fig,
		SendInterval: 5 * time.Millisecond,
	})
	remoteDone := make(chan error, 1)
	go func() { remoteDone <- remote.Run() }()
	local := canvas.NewLocal(c1, canvas.LocalConfig{})
	t.Cleanup(func() {
		_ = local.Close()
		_ = remote.Close()
		<-remoteDone
	})
	local.Resized(400, 300)

	// Plot traffic hits the figure from this goroutine while pointer replay
	// arrives on the channel's receive goroutine.
	flushed := make(chan struct{})
	go func() {
		defer close(flushed)
		for i := 0; i < 50; i++ {
			remote.Clear()
			remote.Flush()
		}
	}()
	for i := 0; i < 50; i++ {
		local.MousePress(float64(i), 10, 1)
	}
	<-flushed

	testutil.Eventually(t, func() bool {
		return fig.mouseN.Load() == 50
	}, "all presses replayed")
	require.False(t, fig.overlap.Load(), "figure saw two calls at once")
}

func TestWorkingIndicator(t *testing.T) {
	var mu sync.Mutex
	var states []bool
	h := start(t, canvas.LocalConfig{
		OnWorking: func(w bool) {
			mu.Lock()
			states = append(states, w)
			mu.Unlock()
		},
	})

	h.remote.SetWorking(true)
	testutil.Eventually(t, func() bool { return h.local.Working() }, "busy set")

	h.remote.SetWorking(false)
	testutil.Eventually(t, func() bool { return !h.local.Working() }, "busy cleared")

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []bool{true, false}, states)
}

func TestBlitClipsToFrame(t *testing.T) {
	h := start(t, canvas.LocalConfig{})

	h.remote.Flush()
	testutil.Eventually(t, func() bool {
		return h.local.Frame() != nil
	}, "base frame arrived")

	patch := image.NewRGBA(image.Rect(0, 0, 8, 8))
	blue := color.RGBA{B: 255, A: 255}
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			patch.SetRGBA(x, y, blue)
		}
	}

	// A resize can race a blit, so offsets may fall anywhere relative to
	// the current frame: overhang the top-left, overhang the right edge
	// (frame is 384 wide), or miss the frame entirely.
	h.remote.BlitRegion(patch, -4, -4)
	h.remote.BlitRegion(patch, 100, 380)
	h.remote.BlitRegion(patch, 100, 500)

	testutil.Eventually(t, func() bool {
		f := h.local.Frame()
		return f != nil && f.RGBAAt(383, 107) == blue
	}, "clipped blits landed")

	f := h.local.Frame()
	red := color.RGBA{R: 255, A: 255}
	require.Equal(t, blue, f.RGBAAt(0, 0), "visible corner of the top-left overhang")
	require.Equal(t, blue, f.RGBAAt(3, 3))
	require.Equal(t, red, f.RGBAAt(4, 4), "beyond the clipped region")
	require.Equal(t, blue, f.RGBAAt(380, 100), "visible strip of the right overhang")
	require.Equal(t, red, f.RGBAAt(379, 100))
}

func TestResizeDebounces(t *testing.T) {
	h := start(t, canvas.LocalConfig{
		DPI:            100,
		ResizeDebounce: 50 * time.Millisecond,
	})
	base := h.fig.resizeCount()

	// A live window drag: ten sizes in quick succession.
	for i := 1; i <= 10; i++ {
		h.local.Resized(100*i, 50*i)
		time.Sleep(2 * time.Millisecond)
	}

	testutil.Eventually(t, func() bool {
		return h.fig.resizeCount() > base
	}, "debounced resize arrived")

	// Only the final size survived the debounce.
	testutil.AssertEqual(t, h.fig.resizeCount()-base, 1)
	w, ht := h.fig.Size()
	testutil.AssertEqual(t, w, 10.0)
	testutil.AssertEqual(t, ht, 5.0)
}

func TestMouseMovesCoalesce(t *testing.T) {
	h := start(t, canvas.LocalConfig{SendInterval: 20 * time.Millisecond})
	h.local.Resized(400, 300)

	for i := 0; i < 100; i++ {
		h.local.MouseMove(float64(i), float64(i))
	}

	testutil.Eventually(t, func() bool {
		kinds, _ := h.fig.mouseEvents()
		return len(kinds) >= 1
	}, "a coalesced move arrived")

	kinds, mouse := h.fig.mouseEvents()
	if len(kinds) >= 100 {
		t.Fatalf("moves were not coalesced: %d events", len(kinds))
	}
	last := mouse[len(mouse)-1]
	testutil.AssertEqual(t, last.X, 99.0)
}

func TestMousePressOrderAndYFlip(t *testing.T) {
	h := start(t, canvas.LocalConfig{Scale: 1})
	h.local.Resized(400, 300)

	h.local.MouseMove(10, 10)
	h.local.MousePress(50, 20, 1)
	h.local.MouseRelease(50, 20, 1)
	h.local.MouseDoubleClick(60, 30, 1)

	testutil.Eventually(t, func() bool {
		kinds, _ := h.fig.mouseEvents()
		return len(kinds) == 4
	}, "all pointer events arrived")

	kinds, mouse := h.fig.mouseEvents()
	require.Equal(t, []canvas.Kind{
		canvas.KindMouseMove,
		canvas.KindMousePress,
		canvas.KindMouseRelease,
		canvas.KindMouseDoubleClick,
	}, kinds)

	// Widget origin is top-left; figure origin is bottom-left.
	require.Equal(t, 280.0, mouse[1].Y)
	require.Equal(t, 50.0, mouse[1].X)
	require.Equal(t, 1, mouse[1].Button)
}

func TestPrintExportsFigure(t *testing.T) {
	h := start(t, canvas.LocalConfig{DPI: 100})
	h.local.Resized(500, 400)

	h.local.Print("/tmp/out.pdf", "pdf", 300)

	testutil.Eventually(t, func() bool {
		return h.fig.exportCount() == 1
	}, "export request arrived")

	h.fig.mu.Lock()
	p := h.fig.exports[0]
	h.fig.mu.Unlock()
	require.Equal(t, "/tmp/out.pdf", p.Path)
	require.Equal(t, "pdf", p.Format)
	require.Equal(t, 5.0, p.WidthInches)
	require.Equal(t, 4.0, p.HeightInches)
	require.Equal(t, 300.0, p.DPI)
}
