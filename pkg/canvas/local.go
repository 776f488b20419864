package canvas

import (
	"image"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dualflow/dualflow/pkg/channel"
	"github.com/dualflow/dualflow/pkg/metrics"
)

// LocalConfig holds configuration for the GUI-side half of the canvas.
type LocalConfig struct {
	// Logger for traffic. Defaults to zap.NewNop().
	Logger *zap.Logger

	// Metrics is the registry to record into. May be nil.
	Metrics *metrics.Registry

	// DPI is the display density in points per inch. Defaults to 96.
	DPI float64

	// Scale is the device pixel ratio (2 on a typical high-density
	// display). Defaults to 1.
	Scale float64

	// OnRepaint is invoked, on the channel's receive goroutine, whenever
	// the frame changes. GUI code uses it to schedule a repaint. May be nil.
	OnRepaint func(frame *image.RGBA)

	// OnWorking is invoked when the remote busy state changes. May be nil.
	OnWorking func(working bool)

	// ResizeDebounce delays resize forwarding so a live window drag sends
	// one message, not hundreds. Defaults to 200ms.
	ResizeDebounce time.Duration

	// SendInterval throttles coalesced mouse-move forwarding. Defaults to
	// 100ms.
	SendInterval time.Duration

	// QueueSize is the outbound channel queue capacity.
	QueueSize int
}

// Local is the GUI-process half of the canvas: a raster sink. It holds the
// latest frame the remote renderer produced, hands repaints to the GUI, and
// forwards resize and pointer input upstream. It renders nothing itself.
type Local struct {
	cfg LocalConfig
	ch  *channel.Channel[Message]

	mu      sync.Mutex
	frame   *image.RGBA
	working bool

	// Widget geometry in device pixels, updated by Resized.
	widthPx, heightPx int

	moveMu      sync.Mutex
	pendingMove *Mouse

	resizeMu    sync.Mutex
	resizeTimer *time.Timer

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewLocal creates the local canvas over the canvas pipe and starts it. The
// display density is reported to the remote side immediately so the first
// frame renders at the right size.
func NewLocal(rw io.ReadWriter, cfg LocalConfig) *Local {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 96
	}
	if cfg.Scale <= 0 {
		cfg.Scale = 1
	}
	if cfg.ResizeDebounce <= 0 {
		cfg.ResizeDebounce = 200 * time.Millisecond
	}
	if cfg.SendInterval <= 0 {
		cfg.SendInterval = 100 * time.Millisecond
	}
	l := &Local{
		cfg:  cfg,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	l.ch = channel.New(rw, channel.Config[Message]{
		Logger:    cfg.Logger.Named("canvas-local"),
		Name:      "canvas-local",
		KindOf:    func(m Message) string { return m.Kind.String() },
		Metrics:   cfg.Metrics,
		QueueSize: cfg.QueueSize,
	})
	l.ch.Start(l.handle)
	l.send(Message{Kind: KindDPI, Payload: DPI{DPI: cfg.DPI * cfg.Scale}})
	go l.movePump()
	return l
}

// Close stops the move pump and the channel.
func (l *Local) Close() error {
	l.stopOnce.Do(func() { close(l.stop) })
	<-l.done
	return l.ch.Close()
}

// Join blocks until the channel loops exit.
func (l *Local) Join() error { return l.ch.Join() }

// Frame returns the latest frame, or nil before the first draw.
func (l *Local) Frame() *image.RGBA {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.frame
}

// Working reports the remote busy state.
func (l *Local) Working() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.working
}

// Resized reports the widget's new size in device pixels. Forwarding is
// debounced: only the size that holds still for the debounce interval
// reaches the remote renderer.
func (l *Local) Resized(widthPx, heightPx int) {
	l.mu.Lock()
	l.widthPx, l.heightPx = widthPx, heightPx
	l.mu.Unlock()

	l.resizeMu.Lock()
	defer l.resizeMu.Unlock()
	if l.resizeTimer != nil {
		l.resizeTimer.Stop()
	}
	l.resizeTimer = time.AfterFunc(l.cfg.ResizeDebounce, func() {
		w, h := l.sizeInches()
		l.send(Message{Kind: KindResize, Payload: Resize{WidthInches: w, HeightInches: h}})
	})
}

// MousePress forwards a button press at widget coordinates (origin
// top-left, device pixels).
func (l *Local) MousePress(x, y float64, button int) {
	l.flushMove()
	l.send(Message{Kind: KindMousePress, Payload: l.toFigure(x, y, button)})
}

// MouseRelease forwards a button release.
func (l *Local) MouseRelease(x, y float64, button int) {
	l.flushMove()
	l.send(Message{Kind: KindMouseRelease, Payload: l.toFigure(x, y, button)})
}

// MouseDoubleClick forwards a double click.
func (l *Local) MouseDoubleClick(x, y float64, button int) {
	l.flushMove()
	l.send(Message{Kind: KindMouseDoubleClick, Payload: l.toFigure(x, y, button)})
}

// MouseMove forwards pointer motion. Moves coalesce: only the newest
// position since the last pump tick crosses the pipe.
func (l *Local) MouseMove(x, y float64) {
	m := l.toFigure(x, y, 0)
	l.moveMu.Lock()
	l.pendingMove = &m
	l.moveMu.Unlock()
}

// Print asks the remote figure to export itself at the widget's current
// geometry.
func (l *Local) Print(path, format string, dpi float64) {
	w, h := l.sizeInches()
	l.send(Message{Kind: KindPrint, Payload: Print{
		Path:         path,
		Format:       format,
		WidthInches:  w,
		HeightInches: h,
		DPI:          dpi,
	}})
}

// toFigure converts widget coordinates (origin top-left, device pixels) to
// figure coordinates (origin bottom-left, points).
func (l *Local) toFigure(x, y float64, button int) Mouse {
	l.mu.Lock()
	h := float64(l.heightPx)
	l.mu.Unlock()
	return Mouse{
		X:      x / l.cfg.Scale,
		Y:      (h - y) / l.cfg.Scale,
		Button: button,
	}
}

func (l *Local) sizeInches() (w, h float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	denom := l.cfg.DPI * l.cfg.Scale
	return float64(l.widthPx) / denom, float64(l.heightPx) / denom
}

func (l *Local) movePump() {
	defer close(l.done)

	ticker := time.NewTicker(l.cfg.SendInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.flushMove()
		case <-l.stop:
			return
		}
	}
}

func (l *Local) flushMove() {
	l.moveMu.Lock()
	m := l.pendingMove
	l.pendingMove = nil
	l.moveMu.Unlock()

	if m != nil {
		l.send(Message{Kind: KindMouseMove, Payload: *m})
	}
}

func (l *Local) send(m Message) {
	if err := l.ch.Send(m); err != nil {
		l.cfg.Logger.Warn("canvas message dropped",
			zap.Stringer("kind", m.Kind),
			zap.Error(err))
		return
	}
	if l.cfg.Metrics != nil {
		l.cfg.Metrics.CanvasInputEvents.WithLabelValues("canvas-local", m.Kind.String()).Inc()
	}
}

// handle applies one inbound raster message. It runs on the channel's
// receive goroutine.
func (l *Local) handle(m Message) {
	switch m.Kind {
	case KindDraw:
		p := m.Payload.(Draw)
		frame := image.NewRGBA(image.Rect(0, 0, p.W, p.H))
		copy(frame.Pix, p.Buffer)
		l.mu.Lock()
		l.frame = frame
		l.mu.Unlock()
		l.repaint(frame)

	case KindBlit:
		p := m.Payload.(Blit)
		l.mu.Lock()
		frame := l.frame
		if frame != nil {
			blitInto(frame, p)
		}
		l.mu.Unlock()
		if frame != nil {
			l.repaint(frame)
		}

	case KindWorking:
		p := m.Payload.(Working)
		l.mu.Lock()
		l.working = p.Working
		l.mu.Unlock()
		if l.cfg.OnWorking != nil {
			l.cfg.OnWorking(p.Working)
		}

	default:
		l.cfg.Logger.Warn("unexpected canvas message", zap.Stringer("kind", m.Kind))
	}
}

func (l *Local) repaint(frame *image.RGBA) {
	if l.cfg.OnRepaint != nil {
		l.cfg.OnRepaint(frame)
	}
}

// blitInto copies a partial update into the frame, clipping to the frame's
// bounds on all four edges. A blit that raced a resize may overhang the new
// frame, or start left of or above it.
func blitInto(frame *image.RGBA, p Blit) {
	fw := frame.Bounds().Dx()
	fh := frame.Bounds().Dy()

	srcX, dstX, w := 0, p.Left, p.W
	if dstX < 0 {
		srcX = -dstX
		w += dstX
		dstX = 0
	}
	if dstX+w > fw {
		w = fw - dstX
	}
	if w <= 0 {
		return
	}

	for row := 0; row < p.H; row++ {
		dstY := p.Top + row
		if dstY < 0 || dstY >= fh {
			continue
		}
		src := p.Buffer[row*4*p.W+4*srcX : row*4*p.W+4*(srcX+w)]
		copy(frame.Pix[dstY*frame.Stride+4*dstX:], src)
	}
}
