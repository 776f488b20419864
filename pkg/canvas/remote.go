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

// RemoteConfig holds configuration for the rendering half of the canvas.
type RemoteConfig struct {
	// Logger for traffic and export failures. Defaults to zap.NewNop().
	Logger *zap.Logger

	// Metrics is the registry to record into. May be nil.
	Metrics *metrics.Registry

	// Figure is the rendering surface. Required.
	Figure Figure

	// SendInterval throttles outbound frames. A frame rendered while a
	// previous one is still queued replaces it. Defaults to 100ms.
	SendInterval time.Duration

	// QueueSize is the outbound channel queue capacity.
	QueueSize int
}

// Remote is the worker-process half of the canvas: plots render into its
// figure, and it streams the resulting rasters to the local half while
// replaying the local half's geometry and input events onto the figure.
//
// Remote satisfies the workflow package's Renderer interface, so it can be
// handed directly to a remote workflow engine.
type Remote struct {
	cfg RemoteConfig
	ch  *channel.Channel[Message]

	// figMu serializes every call into cfg.Figure. Plot rendering arrives
	// on the workflow scheduler goroutine while geometry and input replay
	// arrive on the channel's receive goroutine; figure implementations
	// only ever see one call at a time.
	figMu sync.Mutex

	// mu guards the pending frame state. Frames coalesce: only the newest
	// full frame and the blits after it survive until the next tick.
	mu      sync.Mutex
	pending *Draw
	blits   []Blit

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewRemote creates the remote canvas over the canvas pipe. Call Run to
// start it.
func NewRemote(rw io.ReadWriter, cfg RemoteConfig) *Remote {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.SendInterval <= 0 {
		cfg.SendInterval = 100 * time.Millisecond
	}
	r := &Remote{
		cfg:  cfg,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	r.ch = channel.New(rw, channel.Config[Message]{
		Logger:    cfg.Logger.Named("canvas-remote"),
		Name:      "canvas-remote",
		KindOf:    func(m Message) string { return m.Kind.String() },
		Metrics:   cfg.Metrics,
		QueueSize: cfg.QueueSize,
	})
	return r
}

// Run starts the channel loops and the frame pump, then blocks until the
// pipe closes.
func (r *Remote) Run() error {
	r.ch.Start(r.handle)
	go r.framePump()

	err := r.ch.Join()
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done
	return err
}

// Close stops the frame pump and the channel.
func (r *Remote) Close() error {
	r.stopOnce.Do(func() { close(r.stop) })
	return r.ch.Close()
}

// SetWorking toggles the local busy indicator. It bypasses frame
// coalescing; the indicator must move even when no pixels do.
func (r *Remote) SetWorking(working bool) {
	if err := r.ch.Send(Message{Kind: KindWorking, Payload: Working{Working: working}}); err != nil {
		r.cfg.Logger.Warn("working indicator dropped", zap.Error(err))
	}
}

// Clear blanks the figure.
func (r *Remote) Clear() {
	r.figMu.Lock()
	r.cfg.Figure.Clear()
	r.figMu.Unlock()
}

// Flush rasterizes the figure and queues the frame for transmission.
func (r *Remote) Flush() {
	r.figMu.Lock()
	img := r.cfg.Figure.Render()
	r.figMu.Unlock()
	r.queueFrame(img)
}

// BlitRegion queues a partial frame update at (top, left) of the current
// frame.
func (r *Remote) BlitRegion(img *image.RGBA, top, left int) {
	b := img.Bounds()
	r.mu.Lock()
	r.blits = append(r.blits, Blit{
		Buffer: rasterBytes(img),
		W:      b.Dx(),
		H:      b.Dy(),
		Top:    top,
		Left:   left,
	})
	r.mu.Unlock()
}

func (r *Remote) queueFrame(img *image.RGBA) {
	if img == nil {
		return
	}
	b := img.Bounds()
	frame := &Draw{Buffer: rasterBytes(img), W: b.Dx(), H: b.Dy()}

	r.mu.Lock()
	r.pending = frame
	r.blits = nil
	r.mu.Unlock()
}

// framePump drains the pending frame state onto the pipe at the configured
// interval. A final drain runs at shutdown so the last frame is never lost.
func (r *Remote) framePump() {
	defer close(r.done)

	ticker := time.NewTicker(r.cfg.SendInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.drainFrames()
		case <-r.stop:
			r.drainFrames()
			return
		}
	}
}

func (r *Remote) drainFrames() {
	r.mu.Lock()
	frame := r.pending
	blits := r.blits
	r.pending = nil
	r.blits = nil
	r.mu.Unlock()

	if frame != nil {
		if err := r.ch.Send(Message{Kind: KindDraw, Payload: *frame}); err != nil {
			r.cfg.Logger.Warn("frame dropped", zap.Error(err))
			return
		}
		r.recordFrame(len(frame.Buffer))
	}
	for _, blit := range blits {
		if err := r.ch.Send(Message{Kind: KindBlit, Payload: blit}); err != nil {
			r.cfg.Logger.Warn("blit dropped", zap.Error(err))
			return
		}
		r.recordBlit(len(blit.Buffer))
	}
}

// handle replays one inbound geometry or input message onto the figure. It
// runs on the channel's receive goroutine.
func (r *Remote) handle(m Message) {
	switch m.Kind {
	case KindDPI:
		r.figMu.Lock()
		r.cfg.Figure.SetDPI(m.Payload.(DPI).DPI)
		r.figMu.Unlock()
		r.Flush()

	case KindResize:
		p := m.Payload.(Resize)
		r.figMu.Lock()
		r.cfg.Figure.Resize(p.WidthInches, p.HeightInches)
		r.figMu.Unlock()
		r.Flush()

	case KindMousePress, KindMouseMove, KindMouseRelease, KindMouseDoubleClick:
		// Stale-drag protection happens on the local side, which coalesces
		// moves before they cross the pipe; replay here stays in order.
		p := m.Payload.(Mouse)
		r.figMu.Lock()
		r.cfg.Figure.MouseEvent(m.Kind, p.X, p.Y, p.Button)
		r.figMu.Unlock()
		r.Flush()

	case KindPrint:
		p := m.Payload.(Print)
		r.figMu.Lock()
		err := r.cfg.Figure.Export(p)
		r.figMu.Unlock()
		if err != nil {
			r.cfg.Logger.Error("figure export failed",
				zap.String("path", p.Path),
				zap.Error(err))
		}

	default:
		r.cfg.Logger.Warn("unexpected canvas message", zap.Stringer("kind", m.Kind))
	}
}

// rasterBytes copies an image's pixels into a tightly packed RGBA buffer.
// The image's own Pix may carry per-row padding and is reused by renderers.
func rasterBytes(img *image.RGBA) []byte {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]byte, 4*w*h)
	for y := 0; y < h; y++ {
		src := img.Pix[y*img.Stride : y*img.Stride+4*w]
		copy(out[y*4*w:], src)
	}
	return out
}

func (r *Remote) recordFrame(bytes int) {
	if r.cfg.Metrics == nil {
		return
	}
	r.cfg.Metrics.CanvasFramesSent.WithLabelValues("canvas-remote").Inc()
	r.cfg.Metrics.CanvasBytesSent.WithLabelValues("canvas-remote").Add(float64(bytes))
}

func (r *Remote) recordBlit(bytes int) {
	if r.cfg.Metrics == nil {
		return
	}
	r.cfg.Metrics.CanvasBlitsSent.WithLabelValues("canvas-remote").Inc()
	r.cfg.Metrics.CanvasBytesSent.WithLabelValues("canvas-remote").Add(float64(bytes))
}
