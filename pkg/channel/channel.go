package channel

import (
	"encoding/gob"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dualflow/dualflow/pkg/metrics"
)

// ErrClosed indicates a send was attempted after the channel began teardown.
var ErrClosed = errors.New("channel is closed")

// Handler receives each inbound message, in arrival order, on the channel's
// receive goroutine. Handlers touching GUI-owned state must dispatch to the
// GUI thread themselves.
type Handler[M any] func(M)

// Config holds channel configuration.
type Config[M any] struct {
	// Logger for traffic and teardown events. Defaults to zap.NewNop().
	Logger *zap.Logger

	// Name labels this channel in logs and metrics (e.g. "workflow-local").
	Name string

	// Last reports whether m terminates the stream. The send goroutine
	// exits after writing such a message; the receive goroutine exits
	// after dispatching one. May be nil, in which case only Close or
	// end-of-stream terminates the loops.
	Last func(m M) bool

	// KindOf labels m for metrics. May be nil.
	KindOf func(m M) string

	// Metrics is the registry to record traffic into. May be nil.
	Metrics *metrics.Registry

	// QueueSize is the outbound software queue capacity. Defaults to 64.
	QueueSize int
}

// Channel is one side of an ordered, bidirectional, message-typed pipe.
// Each side runs one send goroutine (draining the outbound queue into the
// pipe) and one receive goroutine (decoding the pipe and dispatching to the
// handler).
type Channel[M any] struct {
	rw  io.ReadWriter
	cfg Config[M]

	out      chan M
	done     chan struct{}
	recvDone chan struct{}
	closed   atomic.Bool
	sawLast  atomic.Bool

	closeOnce sync.Once
	group     errgroup.Group
	started   atomic.Bool
}

// New creates a channel over rw. Call Start to begin the send and receive
// loops.
func New[M any](rw io.ReadWriter, cfg Config[M]) *Channel[M] {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	return &Channel[M]{
		rw:       rw,
		cfg:      cfg,
		out:      make(chan M, cfg.QueueSize),
		done:     make(chan struct{}),
		recvDone: make(chan struct{}),
	}
}

// Start launches the send and receive goroutines. The handler is invoked on
// the receive goroutine for every inbound message.
func (c *Channel[M]) Start(h Handler[M]) {
	if !c.started.CompareAndSwap(false, true) {
		return
	}

	enc := gob.NewEncoder(c.rw)
	dec := gob.NewDecoder(c.rw)

	c.group.Go(func() error { return c.sendLoop(enc) })
	c.group.Go(func() error {
		defer close(c.recvDone)
		return c.recvLoop(dec, h)
	})
}

// Done returns a channel closed when the receive loop exits, however it
// exits: last message, Close, or loss of the peer. Callers blocked on a
// reply select against it so a dead peer fails the wait instead of hanging
// it.
func (c *Channel[M]) Done() <-chan struct{} { return c.recvDone }

// Send enqueues m for transmission. Messages are written to the pipe in
// Send order. If m is the stream's last message, the channel refuses all
// subsequent sends.
func (c *Channel[M]) Send(m M) error {
	if c.closed.Load() {
		return pkgerrors.Wrapf(ErrClosed, "channel %s", c.cfg.Name)
	}
	if c.cfg.Last != nil && c.cfg.Last(m) {
		c.closed.Store(true)
		c.sawLast.Store(true)
	}

	select {
	case c.out <- m:
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.ChannelQueueDepth.WithLabelValues(c.cfg.Name).Set(float64(len(c.out)))
		}
		return nil
	case <-c.done:
		return pkgerrors.Wrapf(ErrClosed, "channel %s", c.cfg.Name)
	}
}

// Join blocks until both loops have exited. A clean end-of-stream is not an
// error.
func (c *Channel[M]) Join() error {
	return c.group.Wait()
}

// Close force-stops the channel: the send loop exits, and if the underlying
// pipe is closeable it is closed to unblock the receive loop. Prefer ending
// the stream with a last message; Close is for abnormal teardown.
func (c *Channel[M]) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		if closer, ok := c.rw.(io.Closer); ok {
			err = closer.Close()
		}
	})
	return err
}

func (c *Channel[M]) sendLoop(enc *gob.Encoder) error {
	for {
		select {
		case m := <-c.out:
			if err := enc.Encode(&m); err != nil {
				if c.closed.Load() {
					return nil
				}
				c.cfg.Logger.Error("channel send failed",
					zap.String("channel", c.cfg.Name),
					zap.Error(err))
				return pkgerrors.Wrapf(err, "channel %s: encode", c.cfg.Name)
			}
			c.recordSend(m)
			if c.cfg.Last != nil && c.cfg.Last(m) {
				c.cfg.Logger.Debug("channel send loop exiting after last message",
					zap.String("channel", c.cfg.Name))
				return nil
			}
		case <-c.done:
			return nil
		}
	}
}

func (c *Channel[M]) recvLoop(dec *gob.Decoder, h Handler[M]) error {
	for {
		var m M
		if err := dec.Decode(&m); err != nil {
			return c.recvTerminated(err)
		}
		c.recordRecv(m)
		h(m)
		if c.cfg.Last != nil && c.cfg.Last(m) {
			c.sawLast.Store(true)
			c.cfg.Logger.Debug("channel recv loop exiting after last message",
				zap.String("channel", c.cfg.Name))
			return nil
		}
	}
}

// recvTerminated classifies the end of the inbound stream. End-of-stream
// after a shutdown has been seen (or after Close) is normal; anything else
// is an unexpected loss of the peer process.
func (c *Channel[M]) recvTerminated(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.ErrClosedPipe) {
		if c.sawLast.Load() || c.closed.Load() {
			return nil
		}
		c.cfg.Logger.Warn("channel peer closed unexpectedly",
			zap.String("channel", c.cfg.Name))
		return nil
	}
	if c.closed.Load() {
		return nil
	}
	c.cfg.Logger.Error("channel receive failed",
		zap.String("channel", c.cfg.Name),
		zap.Error(err))
	return pkgerrors.Wrapf(err, "channel %s: decode", c.cfg.Name)
}

func (c *Channel[M]) recordSend(m M) {
	if c.cfg.Metrics == nil {
		return
	}
	kind := "message"
	if c.cfg.KindOf != nil {
		kind = c.cfg.KindOf(m)
	}
	c.cfg.Metrics.ChannelMessagesSent.WithLabelValues(c.cfg.Name, kind).Inc()
	c.cfg.Metrics.ChannelQueueDepth.WithLabelValues(c.cfg.Name).Set(float64(len(c.out)))
}

func (c *Channel[M]) recordRecv(m M) {
	if c.cfg.Metrics == nil {
		return
	}
	kind := "message"
	if c.cfg.KindOf != nil {
		kind = c.cfg.KindOf(m)
	}
	c.cfg.Metrics.ChannelMessagesReceived.WithLabelValues(c.cfg.Name, kind).Inc()
}
