package execqueue

import (
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/dualflow/dualflow/pkg/metrics"
)

// Config holds scheduler configuration.
type Config struct {
	// Name labels this scheduler in logs and metrics.
	Name string

	// Logger for task failures. Defaults to zap.NewNop().
	Logger *zap.Logger

	// Metrics is the registry to record into. May be nil.
	Metrics *metrics.Registry
}

// Scheduler is the single worker loop of the remote process: it pulls the
// highest-priority task and runs it, holding the owning item's lock for the
// duration. Tasks never run concurrently with each other, but long-running
// tasks do not block the channel goroutines, so new edits queue up while a
// computation is in flight.
type Scheduler struct {
	queue *Queue
	cfg   Config
	done  chan struct{}
}

// New creates a scheduler draining q.
func New(q *Queue, cfg Config) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Name == "" {
		cfg.Name = "scheduler"
	}
	return &Scheduler{
		queue: q,
		cfg:   cfg,
		done:  make(chan struct{}),
	}
}

// Schedule pushes a task, recording scheduling metrics. It returns true if
// the task was enqueued and false if it was deduplicated away.
func (s *Scheduler) Schedule(t Task) bool {
	pushed := s.queue.Push(t)
	if s.cfg.Metrics != nil {
		if pushed {
			s.cfg.Metrics.TasksScheduled.WithLabelValues(s.cfg.Name, t.Kind.String()).Inc()
		} else {
			s.cfg.Metrics.TasksDeduplicated.WithLabelValues(s.cfg.Name, t.Kind.String()).Inc()
		}
		s.cfg.Metrics.QueueDepth.WithLabelValues(s.cfg.Name).Set(float64(s.queue.Len()))
	}
	return pushed
}

// Run executes tasks until a TaskShutdown is popped or the queue is closed
// and drained. A panic inside a task is caught and logged; the loop
// continues with the next task.
func (s *Scheduler) Run() {
	defer close(s.done)

	for {
		t, ok := s.queue.Pop()
		if !ok || t.Kind == TaskShutdown {
			s.cfg.Logger.Debug("scheduler loop exiting",
				zap.String("scheduler", s.cfg.Name))
			return
		}
		s.runTask(t)
	}
}

// Done is closed when the scheduler loop has exited.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

func (s *Scheduler) runTask(t Task) {
	defer func() {
		if r := recover(); r != nil {
			if s.cfg.Metrics != nil {
				s.cfg.Metrics.TasksFailed.WithLabelValues(s.cfg.Name, t.Kind.String()).Inc()
			}
			s.cfg.Logger.Error("task panicked",
				zap.String("scheduler", s.cfg.Name),
				zap.Stringer("kind", t.Kind),
				zap.String("item", t.DedupID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
		}
	}()

	start := time.Now()

	if t.Lock != nil {
		t.Lock.Lock()
		defer t.Lock.Unlock()
	}
	t.Run()

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.TasksExecuted.WithLabelValues(s.cfg.Name, t.Kind.String()).Inc()
		s.cfg.Metrics.TaskDuration.WithLabelValues(s.cfg.Name, t.Kind.String()).
			Observe(time.Since(start).Seconds())
		s.cfg.Metrics.QueueDepth.WithLabelValues(s.cfg.Name).Set(float64(s.queue.Len()))
	}
}
