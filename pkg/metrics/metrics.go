// Package metrics provides Prometheus instrumentation for dualflow components.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds all metric instances for dualflow components.
type Registry struct {
	// Message Channel Metrics
	ChannelMessagesSent     *prometheus.CounterVec
	ChannelMessagesReceived *prometheus.CounterVec
	ChannelQueueDepth       *prometheus.GaugeVec

	// Execution Queue / Scheduler Metrics
	TasksScheduled    *prometheus.CounterVec
	TasksDeduplicated *prometheus.CounterVec
	TasksExecuted     *prometheus.CounterVec
	TasksFailed       *prometheus.CounterVec
	TaskDuration      *prometheus.HistogramVec
	QueueDepth        *prometheus.GaugeVec

	// Canvas Metrics
	CanvasFramesSent  *prometheus.CounterVec
	CanvasBlitsSent   *prometheus.CounterVec
	CanvasBytesSent   *prometheus.CounterVec
	CanvasInputEvents *prometheus.CounterVec
}

// DefaultRegistry is the default metrics registry used by dualflow components.
var DefaultRegistry *Registry

func init() {
	DefaultRegistry = NewRegistry(prometheus.DefaultRegisterer)
}

// NewRegistry creates a new metrics registry with the given Prometheus registerer.
func NewRegistry(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)

	return &Registry{
		// Message Channel Metrics
		ChannelMessagesSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dualflow",
				Subsystem: "channel",
				Name:      "messages_sent_total",
				Help:      "Total number of messages written to the pipe",
			},
			[]string{"channel", "kind"},
		),

		ChannelMessagesReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dualflow",
				Subsystem: "channel",
				Name:      "messages_received_total",
				Help:      "Total number of messages read from the pipe",
			},
			[]string{"channel", "kind"},
		),

		ChannelQueueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "dualflow",
				Subsystem: "channel",
				Name:      "send_queue_depth",
				Help:      "Messages waiting in the outbound software queue",
			},
			[]string{"channel"},
		),

		// Execution Queue / Scheduler Metrics
		TasksScheduled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dualflow",
				Subsystem: "execqueue",
				Name:      "tasks_scheduled_total",
				Help:      "Total number of tasks pushed onto the execution queue",
			},
			[]string{"scheduler", "kind"},
		),

		TasksDeduplicated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dualflow",
				Subsystem: "execqueue",
				Name:      "tasks_deduplicated_total",
				Help:      "Total number of task pushes dropped because an equal task was already pending",
			},
			[]string{"scheduler", "kind"},
		),

		TasksExecuted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dualflow",
				Subsystem: "execqueue",
				Name:      "tasks_executed_total",
				Help:      "Total number of tasks run by the scheduler loop",
			},
			[]string{"scheduler", "kind"},
		),

		TasksFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dualflow",
				Subsystem: "execqueue",
				Name:      "tasks_failed_total",
				Help:      "Total number of tasks that panicked inside the scheduler loop",
			},
			[]string{"scheduler", "kind"},
		),

		TaskDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "dualflow",
				Subsystem: "execqueue",
				Name:      "task_duration_seconds",
				Help:      "Time spent executing tasks",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"scheduler", "kind"},
		),

		QueueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "dualflow",
				Subsystem: "execqueue",
				Name:      "queue_depth",
				Help:      "Tasks currently pending in the execution queue",
			},
			[]string{"scheduler"},
		),

		// Canvas Metrics
		CanvasFramesSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dualflow",
				Subsystem: "canvas",
				Name:      "frames_sent_total",
				Help:      "Total number of full raster frames shipped to the local canvas",
			},
			[]string{"canvas"},
		),

		CanvasBlitsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dualflow",
				Subsystem: "canvas",
				Name:      "blits_sent_total",
				Help:      "Total number of partial (blit) updates shipped to the local canvas",
			},
			[]string{"canvas"},
		),

		CanvasBytesSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dualflow",
				Subsystem: "canvas",
				Name:      "bytes_sent_total",
				Help:      "Total raster bytes shipped to the local canvas",
			},
			[]string{"canvas"},
		),

		CanvasInputEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dualflow",
				Subsystem: "canvas",
				Name:      "input_events_total",
				Help:      "Total number of input events forwarded to the remote canvas",
			},
			[]string{"canvas", "event"},
		),
	}
}
