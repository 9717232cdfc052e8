package notify

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/terra-clan/bid-engine/internal/models"
)

// Dispatcher queues events in memory and publishes them from a single worker.
// Enqueue never blocks; when the queue is full the event is dropped and logged.
type Dispatcher struct {
	emitter Emitter
	queue   chan models.BidEvent
	timeout time.Duration

	published atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// Stats is a point-in-time view of dispatcher counters
type Stats struct {
	Queued    int   `json:"queued"`
	Published int64 `json:"published"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
}

// NewDispatcher creates a dispatcher publishing through emitter
func NewDispatcher(emitter Emitter, queueSize int, timeout time.Duration) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Dispatcher{
		emitter: emitter,
		queue:   make(chan models.BidEvent, queueSize),
		timeout: timeout,
	}
}

// Enqueue schedules ev for publication
func (d *Dispatcher) Enqueue(ev models.BidEvent) {
	select {
	case d.queue <- ev:
	default:
		d.dropped.Add(1)
		slog.Error("notification queue full, dropping event",
			"event_id", ev.ID,
			"type", ev.Type,
			"bid_id", ev.BidID,
		)
	}
}

// Run publishes queued events until ctx is done, then drains what is left
func (d *Dispatcher) Run(ctx context.Context) error {
	slog.Info("notification dispatcher started", "queue_size", cap(d.queue))

	for {
		select {
		case <-ctx.Done():
			d.drain()
			slog.Info("notification dispatcher stopped",
				"published", d.published.Load(),
				"failed", d.failed.Load(),
				"dropped", d.dropped.Load(),
			)
			return nil
		case ev := <-d.queue:
			d.publish(ev)
		}
	}
}

// Stats returns the current counters
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Queued:    len(d.queue),
		Published: d.published.Load(),
		Failed:    d.failed.Load(),
		Dropped:   d.dropped.Load(),
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case ev := <-d.queue:
			d.publish(ev)
		default:
			return
		}
	}
}

// publish runs on its own deadline so shutdown does not cut off in-flight events
func (d *Dispatcher) publish(ev models.BidEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := d.emitter.Emit(ctx, ev); err != nil {
		d.failed.Add(1)
		slog.Error("failed to publish event",
			"error", err,
			"event_id", ev.ID,
			"type", ev.Type,
			"bid_id", ev.BidID,
		)
		return
	}
	d.published.Add(1)
	slog.Debug("event published", "event_id", ev.ID, "type", ev.Type)
}
