package notification

import (
	"context"
	"sync"
	"time"

	"farmstore/internal/domain/model"
	"farmstore/internal/metrics"

	"go.uber.org/zap"
)

// Sender hands one notification to the external delivery collaborator.
type Sender interface {
	Send(ctx context.Context, n model.OrderNotification) error
}

// Deduper suppresses a second attempt for the same logical event.
type Deduper interface {
	// FirstDelivery reports whether key has not been seen before and marks it.
	FirstDelivery(ctx context.Context, key string) (bool, error)
	// Forget clears key so a later attempt is not suppressed.
	Forget(ctx context.Context, key string) error
}

type Options struct {
	Workers     int
	QueueSize   int
	SendTimeout time.Duration
}

type job struct {
	ctx context.Context
	n   model.OrderNotification
}

// Dispatcher delivers order notifications in the background.
// Notify never blocks the caller and never reports delivery failures back to it.
type Dispatcher struct {
	sender  Sender
	dedup   Deduper
	logger  *zap.Logger
	metrics *metrics.Metrics
	timeout time.Duration

	queue    chan job
	workers  sync.WaitGroup
	overflow sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(sender Sender, dedup Deduper, logger *zap.Logger, m *metrics.Metrics, opts Options) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.New()
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = 1
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 10 * time.Second
	}

	d := &Dispatcher{
		sender:  sender,
		dedup:   dedup,
		logger:  logger,
		metrics: m,
		timeout: opts.SendTimeout,
		queue:   make(chan job, opts.QueueSize),
	}
	for i := 0; i < opts.Workers; i++ {
		d.workers.Add(1)
		go d.work()
	}
	return d
}

// Notify enqueues n. When the queue is full the attempt runs on its own goroutine
// instead of being dropped.
func (d *Dispatcher) Notify(ctx context.Context, n model.OrderNotification) {
	j := job{ctx: context.WithoutCancel(ctx), n: n}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.metrics.Notifications.WithLabelValues(string(n.EventKind), "dropped").Inc()
		d.logger.Warn("notification dropped after shutdown",
			zap.String("order_number", n.OrderNumber),
			zap.String("event_kind", string(n.EventKind)),
		)
		return
	}

	select {
	case d.queue <- j:
		d.metrics.NotifyQueue.Inc()
	default:
		d.overflow.Add(1)
		go func() {
			defer d.overflow.Done()
			d.deliver(j)
		}()
	}
}

func (d *Dispatcher) work() {
	defer d.workers.Done()
	for j := range d.queue {
		d.metrics.NotifyQueue.Dec()
		d.deliver(j)
	}
}

func (d *Dispatcher) deliver(j job) {
	ctx, cancel := context.WithTimeout(j.ctx, d.timeout)
	defer cancel()

	n := j.n
	kind := string(n.EventKind)
	log := d.logger.With(
		zap.String("event_id", n.EventID),
		zap.String("event_kind", kind),
		zap.String("order_number", n.OrderNumber),
		zap.String("status", string(n.Status)),
	)

	key := n.DedupKey()
	if d.dedup != nil {
		first, err := d.dedup.FirstDelivery(ctx, key)
		if err != nil {
			//重複排除が使えなくても送る
			log.Warn("notification dedup unavailable", zap.Error(err))
		} else if !first {
			d.metrics.Notifications.WithLabelValues(kind, "duplicate").Inc()
			log.Debug("duplicate notification suppressed")
			return
		}
	}

	if err := d.sender.Send(ctx, n); err != nil {
		d.metrics.Notifications.WithLabelValues(kind, "failed").Inc()
		log.Error("notification delivery failed", zap.Error(err))
		if d.dedup != nil {
			if ferr := d.dedup.Forget(ctx, key); ferr != nil {
				log.Warn("notification dedup key not cleared", zap.Error(ferr))
			}
		}
		return
	}
	d.metrics.Notifications.WithLabelValues(kind, "sent").Inc()
	log.Info("notification sent")
}

// Close stops accepting notifications and waits for queued and in-flight ones.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.workers.Wait()
		d.overflow.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
