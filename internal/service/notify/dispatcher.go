package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sethvargo/go-retry"

	"github.com/ceer-lab/ceer/internal/domain"
)

const (
	DefaultWorkers     = 4
	DefaultQueueSize   = 256
	DefaultMaxRetries  = 3
	DefaultRetryBase   = 200 * time.Millisecond
	DefaultSendTimeout = 15 * time.Second
)

// Options tunes a Dispatcher. Zero values select the defaults above; a negative
// MaxRetries disables retries.
type Options struct {
	Workers     int
	QueueSize   int
	MaxRetries  int
	RetryBase   time.Duration
	SendTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	} else if o.MaxRetries == 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.RetryBase <= 0 {
		o.RetryBase = DefaultRetryBase
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = DefaultSendTimeout
	}
	return o
}

// Dispatcher queues notifications and delivers them to every sink from a fixed
// worker pool. Enqueue never blocks: when the queue is full the notification is
// dropped with a warning.
type Dispatcher struct {
	sinks   []Sink
	opts    Options
	logger  *slog.Logger
	metrics *dispatchMetrics

	queue   chan domain.Notification
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	closeMu sync.Mutex
}

// NewDispatcher starts the worker pool. reg may be nil to skip metrics.
func NewDispatcher(sinks []Sink, opts Options, reg prometheus.Registerer, logger *slog.Logger) *Dispatcher {
	opts = opts.withDefaults()
	d := &Dispatcher{
		sinks:  sinks,
		opts:   opts,
		logger: logger,
		queue:  make(chan domain.Notification, opts.QueueSize),
	}
	if reg != nil {
		d.metrics = newDispatchMetrics(reg)
	}
	for range opts.Workers {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Enqueue schedules n for delivery without blocking the caller.
func (d *Dispatcher) Enqueue(n domain.Notification) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.Warn("dispatcher closed, dropping notification", "kind", n.Kind, "bom_id", n.BOMID)
		d.metrics.dropped(n.Kind)
		return
	}
	select {
	case d.queue <- n:
		d.metrics.queued(len(d.queue))
	default:
		d.logger.Warn("notification queue full, dropping notification", "kind", n.Kind, "bom_id", n.BOMID, "recipient", n.Recipient.ID)
		d.metrics.dropped(n.Kind)
	}
}

// Close stops accepting notifications, drains the queue and waits for workers.
func (d *Dispatcher) Close() {
	d.closeMu.Lock()
	defer d.closeMu.Unlock()
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for n := range d.queue {
		d.metrics.queued(len(d.queue))
		for _, sink := range d.sinks {
			d.deliver(sink, n)
		}
	}
}

func (d *Dispatcher) deliver(sink Sink, n domain.Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), d.opts.SendTimeout)
	defer cancel()

	start := time.Now()
	attempts := 0
	backoff := retry.WithMaxRetries(uint64(d.opts.MaxRetries), retry.NewExponential(d.opts.RetryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		err := sink.Notifier.Notify(ctx, n)
		if err == nil || errors.Is(err, ErrUndeliverable) {
			return err
		}
		return retry.RetryableError(err)
	})
	d.metrics.observe(sink.Name, n.Kind, err, time.Since(start))
	switch {
	case err == nil:
		d.logger.Debug("notification delivered", "sink", sink.Name, "kind", n.Kind, "recipient", n.Recipient.ID, "attempts", attempts)
	case errors.Is(err, ErrUndeliverable):
		d.logger.Debug("notification skipped", "sink", sink.Name, "kind", n.Kind, "recipient", n.Recipient.ID, "error", err)
	default:
		d.logger.Warn("notification delivery failed", "sink", sink.Name, "kind", n.Kind, "recipient", n.Recipient.ID, "attempts", attempts, "error", err)
	}
}
