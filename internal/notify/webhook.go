package notify

import (
	"context"
	"log/slog"
	"modelops/pkg/backoff"
	"modelops/pkg/circuitbreaker"
	"modelops/pkg/cloudevent"
	"net/url"
	"sync"
	"sync/atomic"
	"time"
)

// pending is a queued event and the number of times it was requeued.
type pending struct {
	event    *cloudevent.CloudEvent
	requeues int
}

// Webhook is an in-memory async notifier. Events are queued in a bounded
// channel and delivered to one URL by a worker pool. When the buffer is full
// events are dropped.
type Webhook struct {
	queue    chan *pending
	sender   *cloudevent.Sender
	breakers *circuitbreaker.Registry
	host     string
	config   Config
	logger   *slog.Logger
	metrics  MetricsRecorder
	retry    backoff.Func

	queued       atomic.Int64
	delivered    atomic.Int64
	failed       atomic.Int64
	dropped      atomic.Int64
	requeued     atomic.Int64
	retriesTotal atomic.Int64

	wg       sync.WaitGroup
	shutdown chan struct{}
	closed   atomic.Bool
}

// NewWebhook starts a notifier delivering to cfg.URL. breakers may be shared
// with other outbound callers; nil creates a private registry. metrics may be nil.
func NewWebhook(cfg Config, breakers *circuitbreaker.Registry, metrics MetricsRecorder) *Webhook {
	cfg = cfg.withDefaults()
	if breakers == nil {
		breakers = circuitbreaker.NewRegistry(circuitbreaker.Config{
			Threshold: defaultBreakerThreshold,
			Cooldown:  cfg.Cooldown,
		})
	}

	w := &Webhook{
		queue:    make(chan *pending, cfg.BufferSize),
		sender:   cloudevent.NewSender(cfg.HTTPTimeout),
		breakers: breakers,
		host:     extractHost(cfg.URL),
		config:   cfg,
		logger:   slog.With("component", "notifier", "destination", extractHost(cfg.URL)),
		metrics:  metrics,
		retry:    backoff.ExponentialFunc(backoff.Config{}),
		shutdown: make(chan struct{}),
	}

	w.wg.Add(cfg.Workers)
	for range cfg.Workers {
		go w.worker()
	}
	if metrics != nil {
		go w.reportQueueSize()
	}

	w.logger.Info("Notifier started", "workers", cfg.Workers, "buffer", cfg.BufferSize)
	return w
}

// reportQueueSize periodically reports the queue size metric.
func (w *Webhook) reportQueueSize() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-w.shutdown:
			return
		case <-ticker.C:
			w.metrics.RecordNotifierQueueSize(context.Background(), int64(len(w.queue)))
		}
	}
}

// Publish queues an event for async delivery.
func (w *Webhook) Publish(event *cloudevent.CloudEvent) error {
	if w.closed.Load() {
		return ErrClosed
	}

	select {
	case w.queue <- &pending{event: event}:
		w.queued.Add(1)
		return nil
	default:
		w.drop("Event dropped, buffer full", event)
		return ErrBufferFull
	}
}

// Stats returns current notifier statistics.
func (w *Webhook) Stats() Stats {
	return Stats{
		QueueDepth:   len(w.queue),
		Queued:       w.queued.Load(),
		Delivered:    w.delivered.Load(),
		Failed:       w.failed.Load(),
		Dropped:      w.dropped.Load(),
		Requeued:     w.requeued.Load(),
		RetriesTotal: w.retriesTotal.Load(),
		BreakerOpen:  w.breakers.Get(w.host).State() == circuitbreaker.Open,
	}
}

// Close stops accepting events and waits for queued ones to be delivered
// until ctx is done.
func (w *Webhook) Close(ctx context.Context) error {
	if w.closed.Swap(true) {
		return nil
	}

	w.logger.Info("Notifier shutting down", "queued", len(w.queue))
	close(w.shutdown)

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("Notifier shutdown complete",
			"delivered", w.delivered.Load(),
			"failed", w.failed.Load(),
			"dropped", w.dropped.Load(),
		)
		return nil
	case <-ctx.Done():
		w.logger.Warn("Notifier shutdown timed out", "remaining", len(w.queue))
		return ctx.Err()
	}
}

func (w *Webhook) worker() {
	defer w.wg.Done()

	for {
		select {
		case <-w.shutdown:
			w.drainQueue()
			return
		case p := <-w.queue:
			w.deliver(p)
		}
	}
}

// drainQueue delivers remaining events after the shutdown signal.
func (w *Webhook) drainQueue() {
	for {
		select {
		case p := <-w.queue:
			w.deliver(p)
		default:
			return
		}
	}
}

// deliver sends one event with retry, guarded by the host's circuit breaker.
func (w *Webhook) deliver(p *pending) {
	breaker := w.breakers.Get(w.host)
	if !breaker.Allow() {
		w.requeue(p)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultDeliverTimeout)
	defer cancel()

	start := time.Now()
	if err := w.sendWithRetry(ctx, p.event); err != nil {
		breaker.RecordFailure()
		w.failed.Add(1)
		if w.metrics != nil {
			w.metrics.RecordNotifierFailed(ctx)
		}
		w.logger.Warn("Delivery failed", "type", p.event.Type, "subject", p.event.Subject, "error", err)
		return
	}

	breaker.RecordSuccess()
	w.delivered.Add(1)
	if w.metrics != nil {
		w.metrics.RecordNotifierDelivered(ctx, time.Since(start).Seconds())
	}
}

// requeue puts an event back after the breaker cooldown.
func (w *Webhook) requeue(p *pending) {
	if p.requeues >= defaultMaxRequeues {
		w.drop("Event dropped, max requeues reached", p.event)
		return
	}

	p.requeues++
	w.requeued.Add(1)
	if w.metrics != nil {
		w.metrics.RecordNotifierRequeued(context.Background())
	}

	go func() {
		select {
		case <-w.shutdown:
			return
		case <-time.After(w.config.Cooldown):
		}

		select {
		case w.queue <- p:
		case <-w.shutdown:
		default:
			w.drop("Event dropped on requeue, buffer full", p.event)
		}
	}()
}

func (w *Webhook) drop(msg string, event *cloudevent.CloudEvent) {
	w.dropped.Add(1)
	if w.metrics != nil {
		w.metrics.RecordNotifierDropped(context.Background())
	}
	w.logger.Warn(msg, "type", event.Type, "subject", event.Subject)
}

func (w *Webhook) sendWithRetry(ctx context.Context, event *cloudevent.CloudEvent) error {
	var lastErr error
	for attempt := range defaultMaxRetries + 1 {
		if attempt > 0 {
			w.retriesTotal.Add(1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.retry(attempt)):
			}
		}

		lastErr = w.sender.Send(ctx, w.config.URL, event, w.config.SigningKey)
		if lastErr == nil {
			return nil
		}
		if cloudevent.IsClientError(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

// extractHost extracts the host from a URL for circuit breaker keying.
func extractHost(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return rawURL
	}
	return parsed.Host
}

var _ Publisher = (*Webhook)(nil)
