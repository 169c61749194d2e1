// Package notify delivers pipeline lifecycle events as signed CloudEvents to
// a webhook, asynchronously, with retry and a circuit breaker.
package notify

import (
	"context"
	"errors"
	"modelops/pkg/cloudevent"
)

// ErrBufferFull is returned when the buffer is full and the event is dropped.
var ErrBufferFull = errors.New("notifier buffer full, event dropped")

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("notifier is closed")

// Publisher accepts events for delivery.
type Publisher interface {
	// Publish queues an event for async delivery. Non-blocking.
	Publish(event *cloudevent.CloudEvent) error
}

// Discard is a Publisher that drops every event, used when no webhook is set.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(*cloudevent.CloudEvent) error { return nil }

// Stats holds notifier statistics.
type Stats struct {
	QueueDepth   int   // current queue size
	Queued       int64 // total events queued
	Delivered    int64 // successful deliveries
	Failed       int64 // failed after retries
	Dropped      int64 // dropped due to full buffer or max requeues
	Requeued     int64 // requeued due to open circuit
	RetriesTotal int64 // total retry attempts
	BreakerOpen  bool  // whether the webhook circuit is open
}

// MetricsRecorder is an optional interface for recording notifier metrics.
type MetricsRecorder interface {
	RecordNotifierDelivered(ctx context.Context, durationSeconds float64)
	RecordNotifierFailed(ctx context.Context)
	RecordNotifierDropped(ctx context.Context)
	RecordNotifierRequeued(ctx context.Context)
	RecordNotifierQueueSize(ctx context.Context, size int64)
}
