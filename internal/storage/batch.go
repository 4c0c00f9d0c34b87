package storage

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// batchOptions sizes a batcher. The zero value of a field selects its
// default.
type batchOptions struct {
	Buffer   int
	MaxBatch int
	Interval time.Duration
	Drain    time.Duration
}

func (o batchOptions) withDefaults() batchOptions {
	if o.Buffer <= 0 {
		o.Buffer = 10_000
	}
	if o.MaxBatch <= 0 {
		o.MaxBatch = 1000
	}
	if o.Interval <= 0 {
		o.Interval = 100 * time.Millisecond
	}
	if o.Drain <= 0 {
		o.Drain = 2 * time.Second
	}
	return o
}

// batcher queues events for a single flushing goroutine. write never
// blocks the request path: when the queue is full the event is dropped and
// counted.
type batcher struct {
	name    string
	opts    batchOptions
	queue   chan *InterventionEvent
	stop    chan struct{}
	stopped chan struct{}
	flush   func([]*InterventionEvent)
	dropped atomic.Uint64
	logger  *zap.Logger
}

func newBatcher(name string, flush func([]*InterventionEvent), logger *zap.Logger) *batcher {
	return startBatcher(name, batchOptions{}, flush, logger)
}

func startBatcher(name string, opts batchOptions, flush func([]*InterventionEvent), logger *zap.Logger) *batcher {
	opts = opts.withDefaults()
	b := &batcher{
		name:    name,
		opts:    opts,
		queue:   make(chan *InterventionEvent, opts.Buffer),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
		flush:   flush,
		logger:  logger.With(zap.String("writer", name)),
	}
	go b.run()
	return b
}

func (b *batcher) write(event *InterventionEvent) {
	select {
	case b.queue <- event:
	default:
		n := b.dropped.Add(1)
		b.logger.Warn("event queue full, dropping event",
			zap.String("event_id", event.EventID),
			zap.Uint64("dropped_total", n),
		)
	}
}

// close flushes whatever is queued, giving up after the drain timeout, and
// waits for the flushing goroutine to exit. It must be called once.
func (b *batcher) close() {
	close(b.stop)
	<-b.stopped
	if n := b.dropped.Load(); n > 0 {
		b.logger.Warn("events dropped during writer lifetime", zap.Uint64("dropped_total", n))
	}
}

func (b *batcher) run() {
	defer close(b.stopped)

	tick := time.NewTicker(b.opts.Interval)
	defer tick.Stop()

	pending := make([]*InterventionEvent, 0, b.opts.MaxBatch)
	emit := func() {
		if len(pending) > 0 {
			b.flush(pending)
			pending = pending[:0]
		}
	}

	for {
		select {
		case ev := <-b.queue:
			pending = append(pending, ev)
			if len(pending) >= b.opts.MaxBatch {
				emit()
			}
		case <-tick.C:
			emit()
		case <-b.stop:
			b.drain(&pending, emit)
			return
		}
	}
}

func (b *batcher) drain(pending *[]*InterventionEvent, emit func()) {
	deadline := time.NewTimer(b.opts.Drain)
	defer deadline.Stop()
	for {
		select {
		case ev := <-b.queue:
			*pending = append(*pending, ev)
			if len(*pending) >= b.opts.MaxBatch {
				emit()
			}
		case <-deadline.C:
			b.logger.Warn("drain timed out", zap.Int("abandoned", len(b.queue)))
			emit()
			return
		default:
			emit()
			return
		}
	}
}
