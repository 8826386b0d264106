package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/daniellavrushin/hellotrace/log"
	"github.com/daniellavrushin/hellotrace/metrics"
	"github.com/daniellavrushin/hellotrace/model"
)

var ErrClosed = errors.New("pipeline: batcher closed")

// Sink receives flushed batches. Write must not keep the slice.
type Sink interface {
	Write(ctx context.Context, batch []model.Record) error
}

// Batcher collects records and hands them to a Sink once size records are
// buffered or period has passed, whichever comes first. A batch the sink
// rejects is dropped.
type Batcher struct {
	sink   Sink
	size   int
	period time.Duration
	m      *metrics.Metrics

	// mu guards buf, err and closed.
	mu     sync.Mutex
	buf    []model.Record
	err    error
	closed bool

	// flushMu serializes sink writes so batches arrive in order.
	flushMu sync.Mutex

	stop chan struct{}
	done chan struct{}
}

// NewBatcher starts the period timer right away. A period of zero disables
// time-based flushing.
func NewBatcher(sink Sink, size int, period time.Duration, m *metrics.Metrics) *Batcher {
	if size <= 0 {
		size = 1
	}
	b := &Batcher{sink: sink, size: size, period: period, m: m}
	if period > 0 {
		b.stop = make(chan struct{})
		b.done = make(chan struct{})
		go b.loop()
	}
	return b
}

// Add buffers r and flushes when the batch is full. It also returns the error
// of a timer-driven flush that failed since the previous call.
func (b *Batcher) Add(ctx context.Context, r model.Record) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	if b.buf == nil {
		b.buf = make([]model.Record, 0, b.size)
	}
	b.buf = append(b.buf, r)
	full := len(b.buf) >= b.size
	pending := b.err
	b.err = nil
	b.mu.Unlock()

	if full {
		if err := b.Flush(ctx); err != nil {
			return errors.Join(pending, err)
		}
	}
	return pending
}

// Flush writes whatever is buffered.
func (b *Batcher) Flush(ctx context.Context) error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	batch := b.buf
	b.buf = nil
	b.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}

	if err := b.sink.Write(ctx, batch); err != nil {
		b.m.FlushErrors.Inc()
		b.m.Dropped.WithLabelValues(metrics.ReasonFlushError).Add(float64(len(batch)))
		return fmt.Errorf("pipeline: flush %d records: %w", len(batch), err)
	}
	b.m.Batches.Inc()
	b.m.BatchSize.Observe(float64(len(batch)))
	log.Debugf("pipeline: flushed %d records", len(batch))
	return nil
}

// Pending is the number of buffered records.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

// Close stops the timer and flushes the open batch. Later Adds fail with
// ErrClosed.
func (b *Batcher) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	// A timer flush still running records its error before done closes.
	if b.stop != nil {
		close(b.stop)
		<-b.done
	}
	b.mu.Lock()
	pending := b.err
	b.err = nil
	b.mu.Unlock()
	return errors.Join(pending, b.Flush(ctx))
}

func (b *Batcher) loop() {
	defer close(b.done)
	t := time.NewTicker(b.period)
	defer t.Stop()
	for {
		select {
		case <-b.stop:
			return
		case <-t.C:
			if err := b.Flush(context.Background()); err != nil {
				log.Errorf("%v", err)
				b.mu.Lock()
				b.err = errors.Join(b.err, err)
				b.mu.Unlock()
			}
		}
	}
}
