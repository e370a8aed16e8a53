// Package persister drains the durable log into the persistent store in
// batches. Offsets are committed only after the batch they cover has been
// written, so a crash at any point leads to redelivery, never loss, and
// the store's unique messageId turns redelivery into a no-op.
package persister

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	"github.com/ammar1510/chatline/internal/broker"
	"github.com/ammar1510/chatline/internal/logger"
	"github.com/ammar1510/chatline/internal/metrics"
	"github.com/ammar1510/chatline/internal/models"
)

const (
	DefaultFlushInterval = 5 * time.Minute
	DefaultFlushSize     = 1000

	finalFlushTimeout = 30 * time.Second
)

var (
	log = logger.New("persister")

	// pause between attempts while the buffer is full or the log is
	// unreachable. Shortened in tests.
	backpressureDelay = 5 * time.Second
	fetchRetryDelay   = time.Second
)

// Consumer is the subset of *kafka.Reader the persister uses.
type Consumer interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Store writes a batch, skipping messages it already holds.
type Store interface {
	UpsertMessages(ctx context.Context, msgs []*models.Message) (int64, error)
}

// Persister owns the batch buffer. Appends and flushes are serialized by
// mu so two flushes never overlap.
type Persister struct {
	consumer      Consumer
	store         Store
	flushInterval time.Duration
	flushSize     int

	mu      sync.Mutex
	pending []kafka.Message   // every fetched record not yet committed
	batch   []*models.Message // the decodable subset of pending

	lastActivity atomic.Int64
}

func New(consumer Consumer, store Store, flushInterval time.Duration, flushSize int) *Persister {
	if flushInterval <= 0 {
		flushInterval = DefaultFlushInterval
	}
	if flushSize <= 0 {
		flushSize = DefaultFlushSize
	}
	p := &Persister{
		consumer:      consumer,
		store:         store,
		flushInterval: flushInterval,
		flushSize:     flushSize,
	}
	p.touch()
	return p
}

// LastActivity reports when the persister last fetched a record or
// finished a flush.
func (p *Persister) LastActivity() time.Time {
	return time.Unix(0, p.lastActivity.Load())
}

func (p *Persister) touch() {
	p.lastActivity.Store(time.Now().UnixNano())
}

// Pending returns how many fetched records await a successful flush.
func (p *Persister) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Run consumes until ctx is cancelled, then makes one last flush attempt.
func (p *Persister) Run(ctx context.Context) error {
	log.Info("Persister started (flush every %s or at %d records)", p.flushInterval, p.flushSize)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.consume(gctx) })
	g.Go(func() error { return p.tick(gctx) })
	err := g.Wait()

	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalFlushTimeout)
	defer cancel()
	if ferr := p.Flush(flushCtx); ferr != nil {
		log.Error("Final flush failed, %d records left for redelivery: %v", p.Pending(), ferr)
	}
	log.Info("Persister stopped")
	return err
}

func (p *Persister) tick(ctx context.Context) error {
	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.Flush(ctx); err != nil {
				log.Warn("Scheduled flush failed, will retry: %v", err)
			}
		}
	}
}

func (p *Persister) consume(ctx context.Context) error {
	for {
		if p.Pending() >= p.flushSize {
			if err := p.Flush(ctx); err != nil {
				log.Warn("Buffer full and flush failing, pausing consumption: %v", err)
				if !sleep(ctx, backpressureDelay) {
					return nil
				}
				continue
			}
		}

		m, err := p.consumer.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error("Failed to fetch record: %v", err)
			if !sleep(ctx, fetchRetryDelay) {
				return nil
			}
			continue
		}
		p.touch()

		if p.add(ctx, m) >= p.flushSize {
			if err := p.Flush(ctx); err != nil {
				log.Warn("Size-triggered flush failed, will retry: %v", err)
			}
		}
	}
}

// add buffers one record and returns the new buffer length. Records that
// cannot be parsed are never stored; with nothing ahead of them they are
// committed right away, otherwise they ride along with the next flush.
func (p *Persister) add(ctx context.Context, m kafka.Message) int {
	msg, decodeErr := broker.Decode(m)

	p.mu.Lock()
	defer p.mu.Unlock()

	if decodeErr != nil {
		metrics.InvalidRecords.Inc()
		log.Warn("Skipping invalid record: %v", decodeErr)
		if len(p.pending) == 0 {
			if err := p.consumer.CommitMessages(ctx, m); err != nil {
				log.Error("Failed to commit invalid record at %d/%d: %v", m.Partition, m.Offset, err)
			}
			return 0
		}
		p.pending = append(p.pending, m)
		return len(p.pending)
	}

	p.pending = append(p.pending, m)
	p.batch = append(p.batch, msg)
	metrics.BufferedRecords.Set(float64(len(p.pending)))
	return len(p.pending)
}

// Flush writes the buffered batch and commits its offsets. On failure the
// buffer is kept intact for the next attempt.
func (p *Persister) Flush(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.pending) == 0 {
		return nil
	}
	size := len(p.batch)
	flog := log.With("batch_size", size)

	start := time.Now()
	var inserted int64
	if size > 0 {
		n, err := p.store.UpsertMessages(ctx, p.batch)
		if err != nil {
			metrics.Flushes.WithLabelValues("error").Inc()
			flog.Error("Failed to persist batch of %d messages: %v", size, err)
			return err
		}
		inserted = n
	}

	if err := p.consumer.CommitMessages(ctx, p.pending...); err != nil {
		metrics.Flushes.WithLabelValues("error").Inc()
		flog.Error("Persisted batch of %d but commit failed, it will be redelivered: %v", size, err)
		return err
	}

	metrics.Flushes.WithLabelValues("ok").Inc()
	metrics.FlushBatchSize.Observe(float64(size))
	flog.Info("Flushed %d messages (%d new) in %s", size, inserted, time.Since(start))

	p.pending = nil
	p.batch = nil
	metrics.BufferedRecords.Set(0)
	p.touch()
	return nil
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
