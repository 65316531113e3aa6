package audit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/upb/access-control-plane/internal/observability"
	"github.com/upb/access-control-plane/models"
	"go.uber.org/zap"
)

// Config holds configuration for the Dispatcher
type Config struct {
	BufferSize  int           // Size of the entry buffer channel
	WorkerCount int           // Number of concurrent workers
	MaxAttempts int           // Delivery attempts per sink before an entry is given up
	RetryDelay  time.Duration // First retry delay; doubles on every attempt
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:  1000,
		WorkerCount: 2,
		MaxAttempts: 5,
		RetryDelay:  200 * time.Millisecond,
	}
}

const writeTimeout = 5 * time.Second

// Dispatcher delivers committed audit entries to sinks in the background.
// Publish never blocks; delivery is at-least-once per sink up to MaxAttempts.
type Dispatcher struct {
	sinks   []Sink
	logger  *zap.Logger
	metrics *observability.Metrics
	cfg     Config

	entries chan *models.AuditEntry
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc

	mu      sync.RWMutex
	started bool
	stopped bool

	delivered atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

// NewDispatcher creates a new Dispatcher instance
func NewDispatcher(sinks []Sink, logger *zap.Logger, metrics *observability.Metrics, cfg Config) *Dispatcher {
	def := DefaultConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = def.WorkerCount
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Dispatcher{
		sinks:   sinks,
		logger:  logger,
		metrics: metrics,
		cfg:     cfg,
		entries: make(chan *models.AuditEntry, cfg.BufferSize),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start starts the background workers
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return fmt.Errorf("audit dispatcher already started")
	}

	for i := 0; i < d.cfg.WorkerCount; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}

	d.started = true
	d.logger.Info("started audit dispatcher",
		zap.Int("worker_count", d.cfg.WorkerCount),
		zap.Int("buffer_size", d.cfg.BufferSize),
		zap.Int("sinks", len(d.sinks)))

	return nil
}

// Stop stops accepting entries and waits for queued ones to be delivered.
// When the timeout expires, pending retries are abandoned.
func (d *Dispatcher) Stop(timeout time.Duration) error {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return fmt.Errorf("audit dispatcher not started")
	}
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	close(d.entries)
	d.mu.Unlock()

	d.logger.Info("stopping audit dispatcher", zap.Int("pending_entries", len(d.entries)))

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("audit dispatcher stopped gracefully")
		d.cancel()
		return nil
	case <-time.After(timeout):
		d.cancel()
		return fmt.Errorf("audit dispatcher stop timeout after %v", timeout)
	}
}

// Publish queues an entry for delivery without blocking.
// It returns false when the entry was dropped.
func (d *Dispatcher) Publish(entry *models.AuditEntry) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.started || d.stopped {
		d.drop(entry, "audit dispatcher not running, dropping entry")
		return false
	}

	select {
	case d.entries <- entry:
		return true
	default:
		d.drop(entry, "audit entry buffer full, dropping entry")
		return false
	}
}

func (d *Dispatcher) drop(entry *models.AuditEntry, msg string) {
	d.dropped.Add(1)
	d.metrics.RecordAuditDropped()
	d.logger.Warn(msg,
		zap.Uint64("sequence", entry.Sequence),
		zap.String("action", string(entry.Action)),
		zap.String("entity_id", entry.EntityID.String()))
}

// worker processes entries from the channel
func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()

	d.logger.Debug("audit worker started", zap.Int("worker_id", id))

	for entry := range d.entries {
		for _, sink := range d.sinks {
			d.deliver(sink, entry)
		}
	}

	d.logger.Debug("audit worker stopped", zap.Int("worker_id", id))
}

// deliver writes one entry to one sink, retrying with exponential backoff
func (d *Dispatcher) deliver(sink Sink, entry *models.AuditEntry) {
	delay := d.cfg.RetryDelay
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(d.ctx, writeTimeout)
		err := sink.Write(ctx, entry)
		cancel()
		if err == nil {
			d.delivered.Add(1)
			d.metrics.RecordAuditDelivery("delivered")
			return
		}

		if attempt >= d.cfg.MaxAttempts || d.ctx.Err() != nil {
			d.failed.Add(1)
			d.metrics.RecordAuditDelivery("failed")
			d.logger.Error("failed to deliver audit entry",
				zap.String("sink", sink.Name()),
				zap.Int("attempts", attempt),
				zap.Uint64("sequence", entry.Sequence),
				zap.String("action", string(entry.Action)),
				zap.Error(err))
			return
		}

		d.metrics.RecordAuditDelivery("retried")
		d.logger.Warn("audit sink write failed, retrying",
			zap.String("sink", sink.Name()),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))

		select {
		case <-time.After(delay):
		case <-d.ctx.Done():
		}
		delay *= 2
	}
}

// GetStats returns statistics about the dispatcher
func (d *Dispatcher) GetStats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return Stats{
		BufferSize:     d.cfg.BufferSize,
		PendingEntries: len(d.entries),
		WorkerCount:    d.cfg.WorkerCount,
		Started:        d.started && !d.stopped,
		Delivered:      d.delivered.Load(),
		Failed:         d.failed.Load(),
		Dropped:        d.dropped.Load(),
	}
}

// Stats represents dispatcher statistics
type Stats struct {
	BufferSize     int    `json:"buffer_size"`
	PendingEntries int    `json:"pending_entries"`
	WorkerCount    int    `json:"worker_count"`
	Started        bool   `json:"started"`
	Delivered      uint64 `json:"delivered"`
	Failed         uint64 `json:"failed"`
	Dropped        uint64 `json:"dropped"`
}
