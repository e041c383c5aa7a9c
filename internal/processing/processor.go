// Package processing runs upload verification in-process when no Redis queue
// is configured. Goroutines drain a bounded channel.
package processing

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/dharsanguruparan/ScanVault/internal/queue"
)

// ErrQueueFull is returned by EnqueueVerify when the buffer is saturated.
var ErrQueueFull = errors.New("processing queue full")

// HandlerFunc processes one verification job.
type HandlerFunc func(ctx context.Context, payload queue.VerifyPayload) error

// Processor consumes verification jobs on a fixed number of goroutines.
type Processor struct {
	handle  HandlerFunc
	queue   chan queue.VerifyPayload
	workers int
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// New builds a Processor with queue capacity tied to worker count.
func New(handle HandlerFunc, workers int, logger *slog.Logger) *Processor {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		handle:  handle,
		queue:   make(chan queue.VerifyPayload, workers*16),
		workers: workers,
		logger:  logger.With("component", "processing"),
	}
}

// Start launches worker goroutines that exit when ctx is cancelled.
func (p *Processor) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

// Wait blocks until every worker has exited.
func (p *Processor) Wait() {
	p.wg.Wait()
}

// EnqueueVerify queues a job without blocking the upload path. A full buffer
// drops the job and reports ErrQueueFull.
func (p *Processor) EnqueueVerify(ctx context.Context, payload queue.VerifyPayload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case p.queue <- payload:
		return nil
	default:
		p.logger.Warn("processor queue full, dropping job", slog.String("scan_id", payload.ScanID))
		return ErrQueueFull
	}
}

func (p *Processor) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-p.queue:
			// Errors are already logged and counted by the handler.
			_ = p.handle(ctx, job)
		}
	}
}
