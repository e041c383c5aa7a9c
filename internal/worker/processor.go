// Package worker plugs upload verification into the asynq server loop.
package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/ScanVault/internal/queue"
	"github.com/dharsanguruparan/ScanVault/internal/verify"
)

// Verifier is the work done for each verification task.
type Verifier interface {
	Verify(ctx context.Context, p queue.VerifyPayload) (string, error)
}

// Processor is plugged into the asynq worker loop.
type Processor struct {
	verifier Verifier
}

// NewProcessor constructs a worker processor.
func NewProcessor(v Verifier) *Processor {
	return &Processor{verifier: v}
}

// Handler registers the verification task handler.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.VerifyUploadTask, p.handleVerify)
	return mux
}

func (p *Processor) handleVerify(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.ParseVerifyPayload(task)
	if err != nil {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	if _, err := p.verifier.Verify(ctx, payload); err != nil {
		if errors.Is(err, verify.ErrMismatch) {
			// Stored bytes will not change on retry.
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return err
	}
	return nil
}
