package gate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/loomworld/canonry/internal/canon"
)

// Service wraps a Gate with a lock-free submission path: producers enqueue
// proposals and canonization triggers from any goroutine, and a single Run
// goroutine drains the queue in FIFO order.
//
// Thread-safety model:
//   - Submit / Canonize: safe from any goroutine
//   - Run: must be called from exactly one goroutine
type Service struct {
	gate  *Gate
	queue *intakeQueue
}

// NewService creates a Service over a gate.
func NewService(g *Gate) *Service {
	return &Service{
		gate:  g,
		queue: newIntakeQueue(),
	}
}

// Gate returns the underlying gate for direct (synchronous) use.
func (s *Service) Gate() *Gate {
	return s.gate
}

// Submit enqueues a proposal without blocking on the service loop.
// Returns an error only when the service is stopped.
func (s *Service) Submit(p canon.Proposal) error {
	ok := s.queue.Enqueue(intakeItem{
		kind:     intakeSubmit,
		proposal: &p,
	})
	if !ok {
		return fmt.Errorf("submit %s: service stopped", p.ID)
	}
	return nil
}

// Canonize enqueues a canonization run for a scope and waits for its
// result.
func (s *Service) Canonize(ctx context.Context, scope string) (*Result, error) {
	done := make(chan intakeOutcome, 1)
	ok := s.queue.Enqueue(intakeItem{
		kind:  intakeCanonize,
		scope: scope,
		done:  done,
	})
	if !ok {
		return nil, fmt.Errorf("canonize %s: service stopped", scope)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case out := <-done:
		return out.result, out.err
	}
}

// Run starts the single-writer service loop.
// Blocks until the context is cancelled or Stop() is called.
//
// Item processing failures are logged and the loop continues; a failed
// submission stays absent from the proposal store and the caller's next
// canonize run proceeds without it.
func (s *Service) Run(ctx context.Context) error {
	slog.Info("gate service starting")

	for {
		item, ok := s.queue.TryDequeue()
		if ok {
			s.process(ctx, item)
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("gate service stopping: context cancelled")
			s.queue.Close()
			return ctx.Err()

		case <-s.queue.Wait():
			// Signal received, or the closed channel fired.
			if s.queue.Len() == 0 {
				slog.Info("gate service stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop gracefully shuts down the service.
// Closes the intake queue, which will cause Run() to return.
func (s *Service) Stop() {
	s.queue.Close()
}

// process handles one queue item on the Run goroutine.
func (s *Service) process(ctx context.Context, item intakeItem) {
	switch item.kind {
	case intakeSubmit:
		if item.proposal == nil {
			slog.Error("submit item missing proposal")
			return
		}
		if err := s.gate.Submit(ctx, *item.proposal); err != nil {
			slog.Error("submission failed",
				"proposal", item.proposal.ID,
				"error", err,
			)
		}

	case intakeCanonize:
		result, err := s.gate.RunCanonization(ctx, item.scope)
		if item.done != nil {
			item.done <- intakeOutcome{result: result, err: err}
		} else if err != nil {
			slog.Error("canonization failed",
				"scope", item.scope,
				"error", err,
			)
		}

	default:
		slog.Error("unknown intake item kind", "kind", int(item.kind))
	}
}
