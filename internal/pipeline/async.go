package pipeline

import (
	"context"

	"github.com/sells-group/registry-sync/internal/model"
)

// Handle tracks a run started with Start.
type Handle struct {
	RunID string

	done    chan struct{}
	summary *model.RunSummary
	err     error
}

// Done is closed when the run finishes.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the run finishes or ctx is done. Cancelling ctx stops
// the wait, not the run.
func (h *Handle) Wait(ctx context.Context) (*model.RunSummary, error) {
	select {
	case <-h.done:
		return h.summary, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Start records the run and executes it on a new goroutine. Cancelling ctx
// aborts the stage in flight and fails the run.
func (p *Pipeline) Start(ctx context.Context, req Request) (*Handle, error) {
	run, err := p.begin(ctx, req)
	if err != nil {
		return nil, err
	}

	h := &Handle{RunID: run.ID, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		h.summary, h.err = p.execute(ctx, run, req)
	}()
	return h, nil
}
