package jobs

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultPollEvery is how often an idle worker checks the queue.
const DefaultPollEvery = 500 * time.Millisecond

// Pool runs a fixed set of workers that claim queued jobs and execute them.
// Claim is a compare-and-set on the job row, so workers never race on the
// same job even across processes sharing the queue database.
type Pool struct {
	Store  *Store
	Runner *Runner

	// Workers is the number of concurrent jobs. Zero or negative means 1.
	Workers int

	// PollEvery is the idle poll interval. Zero means DefaultPollEvery.
	PollEvery time.Duration

	Log Logger
}

func (p *Pool) workers() int {
	if p.Workers > 0 {
		return p.Workers
	}
	return 1
}

func (p *Pool) pollEvery() time.Duration {
	if p.PollEvery > 0 {
		return p.PollEvery
	}
	return DefaultPollEvery
}

func (p *Pool) log() Logger {
	if p.Log != nil {
		return p.Log
	}
	return nopLogger{}
}

// Run blocks until ctx is canceled, then waits for in-flight jobs to reach a
// terminal state before returning. Always returns ctx's error.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers(); i++ {
		worker := i
		g.Go(func() error {
			p.workerLoop(ctx, worker)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (p *Pool) workerLoop(ctx context.Context, worker int) {
	ticker := time.NewTicker(p.pollEvery())
	defer ticker.Stop()

	for {
		// Drain the queue before going idle.
		for {
			if ctx.Err() != nil {
				return
			}
			job, err := p.Store.Claim(ctx)
			if errors.Is(err, ErrNotFound) {
				break
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				p.log().Printf("worker %d: claim: %v", worker, err)
				break
			}
			p.log().Printf("worker %d: job %s (%s)", worker, job.ID, job.FileName)
			_ = p.Runner.Run(ctx, job)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
