// File: internal/infra/worker/pool.go
package worker

import (
	"context"
	"errors"
	"runtime"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Task is one unit of work submitted to a Pool: a raw webhook delivery's
// body, normalized and run through the quota core, or any other bounded
// piece of ingestion work a caller wants off the request/consumer path.
type Task func(ctx context.Context) error

// Pool is a small fixed-size worker pool draining a bounded job channel.
// Callers that need back-pressure instead of drop-when-saturated
// semantics should size the channel (workers*4) generously or shed load
// upstream of Submit.
type Pool struct {
	wg   sync.WaitGroup
	jobs chan Task
	quit chan struct{}
	n    int
	log  *zerolog.Logger
}

func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Pool{jobs: make(chan Task, workers*4), quit: make(chan struct{}), n: workers}
}

// WithLogger attaches a logger tasks errors are reported through,
// replacing the package-level zerolog logger Start falls back to.
func (p *Pool) WithLogger(l *zerolog.Logger) *Pool {
	p.log = l
	return p
}

func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.n; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-p.quit:
					return
				case task := <-p.jobs:
					if task == nil {
						continue
					}
					if err := task(ctx); err != nil {
						logger := p.log
						if logger == nil {
							logger = &log.Logger
						}
						logger.Error().Err(err).Int("worker", id).Msg("task failed")
					}
				}
			}
		}(i)
	}
}

func (p *Pool) Stop() {
	close(p.quit)
	p.wg.Wait()
}

func (p *Pool) Submit(task Task) error {
	if task == nil {
		return errors.New("nil task")
	}
	select {
	case p.jobs <- task:
		return nil
	default:
		// drop when saturated to avoid back-pressure in v1
		return errors.New("worker queue full")
	}
}
