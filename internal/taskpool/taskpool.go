// Package taskpool runs background work (opening collections on Open,
// including any index rebuilds that opening runs) on a bounded goroutine
// pool instead of one goroutine per task, grounded on internal/pool/scheduler.go's use of
// github.com/panjf2000/ants/v2 (WithExpiryDuration, WithPanicHandler,
// falling back to a plain goroutine if the pool can't be created).
package taskpool

import (
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/petitan/ironbase/internal/logger"
)

// Pool runs submitted tasks on at most Size concurrent goroutines.
type Pool struct {
	pool   *ants.Pool
	logger *logger.Logger
	wg     sync.WaitGroup
}

// New creates a pool with the given worker cap. Workers idle out after
// one minute of inactivity. A size <= 0 is treated as 1. If the
// underlying pool can't be constructed, Submit falls back to running
// tasks on a fresh goroutine each time rather than failing outright.
func New(size int, log *logger.Logger) *Pool {
	p := &Pool{logger: log}
	if size <= 0 {
		size = 1
	}
	pool, err := ants.NewPool(size,
		ants.WithExpiryDuration(time.Minute),
		ants.WithPanicHandler(func(v interface{}) {
			log.Error("taskpool: background task panicked: %v", v)
		}),
	)
	if err != nil {
		log.Warn("taskpool: failed to create worker pool (%v), falling back to unbounded goroutines", err)
		return p
	}
	p.pool = pool
	return p
}

// Submit runs fn asynchronously. Callers that need to know when every
// submitted task has finished should call Wait.
func (p *Pool) Submit(fn func()) {
	p.wg.Add(1)
	task := func() {
		defer p.wg.Done()
		fn()
	}
	if p.pool == nil {
		go task()
		return
	}
	if err := p.pool.Submit(task); err != nil {
		p.logger.Warn("taskpool: submit failed (%v), running inline on a fresh goroutine", err)
		go task()
	}
}

// Wait blocks until every task submitted so far has completed.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Release shuts down the underlying pool, if any.
func (p *Pool) Release() {
	if p.pool != nil {
		p.pool.Release()
	}
}
