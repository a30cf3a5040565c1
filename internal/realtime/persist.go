package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
)

type persistJob struct {
	name string
	key  string
	fn   func(ctx context.Context) error
}

// persister runs side effects that must not block a room: counter writes, unique viewers,
// reaction aggregates, event publishing. Jobs with the same key land on the same worker,
// so writes for one stream are applied in submit order.
type persister struct {
	mu      sync.RWMutex
	closed  bool
	queues  []chan persistJob
	wg      sync.WaitGroup
	timeout time.Duration
	logger  *zap.Logger
}

func newPersister(workers, buffer int, timeout time.Duration, logger *zap.Logger) *persister {
	if workers <= 0 {
		workers = 1
	}
	p := &persister{
		queues:  make([]chan persistJob, workers),
		timeout: timeout,
		logger:  logger,
	}
	for i := range p.queues {
		p.queues[i] = make(chan persistJob, buffer)
		p.wg.Add(1)
		go p.run(p.queues[i])
	}
	return p
}

func (p *persister) run(q chan persistJob) {
	defer p.wg.Done()
	for job := range q {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		if err := job.fn(ctx); err != nil {
			p.logger.Warn("persist job failed", zap.String("job", job.name), zap.String("stream_id", job.key), zap.Error(err))
		}
		cancel()
	}
}

// submit queues fn on the worker owning key. It blocks while that worker's queue is full.
func (p *persister) submit(key, name string, fn func(ctx context.Context) error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.logger.Debug("persist job dropped after shutdown", zap.String("job", name), zap.String("stream_id", key))
		return
	}
	idx := xxhash.Sum64String(key) % uint64(len(p.queues))
	p.queues[idx] <- persistJob{name: name, key: key, fn: fn}
}

// close stops accepting jobs and waits for queued ones to finish.
func (p *persister) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for _, q := range p.queues {
		close(q)
	}
	p.mu.Unlock()
	p.wg.Wait()
}
