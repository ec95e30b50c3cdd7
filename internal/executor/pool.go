package executor

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/wesleyorama2/steadyrate/internal/metrics"
	"github.com/wesleyorama2/steadyrate/internal/rate"
)

// Pool is a bounded set of workers pulling ticks from a queue.
//
// Workers are spawned on demand up to max; a worker spawned for a tick
// receives that tick directly instead of through the queue. At most max
// iterations are ever in flight.
//
// # Thread Safety
//
// Dispatch, TryDispatch and Close must be called from a single goroutine
// (the scheduler). Results are delivered on the Results channel, which is
// closed once every worker has exited after Close.
type Pool struct {
	max     int
	factory RunnerFactory
	policy  OverflowPolicy
	log     *logrus.Entry
	gauge   WorkerGauge

	iterCtx context.Context

	queue   chan rate.Tick
	results chan metrics.IterationResult

	mu       sync.Mutex
	workers  atomic.Int32
	idle     atomic.Int32
	inFlight atomic.Int32
	peak     atomic.Int32
	nextID   int

	wg     sync.WaitGroup
	done   chan struct{}
	closed bool
}

// NewPool creates a pool. iterCtx is passed to every iteration; cancelling
// it interrupts in-flight work.
func NewPool(iterCtx context.Context, maxWorkers, queueDepth int, policy OverflowPolicy, factory RunnerFactory, log *logrus.Entry) *Pool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Pool{
		max:     maxWorkers,
		factory: factory,
		policy:  policy,
		log:     log,
		iterCtx: iterCtx,
		queue:   make(chan rate.Tick, policy.queueCapacity(queueDepth)),
		results: make(chan metrics.IterationResult, maxWorkers),
		done:    make(chan struct{}),
	}
}

// SetGauge registers a gauge updated whenever the pool grows.
func (p *Pool) SetGauge(g WorkerGauge) {
	p.gauge = g
}

// Results returns the channel of iteration results.
func (p *Pool) Results() <-chan metrics.IterationResult {
	return p.results
}

// Warm starts n idle workers.
func (p *Pool) Warm(n int) int {
	started := 0
	for i := 0; i < n; i++ {
		if !p.spawn(nil) {
			break
		}
		started++
	}
	return started
}

// Workers returns the current number of workers.
func (p *Pool) Workers() int {
	return int(p.workers.Load())
}

// Peak returns the highest worker count reached.
func (p *Pool) Peak() int {
	return int(p.peak.Load())
}

// InFlight returns the number of iterations currently executing.
func (p *Pool) InFlight() int {
	return int(p.inFlight.Load())
}

// Pending returns the number of queued ticks.
func (p *Pool) Pending() int {
	return len(p.queue)
}

// TryDispatch hands a tick to the pool without blocking.
//
// It returns false with the drop reason when the policy rejects the tick.
func (p *Pool) TryDispatch(tick rate.Tick) (bool, metrics.DropReason) {
	if p.policy == OverflowDrop {
		// Unbuffered: the send succeeds only if a worker is waiting.
		select {
		case p.queue <- tick:
			return true, ""
		default:
		}
		if p.spawn(&tick) {
			return true, ""
		}
		return false, metrics.DropNoIdleWorker
	}

	// Spawn when there are at least as many pending ticks as idle workers,
	// otherwise an idle worker will pick this one up.
	if len(p.queue) >= int(p.idle.Load()) && p.spawn(&tick) {
		return true, ""
	}
	select {
	case p.queue <- tick:
		return true, ""
	default:
		return false, metrics.DropQueueFull
	}
}

// Dispatch hands a tick to the pool, blocking for queue space when the
// policy is block. It returns ctx.Err() if ctx ends while blocked.
func (p *Pool) Dispatch(ctx context.Context, tick rate.Tick) (bool, metrics.DropReason, error) {
	if ok, reason := p.TryDispatch(tick); ok || p.policy != OverflowBlock {
		return ok, reason, nil
	}

	select {
	case p.queue <- tick:
		return true, "", nil
	case <-ctx.Done():
		return false, "", ctx.Err()
	}
}

// spawn starts a worker if the pool is below max. first, when set, is the
// worker's first tick.
func (p *Pool) spawn(first *rate.Tick) bool {
	p.mu.Lock()
	if p.closed || int(p.workers.Load()) >= p.max {
		p.mu.Unlock()
		return false
	}
	id := p.nextID
	p.nextID++
	n := p.workers.Add(1)
	if n > p.peak.Load() {
		p.peak.Store(n)
	}
	p.wg.Add(1)
	p.mu.Unlock()

	if p.gauge != nil {
		p.gauge.SetActiveWorkers(int(n))
	}
	if first != nil {
		p.log.WithFields(logrus.Fields{"worker": id, "workers": n}).Debug("pool grew")
	}

	runner := p.factory(id)
	var firstTick rate.Tick
	hasFirst := first != nil
	if hasFirst {
		firstTick = *first
		p.inFlight.Add(1)
	} else {
		p.idle.Add(1)
	}
	go p.work(runner, firstTick, hasFirst)
	return true
}

func (p *Pool) work(runner Runner, first rate.Tick, hasFirst bool) {
	defer p.wg.Done()

	if hasFirst {
		p.results <- runner.RunIteration(p.iterCtx, first)
		p.inFlight.Add(-1)
		p.idle.Add(1)
	}

	for tick := range p.queue {
		p.idle.Add(-1)
		p.inFlight.Add(1)
		p.results <- runner.RunIteration(p.iterCtx, tick)
		p.inFlight.Add(-1)
		p.idle.Add(1)
	}
	p.idle.Add(-1)
	if s, ok := runner.(interface{ Stop() }); ok {
		s.Stop()
	}
}

// Close stops accepting ticks. Workers finish the queued ticks and exit;
// Done is closed once they have, and Results is closed with it.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	close(p.queue)
	go func() {
		p.wg.Wait()
		close(p.results)
		close(p.done)
	}()
}

// Done is closed when every worker has exited after Close.
func (p *Pool) Done() <-chan struct{} {
	return p.done
}
