// Package rate provides the tick schedule for arrival-rate load generation.
package rate

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Tick is a scheduled instant at which one iteration should begin.
//
// Ticks are created by a Pacer and consumed exactly once by one worker.
type Tick struct {
	// Seq is the zero-based sequence number of the tick.
	Seq int64
	// At is the scheduled start time.
	At time.Time
}

// Pacer emits ticks on an evenly spaced absolute schedule.
//
// Tick i is due at start + i*period, so sleep jitter does not accumulate.
// A consumer that falls behind receives overdue ticks immediately and in
// order.
//
// # Thread Safety
//
// Next and Wait may be called from multiple goroutines; each tick is handed
// out once.
type Pacer struct {
	period  float64 // nanoseconds between ticks
	planned int64
	start   time.Time

	mu   sync.Mutex
	next int64

	// Metrics
	issued    atomic.Int64
	totalLag  atomic.Int64 // nanoseconds ticks were handed out after their due time
	maxLagNs  atomic.Int64
	timerPool sync.Pool
}

// NewPacer creates a pacer for rate iterations per timeUnit over duration.
//
// Non-positive inputs are clamped to one iteration per second for one
// second; configuration validation rejects them long before this point.
func NewPacer(rate float64, timeUnit, duration time.Duration) *Pacer {
	if rate <= 0 {
		rate = 1
	}
	if timeUnit <= 0 {
		timeUnit = time.Second
	}
	if duration <= 0 {
		duration = time.Second
	}

	period := float64(timeUnit) / rate
	return &Pacer{
		period:  period,
		planned: PlannedTicks(rate, timeUnit, duration),
	}
}

// PlannedTicks returns how many ticks fit in duration: every tick whose
// offset i*period is strictly before duration.
func PlannedTicks(rate float64, timeUnit, duration time.Duration) int64 {
	if rate <= 0 || timeUnit <= 0 || duration <= 0 {
		return 0
	}
	exact := float64(duration) * rate / float64(timeUnit)
	// Tolerate float noise so 1000/s over 1s is exactly 1000.
	return int64(math.Ceil(exact - 1e-9))
}

// Start anchors the schedule. Calling Start again resets it.
func (p *Pacer) Start(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.start = now
	p.next = 0
	p.issued.Store(0)
	p.totalLag.Store(0)
	p.maxLagNs.Store(0)
}

// Period returns the spacing between ticks.
func (p *Pacer) Period() time.Duration {
	return time.Duration(p.period)
}

// Planned returns the number of ticks in the schedule.
func (p *Pacer) Planned() int64 {
	return p.planned
}

// Next reserves the next tick. ok is false once the schedule is exhausted.
func (p *Pacer) Next() (tick Tick, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.next >= p.planned {
		return Tick{}, false
	}
	if p.start.IsZero() {
		p.start = time.Now()
	}

	seq := p.next
	p.next++
	return Tick{
		Seq: seq,
		At:  p.start.Add(time.Duration(float64(seq) * p.period)),
	}, true
}

// Wait blocks until the next tick is due and returns it.
//
// Returns ok=false when the schedule is exhausted, or ctx.Err() if the
// context ends first. A tick reserved before cancellation is lost with it.
func (p *Pacer) Wait(ctx context.Context) (Tick, bool, error) {
	tick, ok := p.Next()
	if !ok {
		return Tick{}, false, nil
	}

	if wait := time.Until(tick.At); wait > 0 {
		timer := p.getTimer(wait)
		defer p.putTimer(timer)

		select {
		case <-ctx.Done():
			return Tick{}, false, ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return Tick{}, false, err
	}

	p.observeLag(time.Since(tick.At))
	p.issued.Add(1)
	return tick, true, nil
}

func (p *Pacer) observeLag(lag time.Duration) {
	if lag <= 0 {
		return
	}
	p.totalLag.Add(int64(lag))
	for {
		cur := p.maxLagNs.Load()
		if int64(lag) <= cur || p.maxLagNs.CompareAndSwap(cur, int64(lag)) {
			return
		}
	}
}

func (p *Pacer) getTimer(d time.Duration) *time.Timer {
	if t, ok := p.timerPool.Get().(*time.Timer); ok {
		t.Reset(d)
		return t
	}
	return time.NewTimer(d)
}

func (p *Pacer) putTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	p.timerPool.Put(t)
}

// Stats returns statistics about the schedule so far.
func (p *Pacer) Stats() PacerStats {
	p.mu.Lock()
	reserved := p.next
	p.mu.Unlock()

	return PacerStats{
		Period:   time.Duration(p.period),
		Planned:  p.planned,
		Reserved: reserved,
		Issued:   p.issued.Load(),
		TotalLag: time.Duration(p.totalLag.Load()),
		MaxLag:   time.Duration(p.maxLagNs.Load()),
	}
}

// PacerStats contains statistics about the pacer.
type PacerStats struct {
	Period   time.Duration `json:"period"`
	Planned  int64         `json:"planned"`
	Reserved int64         `json:"reserved"`
	Issued   int64         `json:"issued"`
	TotalLag time.Duration `json:"totalLag"` // Sum of how late ticks were handed out
	MaxLag   time.Duration `json:"maxLag"`
}
