package executor

import (
	"fmt"
	"strings"
)

// OverflowPolicy decides what happens to a tick when every worker is busy
// and no more workers may be spawned.
type OverflowPolicy string

const (
	// OverflowQueue parks the tick in a bounded queue and drops it when the
	// queue is full. The arrival rate is preserved, the count may not be.
	OverflowQueue OverflowPolicy = "queue"

	// OverflowBlock makes the scheduler wait for queue space. Every planned
	// tick is issued, the wall clock stretches instead.
	OverflowBlock OverflowPolicy = "block"

	// OverflowDrop accepts a tick only if a worker is idle or can be spawned.
	OverflowDrop OverflowPolicy = "drop"
)

// ParseOverflowPolicy parses a policy name ("" means queue).
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch OverflowPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", OverflowQueue:
		return OverflowQueue, nil
	case OverflowBlock:
		return OverflowBlock, nil
	case OverflowDrop:
		return OverflowDrop, nil
	default:
		return "", fmt.Errorf("unknown overflow policy %q (want queue, block or drop)", s)
	}
}

// queueCapacity returns the channel capacity a policy needs.
func (p OverflowPolicy) queueCapacity(depth int) int {
	if p == OverflowDrop {
		return 0
	}
	return depth
}
