package balance

import (
	"time"

	"github.com/GriffinCanCode/relay/discovery"
)

// RoundRobin cycles through eligible instances in order. The rotation
// index is the cumulative selection count, so membership changes shift
// the cycle rather than restarting it.
type RoundRobin struct {
	base
}

// NewRoundRobin creates a round-robin balancer
func NewRoundRobin(config Config) *RoundRobin {
	return &RoundRobin{base: newBase(KindRoundRobin, config)}
}

// Select picks the next eligible instance in rotation
func (rr *RoundRobin) Select(instances []discovery.Instance, bctx Context) (discovery.Instance, error) {
	start := time.Now()

	rr.mu.Lock()
	eligible := rr.eligible(instances)
	if len(eligible) == 0 {
		rr.mu.Unlock()
		return discovery.Instance{}, ErrNoEligible
	}

	inst := eligible[rr.total%uint64(len(eligible))]
	sel := rr.record(inst, len(eligible), start)
	hook := rr.onSelect
	rr.mu.Unlock()

	if hook != nil {
		hook(sel)
	}
	return inst, nil
}

// SelectMultiple picks up to count distinct instances
func (rr *RoundRobin) SelectMultiple(instances []discovery.Instance, count int, bctx Context) ([]discovery.Instance, error) {
	return selectDistinct(rr, instances, count, bctx)
}
