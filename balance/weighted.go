package balance

import (
	"time"

	"github.com/GriffinCanCode/relay/discovery"
)

// Weighted implements smooth weighted round-robin: each instance accrues
// its weight per round and the leader is chosen, then set back by the
// round total. Over a full cycle every instance is picked proportionally
// to its weight, without bursts to the heaviest instance.
type Weighted struct {
	base
	current map[string]int
}

// NewWeighted creates a smooth weighted round-robin balancer
func NewWeighted(config Config) *Weighted {
	return &Weighted{
		base:    newBase(KindWeighted, config),
		current: make(map[string]int),
	}
}

// Select picks the instance whose accrued weight leads this round
func (w *Weighted) Select(instances []discovery.Instance, bctx Context) (discovery.Instance, error) {
	start := time.Now()

	w.mu.Lock()
	eligible := w.eligible(instances)
	if len(eligible) == 0 {
		w.mu.Unlock()
		return discovery.Instance{}, ErrNoEligible
	}

	total := 0
	seen := make(map[string]struct{}, len(eligible))
	for _, inst := range eligible {
		weight := w.effectiveWeight(inst)
		w.current[inst.ID] += weight
		total += weight
		seen[inst.ID] = struct{}{}
	}

	// Drop accrual state for instances that left the pool
	for id := range w.current {
		if _, ok := seen[id]; !ok {
			delete(w.current, id)
		}
	}

	chosen := eligible[0]
	best := w.current[chosen.ID]
	for _, inst := range eligible[1:] {
		if w.current[inst.ID] > best {
			chosen = inst
			best = w.current[inst.ID]
		}
	}
	w.current[chosen.ID] -= total

	sel := w.record(chosen, len(eligible), start)
	hook := w.onSelect
	w.mu.Unlock()

	if hook != nil {
		hook(sel)
	}
	return chosen, nil
}

// SelectMultiple picks up to count distinct instances
func (w *Weighted) SelectMultiple(instances []discovery.Instance, count int, bctx Context) ([]discovery.Instance, error) {
	return selectDistinct(w, instances, count, bctx)
}
