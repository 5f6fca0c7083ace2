package balance

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/GriffinCanCode/relay/discovery"
	"github.com/GriffinCanCode/relay/health"
)

// windowSize is the number of latency samples retained per instance
const windowSize = 64

// Adaptive routes to the instance with the best observed behavior: mean
// response time over a sliding window, inflated by its failure ratio.
// Instances without samples are preferred so every backend gets measured.
type Adaptive struct {
	base
	windows map[string]*window
}

// NewAdaptive creates an adaptive balancer
func NewAdaptive(config Config) *Adaptive {
	return &Adaptive{
		base:    newBase(KindAdaptive, config),
		windows: make(map[string]*window),
	}
}

// Select picks the lowest-scoring instance, preferring unsampled ones
func (a *Adaptive) Select(instances []discovery.Instance, bctx Context) (discovery.Instance, error) {
	start := time.Now()

	a.mu.Lock()
	eligible := a.eligible(instances)
	if len(eligible) == 0 {
		a.mu.Unlock()
		return discovery.Instance{}, ErrNoEligible
	}

	chosen := eligible[0]
	bestScore := -1.0
	for _, inst := range eligible {
		win, ok := a.windows[inst.ID]
		if !ok || win.empty() {
			// Unsampled instance: measure it before judging it
			chosen = inst
			bestScore = -1.0
			break
		}
		score := win.score()
		if bestScore < 0 || score < bestScore {
			chosen = inst
			bestScore = score
		}
	}

	sel := a.record(chosen, len(eligible), start)
	hook := a.onSelect
	a.mu.Unlock()

	if hook != nil {
		hook(sel)
	}
	return chosen, nil
}

// SelectMultiple picks up to count distinct instances
func (a *Adaptive) SelectMultiple(instances []discovery.Instance, count int, bctx Context) ([]discovery.Instance, error) {
	return selectDistinct(a, instances, count, bctx)
}

// UpdateStats books a call outcome and feeds the latency window
func (a *Adaptive) UpdateStats(instanceID string, success bool, responseTime time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.updateStatsLocked(instanceID, success, responseTime)

	win, ok := a.windows[instanceID]
	if !ok {
		win = newWindow()
		a.windows[instanceID] = win
	}
	win.add(float64(responseTime)/float64(time.Millisecond), success)
}

// ResetStats zeroes the counters and drops all latency windows
func (a *Adaptive) ResetStats() {
	a.mu.Lock()
	a.windows = make(map[string]*window)
	a.mu.Unlock()

	a.base.ResetStats()
}

// HealthCheck reports per-instance latency percentiles alongside the
// shared counters
func (a *Adaptive) HealthCheck() health.Status {
	a.mu.Lock()
	p95 := make(map[string]float64, len(a.windows))
	for id, win := range a.windows {
		if samples := win.values(); len(samples) > 0 {
			sorted := make([]float64, len(samples))
			copy(sorted, samples)
			sort.Float64s(sorted)
			p95[id] = stat.Quantile(0.95, stat.Empirical, sorted, nil)
		}
	}
	details := map[string]interface{}{
		"kind":             string(a.kind),
		"total_selections": a.total,
		"known_instances":  len(a.instances),
		"p95_ms":           p95,
	}
	name := a.name
	a.mu.Unlock()

	return health.Healthy("balance:"+name, details)
}

// window is a fixed-size ring of latency samples with outcome counts
type window struct {
	samples   []float64
	next      int
	filled    bool
	successes uint64
	failures  uint64
}

func newWindow() *window {
	return &window{samples: make([]float64, windowSize)}
}

func (w *window) add(ms float64, success bool) {
	w.samples[w.next] = ms
	w.next++
	if w.next == len(w.samples) {
		w.next = 0
		w.filled = true
	}
	if success {
		w.successes++
	} else {
		w.failures++
	}
}

func (w *window) empty() bool {
	return !w.filled && w.next == 0
}

func (w *window) values() []float64 {
	if w.filled {
		return w.samples
	}
	return w.samples[:w.next]
}

// score is the mean latency scaled up by the failure ratio, so a fast but
// flaky instance loses to a slightly slower reliable one
func (w *window) score() float64 {
	mean := stat.Mean(w.values(), nil)
	total := w.successes + w.failures
	if total == 0 {
		return mean
	}
	ratio := float64(w.failures) / float64(total)
	return mean * (1 + ratio)
}
