package balance

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GriffinCanCode/relay/discovery"
	"github.com/GriffinCanCode/relay/health"
)

// Kind identifies a balancing strategy
type Kind string

const (
	KindRoundRobin Kind = "round-robin"
	KindWeighted   Kind = "weighted"
	KindAdaptive   Kind = "adaptive"
)

var ErrNoEligible = errors.New("no eligible instances")

// Context carries call metadata into a selection
type Context struct {
	Service string
}

// Selection records one balancing decision
type Selection struct {
	ID        string
	Instance  discovery.Instance
	Eligible  int
	Timestamp time.Time
	Duration  time.Duration
}

// Config configures a balancer
type Config struct {
	// Name labels the balancer in health reports; defaults to the kind
	Name string
	// Weights overrides instance weights by ID. An entry of zero or less
	// disables the instance entirely. Instances without an entry keep
	// their advertised weight and stay eligible even when that weight
	// is zero.
	Weights map[string]int
	// OnSelect is invoked after every successful selection
	OnSelect func(Selection)
}

// ConfigUpdate is a partial configuration change. A non-nil Weights map
// replaces the current overrides wholesale.
type ConfigUpdate struct {
	Weights map[string]int
}

// InstanceStats holds cumulative per-instance counters
type InstanceStats struct {
	Selections        uint64
	Successes         uint64
	Failures          uint64
	TotalResponseTime time.Duration
	AvgResponseTime   time.Duration
	LastSelectedAt    time.Time
}

// Stats holds cumulative balancer counters
type Stats struct {
	TotalSelections uint64
	Instances       map[string]InstanceStats
}

// Balancer picks instances for calls. Implementations must be safe for
// concurrent use.
type Balancer interface {
	Kind() Kind
	Select(instances []discovery.Instance, bctx Context) (discovery.Instance, error)
	SelectMultiple(instances []discovery.Instance, count int, bctx Context) ([]discovery.Instance, error)
	UpdateStats(instanceID string, success bool, responseTime time.Duration)
	UpdateConfig(update ConfigUpdate)
	Stats() Stats
	ResetStats()
	LastSelection() (Selection, bool)
	HealthCheck() health.Status
}

// New builds the balancer for a strategy kind
func New(kind Kind, config Config) (Balancer, error) {
	switch kind {
	case KindRoundRobin, "":
		return NewRoundRobin(config), nil
	case KindWeighted:
		return NewWeighted(config), nil
	case KindAdaptive:
		return NewAdaptive(config), nil
	default:
		return nil, fmt.Errorf("unknown balancer kind: %q", kind)
	}
}

// base carries the bookkeeping shared by all strategies
type base struct {
	mu       sync.Mutex
	kind     Kind
	name     string
	weights  map[string]int
	onSelect func(Selection)

	total     uint64
	instances map[string]*InstanceStats
	last      Selection
	hasLast   bool
}

func newBase(kind Kind, config Config) base {
	name := config.Name
	if name == "" {
		name = string(kind)
	}

	weights := make(map[string]int, len(config.Weights))
	for id, w := range config.Weights {
		weights[id] = w
	}

	return base{
		kind:      kind,
		name:      name,
		weights:   weights,
		onSelect:  config.OnSelect,
		instances: make(map[string]*InstanceStats),
	}
}

// Kind returns the strategy kind
func (b *base) Kind() Kind {
	return b.kind
}

// eligible filters to healthy instances not disabled by a weight override.
// Caller must hold the lock.
func (b *base) eligible(instances []discovery.Instance) []discovery.Instance {
	out := make([]discovery.Instance, 0, len(instances))
	for _, inst := range instances {
		if !inst.Healthy() {
			continue
		}
		if w, ok := b.weights[inst.ID]; ok && w <= 0 {
			continue
		}
		out = append(out, inst)
	}
	return out
}

// effectiveWeight resolves the weight for an eligible instance: the
// override wins, then the advertised weight, floored at 1 so unweighted
// instances still take traffic. Caller must hold the lock.
func (b *base) effectiveWeight(inst discovery.Instance) int {
	if w, ok := b.weights[inst.ID]; ok {
		return w
	}
	if inst.Weight > 0 {
		return inst.Weight
	}
	return 1
}

// record books a completed selection. Caller must hold the lock.
func (b *base) record(inst discovery.Instance, eligible int, start time.Time) Selection {
	sel := Selection{
		ID:        uuid.New().String(),
		Instance:  inst,
		Eligible:  eligible,
		Timestamp: start,
		Duration:  time.Since(start),
	}

	b.total++
	stats := b.statsFor(inst.ID)
	stats.Selections++
	stats.LastSelectedAt = start
	b.last = sel
	b.hasLast = true
	return sel
}

// statsFor returns the mutable stats entry for an instance.
// Caller must hold the lock.
func (b *base) statsFor(instanceID string) *InstanceStats {
	stats, ok := b.instances[instanceID]
	if !ok {
		stats = &InstanceStats{}
		b.instances[instanceID] = stats
	}
	return stats
}

// updateStatsLocked books a call outcome. Caller must hold the lock.
func (b *base) updateStatsLocked(instanceID string, success bool, responseTime time.Duration) {
	stats := b.statsFor(instanceID)
	if success {
		stats.Successes++
	} else {
		stats.Failures++
	}
	stats.TotalResponseTime += responseTime
	if completed := stats.Successes + stats.Failures; completed > 0 {
		stats.AvgResponseTime = stats.TotalResponseTime / time.Duration(completed)
	}
}

// UpdateStats books the outcome of a call against the selected instance
func (b *base) UpdateStats(instanceID string, success bool, responseTime time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.updateStatsLocked(instanceID, success, responseTime)
}

// UpdateConfig applies a partial configuration change
func (b *base) UpdateConfig(update ConfigUpdate) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if update.Weights != nil {
		weights := make(map[string]int, len(update.Weights))
		for id, w := range update.Weights {
			weights[id] = w
		}
		b.weights = weights
	}
}

// Stats returns a copy of the cumulative counters
func (b *base) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	instances := make(map[string]InstanceStats, len(b.instances))
	for id, stats := range b.instances {
		instances[id] = *stats
	}
	return Stats{TotalSelections: b.total, Instances: instances}
}

// ResetStats zeroes the cumulative counters
func (b *base) ResetStats() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.total = 0
	b.instances = make(map[string]*InstanceStats)
	b.last = Selection{}
	b.hasLast = false
}

// LastSelection returns the most recent selection, if any
func (b *base) LastSelection() (Selection, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.last, b.hasLast
}

// HealthCheck reports the balancer counters as diagnostics
func (b *base) HealthCheck() health.Status {
	b.mu.Lock()
	details := map[string]interface{}{
		"kind":             string(b.kind),
		"total_selections": b.total,
		"known_instances":  len(b.instances),
	}
	name := b.name
	b.mu.Unlock()

	return health.Healthy("balance:"+name, details)
}

// selectDistinct picks up to count distinct instances by repeated Select
// calls, removing each winner from the pool. It stops early when the pool
// empties, returning fewer results; it errors only when nothing at all is
// eligible.
func selectDistinct(b Balancer, instances []discovery.Instance, count int, bctx Context) ([]discovery.Instance, error) {
	if count <= 0 {
		return nil, nil
	}

	pool := make([]discovery.Instance, len(instances))
	copy(pool, instances)

	selected := make([]discovery.Instance, 0, count)
	for len(selected) < count && len(pool) > 0 {
		inst, err := b.Select(pool, bctx)
		if err != nil {
			break
		}
		selected = append(selected, inst)
		for i := range pool {
			if pool[i].ID == inst.ID {
				pool = append(pool[:i], pool[i+1:]...)
				break
			}
		}
	}

	if len(selected) == 0 {
		return nil, ErrNoEligible
	}
	return selected, nil
}
