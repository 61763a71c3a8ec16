package sim

import (
	"math"
	"math/rand"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"
)

// BusFleet owns the bus agents of one world and advances them one tick at a
// time. Buses are always processed in id order so runs are reproducible.
type BusFleet struct {
	cfg      Config
	graph    *CityGraph
	demand   *RiderDemandModel
	selector ActionSelector
	mode     Mode
	buses    []*Bus
}

// NewBusFleet creates the fleet with deterministic baseline routes drawn
// from the layout RNG. Every bus starts parked at its route's first stop.
func NewBusFleet(cfg Config, graph *CityGraph, demand *RiderDemandModel, mode Mode, selector ActionSelector, layout *rand.Rand) *BusFleet {
	f := &BusFleet{
		cfg:      cfg,
		graph:    graph,
		demand:   demand,
		selector: selector,
		mode:     mode,
	}
	for i := 0; i < cfg.NumBuses; i++ {
		route := f.baselineRoute(i, layout)
		b := &Bus{
			ID:       i,
			RouteID:  i,
			Capacity: cfg.BusCapacity,
			Mode:     mode,
			Route:    route,
			Redirect: -1,
			At:       graph.Stop(route[0]).Pos,
		}
		f.buses = append(f.buses, b)
	}
	return f
}

// baselineRoute builds bus i's fixed cyclic stop sequence: buses are spread
// over west, north, and central service areas, with the stop order drawn
// once from the layout stream.
func (f *BusFleet) baselineRoute(i int, layout *rand.Rand) []int {
	half := f.graph.Size / 2
	quarter := f.graph.Size / 4
	var cands []int
	for _, s := range f.graph.Stops() {
		switch i % 3 {
		case 0:
			if s.Pos.X < half {
				cands = append(cands, s.ID)
			}
		case 1:
			if s.Pos.Y < half {
				cands = append(cands, s.ID)
			}
		default:
			if s.Pos.X >= quarter && s.Pos.X < 3*quarter && s.Pos.Y >= quarter && s.Pos.Y < 3*quarter {
				cands = append(cands, s.ID)
			}
		}
	}
	if len(cands) < 2 {
		cands = cands[:0]
		for _, s := range f.graph.Stops() {
			cands = append(cands, s.ID)
		}
	}

	n := f.cfg.RouteStops
	if n > len(cands) {
		n = len(cands)
	}
	perm := layout.Perm(len(cands))
	route := make([]int, 0, n)
	for _, idx := range perm[:n] {
		route = append(route, cands[idx])
	}
	return route
}

// Buses returns the fleet's buses ordered by id.
func (f *BusFleet) Buses() []*Bus {
	return f.buses
}

// Mode returns the fleet's dispatch mode.
func (f *BusFleet) Mode() Mode {
	return f.mode
}

// SetPolicy swaps the dispatch mode and selector, used by the orchestrator's
// SwitchMode control operation. Takes effect at the next decision point.
func (f *BusFleet) SetPolicy(mode Mode, selector ActionSelector) {
	f.mode = mode
	f.selector = selector
	for _, b := range f.buses {
		b.Mode = mode
	}
}

// Advance runs one tick of movement and boarding for every bus. actions
// optionally overrides the selector per bus id; invalid entries are
// replaced by CONTINUE and logged (never fatal).
func (f *BusFleet) Advance(now int64, actions map[int]Action) {
	for _, b := range f.buses {
		stopID := b.advance(f.graph, now)
		if stopID < 0 {
			continue
		}
		b.arriveAt(stopID, f.graph, f.demand, now)
		action := f.decide(b, now, actions)
		b.LastAction = action
		f.apply(b, action, now)
	}
}

// decide picks the action for a bus at a decision point: an external action
// when one was supplied for this bus, otherwise the active selector.
func (f *BusFleet) decide(b *Bus, now int64, actions map[int]Action) Action {
	if ext, ok := actions[b.ID]; ok {
		if !ext.Valid() || (f.mode == ModeStatic && ext != ActionContinue) {
			logrus.Warnf("%v, substituting CONTINUE", &ActionError{BusID: b.ID, Action: ext})
			return ActionContinue
		}
		return ext
	}
	action, err := f.selector.Select(f.Observe(b, now))
	if err != nil {
		// Selector failures are per-bus, never engine-fatal.
		logrus.Warnf("bus %d: selector error (%v), substituting CONTINUE", b.ID, err)
		return ActionContinue
	}
	if !action.Valid() {
		logrus.Warnf("%v, substituting CONTINUE", &ActionError{BusID: b.ID, Action: action})
		return ActionContinue
	}
	return action
}

// apply executes the chosen action. Only actual deviations from the static
// plan count as replans.
func (f *BusFleet) apply(b *Bus, action Action, now int64) {
	switch action {
	case ActionContinue:

	case ActionGoToHighDemand:
		target := f.highestDemandStop(b)
		if target >= 0 && target != b.TargetStop() {
			b.Redirect = target
			b.ReplanCount++
			logrus.Debugf("[tick %07d] bus %d redirected to stop %d", now, b.ID, target)
		}

	case ActionSkipLowDemand:
		if len(b.Route) == 0 {
			return
		}
		next := b.Route[b.RouteIdx%len(b.Route)]
		if f.graph.Stop(next).Queue.Len() < f.cfg.SkipThreshold {
			b.RouteIdx = (b.RouteIdx + 1) % len(b.Route)
			b.ReplanCount++
			logrus.Debugf("[tick %07d] bus %d skipped low-demand stop %d", now, b.ID, next)
		}

	case ActionShortHold:
		b.HoldUntil = now + 1 + f.cfg.HoldTicks
		b.ReplanCount++
		logrus.Debugf("[tick %07d] bus %d holding until tick %d", now, b.ID, b.HoldUntil)
	}
}

// highestDemandStop returns the reachable stop with the largest queue, ties
// broken by lowest stop id, or -1 when every queue is empty.
func (f *BusFleet) highestDemandStop(b *Bus) int {
	best, bestLen := -1, 0
	for _, s := range f.graph.Stops() {
		qlen := s.Queue.Len()
		if qlen <= bestLen || qlen == 0 {
			continue
		}
		if !math.IsInf(f.graph.PathCost(b.At, s.ID), 1) {
			best, bestLen = s.ID, qlen
		}
	}
	return best
}

// Observe builds the policy observation for one bus.
func (f *BusFleet) Observe(b *Bus, now int64) Observation {
	x, y := b.Position()
	size := float64(f.graph.Size)

	nextQueue := 0
	if target := b.TargetStop(); target >= 0 {
		nextQueue = f.graph.Stop(target).Queue.Len()
	}
	maxQ, sumQ := 0, 0
	for _, s := range f.graph.Stops() {
		qlen := s.Queue.Len()
		sumQ += qlen
		if qlen > maxQ {
			maxQ = qlen
		}
	}
	meanQ := 0.0
	if n := len(f.graph.Stops()); n > 0 {
		meanQ = float64(sumQ) / float64(n)
	}

	daySeconds := float64(now) * f.cfg.TickSeconds
	return Observation{
		BusID:         b.ID,
		X:             x / size,
		Y:             y / size,
		LoadRatio:     b.LoadRatio(),
		NextStopQueue: nextQueue,
		MaxQueue:      maxQ,
		MeanQueue:     meanQ,
		TimeOfDay:     daySeconds / 86400.0,
		Holding:       now < b.HoldUntil,
	}
}

// OnboardCount returns the total riders currently on buses.
func (f *BusFleet) OnboardCount() int {
	n := 0
	for _, b := range f.buses {
		n += len(b.Onboard)
	}
	return n
}

// OvercrowdRatio returns the fraction of buses loaded above the threshold
// fraction of capacity.
func (f *BusFleet) OvercrowdRatio(threshold float64) float64 {
	if len(f.buses) == 0 {
		return 0
	}
	n := 0
	for _, b := range f.buses {
		if b.LoadRatio() > threshold {
			n++
		}
	}
	return float64(n) / float64(len(f.buses))
}

// LoadStd returns the standard deviation of bus loads.
func (f *BusFleet) LoadStd() float64 {
	if len(f.buses) < 2 {
		return 0
	}
	loads := make([]float64, len(f.buses))
	for i, b := range f.buses {
		loads[i] = float64(b.Load())
	}
	return stat.StdDev(loads, nil)
}

// TotalReplans sums the replan counters across the fleet.
func (f *BusFleet) TotalReplans() int64 {
	var n int64
	for _, b := range f.buses {
		n += b.ReplanCount
	}
	return n
}

// TotalDistance sums distance traveled across the fleet, in grid units.
func (f *BusFleet) TotalDistance() float64 {
	d := 0.0
	for _, b := range f.buses {
		d += b.DistanceTraveled
	}
	return d
}
