package sim

import (
	"sort"

	"github.com/sirupsen/logrus"
)

// DisruptionType classifies a disruption event.
type DisruptionType string

const (
	DisruptionClosure DisruptionType = "closure"
	DisruptionCrash   DisruptionType = "crash"
	DisruptionIcy     DisruptionType = "icy"
	DisruptionJam     DisruptionType = "jam"
	DisruptionSurge   DisruptionType = "surge"
)

func (t DisruptionType) valid() bool {
	switch t {
	case DisruptionClosure, DisruptionCrash, DisruptionIcy, DisruptionJam, DisruptionSurge:
		return true
	}
	return false
}

// DisruptionID identifies an active disruption. IDs are sequential within an
// episode so identically-seeded runs with the same control-call sequence
// allocate identical IDs.
type DisruptionID int64

// DisruptionParams carries the optional knobs of ApplyDisruption.
type DisruptionParams struct {
	// To selects a specific edge (Loc -> To); when nil, every edge incident
	// to Loc is affected. Ignored for surge events.
	To *Coord
	// DurationTicks auto-expires the event; 0 means until cleared.
	DurationTicks int64
	// SurgeFactor overrides the configured surge multiplier; 0 keeps the
	// default. Ignored for edge events.
	SurgeFactor float64
}

// DisruptionEvent is one active disruption.
type DisruptionEvent struct {
	ID            DisruptionID
	Type          DisruptionType
	Loc           Coord
	To            *Coord
	Factor        float64 // edge multiplier, or arrival-rate factor for surge
	ActivatedTick int64
	DurationTicks int64 // 0 = until cleared
	StopID        int   // surge only: affected stop
}

// disruptKey dedupes events: at most one active event per (type, location).
type disruptKey struct {
	typ DisruptionType
	loc Coord
}

// DisruptionManager owns the set of active disruptions and is the only
// writer of edge multipliers. It mutates every registered graph identically,
// which is how the baseline and adaptive worlds share one disruption
// schedule.
//
// Edge multipliers are always recomputed from the full active set, so
// repeated apply/clear cycles restore base costs exactly with no drift.
type DisruptionManager struct {
	cfg    Config
	graphs []*CityGraph

	active map[DisruptionID]*DisruptionEvent
	byKey  map[disruptKey]DisruptionID
	nextID DisruptionID
}

// NewDisruptionManager creates a manager over the given graphs. All graphs
// must share one topology (they are built from the same seed).
func NewDisruptionManager(cfg Config, graphs ...*CityGraph) *DisruptionManager {
	return &DisruptionManager{
		cfg:    cfg,
		graphs: graphs,
		active: make(map[DisruptionID]*DisruptionEvent),
		byKey:  make(map[disruptKey]DisruptionID),
	}
}

// factorFor maps a disruption type to its configured edge multiplier.
func (m *DisruptionManager) factorFor(typ DisruptionType) float64 {
	switch typ {
	case DisruptionClosure:
		return 0.0
	case DisruptionCrash:
		return m.cfg.Multipliers.Crash
	case DisruptionIcy:
		return m.cfg.Multipliers.Icy
	case DisruptionJam:
		return m.cfg.Multipliers.Jam
	default:
		return 1.0
	}
}

// Apply validates and activates a disruption. Duplicates of an active
// (type, location) pair are rejected, so repeated identical control calls
// are idempotent from the caller's point of view. No state is mutated on a
// validation failure.
func (m *DisruptionManager) Apply(typ DisruptionType, loc Coord, params DisruptionParams, now int64) (DisruptionID, error) {
	const op = "apply_disruption"
	if !typ.valid() {
		return 0, validationErrorf(op, "unknown disruption type %q", typ)
	}
	g := m.graphs[0]
	if !g.OnGrid(loc) {
		return 0, validationErrorf(op, "location %s is off-grid", loc)
	}
	if params.To != nil {
		if !g.OnGrid(*params.To) {
			return 0, validationErrorf(op, "edge endpoint %s is off-grid", *params.To)
		}
		if ManhattanDist(loc, *params.To) != 1 {
			return 0, validationErrorf(op, "%s and %s are not adjacent", loc, *params.To)
		}
	}
	key := disruptKey{typ: typ, loc: loc}
	if id, ok := m.byKey[key]; ok {
		return 0, validationErrorf(op, "duplicate %s at %s (active as #%d)", typ, loc, id)
	}

	ev := &DisruptionEvent{
		Type:          typ,
		Loc:           loc,
		ActivatedTick: now,
		DurationTicks: params.DurationTicks,
		StopID:        -1,
	}
	if typ == DisruptionSurge {
		ev.Factor = m.cfg.Multipliers.Surge
		if params.SurgeFactor > 0 {
			ev.Factor = params.SurgeFactor
		}
		ev.StopID = m.nearestStop(loc)
		if ev.StopID < 0 {
			return 0, validationErrorf(op, "no stop exists for surge at %s", loc)
		}
	} else {
		ev.Factor = m.factorFor(typ)
		if params.To != nil {
			to := *params.To
			ev.To = &to
		}
	}

	m.nextID++
	ev.ID = m.nextID
	m.active[ev.ID] = ev
	m.byKey[key] = ev.ID
	m.refreshEdges(ev)

	logrus.Infof("disruption #%d %s at %s (factor=%.2f, duration=%d ticks)",
		ev.ID, ev.Type, ev.Loc, ev.Factor, ev.DurationTicks)
	return ev.ID, nil
}

// Clear removes one active disruption and restores the affected edges to
// the state implied by the remaining active set.
func (m *DisruptionManager) Clear(id DisruptionID) error {
	ev, ok := m.active[id]
	if !ok {
		return validationErrorf("clear_disruptions", "no active disruption #%d", id)
	}
	m.remove(ev)
	logrus.Infof("disruption #%d %s at %s cleared", ev.ID, ev.Type, ev.Loc)
	return nil
}

// ClearAll removes every active disruption. Idempotent.
func (m *DisruptionManager) ClearAll() {
	for _, ev := range m.sortedActive() {
		m.remove(ev)
	}
	logrus.Info("all disruptions cleared")
}

// Expire removes events whose duration has elapsed. Called at the top of
// every tick, before demand injection.
func (m *DisruptionManager) Expire(now int64) {
	for _, ev := range m.sortedActive() {
		if ev.DurationTicks > 0 && now >= ev.ActivatedTick+ev.DurationTicks {
			m.remove(ev)
			logrus.Debugf("disruption #%d %s expired at tick %d", ev.ID, ev.Type, now)
		}
	}
}

func (m *DisruptionManager) remove(ev *DisruptionEvent) {
	delete(m.active, ev.ID)
	delete(m.byKey, disruptKey{typ: ev.Type, loc: ev.Loc})
	m.refreshEdges(ev)
}

// SurgeFactor returns the combined arrival-rate factor for a stop (1.0 when
// no surge is active there). Multiple surges at distinct locations mapping
// to one stop compose multiplicatively, folded in id order: float rounding
// depends on fold order, and this feeds both worlds' Poisson means.
func (m *DisruptionManager) SurgeFactor(stopID int) float64 {
	f := 1.0
	for _, ev := range m.sortedActive() {
		if ev.Type == DisruptionSurge && ev.StopID == stopID {
			f *= ev.Factor
		}
	}
	return f
}

// Active returns the active events ordered by id.
func (m *DisruptionManager) Active() []*DisruptionEvent {
	return m.sortedActive()
}

func (m *DisruptionManager) sortedActive() []*DisruptionEvent {
	out := make([]*DisruptionEvent, 0, len(m.active))
	for _, ev := range m.active {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// directedEdges lists the directed edges an event touches.
func (m *DisruptionManager) directedEdges(ev *DisruptionEvent) []edgeKey {
	if ev.Type == DisruptionSurge {
		return nil
	}
	if ev.To != nil {
		return []edgeKey{{ev.Loc, *ev.To}, {*ev.To, ev.Loc}}
	}
	g := m.graphs[0]
	var keys []edgeKey
	for _, nb := range g.Neighbors(ev.Loc) {
		keys = append(keys, edgeKey{ev.Loc, nb}, edgeKey{nb, ev.Loc})
	}
	return keys
}

// refreshEdges recomputes the multiplier of every edge the event touches
// from the remaining active set and writes it to all registered graphs.
func (m *DisruptionManager) refreshEdges(ev *DisruptionEvent) {
	for _, key := range m.directedEdges(ev) {
		mult, closed := m.combinedState(key)
		for _, g := range m.graphs {
			g.setEdgeState(key.U, key.V, mult, closed)
		}
	}
}

// combinedState folds every active edge event covering the directed edge
// into a single (multiplier, closed) pair.
func (m *DisruptionManager) combinedState(key edgeKey) (float64, bool) {
	mult := 1.0
	closed := false
	for _, ev := range m.sortedActive() {
		if ev.Type == DisruptionSurge || !m.covers(ev, key) {
			continue
		}
		if ev.Type == DisruptionClosure {
			closed = true
			continue
		}
		mult *= ev.Factor
	}
	return mult, closed
}

func (m *DisruptionManager) covers(ev *DisruptionEvent, key edgeKey) bool {
	if ev.To != nil {
		return (key.U == ev.Loc && key.V == *ev.To) || (key.U == *ev.To && key.V == ev.Loc)
	}
	return key.U == ev.Loc || key.V == ev.Loc
}

// nearestStop maps a grid location to a stop id: the stop at the location
// itself, else the closest stop by Manhattan distance, ties broken by
// lowest id. Returns -1 when the graph has no stops.
func (m *DisruptionManager) nearestStop(loc Coord) int {
	g := m.graphs[0]
	if id, ok := g.StopIDAt(loc); ok {
		return id
	}
	best, bestDist := -1, 0
	for _, s := range g.Stops() {
		d := ManhattanDist(loc, s.Pos)
		if best < 0 || d < bestDist {
			best, bestDist = s.ID, d
		}
	}
	return best
}
