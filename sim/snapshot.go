package sim

// SchemaVersion tags the snapshot wire schema. UI and mobile clients consume
// these field names verbatim; any breaking change must bump this.
const SchemaVersion = 1

// busColors is the per-route display palette, cycled by route id.
var busColors = []string{
	"#ef4444", "#3b82f6", "#10b981", "#f59e0b", "#8b5cf6", "#ec4899",
	"#14b8a6", "#f97316",
}

// BusView is the wire representation of one bus.
//
// Baseline-fleet buses are published with ids offset by the fleet size so
// the combined list has unique ids; adaptive buses keep the ids that Step
// actions address.
type BusView struct {
	ID          int     `json:"id"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Load        int     `json:"load"`
	Capacity    int     `json:"capacity"`
	RouteID     int     `json:"route_id"`
	IsOptimized bool    `json:"is_optimized"`
	Color       string  `json:"color"`
	LastAction  string  `json:"last_action"`
}

// StopView is the wire representation of one stop.
type StopView struct {
	ID          int    `json:"id"`
	X           int    `json:"x"`
	Y           int    `json:"y"`
	Name        string `json:"name"`
	QueueLength int    `json:"queue_length"`
}

// KPIBlock carries the aggregate indicators of the adaptive world. The
// first four fields are the frozen cross-process contract; the rest are
// additive.
type KPIBlock struct {
	AvgWaitTime            float64 `json:"avg_wait_time"`
	TotalPassengers        int     `json:"total_passengers"`
	TotalPassengersWaiting int     `json:"total_passengers_waiting"`
	TotalPassengersOnBuses int     `json:"total_passengers_on_buses"`

	P90Wait        float64 `json:"p90_wait"`
	LoadStd        float64 `json:"load_std"`
	OvercrowdRatio float64 `json:"overcrowd_ratio"`
}

// ComparisonBlock contrasts the baseline and adaptive worlds within the
// same tick.
type ComparisonBlock struct {
	BaselineAvgWait       float64 `json:"baseline_avg_wait"`
	OptimizedAvgWait      float64 `json:"optimized_avg_wait"`
	ImprovementPercentage float64 `json:"improvement_percentage"`
	BaselineBuses         int     `json:"baseline_buses"`
	OptimizedBuses        int     `json:"optimized_buses"`
}

// DisruptionView is the wire representation of one active disruption.
type DisruptionView struct {
	ID       int64   `json:"id"`
	Type     string  `json:"type"`
	X        int     `json:"x"`
	Y        int     `json:"y"`
	Factor   float64 `json:"factor"`
	Duration int64   `json:"duration_ticks"`
}

// Snapshot is the published simulation state. It is built fresh on every
// publish and never mutated afterwards: value-typed views only, no pointers
// into live simulation objects.
type Snapshot struct {
	SchemaVersion     int              `json:"schema_version"`
	Tick              int64            `json:"tick"`
	SimulationTime    float64          `json:"simulation_time"`
	Mode              Mode             `json:"mode"`
	Buses             []BusView        `json:"buses"`
	Stops             []StopView       `json:"stops"`
	KPIs              KPIBlock         `json:"kpis"`
	Comparison        ComparisonBlock  `json:"comparison"`
	ActiveDisruptions []DisruptionView `json:"active_disruptions"`
}

// buildSnapshot materializes the wire state from the two worlds at the end
// of a tick.
func buildSnapshot(now int64, cfg Config, mode Mode, baseline, adaptive *world, disrupt *DisruptionManager) *Snapshot {
	snap := &Snapshot{
		SchemaVersion:  SchemaVersion,
		Tick:           now,
		SimulationTime: float64(now) * cfg.TickSeconds,
		Mode:           mode,
	}

	for _, b := range adaptive.fleet.Buses() {
		snap.Buses = append(snap.Buses, busView(b, 0, true))
	}
	for _, b := range baseline.fleet.Buses() {
		snap.Buses = append(snap.Buses, busView(b, cfg.NumBuses, false))
	}

	for _, s := range adaptive.graph.Stops() {
		snap.Stops = append(snap.Stops, StopView{
			ID:          s.ID,
			X:           s.Pos.X,
			Y:           s.Pos.Y,
			Name:        s.Name,
			QueueLength: s.Queue.Len(),
		})
	}

	waiting := adaptive.demand.WaitingCount()
	onboard := adaptive.fleet.OnboardCount()
	snap.KPIs = KPIBlock{
		AvgWaitTime:            adaptive.demand.AvgWait(now),
		TotalPassengers:        waiting + onboard,
		TotalPassengersWaiting: waiting,
		TotalPassengersOnBuses: onboard,
		P90Wait:                adaptive.demand.P90Wait(now),
		LoadStd:                adaptive.fleet.LoadStd(),
		OvercrowdRatio:         adaptive.fleet.OvercrowdRatio(cfg.OvercrowdThreshold),
	}

	baseWait := baseline.demand.AvgWait(now)
	optWait := adaptive.demand.AvgWait(now)
	improvement := 0.0
	if baseWait > 0 {
		improvement = (baseWait - optWait) / baseWait * 100
	}
	snap.Comparison = ComparisonBlock{
		BaselineAvgWait:       baseWait,
		OptimizedAvgWait:      optWait,
		ImprovementPercentage: improvement,
		BaselineBuses:         len(baseline.fleet.Buses()),
		OptimizedBuses:        len(adaptive.fleet.Buses()),
	}

	for _, ev := range disrupt.Active() {
		snap.ActiveDisruptions = append(snap.ActiveDisruptions, DisruptionView{
			ID:       int64(ev.ID),
			Type:     string(ev.Type),
			X:        ev.Loc.X,
			Y:        ev.Loc.Y,
			Factor:   ev.Factor,
			Duration: ev.DurationTicks,
		})
	}
	return snap
}

func busView(b *Bus, idOffset int, optimized bool) BusView {
	x, y := b.Position()
	return BusView{
		ID:          b.ID + idOffset,
		X:           x,
		Y:           y,
		Load:        b.Load(),
		Capacity:    b.Capacity,
		RouteID:     b.RouteID,
		IsOptimized: optimized,
		Color:       busColors[b.RouteID%len(busColors)],
		LastAction:  b.LastAction.String(),
	}
}
