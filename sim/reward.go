package sim

// RewardComponents breaks the scalar reward into its weighted terms, carried
// in step info for analysis and training dashboards.
type RewardComponents struct {
	AvgWait       float64 `json:"avg_wait"`
	Overcrowd     float64 `json:"overcrowd"`
	ExtraDistance float64 `json:"extra_distance"`
	ReplanRate    float64 `json:"replan_rate"`
	Total         float64 `json:"total"`
}

// RewardEngine folds the per-tick KPIs of the adaptive world into a scalar
// reward:
//
//	reward = W.Wait*avgWait + W.Overcrowd*overcrowd
//	       + W.Distance*extraDistance + W.Replan*replanRate
//
// The weights come from configuration; the defaults reproduce the demo's
// documented constants (-1, -2, -0.1, -0.05). extraDistance is the distance
// the adaptive fleet traveled beyond the baseline fleet, matched per bus id.
type RewardEngine struct {
	weights RewardWeights
}

// NewRewardEngine creates a RewardEngine with the given weights.
func NewRewardEngine(weights RewardWeights) *RewardEngine {
	return &RewardEngine{weights: weights}
}

// Compute returns the reward and its components for the current tick.
// baseline may equal adaptive (static mode); extra distance is then zero.
func (e *RewardEngine) Compute(now int64, adaptive, baseline *world) (float64, RewardComponents) {
	c := RewardComponents{
		AvgWait:       adaptive.demand.AvgWait(now),
		Overcrowd:     adaptive.fleet.OvercrowdRatio(adaptive.cfg.OvercrowdThreshold),
		ExtraDistance: extraDistance(adaptive.fleet, baseline.fleet),
		ReplanRate:    replanRate(adaptive.fleet, now),
	}
	c.Total = e.weights.Wait*c.AvgWait +
		e.weights.Overcrowd*c.Overcrowd +
		e.weights.Distance*c.ExtraDistance +
		e.weights.Replan*c.ReplanRate
	return c.Total, c
}

// extraDistance sums, per bus id, the distance the adaptive bus traveled
// beyond its baseline twin. Shortfalls do not offset excesses.
func extraDistance(adaptive, baseline *BusFleet) float64 {
	baseByID := make(map[int]float64, len(baseline.Buses()))
	for _, b := range baseline.Buses() {
		baseByID[b.ID] = b.DistanceTraveled
	}
	extra := 0.0
	for _, b := range adaptive.Buses() {
		if d := b.DistanceTraveled - baseByID[b.ID]; d > 0 {
			extra += d
		}
	}
	return extra
}

// replanRate is replans per tick since episode start.
func replanRate(f *BusFleet, now int64) float64 {
	if now <= 0 {
		return 0
	}
	return float64(f.TotalReplans()) / float64(now)
}
