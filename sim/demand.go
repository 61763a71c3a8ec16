package sim

import (
	"math"
	"math/rand"
	"sort"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"
)

// SurgeSource reports the current demand-surge factor for a stop.
// Implemented by DisruptionManager; 1.0 means no surge.
type SurgeSource interface {
	SurgeFactor(stopID int) float64
}

// nopSurge is the SurgeSource used when no disruption manager is wired in.
type nopSurge struct{}

func (nopSurge) SurgeFactor(int) float64 { return 1.0 }

// RiderDemandModel generates stochastic passenger arrivals per stop and
// tracks the wait-time KPIs. The per-stop, per-tick arrival count is
// Poisson with mean = baseRate x timeOfDayFactor(tick) x locationFactor(stop)
// x surgeFactor(stop).
//
// The model draws an identical variate sequence in every world built from
// the same seed: the number of RNG draws per tick depends only on static
// layout and the shared disruption schedule, never on fleet state.
type RiderDemandModel struct {
	cfg   Config
	graph *CityGraph
	rng   *rand.Rand
	surge SurgeSource

	nextRiderID int64
	locFactors  []float64
	// destCumWeights[origin] is the cumulative inverse-distance weight table
	// for destination choice.
	destCumWeights [][]float64

	// Conservation counters. Generated == waiting + onboard + delivered +
	// abandoned holds at every tick boundary.
	Generated int64
	Abandoned int64
	Delivered int64

	// boardedWaits holds the final wait of every rider who boarded during
	// the current tick, cleared by BeginTick.
	boardedWaits []float64
}

// NewRiderDemandModel builds the demand model over a graph. rng must be the
// world's demand-subsystem stream.
func NewRiderDemandModel(cfg Config, graph *CityGraph, rng *rand.Rand, surge SurgeSource) *RiderDemandModel {
	if surge == nil {
		surge = nopSurge{}
	}
	m := &RiderDemandModel{
		cfg:   cfg,
		graph: graph,
		rng:   rng,
		surge: surge,
	}
	m.initLocationFactors()
	m.initDestinationWeights()
	return m
}

// initLocationFactors precomputes per-stop demand factors: central stops
// attract more riders, falling off linearly toward the grid edge over
// [1.0, 1.5].
func (m *RiderDemandModel) initLocationFactors() {
	center := Coord{m.graph.Size / 2, m.graph.Size / 2}
	maxDist := float64(m.graph.Size) // L1 radius bound from center
	stops := m.graph.Stops()
	m.locFactors = make([]float64, len(stops))
	for i, s := range stops {
		d := float64(ManhattanDist(s.Pos, center))
		m.locFactors[i] = 1.5 - 0.5*math.Min(d/maxDist, 1.0)
	}
}

// initDestinationWeights precomputes cumulative inverse-distance weights so
// each rider's destination costs exactly one uniform draw.
func (m *RiderDemandModel) initDestinationWeights() {
	stops := m.graph.Stops()
	m.destCumWeights = make([][]float64, len(stops))
	for o, origin := range stops {
		cum := make([]float64, len(stops))
		total := 0.0
		for d, dest := range stops {
			if d != o {
				total += 1.0 / float64(ManhattanDist(origin.Pos, dest.Pos)+1)
			}
			cum[d] = total
		}
		m.destCumWeights[o] = cum
	}
}

// TimeOfDayFactor follows the demo's diurnal curve: morning and evening
// peaks, a lunch bump, and a deep night trough.
func (m *RiderDemandModel) TimeOfDayFactor(tick int64) float64 {
	hour := int(float64(tick)*m.cfg.TickSeconds/3600) % 24
	switch {
	case hour >= 6 && hour <= 8:
		return 2.5
	case hour >= 17 && hour <= 19:
		return 2.2
	case hour >= 12 && hour <= 13:
		return 1.3
	case hour >= 22 || hour <= 5:
		return 0.3
	default:
		return 1.0
	}
}

// LocationFactor returns the static demand factor for a stop.
func (m *RiderDemandModel) LocationFactor(stopID int) float64 {
	if stopID < 0 || stopID >= len(m.locFactors) {
		return 1.0
	}
	return m.locFactors[stopID]
}

// SetSurgeSource wires the disruption manager in after construction; the
// manager needs both worlds' graphs first.
func (m *RiderDemandModel) SetSurgeSource(s SurgeSource) {
	if s == nil {
		s = nopSurge{}
	}
	m.surge = s
}

// BeginTick clears the boarded-this-tick wait window. Must run before the
// fleet moves.
func (m *RiderDemandModel) BeginTick() {
	m.boardedWaits = m.boardedWaits[:0]
}

// Inject draws this tick's arrivals for every stop and appends them to the
// stop queues, then applies the abandonment policy.
func (m *RiderDemandModel) Inject(now int64) {
	for _, stop := range m.graph.Stops() {
		mean := m.cfg.BaseRate * m.TimeOfDayFactor(now) * m.locFactors[stop.ID] * m.surge.SurgeFactor(stop.ID)
		n := poisson(m.rng, mean)
		for i := 0; i < n; i++ {
			r := &Rider{
				ID:          m.nextRiderID,
				Origin:      stop.ID,
				Destination: m.chooseDestination(stop.ID),
				ArrivalTick: now,
				BoardedTick: -1,
			}
			m.nextRiderID++
			m.Generated++
			stop.Queue.Enqueue(r)
		}
	}

	for _, stop := range m.graph.Stops() {
		expired := stop.Queue.RemoveExpired(now, m.cfg.MaxWaitTicks)
		if len(expired) > 0 {
			m.Abandoned += int64(len(expired))
			logrus.Debugf("stop %d (%s): %d riders abandoned after %d ticks",
				stop.ID, stop.Name, len(expired), m.cfg.MaxWaitTicks)
		}
	}
}

// chooseDestination picks a destination stop weighted by inverse Manhattan
// distance from the origin. Costs exactly one uniform draw.
func (m *RiderDemandModel) chooseDestination(origin int) int {
	cum := m.destCumWeights[origin]
	total := cum[len(cum)-1]
	if total <= 0 {
		return origin
	}
	u := m.rng.Float64() * total
	idx := sort.SearchFloat64s(cum, u)
	if idx >= len(cum) {
		idx = len(cum) - 1
	}
	// Skip the origin's zero-width slot if the search landed on it.
	if idx == origin {
		idx++
		if idx >= len(cum) {
			idx = origin - 1
		}
	}
	return idx
}

// NoteBoarded records a rider's boarding for the wait-time KPIs and the
// origin stop's cumulative wait accumulator.
func (m *RiderDemandModel) NoteBoarded(r *Rider, now int64) {
	r.BoardedTick = now
	wait := r.WaitTicks(now)
	m.boardedWaits = append(m.boardedWaits, float64(wait)*m.cfg.TickSeconds)
	if s := m.graph.Stop(r.Origin); s != nil {
		s.CumWaitTicks += wait
	}
}

// NoteDelivered counts a rider who alighted at their destination.
func (m *RiderDemandModel) NoteDelivered(*Rider) {
	m.Delivered++
}

// WaitingCount returns the number of riders currently queued at stops.
func (m *RiderDemandModel) WaitingCount() int {
	n := 0
	for _, s := range m.graph.Stops() {
		n += s.Queue.Len()
	}
	return n
}

// waitSample gathers the wait (in seconds) of every rider currently queued
// plus every rider who boarded this tick.
func (m *RiderDemandModel) waitSample(now int64) []float64 {
	sample := make([]float64, 0, m.WaitingCount()+len(m.boardedWaits))
	for _, s := range m.graph.Stops() {
		for _, r := range s.Queue.Items() {
			sample = append(sample, float64(r.WaitTicks(now))*m.cfg.TickSeconds)
		}
	}
	sample = append(sample, m.boardedWaits...)
	return sample
}

// AvgWait returns the mean wait in seconds over riders currently queued or
// boarded this tick. Zero when there are none.
func (m *RiderDemandModel) AvgWait(now int64) float64 {
	sample := m.waitSample(now)
	if len(sample) == 0 {
		return 0
	}
	return stat.Mean(sample, nil)
}

// P90Wait returns the 90th-percentile wait in seconds over the same sample
// as AvgWait.
func (m *RiderDemandModel) P90Wait(now int64) float64 {
	sample := m.waitSample(now)
	if len(sample) == 0 {
		return 0
	}
	sort.Float64s(sample)
	return stat.Quantile(0.9, stat.Empirical, sample, nil)
}

// largePoissonMean is the crossover to the normal approximation, well below
// the ~745 point where exp(-mean) underflows to 0.
const largePoissonMean = 500

// poisson samples a Poisson variate via Knuth's product method. A zero mean
// returns 0 without consuming the stream, which keeps identically-seeded
// worlds aligned. Above largePoissonMean, where exp(-mean) underflows and
// Knuth's method caps out, a normal approximation takes over; both worlds
// compute the same mean for a given stop and tick, so they branch together.
func poisson(rng *rand.Rand, mean float64) int {
	if mean <= 0 {
		return 0
	}
	if mean > largePoissonMean {
		n := math.Round(mean + math.Sqrt(mean)*rng.NormFloat64())
		if n < 0 {
			return 0
		}
		return int(n)
	}
	l := math.Exp(-mean)
	k := 0
	p := 1.0
	for {
		p *= rng.Float64()
		if p <= l {
			return k
		}
		k++
	}
}
