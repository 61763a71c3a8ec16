package sim

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// worldForTest assembles a full single world the way Reset does.
func worldForTest(t *testing.T, seed int64, cfg Config) *world {
	t.Helper()
	require.NoError(t, cfg.Validate())
	return newWorld(cfg, NewSimulationKey(seed))
}

func queueRiders(stop *Stop, n int, dest int, now int64) {
	for i := 0; i < n; i++ {
		stop.Queue.Enqueue(&Rider{ID: int64(1000 + i), Origin: stop.ID, Destination: dest, ArrivalTick: now, BoardedTick: -1})
	}
}

func TestBus_LoadAndCapacity(t *testing.T) {
	b := &Bus{Capacity: 4, Onboard: []*Rider{{}, {}, {}}}
	assert.Equal(t, 3, b.Load())
	assert.Equal(t, 1, b.RemainingCapacity())
	assert.InDelta(t, 0.75, b.LoadRatio(), 1e-12)
}

func TestBus_TargetStop_RedirectOverridesRoute(t *testing.T) {
	b := &Bus{Route: []int{3, 5}, RouteIdx: 1, Redirect: -1}
	assert.Equal(t, 5, b.TargetStop())
	b.Redirect = 7
	assert.Equal(t, 7, b.TargetStop())
}

func TestBus_Position_InterpolatesAlongEdge(t *testing.T) {
	b := &Bus{At: Coord{2, 3}, ToNode: Coord{3, 3}, Moving: true, Progress: 0.5}
	x, y := b.Position()
	assert.InDelta(t, 2.5, x, 1e-12)
	assert.InDelta(t, 3.0, y, 1e-12)

	b.Moving = false
	x, y = b.Position()
	assert.Equal(t, 2.0, x)
	assert.Equal(t, 3.0, y)
}

func TestBus_Board_FIFOUpToCapacity(t *testing.T) {
	w := worldForTest(t, 1, testConfig())
	b := w.fleet.Buses()[0]
	stop := w.graph.Stop(b.Route[0])
	queueRiders(stop, 6, (b.Route[0]+1)%len(w.graph.Stops()), 0)

	boarded := b.board(stop, w.demand, 5)
	assert.Equal(t, b.Capacity, boarded)
	assert.Equal(t, b.Capacity, b.Load())
	assert.Equal(t, 2, stop.Queue.Len())
	// FIFO: the first generated riders boarded first.
	assert.Equal(t, int64(1000), b.Onboard[0].ID)
	assert.Equal(t, int64(1004), stop.Queue.Peek().ID)
}

func TestBus_Board_CapacityInvariantViolation_Panics(t *testing.T) {
	w := worldForTest(t, 1, testConfig())
	b := w.fleet.Buses()[0]
	stop := w.graph.Stop(b.Route[0])
	b.Onboard = []*Rider{{}, {}, {}, {}, {}} // corrupt: beyond capacity 4

	assert.Panics(t, func() { b.board(stop, w.demand, 1) })
}

func TestBus_Alight_DeliversOnlyMatchingRiders(t *testing.T) {
	w := worldForTest(t, 1, testConfig())
	b := w.fleet.Buses()[0]
	b.Onboard = []*Rider{
		{ID: 1, Destination: 2, BoardedTick: 0},
		{ID: 2, Destination: 3, BoardedTick: 0},
		{ID: 3, Destination: 2, BoardedTick: 0},
	}

	n := b.alight(2, w.demand)
	assert.Equal(t, 2, n)
	require.Len(t, b.Onboard, 1)
	assert.Equal(t, int64(2), b.Onboard[0].ID)
	assert.Equal(t, int64(2), w.demand.Delivered)
}

func TestBus_Advance_HoldBlocksMovement(t *testing.T) {
	w := worldForTest(t, 1, testConfig())
	b := w.fleet.Buses()[0]
	b.HoldUntil = 10

	at := b.At
	assert.Equal(t, -1, b.advance(w.graph, 9))
	assert.Equal(t, at, b.At)
	assert.False(t, b.Moving)
}

func TestBus_Advance_ReachesAdjacentStopWithinTwoTicks(t *testing.T) {
	w := worldForTest(t, 1, testConfig())
	g := w.graph
	stop := g.Stop(0)
	nb := g.Neighbors(stop.Pos)[0]
	if _, isStop := g.StopIDAt(nb); isStop {
		nb = g.Neighbors(stop.Pos)[1]
	}

	b := &Bus{ID: 99, Capacity: 4, Route: []int{0}, Redirect: -1, At: nb}
	arrived := b.advance(g, 1)
	if arrived < 0 {
		arrived = b.advance(g, 2)
	}
	// Base times are under 1.5 ticks, so two ticks always cover one edge.
	assert.Equal(t, 0, arrived)
	assert.Equal(t, stop.Pos, b.At)
	assert.Equal(t, 1.0, b.DistanceTraveled)
}

func TestBus_Advance_StandingOnTarget_CountsAsArrival(t *testing.T) {
	w := worldForTest(t, 1, testConfig())
	b := w.fleet.Buses()[0]
	assert.Equal(t, b.Route[0], b.advance(w.graph, 1))
}

func TestBus_Advance_EdgeClosedMidTraversal_BacksOff(t *testing.T) {
	w := worldForTest(t, 1, testConfig())
	g := w.graph
	stop := g.Stop(0)
	nb := g.Neighbors(stop.Pos)[0]

	b := &Bus{ID: 99, Capacity: 4, Route: []int{0}, Redirect: -1, At: nb, ToNode: stop.Pos, Moving: true, Progress: 0.4}
	g.setEdgeState(nb, stop.Pos, 0, true)

	assert.Equal(t, -1, b.advance(g, 1))
	assert.False(t, b.Moving)
	assert.Equal(t, 0.0, b.Progress)
	assert.Equal(t, nb, b.At)
}

func TestBus_ArriveAt_AdvancesRoutePastStop(t *testing.T) {
	w := worldForTest(t, 1, testConfig())
	b := w.fleet.Buses()[0]
	first := b.Route[0]
	b.Redirect = first

	b.arriveAt(first, w.graph, w.demand, 1)
	assert.Equal(t, -1, b.Redirect)
	assert.Equal(t, 1, b.RouteIdx)

	// Arriving at a stop off the schedule keeps the route index.
	idx := b.RouteIdx
	off := 0
	for off == b.Route[idx] {
		off++
	}
	b.arriveAt(off, w.graph, w.demand, 2)
	assert.Equal(t, idx, b.RouteIdx)
}

func TestNewBusFleet_BusesStartAtFirstRouteStop(t *testing.T) {
	cfg := testConfig()
	w := worldForTest(t, 42, cfg)
	buses := w.fleet.Buses()
	require.Len(t, buses, cfg.NumBuses)
	for i, b := range buses {
		assert.Equal(t, i, b.ID)
		require.NotEmpty(t, b.Route)
		assert.Equal(t, w.graph.Stop(b.Route[0]).Pos, b.At)
		assert.Equal(t, -1, b.Redirect)
		assert.LessOrEqual(t, len(b.Route), cfg.RouteStops)
	}
}

func TestBusFleet_Apply_ShortHold(t *testing.T) {
	cfg := testConfig()
	w := worldForTest(t, 1, cfg)
	b := w.fleet.Buses()[0]

	w.fleet.apply(b, ActionShortHold, 10)
	assert.Equal(t, int64(10+1+cfg.HoldTicks), b.HoldUntil)
	assert.Equal(t, int64(1), b.ReplanCount)
}

func TestBusFleet_Apply_GoToHighDemand_RedirectsToLargestQueue(t *testing.T) {
	w := worldForTest(t, 1, testConfig())
	b := w.fleet.Buses()[0]

	target := (b.TargetStop() + 1) % len(w.graph.Stops())
	queueRiders(w.graph.Stop(target), 5, b.TargetStop(), 0)

	w.fleet.apply(b, ActionGoToHighDemand, 1)
	assert.Equal(t, target, b.Redirect)
	assert.Equal(t, int64(1), b.ReplanCount)

	// Re-issuing toward the same target is not another replan.
	w.fleet.apply(b, ActionGoToHighDemand, 2)
	assert.Equal(t, int64(1), b.ReplanCount)
}

func TestBusFleet_Apply_GoToHighDemand_NoQueues_NoOp(t *testing.T) {
	w := worldForTest(t, 1, testConfig())
	b := w.fleet.Buses()[0]
	w.fleet.apply(b, ActionGoToHighDemand, 1)
	assert.Equal(t, -1, b.Redirect)
	assert.Equal(t, int64(0), b.ReplanCount)
}

func TestBusFleet_Apply_SkipLowDemand_OnlyBelowThreshold(t *testing.T) {
	cfg := testConfig()
	w := worldForTest(t, 1, cfg)
	b := w.fleet.Buses()[0]
	next := b.Route[b.RouteIdx]

	// Busy stop: skip refused.
	queueRiders(w.graph.Stop(next), cfg.SkipThreshold, 0, 0)
	w.fleet.apply(b, ActionSkipLowDemand, 1)
	assert.Equal(t, 0, b.RouteIdx)
	assert.Equal(t, int64(0), b.ReplanCount)

	// Quiet stop: skip accepted.
	for w.graph.Stop(next).Queue.Len() > 0 {
		w.graph.Stop(next).Queue.Dequeue()
	}
	w.fleet.apply(b, ActionSkipLowDemand, 2)
	assert.Equal(t, 1, b.RouteIdx)
	assert.Equal(t, int64(1), b.ReplanCount)
}

type errorSelector struct{}

func (errorSelector) Select(Observation) (Action, error) {
	return 0, errors.New("inference backend down")
}

func TestBusFleet_Decide_SelectorError_FallsBackToContinue(t *testing.T) {
	w := worldForTest(t, 1, testConfig())
	w.fleet.SetPolicy(ModeAdaptive, errorSelector{})
	b := w.fleet.Buses()[0]
	assert.Equal(t, ActionContinue, w.fleet.decide(b, 1, nil))
}

func TestBusFleet_Decide_ExternalActionValidation(t *testing.T) {
	w := worldForTest(t, 1, testConfig())
	w.fleet.SetPolicy(ModeAdaptive, GreedySelector{SkipThreshold: 3})
	b := w.fleet.Buses()[0]

	// Valid external action wins over the selector.
	assert.Equal(t, ActionShortHold, w.fleet.decide(b, 1, map[int]Action{b.ID: ActionShortHold}))
	// Out-of-space action degrades to CONTINUE.
	assert.Equal(t, ActionContinue, w.fleet.decide(b, 1, map[int]Action{b.ID: Action(42)}))

	// Static fleets accept only CONTINUE from outside.
	w.fleet.SetPolicy(ModeStatic, StaticSelector{})
	assert.Equal(t, ActionContinue, w.fleet.decide(b, 1, map[int]Action{b.ID: ActionShortHold}))
}

func TestBusFleet_Observe_NormalizedAndQueueStats(t *testing.T) {
	cfg := testConfig()
	w := worldForTest(t, 1, cfg)
	b := w.fleet.Buses()[0]
	queueRiders(w.graph.Stop(b.TargetStop()), 2, 0, 0)

	obs := w.fleet.Observe(b, 100)
	assert.Equal(t, b.ID, obs.BusID)
	assert.GreaterOrEqual(t, obs.X, 0.0)
	assert.LessOrEqual(t, obs.X, 1.0)
	assert.Equal(t, 2, obs.NextStopQueue)
	assert.Equal(t, 2, obs.MaxQueue)
	assert.InDelta(t, 2.0/float64(cfg.NumStops), obs.MeanQueue, 1e-12)
	assert.InDelta(t, 100.0*cfg.TickSeconds/86400.0, obs.TimeOfDay, 1e-12)
	assert.Len(t, obs.Vector(), 8)
}

func TestBusFleet_Aggregates(t *testing.T) {
	w := worldForTest(t, 1, testConfig())
	buses := w.fleet.Buses()
	buses[0].Onboard = []*Rider{{}, {}, {}, {}} // full, ratio 1.0
	buses[1].ReplanCount = 3
	buses[0].DistanceTraveled = 2.5
	buses[1].DistanceTraveled = 1.0

	assert.Equal(t, 4, w.fleet.OnboardCount())
	assert.InDelta(t, 0.5, w.fleet.OvercrowdRatio(0.8), 1e-12)
	assert.Equal(t, int64(3), w.fleet.TotalReplans())
	assert.InDelta(t, 3.5, w.fleet.TotalDistance(), 1e-12)
	assert.Greater(t, w.fleet.LoadStd(), 0.0)
}
