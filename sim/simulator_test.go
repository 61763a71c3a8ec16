package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulator_StepBeforeReset_StateError(t *testing.T) {
	s := NewSimulator(testConfig())
	_, _, _, _, _, err := s.Step(nil)
	var serr *StateError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, StateUninitialized, serr.State)
}

func TestSimulator_SystemStateBeforeReset_StateError(t *testing.T) {
	s := NewSimulator(testConfig())
	_, err := s.SystemState()
	assert.Error(t, err)
}

func TestSimulator_ControlBeforeReset_StateError(t *testing.T) {
	s := NewSimulator(testConfig())
	_, err := s.ApplyDisruption(DisruptionJam, Coord{1, 1}, DisruptionParams{})
	assert.Error(t, err)
	assert.Error(t, s.ClearDisruptions(nil))
	assert.Error(t, s.SwitchMode(ModeStatic))
}

func TestSimulator_Reset_InitialSnapshot(t *testing.T) {
	cfg := testConfig()
	s := NewSimulator(cfg)
	snap, err := s.Reset(42)
	require.NoError(t, err)

	assert.Equal(t, StateRunning, s.State())
	assert.Equal(t, int64(0), s.Tick())
	assert.Equal(t, ModeAdaptive, s.Mode())
	assert.Equal(t, int64(0), snap.Tick)
	assert.Len(t, snap.Buses, 2*cfg.NumBuses)
	assert.Empty(t, snap.ActiveDisruptions)

	got, err := s.SystemState()
	require.NoError(t, err)
	assert.Same(t, snap, got)
}

func TestSimulator_Reset_InvalidConfig_Error(t *testing.T) {
	cfg := testConfig()
	cfg.NumBuses = 0
	s := NewSimulator(cfg)
	_, err := s.Reset(1)
	assert.Error(t, err)
}

func TestSimulator_SameSeed_IdenticalRuns(t *testing.T) {
	cfg := testConfig()
	a := NewSimulator(cfg)
	b := NewSimulator(cfg)
	_, err := a.Reset(42)
	require.NoError(t, err)
	_, err = b.Reset(42)
	require.NoError(t, err)

	for tick := 0; tick < 60; tick++ {
		snapA, rewardA, _, _, infoA, err := a.Step(nil)
		require.NoError(t, err)
		snapB, rewardB, _, _, infoB, err := b.Step(nil)
		require.NoError(t, err)

		require.Equal(t, rewardA, rewardB, "tick %d", tick)
		require.Equal(t, infoA, infoB, "tick %d", tick)
		require.Equal(t, *snapA, *snapB, "tick %d", tick)
	}
}

func TestSimulator_DifferentSeeds_DivergingRuns(t *testing.T) {
	cfg := testConfig()
	cfg.BaseRate = 0.5
	a := NewSimulator(cfg)
	b := NewSimulator(cfg)
	_, err := a.Reset(1)
	require.NoError(t, err)
	_, err = b.Reset(2)
	require.NoError(t, err)

	diverged := false
	for tick := 0; tick < 30 && !diverged; tick++ {
		snapA, _, _, _, _, err := a.Step(nil)
		require.NoError(t, err)
		snapB, _, _, _, _, err := b.Step(nil)
		require.NoError(t, err)
		if len(snapA.Stops) != len(snapB.Stops) {
			diverged = true
			break
		}
		for i := range snapA.Stops {
			if snapA.Stops[i] != snapB.Stops[i] {
				diverged = true
				break
			}
		}
	}
	assert.True(t, diverged)
}

func TestSimulator_TruncatesAtHorizon(t *testing.T) {
	cfg := testConfig()
	cfg.MaxHorizon = 5
	s := NewSimulator(cfg)
	_, err := s.Reset(1)
	require.NoError(t, err)

	for tick := 1; tick <= 4; tick++ {
		_, _, done, truncated, _, err := s.Step(nil)
		require.NoError(t, err)
		assert.False(t, done)
		assert.False(t, truncated)
	}
	_, _, done, truncated, _, err := s.Step(nil)
	require.NoError(t, err)
	assert.False(t, done)
	assert.True(t, truncated)
	assert.Equal(t, StateTerminated, s.State())

	// A terminated episode rejects further steps but still serves state.
	_, _, _, _, _, err = s.Step(nil)
	assert.Error(t, err)
	_, serr := s.SystemState()
	assert.NoError(t, serr)

	// Reset starts a fresh episode.
	_, err = s.Reset(2)
	require.NoError(t, err)
	assert.Equal(t, StateRunning, s.State())
	assert.Equal(t, int64(0), s.Tick())
}

func TestSimulator_SwitchMode_IdempotentAndValidated(t *testing.T) {
	s := NewSimulator(testConfig())
	_, err := s.Reset(1)
	require.NoError(t, err)

	require.NoError(t, s.SwitchMode(ModeAdaptive))
	assert.Equal(t, ModeAdaptive, s.Mode())
	require.NoError(t, s.SwitchMode(ModeStatic))
	require.NoError(t, s.SwitchMode(ModeStatic))
	assert.Equal(t, ModeStatic, s.Mode())

	var verr *ValidationError
	assert.ErrorAs(t, s.SwitchMode(Mode("chaotic")), &verr)
	assert.Equal(t, ModeStatic, s.Mode())
}

func TestSimulator_StaticMode_IgnoresExternalActions(t *testing.T) {
	s := NewSimulator(testConfig())
	_, err := s.Reset(1)
	require.NoError(t, err)
	require.NoError(t, s.SwitchMode(ModeStatic))

	_, _, _, _, _, err = s.Step(map[int]Action{0: ActionShortHold})
	assert.NoError(t, err)
	assert.Equal(t, int64(0), s.adaptive.fleet.Buses()[0].ReplanCount)
}

func TestSimulator_AdaptiveMode_AppliesExternalActions(t *testing.T) {
	s := NewSimulator(testConfig())
	_, err := s.Reset(1)
	require.NoError(t, err)

	// Buses start parked on their first stop, so tick 1 is a decision point.
	_, _, _, _, _, err = s.Step(map[int]Action{0: ActionShortHold})
	require.NoError(t, err)
	b := s.adaptive.fleet.Buses()[0]
	assert.Equal(t, ActionShortHold, b.LastAction)
	assert.Greater(t, b.HoldUntil, int64(1))
}

func TestSimulator_Reset_ClearsDisruptions(t *testing.T) {
	s := NewSimulator(testConfig())
	_, err := s.Reset(1)
	require.NoError(t, err)
	_, err = s.ApplyDisruption(DisruptionClosure, Coord{3, 3}, DisruptionParams{})
	require.NoError(t, err)

	snap, err := s.Reset(1)
	require.NoError(t, err)
	assert.Empty(t, snap.ActiveDisruptions)
}

func TestSimulator_ClearDisruptions_ByIDAndAll(t *testing.T) {
	s := NewSimulator(testConfig())
	_, err := s.Reset(1)
	require.NoError(t, err)

	id, err := s.ApplyDisruption(DisruptionJam, Coord{2, 2}, DisruptionParams{})
	require.NoError(t, err)
	_, err = s.ApplyDisruption(DisruptionIcy, Coord{4, 4}, DisruptionParams{})
	require.NoError(t, err)

	require.NoError(t, s.ClearDisruptions(&id))
	assert.Error(t, s.ClearDisruptions(&id), "second clear of the same id")

	require.NoError(t, s.ClearDisruptions(nil))
	snap, _, _, _, _, err := s.Step(nil)
	require.NoError(t, err)
	assert.Empty(t, snap.ActiveDisruptions)
}

func TestSimulator_Surge_RaisesDemandOverTwinRun(t *testing.T) {
	cfg := testConfig()
	cfg.BaseRate = 0.5

	surged := NewSimulator(cfg)
	quiet := NewSimulator(cfg)
	_, err := surged.Reset(42)
	require.NoError(t, err)
	_, err = quiet.Reset(42)
	require.NoError(t, err)

	loc := surged.adaptive.graph.Stop(0).Pos
	_, err = surged.ApplyDisruption(DisruptionSurge, loc, DisruptionParams{SurgeFactor: 10})
	require.NoError(t, err)

	for tick := 0; tick < 100; tick++ {
		_, _, _, _, _, err = surged.Step(nil)
		require.NoError(t, err)
		_, _, _, _, _, err = quiet.Step(nil)
		require.NoError(t, err)
	}
	assert.Greater(t, surged.adaptive.demand.Generated, quiet.adaptive.demand.Generated)
}

func TestSimulator_Closure_IsolatedStopQueueOutgrowsTwinRun(t *testing.T) {
	cfg := testConfig()
	cfg.BaseRate = 0.5
	cfg.MaxWaitTicks = 0 // no abandonment, queues only shrink by boarding

	disrupted := NewSimulator(cfg)
	twin := NewSimulator(cfg)
	_, err := disrupted.Reset(42)
	require.NoError(t, err)
	_, err = twin.Reset(42)
	require.NoError(t, err)

	// Island a stop no bus starts on: every incident edge closes, so no bus
	// can ever reach it, while the identical demand stream keeps arriving.
	starts := make(map[Coord]bool)
	for _, w := range []*world{disrupted.baseline, disrupted.adaptive} {
		for _, b := range w.fleet.Buses() {
			starts[b.At] = true
		}
	}
	stopID := -1
	for _, s := range disrupted.adaptive.graph.Stops() {
		if !starts[s.Pos] {
			stopID = s.ID
			break
		}
	}
	require.GreaterOrEqual(t, stopID, 0)
	loc := disrupted.adaptive.graph.Stop(stopID).Pos
	_, err = disrupted.ApplyDisruption(DisruptionClosure, loc, DisruptionParams{})
	require.NoError(t, err)

	for tick := 0; tick < 300; tick++ {
		_, _, _, _, _, err = disrupted.Step(nil)
		require.NoError(t, err)
		_, _, _, _, _, err = twin.Step(nil)
		require.NoError(t, err)

		// Arrivals are identical across the runs, so the unservable queue
		// can never be shorter than its served twin.
		qd := disrupted.adaptive.graph.Stop(stopID).Queue.Len()
		qt := twin.adaptive.graph.Stop(stopID).Queue.Len()
		require.GreaterOrEqual(t, qd, qt, "tick %d", tick)
	}
	assert.Greater(t, disrupted.adaptive.graph.Stop(stopID).Queue.Len(), 0)
}

func TestSimulator_UsePolicy_FailureNeverHaltsTick(t *testing.T) {
	s := NewSimulator(testConfig())
	_, err := s.Reset(1)
	require.NoError(t, err)
	s.UsePolicy(errorSelector{})

	for tick := 0; tick < 10; tick++ {
		_, _, _, _, _, err := s.Step(nil)
		require.NoError(t, err)
	}
	// Failed inference degrades every decision to CONTINUE.
	assert.Equal(t, int64(0), s.adaptive.fleet.TotalReplans())

	s.UsePolicy(nil)
	_, _, _, _, _, err = s.Step(nil)
	assert.NoError(t, err)
}

func TestSimulator_RidersBoardAndRide_DefaultDemo(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxHorizon = 1200 // 20 simulated minutes
	s := NewSimulator(cfg)
	_, err := s.Reset(42)
	require.NoError(t, err)

	var snap *Snapshot
	for {
		var truncated bool
		snap, _, _, truncated, _, err = s.Step(nil)
		require.NoError(t, err)
		if truncated {
			break
		}
	}

	d := s.adaptive.demand
	assert.Greater(t, d.Generated, int64(0))
	boardedEver := int64(snap.KPIs.TotalPassengersOnBuses) + d.Delivered
	assert.Greater(t, boardedEver, int64(0), "buses must pick riders up within 20 minutes")

	// Rider conservation across the whole episode.
	waiting := int64(snap.KPIs.TotalPassengersWaiting)
	onboard := int64(snap.KPIs.TotalPassengersOnBuses)
	assert.Equal(t, d.Generated, waiting+onboard+d.Delivered+d.Abandoned)
}

func TestSimulator_Conservation_HoldsEveryTick(t *testing.T) {
	cfg := testConfig()
	cfg.BaseRate = 0.5
	s := NewSimulator(cfg)
	_, err := s.Reset(7)
	require.NoError(t, err)

	for tick := 0; tick < 150; tick++ {
		_, _, _, _, _, err := s.Step(nil)
		require.NoError(t, err)
		for _, w := range []*world{s.baseline, s.adaptive} {
			got := int64(w.demand.WaitingCount()+w.fleet.OnboardCount()) + w.demand.Delivered + w.demand.Abandoned
			require.Equal(t, w.demand.Generated, got, "tick %d", tick)
		}
	}
}

func TestSimState_String(t *testing.T) {
	assert.Equal(t, "UNINITIALIZED", StateUninitialized.String())
	assert.Equal(t, "RUNNING", StateRunning.String())
	assert.Equal(t, "TERMINATED", StateTerminated.String())
	assert.Equal(t, "UNKNOWN", SimState(9).String())
}
