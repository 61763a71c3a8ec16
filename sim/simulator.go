// sim/simulator.go
package sim

import (
	"github.com/sirupsen/logrus"
)

// SimState is the orchestrator lifecycle state.
type SimState int

const (
	// StateUninitialized is the state before the first Reset.
	StateUninitialized SimState = iota
	// StateRunning accepts Step and control operations.
	StateRunning
	// StateTerminated is entered when an episode ends (done or truncated);
	// only Reset and SystemState remain valid.
	StateTerminated
)

func (s SimState) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateRunning:
		return "RUNNING"
	case StateTerminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}

// StepInfo is the auxiliary payload returned by Step.
type StepInfo struct {
	Tick              int64            `json:"tick"`
	Mode              Mode             `json:"mode"`
	RewardComponents  RewardComponents `json:"reward_components"`
	ActiveDisruptions int              `json:"active_disruptions"`
}

// world is one self-contained simulation instance: a graph, a demand model,
// and a fleet, all fed from one PartitionedRNG. The orchestrator runs two
// of them in lockstep.
type world struct {
	cfg    Config
	rng    *PartitionedRNG
	graph  *CityGraph
	demand *RiderDemandModel
	fleet  *BusFleet
}

// Simulator is the SimulationOrchestrator: it owns the tick clock, the twin
// baseline/adaptive worlds, the shared disruption schedule, and the
// Reset/Step/snapshot contract.
//
// All methods must be called from a single goroutine; one tick's computation
// runs to completion before any state is published. Background consumers
// operate on the returned immutable snapshots, never on internal state.
type Simulator struct {
	cfg   Config
	state SimState
	seed  int64
	tick  int64
	mode  Mode

	// policy drives the adaptive world while mode == ModeAdaptive. Defaults
	// to the built-in greedy heuristic; UsePolicy swaps in an external
	// inference client.
	policy ActionSelector

	baseline *world
	adaptive *world
	disrupt  *DisruptionManager
	reward   *RewardEngine

	lastSnapshot *Snapshot
}

// NewSimulator creates an UNINITIALIZED orchestrator. Call Reset before
// Step.
func NewSimulator(cfg Config) *Simulator {
	return &Simulator{
		cfg:    cfg,
		state:  StateUninitialized,
		mode:   ModeAdaptive,
		policy: GreedySelector{SkipThreshold: cfg.SkipThreshold},
	}
}

// UsePolicy replaces the adaptive ActionSelector (e.g. with a PolicySelector
// wrapping an external inference runtime). Takes effect at the next decision
// point; a nil selector restores the built-in heuristic.
func (s *Simulator) UsePolicy(sel ActionSelector) {
	if sel == nil {
		sel = GreedySelector{SkipThreshold: s.cfg.SkipThreshold}
	}
	s.policy = sel
	if s.state != StateUninitialized && s.mode == ModeAdaptive {
		s.adaptive.fleet.SetPolicy(ModeAdaptive, s.policy)
	}
}

// Reset reinitializes both worlds from the seed, clears all disruptions,
// and returns the initial snapshot. It is the only way to abandon an
// episode early; all mutable state is rebuilt before it returns.
func (s *Simulator) Reset(seed int64) (*Snapshot, error) {
	if err := s.cfg.Validate(); err != nil {
		return nil, err
	}
	s.seed = seed
	s.tick = 0

	key := NewSimulationKey(seed)
	s.baseline = newWorld(s.cfg, key)
	s.adaptive = newWorld(s.cfg, key)
	s.disrupt = NewDisruptionManager(s.cfg, s.baseline.graph, s.adaptive.graph)
	s.baseline.demand.SetSurgeSource(s.disrupt)
	s.adaptive.demand.SetSurgeSource(s.disrupt)
	s.reward = NewRewardEngine(s.cfg.Reward)

	s.baseline.fleet.SetPolicy(ModeStatic, StaticSelector{})
	s.applyMode()

	s.state = StateRunning
	s.lastSnapshot = buildSnapshot(0, s.cfg, s.mode, s.baseline, s.adaptive, s.disrupt)
	logrus.Infof("reset: seed=%d grid=%dx%d stops=%d buses=%d horizon=%d",
		seed, s.cfg.GridSize, s.cfg.GridSize, s.cfg.NumStops, s.cfg.NumBuses, s.cfg.MaxHorizon)
	return s.lastSnapshot, nil
}

// newWorld builds one simulation instance. Both worlds are constructed with
// identical calls, so their layout and demand streams are bit-identical.
func newWorld(cfg Config, key SimulationKey) *world {
	rng := NewPartitionedRNG(key)
	layout := rng.ForSubsystem(SubsystemLayout)
	graph := NewCityGraph(cfg, layout)
	demand := NewRiderDemandModel(cfg, graph, rng.ForSubsystem(SubsystemDemand), nil)
	fleet := NewBusFleet(cfg, graph, demand, ModeStatic, StaticSelector{}, layout)
	return &world{cfg: cfg, rng: rng, graph: graph, demand: demand, fleet: fleet}
}

// Step advances the simulation by one tick: disruption expiry, demand
// injection, fleet movement and boarding, then reward and snapshot. actions
// optionally overrides the adaptive policy per bus id; it is ignored in
// static mode. done is always false (episodes are horizon-bound); truncated
// becomes true once tick reaches the configured horizon.
func (s *Simulator) Step(actions map[int]Action) (*Snapshot, float64, bool, bool, StepInfo, error) {
	if s.state != StateRunning {
		return nil, 0, false, false, StepInfo{}, &StateError{Op: "step", State: s.state}
	}

	s.tick++
	now := s.tick

	// Fixed subsystem order: disruptions -> demand -> movement/boarding ->
	// reward. Nothing observes a partially-updated tick.
	s.disrupt.Expire(now)

	s.baseline.demand.BeginTick()
	s.adaptive.demand.BeginTick()
	s.baseline.demand.Inject(now)
	s.adaptive.demand.Inject(now)

	s.baseline.fleet.Advance(now, nil)
	var adaptiveActions map[int]Action
	if s.mode == ModeAdaptive {
		adaptiveActions = actions
	} else if len(actions) > 0 {
		logrus.Warnf("step: %d external actions ignored in static mode", len(actions))
	}
	s.adaptive.fleet.Advance(now, adaptiveActions)

	reward, components := s.reward.Compute(now, s.adaptive, s.baseline)

	done := false
	truncated := now >= s.cfg.MaxHorizon
	if truncated {
		s.state = StateTerminated
		logrus.Infof("[tick %07d] episode truncated at horizon", now)
	}

	s.lastSnapshot = buildSnapshot(now, s.cfg, s.mode, s.baseline, s.adaptive, s.disrupt)
	info := StepInfo{
		Tick:              now,
		Mode:              s.mode,
		RewardComponents:  components,
		ActiveDisruptions: len(s.disrupt.Active()),
	}
	return s.lastSnapshot, reward, done, truncated, info, nil
}

// ApplyDisruption validates and activates a disruption on both worlds.
// Rejected requests leave all state unchanged.
func (s *Simulator) ApplyDisruption(typ DisruptionType, loc Coord, params DisruptionParams) (DisruptionID, error) {
	if s.state != StateRunning {
		return 0, &StateError{Op: "apply_disruption", State: s.state}
	}
	return s.disrupt.Apply(typ, loc, params, s.tick)
}

// ClearDisruptions removes one disruption (by id) or, with a nil id, every
// active disruption. Clearing restores base edge costs exactly.
func (s *Simulator) ClearDisruptions(id *DisruptionID) error {
	if s.state != StateRunning {
		return &StateError{Op: "clear_disruptions", State: s.state}
	}
	if id == nil {
		s.disrupt.ClearAll()
		return nil
	}
	return s.disrupt.Clear(*id)
}

// SwitchMode selects the dispatch mode of the adaptive fleet. Idempotent;
// valid any time while RUNNING.
func (s *Simulator) SwitchMode(mode Mode) error {
	if s.state != StateRunning {
		return &StateError{Op: "switch_mode", State: s.state}
	}
	if !mode.valid() {
		return validationErrorf("switch_mode", "unknown mode %q", mode)
	}
	if mode == s.mode {
		return nil
	}
	s.mode = mode
	s.applyMode()
	logrus.Infof("[tick %07d] dispatch mode switched to %s", s.tick, mode)
	return nil
}

func (s *Simulator) applyMode() {
	if s.mode == ModeAdaptive {
		s.adaptive.fleet.SetPolicy(ModeAdaptive, s.policy)
	} else {
		s.adaptive.fleet.SetPolicy(ModeStatic, StaticSelector{})
	}
}

// Mode returns the current dispatch mode.
func (s *Simulator) Mode() Mode {
	return s.mode
}

// State returns the orchestrator lifecycle state.
func (s *Simulator) State() SimState {
	return s.state
}

// Tick returns the current tick count within the episode.
func (s *Simulator) Tick() int64 {
	return s.tick
}

// SystemState returns the most recently published snapshot, for out-of-band
// polling by non-training consumers. Valid after the first Reset.
func (s *Simulator) SystemState() (*Snapshot, error) {
	if s.state == StateUninitialized {
		return nil, &StateError{Op: "get_system_state", State: s.state}
	}
	return s.lastSnapshot, nil
}
