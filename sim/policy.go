package sim

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Action is one dispatch decision for a bus at a decision point.
type Action int

const (
	// ActionContinue follows the current plan.
	ActionContinue Action = iota
	// ActionGoToHighDemand redirects toward the reachable stop with the
	// largest queue, ties broken by lowest stop id.
	ActionGoToHighDemand
	// ActionSkipLowDemand drops the next scheduled stop when its queue is
	// below the configured threshold.
	ActionSkipLowDemand
	// ActionShortHold delays departure by one tick, used to avoid bunching.
	ActionShortHold
)

// numActions bounds the action space for validation.
const numActions = 4

func (a Action) String() string {
	switch a {
	case ActionContinue:
		return "CONTINUE"
	case ActionGoToHighDemand:
		return "GO_TO_HIGH_DEMAND"
	case ActionSkipLowDemand:
		return "SKIP_LOW_DEMAND"
	case ActionShortHold:
		return "SHORT_HOLD"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// Valid reports whether the action is inside the defined action space.
func (a Action) Valid() bool {
	return a >= 0 && a < numActions
}

// Observation is the per-bus feature view handed to action selectors and
// external policies. Positions and loads are normalized to [0, 1].
type Observation struct {
	BusID         int
	X             float64
	Y             float64
	LoadRatio     float64
	NextStopQueue int     // queue length at the next scheduled stop
	MaxQueue      int     // largest queue across all stops
	MeanQueue     float64 // mean queue length across all stops
	TimeOfDay     float64 // fraction of the 24h cycle
	Holding       bool
}

// Vector flattens the observation for policy-gradient consumers, matching
// the layout the exported policies were trained against.
func (o Observation) Vector() []float64 {
	hold := 0.0
	if o.Holding {
		hold = 1.0
	}
	return []float64{
		o.X, o.Y, o.LoadRatio,
		float64(o.NextStopQueue), float64(o.MaxQueue), o.MeanQueue,
		o.TimeOfDay, hold,
	}
}

// ActionSelector chooses a dispatch action for one bus at a decision point.
// Implementations must be deterministic given the same observation sequence
// (or draw only from the world's policy RNG stream).
type ActionSelector interface {
	Select(obs Observation) (Action, error)
}

// StaticSelector is the baseline policy: always CONTINUE.
type StaticSelector struct{}

// Select implements ActionSelector for StaticSelector.
func (StaticSelector) Select(Observation) (Action, error) {
	return ActionContinue, nil
}

// GreedySelector is the built-in adaptive heuristic: chase queue hot spots
// while there is spare capacity, skip dead stops, and otherwise continue.
type GreedySelector struct {
	// SkipThreshold mirrors Config.SkipThreshold.
	SkipThreshold int
}

// Select implements ActionSelector for GreedySelector.
func (s GreedySelector) Select(obs Observation) (Action, error) {
	switch {
	case obs.Holding:
		return ActionContinue, nil
	case float64(obs.MaxQueue) >= 3.0*maxf(obs.MeanQueue, 1.0) && obs.LoadRatio < 0.9:
		return ActionGoToHighDemand, nil
	case obs.NextStopQueue < s.SkipThreshold && obs.MaxQueue >= s.SkipThreshold:
		return ActionSkipLowDemand, nil
	default:
		return ActionContinue, nil
	}
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// PolicyClient is an external inference endpoint (e.g. an exported ONNX
// policy behind a local runtime). The call is synchronous and must return
// within the tick boundary.
type PolicyClient interface {
	SelectAction(ctx context.Context, obs Observation) (Action, error)
}

// PolicySelector adapts a PolicyClient into an ActionSelector with the
// inference-failure semantics the tick loop requires: a timeout or error
// falls back to CONTINUE for the affected bus only and never halts the
// tick.
type PolicySelector struct {
	Client  PolicyClient
	Timeout time.Duration
}

// Select implements ActionSelector for PolicySelector.
func (s *PolicySelector) Select(obs Observation) (Action, error) {
	ctx := context.Background()
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	action, err := s.Client.SelectAction(ctx, obs)
	if err != nil {
		logrus.Warnf("bus %d: policy inference failed (%v), falling back to CONTINUE", obs.BusID, err)
		return ActionContinue, nil
	}
	if !action.Valid() {
		logrus.Warnf("bus %d: policy returned %v, falling back to CONTINUE", obs.BusID, action)
		return ActionContinue, nil
	}
	return action, nil
}
