package sim

import (
	"math"

	"github.com/sirupsen/logrus"
)

// Mode selects how a fleet is dispatched.
type Mode string

const (
	// ModeStatic follows fixed cyclic routes; the action is always CONTINUE.
	ModeStatic Mode = "static"
	// ModeAdaptive drives buses from a pluggable ActionSelector.
	ModeAdaptive Mode = "adaptive"
)

func (m Mode) valid() bool {
	return m == ModeStatic || m == ModeAdaptive
}

// Bus is a single bus agent. Position is either a node (Moving == false) or
// an edge plus progress along it. All mutation happens inside the fleet's
// per-tick advance; snapshots read a consistent post-tick state.
type Bus struct {
	ID       int
	RouteID  int
	Capacity int
	Mode     Mode

	At       Coord   // last node reached
	ToNode   Coord   // node being traveled toward, valid while Moving
	Moving   bool
	Progress float64 // fraction of the current edge traversed, in [0, 1)

	Route    []int // cyclic stop sequence
	RouteIdx int   // index of the next scheduled stop
	// Redirect overrides the next target after GO_TO_HIGH_DEMAND; -1 when
	// inactive.
	Redirect int

	Onboard     []*Rider
	LastAction  Action
	ReplanCount int64
	HoldUntil   int64 // SHORT_HOLD: no movement while tick < HoldUntil

	// DistanceTraveled counts completed edges (grid units).
	DistanceTraveled float64
}

// Load returns the current onboard count.
func (b *Bus) Load() int {
	return len(b.Onboard)
}

// RemainingCapacity returns how many more riders can board.
func (b *Bus) RemainingCapacity() int {
	rem := b.Capacity - len(b.Onboard)
	if rem < 0 {
		return 0
	}
	return rem
}

// LoadRatio returns the fraction of capacity occupied.
func (b *Bus) LoadRatio() float64 {
	if b.Capacity == 0 {
		return 0
	}
	return float64(len(b.Onboard)) / float64(b.Capacity)
}

// TargetStop returns the stop the bus is currently heading for.
func (b *Bus) TargetStop() int {
	if b.Redirect >= 0 {
		return b.Redirect
	}
	if len(b.Route) == 0 {
		return -1
	}
	return b.Route[b.RouteIdx%len(b.Route)]
}

// Position returns the bus position in continuous grid coordinates,
// interpolated along the current edge while moving.
func (b *Bus) Position() (float64, float64) {
	if !b.Moving {
		return float64(b.At.X), float64(b.At.Y)
	}
	x := float64(b.At.X) + (float64(b.ToNode.X)-float64(b.At.X))*b.Progress
	y := float64(b.At.Y) + (float64(b.ToNode.Y)-float64(b.At.Y))*b.Progress
	return x, y
}

// advance moves the bus by one tick. It returns the stop id the bus arrived
// at this tick, or -1.
func (b *Bus) advance(g *CityGraph, now int64) int {
	if now < b.HoldUntil {
		return -1
	}

	if !b.Moving {
		target := b.TargetStop()
		if target < 0 {
			return -1
		}
		stop := g.Stop(target)
		if b.At == stop.Pos {
			// Already standing on the target; treat as an arrival so the
			// route index advances even after a redirect to the current node.
			return target
		}
		next, ok := g.NextHop(b.At, target)
		if !ok {
			logrus.Debugf("bus %d: stop %d unreachable from %s", b.ID, target, b.At)
			return -1
		}
		b.ToNode = next
		b.Progress = 0
		b.Moving = true
	}

	cost := g.EdgeCost(b.At, b.ToNode)
	if math.IsInf(cost, 1) {
		// The edge closed mid-traversal: back off to the departure node and
		// replan from there next tick.
		b.Moving = false
		b.Progress = 0
		logrus.Debugf("bus %d: edge %s->%s became impassable, replanning", b.ID, b.At, b.ToNode)
		return -1
	}

	b.Progress += 1.0 / cost
	if b.Progress < 1.0 {
		return -1
	}

	b.At = b.ToNode
	b.Moving = false
	b.Progress = 0
	b.DistanceTraveled += 1.0

	if stopID, ok := g.StopIDAt(b.At); ok {
		return stopID
	}
	return -1
}

// alight removes onboard riders destined for the given stop. Returns how
// many alighted.
func (b *Bus) alight(stopID int, demand *RiderDemandModel) int {
	if len(b.Onboard) == 0 {
		return 0
	}
	keep := b.Onboard[:0]
	n := 0
	for _, r := range b.Onboard {
		if r.Destination == stopID {
			demand.NoteDelivered(r)
			n++
		} else {
			keep = append(keep, r)
		}
	}
	b.Onboard = keep
	return n
}

// board moves riders FIFO from the stop queue into the bus up to remaining
// capacity. Boarding stops silently once full; excess riders stay queued.
// Returns how many boarded.
func (b *Bus) board(stop *Stop, demand *RiderDemandModel, now int64) int {
	n := 0
	for b.RemainingCapacity() > 0 {
		r := stop.Queue.Dequeue()
		if r == nil {
			break
		}
		demand.NoteBoarded(r, now)
		b.Onboard = append(b.Onboard, r)
		n++
	}
	if len(b.Onboard) > b.Capacity {
		// A violated capacity invariant means the tick is corrupt; fail
		// loudly instead of publishing a bad snapshot.
		logrus.Panicf("bus %d: onboard %d exceeds capacity %d", b.ID, len(b.Onboard), b.Capacity)
	}
	return n
}

// arriveAt runs the stop-arrival sequence: alight riders destined here, then
// board from the queue, then advance the route plan past this stop.
func (b *Bus) arriveAt(stopID int, g *CityGraph, demand *RiderDemandModel, now int64) {
	stop := g.Stop(stopID)
	alighted := b.alight(stopID, demand)
	boarded := b.board(stop, demand, now)
	if alighted > 0 || boarded > 0 {
		logrus.Debugf("[tick %07d] bus %d at stop %d (%s): -%d +%d load=%d/%d",
			now, b.ID, stopID, stop.Name, alighted, boarded, len(b.Onboard), b.Capacity)
	}

	if b.Redirect == stopID {
		b.Redirect = -1
	}
	if len(b.Route) > 0 && b.Route[b.RouteIdx%len(b.Route)] == stopID {
		b.RouteIdx = (b.RouteIdx + 1) % len(b.Route)
	}
}
