package sim

import (
	"container/heap"
	"fmt"
	"math"
	"math/rand"

	"github.com/jaswdr/faker"
)

// Coord is a grid intersection. The grid is Manhattan-like: every
// intersection connects to its four neighbors.
type Coord struct {
	X int
	Y int
}

func (c Coord) String() string {
	return fmt.Sprintf("(%d,%d)", c.X, c.Y)
}

// ManhattanDist returns the L1 distance between two coordinates.
func ManhattanDist(a, b Coord) int {
	dx := a.X - b.X
	if dx < 0 {
		dx = -dx
	}
	dy := a.Y - b.Y
	if dy < 0 {
		dy = -dy
	}
	return dx + dy
}

// edgeKey identifies a directed edge.
type edgeKey struct {
	U Coord
	V Coord
}

// Edge is a directed street segment. BaseTime is the nominal traversal time
// in ticks; Multiplier models disruption severity (1.0 nominal, lower is
// slower, 0 impassable). Mutated only through CityGraph.setEdgeState, which
// keeps the next-hop caches coherent.
type Edge struct {
	U          Coord
	V          Coord
	BaseTime   float64
	Multiplier float64
	Closed     bool
}

// Cost returns the effective traversal time in ticks, or +Inf when the edge
// is closed or impassable.
func (e *Edge) Cost() float64 {
	if e.Closed || e.Multiplier <= 0 {
		return math.Inf(1)
	}
	return e.BaseTime / e.Multiplier
}

// Stop is a designated grid location where riders queue and buses board and
// alight. The queue is mutated by the demand model (push, abandonment) and
// the fleet (pop on boarding).
type Stop struct {
	ID    int
	Pos   Coord
	Name  string
	Queue *StopQueue

	// CumWaitTicks accumulates (boarding tick - arrival tick) over every
	// rider who has boarded at this stop.
	CumWaitTicks int64
}

// edgeChange is one entry of the graph's point-update log, consumed by the
// lazy next-hop cache revalidation.
type edgeChange struct {
	epoch int64
	key   edgeKey
}

// CityGraph is the street-grid topology: an R x R grid of intersections with
// per-edge traversal costs and a designated subset of stop nodes.
//
// Next-hop queries are served from per-target shortest-path trees. Trees are
// invalidated lazily: each edge point-update is O(1) and appends to a change
// log; a stale tree is revalidated with a log scan and only recomputed when
// a changed edge actually lies in its settled region.
type CityGraph struct {
	Size  int
	edges map[edgeKey]*Edge

	stops  []*Stop
	stopAt map[Coord]int // position -> stop id

	epoch   int64
	changes []edgeChange
	trees   map[int]*pathTree // target stop id -> tree
}

// NewCityGraph builds the grid topology from the layout RNG. Edge base
// times are drawn uniformly in [1.0, 1.5) ticks; stops are placed with
// center-weighted density and named from a faker seeded by the same stream,
// so the whole layout is a pure function of the seed.
func NewCityGraph(cfg Config, layout *rand.Rand) *CityGraph {
	g := &CityGraph{
		Size:   cfg.GridSize,
		edges:  make(map[edgeKey]*Edge),
		stopAt: make(map[Coord]int),
		trees:  make(map[int]*pathTree),
	}

	// Horizontal segments (avenues), then vertical (streets). Both
	// directions of a segment share one base time.
	for y := 0; y < g.Size; y++ {
		for x := 0; x < g.Size-1; x++ {
			g.addSegment(Coord{x, y}, Coord{x + 1, y}, 1.0+layout.Float64()*0.5)
		}
	}
	for x := 0; x < g.Size; x++ {
		for y := 0; y < g.Size-1; y++ {
			g.addSegment(Coord{x, y}, Coord{x, y + 1}, 1.0+layout.Float64()*0.5)
		}
	}

	g.placeStops(cfg.NumStops, layout)
	return g
}

func (g *CityGraph) addSegment(u, v Coord, baseTime float64) {
	g.edges[edgeKey{u, v}] = &Edge{U: u, V: v, BaseTime: baseTime, Multiplier: 1.0}
	g.edges[edgeKey{v, u}] = &Edge{U: v, V: u, BaseTime: baseTime, Multiplier: 1.0}
}

// placeStops distributes stops with higher density in the city center,
// backfilling uniformly when the density pass comes up short.
func (g *CityGraph) placeStops(n int, layout *rand.Rand) {
	lo, hi := (g.Size*3)/10, (g.Size*7)/10
	var positions []Coord
	taken := make(map[Coord]bool)

	for x := 0; x < g.Size; x++ {
		for y := 0; y < g.Size; y++ {
			c := Coord{x, y}
			center := x >= lo && x < hi && y >= lo && y < hi
			p := 0.15
			if center {
				p = 0.4
			}
			if layout.Float64() < p {
				positions = append(positions, c)
				taken[c] = true
			}
		}
	}
	for len(positions) < n {
		c := Coord{layout.Intn(g.Size), layout.Intn(g.Size)}
		if !taken[c] {
			positions = append(positions, c)
			taken[c] = true
		}
	}

	fk := faker.NewWithSeed(rand.NewSource(layout.Int63()))
	for i, pos := range positions[:n] {
		stop := &Stop{
			ID:    i,
			Pos:   pos,
			Name:  fk.Address().StreetName(),
			Queue: &StopQueue{},
		}
		g.stops = append(g.stops, stop)
		g.stopAt[pos] = i
	}
}

// Stops returns all stops ordered by id. Callers must not reorder the slice.
func (g *CityGraph) Stops() []*Stop {
	return g.stops
}

// Stop returns the stop with the given id, or nil.
func (g *CityGraph) Stop(id int) *Stop {
	if id < 0 || id >= len(g.stops) {
		return nil
	}
	return g.stops[id]
}

// StopIDAt reports whether a stop sits at the given position.
func (g *CityGraph) StopIDAt(pos Coord) (int, bool) {
	id, ok := g.stopAt[pos]
	return id, ok
}

// OnGrid reports whether a coordinate lies inside the grid.
func (g *CityGraph) OnGrid(c Coord) bool {
	return c.X >= 0 && c.X < g.Size && c.Y >= 0 && c.Y < g.Size
}

// Neighbors returns the adjacent intersections in a fixed order, which keeps
// every downstream iteration deterministic.
func (g *CityGraph) Neighbors(c Coord) []Coord {
	out := make([]Coord, 0, 4)
	for _, d := range [4]Coord{{0, 1}, {0, -1}, {1, 0}, {-1, 0}} {
		n := Coord{c.X + d.X, c.Y + d.Y}
		if g.OnGrid(n) {
			out = append(out, n)
		}
	}
	return out
}

// EdgeCost returns the effective traversal time from u to v in ticks, or
// +Inf when the edge is missing, closed, or impassable.
func (g *CityGraph) EdgeCost(u, v Coord) float64 {
	e, ok := g.edges[edgeKey{u, v}]
	if !ok {
		return math.Inf(1)
	}
	return e.Cost()
}

// BaseTime returns the undisrupted traversal time from u to v, or +Inf for
// a missing edge.
func (g *CityGraph) BaseTime(u, v Coord) float64 {
	e, ok := g.edges[edgeKey{u, v}]
	if !ok {
		return math.Inf(1)
	}
	return e.BaseTime
}

// setEdgeState is the single mutation point for edge disruption state,
// reserved for the DisruptionManager. It is an O(1) point update plus a
// change-log append.
func (g *CityGraph) setEdgeState(u, v Coord, multiplier float64, closed bool) {
	key := edgeKey{u, v}
	e, ok := g.edges[key]
	if !ok {
		return
	}
	if e.Multiplier == multiplier && e.Closed == closed {
		return
	}
	e.Multiplier = multiplier
	e.Closed = closed
	g.epoch++
	g.changes = append(g.changes, edgeChange{epoch: g.epoch, key: key})
	g.compactChangeLog()
}

// compactChangeLog drops log entries no cached tree could still need.
func (g *CityGraph) compactChangeLog() {
	if len(g.changes) < 4096 {
		return
	}
	oldest := g.epoch
	for _, t := range g.trees {
		if t.epoch < oldest {
			oldest = t.epoch
		}
	}
	i := 0
	for i < len(g.changes) && g.changes[i].epoch <= oldest {
		i++
	}
	g.changes = append([]edgeChange(nil), g.changes[i:]...)
}

// NextHop returns the next intersection on the cheapest path from `from`
// toward the stop with id toStop. ok is false when the stop is currently
// unreachable (or the id is unknown).
func (g *CityGraph) NextHop(from Coord, toStop int) (Coord, bool) {
	stop := g.Stop(toStop)
	if stop == nil || !g.OnGrid(from) {
		return Coord{}, false
	}
	if from == stop.Pos {
		return from, true
	}
	t := g.treeFor(toStop)
	next, ok := t.next[from]
	return next, ok
}

// PathCost returns the total cheapest-path cost from `from` to the stop, or
// +Inf when unreachable.
func (g *CityGraph) PathCost(from Coord, toStop int) float64 {
	stop := g.Stop(toStop)
	if stop == nil || !g.OnGrid(from) {
		return math.Inf(1)
	}
	t := g.treeFor(toStop)
	if d, ok := t.dist[from]; ok {
		return d
	}
	return math.Inf(1)
}

// treeFor returns a current shortest-path tree for the target stop,
// revalidating or recomputing a cached one as needed.
func (g *CityGraph) treeFor(toStop int) *pathTree {
	t, ok := g.trees[toStop]
	if ok && t.epoch == g.epoch {
		return t
	}
	if ok && !g.treeAffected(t) {
		t.epoch = g.epoch
		return t
	}
	t = g.buildTree(g.stops[toStop].Pos)
	g.trees[toStop] = t
	return t
}

// treeAffected reports whether any edge changed since the tree was built
// touches the tree's settled region.
func (g *CityGraph) treeAffected(t *pathTree) bool {
	for i := len(g.changes) - 1; i >= 0; i-- {
		ch := g.changes[i]
		if ch.epoch <= t.epoch {
			break
		}
		if _, ok := t.dist[ch.key.U]; ok {
			return true
		}
		if _, ok := t.dist[ch.key.V]; ok {
			return true
		}
	}
	return false
}

// pathTree holds, for one target, the next hop and remaining cost from
// every reachable intersection.
type pathTree struct {
	epoch int64
	next  map[Coord]Coord
	dist  map[Coord]float64
}

// distEntry is a priority-queue item for Dijkstra.
type distEntry struct {
	node Coord
	dist float64
}

// distHeap orders entries by distance, tie-broken by coordinate so the
// settle order (and therefore the chosen next hops) is deterministic.
type distHeap []distEntry

func (h distHeap) Len() int { return len(h) }
func (h distHeap) Less(i, j int) bool {
	if h[i].dist != h[j].dist {
		return h[i].dist < h[j].dist
	}
	if h[i].node.X != h[j].node.X {
		return h[i].node.X < h[j].node.X
	}
	return h[i].node.Y < h[j].node.Y
}
func (h distHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *distHeap) Push(x any) {
	*h = append(*h, x.(distEntry))
}

func (h *distHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// buildTree runs Dijkstra outward from the target over reversed edges, so
// next[u] is the first step of the cheapest u -> target path.
func (g *CityGraph) buildTree(target Coord) *pathTree {
	t := &pathTree{
		epoch: g.epoch,
		next:  make(map[Coord]Coord),
		dist:  make(map[Coord]float64),
	}
	t.dist[target] = 0

	h := &distHeap{{node: target, dist: 0}}
	heap.Init(h)
	settled := make(map[Coord]bool)

	for h.Len() > 0 {
		cur := heap.Pop(h).(distEntry)
		if settled[cur.node] {
			continue
		}
		settled[cur.node] = true

		for _, nb := range g.Neighbors(cur.node) {
			// Reverse relaxation: cost of traveling nb -> cur.node.
			c := g.EdgeCost(nb, cur.node)
			if math.IsInf(c, 1) {
				continue
			}
			nd := cur.dist + c
			if old, ok := t.dist[nb]; !ok || nd < old {
				t.dist[nb] = nd
				t.next[nb] = cur.node
				heap.Push(h, distEntry{node: nb, dist: nd})
			}
		}
	}
	return t
}
