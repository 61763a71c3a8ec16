// Package sim provides the core tick-based simulation engine for the
// synthetic-city transit demo.
//
// # Reading Guide
//
// Start with these three files to understand the simulation kernel:
//   - grid.go: the street grid, stop placement, and edge-cost queries
//   - bus.go: the bus lifecycle (moving -> at stop -> alight/board)
//   - simulator.go: the tick loop, twin baseline/adaptive worlds, and the
//     Reset/Step/snapshot contract
//
// # Architecture
//
// The engine runs two worlds in lockstep under a shared seed: a baseline
// world whose fleet follows fixed cyclic routes, and an adaptive world whose
// fleet is driven by a pluggable ActionSelector. Both consume bit-identical
// rider-demand streams (see rng.go), so their KPIs are directly comparable
// within the same tick.
//
// Per tick, subsystems update in a fixed order: disruptions -> demand ->
// movement/boarding -> reward. Exactly one tick's computation completes
// before a snapshot is published; nothing mutates simulation state between
// ticks.
//
// # Key Interfaces
//
// The extension points are small interfaces:
//   - ActionSelector: choose a dispatch action per bus per decision point
//   - PolicyClient: external (e.g. ONNX-backed) policy inference; failures
//     fall back to CONTINUE for the affected bus only
package sim
