// Package physics provides the interaction solvers for the fluid.
//
// A [Solver] reads a snapshot of the particles and fills a [Forces] buffer.
// It never mutates the particles, so a frame's output depends only on the
// snapshot and the solver parameters:
//
//   - [SPH]: smoothed particle hydrodynamics with a uniform hash grid
//   - [BruteForce]: the same force law over all pairs, used as a reference
//
// Both implement [Configurable] so the variable server can tune parameters
// between frames.
//
// # Determinism
//
// Work is split per particle with [dynamo.ParallelFor]. Each particle's sums
// are accumulated by a single goroutine in a fixed neighbour order, so the
// output is bit-identical for any worker count.
package physics
