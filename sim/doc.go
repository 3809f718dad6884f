// Package sim provides the Schelling segregation model and the state surface
// that lets the replay cache record and restore it.
//
// # Reading Guide
//
// Start with these files to understand the model:
//   - schelling.go: configuration, initial placement and the step loop
//   - agent.go: the per-agent happiness rule and relocation
//   - grid.go: the torus grid and Moore neighborhoods
//   - collector.go: per-step model variables and agent records
//
// Then state.go, which implements cache.Model: what a snapshot contains for
// this model and how each part is put back.
//
// # Architecture
//
// The record/replay machinery lives in sim/cache and knows nothing about
// Schelling. A cache.Controller owns a model and a cache file:
//   - RECORD: the model steps normally and its full state is appended to the
//     cache after every step; the cache is finalized when the model stops.
//   - REPLAY: the model's own step is skipped and the recorded state for the
//     step is applied instead; after the last entry Step returns
//     cache.ErrExhausted.
//
// Randomness comes from a PartitionedRNG (rng.go) with one PCG stream per
// subsystem. Its full state is part of every snapshot, so a restored model
// continues exactly as the recorded one would have.
package sim
