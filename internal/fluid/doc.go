// Package fluid holds the particle store of the "dyn.fluid" subsystem.
//
// A particle's identity is its slot index in the [Store]. The store has a
// fixed size once the run starts ([Store.Freeze]); before that it may be
// resized by scenarios and input scripts.
//
// # Thread Safety
//
// Store does no locking. The simulation engine serialises access and hands
// copies ([Store.Snapshot]) to anything running on another goroutine.
package fluid
