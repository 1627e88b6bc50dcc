// Package dynamo provides the primitives shared by every part of the fluid
// simulation.
//
//   - [Clock]: simulation time, frame counter and terminate time
//   - [ParallelFor]: chunked fan-out used by the interaction solver
//   - the error taxonomy ([ErrConfiguration], [ErrInvalidScenario],
//     [ErrIndexOutOfRange], [ErrNumericalInstability], [ErrProtocol],
//     [ErrConnection]) and [SimulationError]
//
// # Thread Safety
//
// [Clock] is NOT thread-safe. The simulation engine owns it and hands out
// copies to the variable server under its own lock.
package dynamo
