package dynamo

import (
	"errors"
	"fmt"
)

// Domain errors for simulation operations.
var (
	// ErrConfiguration indicates a bad or late configuration change, such as
	// resizing the particle store after the run has started or an invalid port.
	ErrConfiguration = errors.New("dynamo: configuration error")

	// ErrInvalidScenario indicates scenario parameters that would divide by zero.
	ErrInvalidScenario = errors.New("dynamo: invalid scenario")

	// ErrIndexOutOfRange indicates a particle store access outside [0, size).
	ErrIndexOutOfRange = errors.New("dynamo: index out of range")

	// ErrNumericalInstability indicates NaN or Inf in the post-step state.
	ErrNumericalInstability = errors.New("dynamo: numerical instability (NaN or Inf detected)")

	// ErrProtocol indicates a malformed variable server client message.
	ErrProtocol = errors.New("dynamo: protocol error")

	// ErrConnection indicates a client connection failure or disconnect.
	ErrConnection = errors.New("dynamo: connection error")

	// ErrUnknownVariable indicates a dotted name with no registered binding.
	ErrUnknownVariable = errors.New("dynamo: unknown variable")

	// ErrReadOnly indicates a write to a binding that does not accept writes.
	ErrReadOnly = errors.New("dynamo: variable is read-only")
)

// SimulationError wraps an error with simulation context.
type SimulationError struct {
	Frame    int64
	Time     float64
	Particle int
	Wrapped  error
}

func (e *SimulationError) Error() string {
	if e.Particle >= 0 {
		return fmt.Sprintf("frame %d (t=%.4f) particle %d: %v", e.Frame, e.Time, e.Particle, e.Wrapped)
	}
	return fmt.Sprintf("frame %d (t=%.4f): %v", e.Frame, e.Time, e.Wrapped)
}

func (e *SimulationError) Unwrap() error {
	return e.Wrapped
}
