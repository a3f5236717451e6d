// Package engine defines the tunneling-engine contract and the serialized
// call queue through which all engine-affecting operations flow.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/rennerdo30/heimdall/internal/netmon"
)

// Common engine errors.
var (
	// ErrNotStarted is returned when an operation requires a running
	// engine.
	ErrNotStarted = errors.New("engine not started")

	// ErrQueueFull is returned when the call queue cannot accept more
	// work.
	ErrQueueFull = errors.New("engine call queue full")

	// ErrQueueStopped is returned when submitting to a stopped queue.
	ErrQueueStopped = errors.New("engine call queue stopped")
)

// Engine is the external tunneling component. Implementations are not
// safe for concurrent calls; all invocations must be serialized through a
// Queue.
type Engine interface {
	// Name identifies the engine implementation.
	Name() string

	// Start brings the engine up.
	Start(ctx context.Context) error

	// Stop tears the engine down.
	Stop(ctx context.Context) error

	// RebindEgress points the engine's own outbound traffic at the given
	// candidate networks. An empty list signals total loss of egress.
	RebindEgress(ctx context.Context, candidates []netmon.PhysicalNetwork) error

	// ResetNetworkStack discards and rebuilds the engine's internal
	// connection and routing state.
	ResetNetworkStack(ctx context.Context) error
}

// ConnectionReleaser is an optional engine capability: dropping held
// connections ahead of a network-stack reset. Engines that do not
// implement it simply skip that step.
type ConnectionReleaser interface {
	ReleaseHeldConnections(ctx context.Context) error
}

// LinkReporter is an optional engine capability: reporting whether the
// tunnel link currently passes validated traffic.
type LinkReporter interface {
	LinkValidated(ctx context.Context) (bool, error)
}

// CallError describes a failed engine call.
type CallError struct {
	Engine string
	Op     string
	Err    error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("engine %s: %s: %v", e.Engine, e.Op, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// NewCallError wraps an engine call failure.
func NewCallError(engine, op string, err error) *CallError {
	return &CallError{Engine: engine, Op: op, Err: err}
}
