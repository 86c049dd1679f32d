// Package transport defines the strategy contract shared by the HTTP, UDP
// and WebSocket tracker frontends, plus the one-way session lifecycle every
// strategy embeds.
package transport

import (
	"context"
	"fmt"
	"sync/atomic"
)

// Strategy is a uniform capability contract: the gateway iterates a
// homogeneous collection of these without inspecting concrete types.
type Strategy interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
}

type State int32

const (
	StateNotStarted State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "not started"
	}
}

// Session implements the NotStarted -> Running -> Stopped machine.
// Start on a running or stopped session is an error; Stop before Start is
// a no-op; Stop after Start is idempotent.
type Session struct {
	state atomic.Int32
}

// Begin moves NotStarted -> Running.
func (s *Session) Begin(name string) error {
	if !s.state.CompareAndSwap(int32(StateNotStarted), int32(StateRunning)) {
		return fmt.Errorf("%s transport: already %s", name, State(s.state.Load()))
	}
	return nil
}

// End moves to Stopped from any state and reports whether a running
// session was actually terminated, i.e. whether the caller owns resources
// that still need releasing.
func (s *Session) End() bool {
	if s.state.CompareAndSwap(int32(StateRunning), int32(StateStopped)) {
		return true
	}
	s.state.CompareAndSwap(int32(StateNotStarted), int32(StateStopped))
	return false
}

func (s *Session) State() State {
	return State(s.state.Load())
}
