package service

import (
	"context"

	"github.com/c360/billboard/errors"
	"github.com/c360/billboard/health"
	"github.com/c360/billboard/pkg/refresh"
	"github.com/c360/billboard/pkg/syncstate"
)

// Facade is the lifecycle every synchronization service exposes to the Manager
type Facade interface {
	// Name is the domain name used in subjects, metrics and health output
	Name() string
	// Initialize connects the transport. It is idempotent while connected.
	// Configuration problems come back as a failed Result, never a panic.
	Initialize(ctx context.Context) errors.Result
	// Refresh is a user-triggered refresh, gated by the domain's policy
	Refresh(ctx context.Context) refresh.Decision
	// State is the facade's lifecycle state
	State() syncstate.State
	// Health summarizes connection state and data age
	Health() health.Status
	// Destroy stops timers, disconnects and drops every subscriber. Safe to
	// call more than once.
	Destroy()
}
