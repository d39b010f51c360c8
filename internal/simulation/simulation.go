// Package simulation implements the simulation driver (component C9): it
// advances the dispatch core's clock by a requested number of minutes,
// drains every event that falls due along the way, and runs one routing
// decision pass at the new instant.
package simulation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"dispatcher/internal/dispatch"
	"dispatcher/internal/model"
	"dispatcher/pkg/apperror"
	"dispatcher/pkg/telemetry"
)

// Driver wraps a dispatch.Core with the clock-advance step used by the
// `POST /advance_time` adapter endpoint and by test harnesses that replay a
// fixture without an HTTP layer in front of them.
type Driver struct {
	core   *dispatch.Core
	logger *slog.Logger
}

// New wraps core with a simulation driver.
func New(core *dispatch.Core, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{core: core, logger: logger}
}

// StepResult reports the outcome of one Advance call.
type StepResult struct {
	NewTime         time.Time
	EventsProcessed int
	Plans           map[string]model.Plan
}

// Advance moves the core's clock forward by minutes, draining every event
// due along the way, then runs one routing decision pass at the new instant
// (spec §4.6, `routing_decision_logic` invoked "on every clock tick").
// minutes must be positive.
func (d *Driver) Advance(ctx context.Context, minutes float64) (StepResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "simulation.advance")
	defer span.End()

	if minutes <= 0 {
		err := apperror.New(apperror.CodeInvalidAdvanceMinutes, "advance minutes must be positive").
			WithField("minutes")
		telemetry.SetError(ctx, err)
		return StepResult{}, err
	}
	if !d.core.Started() {
		telemetry.SetError(ctx, apperror.ErrSystemNotStarted)
		return StepResult{}, apperror.ErrSystemNotStarted
	}

	newTime := d.core.Now().Add(time.Duration(minutes * float64(time.Minute)))
	processed := d.core.ProcessEventsDue(newTime)

	plans, err := d.core.RunRoutingPass(newTime)
	if err != nil {
		werr := fmt.Errorf("simulation: routing pass failed: %w", err)
		telemetry.SetError(ctx, werr)
		return StepResult{}, werr
	}
	telemetry.SetAttributes(ctx,
		attribute.Int("events_processed", processed),
		attribute.Int("vehicles_dispatched", len(plans)))

	d.logger.Info("advanced simulation clock",
		"new_time", newTime,
		"events_processed", processed,
		"vehicles_dispatched", len(plans))

	return StepResult{NewTime: newTime, EventsProcessed: processed, Plans: plans}, nil
}

// AddDelivery admits a delivery at the core's current time, then runs one
// routing pass, mirroring `POST /orders`'s "triggers a routing pass" clause
// (spec §6). It is a convenience wrapper so the HTTP adapter and any
// fixture-replay harness share the same admission-then-route sequence.
func (d *Driver) AddDelivery(ctx context.Context, id string, point model.Point, size int, preparation, windowMinutes float64) (*model.Delivery, map[string]model.Plan, error) {
	ctx, span := telemetry.StartSpan(ctx, "simulation.add_delivery")
	defer span.End()

	del, err := d.core.AddDelivery(id, point, size, preparation, windowMinutes)
	if err != nil {
		telemetry.SetError(ctx, err)
		return nil, nil, err
	}

	plans, err := d.core.RunRoutingPass(d.core.Now())
	if err != nil {
		werr := fmt.Errorf("simulation: routing pass failed: %w", err)
		telemetry.SetError(ctx, werr)
		return del, nil, werr
	}
	return del, plans, nil
}

// Core exposes the wrapped dispatch core for adapters that need direct
// access (driver registration, system start, liveness snapshots).
func (d *Driver) Core() *dispatch.Core {
	return d.core
}
