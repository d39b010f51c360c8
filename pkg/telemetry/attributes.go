package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Standard attribute keys recorded on orchestrator and solver spans.
const (
	AttrAlgorithm          = "dispatcher.algorithm"
	AttrEligibleDeliveries = "dispatcher.eligible_deliveries"
	AttrAvailableVehicles  = "dispatcher.available_vehicles"
	AttrUseJIT             = "dispatcher.use_jit"
	AttrTotalPenalty       = "dispatcher.total_penalty"
	AttrTotalRouteTime     = "dispatcher.total_route_time_minutes"

	AttrEventType = "dispatcher.event_type"
	AttrVehicleID = "dispatcher.vehicle_id"
)

// OrchestratorAttributes returns the attribute set recorded on a routing-decision span.
func OrchestratorAttributes(algorithm string, eligible, available int, useJIT bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrAlgorithm, algorithm),
		attribute.Int(AttrEligibleDeliveries, eligible),
		attribute.Int(AttrAvailableVehicles, available),
		attribute.Bool(AttrUseJIT, useJIT),
	}
}

// PlanAttributes returns the attribute set recorded once a plan's cost is known.
func PlanAttributes(totalPenalty int, totalRouteTime float64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(AttrTotalPenalty, totalPenalty),
		attribute.Float64(AttrTotalRouteTime, totalRouteTime),
	}
}

// EventAttributes returns the attribute set recorded on an event-drain span.
func EventAttributes(eventType string, vehicleID string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String(AttrEventType, eventType)}
	if vehicleID != "" {
		attrs = append(attrs, attribute.String(AttrVehicleID, vehicleID))
	}
	return attrs
}
