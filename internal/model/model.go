// Package model defines the dispatcher's core data types: points, deliveries,
// vehicles, events, and the simulation configuration and monitor counters.
package model

import "time"

// Point is a geographic coordinate in decimal degrees. Immutable.
type Point struct {
	Lng float64 `json:"lng"`
	Lat float64 `json:"lat"`
}

// DeliveryStatus is the lifecycle state of a Delivery.
type DeliveryStatus string

const (
	StatusPending    DeliveryStatus = "PENDING"
	StatusReady      DeliveryStatus = "READY"
	StatusDispatched DeliveryStatus = "DISPATCHED"
	StatusDelivered  DeliveryStatus = "DELIVERED"
	StatusCancelled  DeliveryStatus = "CANCELLED"
)

// Delivery is a single delivery request tracked by the dispatch core.
type Delivery struct {
	ID    string `json:"id"`
	Point Point  `json:"point"`
	Size  int    `json:"size"`

	// Preparation is the time in minutes from creation until the delivery is
	// ready for pickup. Time is the deadline, measured in minutes from ready_at.
	Preparation float64 `json:"preparation"`
	Time        float64 `json:"time"`

	CreatedAt time.Time `json:"created_at"`
	ReadyAt   time.Time `json:"ready_at"`
	Deadline  time.Time `json:"deadline"`

	Status            DeliveryStatus `json:"status"`
	AssignedVehicleID string         `json:"assigned_vehicle_id,omitempty"`
	MarkedLate        bool           `json:"marked_late"`
}

// NewDelivery constructs a Delivery with derived absolute instants, in PENDING status.
func NewDelivery(id string, point Point, size int, preparation, timeMinutes float64, createdAt time.Time) *Delivery {
	readyAt := createdAt.Add(time.Duration(preparation * float64(time.Minute)))
	deadline := readyAt.Add(time.Duration(timeMinutes * float64(time.Minute)))
	return &Delivery{
		ID:          id,
		Point:       point,
		Size:        size,
		Preparation: preparation,
		Time:        timeMinutes,
		CreatedAt:   createdAt,
		ReadyAt:     readyAt,
		Deadline:    deadline,
		Status:      StatusPending,
	}
}

// VehicleStatus is the lifecycle state of a Vehicle.
type VehicleStatus string

const (
	VehicleIdle    VehicleStatus = "IDLE"
	VehicleOnRoute VehicleStatus = "ON_ROUTE"
)

// Vehicle is a capacity-constrained vehicle based at the depot.
type Vehicle struct {
	ID           string        `json:"id"`
	Capacity     int           `json:"capacity"`
	Status       VehicleStatus `json:"status"`
	CurrentRoute []string      `json:"current_route"`
	RouteEndTime *time.Time    `json:"route_end_time,omitempty"`
}

// NewVehicle constructs an IDLE vehicle with an empty route.
func NewVehicle(id string, capacity int) *Vehicle {
	return &Vehicle{
		ID:           id,
		Capacity:     capacity,
		Status:       VehicleIdle,
		CurrentRoute: nil,
	}
}

// EventType discriminates the kind of lifecycle event scheduled on the queue.
type EventType string

const (
	EventOrderCreated     EventType = "ORDER_CREATED"
	EventOrderReady       EventType = "ORDER_READY"
	EventPickupDeadline   EventType = "PICKUP_DEADLINE"
	EventExpectedDelivery EventType = "EXPECTED_DELIVERY"
	EventVehicleReturn    EventType = "VEHICLE_RETURN"
)

// Event is a scheduled occurrence on the dispatch core's priority queue.
// SubjectID is a delivery id for all types except VEHICLE_RETURN, where it is
// a vehicle id. ID is a monotonically increasing sequence number used as the
// FIFO tie-break for events sharing the same Timestamp.
type Event struct {
	ID        int64
	Type      EventType
	Timestamp time.Time
	SubjectID string
}

// ClusteringAlgo names a clustering solver in the two-stage family.
type ClusteringAlgo string

const (
	ClusteringCKMeans ClusteringAlgo = "ckmeans"
	ClusteringGreedy  ClusteringAlgo = "greedy_clustering"
)

// RoutingAlgo names a routing solver in the two-stage family.
type RoutingAlgo string

const (
	RoutingBRKGA  RoutingAlgo = "brkga"
	RoutingGreedy RoutingAlgo = "greedy_routing"
)

// HybridAlgo names a solver in the hybrid (assign+order in one pass) family.
type HybridAlgo string

const (
	HybridGreedyInsertion HybridAlgo = "greedy_insertion"
	HybridBRKGA           HybridAlgo = "brkga_hybrid"
	HybridManual          HybridAlgo = "manual"
)

// SimulationConfig selects the active solver and tunes the JIT dispatch policy.
// Exactly one of (ClusteringAlgo, RoutingAlgo) or (HybridAlgo) must be populated.
type SimulationConfig struct {
	ClusteringAlgo ClusteringAlgo `json:"clustering_algo,omitempty"`
	RoutingAlgo    RoutingAlgo    `json:"routing_algo,omitempty"`
	HybridAlgo     HybridAlgo     `json:"hybrid_algo,omitempty"`

	DepotOrigin Point     `json:"depot_origin"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`

	AvgSpeedKmh               float64 `json:"avg_speed_kmh"`
	DispatchDelayBufferMin    float64 `json:"dispatch_delay_buffer_minutes"`
	SlackUsageRatio           float64 `json:"slack_usage_ratio"`
	UrgencyWindowMinutes      float64 `json:"urgency_window_minutes"`
	UrgentReadyCountThreshold int     `json:"urgent_ready_count_threshold"`

	// MaxTravelTimeMin and StopPenaltyMin tune the manual hybrid solver
	// (§4.4). StopPenaltyMin mirrors an unused tunable from the original
	// implementation and is accepted but not consumed by any solver.
	MaxTravelTimeMin float64 `json:"max_travel_time_minutes,omitempty"`
	StopPenaltyMin   float64 `json:"stop_penalty_minutes,omitempty"`
}

// IsHybrid reports whether the configuration selects the hybrid solver family.
func (c SimulationConfig) IsHybrid() bool {
	return c.HybridAlgo != ""
}

// Monitor holds the dispatch core's aggregate counters.
type Monitor struct {
	Created          int     `json:"created"`
	Completed        int     `json:"completed"`
	Late             int     `json:"late"`
	Cancelled        int     `json:"cancelled"`
	Penalty          float64 `json:"penalty"`
	RouteTimeMinutes float64 `json:"route_time_minutes"`
}

// ActiveCount returns the number of deliveries still in flight (not completed
// or cancelled), satisfying the conservation invariant created = active + completed + cancelled.
func (m Monitor) ActiveCount() int {
	return m.Created - m.Completed - m.Cancelled
}

// AvgPenaltyPerDelivery returns the cumulative penalty divided by completed
// deliveries, or zero before any delivery has completed.
func (m Monitor) AvgPenaltyPerDelivery() float64 {
	if m.Completed == 0 {
		return 0
	}
	return m.Penalty / float64(m.Completed)
}

// Plan is the artifact returned by any solver (spec §4.3/§4.4/§9): a visit
// sequence for one vehicle together with its timing and cost fields.
// StartDatetime, ReturnDepot and ArrivalsMap hold absolute instants.
type Plan struct {
	VehicleID      string
	Sequence       []int             // indices into NodeMap
	NodeMap        map[int]*Delivery // index -> delivery
	StartDatetime  time.Time
	ReturnDepot    time.Time
	ArrivalsMap    map[int]time.Time // index -> absolute arrival instant
	PenaltiesMap   map[int]float64   // index -> lateness penalty
	TotalPenalty   float64
	TotalRouteTime float64 // minutes
}
