package httpapi

import "dispatcher/internal/model"

// registerDriverRequest is the body of POST /drivers.
type registerDriverRequest struct {
	ID       string `json:"id"`
	Capacity int    `json:"capacity"`
}

// driverView is the JSON projection of a model.Vehicle.
type driverView struct {
	ID           string              `json:"id"`
	Capacity     int                 `json:"capacity"`
	Status       model.VehicleStatus `json:"status"`
	CurrentRoute []string            `json:"current_route"`
}

func toDriverView(v *model.Vehicle) driverView {
	return driverView{
		ID:           v.ID,
		Capacity:     v.Capacity,
		Status:       v.Status,
		CurrentRoute: v.CurrentRoute,
	}
}

// startSystemRequest is the body of POST /start_system.
type startSystemRequest struct {
	ClusteringAlgo string      `json:"clustering_algo,omitempty"`
	RoutingAlgo    string      `json:"routing_algo,omitempty"`
	HybridAlgo     string      `json:"hybrid_algo,omitempty"`
	DepotOrigin    model.Point `json:"depot_origin"`
	StartTime      string      `json:"start_time"`
	EndTime        string      `json:"end_time"`

	AvgSpeedKmh               float64 `json:"avg_speed_kmh,omitempty"`
	DispatchDelayBufferMin    float64 `json:"dispatch_delay_buffer_minutes,omitempty"`
	SlackUsageRatio           float64 `json:"slack_usage_ratio,omitempty"`
	UrgencyWindowMinutes      float64 `json:"urgency_window_minutes,omitempty"`
	UrgentReadyCountThreshold int     `json:"urgent_ready_count_threshold,omitempty"`
}

// orderRequest is the body of POST /orders.
type orderRequest struct {
	ID          string      `json:"id"`
	Point       model.Point `json:"point"`
	Size        int         `json:"size"`
	Preparation float64     `json:"preparation"`
	Time        float64     `json:"time"`
}

// deliveryView is the JSON projection of a model.Delivery.
type deliveryView struct {
	ID                string               `json:"id"`
	Point             model.Point          `json:"point"`
	Size              int                  `json:"size"`
	Status            model.DeliveryStatus `json:"status"`
	AssignedVehicleID string               `json:"assigned_vehicle_id,omitempty"`
	ReadyAt           string               `json:"ready_at"`
	Deadline          string               `json:"deadline"`
}

func toDeliveryView(d *model.Delivery) deliveryView {
	return deliveryView{
		ID:                d.ID,
		Point:             d.Point,
		Size:              d.Size,
		Status:            d.Status,
		AssignedVehicleID: d.AssignedVehicleID,
		ReadyAt:           d.ReadyAt.Format(timeLayout),
		Deadline:          d.Deadline.Format(timeLayout),
	}
}

// planView is the JSON projection of a model.Plan committed to one vehicle.
type planView struct {
	VehicleID      string   `json:"vehicle_id"`
	Sequence       []string `json:"sequence"`
	StartDatetime  string   `json:"start_datetime"`
	ReturnDepot    string   `json:"return_depot"`
	TotalPenalty   float64  `json:"total_penalty"`
	TotalRouteTime float64  `json:"total_route_time"`
}

func toPlanView(vid string, p model.Plan) planView {
	seq := make([]string, 0, len(p.Sequence))
	for _, idx := range p.Sequence {
		seq = append(seq, p.NodeMap[idx].ID)
	}
	return planView{
		VehicleID:      vid,
		Sequence:       seq,
		StartDatetime:  p.StartDatetime.Format(timeLayout),
		ReturnDepot:    p.ReturnDepot.Format(timeLayout),
		TotalPenalty:   p.TotalPenalty,
		TotalRouteTime: p.TotalRouteTime,
	}
}

// advanceTimeResponse is the body of POST /advance_time's response.
type advanceTimeResponse struct {
	NewTime         string     `json:"new_time"`
	EventsProcessed int        `json:"events_processed"`
	Plans           []planView `json:"plans"`
}

const timeLayout = "2006-01-02T15:04:05Z07:00"
