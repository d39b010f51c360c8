package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"dispatcher/internal/model"
	"dispatcher/pkg/apperror"
	"dispatcher/pkg/audit"
)

// handleRegisterDriver implements POST /drivers. 201 on success, 409 once
// the system has started or the vehicle id is a duplicate (spec §6).
func (s *Server) handleRegisterDriver(w http.ResponseWriter, r *http.Request) {
	var req registerDriverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, string(apperror.CodeInvalidArgument), "invalid request body")
		return
	}
	if req.ID == "" || req.Capacity <= 0 {
		writeError(w, http.StatusBadRequest, string(apperror.CodeInvalidArgument), "id and a positive capacity are required")
		return
	}

	v, err := s.driver.Core().RegisterDriver(req.ID, req.Capacity)
	if err != nil {
		writeAppError(w, mapDispatchErr(err))
		return
	}
	s.auditLog(r, "RegisterDriver", audit.ActionCreate, req.ID)
	writeJSON(w, http.StatusCreated, toDriverView(v))
}

// handleListDrivers implements GET /drivers.
func (s *Server) handleListDrivers(w http.ResponseWriter, r *http.Request) {
	drivers := s.driver.Core().Drivers()
	views := make([]driverView, 0, len(drivers))
	for _, v := range drivers {
		views = append(views, toDriverView(v))
	}
	writeJSON(w, http.StatusOK, views)
}

// handleStartSystem implements POST /start_system. 200 on success, 409 if
// already started, 400 for an invalid algorithm combination or no drivers.
func (s *Server) handleStartSystem(w http.ResponseWriter, r *http.Request) {
	var req startSystemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, string(apperror.CodeInvalidArgument), "invalid request body")
		return
	}

	startTime, err := time.Parse(timeLayout, req.StartTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, string(apperror.CodeInvalidArgument), "start_time must be RFC3339")
		return
	}
	var endTime time.Time
	if req.EndTime != "" {
		endTime, err = time.Parse(timeLayout, req.EndTime)
		if err != nil {
			writeError(w, http.StatusBadRequest, string(apperror.CodeInvalidArgument), "end_time must be RFC3339")
			return
		}
	}

	cfg := model.SimulationConfig{
		ClusteringAlgo:            model.ClusteringAlgo(req.ClusteringAlgo),
		RoutingAlgo:               model.RoutingAlgo(req.RoutingAlgo),
		HybridAlgo:                model.HybridAlgo(req.HybridAlgo),
		DepotOrigin:               req.DepotOrigin,
		StartTime:                 startTime,
		EndTime:                   endTime,
		AvgSpeedKmh:               req.AvgSpeedKmh,
		DispatchDelayBufferMin:    req.DispatchDelayBufferMin,
		SlackUsageRatio:           req.SlackUsageRatio,
		UrgencyWindowMinutes:      req.UrgencyWindowMinutes,
		UrgentReadyCountThreshold: req.UrgentReadyCountThreshold,
	}

	if err := s.driver.Core().Start(cfg); err != nil {
		writeAppError(w, mapDispatchErr(err))
		return
	}
	s.auditLog(r, "StartSystem", audit.ActionCreate, "")
	writeJSON(w, http.StatusOK, map[string]any{"status": "started"})
}

// handleCreateOrder implements POST /orders: admits a delivery and runs one
// routing pass, then broadcasts the resulting events over the WebSocket hub.
func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, string(apperror.CodeInvalidArgument), "invalid request body")
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, string(apperror.CodeInvalidArgument), "id is required")
		return
	}
	if req.Size <= 0 {
		writeError(w, http.StatusBadRequest, string(apperror.CodeInvalidDeliverySize), "size must be positive")
		return
	}

	del, plans, err := s.driver.AddDelivery(r.Context(), req.ID, req.Point, req.Size, req.Preparation, req.Time)
	if err != nil {
		writeAppError(w, mapDispatchErr(err))
		return
	}

	s.hub.broadcast("new_delivery", toDeliveryView(del))
	for vid, plan := range plans {
		s.hub.broadcast("driver_dispatched", toPlanView(vid, plan))
	}
	s.auditLog(r, "CreateOrder", audit.ActionCreate, req.ID)
	writeJSON(w, http.StatusAccepted, toDeliveryView(del))
}

// handleUpdateRoutes implements POST /update_routes: forces a routing pass
// at the core's current time without admitting a new delivery.
func (s *Server) handleUpdateRoutes(w http.ResponseWriter, r *http.Request) {
	plans, err := s.driver.Core().RunRoutingPass(s.driver.Core().Now())
	if err != nil {
		writeAppError(w, mapDispatchErr(err))
		return
	}

	views := make([]planView, 0, len(plans))
	for vid, plan := range plans {
		views = append(views, toPlanView(vid, plan))
	}
	s.hub.broadcast("full_routes_update", views)
	s.auditLog(r, "UpdateRoutes", audit.ActionDispatch, "")
	writeJSON(w, http.StatusOK, views)
}

// handleAdvanceTime implements POST /advance_time?minutes=N. 400 for a
// non-positive or malformed minutes parameter.
func (s *Server) handleAdvanceTime(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("minutes")
	minutes, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, string(apperror.CodeInvalidAdvanceMinutes), "minutes must be a positive number")
		return
	}

	res, err := s.driver.Advance(r.Context(), minutes)
	if err != nil {
		writeAppError(w, mapDispatchErr(err))
		return
	}

	views := make([]planView, 0, len(res.Plans))
	for vid, plan := range res.Plans {
		views = append(views, toPlanView(vid, plan))
	}
	for _, v := range views {
		s.hub.broadcast("full_routes_update", v)
	}
	s.auditLog(r, "AdvanceTime", audit.ActionAdvance, "")
	writeJSON(w, http.StatusOK, advanceTimeResponse{
		NewTime:         res.NewTime.Format(timeLayout),
		EventsProcessed: res.EventsProcessed,
		Plans:           views,
	})
}

// handleMonitor implements the supplemented GET /monitor endpoint (no
// counterpart in spec §6's route table, ported from the original
// `Monitor.display()`/`get_average_penalty_per_delivery()` behavior).
func (s *Server) handleMonitor(w http.ResponseWriter, r *http.Request) {
	mon := s.driver.Core().Monitor()
	s.metrics.SetAvgPenaltyPerDelivery(mon.AvgPenaltyPerDelivery())
	writeJSON(w, http.StatusOK, map[string]any{
		"created":                  mon.Created,
		"completed":                mon.Completed,
		"late":                     mon.Late,
		"cancelled":                mon.Cancelled,
		"active":                   mon.ActiveCount(),
		"penalty":                  mon.Penalty,
		"route_time_minutes":       mon.RouteTimeMinutes,
		"avg_penalty_per_delivery": mon.AvgPenaltyPerDelivery(),
	})
}

func (s *Server) auditLog(r *http.Request, method string, action audit.Action, resourceID string) {
	b := audit.NewEntry().Service("dispatcher-http").Method(method).Action(action).
		Outcome(audit.OutcomeSuccess).Client(r.RemoteAddr, r.UserAgent())
	if resourceID != "" {
		b.Resource("delivery", resourceID)
	}
	if err := s.audit.Log(r.Context(), b.Build()); err != nil {
		s.logger.Warn("audit log failed", "method", method, "error", err)
	}
}
