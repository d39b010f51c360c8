// Package dispatch implements the event-driven dispatch core (component C8):
// delivery and vehicle state machines, the event-drain handlers, the routing
// decision orchestrator, the JIT dispatch-delay policy, and the monitor.
//
// The Core is single-writer: every state mutation happens under the core
// lock. RunRoutingPass releases that lock while the solver runs and retakes
// it to commit, and AddDelivery releases it before writing its audit entry.
// Initialization and routing decisions each hold
// a dedicated lock matching the two external concurrency contracts the
// adapter must uphold (spec §5): driver registration is mutually exclusive
// with system start, and orchestrator runs are mutually exclusive with each
// other.
package dispatch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"dispatcher/internal/eventqueue"
	"dispatcher/internal/model"
	"dispatcher/internal/solver"
	"dispatcher/pkg/audit"
	"dispatcher/pkg/cache"
	"dispatcher/pkg/metrics"
)

// planCacheTTL bounds how long a memoized orchestrator-run result survives
// in planCache. Keyed on the exact eligible/available snapshot plus the
// simulation clock, so a hit can only ever replay the same solve.
const planCacheTTL = 2 * time.Minute

var (
	// ErrAlreadyStarted is returned by RegisterDriver and Start once the
	// system has been initialized.
	ErrAlreadyStarted = errors.New("dispatch: system already started")
	// ErrNotStarted is returned by admission and routing methods before Start.
	ErrNotStarted = errors.New("dispatch: system not started")
	// ErrDuplicateDriver is returned when registering a vehicle id twice.
	ErrDuplicateDriver = errors.New("dispatch: duplicate driver id")
	// ErrNoDrivers is returned by Start when no vehicles were registered.
	ErrNoDrivers = errors.New("dispatch: cannot start with zero drivers")
	// ErrInvalidAlgoCombo is returned by Start when the algorithm selection
	// does not populate exactly one of (hybrid) or (clustering, routing).
	ErrInvalidAlgoCombo = errors.New("dispatch: exactly one of hybrid_algo or (clustering_algo, routing_algo) must be set")
	// ErrDuplicateDelivery is returned by AddDelivery for a repeated id.
	ErrDuplicateDelivery = errors.New("dispatch: duplicate delivery id")
)

// Core owns the event queue, the delivery table, the vehicle table, and the
// monitor counters. All exported methods are safe for concurrent use.
type Core struct {
	initMu    sync.Mutex
	routingMu sync.Mutex
	mu        sync.Mutex

	started bool
	cfg     model.SimulationConfig
	now     time.Time

	queue        *eventqueue.Queue
	nextEventID  int64
	deliveries   map[string]*model.Delivery
	vehicles     map[string]*model.Vehicle
	vehicleOrder []string
	monitor      model.Monitor

	logger  *slog.Logger
	metrics *metrics.Metrics
	audit   audit.Logger

	// planCache memoizes orchestrator-run results keyed on the exact
	// eligible/available snapshot and simulation clock; nil disables it.
	planCache cache.Cache
}

// New constructs an uninitialized Core. Register drivers, then Start before
// admitting deliveries.
func New(logger *slog.Logger) *Core {
	if logger == nil {
		logger = slog.Default()
	}
	return &Core{
		queue:      eventqueue.New(),
		deliveries: make(map[string]*model.Delivery),
		vehicles:   make(map[string]*model.Vehicle),
		logger:     logger,
		metrics:    metrics.Get(),
		audit:      audit.Get(),
	}
}

// WithCache attaches an optional solver-result cache to the orchestrator.
// RunRoutingPass consults it before invoking the solver and populates it
// after a miss; a nil ch disables memoization. Mirrors the
// builder-style optional wiring of httpapi.Server.WithCORS.
func (c *Core) WithCache(ch cache.Cache) *Core {
	c.planCache = ch
	return c
}

// RegisterDriver adds a vehicle before the system starts. Rejected once
// Start has been called, or for a duplicate id (spec §6, POST /drivers).
func (c *Core) RegisterDriver(id string, capacity int) (*model.Vehicle, error) {
	c.initMu.Lock()
	defer c.initMu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return nil, ErrAlreadyStarted
	}
	if _, exists := c.vehicles[id]; exists {
		return nil, ErrDuplicateDriver
	}
	v := model.NewVehicle(id, capacity)
	c.vehicles[id] = v
	c.vehicleOrder = append(c.vehicleOrder, id)
	return v, nil
}

// Drivers returns all registered vehicles in registration order.
func (c *Core) Drivers() []*model.Vehicle {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*model.Vehicle, 0, len(c.vehicleOrder))
	for _, id := range c.vehicleOrder {
		out = append(out, c.vehicles[id])
	}
	return out
}

// Start initializes the dispatch core exactly once under the init lock
// (spec §6, POST /start_system). Requires at least one registered driver and
// exactly one populated algorithm branch.
func (c *Core) Start(cfg model.SimulationConfig) error {
	c.initMu.Lock()
	defer c.initMu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return ErrAlreadyStarted
	}
	if len(c.vehicles) == 0 {
		return ErrNoDrivers
	}
	hybridSet := cfg.HybridAlgo != ""
	twoStageSet := cfg.ClusteringAlgo != "" && cfg.RoutingAlgo != ""
	if hybridSet == twoStageSet {
		return ErrInvalidAlgoCombo
	}

	c.cfg = applyDefaults(cfg)
	c.now = cfg.StartTime
	c.started = true
	return nil
}

// applyDefaults fills zero-valued tunables with their spec §3 defaults.
func applyDefaults(cfg model.SimulationConfig) model.SimulationConfig {
	if cfg.AvgSpeedKmh == 0 {
		cfg.AvgSpeedKmh = 50
	}
	if cfg.DispatchDelayBufferMin == 0 {
		cfg.DispatchDelayBufferMin = 5
	}
	if cfg.SlackUsageRatio == 0 {
		cfg.SlackUsageRatio = 0.5
	}
	if cfg.UrgencyWindowMinutes == 0 {
		cfg.UrgencyWindowMinutes = 10
	}
	if cfg.UrgentReadyCountThreshold == 0 {
		cfg.UrgentReadyCountThreshold = 5
	}
	return cfg
}

// Started reports whether Start has completed.
func (c *Core) Started() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

// Now returns the core's current simulation clock value.
func (c *Core) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Monitor returns a snapshot of the aggregate counters.
func (c *Core) Monitor() model.Monitor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.monitor
}

// Delivery looks up a delivery by id.
func (c *Core) Delivery(id string) (*model.Delivery, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.deliveries[id]
	return d, ok
}

// AddDelivery admits a new delivery at the core's current simulation time,
// scheduling its lifecycle events (spec §4.6, `add_new_delivery`).
func (c *Core) AddDelivery(id string, point model.Point, size int, preparation, windowMinutes float64) (*model.Delivery, error) {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil, ErrNotStarted
	}
	if _, exists := c.deliveries[id]; exists {
		c.mu.Unlock()
		return nil, ErrDuplicateDelivery
	}

	d := model.NewDelivery(id, point, size, preparation, windowMinutes, c.now)
	c.deliveries[id] = d
	c.pushEvent(model.EventOrderCreated, d.CreatedAt, id)
	c.pushEvent(model.EventOrderReady, d.ReadyAt, id)
	c.pushEvent(model.EventPickupDeadline, d.Deadline, id)
	c.monitor.Created++
	c.metrics.RecordDeliveryCreated(sizeLabel(size))
	c.mu.Unlock()

	c.auditLog(context.Background(), "AddDelivery", audit.ActionCreate, id, nil)
	return d, nil
}

func sizeLabel(size int) string {
	switch {
	case size <= 1:
		return "1"
	case size <= 3:
		return "2-3"
	default:
		return "4+"
	}
}

func (c *Core) pushEvent(t model.EventType, ts time.Time, subject string) {
	c.nextEventID++
	c.queue.Push(model.Event{ID: c.nextEventID, Type: t, Timestamp: ts, SubjectID: subject})
}

// ProcessEventsDue drains every event with timestamp <= now, applying the
// typed handler for its type (spec §4.6, `process_events_due`). Returns the
// number of events drained.
func (c *Core) ProcessEventsDue(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = now
	processed := 0
	for {
		ev, ok := c.queue.PopIfDue(now)
		if !ok {
			break
		}
		c.handleEvent(ev)
		processed++
	}
	c.metrics.SetSimulationClock(now.Sub(c.cfg.StartTime).Minutes())
	return processed
}

func (c *Core) handleEvent(ev model.Event) {
	switch ev.Type {
	case model.EventOrderCreated:
		// informational only
	case model.EventOrderReady:
		if d, ok := c.deliveries[ev.SubjectID]; ok && d.Status == model.StatusPending {
			d.Status = model.StatusReady
		}
	case model.EventPickupDeadline:
		if d, ok := c.deliveries[ev.SubjectID]; ok {
			if d.Status != model.StatusDispatched && d.Status != model.StatusDelivered && !d.MarkedLate {
				d.MarkedLate = true
				c.monitor.Late++
				c.metrics.RecordDeliveryLate("pickup_deadline")
			}
		}
	case model.EventExpectedDelivery:
		if d, ok := c.deliveries[ev.SubjectID]; ok && d.Status == model.StatusDispatched {
			d.Status = model.StatusDelivered
			c.monitor.Completed++
			c.metrics.RecordDeliveryCompleted(d.MarkedLate)
		}
	case model.EventVehicleReturn:
		if v, ok := c.vehicles[ev.SubjectID]; ok {
			v.Status = model.VehicleIdle
			v.CurrentRoute = nil
			v.RouteEndTime = nil
		} else {
			// unknown vehicle: internal invariant violation, log and skip (spec §7d)
			c.logger.Error("vehicle return for unknown vehicle, skipping", "vehicle_id", ev.SubjectID, "event_id", ev.ID)
		}
	}
}

// RunRoutingPass executes the orchestrator (spec §4.6, `routing_decision_logic`)
// under the routing lock: gather eligible deliveries and available vehicles,
// classify urgency, solve, apply the JIT delay, and commit.
func (c *Core) RunRoutingPass(now time.Time) (map[string]model.Plan, error) {
	c.routingMu.Lock()
	defer c.routingMu.Unlock()

	start := time.Now()

	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil, ErrNotStarted
	}
	c.now = now
	eligible := c.gatherEligible()
	available := c.gatherAvailable()
	cfg := c.cfg
	c.mu.Unlock()

	if len(eligible) == 0 || len(available) == 0 {
		return map[string]model.Plan{}, nil
	}

	useJIT := classifyUrgency(eligible, now, cfg)
	algoToken := algorithmToken(cfg)

	key := c.snapshotCacheKey(eligible, available, algoToken, cfg, now)
	plans, cacheHit := c.lookupPlanCache(key)
	if !cacheHit {
		solveStart := time.Now()
		res, err := solver.Plan(eligible, available, cfg, now)
		c.metrics.RecordSolverInvocation(algoToken, err == nil, time.Since(solveStart))
		if err != nil {
			return nil, fmt.Errorf("dispatch: solve failed: %w", err)
		}
		plans = res.Plans
		c.storePlanCache(key, plans)
	}

	for vid, plan := range plans {
		shifted, delay := applyJIT(plan, useJIT, cfg)
		plans[vid] = shifted
		c.metrics.RecordJITDelay(vid, delay)
	}

	c.mu.Lock()
	c.commit(plans)
	mode := "asap"
	if useJIT {
		mode = "jit"
	}
	c.metrics.RecordOrchestratorRun(mode, time.Since(start), len(eligible), len(available))
	c.mu.Unlock()

	c.auditLog(context.Background(), "RunRoutingPass", audit.ActionDispatch, "", map[string]any{
		"vehicles_dispatched": len(plans),
		"algorithm":           algoToken,
		"jit":                 useJIT,
		"plan_cache_hit":      cacheHit,
	})

	return plans, nil
}

// snapshotCacheKey hashes the exact solver inputs — sorted eligible delivery
// ids/sizes/deadlines, sorted available vehicle ids/capacities, the
// algorithm token, depot origin, and the simulation clock — into a cache
// key. solver.Plan is a deterministic function of these, so a key collision
// implies an identical, already-correct result; routingMu already serializes
// every call, so no query can race a concurrent write under the same key.
func (c *Core) snapshotCacheKey(eligible []*model.Delivery, available []*model.Vehicle, algoToken string, cfg model.SimulationConfig, now time.Time) string {
	elig := make([]string, len(eligible))
	for i, d := range eligible {
		elig[i] = fmt.Sprintf("%s:%d:%d", d.ID, d.Size, d.Deadline.UnixNano())
	}
	sort.Strings(elig)

	avail := make([]string, len(available))
	for i, v := range available {
		avail[i] = fmt.Sprintf("%s:%d", v.ID, v.Capacity)
	}
	sort.Strings(avail)

	h := sha256.New()
	fmt.Fprintf(h, "algo=%s|depot=%.6f,%.6f|now=%d|elig=%s|avail=%s",
		algoToken, cfg.DepotOrigin.Lng, cfg.DepotOrigin.Lat, now.UnixNano(),
		strings.Join(elig, ","), strings.Join(avail, ","))
	return "dispatch:plan:" + hex.EncodeToString(h.Sum(nil))
}

// lookupPlanCache consults the optional plan cache. A miss, a disabled
// cache, or a decode failure all report ok=false so the caller falls
// through to a fresh solve. NodeMap entries are decoded as fresh Delivery
// values, so they are rebound to the live c.deliveries pointers before
// the result is usable: commit mutates delivery status in place, and
// those mutations must land on the records gatherEligible reads next.
func (c *Core) lookupPlanCache(key string) (map[string]model.Plan, bool) {
	if c.planCache == nil {
		return nil, false
	}
	raw, err := c.planCache.Get(context.Background(), key)
	if err != nil {
		return nil, false
	}
	var plans map[string]model.Plan
	if err := json.Unmarshal(raw, &plans); err != nil {
		c.logger.Warn("plan cache decode failed", "error", err)
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for vid, plan := range plans {
		for idx, d := range plan.NodeMap {
			live, ok := c.deliveries[d.ID]
			if !ok {
				return nil, false
			}
			plan.NodeMap[idx] = live
		}
		plans[vid] = plan
	}
	return plans, true
}

// storePlanCache populates the optional plan cache, best-effort: encode or
// write failures are logged and otherwise ignored since the cache is purely
// an optimization.
func (c *Core) storePlanCache(key string, plans map[string]model.Plan) {
	if c.planCache == nil {
		return
	}
	raw, err := json.Marshal(plans)
	if err != nil {
		c.logger.Warn("plan cache encode failed", "error", err)
		return
	}
	if err := c.planCache.Set(context.Background(), key, raw, planCacheTTL); err != nil {
		c.logger.Warn("plan cache write failed", "error", err)
	}
}

// gatherEligible returns deliveries eligible for planning. Eligibility is
// READY-only for both solver families: the source's inconsistent PENDING
// inclusion in some hybrid branches (spec §9, Open Question a) is resolved
// by always requiring READY, keeping gathering uniform across solver
// families and avoiding committing a vehicle to a delivery whose
// preparation has not finished.
func (c *Core) gatherEligible() []*model.Delivery {
	var out []*model.Delivery
	for _, d := range c.deliveries {
		if d.Status == model.StatusReady {
			out = append(out, d)
		}
	}
	return out
}

func (c *Core) gatherAvailable() []*model.Vehicle {
	var out []*model.Vehicle
	for _, id := range c.vehicleOrder {
		if v := c.vehicles[id]; v.Status == model.VehicleIdle {
			out = append(out, v)
		}
	}
	return out
}

// classifyUrgency implements spec §4.6 step 2.
func classifyUrgency(eligible []*model.Delivery, now time.Time, cfg model.SimulationConfig) bool {
	urgent := 0
	for _, d := range eligible {
		if d.Deadline.Sub(now).Minutes() < cfg.UrgencyWindowMinutes {
			urgent++
		}
	}
	if len(eligible) > cfg.UrgentReadyCountThreshold || urgent > 0 {
		return false
	}
	return true
}

func algorithmToken(cfg model.SimulationConfig) string {
	if cfg.IsHybrid() {
		return string(cfg.HybridAlgo)
	}
	return string(cfg.RoutingAlgo)
}

// applyJIT implements spec §4.6 step 4: compute usable_delay from the
// minimum per-stop slack and, when in JIT mode, shift the plan's timing
// fields by that amount. Returns the delay actually applied, in minutes,
// for metrics.
func applyJIT(plan model.Plan, useJIT bool, cfg model.SimulationConfig) (model.Plan, float64) {
	if len(plan.Sequence) == 0 {
		return plan, 0
	}

	minSlack := math.Inf(1)
	for _, idx := range plan.Sequence {
		d := plan.NodeMap[idx]
		arrival := plan.ArrivalsMap[idx]
		slack := d.Deadline.Sub(arrival).Minutes()
		if slack < minSlack {
			minSlack = slack
		}
	}

	usableDelay := math.Max(0, (minSlack-cfg.DispatchDelayBufferMin)*cfg.SlackUsageRatio)
	if !useJIT || usableDelay <= 0 {
		return plan, 0
	}

	shift := time.Duration(usableDelay * float64(time.Minute))
	plan.StartDatetime = plan.StartDatetime.Add(shift)
	plan.ReturnDepot = plan.ReturnDepot.Add(shift)
	shifted := make(map[int]time.Time, len(plan.ArrivalsMap))
	for idx, t := range plan.ArrivalsMap {
		shifted[idx] = t.Add(shift)
	}
	plan.ArrivalsMap = shifted
	return plan, usableDelay
}

// commit applies plans to vehicle and delivery state and schedules the
// resulting lifecycle events (spec §4.6 step 5). Caller must hold c.mu.
func (c *Core) commit(plans map[string]model.Plan) {
	for vid, plan := range plans {
		v, ok := c.vehicles[vid]
		if !ok || len(plan.Sequence) == 0 {
			continue
		}

		route := make([]string, 0, len(plan.Sequence))
		for _, idx := range plan.Sequence {
			d := plan.NodeMap[idx]
			d.Status = model.StatusDispatched
			d.AssignedVehicleID = vid
			route = append(route, d.ID)
			c.pushEvent(model.EventExpectedDelivery, plan.ArrivalsMap[idx], d.ID)
		}

		v.Status = model.VehicleOnRoute
		endTime := plan.ReturnDepot
		v.RouteEndTime = &endTime
		v.CurrentRoute = route
		c.pushEvent(model.EventVehicleReturn, plan.ReturnDepot, vid)

		c.monitor.Penalty += plan.TotalPenalty
		c.monitor.RouteTimeMinutes += plan.TotalRouteTime
		c.metrics.RecordRoutePenalty(vid, plan.TotalPenalty)
	}
}

func (c *Core) auditLog(ctx context.Context, method string, action audit.Action, resourceID string, meta map[string]any) {
	b := audit.NewEntry().Service("dispatcher").Method(method).Action(action).Outcome(audit.OutcomeSuccess)
	if resourceID != "" {
		b.Resource("delivery", resourceID)
	}
	for k, v := range meta {
		b.Meta(k, v)
	}
	if err := c.audit.Log(ctx, b.Build()); err != nil {
		c.logger.Warn("audit log failed", "method", method, "error", err)
	}
}
