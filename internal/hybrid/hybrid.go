// Package hybrid implements the hybrid solver family (component C5): solvers
// that assign deliveries to vehicles and order each vehicle's route in a
// single pass, returning the same per-vehicle Plan shape as the two-stage
// routing solvers.
package hybrid

import (
	"math"
	"math/rand"
	"sort"
	"time"

	"dispatcher/internal/geo"
	"dispatcher/internal/model"
	"dispatcher/internal/routeeval"
)

// Solver assigns and orders deliveries across the whole fleet in one pass
// (spec §4.4), returning a Plan per vehicle that received at least one stop.
type Solver interface {
	PlanHybrid(deliveries []*model.Delivery, vehicles []*model.Vehicle, depot model.Point, refTime time.Time, cfg model.SimulationConfig) map[string]model.Plan
}

// fleetState tracks, per vehicle, the ordered deliveries assigned so far.
type fleetState struct {
	depot       model.Point
	avgSpeedKmh float64
	refTime     time.Time
	routes      map[string][]*model.Delivery
	remaining   map[string]int
	order       []string
}

func newFleetState(vehicles []*model.Vehicle, depot model.Point, avgSpeedKmh float64, refTime time.Time) *fleetState {
	fs := &fleetState{
		depot:       depot,
		avgSpeedKmh: avgSpeedKmh,
		refTime:     refTime,
		routes:      make(map[string][]*model.Delivery),
		remaining:   make(map[string]int, len(vehicles)),
	}
	for _, v := range vehicles {
		fs.remaining[v.ID] = v.Capacity
		fs.order = append(fs.order, v.ID)
	}
	return fs
}

// pointsMatrix implements routeeval.Matrix over an arbitrary ordered point
// list (depot at index 0), used when candidate sequences mix deliveries from
// different vehicles' in-progress routes.
type pointsMatrix struct {
	points      []model.Point
	avgSpeedKmh float64
}

func (m pointsMatrix) Minutes(i, j int) float64 {
	return geo.TravelMinutes(m.points[i], m.points[j], m.avgSpeedKmh)
}

func (fs *fleetState) evaluate(vehicleID string, seq []*model.Delivery) routeeval.Result {
	points := make([]model.Point, 0, len(seq)+1)
	points = append(points, fs.depot)
	p := make([]float64, len(seq)+1)
	d := make([]float64, len(seq)+1)
	idx := make([]int, len(seq))
	for i, dl := range seq {
		points = append(points, dl.Point)
		p[i+1] = dl.ReadyAt.Sub(fs.refTime).Minutes()
		d[i+1] = dl.Deadline.Sub(fs.refTime).Minutes()
		idx[i] = i + 1
	}
	m := pointsMatrix{points: points, avgSpeedKmh: fs.avgSpeedKmh}
	return routeeval.Evaluate(idx, m, p, d, nil)
}

func (fs *fleetState) buildPlans() map[string]model.Plan {
	plans := make(map[string]model.Plan)
	for vid, seq := range fs.routes {
		if len(seq) == 0 {
			continue
		}
		res := fs.evaluate(vid, seq)
		nodeMap := make(map[int]*model.Delivery, len(seq))
		arrivalsMap := make(map[int]time.Time, len(seq))
		penaltiesMap := make(map[int]float64, len(seq))
		idxSeq := make([]int, len(seq))
		for i, dl := range seq {
			nodeMap[i+1] = dl
			idxSeq[i] = i + 1
			arrivalsMap[i+1] = fs.refTime.Add(time.Duration(res.Arrivals[i] * float64(time.Minute)))
			penaltiesMap[i+1] = res.Penalties[i]
		}
		plans[vid] = model.Plan{
			VehicleID:      vid,
			Sequence:       idxSeq,
			NodeMap:        nodeMap,
			StartDatetime:  fs.refTime.Add(time.Duration(res.StartTime * float64(time.Minute))),
			ReturnDepot:    fs.refTime.Add(time.Duration((res.StartTime + res.TotalRouteTime) * float64(time.Minute))),
			ArrivalsMap:    arrivalsMap,
			PenaltiesMap:   penaltiesMap,
			TotalPenalty:   res.TotalPenalty,
			TotalRouteTime: res.TotalRouteTime,
		}
	}
	return plans
}

// GreedyInsertion repeatedly inserts the (delivery, vehicle, position) triple
// with the lowest marginal penalty increase (route time as tie-break),
// subject to capacity, until no feasible insertion remains (spec §4.4).
type GreedyInsertion struct{}

func (GreedyInsertion) PlanHybrid(deliveries []*model.Delivery, vehicles []*model.Vehicle, depot model.Point, refTime time.Time, cfg model.SimulationConfig) map[string]model.Plan {
	fs := newFleetState(vehicles, depot, cfg.AvgSpeedKmh, refTime)
	unassigned := append([]*model.Delivery(nil), deliveries...)

	for len(unassigned) > 0 {
		bestDelivery, bestVehicle, bestPos := -1, "", -1
		bestPenalty, bestRouteTime := -1.0, -1.0
		found := false

		for di, d := range unassigned {
			for _, vid := range fs.order {
				if fs.remaining[vid] < d.Size {
					continue
				}
				current := fs.routes[vid]
				base := fs.evaluate(vid, current)
				for pos := 0; pos <= len(current); pos++ {
					candidate := insertDeliveryAt(current, pos, d)
					res := fs.evaluate(vid, candidate)
					dPenalty := res.TotalPenalty - base.TotalPenalty
					dRouteTime := res.TotalRouteTime - base.TotalRouteTime
					if !found || dPenalty < bestPenalty ||
						(dPenalty == bestPenalty && dRouteTime < bestRouteTime) {
						bestDelivery, bestVehicle, bestPos = di, vid, pos
						bestPenalty, bestRouteTime = dPenalty, dRouteTime
						found = true
					}
				}
			}
		}

		if !found {
			break // no feasible insertion remains
		}

		d := unassigned[bestDelivery]
		fs.routes[bestVehicle] = insertDeliveryAt(fs.routes[bestVehicle], bestPos, d)
		fs.remaining[bestVehicle] -= d.Size
		unassigned = append(unassigned[:bestDelivery], unassigned[bestDelivery+1:]...)
	}

	return fs.buildPlans()
}

func insertDeliveryAt(seq []*model.Delivery, pos int, d *model.Delivery) []*model.Delivery {
	out := make([]*model.Delivery, 0, len(seq)+1)
	out = append(out, seq[:pos]...)
	out = append(out, d)
	out = append(out, seq[pos:]...)
	return out
}

// Manual assigns by ascending slack (deadline minus direct depot travel
// time), filling the largest-capacity vehicles first; a vehicle that already
// has stops only takes further deliveries whose depot travel time is at most
// MaxTravelTimeMin (default 30) (spec §4.4).
type Manual struct{}

func (Manual) PlanHybrid(deliveries []*model.Delivery, vehicles []*model.Vehicle, depot model.Point, refTime time.Time, cfg model.SimulationConfig) map[string]model.Plan {
	fs := newFleetState(vehicles, depot, cfg.AvgSpeedKmh, refTime)

	ordered := append([]*model.Delivery(nil), deliveries...)
	slack := func(d *model.Delivery) float64 {
		travel := geo.TravelMinutes(depot, d.Point, cfg.AvgSpeedKmh)
		return d.Deadline.Sub(refTime).Minutes() - travel
	}
	sort.Slice(ordered, func(i, j int) bool { return slack(ordered[i]) < slack(ordered[j]) })

	byCapacity := append([]string(nil), fs.order...)
	sort.Slice(byCapacity, func(i, j int) bool {
		return fs.remaining[byCapacity[i]] > fs.remaining[byCapacity[j]]
	})

	maxTravel := cfg.MaxTravelTimeMin
	if maxTravel <= 0 {
		maxTravel = 30
	}

	for _, d := range ordered {
		placed := false
		for _, vid := range byCapacity {
			if fs.remaining[vid] < d.Size {
				continue
			}
			current := fs.routes[vid]
			if len(current) > 0 {
				travel := geo.TravelMinutes(depot, d.Point, cfg.AvgSpeedKmh)
				if travel > maxTravel {
					continue
				}
			}
			fs.routes[vid] = append(fs.routes[vid], d)
			fs.remaining[vid] -= d.Size
			placed = true
			break
		}
		_ = placed // deliveries that cannot be placed are left unassigned
	}

	return fs.buildPlans()
}

// BRKGA parameters for the hybrid priority-chromosome solver (spec §4.4).
const (
	hybridPopulation  = 50
	hybridEliteFrac   = 0.3
	hybridMutantFrac  = 0.15
	hybridEliteBias   = 0.7
	hybridGenerations = 70
	hybridPatience    = 15
	infeasiblePenalty = 100000.0
)

// BRKGAHybrid decodes a priority vector over deliveries by sorting ascending,
// then inserts each delivery in priority order at the cheapest fleet-wide
// position (cost = 1000*penalty + route_time; a delivery that fits no
// vehicle's remaining capacity incurs a fixed penalty), evolved toward
// lexicographic (penalty, route_time) fitness.
type BRKGAHybrid struct {
	Rand *rand.Rand
}

func (b BRKGAHybrid) PlanHybrid(deliveries []*model.Delivery, vehicles []*model.Vehicle, depot model.Point, refTime time.Time, cfg model.SimulationConfig) map[string]model.Plan {
	if len(deliveries) == 0 {
		return map[string]model.Plan{}
	}

	rng := b.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	n := len(deliveries)
	eliteSize := maxInt(1, int(float64(hybridPopulation)*hybridEliteFrac))
	mutantSize := maxInt(1, int(math.Floor(float64(hybridPopulation)*hybridMutantFrac)))

	pop := make([][]float64, hybridPopulation)
	for i := range pop {
		pop[i] = randomChromosome(rng, n)
	}

	var bestFleet *fleetState
	bestPenalty, bestRouteTime := -1.0, -1.0
	noImprove := 0

	for gen := 0; gen < hybridGenerations && noImprove < hybridPatience; gen++ {
		type scored struct {
			chrom   []float64
			fleet   *fleetState
			penalty float64
			rtime   float64
		}
		evaluated := make([]scored, len(pop))
		for i, chrom := range pop {
			fs, penalty, rtime := decodeAndInsert(chrom, deliveries, vehicles, depot, refTime, cfg)
			evaluated[i] = scored{chrom, fs, penalty, rtime}
		}
		sort.Slice(evaluated, func(i, j int) bool {
			if evaluated[i].penalty != evaluated[j].penalty {
				return evaluated[i].penalty < evaluated[j].penalty
			}
			return evaluated[i].rtime < evaluated[j].rtime
		})

		if bestFleet == nil || evaluated[0].penalty < bestPenalty ||
			(evaluated[0].penalty == bestPenalty && evaluated[0].rtime < bestRouteTime) {
			bestFleet = evaluated[0].fleet
			bestPenalty, bestRouteTime = evaluated[0].penalty, evaluated[0].rtime
			noImprove = 0
		} else {
			noImprove++
		}

		next := make([][]float64, 0, hybridPopulation)
		for i := 0; i < eliteSize; i++ {
			next = append(next, evaluated[i].chrom)
		}
		for i := 0; i < mutantSize; i++ {
			next = append(next, randomChromosome(rng, n))
		}
		for len(next) < hybridPopulation {
			elite := evaluated[rng.Intn(eliteSize)].chrom
			other := evaluated[eliteSize+rng.Intn(len(evaluated)-eliteSize)].chrom
			next = append(next, crossover(rng, elite, other, hybridEliteBias))
		}
		pop = next
	}

	if bestFleet == nil {
		return map[string]model.Plan{}
	}
	return bestFleet.buildPlans()
}

func decodeAndInsert(chrom []float64, deliveries []*model.Delivery, vehicles []*model.Vehicle, depot model.Point, refTime time.Time, cfg model.SimulationConfig) (*fleetState, float64, float64) {
	order := make([]int, len(deliveries))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return chrom[order[a]] < chrom[order[b]] })

	fs := newFleetState(vehicles, depot, cfg.AvgSpeedKmh, refTime)
	totalPenalty, totalRouteTime := 0.0, 0.0

	for _, di := range order {
		d := deliveries[di]
		bestVid, bestPos := "", -1
		bestCost := math.Inf(1)

		for _, vid := range fs.order {
			if fs.remaining[vid] < d.Size {
				continue
			}
			current := fs.routes[vid]
			for pos := 0; pos <= len(current); pos++ {
				candidate := insertDeliveryAt(current, pos, d)
				res := fs.evaluate(vid, candidate)
				cost := 1000*res.TotalPenalty + res.TotalRouteTime
				if cost < bestCost {
					bestVid, bestPos, bestCost = vid, pos, cost
				}
			}
		}

		if bestPos == -1 {
			totalPenalty += infeasiblePenalty
			continue
		}
		fs.routes[bestVid] = insertDeliveryAt(fs.routes[bestVid], bestPos, d)
		fs.remaining[bestVid] -= d.Size
	}

	for vid, seq := range fs.routes {
		if len(seq) == 0 {
			continue
		}
		res := fs.evaluate(vid, seq)
		totalPenalty += res.TotalPenalty
		totalRouteTime += res.TotalRouteTime
	}

	return fs, totalPenalty, totalRouteTime
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func randomChromosome(rng *rand.Rand, n int) []float64 {
	c := make([]float64, n)
	for i := range c {
		c[i] = rng.Float64()
	}
	return c
}

func crossover(rng *rand.Rand, elite, other []float64, eliteBias float64) []float64 {
	child := make([]float64, len(elite))
	for i := range child {
		if rng.Float64() < eliteBias {
			child[i] = elite[i]
		} else {
			child[i] = other[i]
		}
	}
	return child
}
