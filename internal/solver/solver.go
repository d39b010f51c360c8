// Package solver provides the single entry point that dispatches a routing
// request to the configured two-stage or hybrid solver family (component
// C6), together with metadata describing each algorithm token accepted by
// model.SimulationConfig.
package solver

import (
	"fmt"
	"time"

	"dispatcher/internal/clustering"
	"dispatcher/internal/hybrid"
	"dispatcher/internal/model"
	"dispatcher/internal/routing"
)

// Result is the outcome of a full planning pass: one Plan per vehicle that
// received at least one stop.
type Result struct {
	Plans    map[string]model.Plan
	Duration time.Duration
}

// Plan runs the solver selected by cfg against the given deliveries and
// vehicles, dispatching to the two-stage (cluster then route) family or the
// hybrid (assign-and-order-in-one-pass) family (spec §9).
func Plan(deliveries []*model.Delivery, vehicles []*model.Vehicle, cfg model.SimulationConfig, refTime time.Time) (Result, error) {
	start := time.Now()

	if cfg.IsHybrid() {
		plans, err := solveHybrid(deliveries, vehicles, cfg, refTime)
		return Result{Plans: plans, Duration: time.Since(start)}, err
	}
	plans, err := solveTwoStage(deliveries, vehicles, cfg, refTime)
	return Result{Plans: plans, Duration: time.Since(start)}, err
}

func solveTwoStage(deliveries []*model.Delivery, vehicles []*model.Vehicle, cfg model.SimulationConfig, refTime time.Time) (map[string]model.Plan, error) {
	clusterer, err := clustererFor(cfg.ClusteringAlgo)
	if err != nil {
		return nil, err
	}
	router, err := routerFor(cfg.RoutingAlgo)
	if err != nil {
		return nil, err
	}

	groups := clusterer.Cluster(deliveries, vehicles, cfg.DepotOrigin)

	plans := make(map[string]model.Plan, len(groups))
	for _, v := range vehicles {
		group, ok := groups[v.ID]
		if !ok || len(group) == 0 {
			continue
		}
		plans[v.ID] = router.Route(group, cfg.DepotOrigin, v.ID, refTime, cfg.AvgSpeedKmh)
	}
	return plans, nil
}

func solveHybrid(deliveries []*model.Delivery, vehicles []*model.Vehicle, cfg model.SimulationConfig, refTime time.Time) (map[string]model.Plan, error) {
	h, err := hybridFor(cfg.HybridAlgo)
	if err != nil {
		return nil, err
	}
	return h.PlanHybrid(deliveries, vehicles, cfg.DepotOrigin, refTime, cfg), nil
}

func clustererFor(algo model.ClusteringAlgo) (clustering.Solver, error) {
	switch algo {
	case model.ClusteringCKMeans, "":
		return clustering.CapacitatedKMeans{}, nil
	case model.ClusteringGreedy:
		return clustering.Greedy{}, nil
	default:
		return nil, fmt.Errorf("solver: unknown clustering algorithm %q", algo)
	}
}

func routerFor(algo model.RoutingAlgo) (routing.Solver, error) {
	switch algo {
	case model.RoutingBRKGA, "":
		return routing.BRKGA{}, nil
	case model.RoutingGreedy:
		return routing.CheapestInsertion{}, nil
	default:
		return nil, fmt.Errorf("solver: unknown routing algorithm %q", algo)
	}
}

func hybridFor(algo model.HybridAlgo) (hybrid.Solver, error) {
	switch algo {
	case model.HybridGreedyInsertion, "":
		return hybrid.GreedyInsertion{}, nil
	case model.HybridBRKGA:
		return hybrid.BRKGAHybrid{}, nil
	case model.HybridManual:
		return hybrid.Manual{}, nil
	default:
		return nil, fmt.Errorf("solver: unknown hybrid algorithm %q", algo)
	}
}

// AlgorithmInfo describes one algorithm token accepted in a SimulationConfig,
// for display in operator tooling and admission validation.
type AlgorithmInfo struct {
	Token       string
	Family      string
	Name        string
	Description string
	BestFor     []string
}

// AllAlgorithms lists every clustering, routing, and hybrid algorithm token
// this solver package accepts, in a stable order suitable for display.
func AllAlgorithms() []AlgorithmInfo {
	return []AlgorithmInfo{
		{
			Token:       string(model.ClusteringCKMeans),
			Family:      "clustering",
			Name:        "Capacitated K-Means",
			Description: "farthest-point seeded clustering with size-weighted center recompute and capacity scale-up",
			BestFor:     []string{"geographically dispersed demand", "fleets with uneven vehicle capacity"},
		},
		{
			Token:       string(model.ClusteringGreedy),
			Family:      "clustering",
			Name:        "Greedy Clustering",
			Description: "assigns deliveries by decreasing depot distance into the first vehicle with room",
			BestFor:     []string{"small instances", "low-latency planning"},
		},
		{
			Token:       string(model.RoutingBRKGA),
			Family:      "routing",
			Name:        "BRKGA",
			Description: "biased random-key genetic algorithm followed by 2-opt/Or-opt/relocate local search",
			BestFor:     []string{"tight delivery windows", "single-vehicle route quality"},
		},
		{
			Token:       string(model.RoutingGreedy),
			Family:      "routing",
			Name:        "Cheapest Insertion",
			Description: "seeds from the nearest-to-depot stop and inserts remaining stops at lowest marginal cost",
			BestFor:     []string{"low-latency planning"},
		},
		{
			Token:       string(model.HybridGreedyInsertion),
			Family:      "hybrid",
			Name:        "Greedy Insertion",
			Description: "fleet-wide cheapest insertion across all vehicles simultaneously",
			BestFor:     []string{"dynamic re-planning", "small to medium fleets"},
		},
		{
			Token:       string(model.HybridBRKGA),
			Family:      "hybrid",
			Name:        "BRKGA Hybrid",
			Description: "priority-chromosome BRKGA whose decoder performs fleet-wide cheapest insertion",
			BestFor:     []string{"larger fleets", "route quality over latency"},
		},
		{
			Token:       string(model.HybridManual),
			Family:      "hybrid",
			Name:        "Manual",
			Description: "slack-ordered assignment to largest-capacity vehicles with proximity grouping",
			BestFor:     []string{"deterministic, explainable assignment"},
		},
	}
}
