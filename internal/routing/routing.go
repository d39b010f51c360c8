// Package routing implements the two-stage family's routing solvers
// (component C4): BRKGA with local search, and cheapest insertion. Both
// order a single vehicle's assigned deliveries into a visit sequence.
package routing

import (
	"math"
	"math/rand"
	"sort"
	"time"

	"dispatcher/internal/geo"
	"dispatcher/internal/model"
	"dispatcher/internal/routeeval"
)

// Solver orders one vehicle's assigned deliveries into a Plan (spec §4.3).
type Solver interface {
	Route(group []*model.Delivery, depot model.Point, vehicleID string, refTime time.Time, avgSpeedKmh float64) model.Plan
}

// buildPlan evaluates seq (indices 1..N into the matrix, depot at 0) and
// assembles the Plan artifact shared by both routing solvers.
func buildPlan(vehicleID string, group []*model.Delivery, seq []int, matrix *geo.Matrix, p, d []float64, refTime time.Time) model.Plan {
	res := routeeval.Evaluate(seq, matrixAdapter{matrix}, p, d, nil)

	nodeMap := make(map[int]*model.Delivery, len(group))
	arrivalsMap := make(map[int]time.Time, len(seq))
	penaltiesMap := make(map[int]float64, len(seq))
	for i, g := range group {
		nodeMap[i+1] = g
	}
	for k, idx := range seq {
		arrivalsMap[idx] = refTime.Add(time.Duration(res.Arrivals[k] * float64(time.Minute)))
		penaltiesMap[idx] = res.Penalties[k]
	}

	return model.Plan{
		VehicleID:      vehicleID,
		Sequence:       seq,
		NodeMap:        nodeMap,
		StartDatetime:  refTime.Add(time.Duration(res.StartTime * float64(time.Minute))),
		ReturnDepot:    refTime.Add(time.Duration((res.StartTime + res.TotalRouteTime) * float64(time.Minute))),
		ArrivalsMap:    arrivalsMap,
		PenaltiesMap:   penaltiesMap,
		TotalPenalty:   res.TotalPenalty,
		TotalRouteTime: res.TotalRouteTime,
	}
}

type matrixAdapter struct{ m *geo.Matrix }

func (a matrixAdapter) Minutes(i, j int) float64 { return a.m.Minutes(i, j) }

// prepDeadline derives the P (ready) and D (deadline) minute offsets for a
// group of deliveries relative to refTime, with index 0 reserved for the depot.
func prepDeadline(group []*model.Delivery, refTime time.Time) (p, d []float64) {
	p = make([]float64, len(group)+1)
	d = make([]float64, len(group)+1)
	for i, g := range group {
		p[i+1] = g.ReadyAt.Sub(refTime).Minutes()
		d[i+1] = g.Deadline.Sub(refTime).Minutes()
	}
	return p, d
}

// CheapestInsertion seeds with the delivery nearest the depot and repeatedly
// inserts the (unvisited, position) pair with lowest marginal travel cost
// (spec §4.3).
type CheapestInsertion struct{}

func (CheapestInsertion) Route(group []*model.Delivery, depot model.Point, vehicleID string, refTime time.Time, avgSpeedKmh float64) model.Plan {
	if len(group) == 0 {
		return model.Plan{VehicleID: vehicleID}
	}
	points := make([]model.Point, len(group))
	for i, g := range group {
		points[i] = g.Point
	}
	matrix := geo.NewMatrix(depot, points, avgSpeedKmh)
	p, d := prepDeadline(group, refTime)

	seedIdx := 1
	seedDist := matrix.Minutes(geo.DepotIndex, 1)
	for i := 2; i <= len(group); i++ {
		if t := matrix.Minutes(geo.DepotIndex, i); t < seedDist {
			seedIdx, seedDist = i, t
		}
	}

	seq := []int{seedIdx}
	unvisited := make(map[int]bool, len(group))
	for i := 1; i <= len(group); i++ {
		if i != seedIdx {
			unvisited[i] = true
		}
	}

	for len(unvisited) > 0 {
		bestNode, bestPos, bestCost := -1, -1, math.MaxFloat64
		for node := range unvisited {
			for pos := 0; pos <= len(seq); pos++ {
				u := depotOr(seq, pos-1, geo.DepotIndex)
				v := depotOr(seq, pos, geo.DepotIndex)
				cost := matrix.Minutes(u, node) + matrix.Minutes(node, v) - matrix.Minutes(u, v)
				if cost < bestCost {
					bestNode, bestPos, bestCost = node, pos, cost
				}
			}
		}
		seq = insertAt(seq, bestPos, bestNode)
		delete(unvisited, bestNode)
	}

	return buildPlan(vehicleID, group, seq, matrix, p, d, refTime)
}

func depotOr(seq []int, pos, depot int) int {
	if pos < 0 || pos >= len(seq) {
		return depot
	}
	return seq[pos]
}

func insertAt(seq []int, pos, node int) []int {
	out := make([]int, 0, len(seq)+1)
	out = append(out, seq[:pos]...)
	out = append(out, node)
	out = append(out, seq[pos:]...)
	return out
}

// BRKGA parameters (spec §4.3).
const (
	brkgaPopulation  = 55
	brkgaEliteFrac   = 0.2
	brkgaMutantFrac  = 0.1
	brkgaEliteBias   = 0.7
	brkgaGenerations = 200
	brkgaPatience    = 40
)

// BRKGA orders deliveries by decoding a population of real-valued key
// chromosomes (sort-to-sequence), evolved toward lexicographic
// (total_penalty, total_route_time) fitness, followed by 2-opt/Or-opt/relocate
// local search (spec §4.3).
type BRKGA struct {
	// Rand allows deterministic seeding in tests; nil uses a time-seeded source.
	Rand *rand.Rand
}

func (b BRKGA) Route(group []*model.Delivery, depot model.Point, vehicleID string, refTime time.Time, avgSpeedKmh float64) model.Plan {
	if len(group) == 0 {
		return model.Plan{VehicleID: vehicleID}
	}
	if len(group) == 1 {
		points := []model.Point{group[0].Point}
		matrix := geo.NewMatrix(depot, points, avgSpeedKmh)
		p, d := prepDeadline(group, refTime)
		return buildPlan(vehicleID, group, []int{1}, matrix, p, d, refTime)
	}

	points := make([]model.Point, len(group))
	for i, g := range group {
		points[i] = g.Point
	}
	matrix := geo.NewMatrix(depot, points, avgSpeedKmh)
	p, d := prepDeadline(group, refTime)
	n := len(group)

	rng := b.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	eliteSize := maxInt(1, int(float64(brkgaPopulation)*brkgaEliteFrac))
	mutantSize := maxInt(1, int(math.Floor(float64(brkgaPopulation)*brkgaMutantFrac)))

	pop := make([][]float64, brkgaPopulation)
	for i := range pop {
		pop[i] = randomChromosome(rng, n)
	}

	bestPenalty, bestRouteTime := math.Inf(1), math.Inf(1)
	var bestSeq []int
	noImprove := 0

	for gen := 0; gen < brkgaGenerations && noImprove < brkgaPatience; gen++ {
		type scored struct {
			chrom   []float64
			seq     []int
			penalty float64
			rtime   float64
		}
		evaluated := make([]scored, len(pop))
		for i, chrom := range pop {
			seq := decode(chrom)
			res := routeeval.Evaluate(seq, matrixAdapter{matrix}, p, d, nil)
			evaluated[i] = scored{chrom, seq, res.TotalPenalty, res.TotalRouteTime}
		}
		sort.Slice(evaluated, func(i, j int) bool {
			if evaluated[i].penalty != evaluated[j].penalty {
				return evaluated[i].penalty < evaluated[j].penalty
			}
			return evaluated[i].rtime < evaluated[j].rtime
		})

		if evaluated[0].penalty < bestPenalty || (evaluated[0].penalty == bestPenalty && evaluated[0].rtime < bestRouteTime) {
			bestPenalty, bestRouteTime = evaluated[0].penalty, evaluated[0].rtime
			bestSeq = evaluated[0].seq
			noImprove = 0
		} else {
			noImprove++
		}

		next := make([][]float64, 0, brkgaPopulation)
		for i := 0; i < eliteSize; i++ {
			next = append(next, evaluated[i].chrom)
		}
		for i := 0; i < mutantSize; i++ {
			next = append(next, randomChromosome(rng, n))
		}
		for len(next) < brkgaPopulation {
			eliteParent := evaluated[rng.Intn(eliteSize)].chrom
			nonEliteParent := evaluated[eliteSize+rng.Intn(len(evaluated)-eliteSize)].chrom
			next = append(next, crossover(rng, eliteParent, nonEliteParent, brkgaEliteBias))
		}
		pop = next
	}

	bestSeq = localSearch(bestSeq, matrixAdapter{matrix}, p, d)
	return buildPlan(vehicleID, group, bestSeq, matrix, p, d, refTime)
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

// decode sorts delivery indices (1..n) by ascending key to produce a visit sequence.
func decode(chrom []float64) []int {
	seq := make([]int, len(chrom))
	for i := range seq {
		seq[i] = i + 1
	}
	sort.Slice(seq, func(a, b int) bool {
		return chrom[seq[a]-1] < chrom[seq[b]-1]
	})
	return seq
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

// lexLess reports whether (penaltyA, rtimeA) is a strict lexicographic
// improvement over (penaltyB, rtimeB).
func lexLess(penaltyA, rtimeA, penaltyB, rtimeB float64) bool {
	if penaltyA != penaltyB {
		return penaltyA < penaltyB
	}
	return rtimeA < rtimeB
}

func evalCost(seq []int, m routeeval.Matrix, p, d []float64) (float64, float64) {
	res := routeeval.Evaluate(seq, m, p, d, nil)
	return res.TotalPenalty, res.TotalRouteTime
}

// localSearch runs 2-opt, Or-opt (block sizes 1..3), and relocate passes in
// order, each iterating to a full non-improving sweep before moving to the
// next (spec §4.3).
func localSearch(seq []int, m routeeval.Matrix, p, d []float64) []int {
	seq = twoOpt(seq, m, p, d)
	seq = orOpt(seq, m, p, d)
	seq = relocate(seq, m, p, d)
	return seq
}

func twoOpt(seq []int, m routeeval.Matrix, p, d []float64) []int {
	improved := true
	bestPenalty, bestTime := evalCost(seq, m, p, d)
	for improved {
		improved = false
		for i := 0; i < len(seq)-1; i++ {
			for j := i + 1; j < len(seq); j++ {
				candidate := reverseSegment(seq, i, j)
				cp, ct := evalCost(candidate, m, p, d)
				if lexLess(cp, ct, bestPenalty, bestTime) {
					seq, bestPenalty, bestTime = candidate, cp, ct
					improved = true
				}
			}
		}
	}
	return seq
}

func reverseSegment(seq []int, i, j int) []int {
	out := append([]int(nil), seq...)
	for l, r := i, j; l < r; l, r = l+1, r-1 {
		out[l], out[r] = out[r], out[l]
	}
	return out
}

func orOpt(seq []int, m routeeval.Matrix, p, d []float64) []int {
	bestPenalty, bestTime := evalCost(seq, m, p, d)
	improved := true
	for improved {
		improved = false
		for blockSize := 1; blockSize <= 3 && blockSize < len(seq); blockSize++ {
			for start := 0; start+blockSize <= len(seq); start++ {
				block := append([]int(nil), seq[start:start+blockSize]...)
				rest := append(append([]int(nil), seq[:start]...), seq[start+blockSize:]...)
				for pos := 0; pos <= len(rest); pos++ {
					candidate := insertBlock(rest, pos, block)
					cp, ct := evalCost(candidate, m, p, d)
					if lexLess(cp, ct, bestPenalty, bestTime) {
						seq, bestPenalty, bestTime = candidate, cp, ct
						improved = true
					}
				}
			}
		}
	}
	return seq
}

func insertBlock(seq []int, pos int, block []int) []int {
	out := make([]int, 0, len(seq)+len(block))
	out = append(out, seq[:pos]...)
	out = append(out, block...)
	out = append(out, seq[pos:]...)
	return out
}

func relocate(seq []int, m routeeval.Matrix, p, d []float64) []int {
	bestPenalty, bestTime := evalCost(seq, m, p, d)
	improved := true
	for improved {
		improved = false
		for i := 0; i < len(seq); i++ {
			node := seq[i]
			rest := append(append([]int(nil), seq[:i]...), seq[i+1:]...)
			for pos := 0; pos <= len(rest); pos++ {
				candidate := insertAt(rest, pos, node)
				cp, ct := evalCost(candidate, m, p, d)
				if lexLess(cp, ct, bestPenalty, bestTime) {
					seq, bestPenalty, bestTime = candidate, cp, ct
					improved = true
				}
			}
		}
	}
	return seq
}
