// Package routeeval implements the route-evaluation primitive (spec §4.1):
// the single authoritative cost function every solver and the JIT dispatch
// policy must call to stay consistent with one another.
package routeeval

import "math"

// Matrix supplies travel times in minutes between matrix indices, with the
// depot conventionally at DepotIndex.
type Matrix interface {
	Minutes(i, j int) float64
}

const DepotIndex = 0

const (
	lateBlockMinutes = 5.0
	lateBlockUnits   = 100.0
)

// Result is the evaluated cost and timing of a visit sequence.
type Result struct {
	StartTime      float64 // minutes, relative to the shared zero used by P and D
	Arrivals       []float64
	Penalties      []float64
	TotalPenalty   float64
	TotalRouteTime float64
}

// Evaluate computes arrival times, per-stop lateness penalty, and total route
// time for a visit sequence of indices into T/P/D. Service defaults to 0 for
// every stop when nil.
//
// start_time = max(P[i] for i in seq); arrival[0] = start_time + T[depot, seq[0]];
// arrival[k] = arrival[k-1] + service(seq[k-1]) + T[seq[k-1], seq[k]];
// penalty[k] = ceil(max(0, arrival[k] - D[seq[k]]) / 5) * 100.
func Evaluate(seq []int, t Matrix, p, d []float64, service []float64) Result {
	if len(seq) == 0 {
		return Result{}
	}

	start := p[seq[0]]
	for _, i := range seq[1:] {
		if p[i] > start {
			start = p[i]
		}
	}

	arrivals := make([]float64, len(seq))
	penalties := make([]float64, len(seq))
	var totalPenalty float64

	prevArrival := start
	prevIdx := DepotIndex
	for k, idx := range seq {
		var travel float64
		if k == 0 {
			travel = t.Minutes(DepotIndex, idx)
			arrivals[k] = start + travel
		} else {
			svc := serviceAt(service, prevIdx)
			travel = t.Minutes(prevIdx, idx)
			arrivals[k] = prevArrival + svc + travel
		}
		penalties[k] = latePenalty(arrivals[k], d[idx])
		totalPenalty += penalties[k]

		prevArrival = arrivals[k]
		prevIdx = idx
	}

	last := seq[len(seq)-1]
	returnTravel := t.Minutes(last, DepotIndex)
	endTime := prevArrival + serviceAt(service, last) + returnTravel

	return Result{
		StartTime:      start,
		Arrivals:       arrivals,
		Penalties:      penalties,
		TotalPenalty:   totalPenalty,
		TotalRouteTime: endTime - start,
	}
}

func serviceAt(service []float64, idx int) float64 {
	if service == nil || idx >= len(service) {
		return 0
	}
	return service[idx]
}

func latePenalty(arrival, deadline float64) float64 {
	lateness := arrival - deadline
	if lateness <= 0 {
		return 0
	}
	blocks := math.Ceil(lateness / lateBlockMinutes)
	return blocks * lateBlockUnits
}
