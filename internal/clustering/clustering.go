// Package clustering implements the two-stage family's clustering solvers
// (component C3): capacitated k-means and greedy sequential assignment, both
// mapping deliveries to vehicles under a capacity constraint.
package clustering

import (
	"math"
	"sort"

	"dispatcher/internal/geo"
	"dispatcher/internal/model"
)

const (
	kmeansTol      = 1e-4
	kmeansMaxIters = 20
)

// Solver assigns deliveries to vehicles under capacity, returning
// vehicle id -> assigned deliveries. Deliveries that cannot fit are omitted.
type Solver interface {
	Cluster(deliveries []*model.Delivery, vehicles []*model.Vehicle, depot model.Point) map[string][]*model.Delivery
}

// Greedy orders deliveries by decreasing depot distance and assigns each to
// the first vehicle with enough remaining capacity (spec §4.2).
type Greedy struct{}

func (Greedy) Cluster(deliveries []*model.Delivery, vehicles []*model.Vehicle, depot model.Point) map[string][]*model.Delivery {
	ordered := make([]*model.Delivery, len(deliveries))
	copy(ordered, deliveries)
	sort.Slice(ordered, func(i, j int) bool {
		return geo.HaversineKm(depot, ordered[i].Point) > geo.HaversineKm(depot, ordered[j].Point)
	})

	remaining := make(map[string]int, len(vehicles))
	vehicleOrder := make([]string, 0, len(vehicles))
	for _, v := range vehicles {
		remaining[v.ID] = v.Capacity
		vehicleOrder = append(vehicleOrder, v.ID)
	}

	result := make(map[string][]*model.Delivery)
	for _, d := range ordered {
		for _, vid := range vehicleOrder {
			if remaining[vid] >= d.Size {
				result[vid] = append(result[vid], d)
				remaining[vid] -= d.Size
				break
			}
		}
	}
	return result
}

// CapacitatedKMeans clusters deliveries with a capacity-respecting
// assignment/update loop (spec §4.2). Initial centers are seeded
// deterministically: the first delivery, then repeatedly the delivery with
// the largest summed distance to the centers chosen so far; they are not
// drawn at random as in k-means++.
type CapacitatedKMeans struct{}

func (CapacitatedKMeans) Cluster(deliveries []*model.Delivery, vehicles []*model.Vehicle, depot model.Point) map[string][]*model.Delivery {
	k := len(vehicles)
	if k == 0 || len(deliveries) == 0 {
		return map[string][]*model.Delivery{}
	}

	capacity := make([]int, k)
	totalCapacity := 0
	for i, v := range vehicles {
		capacity[i] = v.Capacity
		totalCapacity += v.Capacity
	}
	totalSize := 0
	for _, d := range deliveries {
		totalSize += d.Size
	}
	// Scale capacity upward uniformly so the instance is feasible, preserving
	// relative proportions between vehicles.
	if totalSize > totalCapacity && totalCapacity > 0 {
		scale := math.Ceil(float64(totalSize) / float64(totalCapacity))
		for i := range capacity {
			capacity[i] = int(math.Ceil(float64(capacity[i]) * scale))
		}
	}

	centers := kmeansPlusPlusInit(deliveries, k)
	assignment := make([]int, len(deliveries))

	for iter := 0; iter < kmeansMaxIters; iter++ {
		remaining := append([]int(nil), capacity...)
		newAssignment := make([]int, len(deliveries))

		order := make([]int, len(deliveries))
		for i := range order {
			order[i] = i
		}
		sort.Slice(order, func(a, b int) bool {
			return deliveries[order[a]].Size > deliveries[order[b]].Size
		})

		for _, di := range order {
			d := deliveries[di]
			best, bestDist := -1, math.MaxFloat64
			for ci, c := range centers {
				if remaining[ci] < d.Size {
					continue
				}
				dist := geo.HaversineKm(d.Point, c)
				if dist < bestDist {
					best, bestDist = ci, dist
				}
			}
			if best == -1 {
				// No cluster has room; fall back to nearest regardless of
				// capacity so the point is not silently dropped from the loop.
				for ci, c := range centers {
					dist := geo.HaversineKm(d.Point, c)
					if dist < bestDist {
						best, bestDist = ci, dist
					}
				}
			}
			newAssignment[di] = best
			remaining[best] -= d.Size
		}

		newCenters := recomputeCenters(deliveries, newAssignment, k, centers)
		shift := maxCenterShift(centers, newCenters)

		assignment = newAssignment
		centers = newCenters
		if shift < kmeansTol {
			break
		}
	}

	result := make(map[string][]*model.Delivery)
	used := make([]int, k)
	for di, ci := range assignment {
		d := deliveries[di]
		if used[ci]+d.Size > capacity[ci] {
			continue // cannot fit even after the capacity scale-up; left unassigned
		}
		used[ci] += d.Size
		vid := vehicles[ci].ID
		result[vid] = append(result[vid], d)
	}
	return result
}

func kmeansPlusPlusInit(deliveries []*model.Delivery, k int) []model.Point {
	centers := make([]model.Point, 0, k)
	centers = append(centers, deliveries[0].Point)

	for len(centers) < k {
		farthestIdx, farthestSum := 0, -1.0
		for i, d := range deliveries {
			sum := 0.0
			for _, c := range centers {
				sum += geo.HaversineKm(d.Point, c)
			}
			if sum > farthestSum {
				farthestIdx, farthestSum = i, sum
			}
		}
		centers = append(centers, deliveries[farthestIdx].Point)
	}
	return centers
}

func recomputeCenters(deliveries []*model.Delivery, assignment []int, k int, prevCenters []model.Point) []model.Point {
	sumLng := make([]float64, k)
	sumLat := make([]float64, k)
	weight := make([]float64, k)

	for di, ci := range assignment {
		d := deliveries[di]
		w := float64(d.Size)
		sumLng[ci] += d.Point.Lng * w
		sumLat[ci] += d.Point.Lat * w
		weight[ci] += w
	}

	centers := make([]model.Point, k)
	for ci := 0; ci < k; ci++ {
		if weight[ci] == 0 {
			centers[ci] = farthestSumPoint(deliveries, prevCenters)
			continue
		}
		centers[ci] = model.Point{Lng: sumLng[ci] / weight[ci], Lat: sumLat[ci] / weight[ci]}
	}
	return centers
}

// farthestSumPoint handles empty clusters by reassigning the point farthest
// (by summed distance) from all current centers, per spec §4.2.
func farthestSumPoint(deliveries []*model.Delivery, centers []model.Point) model.Point {
	best, bestSum := deliveries[0].Point, -1.0
	for _, d := range deliveries {
		sum := 0.0
		for _, c := range centers {
			sum += geo.HaversineKm(d.Point, c)
		}
		if sum > bestSum {
			best, bestSum = d.Point, sum
		}
	}
	return best
}

func maxCenterShift(a, b []model.Point) float64 {
	max := 0.0
	for i := range a {
		shift := geo.HaversineKm(a[i], b[i])
		if shift > max {
			max = shift
		}
	}
	return max
}
