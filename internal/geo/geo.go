// Package geo computes distance and travel-time matrices over delivery
// points and the depot (component C1 of the dispatch core).
package geo

import (
	"math"

	"dispatcher/internal/model"
)

const earthRadiusKm = 6371.0088

// HaversineKm returns the great-circle distance between two points, in kilometers.
func HaversineKm(a, b model.Point) float64 {
	lat1, lat2 := a.Lat*math.Pi/180, b.Lat*math.Pi/180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	sinDLat := math.Sin(dLat / 2)
	sinDLng := math.Sin(dLng / 2)
	h := sinDLat*sinDLat + math.Cos(lat1)*math.Cos(lat2)*sinDLng*sinDLng
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// EuclideanKm approximates distance on a flat plane, treating degrees as
// proportional to kilometers via a fixed 111 km/degree scale. Used for small
// synthetic instances where curvature is negligible.
func EuclideanKm(a, b model.Point) float64 {
	const kmPerDegree = 111.0
	dLng := (b.Lng - a.Lng) * kmPerDegree
	dLat := (b.Lat - a.Lat) * kmPerDegree
	return math.Sqrt(dLng*dLng + dLat*dLat)
}

// Matrix is a symmetric travel-time table in minutes, indexed 0..N where
// index 0 is always the depot and indices 1..N are the N supplied points in order.
type Matrix struct {
	points  []model.Point
	minutes [][]float64
}

// NewMatrix builds the travel-time matrix for a depot and a slice of delivery
// points, given a constant average speed in km/h.
func NewMatrix(depot model.Point, points []model.Point, avgSpeedKmh float64) *Matrix {
	all := make([]model.Point, 0, len(points)+1)
	all = append(all, depot)
	all = append(all, points...)

	n := len(all)
	minutes := make([][]float64, n)
	for i := range minutes {
		minutes[i] = make([]float64, n)
	}

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			km := HaversineKm(all[i], all[j])
			t := kmToMinutes(km, avgSpeedKmh)
			minutes[i][j] = t
			minutes[j][i] = t
		}
	}

	return &Matrix{points: all, minutes: minutes}
}

func kmToMinutes(km, avgSpeedKmh float64) float64 {
	if avgSpeedKmh <= 0 {
		avgSpeedKmh = 50
	}
	return km / avgSpeedKmh * 60
}

// TravelMinutes returns the travel time in minutes between two arbitrary
// points at a constant average speed, without requiring a precomputed matrix.
// Used by fleet-wide solvers that compare insertions across vehicles whose
// assigned-delivery sets differ.
func TravelMinutes(a, b model.Point, avgSpeedKmh float64) float64 {
	return kmToMinutes(HaversineKm(a, b), avgSpeedKmh)
}

// DepotIndex is the distinguished index reserved for the depot in the matrix.
const DepotIndex = 0

// Minutes returns the travel time in minutes between matrix indices i and j.
func (m *Matrix) Minutes(i, j int) float64 {
	return m.minutes[i][j]
}

// Size returns the number of indices in the matrix, including the depot.
func (m *Matrix) Size() int {
	return len(m.points)
}

// Point returns the geographic point for a matrix index.
func (m *Matrix) Point(i int) model.Point {
	return m.points[i]
}
