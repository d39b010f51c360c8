package routeeval

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeMatrix struct {
	m [][]float64
}

func (f fakeMatrix) Minutes(i, j int) float64 { return f.m[i][j] }

func TestEvaluate_OnTime(t *testing.T) {
	// depot=0, stop1=1, stop2=2
	m := fakeMatrix{m: [][]float64{
		{0, 10, 20},
		{10, 0, 8},
		{20, 8, 0},
	}}
	p := []float64{0, 0, 0}
	d := []float64{0, 100, 100}

	res := Evaluate([]int{1, 2}, m, p, d, nil)

	assert.Equal(t, 0.0, res.StartTime)
	assert.Equal(t, 10.0, res.Arrivals[0])
	assert.Equal(t, 18.0, res.Arrivals[1])
	assert.Equal(t, 0.0, res.TotalPenalty)
	// total route time = (arrival[last] + return) - start = (18+20) - 0 = 38
	assert.Equal(t, 38.0, res.TotalRouteTime)
}

func TestEvaluate_LatePenaltyBlocks(t *testing.T) {
	m := fakeMatrix{m: [][]float64{
		{0, 10},
		{10, 0},
	}}
	p := []float64{0, 0}
	d := []float64{0, 5} // arrival at 10, deadline 5 -> 5 minutes late -> 1 block of 5 -> 100

	res := Evaluate([]int{1}, m, p, d, nil)
	assert.Equal(t, 100.0, res.Penalties[0], "expected 100 penalty for exactly one late block")

	d2 := []float64{0, 1} // 9 minutes late -> ceil(9/5)=2 blocks -> 200
	res2 := Evaluate([]int{1}, m, p, d2, nil)
	assert.Equal(t, 200.0, res2.Penalties[0], "expected 200 penalty for two late blocks")
}

func TestEvaluate_StartTimeIsMaxPreparation(t *testing.T) {
	m := fakeMatrix{m: [][]float64{
		{0, 5, 5},
		{5, 0, 3},
		{5, 3, 0},
	}}
	p := []float64{0, 20, 5}
	d := []float64{0, 1000, 1000}

	res := Evaluate([]int{1, 2}, m, p, d, nil)
	assert.Equal(t, 20.0, res.StartTime, "expected start time to be max preparation")
}

func TestEvaluate_Empty(t *testing.T) {
	m := fakeMatrix{m: [][]float64{{0}}}
	res := Evaluate(nil, m, nil, nil, nil)
	assert.Equal(t, 0.0, res.TotalRouteTime)
	assert.Equal(t, 0.0, res.TotalPenalty)
}
