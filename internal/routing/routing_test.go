package routing

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dispatcher/internal/model"
)

func mkDelivery(id string, lng, lat float64, size int, prep, window float64, created time.Time) *model.Delivery {
	return model.NewDelivery(id, model.Point{Lng: lng, Lat: lat}, size, prep, window, created)
}

func TestCheapestInsertion_SingleStop(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	group := []*model.Delivery{mkDelivery("d1", 0, 0.01, 1, 0, 60, now)}
	depot := model.Point{Lng: 0, Lat: 0}

	plan := CheapestInsertion{}.Route(group, depot, "v1", now, 50)

	require.Len(t, plan.Sequence, 1)
	assert.Equal(t, 0.0, plan.TotalPenalty, "expected zero penalty for generous window")
}

func TestCheapestInsertion_MultiStopFeasible(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	group := []*model.Delivery{
		mkDelivery("d1", 0, 0.02, 1, 0, 120, now),
		mkDelivery("d2", 0.01, 0.01, 1, 0, 120, now),
		mkDelivery("d3", 0.02, 0, 1, 0, 120, now),
	}
	depot := model.Point{Lng: 0, Lat: 0}

	plan := CheapestInsertion{}.Route(group, depot, "v1", now, 50)

	require.Len(t, plan.Sequence, 3)
	seen := make(map[int]bool)
	for _, idx := range plan.Sequence {
		seen[idx] = true
	}
	for i := 1; i <= 3; i++ {
		assert.True(t, seen[i], "expected index %d present in sequence", i)
	}
}

func TestBRKGA_Deterministic(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	group := []*model.Delivery{
		mkDelivery("d1", 0, 0.02, 1, 0, 200, now),
		mkDelivery("d2", 0.01, 0.01, 1, 0, 200, now),
		mkDelivery("d3", 0.02, 0, 1, 0, 200, now),
	}
	depot := model.Point{Lng: 0, Lat: 0}

	solver := BRKGA{Rand: rand.New(rand.NewSource(42))}
	plan := solver.Route(group, depot, "v1", now, 50)

	require.Len(t, plan.Sequence, 3)
	assert.Equal(t, 0.0, plan.TotalPenalty, "expected zero penalty with generous windows")
}

func TestBRKGA_SingleDelivery(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	group := []*model.Delivery{mkDelivery("d1", 0, 0.01, 1, 0, 60, now)}
	depot := model.Point{Lng: 0, Lat: 0}

	solver := BRKGA{Rand: rand.New(rand.NewSource(1))}
	plan := solver.Route(group, depot, "v1", now, 50)

	require.Equal(t, []int{1}, plan.Sequence)
}
