package simulation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dispatcher/internal/dispatch"
	"dispatcher/internal/model"
	"dispatcher/pkg/apperror"
)

func newTestDriver(t *testing.T) (*Driver, time.Time) {
	t.Helper()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	core := dispatch.New(nil)
	_, err := core.RegisterDriver("v1", 10)
	require.NoError(t, err)

	err = core.Start(model.SimulationConfig{
		RoutingAlgo:    model.RoutingGreedy,
		ClusteringAlgo: model.ClusteringGreedy,
		DepotOrigin:    model.Point{Lng: 0, Lat: 0},
		StartTime:      t0,
		AvgSpeedKmh:    50,
	})
	require.NoError(t, err)

	return New(core, nil), t0
}

func TestAdvance_RejectsNonPositiveMinutes(t *testing.T) {
	d, _ := newTestDriver(t)
	_, err := d.Advance(context.Background(), 0)
	require.Error(t, err)
	assert.Equal(t, apperror.CodeInvalidAdvanceMinutes, apperror.Code(err))
}

func TestAdvance_RejectsBeforeStart(t *testing.T) {
	d := New(dispatch.New(nil), nil)
	_, err := d.Advance(context.Background(), 5)
	require.ErrorIs(t, err, apperror.ErrSystemNotStarted)
}

func TestAdvance_DrainsEventsAndRoutes(t *testing.T) {
	d, t0 := newTestDriver(t)

	_, err := d.core.AddDelivery("d1", model.Point{Lng: 0, Lat: 0.01}, 1, 5, 30)
	require.NoError(t, err)

	res, err := d.Advance(context.Background(), 5)
	require.NoError(t, err)
	assert.True(t, res.NewTime.Equal(t0.Add(5*time.Minute)))
	assert.GreaterOrEqual(t, res.EventsProcessed, 1)
	assert.Contains(t, res.Plans, "v1")
}

func TestAddDelivery_TriggersRoutingPass(t *testing.T) {
	d, _ := newTestDriver(t)

	del, plans, err := d.AddDelivery(context.Background(), "d1", model.Point{Lng: 0, Lat: 0.01}, 1, 0, 30)
	require.NoError(t, err)
	assert.Equal(t, "d1", del.ID)
	assert.NotEmpty(t, plans)
}
