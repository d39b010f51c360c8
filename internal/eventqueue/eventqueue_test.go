package eventqueue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dispatcher/internal/model"
)

func TestPushPop_OrdersByTimestamp(t *testing.T) {
	q := New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	q.Push(model.Event{ID: 1, Timestamp: base.Add(10 * time.Minute)})
	q.Push(model.Event{ID: 2, Timestamp: base})
	q.Push(model.Event{ID: 3, Timestamp: base.Add(5 * time.Minute)})

	e, ok := q.PopIfDue(base.Add(time.Hour))
	require.True(t, ok)
	assert.EqualValues(t, 2, e.ID)

	e, ok = q.PopIfDue(base.Add(time.Hour))
	require.True(t, ok)
	assert.EqualValues(t, 3, e.ID)
}

func TestPopIfDue_RespectsNow(t *testing.T) {
	q := New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	q.Push(model.Event{ID: 1, Timestamp: base.Add(10 * time.Minute)})

	_, ok := q.PopIfDue(base)
	assert.False(t, ok, "expected no due event before timestamp")

	_, ok = q.PopIfDue(base.Add(10 * time.Minute))
	assert.True(t, ok, "expected event due exactly at its timestamp")
}

func TestFIFOTieBreak_EqualTimestamps(t *testing.T) {
	q := New()
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	q.Push(model.Event{ID: 5, Timestamp: ts})
	q.Push(model.Event{ID: 2, Timestamp: ts})
	q.Push(model.Event{ID: 8, Timestamp: ts})

	var order []int64
	for {
		e, ok := q.PopIfDue(ts)
		if !ok {
			break
		}
		order = append(order, e.ID)
	}

	assert.Equal(t, []int64{2, 5, 8}, order)
}

func TestPeek_DoesNotRemove(t *testing.T) {
	q := New()
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	q.Push(model.Event{ID: 1, Timestamp: ts})

	_, ok := q.Peek()
	require.True(t, ok, "expected peek to find event")
	assert.Equal(t, 1, q.Len(), "expected queue unaffected by peek")
}
