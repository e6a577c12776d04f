package motion

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heitortanoue/gridclaim/pkg/eventlog"
	"github.com/heitortanoue/gridclaim/pkg/grid"
	"github.com/heitortanoue/gridclaim/pkg/position"
	"github.com/heitortanoue/gridclaim/pkg/render"
	"github.com/heitortanoue/gridclaim/pkg/state"
	"github.com/heitortanoue/gridclaim/pkg/syncengine"
)

// MockClaimer records claim attempts
type MockClaimer struct {
	calls    []grid.Point
	inserted bool
}

func (m *MockClaimer) TryClaimLocal(ctx context.Context, lng, lat float64, picker syncengine.ColorPicker) syncengine.ClaimResult {
	m.calls = append(m.calls, grid.Point{lng, lat})
	return syncengine.ClaimResult{Inserted: m.inserted}
}

// BlockingClaimer waits for the publish deadline, like a log with
// unreachable peers, and notes how many recenters happened before it ran
type BlockingClaimer struct {
	sink            *render.Recorder
	recentersBefore int
}

func (b *BlockingClaimer) TryClaimLocal(ctx context.Context, lng, lat float64, picker syncengine.ColorPicker) syncengine.ClaimResult {
	b.recentersBefore = len(b.sink.Recenters())
	<-ctx.Done()
	return syncengine.ClaimResult{Inserted: true, Err: ctx.Err()}
}

type harness struct {
	feed    *position.Feed
	engine  *syncengine.Engine
	log     *eventlog.MemoryLog
	sink    *render.Recorder
	tracker *Tracker
}

func newHarness(t *testing.T) harness {
	t.Helper()
	feed := position.NewFeed()
	l := eventlog.NewMemoryLog()
	sink := render.NewRecorder()
	engine := syncengine.NewEngine("r1", grid.NewIndexer(grid.DefaultSize), state.NewClaimSet("r1"), l, sink, nil)
	engine.Start()
	tracker := NewTracker("r1", feed, engine, syncengine.FixedColor("#00f2ff"), sink, nil)
	tracker.Start()
	t.Cleanup(func() {
		tracker.Stop()
		engine.Stop()
	})
	return harness{feed: feed, engine: engine, log: l, sink: sink, tracker: tracker}
}

func TestPermissionDeniedThenRecover(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.feed.PushError(position.PermissionDenied))
	require.NoError(t, h.feed.PushError(position.PermissionDenied))
	assert.Equal(t, "Location permission denied", h.tracker.Status())
	assert.Equal(t, 0, h.engine.Count())

	require.NoError(t, h.feed.Push(position.NewFix(85.30721, 27.70421)))

	assert.Equal(t, []string{"Location permission denied", ""}, h.sink.Statuses(),
		"status emitted once, then cleared")
	assert.Empty(t, h.tracker.Status())
	assert.Equal(t, 1, h.engine.Count())
	assert.Equal(t, 1, h.log.Len())
}

func TestFixRecentersRegardlessOfOutcome(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.feed.Push(position.NewFix(85.30721, 27.70421)))
	require.NoError(t, h.feed.Push(position.NewFix(85.30730, 27.70429)))

	assert.Equal(t, 1, h.engine.Count())
	assert.Len(t, h.sink.Recenters(), 2)
	assert.Equal(t, []grid.Point{{85.30721, 27.70421}, {85.30730, 27.70429}}, h.sink.Markers())
	assert.EqualValues(t, 1, h.tracker.GetStats()["claimed"])
}

func TestManualOverrideUsesClaimPath(t *testing.T) {
	h := newHarness(t)

	h.tracker.ManualOverride(-0.00005, -0.00005)

	claim, ok := h.engine.Claims().Get(grid.CellID{X: -1, Y: -1})
	require.True(t, ok)
	assert.Equal(t, "#00f2ff", claim.Color)

	fix, ok := h.tracker.LastFix()
	require.True(t, ok)
	assert.True(t, fix.Manual)
	assert.EqualValues(t, 1, h.tracker.GetStats()["manual"])
}

func TestDistinctErrorsEachSurface(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.feed.PushError(position.Timeout))
	require.NoError(t, h.feed.PushError(position.SignalUnavailable))

	assert.Equal(t, []string{"Location request timed out", "Location signal unavailable"}, h.sink.Statuses())
	assert.Equal(t, "signal_unavailable", h.tracker.GetStats()["last_error"])
}

func TestStopEndsSubscription(t *testing.T) {
	claimer := &MockClaimer{inserted: true}
	feed := position.NewFeed()
	tracker := NewTracker("r1", feed, claimer, syncengine.FixedColor("#fff"), nil, nil)

	tracker.Stop() // never started

	tracker.Start()
	require.NoError(t, feed.Push(position.NewFix(1, 1)))
	tracker.Stop()
	tracker.Stop()
	require.NoError(t, feed.Push(position.NewFix(2, 2)))

	assert.Equal(t, []grid.Point{{1, 1}}, claimer.calls)
	assert.EqualValues(t, 1, tracker.GetStats()["claimed"])
	assert.Equal(t, false, tracker.GetStats()["running"])
}

func TestRecenterDoesNotWaitForPublish(t *testing.T) {
	sink := render.NewRecorder()
	claimer := &BlockingClaimer{sink: sink}
	tracker := NewTracker("r1", position.NewFeed(), claimer, syncengine.FixedColor("#fff"), sink, nil)
	tracker.SetPublishTimeout(50 * time.Millisecond)

	tracker.HandleFix(position.NewFix(85.30721, 27.70421))

	assert.Equal(t, 1, claimer.recentersBefore, "camera moves before the claim is published")
	assert.Equal(t, []grid.Point{{85.30721, 27.70421}}, sink.Markers())
}

func TestInvalidFixIgnored(t *testing.T) {
	h := newHarness(t)

	h.tracker.HandleFix(position.NewFix(1e300, 27.7))
	h.tracker.HandleFix(position.NewFix(85.3, math.NaN()))
	h.tracker.ManualOverride(200, 0)

	assert.Equal(t, 0, h.engine.Count())
	assert.Equal(t, 0, h.log.Len())
	assert.Empty(t, h.sink.Recenters())
	assert.EqualValues(t, 3, h.tracker.GetStats()["rejected"])
	assert.EqualValues(t, 0, h.tracker.GetStats()["fixes"])

	_, ok := h.tracker.LastFix()
	assert.False(t, ok)
}
