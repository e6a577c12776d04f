// Package motion turns position fixes into claim attempts and camera moves.
package motion

import (
	"context"
	"io"
	"log"
	"sync"
	"time"

	"github.com/heitortanoue/gridclaim/logging"
	"github.com/heitortanoue/gridclaim/pkg/position"
	"github.com/heitortanoue/gridclaim/pkg/render"
	"github.com/heitortanoue/gridclaim/pkg/syncengine"
)

// Claimer is the part of the sync engine the tracker feeds.
type Claimer interface {
	TryClaimLocal(ctx context.Context, lng, lat float64, picker syncengine.ColorPicker) syncengine.ClaimResult
}

// Tracker consumes a position source. Each fix is offered as a local claim
// and, independently of the outcome, moves the camera and marker. Errors
// surface a status line until the next good fix.
type Tracker struct {
	replicaID string
	source    position.Source
	claimer   Claimer
	picker    syncengine.ColorPicker
	sink      render.Sink
	logger    *logging.ClaimLogger

	publishTimeout time.Duration

	running bool
	unsub   position.Unsubscribe
	mutex   sync.Mutex

	// guards status and counters
	stateMu   sync.Mutex
	status    string
	lastError position.ErrorCode
	lastFix   *position.Fix
	fixes     int64
	claimed   int64
	errors    int64
	manual    int64
	rejected  int64
}

// NewTracker creates a tracker. A nil sink discards display updates.
func NewTracker(replicaID string, source position.Source, claimer Claimer, picker syncengine.ColorPicker, sink render.Sink, logger *logging.ClaimLogger) *Tracker {
	if sink == nil {
		sink = render.Discard
	}
	if logger == nil {
		logger = logging.NewClaimLoggerTo(replicaID, io.Discard)
	}
	return &Tracker{
		replicaID:      replicaID,
		source:         source,
		claimer:        claimer,
		picker:         picker,
		sink:           sink,
		logger:         logger,
		publishTimeout: 5 * time.Second,
		unsub:          func() {},
	}
}

// SetPublishTimeout bounds how long one claim may wait on the shared log.
func (t *Tracker) SetPublishTimeout(d time.Duration) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.publishTimeout = d
}

// Start subscribes to the position source
func (t *Tracker) Start() {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.running {
		return
	}
	t.running = true
	t.unsub = t.source.Subscribe(t.HandleFix, t.HandleError)

	log.Printf("[MOTION] Tracking started for %s", t.replicaID)
}

// Stop unsubscribes from the position source. Safe to call when never started.
func (t *Tracker) Stop() {
	t.mutex.Lock()
	unsub := t.unsub
	wasRunning := t.running
	t.unsub = func() {}
	t.running = false
	t.mutex.Unlock()

	unsub()
	if wasRunning {
		log.Printf("[MOTION] Tracking stopped for %s", t.replicaID)
	}
}

// HandleFix processes one position fix. The camera and marker move before
// the claim is attempted, so a slow publish never holds them back. Fixes with
// unusable coordinates are dropped.
func (t *Tracker) HandleFix(fix position.Fix) {
	if err := fix.Validate(); err != nil {
		t.stateMu.Lock()
		t.rejected++
		t.stateMu.Unlock()
		log.Printf("[MOTION] Ignoring fix: %v", err)
		return
	}

	t.sink.Recenter(fix.Lng, fix.Lat)
	t.sink.PlaceMarker(fix.Lng, fix.Lat)

	t.stateMu.Lock()
	t.fixes++
	if fix.Manual {
		t.manual++
	}
	f := fix
	t.lastFix = &f
	hadError := t.status != ""
	t.status = ""
	t.stateMu.Unlock()

	if hadError {
		t.sink.SetStatus("")
	}

	t.mutex.Lock()
	timeout := t.publishTimeout
	t.mutex.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	res := t.claimer.TryClaimLocal(ctx, fix.Lng, fix.Lat, t.picker)
	cancel()

	if res.Inserted {
		t.stateMu.Lock()
		t.claimed++
		t.stateMu.Unlock()
	}
}

// HandleError surfaces a classified position error. The subscription stays
// open; the next fix clears the status.
func (t *Tracker) HandleError(code position.ErrorCode) {
	msg := code.Message()

	t.stateMu.Lock()
	t.errors++
	t.lastError = code
	changed := t.status != msg
	t.status = msg
	t.stateMu.Unlock()

	if !changed {
		return
	}
	t.logger.LogPositionError(code.String(), msg)
	t.sink.SetStatus(msg)
}

// ManualOverride claims a user-selected point through the same path as a
// sensor fix.
func (t *Tracker) ManualOverride(lng, lat float64) {
	fix := position.NewFix(lng, lat)
	fix.Manual = true
	t.HandleFix(fix)
}

// Status returns the current status line, empty when healthy.
func (t *Tracker) Status() string {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	return t.status
}

// LastFix returns the most recent fix, if any.
func (t *Tracker) LastFix() (position.Fix, bool) {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	if t.lastFix == nil {
		return position.Fix{}, false
	}
	return *t.lastFix, true
}

// GetStats returns tracker statistics
func (t *Tracker) GetStats() map[string]interface{} {
	t.mutex.Lock()
	running := t.running
	t.mutex.Unlock()

	t.stateMu.Lock()
	defer t.stateMu.Unlock()

	stats := map[string]interface{}{
		"replica_id": t.replicaID,
		"running":    running,
		"fixes":      t.fixes,
		"manual":     t.manual,
		"claimed":    t.claimed,
		"errors":     t.errors,
		"rejected":   t.rejected,
		"status":     t.status,
	}
	if t.errors > 0 {
		stats["last_error"] = t.lastError.String()
	}
	if t.lastFix != nil {
		stats["last_fix"] = map[string]float64{"lng": t.lastFix.Lng, "lat": t.lastFix.Lat}
	}
	return stats
}
