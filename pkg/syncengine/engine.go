// Package syncengine bridges the local ClaimSet and the shared event log.
// Local claims are inserted, drawn and then published; remote events are
// validated, re-indexed and inserted. Every cell is applied exactly once no
// matter how many times or from where it is observed.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/heitortanoue/gridclaim/logging"
	"github.com/heitortanoue/gridclaim/pkg/eventlog"
	"github.com/heitortanoue/gridclaim/pkg/grid"
	"github.com/heitortanoue/gridclaim/pkg/protocol"
	"github.com/heitortanoue/gridclaim/pkg/render"
	"github.com/heitortanoue/gridclaim/pkg/state"
)

// ErrPublishFailed wraps a log append error for a claim that stays local.
var ErrPublishFailed = errors.New("publish to shared log failed")

// ClaimResult reports what happened to one candidate claim.
type ClaimResult struct {
	CellID   grid.CellID
	Inserted bool
	// Claim is the winning claim for the cell, zero when the input was malformed.
	Claim state.Claim
	// Err is ErrPublishFailed for a kept-but-unpublished local claim, or
	// ErrMalformedEvent for a dropped remote event.
	Err error
}

// Engine applies local and remote claims to a ClaimSet.
type Engine struct {
	replicaID string
	indexer   *grid.Indexer
	claims    *state.ClaimSet
	log       eventlog.Log
	sink      render.Sink
	logger    *logging.ClaimLogger

	// serializes redraws so the last one always reflects every prior insert
	renderMu sync.Mutex

	mutex   sync.Mutex
	running bool
	unsub   eventlog.Unsubscribe

	localInserted    atomic.Int64
	localDuplicates  atomic.Int64
	remoteInserted   atomic.Int64
	remoteDuplicates atomic.Int64
	ownEchoes        atomic.Int64
	published        atomic.Int64
	publishFailed    atomic.Int64
	malformed        atomic.Int64
}

// NewEngine creates an engine. A nil sink discards display updates and a nil
// logger discards protocol log lines.
func NewEngine(replicaID string, indexer *grid.Indexer, claims *state.ClaimSet, l eventlog.Log, sink render.Sink, logger *logging.ClaimLogger) *Engine {
	if sink == nil {
		sink = render.Discard
	}
	if logger == nil {
		logger = logging.NewClaimLoggerTo(replicaID, io.Discard)
	}
	return &Engine{
		replicaID: replicaID,
		indexer:   indexer,
		claims:    claims,
		log:       l,
		sink:      sink,
		logger:    logger,
		unsub:     eventlog.NoopUnsubscribe,
	}
}

// Start subscribes to the shared log and then replays its existing contents
// when the log supports it.
func (e *Engine) Start() {
	e.mutex.Lock()
	if e.running {
		e.mutex.Unlock()
		return
	}
	e.running = true
	e.unsub = e.log.Subscribe(func(ev protocol.RemoteEvent) {
		e.OnRemoteEvent(ev)
	})
	e.mutex.Unlock()

	log.Printf("[SYNC] Engine started for %s", e.replicaID)

	if r, ok := e.log.(eventlog.Replayer); ok {
		start := time.Now()
		before := e.claims.Size()
		r.Replay(func(ev protocol.RemoteEvent) { e.OnRemoteEvent(ev) })
		e.logger.LogMetrics("initial_sync", time.Since(start), e.claims.Size()-before)
	}
}

// Stop tears down the log subscription. Safe to call when never started.
func (e *Engine) Stop() {
	e.mutex.Lock()
	unsub := e.unsub
	wasRunning := e.running
	e.unsub = eventlog.NoopUnsubscribe
	e.running = false
	e.mutex.Unlock()

	unsub()
	if wasRunning {
		log.Printf("[SYNC] Engine stopped for %s", e.replicaID)
	}
}

// TryClaimLocal claims the cell containing (lng, lat) for this replica. Only
// an Inserted outcome is drawn and published; a publish failure keeps the
// claim and is reported through ClaimResult.Err.
func (e *Engine) TryClaimLocal(ctx context.Context, lng, lat float64, picker ColorPicker) ClaimResult {
	id := e.indexer.CellIDFor(lng, lat)

	if existing, ok := e.claims.Get(id); ok {
		e.localDuplicates.Add(1)
		return ClaimResult{CellID: id, Claim: existing}
	}

	res := e.claims.TryInsert(state.Claim{
		CellID:          id,
		Color:           picker.Pick(),
		Origin:          e.replicaID,
		OriginTimestamp: time.Now().UnixMilli(),
		Geometry:        e.indexer.PolygonFor(id),
	})
	if res.Outcome != state.Inserted {
		// lost the race to a concurrent insert for the same cell
		e.localDuplicates.Add(1)
		existing, _ := e.claims.Get(id)
		return ClaimResult{CellID: id, Claim: existing}
	}

	e.localInserted.Add(1)
	e.logger.LogClaimLocal(id.String(), res.Claim.Color)
	e.redraw()

	result := ClaimResult{CellID: id, Inserted: true, Claim: res.Claim}

	ev := protocol.NewRemoteEvent(e.replicaID, id, lng, lat, res.Claim.Color)
	ev.Timestamp = res.Claim.OriginTimestamp
	if err := e.log.Append(ctx, ev); err != nil {
		e.publishFailed.Add(1)
		result.Err = fmt.Errorf("%w: cell %s: %v", ErrPublishFailed, id, err)
		e.logger.LogPublishFailed(id.String(), err)
		return result
	}
	e.published.Add(1)
	return result
}

// OnRemoteEvent applies an event from the shared log. The claim geometry is
// always rebuilt from the cell id; the event coordinates are ignored.
func (e *Engine) OnRemoteEvent(ev protocol.RemoteEvent) ClaimResult {
	if err := ev.Validate(); err != nil {
		e.malformed.Add(1)
		e.logger.LogEventMalformed(err)
		return ClaimResult{Err: err}
	}
	id, _ := ev.Cell()

	res := e.claims.TryInsert(state.Claim{
		CellID:          id,
		Color:           ev.Color,
		Origin:          ev.Origin,
		OriginTimestamp: ev.Timestamp,
		Geometry:        e.indexer.PolygonFor(id),
	})
	if res.Outcome != state.Inserted {
		if ev.Origin == e.replicaID {
			e.ownEchoes.Add(1)
		} else {
			e.remoteDuplicates.Add(1)
			e.logger.LogClaimDuplicate(ev.Origin, ev.CellID)
		}
		existing, _ := e.claims.Get(id)
		return ClaimResult{CellID: id, Claim: existing}
	}

	e.remoteInserted.Add(1)
	e.logger.LogClaimRemote(ev.Origin, ev.CellID, ev.Color, ev.Timestamp)
	e.redraw()
	return ClaimResult{CellID: id, Inserted: true, Claim: res.Claim}
}

// HandleRawEvent decodes and applies a JSON event body.
func (e *Engine) HandleRawEvent(data []byte) ClaimResult {
	ev, err := protocol.DecodeRemoteEvent(data)
	if err != nil {
		e.malformed.Add(1)
		e.logger.LogEventMalformed(err)
		return ClaimResult{Err: err}
	}
	return e.OnRemoteEvent(ev)
}

// Resync redraws the full layer, for recovery or a freshly attached display.
func (e *Engine) Resync() {
	e.redraw()
}

func (e *Engine) redraw() {
	e.renderMu.Lock()
	defer e.renderMu.Unlock()

	snapshot := e.claims.Snapshot()
	e.sink.SetFeatures(render.FromClaims(snapshot))
	e.sink.SetCount(len(snapshot))
}

// Count returns the number of distinct claimed cells.
func (e *Engine) Count() int {
	return e.claims.Size()
}

// Claims returns the underlying claim set.
func (e *Engine) Claims() *state.ClaimSet {
	return e.claims
}

// Indexer returns the grid indexer used for every claim.
func (e *Engine) Indexer() *grid.Indexer {
	return e.indexer
}

// IsRunning reports whether the log subscription is active.
func (e *Engine) IsRunning() bool {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.running
}

// GetStats returns engine statistics
func (e *Engine) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"replica_id":        e.replicaID,
		"running":           e.IsRunning(),
		"claimed_cells":     e.claims.Size(),
		"local_inserted":    e.localInserted.Load(),
		"local_duplicates":  e.localDuplicates.Load(),
		"remote_inserted":   e.remoteInserted.Load(),
		"remote_duplicates": e.remoteDuplicates.Load(),
		"own_echoes":        e.ownEchoes.Load(),
		"published":         e.published.Load(),
		"publish_failed":    e.publishFailed.Load(),
		"malformed_dropped": e.malformed.Load(),
	}
}
