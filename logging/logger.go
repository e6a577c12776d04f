package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/sanity-io/litter"
)

// ClaimLogger writes one key=value line per claim protocol event
type ClaimLogger struct {
	replicaID string
	logger    *log.Logger
}

// NewClaimLogger creates a logger for the replica writing to stdout
func NewClaimLogger(replicaID string) *ClaimLogger {
	return NewClaimLoggerTo(replicaID, os.Stdout)
}

// NewClaimLoggerTo creates a logger writing to w
func NewClaimLoggerTo(replicaID string, w io.Writer) *ClaimLogger {
	logger := log.New(w, fmt.Sprintf("[%s] ", replicaID), log.LstdFlags|log.Lmicroseconds)
	return &ClaimLogger{
		replicaID: replicaID,
		logger:    logger,
	}
}

// LogClaimLocal records a cell claimed from this replica's own position
func (l *ClaimLogger) LogClaimLocal(cellID, color string) {
	l.logger.Printf("CLAIM_LOCAL: cell=%s color=%s claimed_at=%d",
		cellID, color, time.Now().UnixMilli())
}

// LogClaimRemote records a cell inserted from another replica's event
func (l *ClaimLogger) LogClaimRemote(origin, cellID, color string, originTimestamp int64) {
	receivedAt := time.Now().UnixMilli()
	l.logger.Printf("CLAIM_REMOTE: origin=%s cell=%s color=%s original_ts=%d received_at=%d lag_ms=%d",
		origin, cellID, color, originTimestamp, receivedAt, receivedAt-originTimestamp)
}

// LogClaimDuplicate records an event for an already claimed cell
func (l *ClaimLogger) LogClaimDuplicate(origin, cellID string) {
	l.logger.Printf("CLAIM_DUPLICATE: origin=%s cell=%s seen_at=%d",
		origin, cellID, time.Now().UnixMilli())
}

// LogPublishFailed records a claim that stayed local because the log refused it
func (l *ClaimLogger) LogPublishFailed(cellID string, err error) {
	l.logger.Printf("PUBLISH_FAILED: cell=%s error=%q failed_at=%d",
		cellID, err.Error(), time.Now().UnixMilli())
}

// LogEventMalformed records a dropped event
func (l *ClaimLogger) LogEventMalformed(reason error) {
	l.logger.Printf("EVENT_MALFORMED: error=%q dropped_at=%d",
		reason.Error(), time.Now().UnixMilli())
}

// LogPositionError records a classified position error
func (l *ClaimLogger) LogPositionError(code string, message string) {
	l.logger.Printf("POSITION_ERROR: code=%s message=%q occurred_at=%d",
		code, message, time.Now().UnixMilli())
}

// LogPeerJoin registers a new peer
func (l *ClaimLogger) LogPeerJoin(peerID string) {
	l.logger.Printf("PEER_JOIN: peer=%s joined_at=%d",
		peerID, time.Now().UnixMilli())
}

// LogPeerLeave registers a peer that left
func (l *ClaimLogger) LogPeerLeave(peerID string) {
	l.logger.Printf("PEER_LEAVE: peer=%s left_at=%d",
		peerID, time.Now().UnixMilli())
}

// LogStateSnapshot records the current claim counts
func (l *ClaimLogger) LogStateSnapshot(claimedCells, localClaims int) {
	l.logger.Printf("STATE_SNAPSHOT: claimed_cells=%d local_claims=%d snapshot_at=%d",
		claimedCells, localClaims, time.Now().UnixMilli())
}

// LogError registers errors
func (l *ClaimLogger) LogError(operation string, err error) {
	l.logger.Printf("ERROR: operation=%s error=%s occurred_at=%d",
		operation, err.Error(), time.Now().UnixMilli())
}

// LogMetrics records performance metrics
func (l *ClaimLogger) LogMetrics(operation string, duration time.Duration, count int) {
	l.logger.Printf("METRICS: operation=%s duration_ms=%.2f count=%d ops_per_sec=%.2f measured_at=%d",
		operation, float64(duration.Microseconds())/1000.0, count,
		float64(count)/duration.Seconds(), time.Now().UnixMilli())
}

// Dump writes a readable dump of v, for snapshots and resolved config
func (l *ClaimLogger) Dump(label string, v interface{}) {
	l.logger.Printf("DUMP: %s\n%s", label, litter.Sdump(v))
}
