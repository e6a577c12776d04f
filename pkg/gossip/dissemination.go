package gossip

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/heitortanoue/gridclaim/pkg/crdt"
	"github.com/heitortanoue/gridclaim/pkg/eventlog"
	"github.com/heitortanoue/gridclaim/pkg/protocol"
)

// EventMsg wraps a claim event with a hop budget for dissemination
type EventMsg struct {
	ID        uuid.UUID            `json:"id"`
	TTL       int                  `json:"ttl"`
	Event     protocol.RemoteEvent `json:"event"`
	SenderID  string               `json:"sender_id"`
	Timestamp int64                `json:"timestamp"`
}

// NeighborGetter interface to obtain neighbors
type NeighborGetter interface {
	GetNeighborURLs() []string
	Count() int
}

// Sender delivers messages to peers
type Sender interface {
	SendEvent(ctx context.Context, url string, msg EventMsg) error
	PullEvents(ctx context.Context, url string, clock crdt.VectorClock) ([]protocol.RemoteEvent, error)
}

// Journal persists accepted events so a restarted replica can replay them
type Journal interface {
	Record(ev protocol.RemoteEvent) error
	All() ([]protocol.RemoteEvent, error)
}

// Log is the shared event log over a gossip mesh. Appended events are pushed
// to a random subset of neighbors with a TTL, and a periodic anti-entropy
// pull fills whatever the push missed. Every accepted event is also
// delivered to local subscribers, the appender included.
type Log struct {
	replicaID           string
	// dot identity for this process; a restart under the same replica id
	// gets a fresh one so its counters never collide with the last session
	dotNode             string
	fanout              int
	defaultTTL          int
	antiEntropyInterval time.Duration

	neighbors NeighborGetter
	sender    Sender
	cache     *DeduplicationCache
	journal   Journal
	registry  *eventlog.Registry

	// accepted events in arrival order, and the dots they carry
	store   []protocol.RemoteEvent
	dots    *crdt.DotContext
	storeMu sync.RWMutex

	// Execution control
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mutex   sync.RWMutex

	// Metrics
	sentCount     int64
	receivedCount int64
	droppedCount  int64 // duplicates
	pulledCount   int64
	statsMu       sync.Mutex
}

// NewLog creates a gossip log
func NewLog(replicaID string, fanout, defaultTTL int, antiEntropyInterval time.Duration, neighbors NeighborGetter, sender Sender) *Log {
	return &Log{
		replicaID:           replicaID,
		dotNode:             replicaID + "/" + uuid.NewString()[:8],
		fanout:              fanout,
		defaultTTL:          defaultTTL,
		antiEntropyInterval: antiEntropyInterval,
		neighbors:           neighbors,
		sender:              sender,
		cache:               NewDeduplicationCache(10000),
		registry:            eventlog.NewRegistry(),
		dots:                crdt.NewDotContext(),
		stopCh:              make(chan struct{}),
	}
}

// SetJournal attaches a journal. Call before Restore and Start.
func (g *Log) SetJournal(j Journal) {
	g.journal = j
}

// Restore reloads journaled events into the log without notifying anyone;
// subscribers pick them up through Replay.
func (g *Log) Restore() (int, error) {
	if g.journal == nil {
		return 0, nil
	}
	events, err := g.journal.All()
	if err != nil {
		return 0, fmt.Errorf("restore from journal: %w", err)
	}
	restored := 0
	for _, ev := range events {
		if g.accept(&ev) {
			restored++
		}
	}
	log.Printf("[GOSSIP] Restored %d events from journal", restored)
	return restored, nil
}

// Start begins the anti-entropy loop
func (g *Log) Start() {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if g.running {
		return
	}
	g.running = true

	if g.antiEntropyInterval > 0 {
		g.wg.Add(1)
		go g.antiEntropyLoop()
	}

	log.Printf("[GOSSIP] Log started for %s as %s (fanout: %d, TTL: %d, anti-entropy: %v)",
		g.replicaID, g.dotNode, g.fanout, g.defaultTTL, g.antiEntropyInterval)
}

// Stop halts the anti-entropy loop and waits for it
func (g *Log) Stop() {
	g.mutex.Lock()
	if !g.running {
		g.mutex.Unlock()
		return
	}
	g.running = false
	close(g.stopCh)
	g.mutex.Unlock()

	g.wg.Wait()
	log.Printf("[GOSSIP] Log stopped for %s", g.replicaID)
}

// Append accepts a local event, delivers it to local subscribers and pushes
// it to neighbors. The event stays in the log even when every push fails;
// anti-entropy will hand it over later. That failure is still reported.
func (g *Log) Append(ctx context.Context, ev protocol.RemoteEvent) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", eventlog.ErrAppendFailed, err)
	}

	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.Origin == "" {
		ev.Origin = g.replicaID
	}

	if !g.accept(&ev) {
		return nil
	}
	g.record(ev)
	g.registry.Publish(ev)

	msg := EventMsg{
		ID:        ev.ID,
		TTL:       g.defaultTTL,
		Event:     ev,
		SenderID:  g.replicaID,
		Timestamp: time.Now().UnixMilli(),
	}
	if err := g.forward(ctx, msg); err != nil {
		return fmt.Errorf("%w: %v", eventlog.ErrAppendFailed, err)
	}
	return nil
}

// Subscribe implements eventlog.Log
func (g *Log) Subscribe(h eventlog.Handler) eventlog.Unsubscribe {
	return g.registry.Subscribe(h)
}

// Replay hands every accepted event to h in arrival order
func (g *Log) Replay(h eventlog.Handler) {
	for _, ev := range g.Events() {
		h(ev)
	}
}

// Receive handles an event pushed by a neighbor. New events are applied and
// then forwarded with one less hop; duplicates are dropped.
func (g *Log) Receive(msg EventMsg) {
	g.statsMu.Lock()
	g.receivedCount++
	g.statsMu.Unlock()

	if msg.ID != uuid.Nil && msg.Event.ID == uuid.Nil {
		msg.Event.ID = msg.ID
	}

	if !g.accept(&msg.Event) {
		g.statsMu.Lock()
		g.droppedCount++
		g.statsMu.Unlock()
		return
	}

	log.Printf("[GOSSIP] Event %s for cell %s from %s (TTL: %d)",
		shortID(msg.Event.ID), msg.Event.CellID, msg.SenderID, msg.TTL)

	g.record(msg.Event)
	g.registry.Publish(msg.Event)

	msg.TTL--
	if msg.TTL <= 0 {
		return
	}
	msg.SenderID = g.replicaID

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := g.forward(ctx, msg); err != nil {
			log.Printf("[GOSSIP] Forward of %s failed: %v", shortID(msg.ID), err)
		}
	}()
}

// DotNode returns the node id this process stamps on its own dots
func (g *Log) DotNode() string {
	return g.dotNode
}

// EventsSince returns the accepted events not covered by clock
func (g *Log) EventsSince(clock crdt.VectorClock) []protocol.RemoteEvent {
	return crdt.Missing(crdt.ContextFromClock(clock), g.Events(), protocol.DotOf)
}

// Clock returns the continuous prefix of accepted dots per replica
func (g *Log) Clock() crdt.VectorClock {
	g.storeMu.RLock()
	defer g.storeMu.RUnlock()
	return g.dots.Clock.Clone()
}

// Events returns a copy of every accepted event
func (g *Log) Events() []protocol.RemoteEvent {
	g.storeMu.RLock()
	defer g.storeMu.RUnlock()

	out := make([]protocol.RemoteEvent, len(g.store))
	copy(out, g.store)
	return out
}

// AntiEntropy pulls missing events from one random neighbor
func (g *Log) AntiEntropy(ctx context.Context) (int, error) {
	urls := g.neighbors.GetNeighborURLs()
	if len(urls) == 0 {
		return 0, nil
	}
	url := urls[rand.Intn(len(urls))]

	events, err := g.sender.PullEvents(ctx, url, g.Clock())
	if err != nil {
		return 0, fmt.Errorf("pull from %s: %w", url, err)
	}

	applied := 0
	for _, ev := range events {
		if !g.accept(&ev) {
			continue
		}
		g.record(ev)
		g.registry.Publish(ev)
		applied++
	}

	g.statsMu.Lock()
	g.pulledCount += int64(applied)
	g.statsMu.Unlock()

	if applied > 0 {
		log.Printf("[GOSSIP] Anti-entropy pulled %d events from %s", applied, url)
	}
	return applied, nil
}

func (g *Log) antiEntropyLoop() {
	defer g.wg.Done()

	ticker := time.NewTicker(g.antiEntropyInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), g.antiEntropyInterval)
			if _, err := g.AntiEntropy(ctx); err != nil {
				log.Printf("[GOSSIP] Anti-entropy failed: %v", err)
			}
			cancel()
		case <-g.stopCh:
			return
		}
	}
}

// accept stores ev unless its id or dot was seen before. A local event
// without a dot is given the next one for this process.
func (g *Log) accept(ev *protocol.RemoteEvent) bool {
	if ev.ID != uuid.Nil && g.cache.SeenOrAdd(ev.ID) {
		return false
	}

	g.storeMu.Lock()
	defer g.storeMu.Unlock()

	switch {
	case ev.Dot == nil && ev.Origin == g.replicaID:
		d := g.dots.NextDot(g.dotNode)
		ev.Dot = &d
	case ev.Dot != nil:
		if !g.dots.Add(*ev.Dot) {
			return false
		}
	}
	g.store = append(g.store, *ev)
	return true
}

func (g *Log) record(ev protocol.RemoteEvent) {
	if g.journal == nil {
		return
	}
	if err := g.journal.Record(ev); err != nil {
		log.Printf("[GOSSIP] Failed to journal event %s: %v", shortID(ev.ID), err)
	}
}

// forward sends msg to up to 'fanout' neighbors. It fails only when
// neighbors exist and none of them accepted the message.
func (g *Log) forward(ctx context.Context, msg EventMsg) error {
	neighbors := g.neighbors.GetNeighborURLs()
	if len(neighbors) == 0 {
		return nil
	}

	targetCount := g.fanout
	if len(neighbors) < targetCount {
		targetCount = len(neighbors)
	}
	targets := selectRandomNeighbors(neighbors, targetCount)

	var firstErr error
	successCount := 0
	for _, url := range targets {
		if err := g.sender.SendEvent(ctx, url, msg); err != nil {
			log.Printf("[GOSSIP] Error sending event %s to %s: %v", shortID(msg.ID), url, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		successCount++
	}

	g.statsMu.Lock()
	g.sentCount += int64(successCount)
	g.statsMu.Unlock()

	if successCount == 0 && firstErr != nil {
		return firstErr
	}
	return nil
}

// selectRandomNeighbors selects up to 'count' neighbors randomly
func selectRandomNeighbors(neighbors []string, count int) []string {
	if len(neighbors) <= count {
		return neighbors
	}

	shuffled := make([]string, len(neighbors))
	copy(shuffled, neighbors)

	// Fisher-Yates shuffle
	for i := len(shuffled) - 1; i > 0; i-- {
		j := rand.Intn(i + 1)
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}

	return shuffled[:count]
}

func shortID(id uuid.UUID) string {
	return id.String()[:8]
}

// GetStats returns gossip statistics
func (g *Log) GetStats() map[string]interface{} {
	g.mutex.RLock()
	running := g.running
	g.mutex.RUnlock()

	g.storeMu.RLock()
	stored := len(g.store)
	g.storeMu.RUnlock()

	g.statsMu.Lock()
	defer g.statsMu.Unlock()

	return map[string]interface{}{
		"running":        running,
		"fanout":         g.fanout,
		"default_ttl":    g.defaultTTL,
		"stored_events":  stored,
		"sent_count":     g.sentCount,
		"received_count": g.receivedCount,
		"dropped_count":  g.droppedCount,
		"pulled_count":   g.pulledCount,
		"dedupe_cache":   g.cache.GetStats(),
		"neighbor_count": g.neighbors.Count(),
	}
}

// IsRunning returns whether the anti-entropy loop is active
func (g *Log) IsRunning() bool {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return g.running
}
