package position

import (
	"log"
	"math/rand"
	"sync"
	"time"
)

// SimulatedSource produces a random walk around a starting point and
// occasionally reports a signal error, standing in for a device sensor.
type SimulatedSource struct {
	replicaID string
	feed      *Feed
	interval  time.Duration
	step      float64 // max displacement per tick, in degrees
	errorRate float64 // probability a tick reports an error instead of a fix
	rng       *rand.Rand

	running bool
	stopCh  chan struct{}
	mutex   sync.RWMutex

	lng, lat float64
	fixes    int64
	errors   int64
}

// NewSimulatedSource creates a source walking from (lng, lat).
func NewSimulatedSource(replicaID string, lng, lat float64, interval time.Duration, seed int64) *SimulatedSource {
	return &SimulatedSource{
		replicaID: replicaID,
		feed:      NewFeed(),
		interval:  interval,
		step:      0.0003,
		errorRate: 0.05,
		rng:       rand.New(rand.NewSource(seed)),
		stopCh:    make(chan struct{}),
		lng:       lng,
		lat:       lat,
	}
}

// SetStep sets the max displacement per tick.
func (s *SimulatedSource) SetStep(step float64) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.step = step
}

// SetErrorRate sets the probability of an error tick, clamped to [0,1].
func (s *SimulatedSource) SetErrorRate(rate float64) {
	if rate < 0 {
		rate = 0
	}
	if rate > 1 {
		rate = 1
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.errorRate = rate
}

// Subscribe implements Source.
func (s *SimulatedSource) Subscribe(onFix func(Fix), onError func(ErrorCode)) Unsubscribe {
	return s.feed.Subscribe(onFix, onError)
}

// Start begins the walk
func (s *SimulatedSource) Start() {
	s.mutex.Lock()
	if s.running {
		s.mutex.Unlock()
		return
	}
	s.running = true
	s.mutex.Unlock()

	log.Printf("[POSITION] Starting simulated source for %s (interval: %v)", s.replicaID, s.interval)
	go s.walkLoop()
}

// Stop halts the walk
func (s *SimulatedSource) Stop() {
	s.mutex.Lock()
	if !s.running {
		s.mutex.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mutex.Unlock()

	log.Printf("[POSITION] Stopping simulated source for %s", s.replicaID)
}

func (s *SimulatedSource) walkLoop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Tick()

	for {
		select {
		case <-ticker.C:
			s.Tick()
		case <-s.stopCh:
			log.Printf("[POSITION] Walk loop terminated for %s", s.replicaID)
			return
		}
	}
}

// Tick advances the walk by one step and emits the result.
func (s *SimulatedSource) Tick() {
	s.mutex.Lock()
	if s.rng.Float64() < s.errorRate {
		s.errors++
		code := ErrorCode(1 + s.rng.Intn(3))
		s.mutex.Unlock()

		_ = s.feed.PushError(code)
		return
	}

	s.lng += (s.rng.Float64()*2 - 1) * s.step
	s.lat += (s.rng.Float64()*2 - 1) * s.step
	if s.lat > 90 {
		s.lat = 90
	}
	if s.lat < -90 {
		s.lat = -90
	}
	fix := NewFix(s.lng, s.lat)
	fix.Accuracy = 5 + s.rng.Float64()*20
	s.fixes++
	s.mutex.Unlock()

	_ = s.feed.Push(fix)
}

// Position returns the current walk position.
func (s *SimulatedSource) Position() (float64, float64) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.lng, s.lat
}

// GetStats returns statistics for the source
func (s *SimulatedSource) GetStats() map[string]interface{} {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return map[string]interface{}{
		"replica_id":   s.replicaID,
		"running":      s.running,
		"interval_sec": s.interval.Seconds(),
		"fixes":        s.fixes,
		"errors":       s.errors,
		"lng":          s.lng,
		"lat":          s.lat,
	}
}
