package network

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"
)

// Neighbor representa uma réplica descoberta via HELLO
type Neighbor struct {
	ID       string    `json:"id"`
	IP       net.IP    `json:"ip"`
	Port     int       `json:"port"` // porta HTTP para eventos
	LastSeen time.Time `json:"last_seen"`
}

// URL returns the neighbor's HTTP base URL
func (n *Neighbor) URL() string {
	return fmt.Sprintf("http://%s", net.JoinHostPort(n.IP.String(), strconv.Itoa(n.Port)))
}

// NeighborTable gerencia a tabela de vizinhos descobertos
type NeighborTable struct {
	neighbors map[string]*Neighbor // chave: ip:porta
	mutex     sync.RWMutex
	timeout   time.Duration

	onJoin  func(n Neighbor)
	onLeave func(n Neighbor)

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewNeighborTable cria uma nova tabela de vizinhos
func NewNeighborTable(timeout time.Duration) *NeighborTable {
	nt := &NeighborTable{
		neighbors: make(map[string]*Neighbor),
		timeout:   timeout,
		stopCh:    make(chan struct{}),
	}

	// Inicia goroutine para limpeza de vizinhos expirados
	go nt.cleanupExpired()

	return nt
}

// SetHooks registers callbacks for neighbors joining and expiring. Either may be nil.
func (nt *NeighborTable) SetHooks(onJoin, onLeave func(n Neighbor)) {
	nt.mutex.Lock()
	defer nt.mutex.Unlock()
	nt.onJoin = onJoin
	nt.onLeave = onLeave
}

// AddOrUpdate adiciona ou atualiza um vizinho
func (nt *NeighborTable) AddOrUpdate(id string, ip net.IP, port int) {
	key := net.JoinHostPort(ip.String(), strconv.Itoa(port))

	nt.mutex.Lock()
	_, known := nt.neighbors[key]
	n := &Neighbor{
		ID:       id,
		IP:       ip,
		Port:     port,
		LastSeen: time.Now(),
	}
	nt.neighbors[key] = n
	onJoin := nt.onJoin
	nt.mutex.Unlock()

	if !known && onJoin != nil {
		onJoin(*n)
	}
}

// Remove drops a neighbor immediately
func (nt *NeighborTable) Remove(ip net.IP, port int) {
	key := net.JoinHostPort(ip.String(), strconv.Itoa(port))

	nt.mutex.Lock()
	n, ok := nt.neighbors[key]
	delete(nt.neighbors, key)
	onLeave := nt.onLeave
	nt.mutex.Unlock()

	if ok && onLeave != nil {
		onLeave(*n)
	}
}

// GetActiveNeighbors retorna vizinhos ativos (não expirados)
func (nt *NeighborTable) GetActiveNeighbors() []*Neighbor {
	nt.mutex.RLock()
	defer nt.mutex.RUnlock()

	now := time.Now()
	var active []*Neighbor

	for _, neighbor := range nt.neighbors {
		if now.Sub(neighbor.LastSeen) < nt.timeout {
			n := *neighbor
			active = append(active, &n)
		}
	}

	return active
}

// GetNeighborURLs retorna URLs HTTP dos vizinhos ativos
func (nt *NeighborTable) GetNeighborURLs() []string {
	neighbors := nt.GetActiveNeighbors()
	urls := make([]string, 0, len(neighbors))

	for _, neighbor := range neighbors {
		urls = append(urls, neighbor.URL())
	}

	return urls
}

// Count retorna o número de vizinhos ativos
func (nt *NeighborTable) Count() int {
	return len(nt.GetActiveNeighbors())
}

// Stop ends the cleanup goroutine
func (nt *NeighborTable) Stop() {
	nt.stopOnce.Do(func() { close(nt.stopCh) })
}

// cleanupExpired remove vizinhos expirados periodicamente
func (nt *NeighborTable) cleanupExpired() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			nt.expire(time.Now())
		case <-nt.stopCh:
			return
		}
	}
}

func (nt *NeighborTable) expire(now time.Time) {
	nt.mutex.Lock()
	var gone []Neighbor
	for key, neighbor := range nt.neighbors {
		if now.Sub(neighbor.LastSeen) >= nt.timeout {
			gone = append(gone, *neighbor)
			delete(nt.neighbors, key)
		}
	}
	onLeave := nt.onLeave
	nt.mutex.Unlock()

	if onLeave != nil {
		for _, n := range gone {
			onLeave(n)
		}
	}
}

// GetStats retorna estatísticas da tabela de vizinhos
func (nt *NeighborTable) GetStats() map[string]interface{} {
	active := nt.GetActiveNeighbors()
	ids := make([]string, 0, len(active))
	for _, n := range active {
		ids = append(ids, n.ID)
	}

	return map[string]interface{}{
		"neighbors_active": len(active),
		"neighbor_ids":     ids,
		"timeout_seconds":  nt.timeout.Seconds(),
	}
}
