package network

import (
	"fmt"
	"net"
	"sync"
	"testing"
	"time"
)

func TestNeighborTable_NewNeighborTable(t *testing.T) {
	timeout := 5 * time.Second
	nt := NewNeighborTable(timeout)
	defer nt.Stop()

	if nt == nil {
		t.Fatal("NewNeighborTable não deveria retornar nil")
	}

	if nt.timeout != timeout {
		t.Errorf("Timeout esperado %v, obtido %v", timeout, nt.timeout)
	}

	if nt.neighbors == nil {
		t.Error("Mapa de vizinhos não deveria ser nil")
	}

	if count := nt.Count(); count != 0 {
		t.Errorf("Tabela deveria estar vazia inicialmente, obtido %d vizinhos", count)
	}
}

func TestNeighborTable_AddOrUpdate_SingleNeighbor(t *testing.T) {
	nt := NewNeighborTable(10 * time.Second)
	defer nt.Stop()
	ip := net.ParseIP("192.168.1.100")

	nt.AddOrUpdate("replica-b", ip, 8080)

	neighbors := nt.GetActiveNeighbors()
	if len(neighbors) != 1 {
		t.Fatalf("Esperado 1 vizinho, obtido %d", len(neighbors))
	}

	neighbor := neighbors[0]
	if neighbor.ID != "replica-b" {
		t.Errorf("ID esperado replica-b, obtido %s", neighbor.ID)
	}
	if !neighbor.IP.Equal(ip) {
		t.Errorf("IP esperado %v, obtido %v", ip, neighbor.IP)
	}
	if neighbor.Port != 8080 {
		t.Errorf("Porta esperada 8080, obtida %d", neighbor.Port)
	}
	if time.Since(neighbor.LastSeen) > time.Second {
		t.Error("LastSeen deveria ser recente")
	}
}

func TestNeighborTable_AddOrUpdate_RefreshesSameEndpoint(t *testing.T) {
	nt := NewNeighborTable(10 * time.Second)
	defer nt.Stop()
	ip := net.ParseIP("10.0.0.1")

	nt.AddOrUpdate("replica-b", ip, 8080)
	first := nt.GetActiveNeighbors()[0].LastSeen
	time.Sleep(10 * time.Millisecond)

	// Réplica reiniciada com outro ID no mesmo endpoint
	nt.AddOrUpdate("replica-b2", ip, 8080)

	neighbors := nt.GetActiveNeighbors()
	if len(neighbors) != 1 {
		t.Fatalf("Esperado 1 vizinho após atualização, obtido %d", len(neighbors))
	}
	if neighbors[0].ID != "replica-b2" {
		t.Errorf("ID deveria ter sido atualizado, obtido %s", neighbors[0].ID)
	}
	if !neighbors[0].LastSeen.After(first) {
		t.Error("LastSeen deveria avançar após atualização")
	}
}

func TestNeighborTable_SameIPDifferentPorts(t *testing.T) {
	nt := NewNeighborTable(10 * time.Second)
	defer nt.Stop()
	ip := net.ParseIP("127.0.0.1")

	// Várias réplicas no mesmo host
	nt.AddOrUpdate("replica-a", ip, 8080)
	nt.AddOrUpdate("replica-b", ip, 8081)
	nt.AddOrUpdate("replica-c", ip, 8082)

	if count := nt.Count(); count != 3 {
		t.Errorf("Esperado 3 vizinhos no mesmo IP, obtido %d", count)
	}
}

func TestNeighborTable_GetNeighborURLs(t *testing.T) {
	nt := NewNeighborTable(10 * time.Second)
	defer nt.Stop()

	testCases := []struct {
		ip       string
		port     int
		expected string
	}{
		{"127.0.0.1", 8080, "http://127.0.0.1:8080"},
		{"192.168.1.100", 9090, "http://192.168.1.100:9090"},
		{"2001:db8::1", 3000, "http://[2001:db8::1]:3000"},
	}

	for i, tc := range testCases {
		nt.AddOrUpdate(fmt.Sprintf("replica-%d", i), net.ParseIP(tc.ip), tc.port)
	}

	urls := nt.GetNeighborURLs()
	if len(urls) != len(testCases) {
		t.Fatalf("Esperado %d URLs, obtido %d", len(testCases), len(urls))
	}

	urlMap := make(map[string]bool)
	for _, url := range urls {
		urlMap[url] = true
	}

	for _, tc := range testCases {
		if !urlMap[tc.expected] {
			t.Errorf("URL esperada %s não encontrada em %v", tc.expected, urls)
		}
	}
}

func TestNeighborTable_JoinAndLeaveHooks(t *testing.T) {
	nt := NewNeighborTable(50 * time.Millisecond)
	defer nt.Stop()

	var mu sync.Mutex
	var joined, left []string
	nt.SetHooks(
		func(n Neighbor) { mu.Lock(); joined = append(joined, n.ID); mu.Unlock() },
		func(n Neighbor) { mu.Lock(); left = append(left, n.ID); mu.Unlock() },
	)

	ip := net.ParseIP("10.0.0.2")
	nt.AddOrUpdate("replica-b", ip, 8080)
	nt.AddOrUpdate("replica-b", ip, 8080)

	mu.Lock()
	if len(joined) != 1 {
		t.Errorf("Join deveria disparar uma única vez, disparou %d", len(joined))
	}
	mu.Unlock()

	// Expiração manual sem esperar o ticker
	nt.expire(time.Now().Add(time.Second))

	mu.Lock()
	defer mu.Unlock()
	if len(left) != 1 || left[0] != "replica-b" {
		t.Errorf("Leave deveria disparar para replica-b, obtido %v", left)
	}
	if nt.Count() != 0 {
		t.Error("Vizinho expirado deveria ter sido removido")
	}
}

func TestNeighborTable_Remove(t *testing.T) {
	nt := NewNeighborTable(10 * time.Second)
	defer nt.Stop()

	var left []string
	nt.SetHooks(nil, func(n Neighbor) { left = append(left, n.ID) })

	ip := net.ParseIP("10.0.0.3")
	nt.AddOrUpdate("replica-c", ip, 8080)
	nt.Remove(ip, 8080)
	nt.Remove(ip, 8080)

	if nt.Count() != 0 {
		t.Error("Vizinho removido ainda aparece como ativo")
	}
	if len(left) != 1 {
		t.Errorf("Leave deveria disparar uma vez, disparou %d", len(left))
	}
}

func TestNeighborTable_ExpiredNeighbors(t *testing.T) {
	shortTimeout := 200 * time.Millisecond
	nt := NewNeighborTable(shortTimeout)
	defer nt.Stop()

	nt.AddOrUpdate("replica-old", net.ParseIP("192.168.1.1"), 8080)

	time.Sleep(shortTimeout + 50*time.Millisecond)

	nt.AddOrUpdate("replica-new", net.ParseIP("192.168.1.2"), 8081)

	// Expirados deixam de aparecer mesmo antes do cleanup
	active := nt.GetActiveNeighbors()
	if len(active) != 1 {
		t.Fatalf("Esperado 1 vizinho ativo após expiração, obtido %d", len(active))
	}
	if active[0].ID != "replica-new" {
		t.Errorf("Vizinho ativo deveria ser replica-new, obtido %s", active[0].ID)
	}
}

func TestNeighborTable_GetStats(t *testing.T) {
	timeout := 5 * time.Second
	nt := NewNeighborTable(timeout)
	defer nt.Stop()

	stats := nt.GetStats()
	if stats["neighbors_active"] != 0 {
		t.Errorf("Esperado 0 vizinhos ativos inicialmente, obtido %v", stats["neighbors_active"])
	}
	if stats["timeout_seconds"] != timeout.Seconds() {
		t.Errorf("Timeout esperado %v, obtido %v", timeout.Seconds(), stats["timeout_seconds"])
	}

	nt.AddOrUpdate("replica-1", net.ParseIP("1.1.1.1"), 80)
	nt.AddOrUpdate("replica-2", net.ParseIP("2.2.2.2"), 443)

	stats = nt.GetStats()
	if stats["neighbors_active"] != 2 {
		t.Errorf("Esperado 2 vizinhos ativos, obtido %v", stats["neighbors_active"])
	}
	if ids, ok := stats["neighbor_ids"].([]string); !ok || len(ids) != 2 {
		t.Errorf("neighbor_ids incorreto: %v", stats["neighbor_ids"])
	}
}

func TestNeighborTable_ConcurrentAccess(t *testing.T) {
	nt := NewNeighborTable(10 * time.Second)
	defer nt.Stop()

	const numGoroutines = 10
	const numOperations = 50

	var wg sync.WaitGroup

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			for j := 0; j < numOperations; j++ {
				ip := net.ParseIP(fmt.Sprintf("192.168.%d.%d", id, j%255))
				nt.AddOrUpdate(fmt.Sprintf("replica-%d-%d", id, j), ip, 8000+j)

				if j%10 == 0 {
					nt.GetActiveNeighbors()
					nt.GetNeighborURLs()
					nt.Count()
					nt.GetStats()
				}
			}
		}(i)
	}

	wg.Wait()

	if count := nt.Count(); count != numGoroutines*numOperations {
		t.Errorf("Esperado %d vizinhos, obtido %d", numGoroutines*numOperations, count)
	}
}

func TestNeighborTable_StopIsIdempotent(t *testing.T) {
	nt := NewNeighborTable(time.Second)
	nt.Stop()
	nt.Stop()
}
