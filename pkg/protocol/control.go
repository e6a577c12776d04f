package protocol

import (
	"encoding/json"
	"log"
	"math/rand"
	"net"
	"sync"
	"time"
)

// ControlSystem gerencia o envio e o processamento de mensagens HELLO
type ControlSystem struct {
	replicaID string
	httpPort  int
	udpSender UDPSender
	neighbors NeighborRegistry

	// Intervalo aleatório entre minInterval e maxInterval
	minInterval time.Duration
	maxInterval time.Duration

	// Controle de execução
	running bool
	stopCh  chan struct{}
	mutex   sync.RWMutex

	helloSent     int64
	helloReceived int64
}

// UDPSender interface para envio de mensagens UDP
type UDPSender interface {
	Broadcast(data []byte)
}

// NeighborRegistry recebe as réplicas anunciadas via HELLO
type NeighborRegistry interface {
	AddOrUpdate(id string, ip net.IP, port int)
}

// NewControlSystem cria um novo sistema de controle
func NewControlSystem(replicaID string, httpPort int, udpSender UDPSender, neighbors NeighborRegistry) *ControlSystem {
	return &ControlSystem{
		replicaID:   replicaID,
		httpPort:    httpPort,
		udpSender:   udpSender,
		neighbors:   neighbors,
		minInterval: 3 * time.Second,
		maxInterval: 6 * time.Second,
		stopCh:      make(chan struct{}),
	}
}

// SetInterval ajusta a janela do intervalo aleatório entre HELLOs
func (cs *ControlSystem) SetInterval(min, max time.Duration) {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()

	if min <= 0 || max < min {
		return
	}
	cs.minInterval = min
	cs.maxInterval = max
}

// Start inicia o sistema de controle
func (cs *ControlSystem) Start() {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()

	if cs.running {
		return
	}

	cs.running = true
	log.Printf("[CONTROL] Starting control system for %s", cs.replicaID)

	go cs.helloLoop()
}

// Stop para o sistema de controle
func (cs *ControlSystem) Stop() {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()

	if !cs.running {
		return
	}

	cs.running = false
	close(cs.stopCh)
	log.Printf("[CONTROL] Stopping control system for %s", cs.replicaID)
}

// helloLoop envia mensagens HELLO periodicamente
func (cs *ControlSystem) helloLoop() {
	cs.SendHello()

	for {
		select {
		case <-time.After(cs.nextInterval()):
			cs.SendHello()
		case <-cs.stopCh:
			return
		}
	}
}

func (cs *ControlSystem) nextInterval() time.Duration {
	cs.mutex.RLock()
	defer cs.mutex.RUnlock()

	spread := cs.maxInterval - cs.minInterval
	if spread <= 0 {
		return cs.minInterval
	}
	return cs.minInterval + time.Duration(rand.Int63n(int64(spread)))
}

// SendHello envia mensagem HELLO em broadcast
func (cs *ControlSystem) SendHello() {
	msg, err := CreateHelloMessage(cs.replicaID, cs.httpPort)
	if err != nil {
		log.Printf("[CONTROL] Error creating HELLO: %v", err)
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[CONTROL] Error serializing HELLO: %v", err)
		return
	}

	cs.udpSender.Broadcast(data)

	cs.mutex.Lock()
	cs.helloSent++
	cs.mutex.Unlock()
}

// ProcessMessage processa mensagem de controle recebida
func (cs *ControlSystem) ProcessMessage(data []byte, senderIP string) {
	msg, err := DecodeControlMessage(data)
	if err != nil {
		log.Printf("[CONTROL] Discarding packet from %s: %v", senderIP, err)
		return
	}

	// Ignora os próprios HELLOs que voltam pelo broadcast
	if msg.SenderID == cs.replicaID {
		return
	}

	hello, ok := ParseHelloMessage(msg)
	if !ok {
		log.Printf("[CONTROL] Unsupported control message %s from %s", msg.Type, senderIP)
		return
	}

	ip := net.ParseIP(senderIP)
	if ip == nil {
		log.Printf("[CONTROL] Invalid sender IP %q", senderIP)
		return
	}

	cs.neighbors.AddOrUpdate(hello.ReplicaID, ip, hello.HTTPPort)

	cs.mutex.Lock()
	cs.helloReceived++
	cs.mutex.Unlock()
}

// GetStats retorna estatísticas do sistema de controle
func (cs *ControlSystem) GetStats() map[string]interface{} {
	cs.mutex.RLock()
	defer cs.mutex.RUnlock()

	return map[string]interface{}{
		"replica_id":     cs.replicaID,
		"running":        cs.running,
		"hello_sent":     cs.helloSent,
		"hello_received": cs.helloReceived,
	}
}
