package network

import (
	"fmt"
	"log"
	"net"
	"sync"
)

// MessageProcessor interface para processar mensagens de controle
type MessageProcessor interface {
	ProcessMessage(data []byte, senderIP string)
}

// UDPServer gerencia o canal de controle UDP (HELLO)
type UDPServer struct {
	conn             *net.UDPConn
	messageProcessor MessageProcessor
	replicaID        string
	port             int
	seeds            []*net.UDPAddr

	running bool
	mutex   sync.RWMutex

	packetsIn  int64
	packetsOut int64
	sendErrors int64
}

// NewUDPServer cria um novo servidor UDP
func NewUDPServer(replicaID string, port int) *UDPServer {
	return &UDPServer{
		replicaID: replicaID,
		port:      port,
	}
}

// SetMessageProcessor define o processador de mensagens de controle
func (s *UDPServer) SetMessageProcessor(processor MessageProcessor) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.messageProcessor = processor
}

// AddSeed registers a host:port that receives every broadcast
func (s *UDPServer) AddSeed(hostport string) error {
	addr, err := net.ResolveUDPAddr("udp", hostport)
	if err != nil {
		return fmt.Errorf("invalid seed %q: %w", hostport, err)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	for _, existing := range s.seeds {
		if existing.String() == addr.String() {
			return nil
		}
	}
	s.seeds = append(s.seeds, addr)
	return nil
}

// Seeds returns the configured broadcast targets
func (s *UDPServer) Seeds() []string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	out := make([]string, 0, len(s.seeds))
	for _, a := range s.seeds {
		out = append(out, a.String())
	}
	return out
}

// Start inicia o servidor UDP
func (s *UDPServer) Start() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.running {
		return nil
	}

	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("erro ao resolver endereço UDP: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("erro ao iniciar servidor UDP: %w", err)
	}

	s.conn = conn
	s.port = conn.LocalAddr().(*net.UDPAddr).Port
	s.running = true
	log.Printf("[UDP] Servidor iniciado na porta %d", s.port)

	go s.handleIncomingPackets(conn)
	return nil
}

// Stop para o servidor UDP
func (s *UDPServer) Stop() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.running {
		return nil
	}
	s.running = false
	return s.conn.Close()
}

// IsRunning reports whether the listener is open
func (s *UDPServer) IsRunning() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.running
}

// Port returns the bound port, resolved after Start when configured as 0
func (s *UDPServer) Port() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.port
}

// handleIncomingPackets processa pacotes UDP recebidos
func (s *UDPServer) handleIncomingPackets(conn *net.UDPConn) {
	buffer := make([]byte, 2048)

	for {
		n, addr, err := conn.ReadFromUDP(buffer)
		if err != nil {
			if !s.IsRunning() {
				return
			}
			log.Printf("[UDP] Erro ao ler pacote: %v", err)
			continue
		}

		data := make([]byte, n)
		copy(data, buffer[:n])

		s.mutex.Lock()
		s.packetsIn++
		processor := s.messageProcessor
		s.mutex.Unlock()

		if processor != nil {
			go processor.ProcessMessage(data, addr.IP.String())
		}
	}
}

// SendPacket envia um pacote UDP para um endereço específico
func (s *UDPServer) SendPacket(data []byte, target *net.UDPAddr) error {
	s.mutex.RLock()
	conn := s.conn
	running := s.running
	s.mutex.RUnlock()

	if !running || conn == nil {
		return fmt.Errorf("servidor UDP não iniciado")
	}

	if _, err := conn.WriteToUDP(data, target); err != nil {
		s.mutex.Lock()
		s.sendErrors++
		s.mutex.Unlock()
		return fmt.Errorf("erro ao enviar pacote UDP: %w", err)
	}

	s.mutex.Lock()
	s.packetsOut++
	s.mutex.Unlock()
	return nil
}

// Broadcast envia um pacote para todos os seeds configurados
func (s *UDPServer) Broadcast(data []byte) {
	s.mutex.RLock()
	seeds := make([]*net.UDPAddr, len(s.seeds))
	copy(seeds, s.seeds)
	s.mutex.RUnlock()

	for _, seed := range seeds {
		if err := s.SendPacket(data, seed); err != nil {
			log.Printf("[UDP] Erro ao enviar para %s: %v", seed, err)
		}
	}
}

// GetStats retorna estatísticas do servidor UDP
func (s *UDPServer) GetStats() map[string]interface{} {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return map[string]interface{}{
		"udp_port":    s.port,
		"running":     s.running,
		"replica_id":  s.replicaID,
		"seeds":       len(s.seeds),
		"packets_in":  s.packetsIn,
		"packets_out": s.packetsOut,
		"send_errors": s.sendErrors,
	}
}
