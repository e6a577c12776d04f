package swim

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/memberlist"
)

// nodeMeta travels with every member so peers can reach its HTTP API
type nodeMeta struct {
	HTTPPort int `json:"http_port"`
}

func encodeMeta(httpPort int, limit int) []byte {
	data, err := json.Marshal(nodeMeta{HTTPPort: httpPort})
	if err != nil || len(data) > limit {
		return nil
	}
	return data
}

func decodeMeta(data []byte) (nodeMeta, bool) {
	var m nodeMeta
	if len(data) == 0 {
		return m, false
	}
	if err := json.Unmarshal(data, &m); err != nil || m.HTTPPort <= 0 || m.HTTPPort > 65535 {
		return nodeMeta{}, false
	}
	return m, true
}

// memberURL derives the HTTP base URL of a member, falling back to
// fallbackPort when the member carries no usable metadata
func memberURL(n *memberlist.Node, fallbackPort int) string {
	port := fallbackPort
	if m, ok := decodeMeta(n.Meta); ok {
		port = m.HTTPPort
	}
	return "http://" + net.JoinHostPort(n.Addr.String(), strconv.Itoa(port))
}

// metaDelegate anuncia a porta HTTP; não usa o canal de mensagens do memberlist
type metaDelegate struct {
	httpPort int
}

func (d *metaDelegate) NodeMeta(limit int) []byte                 { return encodeMeta(d.httpPort, limit) }
func (d *metaDelegate) NotifyMsg([]byte)                          {}
func (d *metaDelegate) GetBroadcasts(overhead, limit int) [][]byte { return nil }
func (d *metaDelegate) LocalState(join bool) []byte               { return nil }
func (d *metaDelegate) MergeRemoteState(buf []byte, join bool)    {}

// SwimEvents implementa EventDelegate para callback de eventos do memberlist
type SwimEvents struct {
	nodeID string

	mutex   sync.RWMutex
	onJoin  func(id, url string)
	onLeave func(id, url string)
	apiPort int
}

// NotifyJoin é chamado quando um nó se junta ao cluster
func (e *SwimEvents) NotifyJoin(n *memberlist.Node) {
	if n.Name == e.nodeID {
		return
	}
	log.Printf("[SWIM] Nó %s (%s) se juntou ao cluster", n.Name, n.Address())

	e.mutex.RLock()
	hook, port := e.onJoin, e.apiPort
	e.mutex.RUnlock()
	if hook != nil {
		hook(n.Name, memberURL(n, port))
	}
}

// NotifyLeave é chamado quando um nó deixa o cluster ou é declarado morto
func (e *SwimEvents) NotifyLeave(n *memberlist.Node) {
	if n.Name == e.nodeID {
		return
	}
	log.Printf("[SWIM] Nó %s deixou o cluster", n.Name)

	e.mutex.RLock()
	hook, port := e.onLeave, e.apiPort
	e.mutex.RUnlock()
	if hook != nil {
		hook(n.Name, memberURL(n, port))
	}
}

// NotifyUpdate é chamado quando metadados de um nó são atualizados
func (e *SwimEvents) NotifyUpdate(n *memberlist.Node) {
	log.Printf("[SWIM] Nó %s foi atualizado", n.Name)
}

// MembershipConfig configuração para criar o membership
type MembershipConfig struct {
	NodeID   string   // ID único da réplica
	BindAddr string   // endereço para bind (ex: "0.0.0.0")
	BindPort int      // porta SWIM (padrão 7946, 0 escolhe uma livre)
	APIPort  int      // porta HTTP anunciada aos pares
	Seeds    []string // lista de seeds host:porta para join inicial
}

// MembershipManager gerencia o memberlist e fornece a lista de pares para o gossip
type MembershipManager struct {
	ml      *memberlist.Memberlist
	events  *SwimEvents
	nodeID  string
	apiPort int
}

// NewMembershipManager cria um novo gerenciador de membership usando SWIM
func NewMembershipManager(config MembershipConfig) (*MembershipManager, error) {
	cfg := memberlist.DefaultLANConfig()
	cfg.Name = config.NodeID
	cfg.BindAddr = config.BindAddr
	cfg.BindPort = config.BindPort

	events := &SwimEvents{nodeID: config.NodeID, apiPort: config.APIPort}
	cfg.Events = events
	cfg.Delegate = &metaDelegate{httpPort: config.APIPort}

	cfg.PushPullInterval = 30 * time.Second
	cfg.ProbeTimeout = time.Second
	cfg.ProbeInterval = 5 * time.Second

	ml, err := memberlist.Create(cfg)
	if err != nil {
		return nil, fmt.Errorf("erro ao criar memberlist: %w", err)
	}

	manager := &MembershipManager{
		ml:      ml,
		events:  events,
		nodeID:  config.NodeID,
		apiPort: config.APIPort,
	}

	if seeds := filterSeeds(config.Seeds, manager.GetLocalAddr()); len(seeds) > 0 {
		joinCount, err := ml.Join(seeds)
		if err != nil {
			log.Printf("[SWIM] Aviso: erro ao juntar-se aos seeds %v: %v", seeds, err)
		} else {
			log.Printf("[SWIM] Juntou-se a %d nós seeds", joinCount)
		}
	}

	return manager, nil
}

// filterSeeds remove vazios, duplicados e o próprio endereço
func filterSeeds(seeds []string, self string) []string {
	seen := make(map[string]bool, len(seeds))
	out := make([]string, 0, len(seeds))
	for _, s := range seeds {
		if s == "" || s == self || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// SetHooks registers callbacks for members joining and leaving. Either may be nil.
func (m *MembershipManager) SetHooks(onJoin, onLeave func(id, url string)) {
	m.events.mutex.Lock()
	defer m.events.mutex.Unlock()
	m.events.onJoin = onJoin
	m.events.onLeave = onLeave
}

// GetLiveMembers retorna lista de membros ativos (excluindo este nó)
func (m *MembershipManager) GetLiveMembers() []*memberlist.Node {
	allMembers := m.ml.Members()
	liveMembers := make([]*memberlist.Node, 0, len(allMembers))

	for _, member := range allMembers {
		if member.Name != m.nodeID {
			liveMembers = append(liveMembers, member)
		}
	}

	return liveMembers
}

// GetNeighborURLs retorna URLs da API HTTP dos membros ativos
func (m *MembershipManager) GetNeighborURLs() []string {
	members := m.GetLiveMembers()
	urls := make([]string, 0, len(members))

	for _, member := range members {
		urls = append(urls, memberURL(member, m.apiPort))
	}

	return urls
}

// Count retorna o número de pares ativos (excluindo este nó)
func (m *MembershipManager) Count() int {
	return len(m.GetLiveMembers())
}

// GetNodeID retorna o ID deste nó
func (m *MembershipManager) GetNodeID() string {
	return m.nodeID
}

// GetLocalAddr retorna o endereço local do memberlist
func (m *MembershipManager) GetLocalAddr() string {
	return m.ml.LocalNode().Address()
}

// JoinNode tenta adicionar um novo nó ao cluster
func (m *MembershipManager) JoinNode(nodeAddr string) error {
	joinCount, err := m.ml.Join([]string{nodeAddr})
	if err != nil {
		return fmt.Errorf("erro ao conectar ao nó %s: %w", nodeAddr, err)
	}

	log.Printf("[SWIM] Conectou-se a %d nós via %s", joinCount, nodeAddr)
	return nil
}

// Leave faz este nó deixar o cluster gracefully
func (m *MembershipManager) Leave() error {
	if err := m.ml.Leave(5 * time.Second); err != nil {
		return fmt.Errorf("erro ao deixar o cluster: %w", err)
	}
	return nil
}

// Shutdown desliga o memberlist completamente
func (m *MembershipManager) Shutdown() error {
	if err := m.ml.Shutdown(); err != nil {
		return fmt.Errorf("erro ao desligar memberlist: %w", err)
	}
	return nil
}

// GetStats retorna estatísticas do memberlist
func (m *MembershipManager) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"node_id":       m.nodeID,
		"total_members": m.ml.NumMembers(),
		"live_members":  m.Count(),
		"local_addr":    m.GetLocalAddr(),
		"health_score":  m.ml.GetHealthScore(),
	}
}
