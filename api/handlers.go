package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/sanity-io/litter"

	"github.com/heitortanoue/gridclaim/logging"
	"github.com/heitortanoue/gridclaim/pkg/crdt"
	"github.com/heitortanoue/gridclaim/pkg/gossip"
	"github.com/heitortanoue/gridclaim/pkg/network"
	"github.com/heitortanoue/gridclaim/pkg/position"
	"github.com/heitortanoue/gridclaim/pkg/protocol"
	"github.com/heitortanoue/gridclaim/pkg/render"
	"github.com/heitortanoue/gridclaim/pkg/state"
)

const maxBodyBytes = 1 << 20

// EventReceiver accepts events pushed by peers
type EventReceiver interface {
	Receive(msg gossip.EventMsg)
}

// EventSource answers anti-entropy pulls
type EventSource interface {
	EventsSince(clock crdt.VectorClock) []protocol.RemoteEvent
}

// ClaimSource exposes the current set of claimed cells
type ClaimSource interface {
	Snapshot() []state.Claim
}

// PositionInput takes a manually chosen point
type PositionInput interface {
	ManualOverride(lng, lat float64)
}

// StatsProvider is anything with the GetStats convention
type StatsProvider interface {
	GetStats() map[string]interface{}
}

// Handlers implements the replica HTTP routes on top of the running
// components. Any dependency may be nil; its routes then answer 503.
type Handlers struct {
	replicaID string
	receiver  EventReceiver
	events    EventSource
	claims    ClaimSource
	position  PositionInput
	logger    *logging.ClaimLogger
	startTime time.Time

	statsMu sync.RWMutex
	stats   map[string]StatsProvider
}

// ManualPositionRequest is the body of POST /position
type ManualPositionRequest struct {
	Lng *float64 `json:"lng"`
	Lat *float64 `json:"lat"`
}

// EventResponse acknowledges POST /event
type EventResponse struct {
	Status string `json:"status"`
	ID     string `json:"id"`
}

// StatsResponse is the body of GET /stats
type StatsResponse struct {
	ReplicaID  string                            `json:"replica_id"`
	Uptime     string                            `json:"uptime"`
	Components map[string]map[string]interface{} `json:"components"`
}

// NewHandlers wires the handlers to the replica components
func NewHandlers(replicaID string, receiver EventReceiver, events EventSource, claims ClaimSource, pos PositionInput, logger *logging.ClaimLogger) *Handlers {
	if logger == nil {
		logger = logging.NewClaimLoggerTo(replicaID, io.Discard)
	}
	return &Handlers{
		replicaID: replicaID,
		receiver:  receiver,
		events:    events,
		claims:    claims,
		position:  pos,
		logger:    logger,
		startTime: time.Now(),
		stats:     make(map[string]StatsProvider),
	}
}

// AddStats exposes p under name in GET /stats
func (h *Handlers) AddStats(name string, p StatsProvider) {
	h.statsMu.Lock()
	defer h.statsMu.Unlock()
	h.stats[name] = p
}

// Register installs the handlers on s
func (h *Handlers) Register(s *network.HTTPServer) {
	s.EventHandler = h.HandleEvent
	s.PullHandler = h.HandlePull
	s.ClaimsHandler = h.HandleClaims
	s.StatsHandler = h.HandleStats
	s.PositionHandler = h.HandlePosition
	s.DebugHandler = h.HandleDebugClaims
}

// HandleEvent processa POST /event
func (h *Handlers) HandleEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Método não permitido", http.StatusMethodNotAllowed)
		return
	}
	if h.receiver == nil {
		http.Error(w, "Gossip indisponível", http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "Body inválido", http.StatusBadRequest)
		return
	}

	msg, err := gossip.DecodeEventMsg(body)
	if err != nil {
		h.logger.LogEventMalformed(err)
		http.Error(w, "Evento malformado", http.StatusBadRequest)
		return
	}

	h.receiver.Receive(msg)

	writeJSON(w, http.StatusOK, EventResponse{Status: "received", ID: msg.ID.String()})
}

// HandlePull processa POST /events/pull
func (h *Handlers) HandlePull(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Método não permitido", http.StatusMethodNotAllowed)
		return
	}
	if h.events == nil {
		http.Error(w, "Gossip indisponível", http.StatusServiceUnavailable)
		return
	}

	var req gossip.PullRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, "JSON inválido", http.StatusBadRequest)
		return
	}

	missing := h.events.EventsSince(req.Clock)
	if missing == nil {
		missing = []protocol.RemoteEvent{}
	}

	body, err := gossip.EncodePullResponse(gossip.PullResponse{ReplicaID: h.replicaID, Events: missing})
	if err != nil {
		h.logger.LogError("encode_pull", err)
		http.Error(w, "Erro interno", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", gossip.ContentTypeZstdJSON)
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// HandleClaims processa GET /claims
func (h *Handlers) HandleClaims(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Método não permitido", http.StatusMethodNotAllowed)
		return
	}
	if h.claims == nil {
		http.Error(w, "Estado indisponível", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/geo+json")
	json.NewEncoder(w).Encode(render.FromClaims(h.claims.Snapshot()))
}

// HandleStats processa GET /stats
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Método não permitido", http.StatusMethodNotAllowed)
		return
	}

	h.statsMu.RLock()
	components := make(map[string]map[string]interface{}, len(h.stats))
	for name, p := range h.stats {
		components[name] = p.GetStats()
	}
	h.statsMu.RUnlock()

	writeJSON(w, http.StatusOK, StatsResponse{
		ReplicaID:  h.replicaID,
		Uptime:     time.Since(h.startTime).Round(time.Second).String(),
		Components: components,
	})
}

// HandlePosition processa POST /position (override manual da posição)
func (h *Handlers) HandlePosition(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Método não permitido", http.StatusMethodNotAllowed)
		return
	}
	if h.position == nil {
		http.Error(w, "Rastreador indisponível", http.StatusServiceUnavailable)
		return
	}

	var req ManualPositionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, "JSON inválido", http.StatusBadRequest)
		return
	}
	if err := validatePosition(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.position.ManualOverride(*req.Lng, *req.Lat)

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"status": "accepted",
		"lng":    *req.Lng,
		"lat":    *req.Lat,
	})
}

func validatePosition(req ManualPositionRequest) error {
	if req.Lng == nil || req.Lat == nil {
		return fmt.Errorf("lng e lat são obrigatórios")
	}
	return position.CheckCoordinates(*req.Lng, *req.Lat)
}

// HandleDebugClaims processa GET /debug/claims
func (h *Handlers) HandleDebugClaims(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Método não permitido", http.StatusMethodNotAllowed)
		return
	}
	if h.claims == nil {
		http.Error(w, "Estado indisponível", http.StatusServiceUnavailable)
		return
	}

	claims := h.claims.Snapshot()
	sort.Slice(claims, func(i, j int) bool { return claims[i].CellID.String() < claims[j].CellID.String() })

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, litter.Sdump(claims))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
