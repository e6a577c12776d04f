package render

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/heitortanoue/gridclaim/pkg/position"
)

const (
	FrameFeatures = "features"
	FrameRecenter = "recenter"
	FrameMarker   = "marker"
	FrameStatus   = "status"
	FrameCount    = "count"

	clientBuffer = 64
	writeWait    = 5 * time.Second
	readWait     = 60 * time.Second
)

// Frame is one message pushed to map clients.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ClientMessage is what a map client may send back: a position fix or a
// classified position error.
type ClientMessage struct {
	Type   string   `json:"type"` // "fix" or "error"
	Lng    *float64 `json:"lng,omitempty"`
	Lat    *float64 `json:"lat,omitempty"`
	Manual bool     `json:"manual,omitempty"`
	Code   int      `json:"code,omitempty"`
}

type hubClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub is a Sink that streams display updates to websocket clients. New
// clients first receive the latest frame of each kind.
type Hub struct {
	upgrader websocket.Upgrader
	feed     *position.Feed

	mutex   sync.RWMutex
	clients map[*hubClient]struct{}
	latest  map[string][]byte
	order   []string

	framesSent int64
	dropped    int64
	rejected   atomic.Int64 // client fixes with missing or out-of-range coordinates
}

// NewHub creates a hub. Fixes and errors sent by clients are pushed into
// feed when it is non-nil.
func NewHub(feed *position.Feed) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		feed:    feed,
		clients: make(map[*hubClient]struct{}),
		latest:  make(map[string][]byte),
		order:   []string{FrameFeatures, FrameCount, FrameRecenter, FrameMarker, FrameStatus},
	}
}

func (h *Hub) SetFeatures(fc FeatureCollection) { h.broadcast(FrameFeatures, fc) }

func (h *Hub) Recenter(lng, lat float64) {
	h.broadcast(FrameRecenter, map[string]float64{"lng": lng, "lat": lat})
}

func (h *Hub) PlaceMarker(lng, lat float64) {
	h.broadcast(FrameMarker, map[string]float64{"lng": lng, "lat": lat})
}

func (h *Hub) SetStatus(msg string) { h.broadcast(FrameStatus, map[string]string{"message": msg}) }

func (h *Hub) SetCount(n int) { h.broadcast(FrameCount, map[string]int{"count": n}) }

func (h *Hub) broadcast(kind string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[WS] Failed to encode %s frame: %v", kind, err)
		return
	}
	frame, err := json.Marshal(Frame{Type: kind, Data: data})
	if err != nil {
		log.Printf("[WS] Failed to encode %s frame: %v", kind, err)
		return
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.latest[kind] = frame
	for c := range h.clients {
		select {
		case c.send <- frame:
			h.framesSent++
		default:
			// slow client, drop it
			h.dropped++
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// ServeHTTP upgrades the request and serves the client until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	c := &hubClient{conn: conn, send: make(chan []byte, clientBuffer)}

	h.mutex.Lock()
	for _, kind := range h.order {
		if frame, ok := h.latest[kind]; ok {
			c.send <- frame
		}
	}
	h.clients[c] = struct{}{}
	h.mutex.Unlock()

	done := make(chan struct{})
	go h.writeLoop(c, done)

	h.readLoop(c)

	h.remove(c)
	<-done
}

func (h *Hub) writeLoop(c *hubClient, done chan struct{}) {
	defer close(done)
	for frame := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			// unblock the reader
			_ = c.conn.Close()
			h.remove(c)
			for range c.send {
			}
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
		time.Now().Add(time.Second))
}

func (h *Hub) readLoop(c *hubClient) {
	for {
		_ = c.conn.SetReadDeadline(time.Now().Add(readWait))
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var in ClientMessage
		if err := json.Unmarshal(msg, &in); err != nil {
			continue
		}
		h.handleClientMessage(in)
	}
}

func (h *Hub) handleClientMessage(in ClientMessage) {
	if h.feed == nil {
		return
	}
	switch in.Type {
	case "fix":
		if in.Lng == nil || in.Lat == nil {
			h.rejected.Add(1)
			log.Printf("[WS] Dropped fix without coordinates")
			return
		}
		fix := position.NewFix(*in.Lng, *in.Lat)
		fix.Manual = in.Manual
		if err := fix.Validate(); err != nil {
			h.rejected.Add(1)
			log.Printf("[WS] Dropped fix: %v", err)
			return
		}
		_ = h.feed.Push(fix)
	case "error":
		_ = h.feed.PushError(position.Classify(in.Code))
	}
}

func (h *Hub) remove(c *hubClient) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// GetStats returns hub statistics
func (h *Hub) GetStats() map[string]interface{} {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	return map[string]interface{}{
		"clients":     len(h.clients),
		"frames_sent": h.framesSent,
		"dropped":     h.dropped,
		"rejected":    h.rejected.Load(),
	}
}
