package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/heitortanoue/gridclaim/pkg/crdt"
	"github.com/heitortanoue/gridclaim/pkg/grid"
)

// ErrMalformedEvent marks a remote event that is missing required fields or
// carries an unparseable cell id. Such events are dropped.
var ErrMalformedEvent = errors.New("malformed remote event")

// RemoteEvent is the record appended to the shared log for one claim.
// Coordinates and timestamp are informational; receivers rebuild geometry
// from CellID.
type RemoteEvent struct {
	ID        uuid.UUID `json:"id"`
	Origin    string    `json:"origin,omitempty"`
	Dot       *crdt.Dot `json:"dot,omitempty"`
	CellID    string    `json:"cell_id"`
	Lng       float64   `json:"lng"`
	Lat       float64   `json:"lat"`
	Color     string    `json:"color"`
	Timestamp int64     `json:"timestamp"`
}

const remoteEventSchema = `{
  "type": "object",
  "required": ["cell_id", "color"],
  "properties": {
    "id":        {"type": "string"},
    "origin":    {"type": "string"},
    "dot": {
      "type": "object",
      "required": ["node_id", "counter"],
      "properties": {
        "node_id": {"type": "string", "minLength": 1},
        "counter": {"type": "integer", "minimum": 1}
      }
    },
    "cell_id":   {"type": "string", "pattern": "^-?[0-9]+_-?[0-9]+$"},
    "lng":       {"type": "number"},
    "lat":       {"type": "number"},
    "color":     {"type": "string", "minLength": 1},
    "timestamp": {"type": "integer"}
  }
}`

var eventSchema = jsonschema.MustCompileString("remote_event.schema.json", remoteEventSchema)

// NewRemoteEvent builds the event published for a locally accepted claim.
func NewRemoteEvent(origin string, cell grid.CellID, lng, lat float64, color string) RemoteEvent {
	return RemoteEvent{
		ID:        uuid.New(),
		Origin:    origin,
		CellID:    cell.String(),
		Lng:       lng,
		Lat:       lat,
		Color:     color,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Cell parses the event's cell id.
func (e RemoteEvent) Cell() (grid.CellID, error) {
	id, err := grid.ParseCellID(e.CellID)
	if err != nil {
		return grid.CellID{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return id, nil
}

// Validate checks the fields a receiver needs to apply the event.
func (e RemoteEvent) Validate() error {
	if e.CellID == "" {
		return fmt.Errorf("%w: missing cell_id", ErrMalformedEvent)
	}
	if _, err := e.Cell(); err != nil {
		return err
	}
	if e.Color == "" {
		return fmt.Errorf("%w: missing color", ErrMalformedEvent)
	}
	if e.Dot != nil && (e.Dot.NodeID == "" || e.Dot.Counter < 1) {
		return fmt.Errorf("%w: invalid dot %s", ErrMalformedEvent, e.Dot)
	}
	return nil
}

// DecodeRemoteEvent validates raw JSON against the event schema and decodes it.
func DecodeRemoteEvent(data []byte) (RemoteEvent, error) {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return RemoteEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if err := eventSchema.Validate(raw); err != nil {
		return RemoteEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	var ev RemoteEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return RemoteEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if err := ev.Validate(); err != nil {
		return RemoteEvent{}, err
	}
	return ev, nil
}

// DotOf exposes the event dot for anti-entropy diffs.
func DotOf(e RemoteEvent) (crdt.Dot, bool) {
	if e.Dot == nil {
		return crdt.Dot{}, false
	}
	return *e.Dot, true
}
