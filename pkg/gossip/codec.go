package gossip

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/heitortanoue/gridclaim/pkg/crdt"
	"github.com/heitortanoue/gridclaim/pkg/protocol"
)

// ContentTypeZstdJSON marks a zstd-compressed JSON body.
const ContentTypeZstdJSON = "application/zstd+json"

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil)
)

// PullRequest asks a peer for every event not covered by Clock.
type PullRequest struct {
	ReplicaID string           `json:"replica_id"`
	Clock     crdt.VectorClock `json:"clock"`
}

// PullResponse carries the events the requester is missing.
type PullResponse struct {
	ReplicaID string                 `json:"replica_id"`
	Events    []protocol.RemoteEvent `json:"events"`
}

// EncodePullResponse serializes and compresses a response.
func EncodePullResponse(resp PullResponse) ([]byte, error) {
	raw, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("encode pull response: %w", err)
	}
	return encoder.EncodeAll(raw, make([]byte, 0, len(raw)/2)), nil
}

// DecodePullResponse decompresses a response and validates every event.
// Malformed events are skipped and counted in the returned int.
func DecodePullResponse(data []byte) (PullResponse, int, error) {
	raw, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return PullResponse{}, 0, fmt.Errorf("decompress pull response: %w", err)
	}

	var envelope struct {
		ReplicaID string            `json:"replica_id"`
		Events    []json.RawMessage `json:"events"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return PullResponse{}, 0, fmt.Errorf("decode pull response: %w", err)
	}

	resp := PullResponse{ReplicaID: envelope.ReplicaID, Events: make([]protocol.RemoteEvent, 0, len(envelope.Events))}
	dropped := 0
	for _, item := range envelope.Events {
		ev, err := protocol.DecodeRemoteEvent(item)
		if err != nil {
			dropped++
			continue
		}
		resp.Events = append(resp.Events, ev)
	}
	return resp, dropped, nil
}

// DecodeEventMsg decodes a pushed message, checking the inner event
// against the event schema.
func DecodeEventMsg(data []byte) (EventMsg, error) {
	var envelope struct {
		ID        json.RawMessage `json:"id"`
		TTL       int             `json:"ttl"`
		Event     json.RawMessage `json:"event"`
		SenderID  string          `json:"sender_id"`
		Timestamp int64           `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return EventMsg{}, fmt.Errorf("%w: %v", protocol.ErrMalformedEvent, err)
	}
	if len(envelope.Event) == 0 {
		return EventMsg{}, fmt.Errorf("%w: missing event", protocol.ErrMalformedEvent)
	}

	ev, err := protocol.DecodeRemoteEvent(envelope.Event)
	if err != nil {
		return EventMsg{}, err
	}

	msg := EventMsg{TTL: envelope.TTL, Event: ev, SenderID: envelope.SenderID, Timestamp: envelope.Timestamp}
	if len(envelope.ID) > 0 {
		if err := json.Unmarshal(envelope.ID, &msg.ID); err != nil {
			return EventMsg{}, fmt.Errorf("%w: bad id: %v", protocol.ErrMalformedEvent, err)
		}
	}
	return msg, nil
}
