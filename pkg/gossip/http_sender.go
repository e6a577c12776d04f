package gossip

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/heitortanoue/gridclaim/pkg/crdt"
	"github.com/heitortanoue/gridclaim/pkg/protocol"
)

// HTTPSender implements Sender over plain HTTP
type HTTPSender struct {
	replicaID string
	client    *http.Client
	timeout   time.Duration
}

// NewHTTPSender creates a sender with the given per-request timeout
func NewHTTPSender(replicaID string, timeout time.Duration) *HTTPSender {
	return &HTTPSender{
		replicaID: replicaID,
		client: &http.Client{
			Timeout: timeout,
		},
		timeout: timeout,
	}
}

// SendEvent pushes one event to url via POST /event
func (hs *HTTPSender) SendEvent(ctx context.Context, url string, msg EventMsg) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url+"/event", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "gridclaim-gossip/1.0")
	req.Header.Set("X-Replica-ID", msg.SenderID)
	req.Header.Set("X-Gossip-TTL", fmt.Sprintf("%d", msg.TTL))
	req.Header.Set("X-Message-ID", msg.ID.String())
	req.Header.Set("X-Timestamp", fmt.Sprintf("%d", msg.Timestamp))

	resp, err := hs.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP status %d when sending event", resp.StatusCode)
	}

	return nil
}

// PullEvents asks url for every event not covered by clock via POST /events/pull
func (hs *HTTPSender) PullEvents(ctx context.Context, url string, clock crdt.VectorClock) ([]protocol.RemoteEvent, error) {
	payload, err := json.Marshal(PullRequest{ReplicaID: hs.replicaID, Clock: clock})
	if err != nil {
		return nil, fmt.Errorf("failed to serialize pull request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url+"/events/pull", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", ContentTypeZstdJSON)
	req.Header.Set("User-Agent", "gridclaim-gossip/1.0")
	req.Header.Set("X-Replica-ID", hs.replicaID)

	resp, err := hs.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP status %d when pulling events", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read pull response: %w", err)
	}

	out, _, err := DecodePullResponse(body)
	if err != nil {
		return nil, err
	}
	return out.Events, nil
}
