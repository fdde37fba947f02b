// Package cluster carries the HTTP/JSON exchange a daemon and the
// reference coordinator use to move spec §6's text configuration format
// around: register, acknowledge, and push. See doc.go for the protocol.
package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HostInfo is the JSON form of one daemon's registration: the same fields
// a `host` configuration line carries (spec §6), plus the bookkeeping the
// reference coordinator needs to track it.
type HostInfo struct {
	ID              uint64    `json:"id"`
	IP              string    `json:"ip"`
	InboundPort     uint16    `json:"inbound_port"`
	InboundVersion  uint16    `json:"inbound_version"`
	OutboundPort    uint16    `json:"outbound_port"`
	OutboundVersion uint16    `json:"outbound_version"`
	HTTPPort        uint16    `json:"http_port,omitempty"`
	State           string    `json:"state,omitempty"`
	LastHealthCheck time.Time `json:"last_health_check,omitempty"`
}

// RegisterRequest is the body of a daemon's POST to the coordinator's
// /cluster/register endpoint. IP/InboundPort/OutboundPort are the fields
// the coordinator cannot infer from the connection alone; ID is left zero
// for a first-time registration and assigned by the coordinator in the
// response.
type RegisterRequest struct {
	Host HostInfo `json:"host"`
}

// RegisterResponse carries the assigned host ID and the full, current
// text configuration (spec §6 format, trailer included) for the daemon to
// parse and install.
type RegisterResponse struct {
	Host          HostInfo `json:"host"`
	Configuration string   `json:"configuration"`
	Version       uint64   `json:"version"`
}

// AckRequest is a daemon's reply after attempting to parse and install a
// pushed configuration: Status is "ACK" or "BAD", mirroring the bare
// `ACK\n`/`BAD\n` line spec §6 specifies for the wire protocol, carried
// here as a JSON field instead of a raw line.
type AckRequest struct {
	HostID  uint64 `json:"host_id"`
	Version uint64 `json:"version"`
	Status  string `json:"status"`
}

// BroadcastRequest is what the coordinator POSTs to every registered
// daemon's /cluster/configuration endpoint when it has a new
// configuration to push (a fresh host registration or a health-triggered
// host eviction). Payload wraps the
// configuration text so Path can keep selecting future broadcast kinds.
type BroadcastRequest struct {
	Path    string          `json:"path"`
	Payload json.RawMessage `json:"payload"`
}

// ConfigurationPush is the Payload shape for a BroadcastRequest with
// Path == "/cluster/configuration".
type ConfigurationPush struct {
	Configuration string `json:"configuration"`
	Version       uint64 `json:"version"`
}

// httpClient is shared by every PostJSON/GetJSON call for connection
// reuse; a 5-second timeout keeps a stalled daemon from hanging a
// coordinator health round or registration attempt.
var httpClient = &http.Client{Timeout: 5 * time.Second}

// PostJSON POSTs body as JSON to url and decodes the response into out
// (skipped if out is nil).
func PostJSON(ctx context.Context, url string, body, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %d", url, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// GetJSON GETs url and decodes the JSON response into out.
func GetJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return err
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
