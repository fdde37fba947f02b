package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHostInfoJSONRoundTrip(t *testing.T) {
	host := HostInfo{
		ID:              7,
		IP:              "127.0.0.1",
		InboundPort:     2000,
		InboundVersion:  1,
		OutboundPort:    2001,
		OutboundVersion: 1,
		State:           "available",
	}

	data, err := json.Marshal(host)
	if err != nil {
		t.Fatalf("failed to marshal HostInfo: %v", err)
	}

	var jsonMap map[string]interface{}
	if err := json.Unmarshal(data, &jsonMap); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
	if jsonMap["ip"] != "127.0.0.1" {
		t.Errorf("expected ip '127.0.0.1', got %v", jsonMap["ip"])
	}
	if jsonMap["id"] != float64(7) {
		t.Errorf("expected id 7, got %v", jsonMap["id"])
	}

	var decoded HostInfo
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal HostInfo: %v", err)
	}
	if decoded != host {
		t.Errorf("expected %+v, got %+v", host, decoded)
	}
}

func TestRegisterRequestAndResponse(t *testing.T) {
	req := RegisterRequest{Host: HostInfo{IP: "10.0.0.1", InboundPort: 2000, OutboundPort: 2001}}
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("failed to marshal RegisterRequest: %v", err)
	}
	var decodedReq RegisterRequest
	if err := json.Unmarshal(data, &decodedReq); err != nil {
		t.Fatalf("failed to unmarshal RegisterRequest: %v", err)
	}
	if decodedReq.Host.IP != req.Host.IP {
		t.Errorf("expected Host.IP %s, got %s", req.Host.IP, decodedReq.Host.IP)
	}

	resp := RegisterResponse{
		Host:          HostInfo{ID: 3, IP: "10.0.0.1"},
		Configuration: "host 3 10.0.0.1 2000 1 2001 1\nend\tof\tline\n",
		Version:       1,
	}
	data, err = json.Marshal(resp)
	if err != nil {
		t.Fatalf("failed to marshal RegisterResponse: %v", err)
	}
	var decodedResp RegisterResponse
	if err := json.Unmarshal(data, &decodedResp); err != nil {
		t.Fatalf("failed to unmarshal RegisterResponse: %v", err)
	}
	if decodedResp.Configuration != resp.Configuration {
		t.Errorf("configuration text not preserved")
	}
	if decodedResp.Version != resp.Version {
		t.Errorf("expected version %d, got %d", resp.Version, decodedResp.Version)
	}
}

func TestAckRequestStatus(t *testing.T) {
	for _, status := range []string{"ACK", "BAD"} {
		ack := AckRequest{HostID: 1, Version: 5, Status: status}
		data, err := json.Marshal(ack)
		if err != nil {
			t.Fatalf("failed to marshal AckRequest: %v", err)
		}
		var decoded AckRequest
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("failed to unmarshal AckRequest: %v", err)
		}
		if decoded.Status != status {
			t.Errorf("expected status %s, got %s", status, decoded.Status)
		}
	}
}

func TestBroadcastRequestPreservesConfigurationPayload(t *testing.T) {
	push := ConfigurationPush{Configuration: "host 1 127.0.0.1 2000 1 2001 1\nend\tof\tline\n", Version: 2}
	payload, err := json.Marshal(push)
	if err != nil {
		t.Fatalf("failed to marshal ConfigurationPush: %v", err)
	}

	req := BroadcastRequest{Path: "/cluster/configuration", Payload: payload}
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("failed to marshal BroadcastRequest: %v", err)
	}

	var decoded BroadcastRequest
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal BroadcastRequest: %v", err)
	}
	if decoded.Path != req.Path {
		t.Errorf("expected Path %s, got %s", req.Path, decoded.Path)
	}
	if !bytes.Equal(decoded.Payload, req.Payload) {
		t.Errorf("payload mismatch: expected %s, got %s", req.Payload, decoded.Payload)
	}

	var decodedPush ConfigurationPush
	if err := json.Unmarshal(decoded.Payload, &decodedPush); err != nil {
		t.Fatalf("failed to unmarshal embedded ConfigurationPush: %v", err)
	}
	if decodedPush.Configuration != push.Configuration {
		t.Errorf("configuration text not preserved through nested payload")
	}
}

func TestPostJSON(t *testing.T) {
	tests := []struct {
		name           string
		serverResponse int
		serverBody     string
		requestBody    interface{}
		responseBody   interface{}
		expectError    bool
		contextTimeout bool
	}{
		{
			name:           "successful POST with response",
			serverResponse: http.StatusOK,
			serverBody:     `{"status":"ok"}`,
			requestBody:    map[string]string{"test": "data"},
			responseBody:   &map[string]string{},
			expectError:    false,
		},
		{
			name:           "successful POST without response body",
			serverResponse: http.StatusNoContent,
			serverBody:     "",
			requestBody:    map[string]string{"test": "data"},
			responseBody:   nil,
			expectError:    false,
		},
		{
			name:           "server error response",
			serverResponse: http.StatusInternalServerError,
			serverBody:     `{"error":"internal error"}`,
			requestBody:    map[string]string{"test": "data"},
			responseBody:   nil,
			expectError:    true,
		},
		{
			name:           "context timeout",
			serverResponse: http.StatusOK,
			serverBody:     `{"status":"ok"}`,
			requestBody:    map[string]string{"test": "data"},
			responseBody:   nil,
			expectError:    true,
			contextTimeout: true,
		},
		{
			name:           "unmarshalable request body",
			serverResponse: http.StatusOK,
			serverBody:     `{"status":"ok"}`,
			requestBody:    make(chan int),
			responseBody:   nil,
			expectError:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Errorf("expected POST method, got %s", r.Method)
				}
				if ct := r.Header.Get("Content-Type"); ct != "application/json" {
					t.Errorf("expected Content-Type application/json, got %s", ct)
				}
				if tt.contextTimeout {
					time.Sleep(100 * time.Millisecond)
				}
				w.WriteHeader(tt.serverResponse)
				if tt.serverBody != "" {
					w.Write([]byte(tt.serverBody))
				}
			}))
			defer server.Close()

			ctx := context.Background()
			if tt.contextTimeout {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, 1*time.Millisecond)
				defer cancel()
			}

			err := PostJSON(ctx, server.URL, tt.requestBody, tt.responseBody)
			if tt.expectError && err == nil {
				t.Errorf("expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestPostJSONInvalidURL(t *testing.T) {
	ctx := context.Background()
	if err := PostJSON(ctx, "://invalid-url", map[string]string{"test": "data"}, nil); err == nil {
		t.Error("expected error for invalid URL, got none")
	}
}

func TestGetJSON(t *testing.T) {
	tests := []struct {
		name           string
		serverResponse int
		serverBody     string
		expectError    bool
	}{
		{name: "successful GET", serverResponse: http.StatusOK, serverBody: `{"data":"test"}`, expectError: false},
		{name: "not found error", serverResponse: http.StatusNotFound, serverBody: `{"error":"not found"}`, expectError: true},
		{name: "invalid JSON response", serverResponse: http.StatusOK, serverBody: `{invalid json}`, expectError: true},
		{name: "redirect response", serverResponse: http.StatusMovedPermanently, serverBody: "", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodGet {
					t.Errorf("expected GET method, got %s", r.Method)
				}
				w.WriteHeader(tt.serverResponse)
				if tt.serverBody != "" {
					w.Write([]byte(tt.serverBody))
				}
			}))
			defer server.Close()

			var result map[string]interface{}
			err := GetJSON(context.Background(), server.URL, &result)
			if tt.expectError && err == nil {
				t.Errorf("expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestHTTPClientTimeout(t *testing.T) {
	if httpClient.Timeout != 5*time.Second {
		t.Errorf("expected HTTP client timeout of 5s, got %v", httpClient.Timeout)
	}
}
