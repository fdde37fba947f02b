package main

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"github.com/dreamware/hyperdex/internal/cluster"
)

// Routes builds the coordinator's HTTP surface: registration, the ack a
// daemon sends back after installing a pushed configuration, and a
// liveness probe.
func (s *server) Routes() http.Handler {
	router := httprouter.New()
	router.GET("/health", s.handleHealth)
	router.POST("/cluster/register", s.handleRegister)
	router.POST("/cluster/ack", s.handleAck)
	router.GET("/cluster/hosts", s.handleListHosts)
	return router
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleRegister admits a new daemon (spec §6's registration half of the
// protocol), builds the configuration its arrival changes, hands that
// configuration back in the response so the new host need not wait for
// its own broadcast, and pushes the same configuration to every registered
// host, the new one included.
func (s *server) handleRegister(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req cluster.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "decode register request: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Host.IP == "" || req.Host.InboundPort == 0 {
		http.Error(w, "missing ip/inbound_port", http.StatusBadRequest)
		return
	}

	id := s.registry.Register(req.Host.IP, req.Host.InboundPort, req.Host.InboundVersion,
		req.Host.OutboundPort, req.Host.OutboundVersion, req.Host.HTTPPort)

	s.broadcastMu.Lock()
	text, version := s.registry.Build()
	s.broadcastMu.Unlock()

	s.logger.Info("host registered", zap.Uint64("host_id", id), zap.String("ip", req.Host.IP), zap.Uint64("config_version", version))

	// Every other already-registered host learns of this one in the
	// background; the new host gets the same text inline in its own
	// response below and need not wait for its own broadcast.
	go func() {
		s.broadcastMu.Lock()
		defer s.broadcastMu.Unlock()
		s.broadcastLocked(context.Background(), text, version)
	}()

	resp := cluster.RegisterResponse{
		Host:          req.Host,
		Configuration: text,
		Version:       version,
	}
	resp.Host.ID = id

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// handleAck records a daemon's response to a pushed configuration. A BAD
// status is logged but otherwise inert — the reference coordinator has no
// retry or alerting path beyond the next configuration change carrying a
// newer version past whatever the daemon rejected.
func (s *server) handleAck(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var ack cluster.AckRequest
	if err := json.NewDecoder(r.Body).Decode(&ack); err != nil {
		http.Error(w, "decode ack: "+err.Error(), http.StatusBadRequest)
		return
	}
	if ack.Status != "ACK" {
		s.logger.Warn("daemon rejected pushed configuration", zap.Uint64("host_id", ack.HostID), zap.Uint64("version", ack.Version))
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListHosts is an operational convenience endpoint, not part of
// spec §6's protocol: current host IDs, for a human or a test harness to
// confirm who is registered without parsing configuration text.
func (s *server) handleListHosts(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		HostIDs []uint64 `json:"host_ids"`
	}{HostIDs: s.registry.HostIDs()})
}
