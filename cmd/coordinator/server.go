// Package main implements HyperDex's reference external coordinator: the
// process spec §6 describes as tracking cluster membership and producing
// the text configuration format every daemon parses and installs. See
// internal/coordinator for the placement and health-monitoring logic this
// binary only wires together and exposes over HTTP.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/hyperdex/internal/cluster"
	"github.com/dreamware/hyperdex/internal/coordinator"
)

// server is the coordinator's runtime state: host/space bookkeeping, the
// health poll loop, and the broadcast fan-out that follows every
// placement change. Grounded on the teacher's coordinator `server`
// struct (cmd/coordinator/main.go in johnjansen-torua), generalized from
// a flat node list and shard registry to internal/coordinator's
// HyperDex-shaped HostRegistry.
type server struct {
	registry      *coordinator.HostRegistry
	healthMonitor *coordinator.HealthMonitor
	logger        *zap.Logger

	broadcastMu sync.Mutex // serializes concurrent broadcasts so a slow one can't race a newer version past a faster one
}

// newServer builds a coordinator serving one hardcoded "kv" space — the
// same one cmd/daemon expects, matching the admin space-definition
// language spec.md leaves out of scope (spec.md §1).
func newServer(healthInterval time.Duration, logger *zap.Logger) *server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &server{
		registry:      coordinator.NewHostRegistry(),
		healthMonitor: coordinator.NewHealthMonitor(healthInterval, logger),
		logger:        logger,
	}
	s.registry.RegisterSpace("kv", []string{"key", "value"}, [][]string{{"value"}})

	s.healthMonitor.SetOnUnhealthy(func(hostID uint64) {
		s.logger.Warn("host unhealthy, evicting from placement", zap.Uint64("host_id", hostID))
		s.registry.SetState(hostID, coordinator.StateShutdown)
		s.rebuildAndBroadcast(context.Background())
	})
	return s
}

// startHealthMonitor runs the poll loop until ctx is canceled, probing
// every currently registered host that has an HTTP port at that HTTP API
// port (HostHTTPAddr), not at its inbound chain port, since HealthMonitor's
// defaultCheck targets the daemon's HTTP API.
func (s *server) startHealthMonitor(ctx context.Context) {
	s.healthMonitor.Start(ctx, func() []coordinator.HostAddr {
		var out []coordinator.HostAddr
		for _, id := range s.registry.HostIDs() {
			ip, httpPort, ok := s.registry.HostHTTPAddr(id)
			if !ok || httpPort == 0 {
				continue
			}
			out = append(out, coordinator.HostAddr{ID: id, Addr: fmt.Sprintf("%s:%d", ip, httpPort)})
		}
		return out
	})
}

// rebuildAndBroadcast builds a fresh configuration and pushes it to every
// registered host, serialized so broadcasts never race each other out of
// version order.
func (s *server) rebuildAndBroadcast(ctx context.Context) {
	s.broadcastMu.Lock()
	defer s.broadcastMu.Unlock()

	text, version := s.registry.Build()
	s.broadcastLocked(ctx, text, version)
}

// broadcastLocked pushes configuration text to every registered host in
// parallel, logging (not retrying) per-host failures — the next placement
// change's broadcast, or the host's own next registration, will carry a
// newer version anyway (spec §4.E "Reconfiguration" is idempotent to a
// late or dropped push).
func (s *server) broadcastLocked(ctx context.Context, text string, version uint64) {
	payload, err := json.Marshal(cluster.ConfigurationPush{Configuration: text, Version: version})
	if err != nil {
		s.logger.Error("failed to encode configuration push", zap.Error(err))
		return
	}
	req := cluster.BroadcastRequest{Path: "/cluster/configuration", Payload: payload}

	var wg sync.WaitGroup
	for _, id := range s.registry.HostIDs() {
		ip, httpPort, ok := s.registry.HostHTTPAddr(id)
		if !ok || httpPort == 0 {
			continue
		}
		wg.Add(1)
		go func(id uint64, url string) {
			defer wg.Done()
			var ack cluster.AckRequest
			pushCtx, cancel := context.WithTimeout(ctx, 4*time.Second)
			defer cancel()
			if err := cluster.PostJSON(pushCtx, url, req, &ack); err != nil {
				s.logger.Warn("configuration push failed", zap.Uint64("host_id", id), zap.Error(err))
				return
			}
			if ack.Status != "ACK" {
				s.logger.Warn("host rejected pushed configuration", zap.Uint64("host_id", id), zap.String("status", ack.Status))
			}
		}(id, fmt.Sprintf("http://%s:%d/cluster/configuration", ip, httpPort))
	}
	wg.Wait()
}
