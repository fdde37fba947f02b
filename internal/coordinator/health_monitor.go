package coordinator

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// hostHealth tracks one host's consecutive health-check outcomes.
type hostHealth struct {
	lastCheck        time.Time
	lastHealthy      time.Time
	status           string
	consecutiveFails int
}

// HealthMonitor periodically probes every registered host's /health
// endpoint and calls back once a host crosses maxFailures consecutive
// failures, so the caller can mark it StateShutdown and rebuild
// placement. Adapted from the teacher's node health monitor: same
// ticker-driven poll loop and consecutive-failure threshold, generalized
// from node IDs to HyperDex host IDs.
type HealthMonitor struct {
	mu          sync.RWMutex
	hosts       map[uint64]*hostHealth
	checkFunc   func(addr string) error
	onUnhealthy func(hostID uint64)
	ctx         context.Context
	cancel      context.CancelFunc
	interval    time.Duration
	timeout     time.Duration
	maxFailures int
	logger      *zap.Logger
	wg          sync.WaitGroup
}

// NewHealthMonitor builds a monitor that polls every interval, marking a
// host unhealthy after 3 consecutive failed checks.
func NewHealthMonitor(interval time.Duration, logger *zap.Logger) *HealthMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &HealthMonitor{
		interval:    interval,
		timeout:     2 * time.Second,
		maxFailures: 3,
		hosts:       make(map[uint64]*hostHealth),
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger,
	}
}

// SetOnUnhealthy sets the callback invoked the moment a host first
// crosses maxFailures consecutive failures.
func (h *HealthMonitor) SetOnUnhealthy(callback func(hostID uint64)) {
	h.onUnhealthy = callback
}

// SetCheckFunction overrides the default HTTP /health probe, for tests.
func (h *HealthMonitor) SetCheckFunction(fn func(addr string) error) {
	h.checkFunc = fn
}

// HostAddr is the (id, addr) pair a hostProvider yields for one round of
// probing.
type HostAddr struct {
	ID   uint64
	Addr string
}

// Start runs the poll loop until ctx (or the monitor's own Stop) is
// canceled. hostProvider is consulted fresh on every tick so newly
// registered or deregistered hosts are picked up without restarting the
// monitor.
func (h *HealthMonitor) Start(ctx context.Context, hostProvider func() []HostAddr) {
	h.wg.Add(1)
	defer h.wg.Done()

	if ctx == nil {
		ctx = h.ctx
	}
	if h.checkFunc == nil {
		h.checkFunc = h.defaultCheck
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.checkAll(hostProvider())
	for {
		select {
		case <-ticker.C:
			h.checkAll(hostProvider())
		case <-ctx.Done():
			return
		case <-h.ctx.Done():
			return
		}
	}
}

// Stop cancels the poll loop and waits for it to exit.
func (h *HealthMonitor) Stop() {
	h.cancel()
	h.wg.Wait()
}

func (h *HealthMonitor) checkAll(hosts []HostAddr) {
	current := make(map[uint64]bool, len(hosts))
	for _, host := range hosts {
		current[host.ID] = true
		h.checkOne(host)
	}

	h.mu.Lock()
	for id := range h.hosts {
		if !current[id] {
			delete(h.hosts, id)
		}
	}
	h.mu.Unlock()
}

func (h *HealthMonitor) checkOne(host HostAddr) {
	h.mu.Lock()
	hh, ok := h.hosts[host.ID]
	if !ok {
		hh = &hostHealth{status: "unknown", lastCheck: time.Now(), lastHealthy: time.Now()}
		h.hosts[host.ID] = hh
	}
	h.mu.Unlock()

	err := h.checkFunc(host.Addr)

	h.mu.Lock()
	defer h.mu.Unlock()
	hh.lastCheck = time.Now()

	if err != nil {
		hh.consecutiveFails++
		h.logger.Debug("health check failed", zap.Uint64("host", host.ID), zap.Int("fails", hh.consecutiveFails), zap.Error(err))
		if hh.consecutiveFails >= h.maxFailures {
			wasHealthy := hh.status != "unhealthy"
			hh.status = "unhealthy"
			if wasHealthy && h.onUnhealthy != nil {
				h.logger.Warn("host marked unhealthy", zap.Uint64("host", host.ID), zap.Int("fails", hh.consecutiveFails))
				go h.onUnhealthy(host.ID)
			}
		}
		return
	}

	hh.status = "healthy"
	hh.consecutiveFails = 0
	hh.lastHealthy = time.Now()
}

func (h *HealthMonitor) defaultCheck(addr string) error {
	url := addr
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = fmt.Sprintf("http://%s", url)
	}
	if !strings.HasSuffix(url, "/health") {
		url = strings.TrimRight(url, "/") + "/health"
	}

	client := &http.Client{Timeout: h.timeout}
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check: %s returned %d", url, resp.StatusCode)
	}
	return nil
}
