package transport

import (
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/dreamware/hyperdex/internal/topology"
)

// ErrDropped is returned (never logged as an error upstream — see doc.go)
// when a message fails the receive-side version/routing check. Per spec
// §7, this is "not an error": the sender is expected to retransmit.
var ErrDropped = errors.New("transport: message dropped")

// ErrNoRoute is returned by Send when the destination entity does not
// currently resolve to any host in the installed configuration.
var ErrNoRoute = errors.New("transport: no route to destination entity")

// Dialer opens a fresh byte-stream connection to a host. Production
// callers pass a net.Dialer-backed implementation; tests substitute an
// in-memory pipe.
type Dialer interface {
	Dial(ctx context.Context, host topology.Host) (io.ReadWriteCloser, error)
}

// ConfigSource returns the currently installed configuration. The daemon
// swaps this pointer under its pause/unpause barrier (§5); Transport never
// mutates it.
type ConfigSource func() *topology.Configuration

// Transport is the logical-transport layer of spec §4.F: it frames
// Envelopes over whatever byte transport a Dialer provides, checks every
// inbound message's version_to and destination against the installed
// configuration, and looks up the current instance for a destination
// entity on send. It makes no at-most-once or in-order guarantee; callers
// above this layer must be idempotent under retransmission (§4.F, §5).
type Transport struct {
	localHost uint64
	cfg       ConfigSource
	dialer    Dialer
	logger    *zap.Logger

	mu    sync.Mutex
	conns map[uint64]io.ReadWriteCloser
}

// New builds a Transport for localHost, resolving destinations through
// cfg and opening connections through dialer.
func New(localHost uint64, cfg ConfigSource, dialer Dialer, logger *zap.Logger) *Transport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transport{
		localHost: localHost,
		cfg:       cfg,
		dialer:    dialer,
		logger:    logger,
		conns:     make(map[uint64]io.ReadWriteCloser),
	}
}

// Accept applies the receive-side check spec §4.F mandates: version_to
// must equal the locally installed configuration version, and the
// destination entity must currently resolve to this host. Both failures
// return ErrDropped; the caller's only obligation is to not propagate it
// as a processing error (§7: "silently discarded; this is not an error").
func (t *Transport) Accept(e Envelope) error {
	cfg := t.cfg()
	if cfg == nil || !cfg.CheckInbound(uint64(e.VersionTo), e.To, t.localHost) {
		return ErrDropped
	}
	return nil
}

// Send frames e and writes it to whichever host currently hosts e.To,
// opening a connection on first use and reusing it afterward. A
// connection write failure invalidates the cached connection so the next
// Send redials; the chain layer above is responsible for retransmitting
// the message itself.
func (t *Transport) Send(ctx context.Context, e Envelope) error {
	cfg := t.cfg()
	if cfg == nil {
		return ErrNoRoute
	}
	host, ok := cfg.HostFor(e.To)
	if !ok {
		return ErrNoRoute
	}

	conn, err := t.connFor(ctx, host)
	if err != nil {
		return err
	}
	if err := WriteEnvelope(conn, e); err != nil {
		t.invalidate(host.ID)
		return errors.Wrap(err, "transport: write envelope")
	}
	return nil
}

func (t *Transport) connFor(ctx context.Context, host topology.Host) (io.ReadWriteCloser, error) {
	t.mu.Lock()
	conn, ok := t.conns[host.ID]
	t.mu.Unlock()
	if ok {
		return conn, nil
	}

	conn, err := t.dialer.Dial(ctx, host)
	if err != nil {
		return nil, errors.Wrapf(err, "transport: dial host %d", host.ID)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.conns[host.ID]; ok {
		conn.Close()
		return existing, nil
	}
	t.conns[host.ID] = conn
	return conn, nil
}

func (t *Transport) invalidate(hostID uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if conn, ok := t.conns[hostID]; ok {
		conn.Close()
		delete(t.conns, hostID)
	}
}

// Close tears down every cached connection.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var firstErr error
	for id, conn := range t.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(t.conns, id)
	}
	return firstErr
}
