package transport

import (
	"context"
	"fmt"
	"io"
	"net"

	"github.com/dreamware/hyperdex/internal/topology"
)

// TCPDialer is the production Dialer: it connects to a host's inbound
// port over TCP.
type TCPDialer struct {
	// NetDialer is used for the underlying connect; its Timeout and
	// KeepAlive apply. Zero value is a plain net.Dialer.
	NetDialer net.Dialer
}

// Dial connects to host's inbound address.
func (d *TCPDialer) Dial(ctx context.Context, host topology.Host) (io.ReadWriteCloser, error) {
	addr := fmt.Sprintf("%s:%d", host.IP, host.InboundPort)
	return d.NetDialer.DialContext(ctx, "tcp", addr)
}
