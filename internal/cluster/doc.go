// Package cluster is the HTTP/JSON carrier a daemon and the reference
// coordinator binary use to exchange spec §6's text configuration
// format: it does not interpret configuration text itself (that's
// internal/topology's job) and knows nothing about hyperspace, chain
// replication, or storage.
//
// # Protocol
//
// A daemon starting up POSTs a RegisterRequest (its IP and inbound/
// outbound ports) to the coordinator's /cluster/register endpoint. The
// coordinator assigns a host ID, folds the host into its placement, and
// replies with a RegisterResponse carrying the full configuration text
// and the host ID the daemon should address itself as.
//
// Once registered, the coordinator pushes a fresh configuration whenever
// placement changes (another host registers, or a health check evicts
// one) by POSTing a BroadcastRequest with
// Path == "/cluster/configuration" and a ConfigurationPush payload to
// every daemon's /cluster/configuration endpoint. The daemon parses the
// text with topology.ParseConfiguration under its pause/unpause barrier
// and replies with an AckRequest — Status "ACK" on a successful parse
// and install, "BAD" otherwise — as the JSON body of its HTTP response to
// that push. This is the same accept/reject exchange spec §6
// describes as bare `ACK\n`/`BAD\n` wire lines, carried here as JSON
// fields instead of a raw line because the daemon↔coordinator leg runs
// over HTTP rather than the node-to-node binary envelope protocol
// (internal/transport).
//
// The coordinator also polls each daemon's /health endpoint on its own
// schedule (internal/coordinator.HealthMonitor); that exchange is a plain
// HTTP GET checked for status 200, with no request/response type here,
// since a health probe carries no payload beyond success/failure.
package cluster
