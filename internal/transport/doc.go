// Package transport implements the logical-transport layer of spec §4.F:
// a framed Envelope format carrying a version range, a source and
// destination entity, a message type, and a payload, sent over whatever
// byte transport a Dialer opens.
//
// # Receive
//
// Accept checks that an inbound Envelope's version_to matches the
// installed configuration and that its destination entity currently
// resolves to the local host. Either failure means the message is
// silently dropped — spec §7 is explicit that this is "not an error";
// the sender's retransmission (driven by internal/replication) is the
// recovery path, not a transport-level retry.
//
// # Send
//
// Send resolves the destination entity's current host from the supplied
// ConfigSource, reuses a cached connection if one is open, and frames the
// Envelope onto it. There is no at-most-once or in-order delivery
// guarantee, including across messages to different destinations — the
// core logic above this package (internal/replication) is required to be
// idempotent under retransmission and tolerant of reordering.
//
// # Connection lifecycle
//
// A write failure invalidates the cached connection so the next Send
// redials; Transport does not itself retry a failed send; that is, again,
// the chain layer's job (its retransmission timer will simply try again).
package transport
