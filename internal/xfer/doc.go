// Package xfer implements live region transfer, spec §4.H: moving a
// region's contents from its existing replicas to a newly provisioned one
// while ordinary writes continue to flow through the chain.
//
// # Roles
//
// Source runs on a region's current tail once a configuration adds a new
// replica downstream of it. It takes one snapshot of the region (composed
// per internal/region's Snapshot, spec §4.D) and streams it to the sink in
// key order as a sequence of XFER_DATA messages, ending with XFER_DONE.
//
// Sink runs on the newly added replica. It applies every XFER_DATA entry
// to its local region and records the (key, version) pair in a triggers
// set. Data may arrive out of order across a redialed connection, so Sink
// buffers a not-yet-contiguous sequence number the same way
// internal/replication's Keyholder defers an out-of-order chain message,
// draining it once the gap closes.
//
// # Going live
//
// Once XFER_DONE has arrived and every sequence number up to it has been
// applied, Sink closes the channel AwaitLive returns. Sink.Triggered reports
// whether a (key, version) was already applied by the transfer itself (the
// triggers set of spec §4.H). cmd/daemon does not hold ordinary chain
// messages during a transfer: it dispatches them to the replica's Keyholder
// as usual, and it calls neither AwaitLive nor Triggered.
package xfer
