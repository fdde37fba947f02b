package main

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"github.com/dreamware/hyperdex/internal/cluster"
	"github.com/dreamware/hyperdex/internal/datatype"
	"github.com/dreamware/hyperdex/internal/hyperspace"
	"github.com/dreamware/hyperdex/internal/replication"
	"github.com/dreamware/hyperdex/internal/search"
	"github.com/dreamware/hyperdex/internal/storage"
	"github.com/dreamware/hyperdex/internal/topology"
)

// valueSubspace is the subspace number kvSchema partitions on the value
// attribute — the one a SEARCH scans. GET, PUT, and DEL address their
// region through the key subspace (subspace 0), whose head is the point
// leader responsible for the write path.
const valueSubspace = 1

// Routes builds this daemon's client-facing HTTP surface: point
// operations against /kv/:key, a conjunctive scan at /kv/search, a liveness
// probe, and the coordinator's configuration-push endpoint. httprouter
// replaces the predecessor binary's manual strings.TrimPrefix path
// parsing with declared, parameterized routes.
func (d *Daemon) Routes() http.Handler {
	router := httprouter.New()
	router.GET("/health", d.handleHealth)
	router.PUT("/kv/:key", d.handlePut)
	router.GET("/kv/:key", d.handleGet)
	router.DELETE("/kv/:key", d.handleDelete)
	router.POST("/kv/search", d.handleSearch)
	router.POST("/cluster/configuration", d.handleConfigurationPush)
	return router
}

func (d *Daemon) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handlePut implements spec §4.G's client PUT: find the key's point
// leader, hand the new value to its keyholder, and, if the write had a
// next hop to forward to, block for its cluster-wide CHAIN_ACK before
// answering the client (spec §3's "PUT completes when acked by every
// replica in the chain").
func (d *Daemon) handlePut(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	key := ps.ByName("key")
	value, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
		return
	}

	primaryHash, _, err := hyperspace.Coordinate(kvSchema, [][]byte{[]byte(key), value})
	if err != nil {
		http.Error(w, "coordinate: "+err.Error(), http.StatusBadRequest)
		return
	}

	lr, ok := d.regionFor(0, primaryHash)
	if !ok {
		http.Error(w, "key not hosted by this daemon", http.StatusServiceUnavailable)
		return
	}
	if !d.router.IsHead(lr.self) {
		http.Error(w, "this replica is not the point leader for this key", http.StatusConflict)
		return
	}

	row := search.EncodeRow([][]byte{value})
	nonce := d.nextNonce()
	handle := replication.ClientHandle{Nonce: nonce, From: lr.self}
	pc := d.registerPending(nonce)

	mutate := func(_ []byte, _ bool) ([]byte, bool, replication.Status, error) {
		return row, true, replication.StatusSuccess, nil
	}

	var status replication.Status
	var mutateErr error
	doErr := lr.registry.Do(lr.self, key, primaryHash, func(kh *replication.Keyholder) error {
		status, mutateErr = kh.ClientPut(r.Context(), handle, len(kvSchema.Subspaces), mutate)
		return mutateErr
	})
	if doErr != nil {
		d.abandonPending(nonce)
		http.Error(w, doErr.Error(), http.StatusInternalServerError)
		return
	}
	if status != replication.StatusSuccess {
		d.abandonPending(nonce)
		writeStatus(w, status)
		return
	}

	finalStatus, err := d.awaitAck(r.Context(), nonce, pc)
	if err != nil {
		http.Error(w, err.Error(), http.StatusGatewayTimeout)
		return
	}
	writeStatus(w, finalStatus)
}

// getResult is handleGet's singleflight.Do payload: the raw stored row
// and its version, bundled so concurrent callers sharing one in-flight
// read all see the same answer.
type getResult struct {
	raw     []byte
	version uint64
}

// handleGet answers directly from the local region if this daemon hosts
// it, without forwarding to whichever replica happens to be closer to
// committed — any chain member's on-disk value is the last one it
// applied, which is exactly what spec §4.C's shard store holds. A
// production deployment that fronts every replica with client routing
// would forward instead of erroring here; this reference daemon expects
// the client (or a thin proxy ahead of it) to address a hosting replica
// directly.
func (d *Daemon) handleGet(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	key := ps.ByName("key")
	primaryHash, _, err := hyperspace.Coordinate(kvSchema, [][]byte{[]byte(key), nil})
	if err != nil {
		http.Error(w, "coordinate: "+err.Error(), http.StatusBadRequest)
		return
	}

	lr, ok := d.regionFor(0, primaryHash)
	if !ok {
		http.Error(w, "key not hosted by this daemon", http.StatusServiceUnavailable)
		return
	}

	// Concurrent GETs for the same key collapse onto one region read;
	// the hash keys the in-flight call to the key, not the region, so two
	// different keys never wait on each other.
	got, err, _ := d.getGroup.Do(key, func() (any, error) {
		raw, version, err := lr.store.Get(key, primaryHash)
		if err == storage.ErrKeyNotFound {
			return getResult{}, nil
		}
		if err != nil {
			return nil, err
		}
		return getResult{raw: raw, version: version}, nil
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	result := got.(getResult)
	raw, version := result.raw, result.version
	if raw == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	row, err := search.DecodeRow(raw, 1)
	if err != nil {
		http.Error(w, "stored row malformed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("X-HyperDex-Version", uintToString(version))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(row[0])
}

// handleDelete mirrors handlePut for spec §4.G's client DEL.
func (d *Daemon) handleDelete(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	key := ps.ByName("key")
	primaryHash, _, err := hyperspace.Coordinate(kvSchema, [][]byte{[]byte(key), nil})
	if err != nil {
		http.Error(w, "coordinate: "+err.Error(), http.StatusBadRequest)
		return
	}

	lr, ok := d.regionFor(0, primaryHash)
	if !ok {
		http.Error(w, "key not hosted by this daemon", http.StatusServiceUnavailable)
		return
	}
	if !d.router.IsHead(lr.self) {
		http.Error(w, "this replica is not the point leader for this key", http.StatusConflict)
		return
	}

	nonce := d.nextNonce()
	handle := replication.ClientHandle{Nonce: nonce, From: lr.self}
	pc := d.registerPending(nonce)

	var status replication.Status
	var delErr error
	doErr := lr.registry.Do(lr.self, key, primaryHash, func(kh *replication.Keyholder) error {
		status, delErr = kh.ClientDel(r.Context(), handle)
		return delErr
	})
	if doErr != nil {
		d.abandonPending(nonce)
		http.Error(w, doErr.Error(), http.StatusInternalServerError)
		return
	}
	if status != replication.StatusSuccess {
		d.abandonPending(nonce)
		writeStatus(w, status)
		return
	}

	finalStatus, err := d.awaitAck(r.Context(), nonce, pc)
	if err != nil {
		http.Error(w, err.Error(), http.StatusGatewayTimeout)
		return
	}
	writeStatus(w, finalStatus)
}

// searchRequest is the JSON body of a POST to /kv/search: an equality or
// range constraint on the value attribute (attribute index 1 — the only
// secondary attribute kvSchema declares).
type searchRequest struct {
	Eq *string `json:"eq,omitempty"`
	Lo *string `json:"lo,omitempty"`
	Hi *string `json:"hi,omitempty"`
}

type searchResult struct {
	Key     string `json:"key"`
	Value   string `json:"value"`
	Version uint64 `json:"version"`
}

// handleSearch scans every region of the value subspace this daemon
// hosts locally (spec §4.I): it does not fan a query out to peer daemons
// hosting the rest of the subspace, a documented simplification for this
// reference implementation (see DESIGN.md) — a production coordinator-
// aware client would instead issue the same predicate to every daemon
// hosting a slice of the subspace and merge the results itself.
func (d *Daemon) handleSearch(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "decode request: "+err.Error(), http.StatusBadRequest)
		return
	}

	term := search.Term{AttrIndex: 1, Type: stringDatatype()}
	if req.Eq != nil {
		term.HasEq = true
		term.Eq = []byte(*req.Eq)
	}
	if req.Lo != nil {
		term.HasLo = true
		term.Lo = []byte(*req.Lo)
	}
	if req.Hi != nil {
		term.HasHi = true
		term.Hi = []byte(*req.Hi)
	}
	pred := search.Predicate{Terms: []search.Term{term}}

	var regions []search.MatchedRegion
	for _, lr := range d.allRegions(valueSubspace) {
		regions = append(regions, search.MatchedRegion{Entity: lr.self, Store: lr.store})
	}

	matches, err := d.searchExec.Execute(r.Context(), pred, regions)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	out := make([]searchResult, 0, len(matches))
	for _, m := range matches {
		row, err := search.DecodeRow(m.Value, 1)
		if err != nil {
			continue
		}
		out = append(out, searchResult{Key: m.Key, Value: string(row[0]), Version: m.Version})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

// handleConfigurationPush installs a configuration the coordinator has
// pushed (spec §6's broadcast half of the protocol) and replies with the
// ACK/BAD line the coordinator's broadcaster expects, carried as JSON
// rather than a raw socket line (internal/cluster.AckRequest).
func (d *Daemon) handleConfigurationPush(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req cluster.BroadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "decode broadcast: "+err.Error(), http.StatusBadRequest)
		return
	}

	var push cluster.ConfigurationPush
	if err := json.Unmarshal(req.Payload, &push); err != nil {
		d.replyAck(w, 0, "BAD")
		return
	}

	cfg, err := topology.ParseConfiguration(newStringReader(push.Configuration), push.Version)
	if err != nil {
		d.logger.Warn("rejected pushed configuration", zap.Error(err))
		d.replyAck(w, push.Version, "BAD")
		return
	}

	d.installConfiguration(cfg)
	d.replyAck(w, push.Version, "ACK")
}

func (d *Daemon) replyAck(w http.ResponseWriter, version uint64, status string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(cluster.AckRequest{HostID: d.hostID, Version: version, Status: status})
}

// abandonPending releases a nonce registered for an ack that will never
// arrive because the local step before forwarding already failed.
func (d *Daemon) abandonPending(nonce uint64) {
	d.pendingMu.Lock()
	delete(d.pendingAcks, nonce)
	d.pendingMu.Unlock()
}

func uintToString(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func stringDatatype() datatype.Type {
	return datatype.TypeString
}

func newStringReader(s string) *strings.Reader {
	return strings.NewReader(s)
}

func writeStatus(w http.ResponseWriter, status replication.Status) {
	switch status {
	case replication.StatusSuccess:
		w.WriteHeader(http.StatusOK)
	case replication.StatusNotFound:
		w.WriteHeader(http.StatusNotFound)
	case replication.StatusCmpFail, replication.StatusWrongArity, replication.StatusOverflow:
		w.WriteHeader(http.StatusPreconditionFailed)
	default:
		w.WriteHeader(http.StatusInternalServerError)
	}
	_, _ = w.Write([]byte(status.String()))
}
