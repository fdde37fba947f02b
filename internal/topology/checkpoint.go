package topology

import (
	"bytes"
	"encoding/gob"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

var checkpointBucket = []byte("topology")
var checkpointKey = []byte("configuration")

// checkpointRecord is the gob-serializable projection of a Configuration
// persisted across restarts. Configuration itself carries unexported btree
// indices rebuilt by buildIndices on load, so only the parsed record lines
// are round-tripped.
type checkpointRecord struct {
	Version   uint64
	Hosts     map[uint64]Host
	Spaces    map[string]Space
	Subspaces map[string][]Subspace
	Regions   []Region
	Transfers []Transfer
}

// SaveCheckpoint persists cfg to db so a restarted daemon can recover its
// last-known role before a fresh push arrives from the coordinator. This
// is a crash-recovery supplement only: the coordinator remains the source
// of truth, and any checkpoint is superseded by the next configuration
// push regardless of version.
func SaveCheckpoint(db *bolt.DB, cfg *Configuration) error {
	rec := checkpointRecord{
		Version:   cfg.Version,
		Hosts:     cfg.hosts,
		Spaces:    cfg.spaces,
		Subspaces: cfg.subspaces,
		Regions:   cfg.regions,
		Transfers: cfg.transfers,
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&rec); err != nil {
		return errors.Wrap(err, "topology: encode checkpoint")
	}
	return db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(checkpointBucket)
		if err != nil {
			return err
		}
		return b.Put(checkpointKey, buf.Bytes())
	})
}

// LoadCheckpoint reads back the last configuration SaveCheckpoint wrote, or
// returns (nil, false, nil) if none has ever been saved.
func LoadCheckpoint(db *bolt.DB) (*Configuration, bool, error) {
	var raw []byte
	err := db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(checkpointBucket)
		if b == nil {
			return nil
		}
		if v := b.Get(checkpointKey); v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if raw == nil {
		return nil, false, nil
	}
	var rec checkpointRecord
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&rec); err != nil {
		return nil, false, errors.Wrap(err, "topology: decode checkpoint")
	}
	cfg := newConfiguration(rec.Version)
	cfg.hosts = rec.Hosts
	cfg.spaces = rec.Spaces
	cfg.subspaces = rec.Subspaces
	cfg.regions = rec.Regions
	cfg.transfers = rec.Transfers
	for name, s := range cfg.spaces {
		cfg.spaceIDByName[name] = s.ID
	}
	cfg.buildIndices()
	return cfg, true, nil
}
