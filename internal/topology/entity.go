package topology

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

// EntitySize is the wire size of a serialized Entity: u32 space | u16
// subspace | u8 prefix | u64 mask | u8 number, big-endian, per spec §6.
const EntitySize = 4 + 2 + 1 + 8 + 1

var errShortEntity = errors.New("topology: short entity buffer")

// Entity addresses one replica of one region: a virtual server. Space and
// Subspace name the subspace being addressed; PrefixBits/Mask identify the
// region (a prefix of the interleaved-hash point space); Number is the
// replica's position in the chain, 0 being the head.
type Entity struct {
	Space      uint32
	Subspace   uint16
	PrefixBits uint8
	Mask       uint64
	Number     uint8
}

// Encode serializes e into the §6 wire form.
func (e Entity) Encode() [EntitySize]byte {
	var buf [EntitySize]byte
	binary.BigEndian.PutUint32(buf[0:4], e.Space)
	binary.BigEndian.PutUint16(buf[4:6], e.Subspace)
	buf[6] = e.PrefixBits
	binary.BigEndian.PutUint64(buf[7:15], e.Mask)
	buf[15] = e.Number
	return buf
}

// DecodeEntity is the inverse of Entity.Encode.
func DecodeEntity(raw []byte) (Entity, error) {
	if len(raw) < EntitySize {
		return Entity{}, errShortEntity
	}
	return Entity{
		Space:      binary.BigEndian.Uint32(raw[0:4]),
		Subspace:   binary.BigEndian.Uint16(raw[4:6]),
		PrefixBits: raw[6],
		Mask:       binary.BigEndian.Uint64(raw[7:15]),
		Number:     raw[15],
	}, nil
}

// sameRegion reports whether e and o address replicas of the same region,
// ignoring Number.
func (e Entity) sameRegion(o Entity) bool {
	return e.Space == o.Space && e.Subspace == o.Subspace &&
		e.PrefixBits == o.PrefixBits && e.Mask == o.Mask
}

func (e Entity) String() string {
	return fmt.Sprintf("entity(space=%d,subspace=%d,prefix=%d/%#x,number=%d)",
		e.Space, e.Subspace, e.PrefixBits, e.Mask, e.Number)
}

// regionKey identifies a region independent of replica number; used as a
// map/btree key.
type regionKey struct {
	space      uint32
	subspace   uint16
	prefixBits uint8
	mask       uint64
}

func (e Entity) regionKey() regionKey {
	return regionKey{e.Space, e.Subspace, e.PrefixBits, e.Mask}
}
