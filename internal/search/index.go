package search

import (
	"github.com/RoaringBitmap/roaring/v2"
)

// postingKey identifies one (attribute, exact value) pair a postingIndex
// has seen.
type postingKey struct {
	attr  int
	value string
}

// postingIndex buckets the ordinal position of every decoded row by each
// of its attribute values, so a predicate's equality terms can be
// resolved as a bitmap intersection instead of a per-row scan — the
// acceleration spec §8's 32-bit-bitmap search scenario is built to
// exercise (32 equality terms intersected down to the one matching row
// instead of linearly scanning a million entries).
type postingIndex struct {
	postings map[postingKey]*roaring.Bitmap
}

func buildPostingIndex(rows [][][]byte) *postingIndex {
	idx := &postingIndex{postings: make(map[postingKey]*roaring.Bitmap)}
	for ordinal, row := range rows {
		for attrIdx, value := range row {
			key := postingKey{attr: attrIdx, value: string(value)}
			bmp, ok := idx.postings[key]
			if !ok {
				bmp = roaring.New()
				idx.postings[key] = bmp
			}
			bmp.Add(uint32(ordinal))
		}
	}
	return idx
}

// candidates intersects the posting lists for every equality term in pred
// whose attribute this index covers, returning the narrowed set of row
// ordinals still worth a residual check, and ok=false when pred has no
// equality terms at all (meaning every ordinal is a candidate and the
// caller should fall back to a full scan).
func (idx *postingIndex) candidates(pred Predicate, rowCount int) (*roaring.Bitmap, bool) {
	var result *roaring.Bitmap
	for _, t := range pred.Terms {
		if !t.HasEq {
			continue
		}
		key := postingKey{attr: t.AttrIndex - 1, value: string(t.Eq)}
		bmp, ok := idx.postings[key]
		if !ok {
			return roaring.New(), true
		}
		if result == nil {
			result = bmp.Clone()
		} else {
			result.And(bmp)
		}
	}
	if result == nil {
		return nil, false
	}
	return result, true
}
