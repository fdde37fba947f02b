// Package search implements the search executor of spec §4.I: given a
// conjunctive predicate over a space's secondary attributes, pick the
// subspace whose dimensions best cover it, resolve which regions of that
// subspace can possibly hold a match, and scan each one's snapshot for
// entries that satisfy the predicate.
//
// # Subspace selection and pruning
//
// SelectSubspace picks the subspace def with the largest overlap with the
// predicate's constrained attributes. When every one of that subspace's
// attributes carries an equality term, the predicate pins down an exact
// point in the subspace's hash space, which exactSecondaryHash computes
// with hyperspace's Encode and Interleave. Nothing in this package prunes
// regions by that point: Executor scans every region its caller passes,
// and cmd/daemon passes every local region of its value subspace. Every
// candidate is run through the same residual per-entry predicate check
// regardless of how its region was selected, so results stay correct.
//
// # Per-region scan
//
// Within one region's snapshot, a postingIndex buckets each row's decoded
// attribute values so the predicate's equality terms can be intersected as
// roaring bitmaps of candidate row ordinals before any row is ever fully
// re-examined — the mechanism spec §8's 32-bit-bitmap search scenario
// exists to exercise. Range terms and any equality term without a
// predicate contribution are still checked by direct residual evaluation
// against the narrowed candidate set.
//
// # Fan-out and pagination
//
// Executor.Execute scans every matched, locally-hosted region concurrently
// under an errgroup.Group (spec §4.H mirrors the same fan-out shape for
// transfer). A Session then serves REQ_SEARCH_NEXT pagination one item at
// a time over the merged, sorted result set until REQ_SEARCH_STOP or
// exhaustion.
package search
