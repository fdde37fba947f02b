// Package datatype implements per-attribute validation, atomic mutation
// application, and total ordering for every HyperDex attribute type: string,
// int64, float, and sorted list/set/map collections over those scalars.
//
// Every type in this package satisfies the same three-operation contract so
// that callers (region, replication, search) never need a type switch of
// their own: Validate, Apply, and Compare. Errors from Apply are always one
// of the sentinels below; in practice ErrMalformed, ErrOverflow, or
// ErrWrongAction (see ErrWrongType).
package datatype

import "github.com/pkg/errors"

var (
	// ErrWrongType reports a mutation argument whose datatype does not
	// match the attribute being mutated. Mutation arguments carry no
	// datatype tag, so no Apply in this package returns it; a mutation the
	// attribute's type does not support (e.g. NUM_ADD against a string)
	// fails with ErrWrongAction instead.
	ErrWrongType = errors.New("datatype: argument type does not match attribute")

	// ErrMalformed is returned when an argument fails Validate for its own
	// claimed type (e.g. an odd-length int64 argument, an unsorted set
	// argument to SET_UNION).
	ErrMalformed = errors.New("datatype: argument is not well-formed")

	// ErrOverflow is returned by numeric mutations that wrap or divide by
	// zero would otherwise silently corrupt.
	ErrOverflow = errors.New("datatype: numeric operation overflowed")

	// ErrWrongAction is returned when the mutation is not supported by the
	// target attribute's type at all (e.g. LIST_LPUSH against an int64).
	ErrWrongAction = errors.New("datatype: mutation not supported by this type")
)
