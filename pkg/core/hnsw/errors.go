package hnsw

import (
	"errors"
	"fmt"
)

var (
	// ErrNotBuilt is returned when Search is called before the index has
	// been frozen. Searching a building index is a programming error, not a
	// recoverable condition.
	ErrNotBuilt = errors.New("hnsw: index is not built")

	// ErrFrozen is returned when Insert is called after Freeze. The index
	// is built once; there is no path back to the building state short of
	// a full rebuild.
	ErrFrozen = errors.New("hnsw: index is frozen")

	// ErrCapacity is returned when an insert id falls outside the capacity
	// the index was allocated with.
	ErrCapacity = errors.New("hnsw: insert beyond index capacity")
)

// DimensionMismatchError reports a vector whose length differs from the
// index dimension.
type DimensionMismatchError struct {
	Want, Got int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("hnsw: vector has %d components, index dimension is %d", e.Got, e.Want)
}
