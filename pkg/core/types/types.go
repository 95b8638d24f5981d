// Package types holds the small value types shared between the index,
// the distance kernels and the serving layer.
package types

// Candidate is a scored node produced during graph traversal. Candidates
// order ascending by distance; equal distances order by ascending ID so that
// results are deterministic.
type Candidate struct {
	ID       uint32
	Distance float32
}

// Less reports whether c sorts before other.
func (c Candidate) Less(other Candidate) bool {
	if c.Distance != other.Distance {
		return c.Distance < other.Distance
	}
	return c.ID < other.ID
}

// SearchResult is a single query result: the dense vector ID assigned at
// build time and its distance to the query.
type SearchResult struct {
	ID       uint32
	Distance float32
}
