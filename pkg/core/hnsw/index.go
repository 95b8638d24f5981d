// Package hnsw implements a Hierarchical Navigable Small World graph for
// approximate nearest neighbor search over dense float32 vectors.
//
// The index has two phases. During the building phase inserts run
// concurrently, with a mutex per node protecting its adjacency lists.
// Freeze transitions the index into the built phase; from then on the graph
// is immutable and searches read it without any locking.
//
// Vectors live in a single flat arena (float32 or int8, depending on the
// quantization setting), which keeps node access cache friendly and lets a
// persisted index be served straight out of a memory mapped file.
package hnsw

import (
	"context"
	"math"
	"math/rand"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/dkoess/semdex/pkg/core/distance"
	"github.com/dkoess/semdex/pkg/core/types"
)

const (
	stateBuilding = iota
	stateBuilt
)

// Index is a two-phase HNSW graph. All exported methods are safe for
// concurrent use within their phase: Insert may be called from many
// goroutines while building, Search from many goroutines once built.
type Index struct {
	cfg Config
	ml  float64 // level draw factor, 1 / ln(M)

	// Exactly one of the arenas is populated, selected by cfg.Quantized.
	// Both are laid out as count * Dim contiguous components.
	vecF32 []float32
	vecI8  []int8
	scale  distance.Scale

	distF32 distance.FuncF32
	distI8  distance.FuncI8

	nodes []node
	count atomic.Uint32

	// epMu serializes entry point promotions; readers go through the
	// atomics directly.
	epMu       sync.Mutex
	entryPoint atomic.Uint32
	maxLayer   atomic.Int32 // -1 while the graph is empty

	state atomic.Int32

	rngMu sync.Mutex
	rng   *rand.Rand

	visitedPool  sync.Pool
	frontierPool sync.Pool
	resultPool   sync.Pool
}

// New allocates an index with room for capacity vectors. For quantized
// indexes the scale must already be fitted; it is ignored otherwise.
func New(cfg Config, capacity int, scale distance.Scale) (*Index, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	x := &Index{
		cfg:   cfg,
		ml:    1.0 / math.Log(float64(cfg.M)),
		scale: scale,
		nodes: make([]node, capacity),
		rng:   rand.New(rand.NewSource(cfg.Seed)),
	}
	var err error
	if cfg.Quantized {
		x.vecI8 = make([]int8, capacity*cfg.Dim)
		x.distI8, err = distance.Int8Func(cfg.Metric)
	} else {
		x.vecF32 = make([]float32, capacity*cfg.Dim)
		x.distF32, err = distance.Float32Func(cfg.Metric)
	}
	if err != nil {
		return nil, err
	}
	x.maxLayer.Store(-1)
	x.initPools(capacity)
	return x, nil
}

func (x *Index) initPools(capacity int) {
	x.visitedPool.New = func() any { return newVisitedSet(uint32(capacity)) }
	x.frontierPool.New = func() any { return newCandidateHeap(false, x.cfg.EfConstruction) }
	x.resultPool.New = func() any { return newCandidateHeap(true, x.cfg.EfConstruction) }
}

// Config returns the configuration the index was created with, after
// defaulting.
func (x *Index) Config() Config { return x.cfg }

// Scale returns the quantization scale. Meaningful only when the index is
// quantized.
func (x *Index) Scale() distance.Scale { return x.scale }

// Len reports the number of vectors inserted so far.
func (x *Index) Len() int { return int(x.count.Load()) }

// EntryPoint returns the current entry node id. Only valid when Len > 0.
func (x *Index) EntryPoint() uint32 { return x.entryPoint.Load() }

// MaxLayer returns the highest populated layer, or -1 for an empty graph.
func (x *Index) MaxLayer() int { return int(x.maxLayer.Load()) }

// Links returns the adjacency lists of a node, one slice per layer from the
// bottom up. The returned slices alias the graph and must not be mutated;
// callers use this for persistence after Freeze.
func (x *Index) Links(id uint32) [][]uint32 { return x.nodes[id].links }

// VectorData exposes the raw arenas for persistence. Exactly one of the
// returned slices is non-nil.
func (x *Index) VectorData() ([]float32, []int8) {
	n := int(x.count.Load()) * x.cfg.Dim
	if x.cfg.Quantized {
		return nil, x.vecI8[:n]
	}
	return x.vecF32[:n], nil
}

func (x *Index) vecAt(id uint32) []float32 {
	off := int(id) * x.cfg.Dim
	return x.vecF32[off : off+x.cfg.Dim]
}

func (x *Index) codeAt(id uint32) []int8 {
	off := int(id) * x.cfg.Dim
	return x.vecI8[off : off+x.cfg.Dim]
}

// setVector writes a vector into arena slot id, normalizing for the cosine
// metric and quantizing when the index stores int8 codes.
func (x *Index) setVector(id uint32, vec []float32) {
	if x.cfg.Quantized {
		q := vec
		if x.cfg.Metric == distance.Cosine {
			q = append([]float32(nil), vec...)
			distance.Normalize(q)
		}
		distance.Quantize(x.codeAt(id), q, x.scale)
		return
	}
	dst := x.vecAt(id)
	copy(dst, vec)
	if x.cfg.Metric == distance.Cosine {
		distance.Normalize(dst)
	}
}

// distBetween computes the distance between two stored vectors.
func (x *Index) distBetween(a, b uint32) float32 {
	if x.cfg.Quantized {
		return distance.ApplyScale(x.cfg.Metric, x.distI8(x.codeAt(a), x.codeAt(b)), x.scale.Factor())
	}
	return x.distF32(x.vecAt(a), x.vecAt(b))
}

// storedDist returns a distance function anchored at an already stored
// vector, used while inserting that vector.
func (x *Index) storedDist(id uint32) func(uint32) float32 {
	if x.cfg.Quantized {
		code := x.codeAt(id)
		factor := x.scale.Factor()
		fn := x.distI8
		metric := x.cfg.Metric
		return func(o uint32) float32 {
			return distance.ApplyScale(metric, fn(code, x.codeAt(o)), factor)
		}
	}
	v := x.vecAt(id)
	fn := x.distF32
	return func(o uint32) float32 { return fn(v, x.vecAt(o)) }
}

// queryDist returns a distance function anchored at an external query
// vector. The query is copied before normalization so callers keep
// ownership of their slice.
func (x *Index) queryDist(query []float32) func(uint32) float32 {
	q := query
	if x.cfg.Metric == distance.Cosine {
		q = append([]float32(nil), query...)
		distance.Normalize(q)
	}
	if x.cfg.Quantized {
		code := make([]int8, x.cfg.Dim)
		distance.Quantize(code, q, x.scale)
		factor := x.scale.Factor()
		fn := x.distI8
		metric := x.cfg.Metric
		return func(id uint32) float32 {
			return distance.ApplyScale(metric, fn(code, x.codeAt(id)), factor)
		}
	}
	fn := x.distF32
	return func(id uint32) float32 { return fn(q, x.vecAt(id)) }
}

// drawLevel samples a node level from the exponential distribution
// -ln(u) / ln(M), clamped to one above the current top so the hierarchy
// grows a layer at a time.
func (x *Index) drawLevel() int {
	x.rngMu.Lock()
	u := x.rng.Float64()
	x.rngMu.Unlock()
	return levelFor(u, x.ml, int(x.maxLayer.Load())+1)
}

// levelFor maps a uniform draw in [0,1) to a level. A draw of exactly zero
// makes -ln(u) infinite and the float to int conversion undefined, so it
// clamps along with every other draw past the top.
func levelFor(u, ml float64, top int) int {
	if u <= 0 {
		return top
	}
	level := int(-math.Log(u) * ml)
	if level > top {
		level = top
	}
	return level
}

// neighbors copies the layer adjacency of a node into buf. During the
// building phase the node lock is taken so concurrent re-links are seen
// consistently; after Freeze the graph is immutable and reads go bare.
func (x *Index) neighbors(id uint32, layer int, buf []uint32, building bool) []uint32 {
	n := &x.nodes[id]
	if building {
		n.mu.Lock()
	}
	if layer < len(n.links) {
		buf = append(buf, n.links[layer]...)
	}
	if building {
		n.mu.Unlock()
	}
	return buf
}

// searchLayer runs a beam search of breadth ef on a single layer starting
// from entry, returning up to ef candidates sorted by ascending distance.
// With ef=1 it degenerates into the greedy descent used between layers.
func (x *Index) searchLayer(dist func(uint32) float32, entry uint32, ef, layer int, building bool) []types.Candidate {
	visited := x.visitedPool.Get().(*visitedSet)
	frontier := x.frontierPool.Get().(*candidateHeap)
	results := x.resultPool.Get().(*candidateHeap)
	defer func() {
		visited.reset()
		x.visitedPool.Put(visited)
		frontier.Reset()
		x.frontierPool.Put(frontier)
		results.Reset()
		x.resultPool.Put(results)
	}()

	start := types.Candidate{ID: entry, Distance: dist(entry)}
	frontier.Push(start)
	results.Push(start)
	visited.visit(entry)

	var scratch []uint32
	for frontier.Len() > 0 {
		cur := frontier.Pop()
		if results.Len() >= ef && results.Peek().Less(cur) {
			break
		}

		scratch = x.neighbors(cur.ID, layer, scratch[:0], building)
		for _, nb := range scratch {
			if visited.visited(nb) {
				continue
			}
			visited.visit(nb)
			cand := types.Candidate{ID: nb, Distance: dist(nb)}
			if results.Len() < ef {
				frontier.Push(cand)
				results.Push(cand)
			} else if cand.Less(results.Peek()) {
				frontier.Push(cand)
				results.Push(cand)
				results.Pop()
			}
		}
	}
	return results.drainAscending()
}

// selectNeighbors applies the diversity heuristic to a candidate list
// sorted by ascending distance: a candidate is kept only if it is closer to
// the query than to every already selected neighbor, so the kept edges
// spread out instead of clustering. Discarded candidates backfill remaining
// slots in distance order.
func (x *Index) selectNeighbors(cands []types.Candidate, m int) []types.Candidate {
	if len(cands) <= m {
		return cands
	}
	selected := make([]types.Candidate, 0, m)
	var discarded []types.Candidate
	for _, e := range cands {
		if len(selected) == m {
			break
		}
		keep := true
		for _, r := range selected {
			if x.distBetween(e.ID, r.ID) < e.Distance {
				keep = false
				break
			}
		}
		if keep {
			selected = append(selected, e)
		} else {
			discarded = append(discarded, e)
		}
	}
	for _, e := range discarded {
		if len(selected) == m {
			break
		}
		selected = append(selected, e)
	}
	return selected
}

// linkBack adds a reverse edge from nb to id on the given layer, pruning
// nb's adjacency with the diversity heuristic when it overflows the layer
// bound.
func (x *Index) linkBack(nb, id uint32, layer int) {
	if nb == id {
		return
	}
	n := &x.nodes[nb]
	n.mu.Lock()
	defer n.mu.Unlock()

	if layer >= len(n.links) {
		return
	}
	links := n.links[layer]
	bound := x.cfg.maxConns(layer)
	if len(links) < bound {
		n.links[layer] = append(links, id)
		return
	}

	cands := make([]types.Candidate, 0, len(links)+1)
	for _, o := range links {
		cands = append(cands, types.Candidate{ID: o, Distance: x.distBetween(nb, o)})
	}
	cands = append(cands, types.Candidate{ID: id, Distance: x.distBetween(nb, id)})
	sortCandidates(cands)

	selected := x.selectNeighbors(cands, bound)
	pruned := make([]uint32, 0, bound)
	for _, c := range selected {
		pruned = append(pruned, c.ID)
	}
	n.links[layer] = pruned
}

// Insert adds the vector under the given id. Ids index the vector arena
// directly, so callers assign them densely from zero. Insert is safe to
// call concurrently while the index is building.
func (x *Index) Insert(id uint32, vec []float32) error {
	if x.state.Load() != stateBuilding {
		return ErrFrozen
	}
	if len(vec) != x.cfg.Dim {
		return &DimensionMismatchError{Want: x.cfg.Dim, Got: len(vec)}
	}
	if int(id) >= len(x.nodes) {
		return ErrCapacity
	}

	x.setVector(id, vec)
	level := x.drawLevel()

	n := &x.nodes[id]
	n.mu.Lock()
	n.links = make([][]uint32, level+1)
	n.mu.Unlock()

	// First vector seeds the graph; nothing to link against.
	x.epMu.Lock()
	if x.maxLayer.Load() == -1 {
		x.entryPoint.Store(id)
		x.maxLayer.Store(int32(level))
		x.epMu.Unlock()
		x.count.Add(1)
		return nil
	}
	x.epMu.Unlock()

	dist := x.storedDist(id)
	cur := x.entryPoint.Load()
	top := int(x.maxLayer.Load())

	for l := top; l > level; l-- {
		if found := x.searchLayer(dist, cur, 1, l, true); len(found) > 0 {
			cur = found[0].ID
		}
	}

	for l := min(level, top); l >= 0; l-- {
		cands := x.searchLayer(dist, cur, x.cfg.EfConstruction, l, true)
		selected := x.selectNeighbors(cands, x.cfg.maxConns(l))

		ids := make([]uint32, 0, len(selected))
		for _, c := range selected {
			if c.ID != id {
				ids = append(ids, c.ID)
			}
		}
		n.mu.Lock()
		n.links[l] = ids
		n.mu.Unlock()

		for _, nb := range ids {
			x.linkBack(nb, id, l)
		}
		if len(cands) > 0 {
			cur = cands[0].ID
		}
	}

	if level > top {
		x.epMu.Lock()
		if int32(level) > x.maxLayer.Load() {
			x.maxLayer.Store(int32(level))
			x.entryPoint.Store(id)
		}
		x.epMu.Unlock()
	}

	x.count.Add(1)
	return nil
}

// Freeze transitions the index into the built phase. After Freeze the graph
// is immutable: inserts fail with ErrFrozen and searches run lock free.
func (x *Index) Freeze() {
	x.state.Store(stateBuilt)
}

// Built reports whether the index has been frozen.
func (x *Index) Built() bool {
	return x.state.Load() == stateBuilt
}

// Search returns the k approximate nearest neighbors of the query, sorted
// by ascending distance with ties broken by ascending id. The beam width ef
// is raised to k when smaller. Searching an unfrozen index returns
// ErrNotBuilt.
func (x *Index) Search(query []float32, k, ef int) ([]types.SearchResult, error) {
	if x.state.Load() != stateBuilt {
		return nil, ErrNotBuilt
	}
	if len(query) != x.cfg.Dim {
		return nil, &DimensionMismatchError{Want: x.cfg.Dim, Got: len(query)}
	}
	if k <= 0 || x.count.Load() == 0 {
		return []types.SearchResult{}, nil
	}
	if ef < k {
		ef = k
	}

	dist := x.queryDist(query)
	cur := x.entryPoint.Load()
	for l := int(x.maxLayer.Load()); l > 0; l-- {
		if found := x.searchLayer(dist, cur, 1, l, false); len(found) > 0 {
			cur = found[0].ID
		}
	}

	cands := x.searchLayer(dist, cur, ef, 0, false)
	if len(cands) > k {
		cands = cands[:k]
	}
	results := make([]types.SearchResult, len(cands))
	for i, c := range cands {
		results[i] = types.SearchResult{ID: c.ID, Distance: c.Distance}
	}
	return results, nil
}

// SearchBatch runs Search for every query concurrently, bounded by
// GOMAXPROCS. Results keep query order. The first error cancels the batch.
func (x *Index) SearchBatch(ctx context.Context, queries [][]float32, k, ef int) ([][]types.SearchResult, error) {
	results := make([][]types.SearchResult, len(queries))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, q := range queries {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			r, err := x.Search(q, k, ef)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Parts is the deconstructed state of a built index, used by the
// persistence layer to reconstruct an index from disk.
type Parts struct {
	Config     Config
	Scale      distance.Scale
	VectorsF32 []float32
	VectorsI8  []int8
	Links      [][][]uint32
	EntryPoint uint32
	MaxLayer   int
}

// FromParts reassembles a built index from persisted state. The vector
// slices are adopted, not copied, so they may alias a memory mapped file.
func FromParts(p Parts) (*Index, error) {
	cfg := p.Config.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	count := len(p.Links)
	x := &Index{
		cfg:   cfg,
		ml:    1.0 / math.Log(float64(cfg.M)),
		scale: p.Scale,
		nodes: make([]node, count),
		rng:   rand.New(rand.NewSource(cfg.Seed)),
	}
	var derr error
	if cfg.Quantized {
		if len(p.VectorsI8) != count*cfg.Dim {
			return nil, ErrCapacity
		}
		x.vecI8 = p.VectorsI8
		x.distI8, derr = distance.Int8Func(cfg.Metric)
	} else {
		if len(p.VectorsF32) != count*cfg.Dim {
			return nil, ErrCapacity
		}
		x.vecF32 = p.VectorsF32
		x.distF32, derr = distance.Float32Func(cfg.Metric)
	}
	if derr != nil {
		return nil, derr
	}
	for i := range p.Links {
		x.nodes[i].links = p.Links[i]
	}
	x.count.Store(uint32(count))
	x.entryPoint.Store(p.EntryPoint)
	x.maxLayer.Store(int32(p.MaxLayer))
	x.state.Store(stateBuilt)
	x.initPools(count)
	return x, nil
}
