package hnsw

import "sync"

// node is one entry in the index's node arena. Nodes are addressed by their
// dense uint32 id, which doubles as the offset into the vector arena.
//
// links[l] is the adjacency list at layer l; len(links)-1 is the node's top
// layer. The per-node mutex guards links only and is held just long enough
// to read or mutate this node's adjacency during the build phase. Once the
// index is frozen nothing mutates links and readers go lock-free.
type node struct {
	mu    sync.Mutex
	links [][]uint32
}
