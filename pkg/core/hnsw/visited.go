package hnsw

// visitedSet tracks visited node ids with a bitset plus a dirty list so a
// reset touches only the bits set during the last traversal instead of the
// whole array. Instances are pooled by the index.
type visitedSet struct {
	bits  []uint64
	dirty []uint32
}

func newVisitedSet(capacity uint32) *visitedSet {
	return &visitedSet{
		bits:  make([]uint64, (capacity>>6)+1),
		dirty: make([]uint32, 0, 128),
	}
}

func (v *visitedSet) visit(id uint32) {
	word := id >> 6
	if word >= uint32(len(v.bits)) {
		v.grow(word + 1)
	}
	mask := uint64(1) << (id & 63)
	if v.bits[word]&mask == 0 {
		v.bits[word] |= mask
		v.dirty = append(v.dirty, id)
	}
}

func (v *visitedSet) visited(id uint32) bool {
	word := id >> 6
	if word >= uint32(len(v.bits)) {
		return false
	}
	return v.bits[word]&(uint64(1)<<(id&63)) != 0
}

func (v *visitedSet) reset() {
	for _, id := range v.dirty {
		v.bits[id>>6] &^= uint64(1) << (id & 63)
	}
	v.dirty = v.dirty[:0]
}

func (v *visitedSet) grow(words uint32) {
	newCap := uint32(len(v.bits)) * 2
	if newCap < words {
		newCap = words
	}
	grown := make([]uint64, newCap)
	copy(grown, v.bits)
	v.bits = grown
}
