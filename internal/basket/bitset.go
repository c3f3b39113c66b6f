package basket

import "math/bits"

// Bitset is a fixed-size set of invoice rows.
type Bitset []uint64

// NewBitset returns an empty bitset able to hold n rows.
func NewBitset(n int) Bitset {
	return make(Bitset, (n+63)/64)
}

// Set marks row i.
func (b Bitset) Set(i int) {
	b[i/64] |= 1 << (uint(i) % 64)
}

// Has reports whether row i is marked.
func (b Bitset) Has(i int) bool {
	return b[i/64]&(1<<(uint(i)%64)) != 0
}

// Count returns the number of marked rows.
func (b Bitset) Count() int {
	n := 0
	for _, w := range b {
		n += bits.OnesCount64(w)
	}
	return n
}

// AndInto writes b ∧ o into dst and returns the popcount. dst may alias b.
func (b Bitset) AndInto(dst, o Bitset) int {
	n := 0
	for i := range b {
		dst[i] = b[i] & o[i]
		n += bits.OnesCount64(dst[i])
	}
	return n
}

// AndCount returns |b ∧ o| without allocating.
func (b Bitset) AndCount(o Bitset) int {
	n := 0
	for i := range b {
		n += bits.OnesCount64(b[i] & o[i])
	}
	return n
}
