package lossless

// ColorCache is a small direct-mapped hash table of recently seen ARGB
// pixels. During entropy coding a pixel that still occupies its hash slot
// can be emitted as a single cache-index symbol instead of four literal
// channel symbols, which is why it sits in the same alphabet as the
// backward-reference length/distance codes.
type ColorCache struct {
	Colors    []uint32
	HashBits  int
	HashShift int
}

// cacheHashMultiplier is the multiplicative-hash constant used to spread
// ARGB values across cache slots.
const cacheHashMultiplier = 0x1e35a7bd

// NewColorCache allocates a cache with 1<<hashBits slots. hashBits must be
// between 1 and MaxCacheBits.
func NewColorCache(hashBits int) *ColorCache {
	return &ColorCache{
		Colors:    make([]uint32, 1<<hashBits),
		HashBits:  hashBits,
		HashShift: 32 - hashBits,
	}
}

// ReuseColorCache returns a zeroed cache with the given hashBits, reusing
// existing's backing array when it's already large enough instead of
// allocating a fresh one.
func ReuseColorCache(existing *ColorCache, hashBits int) *ColorCache {
	size := 1 << hashBits
	if existing == nil || cap(existing.Colors) < size {
		return NewColorCache(hashBits)
	}
	existing.Colors = existing.Colors[:size]
	existing.HashBits = hashBits
	existing.HashShift = 32 - hashBits
	for i := range existing.Colors {
		existing.Colors[i] = 0
	}
	return existing
}

// slot computes the hash-table index for an ARGB value.
func (c *ColorCache) slot(argb uint32) int {
	return int((argb * cacheHashMultiplier) >> uint(c.HashShift))
}

// HashPix is the exported form of slot, used by callers that need the
// index independent of a lookup (e.g. to report it alongside a miss).
func (c *ColorCache) HashPix(argb uint32) int {
	return c.slot(argb)
}

// Contains reports whether argb currently occupies its hash slot, and
// returns that slot either way.
func (c *ColorCache) Contains(argb uint32) (int, bool) {
	key := c.slot(argb)
	return key, c.Colors[key] == argb
}

// Insert stores argb at its hashed slot, evicting whatever was there.
func (c *ColorCache) Insert(argb uint32) {
	c.Colors[c.slot(argb)] = argb
}

// Lookup returns the color stored at a slot index previously obtained from
// Contains or HashPix.
func (c *ColorCache) Lookup(key int) uint32 {
	return c.Colors[key]
}

// Set stores argb directly at a given slot index.
func (c *ColorCache) Set(key int, argb uint32) {
	c.Colors[key] = argb
}

// Reset zeroes every slot.
func (c *ColorCache) Reset() {
	for i := range c.Colors {
		c.Colors[i] = 0
	}
}

// Copy overwrites c's entries with src's. Both must share HashBits.
func (c *ColorCache) Copy(src *ColorCache) {
	copy(c.Colors, src.Colors)
}
