package detector

// DefaultCacheSize is the number of processed signatures remembered.
const DefaultCacheSize = 1000

// SignatureCache is a bounded set of signatures with FIFO eviction.
// It is not safe for concurrent use; the detector guards it with its mutex.
type SignatureCache struct {
	ring []string
	head int // index of the oldest entry
	size int
	set  map[string]struct{}
}

// NewSignatureCache creates a cache holding at most capacity signatures.
// A non-positive capacity falls back to DefaultCacheSize.
func NewSignatureCache(capacity int) *SignatureCache {
	if capacity <= 0 {
		capacity = DefaultCacheSize
	}
	return &SignatureCache{
		ring: make([]string, capacity),
		set:  make(map[string]struct{}, capacity),
	}
}

// Add inserts sig and evicts the oldest entry when full.
// Returns false if sig was already present.
func (c *SignatureCache) Add(sig string) bool {
	if _, ok := c.set[sig]; ok {
		return false
	}

	if c.size == len(c.ring) {
		delete(c.set, c.ring[c.head])
		c.ring[c.head] = sig
		c.head = (c.head + 1) % len(c.ring)
	} else {
		c.ring[(c.head+c.size)%len(c.ring)] = sig
		c.size++
	}
	c.set[sig] = struct{}{}
	return true
}

// Contains reports whether sig is in the cache.
func (c *SignatureCache) Contains(sig string) bool {
	_, ok := c.set[sig]
	return ok
}

// Len returns the number of cached signatures.
func (c *SignatureCache) Len() int {
	return c.size
}

// Cap returns the cache capacity.
func (c *SignatureCache) Cap() int {
	return len(c.ring)
}
