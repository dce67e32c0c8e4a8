package reqfilter

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"github.com/coocood/freecache"
)

// decisionCache is a bounded cache of [MatchResult]s.  Keys include the
// generation of the rule set, so results of a replaced rule set are never
// returned.  A nil *decisionCache is a valid cache that never stores anything.
type decisionCache struct {
	cache *freecache.Cache
}

// newDecisionCache returns a new decision cache with the given size in bytes.
// If size is not positive, it returns nil.
func newDecisionCache(size int) (c *decisionCache) {
	if size <= 0 {
		return nil
	}

	return &decisionCache{
		cache: freecache.NewCache(size),
	}
}

// cacheKeyLen is the length of a cache key: the generation and the hash of the
// URL.
const cacheKeyLen = 8 + 8

// cacheHdrLen is the length of the value header: the category, the block flag,
// and the length of the rule text.
const cacheHdrLen = 1 + 1 + 2

// cacheKey returns the cache key for urlStr matched against the rule set of
// generation gen.
func cacheKey(gen uint64, urlStr string) (k [cacheKeyLen]byte) {
	binary.BigEndian.PutUint64(k[:8], gen)
	binary.BigEndian.PutUint64(k[8:], xxhash.Sum64String(urlStr))

	return k
}

// get returns the cached result for urlStr.  The URL is stored along with the
// result, so hash collisions are detected.
func (c *decisionCache) get(gen uint64, urlStr string) (res MatchResult, ok bool) {
	if c == nil {
		return MatchResult{}, false
	}

	k := cacheKey(gen, urlStr)
	val, err := c.cache.Get(k[:])
	if err != nil || len(val) < cacheHdrLen {
		return MatchResult{}, false
	}

	ruleLen := int(binary.BigEndian.Uint16(val[2:cacheHdrLen]))
	rest := val[cacheHdrLen:]
	if len(rest) < ruleLen || string(rest[ruleLen:]) != urlStr {
		return MatchResult{}, false
	}

	return MatchResult{
		Rule:     string(rest[:ruleLen]),
		Category: Category(val[0]),
		Block:    val[1] == 1,
	}, true
}

// set stores res for urlStr.  Results that don't fit are silently dropped.
func (c *decisionCache) set(gen uint64, urlStr string, res MatchResult) {
	if c == nil || len(res.Rule) > 0xffff {
		return
	}

	val := make([]byte, cacheHdrLen, cacheHdrLen+len(res.Rule)+len(urlStr))
	val[0] = byte(res.Category)
	if res.Block {
		val[1] = 1
	}

	binary.BigEndian.PutUint16(val[2:cacheHdrLen], uint16(len(res.Rule)))
	val = append(val, res.Rule...)
	val = append(val, urlStr...)

	k := cacheKey(gen, urlStr)

	// Entries larger than the freecache segment limit are rejected with an
	// error, which is fine for a cache.
	_ = c.cache.Set(k[:], val, 0)
}
