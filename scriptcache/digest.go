package scriptcache

import (
	"crypto/sha1"
	"encoding/hex"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// digestCapacity bounds the process-wide script-digest table at 500
// entries. Eviction policy is not externally observable, only the SHA
// recomputation it avoids is, so a standard LRU is a perfect fit for a
// local, never-user-visible cache.
const digestCapacity = 500

// digestTable maps script source text to its lowercase hex SHA-1 digest.
// Safe for concurrent use; a miss never causes a visible error, it just
// costs one hash computation.
type digestTable struct {
	mu      sync.Mutex
	digests *lru.Cache[string, string]
}

func newDigestTable() *digestTable {
	digests, err := lru.New[string, string](digestCapacity)
	if err != nil {
		// Only returns an error for a non-positive size, which
		// digestCapacity never is.
		panic(err)
	}
	return &digestTable{digests: digests}
}

func (t *digestTable) sha1Hex(script string) string {
	t.mu.Lock()
	if sha, ok := t.digests.Get(script); ok {
		t.mu.Unlock()
		return sha
	}
	t.mu.Unlock()

	sum := sha1.Sum([]byte(script))
	sha := hex.EncodeToString(sum[:])

	t.mu.Lock()
	t.digests.Add(script, sha)
	t.mu.Unlock()
	return sha
}

// contains reports whether script already has a cached digest, without
// computing one.
func (t *digestTable) contains(script string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.digests.Contains(script)
}
