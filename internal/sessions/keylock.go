package sessions

import (
	"hash/fnv"
	"sync"
)

const lockShards = 64

// keyedLocks serializes work per session id without a global lock: each key
// hashes to one of a fixed set of mutexes, so updates to different sessions
// proceed in parallel (modulo rare shard collisions) while updates to the
// same session are strictly ordered.
type keyedLocks struct {
	shards [lockShards]sync.Mutex
}

func (k *keyedLocks) lock(key string) func() {
	h := fnv.New32a()
	h.Write([]byte(key))
	mu := &k.shards[h.Sum32()%lockShards]
	mu.Lock()
	return mu.Unlock
}
