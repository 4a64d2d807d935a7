package testutil

import (
	"fmt"
	"sync"
)

// FixedIDs returns an id generator that yields ids in order.
//
// This keeps device ids stable so traces and golden files are byte-identical
// across runs. Panics when the ids are exhausted, to catch tests that
// provision more devices than expected.
//
// Thread-safety: the returned function is safe for concurrent use.
func FixedIDs(ids ...string) func() string {
	var (
		mu  sync.Mutex
		idx int
	)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		if idx >= len(ids) {
			panic(fmt.Sprintf("FixedIDs: all %d ids exhausted", len(ids)))
		}
		id := ids[idx]
		idx++
		return id
	}
}
