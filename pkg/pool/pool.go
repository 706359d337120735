// Package pool provides object pooling to reduce GC pressure in hot
// aggregation loops.
package pool

import "sync"

// stringSlicePool pools the []string buffers the aggregator uses to
// accumulate a session's distinct window titles.
var stringSlicePool = sync.Pool{
	New: func() interface{} {
		return make([]string, 0, 16)
	},
}

// GetStringSlice returns a zero-length string slice from the pool.
func GetStringSlice() []string {
	s := stringSlicePool.Get().([]string)
	return s[:0]
}

// PutStringSlice returns s to the pool.
func PutStringSlice(s []string) {
	stringSlicePool.Put(s)
}
