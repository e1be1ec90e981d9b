package endpoint

import "time"

// nowNs returns a function yielding the current monotonic-backed
// timestamp in nanoseconds, called once per chunk so ParseStream can
// stamp Chunk.ReceivedNs at the instant each delta is read off the wire.
func nowNs() func() int64 {
	return func() int64 { return time.Now().UnixNano() }
}
