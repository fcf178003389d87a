package controlplane

import "sync/atomic"

func addInt64(addr *int64, delta int64) {
	atomic.AddInt64(addr, delta)
}

func loadInt64(addr *int64) int64 {
	return atomic.LoadInt64(addr)
}
