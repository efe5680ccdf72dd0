package telemetry

import "go.uber.org/atomic"

// latencyRing is a fixed, power-of-two sized sample buffer written
// lock-free from the ingress hot path. Readers copy it while writes
// continue; the resulting sample set is probabilistic on purpose.
type latencyRing struct {
	samples  []atomic.Uint64
	mask     uint64
	writeIdx atomic.Uint64
	count    atomic.Uint64
}

func newLatencyRing(size int) *latencyRing {
	if size <= 0 || size&(size-1) != 0 {
		panic("latency ring size must be a power of two")
	}
	return &latencyRing{
		samples: make([]atomic.Uint64, size),
		mask:    uint64(size - 1),
	}
}

// record stores one latency sample in microseconds. Constant time, no
// allocation, no lock.
func (r *latencyRing) record(us uint64) {
	idx := (r.writeIdx.Inc() - 1) & r.mask
	r.samples[idx].Store(us)
	r.count.Inc()
}

// snapshotInto copies the populated part of the ring into dst and
// returns the slice actually filled. dst must be at least ring-sized.
func (r *latencyRing) snapshotInto(dst []uint64) []uint64 {
	n := r.count.Load()
	if n > uint64(len(r.samples)) {
		n = uint64(len(r.samples))
	}
	if n == 0 {
		return dst[:0]
	}
	for i := uint64(0); i < n; i++ {
		dst[i] = r.samples[i].Load()
	}
	return dst[:n]
}
