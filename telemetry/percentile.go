package telemetry

// quickselect moves the k-th smallest element of a into a[k] in
// expected linear time, partially ordering the rest. The percentile
// pass runs it instead of a full sort because only three order
// statistics are needed per cadence.
func quickselect(a []uint64, k int) uint64 {
	lo, hi := 0, len(a)-1
	for lo < hi {
		p := partition(a, lo, hi)
		switch {
		case k < p:
			hi = p - 1
		case k > p:
			lo = p + 1
		default:
			return a[k]
		}
	}
	return a[k]
}

func partition(a []uint64, lo, hi int) int {
	// Median-of-three pivot guards against already-ordered scratch
	// buffers from the previous selection pass.
	mid := lo + (hi-lo)/2
	if a[mid] < a[lo] {
		a[mid], a[lo] = a[lo], a[mid]
	}
	if a[hi] < a[lo] {
		a[hi], a[lo] = a[lo], a[hi]
	}
	if a[hi] < a[mid] {
		a[hi], a[mid] = a[mid], a[hi]
	}
	pivot := a[mid]
	a[mid], a[hi] = a[hi], a[mid]

	i := lo
	for j := lo; j < hi; j++ {
		if a[j] < pivot {
			a[i], a[j] = a[j], a[i]
			i++
		}
	}
	a[i], a[hi] = a[hi], a[i]
	return i
}

// percentiles extracts p50/p95/p99 plus min and max from samples,
// mutating the slice in place.
func percentiles(samples []uint64) (p50, p95, p99, minV, maxV uint64) {
	n := len(samples)
	if n == 0 {
		return
	}
	minV, maxV = samples[0], samples[0]
	for _, s := range samples {
		if s < minV {
			minV = s
		}
		if s > maxV {
			maxV = s
		}
	}
	rank := func(q float64) int {
		k := int(float64(n) * q)
		if k >= n {
			k = n - 1
		}
		return k
	}
	p50 = quickselect(samples, rank(0.50))
	p95 = quickselect(samples, rank(0.95))
	p99 = quickselect(samples, rank(0.99))
	return
}
