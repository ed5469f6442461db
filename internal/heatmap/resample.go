// SPDX-License-Identifier: MIT

package heatmap

// Resample reduces (or stretches) a raw sample series to exactly n points by
// partitioning it into n contiguous buckets of width len(raw)/n and taking
// each bucket's arithmetic mean. An empty bucket, which occurs when
// upsampling, carries the nearest known raw sample; an empty input series
// yields a constant series of fallback.
func Resample(raw []float64, n int, fallback float64) []float64 {
	if n <= 0 {
		return nil
	}
	out := make([]float64, n)
	m := len(raw)
	if m == 0 {
		for i := range out {
			out[i] = fallback
		}
		return out
	}

	for i := 0; i < n; i++ {
		start := i * m / n
		end := (i + 1) * m / n
		if end > start {
			sum := 0.0
			for _, v := range raw[start:end] {
				sum += v
			}
			out[i] = sum / float64(end-start)
			continue
		}
		// Empty bucket: carry the nearest known sample so upsampled series
		// stay continuous instead of dropping to a synthetic floor.
		idx := start
		if idx >= m {
			idx = m - 1
		}
		out[i] = raw[idx]
	}
	return out
}
