package util

import (
	"math"

	gometrics "github.com/rcrowley/go-metrics"
)

// reservoirSize is the number of samples a SizeSampler keeps
const reservoirSize = 1028

// Stats summarizes a sampled distribution
type Stats struct {
	Count        int64   `json:"count"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Mean         float64 `json:"mean"`
	Median       float64 `json:"median"`
	P99          float64 `json:"p99"`
	StdDeviation float64 `json:"std_deviation"`
	MinMaxRatio  float64 `json:"min_max_ratio"`
}

// SizeSampler records sizes into a uniformly sampled histogram.
//
// Thread-safety: AddSample and Stats can be called concurrently.
type SizeSampler struct {
	histogram gometrics.Histogram
}

// NewSizeSampler creates an empty sampler
func NewSizeSampler() *SizeSampler {
	return &SizeSampler{
		histogram: gometrics.NewHistogram(gometrics.NewUniformSample(reservoirSize)),
	}
}

// AddSample records one size
func (s *SizeSampler) AddSample(size int) {
	s.histogram.Update(int64(size))
}

// Stats returns the statistics of all recorded samples
func (s *SizeSampler) Stats() Stats {
	snapshot := s.histogram.Snapshot()
	if snapshot.Count() == 0 {
		return Stats{}
	}

	stats := Stats{
		Count:        snapshot.Count(),
		Min:          float64(snapshot.Min()),
		Max:          float64(snapshot.Max()),
		Mean:         snapshot.Mean(),
		Median:       snapshot.Percentile(0.5),
		P99:          snapshot.Percentile(0.99),
		StdDeviation: snapshot.StdDev(),
		MinMaxRatio:  1,
	}
	if stats.Max > 0 {
		stats.MinMaxRatio = stats.Min / stats.Max
	}
	return stats
}

// EstimateSize combines median and mean into a per-item estimate (60% median, 40% mean)
// and adds the fixed overhead per item.
func (s *SizeSampler) EstimateSize(overhead int) int {
	stats := s.Stats()
	if stats.Count == 0 {
		return 0
	}
	return int(math.Round(stats.Median*0.6+stats.Mean*0.4)) + overhead
}

// NewDistributionStats computes the statistics of a fixed set of values
// (e.g. the number of entries per shard)
func NewDistributionStats(values []int) Stats {
	sampler := NewSizeSampler()
	for _, v := range values {
		sampler.AddSample(v)
	}
	return sampler.Stats()
}
