package tracer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBucketIndex(t *testing.T) {
	tests := []struct {
		valueNs uint64
		want    int
	}{
		{0, 0},
		{999, 0},
		{1_000, 1},
		{500_000, 3},
		{1_000_000, 4},
		{2_000_000, 4},
		{999_999_999, 6},
		{100_000_000_000, 9},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, bucketIndex(tt.valueNs), "value %d", tt.valueNs)
	}
}

func TestHistogram_Summary(t *testing.T) {
	var h Histogram

	h.Add(500)
	h.Add(1_500)
	h.Add(2_000_000)

	s := h.Summary()
	assert.Equal(t, uint64(3), s.Count)
	assert.Equal(t, uint64(2_002_000), s.TotalNs)
	assert.Equal(t, uint64(1), s.Buckets[0])
	assert.Equal(t, uint64(1), s.Buckets[1])
	assert.Equal(t, uint64(1), s.Buckets[4])
	assert.Equal(t, uint64(667_333), s.Mean())
}

func TestLatencySummary_MeanEmpty(t *testing.T) {
	assert.Equal(t, uint64(0), LatencySummary{}.Mean())
}

func TestBucketBoundaries(t *testing.T) {
	b := BucketBoundaries()

	assert.Equal(t, uint64(bucket1us), b[0])
	assert.Equal(t, uint64(bucket100s), b[8])
	assert.Equal(t, uint64(0), b[NumBuckets-1])
}
