package codec

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	compressOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "worldvault_codec_compress_operations_total",
		Help: "Compression operations by strategy",
	}, []string{"algorithm"})

	compressBytesIn = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "worldvault_codec_input_bytes_total",
		Help: "Bytes handed to the codec by strategy",
	}, []string{"algorithm"})

	compressBytesOut = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "worldvault_codec_output_bytes_total",
		Help: "Bytes produced by the codec by strategy",
	}, []string{"algorithm"})

	compressRatio = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "worldvault_codec_compression_ratio",
		Help:    "Compressed/original size ratio per operation",
		Buckets: []float64{0.1, 0.25, 0.5, 0.75, 0.9, 1, 1.1},
	}, []string{"algorithm"})
)

// observeCompress records prometheus metrics for one compression pass.
// Metrics are best-effort diagnostics and never block the codec contract.
func observeCompress(algorithm Algorithm, originalSize, compressedSize int) {
	label := string(algorithm)
	compressOpsTotal.WithLabelValues(label).Inc()
	compressBytesIn.WithLabelValues(label).Add(float64(originalSize))
	compressBytesOut.WithLabelValues(label).Add(float64(compressedSize))
	if originalSize > 0 {
		compressRatio.WithLabelValues(label).Observe(float64(compressedSize) / float64(originalSize))
	}
}

// StatsSnapshot is a point-in-time view of codec usage.
type StatsSnapshot struct {
	Operations   int64
	AverageRatio float64
	ByAlgorithm  map[Algorithm]int64
}

type stats struct {
	mu          sync.Mutex
	operations  int64
	ratioSum    float64
	ratioCount  int64
	byAlgorithm map[Algorithm]int64
}

func newStats() *stats {
	return &stats{byAlgorithm: make(map[Algorithm]int64)}
}

func (s *stats) record(algorithm Algorithm, originalSize, compressedSize int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.operations++
	s.byAlgorithm[algorithm]++
	if originalSize > 0 {
		s.ratioSum += float64(compressedSize) / float64(originalSize)
		s.ratioCount++
	}
}

func (s *stats) snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := StatsSnapshot{
		Operations:  s.operations,
		ByAlgorithm: make(map[Algorithm]int64, len(s.byAlgorithm)),
	}
	for alg, count := range s.byAlgorithm {
		snap.ByAlgorithm[alg] = count
	}
	if s.ratioCount > 0 {
		snap.AverageRatio = s.ratioSum / float64(s.ratioCount)
	}
	return snap
}
