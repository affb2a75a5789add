// Package codec selects and applies compression strategies for serialized
// world payloads. Every strategy guarantees exact round-trip reconstruction:
// Decompress(Compress(x)) == x for all inputs.
package codec

import (
	"bytes"

	apperrors "github.com/louisbranch/worldvault/internal/platform/errors"
)

// Algorithm identifies a compression strategy.
type Algorithm string

const (
	// AlgorithmNone stores the payload verbatim.
	AlgorithmNone Algorithm = "none"
	// AlgorithmDictionary substitutes frequent tokens, suited to
	// low-entropy repetitive text.
	AlgorithmDictionary Algorithm = "dictionary"
	// AlgorithmDeflate applies general-purpose deflate compression.
	AlgorithmDeflate Algorithm = "deflate"
	// AlgorithmDelta encodes the payload against a baseline skeleton.
	AlgorithmDelta Algorithm = "delta"
	// AlgorithmHybrid inspects the payload and picks one of the above.
	// Envelopes never carry hybrid; it always resolves to a concrete
	// strategy before encoding.
	AlgorithmHybrid Algorithm = "hybrid"
)

// DefaultThreshold is the payload size below which compression is skipped.
const DefaultThreshold = 50 * 1024

// Envelope is the result of a compression pass and the input to Decompress.
type Envelope struct {
	Algorithm      Algorithm `json:"algorithm"`
	OriginalSize   int       `json:"originalSize"`
	CompressedSize int       `json:"compressedSize"`
	Ratio          float64   `json:"ratio"`
	BaselineID     string    `json:"baselineId,omitempty"`
	Data           []byte    `json:"data"`
}

// Options tunes a single Compress call.
type Options struct {
	// Algorithm forces a strategy. Empty means hybrid selection.
	Algorithm Algorithm
	// BaselineID names the delta baseline. Required for AlgorithmDelta.
	BaselineID string
	// Threshold overrides the codec's size threshold when positive.
	Threshold int
}

// BaselineStore resolves delta baselines by identifier.
type BaselineStore interface {
	Baseline(id string) ([]byte, error)
}

// Codec applies compression strategies and tracks usage metrics.
type Codec struct {
	threshold int
	baselines BaselineStore
	stats     *stats
}

// Option configures a Codec.
type Option func(*Codec)

// WithThreshold overrides the default compression threshold.
func WithThreshold(threshold int) Option {
	return func(c *Codec) {
		if threshold > 0 {
			c.threshold = threshold
		}
	}
}

// WithBaselineStore wires the store used to resolve delta baselines.
func WithBaselineStore(store BaselineStore) Option {
	return func(c *Codec) {
		c.baselines = store
	}
}

// New creates a codec with the default threshold.
func New(opts ...Option) *Codec {
	c := &Codec{
		threshold: DefaultThreshold,
		stats:     newStats(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Threshold returns the active compression threshold in bytes.
func (c *Codec) Threshold() int {
	return c.threshold
}

// Compress encodes payload under the requested (or hybrid-selected) strategy.
func (c *Codec) Compress(payload []byte, opts Options) (Envelope, error) {
	threshold := c.threshold
	if opts.Threshold > 0 {
		threshold = opts.Threshold
	}

	algorithm := opts.Algorithm
	if algorithm == "" || algorithm == AlgorithmHybrid {
		algorithm = c.selectAlgorithm(payload, threshold, opts.BaselineID)
	}

	var (
		data       []byte
		baselineID string
		err        error
	)
	switch algorithm {
	case AlgorithmNone:
		data = append([]byte(nil), payload...)
	case AlgorithmDictionary:
		data = dictionaryCompress(payload)
	case AlgorithmDeflate:
		data, err = deflateCompress(payload)
	case AlgorithmDelta:
		data, baselineID, err = c.deltaCompress(payload, opts.BaselineID)
	default:
		return Envelope{}, apperrors.WithMetadata(apperrors.CodeUnknownAlgorithm,
			"unknown compression algorithm", map[string]string{"algorithm": string(algorithm)})
	}
	if err != nil {
		return Envelope{}, err
	}

	env := Envelope{
		Algorithm:      algorithm,
		OriginalSize:   len(payload),
		CompressedSize: len(data),
		BaselineID:     baselineID,
		Data:           data,
	}
	if env.OriginalSize > 0 {
		env.Ratio = float64(env.CompressedSize) / float64(env.OriginalSize)
	}

	c.stats.record(algorithm, env.OriginalSize, env.CompressedSize)
	observeCompress(algorithm, env.OriginalSize, env.CompressedSize)
	return env, nil
}

// Decompress reconstructs the original payload from an envelope.
func (c *Codec) Decompress(env Envelope) ([]byte, error) {
	switch env.Algorithm {
	case AlgorithmNone, "":
		return append([]byte(nil), env.Data...), nil
	case AlgorithmDictionary:
		return dictionaryDecompress(env.Data)
	case AlgorithmDeflate:
		return deflateDecompress(env.Data)
	case AlgorithmDelta:
		return c.deltaDecompress(env)
	default:
		return nil, apperrors.WithMetadata(apperrors.CodeUnknownAlgorithm,
			"unknown compression algorithm", map[string]string{"algorithm": string(env.Algorithm)})
	}
}

// Stats returns a snapshot of running codec metrics. Best-effort diagnostics;
// never consulted on the compress/decompress path.
func (c *Codec) Stats() StatsSnapshot {
	return c.stats.snapshot()
}

// selectAlgorithm implements hybrid mode: inspect the payload and pick a
// concrete strategy.
func (c *Codec) selectAlgorithm(payload []byte, threshold int, baselineID string) Algorithm {
	if len(payload) < threshold {
		return AlgorithmNone
	}

	// Worlds with heavy branch/timeline structure share most of their bytes
	// with the metadata skeleton, which delta encoding exploits.
	if baselineID != "" && c.baselines != nil && branchHeavy(payload) {
		return AlgorithmDelta
	}

	if textRatio(payload) > 0.9 && estimatedRedundancy(payload) > 0.5 {
		return AlgorithmDictionary
	}
	return AlgorithmDeflate
}

// branchHeavy reports whether the serialized world carries multiple branches
// or a long timeline.
func branchHeavy(payload []byte) bool {
	branches := bytes.Count(payload, []byte(`"divergedAt"`))
	events := bytes.Count(payload, []byte(`"timestamp"`))
	return branches > 1 || events > 8
}

// textRatio is the fraction of printable ASCII bytes in the payload.
func textRatio(payload []byte) float64 {
	if len(payload) == 0 {
		return 0
	}
	printable := 0
	for _, b := range payload {
		if b == '\n' || b == '\t' || (b >= 0x20 && b < 0x7f) {
			printable++
		}
	}
	return float64(printable) / float64(len(payload))
}

// estimatedRedundancy approximates how repetitive the payload is by sampling
// 8-byte chunks and measuring the repeated fraction.
func estimatedRedundancy(payload []byte) float64 {
	const chunk = 8
	if len(payload) < chunk*2 {
		return 0
	}
	seen := make(map[string]struct{}, len(payload)/chunk)
	repeated := 0
	total := 0
	for i := 0; i+chunk <= len(payload); i += chunk {
		total++
		key := string(payload[i : i+chunk])
		if _, ok := seen[key]; ok {
			repeated++
			continue
		}
		seen[key] = struct{}{}
	}
	if total == 0 {
		return 0
	}
	return float64(repeated) / float64(total)
}
