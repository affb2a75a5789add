package codec

import (
	"bytes"
	"encoding/binary"
	"io"

	apperrors "github.com/louisbranch/worldvault/internal/platform/errors"
)

// Delta format:
//
//	[uvarint shared prefix length][uvarint shared suffix length][middle bytes]
//
// The baseline is the world's metadata-only skeleton; the shared prefix and
// suffix capture the JSON framing both documents have in common, leaving only
// the element/branch body to store.
func (c *Codec) deltaCompress(payload []byte, baselineID string) ([]byte, string, error) {
	baseline, err := c.resolveBaseline(baselineID)
	if err != nil {
		return nil, "", err
	}

	prefix := commonPrefix(baseline, payload)
	suffix := commonSuffix(baseline[prefix:], payload[prefix:])
	middle := payload[prefix : len(payload)-suffix]

	var buf bytes.Buffer
	var scratch [binary.MaxVarintLen64]byte
	buf.Write(scratch[:binary.PutUvarint(scratch[:], uint64(prefix))])
	buf.Write(scratch[:binary.PutUvarint(scratch[:], uint64(suffix))])
	buf.Write(middle)
	return buf.Bytes(), baselineID, nil
}

func (c *Codec) deltaDecompress(env Envelope) ([]byte, error) {
	baseline, err := c.resolveBaseline(env.BaselineID)
	if err != nil {
		return nil, err
	}

	reader := bytes.NewReader(env.Data)
	prefix, err := binary.ReadUvarint(reader)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeCorruptPayload, "delta prefix header", err)
	}
	suffix, err := binary.ReadUvarint(reader)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeCorruptPayload, "delta suffix header", err)
	}
	if prefix > uint64(len(baseline)) || suffix > uint64(len(baseline)) || prefix+suffix > uint64(len(baseline)) {
		return nil, apperrors.New(apperrors.CodeCorruptPayload, "delta bounds exceed baseline")
	}

	middle := make([]byte, reader.Len())
	if _, err := io.ReadFull(reader, middle); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeCorruptPayload, "delta body", err)
	}

	out := make([]byte, 0, int(prefix)+len(middle)+int(suffix))
	out = append(out, baseline[:prefix]...)
	out = append(out, middle...)
	out = append(out, baseline[len(baseline)-int(suffix):]...)
	return out, nil
}

// resolveBaseline fetches the named baseline. A missing baseline is an
// explicit, recoverable failure rather than a crash: callers fall back to a
// full re-fetch or a non-delta save.
func (c *Codec) resolveBaseline(baselineID string) ([]byte, error) {
	if baselineID == "" {
		return nil, apperrors.New(apperrors.CodeBaselineUnavailable, "delta baseline id is required")
	}
	if c.baselines == nil {
		return nil, apperrors.WithMetadata(apperrors.CodeBaselineUnavailable,
			"no baseline store configured", map[string]string{"baseline": baselineID})
	}
	baseline, err := c.baselines.Baseline(baselineID)
	if err != nil {
		return nil, apperrors.WrapWithMetadata(apperrors.CodeBaselineUnavailable,
			"delta baseline unavailable", map[string]string{"baseline": baselineID}, err)
	}
	return baseline, nil
}

func commonPrefix(a, b []byte) int {
	limit := min(len(a), len(b))
	i := 0
	for i < limit && a[i] == b[i] {
		i++
	}
	return i
}

func commonSuffix(a, b []byte) int {
	limit := min(len(a), len(b))
	i := 0
	for i < limit && a[len(a)-1-i] == b[len(b)-1-i] {
		i++
	}
	return i
}
