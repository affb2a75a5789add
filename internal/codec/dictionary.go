package codec

import (
	"bytes"
	"encoding/binary"
	"regexp"
	"sort"
	"strings"

	apperrors "github.com/louisbranch/worldvault/internal/platform/errors"
)

// Dictionary format:
//
//	[uint16 entry count][per entry: uint16 length + bytes][encoded body]
//
// In the body, 0x01 followed by an index byte stands for a dictionary entry;
// 0x01 0xFF is an escaped literal 0x01. Index 0xFF is therefore reserved.
const (
	dictEscape      = 0x01
	dictLiteralMark = 0xFF
	dictMaxEntries  = 255
	dictMinToken    = 4
	dictMinCount    = 3
)

var tokenPattern = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]{3,}`)

// dictionaryCompress substitutes frequently repeated tokens with two-byte
// references. Payloads with no qualifying tokens encode to an empty
// dictionary plus the escaped body.
func dictionaryCompress(payload []byte) []byte {
	tokens := frequentTokens(payload)

	// Escape pairs first so literal escape bytes survive, then longest
	// tokens first so shorter tokens never split longer matches.
	pairs := make([]string, 0, (len(tokens)+1)*2)
	pairs = append(pairs, string([]byte{dictEscape}), string([]byte{dictEscape, dictLiteralMark}))
	for i, token := range tokens {
		pairs = append(pairs, token, string([]byte{dictEscape, byte(i)}))
	}
	body := strings.NewReplacer(pairs...).Replace(string(payload))

	var buf bytes.Buffer
	var scratch [2]byte
	binary.BigEndian.PutUint16(scratch[:], uint16(len(tokens)))
	buf.Write(scratch[:])
	for _, token := range tokens {
		binary.BigEndian.PutUint16(scratch[:], uint16(len(token)))
		buf.Write(scratch[:])
		buf.WriteString(token)
	}
	buf.WriteString(body)
	return buf.Bytes()
}

// dictionaryDecompress reverses dictionaryCompress exactly.
func dictionaryDecompress(data []byte) ([]byte, error) {
	if len(data) < 2 {
		return nil, apperrors.New(apperrors.CodeCorruptPayload, "dictionary payload truncated")
	}
	count := int(binary.BigEndian.Uint16(data[:2]))
	offset := 2

	entries := make([]string, count)
	for i := range count {
		if offset+2 > len(data) {
			return nil, apperrors.New(apperrors.CodeCorruptPayload, "dictionary entry header truncated")
		}
		length := int(binary.BigEndian.Uint16(data[offset : offset+2]))
		offset += 2
		if offset+length > len(data) {
			return nil, apperrors.New(apperrors.CodeCorruptPayload, "dictionary entry truncated")
		}
		entries[i] = string(data[offset : offset+length])
		offset += length
	}

	body := data[offset:]
	var out bytes.Buffer
	out.Grow(len(body))
	for i := 0; i < len(body); i++ {
		if body[i] != dictEscape {
			out.WriteByte(body[i])
			continue
		}
		i++
		if i >= len(body) {
			return nil, apperrors.New(apperrors.CodeCorruptPayload, "dangling dictionary escape")
		}
		if body[i] == dictLiteralMark {
			out.WriteByte(dictEscape)
			continue
		}
		idx := int(body[i])
		if idx >= len(entries) {
			return nil, apperrors.New(apperrors.CodeCorruptPayload, "dictionary index out of range")
		}
		out.WriteString(entries[idx])
	}
	return out.Bytes(), nil
}

// frequentTokens returns up to dictMaxEntries tokens worth substituting,
// longest first.
func frequentTokens(payload []byte) []string {
	counts := make(map[string]int)
	for _, match := range tokenPattern.FindAll(payload, -1) {
		if len(match) >= dictMinToken {
			counts[string(match)]++
		}
	}

	candidates := make([]string, 0, len(counts))
	for token, count := range counts {
		// Substitution costs 2 bytes per occurrence plus the dictionary
		// entry; only keep tokens that actually shrink the payload.
		if count >= dictMinCount && (len(token)-2)*count > len(token)+2 {
			candidates = append(candidates, token)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if len(candidates[i]) != len(candidates[j]) {
			return len(candidates[i]) > len(candidates[j])
		}
		return candidates[i] < candidates[j]
	})
	if len(candidates) > dictMaxEntries-1 {
		candidates = candidates[:dictMaxEntries-1]
	}
	return candidates
}
