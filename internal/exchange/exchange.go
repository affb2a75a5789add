// Package exchange moves worlds across application boundaries as versioned,
// checksummed envelopes. The envelope is the only wire shape; every format is
// a different packing of the same world document.
package exchange

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/louisbranch/worldvault/internal/codec"
	apperrors "github.com/louisbranch/worldvault/internal/platform/errors"
	"github.com/louisbranch/worldvault/internal/worldstore"
)

// Format names an envelope packing.
type Format string

const (
	// FormatJSON carries the world document verbatim.
	FormatJSON Format = "json"
	// FormatCompressedJSON carries a metadata stub plus a compression section.
	FormatCompressedJSON Format = "compressed_json"
	// FormatQRCode carries a base64 deflate payload small enough to encode
	// as a QR code.
	FormatQRCode Format = "qr_code"
	// FormatBackup is the compressed packing used when re-ingesting worlds
	// through the recovery pipeline. Packing matches compressed_json; the
	// label tells the importer where the envelope came from.
	FormatBackup Format = "backup"
)

// EnvelopeVersion is the current envelope schema version.
const EnvelopeVersion = "1"

// Metadata describes the provenance of an export.
type Metadata struct {
	ExportedAt         time.Time `json:"exportedAt"`
	ExportedBy         string    `json:"exportedBy,omitempty"`
	ApplicationVersion string    `json:"applicationVersion"`
	Compatibility      []string  `json:"compatibility"`
}

// Compression is the compressed payload section of a non-json envelope.
type Compression struct {
	Algorithm      string  `json:"algorithm"`
	Ratio          float64 `json:"ratio"`
	OriginalSize   int     `json:"originalSize"`
	CompressedSize int     `json:"compressedSize"`
	Checksum       string  `json:"checksum"`
	Data           []byte  `json:"data"`
}

// Envelope is the exchange wire format. Checksum covers the uncompressed
// world document regardless of packing.
type Envelope struct {
	Format      Format          `json:"format"`
	Version     string          `json:"version"`
	WorldState  json.RawMessage `json:"worldState,omitempty"`
	Metadata    Metadata        `json:"metadata"`
	Compression *Compression    `json:"compression,omitempty"`
	Checksum    string          `json:"checksum"`
}

// stub is the metadata-only world placed in worldState when the full
// document travels in the compression section.
type stub struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Version      int64     `json:"version"`
	LastModified time.Time `json:"lastModified"`
}

// Backupper takes a safety snapshot before an import overwrites a world.
type Backupper interface {
	CreateBackup(ctx context.Context, worldID string, backupType worldstore.BackupType) (worldstore.BackupRecord, error)
}

// Service implements world export and import.
type Service struct {
	store      worldstore.WorldStore
	codec      *codec.Codec
	backup     Backupper
	clock      func() time.Time
	exportedBy string
	appVersion string
}

// Option configures a Service.
type Option func(*Service)

// WithClock injects the time source.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithCodec injects the compression codec.
func WithCodec(c *codec.Codec) Option {
	return func(s *Service) {
		if c != nil {
			s.codec = c
		}
	}
}

// WithBackupper injects the pre-import backup provider.
func WithBackupper(backup Backupper) Option {
	return func(s *Service) {
		s.backup = backup
	}
}

// WithExportedBy stamps exports with the given author.
func WithExportedBy(exportedBy string) Option {
	return func(s *Service) {
		s.exportedBy = exportedBy
	}
}

// WithApplicationVersion stamps exports with the given application version.
func WithApplicationVersion(version string) Option {
	return func(s *Service) {
		if version != "" {
			s.appVersion = version
		}
	}
}

// NewService creates an exchange service over the given store.
func NewService(store worldstore.WorldStore, opts ...Option) *Service {
	s := &Service{
		store:      store,
		codec:      codec.New(),
		clock:      time.Now,
		appVersion: "1.0.0",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Export packs a world into an envelope under the given format.
func (s *Service) Export(ctx context.Context, worldID string, format Format) (Envelope, error) {
	w, err := s.store.LoadWorld(ctx, worldID)
	if err != nil {
		return Envelope{}, err
	}

	doc, err := json.Marshal(w)
	if err != nil {
		return Envelope{}, err
	}

	env := Envelope{
		Format:  format,
		Version: EnvelopeVersion,
		Metadata: Metadata{
			ExportedAt:         s.clock().UTC(),
			ExportedBy:         s.exportedBy,
			ApplicationVersion: s.appVersion,
			Compatibility:      []string{EnvelopeVersion},
		},
		Checksum: checksumHex(doc),
	}

	switch format {
	case FormatJSON:
		env.WorldState = doc
	case FormatCompressedJSON, FormatBackup:
		compressed, err := s.codec.Compress(doc, codec.Options{Algorithm: codec.AlgorithmDeflate})
		if err != nil {
			return Envelope{}, err
		}
		stubDoc, err := json.Marshal(stub{
			ID:           w.ID,
			Name:         w.Name,
			Version:      w.Version,
			LastModified: w.LastModified,
		})
		if err != nil {
			return Envelope{}, err
		}
		env.WorldState = stubDoc
		env.Compression = &Compression{
			Algorithm:      string(compressed.Algorithm),
			Ratio:          compressed.Ratio,
			OriginalSize:   compressed.OriginalSize,
			CompressedSize: compressed.CompressedSize,
			Checksum:       checksumHex(compressed.Data),
			Data:           compressed.Data,
		}
	case FormatQRCode:
		compressed, err := s.codec.Compress(doc, codec.Options{Algorithm: codec.AlgorithmDeflate})
		if err != nil {
			return Envelope{}, err
		}
		encoded, err := json.Marshal(base64.StdEncoding.EncodeToString(compressed.Data))
		if err != nil {
			return Envelope{}, err
		}
		env.WorldState = encoded
	default:
		return Envelope{}, apperrors.WithMetadata(apperrors.CodeUnsupportedFormat,
			"unsupported export format", map[string]string{"format": string(format)})
	}

	return env, nil
}

// unpack reconstructs the world document from an envelope and verifies the
// checksum before any bytes are interpreted.
func (s *Service) unpack(env Envelope) ([]byte, error) {
	var doc []byte
	switch env.Format {
	case FormatJSON:
		doc = env.WorldState
	case FormatCompressedJSON, FormatBackup:
		if env.Compression == nil {
			return nil, apperrors.New(apperrors.CodeCorruptPayload, "compressed envelope without compression section")
		}
		if checksumHex(env.Compression.Data) != env.Compression.Checksum {
			return nil, apperrors.New(apperrors.CodeChecksumMismatch, "compressed payload checksum mismatch")
		}
		inflated, err := s.codec.Decompress(codec.Envelope{
			Algorithm:    codec.Algorithm(env.Compression.Algorithm),
			OriginalSize: env.Compression.OriginalSize,
			Data:         env.Compression.Data,
		})
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeCorruptPayload, "decompress envelope", err)
		}
		doc = inflated
	case FormatQRCode:
		var encoded string
		if err := json.Unmarshal(env.WorldState, &encoded); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeCorruptPayload, "decode qr payload", err)
		}
		compressed, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeCorruptPayload, "decode qr payload", err)
		}
		inflated, err := s.codec.Decompress(codec.Envelope{
			Algorithm: codec.AlgorithmDeflate,
			Data:      compressed,
		})
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeCorruptPayload, "decompress qr payload", err)
		}
		doc = inflated
	default:
		return nil, apperrors.WithMetadata(apperrors.CodeUnsupportedFormat,
			"unsupported envelope format", map[string]string{"format": string(env.Format)})
	}

	if checksumHex(doc) != env.Checksum {
		return nil, apperrors.WithMetadata(apperrors.CodeChecksumMismatch,
			"envelope checksum mismatch",
			map[string]string{"expected": env.Checksum, "actual": checksumHex(doc)})
	}
	return doc, nil
}

func checksumHex(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
