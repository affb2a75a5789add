package recovery

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/louisbranch/worldvault/internal/codec"
	apperrors "github.com/louisbranch/worldvault/internal/platform/errors"
	"github.com/louisbranch/worldvault/internal/platform/id"
	"github.com/louisbranch/worldvault/internal/telemetry"
	"github.com/louisbranch/worldvault/internal/worldstore"
)

// CreateBackup snapshots a validated world. Worlds with critical validation
// errors are refused; backing up known-broken state would poison the restore
// chain. The newest prior backup, when it is not itself delta-encoded, serves
// as the delta baseline for the new snapshot.
func (s *Service) CreateBackup(ctx context.Context, worldID string, backupType worldstore.BackupType) (worldstore.BackupRecord, error) {
	w, err := s.store.LoadWorld(ctx, worldID)
	if err != nil {
		return worldstore.BackupRecord{}, err
	}

	report := ValidateWorld(&w)
	if !report.IsValid() {
		return worldstore.BackupRecord{}, apperrors.WithMetadata(apperrors.CodeBackupRefused,
			"world has critical validation errors",
			map[string]string{"world_id": worldID, "severity": string(report.MaxSeverity())})
	}

	doc, err := json.Marshal(w)
	if err != nil {
		return worldstore.BackupRecord{}, fmt.Errorf("marshal world %s: %w", worldID, err)
	}

	existing, err := s.store.ListBackups(ctx, worldID)
	if err != nil {
		return worldstore.BackupRecord{}, err
	}
	baselineID := ""
	if len(existing) > 0 && existing[0].Algorithm != string(codec.AlgorithmDelta) && existing[0].IntegrityOK {
		baselineID = backupBaselineID(worldID, existing[0].ID)
	}

	env, err := s.codec.Compress(doc, codec.Options{BaselineID: baselineID})
	if err != nil {
		return worldstore.BackupRecord{}, err
	}

	backupID, err := id.NewID()
	if err != nil {
		return worldstore.BackupRecord{}, err
	}
	now := s.clock().UTC()
	rec := worldstore.BackupRecord{
		ID:             backupID,
		WorldID:        worldID,
		CreatedAt:      now,
		Type:           backupType,
		Algorithm:      string(env.Algorithm),
		BaselineID:     env.BaselineID,
		Checksum:       checksumHex(env.Data),
		OriginalSize:   int64(env.OriginalSize),
		CompressedSize: int64(env.CompressedSize),
		Ratio:          env.Ratio,
		RetainUntil:    now.Add(s.retention),
		IntegrityOK:    true,
		Payload:        env.Data,
	}
	if err := s.store.PutBackup(ctx, rec); err != nil {
		return worldstore.BackupRecord{}, err
	}
	observeBackup(backupType)

	if err := s.pruneBackups(ctx, worldID); err != nil {
		return worldstore.BackupRecord{}, err
	}

	s.emit(ctx, worldID, telemetry.SeverityInfo, "backup",
		fmt.Sprintf("created %s backup %s", backupType, backupID))
	return rec, nil
}

// pruneBackups drops expired backups and then the oldest beyond the cap. A
// backup serving as the baseline of a retained delta is pinned past both
// limits; deleting it would leave the delta unrestorable. Baselines are never
// delta-encoded themselves, so one pinning pass suffices.
func (s *Service) pruneBackups(ctx context.Context, worldID string) error {
	backups, err := s.store.ListBackups(ctx, worldID)
	if err != nil {
		return err
	}
	now := s.clock().UTC()
	keep := make(map[string]bool, len(backups))
	kept := 0
	for _, backup := range backups {
		expired := !backup.RetainUntil.IsZero() && backup.RetainUntil.Before(now)
		if !expired && kept < s.maxBackups {
			keep[backup.ID] = true
			kept++
		}
	}
	for _, backup := range backups {
		if !keep[backup.ID] || backup.BaselineID == "" {
			continue
		}
		if _, baselineID, ok := splitBaselineID(backup.BaselineID); ok {
			keep[baselineID] = true
		}
	}
	for _, backup := range backups {
		if keep[backup.ID] {
			continue
		}
		if err := s.store.DeleteBackup(ctx, worldID, backup.ID); err != nil {
			return err
		}
	}
	return nil
}

// ListBackups returns the backups for a world, newest first.
func (s *Service) ListBackups(ctx context.Context, worldID string) ([]worldstore.BackupRecord, error) {
	return s.store.ListBackups(ctx, worldID)
}

func backupBaselineID(worldID, backupID string) string {
	return worldID + "/" + backupID
}

func checksumHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// backupBaselines resolves delta baselines from prior backups. Only non-delta
// backups serve as baselines, so resolution never recurses.
type backupBaselines struct {
	store worldstore.BackupStore
	plain *codec.Codec
}

// Baseline returns the decompressed world document of the named backup.
func (b backupBaselines) Baseline(baselineID string) ([]byte, error) {
	worldID, backupID, ok := splitBaselineID(baselineID)
	if !ok {
		return nil, fmt.Errorf("malformed baseline id %q", baselineID)
	}
	rec, err := b.store.GetBackup(context.Background(), worldID, backupID)
	if err != nil {
		return nil, err
	}
	if rec.Algorithm == string(codec.AlgorithmDelta) {
		return nil, fmt.Errorf("baseline backup %s is delta-encoded", backupID)
	}
	return b.plain.Decompress(codec.Envelope{
		Algorithm:    codec.Algorithm(rec.Algorithm),
		OriginalSize: int(rec.OriginalSize),
		Data:         rec.Payload,
	})
}

func splitBaselineID(baselineID string) (worldID, backupID string, ok bool) {
	for i := 0; i < len(baselineID); i++ {
		if baselineID[i] == '/' {
			return baselineID[:i], baselineID[i+1:], i > 0 && i < len(baselineID)-1
		}
	}
	return "", "", false
}
