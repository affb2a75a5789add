package recovery

import (
	"context"
	"errors"

	"github.com/louisbranch/worldvault/internal/platform/id"
	"github.com/louisbranch/worldvault/internal/telemetry"
	"github.com/louisbranch/worldvault/internal/worldstore"
)

// DetectCorruption validates a world and records what it finds in the
// per-world corruption history. A world that cannot be loaded at all is
// recorded as complete corruption with maximal estimated loss. The second
// return value reports whether corruption was detected.
func (s *Service) DetectCorruption(ctx context.Context, worldID string) (worldstore.CorruptionRecord, bool, error) {
	w, err := s.store.LoadWorld(ctx, worldID)
	if err != nil {
		if errors.Is(err, worldstore.ErrNotFound) {
			return worldstore.CorruptionRecord{}, false, err
		}
		rec, recordErr := s.recordCorruption(ctx, worldstore.CorruptionRecord{
			WorldID:          worldID,
			Kind:             worldstore.CorruptionComplete,
			Severity:         string(SeverityCritical),
			EstimatedLossPct: 100,
		})
		if recordErr != nil {
			return worldstore.CorruptionRecord{}, false, recordErr
		}
		s.emit(ctx, worldID, telemetry.SeverityError, "corruption",
			"world cannot be loaded: "+err.Error())
		return rec, true, nil
	}

	report := ValidateWorld(&w)
	if len(report.Issues) == 0 {
		return worldstore.CorruptionRecord{}, false, nil
	}

	affected := report.AffectedElementIDs()
	loss := 0.0
	if len(w.Elements) > 0 {
		loss = float64(len(affected)) / float64(len(w.Elements)) * 100
	}

	rec, err := s.recordCorruption(ctx, worldstore.CorruptionRecord{
		WorldID:           worldID,
		Kind:              classifyCorruption(report),
		Severity:          string(report.MaxSeverity()),
		EstimatedLossPct:  loss,
		AffectedElementID: affected,
	})
	if err != nil {
		return worldstore.CorruptionRecord{}, false, err
	}
	s.emit(ctx, worldID, telemetry.SeverityWarn, "corruption",
		"detected "+string(rec.Kind)+" corruption")
	return rec, true, nil
}

// CorruptionHistory returns the audit trail of detections for a world.
func (s *Service) CorruptionHistory(ctx context.Context, worldID string) ([]worldstore.CorruptionRecord, error) {
	return s.store.ListCorruption(ctx, worldID)
}

func (s *Service) recordCorruption(ctx context.Context, rec worldstore.CorruptionRecord) (worldstore.CorruptionRecord, error) {
	recordID, err := id.NewID()
	if err != nil {
		return worldstore.CorruptionRecord{}, err
	}
	rec.ID = recordID
	rec.DetectedAt = s.clock().UTC()
	if err := s.store.AppendCorruption(ctx, rec); err != nil {
		return worldstore.CorruptionRecord{}, err
	}
	observeCorruption(rec.Kind)
	return rec, nil
}

// classifyCorruption maps validation issues onto a corruption kind. Branch
// and relationship damage reads as structural, element damage as partial,
// world-level damage as metadata.
func classifyCorruption(report Report) worldstore.CorruptionKind {
	structural := false
	partial := false
	for _, issue := range report.Issues {
		switch issue.Code {
		case CheckDanglingRelationship, CheckMissingBranchElement,
			CheckDuplicateBranchID, CheckMissingBranchID:
			structural = true
		case CheckDuplicateElementID, CheckMissingElementID, CheckNonFinitePosition:
			partial = true
		}
	}
	switch {
	case structural:
		return worldstore.CorruptionStructural
	case partial:
		return worldstore.CorruptionPartial
	default:
		return worldstore.CorruptionMetadata
	}
}
