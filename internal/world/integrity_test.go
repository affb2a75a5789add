package world

import (
	"errors"
	"math"
	"testing"
	"time"

	apperrors "github.com/louisbranch/worldvault/internal/platform/errors"
)

func integrityClock() time.Time {
	return time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)
}

func validWorld(t *testing.T) World {
	t.Helper()
	w, err := New("Greenhollow", integrityClock)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	w.Elements = []Element{
		{ID: "tavern", Type: "building"},
		{ID: "keeper", Type: "npc", Relationships: []Relationship{{Type: "works_at", TargetID: "tavern"}}},
	}
	return w
}

func TestCheckIntegrityAcceptsValidWorld(t *testing.T) {
	w := validWorld(t)
	if err := w.CheckIntegrity(); err != nil {
		t.Fatalf("CheckIntegrity returned error: %v", err)
	}
}

func TestCheckIntegrityRejectsDuplicateElementIDs(t *testing.T) {
	w := validWorld(t)
	w.Elements = append(w.Elements, Element{ID: "tavern", Type: "building"})

	err := w.CheckIntegrity()
	if !errors.Is(err, apperrors.New(apperrors.CodeDuplicateElementID, "")) {
		t.Fatalf("CheckIntegrity error = %v, want duplicate element id", err)
	}
}

func TestCheckIntegrityRejectsDanglingRelationship(t *testing.T) {
	w := validWorld(t)
	w.Elements[1].Relationships = append(w.Elements[1].Relationships,
		Relationship{Type: "guards", TargetID: "missing"})

	err := w.CheckIntegrity()
	if !errors.Is(err, apperrors.New(apperrors.CodeDanglingRelationship, "")) {
		t.Fatalf("CheckIntegrity error = %v, want dangling relationship", err)
	}
}

func TestCheckIntegrityRejectsNonFinitePosition(t *testing.T) {
	w := validWorld(t)
	w.Elements[0].Position.X = math.NaN()

	err := w.CheckIntegrity()
	if !errors.Is(err, apperrors.New(apperrors.CodeNonFinitePosition, "")) {
		t.Fatalf("CheckIntegrity error = %v, want non-finite position", err)
	}
}

func TestCheckIntegrityRejectsMissingActiveBranch(t *testing.T) {
	w := validWorld(t)
	w.Branches[0].IsActive = false

	err := w.CheckIntegrity()
	if !errors.Is(err, apperrors.New(apperrors.CodeNoActiveBranch, "")) {
		t.Fatalf("CheckIntegrity error = %v, want no active branch", err)
	}
}

func TestCheckIntegrityRejectsActivePointerMismatch(t *testing.T) {
	w := validWorld(t)
	w.ActiveBranchID = "some-other-branch"

	err := w.CheckIntegrity()
	if !errors.Is(err, apperrors.New(apperrors.CodeActiveBranchNotFound, "")) {
		t.Fatalf("CheckIntegrity error = %v, want active branch not found", err)
	}
}

func TestCheckIntegrityRejectsBranchWithMissingElement(t *testing.T) {
	w := validWorld(t)
	w.Branches[0].ElementIDs = []string{"missing"}

	err := w.CheckIntegrity()
	if !errors.Is(err, apperrors.New(apperrors.CodeDanglingBranchElement, "")) {
		t.Fatalf("CheckIntegrity error = %v, want dangling branch element", err)
	}
}

func TestCheckIntegrityRejectsEmptyIdentifiers(t *testing.T) {
	w := validWorld(t)
	w.ID = ""
	if err := w.CheckIntegrity(); !errors.Is(err, apperrors.New(apperrors.CodeWorldIDEmpty, "")) {
		t.Fatalf("CheckIntegrity error = %v, want empty world id", err)
	}

	w = validWorld(t)
	w.Elements[0].ID = ""
	if err := w.CheckIntegrity(); !errors.Is(err, apperrors.New(apperrors.CodeMissingElementID, "")) {
		t.Fatalf("CheckIntegrity error = %v, want missing element id", err)
	}

	w = validWorld(t)
	w.Branches[0].ID = ""
	if err := w.CheckIntegrity(); !errors.Is(err, apperrors.New(apperrors.CodeMissingBranchID, "")) {
		t.Fatalf("CheckIntegrity error = %v, want missing branch id", err)
	}
}

func TestCheckIntegrityRejectsDuplicateBranchIDs(t *testing.T) {
	w := validWorld(t)
	w.Branches = append(w.Branches, Branch{ID: w.Branches[0].ID, Name: "copy"})

	err := w.CheckIntegrity()
	if !errors.Is(err, apperrors.New(apperrors.CodeDuplicateBranchID, "")) {
		t.Fatalf("CheckIntegrity error = %v, want duplicate branch id", err)
	}
}
