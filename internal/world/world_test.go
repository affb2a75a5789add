package world

import (
	"testing"
	"time"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestNewWorldStartsOnActiveMainBranch(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	w, err := New("Drowned Ruins", fixedClock(now))
	if err != nil {
		t.Fatalf("new world: %v", err)
	}

	if w.Version != 1 {
		t.Fatalf("expected version 1, got %d", w.Version)
	}
	if len(w.Branches) != 1 {
		t.Fatalf("expected single branch, got %d", len(w.Branches))
	}
	if w.Branches[0].Name != MainBranchName {
		t.Fatalf("expected main branch, got %q", w.Branches[0].Name)
	}
	active, ok := w.ActiveBranch()
	if !ok {
		t.Fatal("expected an active branch")
	}
	if active.ID != w.ActiveBranchID {
		t.Fatalf("active branch id mismatch: %s vs %s", active.ID, w.ActiveBranchID)
	}
	if !w.CreatedAt.Equal(now) || !w.LastModified.Equal(now) {
		t.Fatal("expected timestamps from clock")
	}
	if !w.Owned {
		t.Fatal("expected new world to be owned")
	}
}

func TestNewWorldRequiresName(t *testing.T) {
	if _, err := New("", nil); err == nil {
		t.Fatal("expected error for empty name")
	}
}

func TestActiveBranchAmbiguousWhenTwoActive(t *testing.T) {
	w, err := New("w", nil)
	if err != nil {
		t.Fatalf("new world: %v", err)
	}
	w.Branches = append(w.Branches, Branch{ID: "b2", Name: "side", IsActive: true})

	if _, ok := w.ActiveBranch(); ok {
		t.Fatal("expected ambiguous active branch to report not-ok")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	w, err := New("original", fixedClock(now))
	if err != nil {
		t.Fatalf("new world: %v", err)
	}
	w.Elements = []Element{{
		ID:   "el-1",
		Type: "town",
		Relationships: []Relationship{
			{Type: "near", TargetID: "el-2"},
		},
		Properties: Properties{Extra: map[string]any{"biome": "forest"}},
	}}
	w.Tags = []string{"seed"}

	cloned := w.Clone()
	cloned.Elements[0].Relationships[0].TargetID = "el-9"
	cloned.Elements[0].Properties.Extra["biome"] = "desert"
	cloned.Tags[0] = "changed"
	cloned.Branches[0].Name = "renamed"

	if w.Elements[0].Relationships[0].TargetID != "el-2" {
		t.Fatal("clone mutated original relationship")
	}
	if w.Elements[0].Properties.Extra["biome"] != "forest" {
		t.Fatal("clone mutated original extra map")
	}
	if w.Tags[0] != "seed" {
		t.Fatal("clone mutated original tags")
	}
	if w.Branches[0].Name != MainBranchName {
		t.Fatal("clone mutated original branch")
	}
}

func TestElementContentHashTracksContent(t *testing.T) {
	el := Element{ID: "el-1", Type: "npc", Meta: ElementMeta{Name: "Guide", Version: 1}}

	first, err := el.ContentHash()
	if err != nil {
		t.Fatalf("content hash: %v", err)
	}
	second, err := el.ContentHash()
	if err != nil {
		t.Fatalf("content hash: %v", err)
	}
	if first != second {
		t.Fatalf("hash not stable: %s vs %s", first, second)
	}

	el.Meta.Name = "Elder"
	changed, err := el.ContentHash()
	if err != nil {
		t.Fatalf("content hash: %v", err)
	}
	if changed == first {
		t.Fatal("expected hash to change with content")
	}
}

func TestRefreshStatsCountsGraph(t *testing.T) {
	w, err := New("w", nil)
	if err != nil {
		t.Fatalf("new world: %v", err)
	}
	w.Elements = []Element{{ID: "a"}, {ID: "b"}}
	w.Patterns = []Pattern{{ID: "p1"}}
	w.Branches[0].AppendEvent(TimelineEvent{ID: "evt-1", Type: EventCreation})

	w.RefreshStats()

	if w.Stats.ElementCount != 2 || w.Stats.BranchCount != 1 || w.Stats.PatternCount != 1 || w.Stats.EventCount != 1 {
		t.Fatalf("unexpected stats: %+v", w.Stats)
	}
}
