package bolt

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/louisbranch/worldvault/internal/world"
	"github.com/louisbranch/worldvault/internal/worldstore"
)

type stepClock struct {
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.now = c.now.Add(time.Second)
	return c.now
}

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	clock := newStepClock()
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	store, err := Open(filepath.Join(t.TempDir(), "worlds.db"), opts...)
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("Close returned error: %v", err)
		}
	})
	return store
}

func newTestWorld(t *testing.T, name string) world.World {
	t.Helper()
	w, err := world.New(name, func() time.Time {
		return time.Date(2025, time.March, 1, 11, 0, 0, 0, time.UTC)
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	w.Elements = []world.Element{
		{
			ID:   "tavern",
			Type: "location",
			Meta: world.ElementMeta{Name: "The Gilded Fern"},
			Relationships: []world.Relationship{
				{Type: "houses", TargetID: "keeper"},
			},
		},
		{ID: "keeper", Type: "npc", Meta: world.ElementMeta{Name: "Maeve"}},
	}
	w.RefreshStats()
	return w
}

func TestSaveWorldRoundTrip(t *testing.T) {
	store := newTestStore(t)
	w := newTestWorld(t, "Greenhollow")

	if err := store.SaveWorld(context.Background(), &w); err != nil {
		t.Fatalf("SaveWorld returned error: %v", err)
	}
	if w.Version != 2 {
		t.Fatalf("version after save = %d, want 2", w.Version)
	}

	loaded, err := store.LoadWorld(context.Background(), w.ID)
	if err != nil {
		t.Fatalf("LoadWorld returned error: %v", err)
	}
	if loaded.Name != "Greenhollow" || len(loaded.Elements) != 2 {
		t.Fatalf("loaded world = %+v, want the saved graph", loaded)
	}
	tavern, ok := loaded.ElementByID("tavern")
	if !ok || len(tavern.Relationships) != 1 {
		t.Fatal("relationships lost through the round trip")
	}
	if _, ok := loaded.ActiveBranch(); !ok {
		t.Fatal("loaded world lost its active branch")
	}
}

func TestSaveWorldRejectsBrokenGraph(t *testing.T) {
	store := newTestStore(t)
	w := newTestWorld(t, "Greenhollow")
	if err := store.SaveWorld(context.Background(), &w); err != nil {
		t.Fatalf("SaveWorld returned error: %v", err)
	}

	broken := w.Clone()
	broken.Elements = append(broken.Elements, world.Element{ID: "tavern", Type: "location"})
	if err := store.SaveWorld(context.Background(), &broken); err == nil {
		t.Fatal("SaveWorld accepted a duplicate element id")
	}
	if broken.Version != w.Version {
		t.Fatal("failed save mutated the caller's copy")
	}

	stored, err := store.LoadWorld(context.Background(), w.ID)
	if err != nil {
		t.Fatalf("LoadWorld returned error: %v", err)
	}
	if stored.Version != w.Version {
		t.Fatalf("stored version = %d, want prior state %d", stored.Version, w.Version)
	}
}

func TestLoadWorldNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.LoadWorld(context.Background(), "missing")
	if !errors.Is(err, worldstore.ErrNotFound) {
		t.Fatalf("LoadWorld error = %v, want ErrNotFound", err)
	}
}

func TestDeleteWorld(t *testing.T) {
	store := newTestStore(t)
	w := newTestWorld(t, "Greenhollow")
	if err := store.SaveWorld(context.Background(), &w); err != nil {
		t.Fatalf("SaveWorld returned error: %v", err)
	}

	if err := store.DeleteWorld(context.Background(), w.ID); err != nil {
		t.Fatalf("DeleteWorld returned error: %v", err)
	}
	if _, err := store.LoadWorld(context.Background(), w.ID); !errors.Is(err, worldstore.ErrNotFound) {
		t.Fatalf("LoadWorld after delete = %v, want ErrNotFound", err)
	}
	if err := store.DeleteWorld(context.Background(), w.ID); !errors.Is(err, worldstore.ErrNotFound) {
		t.Fatalf("second DeleteWorld = %v, want ErrNotFound", err)
	}
}

func TestSaveWorldEnforcesQuota(t *testing.T) {
	store := newTestStore(t, WithMaxWorlds(1))
	first := newTestWorld(t, "First")
	if err := store.SaveWorld(context.Background(), &first); err != nil {
		t.Fatalf("SaveWorld returned error: %v", err)
	}

	second, err := world.New("Second", time.Now)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if err := store.SaveWorld(context.Background(), &second); !errors.Is(err, worldstore.ErrQuotaExceeded) {
		t.Fatalf("SaveWorld error = %v, want ErrQuotaExceeded", err)
	}

	// Re-saving an existing world is exempt from the quota.
	if err := store.SaveWorld(context.Background(), &first); err != nil {
		t.Fatalf("re-save returned error: %v", err)
	}
}

func TestListWorldsNewestFirst(t *testing.T) {
	store := newTestStore(t)
	first := newTestWorld(t, "First")
	second := newTestWorld(t, "Second")

	if err := store.SaveWorld(context.Background(), &first); err != nil {
		t.Fatalf("SaveWorld returned error: %v", err)
	}
	if err := store.SaveWorld(context.Background(), &second); err != nil {
		t.Fatalf("SaveWorld returned error: %v", err)
	}

	summaries, err := store.ListWorlds(context.Background())
	if err != nil {
		t.Fatalf("ListWorlds returned error: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("summaries = %d, want 2", len(summaries))
	}
	if summaries[0].Name != "Second" || summaries[1].Name != "First" {
		t.Fatalf("order = [%s, %s], want newest first", summaries[0].Name, summaries[1].Name)
	}
}
