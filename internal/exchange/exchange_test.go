package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	apperrors "github.com/louisbranch/worldvault/internal/platform/errors"
	"github.com/louisbranch/worldvault/internal/world"
	"github.com/louisbranch/worldvault/internal/worldstore"
)

func exchangeClock() time.Time {
	return time.Date(2025, time.July, 8, 10, 0, 0, 0, time.UTC)
}

type fakeStore struct {
	worlds map[string]world.World
	saves  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{worlds: make(map[string]world.World)}
}

func (f *fakeStore) SaveWorld(ctx context.Context, w *world.World) error {
	next := w.Clone()
	next.Version++
	next.LastModified = exchangeClock()
	f.worlds[next.ID] = next
	f.saves++
	*w = next
	return nil
}

func (f *fakeStore) LoadWorld(ctx context.Context, worldID string) (world.World, error) {
	w, ok := f.worlds[worldID]
	if !ok {
		return world.World{}, worldstore.ErrNotFound
	}
	return w.Clone(), nil
}

func (f *fakeStore) DeleteWorld(ctx context.Context, worldID string) error {
	delete(f.worlds, worldID)
	return nil
}

func (f *fakeStore) ListWorlds(ctx context.Context) ([]world.Summary, error) {
	return nil, nil
}

type fakeBackupper struct {
	calls int
	err   error
}

func (f *fakeBackupper) CreateBackup(ctx context.Context, worldID string, backupType worldstore.BackupType) (worldstore.BackupRecord, error) {
	f.calls++
	if f.err != nil {
		return worldstore.BackupRecord{}, f.err
	}
	return worldstore.BackupRecord{ID: "bk", WorldID: worldID, Type: backupType}, nil
}

func newExchangeWorld(t *testing.T) world.World {
	t.Helper()
	w, err := world.New("Greenhollow", exchangeClock)
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
	w.Branches[0].ElementIDs = []string{"tavern", "keeper"}
	w.RefreshStats()
	return w
}

func newTestService(t *testing.T) (*Service, *fakeStore, world.World) {
	t.Helper()
	store := newFakeStore()
	w := newExchangeWorld(t)
	store.worlds[w.ID] = w
	svc := NewService(store, WithClock(exchangeClock), WithExportedBy("tester"))
	return svc, store, w
}

func TestExportImportJSONRoundTrip(t *testing.T) {
	svc, _, w := newTestService(t)

	env, err := svc.Export(context.Background(), w.ID, FormatJSON)
	if err != nil {
		t.Fatalf("Export returned error: %v", err)
	}
	if env.Checksum == "" || env.Version != EnvelopeVersion {
		t.Fatalf("envelope = %+v, want checksum and version stamped", env)
	}
	if !env.Metadata.ExportedAt.Equal(exchangeClock()) || env.Metadata.ExportedBy != "tester" {
		t.Fatalf("metadata = %+v, want clock and author stamped", env.Metadata)
	}

	result, err := svc.Import(context.Background(), env, ImportOptions{
		PreserveIDs:        true,
		ConflictResolution: ResolutionReplace,
	})
	if err != nil {
		t.Fatalf("Import returned error: %v", err)
	}
	if result.Action != ActionReplaced {
		t.Fatalf("action = %q, want replaced", result.Action)
	}
	if result.World.ID != w.ID || len(result.World.Elements) != 2 {
		t.Fatalf("imported world = %+v, want the original graph", result.World)
	}
}

func TestImportRegeneratedIDsKeepShape(t *testing.T) {
	svc, store, w := newTestService(t)

	env, err := svc.Export(context.Background(), w.ID, FormatJSON)
	if err != nil {
		t.Fatalf("Export returned error: %v", err)
	}
	result, err := svc.Import(context.Background(), env, ImportOptions{PreserveIDs: false})
	if err != nil {
		t.Fatalf("Import returned error: %v", err)
	}
	if result.Action != ActionCreated {
		t.Fatalf("action = %q, want created", result.Action)
	}
	imported := result.World

	if imported.ID == w.ID {
		t.Fatal("world id must be regenerated")
	}
	if len(imported.Elements) != len(w.Elements) || len(imported.Branches) != len(w.Branches) {
		t.Fatalf("shape changed: %d/%d elements, %d/%d branches",
			len(imported.Elements), len(w.Elements), len(imported.Branches), len(w.Branches))
	}

	originalIDs := map[string]struct{}{w.ID: {}}
	for _, el := range w.Elements {
		originalIDs[el.ID] = struct{}{}
	}
	for _, br := range w.Branches {
		originalIDs[br.ID] = struct{}{}
	}
	for _, el := range imported.Elements {
		if _, clash := originalIDs[el.ID]; clash {
			t.Fatalf("element id %q survived regeneration", el.ID)
		}
	}

	// Relationship topology must survive the remap.
	var tavern *world.Element
	for i := range imported.Elements {
		if imported.Elements[i].Type == "location" {
			tavern = &imported.Elements[i]
		}
	}
	if tavern == nil || len(tavern.Relationships) != 1 {
		t.Fatal("location element lost its relationship through the remap")
	}
	if _, ok := imported.ElementByID(tavern.Relationships[0].TargetID); !ok {
		t.Fatal("relationship target was not remapped to a regenerated id")
	}
	if _, ok := imported.ActiveBranch(); !ok {
		t.Fatal("active branch reference was not remapped")
	}
	if _, ok := store.worlds[imported.ID]; !ok {
		t.Fatal("imported world missing from the store")
	}
}

func TestImportChecksumMismatchAborts(t *testing.T) {
	svc, store, w := newTestService(t)

	env, err := svc.Export(context.Background(), w.ID, FormatJSON)
	if err != nil {
		t.Fatalf("Export returned error: %v", err)
	}
	tampered := w.Clone()
	tampered.Name = "Not Greenhollow"
	env.WorldState, err = json.Marshal(tampered)
	if err != nil {
		t.Fatalf("Marshal returned error: %v", err)
	}

	_, err = svc.Import(context.Background(), env, ImportOptions{
		PreserveIDs:        true,
		ConflictResolution: ResolutionReplace,
	})
	if !errors.Is(err, apperrors.New(apperrors.CodeChecksumMismatch, "")) {
		t.Fatalf("import error = %v, want %s", err, apperrors.CodeChecksumMismatch)
	}
	if store.saves != 0 {
		t.Fatalf("saves = %d, want 0 after an aborted import", store.saves)
	}
}

func TestCompressedJSONRoundTrip(t *testing.T) {
	svc, _, w := newTestService(t)

	env, err := svc.Export(context.Background(), w.ID, FormatCompressedJSON)
	if err != nil {
		t.Fatalf("Export returned error: %v", err)
	}
	if env.Compression == nil || len(env.Compression.Data) == 0 {
		t.Fatal("compressed envelope missing compression section")
	}
	var state map[string]any
	if err := json.Unmarshal(env.WorldState, &state); err != nil {
		t.Fatalf("worldState stub unmarshal: %v", err)
	}
	if _, hasElements := state["elements"]; hasElements {
		t.Fatal("worldState must be a metadata-only stub for compressed_json")
	}

	result, err := svc.Import(context.Background(), env, ImportOptions{
		PreserveIDs:        true,
		ConflictResolution: ResolutionReplace,
	})
	if err != nil {
		t.Fatalf("Import returned error: %v", err)
	}
	if len(result.World.Elements) != 2 {
		t.Fatalf("imported elements = %d, want 2", len(result.World.Elements))
	}
}

func TestQRCodeRoundTrip(t *testing.T) {
	svc, _, w := newTestService(t)

	env, err := svc.Export(context.Background(), w.ID, FormatQRCode)
	if err != nil {
		t.Fatalf("Export returned error: %v", err)
	}
	var encoded string
	if err := json.Unmarshal(env.WorldState, &encoded); err != nil {
		t.Fatalf("qr payload is not a base64 string: %v", err)
	}

	result, err := svc.Import(context.Background(), env, ImportOptions{
		PreserveIDs:        true,
		ConflictResolution: ResolutionReplace,
	})
	if err != nil {
		t.Fatalf("Import returned error: %v", err)
	}
	if result.World.Name != w.Name {
		t.Fatalf("imported name = %q, want %q", result.World.Name, w.Name)
	}
}

func TestImportSkipKeepsExisting(t *testing.T) {
	svc, store, w := newTestService(t)

	env, err := svc.Export(context.Background(), w.ID, FormatJSON)
	if err != nil {
		t.Fatalf("Export returned error: %v", err)
	}
	result, err := svc.Import(context.Background(), env, ImportOptions{
		PreserveIDs:        true,
		ConflictResolution: ResolutionSkip,
	})
	if err != nil {
		t.Fatalf("Import returned error: %v", err)
	}
	if result.Action != ActionSkipped {
		t.Fatalf("action = %q, want skipped", result.Action)
	}
	if store.saves != 0 {
		t.Fatalf("saves = %d, want 0 for a skipped import", store.saves)
	}
}

func TestImportPromptRequiresDecision(t *testing.T) {
	svc, _, w := newTestService(t)

	env, err := svc.Export(context.Background(), w.ID, FormatJSON)
	if err != nil {
		t.Fatalf("Export returned error: %v", err)
	}
	_, err = svc.Import(context.Background(), env, ImportOptions{
		PreserveIDs:        true,
		ConflictResolution: ResolutionPrompt,
	})
	if !errors.Is(err, apperrors.New(apperrors.CodeImportPromptRequired, "")) {
		t.Fatalf("import error = %v, want %s", err, apperrors.CodeImportPromptRequired)
	}
}

func TestImportRenameCreatesCopy(t *testing.T) {
	svc, store, w := newTestService(t)

	env, err := svc.Export(context.Background(), w.ID, FormatJSON)
	if err != nil {
		t.Fatalf("Export returned error: %v", err)
	}
	result, err := svc.Import(context.Background(), env, ImportOptions{
		PreserveIDs:        true,
		ConflictResolution: ResolutionRename,
	})
	if err != nil {
		t.Fatalf("Import returned error: %v", err)
	}
	if result.Action != ActionRenamed {
		t.Fatalf("action = %q, want renamed", result.Action)
	}
	if result.World.ID == w.ID {
		t.Fatal("renamed import kept the original world id")
	}
	if result.World.Name != w.Name+" (imported)" {
		t.Fatalf("renamed world name = %q", result.World.Name)
	}
	if len(store.worlds) != 2 {
		t.Fatalf("stored worlds = %d, want the original plus the copy", len(store.worlds))
	}
}

func TestImportIncompatibleVersionRejected(t *testing.T) {
	svc, _, w := newTestService(t)

	env, err := svc.Export(context.Background(), w.ID, FormatJSON)
	if err != nil {
		t.Fatalf("Export returned error: %v", err)
	}
	env.Version = "99"
	env.Metadata.Compatibility = []string{"99"}

	_, err = svc.Import(context.Background(), env, ImportOptions{PreserveIDs: true})
	if !errors.Is(err, apperrors.New(apperrors.CodeIncompatibleEnvelope, "")) {
		t.Fatalf("import error = %v, want %s", err, apperrors.CodeIncompatibleEnvelope)
	}
}

func TestExportUnsupportedFormatRejected(t *testing.T) {
	svc, _, w := newTestService(t)

	_, err := svc.Export(context.Background(), w.ID, Format("yaml"))
	if !errors.Is(err, apperrors.New(apperrors.CodeUnsupportedFormat, "")) {
		t.Fatalf("export error = %v, want %s", err, apperrors.CodeUnsupportedFormat)
	}
}

func TestImportBackupBeforeReplace(t *testing.T) {
	store := newFakeStore()
	w := newExchangeWorld(t)
	store.worlds[w.ID] = w
	backup := &fakeBackupper{}
	svc := NewService(store, WithClock(exchangeClock), WithBackupper(backup))

	env, err := svc.Export(context.Background(), w.ID, FormatJSON)
	if err != nil {
		t.Fatalf("Export returned error: %v", err)
	}
	if _, err := svc.Import(context.Background(), env, ImportOptions{
		PreserveIDs:        true,
		ConflictResolution: ResolutionReplace,
		CreateBackup:       true,
	}); err != nil {
		t.Fatalf("Import returned error: %v", err)
	}
	if backup.calls != 1 {
		t.Fatalf("backup calls = %d, want 1", backup.calls)
	}

	backup.err = fmt.Errorf("disk full")
	saves := store.saves
	if _, err := svc.Import(context.Background(), env, ImportOptions{
		PreserveIDs:        true,
		ConflictResolution: ResolutionReplace,
		CreateBackup:       true,
	}); err == nil {
		t.Fatal("import must abort when the safety backup fails")
	}
	if store.saves != saves {
		t.Fatal("aborted import must not persist anything")
	}
}
