package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/louisbranch/worldvault/internal/codec"
	apperrors "github.com/louisbranch/worldvault/internal/platform/errors"
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
	path := filepath.Join(t.TempDir(), "worlds.db")
	store, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestWorld(t *testing.T, name string) world.World {
	t.Helper()
	w, err := world.New(name, newStepClock().Now)
	if err != nil {
		t.Fatalf("world.New returned error: %v", err)
	}
	w.Elements = []world.Element{
		{ID: "tavern", Type: "building", Meta: world.ElementMeta{Name: "The Gilded Tankard"}},
		{ID: "keeper", Type: "npc", Relationships: []world.Relationship{
			{Type: "works_at", TargetID: "tavern"},
		}},
	}
	w.Patterns = []world.Pattern{
		{ID: "market-day", Type: "ritual", Frequency: 3, Confidence: 0.7},
	}
	return w
}

func TestSaveWorldRoundTrip(t *testing.T) {
	clock := newStepClock()
	store := newTestStore(t, WithClock(clock.Now))
	ctx := context.Background()

	w := newTestWorld(t, "Greenhollow")
	if err := store.SaveWorld(ctx, &w); err != nil {
		t.Fatalf("SaveWorld returned error: %v", err)
	}
	if w.Version != 2 {
		t.Fatalf("Version = %d, want 2", w.Version)
	}
	if w.Stats.TotalSaves != 1 {
		t.Fatalf("TotalSaves = %d, want 1", w.Stats.TotalSaves)
	}

	loaded, err := store.LoadWorld(ctx, w.ID)
	if err != nil {
		t.Fatalf("LoadWorld returned error: %v", err)
	}
	if loaded.Name != "Greenhollow" {
		t.Fatalf("Name = %q, want Greenhollow", loaded.Name)
	}
	if loaded.Version != w.Version {
		t.Fatalf("Version = %d, want %d", loaded.Version, w.Version)
	}
	if len(loaded.Elements) != 2 {
		t.Fatalf("Elements = %d, want 2", len(loaded.Elements))
	}
	if len(loaded.Patterns) != 1 {
		t.Fatalf("Patterns = %d, want 1", len(loaded.Patterns))
	}
	el, ok := loaded.ElementByID("keeper")
	if !ok {
		t.Fatal("element keeper missing after load")
	}
	if len(el.Relationships) != 1 || el.Relationships[0].TargetID != "tavern" {
		t.Fatalf("keeper relationships = %+v, want works_at tavern", el.Relationships)
	}
}

func TestSaveWorldAppendsSaveEvent(t *testing.T) {
	store := newTestStore(t, WithClock(newStepClock().Now))
	ctx := context.Background()

	w := newTestWorld(t, "Greenhollow")
	if err := store.SaveWorld(ctx, &w); err != nil {
		t.Fatalf("SaveWorld returned error: %v", err)
	}

	loaded, err := store.LoadWorld(ctx, w.ID)
	if err != nil {
		t.Fatalf("LoadWorld returned error: %v", err)
	}
	br, ok := loaded.ActiveBranch()
	if !ok {
		t.Fatal("loaded world has no active branch")
	}
	if len(br.Events) != 1 {
		t.Fatalf("active branch events = %d, want 1", len(br.Events))
	}
	if br.Events[0].Type != world.EventSave {
		t.Fatalf("event type = %q, want %q", br.Events[0].Type, world.EventSave)
	}
}

func TestSaveWorldRejectsBrokenGraphAndKeepsPriorState(t *testing.T) {
	store := newTestStore(t, WithClock(newStepClock().Now))
	ctx := context.Background()

	w := newTestWorld(t, "Greenhollow")
	if err := store.SaveWorld(ctx, &w); err != nil {
		t.Fatalf("SaveWorld returned error: %v", err)
	}
	savedVersion := w.Version

	broken := w.Clone()
	broken.Elements[1].Relationships = append(broken.Elements[1].Relationships,
		world.Relationship{Type: "guards", TargetID: "missing"})

	err := store.SaveWorld(ctx, &broken)
	if !errors.Is(err, apperrors.New(apperrors.CodeDanglingRelationship, "")) {
		t.Fatalf("SaveWorld error = %v, want dangling relationship", err)
	}
	if broken.Version != savedVersion {
		t.Fatalf("failed save mutated caller copy: version %d, want %d", broken.Version, savedVersion)
	}

	loaded, err := store.LoadWorld(ctx, w.ID)
	if err != nil {
		t.Fatalf("LoadWorld returned error: %v", err)
	}
	if loaded.Version != savedVersion {
		t.Fatalf("stored version = %d, want %d", loaded.Version, savedVersion)
	}
}

func TestSaveWorldSnapshotRoundTrip(t *testing.T) {
	store := newTestStore(t,
		WithClock(newStepClock().Now),
		WithCodec(codec.New(codec.WithThreshold(256))),
	)
	ctx := context.Background()

	w := newTestWorld(t, "Greenhollow")
	w.Description = strings.Repeat("The emerald river splits the timber district in two. ", 40)

	if err := store.SaveWorld(ctx, &w); err != nil {
		t.Fatalf("SaveWorld returned error: %v", err)
	}

	var algorithm string
	row := store.sqlDB.QueryRow(`SELECT snapshot_algorithm FROM worlds WHERE id = ?`, w.ID)
	if err := row.Scan(&algorithm); err != nil {
		t.Fatalf("read snapshot algorithm: %v", err)
	}
	if algorithm == "" {
		t.Fatal("expected compressed snapshot above threshold")
	}

	loaded, err := store.LoadWorld(ctx, w.ID)
	if err != nil {
		t.Fatalf("LoadWorld returned error: %v", err)
	}
	if loaded.Description != w.Description {
		t.Fatal("snapshot round-trip lost the description")
	}
	if len(loaded.Elements) != len(w.Elements) {
		t.Fatalf("Elements = %d, want %d", len(loaded.Elements), len(w.Elements))
	}
}

func TestLoadWorldNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.LoadWorld(context.Background(), "missing")
	if !errors.Is(err, worldstore.ErrNotFound) {
		t.Fatalf("LoadWorld error = %v, want ErrNotFound", err)
	}
}

func TestDeleteWorldRemovesEverything(t *testing.T) {
	clock := newStepClock()
	store := newTestStore(t, WithClock(clock.Now))
	ctx := context.Background()

	w := newTestWorld(t, "Greenhollow")
	if err := store.SaveWorld(ctx, &w); err != nil {
		t.Fatalf("SaveWorld returned error: %v", err)
	}
	if err := store.PutBackup(ctx, worldstore.BackupRecord{
		ID: "b1", WorldID: w.ID, Checksum: "abc", Payload: []byte("{}"),
	}); err != nil {
		t.Fatalf("PutBackup returned error: %v", err)
	}

	if err := store.DeleteWorld(ctx, w.ID); err != nil {
		t.Fatalf("DeleteWorld returned error: %v", err)
	}

	if _, err := store.LoadWorld(ctx, w.ID); !errors.Is(err, worldstore.ErrNotFound) {
		t.Fatalf("LoadWorld after delete = %v, want ErrNotFound", err)
	}
	backups, err := store.ListBackups(ctx, w.ID)
	if err != nil {
		t.Fatalf("ListBackups returned error: %v", err)
	}
	if len(backups) != 0 {
		t.Fatalf("backups after delete = %d, want 0", len(backups))
	}

	if err := store.DeleteWorld(ctx, w.ID); !errors.Is(err, worldstore.ErrNotFound) {
		t.Fatalf("second DeleteWorld = %v, want ErrNotFound", err)
	}
}

func TestSaveWorldEnforcesWorldQuota(t *testing.T) {
	store := newTestStore(t, WithClock(newStepClock().Now), WithMaxWorlds(1))
	ctx := context.Background()

	first := newTestWorld(t, "First")
	if err := store.SaveWorld(ctx, &first); err != nil {
		t.Fatalf("SaveWorld returned error: %v", err)
	}

	second := newTestWorld(t, "Second")
	if err := store.SaveWorld(ctx, &second); !errors.Is(err, worldstore.ErrQuotaExceeded) {
		t.Fatalf("SaveWorld error = %v, want ErrQuotaExceeded", err)
	}

	// Re-saving an existing world never counts against the quota.
	if err := store.SaveWorld(ctx, &first); err != nil {
		t.Fatalf("re-save returned error: %v", err)
	}
}

func TestListWorldsNewestFirst(t *testing.T) {
	clock := newStepClock()
	store := newTestStore(t, WithClock(clock.Now))
	ctx := context.Background()

	older := newTestWorld(t, "Older")
	if err := store.SaveWorld(ctx, &older); err != nil {
		t.Fatalf("SaveWorld returned error: %v", err)
	}
	newer := newTestWorld(t, "Newer")
	if err := store.SaveWorld(ctx, &newer); err != nil {
		t.Fatalf("SaveWorld returned error: %v", err)
	}

	summaries, err := store.ListWorlds(ctx)
	if err != nil {
		t.Fatalf("ListWorlds returned error: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("summaries = %d, want 2", len(summaries))
	}
	if summaries[0].Name != "Newer" || summaries[1].Name != "Older" {
		t.Fatalf("order = %q then %q, want Newer then Older", summaries[0].Name, summaries[1].Name)
	}
}

func TestBackupLifecycle(t *testing.T) {
	clock := newStepClock()
	store := newTestStore(t, WithClock(clock.Now))
	ctx := context.Background()

	rec := worldstore.BackupRecord{
		ID:           "b1",
		WorldID:      "w1",
		Type:         worldstore.BackupManual,
		Algorithm:    "deflate",
		Checksum:     "deadbeef",
		OriginalSize: 1024,
		IntegrityOK:  true,
		Payload:      []byte("compressed"),
	}
	if err := store.PutBackup(ctx, rec); err != nil {
		t.Fatalf("PutBackup returned error: %v", err)
	}
	if err := store.PutBackup(ctx, worldstore.BackupRecord{
		ID: "b2", WorldID: "w1", Type: worldstore.BackupAutomatic,
		Checksum: "cafe", Payload: []byte("later"),
	}); err != nil {
		t.Fatalf("PutBackup returned error: %v", err)
	}

	got, err := store.GetBackup(ctx, "w1", "b1")
	if err != nil {
		t.Fatalf("GetBackup returned error: %v", err)
	}
	if got.Checksum != "deadbeef" || string(got.Payload) != "compressed" {
		t.Fatalf("GetBackup = %+v, want stored record", got)
	}
	if got.Type != worldstore.BackupManual {
		t.Fatalf("Type = %q, want manual", got.Type)
	}

	list, err := store.ListBackups(ctx, "w1")
	if err != nil {
		t.Fatalf("ListBackups returned error: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("backups = %d, want 2", len(list))
	}
	if list[0].ID != "b2" {
		t.Fatalf("newest backup = %q, want b2", list[0].ID)
	}

	if err := store.DeleteBackup(ctx, "w1", "b1"); err != nil {
		t.Fatalf("DeleteBackup returned error: %v", err)
	}
	_, err = store.GetBackup(ctx, "w1", "b1")
	if !errors.Is(err, apperrors.New(apperrors.CodeBackupNotFound, "")) {
		t.Fatalf("GetBackup after delete = %v, want backup not found", err)
	}
}

func TestSyncStatusLifecycle(t *testing.T) {
	clock := newStepClock()
	store := newTestStore(t, WithClock(clock.Now))
	ctx := context.Background()

	idle, err := store.GetSyncStatus(ctx, "never-synced")
	if err != nil {
		t.Fatalf("GetSyncStatus returned error: %v", err)
	}
	if idle.State != worldstore.SyncStateIdle {
		t.Fatalf("State = %q, want idle", idle.State)
	}

	if err := store.PutSyncStatus(ctx, worldstore.SyncStatusRecord{
		WorldID: "w1", State: worldstore.SyncStateIdle, Pending: true,
	}); err != nil {
		t.Fatalf("PutSyncStatus returned error: %v", err)
	}
	if err := store.PutSyncStatus(ctx, worldstore.SyncStatusRecord{
		WorldID: "w2", State: worldstore.SyncStateError, Pending: true, Error: "network unreachable",
	}); err != nil {
		t.Fatalf("PutSyncStatus returned error: %v", err)
	}
	if err := store.PutSyncStatus(ctx, worldstore.SyncStatusRecord{
		WorldID: "w3", State: worldstore.SyncStateSynced, RemoteVersion: 7,
	}); err != nil {
		t.Fatalf("PutSyncStatus returned error: %v", err)
	}

	pending, err := store.ListPendingSync(ctx)
	if err != nil {
		t.Fatalf("ListPendingSync returned error: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending = %d, want 2", len(pending))
	}
	if pending[0].WorldID != "w1" || pending[1].WorldID != "w2" {
		t.Fatalf("pending order = %q, %q; want w1 then w2", pending[0].WorldID, pending[1].WorldID)
	}

	got, err := store.GetSyncStatus(ctx, "w3")
	if err != nil {
		t.Fatalf("GetSyncStatus returned error: %v", err)
	}
	if got.State != worldstore.SyncStateSynced || got.RemoteVersion != 7 {
		t.Fatalf("GetSyncStatus = %+v, want synced at remote version 7", got)
	}
}

func TestConflictHistory(t *testing.T) {
	clock := newStepClock()
	store := newTestStore(t, WithClock(clock.Now))
	ctx := context.Background()

	if err := store.AppendConflict(ctx, worldstore.ConflictRecord{
		ID:          "c1",
		WorldID:     "w1",
		Category:    worldstore.ConflictElement,
		Strategy:    "merge",
		Description: "both sides edited the tavern",
		SubjectIDs:  []string{"tavern"},
	}); err != nil {
		t.Fatalf("AppendConflict returned error: %v", err)
	}

	records, err := store.ListConflicts(ctx, "w1")
	if err != nil {
		t.Fatalf("ListConflicts returned error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("conflicts = %d, want 1", len(records))
	}
	if records[0].Category != worldstore.ConflictElement {
		t.Fatalf("Category = %q, want element", records[0].Category)
	}
	if len(records[0].SubjectIDs) != 1 || records[0].SubjectIDs[0] != "tavern" {
		t.Fatalf("SubjectIDs = %v, want [tavern]", records[0].SubjectIDs)
	}
	if records[0].ResolvedAt != nil {
		t.Fatal("ResolvedAt should be nil for an unresolved conflict")
	}
}

func TestCorruptionHistory(t *testing.T) {
	clock := newStepClock()
	store := newTestStore(t, WithClock(clock.Now))
	ctx := context.Background()

	if err := store.AppendCorruption(ctx, worldstore.CorruptionRecord{
		ID:                "k1",
		WorldID:           "w1",
		Kind:              worldstore.CorruptionPartial,
		Severity:          "medium",
		EstimatedLossPct:  12.5,
		AffectedElementID: []string{"keeper"},
	}); err != nil {
		t.Fatalf("AppendCorruption returned error: %v", err)
	}

	records, err := store.ListCorruption(ctx, "w1")
	if err != nil {
		t.Fatalf("ListCorruption returned error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("corruption records = %d, want 1", len(records))
	}
	if records[0].Kind != worldstore.CorruptionPartial || records[0].EstimatedLossPct != 12.5 {
		t.Fatalf("record = %+v, want partial at 12.5%%", records[0])
	}
}

func TestAppendTelemetryEvent(t *testing.T) {
	clock := newStepClock()
	store := newTestStore(t, WithClock(clock.Now))
	ctx := context.Background()

	if err := store.AppendTelemetryEvent(ctx, worldstore.TelemetryEvent{
		WorldID:  "w1",
		Kind:     "save",
		Severity: "info",
		Message:  "world saved",
	}); err != nil {
		t.Fatalf("AppendTelemetryEvent returned error: %v", err)
	}

	var count int
	row := store.sqlDB.QueryRow(`SELECT COUNT(*) FROM telemetry_events WHERE world_id = ?`, "w1")
	if err := row.Scan(&count); err != nil {
		t.Fatalf("count telemetry events: %v", err)
	}
	if count != 1 {
		t.Fatalf("telemetry events = %d, want 1", count)
	}
}
