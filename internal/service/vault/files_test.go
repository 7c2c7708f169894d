package vault

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"filevault/internal/config"
	"filevault/internal/models"
	"filevault/internal/storage"
)

func openTestVault(t *testing.T, quota int64) *Service {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: filepath.Join(dir, "vault.db")},
		},
	}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	svc, err := NewService(db, filepath.Join(dir, "blobs"), quota, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func mustSave(t *testing.T, svc *Service, owner, content, filename string) (*models.StoredFile, bool) {
	t.Helper()
	f, newBlob, err := svc.SaveFile(context.Background(), owner, strings.NewReader(content), "text/plain", filename)
	if err != nil {
		t.Fatalf("save %s: %v", filename, err)
	}
	return f, newBlob
}

func TestSaveFileDeduplicatesIdenticalContent(t *testing.T) {
	svc := openTestVault(t, 10<<20)
	ctx := context.Background()

	first, newBlob := mustSave(t, svc, "alice", "same bytes", "a.txt")
	if !newBlob || first.IsReference {
		t.Fatalf("first upload should create a canonical blob: %+v", first)
	}
	second, newBlob := mustSave(t, svc, "alice", "same bytes", "b.txt")
	if newBlob || !second.IsReference {
		t.Fatalf("duplicate upload should become a reference: %+v", second)
	}
	if second.ReferenceTarget != first.ID {
		t.Fatalf("reference target = %q, want %q", second.ReferenceTarget, first.ID)
	}
	if second.OriginalFilename != "b.txt" {
		t.Fatalf("reference must keep its own filename, got %q", second.OriginalFilename)
	}

	canonical, err := svc.FileByID(ctx, first.ID)
	if err != nil {
		t.Fatalf("reload canonical: %v", err)
	}
	if canonical.ReferenceCount != 1 {
		t.Fatalf("reference count = %d, want 1", canonical.ReferenceCount)
	}
	if _, err := os.Stat(canonical.StoredPath); err != nil {
		t.Fatalf("canonical blob missing: %v", err)
	}
}

func TestSaveFileSeparatesOwners(t *testing.T) {
	svc := openTestVault(t, 10<<20)

	a, _ := mustSave(t, svc, "alice", "shared content", "a.txt")
	b, newBlob := mustSave(t, svc, "bob", "shared content", "b.txt")
	if !newBlob || b.IsReference {
		t.Fatalf("identical content from another owner must not deduplicate: %+v", b)
	}
	if a.StoredPath == b.StoredPath {
		t.Fatalf("owners must not share blob paths")
	}
}

func TestSaveFileRejectsInvalidOwner(t *testing.T) {
	svc := openTestVault(t, 10<<20)
	for _, owner := range []string{"", "a/b", `a\b`, ".", ".."} {
		if _, _, err := svc.SaveFile(context.Background(), owner, strings.NewReader("x"), "text/plain", "f.txt"); err == nil {
			t.Fatalf("owner %q accepted", owner)
		}
	}
}

func TestQuotaCountsPhysicalBytesOnly(t *testing.T) {
	svc := openTestVault(t, 1000)
	content := strings.Repeat("x", 600)

	mustSave(t, svc, "alice", content, "one.txt")
	// a duplicate adds no physical bytes and must pass
	ref, _ := mustSave(t, svc, "alice", content, "two.txt")
	if !ref.IsReference {
		t.Fatalf("expected reference, got %+v", ref)
	}
	// distinct content of the same size would exceed the 1000-byte budget
	_, _, err := svc.SaveFile(context.Background(), "alice", strings.NewReader(strings.Repeat("y", 600)), "text/plain", "three.txt")
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
}

func TestDeleteCanonicalGuardedByReferences(t *testing.T) {
	svc := openTestVault(t, 10<<20)
	ctx := context.Background()

	canonical, _ := mustSave(t, svc, "alice", "guarded", "a.txt")
	ref, _ := mustSave(t, svc, "alice", "guarded", "b.txt")

	if err := svc.DeleteFile(ctx, "alice", canonical.ID); !errors.Is(err, ErrFileReferenced) {
		t.Fatalf("expected ErrFileReferenced, got %v", err)
	}
	if _, err := os.Stat(canonical.StoredPath); err != nil {
		t.Fatalf("blob must survive refused delete: %v", err)
	}

	if err := svc.DeleteFile(ctx, "alice", ref.ID); err != nil {
		t.Fatalf("delete reference: %v", err)
	}
	reloaded, err := svc.FileByID(ctx, canonical.ID)
	if err != nil {
		t.Fatalf("reload canonical: %v", err)
	}
	if reloaded.ReferenceCount != 0 {
		t.Fatalf("reference count = %d after reference delete, want 0", reloaded.ReferenceCount)
	}

	if err := svc.DeleteFile(ctx, "alice", canonical.ID); err != nil {
		t.Fatalf("delete canonical: %v", err)
	}
	if _, err := os.Stat(canonical.StoredPath); !os.IsNotExist(err) {
		t.Fatalf("blob should be released, stat err = %v", err)
	}
	if _, err := svc.FileByID(ctx, canonical.ID); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestDeleteCanonicalWithStaleRefcountStillRefuses(t *testing.T) {
	svc := openTestVault(t, 10<<20)
	ctx := context.Background()

	canonical, _ := mustSave(t, svc, "alice", "pinned", "a.txt")
	mustSave(t, svc, "alice", "pinned", "b.txt")

	// a refcount that lies (as it can mid-race under weaker isolation) must
	// not get the row past the foreign key of the surviving reference
	if _, err := svc.DB().Exec(`UPDATE files SET reference_count = 0 WHERE id = ?`, canonical.ID); err != nil {
		t.Fatalf("zero refcount: %v", err)
	}
	if err := svc.DeleteFile(ctx, "alice", canonical.ID); !errors.Is(err, ErrFileReferenced) {
		t.Fatalf("expected ErrFileReferenced, got %v", err)
	}
	if _, err := svc.FileByID(ctx, canonical.ID); err != nil {
		t.Fatalf("canonical row must survive: %v", err)
	}
	if _, err := os.Stat(canonical.StoredPath); err != nil {
		t.Fatalf("blob must survive: %v", err)
	}
}

func TestDeleteReferenceKeepsBlob(t *testing.T) {
	svc := openTestVault(t, 10<<20)
	ctx := context.Background()

	canonical, _ := mustSave(t, svc, "alice", "keep me", "a.txt")
	ref, _ := mustSave(t, svc, "alice", "keep me", "b.txt")

	if err := svc.DeleteFile(ctx, "alice", ref.ID); err != nil {
		t.Fatalf("delete reference: %v", err)
	}
	if _, err := os.Stat(canonical.StoredPath); err != nil {
		t.Fatalf("blob must survive reference delete: %v", err)
	}
}

func TestDeleteFileOwnership(t *testing.T) {
	svc := openTestVault(t, 10<<20)
	ctx := context.Background()

	f, _ := mustSave(t, svc, "alice", "private", "a.txt")
	if err := svc.DeleteFile(ctx, "mallory", f.ID); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := svc.DeleteFile(ctx, "alice", "missing-id"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestReferenceInheritsMetadata(t *testing.T) {
	svc := openTestVault(t, 10<<20)
	ctx := context.Background()

	canonical, _ := mustSave(t, svc, "alice", "enriched already", "a.txt")
	md := &models.FileMetadata{
		Category:        models.CategoryFinancial,
		Summary:         "quarterly invoice",
		Tags:            []string{"invoice", "q3"},
		Entities:        map[string][]string{"organizations": {"Acme"}},
		KeyInfo:         map[string]any{"total": "120.50"},
		ConfidenceScore: 0.9,
	}
	if err := svc.SaveMetadata(ctx, canonical.ID, md, false); err != nil {
		t.Fatalf("save metadata: %v", err)
	}

	ref, _ := mustSave(t, svc, "alice", "enriched already", "b.txt")
	if ref.State != models.StateProcessed {
		t.Fatalf("reference state = %q, want processed", ref.State)
	}
	if ref.Metadata == nil || ref.Metadata.Category != models.CategoryFinancial {
		t.Fatalf("reference metadata not inherited: %+v", ref.Metadata)
	}

	// the copy must be independent of the canonical record
	refMD, err := svc.MetadataFor(ctx, ref.ID)
	if err != nil {
		t.Fatalf("load reference metadata: %v", err)
	}
	if refMD == nil || refMD.Summary != "quarterly invoice" {
		t.Fatalf("unexpected reference metadata: %+v", refMD)
	}
	if len(refMD.Tags) != 2 {
		t.Fatalf("tags not copied: %+v", refMD.Tags)
	}
}

func TestReferenceToUnprocessedCanonicalStaysUnprocessed(t *testing.T) {
	svc := openTestVault(t, 10<<20)

	mustSave(t, svc, "alice", "not yet enriched", "a.txt")
	ref, _ := mustSave(t, svc, "alice", "not yet enriched", "b.txt")
	if ref.State != models.StateUnprocessed {
		t.Fatalf("reference state = %q, want unprocessed when canonical has no metadata", ref.State)
	}
	if ref.Metadata != nil {
		t.Fatalf("reference should carry no metadata yet")
	}
}

func TestGetFileEnforcesOwnership(t *testing.T) {
	svc := openTestVault(t, 10<<20)
	ctx := context.Background()

	f, _ := mustSave(t, svc, "alice", "mine", "a.txt")
	if _, err := svc.GetFile(ctx, "bob", f.ID); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	got, err := svc.GetFile(ctx, "alice", f.ID)
	if err != nil {
		t.Fatalf("get file: %v", err)
	}
	if got.ID != f.ID {
		t.Fatalf("got %q, want %q", got.ID, f.ID)
	}
}

func TestOpenBlobStreamsContent(t *testing.T) {
	svc := openTestVault(t, 10<<20)
	ctx := context.Background()

	f, _ := mustSave(t, svc, "alice", "download me", "a.txt")
	rc, got, err := svc.OpenBlob(ctx, "alice", f.ID)
	if err != nil {
		t.Fatalf("open blob: %v", err)
	}
	defer rc.Close()
	buf := make([]byte, got.Size)
	if _, err := io.ReadFull(rc, buf); err != nil {
		t.Fatalf("read blob: %v", err)
	}
	if string(buf) != "download me" {
		t.Fatalf("blob content = %q", buf)
	}
}

func TestMarkFailedAndUnprocessedBefore(t *testing.T) {
	svc := openTestVault(t, 10<<20)
	ctx := context.Background()

	f, _ := mustSave(t, svc, "alice", "pending", "a.txt")
	pending, err := svc.UnprocessedBefore(ctx, "", time.Now().UTC().Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("unprocessed before: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != f.ID {
		t.Fatalf("unexpected pending set: %+v", pending)
	}

	scoped, err := svc.UnprocessedBefore(ctx, "bob", time.Now().UTC().Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("unprocessed before: %v", err)
	}
	if len(scoped) != 0 {
		t.Fatalf("owner filter leaked other owners' files: %+v", scoped)
	}

	if err := svc.MarkFailed(ctx, f.ID); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	reloaded, err := svc.FileByID(ctx, f.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.State != models.StateFailed {
		t.Fatalf("state = %q, want failed", reloaded.State)
	}

	// failed files are not re-swept automatically
	pending, err = svc.UnprocessedBefore(ctx, "", time.Now().UTC().Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("unprocessed before: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("failed file still pending: %+v", pending)
	}
}
