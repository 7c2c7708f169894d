package vault

import (
	"context"
	"strings"
	"testing"
)

func TestStatsReflectDeduplication(t *testing.T) {
	svc := openTestVault(t, 10<<20)
	ctx := context.Background()
	content := strings.Repeat("z", 1000)

	mustSave(t, svc, "alice", content, "one.txt")
	mustSave(t, svc, "alice", content, "two.txt")

	stats, err := svc.GetStats(ctx, "alice")
	if err != nil {
		t.Fatalf("get stats: %v", err)
	}
	if stats.FileCount != 2 {
		t.Fatalf("file count = %d, want 2", stats.FileCount)
	}
	if stats.OriginalStorageUsed != 2000 {
		t.Fatalf("original storage = %d, want 2000", stats.OriginalStorageUsed)
	}
	if stats.TotalStorageUsed != 1000 {
		t.Fatalf("total storage = %d, want 1000", stats.TotalStorageUsed)
	}
	if stats.StorageSavings() != 1000 {
		t.Fatalf("savings = %d, want 1000", stats.StorageSavings())
	}
	if pct := stats.SavingsPercentage(); pct != 50 {
		t.Fatalf("savings percentage = %v, want 50", pct)
	}
}

func TestStatsAfterDelete(t *testing.T) {
	svc := openTestVault(t, 10<<20)
	ctx := context.Background()

	f, _ := mustSave(t, svc, "alice", strings.Repeat("q", 500), "one.txt")
	if err := svc.DeleteFile(ctx, "alice", f.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	stats, err := svc.GetStats(ctx, "alice")
	if err != nil {
		t.Fatalf("get stats: %v", err)
	}
	if stats.FileCount != 0 || stats.TotalStorageUsed != 0 || stats.OriginalStorageUsed != 0 {
		t.Fatalf("stats not reset after delete: %+v", stats)
	}
}

func TestStatsEmptyOwner(t *testing.T) {
	svc := openTestVault(t, 10<<20)

	stats, err := svc.GetStats(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("get stats: %v", err)
	}
	if stats.FileCount != 0 {
		t.Fatalf("file count = %d, want 0", stats.FileCount)
	}
	if pct := stats.SavingsPercentage(); pct != 0 {
		t.Fatalf("savings percentage for empty owner = %v, want 0", pct)
	}
}
