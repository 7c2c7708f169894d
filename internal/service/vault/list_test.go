package vault

import (
	"context"
	"strings"
	"testing"

	"filevault/internal/models"
)

func seedListFixture(t *testing.T, svc *Service) (invoice, report, photo *models.StoredFile) {
	t.Helper()
	ctx := context.Background()

	invoice, _, err := svc.SaveFile(ctx, "alice", strings.NewReader("invoice body"), "application/pdf", "invoice-2026.pdf")
	if err != nil {
		t.Fatalf("save invoice: %v", err)
	}
	report, _, err = svc.SaveFile(ctx, "alice", strings.NewReader("annual report body"), "text/plain", "report.txt")
	if err != nil {
		t.Fatalf("save report: %v", err)
	}
	photo, _, err = svc.SaveFile(ctx, "alice", strings.NewReader("jpeg-ish bytes"), "image/jpeg", "holiday.jpg")
	if err != nil {
		t.Fatalf("save photo: %v", err)
	}

	if err := svc.SaveMetadata(ctx, invoice.ID, &models.FileMetadata{
		Category: models.CategoryFinancial,
		Summary:  "invoice for services",
		Tags:     []string{"invoice", "2026"},
	}, false); err != nil {
		t.Fatalf("save invoice metadata: %v", err)
	}
	if err := svc.SaveMetadata(ctx, report.ID, &models.FileMetadata{
		Category: models.CategoryWork,
		Summary:  "annual report",
		Tags:     []string{"report", "2026"},
	}, false); err != nil {
		t.Fatalf("save report metadata: %v", err)
	}
	return invoice, report, photo
}

func TestListFilesFilters(t *testing.T) {
	svc := openTestVault(t, 10<<20)
	ctx := context.Background()
	invoice, report, photo := seedListFixture(t, svc)

	all, err := svc.ListFiles(ctx, "alice", ListFilter{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("all = %d files, want 3", len(all))
	}

	byName, err := svc.ListFiles(ctx, "alice", ListFilter{Search: "invoice"})
	if err != nil {
		t.Fatalf("list by name: %v", err)
	}
	if len(byName) != 1 || byName[0].ID != invoice.ID {
		t.Fatalf("search filter mismatch: %+v", byName)
	}

	byType, err := svc.ListFiles(ctx, "alice", ListFilter{MediaType: "image/jpeg"})
	if err != nil {
		t.Fatalf("list by type: %v", err)
	}
	if len(byType) != 1 || byType[0].ID != photo.ID {
		t.Fatalf("media type filter mismatch: %+v", byType)
	}

	byCategory, err := svc.ListFiles(ctx, "alice", ListFilter{Category: string(models.CategoryWork)})
	if err != nil {
		t.Fatalf("list by category: %v", err)
	}
	if len(byCategory) != 1 || byCategory[0].ID != report.ID {
		t.Fatalf("category filter mismatch: %+v", byCategory)
	}

	byTag, err := svc.ListFiles(ctx, "alice", ListFilter{Tag: "2026"})
	if err != nil {
		t.Fatalf("list by tag: %v", err)
	}
	if len(byTag) != 2 {
		t.Fatalf("tag filter = %d files, want 2", len(byTag))
	}

	processed, err := svc.ListFiles(ctx, "alice", ListFilter{ProcessedOnly: true})
	if err != nil {
		t.Fatalf("list processed: %v", err)
	}
	if len(processed) != 2 {
		t.Fatalf("processed filter = %d files, want 2", len(processed))
	}

	none, err := svc.ListFiles(ctx, "bob", ListFilter{})
	if err != nil {
		t.Fatalf("list other owner: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("owner isolation broken: %+v", none)
	}
}

func TestListFilesAttachesMetadata(t *testing.T) {
	svc := openTestVault(t, 10<<20)
	invoice, _, photo := seedListFixture(t, svc)

	files, err := svc.ListFiles(context.Background(), "alice", ListFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	byID := make(map[string]*models.StoredFile, len(files))
	for _, f := range files {
		byID[f.ID] = f
	}
	if byID[invoice.ID].Metadata == nil || byID[invoice.ID].Metadata.Category != models.CategoryFinancial {
		t.Fatalf("invoice metadata not attached: %+v", byID[invoice.ID].Metadata)
	}
	if byID[photo.ID].Metadata != nil {
		t.Fatalf("unenriched photo should carry no metadata")
	}
}

func TestDistinctValues(t *testing.T) {
	svc := openTestVault(t, 10<<20)
	ctx := context.Background()
	seedListFixture(t, svc)

	categories, err := svc.DistinctCategories(ctx, "alice")
	if err != nil {
		t.Fatalf("distinct categories: %v", err)
	}
	if len(categories) != 2 {
		t.Fatalf("categories = %v, want 2 entries", categories)
	}

	tags, err := svc.DistinctTags(ctx, "alice")
	if err != nil {
		t.Fatalf("distinct tags: %v", err)
	}
	want := []string{"2026", "invoice", "report"}
	if len(tags) != len(want) {
		t.Fatalf("tags = %v, want %v", tags, want)
	}
	for i := range want {
		if tags[i] != want[i] {
			t.Fatalf("tags = %v, want %v", tags, want)
		}
	}

	types, err := svc.DistinctMediaTypes(ctx, "alice")
	if err != nil {
		t.Fatalf("distinct media types: %v", err)
	}
	if len(types) != 3 {
		t.Fatalf("media types = %v, want 3 entries", types)
	}
}
