package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"filevault/internal/models"
)

// ListFilter narrows ListFiles output. Zero values mean "no constraint".
type ListFilter struct {
	Search        string // substring of the original filename
	MediaType     string
	MinSize       int64
	MaxSize       int64
	From          time.Time
	To            time.Time
	Category      string
	Tag           string
	ProcessedOnly bool
}

// ListFiles returns the owner's files, newest upload first, with metadata
// attached where it exists.
func (s *Service) ListFiles(ctx context.Context, ownerID string, filter ListFilter) ([]*models.StoredFile, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE owner_id = ?`
	args := []any{ownerID}

	if filter.Search != "" {
		query += ` AND original_filename LIKE ?`
		args = append(args, "%"+filter.Search+"%")
	}
	if filter.MediaType != "" {
		query += ` AND media_type = ?`
		args = append(args, filter.MediaType)
	}
	if filter.MinSize > 0 {
		query += ` AND size >= ?`
		args = append(args, filter.MinSize)
	}
	if filter.MaxSize > 0 {
		query += ` AND size <= ?`
		args = append(args, filter.MaxSize)
	}
	if !filter.From.IsZero() {
		query += ` AND uploaded_at >= ?`
		args = append(args, filter.From)
	}
	if !filter.To.IsZero() {
		query += ` AND uploaded_at <= ?`
		args = append(args, filter.To)
	}
	if filter.ProcessedOnly {
		query += ` AND state = ?`
		args = append(args, string(models.StateProcessed))
	}
	if filter.Category != "" {
		query += ` AND id IN (SELECT file_id FROM file_metadata WHERE category = ?)`
		args = append(args, filter.Category)
	}
	if filter.Tag != "" {
		// tags persist as a JSON array of strings
		query += ` AND id IN (SELECT file_id FROM file_metadata WHERE tags LIKE ?)`
		args = append(args, `%"`+filter.Tag+`"%`)
	}
	query += ` ORDER BY uploaded_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var files []*models.StoredFile
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, f := range files {
		md, err := s.MetadataFor(ctx, f.ID)
		if err != nil {
			return nil, err
		}
		f.Metadata = md
	}
	return files, nil
}

// DistinctCategories lists the categories present across the owner's
// enriched files.
func (s *Service) DistinctCategories(ctx context.Context, ownerID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT m.category FROM file_metadata m
		JOIN files f ON f.id = m.file_id
		WHERE f.owner_id = ? ORDER BY m.category`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var categories []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// DistinctTags lists the union of tags across the owner's enriched files,
// sorted.
func (s *Service) DistinctTags(ctx context.Context, ownerID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.tags FROM file_metadata m
		JOIN files f ON f.id = m.file_id
		WHERE f.owner_id = ?`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]struct{})
	for rows.Next() {
		var tagsJSON string
		if err := rows.Scan(&tagsJSON); err != nil {
			return nil, fmt.Errorf("scan tags: %w", err)
		}
		var tags []string
		if err := json.Unmarshal([]byte(tagsJSON), &tags); err != nil {
			return nil, fmt.Errorf("decode tags: %w", err)
		}
		for _, t := range tags {
			seen[t] = struct{}{}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}

// DistinctMediaTypes lists the declared media types across the owner's
// files.
func (s *Service) DistinctMediaTypes(ctx context.Context, ownerID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT media_type FROM files WHERE owner_id = ? ORDER BY media_type`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list media types: %w", err)
	}
	defer rows.Close()

	var types []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan media type: %w", err)
		}
		types = append(types, t)
	}
	return types, rows.Err()
}
