package vault

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"filevault/internal/models"
)

// MetadataFor loads the metadata record for a file, or nil when the file has
// not been enriched yet.
func (s *Service) MetadataFor(ctx context.Context, fileID string) (*models.FileMetadata, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT file_id, category, subcategory, summary, tags, entities, key_info,
			embedding, embedding_model, embedding_computed_at, confidence, created_at, updated_at
		FROM file_metadata WHERE file_id = ?`, fileID)

	var (
		md          models.FileMetadata
		category    string
		tagsJSON    string
		entJSON     string
		keyJSON     string
		embJSON     sql.NullString
		embComputed sql.NullTime
	)
	err := row.Scan(&md.FileID, &category, &md.Subcategory, &md.Summary, &tagsJSON, &entJSON,
		&keyJSON, &embJSON, &md.EmbeddingModel, &embComputed, &md.ConfidenceScore,
		&md.CreatedAt, &md.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load metadata %s: %w", fileID, err)
	}

	md.Category = models.ParseCategory(category)
	if err := json.Unmarshal([]byte(tagsJSON), &md.Tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	if err := json.Unmarshal([]byte(entJSON), &md.Entities); err != nil {
		return nil, fmt.Errorf("decode entities: %w", err)
	}
	if err := json.Unmarshal([]byte(keyJSON), &md.KeyInfo); err != nil {
		return nil, fmt.Errorf("decode key info: %w", err)
	}
	if embJSON.Valid {
		if err := json.Unmarshal([]byte(embJSON.String), &md.Embedding); err != nil {
			return nil, fmt.Errorf("decode embedding: %w", err)
		}
	}
	if embComputed.Valid {
		t := embComputed.Time
		md.EmbeddingComputedAt = &t
	}
	return &md, nil
}

func insertMetadataTx(ctx context.Context, tx *sql.Tx, fileID string, md *models.FileMetadata, now time.Time) error {
	tagsJSON, err := json.Marshal(md.Tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}
	entJSON, err := json.Marshal(md.Entities)
	if err != nil {
		return fmt.Errorf("encode entities: %w", err)
	}
	keyJSON, err := json.Marshal(md.KeyInfo)
	if err != nil {
		return fmt.Errorf("encode key info: %w", err)
	}
	var embJSON any
	if md.Embedding != nil {
		data, err := json.Marshal(md.Embedding)
		if err != nil {
			return fmt.Errorf("encode embedding: %w", err)
		}
		embJSON = string(data)
	}

	md.FileID = fileID
	md.CreatedAt = now
	md.UpdatedAt = now
	_, err = tx.ExecContext(ctx, `
		INSERT INTO file_metadata (file_id, category, subcategory, summary, tags, entities, key_info,
			embedding, embedding_model, embedding_computed_at, confidence, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fileID, string(md.Category), md.Subcategory, md.Summary, string(tagsJSON), string(entJSON),
		string(keyJSON), embJSON, md.EmbeddingModel, md.EmbeddingComputedAt, md.ConfidenceScore,
		now, now,
	)
	if err != nil {
		return fmt.Errorf("insert metadata: %w", err)
	}
	return nil
}

// SaveMetadata persists a fully-formed metadata record and flips the file to
// processed in one transaction — the pipeline never leaves partial writes
// behind. degraded marks records produced from the fallback defaults.
func (s *Service) SaveMetadata(ctx context.Context, fileID string, md *models.FileMetadata, degraded bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	// replace on explicit reprocessing
	if _, err := tx.ExecContext(ctx, `DELETE FROM file_metadata WHERE file_id = ?`, fileID); err != nil {
		return fmt.Errorf("clear metadata: %w", err)
	}
	if err := insertMetadataTx(ctx, tx, fileID, md, now); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE files SET state = ?, ai_degraded = ?, processed_at = ? WHERE id = ?`,
		string(models.StateProcessed), degraded, now, fileID,
	); err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	return tx.Commit()
}

// MarkFailed records an unrecoverable enrichment fault (unreadable blob,
// storage outage). Failed files are skipped by the sweep and only revisited
// through an explicit reprocess request.
func (s *Service) MarkFailed(ctx context.Context, fileID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE files SET state = ? WHERE id = ?`, string(models.StateFailed), fileID)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// UnprocessedBefore lists files still unprocessed at cutoff, oldest first.
// The enrichment sweep uses it to requeue work lost to crashes or dropped
// requests. An empty ownerID spans all owners; when set, the filter applies
// before the limit.
func (s *Service) UnprocessedBefore(ctx context.Context, ownerID string, cutoff time.Time, limit int) ([]*models.StoredFile, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE state = ? AND uploaded_at < ?`
	args := []any{string(models.StateUnprocessed), cutoff}
	if ownerID != "" {
		query += ` AND owner_id = ?`
		args = append(args, ownerID)
	}
	query += ` ORDER BY uploaded_at ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list unprocessed: %w", err)
	}
	defer rows.Close()

	var files []*models.StoredFile
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan unprocessed: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// EmbeddedFiles returns the owner's processed files that carry an embedding,
// newest upload first. Search ranks over exactly this candidate set, so ties
// in similarity resolve by upload recency.
func (s *Service) EmbeddedFiles(ctx context.Context, ownerID string) ([]*models.StoredFile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+fileColumns+` FROM files
		WHERE owner_id = ? AND state = ?
			AND id IN (SELECT file_id FROM file_metadata WHERE embedding IS NOT NULL)
		ORDER BY uploaded_at DESC`,
		ownerID, string(models.StateProcessed))
	if err != nil {
		return nil, fmt.Errorf("list embedded files: %w", err)
	}
	defer rows.Close()

	var files []*models.StoredFile
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan embedded file: %w", err)
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
