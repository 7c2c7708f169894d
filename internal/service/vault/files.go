package vault

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"filevault/internal/models"

	"github.com/google/uuid"
)

const fileColumns = `id, owner_id, content_hash, stored_path, original_filename, media_type, size,
	is_reference, reference_target, reference_count, state, ai_degraded, processed_at, uploaded_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFile(row rowScanner) (*models.StoredFile, error) {
	var (
		f           models.StoredFile
		target      sql.NullString
		state       string
		processedAt sql.NullTime
	)
	err := row.Scan(
		&f.ID, &f.OwnerID, &f.ContentHash, &f.StoredPath, &f.OriginalFilename, &f.MediaType,
		&f.Size, &f.IsReference, &target, &f.ReferenceCount, &state, &f.AIDegraded,
		&processedAt, &f.UploadedAt,
	)
	if err != nil {
		return nil, err
	}
	f.ReferenceTarget = target.String
	f.State = models.ProcessingState(state)
	if processedAt.Valid {
		t := processedAt.Time
		f.ProcessedAt = &t
	}
	return &f, nil
}

// SaveFile stores the byte stream for ownerID. Identical content the owner
// already holds becomes a reference to the existing canonical file; new
// content is quota-checked and written as a fresh blob. The returned flag is
// true only for a fresh blob, which is the caller's cue to schedule
// enrichment after the row is committed.
func (s *Service) SaveFile(ctx context.Context, ownerID string, r io.Reader, mediaType, filename string) (*models.StoredFile, bool, error) {
	// the owner id becomes a directory name under baseDir; nothing that can
	// change the path may pass
	if ownerID == "" || ownerID == "." || ownerID == ".." || strings.ContainsAny(ownerID, `/\`) {
		return nil, false, errors.New("invalid owner id")
	}

	tmpPath, hash, size, err := s.spoolAndHash(r)
	if err != nil {
		return nil, false, err
	}
	defer os.Remove(tmpPath)

	canonical, err := s.canonicalByHash(ctx, ownerID, hash)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, false, err
	}
	if canonical != nil {
		ref, err := s.createReference(ctx, canonical, filename, mediaType)
		if err != nil {
			return nil, false, err
		}
		if err := s.RecomputeStats(ctx, ownerID); err != nil {
			return nil, false, err
		}
		return ref, false, nil
	}

	used, err := s.physicalUsage(ctx, ownerID)
	if err != nil {
		return nil, false, err
	}
	if used+size > s.quotaBytes {
		return nil, false, ErrQuotaExceeded
	}

	dest := s.blobPath(ownerID, hash)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, false, fmt.Errorf("create blob dir: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return nil, false, fmt.Errorf("place blob: %w", err)
	}

	now := time.Now().UTC()
	f := &models.StoredFile{
		ID:               uuid.NewString(),
		OwnerID:          ownerID,
		ContentHash:      hash,
		StoredPath:       dest,
		OriginalFilename: filename,
		MediaType:        mediaType,
		Size:             size,
		State:            models.StateUnprocessed,
		UploadedAt:       now,
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO files (id, owner_id, content_hash, stored_path, original_filename, media_type,
			size, is_reference, reference_target, reference_count, state, ai_degraded, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, NULL, 0, ?, 0, ?)`,
		f.ID, f.OwnerID, f.ContentHash, f.StoredPath, f.OriginalFilename, f.MediaType,
		f.Size, string(f.State), f.UploadedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			// Lost the race against a concurrent identical upload. The
			// winner's blob is byte-identical at the same path; attach to it.
			canonical, cerr := s.canonicalByHash(ctx, ownerID, hash)
			if cerr != nil {
				return nil, false, fmt.Errorf("resolve canonical after conflict: %w", cerr)
			}
			ref, cerr := s.createReference(ctx, canonical, filename, mediaType)
			if cerr != nil {
				return nil, false, cerr
			}
			if cerr := s.RecomputeStats(ctx, ownerID); cerr != nil {
				return nil, false, cerr
			}
			return ref, false, nil
		}
		return nil, false, fmt.Errorf("insert file: %w", err)
	}

	if err := s.RecomputeStats(ctx, ownerID); err != nil {
		return nil, false, err
	}
	return f, true, nil
}

// createReference inserts a reference row pointing at canonical, bumps its
// reference count, and copies its metadata verbatim when present. A
// reference whose canonical file has not been enriched yet stays
// unprocessed; the sweep copies the metadata over once it exists.
func (s *Service) createReference(ctx context.Context, canonical *models.StoredFile, filename, mediaType string) (*models.StoredFile, error) {
	md, err := s.MetadataFor(ctx, canonical.ID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	ref := &models.StoredFile{
		ID:               uuid.NewString(),
		OwnerID:          canonical.OwnerID,
		ContentHash:      canonical.ContentHash,
		StoredPath:       canonical.StoredPath,
		OriginalFilename: filename,
		MediaType:        mediaType,
		Size:             canonical.Size,
		IsReference:      true,
		ReferenceTarget:  canonical.ID,
		State:            models.StateUnprocessed,
		UploadedAt:       now,
	}
	if md != nil {
		ref.State = models.StateProcessed
		ref.AIDegraded = canonical.AIDegraded
		ref.ProcessedAt = &now
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO files (id, owner_id, content_hash, stored_path, original_filename, media_type,
			size, is_reference, reference_target, reference_count, state, ai_degraded, processed_at, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, 0, ?, ?, ?, ?)`,
		ref.ID, ref.OwnerID, ref.ContentHash, ref.StoredPath, ref.OriginalFilename, ref.MediaType,
		ref.Size, ref.ReferenceTarget, string(ref.State), ref.AIDegraded, ref.ProcessedAt, ref.UploadedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert reference: %w", err)
	}
	if md != nil {
		copied := md.Copy()
		if err := insertMetadataTx(ctx, tx, ref.ID, copied, now); err != nil {
			return nil, err
		}
		ref.Metadata = copied
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE files SET reference_count = reference_count + 1 WHERE id = ?`, canonical.ID,
	); err != nil {
		return nil, fmt.Errorf("increment reference count: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit reference: %w", err)
	}
	return ref, nil
}

// DeleteFile removes a logical file. References release their hold on the
// canonical row; a canonical file refuses deletion while references remain,
// and releases its blob exactly once otherwise.
func (s *Service) DeleteFile(ctx context.Context, ownerID, fileID string) error {
	f, err := s.FileByID(ctx, fileID)
	if err != nil {
		return err
	}
	if f.OwnerID != ownerID {
		return ErrUnauthorized
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if f.IsReference {
		if _, err := tx.ExecContext(ctx, `
			UPDATE files SET reference_count = CASE WHEN reference_count > 0 THEN reference_count - 1 ELSE 0 END
			WHERE id = ?`, f.ReferenceTarget,
		); err != nil {
			return fmt.Errorf("decrement reference count: %w", err)
		}
	} else {
		// Re-read inside the transaction so a reference attached after the
		// initial load cannot lose its bytes.
		var refCount int
		if err := tx.QueryRowContext(ctx,
			`SELECT reference_count FROM files WHERE id = ?`, f.ID,
		).Scan(&refCount); err != nil {
			return fmt.Errorf("check reference count: %w", err)
		}
		if refCount > 0 {
			return ErrFileReferenced
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM file_metadata WHERE file_id = ?`, f.ID); err != nil {
		return fmt.Errorf("delete metadata: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, f.ID); err != nil {
		// a reference committed after the refcount re-read still pins the
		// canonical row through the foreign key
		if !f.IsReference && isForeignKeyViolation(err) {
			return ErrFileReferenced
		}
		return fmt.Errorf("delete file: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}

	if !f.IsReference {
		if err := os.Remove(f.StoredPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove blob: %w", err)
		}
		// prune empty hash-prefix directory
		_ = os.Remove(filepath.Dir(f.StoredPath))
	}

	return s.RecomputeStats(ctx, ownerID)
}

// GetFile returns one file with its metadata attached, enforcing ownership.
func (s *Service) GetFile(ctx context.Context, ownerID, fileID string) (*models.StoredFile, error) {
	f, err := s.FileByID(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if f.OwnerID != ownerID {
		return nil, ErrUnauthorized
	}
	md, err := s.MetadataFor(ctx, f.ID)
	if err != nil {
		return nil, err
	}
	f.Metadata = md
	return f, nil
}

// FileByID loads a row without an ownership check; internal callers only.
func (s *Service) FileByID(ctx context.Context, fileID string) (*models.StoredFile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE id = ?`, fileID)
	f, err := scanFile(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("load file %s: %w", fileID, err)
	}
	return f, nil
}

// OpenBlob opens the physical bytes behind a file for download.
func (s *Service) OpenBlob(ctx context.Context, ownerID, fileID string) (io.ReadCloser, *models.StoredFile, error) {
	f, err := s.GetFile(ctx, ownerID, fileID)
	if err != nil {
		return nil, nil, err
	}
	rc, err := os.Open(f.StoredPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open blob: %w", err)
	}
	return rc, f, nil
}

func (s *Service) canonicalByHash(ctx context.Context, ownerID, hash string) (*models.StoredFile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE owner_id = ? AND content_hash = ? AND is_reference = 0`,
		ownerID, hash)
	f, err := scanFile(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("lookup canonical: %w", err)
	}
	return f, nil
}

func (s *Service) physicalUsage(ctx context.Context, ownerID string) (int64, error) {
	var used int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(size), 0) FROM files WHERE owner_id = ? AND is_reference = 0`,
		ownerID).Scan(&used)
	if err != nil {
		return 0, fmt.Errorf("sum physical usage: %w", err)
	}
	return used, nil
}
