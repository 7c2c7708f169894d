package vault

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"filevault/internal/redis"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
)

// Service is the content-addressed store: it owns the files/metadata/stats
// tables and the blob directory. One physical blob serves every logical copy
// of the same content for an owner; rows carry the bookkeeping.
type Service struct {
	db         *sql.DB
	baseDir    string
	quotaBytes int64
	cache      *redis.Client // optional, stats caching only
}

// NewService constructs the vault over an opened database. cache may be nil.
func NewService(db *sql.DB, baseDir string, quotaBytes int64, cache *redis.Client) (*Service, error) {
	if baseDir == "" {
		return nil, errors.New("file base dir is required")
	}
	if err := os.MkdirAll(filepath.Join(baseDir, "tmp"), 0o755); err != nil {
		return nil, fmt.Errorf("create base dir: %w", err)
	}
	return &Service{db: db, baseDir: baseDir, quotaBytes: quotaBytes, cache: cache}, nil
}

// DB exposes the underlying handle for test setup.
func (s *Service) DB() *sql.DB {
	return s.db
}

// spoolAndHash streams r into a temp file while computing the sha256 of the
// full byte stream, so arbitrarily large uploads never sit in memory.
func (s *Service) spoolAndHash(r io.Reader) (tmpPath, hash string, size int64, err error) {
	tmp, err := os.CreateTemp(filepath.Join(s.baseDir, "tmp"), "upload-*")
	if err != nil {
		return "", "", 0, fmt.Errorf("create temp file: %w", err)
	}
	defer tmp.Close()

	hasher := sha256.New()
	size, err = io.Copy(io.MultiWriter(tmp, hasher), r)
	if err != nil {
		os.Remove(tmp.Name())
		return "", "", 0, fmt.Errorf("spool upload: %w", err)
	}
	return tmp.Name(), hex.EncodeToString(hasher.Sum(nil)), size, nil
}

// blobPath is the content-addressed location of an owner's blob.
func (s *Service) blobPath(ownerID, hash string) string {
	return filepath.Join(s.baseDir, ownerID, hash[:2], hash)
}

// isUniqueViolation recognizes a canonical-uniqueness constraint hit on
// either supported driver. It is the dedup race signal: the loser retries as
// a reference creation.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

// isForeignKeyViolation recognizes a referential-integrity hit on either
// driver. The canonical delete relies on it: a reference row created after
// the in-transaction refcount check still pins the canonical through the
// foreign key, and the constraint turns that race into ErrFileReferenced.
func isForeignKeyViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1451 || mysqlErr.Number == 1452
	}
	return false
}
