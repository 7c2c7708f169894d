package storage

import (
	"database/sql"
	"fmt"
	"strings"

	"filevault/internal/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// Open connects to the configured database for the given driver.
func Open(dbType string, cfg *config.Config) (*sql.DB, error) {
	dbCfg, ok := cfg.Databases[dbType]
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", dbType)
	}

	var (
		db  *sql.DB
		err error
	)

	switch strings.ToLower(dbType) {
	case "sqlite", "sqlite3":
		if dbCfg.DSN == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
		db, err = sql.Open("sqlite3", dbCfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable sqlite foreign keys: %w", err)
		}
	case "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
			dbCfg.Username,
			dbCfg.Password,
			dbCfg.Host,
			dbCfg.Port,
			dbCfg.DBName,
			dbCfg.Params,
		)
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", dbType)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Migrate ensures the required tables are present.
//
// The canonical-uniqueness rule (at most one non-reference row per
// (owner_id, content_hash)) is enforced by the store itself: a partial
// unique index on sqlite, a stored generated column on mysql. The loser of
// a concurrent identical upload hits this constraint and is retried as a
// reference creation.
func Migrate(db *sql.DB, driver string) error {
	var stmts []string
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS files (
				id TEXT PRIMARY KEY,
				owner_id TEXT NOT NULL,
				content_hash TEXT NOT NULL,
				stored_path TEXT NOT NULL,
				original_filename TEXT NOT NULL,
				media_type TEXT NOT NULL,
				size INTEGER NOT NULL,
				is_reference INTEGER NOT NULL DEFAULT 0,
				reference_target TEXT,
				reference_count INTEGER NOT NULL DEFAULT 0,
				state TEXT NOT NULL DEFAULT 'unprocessed',
				ai_degraded INTEGER NOT NULL DEFAULT 0,
				processed_at DATETIME,
				uploaded_at DATETIME NOT NULL,
				FOREIGN KEY(reference_target) REFERENCES files(id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_files_owner_uploaded ON files(owner_id, uploaded_at)`,
			`CREATE INDEX IF NOT EXISTS idx_files_hash_owner ON files(content_hash, owner_id)`,
			`CREATE INDEX IF NOT EXISTS idx_files_owner_state ON files(owner_id, state)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_files_canonical
				ON files(owner_id, content_hash) WHERE is_reference = 0`,
			`CREATE TABLE IF NOT EXISTS file_metadata (
				file_id TEXT PRIMARY KEY,
				category TEXT NOT NULL DEFAULT 'Other',
				subcategory TEXT NOT NULL DEFAULT '',
				summary TEXT NOT NULL DEFAULT '',
				tags TEXT NOT NULL DEFAULT '[]',
				entities TEXT NOT NULL DEFAULT '{}',
				key_info TEXT NOT NULL DEFAULT '{}',
				embedding TEXT,
				embedding_model TEXT NOT NULL DEFAULT '',
				embedding_computed_at DATETIME,
				confidence REAL NOT NULL DEFAULT 0,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL,
				FOREIGN KEY(file_id) REFERENCES files(id) ON DELETE CASCADE
			)`,
			`CREATE INDEX IF NOT EXISTS idx_file_metadata_category ON file_metadata(category)`,
			`CREATE TABLE IF NOT EXISTS storage_stats (
				owner_id TEXT PRIMARY KEY,
				original_storage_used INTEGER NOT NULL DEFAULT 0,
				total_storage_used INTEGER NOT NULL DEFAULT 0,
				file_count INTEGER NOT NULL DEFAULT 0,
				last_updated DATETIME NOT NULL
			)`,
		}
	case "mysql":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS files (
				id VARCHAR(36) NOT NULL,
				owner_id VARCHAR(255) NOT NULL,
				content_hash CHAR(64) NOT NULL,
				stored_path TEXT NOT NULL,
				original_filename VARCHAR(255) NOT NULL,
				media_type VARCHAR(255) NOT NULL,
				size BIGINT NOT NULL,
				is_reference TINYINT(1) NOT NULL DEFAULT 0,
				reference_target VARCHAR(36),
				reference_count INT NOT NULL DEFAULT 0,
				state VARCHAR(20) NOT NULL DEFAULT 'unprocessed',
				ai_degraded TINYINT(1) NOT NULL DEFAULT 0,
				processed_at DATETIME,
				uploaded_at DATETIME NOT NULL,
				canonical_hash CHAR(64) AS (IF(is_reference = 0, content_hash, NULL)) STORED,
				PRIMARY KEY (id),
				INDEX idx_files_owner_uploaded (owner_id, uploaded_at),
				INDEX idx_files_hash_owner (content_hash, owner_id),
				INDEX idx_files_owner_state (owner_id, state),
				UNIQUE KEY idx_files_canonical (owner_id, canonical_hash),
				CONSTRAINT fk_files_target FOREIGN KEY (reference_target) REFERENCES files(id)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS file_metadata (
				file_id VARCHAR(36) NOT NULL,
				category VARCHAR(100) NOT NULL DEFAULT 'Other',
				subcategory VARCHAR(100) NOT NULL DEFAULT '',
				summary TEXT NOT NULL,
				tags TEXT NOT NULL,
				entities MEDIUMTEXT NOT NULL,
				key_info MEDIUMTEXT NOT NULL,
				embedding MEDIUMTEXT,
				embedding_model VARCHAR(100) NOT NULL DEFAULT '',
				embedding_computed_at DATETIME,
				confidence DOUBLE NOT NULL DEFAULT 0,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL,
				PRIMARY KEY (file_id),
				INDEX idx_file_metadata_category (category),
				CONSTRAINT fk_metadata_file FOREIGN KEY (file_id) REFERENCES files(id) ON DELETE CASCADE
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS storage_stats (
				owner_id VARCHAR(255) NOT NULL,
				original_storage_used BIGINT NOT NULL DEFAULT 0,
				total_storage_used BIGINT NOT NULL DEFAULT 0,
				file_count INT NOT NULL DEFAULT 0,
				last_updated DATETIME NOT NULL,
				PRIMARY KEY (owner_id)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	default:
		return fmt.Errorf("unsupported driver for migration: %s", driver)
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", driver, err)
		}
	}
	return nil
}
