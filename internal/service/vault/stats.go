package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"filevault/internal/models"
	"filevault/internal/redis"
)

const statsCacheTTL = 5 * time.Minute

func statsCacheKey(ownerID string) string {
	return "vault:stats:" + ownerID
}

// RecomputeStats rebuilds the owner's storage ledger from a full scan of its
// file rows and persists it. Always a full recount: O(n) per call buys
// freedom from drift between concurrent creates and deletes.
func (s *Service) RecomputeStats(ctx context.Context, ownerID string) error {
	var stats models.StorageStats
	stats.OwnerID = ownerID
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(size), 0),
			COALESCE(SUM(CASE WHEN is_reference = 0 THEN size ELSE 0 END), 0)
		FROM files WHERE owner_id = ?`, ownerID).
		Scan(&stats.FileCount, &stats.OriginalStorageUsed, &stats.TotalStorageUsed)
	if err != nil {
		return fmt.Errorf("recount storage: %w", err)
	}
	stats.LastUpdated = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE storage_stats
		SET original_storage_used = ?, total_storage_used = ?, file_count = ?, last_updated = ?
		WHERE owner_id = ?`,
		stats.OriginalStorageUsed, stats.TotalStorageUsed, stats.FileCount, stats.LastUpdated, ownerID)
	if err != nil {
		return fmt.Errorf("update stats: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update stats: %w", err)
	}
	if affected == 0 {
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO storage_stats (owner_id, original_storage_used, total_storage_used, file_count, last_updated)
			VALUES (?, ?, ?, ?, ?)`,
			ownerID, stats.OriginalStorageUsed, stats.TotalStorageUsed, stats.FileCount, stats.LastUpdated,
		); err != nil {
			return fmt.Errorf("insert stats: %w", err)
		}
	}

	s.cacheStats(ctx, &stats)
	return nil
}

// GetStats returns the owner's current ledger, recomputing it so callers
// always see a fresh count.
func (s *Service) GetStats(ctx context.Context, ownerID string) (*models.StorageStats, error) {
	if err := s.RecomputeStats(ctx, ownerID); err != nil {
		return nil, err
	}

	var stats models.StorageStats
	stats.OwnerID = ownerID
	err := s.db.QueryRowContext(ctx, `
		SELECT original_storage_used, total_storage_used, file_count, last_updated
		FROM storage_stats WHERE owner_id = ?`, ownerID).
		Scan(&stats.OriginalStorageUsed, &stats.TotalStorageUsed, &stats.FileCount, &stats.LastUpdated)
	if err != nil {
		return nil, fmt.Errorf("load stats: %w", err)
	}
	return &stats, nil
}

// cacheStats mirrors the ledger into redis for cheap dashboard reads; cache
// failures only log, the database row stays authoritative.
func (s *Service) cacheStats(ctx context.Context, stats *models.StorageStats) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(stats)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, statsCacheKey(stats.OwnerID), data, statsCacheTTL); err != nil && err != redis.ErrCacheMiss {
		log.Printf("cache stats for %s failed: %v", stats.OwnerID, err)
	}
}

// CachedStats returns the redis mirror when present, falling back to a full
// recompute.
func (s *Service) CachedStats(ctx context.Context, ownerID string) (*models.StorageStats, error) {
	if s.cache != nil {
		raw, err := s.cache.Get(ctx, statsCacheKey(ownerID))
		if err == nil {
			var stats models.StorageStats
			if err := json.Unmarshal([]byte(raw), &stats); err == nil {
				stats.OwnerID = ownerID
				return &stats, nil
			}
		} else if err != redis.ErrCacheMiss {
			log.Printf("read cached stats for %s failed: %v", ownerID, err)
		}
	}
	return s.GetStats(ctx, ownerID)
}
