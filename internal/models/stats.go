package models

import "time"

// StorageStats is the per-owner usage ledger. It is always recomputed from a
// full scan of the owner's files, never maintained incrementally, so it
// cannot drift under concurrent uploads and deletes.
type StorageStats struct {
	OwnerID string `json:"-"`
	// OriginalStorageUsed counts every logical file as if nothing were
	// deduplicated; TotalStorageUsed counts only canonical files.
	OriginalStorageUsed int64     `json:"original_storage_used"`
	TotalStorageUsed    int64     `json:"total_storage_used"`
	FileCount           int       `json:"file_count"`
	LastUpdated         time.Time `json:"last_updated"`
}

// StorageSavings returns the bytes avoided through deduplication.
func (s *StorageStats) StorageSavings() int64 {
	return s.OriginalStorageUsed - s.TotalStorageUsed
}

// SavingsPercentage returns savings as a percentage of the logical total,
// 0 when nothing is stored.
func (s *StorageStats) SavingsPercentage() float64 {
	if s.OriginalStorageUsed == 0 {
		return 0
	}
	return float64(s.StorageSavings()) / float64(s.OriginalStorageUsed) * 100
}
