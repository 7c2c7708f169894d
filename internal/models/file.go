package models

import "time"

// ProcessingState tracks where a file sits in the enrichment lifecycle.
// "processing" is deliberately absent: an in-flight file stays unprocessed
// on disk so a crashed run is safe to retry.
type ProcessingState string

const (
	StateUnprocessed ProcessingState = "unprocessed"
	StateProcessed   ProcessingState = "processed"
	StateFailed      ProcessingState = "failed"
)

// StoredFile is one logical file owned by a user. A canonical file owns the
// physical blob; a reference file points at a canonical file's blob and
// duplicates nothing but the row.
type StoredFile struct {
	ID               string          `json:"id"`
	OwnerID          string          `json:"-"`
	ContentHash      string          `json:"content_hash"`
	StoredPath       string          `json:"-"`
	OriginalFilename string          `json:"original_filename"`
	MediaType        string          `json:"media_type"`
	Size             int64           `json:"size"`
	IsReference      bool            `json:"is_reference"`
	ReferenceTarget  string          `json:"reference_target,omitempty"`
	ReferenceCount   int             `json:"reference_count"`
	State            ProcessingState `json:"state"`
	AIDegraded       bool            `json:"ai_degraded"`
	ProcessedAt      *time.Time      `json:"processed_at,omitempty"`
	UploadedAt       time.Time       `json:"uploaded_at"`

	Metadata *FileMetadata `json:"metadata,omitempty"`
}

// Processed reports whether enrichment has produced a metadata record,
// degraded or not.
func (f *StoredFile) Processed() bool {
	return f.State == StateProcessed
}
