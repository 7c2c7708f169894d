package models

import "time"

// Category is the closed classification set shared by validation and query
// filters. Free-text categories never enter the data model; anything
// unrecognized collapses to CategoryOther.
type Category string

const (
	CategoryWork        Category = "Work Documents"
	CategoryPersonal    Category = "Personal Documents"
	CategoryFinancial   Category = "Financial Documents"
	CategoryLegal       Category = "Legal Documents"
	CategoryMedical     Category = "Medical Records"
	CategoryReceipts    Category = "Receipts & Invoices"
	CategoryContracts   Category = "Contracts & Agreements"
	CategoryEducational Category = "Educational Materials"
	CategoryCreative    Category = "Creative Content"
	CategoryTechnical   Category = "Technical Documentation"
	CategoryTravel      Category = "Travel Documents"
	CategoryTax         Category = "Tax Documents"
	CategoryProperty    Category = "Property Documents"
	CategoryInsurance   Category = "Insurance Documents"
	CategoryOther       Category = "Other"
)

// Categories lists every valid category in presentation order.
var Categories = []Category{
	CategoryWork,
	CategoryPersonal,
	CategoryFinancial,
	CategoryLegal,
	CategoryMedical,
	CategoryReceipts,
	CategoryContracts,
	CategoryEducational,
	CategoryCreative,
	CategoryTechnical,
	CategoryTravel,
	CategoryTax,
	CategoryProperty,
	CategoryInsurance,
	CategoryOther,
}

// ParseCategory coerces a raw string into the enumeration, substituting
// CategoryOther for anything unknown.
func ParseCategory(raw string) Category {
	for _, c := range Categories {
		if string(c) == raw {
			return c
		}
	}
	return CategoryOther
}

// Hard caps applied during validation, regardless of what the analysis
// model returns.
const (
	MaxTags          = 10
	MaxSummaryLength = 500
)

// FileMetadata is the AI-derived record attached 1:1 to a StoredFile.
// It is written once, fully formed; references receive a verbatim copy of
// their canonical file's record.
type FileMetadata struct {
	FileID      string              `json:"-"`
	Category    Category            `json:"category"`
	Subcategory string              `json:"subcategory"`
	Summary     string              `json:"summary"`
	Tags        []string            `json:"tags"`
	Entities    map[string][]string `json:"entities"`
	KeyInfo     map[string]any      `json:"key_info"`

	// Embedding is nil when the embedding service was unavailable; the file
	// is then excluded from semantic search but stays browsable.
	Embedding           []float64  `json:"-"`
	EmbeddingModel      string     `json:"embedding_model,omitempty"`
	EmbeddingComputedAt *time.Time `json:"embedding_computed_at,omitempty"`

	ConfidenceScore float64   `json:"confidence_score"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Copy returns a detached deep copy, used when a reference file inherits
// the canonical file's metadata.
func (m *FileMetadata) Copy() *FileMetadata {
	if m == nil {
		return nil
	}
	out := *m
	out.Tags = append([]string(nil), m.Tags...)
	if m.Entities != nil {
		out.Entities = make(map[string][]string, len(m.Entities))
		for k, v := range m.Entities {
			out.Entities[k] = append([]string(nil), v...)
		}
	}
	if m.KeyInfo != nil {
		out.KeyInfo = make(map[string]any, len(m.KeyInfo))
		for k, v := range m.KeyInfo {
			out.KeyInfo[k] = v
		}
	}
	out.Embedding = append([]float64(nil), m.Embedding...)
	return &out
}
