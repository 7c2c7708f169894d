package ai

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"filevault/internal/models"
)

// Normalize clamps a raw analysis result into the metadata invariants:
// category coerced into the enumeration, at most 10 tags, summary capped at
// 500 characters, confidence in [0,1]. The returned record carries no file
// identity or timestamps; the pipeline fills those at persistence time.
func Normalize(res *Result) *models.FileMetadata {
	md := &models.FileMetadata{
		Category:        models.ParseCategory(strings.TrimSpace(res.Category)),
		Subcategory:     res.Subcategory,
		Summary:         res.Summary,
		Tags:            res.Tags,
		Entities:        normalizeEntities(res.Entities),
		KeyInfo:         res.KeyInfo,
		ConfidenceScore: res.ConfidenceScore,
	}
	// cap counts characters, not bytes; slicing bytes would split a rune
	if utf8.RuneCountInString(md.Summary) > models.MaxSummaryLength {
		md.Summary = string([]rune(md.Summary)[:models.MaxSummaryLength])
	}
	if len(md.Tags) > models.MaxTags {
		md.Tags = md.Tags[:models.MaxTags]
	}
	if md.Tags == nil {
		md.Tags = []string{}
	}
	if md.KeyInfo == nil {
		md.KeyInfo = map[string]any{}
	}
	if md.ConfidenceScore < 0 {
		md.ConfidenceScore = 0
	}
	if md.ConfidenceScore > 1 {
		md.ConfidenceScore = 1
	}
	return md
}

// DefaultMetadata is the degraded-but-valid record used whenever extraction
// or analysis fails: the file still ends up processed, just without insight.
func DefaultMetadata(reason string) *models.FileMetadata {
	if reason == "" {
		reason = "File processed without AI analysis"
	}
	return &models.FileMetadata{
		Category:        models.CategoryOther,
		Subcategory:     "",
		Summary:         reason,
		Tags:            []string{},
		Entities:        map[string][]string{},
		KeyInfo:         map[string]any{},
		ConfidenceScore: 0,
	}
}

// normalizeEntities coerces the free-form entity mapping the model returns
// into entity-kind -> string list, dropping anything unusable.
func normalizeEntities(raw map[string]any) map[string][]string {
	out := make(map[string][]string, len(raw))
	for kind, v := range raw {
		switch vals := v.(type) {
		case []any:
			list := make([]string, 0, len(vals))
			for _, item := range vals {
				switch s := item.(type) {
				case string:
					list = append(list, s)
				default:
					list = append(list, fmt.Sprint(item))
				}
			}
			out[kind] = list
		case string:
			if vals != "" {
				out[kind] = []string{vals}
			}
		}
	}
	return out
}
