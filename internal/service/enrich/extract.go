package enrich

import (
	"context"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	lfile "github.com/cloudwego/eino-ext/components/document/loader/file"
	"github.com/cloudwego/eino/components/document"
)

// MaxExtractedChars caps extracted text to bound downstream analysis cost.
const MaxExtractedChars = 15000

// Extraction is what the extractor yields: text content for text-like
// files, raw image bytes for visual files. A nil Extraction means the file
// carried nothing the analysis models can work with.
type Extraction struct {
	Text  string
	Image []byte
}

// Extractor pulls analyzable content out of a stored blob. An error from
// Extract means the blob itself is unreadable — the one fault the pipeline
// treats as hard; any soft extraction problem returns (nil, nil) instead.
type Extractor interface {
	Extract(ctx context.Context, path, mediaType string) (*Extraction, error)
}

// LoaderExtractor implements Extractor over the eino file document loader.
type LoaderExtractor struct {
	loader document.Loader
}

var _ Extractor = (*LoaderExtractor)(nil)

// NewLoaderExtractor builds the default extractor.
func NewLoaderExtractor(ctx context.Context) (*LoaderExtractor, error) {
	loader, err := lfile.NewFileLoader(ctx, &lfile.FileLoaderConfig{UseNameAsID: true})
	if err != nil {
		return nil, fmt.Errorf("init file loader: %w", err)
	}
	return &LoaderExtractor{loader: loader}, nil
}

// Extract reads the blob at path. Image media is returned whole for the
// vision analysis path; text-like media goes through the document loader and
// is capped at MaxExtractedChars.
func (e *LoaderExtractor) Extract(ctx context.Context, path, mediaType string) (*Extraction, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("stat blob: %w", err)
	}

	if strings.HasPrefix(mediaType, "image/") {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read image blob: %w", err)
		}
		return &Extraction{Image: data}, nil
	}

	if !textLike(mediaType) {
		return nil, nil
	}

	docs, err := e.loader.Load(ctx, document.Source{URI: path})
	if err != nil {
		// unparseable content, not an unreadable blob
		return nil, nil
	}

	var b strings.Builder
	for _, doc := range docs {
		if b.Len() >= MaxExtractedChars {
			break
		}
		b.WriteString(doc.Content)
		b.WriteString("\n")
	}
	text := strings.TrimSpace(b.String())
	// character cap, not a byte cap; never cut a rune in half
	if utf8.RuneCountInString(text) > MaxExtractedChars {
		text = string([]rune(text)[:MaxExtractedChars])
	}
	if text == "" {
		return nil, nil
	}
	return &Extraction{Text: text}, nil
}

func textLike(mediaType string) bool {
	mt := strings.ToLower(mediaType)
	if strings.HasPrefix(mt, "text/") {
		return true
	}
	for _, frag := range []string{"pdf", "json", "xml", "csv", "markdown", "msword", "wordprocessingml"} {
		if strings.Contains(mt, frag) {
			return true
		}
	}
	return false
}
