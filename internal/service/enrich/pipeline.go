package enrich

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"filevault/internal/models"
	"filevault/internal/service/ai"
	"filevault/internal/service/vault"
)

// Pipeline runs extraction, content analysis, validation and embedding for a
// stored file and persists the resulting metadata record in one write.
//
// Every step short of reading the blob degrades to a default record instead
// of failing the file: an upload never fails just because AI did.
type Pipeline struct {
	vault     *vault.Service
	extractor Extractor
	analyzer  ai.Analyzer // nil when no provider is configured
	embedder  ai.Embedder // nil when embeddings are unavailable
}

// New builds the pipeline. analyzer and embedder may be nil; the pipeline
// then produces default metadata / skips vectors respectively.
func New(v *vault.Service, extractor Extractor, analyzer ai.Analyzer, embedder ai.Embedder) *Pipeline {
	return &Pipeline{vault: v, extractor: extractor, analyzer: analyzer, embedder: embedder}
}

// Process enriches a single file. Already-processed files are a no-op, so
// the call is safe to repeat after crashes, sweeps or duplicate queue
// deliveries. References copy their canonical file's metadata instead of
// being analyzed themselves.
func (p *Pipeline) Process(ctx context.Context, fileID string) error {
	f, err := p.vault.FileByID(ctx, fileID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// deleted between enqueue and pickup
			return nil
		}
		return err
	}
	if f.Processed() {
		return nil
	}
	if f.IsReference {
		return p.copyFromCanonical(ctx, f)
	}

	md, degraded, err := p.enrich(ctx, f)
	if err != nil {
		if markErr := p.vault.MarkFailed(ctx, fileID); markErr != nil {
			log.Printf("mark file %s failed: %v", fileID, markErr)
		}
		return fmt.Errorf("enrich %s: %w", fileID, err)
	}
	return p.vault.SaveMetadata(ctx, fileID, md, degraded)
}

// Reprocess re-runs enrichment on explicit request, including for files in
// the failed state. Processed files are left untouched.
func (p *Pipeline) Reprocess(ctx context.Context, ownerID, fileID string) error {
	f, err := p.vault.FileByID(ctx, fileID)
	if err != nil {
		return err
	}
	if f.OwnerID != ownerID {
		return vault.ErrUnauthorized
	}
	if f.Processed() {
		return nil
	}
	return p.Process(ctx, fileID)
}

// ProcessBacklog enriches up to limit unprocessed files, optionally for a
// single owner, and returns how many were handled. Used for catching up on
// files uploaded before enrichment was configured.
func (p *Pipeline) ProcessBacklog(ctx context.Context, ownerID string, limit int) (int, error) {
	files, err := p.vault.UnprocessedBefore(ctx, ownerID, time.Now().UTC(), limit)
	if err != nil {
		return 0, err
	}
	processed := 0
	for _, f := range files {
		if err := p.Process(ctx, f.ID); err != nil {
			log.Printf("backlog process %s: %v", f.ID, err)
			continue
		}
		processed++
	}
	return processed, nil
}

// enrich produces the metadata record for a canonical file. The returned
// bool flags a degraded record built from defaults; a non-nil error means
// the blob itself could not be read.
func (p *Pipeline) enrich(ctx context.Context, f *models.StoredFile) (*models.FileMetadata, bool, error) {
	extraction, err := p.extractor.Extract(ctx, f.StoredPath, f.MediaType)
	if err != nil {
		return nil, false, err
	}
	if extraction == nil || (extraction.Text == "" && extraction.Image == nil) {
		return ai.DefaultMetadata("Unable to extract content from file"), true, nil
	}
	if p.analyzer == nil {
		return ai.DefaultMetadata("File processed without AI analysis"), true, nil
	}

	var res *ai.Result
	if extraction.Image != nil {
		res, err = p.analyzer.AnalyzeImage(ctx, extraction.Image, f.MediaType, f.OriginalFilename)
	} else {
		res, err = p.analyzer.AnalyzeText(ctx, extraction.Text, f.OriginalFilename, f.MediaType)
	}
	if err != nil {
		log.Printf("analysis for %s degraded to defaults: %v", f.ID, err)
		return ai.DefaultMetadata("AI analysis failed"), true, nil
	}

	md := ai.Normalize(res)
	p.attachEmbedding(ctx, md)
	return md, false, nil
}

// attachEmbedding computes the summary vector when an embedding service is
// available. Unavailability only costs the file its place in semantic
// search.
func (p *Pipeline) attachEmbedding(ctx context.Context, md *models.FileMetadata) {
	if p.embedder == nil || md.Summary == "" {
		return
	}
	vec, err := p.embedder.Embed(ctx, md.Summary)
	if err != nil {
		log.Printf("embedding skipped: %v", err)
		return
	}
	now := time.Now().UTC()
	md.Embedding = vec
	md.EmbeddingModel = p.embedder.Model()
	md.EmbeddingComputedAt = &now
}

// copyFromCanonical gives a reference file a verbatim copy of its target's
// metadata. When the canonical file has not been enriched yet the reference
// stays unprocessed and a later sweep retries; a failed canonical fails the
// reference too, otherwise the sweep would redeliver it forever.
func (p *Pipeline) copyFromCanonical(ctx context.Context, ref *models.StoredFile) error {
	target, err := p.vault.FileByID(ctx, ref.ReferenceTarget)
	if err != nil {
		return fmt.Errorf("load reference target: %w", err)
	}
	if target.State == models.StateFailed {
		return p.vault.MarkFailed(ctx, ref.ID)
	}
	md, err := p.vault.MetadataFor(ctx, target.ID)
	if err != nil {
		return err
	}
	if md == nil {
		return nil
	}
	return p.vault.SaveMetadata(ctx, ref.ID, md.Copy(), target.AIDegraded)
}
