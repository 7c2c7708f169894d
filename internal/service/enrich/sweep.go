package enrich

import (
	"context"
	"log"
	"time"
)

const (
	DefaultSweepInterval = 5 * time.Minute
	DefaultSweepGrace    = 10 * time.Minute

	sweepBatchSize = 50
)

// StartSweep launches the periodic rescue of unprocessed files. A file can
// legitimately sit unprocessed when the process crashed between commit and
// enqueue, or when its request was aborted mid-flight; the sweep re-enqueues
// anything older than grace. enqueue may be nil, in which case the sweep
// processes inline.
func (p *Pipeline) StartSweep(ctx context.Context, interval, grace time.Duration, enqueue func(ownerID, fileID string)) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if grace <= 0 {
		grace = DefaultSweepGrace
	}
	go p.sweepLoop(ctx, interval, grace, enqueue)
}

func (p *Pipeline) sweepLoop(ctx context.Context, interval, grace time.Duration, enqueue func(ownerID, fileID string)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.sweepOnce(ctx, grace, enqueue); err != nil {
				log.Printf("enrichment sweep error: %v", err)
			}
		}
	}
}

func (p *Pipeline) sweepOnce(ctx context.Context, grace time.Duration, enqueue func(ownerID, fileID string)) error {
	cutoff := time.Now().UTC().Add(-grace)
	files, err := p.vault.UnprocessedBefore(ctx, "", cutoff, sweepBatchSize)
	if err != nil {
		return err
	}
	for _, f := range files {
		if enqueue != nil {
			enqueue(f.OwnerID, f.ID)
			continue
		}
		if err := p.Process(ctx, f.ID); err != nil {
			log.Printf("sweep process %s: %v", f.ID, err)
		}
	}
	return nil
}
