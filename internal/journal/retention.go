package journal

import (
	"context"
	"fmt"
	"log"
	"time"
)

const (
	// MinRetention guards against a misconfigured purge wiping the
	// journal operators are actively debugging with.
	MinRetention     = 24 * time.Hour
	DefaultRetention = 30 * 24 * time.Hour
)

// Prune deletes entries older than the retention window and reports how
// many rows went.
func (s *Service) Prune(ctx context.Context, keep time.Duration) (int64, error) {
	if keep < MinRetention {
		return 0, fmt.Errorf("journal retention below minimum: %s < %s", keep, MinRetention)
	}

	cutoff := s.now().UTC().Add(-keep)
	res, err := s.db.ExecContext(ctx, `DELETE FROM pipeline_journal WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning journal: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// StartPruner runs Prune daily until ctx is cancelled.
func (s *Service) StartPruner(ctx context.Context, keep time.Duration) {
	if keep <= 0 {
		keep = DefaultRetention
	}
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := s.Prune(ctx, keep); err != nil {
					log.Printf("[ERROR] Journal: retention prune failed: %v", err)
				} else if n > 0 {
					log.Printf("[INFO] Journal: pruned %d entries older than %s", n, keep)
				}
			}
		}
	}()
}
