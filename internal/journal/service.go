package journal

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vigilops/vigil-core/internal/data"
)

const DefaultReplayInterval = 30 * time.Second

// Service writes and queries journal entries. DB failures are absorbed
// by the spool; callers only see an error when both sinks reject the
// entry.
type Service struct {
	db    data.DBTX
	spool *Spool

	replayMu sync.Mutex
	now      func() time.Time
}

func NewService(db data.DBTX, spool *Spool) *Service {
	return &Service{db: db, spool: spool, now: time.Now}
}

// Write appends one entry, spooling it if the DB write fails.
func (s *Service) Write(ctx context.Context, e Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now().UTC()
	}

	err := s.insert(ctx, e)
	if err == nil {
		return nil
	}

	if s.spool == nil {
		return fmt.Errorf("journal write: %w", err)
	}

	log.Printf("[WARN] Journal: DB write failed, spooling entry %s: %v", e.ID, err)
	if spoolErr := s.spool.Append(e); spoolErr != nil {
		log.Printf("[ERROR] Journal: spool rejected entry %s: %v", e.ID, spoolErr)
		return fmt.Errorf("journal write lost: %w", spoolErr)
	}
	return nil
}

func (s *Service) insert(ctx context.Context, e Entry) error {
	query := `
		INSERT INTO pipeline_journal (
			id, event_id, camera_id, kind, outcome, detail, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.db.ExecContext(ctx, query,
		e.ID, e.EventID, e.CameraID, string(e.Kind), e.Outcome, e.Detail, nullableJSON(e.Metadata), e.CreatedAt,
	)
	return err
}

// Query returns entries newest first, plus a cursor for the next page.
func (s *Service) Query(ctx context.Context, f Filter) ([]Entry, string, error) {
	q := `
		SELECT id, event_id, camera_id, kind, outcome, detail, metadata, created_at
		FROM pipeline_journal
		WHERE 1=1`
	var args []any
	idx := 1

	add := func(clause string, v any) {
		q += fmt.Sprintf(clause, idx)
		args = append(args, v)
		idx++
	}

	if f.CameraID != "" {
		add(" AND camera_id = $%d", f.CameraID)
	}
	if f.Kind != "" {
		add(" AND kind = $%d", string(f.Kind))
	}
	if f.Outcome != "" {
		add(" AND outcome = $%d", f.Outcome)
	}
	if f.From != nil {
		add(" AND created_at >= $%d", f.From.UTC())
	}
	if f.To != nil {
		add(" AND created_at <= $%d", f.To.UTC())
	}
	if f.Cursor != "" {
		before, err := time.Parse(time.RFC3339Nano, f.Cursor)
		if err != nil {
			return nil, "", fmt.Errorf("bad journal cursor %q: %w", f.Cursor, err)
		}
		add(" AND created_at < $%d", before.UTC())
	}

	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	add(" ORDER BY created_at DESC, id DESC LIMIT $%d", limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, "", fmt.Errorf("querying journal: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var meta []byte
		if err := rows.Scan(&e.ID, &e.EventID, &e.CameraID, &e.Kind, &e.Outcome, &e.Detail, &meta, &e.CreatedAt); err != nil {
			return nil, "", err
		}
		if len(meta) > 0 {
			e.Metadata = json.RawMessage(meta)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	next := ""
	if len(out) == limit {
		next = out[len(out)-1].CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	return out, next, nil
}

// StartReplayer drains the spool into the DB on a fixed cadence until
// ctx is cancelled.
func (s *Service) StartReplayer(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultReplayInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.ReplaySpool(ctx)
			}
		}
	}()
}

// ReplaySpool moves the spool file aside and re-writes every line
// through Write. Entries the DB still rejects land back in a fresh
// spool file, so nothing is lost to a mid-drain outage. Leftover
// replay files from an interrupted previous drain go first.
func (s *Service) ReplaySpool(ctx context.Context) {
	s.replayMu.Lock()
	defer s.replayMu.Unlock()

	if s.spool == nil {
		return
	}

	pending, err := s.spool.pendingReplays()
	if err != nil {
		log.Printf("[ERROR] Journal: listing replay files: %v", err)
		return
	}
	if path, err := s.spool.rotate(); err != nil {
		log.Printf("[ERROR] Journal: rotating spool: %v", err)
	} else if path != "" {
		pending = append(pending, path)
	}

	var flushed int
	for _, path := range pending {
		flushed += s.drainFile(ctx, path)
	}
	if flushed > 0 {
		log.Printf("[INFO] Journal: replayed %d spooled entries", flushed)
	}
}

func (s *Service) drainFile(ctx context.Context, path string) int {
	f, err := os.Open(path)
	if err != nil {
		log.Printf("[ERROR] Journal: opening replay file %s: %v", path, err)
		return 0
	}

	var flushed int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var se spooledEntry
		if err := json.Unmarshal(scanner.Bytes(), &se); err != nil {
			log.Printf("[WARN] Journal: dropping malformed spool line: %v", err)
			continue
		}
		if err := s.insert(ctx, se.Entry); err != nil {
			// DB still down: push it back so the next pass retries.
			if spoolErr := s.spool.Append(se.Entry); spoolErr != nil {
				log.Printf("[ERROR] Journal: entry %s lost during replay: %v", se.ID, spoolErr)
			}
			continue
		}
		flushed++
	}
	f.Close()
	os.Remove(path)
	return flushed
}

// nullableJSON maps empty metadata to NULL instead of an empty string
// Postgres would reject as jsonb.
func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
