package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/malbeclabs/lottery/engine/pkg/events"
	"github.com/malbeclabs/lottery/engine/pkg/metrics"
	"github.com/malbeclabs/lottery/utils/pkg/retry"
)

const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

type StoreConfig struct {
	Logger *slog.Logger
	Pool   *pgxpool.Pool
	Retry  retry.Config
}

func (cfg *StoreConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Pool == nil {
		return errors.New("pool is required")
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	if cfg.Retry.Retryable == nil {
		cfg.Retry.Retryable = IsTransient
	}
	return nil
}

type Store struct {
	log *slog.Logger
	cfg StoreConfig
}

func NewStore(cfg StoreConfig) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Store{log: cfg.Logger, cfg: cfg}, nil
}

// Append writes events in one transaction. Events already stored are
// skipped, so redelivered messages are harmless.
func (s *Store) Append(ctx context.Context, evs ...events.Event) error {
	if len(evs) == 0 {
		return nil
	}
	start := time.Now()
	err := retry.Do(ctx, s.cfg.Retry, func() error {
		return s.append(ctx, evs)
	})
	metrics.RecordJournalWrite(time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to append events: %w", err)
	}
	return nil
}

func (s *Store) append(ctx context.Context, evs []events.Event) error {
	tx, err := s.cfg.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, ev := range evs {
		var roundID *int64
		if ev.RoundID != nil {
			v := int64(*ev.RoundID)
			roundID = &v
		}
		batch.Queue(`
			INSERT INTO engine_events (id, seq, kind, round_id, data, occurred_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO NOTHING
		`, ev.ID, int64(ev.Seq), string(ev.Kind), roundID, []byte(ev.Data), ev.OccurredAt)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	Kind     events.Kind
	RoundID  *uint64
	AfterSeq uint64
	Limit    int
}

// List returns events ordered by sequence number.
func (s *Store) List(ctx context.Context, f Filter) ([]events.Event, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	limit = min(limit, MaxListLimit)

	var roundID *int64
	if f.RoundID != nil {
		v := int64(*f.RoundID)
		roundID = &v
	}

	rows, err := s.cfg.Pool.Query(ctx, `
		SELECT id, seq, kind, round_id, data, occurred_at
		FROM engine_events
		WHERE seq > $1
		  AND ($2 = '' OR kind = $2)
		  AND ($3::BIGINT IS NULL OR round_id = $3)
		ORDER BY seq
		LIMIT $4
	`, int64(f.AfterSeq), string(f.Kind), roundID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	out := []events.Event{}
	for rows.Next() {
		var (
			ev    events.Event
			seq   int64
			kind  string
			round *int64
			data  []byte
		)
		if err := rows.Scan(&ev.ID, &seq, &kind, &round, &data, &ev.OccurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.Seq = uint64(seq)
		ev.Kind = events.Kind(kind)
		ev.Data = data
		if round != nil {
			v := uint64(*round)
			ev.RoundID = &v
		}
		ev.OccurredAt = ev.OccurredAt.UTC()
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return out, nil
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.cfg.Pool.Ping(ctx)
}

// IsTransient reports whether err is a connectivity or timeout failure
// worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 is connection exceptions, 40001 serialization and 40P01
		// deadlock; everything else the server reports is permanent.
		return strings.HasPrefix(pgErr.Code, "08") || pgErr.Code == "40001" || pgErr.Code == "40P01"
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"unexpected eof",
		"i/o timeout",
		"pool is closed",
		"conn closed",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
