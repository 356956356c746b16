package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/edgeprofiler/internal/domain"
)

// SnapshotStore implements domain.SnapshotStore. The headline numbers are
// stored in columns for querying and the full snapshot in a JSONB payload.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

// NewSnapshotStore creates a new SnapshotStore backed by the given pool.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

// Insert stores snap. Re-inserting an existing ID is a no-op.
func (s *SnapshotStore) Insert(ctx context.Context, snap domain.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("postgres: marshal snapshot %s: %w", snap.ID, err)
	}

	const query = `
		INSERT INTO profile_snapshots (
			id, symbol, current_price, candle_count,
			poc, value_area_high, value_area_low,
			overall_bias, bias_strength, payload, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`

	a := snap.Analysis
	_, err = s.pool.Exec(ctx, query,
		snap.ID, snap.Symbol, snap.CurrentPrice, snap.CandleCount,
		a.PointOfControl, a.ValueAreaHigh, a.ValueAreaLow,
		string(a.OverallBias), a.BiasStrength, payload, snap.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert snapshot %s: %w", snap.ID, err)
	}
	return nil
}

// GetByID returns one snapshot or domain.ErrNotFound.
func (s *SnapshotStore) GetByID(ctx context.Context, id string) (domain.Snapshot, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM profile_snapshots WHERE id = $1`, id,
	).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Snapshot{}, domain.ErrNotFound
		}
		return domain.Snapshot{}, fmt.Errorf("postgres: get snapshot %s: %w", id, err)
	}
	return decodeSnapshot(payload)
}

// ListBySymbol returns snapshots for symbol, newest first.
func (s *SnapshotStore) ListBySymbol(ctx context.Context, symbol string, opts domain.ListOpts) ([]domain.Snapshot, error) {
	query, args := appendListOpts(
		`SELECT payload FROM profile_snapshots WHERE symbol = $1`,
		[]any{symbol}, opts,
	)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list snapshots %s: %w", symbol, err)
	}
	return scanSnapshots(rows)
}

// ListPage returns the next page of snapshots after the cursor and before
// the cutoff, oldest first. ID and CreatedAt come from the row columns so
// they can seed the next cursor exactly.
func (s *SnapshotStore) ListPage(ctx context.Context, after domain.SnapshotCursor, before time.Time, limit int) ([]domain.Snapshot, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	afterID := after.ID
	if afterID == "" {
		afterID = domain.ZeroSnapshotID
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id::text, created_at, payload FROM profile_snapshots
		WHERE (created_at, id) > ($1, $2::uuid) AND created_at < $3
		ORDER BY created_at ASC, id ASC
		LIMIT $4`,
		after.CreatedAt, afterID, before, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list snapshot page before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()

	snaps := []domain.Snapshot{}
	for rows.Next() {
		var (
			id        string
			createdAt time.Time
			payload   []byte
		)
		if err := rows.Scan(&id, &createdAt, &payload); err != nil {
			return nil, fmt.Errorf("postgres: scan snapshot page: %w", err)
		}
		snap, err := decodeSnapshot(payload)
		if err != nil {
			return nil, err
		}
		snap.ID, snap.CreatedAt = id, createdAt.UTC()
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: snapshot page rows: %w", err)
	}
	return snaps, nil
}

// DeleteBefore removes snapshots created before the cutoff and returns how
// many rows were deleted.
func (s *SnapshotStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM profile_snapshots WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete snapshots before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

func scanSnapshots(rows pgx.Rows) ([]domain.Snapshot, error) {
	defer rows.Close()

	snaps := []domain.Snapshot{}
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("postgres: scan snapshot: %w", err)
		}
		snap, err := decodeSnapshot(payload)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: snapshot rows: %w", err)
	}
	return snaps, nil
}

func decodeSnapshot(payload []byte) (domain.Snapshot, error) {
	var snap domain.Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return domain.Snapshot{}, fmt.Errorf("postgres: unmarshal snapshot: %w", err)
	}
	return snap, nil
}

var _ domain.SnapshotStore = (*SnapshotStore)(nil)
