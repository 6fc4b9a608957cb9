package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/veilmarket/internal/domain"
	"github.com/alanyoungcy/veilmarket/internal/fhe"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

var _ domain.MarketStore = (*MarketStore)(nil)

const marketCols = `id, question, authority, status, end_time, resolution_time,
	total_yes, total_no, outcome,
	outcome_reveal_requested, revealed_outcome,
	volume_reveal_requested, revealed_total_yes, revealed_total_no,
	closed_at, resolved_at, cancelled_at, archived_at, archive_bundle_id,
	created_at, updated_at`

// Create inserts a new market row. Timestamps come from the ledger clock,
// not the database, so the row mirrors in-memory state exactly.
func (s *MarketStore) Create(ctx context.Context, m domain.Market) error {
	const query = `
		INSERT INTO markets (
			id, question, authority, status, end_time, resolution_time,
			total_yes, total_no, outcome,
			outcome_reveal_requested, revealed_outcome,
			volume_reveal_requested, revealed_total_yes, revealed_total_no,
			closed_at, resolved_at, cancelled_at, archived_at, archive_bundle_id,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9,
			$10, $11,
			$12, $13, $14,
			$15, $16, $17, $18, $19,
			$20, $21
		)`

	_, err := s.pool.Exec(ctx, query,
		m.ID, m.Question, m.Authority.Hex(), string(m.Status), m.EndTime, m.ResolutionTime,
		m.TotalYes.Bytes(), m.TotalNo.Bytes(), m.Outcome.Bytes(),
		m.OutcomeRevealRequested, m.RevealedOutcome,
		m.VolumeRevealRequested, m.RevealedTotalYes, m.RevealedTotalNo,
		m.ClosedAt, m.ResolvedAt, m.CancelledAt, m.ArchivedAt, m.ArchiveBundleID,
		m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create market %d: %w", m.ID, err)
	}
	return nil
}

// Update rewrites every mutable column of an existing market row.
func (s *MarketStore) Update(ctx context.Context, m domain.Market) error {
	const query = `
		UPDATE markets SET
			question                 = $2,
			authority                = $3,
			status                   = $4,
			end_time                 = $5,
			resolution_time          = $6,
			total_yes                = $7,
			total_no                 = $8,
			outcome                  = $9,
			outcome_reveal_requested = $10,
			revealed_outcome         = $11,
			volume_reveal_requested  = $12,
			revealed_total_yes       = $13,
			revealed_total_no        = $14,
			closed_at                = $15,
			resolved_at              = $16,
			cancelled_at             = $17,
			archived_at              = $18,
			archive_bundle_id        = $19,
			updated_at               = $20
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		m.ID, m.Question, m.Authority.Hex(), string(m.Status), m.EndTime, m.ResolutionTime,
		m.TotalYes.Bytes(), m.TotalNo.Bytes(), m.Outcome.Bytes(),
		m.OutcomeRevealRequested, m.RevealedOutcome,
		m.VolumeRevealRequested, m.RevealedTotalYes, m.RevealedTotalNo,
		m.ClosedAt, m.ResolvedAt, m.CancelledAt, m.ArchivedAt, m.ArchiveBundleID,
		m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update market %d: %w", m.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update market %d: %w", m.ID, domain.ErrNotFound)
	}
	return nil
}

// scanMarket scans a single market row into a domain.Market.
func scanMarket(row pgx.Row) (domain.Market, error) {
	var (
		m         domain.Market
		authority string
		status    string
		totalYes  []byte
		totalNo   []byte
		outcome   []byte
	)
	err := row.Scan(
		&m.ID, &m.Question, &authority, &status, &m.EndTime, &m.ResolutionTime,
		&totalYes, &totalNo, &outcome,
		&m.OutcomeRevealRequested, &m.RevealedOutcome,
		&m.VolumeRevealRequested, &m.RevealedTotalYes, &m.RevealedTotalNo,
		&m.ClosedAt, &m.ResolvedAt, &m.CancelledAt, &m.ArchivedAt, &m.ArchiveBundleID,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}

	m.Authority = common.HexToAddress(authority)
	m.Status = domain.MarketStatus(status)
	if m.TotalYes, err = fhe.HandleFromBytes(totalYes); err != nil {
		return domain.Market{}, fmt.Errorf("total_yes: %w", err)
	}
	if m.TotalNo, err = fhe.HandleFromBytes(totalNo); err != nil {
		return domain.Market{}, fmt.Errorf("total_no: %w", err)
	}
	if m.Outcome, err = fhe.HandleFromBytes(outcome); err != nil {
		return domain.Market{}, fmt.Errorf("outcome: %w", err)
	}
	return m, nil
}

// GetByID retrieves a market by its primary key.
func (s *MarketStore) GetByID(ctx context.Context, id uint64) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %d: %w", id, err)
	}
	return m, nil
}

// List returns markets newest first, with pagination and optional time
// filtering on creation.
func (s *MarketStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	return s.list(ctx, `SELECT `+marketCols+` FROM markets WHERE 1=1`, nil, opts)
}

// ListByStatus returns markets in the given lifecycle state, newest first.
func (s *MarketStore) ListByStatus(ctx context.Context, status domain.MarketStatus, opts domain.ListOpts) ([]domain.Market, error) {
	return s.list(ctx,
		`SELECT `+marketCols+` FROM markets WHERE status = $1`,
		[]any{string(status)}, opts)
}

func (s *MarketStore) list(ctx context.Context, query string, args []any, opts domain.ListOpts) ([]domain.Market, error) {
	argIdx := len(args) + 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY id DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets rows: %w", err)
	}
	return markets, nil
}

// ListTerminalBefore returns resolved or cancelled markets that reached
// their terminal state before cutoff and have not been archived yet,
// oldest first.
func (s *MarketStore) ListTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets
		WHERE status IN ('resolved', 'cancelled')
		  AND archived_at IS NULL
		  AND COALESCE(resolved_at, cancelled_at) < $1
		ORDER BY id`
	args := []any{cutoff}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list terminal markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan terminal market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list terminal markets rows: %w", err)
	}
	return markets, nil
}

// MarkArchived records the settlement bundle that now holds this market's
// cold copy.
func (s *MarketStore) MarkArchived(ctx context.Context, id uint64, bundleID string, at time.Time) error {
	const query = `
		UPDATE markets SET archived_at = $2, archive_bundle_id = $3, updated_at = $2
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id, at, bundleID)
	if err != nil {
		return fmt.Errorf("postgres: mark market %d archived: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: mark market %d archived: %w", id, domain.ErrNotFound)
	}
	return nil
}

// LoadAll returns every market ordered by id, for ledger rehydration.
func (s *MarketStore) LoadAll(ctx context.Context) ([]domain.Market, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+marketCols+` FROM markets ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: load markets rows: %w", err)
	}
	return markets, nil
}

// Count returns the total number of markets in the database.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM markets").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return count, nil
}
