package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/veilmarket/internal/domain"
	"github.com/alanyoungcy/veilmarket/internal/fhe"
)

// BetStore implements domain.BetStore using PostgreSQL.
type BetStore struct {
	pool *pgxpool.Pool
}

// NewBetStore creates a new BetStore backed by the given connection pool.
func NewBetStore(pool *pgxpool.Pool) *BetStore {
	return &BetStore{pool: pool}
}

var _ domain.BetStore = (*BetStore)(nil)

const betCols = `market_id, bettor, amount_yes, amount_no, side,
	claimed, reveal_requested, created_at, updated_at`

// Upsert inserts a position row or, on repeat stakes and settlement, rewrites
// its mutable columns. created_at survives the conflict path.
func (s *BetStore) Upsert(ctx context.Context, b domain.Bet) error {
	const query = `
		INSERT INTO bets (
			market_id, bettor, amount_yes, amount_no, side,
			claimed, reveal_requested, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9
		)
		ON CONFLICT (market_id, bettor) DO UPDATE SET
			amount_yes       = EXCLUDED.amount_yes,
			amount_no        = EXCLUDED.amount_no,
			side             = EXCLUDED.side,
			claimed          = EXCLUDED.claimed,
			reveal_requested = EXCLUDED.reveal_requested,
			updated_at       = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query,
		b.MarketID, b.Bettor.Hex(),
		b.AmountYes.Bytes(), b.AmountNo.Bytes(), b.Side.Bytes(),
		b.Claimed, b.RevealRequested, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert bet %d/%s: %w", b.MarketID, b.Bettor, err)
	}
	return nil
}

// scanBet scans a single bet row into a domain.Bet.
func scanBet(row pgx.Row) (domain.Bet, error) {
	var (
		b         domain.Bet
		bettor    string
		amountYes []byte
		amountNo  []byte
		side      []byte
	)
	err := row.Scan(
		&b.MarketID, &bettor, &amountYes, &amountNo, &side,
		&b.Claimed, &b.RevealRequested, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return domain.Bet{}, err
	}

	b.Bettor = common.HexToAddress(bettor)
	if b.AmountYes, err = fhe.HandleFromBytes(amountYes); err != nil {
		return domain.Bet{}, fmt.Errorf("amount_yes: %w", err)
	}
	if b.AmountNo, err = fhe.HandleFromBytes(amountNo); err != nil {
		return domain.Bet{}, fmt.Errorf("amount_no: %w", err)
	}
	if b.Side, err = fhe.HandleFromBytes(side); err != nil {
		return domain.Bet{}, fmt.Errorf("side: %w", err)
	}
	return b, nil
}

// Get retrieves one participant's position in one market.
func (s *BetStore) Get(ctx context.Context, marketID uint64, bettor common.Address) (domain.Bet, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+betCols+` FROM bets WHERE market_id = $1 AND bettor = $2`,
		marketID, bettor.Hex())
	b, err := scanBet(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Bet{}, domain.ErrNotFound
		}
		return domain.Bet{}, fmt.Errorf("postgres: get bet %d/%s: %w", marketID, bettor, err)
	}
	return b, nil
}

// ListByMarket returns a market's positions in stake order, oldest first.
func (s *BetStore) ListByMarket(ctx context.Context, marketID uint64, opts domain.ListOpts) ([]domain.Bet, error) {
	query := `SELECT ` + betCols + ` FROM bets WHERE market_id = $1`
	args := []any{marketID}
	argIdx := 2

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

	query += " ORDER BY created_at, bettor"

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
		return nil, fmt.Errorf("postgres: list bets for market %d: %w", marketID, err)
	}
	defer rows.Close()

	var bets []domain.Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan bet: %w", err)
		}
		bets = append(bets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list bets rows: %w", err)
	}
	return bets, nil
}

// CountByMarket returns the number of positions in a market.
func (s *BetStore) CountByMarket(ctx context.Context, marketID uint64) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM bets WHERE market_id = $1", marketID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count bets for market %d: %w", marketID, err)
	}
	return count, nil
}

// CountClaimedByMarket returns the number of settled positions in a market.
func (s *BetStore) CountClaimedByMarket(ctx context.Context, marketID uint64) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM bets WHERE market_id = $1 AND claimed", marketID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count claimed bets for market %d: %w", marketID, err)
	}
	return count, nil
}

// LoadAll returns every position ordered by market then bettor, for ledger
// rehydration.
func (s *BetStore) LoadAll(ctx context.Context) ([]domain.Bet, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+betCols+` FROM bets ORDER BY market_id, bettor`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load bets: %w", err)
	}
	defer rows.Close()

	var bets []domain.Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan bet: %w", err)
		}
		bets = append(bets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: load bets rows: %w", err)
	}
	return bets, nil
}
