package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/veilmarket/internal/domain"
	"github.com/alanyoungcy/veilmarket/internal/fhe"
)

// ---------------------------------------------------------------------------
// Narrow store interfaces required by the archiver.
//
// The archiver only requires the query methods it actually calls, not the
// full domain store interfaces. The Postgres stores satisfy these
// implicitly.
// ---------------------------------------------------------------------------

// MarketArchiveStore provides the market queries archival needs.
type MarketArchiveStore interface {
	// ListTerminalBefore returns unarchived markets that reached a terminal
	// state strictly before the cutoff, oldest first.
	ListTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Market, error)
	// MarkArchived records the bundle that now holds the market's cold copy.
	MarkArchived(ctx context.Context, id uint64, bundleID string, at time.Time) error
}

// BetArchiveStore provides read access to bet records for archival.
type BetArchiveStore interface {
	ListByMarket(ctx context.Context, marketID uint64, opts domain.ListOpts) ([]domain.Bet, error)
}

// ---------------------------------------------------------------------------
// Archiver
// ---------------------------------------------------------------------------

// Archiver implements domain.SettlementArchiver by bundling each settled
// market together with its bet records and audit trail into one JSON
// object in cold storage.
//
// Rows are NOT deleted from the primary store: the bundle is the durable
// cold copy, and MarkArchived keeps the market out of future passes.
type Archiver struct {
	writer  domain.BlobWriter
	markets MarketArchiveStore
	bets    BetArchiveStore
	audit   domain.AuditStore

	prefix     string
	batchLimit int
}

// archivePageSize is the page size used when draining bets and audit rows
// for one bundle.
const archivePageSize = 500

// NewArchiver creates an Archiver writing bundles under the given key
// prefix. batchLimit caps how many markets one ArchiveSettled pass
// bundles; zero means 100.
func NewArchiver(
	writer domain.BlobWriter,
	markets MarketArchiveStore,
	bets BetArchiveStore,
	audit domain.AuditStore,
	prefix string,
	batchLimit int,
) *Archiver {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	if batchLimit <= 0 {
		batchLimit = 100
	}
	return &Archiver{
		writer:     writer,
		markets:    markets,
		bets:       bets,
		audit:      audit,
		prefix:     prefix,
		batchLimit: batchLimit,
	}
}

var _ domain.SettlementArchiver = (*Archiver)(nil)

// ArchiveSettled bundles every unarchived market that reached a terminal
// state before the cutoff, up to the batch limit. It returns the number
// of markets archived; on error the count covers the bundles already
// written and marked.
func (a *Archiver) ArchiveSettled(ctx context.Context, before time.Time) (int64, error) {
	markets, err := a.markets.ListTerminalBefore(ctx, before, a.batchLimit)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive settled query: %w", err)
	}

	var archived int64
	for _, m := range markets {
		if err := a.archiveOne(ctx, m); err != nil {
			return archived, fmt.Errorf("s3blob: archive market %d: %w", m.ID, err)
		}
		archived++
	}
	return archived, nil
}

// archiveOne uploads a single market's bundle and marks the row archived.
func (a *Archiver) archiveOne(ctx context.Context, m domain.Market) error {
	bets, err := a.collectBets(ctx, m.ID)
	if err != nil {
		return fmt.Errorf("collect bets: %w", err)
	}
	audit, err := a.collectAudit(ctx, m.ID)
	if err != nil {
		return fmt.Errorf("collect audit: %w", err)
	}

	bundleID := uuid.New().String()
	now := time.Now().UTC()

	bundle := settlementBundle{
		BundleID:   bundleID,
		ArchivedAt: now,
		Market:     toBundleMarket(m),
		Bets:       bets,
		Audit:      audit,
	}

	buf, err := json.Marshal(bundle)
	if err != nil {
		return fmt.Errorf("marshal bundle: %w", err)
	}

	path := a.bundlePath(m)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/json"); err != nil {
		return fmt.Errorf("upload bundle: %w", err)
	}

	if err := a.audit.Log(ctx, "archive.settlement", map[string]any{
		"market_id": m.ID,
		"bundle_id": bundleID,
		"path":      path,
		"bets":      len(bets),
	}); err != nil {
		return fmt.Errorf("audit log: %w", err)
	}

	return a.markets.MarkArchived(ctx, m.ID, bundleID, now)
}

// collectBets drains every bet record for the market.
func (a *Archiver) collectBets(ctx context.Context, marketID uint64) ([]bundleBet, error) {
	var out []bundleBet
	for offset := 0; ; offset += archivePageSize {
		page, err := a.bets.ListByMarket(ctx, marketID, domain.ListOpts{Limit: archivePageSize, Offset: offset})
		if err != nil {
			return nil, err
		}
		for _, b := range page {
			out = append(out, toBundleBet(b))
		}
		if len(page) < archivePageSize {
			return out, nil
		}
	}
}

// collectAudit drains the market's audit trail.
func (a *Archiver) collectAudit(ctx context.Context, marketID uint64) ([]bundleAuditEntry, error) {
	var out []bundleAuditEntry
	for offset := 0; ; offset += archivePageSize {
		page, err := a.audit.ListByMarket(ctx, marketID, domain.ListOpts{Limit: archivePageSize, Offset: offset})
		if err != nil {
			return nil, err
		}
		for _, e := range page {
			out = append(out, bundleAuditEntry{
				ID:        e.ID,
				Event:     e.Event,
				Detail:    e.Detail,
				CreatedAt: e.CreatedAt,
			})
		}
		if len(page) < archivePageSize {
			return out, nil
		}
	}
}

// bundlePath builds the object key for a market's bundle, partitioned by
// the year-month the market reached its terminal state.
//
//	settlements/2025-01/market-000042.json
func (a *Archiver) bundlePath(m domain.Market) string {
	return fmt.Sprintf("%s%s/market-%06d.json", a.prefix, terminalAt(m).Format("2006-01"), m.ID)
}

// terminalAt returns when the market left the active lifecycle.
func terminalAt(m domain.Market) time.Time {
	switch {
	case m.ResolvedAt != nil:
		return *m.ResolvedAt
	case m.CancelledAt != nil:
		return *m.CancelledAt
	default:
		return m.UpdatedAt
	}
}

// ---------------------------------------------------------------------------
// Bundle format
// ---------------------------------------------------------------------------

// settlementBundle is the cold-storage record for one settled market.
// Encrypted columns are stored as ciphertext handles; plaintexts appear
// only where a verified reveal put them on the market row.
type settlementBundle struct {
	BundleID   string             `json:"bundle_id"`
	ArchivedAt time.Time          `json:"archived_at"`
	Market     bundleMarket       `json:"market"`
	Bets       []bundleBet        `json:"bets,omitempty"`
	Audit      []bundleAuditEntry `json:"audit,omitempty"`
}

type bundleMarket struct {
	ID             uint64    `json:"id"`
	Question       string    `json:"question"`
	Authority      string    `json:"authority"`
	Status         string    `json:"status"`
	EndTime        time.Time `json:"end_time"`
	ResolutionTime time.Time `json:"resolution_time"`

	TotalYesHandle string `json:"total_yes_handle"`
	TotalNoHandle  string `json:"total_no_handle"`
	OutcomeHandle  string `json:"outcome_handle,omitempty"`

	OutcomeRevealRequested bool    `json:"outcome_reveal_requested"`
	RevealedOutcome        *bool   `json:"revealed_outcome,omitempty"`
	VolumeRevealRequested  bool    `json:"volume_reveal_requested"`
	RevealedTotalYes       *uint64 `json:"revealed_total_yes,omitempty"`
	RevealedTotalNo        *uint64 `json:"revealed_total_no,omitempty"`

	ClosedAt    *time.Time `json:"closed_at,omitempty"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type bundleBet struct {
	Bettor          string    `json:"bettor"`
	AmountYesHandle string    `json:"amount_yes_handle"`
	AmountNoHandle  string    `json:"amount_no_handle"`
	SideHandle      string    `json:"side_handle"`
	Claimed         bool      `json:"claimed"`
	RevealRequested bool      `json:"reveal_requested"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type bundleAuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

func toBundleMarket(m domain.Market) bundleMarket {
	return bundleMarket{
		ID:             m.ID,
		Question:       m.Question,
		Authority:      m.Authority.Hex(),
		Status:         string(m.Status),
		EndTime:        m.EndTime,
		ResolutionTime: m.ResolutionTime,

		TotalYesHandle: m.TotalYes.String(),
		TotalNoHandle:  m.TotalNo.String(),
		OutcomeHandle:  handleOrEmpty(m.Outcome),

		OutcomeRevealRequested: m.OutcomeRevealRequested,
		RevealedOutcome:        m.RevealedOutcome,
		VolumeRevealRequested:  m.VolumeRevealRequested,
		RevealedTotalYes:       m.RevealedTotalYes,
		RevealedTotalNo:        m.RevealedTotalNo,

		ClosedAt:    m.ClosedAt,
		ResolvedAt:  m.ResolvedAt,
		CancelledAt: m.CancelledAt,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func toBundleBet(b domain.Bet) bundleBet {
	return bundleBet{
		Bettor:          b.Bettor.Hex(),
		AmountYesHandle: handleOrEmpty(b.AmountYes),
		AmountNoHandle:  handleOrEmpty(b.AmountNo),
		SideHandle:      handleOrEmpty(b.Side),
		Claimed:         b.Claimed,
		RevealRequested: b.RevealRequested,
		CreatedAt:       b.CreatedAt,
		UpdatedAt:       b.UpdatedAt,
	}
}

func handleOrEmpty(h fhe.Handle) string {
	if h.IsZero() {
		return ""
	}
	return h.String()
}
