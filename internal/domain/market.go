package domain

import (
	"time"

	"github.com/alanyoungcy/veilmarket/internal/fhe"
	"github.com/ethereum/go-ethereum/common"
)

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusOpen      MarketStatus = "open"
	MarketStatusClosed    MarketStatus = "closed"
	MarketStatusResolved  MarketStatus = "resolved"
	MarketStatusCancelled MarketStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s MarketStatus) Terminal() bool {
	return s == MarketStatusResolved || s == MarketStatusCancelled
}

// Market is a binary prediction market whose volume accumulators stay
// encrypted for the market's whole life. Plaintext shows up only in the
// Revealed* fields, and only after the matching two-phase reveal has
// verified an oracle attestation.
type Market struct {
	ID             uint64
	Question       string
	Authority      common.Address // creator; held the oracle role at creation time
	Status         MarketStatus
	EndTime        time.Time // betting cutoff
	ResolutionTime time.Time // earliest moment the outcome may be set

	TotalYes fhe.Handle // encrypted yes-side volume, in credits
	TotalNo  fhe.Handle // encrypted no-side volume, in credits
	Outcome  fhe.Handle // encrypted winning side; zero until resolved

	OutcomeRevealRequested bool
	RevealedOutcome        *bool // winning side; nil until verified; write-once

	VolumeRevealRequested bool
	RevealedTotalYes      *uint64 // credits; nil until verified; write-once
	RevealedTotalNo       *uint64

	ClosedAt    *time.Time
	ResolvedAt  *time.Time
	CancelledAt *time.Time

	// ArchivedAt and ArchiveBundleID are set together once the market's
	// settlement bundle has been written to cold storage.
	ArchivedAt      *time.Time
	ArchiveBundleID string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// OutcomeDecrypted reports whether the outcome reveal has completed.
func (m Market) OutcomeDecrypted() bool { return m.RevealedOutcome != nil }

// VolumesDecrypted reports whether the volume reveal has completed.
func (m Market) VolumesDecrypted() bool {
	return m.RevealedTotalYes != nil && m.RevealedTotalNo != nil
}

// AnyRevealVerified reports whether any reveal on this market has been
// verified. Cancellation is barred once this is true.
func (m Market) AnyRevealVerified() bool {
	return m.OutcomeDecrypted() || m.VolumesDecrypted()
}

// MarketStats is the public summary of a market's state. Totals appear
// only after the volume reveal has completed.
type MarketStats struct {
	MarketID         uint64       `json:"market_id"`
	Status           MarketStatus `json:"status"`
	BettorCount      int          `json:"bettor_count"`
	ClaimCount       int          `json:"claim_count"`
	BettingOpen      bool         `json:"betting_open"`
	OutcomeRevealed  bool         `json:"outcome_revealed"`
	VolumesRevealed  bool         `json:"volumes_revealed"`
	RevealedOutcome  *bool        `json:"revealed_outcome,omitempty"`
	RevealedTotalYes *uint64      `json:"revealed_total_yes,omitempty"`
	RevealedTotalNo  *uint64      `json:"revealed_total_no,omitempty"`
}
