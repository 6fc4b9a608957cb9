package domain

import (
	"time"

	"github.com/alanyoungcy/veilmarket/internal/fhe"
	"github.com/ethereum/go-ethereum/common"
)

// Bet is one participant's encrypted position in one market, created
// lazily on the first stake. AmountYes and AmountNo are either both zero
// (no bet yet) or both real ciphertexts (bet placed); the presence of a
// handle says nothing about which side the participant chose.
type Bet struct {
	MarketID uint64
	Bettor   common.Address

	AmountYes fhe.Handle // encrypted stake landing on the yes column
	AmountNo  fhe.Handle // encrypted stake landing on the no column
	Side      fhe.Handle // encrypted chosen side, fixed at the first stake

	Claimed         bool // write-once; set by settlement
	RevealRequested bool // bettor asked for their own handles to become revealable

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Initialized reports whether the dual-initialization of the amount
// columns has happened, i.e. whether the participant has ever staked.
func (b Bet) Initialized() bool {
	return !b.AmountYes.IsZero() && !b.AmountNo.IsZero() && !b.Side.IsZero()
}

// UserBetInfo is the public (plaintext-free) view of a participant's
// position in a market.
type UserBetInfo struct {
	MarketID        uint64         `json:"market_id"`
	Bettor          common.Address `json:"bettor"`
	Placed          bool           `json:"placed"`
	Claimed         bool           `json:"claimed"`
	RevealRequested bool           `json:"reveal_requested"`
	PlacedAt        *time.Time     `json:"placed_at,omitempty"`
}

// EncryptedBets carries the three ciphertext handles of a position, in the
// order settlement verifies them.
type EncryptedBets struct {
	AmountYes fhe.Handle `json:"amount_yes"`
	AmountNo  fhe.Handle `json:"amount_no"`
	Side      fhe.Handle `json:"side"`
}

// ClaimStatus is the preflight answer for a settlement attempt. Eligible
// only says the public preconditions hold; the claim itself can still end
// in a lost-bet or no-stake rejection once plaintexts are verified.
type ClaimStatus struct {
	Eligible bool   `json:"eligible"`
	Reason   string `json:"reason,omitempty"`
}
