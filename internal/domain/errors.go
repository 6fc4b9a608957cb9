package domain

import "errors"

// Ledger validation errors: the caller got something wrong and nothing was
// mutated. Every entry point either succeeds or fails with one of these
// named reasons.
var (
	ErrNotAuthority      = errors.New("caller is not the oracle authority")
	ErrNotOwner          = errors.New("caller is not the owner")
	ErrInvalidScheduling = errors.New("invalid market scheduling")

	ErrMarketNotOpen            = errors.New("market is not open")
	ErrMarketNotClosed          = errors.New("market is not closed")
	ErrMarketNotResolved        = errors.New("market is not resolved")
	ErrMarketNotCancelled       = errors.New("market is not cancelled")
	ErrTooEarly                 = errors.New("too early")
	ErrBettingEnded             = errors.New("betting has ended")
	ErrResolutionTimeNotReached = errors.New("resolution time not reached")
	ErrAlreadyResolved          = errors.New("market already resolved")
	ErrCannotCancelResolved     = errors.New("cannot cancel a resolved market")

	ErrZeroStake         = errors.New("zero stake")
	ErrStakeNotAligned   = errors.New("stake is not a multiple of the stake scale")
	ErrStakeTooLarge     = errors.New("stake exceeds the encrypted integer width")
	ErrInsufficientFunds = errors.New("insufficient account balance")

	ErrAlreadyDecrypted       = errors.New("already decrypted")
	ErrDecryptionNotRequested = errors.New("decryption not requested")

	ErrNoBetPlaced             = errors.New("no bet placed")
	ErrBetHandlesUninitialized = errors.New("bet handles uninitialized")
	ErrNotReadyForClaim        = errors.New("market not ready for claim")
	ErrAlreadyClaimed          = errors.New("already claimed")
	ErrNoStake                 = errors.New("no stake on the claimed side")
	ErrLostBet                 = errors.New("bet is on the losing side")
)

// Accounting errors: unreachable while the ledger invariants hold. They
// indicate a defect and are surfaced loudly, never clamped.
var (
	ErrInsufficientPool   = errors.New("insufficient pooled value")
	ErrArithmeticOverflow = errors.New("arithmetic overflow")
)

// Infrastructure errors shared across stores, caches and transports.
var (
	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("rate limited")
	ErrUnauthorized = errors.New("unauthorized")
	ErrLockHeld     = errors.New("lock already held")
	ErrWSDisconnect = errors.New("websocket disconnected")
)
