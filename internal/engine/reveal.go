package engine

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/veilmarket/internal/domain"
	"github.com/alanyoungcy/veilmarket/internal/fhe"
	"github.com/ethereum/go-ethereum/common"
)

// RequestOutcomeDecryption marks a resolved market's outcome handle
// publicly revealable. Requesting again before the result lands is
// harmless; once the plaintext is recorded the request is refused.
func (e *Engine) RequestOutcomeDecryption(ctx context.Context, caller common.Address, id uint64) (domain.Market, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.market(id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("engine: request outcome decryption: %w", err)
	}
	if !e.isAuthority(caller) {
		return domain.Market{}, fmt.Errorf("engine: request outcome decryption %d: %w", id, domain.ErrNotAuthority)
	}
	if m.Status != domain.MarketStatusResolved {
		return domain.Market{}, fmt.Errorf("engine: request outcome decryption %d: %w", id, domain.ErrMarketNotResolved)
	}
	if m.OutcomeDecrypted() {
		return domain.Market{}, fmt.Errorf("engine: request outcome decryption %d: %w", id, domain.ErrAlreadyDecrypted)
	}

	if err := e.cop.MarkPubliclyRevealable(ctx, m.Outcome); err != nil {
		return domain.Market{}, fmt.Errorf("engine: request outcome decryption %d: %w", id, err)
	}

	m.OutcomeRevealRequested = true
	m.UpdatedAt = e.now()
	return *m, nil
}

// VerifyAndSetDecryptedOutcome checks the oracle's attestation for the
// outcome plaintext and records it. Write-once: a second verification
// is refused even with a valid proof.
func (e *Engine) VerifyAndSetDecryptedOutcome(ctx context.Context, caller common.Address, id uint64, outcome bool, proof []byte) (domain.Market, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.market(id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("engine: verify outcome: %w", err)
	}
	if !e.isAuthority(caller) {
		return domain.Market{}, fmt.Errorf("engine: verify outcome %d: %w", id, domain.ErrNotAuthority)
	}
	if m.Status != domain.MarketStatusResolved {
		return domain.Market{}, fmt.Errorf("engine: verify outcome %d: %w", id, domain.ErrMarketNotResolved)
	}
	if m.OutcomeDecrypted() {
		return domain.Market{}, fmt.Errorf("engine: verify outcome %d: %w", id, domain.ErrAlreadyDecrypted)
	}
	if !m.OutcomeRevealRequested {
		return domain.Market{}, fmt.Errorf("engine: verify outcome %d: %w", id, domain.ErrDecryptionNotRequested)
	}

	val := uint64(0)
	if outcome {
		val = 1
	}
	if err := e.cop.VerifyPlaintext(ctx, []fhe.Handle{m.Outcome}, []uint64{val}, proof); err != nil {
		return domain.Market{}, fmt.Errorf("engine: verify outcome %d: %w", id, err)
	}

	m.RevealedOutcome = &outcome
	m.UpdatedAt = e.now()
	return *m, nil
}

// RequestVolumeDecryption marks both volume accumulators of a resolved
// market publicly revealable.
func (e *Engine) RequestVolumeDecryption(ctx context.Context, caller common.Address, id uint64) (domain.Market, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.market(id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("engine: request volume decryption: %w", err)
	}
	if !e.isAuthority(caller) {
		return domain.Market{}, fmt.Errorf("engine: request volume decryption %d: %w", id, domain.ErrNotAuthority)
	}
	if m.Status != domain.MarketStatusResolved {
		return domain.Market{}, fmt.Errorf("engine: request volume decryption %d: %w", id, domain.ErrMarketNotResolved)
	}
	if m.VolumesDecrypted() {
		return domain.Market{}, fmt.Errorf("engine: request volume decryption %d: %w", id, domain.ErrAlreadyDecrypted)
	}

	if err := e.cop.MarkPubliclyRevealable(ctx, m.TotalYes, m.TotalNo); err != nil {
		return domain.Market{}, fmt.Errorf("engine: request volume decryption %d: %w", id, err)
	}

	m.VolumeRevealRequested = true
	m.UpdatedAt = e.now()
	return *m, nil
}

// VerifyAndSetDecryptedVolumes checks the attestation for both volume
// plaintexts, yes first, and records them together. Write-once.
func (e *Engine) VerifyAndSetDecryptedVolumes(ctx context.Context, caller common.Address, id uint64, totalYes, totalNo uint64, proof []byte) (domain.Market, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.market(id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("engine: verify volumes: %w", err)
	}
	if !e.isAuthority(caller) {
		return domain.Market{}, fmt.Errorf("engine: verify volumes %d: %w", id, domain.ErrNotAuthority)
	}
	if m.Status != domain.MarketStatusResolved {
		return domain.Market{}, fmt.Errorf("engine: verify volumes %d: %w", id, domain.ErrMarketNotResolved)
	}
	if m.VolumesDecrypted() {
		return domain.Market{}, fmt.Errorf("engine: verify volumes %d: %w", id, domain.ErrAlreadyDecrypted)
	}
	if !m.VolumeRevealRequested {
		return domain.Market{}, fmt.Errorf("engine: verify volumes %d: %w", id, domain.ErrDecryptionNotRequested)
	}

	handles := []fhe.Handle{m.TotalYes, m.TotalNo}
	values := []uint64{totalYes, totalNo}
	if err := e.cop.VerifyPlaintext(ctx, handles, values, proof); err != nil {
		return domain.Market{}, fmt.Errorf("engine: verify volumes %d: %w", id, err)
	}

	m.RevealedTotalYes = &totalYes
	m.RevealedTotalNo = &totalNo
	m.UpdatedAt = e.now()
	return *m, nil
}

// MakeUserBetsDecryptable marks the caller's own bet handles, both
// stake columns and the side, publicly revealable so the caller can
// obtain the plaintexts needed to claim. Anyone may do this for their
// own bet at any time.
func (e *Engine) MakeUserBetsDecryptable(ctx context.Context, caller common.Address, marketID uint64) (domain.Bet, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.market(marketID); err != nil {
		return domain.Bet{}, fmt.Errorf("engine: make bets decryptable: %w", err)
	}
	b := e.bets[marketID][caller]
	if b == nil {
		return domain.Bet{}, fmt.Errorf("engine: make bets decryptable %d: %w", marketID, domain.ErrNoBetPlaced)
	}

	if err := e.cop.MarkPubliclyRevealable(ctx, b.AmountYes, b.AmountNo, b.Side); err != nil {
		return domain.Bet{}, fmt.Errorf("engine: make bets decryptable %d: %w", marketID, err)
	}

	b.RevealRequested = true
	b.UpdatedAt = e.now()
	return *b, nil
}
