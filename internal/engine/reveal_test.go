package engine

import (
	"testing"
	"time"

	"github.com/alanyoungcy/veilmarket/internal/domain"
	"github.com/alanyoungcy/veilmarket/internal/fhe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutcomeRevealFlow(t *testing.T) {
	r := newTestRig(t)
	id := r.openMarket(time.Hour, time.Hour)
	r.mustStake(alice, id, 1, true)
	r.toResolved(id, false)

	m, err := r.eng.RequestOutcomeDecryption(r.ctx, oracle, id)
	require.NoError(t, err)
	assert.True(t, m.OutcomeRevealRequested)

	_, err = r.eng.RequestOutcomeDecryption(r.ctx, oracle, id)
	require.NoError(t, err, "re-requesting before the result lands is harmless")

	vals, proof, err := r.enc.Decrypt(r.ctx, []fhe.Handle{m.Outcome})
	require.NoError(t, err)
	require.Equal(t, uint64(0), vals[0])

	m, err = r.eng.VerifyAndSetDecryptedOutcome(r.ctx, oracle, id, false, proof)
	require.NoError(t, err)
	require.NotNil(t, m.RevealedOutcome)
	assert.False(t, *m.RevealedOutcome)
}

func TestRevealRequiresResolved(t *testing.T) {
	r := newTestRig(t)
	id := r.openMarket(time.Hour, time.Hour)

	_, err := r.eng.RequestOutcomeDecryption(r.ctx, oracle, id)
	require.ErrorIs(t, err, domain.ErrMarketNotResolved)
	_, err = r.eng.RequestVolumeDecryption(r.ctx, oracle, id)
	require.ErrorIs(t, err, domain.ErrMarketNotResolved)

	_, err = r.eng.CloseMarket(r.ctx, oracle, id)
	require.NoError(t, err)
	_, err = r.eng.RequestOutcomeDecryption(r.ctx, oracle, id)
	require.ErrorIs(t, err, domain.ErrMarketNotResolved)
	_, err = r.eng.RequestVolumeDecryption(r.ctx, oracle, id)
	require.ErrorIs(t, err, domain.ErrMarketNotResolved)
}

func TestVerifyBeforeRequest(t *testing.T) {
	r := newTestRig(t)
	id := r.openMarket(time.Hour, time.Hour)
	r.mustStake(alice, id, 1, true)
	r.toResolved(id, true)

	m, err := r.eng.GetMarketInfo(id)
	require.NoError(t, err)

	// Force the plaintext out of band; without the recorded request the
	// ledger still refuses it.
	require.NoError(t, r.enc.MarkPubliclyRevealable(r.ctx, m.Outcome))
	_, proof, err := r.enc.Decrypt(r.ctx, []fhe.Handle{m.Outcome})
	require.NoError(t, err)

	_, err = r.eng.VerifyAndSetDecryptedOutcome(r.ctx, oracle, id, true, proof)
	require.ErrorIs(t, err, domain.ErrDecryptionNotRequested)

	require.NoError(t, r.enc.MarkPubliclyRevealable(r.ctx, m.TotalYes, m.TotalNo))
	vals, vproof, err := r.enc.Decrypt(r.ctx, []fhe.Handle{m.TotalYes, m.TotalNo})
	require.NoError(t, err)
	_, err = r.eng.VerifyAndSetDecryptedVolumes(r.ctx, oracle, id, vals[0], vals[1], vproof)
	require.ErrorIs(t, err, domain.ErrDecryptionNotRequested)
}

func TestVerifyReplayAndRerequest(t *testing.T) {
	r := newTestRig(t)
	id := r.openMarket(time.Hour, time.Hour)
	r.mustStake(alice, id, 1, true)
	r.toResolved(id, true)

	m, err := r.eng.RequestOutcomeDecryption(r.ctx, oracle, id)
	require.NoError(t, err)
	_, proof, err := r.enc.Decrypt(r.ctx, []fhe.Handle{m.Outcome})
	require.NoError(t, err)
	_, err = r.eng.VerifyAndSetDecryptedOutcome(r.ctx, oracle, id, true, proof)
	require.NoError(t, err)

	_, err = r.eng.VerifyAndSetDecryptedOutcome(r.ctx, oracle, id, true, proof)
	require.ErrorIs(t, err, domain.ErrAlreadyDecrypted, "the recorded plaintext is write-once")

	_, err = r.eng.RequestOutcomeDecryption(r.ctx, oracle, id)
	require.ErrorIs(t, err, domain.ErrAlreadyDecrypted)
}

func TestVerifyRejectsWrongPlaintext(t *testing.T) {
	r := newTestRig(t)
	id := r.openMarket(time.Hour, time.Hour)
	r.mustStake(alice, id, 2, true)
	r.mustStake(bob, id, 1, false)
	r.toResolved(id, true)

	m, err := r.eng.RequestOutcomeDecryption(r.ctx, oracle, id)
	require.NoError(t, err)
	_, proof, err := r.enc.Decrypt(r.ctx, []fhe.Handle{m.Outcome})
	require.NoError(t, err)

	_, err = r.eng.VerifyAndSetDecryptedOutcome(r.ctx, oracle, id, false, proof)
	require.ErrorIs(t, err, fhe.ErrVerificationFailed, "the attestation covers the true value only")

	m, err = r.eng.RequestVolumeDecryption(r.ctx, oracle, id)
	require.NoError(t, err)
	vals, vproof, err := r.enc.Decrypt(r.ctx, []fhe.Handle{m.TotalYes, m.TotalNo})
	require.NoError(t, err)
	require.Equal(t, []uint64{2, 1}, vals)

	_, err = r.eng.VerifyAndSetDecryptedVolumes(r.ctx, oracle, id, vals[1], vals[0], vproof)
	require.ErrorIs(t, err, fhe.ErrVerificationFailed, "transposed totals must not verify")

	_, err = r.eng.VerifyAndSetDecryptedVolumes(r.ctx, oracle, id, vals[0], vals[1], vproof)
	require.NoError(t, err, "the honest pair still lands after a rejected attempt")
}

func TestRevealAuthority(t *testing.T) {
	r := newTestRig(t)
	id := r.openMarket(time.Hour, time.Hour)
	r.mustStake(alice, id, 1, true)
	r.toResolved(id, true)

	_, err := r.eng.RequestOutcomeDecryption(r.ctx, mallory, id)
	require.ErrorIs(t, err, domain.ErrNotAuthority)
	_, err = r.eng.RequestVolumeDecryption(r.ctx, alice, id)
	require.ErrorIs(t, err, domain.ErrNotAuthority)
	_, err = r.eng.VerifyAndSetDecryptedOutcome(r.ctx, mallory, id, true, []byte("proof"))
	require.ErrorIs(t, err, domain.ErrNotAuthority)

	_, err = r.eng.RequestOutcomeDecryption(r.ctx, owner, id)
	require.NoError(t, err, "the owner may drive reveals directly")
}

func TestMakeUserBetsDecryptable(t *testing.T) {
	r := newTestRig(t)
	id := r.openMarket(time.Hour, time.Hour)

	_, err := r.eng.MakeUserBetsDecryptable(r.ctx, alice, id)
	require.ErrorIs(t, err, domain.ErrNoBetPlaced)
	_, err = r.eng.MakeUserBetsDecryptable(r.ctx, alice, 404)
	require.ErrorIs(t, err, domain.ErrNotFound)

	r.mustStake(alice, id, 4, false)

	// Bettors may reveal their own position at any time, even while the
	// market is still open.
	b, err := r.eng.MakeUserBetsDecryptable(r.ctx, alice, id)
	require.NoError(t, err)
	assert.True(t, b.RevealRequested)

	vals, _, err := r.enc.Decrypt(r.ctx, []fhe.Handle{b.AmountYes, b.AmountNo, b.Side})
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 4, 0}, vals)

	// Marking is per-position; bob's handles stay sealed.
	r.mustStake(bob, id, 1, true)
	eb, err := r.eng.GetEncryptedBets(id, bob)
	require.NoError(t, err)
	_, _, err = r.enc.Decrypt(r.ctx, []fhe.Handle{eb.AmountYes})
	require.ErrorIs(t, err, fhe.ErrNotRevealable)
}
