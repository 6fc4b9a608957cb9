package engine

import (
	"math"
	"testing"
	"time"

	"github.com/alanyoungcy/veilmarket/internal/domain"
	"github.com/alanyoungcy/veilmarket/internal/fhe"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlaceBetHappyPath(t *testing.T) {
	r := newTestRig(t)
	id := r.openMarket(time.Hour, time.Hour)

	before, err := r.eng.GetMarketInfo(id)
	require.NoError(t, err)

	amtCT, amtProof := r.encryptAmount(7)
	sideCT, sideProof := r.encryptSide(true)
	res, err := r.eng.PlaceBet(r.ctx, alice, id, amtCT, amtProof, sideCT, sideProof, 7*testScale)
	require.NoError(t, err)

	assert.True(t, res.FirstBet)
	assert.Equal(t, 7*testScale, res.Pool)
	assert.Equal(t, 993*testScale, r.vault.MustBalance(alice))
	assert.True(t, res.Bet.Initialized(), "both stake columns and the side exist after the first bet")
	assert.NotEqual(t, before.TotalYes, res.Market.TotalYes, "accumulator handles change with every bet")
	assert.NotEqual(t, before.TotalNo, res.Market.TotalNo)

	info, err := r.eng.GetUserBetInfo(id, alice)
	require.NoError(t, err)
	assert.True(t, info.Placed)
	assert.False(t, info.Claimed)
}

func TestPlaceBetValidation(t *testing.T) {
	r := newTestRig(t)
	id := r.openMarket(time.Hour, time.Hour)

	amtCT, amtProof := r.encryptAmount(1)
	sideCT, sideProof := r.encryptSide(true)

	_, err := r.eng.PlaceBet(r.ctx, alice, 404, amtCT, amtProof, sideCT, sideProof, testScale)
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = r.eng.PlaceBet(r.ctx, alice, id, amtCT, amtProof, sideCT, sideProof, 0)
	require.ErrorIs(t, err, domain.ErrZeroStake)

	_, err = r.eng.PlaceBet(r.ctx, alice, id, amtCT, amtProof, sideCT, sideProof, testScale+1)
	require.ErrorIs(t, err, domain.ErrStakeNotAligned)

	huge := (uint64(math.MaxUint32) + 1) * testScale
	_, err = r.eng.PlaceBet(r.ctx, alice, id, amtCT, amtProof, sideCT, sideProof, huge)
	require.ErrorIs(t, err, domain.ErrStakeTooLarge, "credits must fit the encrypted integer width")

	m, err := r.eng.GetMarketInfo(id)
	require.NoError(t, err)
	r.clock.Set(m.EndTime)
	_, err = r.eng.PlaceBet(r.ctx, alice, id, amtCT, amtProof, sideCT, sideProof, testScale)
	require.ErrorIs(t, err, domain.ErrBettingEnded, "the cutoff itself is already too late")

	closed := r.openMarket(time.Hour, time.Hour)
	_, err = r.eng.CloseMarket(r.ctx, oracle, closed)
	require.NoError(t, err)
	err = r.stake(alice, closed, 1, true)
	require.ErrorIs(t, err, domain.ErrMarketNotOpen)

	assert.Equal(t, uint64(0), r.eng.Pool(), "nothing entered the pool")
	assert.Equal(t, 1_000*testScale, r.vault.MustBalance(alice))
}

func TestPlaceBetInsufficientFunds(t *testing.T) {
	r := newTestRig(t)
	id := r.openMarket(time.Hour, time.Hour)
	dave := common.HexToAddress("0x00000000000000000000000000000000000da7e")

	err := r.stake(dave, id, 5, true)
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	assert.Equal(t, uint64(0), r.eng.Pool())
	info, err := r.eng.GetUserBetInfo(id, dave)
	require.NoError(t, err)
	assert.False(t, info.Placed, "a failed withdrawal leaves no bet record")
}

func TestPlaceBetRejectsBadAttestation(t *testing.T) {
	r := newTestRig(t)
	id := r.openMarket(time.Hour, time.Hour)

	amtCT, _ := r.encryptAmount(3)
	sideCT, sideProof := r.encryptSide(true)

	_, err := r.eng.PlaceBet(r.ctx, alice, id, amtCT, []byte("junk"), sideCT, sideProof, 3*testScale)
	require.ErrorIs(t, err, fhe.ErrInvalidAttestation)

	_, otherProof := r.encryptAmount(3)
	_, err = r.eng.PlaceBet(r.ctx, alice, id, amtCT, otherProof, sideCT, sideProof, 3*testScale)
	require.ErrorIs(t, err, fhe.ErrInvalidAttestation, "an attestation binds one ciphertext only")

	assert.Equal(t, 1_000*testScale, r.vault.MustBalance(alice), "no funds move on a rejected input")
	assert.Equal(t, uint64(0), r.eng.Pool())
}

func TestRepeatBetAccumulates(t *testing.T) {
	r := newTestRig(t)
	id := r.openMarket(time.Hour, time.Hour)

	r.mustStake(alice, id, 2, true)
	r.mustStake(alice, id, 3, true)

	stats, err := r.eng.GetMarketStats(id)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.BettorCount, "repeat stakes stay one position")
	assert.Equal(t, 5*testScale, r.eng.Pool())

	r.toResolved(id, true)
	r.revealAll(id)
	yes, no := r.revealedVolumes(id)
	assert.Equal(t, uint64(5), yes)
	assert.Equal(t, uint64(0), no)

	gotYes, gotNo, side, _ := r.ownBetPlaintexts(alice, id)
	assert.Equal(t, uint64(5), gotYes)
	assert.Equal(t, uint64(0), gotNo)
	assert.True(t, side)
}

// TestSideLockedAtFirstBet pins the repeat-bet rule: the stored side
// decides where later stakes land, so flipping the side input cannot
// split a position across both columns.
func TestSideLockedAtFirstBet(t *testing.T) {
	r := newTestRig(t)
	id := r.openMarket(time.Hour, time.Hour)

	r.mustStake(alice, id, 2, true)
	r.mustStake(alice, id, 3, false)

	r.toResolved(id, true)
	r.revealAll(id)
	yes, no := r.revealedVolumes(id)
	assert.Equal(t, uint64(5), yes, "the second stake followed the original side")
	assert.Equal(t, uint64(0), no)

	gotYes, gotNo, side, _ := r.ownBetPlaintexts(alice, id)
	assert.Equal(t, uint64(5), gotYes)
	assert.Equal(t, uint64(0), gotNo)
	assert.True(t, side, "the recorded side never flips")

	res, err := r.eng.ClaimProfit(r.ctx, alice, id, gotYes, gotNo, side, mustProof(t, r, id, alice))
	require.NoError(t, err)
	assert.Equal(t, 5*testScale, res.PayoutNative, "sole winner takes the whole pot back")
}

// mustProof re-runs the self-reveal decryption to get a fresh
// attestation over the caller's bet handles.
func mustProof(t *testing.T, r *testRig, marketID uint64, who common.Address) []byte {
	t.Helper()
	b, err := r.eng.GetEncryptedBets(marketID, who)
	require.NoError(t, err)
	_, proof, err := r.enc.Decrypt(r.ctx, []fhe.Handle{b.AmountYes, b.AmountNo, b.Side})
	require.NoError(t, err)
	return proof
}

func TestTotalsAcrossBettors(t *testing.T) {
	r := newTestRig(t)
	id := r.openMarket(time.Hour, time.Hour)

	r.mustStake(alice, id, 2, true)
	r.mustStake(bob, id, 3, false)
	r.mustStake(carol, id, 4, true)
	assert.Equal(t, 9*testScale, r.eng.Pool())

	r.toResolved(id, false)
	r.revealAll(id)
	yes, no := r.revealedVolumes(id)
	assert.Equal(t, uint64(6), yes)
	assert.Equal(t, uint64(3), no)

	stats, err := r.eng.GetMarketStats(id)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.BettorCount)
}

func TestEncryptedBetViews(t *testing.T) {
	r := newTestRig(t)
	id := r.openMarket(time.Hour, time.Hour)

	_, err := r.eng.GetEncryptedBets(id, alice)
	require.ErrorIs(t, err, domain.ErrNoBetPlaced)

	r.mustStake(alice, id, 1, false)
	eb, err := r.eng.GetEncryptedBets(id, alice)
	require.NoError(t, err)
	assert.False(t, eb.AmountYes.IsZero())
	assert.False(t, eb.AmountNo.IsZero())
	assert.False(t, eb.Side.IsZero())
	assert.Equal(t, fhe.KindUint32, eb.AmountYes.Kind())
	assert.Equal(t, fhe.KindBool, eb.Side.Kind())

	_, err = r.eng.GetEncryptedBets(404, alice)
	require.ErrorIs(t, err, domain.ErrNotFound)
}
