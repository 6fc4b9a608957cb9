package engine

import (
	"context"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/alanyoungcy/veilmarket/internal/domain"
	"github.com/alanyoungcy/veilmarket/internal/fhe"
	"github.com/alanyoungcy/veilmarket/internal/fhe/enclave"
	"github.com/alanyoungcy/veilmarket/internal/testutil"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testScale       = uint64(1_000_000_000)
	testAttestorKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
)

var (
	owner   = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	oracle  = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	alice   = common.HexToAddress("0x0000000000000000000000000000000000000a11")
	bob     = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	carol   = common.HexToAddress("0x00000000000000000000000000000000000000cc")
	mallory = common.HexToAddress("0x0000000000000000000000000000000000000bad")
)

// testRig wires an engine to a real enclave, an in-memory vault and a
// manual clock.
type testRig struct {
	t     *testing.T
	ctx   context.Context
	enc   *enclave.Enclave
	vault *testutil.MemVault
	clock *testutil.Clock
	eng   *Engine
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()

	enc, err := enclave.Open(enclave.Options{
		Path:        filepath.Join(t.TempDir(), "enclave.db"),
		Password:    "rig-password",
		AttestorKey: testAttestorKey,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = enc.Close() })

	vault := testutil.NewMemVault()
	clock := testutil.NewClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	eng, err := New(enc, vault, Params{Owner: owner, Oracle: oracle, StakeScale: testScale, Now: clock.Now})
	require.NoError(t, err)

	for _, a := range []common.Address{alice, bob, carol, mallory} {
		vault.Credit(a, 1_000*testScale)
	}
	return &testRig{t: t, ctx: context.Background(), enc: enc, vault: vault, clock: clock, eng: eng}
}

// openMarket creates a market whose betting window runs for betting and
// whose resolution time follows grace later.
func (r *testRig) openMarket(betting, grace time.Duration) uint64 {
	r.t.Helper()
	now := r.clock.Now()
	m, err := r.eng.CreateMarket(r.ctx, oracle, "will it rain tomorrow", now.Add(betting), now.Add(betting+grace))
	require.NoError(r.t, err)
	return m.ID
}

func (r *testRig) encryptAmount(credits uint64) ([]byte, []byte) {
	r.t.Helper()
	ct, proof, err := r.enc.Encrypt(r.ctx, fhe.KindUint32, credits)
	require.NoError(r.t, err)
	return ct, proof
}

func (r *testRig) encryptSide(side bool) ([]byte, []byte) {
	r.t.Helper()
	v := uint64(0)
	if side {
		v = 1
	}
	ct, proof, err := r.enc.Encrypt(r.ctx, fhe.KindBool, v)
	require.NoError(r.t, err)
	return ct, proof
}

// stake bets credits on side, attaching the matching native value.
func (r *testRig) stake(who common.Address, marketID, credits uint64, side bool) error {
	r.t.Helper()
	amtCT, amtProof := r.encryptAmount(credits)
	sideCT, sideProof := r.encryptSide(side)
	_, err := r.eng.PlaceBet(r.ctx, who, marketID, amtCT, amtProof, sideCT, sideProof, credits*testScale)
	return err
}

func (r *testRig) mustStake(who common.Address, marketID, credits uint64, side bool) {
	r.t.Helper()
	require.NoError(r.t, r.stake(who, marketID, credits, side))
}

// toResolved closes the market and sets the encrypted outcome.
func (r *testRig) toResolved(marketID uint64, outcome bool) {
	r.t.Helper()
	_, err := r.eng.CloseMarket(r.ctx, oracle, marketID)
	require.NoError(r.t, err)

	m, err := r.eng.GetMarketInfo(marketID)
	require.NoError(r.t, err)
	if r.clock.Now().Before(m.ResolutionTime) {
		r.clock.Set(m.ResolutionTime)
	}

	v := uint64(0)
	if outcome {
		v = 1
	}
	ct, proof, err := r.enc.Encrypt(r.ctx, fhe.KindBool, v)
	require.NoError(r.t, err)
	_, err = r.eng.SetOutcome(r.ctx, oracle, marketID, ct, proof)
	require.NoError(r.t, err)
}

// revealAll completes both two-phase reveals.
func (r *testRig) revealAll(marketID uint64) {
	r.t.Helper()

	m, err := r.eng.RequestOutcomeDecryption(r.ctx, oracle, marketID)
	require.NoError(r.t, err)
	vals, proof, err := r.enc.Decrypt(r.ctx, []fhe.Handle{m.Outcome})
	require.NoError(r.t, err)
	_, err = r.eng.VerifyAndSetDecryptedOutcome(r.ctx, oracle, marketID, vals[0] == 1, proof)
	require.NoError(r.t, err)

	m, err = r.eng.RequestVolumeDecryption(r.ctx, oracle, marketID)
	require.NoError(r.t, err)
	vals, proof, err = r.enc.Decrypt(r.ctx, []fhe.Handle{m.TotalYes, m.TotalNo})
	require.NoError(r.t, err)
	_, err = r.eng.VerifyAndSetDecryptedVolumes(r.ctx, oracle, marketID, vals[0], vals[1], proof)
	require.NoError(r.t, err)
}

// revealedVolumes decrypts the recorded volume plaintexts.
func (r *testRig) revealedVolumes(marketID uint64) (uint64, uint64) {
	r.t.Helper()
	m, err := r.eng.GetMarketInfo(marketID)
	require.NoError(r.t, err)
	require.True(r.t, m.VolumesDecrypted())
	return *m.RevealedTotalYes, *m.RevealedTotalNo
}

// ownBetPlaintexts reveals the caller's own handles and decrypts them.
func (r *testRig) ownBetPlaintexts(who common.Address, marketID uint64) (yes, no uint64, side bool, proof []byte) {
	r.t.Helper()
	b, err := r.eng.MakeUserBetsDecryptable(r.ctx, who, marketID)
	require.NoError(r.t, err)
	vals, proof, err := r.enc.Decrypt(r.ctx, []fhe.Handle{b.AmountYes, b.AmountNo, b.Side})
	require.NoError(r.t, err)
	return vals[0], vals[1], vals[2] == 1, proof
}

// claim runs the full self-reveal plus settlement flow for who.
func (r *testRig) claim(who common.Address, marketID uint64) (ClaimResult, error) {
	r.t.Helper()
	yes, no, side, proof := r.ownBetPlaintexts(who, marketID)
	return r.eng.ClaimProfit(r.ctx, who, marketID, yes, no, side, proof)
}

// refund runs the full self-reveal plus refund flow for who.
func (r *testRig) refund(who common.Address, marketID uint64) (ClaimResult, error) {
	r.t.Helper()
	yes, no, side, proof := r.ownBetPlaintexts(who, marketID)
	return r.eng.ClaimRefund(r.ctx, who, marketID, yes, no, side, proof)
}

func TestNewValidation(t *testing.T) {
	vault := testutil.NewMemVault()
	enc, err := enclave.Open(enclave.Options{
		Path:        filepath.Join(t.TempDir(), "enclave.db"),
		Password:    "pw",
		AttestorKey: testAttestorKey,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = enc.Close() })

	_, err = New(enc, vault, Params{Owner: owner, StakeScale: 0})
	require.Error(t, err)

	_, err = New(enc, vault, Params{StakeScale: 1})
	require.Error(t, err)

	eng, err := New(enc, vault, Params{Owner: owner, StakeScale: 1})
	require.NoError(t, err)
	assert.Equal(t, owner, eng.OracleAddress(), "oracle defaults to the owner")
	assert.Equal(t, owner, eng.Owner())
	assert.Equal(t, uint64(1), eng.StakeScale())
}

func TestFullLifecycle(t *testing.T) {
	r := newTestRig(t)
	id := r.openMarket(time.Hour, time.Hour)

	r.mustStake(alice, id, 2, true)
	r.mustStake(bob, id, 1, false)
	assert.Equal(t, 3*testScale, r.eng.Pool())
	assert.Equal(t, 998*testScale, r.vault.MustBalance(alice))
	assert.Equal(t, 999*testScale, r.vault.MustBalance(bob))

	r.toResolved(id, true)
	r.revealAll(id)

	m, err := r.eng.GetMarketInfo(id)
	require.NoError(t, err)
	require.NotNil(t, m.RevealedOutcome)
	assert.True(t, *m.RevealedOutcome)
	yes, no := r.revealedVolumes(id)
	assert.Equal(t, uint64(2), yes)
	assert.Equal(t, uint64(1), no)

	res, err := r.claim(alice, id)
	require.NoError(t, err)
	assert.Equal(t, 3*testScale, res.PayoutNative, "stake back plus the whole losing side")
	assert.Equal(t, uint64(0), res.Pool)
	assert.Equal(t, 1_001*testScale, r.vault.MustBalance(alice))

	_, err = r.claim(bob, id)
	require.ErrorIs(t, err, domain.ErrLostBet)
	assert.Equal(t, 999*testScale, r.vault.MustBalance(bob))

	stats, err := r.eng.GetMarketStats(id)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.BettorCount)
	assert.Equal(t, 1, stats.ClaimCount)
	assert.False(t, stats.BettingOpen)
	assert.True(t, stats.OutcomeRevealed)
	assert.True(t, stats.VolumesRevealed)
}

func TestCancelAndRefund(t *testing.T) {
	r := newTestRig(t)
	id := r.openMarket(time.Hour, time.Hour)

	r.mustStake(alice, id, 5, true)
	assert.Equal(t, 995*testScale, r.vault.MustBalance(alice))

	_, err := r.eng.CancelMarket(r.ctx, oracle, id)
	require.NoError(t, err)

	res, err := r.refund(alice, id)
	require.NoError(t, err)
	assert.Equal(t, 5*testScale, res.PayoutNative)
	assert.Equal(t, uint64(0), res.Pool)
	assert.Equal(t, 1_000*testScale, r.vault.MustBalance(alice))

	_, err = r.refund(alice, id)
	require.ErrorIs(t, err, domain.ErrAlreadyClaimed)
}

func TestRestoreContinuesWhereItStopped(t *testing.T) {
	r := newTestRig(t)
	id := r.openMarket(time.Hour, time.Hour)
	r.mustStake(alice, id, 2, true)
	r.mustStake(bob, id, 1, false)
	r.toResolved(id, true)
	r.revealAll(id)

	markets := r.eng.Markets()
	bets := r.eng.BetsForMarket(id)
	pool := r.eng.Pool()
	oracleAddr := r.eng.OracleAddress()

	restored, err := New(r.enc, r.vault, Params{Owner: owner, Oracle: oracle, StakeScale: testScale, Now: r.clock.Now})
	require.NoError(t, err)
	require.NoError(t, restored.Restore(markets, bets, pool, &oracleAddr))
	assert.Equal(t, pool, restored.Pool())
	assert.Equal(t, 1, restored.MarketCount())

	// Handles survive in the enclave, so settlement picks up as if the
	// process never died.
	b, err := restored.MakeUserBetsDecryptable(r.ctx, alice, id)
	require.NoError(t, err)
	vals, proof, err := r.enc.Decrypt(r.ctx, []fhe.Handle{b.AmountYes, b.AmountNo, b.Side})
	require.NoError(t, err)
	res, err := restored.ClaimProfit(r.ctx, alice, id, vals[0], vals[1], vals[2] == 1, proof)
	require.NoError(t, err)
	assert.Equal(t, 3*testScale, res.PayoutNative)

	// Creating on the restored engine does not reuse IDs.
	now := r.clock.Now()
	m, err := restored.CreateMarket(r.ctx, oracle, "second question", now.Add(time.Hour), now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Greater(t, m.ID, id)
}

func TestRestoreRejectsBadState(t *testing.T) {
	r := newTestRig(t)
	id := r.openMarket(time.Hour, time.Hour)
	r.mustStake(alice, id, 1, true)

	markets := r.eng.Markets()
	bets := r.eng.BetsForMarket(id)

	restored, err := New(r.enc, r.vault, Params{Owner: owner, StakeScale: testScale})
	require.NoError(t, err)
	bad := bets
	bad[0].MarketID = id + 99
	require.Error(t, restored.Restore(markets, bad, 0, nil))

	require.Error(t, r.eng.Restore(markets, nil, 0, nil), "restore into a live engine is refused")
}

// TestStateMachineTotality drives every lifecycle operation against a
// fresh market in every status. Each pair must either succeed or fail
// with its named reason, and a rejected call must not move the machine.
func TestStateMachineTotality(t *testing.T) {
	r := newTestRig(t)

	statuses := []domain.MarketStatus{
		domain.MarketStatusOpen,
		domain.MarketStatusClosed,
		domain.MarketStatusResolved,
		domain.MarketStatusCancelled,
	}
	mkInStatus := func(status domain.MarketStatus) uint64 {
		id := r.openMarket(time.Hour, 2*time.Hour)
		switch status {
		case domain.MarketStatusClosed:
			_, err := r.eng.CloseMarket(r.ctx, oracle, id)
			require.NoError(t, err)
		case domain.MarketStatusResolved:
			r.toResolved(id, true)
		case domain.MarketStatusCancelled:
			_, err := r.eng.CancelMarket(r.ctx, oracle, id)
			require.NoError(t, err)
		}
		return id
	}

	expect := map[domain.MarketStatus]map[string]error{
		domain.MarketStatusOpen: {
			"close":      nil,
			"setOutcome": domain.ErrMarketNotClosed,
			"cancel":     nil,
			"placeBet":   nil,
		},
		domain.MarketStatusClosed: {
			"close":      domain.ErrMarketNotOpen,
			"setOutcome": nil,
			"cancel":     nil,
			"placeBet":   domain.ErrMarketNotOpen,
		},
		domain.MarketStatusResolved: {
			"close":      domain.ErrMarketNotOpen,
			"setOutcome": domain.ErrAlreadyResolved,
			"cancel":     domain.ErrCannotCancelResolved,
			"placeBet":   domain.ErrMarketNotOpen,
		},
		domain.MarketStatusCancelled: {
			"close":      domain.ErrMarketNotOpen,
			"setOutcome": domain.ErrMarketNotClosed,
			"cancel":     domain.ErrCannotCancelResolved,
			"placeBet":   domain.ErrMarketNotOpen,
		},
	}

	ops := []string{"close", "setOutcome", "cancel", "placeBet"}
	for _, status := range statuses {
		for _, op := range ops {
			t.Run(string(status)+"/"+op, func(t *testing.T) {
				id := mkInStatus(status)
				want := expect[status][op]

				var err error
				switch op {
				case "close":
					_, err = r.eng.CloseMarket(r.ctx, oracle, id)
				case "setOutcome":
					m, gerr := r.eng.GetMarketInfo(id)
					require.NoError(t, gerr)
					if r.clock.Now().Before(m.ResolutionTime) {
						r.clock.Set(m.ResolutionTime)
					}
					ct, proof, eerr := r.enc.Encrypt(r.ctx, fhe.KindBool, 1)
					require.NoError(t, eerr)
					_, err = r.eng.SetOutcome(r.ctx, oracle, id, ct, proof)
				case "cancel":
					_, err = r.eng.CancelMarket(r.ctx, oracle, id)
				case "placeBet":
					err = r.stake(alice, id, 1, true)
				}

				if want == nil {
					require.NoError(t, err)
					return
				}
				require.ErrorIs(t, err, want)
				after, gerr := r.eng.GetMarketInfo(id)
				require.NoError(t, gerr)
				assert.Equal(t, status, after.Status, "rejected call must not move the machine")
			})
		}
	}

	_, err := r.eng.GetMarketInfo(9999)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPoolOverflowGuard(t *testing.T) {
	r := newTestRig(t)
	id := r.openMarket(time.Hour, time.Hour)

	restored, err := New(r.enc, r.vault, Params{Owner: owner, Oracle: oracle, StakeScale: testScale, Now: r.clock.Now})
	require.NoError(t, err)
	require.NoError(t, restored.Restore(r.eng.Markets(), nil, math.MaxUint64-1, nil))

	before := r.vault.MustBalance(alice)
	amtCT, amtProof := r.encryptAmount(2)
	sideCT, sideProof := r.encryptSide(true)
	_, err = restored.PlaceBet(r.ctx, alice, id, amtCT, amtProof, sideCT, sideProof, 2*testScale)
	require.ErrorIs(t, err, domain.ErrArithmeticOverflow)
	assert.Equal(t, before, r.vault.MustBalance(alice), "no funds move when the pool would overflow")
}
