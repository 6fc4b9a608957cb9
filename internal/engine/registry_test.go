package engine

import (
	"testing"
	"time"

	"github.com/alanyoungcy/veilmarket/internal/domain"
	"github.com/alanyoungcy/veilmarket/internal/fhe"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateMarketValidation(t *testing.T) {
	r := newTestRig(t)
	now := r.clock.Now()

	_, err := r.eng.CreateMarket(r.ctx, mallory, "q", now.Add(time.Hour), now.Add(2*time.Hour))
	require.ErrorIs(t, err, domain.ErrNotAuthority)

	_, err = r.eng.CreateMarket(r.ctx, oracle, "q", now.Add(-time.Minute), now.Add(time.Hour))
	require.ErrorIs(t, err, domain.ErrInvalidScheduling)

	_, err = r.eng.CreateMarket(r.ctx, oracle, "q", now, now.Add(time.Hour))
	require.ErrorIs(t, err, domain.ErrInvalidScheduling, "betting cutoff must lie in the future")

	_, err = r.eng.CreateMarket(r.ctx, oracle, "q", now.Add(2*time.Hour), now.Add(time.Hour))
	require.ErrorIs(t, err, domain.ErrInvalidScheduling, "resolution must follow the cutoff")

	m1, err := r.eng.CreateMarket(r.ctx, oracle, "first", now.Add(time.Hour), now.Add(2*time.Hour))
	require.NoError(t, err)
	m2, err := r.eng.CreateMarket(r.ctx, owner, "second", now.Add(time.Hour), now.Add(2*time.Hour))
	require.NoError(t, err, "the owner passes every oracle-gated check")

	assert.Equal(t, m1.ID+1, m2.ID)
	assert.Equal(t, domain.MarketStatusOpen, m1.Status)
	assert.False(t, m1.TotalYes.IsZero(), "volume accumulators exist from creation")
	assert.False(t, m1.TotalNo.IsZero())
	assert.True(t, m1.Outcome.IsZero(), "no outcome before resolution")
	assert.Equal(t, oracle, m1.Authority)
}

func TestCloseMarket(t *testing.T) {
	r := newTestRig(t)
	id := r.openMarket(time.Hour, time.Hour)

	_, err := r.eng.CloseMarket(r.ctx, mallory, id)
	require.ErrorIs(t, err, domain.ErrTooEarly, "only the authority may close before the cutoff")

	m, err := r.eng.GetMarketInfo(id)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusOpen, m.Status)

	r.clock.Set(m.EndTime)
	m, err = r.eng.CloseMarket(r.ctx, mallory, id)
	require.NoError(t, err, "anyone may close once the cutoff passes")
	assert.Equal(t, domain.MarketStatusClosed, m.Status)
	require.NotNil(t, m.ClosedAt)

	_, err = r.eng.CloseMarket(r.ctx, oracle, id)
	require.ErrorIs(t, err, domain.ErrMarketNotOpen)

	early := r.openMarket(time.Hour, time.Hour)
	m, err = r.eng.CloseMarket(r.ctx, oracle, early)
	require.NoError(t, err, "the authority may close at any time")
	assert.Equal(t, domain.MarketStatusClosed, m.Status)

	_, err = r.eng.CloseMarket(r.ctx, oracle, 404)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSetOutcome(t *testing.T) {
	r := newTestRig(t)
	id := r.openMarket(time.Hour, time.Hour)

	ct, proof, err := r.enc.Encrypt(r.ctx, fhe.KindBool, 1)
	require.NoError(t, err)

	_, err = r.eng.SetOutcome(r.ctx, oracle, id, ct, proof)
	require.ErrorIs(t, err, domain.ErrMarketNotClosed)

	_, err = r.eng.CloseMarket(r.ctx, oracle, id)
	require.NoError(t, err)

	_, err = r.eng.SetOutcome(r.ctx, mallory, id, ct, proof)
	require.ErrorIs(t, err, domain.ErrNotAuthority)

	_, err = r.eng.SetOutcome(r.ctx, oracle, id, ct, proof)
	require.ErrorIs(t, err, domain.ErrResolutionTimeNotReached)

	m, err := r.eng.GetMarketInfo(id)
	require.NoError(t, err)
	r.clock.Set(m.ResolutionTime)

	_, err = r.eng.SetOutcome(r.ctx, oracle, id, ct, []byte("junk"))
	require.ErrorIs(t, err, fhe.ErrInvalidAttestation)
	m, err = r.eng.GetMarketInfo(id)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusClosed, m.Status, "a bad attestation leaves the market closed")

	m, err = r.eng.SetOutcome(r.ctx, oracle, id, ct, proof)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusResolved, m.Status)
	assert.False(t, m.Outcome.IsZero())
	require.NotNil(t, m.ResolvedAt)

	_, err = r.eng.SetOutcome(r.ctx, oracle, id, ct, proof)
	require.ErrorIs(t, err, domain.ErrAlreadyResolved)
}

func TestCancelMarket(t *testing.T) {
	r := newTestRig(t)

	open := r.openMarket(time.Hour, time.Hour)
	_, err := r.eng.CancelMarket(r.ctx, mallory, open)
	require.ErrorIs(t, err, domain.ErrNotAuthority)

	m, err := r.eng.CancelMarket(r.ctx, oracle, open)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusCancelled, m.Status)
	require.NotNil(t, m.CancelledAt)

	_, err = r.eng.CancelMarket(r.ctx, oracle, open)
	require.ErrorIs(t, err, domain.ErrCannotCancelResolved)

	closed := r.openMarket(time.Hour, time.Hour)
	_, err = r.eng.CloseMarket(r.ctx, oracle, closed)
	require.NoError(t, err)
	_, err = r.eng.CancelMarket(r.ctx, owner, closed)
	require.NoError(t, err, "closed markets may still be cancelled")

	resolved := r.openMarket(time.Hour, time.Hour)
	r.toResolved(resolved, true)
	_, err = r.eng.CancelMarket(r.ctx, oracle, resolved)
	require.ErrorIs(t, err, domain.ErrCannotCancelResolved)
}

func TestSetOracle(t *testing.T) {
	r := newTestRig(t)

	_, err := r.eng.SetOracle(r.ctx, oracle, carol)
	require.ErrorIs(t, err, domain.ErrNotOwner, "the oracle cannot reassign itself")

	_, err = r.eng.SetOracle(r.ctx, owner, common.Address{})
	require.Error(t, err)

	prev, err := r.eng.SetOracle(r.ctx, owner, carol)
	require.NoError(t, err)
	assert.Equal(t, oracle, prev)
	assert.Equal(t, carol, r.eng.OracleAddress())

	now := r.clock.Now()
	_, err = r.eng.CreateMarket(r.ctx, oracle, "q", now.Add(time.Hour), now.Add(2*time.Hour))
	require.ErrorIs(t, err, domain.ErrNotAuthority, "the previous oracle loses its role")

	_, err = r.eng.CreateMarket(r.ctx, carol, "q", now.Add(time.Hour), now.Add(2*time.Hour))
	require.NoError(t, err)

	_, err = r.eng.CreateMarket(r.ctx, owner, "q", now.Add(time.Hour), now.Add(2*time.Hour))
	require.NoError(t, err, "the owner keeps its powers across reassignment")
}
