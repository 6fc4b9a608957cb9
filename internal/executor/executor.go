// Package executor completes reveals without manual oracle involvement.
// When a market's outcome or volume handles have been marked publicly
// revealable, the executor obtains the plaintexts from the coprocessor
// and submits the attested values back through the reveal service as the
// oracle authority.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/veilmarket/internal/domain"
	"github.com/alanyoungcy/veilmarket/internal/fhe"
)

// RevealVerifier is the interface through which the executor submits
// decrypted plaintexts. It is typically implemented by the service layer.
type RevealVerifier interface {
	VerifyOutcome(ctx context.Context, caller common.Address, id uint64, outcome bool, proof []byte) (domain.Market, error)
	VerifyVolumes(ctx context.Context, caller common.Address, id uint64, totalYes, totalNo uint64, proof []byte) (domain.Market, error)
}

// MarketSource exposes the ledger state the executor scans for pending
// reveals, and the oracle address it acts as.
type MarketSource interface {
	Markets() []domain.Market
	OracleAddress() common.Address
}

// lockTTL bounds how long one instance may hold a reveal job before
// another may take over.
const lockTTL = 30 * time.Second

const (
	jobOutcome = "outcome"
	jobVolumes = "volumes"
)

// revealJob is one pending decryption to finish.
type revealJob struct {
	kind   string
	market domain.Market
}

func (j revealJob) key() string {
	return jobKey(j.kind, j.market.ID)
}

func jobKey(kind string, marketID uint64) string {
	return kind + ":" + strconv.FormatUint(marketID, 10)
}

// Config tunes the executor's retry and scan behaviour.
type Config struct {
	// DedupTTL is how long a failed reveal attempt suppresses retries.
	// Wake messages on the subscribed channels clear it early.
	DedupTTL time.Duration
	// PollInterval is the period of the catch-up sweep that finds work
	// missed by pub/sub.
	PollInterval time.Duration
	// WakeChannels are the signal bus channels whose messages trigger an
	// immediate sweep.
	WakeChannels []string
}

// Executor watches for markets whose reveal has been requested but not
// verified, decrypts their handles and submits the plaintexts. Wake
// messages give low latency; the periodic sweep guarantees progress when
// pub/sub loses a message or the process restarts mid-reveal.
type Executor struct {
	bus     domain.SignalBus
	markets MarketSource
	reveals RevealVerifier
	dec     fhe.Decrypter
	locks   domain.LockManager
	dedup   *Dedup
	logger  *slog.Logger

	pollInterval    time.Duration
	cleanupInterval time.Duration
	wakeChannels    []string
}

// wakeSignal is one message received on a wake channel.
type wakeSignal struct {
	channel string
	payload []byte
}

// NewExecutor creates an Executor that drives reveals through reveals,
// decrypting via dec and coordinating across instances through locks.
func NewExecutor(
	bus domain.SignalBus,
	markets MarketSource,
	reveals RevealVerifier,
	dec fhe.Decrypter,
	locks domain.LockManager,
	cfg Config,
	logger *slog.Logger,
) *Executor {
	dedupTTL := cfg.DedupTTL
	if dedupTTL <= 0 {
		dedupTTL = 10 * time.Minute
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}

	return &Executor{
		bus:             bus,
		markets:         markets,
		reveals:         reveals,
		dec:             dec,
		locks:           locks,
		dedup:           NewDedup(dedupTTL),
		logger:          logger.With(slog.String("component", "executor")),
		pollInterval:    pollInterval,
		cleanupInterval: 30 * time.Second,
		wakeChannels:    cfg.WakeChannels,
	}
}

// Run starts the executor's main loop. It sweeps once immediately to pick
// up reveals left pending across a restart, then works on wake messages
// and the poll ticker until the context is cancelled.
func (e *Executor) Run(ctx context.Context) error {
	e.logger.Info("executor started",
		slog.Duration("poll_interval", e.pollInterval),
	)
	defer e.logger.Info("executor stopped")

	wake := make(chan wakeSignal, 16)
	for _, channel := range e.wakeChannels {
		msgs, err := e.bus.Subscribe(ctx, channel)
		if err != nil {
			e.logger.Warn("wake channel subscribe failed, relying on polling",
				slog.String("channel", channel),
				slog.String("error", err.Error()),
			)
			continue
		}
		go forwardWake(ctx, channel, msgs, wake)
	}

	pollTicker := time.NewTicker(e.pollInterval)
	defer pollTicker.Stop()
	cleanupTicker := time.NewTicker(e.cleanupInterval)
	defer cleanupTicker.Stop()

	e.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case sig := <-wake:
			e.onWake(ctx, sig)

		case <-pollTicker.C:
			e.sweep(ctx)

		case <-cleanupTicker.C:
			e.dedup.Cleanup()
		}
	}
}

// forwardWake copies bus messages into the shared wake channel. A full
// buffer drops the message; the poll sweep picks the work up instead.
func forwardWake(ctx context.Context, channel string, msgs <-chan []byte, wake chan<- wakeSignal) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-msgs:
			if !ok {
				return
			}
			select {
			case wake <- wakeSignal{channel: channel, payload: payload}:
			default:
			}
		}
	}
}

// onWake clears the retry backoff for whatever the message announces,
// then sweeps. Ledger events name the market; coprocessor completions do
// not, so those clear every pending job.
func (e *Executor) onWake(ctx context.Context, sig wakeSignal) {
	var ev domain.Event
	if err := json.Unmarshal(sig.payload, &ev); err == nil {
		switch ev.Type {
		case domain.EventDecryptionRequested:
			e.dedup.Forget(jobKey(jobOutcome, ev.MarketID))
		case domain.EventVolumeDecryptionRequested:
			e.dedup.Forget(jobKey(jobVolumes, ev.MarketID))
		default:
			for _, job := range e.pendingJobs() {
				e.dedup.Forget(job.key())
			}
		}
	}

	e.sweep(ctx)
}

// sweep processes every pending reveal job once.
func (e *Executor) sweep(ctx context.Context) {
	for _, job := range e.pendingJobs() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		e.process(ctx, job)
	}
}

// pendingJobs lists the reveals that have been requested but not verified.
func (e *Executor) pendingJobs() []revealJob {
	var jobs []revealJob
	for _, m := range e.markets.Markets() {
		if m.Status != domain.MarketStatusResolved {
			continue
		}
		if m.OutcomeRevealRequested && !m.OutcomeDecrypted() {
			jobs = append(jobs, revealJob{kind: jobOutcome, market: m})
		}
		if m.VolumeRevealRequested && !m.VolumesDecrypted() {
			jobs = append(jobs, revealJob{kind: jobVolumes, market: m})
		}
	}
	return jobs
}

// process attempts one reveal job end to end: decrypt the handles, then
// submit the attested plaintexts as the oracle authority.
func (e *Executor) process(ctx context.Context, job revealJob) {
	log := e.logger.With(
		slog.String("job", job.kind),
		slog.Uint64("market_id", job.market.ID),
	)

	// 1. Retry backoff.
	if e.dedup.IsDuplicate(job.key()) {
		log.Debug("reveal attempt within backoff window, skipping")
		return
	}

	// 2. Cross-instance coordination.
	unlock, err := e.locks.Acquire(ctx, "reveal:"+job.key(), lockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			log.Debug("reveal held by another instance, skipping")
		} else {
			log.Warn("reveal lock acquire failed",
				slog.String("error", err.Error()),
			)
		}
		// A lock miss is not an attempt; let the next trigger retry at once.
		e.dedup.Forget(job.key())
		return
	}
	defer unlock()

	// 3. Decrypt and verify.
	var verr error
	switch job.kind {
	case jobOutcome:
		verr = e.revealOutcome(ctx, job.market)
	case jobVolumes:
		verr = e.revealVolumes(ctx, job.market)
	}

	if verr != nil {
		if errors.Is(verr, domain.ErrAlreadyDecrypted) {
			log.Debug("reveal already verified elsewhere")
			return
		}
		log.Warn("reveal attempt failed, will retry after backoff",
			slog.String("error", verr.Error()),
		)
		return
	}

	log.Info("reveal verified")
}

func (e *Executor) revealOutcome(ctx context.Context, m domain.Market) error {
	plaintexts, proof, err := e.dec.Decrypt(ctx, []fhe.Handle{m.Outcome})
	if err != nil {
		return fmt.Errorf("decrypt outcome: %w", err)
	}
	if len(plaintexts) != 1 {
		return fmt.Errorf("decrypt outcome: got %d plaintexts", len(plaintexts))
	}

	outcome := plaintexts[0] != 0
	if _, err := e.reveals.VerifyOutcome(ctx, e.markets.OracleAddress(), m.ID, outcome, proof); err != nil {
		return fmt.Errorf("verify outcome: %w", err)
	}
	return nil
}

func (e *Executor) revealVolumes(ctx context.Context, m domain.Market) error {
	plaintexts, proof, err := e.dec.Decrypt(ctx, []fhe.Handle{m.TotalYes, m.TotalNo})
	if err != nil {
		return fmt.Errorf("decrypt volumes: %w", err)
	}
	if len(plaintexts) != 2 {
		return fmt.Errorf("decrypt volumes: got %d plaintexts", len(plaintexts))
	}

	if _, err := e.reveals.VerifyVolumes(ctx, e.markets.OracleAddress(), m.ID, plaintexts[0], plaintexts[1], proof); err != nil {
		return fmt.Errorf("verify volumes: %w", err)
	}
	return nil
}

// SetDedupTTL replaces the dedup instance with a new one using the given
// TTL. Must be called before Run.
func (e *Executor) SetDedupTTL(ttl time.Duration) {
	e.dedup = NewDedup(ttl)
}

// SetCleanupInterval changes how often the dedup map is garbage-collected.
// Must be called before Run.
func (e *Executor) SetCleanupInterval(d time.Duration) {
	e.cleanupInterval = d
}
