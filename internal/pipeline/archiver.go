// Package pipeline runs the ledger's background maintenance loops.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/veilmarket/internal/domain"
)

// archiveLockTTL bounds how long one instance may hold the archive pass.
const archiveLockTTL = 10 * time.Minute

// Archiver periodically moves settled markets into cold storage. A
// distributed lock keeps concurrent instances from bundling the same
// markets twice.
type Archiver struct {
	archiver      domain.SettlementArchiver
	locks         domain.LockManager
	retentionDays int
	interval      time.Duration
	schedule      string
	logger        *slog.Logger
}

// NewArchiver creates an Archiver. When schedule is a non-empty 5-field
// cron expression it replaces the fixed interval.
func NewArchiver(
	archiver domain.SettlementArchiver,
	locks domain.LockManager,
	retentionDays int,
	interval time.Duration,
	schedule string,
	logger *slog.Logger,
) *Archiver {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Archiver{
		archiver:      archiver,
		locks:         locks,
		retentionDays: retentionDays,
		interval:      interval,
		schedule:      schedule,
		logger:        logger.With(slog.String("component", "archiver")),
	}
}

// Run executes a single archive pass. Markets that reached a terminal
// state more than retentionDays ago are bundled to cold storage.
func (a *Archiver) Run(ctx context.Context) error {
	unlock, err := a.locks.Acquire(ctx, "archive:settlements", archiveLockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			a.logger.Debug("archive pass held by another instance, skipping")
			return nil
		}
		return fmt.Errorf("archive lock: %w", err)
	}
	defer unlock()

	cutoff := time.Now().UTC().Add(-time.Duration(a.retentionDays) * 24 * time.Hour)
	a.logger.Info("starting archive pass",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	archived, err := a.archiver.ArchiveSettled(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiving settled markets before %v: %w", cutoff, err)
	}

	a.logger.Info("archive pass complete", slog.Int64("markets_archived", archived))
	return nil
}

// RunLoop runs archive passes until the context is cancelled, on the cron
// schedule when one is configured and on the fixed interval otherwise. A
// failed pass is logged and retried at the next trigger.
func (a *Archiver) RunLoop(ctx context.Context) error {
	if a.schedule != "" {
		return a.runCron(ctx)
	}
	return a.runInterval(ctx)
}

// runInterval runs one pass immediately so restarts catch up, then one
// per interval.
func (a *Archiver) runInterval(ctx context.Context) error {
	a.logger.Info("archiver started", slog.Duration("interval", a.interval))

	if err := a.Run(ctx); err != nil {
		a.logger.Error("archive pass failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("archiver stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := a.Run(ctx); err != nil {
				a.logger.Error("archive pass failed", slog.String("error", err.Error()))
			}
		}
	}
}

// runCron waits for each cron trigger and runs a pass.
func (a *Archiver) runCron(ctx context.Context) error {
	a.logger.Info("archiver started", slog.String("schedule", a.schedule))

	for {
		next, err := nextCronTime(a.schedule, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("parsing cron expression %q: %w", a.schedule, err)
		}

		waitDuration := time.Until(next)
		a.logger.Info("archiver waiting for next trigger",
			slog.Time("next_run", next),
			slog.Duration("wait", waitDuration),
		)

		timer := time.NewTimer(waitDuration)
		select {
		case <-ctx.Done():
			timer.Stop()
			a.logger.Info("archiver stopped")
			return ctx.Err()
		case <-timer.C:
			if err := a.Run(ctx); err != nil {
				a.logger.Error("archive pass failed", slog.String("error", err.Error()))
			}
		}
	}
}

// cronField represents a parsed cron field that can match against a value.
type cronField struct {
	wildcard bool
	values   []int
}

// matches returns true if the given value matches this cron field.
func (f cronField) matches(val int) bool {
	if f.wildcard {
		return true
	}
	for _, v := range f.values {
		if v == val {
			return true
		}
	}
	return false
}

// parseCronField parses a single cron field (e.g. "0", "*", "1,15").
func parseCronField(field string) (cronField, error) {
	if field == "*" {
		return cronField{wildcard: true}, nil
	}

	parts := strings.Split(field, ",")
	values := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		v, err := strconv.Atoi(p)
		if err != nil {
			return cronField{}, fmt.Errorf("invalid cron field value %q: %w", p, err)
		}
		values = append(values, v)
	}
	return cronField{values: values}, nil
}

// parsedCron holds five parsed cron fields.
type parsedCron struct {
	minute     cronField
	hour       cronField
	dayOfMonth cronField
	month      cronField
	dayOfWeek  cronField
}

// matchesTime returns true if the given time matches all five cron fields.
func (c parsedCron) matchesTime(t time.Time) bool {
	return c.minute.matches(t.Minute()) &&
		c.hour.matches(t.Hour()) &&
		c.dayOfMonth.matches(t.Day()) &&
		c.month.matches(int(t.Month())) &&
		c.dayOfWeek.matches(int(t.Weekday()))
}

// parseCron parses a 5-field cron expression ("minute hour day-of-month
// month day-of-week") into a parsedCron struct.
func parseCron(expr string) (parsedCron, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return parsedCron{}, fmt.Errorf("cron expression must have 5 fields, got %d", len(fields))
	}

	minute, err := parseCronField(fields[0])
	if err != nil {
		return parsedCron{}, fmt.Errorf("parsing minute field: %w", err)
	}
	hour, err := parseCronField(fields[1])
	if err != nil {
		return parsedCron{}, fmt.Errorf("parsing hour field: %w", err)
	}
	dayOfMonth, err := parseCronField(fields[2])
	if err != nil {
		return parsedCron{}, fmt.Errorf("parsing day-of-month field: %w", err)
	}
	month, err := parseCronField(fields[3])
	if err != nil {
		return parsedCron{}, fmt.Errorf("parsing month field: %w", err)
	}
	dayOfWeek, err := parseCronField(fields[4])
	if err != nil {
		return parsedCron{}, fmt.Errorf("parsing day-of-week field: %w", err)
	}

	return parsedCron{
		minute:     minute,
		hour:       hour,
		dayOfMonth: dayOfMonth,
		month:      month,
		dayOfWeek:  dayOfWeek,
	}, nil
}

// nextCronTime calculates the next time after 'after' that matches the
// given cron expression. It searches minute-by-minute up to one year
// ahead.
func nextCronTime(cronExpr string, after time.Time) (time.Time, error) {
	cron, err := parseCron(cronExpr)
	if err != nil {
		return time.Time{}, err
	}

	// Start from the next minute boundary.
	candidate := after.Truncate(time.Minute).Add(time.Minute)

	// Search up to one year ahead to avoid infinite loops.
	limit := after.Add(366 * 24 * time.Hour)

	for candidate.Before(limit) {
		if cron.matchesTime(candidate) {
			return candidate, nil
		}
		candidate = candidate.Add(time.Minute)
	}

	return time.Time{}, fmt.Errorf("no matching cron time found within one year for %q", cronExpr)
}
