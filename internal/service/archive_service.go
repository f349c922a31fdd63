package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/raulk/clock"

	"github.com/alanyoungcy/marketengine/internal/domain"
	"github.com/alanyoungcy/marketengine/internal/metrics"
)

// archiveLockKey keeps replicas sharing Postgres and S3 from archiving the
// same rows at once.
const archiveLockKey = "market:archive"

// ArchiveService moves closed records older than the retention window to
// cold storage, either once or on a cron schedule.
type ArchiveService struct {
	archiver      domain.Archiver
	retentionDays int
	clock         clock.Clock
	locks         domain.LockManager
	lockTTL       time.Duration
	metrics       *metrics.Metrics
	logger        *slog.Logger
}

// NewArchiveService creates an ArchiveService. A nil clock means wall time.
func NewArchiveService(archiver domain.Archiver, retentionDays int, clk clock.Clock, logger *slog.Logger) *ArchiveService {
	if clk == nil {
		clk = clock.New()
	}
	return &ArchiveService{
		archiver:      archiver,
		retentionDays: retentionDays,
		clock:         clk,
		logger:        logger,
	}
}

// WithMetrics makes the service count archived records on m.
func (s *ArchiveService) WithMetrics(m *metrics.Metrics) *ArchiveService {
	s.metrics = m
	return s
}

// WithLocks makes each run hold a lock shared with other replicas. A run
// that finds the lock taken is skipped.
func (s *ArchiveService) WithLocks(locks domain.LockManager, ttl time.Duration) *ArchiveService {
	s.locks = locks
	s.lockTTL = ttl
	return s
}

// Run archives every kind once. A failing kind does not stop the others;
// the joined error names each failure.
func (s *ArchiveService) Run(ctx context.Context) ([]domain.ArchiveResult, error) {
	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, archiveLockKey, s.lockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			s.logger.InfoContext(ctx, "archive run skipped: another replica is archiving")
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("archive_service: lock: %w", err)
		}
		defer unlock()
	}

	cutoff := s.clock.Now().UTC().Add(-time.Duration(s.retentionDays) * 24 * time.Hour)
	s.logger.InfoContext(ctx, "archive run starting",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", s.retentionDays),
	)

	steps := []func(context.Context, time.Time) (domain.ArchiveResult, error){
		s.archiver.ArchiveListings,
		s.archiver.ArchiveAuctions,
		s.archiver.ArchiveOffers,
		s.archiver.ArchiveAudit,
	}

	var (
		results []domain.ArchiveResult
		errs    []error
	)
	for _, step := range steps {
		res, err := step(ctx, cutoff)
		if err != nil {
			errs = append(errs, err)
		}
		s.metrics.Archived(res.Kind, res.Count)
		if res.Count > 0 || err == nil {
			results = append(results, res)
		}
		s.logger.InfoContext(ctx, "archived",
			slog.String("kind", res.Kind),
			slog.Int64("count", res.Count),
			slog.Int("objects", len(res.Paths)),
		)
	}

	if err := errors.Join(errs...); err != nil {
		return results, fmt.Errorf("archive_service: %w", err)
	}
	return results, nil
}

// RunCron runs the archiver on a cron schedule until ctx is cancelled.
// Expressions use the five-field form "minute hour day-of-month month
// day-of-week" with "*" or comma-separated values per field.
func (s *ArchiveService) RunCron(ctx context.Context, expr string) error {
	sched, err := parseCron(expr)
	if err != nil {
		return fmt.Errorf("archive_service: cron %q: %w", expr, err)
	}
	s.logger.InfoContext(ctx, "archive cron started", slog.String("cron", expr))

	for {
		next, err := sched.next(s.clock.Now().UTC())
		if err != nil {
			return fmt.Errorf("archive_service: cron %q: %w", expr, err)
		}
		wait := next.Sub(s.clock.Now())
		s.logger.DebugContext(ctx, "archive cron waiting",
			slog.Time("next_run", next),
			slog.Duration("wait", wait),
		)

		timer := s.clock.Timer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			if _, err := s.Run(ctx); err != nil {
				s.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}

type cronField struct {
	any    bool
	values []int
}

func (f cronField) matches(v int) bool {
	if f.any {
		return true
	}
	for _, x := range f.values {
		if x == v {
			return true
		}
	}
	return false
}

type cronSchedule struct {
	minute, hour, dom, month, dow cronField
}

var cronBounds = [5][2]int{{0, 59}, {0, 23}, {1, 31}, {1, 12}, {0, 6}}

func parseCron(expr string) (cronSchedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return cronSchedule{}, fmt.Errorf("want 5 fields, got %d", len(fields))
	}
	var parsed [5]cronField
	for i, raw := range fields {
		if raw == "*" {
			parsed[i] = cronField{any: true}
			continue
		}
		for _, p := range strings.Split(raw, ",") {
			v, err := strconv.Atoi(strings.TrimSpace(p))
			if err != nil {
				return cronSchedule{}, fmt.Errorf("field %d: %w", i+1, err)
			}
			if v < cronBounds[i][0] || v > cronBounds[i][1] {
				return cronSchedule{}, fmt.Errorf("field %d: %d out of range", i+1, v)
			}
			parsed[i].values = append(parsed[i].values, v)
		}
	}
	return cronSchedule{parsed[0], parsed[1], parsed[2], parsed[3], parsed[4]}, nil
}

// next returns the first minute strictly after t that matches, searching
// at most a year ahead.
func (c cronSchedule) next(t time.Time) (time.Time, error) {
	candidate := t.Truncate(time.Minute).Add(time.Minute)
	limit := t.Add(366 * 24 * time.Hour)
	for candidate.Before(limit) {
		if c.minute.matches(candidate.Minute()) &&
			c.hour.matches(candidate.Hour()) &&
			c.dom.matches(candidate.Day()) &&
			c.month.matches(int(candidate.Month())) &&
			c.dow.matches(int(candidate.Weekday())) {
			return candidate, nil
		}
		candidate = candidate.Add(time.Minute)
	}
	return time.Time{}, errors.New("no matching time within a year")
}
