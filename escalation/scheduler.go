package escalation

import (
	"context"
	"errors"
	"time"

	"civicsync-dispatch/metrics"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// LockKey guards the sweep so that only one replica runs it at a time.
const LockKey = "escalation:sweep:lock"

// releaseLock deletes the lock only if this holder still owns it.
var releaseLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Scheduler runs the sweep on a fixed interval.
type Scheduler struct {
	sweeper  *Sweeper
	redis    *redis.Client
	logger   *zap.Logger
	interval time.Duration
	lockTTL  time.Duration
	now      func() time.Time
}

// NewScheduler creates a scheduler. With a nil redis client no lock is taken.
func NewScheduler(sweeper *Sweeper, client *redis.Client, logger *zap.Logger, interval time.Duration) *Scheduler {
	ttl := interval / 2
	if ttl < time.Minute {
		ttl = time.Minute
	}
	return &Scheduler{
		sweeper:  sweeper,
		redis:    client,
		logger:   logger,
		interval: interval,
		lockTTL:  ttl,
		now:      time.Now,
	}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("escalation scheduler started", zap.Duration("interval", s.interval))
	s.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("escalation scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single locked sweep. ran is false when another holder
// had the lock.
func (s *Scheduler) RunOnce(ctx context.Context) (report Report, ran bool, err error) {
	token := uuid.NewString()
	if s.redis != nil {
		ok, err := s.redis.SetNX(ctx, LockKey, token, s.lockTTL).Result()
		if err != nil {
			metrics.RecordSweep("failed")
			s.logger.Error("escalation lock failed", zap.Error(err))
			return Report{}, false, err
		}
		if !ok {
			metrics.RecordSweep("skipped")
			s.logger.Debug("escalation sweep already running elsewhere")
			return Report{}, false, nil
		}
		defer func() {
			if err := releaseLock.Run(context.WithoutCancel(ctx), s.redis, []string{LockKey}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
				s.logger.Warn("escalation lock release failed", zap.Error(err))
			}
		}()
	}

	start := s.now()
	report, err = s.sweeper.Sweep(ctx, start)
	for _, c := range report.Changes {
		metrics.RecordEscalation(string(c.From), string(c.To))
	}

	fields := []zap.Field{
		zap.Int("scanned", report.Scanned),
		zap.Int("escalated", report.Escalated),
		zap.Int("skipped", report.Skipped),
		zap.Duration("took", s.now().Sub(start)),
	}
	switch {
	case err != nil && report.Scanned == 0:
		metrics.RecordSweep("failed")
		s.logger.Error("escalation sweep failed", append(fields, zap.Error(err))...)
	case err != nil:
		metrics.RecordSweep("partial")
		s.logger.Warn("escalation sweep finished with errors", append(fields, zap.Error(err))...)
	default:
		metrics.RecordSweep("ok")
		s.logger.Info("escalation sweep finished", fields...)
	}
	return report, true, err
}
