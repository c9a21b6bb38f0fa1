package digest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseSchedule parses a 5-field cron expression.
func ParseSchedule(expr string) (cron.Schedule, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("digest: schedule %q: %w", expr, err)
	}
	return sched, nil
}

// Interval returns the gap between two consecutive fire times of sched
// after from.
func Interval(sched cron.Schedule, from time.Time) time.Duration {
	next := sched.Next(from)
	return sched.Next(next).Sub(next)
}

// Scheduler fires a digest on a cron schedule. Each digest covers the
// period since the previous scheduled fire.
type Scheduler struct {
	schedule   cron.Schedule
	source     Source
	publishers []Publisher
	limit      int
	logger     *zap.Logger
	now        func() time.Time
}

// SchedulerOpts holds parameters for creating a Scheduler.
type SchedulerOpts struct {
	Schedule   string // 5-field cron expression
	Source     Source
	Publishers []Publisher
	Limit      int         // leaderboard rows; defaults to 5
	Logger     *zap.Logger // defaults to a no-op logger
}

// NewScheduler validates opts and returns a Scheduler.
func NewScheduler(opts SchedulerOpts) (*Scheduler, error) {
	if opts.Source == nil {
		return nil, fmt.Errorf("digest: source is required")
	}
	if len(opts.Publishers) == 0 {
		return nil, fmt.Errorf("digest: at least one publisher is required")
	}
	sched, err := ParseSchedule(opts.Schedule)
	if err != nil {
		return nil, err
	}
	if opts.Limit <= 0 {
		opts.Limit = 5
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Scheduler{
		schedule:   sched,
		source:     opts.Source,
		publishers: opts.Publishers,
		limit:      opts.Limit,
		logger:     opts.Logger,
		now:        time.Now,
	}, nil
}

// Run blocks until ctx is cancelled, firing a digest at each scheduled time.
func (s *Scheduler) Run(ctx context.Context) {
	timer := time.NewTimer(s.untilNext())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if err := s.Fire(ctx); err != nil {
				s.logger.Warn("digest failed", zap.Error(err))
			}
			timer.Reset(s.untilNext())
		}
	}
}

func (s *Scheduler) untilNext() time.Duration {
	now := s.now()
	d := s.schedule.Next(now).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Fire builds the digest for the period ending now and publishes it to
// every publisher. An empty period publishes nothing. Publisher failures
// are joined; one failing platform does not stop the others.
func (s *Scheduler) Fire(ctx context.Context) error {
	until := s.now()
	since := until.Add(-Interval(s.schedule, until))

	report, err := Build(ctx, s.source, since, until, s.limit)
	if err != nil {
		return err
	}
	if report == nil {
		s.logger.Debug("digest skipped, no runs in period", zap.Time("since", since))
		return nil
	}

	msg := Format(report)
	var errs []error
	for _, p := range s.publishers {
		if err := p.Publish(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("digest: %s: %w", p.Name(), err))
			continue
		}
		s.logger.Info("digest published",
			zap.String("platform", p.Name()),
			zap.Int("runs", report.Runs),
		)
	}
	return errors.Join(errs...)
}
