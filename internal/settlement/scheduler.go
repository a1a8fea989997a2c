package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultRunTimeout bounds one scheduled settlement run.
const DefaultRunTimeout = 5 * time.Minute

// Scheduler runs a Runner on a cron schedule (six fields, seconds first)
// and optionally writes one CSV report per settled sale.
type Scheduler struct {
	cron      *cron.Cron
	runner    *Runner
	reportDir string
	timeout   time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewScheduler registers runner on spec. Reports go to reportDir unless it
// is empty.
func NewScheduler(ctx context.Context, runner *Runner, spec, reportDir string, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		cron:      cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cronLogger{logger}))),
		runner:    runner,
		reportDir: reportDir,
		timeout:   DefaultRunTimeout,
		logger:    logger,
		now:       time.Now,
	}
	if _, err := s.cron.AddFunc(spec, func() {
		// keep each run bounded
		rctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		if _, err := s.RunNow(rctx); err != nil {
			s.logger.Error("scheduled settlement failed", "error", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("register settlement schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("settlement scheduler started")
}

// Stop stops the scheduler and waits for a running settlement to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("settlement scheduler stopped")
}

// RunNow performs one settlement run immediately and returns the paths of
// the reports written.
func (s *Scheduler) RunNow(ctx context.Context) ([]string, error) {
	reports, err := s.runner.Run(ctx)
	if err != nil {
		return nil, err
	}
	paths, err := WriteReports(s.reportDir, reports, s.now())
	for i, path := range paths {
		s.logger.Info("settlement report written", "sale_id", reports[i].SaleID, "path", path)
	}
	return paths, err
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Info(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}
