// Package billing drives time-based subscription events: trial ends, period
// renewals and past-due retries.
package billing

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	ierr "homepro/internal/errors"
	"homepro/internal/account"
	"homepro/internal/logger"
	"homepro/internal/metrics"
	"homepro/internal/mutation"
	"homepro/internal/subscription"

	"github.com/robfig/cron/v3"
	"github.com/sourcegraph/conc/pool"
)

const DefaultBatchSize = 500

type DueLister interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]string, error)
}

type Runner interface {
	RunBillingCycle(ctx context.Context, accountID string, now time.Time) (*mutation.BillingResult, error)
}

// Publisher drops cached views of an account after a billing change.
type Publisher interface {
	Publish(ctx context.Context, sessionID string, snap *account.Snapshot)
}

type RunReport struct {
	Due       int            `json:"due"`
	Processed int            `json:"processed"`
	Failed    int            `json:"failed"`
	Outcomes  map[string]int `json:"outcomes"`
	Errors    []string       `json:"errors,omitempty"`
}

type Config struct {
	Schedule    string
	Concurrency int
	BatchSize   int
	Now         func() time.Time
	// Publisher is optional.
	Publisher Publisher
}

type Scheduler struct {
	accounts DueLister
	runner   Runner
	cfg      Config

	cron    *cron.Cron
	running atomic.Bool
}

func NewScheduler(accounts DueLister, runner Runner, cfg Config) *Scheduler {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Scheduler{accounts: accounts, runner: runner, cfg: cfg}
}

// Start registers the billing pass on the configured schedule. A tick that
// fires while the previous pass is still running is skipped.
func (s *Scheduler) Start(ctx context.Context) error {
	s.cron = cron.New()
	_, err := s.cron.AddFunc(s.cfg.Schedule, func() {
		if _, err := s.RunOnce(ctx, s.cfg.Now()); err != nil {
			logger.Error("billing pass failed", "error", err)
		}
	})
	if err != nil {
		return ierr.WithError(err).
			WithHintf("Invalid billing schedule %q", s.cfg.Schedule).
			Mark(ierr.ErrValidation)
	}

	s.cron.Start()
	logger.Info("billing scheduler started", "schedule", s.cfg.Schedule, "concurrency", s.cfg.Concurrency)
	return nil
}

// Stop waits for a running pass to finish or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) {
	if s.cron == nil {
		return
	}
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
	logger.Info("billing scheduler stopped")
}

// RunOnce bills every account that has an event due at now, at most
// Concurrency at a time. One account failing does not stop the others.
func (s *Scheduler) RunOnce(ctx context.Context, now time.Time) (*RunReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		logger.Warn("billing pass already running, skipping")
		return &RunReport{Outcomes: map[string]int{}}, nil
	}
	defer s.running.Store(false)

	ids, err := s.accounts.ListDue(ctx, now, s.cfg.BatchSize)
	if err != nil {
		return nil, err
	}

	report := &RunReport{Due: len(ids), Outcomes: map[string]int{}}
	var mu sync.Mutex

	p := pool.New().WithMaxGoroutines(s.cfg.Concurrency)
	for _, id := range ids {
		p.Go(func() {
			res, err := s.runner.RunBillingCycle(ctx, id, now)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed++
				report.Errors = append(report.Errors, id+": "+ierr.DisplayMessage(err, err.Error()))
				metrics.RecordBillingResult("error")
				logger.Error("billing cycle failed", "account_id", id, "error", err)
				return
			}
			report.Processed++
			report.Outcomes[string(res.Outcome)]++
			metrics.RecordBillingResult(string(res.Outcome))
			if s.cfg.Publisher != nil && res.Event != subscription.EventNone {
				s.cfg.Publisher.Publish(ctx, "", res.Snapshot)
			}
		})
	}
	p.Wait()

	logger.Info("billing pass finished",
		"due", report.Due,
		"processed", report.Processed,
		"failed", report.Failed,
	)
	return report, nil
}
