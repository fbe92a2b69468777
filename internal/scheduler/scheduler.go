// Package scheduler runs recurring backtest and screening jobs on fixed
// intervals.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/daasalpha/alphahunter/internal/config"
	"github.com/daasalpha/alphahunter/internal/service"
)

// Job types understood by the scheduler.
const (
	JobBacktest = "backtest"
	JobScreen   = "screen"
)

// JobResult records one job execution.
type JobResult struct {
	JobName   string        `json:"job_name"`
	StartTime time.Time     `json:"start_time"`
	Duration  time.Duration `json:"duration"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
}

// Status summarizes the scheduler for the status subcommand.
type Status struct {
	Running      bool          `json:"running"`
	EnabledJobs  int           `json:"enabled_jobs"`
	DisabledJobs int           `json:"disabled_jobs"`
	LastRun      time.Time     `json:"last_run"`
	Uptime       time.Duration `json:"uptime"`
}

// Scheduler drives the configured jobs. Each enabled job runs on its own
// interval ticker until Stop or context cancellation.
type Scheduler struct {
	cfg       config.SchedulerConfig
	backtests *service.BacktestService
	screens   *service.ScreenService

	mu        sync.Mutex
	running   bool
	startTime time.Time
	lastRun   time.Time
	cancel    context.CancelFunc
	done      chan struct{}
}

// New creates a scheduler over the given services.
func New(cfg config.SchedulerConfig, backtests *service.BacktestService,
	screens *service.ScreenService) *Scheduler {
	return &Scheduler{cfg: cfg, backtests: backtests, screens: screens}
}

// Validate checks every job entry before the scheduler starts.
func (s *Scheduler) Validate() error {
	for _, job := range s.cfg.Jobs {
		switch job.Type {
		case JobBacktest, JobScreen:
		default:
			return fmt.Errorf("job %q: unknown type %q", job.Name, job.Type)
		}
		if job.Enabled && job.Interval <= 0 {
			return fmt.Errorf("job %q: interval must be positive", job.Name)
		}
	}
	return nil
}

// Start launches one goroutine per enabled job. It returns immediately;
// call Stop to shut the loops down.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true
	s.startTime = time.Now()

	enabled := 0
	var wg sync.WaitGroup
	for _, job := range s.cfg.Jobs {
		if !job.Enabled {
			continue
		}
		enabled++
		wg.Add(1)
		go func(job config.Job) {
			defer wg.Done()
			s.loop(ctx, job)
		}(job)
	}
	go func() {
		wg.Wait()
		close(s.done)
	}()

	log.Info().Int("enabled_jobs", enabled).Msg("scheduler started")
	return nil
}

// Stop cancels all job loops and waits for them to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
	log.Info().Msg("scheduler stopped")
}

// GetStatus reports the current scheduler state.
func (s *Scheduler) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{Running: s.running, LastRun: s.lastRun}
	for _, job := range s.cfg.Jobs {
		if job.Enabled {
			st.EnabledJobs++
		} else {
			st.DisabledJobs++
		}
	}
	if s.running {
		st.Uptime = time.Since(s.startTime)
	}
	return st
}

func (s *Scheduler) loop(ctx context.Context, job config.Job) {
	ticker := time.NewTicker(job.Interval.Std())
	defer ticker.Stop()

	log.Info().Str("job", job.Name).Dur("interval", job.Interval.Std()).Msg("job loop started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res := s.RunJob(ctx, job.Name)
			if ctx.Err() != nil {
				return
			}
			if !res.Success {
				log.Error().Str("job", job.Name).Str("error", res.Error).Msg("job failed")
			}
		}
	}
}

// RunJob executes one configured job immediately by name.
func (s *Scheduler) RunJob(ctx context.Context, name string) JobResult {
	var job *config.Job
	for i := range s.cfg.Jobs {
		if s.cfg.Jobs[i].Name == name {
			job = &s.cfg.Jobs[i]
			break
		}
	}
	result := JobResult{JobName: name, StartTime: time.Now()}
	if job == nil {
		result.Error = "job not found"
		return result
	}

	log.Info().Str("job", job.Name).Str("type", job.Type).Msg("executing job")

	switch job.Type {
	case JobBacktest:
		to := time.Now().UTC()
		from := to.AddDate(0, 0, -job.Lookback)
		res := s.backtests.Run(ctx, service.Params{From: from, To: to})
		result.Success = res.Success
		result.Error = res.Error
	case JobScreen:
		res := s.screens.Run(ctx, nil, time.Now().UTC())
		result.Success = res.Success
		result.Error = res.Error
	default:
		result.Error = fmt.Sprintf("unknown job type %q", job.Type)
	}

	result.Duration = time.Since(result.StartTime)
	s.mu.Lock()
	s.lastRun = result.StartTime
	s.mu.Unlock()
	return result
}
