package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"

	"event-extractor/internal/extract"
)

// PassRunner runs one extraction pass over all due tenants.
type PassRunner interface {
	RunAll(ctx context.Context) extract.Summary
}

// Scheduler fires extraction passes on a primary and a backup interval.
// Each job runs in singleton mode; a pass that overlaps the other job's
// pass is absorbed by the per-tenant in-flight guard.
type Scheduler struct {
	cron    gocron.Scheduler
	runs    PassRunner
	primary time.Duration
	backup  time.Duration
	log     zerolog.Logger
}

// New builds a scheduler. A zero backup interval disables the backup job.
func New(runs PassRunner, primary, backup time.Duration, log zerolog.Logger) (*Scheduler, error) {
	if primary <= 0 {
		return nil, fmt.Errorf("primary interval must be positive, got %s", primary)
	}
	cron, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	return &Scheduler{
		cron:    cron,
		runs:    runs,
		primary: primary,
		backup:  backup,
		log:     log.With().Str("component", "scheduler").Logger(),
	}, nil
}

// Start registers both jobs and starts ticking. The primary pass also runs
// once immediately. ctx is handed to every pass.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.NewJob(
		gocron.DurationJob(s.primary),
		gocron.NewTask(func() { s.pass(ctx, "primary") }),
		gocron.WithName("extraction-primary"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	); err != nil {
		return fmt.Errorf("schedule primary pass: %w", err)
	}
	if s.backup > 0 {
		if _, err := s.cron.NewJob(
			gocron.DurationJob(s.backup),
			gocron.NewTask(func() { s.pass(ctx, "backup") }),
			gocron.WithName("extraction-backup"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		); err != nil {
			return fmt.Errorf("schedule backup pass: %w", err)
		}
	}
	s.cron.Start()
	s.log.Info().Dur("primary", s.primary).Dur("backup", s.backup).Msg("scheduler started")
	return nil
}

func (s *Scheduler) pass(ctx context.Context, trigger string) {
	if ctx.Err() != nil {
		return
	}
	s.log.Info().Str("trigger", trigger).Msg("starting scheduled extraction pass")
	sum := s.runs.RunAll(ctx)
	s.log.Info().
		Str("trigger", trigger).
		Int("eligible", sum.Eligible).
		Int("succeeded", sum.Succeeded).
		Int("failed", sum.Failed).
		Msg("scheduled extraction pass finished")
}

// Shutdown stops scheduling and waits for running jobs to return.
func (s *Scheduler) Shutdown() error {
	if err := s.cron.Shutdown(); err != nil {
		return fmt.Errorf("stop scheduler: %w", err)
	}
	return nil
}
