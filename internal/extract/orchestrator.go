package extract

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"event-extractor/internal/models"
	"event-extractor/internal/telemetry"
)

var (
	// ErrTenantBusy means another run currently holds the tenant.
	ErrTenantBusy = errors.New("extraction already in progress for tenant")
	// ErrShuttingDown is returned once Shutdown has been called.
	ErrShuttingDown = errors.New("orchestrator is shutting down")
	// ErrNotDue means the tenant's stored state no longer makes it due,
	// usually because another replica ran it after this pass listed it.
	ErrNotDue = errors.New("tenant no longer due")
)

// Runner executes one tenant run; *TenantExtractor is the production runner.
type Runner interface {
	Run(ctx context.Context, tenant models.Tenant) Result
}

// Summary aggregates one RunAll pass.
type Summary struct {
	Eligible   int       `json:"eligible"`
	Dispatched int       `json:"dispatched"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
	Results    []Result  `json:"results"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Orchestrator selects due tenants and runs them on a bounded worker pool.
type Orchestrator struct {
	tenants  TenantStore
	runner   Runner
	locker   TenantLocker
	poolSize int
	log      zerolog.Logger
	now      func() time.Time

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

// NewOrchestrator builds an orchestrator with poolSize concurrent tenants.
func NewOrchestrator(tenants TenantStore, runner Runner, locker TenantLocker, poolSize int, log zerolog.Logger) *Orchestrator {
	if poolSize <= 0 {
		poolSize = 10
	}
	return &Orchestrator{
		tenants:  tenants,
		runner:   runner,
		locker:   locker,
		poolSize: poolSize,
		log:      log.With().Str("component", "orchestrator").Logger(),
		now:      time.Now,
	}
}

func (o *Orchestrator) enter() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false
	}
	o.inflight.Add(1)
	return true
}

// RunAll extracts every due tenant and blocks until all runs finish.
// It never fails: problems are logged and counted in the Summary.
func (o *Orchestrator) RunAll(ctx context.Context) Summary {
	sum := Summary{StartedAt: o.now()}
	if !o.enter() {
		o.log.Warn().Msg("run requested during shutdown, ignoring")
		sum.FinishedAt = o.now()
		return sum
	}
	defer o.inflight.Done()

	tenants, err := o.tenants.FindEligibleForExtraction(ctx, sum.StartedAt)
	if err != nil {
		o.log.Error().Err(err).Msg("load eligible tenants")
		sum.FinishedAt = o.now()
		return sum
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(o.poolSize)
	record := func(res Result, skipped bool) {
		mu.Lock()
		defer mu.Unlock()
		if skipped {
			sum.Skipped++
			return
		}
		sum.Results = append(sum.Results, res)
		if res.State == StateSuccess {
			sum.Succeeded++
		} else {
			sum.Failed++
		}
	}

	for _, t := range tenants {
		t := t
		if !t.DueAt(sum.StartedAt) {
			continue
		}
		sum.Eligible++
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				o.log.Info().Str("tenant_id", t.ID).Err(err).Msg("pass cancelled, tenant not started")
				record(Result{}, true)
				return nil
			}
			res, err := o.runGuarded(ctx, t.ID, &sum.StartedAt)
			if err != nil {
				o.log.Info().Str("tenant_id", t.ID).Err(err).Msg("tenant skipped")
				record(Result{}, true)
				return nil
			}
			record(res, false)
			return nil
		})
	}
	_ = g.Wait()

	sum.Dispatched = sum.Succeeded + sum.Failed
	sum.FinishedAt = o.now()
	o.log.Info().
		Int("eligible", sum.Eligible).
		Int("succeeded", sum.Succeeded).
		Int("failed", sum.Failed).
		Int("skipped", sum.Skipped).
		Dur("took", sum.FinishedAt.Sub(sum.StartedAt)).
		Msg("extraction pass complete")
	return sum
}

// RunOne extracts a single tenant on demand, regardless of its schedule.
// The returned error only covers lookup and guard problems; extraction
// failures are reported in the Result.
func (o *Orchestrator) RunOne(ctx context.Context, tenantID string) (Result, error) {
	if !o.enter() {
		return Result{}, ErrShuttingDown
	}
	defer o.inflight.Done()
	return o.runGuarded(ctx, tenantID, nil)
}

// runGuarded runs the tenant under its lease. The row is re-read once the
// lease is held so the run starts from the last committed cursors; when
// dueAt is set the schedule is checked again against that row.
func (o *Orchestrator) runGuarded(ctx context.Context, tenantID string, dueAt *time.Time) (Result, error) {
	held, release, ok, err := o.locker.TryLock(ctx, tenantID)
	if err != nil {
		return Result{}, fmt.Errorf("lock tenant %s: %w", tenantID, err)
	}
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrTenantBusy, tenantID)
	}
	defer release()

	t, err := o.tenants.GetTenant(held, tenantID)
	if err != nil {
		return Result{}, fmt.Errorf("reload tenant %s: %w", tenantID, err)
	}
	if dueAt != nil && !t.DueAt(*dueAt) {
		return Result{}, fmt.Errorf("%w: %s", ErrNotDue, tenantID)
	}

	telemetry.InFlightTenants.Inc()
	defer telemetry.InFlightTenants.Dec()
	return o.runner.Run(held, t), nil
}

// Shutdown refuses new runs and waits for in-flight ones to drain or for
// ctx to expire.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain in-flight runs: %w", ctx.Err())
	}
}
