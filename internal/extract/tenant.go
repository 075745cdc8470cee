package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"event-extractor/internal/models"
	"event-extractor/internal/source"
	"event-extractor/internal/telemetry"
)

// State is a step of a tenant run.
type State string

const (
	StateIdle       State = "IDLE"
	StateConnecting State = "CONNECTING"
	StatePaging     State = "PAGING"
	StateSuccess    State = "SUCCESS"
	StateFailed     State = "FAILED"
)

// ErrConnectionTest is the failure recorded when the pre-flight call fails.
var ErrConnectionTest = errors.New("connection test failed")

// Options tune the paging loop.
type Options struct {
	PageSize  int
	MaxPages  int
	PageDelay time.Duration
}

// DefaultOptions are 100 items per page, 100 pages per category, 100ms apart.
func DefaultOptions() Options {
	return Options{PageSize: 100, MaxPages: 100, PageDelay: 100 * time.Millisecond}
}

// Result describes one finished tenant run.
type Result struct {
	TenantID   string                  `json:"tenant_id"`
	RunID      string                  `json:"run_id"`
	State      State                   `json:"state"`
	Extracted  map[models.Category]int `json:"extracted"`
	Skipped    int                     `json:"skipped"`
	Pages      int                     `json:"pages"`
	Truncated  []models.Category       `json:"truncated,omitempty"`
	Error      string                  `json:"error,omitempty"`
	StartedAt  time.Time               `json:"started_at"`
	FinishedAt time.Time               `json:"finished_at"`
	Err        error                   `json:"-"`
}

// Total is the number of events persisted across categories.
func (r Result) Total() int {
	n := 0
	for _, v := range r.Extracted {
		n += v
	}
	return n
}

// TenantExtractor runs the paginated pull for one tenant at a time.
type TenantExtractor struct {
	source  Source
	events  EventStore
	tracker *StateTracker
	archive Archiver
	opts    Options
	log     zerolog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewTenantExtractor wires an extractor. archive may be nil.
func NewTenantExtractor(src Source, tenants TenantStore, events EventStore, archive Archiver, opts Options, log zerolog.Logger) *TenantExtractor {
	def := DefaultOptions()
	if opts.PageSize <= 0 {
		opts.PageSize = def.PageSize
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = def.MaxPages
	}
	if opts.PageDelay < 0 {
		opts.PageDelay = 0
	}
	return &TenantExtractor{
		source:  src,
		events:  events,
		tracker: NewStateTracker(tenants),
		archive: archive,
		opts:    opts,
		log:     log.With().Str("component", "extractor").Logger(),
		now:     time.Now,
		sleep:   sleepFor,
	}
}

type run struct {
	id     string
	tenant *models.Tenant
	gate   *DedupGate
	log    zerolog.Logger
	res    *Result
}

// Run drives one tenant from IDLE to SUCCESS or FAILED. Failures are
// recorded on the tenant and in the Result, never returned or propagated.
func (e *TenantExtractor) Run(ctx context.Context, tenant models.Tenant) (res Result) {
	started := e.now()
	res = Result{
		TenantID:  tenant.ID,
		RunID:     uuid.NewString(),
		State:     StateIdle,
		Extracted: map[models.Category]int{},
		StartedAt: started,
	}
	r := &run{
		id:     res.RunID,
		tenant: &tenant,
		gate:   NewDedupGate(e.events),
		log:    e.log.With().Str("tenant_id", tenant.ID).Str("run_id", res.RunID).Logger(),
		res:    &res,
	}

	defer func() {
		if p := recover(); p != nil {
			e.fail(ctx, r, fmt.Errorf("panic during extraction: %v", p))
		}
		res.FinishedAt = e.now()
		telemetry.TenantRuns.WithLabelValues(string(res.State)).Inc()
		telemetry.RunDuration.Observe(res.FinishedAt.Sub(started).Seconds())
	}()

	r.log.Info().Msg("starting extraction")
	res.State = StateConnecting
	if err := e.tracker.MarkAttempt(ctx, r.tenant, started); err != nil {
		e.fail(ctx, r, err)
		return res
	}
	if !e.source.TestConnection(ctx, tenant) {
		e.fail(ctx, r, ErrConnectionTest)
		return res
	}

	res.State = StatePaging
	for _, cat := range r.tenant.Categories() {
		n, err := e.extractCategory(ctx, r, cat)
		res.Extracted[cat] += n
		if err != nil {
			e.fail(ctx, r, err)
			return res
		}
		r.log.Info().Str("category", string(cat)).Int("events", n).Msg("category extracted")
	}

	// Terminal writes outlive a cancelled run so the outcome is never lost.
	if err := e.tracker.MarkSuccess(context.WithoutCancel(ctx), r.tenant, started); err != nil {
		e.fail(ctx, r, err)
		return res
	}
	res.State = StateSuccess
	r.log.Info().Int("events", res.Total()).Int("pages", res.Pages).Msg("extraction succeeded")
	return res
}

func (e *TenantExtractor) fail(ctx context.Context, r *run, cause error) {
	r.res.State = StateFailed
	r.res.Err = cause
	r.res.Error = cause.Error()
	r.log.Error().Err(cause).Msg("extraction failed")
	if err := e.tracker.MarkFailure(context.WithoutCancel(ctx), r.tenant, cause); err != nil {
		r.log.Error().Err(err).Msg("could not record failure")
	}
}

func (e *TenantExtractor) extractCategory(ctx context.Context, r *run, cat models.Category) (int, error) {
	log := r.log.With().Str("category", string(cat)).Logger()
	cursor := r.tenant.Cursor(cat)
	if cursor != "" {
		log.Info().Str("cursor", cursor).Msg("resuming from stored cursor")
	}

	total := 0
	for page := 1; ; page++ {
		if ctx.Err() != nil {
			return total, fmt.Errorf("%s page %d not started: %w", cat, page, context.Cause(ctx))
		}
		env, err := e.source.FetchPage(ctx, *r.tenant, cat, cursor, e.opts.PageSize)
		if err != nil {
			return total, fmt.Errorf("fetch %s page %d: %w", cat, page, err)
		}
		if !env.Success {
			return total, &source.StatusError{StatusCode: env.StatusCode}
		}
		telemetry.PagesFetched.Inc()
		r.res.Pages++
		e.archivePage(ctx, r, cat, page, env.RawBody)

		batch, err := e.admit(ctx, r, cat, env.Items, log)
		if err != nil {
			return total, fmt.Errorf("process %s page %d: %w", cat, page, err)
		}
		if len(batch) > 0 {
			saved, err := e.events.SaveEvents(ctx, batch)
			if err != nil {
				return total, fmt.Errorf("save %s page %d: %w", cat, page, err)
			}
			total += saved
			telemetry.EventsExtracted.WithLabelValues(string(cat)).Add(float64(saved))
			log.Debug().Int("page", page).Int("saved", saved).Msg("page persisted")
		}

		cursor = env.NextCursor
		if err := e.tracker.AdvanceCursor(ctx, r.tenant, cat, cursor); err != nil {
			return total, err
		}
		if !env.HasMore {
			return total, nil
		}
		if page >= e.opts.MaxPages {
			telemetry.PageCeilingHits.Inc()
			r.res.Truncated = append(r.res.Truncated, cat)
			log.Warn().Int("max_pages", e.opts.MaxPages).Msg("page ceiling reached, continuing next run")
			return total, nil
		}
		if err := e.sleep(ctx, e.opts.PageDelay); err != nil {
			return total, fmt.Errorf("paging interrupted: %w", context.Cause(ctx))
		}
	}
}

// admit turns raw items into new events. Items without an identity or
// already stored are skipped; they never fail the page.
func (e *TenantExtractor) admit(ctx context.Context, r *run, cat models.Category, items []gjson.Result, log zerolog.Logger) ([]models.ExtractedEvent, error) {
	now := e.now().UTC()
	batch := make([]models.ExtractedEvent, 0, len(items))
	for i, item := range items {
		id, ok := ExtractID(item)
		if !ok {
			r.res.Skipped++
			telemetry.ItemsSkipped.WithLabelValues("missing_id").Inc()
			log.Warn().Int("item", i).Msg("skipping event without ID")
			continue
		}
		fresh, err := r.gate.Accept(ctx, r.tenant.ID, id)
		if err != nil {
			return nil, fmt.Errorf("dedup check %s: %w", id, err)
		}
		if !fresh {
			r.res.Skipped++
			telemetry.ItemsSkipped.WithLabelValues("duplicate").Inc()
			log.Debug().Str("event_id", id).Msg("skipping duplicate event")
			continue
		}
		batch = append(batch, models.ExtractedEvent{
			ID:             uuid.NewString(),
			TenantID:       r.tenant.ID,
			EventID:        id,
			Category:       cat,
			EventName:      ExtractName(item),
			Payload:        json.RawMessage(item.Raw),
			EventTimestamp: ResolveTimestamp(item, now),
			ExtractedAt:    now,
			Status:         models.StatusExtracted,
		})
	}
	return batch, nil
}

func (e *TenantExtractor) archivePage(ctx context.Context, r *run, cat models.Category, page int, body []byte) {
	if e.archive == nil || len(body) == 0 {
		return
	}
	key := fmt.Sprintf("%s/%s/%s/%s-%03d.json", r.tenant.ID, cat, e.now().UTC().Format("2006/01/02"), r.id, page)
	if err := e.archive.Put(ctx, key, body); err != nil {
		r.log.Warn().Err(err).Str("key", key).Msg("archive page failed")
	}
}

func sleepFor(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
