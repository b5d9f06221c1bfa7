package scheduler

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"reportserver/src/models"
	"reportserver/src/schemas"
	"reportserver/src/utils"
)

type State int32

const (
	StateIdle State = iota
	StateScanning
	StateDispatching
	StateSettling
)

func (s State) String() string {
	switch s {
	case StateScanning:
		return "scanning"
	case StateDispatching:
		return "dispatching"
	case StateSettling:
		return "settling"
	default:
		return "idle"
	}
}

// TickResult summarises one pass over the due jobs.
type TickResult struct {
	StartedAt time.Time
	Due       int
	Succeeded int
	Failed    int
	// JobErrors holds the error of every job that failed this tick.
	JobErrors map[uuid.UUID]error
	Err       error
}

type Stats struct {
	State           string     `json:"state"`
	Running         bool       `json:"running"`
	TicksSinceStart int64      `json:"ticks_since_start"`
	LastTickAt      *time.Time `json:"last_tick_at,omitempty"`
	LastTickDue     int        `json:"last_tick_due"`
	LastTickSucceed int        `json:"last_tick_succeeded"`
	LastTickFailed  int        `json:"last_tick_failed"`
}

type PollerOption func(*Poller)

func WithClock(now func() time.Time) PollerOption {
	return func(p *Poller) { p.now = now }
}

func WithInterval(interval time.Duration) PollerOption {
	return func(p *Poller) { p.interval = interval }
}

func WithTenantDirectory(tenants TenantDirectory) PollerOption {
	return func(p *Poller) { p.tenants = tenants }
}

func WithDeliveryLedger(ledger DeliveryLedger) PollerOption {
	return func(p *Poller) { p.ledger = ledger }
}

// Poller finds due report jobs on a fixed tick and runs each one through
// extract, export and notify. A job's schedule only moves forward once its
// report was delivered; a failed job stays due and is retried next tick.
type Poller struct {
	store     JobStore
	extractor Extractor
	exporter  Exporter
	notifier  Notifier
	tenants   TenantDirectory
	ledger    DeliveryLedger

	interval time.Duration
	now      func() time.Time

	state atomic.Int32

	mu       sync.Mutex
	task     *ScheduledTask
	cancel   context.CancelFunc
	ticks    int64
	lastTick *TickResult
}

func NewPoller(store JobStore, extractor Extractor, exporter Exporter, notifier Notifier, opts ...PollerOption) *Poller {
	p := &Poller{
		store:     store,
		extractor: extractor,
		exporter:  exporter,
		notifier:  notifier,
		interval:  time.Minute,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Poller) State() State {
	return State(p.state.Load())
}

func (p *Poller) setState(s State) {
	p.state.Store(int32(s))
}

// Start ticks immediately and then once per interval until Stop is called or
// ctx is cancelled.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.task != nil {
		return fmt.Errorf("scheduler: poller already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	task, err := NewScheduledTask(p.interval, func() { p.Tick(runCtx) }, utils.LoggerFromContext(ctx))
	if err != nil {
		cancel()
		return err
	}
	p.task = task
	p.cancel = cancel
	task.Start(true)

	utils.LoggerFromContext(ctx).WithField("interval", p.interval.String()).Info("Report poller started")
	return nil
}

// Stop cancels the in-flight tick and waits for it to return. A job cut off
// mid-pipeline is not settled and will run again after the next start.
func (p *Poller) Stop() {
	p.mu.Lock()
	task, cancel := p.task, p.cancel
	p.task, p.cancel = nil, nil
	p.mu.Unlock()

	if task == nil {
		return
	}
	cancel()
	<-task.Cancel().Done()
}

func (p *Poller) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := Stats{
		State:           p.State().String(),
		Running:         p.task != nil,
		TicksSinceStart: p.ticks,
	}
	if p.lastTick != nil {
		startedAt := p.lastTick.StartedAt
		stats.LastTickAt = &startedAt
		stats.LastTickDue = p.lastTick.Due
		stats.LastTickSucceed = p.lastTick.Succeeded
		stats.LastTickFailed = p.lastTick.Failed
	}
	return stats
}

// Tick runs one scan and dispatches every due job sequentially.
func (p *Poller) Tick(ctx context.Context) (result TickResult) {
	logger := utils.LoggerFromContext(ctx)
	result.StartedAt = p.now().UTC()

	defer func() {
		if r := recover(); r != nil {
			result.Err = fmt.Errorf("scheduler: tick panicked: %v", r)
			logger.WithError(result.Err).Error("Report poller tick aborted")
		}
		p.setState(StateIdle)
		p.recordTick(result)
	}()

	p.setState(StateScanning)
	jobs, err := p.store.ListDue(ctx, result.StartedAt)
	if err != nil {
		result.Err = fmt.Errorf("scheduler: listing due jobs: %w", err)
		logger.WithError(err).Error("Could not list due report jobs")
		return result
	}
	result.Due = len(jobs)
	if len(jobs) == 0 {
		return result
	}
	logger.WithField("due", len(jobs)).Info("Dispatching due report jobs")

	p.setState(StateDispatching)
	for i := range jobs {
		if ctx.Err() != nil {
			break
		}
		job := &jobs[i]
		jobLogger := logger.WithFields(logrus.Fields{
			"job_id":      job.ID.String(),
			"tenant_id":   job.TenantID.String(),
			"data_source": job.DataSource,
			"next_run":    job.NextRun.UTC().Format(time.RFC3339),
		})

		if err := p.runJob(ctx, jobLogger, job); err != nil {
			result.Failed++
			if result.JobErrors == nil {
				result.JobErrors = map[uuid.UUID]error{}
			}
			result.JobErrors[job.ID] = err
			jobLogger.WithError(err).Error("Report job failed, it stays due")
			continue
		}
		result.Succeeded++
	}
	return result
}

func (p *Poller) recordTick(result TickResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ticks++
	p.lastTick = &result
}

func (p *Poller) runJob(ctx context.Context, logger *logrus.Entry, job *models.ScheduledReportJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrJobPanicked, r)
		}
		p.setState(StateDispatching)
	}()

	rec, err := RecurrenceOf(job)
	if err != nil {
		return err
	}

	key := DeliveryKey(job.ID, job.NextRun)
	delivered := false
	if p.ledger != nil {
		delivered, err = p.ledger.Delivered(ctx, key)
		if err != nil {
			logger.WithError(err).Warn("Could not read delivery ledger")
			delivered = false
		}
	}

	if delivered {
		logger.Info("Report already delivered for this run, settling only")
	} else {
		if err := p.deliver(ctx, job); err != nil {
			return err
		}
		if p.ledger != nil {
			if err := p.ledger.Record(ctx, key); err != nil {
				logger.WithError(err).Warn("Could not record delivery")
			}
		}
	}

	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ErrInterrupted, ctx.Err())
	}

	p.setState(StateSettling)
	ranAt := p.now().UTC()
	nextRun, err := ComputeNextRun(rec, ranAt)
	if err != nil {
		return err
	}
	settled, err := p.store.MarkSucceeded(ctx, job.ID, job.NextRun, ranAt, nextRun)
	if err != nil {
		return stageError(ErrSettle, err)
	}
	if !settled {
		logger.Info("Report job changed while running, keeping its new schedule")
		return nil
	}

	logger.WithField("scheduled_next_run", nextRun.Format(time.RFC3339)).Info("Report job delivered")
	return nil
}

func (p *Poller) deliver(ctx context.Context, job *models.ScheduledReportJob) error {
	payload, err := schemas.DecodeJobPayload(job)
	if err != nil {
		return stageError(ErrExtraction, err)
	}

	rows, err := p.extractor.Extract(ctx, ReportQuery{
		TenantID:   job.TenantID,
		DataSource: job.DataSource,
		Columns:    payload.Columns,
		Filter:     payload.Filter,
		Sort:       payload.Sort,
	})
	if err != nil {
		return stageError(ErrExtraction, err)
	}

	generatedAt := p.now().UTC()
	content, err := p.exporter.Export(ctx, rows, payload.Columns, job.Name, generatedAt)
	if err != nil {
		return stageError(ErrExport, err)
	}

	err = p.notifier.Notify(ctx, Delivery{
		Recipients:    job.Recipients,
		ReportName:    job.Name,
		DataSource:    job.DataSource,
		TenantName:    p.tenantName(ctx, job),
		FilterSummary: payload.Filter.Summary(),
		GeneratedAt:   generatedAt,
		Filename:      ReportFilename(job.Name, generatedAt),
		Content:       content,
	})
	if err != nil {
		return stageError(ErrDelivery, err)
	}
	return nil
}

// tenantName falls back to the tenant id when no name can be resolved.
func (p *Poller) tenantName(ctx context.Context, job *models.ScheduledReportJob) string {
	if p.tenants == nil {
		return job.TenantID.String()
	}
	name, err := p.tenants.TenantName(ctx, job.TenantID)
	if err != nil || name == "" {
		utils.LoggerFromContext(ctx).WithError(err).WithField("tenant_id", job.TenantID.String()).Warn("Could not resolve tenant name")
		return job.TenantID.String()
	}
	return name
}

var nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)

// ReportFilename builds "<slug>_<yyyymmdd_hhmm>.xlsx" from the report name.
func ReportFilename(name string, at time.Time) string {
	slug := strings.Trim(nonSlugChars.ReplaceAllString(strings.ToLower(name), "_"), "_")
	if slug == "" {
		slug = "report"
	}
	return fmt.Sprintf("%s_%s.xlsx", slug, at.UTC().Format(utils.CompactTimestampLayout))
}
