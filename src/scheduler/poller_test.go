package scheduler_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reportserver/src/models"
	"reportserver/src/scheduler"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fakeStore struct {
	mu        sync.Mutex
	jobs      map[uuid.UUID]*models.ScheduledReportJob
	listErr   error
	markErr   error
	markCalls int
}

func newFakeStore(jobs ...*models.ScheduledReportJob) *fakeStore {
	s := &fakeStore{jobs: map[uuid.UUID]*models.ScheduledReportJob{}}
	for _, job := range jobs {
		s.jobs[job.ID] = job
	}
	return s
}

func (s *fakeStore) ListDue(_ context.Context, now time.Time) ([]models.ScheduledReportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var due []models.ScheduledReportJob
	for _, job := range s.jobs {
		if job.Active && !job.NextRun.After(now) {
			due = append(due, *job)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].Name < due[j].Name })
	return due, nil
}

func (s *fakeStore) MarkSucceeded(_ context.Context, id uuid.UUID, scheduled, ranAt, nextRun time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markCalls++
	if s.markErr != nil {
		return false, s.markErr
	}
	job, ok := s.jobs[id]
	if !ok || !job.Active || !job.NextRun.Equal(scheduled) {
		return false, nil
	}
	job.LastRun = &ranAt
	job.NextRun = nextRun
	return true, nil
}

// edit changes a stored job the way an administrator would.
func (s *fakeStore) edit(id uuid.UUID, change func(job *models.ScheduledReportJob)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	change(s.jobs[id])
}

func (s *fakeStore) job(id uuid.UUID) models.ScheduledReportJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.jobs[id]
}

type fakeExtractor struct {
	rows    []scheduler.Row
	failFor map[string]error
	panicOn string
	queries []scheduler.ReportQuery
}

func (e *fakeExtractor) Extract(_ context.Context, q scheduler.ReportQuery) ([]scheduler.Row, error) {
	e.queries = append(e.queries, q)
	if q.DataSource == e.panicOn {
		panic("extractor exploded")
	}
	if err, ok := e.failFor[q.DataSource]; ok {
		return nil, err
	}
	return e.rows, nil
}

type fakeExporter struct {
	err         error
	exported    [][]scheduler.Row
	generatedAt []time.Time
}

func (e *fakeExporter) Export(_ context.Context, rows []scheduler.Row, columns []string, title string, generatedAt time.Time) ([]byte, error) {
	if e.err != nil {
		return nil, e.err
	}
	e.exported = append(e.exported, rows)
	e.generatedAt = append(e.generatedAt, generatedAt)
	return []byte("xlsx:" + title), nil
}

type fakeNotifier struct {
	err       error
	onNotify  func()
	delivered []scheduler.Delivery
}

func (n *fakeNotifier) Notify(_ context.Context, d scheduler.Delivery) error {
	if n.onNotify != nil {
		n.onNotify()
	}
	if n.err != nil {
		return n.err
	}
	n.delivered = append(n.delivered, d)
	return nil
}

type fakeLedger struct {
	keys map[string]bool
}

func (l *fakeLedger) Delivered(_ context.Context, key string) (bool, error) {
	return l.keys[key], nil
}

func (l *fakeLedger) Record(_ context.Context, key string) error {
	l.keys[key] = true
	return nil
}

type fakeTenants map[uuid.UUID]string

func (t fakeTenants) TenantName(_ context.Context, id uuid.UUID) (string, error) {
	name, ok := t[id]
	if !ok {
		return "", errors.New("tenant not found")
	}
	return name, nil
}

func newJob(name, source string, nextRun time.Time) *models.ScheduledReportJob {
	return &models.ScheduledReportJob{
		ID:           uuid.New(),
		TenantID:     uuid.New(),
		Name:         name,
		DataSource:   source,
		Columns:      []byte(`["name","status"]`),
		Filter:       []byte(`{"conditions":[{"column":"status","operator":"eq","value":"active"}]}`),
		Recipients:   []string{"ops@example.com"},
		Frequency:    models.FrequencyDaily,
		DeliveryTime: "09:00",
		Active:       true,
		NextRun:      nextRun,
	}
}

func TestPollerDeliversDueJobAndAdvancesSchedule(t *testing.T) {
	clock := &fakeClock{now: at(2024, 3, 13, 9, 0)}
	job := newJob("Active Assets", "assets", at(2024, 3, 13, 9, 0))
	store := newFakeStore(job)
	extractor := &fakeExtractor{rows: []scheduler.Row{{"name": "pump", "status": "active"}}}
	exporter := &fakeExporter{}
	notifier := &fakeNotifier{}
	tenants := fakeTenants{job.TenantID: "Acme"}

	p := scheduler.NewPoller(store, extractor, exporter, notifier,
		scheduler.WithClock(clock.Now), scheduler.WithTenantDirectory(tenants))

	result := p.Tick(context.Background())
	require.NoError(t, result.Err)
	assert.Equal(t, 1, result.Due)
	assert.Equal(t, 1, result.Succeeded)

	require.Len(t, extractor.queries, 1)
	q := extractor.queries[0]
	assert.Equal(t, job.TenantID, q.TenantID)
	assert.Equal(t, []string{"name", "status"}, q.Columns)
	require.NotNil(t, q.Filter)
	assert.Nil(t, q.Sort)

	require.Len(t, notifier.delivered, 1)
	d := notifier.delivered[0]
	assert.Equal(t, []string{"ops@example.com"}, d.Recipients)
	assert.Equal(t, "Acme", d.TenantName)
	assert.Equal(t, "status eq active", d.FilterSummary)
	assert.Equal(t, "active_assets_20240313_0900.xlsx", d.Filename)
	assert.Equal(t, []byte("xlsx:Active Assets"), d.Content)

	stored := store.job(job.ID)
	require.NotNil(t, stored.LastRun)
	assert.Equal(t, at(2024, 3, 13, 9, 0), *stored.LastRun)
	assert.Equal(t, at(2024, 3, 14, 9, 0), stored.NextRun)
	assert.Equal(t, scheduler.StateIdle, p.State())
}

func TestPollerSkipsJobsNotDue(t *testing.T) {
	clock := &fakeClock{now: at(2024, 3, 13, 8, 59)}
	inactive := newJob("inactive", "assets", at(2024, 3, 13, 8, 0))
	inactive.Active = false
	future := newJob("future", "assets", at(2024, 3, 13, 9, 0))
	store := newFakeStore(inactive, future)
	notifier := &fakeNotifier{}

	p := scheduler.NewPoller(store, &fakeExtractor{}, &fakeExporter{}, notifier, scheduler.WithClock(clock.Now))
	result := p.Tick(context.Background())

	assert.Equal(t, 0, result.Due)
	assert.Empty(t, notifier.delivered)
	assert.Equal(t, 0, store.markCalls)
}

func TestPollerIsolatesFailingJobs(t *testing.T) {
	clock := &fakeClock{now: at(2024, 3, 13, 9, 0)}
	a := newJob("a", "assets", at(2024, 3, 13, 9, 0))
	b := newJob("b", "shipments", at(2024, 3, 13, 9, 0))
	c := newJob("c", "lots", at(2024, 3, 13, 9, 0))
	store := newFakeStore(a, b, c)
	extractor := &fakeExtractor{failFor: map[string]error{"shipments": errors.New("relation does not exist")}}
	notifier := &fakeNotifier{}

	p := scheduler.NewPoller(store, extractor, &fakeExporter{}, notifier, scheduler.WithClock(clock.Now))
	result := p.Tick(context.Background())

	assert.Equal(t, 3, result.Due)
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 1, result.Failed)

	assert.Equal(t, at(2024, 3, 14, 9, 0), store.job(a.ID).NextRun)
	assert.Equal(t, at(2024, 3, 14, 9, 0), store.job(c.ID).NextRun)

	failed := store.job(b.ID)
	assert.Equal(t, at(2024, 3, 13, 9, 0), failed.NextRun)
	assert.Nil(t, failed.LastRun)
}

func TestPollerIsolatesPanickingJob(t *testing.T) {
	clock := &fakeClock{now: at(2024, 3, 13, 9, 0)}
	a := newJob("a", "assets", at(2024, 3, 13, 9, 0))
	b := newJob("b", "vendors", at(2024, 3, 13, 9, 0))
	store := newFakeStore(a, b)
	extractor := &fakeExtractor{panicOn: "assets"}

	p := scheduler.NewPoller(store, extractor, &fakeExporter{}, &fakeNotifier{}, scheduler.WithClock(clock.Now))
	result := p.Tick(context.Background())

	assert.NoError(t, result.Err)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	assert.ErrorIs(t, result.JobErrors[a.ID], scheduler.ErrJobPanicked)
	assert.Equal(t, at(2024, 3, 13, 9, 0), store.job(a.ID).NextRun)
	assert.Equal(t, at(2024, 3, 14, 9, 0), store.job(b.ID).NextRun)
	assert.Equal(t, scheduler.StateIdle, p.State())
}

func TestPollerRetriesUntilDelivered(t *testing.T) {
	clock := &fakeClock{now: at(2024, 3, 13, 9, 0)}
	job := newJob("a", "assets", at(2024, 3, 13, 9, 0))
	store := newFakeStore(job)
	notifier := &fakeNotifier{err: errors.New("smtp: 421 try again later")}

	p := scheduler.NewPoller(store, &fakeExtractor{}, &fakeExporter{}, notifier, scheduler.WithClock(clock.Now))

	for i := 0; i < 3; i++ {
		clock.Set(at(2024, 3, 13, 9, i))
		result := p.Tick(context.Background())
		assert.Equal(t, 1, result.Failed)
		stored := store.job(job.ID)
		assert.Equal(t, at(2024, 3, 13, 9, 0), stored.NextRun)
		assert.Nil(t, stored.LastRun)
	}

	notifier.err = nil
	clock.Set(at(2024, 3, 13, 9, 3))
	result := p.Tick(context.Background())
	assert.Equal(t, 1, result.Succeeded)

	stored := store.job(job.ID)
	require.NotNil(t, stored.LastRun)
	assert.Equal(t, at(2024, 3, 13, 9, 3), *stored.LastRun)
	assert.Equal(t, at(2024, 3, 14, 9, 0), stored.NextRun)

	// No longer due for the rest of the day.
	clock.Set(at(2024, 3, 13, 9, 4))
	result = p.Tick(context.Background())
	assert.Equal(t, 0, result.Due)
	assert.Len(t, notifier.delivered, 1)
}

func TestPollerDeliversEmptyReport(t *testing.T) {
	clock := &fakeClock{now: at(2024, 3, 13, 9, 0)}
	job := newJob("empty", "assets", at(2024, 3, 13, 9, 0))
	store := newFakeStore(job)
	exporter := &fakeExporter{}
	notifier := &fakeNotifier{}

	p := scheduler.NewPoller(store, &fakeExtractor{}, exporter, notifier, scheduler.WithClock(clock.Now))
	result := p.Tick(context.Background())

	assert.Equal(t, 1, result.Succeeded)
	require.Len(t, exporter.exported, 1)
	assert.Empty(t, exporter.exported[0])
	assert.Len(t, notifier.delivered, 1)
	assert.Equal(t, at(2024, 3, 14, 9, 0), store.job(job.ID).NextRun)
}

func TestPollerStageErrors(t *testing.T) {
	tests := []struct {
		name     string
		job      func() *models.ScheduledReportJob
		exporter *fakeExporter
		notifier *fakeNotifier
		extract  map[string]error
		expected error
	}{
		{
			name:     "extraction",
			job:      func() *models.ScheduledReportJob { return newJob("a", "assets", at(2024, 1, 1, 0, 0)) },
			extract:  map[string]error{"assets": errors.New("boom")},
			expected: scheduler.ErrExtraction,
		},
		{
			name: "undecodable payload",
			job: func() *models.ScheduledReportJob {
				job := newJob("a", "assets", at(2024, 1, 1, 0, 0))
				job.Columns = []byte(`{`)
				return job
			},
			expected: scheduler.ErrExtraction,
		},
		{
			name:     "export",
			job:      func() *models.ScheduledReportJob { return newJob("a", "assets", at(2024, 1, 1, 0, 0)) },
			exporter: &fakeExporter{err: errors.New("disk full")},
			expected: scheduler.ErrExport,
		},
		{
			name:     "delivery",
			job:      func() *models.ScheduledReportJob { return newJob("a", "assets", at(2024, 1, 1, 0, 0)) },
			notifier: &fakeNotifier{err: errors.New("connection refused")},
			expected: scheduler.ErrDelivery,
		},
		{
			name: "invalid stored recurrence",
			job: func() *models.ScheduledReportJob {
				job := newJob("a", "assets", at(2024, 1, 1, 0, 0))
				job.Frequency = models.FrequencyWeekly
				return job
			},
			expected: scheduler.ErrInvalidRecurrence,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := tt.job()
			store := newFakeStore(job)
			exporter := tt.exporter
			if exporter == nil {
				exporter = &fakeExporter{}
			}
			notifier := tt.notifier
			if notifier == nil {
				notifier = &fakeNotifier{}
			}
			ledger := &fakeLedger{keys: map[string]bool{}}
			extractor := &fakeExtractor{failFor: tt.extract}

			p := scheduler.NewPoller(store, extractor, exporter, notifier,
				scheduler.WithClock(func() time.Time { return at(2024, 1, 1, 0, 0) }),
				scheduler.WithDeliveryLedger(ledger))
			result := p.Tick(context.Background())
			assert.Equal(t, 1, result.Failed)
			assert.Equal(t, 0, store.markCalls)
			assert.Empty(t, ledger.keys)
			assert.ErrorIs(t, result.JobErrors[job.ID], tt.expected)
		})
	}
}

func TestPollerLedgerPreventsDoubleDelivery(t *testing.T) {
	clock := &fakeClock{now: at(2024, 3, 13, 9, 0)}
	job := newJob("a", "assets", at(2024, 3, 13, 9, 0))
	store := newFakeStore(job)
	store.markErr = errors.New("connection reset")
	notifier := &fakeNotifier{}
	ledger := &fakeLedger{keys: map[string]bool{}}

	p := scheduler.NewPoller(store, &fakeExtractor{}, &fakeExporter{}, notifier,
		scheduler.WithClock(clock.Now), scheduler.WithDeliveryLedger(ledger))

	result := p.Tick(context.Background())
	assert.Equal(t, 1, result.Failed)
	assert.ErrorIs(t, result.JobErrors[job.ID], scheduler.ErrSettle)
	assert.Len(t, notifier.delivered, 1)
	assert.True(t, ledger.keys[scheduler.DeliveryKey(job.ID, job.NextRun)])

	store.markErr = nil
	clock.Set(at(2024, 3, 13, 9, 1))
	result = p.Tick(context.Background())
	assert.Equal(t, 1, result.Succeeded)
	assert.Len(t, notifier.delivered, 1, "report must not be sent twice")
	assert.Equal(t, at(2024, 3, 14, 9, 0), store.job(job.ID).NextRun)
}

func TestPollerKeepsScheduleEditedWhileRunning(t *testing.T) {
	clock := &fakeClock{now: at(2024, 3, 13, 9, 0)}
	job := newJob("a", "assets", at(2024, 3, 13, 9, 0))
	store := newFakeStore(job)

	// The job is switched to 18:00 while its report is being sent.
	edited := at(2024, 3, 13, 18, 0)
	notifier := &fakeNotifier{onNotify: func() {
		store.edit(job.ID, func(j *models.ScheduledReportJob) {
			j.DeliveryTime = "18:00"
			j.NextRun = edited
		})
	}}

	p := scheduler.NewPoller(store, &fakeExtractor{}, &fakeExporter{}, notifier, scheduler.WithClock(clock.Now))
	result := p.Tick(context.Background())

	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, 1, store.markCalls)
	assert.Len(t, notifier.delivered, 1)
	assert.Equal(t, edited, store.job(job.ID).NextRun)
	assert.Nil(t, store.job(job.ID).LastRun)
}

func TestPollerLeavesJobDeactivatedWhileRunning(t *testing.T) {
	clock := &fakeClock{now: at(2024, 3, 13, 9, 0)}
	job := newJob("a", "assets", at(2024, 3, 13, 9, 0))
	store := newFakeStore(job)
	notifier := &fakeNotifier{onNotify: func() {
		store.edit(job.ID, func(j *models.ScheduledReportJob) { j.Active = false })
	}}

	p := scheduler.NewPoller(store, &fakeExtractor{}, &fakeExporter{}, notifier, scheduler.WithClock(clock.Now))
	result := p.Tick(context.Background())

	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, at(2024, 3, 13, 9, 0), store.job(job.ID).NextRun)
}

func TestPollerStampsWorkbookWithDeliveryInstant(t *testing.T) {
	clock := &fakeClock{now: at(2024, 3, 13, 9, 0)}
	job := newJob("a", "assets", at(2024, 3, 13, 9, 0))
	exporter := &fakeExporter{}
	notifier := &fakeNotifier{}

	p := scheduler.NewPoller(newFakeStore(job), &fakeExtractor{}, exporter, notifier, scheduler.WithClock(clock.Now))
	p.Tick(context.Background())

	require.Len(t, exporter.generatedAt, 1)
	require.Len(t, notifier.delivered, 1)
	assert.Equal(t, notifier.delivered[0].GeneratedAt, exporter.generatedAt[0])
}

func TestPollerDoesNotSettleAfterShutdown(t *testing.T) {
	clock := &fakeClock{now: at(2024, 3, 13, 9, 0)}
	a := newJob("a", "assets", at(2024, 3, 13, 9, 0))
	b := newJob("b", "assets", at(2024, 3, 13, 9, 0))
	store := newFakeStore(a, b)

	ctx, cancel := context.WithCancel(context.Background())
	notifier := &fakeNotifier{onNotify: cancel}

	p := scheduler.NewPoller(store, &fakeExtractor{}, &fakeExporter{}, notifier, scheduler.WithClock(clock.Now))
	result := p.Tick(ctx)

	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 0, result.Succeeded)
	assert.Equal(t, 0, store.markCalls)
	assert.Len(t, notifier.delivered, 1)
	assert.ErrorIs(t, result.JobErrors[a.ID], scheduler.ErrInterrupted)
	assert.Equal(t, at(2024, 3, 13, 9, 0), store.job(a.ID).NextRun)
	assert.Equal(t, at(2024, 3, 13, 9, 0), store.job(b.ID).NextRun)
}

func TestPollerSurvivesListingFailure(t *testing.T) {
	clock := &fakeClock{now: at(2024, 3, 13, 9, 0)}
	job := newJob("a", "assets", at(2024, 3, 13, 9, 0))
	store := newFakeStore(job)
	store.listErr = errors.New("too many connections")
	notifier := &fakeNotifier{}

	p := scheduler.NewPoller(store, &fakeExtractor{}, &fakeExporter{}, notifier, scheduler.WithClock(clock.Now))

	result := p.Tick(context.Background())
	require.Error(t, result.Err)
	assert.Empty(t, notifier.delivered)

	store.listErr = nil
	result = p.Tick(context.Background())
	require.NoError(t, result.Err)
	assert.Equal(t, 1, result.Succeeded)

	stats := p.Stats()
	assert.Equal(t, int64(2), stats.TicksSinceStart)
	require.NotNil(t, stats.LastTickAt)
	assert.Equal(t, 1, stats.LastTickSucceed)
	assert.Equal(t, "idle", stats.State)
}

func TestPollerTenantNameFallsBackToID(t *testing.T) {
	clock := &fakeClock{now: at(2024, 3, 13, 9, 0)}
	job := newJob("a", "assets", at(2024, 3, 13, 9, 0))
	notifier := &fakeNotifier{}

	p := scheduler.NewPoller(newFakeStore(job), &fakeExtractor{}, &fakeExporter{}, notifier,
		scheduler.WithClock(clock.Now), scheduler.WithTenantDirectory(fakeTenants{}))
	p.Tick(context.Background())

	require.Len(t, notifier.delivered, 1)
	assert.Equal(t, job.TenantID.String(), notifier.delivered[0].TenantName)
}

func TestPollerStartTicksImmediately(t *testing.T) {
	job := newJob("a", "assets", time.Now().Add(-time.Minute))
	store := newFakeStore(job)
	delivered := make(chan struct{}, 1)
	notifier := &fakeNotifier{onNotify: func() {
		select {
		case delivered <- struct{}{}:
		default:
		}
	}}

	p := scheduler.NewPoller(store, &fakeExtractor{}, &fakeExporter{}, notifier, scheduler.WithInterval(time.Hour))
	require.NoError(t, p.Start(context.Background()))
	assert.Error(t, p.Start(context.Background()))

	select {
	case <-delivered:
	case <-time.After(5 * time.Second):
		t.Fatal("poller did not tick on start")
	}
	p.Stop()

	assert.False(t, p.Stats().Running)
}

func TestReportFilename(t *testing.T) {
	ts := at(2024, 4, 30, 9, 5)
	assert.Equal(t, "monthly_vendor_review_20240430_0905.xlsx", scheduler.ReportFilename("Monthly Vendor Review!", ts))
	assert.Equal(t, "report_20240430_0905.xlsx", scheduler.ReportFilename("***", ts))
}
