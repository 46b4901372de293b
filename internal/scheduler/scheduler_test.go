package scheduler_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobmate/listing-service/internal/config"
	"jobmate/listing-service/internal/logger"
	"jobmate/listing-service/internal/metrics"
	"jobmate/listing-service/internal/model"
	"jobmate/listing-service/internal/pipeline"
	"jobmate/listing-service/internal/runstate"
	"jobmate/listing-service/internal/scheduler"
)

type fakeJobs struct {
	jobs   []model.Job
	admins []string
}

func (f *fakeJobs) EnabledJobs(context.Context) ([]model.Job, error) {
	var out []model.Job
	for _, j := range f.jobs {
		if j.Enabled {
			out = append(out, j)
		}
	}
	return out, nil
}

func (f *fakeJobs) JobByID(_ context.Context, id string) (model.Job, error) {
	for _, j := range f.jobs {
		if j.ID == id {
			return j, nil
		}
	}
	return model.Job{}, scheduler.ErrJobNotFound
}

func (f *fakeJobs) Admins(context.Context) ([]string, error) { return f.admins, nil }

// blockingExec records executed job ids and holds each run until release
// is closed.
type blockingExec struct {
	mu      sync.Mutex
	ran     []string
	release chan struct{}
}

func newBlockingExec() *blockingExec { return &blockingExec{release: make(chan struct{})} }

func (e *blockingExec) Execute(_ context.Context, job model.Job) pipeline.Result {
	e.mu.Lock()
	e.ran = append(e.ran, job.ID)
	e.mu.Unlock()
	<-e.release
	return pipeline.Result{JobID: job.ID}
}

func (e *blockingExec) executed() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := append([]string(nil), e.ran...)
	sort.Strings(out)
	return out
}

type sentEvent struct {
	ev         model.StatusEvent
	recipients []string
}

type recordingStatus struct {
	mu   sync.Mutex
	sent []sentEvent
}

func (r *recordingStatus) Publish(_ context.Context, ev model.StatusEvent, recipients []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentEvent{ev: ev, recipients: recipients})
}

func (r *recordingStatus) events() []sentEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sentEvent(nil), r.sent...)
}

type fixture struct {
	jobs    *fakeJobs
	exec    *blockingExec
	runs    *runstate.Registry
	status  *recordingStatus
	metrics *metrics.Metrics
}

func newFixture() *fixture {
	return &fixture{
		jobs: &fakeJobs{
			jobs: []model.Job{
				{ID: "j1", OwnerUserID: "alice", Enabled: true, SharedWithUserIDs: []string{"bob"}},
				{ID: "j2", OwnerUserID: "bob", Enabled: true},
				{ID: "j3", OwnerUserID: "alice", Enabled: false},
			},
			admins: []string{"root"},
		},
		exec:    newBlockingExec(),
		runs:    runstate.New(),
		status:  &recordingStatus{},
		metrics: metrics.New(),
	}
}

func (f *fixture) scheduler(opts scheduler.Options) *scheduler.Scheduler {
	return scheduler.New(f.jobs, f.exec, f.runs, f.status, f.metrics, logger.NewNop(), opts)
}

func TestRunAll_ConcurrentTriggersFanOutOnce(t *testing.T) {
	f := newFixture()
	f.jobs.jobs = f.jobs.jobs[:1]
	s := f.scheduler(scheduler.Options{})

	var wg sync.WaitGroup
	results := make([][]string, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			started, err := s.RunAll(context.Background(), nil)
			assert.NoError(t, err)
			results[i] = started
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, len(results[0])+len(results[1]), "exactly one trigger starts the job")
	assert.True(t, f.runs.IsRunning("j1"))

	close(f.exec.release)
	s.Wait()

	assert.Equal(t, []string{"j1"}, f.exec.executed())
	assert.False(t, f.runs.IsRunning("j1"))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Rejected.WithLabelValues("already_running")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Runs.WithLabelValues(scheduler.TriggerManual)))
}

func TestRunAll_Scope(t *testing.T) {
	cases := []struct {
		name  string
		scope *model.User
		want  []string
	}{
		{"unscoped", nil, []string{"j1", "j2"}},
		{"admin", &model.User{ID: "root", Admin: true}, []string{"j1", "j2"}},
		{"owner", &model.User{ID: "alice"}, []string{"j1"}},
		{"stranger", &model.User{ID: "eve"}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			close(f.exec.release)
			s := f.scheduler(scheduler.Options{})

			started, err := s.RunAll(context.Background(), tc.scope)
			require.NoError(t, err)
			s.Wait()

			sort.Strings(started)
			assert.Equal(t, tc.want, started)
			if tc.want == nil {
				assert.Empty(t, f.exec.executed())
			} else {
				assert.Equal(t, tc.want, f.exec.executed())
			}
		})
	}
}

func TestRunOne_BypassesEnabledFlag(t *testing.T) {
	f := newFixture()
	close(f.exec.release)
	s := f.scheduler(scheduler.Options{})

	require.NoError(t, s.RunOne(context.Background(), "j3"))
	s.Wait()

	assert.Equal(t, []string{"j3"}, f.exec.executed())
}

func TestRunOne_UnknownJob(t *testing.T) {
	f := newFixture()
	s := f.scheduler(scheduler.Options{})

	err := s.RunOne(context.Background(), "nope")
	assert.ErrorIs(t, err, scheduler.ErrJobNotFound)
}

func TestRunOne_RejectsWhileRunning(t *testing.T) {
	f := newFixture()
	s := f.scheduler(scheduler.Options{})

	require.NoError(t, s.RunOne(context.Background(), "j1"))
	err := s.RunOne(context.Background(), "j1")
	assert.ErrorIs(t, err, scheduler.ErrAlreadyRunning)

	close(f.exec.release)
	s.Wait()
	assert.Equal(t, []string{"j1"}, f.exec.executed())
}

func TestReadOnly_IsNoOp(t *testing.T) {
	f := newFixture()
	s := f.scheduler(scheduler.Options{ReadOnly: true})

	_, err := s.RunAll(context.Background(), nil)
	assert.ErrorIs(t, err, scheduler.ErrReadOnly)
	assert.ErrorIs(t, s.RunOne(context.Background(), "j1"), scheduler.ErrReadOnly)

	assert.Empty(t, f.exec.executed())
	assert.Empty(t, f.status.events())
	assert.Empty(t, f.runs.Snapshot())
}

func TestStatusEvents_StartAndFinish(t *testing.T) {
	f := newFixture()
	close(f.exec.release)
	s := f.scheduler(scheduler.Options{})

	require.NoError(t, s.RunOne(context.Background(), "j1"))
	s.Wait()

	sent := f.status.events()
	require.Len(t, sent, 2)
	assert.Equal(t, model.StatusEvent{JobID: "j1", Running: true}, sent[0].ev)
	assert.Equal(t, model.StatusEvent{JobID: "j1", Running: false}, sent[1].ev)
	assert.ElementsMatch(t, []string{"alice", "bob", "root"}, sent[0].recipients)
}

func TestStart_OutsideWorkingHoursSkipsScheduledRun(t *testing.T) {
	f := newFixture()
	close(f.exec.release)
	hours, err := config.ParseWorkingHours("08:00", "20:00")
	require.NoError(t, err)

	night := time.Date(2026, 3, 2, 3, 0, 0, 0, time.Local)
	s := f.scheduler(scheduler.Options{
		Interval:     time.Hour,
		WorkingHours: hours,
		Now:          func() time.Time { return night },
	})
	require.NoError(t, s.Start(context.Background()))

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(f.metrics.Rejected.WithLabelValues("outside_hours")) == 1
	}, time.Second, 5*time.Millisecond)
	s.Stop()
	assert.Empty(t, f.exec.executed())

	// manual runs ignore the window
	require.NoError(t, s.RunOne(context.Background(), "j1"))
	s.Wait()
	assert.Equal(t, []string{"j1"}, f.exec.executed())
}

func TestStart_ImmediateTickInsideWorkingHours(t *testing.T) {
	f := newFixture()
	close(f.exec.release)
	s := f.scheduler(scheduler.Options{Interval: time.Hour})
	require.NoError(t, s.Start(context.Background()))

	assert.Eventually(t, func() bool {
		return len(f.exec.executed()) == 2
	}, time.Second, 5*time.Millisecond)
	s.Stop()

	assert.Equal(t, []string{"j1", "j2"}, f.exec.executed())
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.Runs.WithLabelValues(scheduler.TriggerScheduled)))
}

func TestStart_ZeroIntervalDisablesTimer(t *testing.T) {
	f := newFixture()
	s := f.scheduler(scheduler.Options{})
	require.NoError(t, s.Start(context.Background()))

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, f.exec.executed())
	s.Stop()
}

type failingJobs struct{ fakeJobs }

func (failingJobs) EnabledJobs(context.Context) ([]model.Job, error) {
	return nil, errors.New("db down")
}

func TestRunAll_JobSourceError(t *testing.T) {
	f := newFixture()
	s := scheduler.New(&failingJobs{}, f.exec, f.runs, f.status, f.metrics, logger.NewNop(), scheduler.Options{})

	_, err := s.RunAll(context.Background(), nil)
	assert.ErrorContains(t, err, "db down")
}
