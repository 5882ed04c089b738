package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/itcshield/itc/internal/remote"
)

// scriptFetcher replays a fixed sequence of readings. Once the script is
// exhausted it keeps returning the last step.
type scriptFetcher struct {
	mu    sync.Mutex
	steps []step
	calls int
}

type step struct {
	status remote.JobStatus
	err    error
	report *remote.JobReport
}

func (f *scriptFetcher) Status(ctx context.Context, jobID string) (*remote.JobReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	if i >= len(f.steps) {
		i = len(f.steps) - 1
	}
	f.calls++
	s := f.steps[i]
	if s.err != nil {
		return nil, s.err
	}
	if s.report != nil {
		r := *s.report
		return &r, nil
	}
	return &remote.JobReport{JobID: jobID, Status: s.status}, nil
}

func (f *scriptFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// recorder collects callback invocations.
type recorder struct {
	mu        sync.Mutex
	statuses  []remote.JobStatus
	completed int
	failed    int
	last      Job
}

func (r *recorder) opts(f Fetcher, interval time.Duration) Opts {
	return Opts{
		Fetcher:    f,
		Interval:   interval,
		MaxBackoff: 4 * interval,
		OnStatus: func(j Job) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.statuses = append(r.statuses, j.Status)
			r.last = j
		},
		OnComplete: func(j Job) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.statuses = append(r.statuses, j.Status)
			r.completed++
			r.last = j
		},
		OnFail: func(j Job) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.statuses = append(r.statuses, j.Status)
			r.failed++
			r.last = j
		},
	}
}

func (r *recorder) snapshot() ([]remote.JobStatus, int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]remote.JobStatus(nil), r.statuses...), r.completed, r.failed
}

func handle(id string) *remote.JobHandle {
	return &remote.JobHandle{JobID: id, Status: remote.StatusQueued}
}

func waitDone(t *testing.T, p *Poller) {
	t.Helper()
	select {
	case <-p.done:
	case <-time.After(5 * time.Second):
		t.Fatal("poller did not finish")
	}
}

// isLifecycle reports whether seq matches queued* processing* (completed|failed)?
func isLifecycle(seq []remote.JobStatus) bool {
	phase := 0
	for i, s := range seq {
		switch s {
		case remote.StatusQueued:
			if phase > 0 {
				return false
			}
		case remote.StatusProcessing:
			if phase > 1 {
				return false
			}
			phase = 1
		case remote.StatusCompleted, remote.StatusFailed:
			if i != len(seq)-1 {
				return false
			}
			phase = 2
		default:
			return false
		}
	}
	return true
}

// --- New / Start tests ---

func TestNew_RequiresFetcher(t *testing.T) {
	if _, err := New(Opts{}); err == nil {
		t.Fatal("expected error for nil fetcher")
	}
}

func TestNew_Defaults(t *testing.T) {
	p, err := New(Opts{Fetcher: &scriptFetcher{}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.interval != DefaultInterval {
		t.Errorf("interval = %v, want %v", p.interval, DefaultInterval)
	}
	if p.maxBackoff != DefaultMaxBackoff {
		t.Errorf("maxBackoff = %v, want %v", p.maxBackoff, DefaultMaxBackoff)
	}
	if got := p.Snapshot().State; got != StateIdle {
		t.Errorf("State = %q, want idle", got)
	}
}

func TestStart_Validation(t *testing.T) {
	f := &scriptFetcher{steps: []step{{status: remote.StatusCompleted}}}
	p, _ := New(Opts{Fetcher: f, Interval: time.Millisecond})

	if err := p.Start(context.Background(), nil); err == nil {
		t.Error("expected error for nil handle")
	}
	if err := p.Start(context.Background(), &remote.JobHandle{}); err == nil {
		t.Error("expected error for empty job id")
	}
	if err := p.Start(context.Background(), handle("j1")); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Start(context.Background(), handle("j1")); err == nil {
		t.Error("expected error for second Start")
	}
	waitDone(t, p)
}

func TestWait_NotStarted(t *testing.T) {
	p, _ := New(Opts{Fetcher: &scriptFetcher{}})
	if _, err := p.Wait(context.Background()); err == nil {
		t.Fatal("expected error from Wait before Start")
	}
	p.Stop() // no-op
}

// --- Lifecycle tests ---

func TestPoller_ImmediateFirstCheck(t *testing.T) {
	f := &scriptFetcher{steps: []step{{status: remote.StatusCompleted}}}
	var rec recorder
	p, _ := New(rec.opts(f, time.Hour))

	if err := p.Start(context.Background(), handle("j1")); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	job, err := p.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v (an hour-long interval means the first check did not run immediately)", err)
	}
	if job.State != StateCompleted {
		t.Errorf("State = %q, want completed", job.State)
	}
}

func TestPoller_CompletedCarriesResult(t *testing.T) {
	f := &scriptFetcher{steps: []step{
		{report: &remote.JobReport{JobID: "j1", Status: remote.StatusProcessing, Total: 3, Processed: 1}},
		{report: &remote.JobReport{JobID: "j1", Status: remote.StatusCompleted, Total: 3, Processed: 3, Success: 3}},
	}}
	var rec recorder
	p, _ := New(rec.opts(f, time.Millisecond))
	p.Start(context.Background(), handle("j1"))

	job, err := p.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if job.Result == nil || job.Result.Success != 3 || job.Result.Failed != 0 {
		t.Errorf("Result = %+v, want success 3 failed 0", job.Result)
	}
	if job.Error != "" {
		t.Errorf("Error = %q, want empty", job.Error)
	}
}

func TestPoller_CompletionFiresOnceAndStopsChecks(t *testing.T) {
	f := &scriptFetcher{steps: []step{
		{status: remote.StatusProcessing},
		{status: remote.StatusProcessing},
		{status: remote.StatusCompleted},
	}}
	var rec recorder
	p, _ := New(rec.opts(f, 2*time.Millisecond))
	p.Start(context.Background(), handle("j1"))
	waitDone(t, p)

	if p.Active() {
		t.Error("Active() = true after completion")
	}
	calls := f.callCount()
	if calls != 3 {
		t.Errorf("status calls = %d, want 3", calls)
	}

	time.Sleep(20 * time.Millisecond)
	if f.callCount() != calls {
		t.Errorf("status checked after completion: %d calls", f.callCount())
	}
	seq, completed, failed := rec.snapshot()
	if completed != 1 || failed != 0 {
		t.Errorf("completed = %d, failed = %d, want 1, 0", completed, failed)
	}
	if !isLifecycle(seq) {
		t.Errorf("observed statuses %v are not a valid lifecycle", seq)
	}
}

func TestPoller_TransientErrorKeepsPolling(t *testing.T) {
	transport := &remote.TransportError{Op: "job status", Err: errors.New("connection reset")}
	f := &scriptFetcher{steps: []step{
		{status: remote.StatusProcessing},
		{err: transport},
		{status: remote.StatusProcessing},
	}}
	seen := make(chan Job, 16)
	p, _ := New(Opts{
		Fetcher:  f,
		Interval: time.Millisecond,
		OnStatus: func(j Job) {
			select {
			case seen <- j:
			default:
			}
		},
		OnFail: func(j Job) { t.Errorf("OnFail called: %+v", j) },
	})
	p.Start(context.Background(), handle("j1"))
	defer p.Stop()

	for i := 0; i < 2; i++ {
		select {
		case <-seen:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for status readings")
		}
	}
	job := p.Snapshot()
	if job.State != StatePolling {
		t.Errorf("State = %q, want polling", job.State)
	}
	if job.Error != "" {
		t.Errorf("Error = %q, want empty", job.Error)
	}
	if job.TransientErrors < 1 {
		t.Errorf("TransientErrors = %d, want >= 1", job.TransientErrors)
	}
}

func TestPoller_Failed(t *testing.T) {
	f := &scriptFetcher{steps: []step{
		{status: remote.StatusQueued},
		{report: &remote.JobReport{Status: remote.StatusFailed, Error: "GSP provider unavailable"}},
	}}
	var rec recorder
	p, _ := New(rec.opts(f, time.Millisecond))
	p.Start(context.Background(), handle("j1"))

	job, err := p.Wait(context.Background())
	var jf *JobFailedError
	if !errors.As(err, &jf) {
		t.Fatalf("Wait err = %v, want JobFailedError", err)
	}
	if jf.Message != "GSP provider unavailable" || job.Error != jf.Message {
		t.Errorf("message = %q / %q", jf.Message, job.Error)
	}
	if job.Result != nil {
		t.Error("Result set on failed job")
	}
	_, completed, failed := rec.snapshot()
	if completed != 0 || failed != 1 {
		t.Errorf("completed = %d, failed = %d, want 0, 1", completed, failed)
	}
}

func TestPoller_FailedWithoutReason(t *testing.T) {
	f := &scriptFetcher{steps: []step{{status: remote.StatusFailed}}}
	p, _ := New(Opts{Fetcher: f, Interval: time.Millisecond})
	p.Start(context.Background(), handle("j1"))
	job, _ := p.Wait(context.Background())
	if job.Error == "" {
		t.Error("failed job has empty error message")
	}
}

func TestPoller_StaleReadingDiscarded(t *testing.T) {
	f := &scriptFetcher{steps: []step{
		{status: remote.StatusProcessing},
		{status: remote.StatusQueued},
		{status: remote.StatusCompleted},
	}}
	var rec recorder
	p, _ := New(rec.opts(f, time.Millisecond))
	p.Start(context.Background(), handle("j1"))
	waitDone(t, p)

	seq, completed, _ := rec.snapshot()
	want := []remote.JobStatus{remote.StatusProcessing, remote.StatusCompleted}
	if len(seq) != len(want) || seq[0] != want[0] || seq[1] != want[1] {
		t.Errorf("statuses = %v, want %v", seq, want)
	}
	if completed != 1 {
		t.Errorf("completed = %d, want 1", completed)
	}
	if got := p.Snapshot().Polls; got != 2 {
		t.Errorf("Polls = %d, want 2", got)
	}
}

func TestPoller_NoTransitionAfterTerminal(t *testing.T) {
	p, _ := New(Opts{Fetcher: &scriptFetcher{}, Interval: time.Millisecond})
	p.job = Job{ID: "j1", State: StateCompleted, Status: remote.StatusCompleted}

	if !p.apply(&remote.JobReport{Status: remote.StatusProcessing}) {
		t.Error("apply after terminal should report terminal")
	}
	if got := p.Snapshot(); got.State != StateCompleted || got.Status != remote.StatusCompleted {
		t.Errorf("snapshot = %+v, want unchanged completed", got)
	}
}

func TestPoller_RejectedCheckEndsPolling(t *testing.T) {
	notFound := &remote.ValidationError{StatusCode: 404, Message: "Job not found"}
	f := &scriptFetcher{steps: []step{{err: notFound}}}
	var rec recorder
	p, _ := New(rec.opts(f, time.Millisecond))
	p.Start(context.Background(), handle("missing"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	job, err := p.Wait(ctx)

	var ve *remote.ValidationError
	if !errors.As(err, &ve) || ve.StatusCode != 404 {
		t.Fatalf("Wait err = %v, want the 404 ValidationError", err)
	}
	if errors.Is(err, ErrStopped) {
		t.Error("rejected check reported as ErrStopped")
	}
	if f.callCount() != 1 {
		t.Errorf("status calls = %d, want 1", f.callCount())
	}
	if job.TransientErrors != 0 || job.State.Terminal() {
		t.Errorf("job = %+v", job)
	}
	if p.Active() {
		t.Error("Active() = true after rejection")
	}
	if _, completed, failed := rec.snapshot(); completed != 0 || failed != 0 {
		t.Errorf("completed = %d, failed = %d, want 0, 0", completed, failed)
	}
}

func TestPoller_UnauthenticatedEndsPolling(t *testing.T) {
	f := &scriptFetcher{steps: []step{{err: fmt.Errorf("%w (HTTP 401)", remote.ErrUnauthenticated)}}}
	p, _ := New(Opts{Fetcher: f, Interval: time.Millisecond})
	p.Start(context.Background(), handle("j1"))

	if _, err := p.Wait(context.Background()); !errors.Is(err, remote.ErrUnauthenticated) {
		t.Fatalf("Wait err = %v, want ErrUnauthenticated", err)
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"transport", &remote.TransportError{Op: "job status", Err: errors.New("reset")}, true},
		{"throttled", &remote.ValidationError{StatusCode: 429, Message: "slow down"}, true},
		{"not found", &remote.ValidationError{StatusCode: 404, Message: "Job not found"}, false},
		{"unauthenticated", remote.ErrUnauthenticated, false},
		{"unknown", errors.New("boom"), false},
	}
	for _, tt := range tests {
		if got := retryable(tt.err); got != tt.want {
			t.Errorf("retryable(%s) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

// --- Cancellation tests ---

// gateFetcher blocks each call until released, ignoring ctx.
type gateFetcher struct {
	entered chan struct{}
	release chan struct{}
}

func (g *gateFetcher) Status(ctx context.Context, jobID string) (*remote.JobReport, error) {
	g.entered <- struct{}{}
	<-g.release
	return &remote.JobReport{JobID: jobID, Status: remote.StatusCompleted}, nil
}

func TestPoller_CancelDiscardsInFlightReading(t *testing.T) {
	g := &gateFetcher{entered: make(chan struct{}, 1), release: make(chan struct{})}
	var rec recorder
	p, _ := New(rec.opts(g, time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx, handle("j1"))
	<-g.entered
	cancel()
	close(g.release)
	waitDone(t, p)

	if _, completed, _ := rec.snapshot(); completed != 0 {
		t.Errorf("completed = %d, want 0 after teardown", completed)
	}
	if got := p.Snapshot().State; got.Terminal() {
		t.Errorf("State = %q, reading applied after teardown", got)
	}
	_, err := p.Wait(context.Background())
	if !errors.Is(err, ErrStopped) {
		t.Errorf("Wait err = %v, want ErrStopped", err)
	}
}

func TestPoller_StopHaltsChecks(t *testing.T) {
	f := &scriptFetcher{steps: []step{{status: remote.StatusProcessing}}}
	p, _ := New(Opts{Fetcher: f, Interval: time.Millisecond})
	p.Start(context.Background(), handle("j1"))

	deadline := time.Now().Add(5 * time.Second)
	for f.callCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	p.Stop()
	if p.Active() {
		t.Error("Active() = true after Stop")
	}
	calls := f.callCount()
	time.Sleep(20 * time.Millisecond)
	if f.callCount() != calls {
		t.Errorf("checks continued after Stop: %d -> %d", calls, f.callCount())
	}
	p.Stop() // idempotent
}

func TestPoller_WaitContextDeadline(t *testing.T) {
	f := &scriptFetcher{steps: []step{{status: remote.StatusProcessing}}}
	p, _ := New(Opts{Fetcher: f, Interval: time.Millisecond})
	p.Start(context.Background(), handle("j1"))
	defer p.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := p.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait err = %v, want DeadlineExceeded", err)
	}
}

// --- Backoff tests ---

func TestBackoff(t *testing.T) {
	p, _ := New(Opts{Fetcher: &scriptFetcher{}, Interval: 3 * time.Second, MaxBackoff: 30 * time.Second})
	tests := []struct {
		failures int
		want     time.Duration
	}{
		{1, 6 * time.Second},
		{2, 12 * time.Second},
		{3, 24 * time.Second},
		{4, 30 * time.Second},
		{50, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := p.backoff(tt.failures); got != tt.want {
			t.Errorf("backoff(%d) = %v, want %v", tt.failures, got, tt.want)
		}
	}
}

func TestBackoff_CeilingBelowInterval(t *testing.T) {
	p, _ := New(Opts{Fetcher: &scriptFetcher{}, Interval: 10 * time.Second, MaxBackoff: time.Second})
	if got := p.backoff(3); got != 10*time.Second {
		t.Errorf("backoff = %v, want interval 10s", got)
	}
}

func TestPoller_RecoversAfterRepeatedErrors(t *testing.T) {
	e := &remote.TransportError{Op: "job status", Err: errors.New("timeout")}
	f := &scriptFetcher{steps: []step{{err: e}, {err: e}, {err: e}, {status: remote.StatusCompleted}}}
	p, _ := New(Opts{Fetcher: f, Interval: time.Millisecond, MaxBackoff: 4 * time.Millisecond})
	p.Start(context.Background(), handle("j1"))

	job, err := p.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if job.TransientErrors != 3 {
		t.Errorf("TransientErrors = %d, want 3", job.TransientErrors)
	}
}

// --- Slot tests ---

func TestSlot_ReplaceStopsPrevious(t *testing.T) {
	f := &scriptFetcher{steps: []step{{status: remote.StatusProcessing}}}
	first, _ := New(Opts{Fetcher: f, Interval: time.Millisecond})
	first.Start(context.Background(), handle("old"))

	var s Slot
	s.Replace(first)
	if s.Current() != first {
		t.Fatal("Current() != first")
	}

	second, _ := New(Opts{Fetcher: f, Interval: time.Millisecond})
	s.Replace(second)
	if first.Active() {
		t.Error("previous poller still active after Replace")
	}
	select {
	case <-first.done:
	default:
		t.Error("previous poller goroutine still running after Replace")
	}
	if s.Current() != second {
		t.Error("Current() != second")
	}

	s.Clear()
	if s.Current() != nil {
		t.Error("Current() != nil after Clear")
	}
}
