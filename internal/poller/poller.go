// Package poller tracks one batch job from submission to a terminal status.
//
// A Poller runs a single goroutine per job: an immediate status check, then
// one check per interval until the service reports completed or failed.
// Checks that fail in transport (network errors, unusable responses) are
// retried with backoff and never fail the job. A structured rejection from
// the service, such as an unknown job id, ends polling.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/itcshield/itc/internal/remote"
)

// Defaults for Opts.
const (
	DefaultInterval   = 3 * time.Second
	DefaultMaxBackoff = 30 * time.Second
)

// State is the client-side lifecycle of a tracked job.
type State string

const (
	StateIdle      State = "idle"
	StateSubmitted State = "submitted"
	StatePolling   State = "polling"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// ErrStopped is returned by Wait when polling ended before a terminal state,
// through Stop or cancellation of the Start context.
var ErrStopped = errors.New("poller: stopped before the job finished")

// JobFailedError is returned by Wait when the service reports the job failed.
type JobFailedError struct {
	JobID   string
	Message string
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("job %s failed: %s", e.JobID, e.Message)
}

// Job is a snapshot of a tracked job.
type Job struct {
	ID              string
	State           State
	Status          remote.JobStatus
	Result          *remote.JobReport // set only in StateCompleted
	Error           string            // set only in StateFailed
	Last            *remote.JobReport // most recent accepted reading
	Polls           int               // accepted readings
	TransientErrors int               // failed checks, never surfaced
	UpdatedAt       time.Time
}

// Fetcher reads the current status of a job.
type Fetcher interface {
	Status(ctx context.Context, jobID string) (*remote.JobReport, error)
}

// Opts holds parameters for creating a Poller. Callbacks run on the polling
// goroutine and must not call Stop.
type Opts struct {
	Fetcher    Fetcher
	Interval   time.Duration // defaults to DefaultInterval
	MaxBackoff time.Duration // ceiling for retry delay, defaults to DefaultMaxBackoff

	OnStatus   func(Job) // each accepted non-terminal reading
	OnComplete func(Job) // exactly once, on completed
	OnFail     func(Job) // exactly once, on failed
}

// Poller tracks a single job. It is not reusable.
type Poller struct {
	fetcher    Fetcher
	interval   time.Duration
	maxBackoff time.Duration
	onStatus   func(Job)
	onComplete func(Job)
	onFail     func(Job)

	mu      sync.Mutex
	job     Job
	started bool
	active  bool
	runErr  error
	reject  error
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a Poller in StateIdle.
func New(opts Opts) (*Poller, error) {
	if opts.Fetcher == nil {
		return nil, fmt.Errorf("poller: fetcher is required")
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	maxBackoff := opts.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = DefaultMaxBackoff
	}
	if maxBackoff < interval {
		maxBackoff = interval
	}
	return &Poller{
		fetcher:    opts.Fetcher,
		interval:   interval,
		maxBackoff: maxBackoff,
		onStatus:   opts.OnStatus,
		onComplete: opts.OnComplete,
		onFail:     opts.OnFail,
		job:        Job{State: StateIdle},
		done:       make(chan struct{}),
	}, nil
}

// Start begins tracking the job named by h. The first status check is issued
// immediately. Cancelling ctx stops polling the same way Stop does.
func (p *Poller) Start(ctx context.Context, h *remote.JobHandle) error {
	if h == nil || h.JobID == "" {
		return fmt.Errorf("poller: job handle has no id")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return fmt.Errorf("poller: already started for job %s", p.job.ID)
	}
	p.started = true
	p.active = true

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.job = Job{
		ID:        h.JobID,
		State:     StateSubmitted,
		Status:    h.Status,
		UpdatedAt: time.Now(),
	}
	go p.run(runCtx, h.JobID)
	return nil
}

// Stop cancels polling and waits for the polling goroutine to exit. No
// check is issued and no callback runs after Stop returns. Safe to call more
// than once and before Start.
func (p *Poller) Stop() {
	p.mu.Lock()
	started := p.started
	cancel := p.cancel
	p.mu.Unlock()
	if !started {
		return
	}
	cancel()
	<-p.done
}

// Active reports whether the polling goroutine (and its timer) is alive.
func (p *Poller) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Snapshot returns the current job state.
func (p *Poller) Snapshot() Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.job
}

// Wait blocks until polling ends or ctx is done. It returns a
// *JobFailedError when the service failed the job, wraps the service's
// error when it rejected a status check, and wraps ErrStopped when polling
// ended early.
func (p *Poller) Wait(ctx context.Context) (Job, error) {
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if !started {
		return p.Snapshot(), fmt.Errorf("poller: not started")
	}

	select {
	case <-p.done:
	case <-ctx.Done():
		return p.Snapshot(), ctx.Err()
	}

	p.mu.Lock()
	job, runErr, reject := p.job, p.runErr, p.reject
	p.mu.Unlock()
	switch job.State {
	case StateCompleted:
		return job, nil
	case StateFailed:
		return job, &JobFailedError{JobID: job.ID, Message: job.Error}
	}
	if reject != nil {
		return job, fmt.Errorf("poller: job %s: %w", job.ID, reject)
	}
	if runErr != nil {
		return job, fmt.Errorf("%w: job %s last seen %s: %v", ErrStopped, job.ID, job.Status, runErr)
	}
	return job, fmt.Errorf("%w: job %s last seen %s", ErrStopped, job.ID, job.Status)
}

func (p *Poller) run(ctx context.Context, jobID string) {
	timer := time.NewTimer(0)
	defer func() {
		timer.Stop()
		p.mu.Lock()
		p.active = false
		p.runErr = ctx.Err()
		p.mu.Unlock()
		close(p.done)
	}()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		p.mu.Lock()
		if p.job.State == StateSubmitted {
			p.job.State = StatePolling
		}
		p.mu.Unlock()

		rep, err := p.fetcher.Status(ctx, jobID)
		if ctx.Err() != nil {
			// Torn down while the request was out; the reading is discarded.
			return
		}
		if err != nil && !retryable(err) {
			p.mu.Lock()
			p.reject = err
			p.mu.Unlock()
			log.Printf("poller: job %s: status check rejected, giving up: %v", jobID, err)
			return
		}
		if err != nil {
			failures++
			delay := p.backoff(failures)
			p.mu.Lock()
			p.job.TransientErrors++
			p.mu.Unlock()
			log.Printf("poller: job %s: status check failed (%d in a row), next check in %v: %v",
				jobID, failures, delay, transportDetail(err))
			timer.Reset(delay)
			continue
		}
		failures = 0

		if p.apply(rep) {
			return
		}
		timer.Reset(p.interval)
	}
}

// backoff doubles the interval per consecutive failure up to maxBackoff.
func (p *Poller) backoff(failures int) time.Duration {
	d := p.interval
	for i := 0; i < failures && d < p.maxBackoff; i++ {
		d *= 2
	}
	if d > p.maxBackoff {
		d = p.maxBackoff
	}
	return d
}

// statusRank orders statuses so a reading can never move the job backwards.
func statusRank(s remote.JobStatus) int {
	switch s {
	case remote.StatusQueued:
		return 0
	case remote.StatusProcessing:
		return 1
	case remote.StatusCompleted, remote.StatusFailed:
		return 2
	}
	return -1
}

// apply folds one reading into the job and fires callbacks. It reports
// whether the job reached a terminal state.
func (p *Poller) apply(rep *remote.JobReport) bool {
	p.mu.Lock()
	if p.job.State.Terminal() {
		p.mu.Unlock()
		return true
	}
	if p.job.Polls > 0 && statusRank(rep.Status) < statusRank(p.job.Status) {
		log.Printf("poller: job %s: discarding stale %s after %s", p.job.ID, rep.Status, p.job.Status)
		p.mu.Unlock()
		return false
	}

	cp := *rep
	p.job.Status = rep.Status
	p.job.Last = &cp
	p.job.Polls++
	p.job.UpdatedAt = time.Now()

	var cb func(Job)
	switch rep.Status {
	case remote.StatusCompleted:
		p.job.State = StateCompleted
		p.job.Result = &cp
		cb = p.onComplete
	case remote.StatusFailed:
		p.job.State = StateFailed
		p.job.Error = rep.FailureMessage()
		cb = p.onFail
	default:
		p.job.State = StatePolling
		cb = p.onStatus
	}
	snap := p.job
	terminal := snap.State.Terminal()
	p.mu.Unlock()

	if cb != nil {
		cb(snap)
	}
	return terminal
}

// retryable reports whether a failed check may succeed on its own:
// transport failures and throttling. Anything else the service said about
// the job will not change by asking again.
func retryable(err error) bool {
	var te *remote.TransportError
	if errors.As(err, &te) {
		return true
	}
	var ve *remote.ValidationError
	if errors.As(err, &ve) {
		return ve.StatusCode == http.StatusRequestTimeout || ve.StatusCode == http.StatusTooManyRequests
	}
	return false
}

func transportDetail(err error) string {
	var te *remote.TransportError
	if errors.As(err, &te) {
		return te.Detail()
	}
	return err.Error()
}
