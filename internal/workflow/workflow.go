// Package workflow composes intake, the remote client, the poller and the
// local ledger into the two user-facing flows: submitting a vendor batch
// and reconciling a purchase register.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/itcshield/itc/internal/archive"
	"github.com/itcshield/itc/internal/certs"
	"github.com/itcshield/itc/internal/config"
	"github.com/itcshield/itc/internal/history"
	"github.com/itcshield/itc/internal/intake"
	"github.com/itcshield/itc/internal/models"
	"github.com/itcshield/itc/internal/notify"
	"github.com/itcshield/itc/internal/poller"
	"github.com/itcshield/itc/internal/recon"
	"github.com/itcshield/itc/internal/remote"
	"gorm.io/gorm"
)

// notifyTimeout bounds one notification post.
const notifyTimeout = 30 * time.Second

// API is the part of remote.Client the runner uses.
type API interface {
	remote.Submitter
	poller.Fetcher
	DownloadCertificates(ctx context.Context, jobID string) ([]byte, error)
}

// Opts holds parameters for creating a Runner.
type Opts struct {
	API           API
	DB            *gorm.DB
	Notifier      notify.Adapter // optional
	Archive       archive.Sink   // optional
	ArchivePrefix string
	Intake        config.IntakeConfig
	Poll          config.PollConfig
}

// Runner executes batch and reconciliation flows.
type Runner struct {
	api      API
	session  *remote.Session
	db       *gorm.DB
	notifier notify.Adapter
	archive  archive.Sink
	prefix   string
	intake   config.IntakeConfig
	poll     config.PollConfig
	slot     poller.Slot
}

// New creates a Runner.
func New(opts Opts) (*Runner, error) {
	if opts.API == nil {
		return nil, fmt.Errorf("workflow: api client is required")
	}
	if opts.DB == nil {
		return nil, fmt.Errorf("workflow: database is required")
	}
	n := opts.Notifier
	if n == nil {
		n = notify.Nop{}
	}
	return &Runner{
		api:      opts.API,
		session:  remote.NewSession(opts.API),
		db:       opts.DB,
		notifier: n,
		archive:  opts.Archive,
		prefix:   opts.ArchivePrefix,
		intake:   opts.Intake,
		poll:     opts.Poll,
	}, nil
}

// SubmitBatch validates the vendor CSV at path, uploads it and tracks the
// job until it completes, fails or the poll timeout expires. progress, if
// set, sees every accepted reading including the terminal one.
func (r *Runner) SubmitBatch(ctx context.Context, path string, progress func(poller.Job)) (poller.Job, *remote.JobHandle, error) {
	f, err := intake.Open(path)
	if err != nil {
		return poller.Job{}, nil, err
	}
	payload, err := intake.Accept(f, intake.BatchRules(r.intake.BatchMaxBytes), "")
	if err != nil {
		return poller.Job{}, nil, err
	}

	// The previous job stops being tracked before the new upload starts.
	r.Stop()
	h, err := r.session.Submit(ctx, payload)
	if err != nil {
		return poller.Job{}, nil, err
	}
	if _, err := history.RecordSubmission(r.db, h, *f); err != nil {
		log.Printf("workflow: %v", err)
	}

	job, err := r.Track(ctx, h, f.Name, progress)
	return job, h, err
}

// Track polls an already submitted job. Any poller still running from a
// previous call is stopped first.
func (r *Runner) Track(ctx context.Context, h *remote.JobHandle, fileName string, progress func(poller.Job)) (poller.Job, error) {
	report := func(job poller.Job) {
		if err := history.RecordSnapshot(r.db, job); err != nil && !errors.Is(err, history.ErrNotFound) {
			log.Printf("workflow: %v", err)
		}
		if progress != nil {
			progress(job)
		}
	}

	p, err := poller.New(poller.Opts{
		Fetcher:    r.api,
		Interval:   r.poll.Interval,
		MaxBackoff: r.poll.MaxBackoff,
		OnStatus:   report,
		OnComplete: func(job poller.Job) {
			report(job)
			r.send(notify.JobCompleted(job, fileName))
		},
		OnFail: func(job poller.Job) {
			report(job)
			r.send(notify.JobFailed(job, fileName))
		},
	})
	if err != nil {
		return poller.Job{}, err
	}

	runCtx := ctx
	if r.poll.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.poll.Timeout)
		defer cancel()
	}
	r.slot.Replace(p)
	if err := p.Start(runCtx, h); err != nil {
		return poller.Job{}, err
	}
	return p.Wait(context.Background())
}

// Stop halts the job currently being tracked, if any.
func (r *Runner) Stop() { r.slot.Clear() }

// Download fetches and extracts the certificate bundle of a completed job.
func (r *Runner) Download(ctx context.Context, jobID, dir string) (*certs.Bundle, error) {
	data, err := r.api.DownloadCertificates(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return certs.Extract(data, dir)
}

// Reconciliation is a stored, classified reconciliation run.
type Reconciliation struct {
	Run    *models.ReconciliationRun
	Result *recon.Result
	Issues []recon.Issue
}

// Reconcile validates the purchase register at path, asks the service to
// reconcile it against GSTR-2B for period, and records the classified
// result. source tags the run (cli, schedule:<name>).
func (r *Runner) Reconcile(ctx context.Context, path, period, source string) (*Reconciliation, error) {
	f, err := intake.Open(path)
	if err != nil {
		return nil, err
	}
	payload, err := intake.Accept(f, intake.ReconcileRules(r.intake.ReconcileMaxBytes), period)
	if err != nil {
		return nil, err
	}

	body, err := r.session.Reconcile(ctx, payload)
	if err != nil {
		return nil, err
	}
	if body.Period == "" {
		body.Period = period
	}

	run, res, err := history.SaveRun(r.db, body, history.RunMeta{
		FileName:    f.Name,
		Fingerprint: f.Fingerprint,
		Source:      source,
	})
	if err != nil {
		return nil, err
	}
	out := &Reconciliation{Run: run, Result: res, Issues: res.Verify()}
	for _, is := range out.Issues {
		log.Printf("workflow: run %s: %s", run.ID, is)
	}

	if r.archive != nil {
		r.archiveRun(ctx, run, body)
	}
	r.send(notify.ReconciliationDone(run.ID, res, len(out.Issues)))
	return out, nil
}

func (r *Runner) archiveRun(ctx context.Context, run *models.ReconciliationRun, body *recon.Payload) {
	data, err := json.Marshal(body)
	if err != nil {
		log.Printf("workflow: archive run %s: %v", run.ID, err)
		return
	}
	uri, err := r.archive.Put(ctx, archive.ObjectName(r.prefix, run.Period, run.ID, run.CreatedAt), data)
	if err != nil {
		log.Printf("workflow: archive run %s: %v", run.ID, err)
		return
	}
	if err := history.SetArchiveURI(r.db, run.ID, uri); err != nil {
		log.Printf("workflow: %v", err)
		return
	}
	run.ArchiveURI = uri
}

func (r *Runner) send(msg notify.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	if err := r.notifier.Send(ctx, msg); err != nil {
		log.Printf("workflow: notify: %v", err)
	}
}
