// Package schedule runs recurring reconciliations from cron expressions.
package schedule

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/itcshield/itc/internal/config"
	"github.com/robfig/cron/v3"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

var periodPattern = regexp.MustCompile(`^(0[1-9]|1[0-2])\d{4}$`)

// RunFunc performs one scheduled reconciliation for a resolved period.
type RunFunc func(ctx context.Context, sched config.ScheduleConfig, period string) error

// Entry is a registered schedule and its next fire time.
type Entry struct {
	Name string
	Spec string
	Next time.Time
}

// Scheduler fires configured reconciliations. A schedule whose previous
// run is still going is skipped, never queued.
type Scheduler struct {
	cron  *cron.Cron
	run   RunFunc
	ids   map[string]cron.EntryID
	specs map[string]string
	now   func() time.Time

	mu  sync.Mutex
	ctx context.Context // set by Run
}

// New validates every schedule and registers it. Nothing fires until Run.
func New(schedules []config.ScheduleConfig, run RunFunc) (*Scheduler, error) {
	if run == nil {
		return nil, fmt.Errorf("schedule: run func is required")
	}
	logger := cron.PrintfLogger(log.Default())
	s := &Scheduler{
		cron: cron.New(
			cron.WithParser(cronParser),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		run:   run,
		ids:   make(map[string]cron.EntryID, len(schedules)),
		specs: make(map[string]string, len(schedules)),
		now:   time.Now,
		ctx:   context.Background(),
	}

	for _, sc := range schedules {
		if _, dup := s.ids[sc.Name]; dup {
			return nil, fmt.Errorf("schedule: %s: duplicate name", sc.Name)
		}
		if _, err := ResolvePeriod(sc.Period, s.now()); err != nil {
			return nil, fmt.Errorf("schedule: %s: %w", sc.Name, err)
		}
		id, err := s.cron.AddFunc(sc.Cron, func() { s.fire(sc) })
		if err != nil {
			return nil, fmt.Errorf("schedule: %s: invalid cron %q: %w", sc.Name, sc.Cron, err)
		}
		s.ids[sc.Name] = id
		s.specs[sc.Name] = sc.Cron
	}
	return s, nil
}

// Run starts the scheduler and blocks until ctx is done. In-flight runs
// receive ctx and are waited for before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	log.Printf("schedule: started with %d schedule(s)", len(s.ids))
	<-ctx.Done()
	<-s.cron.Stop().Done()
	log.Printf("schedule: stopped")
	return nil
}

// Entries lists the schedules with their next fire time, soonest first.
// Next is zero until Run starts the scheduler.
func (s *Scheduler) Entries() []Entry {
	out := make([]Entry, 0, len(s.ids))
	for name, id := range s.ids {
		e := s.cron.Entry(id)
		out = append(out, Entry{Name: name, Spec: s.specs[name], Next: e.Next})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Next.Equal(out[j].Next) {
			return out[i].Name < out[j].Name
		}
		return out[i].Next.Before(out[j].Next)
	})
	return out
}

// Trigger runs sc immediately, outside the cron.
func (s *Scheduler) Trigger(ctx context.Context, sc config.ScheduleConfig) error {
	period, err := ResolvePeriod(sc.Period, s.now())
	if err != nil {
		return fmt.Errorf("schedule: %s: %w", sc.Name, err)
	}
	return s.run(ctx, sc, period)
}

func (s *Scheduler) fire(sc config.ScheduleConfig) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx.Err() != nil {
		return
	}

	period, err := ResolvePeriod(sc.Period, s.now())
	if err != nil {
		log.Printf("schedule: %s: %v", sc.Name, err)
		return
	}
	log.Printf("schedule: %s: reconciling %s for %s", sc.Name, sc.File, period)
	if err := s.run(ctx, sc, period); err != nil {
		log.Printf("schedule: %s: %v", sc.Name, err)
	}
}

// NextRun returns the next fire time of spec after from.
func NextRun(spec string, from time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(spec)
	if err != nil {
		return time.Time{}, fmt.Errorf("schedule: invalid cron %q: %w", spec, err)
	}
	return sched.Next(from), nil
}

// ResolvePeriod turns a schedule period into an MMYYYY return period.
// "previous" is the month before now, "current" the month of now; any
// other value must already be MMYYYY.
func ResolvePeriod(spec string, now time.Time) (string, error) {
	switch spec {
	case "", "previous":
		first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		prev := first.AddDate(0, -1, 0)
		return fmt.Sprintf("%02d%04d", int(prev.Month()), prev.Year()), nil
	case "current":
		return fmt.Sprintf("%02d%04d", int(now.Month()), now.Year()), nil
	}
	if !periodPattern.MatchString(spec) {
		return "", fmt.Errorf("period %q must be previous, current or MMYYYY", spec)
	}
	return spec, nil
}
