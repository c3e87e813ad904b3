package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"toolbox/internal/eventbus"
	logx "toolbox/pkg/logx"
)

type Config struct {
	Enabled  bool
	Timezone string // IANA TZ, e.g. "Asia/Tokyo"
}

// JobFunc is one scheduled run. ctx carries the job timeout.
type JobFunc func(ctx context.Context) error

type jobDef struct {
	name    string
	spec    string
	sched   cron.Schedule // set for interval jobs
	timeout time.Duration
	fn      JobFunc
	entryID cron.EntryID

	mu      sync.Mutex
	lastRun time.Time
	lastErr string
	runs    uint64
}

// JobInfo describes one registered job.
type JobInfo struct {
	Name    string
	Spec    string
	Next    time.Time
	LastRun time.Time
	LastErr string
	Runs    uint64
}

const EventJobFailed = "scheduler.job_failed"

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location
	bus eventbus.Bus

	parser cron.Parser
	c      *cron.Cron
	jobs   map[string]*jobDef
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg: cfg,
		log: log,
		bus: bus,
		// SecondOptional accepts both 5-field and 6-field specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		jobs:   map[string]*jobDef{},
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Location returns the configured timezone (Local when unset or invalid).
func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocationLocked()
}

// Apply updates config; a timezone change restarts cron with every job.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tzChanged := strings.TrimSpace(s.cfg.Timezone) != strings.TrimSpace(cfg.Timezone)
	s.cfg = cfg
	if s.c != nil && tzChanged {
		old := s.c
		s.startLocked()
		old.Stop()
	}
}

func (s *Service) Start(ctx context.Context) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	if !s.cfg.Enabled {
		s.log.Info("scheduler disabled")
		return
	}
	s.startLocked()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.jobs)))
}

func (s *Service) startLocked() {
	s.loc = s.loadLocationLocked()
	cl := cronLogger{log: s.log}
	s.c = cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(s.loc),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	for _, j := range s.jobs {
		if err := s.registerLocked(j); err != nil {
			s.log.Error("job register failed", logx.String("name", j.name), logx.Err(err))
		}
	}
	s.c.Start()
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

// AddSchedule parses spec with ParseSchedule and registers the job.
func (s *Service) AddSchedule(name, spec string, timeout time.Duration, fn JobFunc) error {
	ps, err := ParseSchedule(spec)
	if err != nil {
		return err
	}
	if ps.Kind == SpecInterval {
		return s.AddInterval(name, ps.Every, timeout, fn)
	}
	return s.AddCron(name, ps.Cron, timeout, fn)
}

// AddCron registers or replaces the job called name.
func (s *Service) AddCron(name, spec string, timeout time.Duration, fn JobFunc) error {
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("cron %q: %w", spec, err)
	}
	return s.add(&jobDef{name: name, spec: spec, timeout: timeout, fn: fn})
}

// AddInterval registers or replaces the job called name.
func (s *Service) AddInterval(name string, every time.Duration, timeout time.Duration, fn JobFunc) error {
	if every <= 0 {
		return errors.New("interval must be > 0")
	}
	return s.add(&jobDef{name: name, spec: "@every " + every.String(), sched: cron.Every(every), timeout: timeout, fn: fn})
}

func (s *Service) add(j *jobDef) error {
	if strings.TrimSpace(j.name) == "" {
		return errors.New("name required")
	}
	if j.fn == nil {
		return errors.New("job func required")
	}
	if j.timeout <= 0 {
		j.timeout = time.Minute
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.jobs[j.name]; ok && s.c != nil {
		s.c.Remove(old.entryID)
	}
	s.jobs[j.name] = j
	if s.c == nil {
		return nil
	}
	return s.registerLocked(j)
}

// Remove unregisters a job. Unknown names are ignored.
func (s *Service) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[name]
	if !ok {
		return
	}
	if s.c != nil {
		s.c.Remove(j.entryID)
	}
	delete(s.jobs, name)
}

func (s *Service) registerLocked(j *jobDef) error {
	run := cron.FuncJob(func() { s.runJob(j) })
	if j.sched != nil {
		j.entryID = s.c.Schedule(j.sched, run)
		return nil
	}
	id, err := s.c.AddJob(j.spec, run)
	if err != nil {
		return err
	}
	j.entryID = id
	return nil
}

func (s *Service) runJob(j *jobDef) {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	start := time.Now()
	err := j.fn(ctx)

	j.mu.Lock()
	j.lastRun = start
	j.runs++
	j.lastErr = ""
	if err != nil {
		j.lastErr = err.Error()
	}
	j.mu.Unlock()

	if err != nil {
		s.log.Warn("job failed", logx.String("name", j.name), logx.Duration("took", time.Since(start)), logx.Err(err))
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: EventJobFailed, Data: map[string]string{"job": j.name, "err": err.Error()}})
		}
		return
	}
	s.log.Debug("job done", logx.String("name", j.name), logx.Duration("took", time.Since(start)))
}

// RunNow runs a registered job synchronously (admin command, tests).
func (s *Service) RunNow(name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	s.runJob(j)
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.lastErr != "" {
		return errors.New(j.lastErr)
	}
	return nil
}

// Jobs lists registered jobs by name.
func (s *Service) Jobs() []JobInfo {
	s.mu.Lock()
	out := make([]JobInfo, 0, len(s.jobs))
	for _, j := range s.jobs {
		info := JobInfo{Name: j.name, Spec: j.spec}
		if s.c != nil {
			info.Next = s.c.Entry(j.entryID).Next
		}
		j.mu.Lock()
		info.LastRun, info.LastErr, info.Runs = j.lastRun, j.lastErr, j.runs
		j.mu.Unlock()
		out = append(out, info)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; using local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// cronLogger adapts logx to cron.Logger for the Recover/Skip wrappers.
type cronLogger struct{ log logx.Logger }

func (c cronLogger) Info(msg string, kv ...interface{}) {
	c.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (c cronLogger) Error(err error, msg string, kv ...interface{}) {
	c.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
