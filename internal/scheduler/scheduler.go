// Package scheduler runs workflow files on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/rendis/assertflow/internal/loader"
	"github.com/rendis/assertflow/internal/logging"
	"github.com/rendis/assertflow/pkg/schema"
)

// Runner runs a workflow to its outcome. Satisfied by *engine.Engine.
type Runner interface {
	Run(ctx context.Context, wf *schema.WorkflowDefinition, initial map[string]any) (*schema.RunOutcome, error)
}

// WorkflowSource loads workflow files. Satisfied by *loader.Loader.
type WorkflowSource interface {
	LoadFile(path string) (*loader.Loaded, error)
}

// Job schedules one workflow file.
type Job struct {
	Name     string         `yaml:"name" json:"name"`
	Cron     string         `yaml:"cron" json:"cron"`
	Workflow string         `yaml:"workflow" json:"workflow"`
	Vars     map[string]any `yaml:"vars,omitempty" json:"vars,omitempty"`
	Timeout  string         `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// JobStatus reports the state of a scheduled job.
type JobStatus struct {
	Job
	NextRunAt   time.Time          `json:"next_run_at"`
	LastRunAt   *time.Time         `json:"last_run_at,omitempty"`
	LastOutcome schema.OutcomeKind `json:"last_outcome,omitempty"`
	LastError   string             `json:"last_error,omitempty"`
	Running     bool               `json:"running"`
	Runs        int                `json:"runs"`
	Skipped     int                `json:"skipped"`
}

// Config tunes the scheduler loop.
type Config struct {
	Interval time.Duration // poll interval (default 30s)
}

type entry struct {
	status   JobStatus
	schedule cron.Schedule
	timeout  time.Duration
}

// Scheduler polls its jobs and runs the ones that are due. A job that is
// still running when it comes due again is skipped for that occurrence.
type Scheduler struct {
	runner   Runner
	source   WorkflowSource
	parser   cron.Parser
	logger   *zap.Logger
	interval time.Duration
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
	cancel  context.CancelFunc
	done    chan struct{}
	running sync.WaitGroup
}

// New creates a Scheduler. A nil logger disables logging.
func New(runner Runner, source WorkflowSource, logger *zap.Logger, cfg Config) *Scheduler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Scheduler{
		runner:   runner,
		source:   source,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		logger:   logging.OrNop(logger),
		interval: interval,
		now:      func() time.Time { return time.Now().UTC() },
		entries:  make(map[string]*entry),
	}
}

// LoadJobs reads a schedules file: a YAML document with a top-level
// "schedules" list. Relative workflow paths are resolved against the
// file's directory.
func LoadJobs(path string) ([]Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeLoad, "read schedules %s: %s", path, err.Error()).WithCause(err)
	}

	var doc struct {
		Schedules []Job `yaml:"schedules"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeLoad, "parse schedules %s: %s", path, err.Error()).WithCause(err)
	}

	dir := filepath.Dir(path)
	for i := range doc.Schedules {
		wf := doc.Schedules[i].Workflow
		if wf != "" && !filepath.IsAbs(wf) {
			doc.Schedules[i].Workflow = filepath.Join(dir, wf)
		}
	}
	return doc.Schedules, nil
}

// Add registers a job. Names must be unique.
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" {
		return schema.NewError(schema.ErrCodeValidation, "schedule name is required")
	}
	if job.Workflow == "" {
		return schema.NewErrorf(schema.ErrCodeValidation, "schedule %q: workflow is required", job.Name)
	}
	sched, err := s.parser.Parse(job.Cron)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "schedule %q: invalid cron expression %q: %s", job.Name, job.Cron, err.Error()).WithCause(err)
	}
	var timeout time.Duration
	if job.Timeout != "" {
		timeout, err = time.ParseDuration(job.Timeout)
		if err != nil || timeout <= 0 {
			return schema.NewErrorf(schema.ErrCodeValidation, "schedule %q: invalid timeout %q", job.Name, job.Timeout)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[job.Name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "schedule %q already exists", job.Name)
	}
	s.entries[job.Name] = &entry{
		status:   JobStatus{Job: job, NextRunAt: sched.Next(s.now())},
		schedule: sched,
		timeout:  timeout,
	}
	return nil
}

// Jobs returns the status of every job, ordered by name.
func (s *Scheduler) Jobs() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStatus, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CalculateNextRun computes the next run time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	sched, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return sched.Next(from), nil
}

// Start launches the polling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(loopCtx)
	s.logger.Info("scheduler started", zap.Int("jobs", len(s.Jobs())), zap.Duration("interval", s.interval))
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx, s.now())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, s.now())
		}
	}
}

// tick starts every job due at now.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name, e := range s.entries {
		if e.status.NextRunAt.After(now) {
			continue
		}
		e.status.NextRunAt = e.schedule.Next(now)
		if e.status.Running {
			e.status.Skipped++
			s.logger.Warn("scheduled run skipped: previous run still active", zap.String("schedule", name))
			continue
		}
		e.status.Running = true
		s.running.Add(1)
		go func(name string, job Job, timeout time.Duration) {
			defer s.running.Done()
			out, err := s.runJob(ctx, job, timeout)
			s.finish(name, now, out, err)
		}(name, e.status.Job, e.timeout)
	}
}

// RunNow runs the named job immediately, regardless of its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) (*schema.RunOutcome, error) {
	s.mu.Lock()
	e, ok := s.entries[name]
	if !ok {
		s.mu.Unlock()
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "schedule %q not found", name)
	}
	if e.status.Running {
		s.mu.Unlock()
		return nil, schema.NewErrorf(schema.ErrCodeConflict, "schedule %q is already running", name)
	}
	e.status.Running = true
	job, timeout := e.status.Job, e.timeout
	s.mu.Unlock()

	out, err := s.runJob(ctx, job, timeout)
	s.finish(name, s.now(), out, err)
	return out, err
}

func (s *Scheduler) runJob(ctx context.Context, job Job, timeout time.Duration) (*schema.RunOutcome, error) {
	log := s.logger.With(zap.String("schedule", job.Name), zap.String("workflow_file", job.Workflow))

	loaded, err := s.source.LoadFile(job.Workflow)
	if err != nil {
		log.Error("load scheduled workflow failed", zap.Error(err))
		return nil, err
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	log.Info("running scheduled workflow", zap.String("workflow", loaded.Definition.Name))
	out, err := s.runner.Run(ctx, loaded.Definition, job.Vars)
	if err != nil {
		log.Error("scheduled run failed", zap.Error(err))
		return nil, err
	}
	if out.Aborted() {
		log.Warn("scheduled run aborted", zap.String("kind", string(out.Kind)), zap.String("report", out.Report().String()))
	}
	return out, nil
}

func (s *Scheduler) finish(name string, at time.Time, out *schema.RunOutcome, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return
	}
	e.status.Running = false
	e.status.Runs++
	e.status.LastRunAt = &at
	e.status.LastOutcome = ""
	e.status.LastError = ""
	if err != nil {
		e.status.LastError = err.Error()
		return
	}
	e.status.LastOutcome = out.Kind
}

// Stop ends the polling loop and waits for in-flight runs.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if s.cancel == nil {
		s.mu.Unlock()
		return nil
	}
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	cancel()
	<-done
	s.running.Wait()

	s.logger.Info("scheduler stopped")
	return nil
}
