package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"basegraph.app/materializer/common/logger"
	"basegraph.app/materializer/core/config"
	"basegraph.app/materializer/internal/metrics"
)

// Constructor builds a task from its schedule settings.
type Constructor func(cfg config.ScheduleConfig) (Task, error)

// Schedules accept five fields (minute first) or six (seconds first).
var scheduleParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

type scheduledTask struct {
	task Task
	cfg  config.ScheduleConfig
	cron *cron.Cron

	// running is held for the whole of a run, whatever started it.
	running sync.Mutex
}

// Runner gives every registered task its own cron timer. Tasks run
// concurrently with each other, but a task never overlaps itself: a tick, the
// initial run or RunNow that arrives while the task is running is skipped.
type Runner struct {
	config  config.TasksConfig
	metrics *metrics.Collector

	mu      sync.Mutex
	tasks   []*scheduledTask
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

func NewRunner(cfg config.TasksConfig, m *metrics.Collector) *Runner {
	return &Runner{config: cfg, metrics: m}
}

// Register constructs the named task. A task that is disabled is skipped. A
// task whose settings or constructor fail is logged and skipped, and the
// error is returned; other tasks are unaffected.
func (r *Runner) Register(name string, ctor Constructor) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("task %s: constructor panicked: %v", name, rec)
			slog.Error("task constructor panicked", "task", name, "panic", rec, "stack", string(debug.Stack()))
		}
	}()

	cfg, ok := r.config[name]
	if !ok {
		err = &ConfigurationError{Task: name, Err: errors.New("no schedule configured")}
		slog.Error("task not registered", "task", name, "error", err)
		return err
	}
	if !cfg.IsEnabled() {
		slog.Info("task disabled", "task", name)
		return nil
	}
	if _, perr := scheduleParser.Parse(cfg.Schedule); perr != nil {
		err = &ConfigurationError{Task: name, Err: fmt.Errorf("schedule %q: %w", cfg.Schedule, perr)}
		slog.Error("task not registered", "task", name, "error", err)
		return err
	}

	task, err := ctor(cfg)
	if err != nil {
		slog.Error("task failed to initialise", "task", name, "error", err)
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, &scheduledTask{task: task, cfg: cfg})
	return nil
}

// Names lists the registered tasks.
func (r *Runner) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.tasks))
	for _, st := range r.tasks {
		names = append(names, st.task.Name())
	}
	return names
}

// Start schedules every registered task and kicks off the initial run of
// those that do not suppress it.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return errors.New("task runner already started")
	}
	r.started = true
	r.ctx, r.cancel = context.WithCancel(ctx)

	for _, st := range r.tasks {
		cronLog := cronLogger{task: st.task.Name()}
		st.cron = cron.New(
			cron.WithParser(scheduleParser),
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog)),
		)
		schedule := mustParse(st.cfg.Schedule)
		st.cron.Schedule(schedule, cron.FuncJob(func() {
			r.runTask(r.ctx, st, true)
		}))
		st.cron.Start()

		slog.InfoContext(ctx, "task scheduled",
			"task", st.task.Name(),
			"schedule", st.cfg.Schedule,
			"next_run", schedule.Next(time.Now()))

		if !st.cfg.SuppressInitialRun {
			r.wg.Add(1)
			go func() {
				defer r.wg.Done()
				r.runTask(r.ctx, st, false)
			}()
		}
	}
	return nil
}

// Stop cancels every timer and waits until running tasks have finished
// their current batch, or until ctx expires.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil
	}
	r.cancel()
	var waits []context.Context
	for _, st := range r.tasks {
		waits = append(waits, st.cron.Stop())
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for _, w := range waits {
			<-w.Done()
		}
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunNow runs a registered task once, outside its schedule. It returns
// ErrAlreadyRunning when the task is in the middle of a run.
func (r *Runner) RunNow(ctx context.Context, name string) error {
	r.mu.Lock()
	var target *scheduledTask
	for _, st := range r.tasks {
		if st.task.Name() == name {
			target = st
		}
	}
	r.mu.Unlock()
	if target == nil {
		return fmt.Errorf("task %s is not registered", name)
	}
	return r.runTask(ctx, target, false)
}

func (r *Runner) runTask(ctx context.Context, st *scheduledTask, jitter bool) error {
	name := st.task.Name()
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Task:      &name,
		Component: "materializer.scheduler",
	})

	if !st.running.TryLock() {
		slog.WarnContext(ctx, "task run skipped, previous run still in progress")
		return ErrAlreadyRunning
	}
	defer st.running.Unlock()

	if d := st.cfg.Jitter(); jitter && d > 0 {
		if err := sleepContext(ctx, rand.N(d)); err != nil {
			return err
		}
	}
	if st.cfg.TimeoutMinutes > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(st.cfg.TimeoutMinutes)*time.Minute)
		defer cancel()
	}

	span := logger.StartSpan(ctx, "task."+name)
	defer span.End()
	ctx = span.Context()

	start := time.Now()
	err := st.task.Run(ctx)
	r.metrics.RecordTaskRun(name, err)

	if err != nil {
		span.RecordError(err)
		slog.ErrorContext(ctx, "task run failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		return err
	}
	slog.InfoContext(ctx, "task run finished", "duration_ms", time.Since(start).Milliseconds())
	return nil
}

func mustParse(spec string) cron.Schedule {
	s, err := scheduleParser.Parse(spec)
	if err != nil {
		panic(err)
	}
	return s
}

// cronLogger routes cron's own logging through slog.
type cronLogger struct {
	task string
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug("cron: "+msg, append([]any{"task", l.task}, keysAndValues...)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error("cron: "+msg, append([]any{"task", l.task, "error", err}, keysAndValues...)...)
}
