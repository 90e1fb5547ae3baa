package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/LeventeLantos/dispatch-engine/internal/apperror"
	"github.com/LeventeLantos/dispatch-engine/internal/delay"
	"github.com/LeventeLantos/dispatch-engine/internal/metrics"
	"github.com/LeventeLantos/dispatch-engine/internal/model"
	"github.com/LeventeLantos/dispatch-engine/internal/repo"
	"github.com/LeventeLantos/dispatch-engine/internal/runctl"
	"github.com/LeventeLantos/dispatch-engine/internal/service"
)

// toleranceMinutes is how far from its time of day a job may still fire.
const toleranceMinutes = 1

var ErrBusy = apperror.ConflictError("scheduler is executing another job")

type Dispatcher interface {
	Dispatch(ctx context.Context, m service.Message) model.Outcome
	Watermarking(file *model.FileMeta) bool
}

type ActivityStore interface {
	AppendActivity(ctx context.Context, a model.Activity) error
}

type JobResult struct {
	Success int  `json:"success"`
	Failed  int  `json:"failed"`
	Stopped bool `json:"stopped"`
}

type Status struct {
	Phase      runctl.Phase `json:"phase"`
	Busy       bool         `json:"busy"`
	CurrentJob int64        `json:"currentJob,omitempty"`
}

// Runner finds due jobs on every tick and executes each one once.
type Runner struct {
	jobs       repo.JobRepository
	dispatcher Dispatcher
	policy     *delay.Policy
	run        *runctl.Controller
	activities ActivityStore
	jobGap     time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	busy    atomic.Bool
	current atomic.Int64
}

// NewRunner returns a runner that is already in the running phase.
func NewRunner(jobs repo.JobRepository, d Dispatcher, p *delay.Policy, activities ActivityStore, jobGap time.Duration) *Runner {
	run := runctl.New()
	run.Start()
	return &Runner{
		jobs:       jobs,
		dispatcher: d,
		policy:     p,
		run:        run,
		activities: activities,
		jobGap:     jobGap,
		now:        time.Now,
		sleep:      run.Sleep,
	}
}

func (r *Runner) Start() bool  { return r.run.Start() }
func (r *Runner) Pause() bool  { return r.run.Pause() }
func (r *Runner) Resume() bool { return r.run.Resume() }
func (r *Runner) Stop() bool   { return r.run.Stop() }

func (r *Runner) Status() Status {
	return Status{
		Phase:      r.run.Phase(),
		Busy:       r.busy.Load(),
		CurrentJob: r.current.Load(),
	}
}

// Due reports whether an unsent job's time of day is within the tolerance
// window of now. The window does not wrap around midnight.
func Due(j model.Job, now time.Time) bool {
	if j.Sent {
		return false
	}
	m, err := j.MinuteOfDay()
	if err != nil {
		return false
	}
	diff := now.Hour()*60 + now.Minute() - m
	if diff < 0 {
		diff = -diff
	}
	return diff <= toleranceMinutes
}

// Tick executes every due job in list order and marks each sent before
// moving on. A job that fails is left unmarked for a later tick.
func (r *Runner) Tick(ctx context.Context) {
	if phase := r.run.Phase(); phase == runctl.Paused || phase == runctl.Stopped {
		return
	}
	if !r.busy.CompareAndSwap(false, true) {
		slog.Debug("scheduler tick skipped, previous still running")
		return
	}
	defer r.busy.Store(false)

	jobs, err := r.jobs.List(ctx)
	if err != nil {
		slog.Error("load scheduled jobs failed", "err", err)
		return
	}

	now := r.now()
	var due []model.Job
	for _, j := range jobs {
		if Due(j, now) {
			due = append(due, j)
		}
	}
	if len(due) == 0 {
		return
	}

	slog.Info("processing due jobs", "count", len(due), "at", now.Format("15:04"))

	processed := make(map[int64]struct{}, len(due))
	for i, j := range due {
		if _, ok := processed[j.ID]; ok {
			continue
		}
		if r.run.IsStopped() {
			slog.Info("scheduler stopped, leaving remaining due jobs", "remaining", len(due)-i)
			return
		}

		if _, err := r.runJob(ctx, j); err != nil {
			metrics.ScheduledJobs.WithLabelValues("error").Inc()
			slog.Error("scheduled job failed, left unsent", "job_id", j.ID, "time", j.Time, "err", err)
		} else if err := r.jobs.MarkSent(ctx, j.ID, r.now()); err != nil {
			slog.Error("mark job sent failed", "job_id", j.ID, "err", err)
		} else {
			processed[j.ID] = struct{}{}
			slog.Info("scheduled job marked sent", "job_id", j.ID, "time", j.Time)
		}

		if i < len(due)-1 {
			if err := r.sleep(ctx, r.jobGap); err != nil {
				return
			}
		}
	}
}

// SendNow executes a job outside its time window and marks it sent.
// An already sent job is only re-sent with force.
func (r *Runner) SendNow(ctx context.Context, id int64, force bool) (JobResult, error) {
	j, err := r.claimManual(ctx, id, force)
	if err != nil {
		return JobResult{}, err
	}
	defer r.busy.Store(false)
	return r.sendManual(ctx, j)
}

// StartSendNow is SendNow in the background; validation errors are
// returned synchronously.
func (r *Runner) StartSendNow(ctx context.Context, id int64, force bool) error {
	j, err := r.claimManual(ctx, id, force)
	if err != nil {
		return err
	}
	go func() {
		defer r.busy.Store(false)
		_, _ = r.sendManual(ctx, j)
	}()
	return nil
}

func (r *Runner) claimManual(ctx context.Context, id int64, force bool) (model.Job, error) {
	j, err := r.jobs.Get(ctx, id)
	if err != nil {
		return model.Job{}, err
	}
	if j.Sent && !force {
		return model.Job{}, apperror.ConflictError(fmt.Sprintf("job %d was already sent, resend with force", id))
	}
	if r.run.IsStopped() {
		return model.Job{}, apperror.ConflictError("scheduler is stopped")
	}
	if !r.busy.CompareAndSwap(false, true) {
		return model.Job{}, ErrBusy
	}
	return j, nil
}

func (r *Runner) sendManual(ctx context.Context, j model.Job) (JobResult, error) {
	res, err := r.runJob(ctx, j)
	if err != nil {
		slog.Error("manual job send failed", "job_id", j.ID, "err", err)
		return res, err
	}
	if err := r.jobs.MarkSent(ctx, j.ID, r.now()); err != nil {
		return res, fmt.Errorf("mark job %d sent: %w", j.ID, err)
	}
	return res, nil
}

func (r *Runner) runJob(ctx context.Context, j model.Job) (res JobResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("scheduled job panic recovered", "job_id", j.ID, "panic", p)
			err = fmt.Errorf("job %d panicked: %v", j.ID, p)
		}
	}()
	return r.Execute(ctx, j)
}

// Execute sends a job to its recipients in order, honoring pause and stop
// before each one. A stop ends the job early without an error.
func (r *Runner) Execute(ctx context.Context, j model.Job) (JobResult, error) {
	var res JobResult

	total := len(j.Recipients)
	if total == 0 {
		slog.Warn("scheduled job has no recipients", "job_id", j.ID)
		return res, nil
	}

	r.current.Store(j.ID)
	defer r.current.Store(0)

	slog.Info("executing scheduled job", "job_id", j.ID, "time", j.Time, "recipients", total)
	watermarking := r.dispatcher.Watermarking(j.File)

	for i, rc := range j.Recipients {
		if err := r.run.WaitWhilePaused(ctx); err != nil {
			if !errors.Is(err, runctl.ErrStopped) {
				return res, err
			}
			res.Stopped = true
			break
		}

		out := r.dispatcher.Dispatch(ctx, service.Message{
			Recipient: rc,
			Template:  j.Message,
			File:      j.File,
			Source:    string(model.ActivityScheduled),
		})
		if out.Success {
			res.Success++
		} else {
			res.Failed++
		}

		if i < total-1 {
			d := r.policy.Next(delay.Params{Watermarking: watermarking, Index: i, Total: total})
			if err := r.sleep(ctx, d); err != nil {
				if !errors.Is(err, runctl.ErrStopped) {
					return res, err
				}
				res.Stopped = true
				break
			}
		}
	}
	if r.run.IsStopped() {
		res.Stopped = true
	}

	outcome := "completed"
	if res.Stopped {
		outcome = "stopped"
	}
	metrics.ScheduledJobs.WithLabelValues(outcome).Inc()

	r.recordActivity(ctx, j, res)
	slog.Info("scheduled job finished", "job_id", j.ID, "success", res.Success, "failed", res.Failed, "stopped", res.Stopped)
	return res, nil
}

func (r *Runner) recordActivity(ctx context.Context, j model.Job, res JobResult) {
	if r.activities == nil {
		return
	}
	a := model.Activity{
		ID:         uuid.NewString(),
		Type:       model.ActivityScheduled,
		Message:    "Executed scheduled job: " + j.Time,
		Time:       r.now(),
		Recipients: len(j.Recipients),
		Success:    res.Success,
		Failed:     res.Failed,
		JobID:      j.ID,
		Stopped:    res.Stopped,
	}
	if err := r.activities.AppendActivity(context.WithoutCancel(ctx), a); err != nil {
		slog.Warn("scheduled activity append failed", "job_id", j.ID, "err", err)
	}
}
