package campaign

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/LeventeLantos/dispatch-engine/internal/apperror"
	"github.com/LeventeLantos/dispatch-engine/internal/delay"
	"github.com/LeventeLantos/dispatch-engine/internal/metrics"
	"github.com/LeventeLantos/dispatch-engine/internal/model"
	"github.com/LeventeLantos/dispatch-engine/internal/runctl"
	"github.com/LeventeLantos/dispatch-engine/internal/service"
)

// Runs above this many recipients are sent in batches.
const batchThreshold = 100

var ErrAlreadyRunning = apperror.ConflictError("a bulk campaign is already running")

type Dispatcher interface {
	Dispatch(ctx context.Context, m service.Message) model.Outcome
	Watermarking(file *model.FileMeta) bool
}

type ActivityStore interface {
	AppendActivity(ctx context.Context, a model.Activity) error
}

type Config struct {
	BatchSize   int
	BatchDelay  time.Duration
	MaxFileSize int64
}

type Request struct {
	Sources Sources         `json:"sources"`
	Message string          `json:"message"`
	File    *model.FileMeta `json:"fileMeta,omitempty"`
}

// Plan is a validated request with its resolved recipient list.
type Plan struct {
	Recipients []model.Recipient
	Message    string
	File       *model.FileMeta
}

type Summary struct {
	Total   int  `json:"total"`
	Sent    int  `json:"sent"`
	Failed  int  `json:"failed"`
	Skipped int  `json:"skipped"`
	Batches int  `json:"batches"`
	Stopped bool `json:"stopped"`
}

type Status struct {
	Phase     runctl.Phase `json:"phase"`
	Total     int          `json:"total"`
	Sent      int          `json:"sent"`
	Failed    int          `json:"failed"`
	Batch     int          `json:"batch"`
	Batches   int          `json:"batches"`
	Current   string       `json:"current,omitempty"`
	StartedAt *time.Time   `json:"startedAt,omitempty"`
	Last      *Summary     `json:"last,omitempty"`
}

type Controller struct {
	dispatcher Dispatcher
	policy     *delay.Policy
	run        *runctl.Controller
	activities ActivityStore
	cfg        Config

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu     sync.Mutex
	busy   bool
	status Status
}

func New(d Dispatcher, p *delay.Policy, activities ActivityStore, cfg Config) *Controller {
	run := runctl.New()
	return &Controller{
		dispatcher: d,
		policy:     p,
		run:        run,
		activities: activities,
		cfg:        cfg,
		now:        time.Now,
		sleep:      run.Sleep,
	}
}

// Prepare resolves recipients and rejects a request before any dispatch.
func (c *Controller) Prepare(req Request) (Plan, error) {
	recipients := Resolve(req.Sources)
	if len(recipients) == 0 {
		return Plan{}, apperror.ValidationError("no recipients selected or entered")
	}
	if strings.TrimSpace(req.Message) == "" && req.File == nil {
		return Plan{}, apperror.ValidationError("provide a message or a file")
	}
	if req.File != nil {
		if strings.TrimSpace(req.File.Base64) == "" {
			return Plan{}, apperror.ValidationError("file has no content")
		}
		if size := req.File.Size(); c.cfg.MaxFileSize > 0 && size > c.cfg.MaxFileSize {
			return Plan{}, apperror.ValidationError(fmt.Sprintf(
				"file %s is %s, limit is %s",
				req.File.Filename, humanize.IBytes(uint64(size)), humanize.IBytes(uint64(c.cfg.MaxFileSize)),
			))
		}
	}
	return Plan{Recipients: recipients, Message: req.Message, File: req.File}, nil
}

// Run executes plan and blocks until it completes or is stopped.
func (c *Controller) Run(ctx context.Context, plan Plan) (Summary, error) {
	if err := c.claim(len(plan.Recipients)); err != nil {
		return Summary{}, err
	}
	return c.execute(ctx, plan), nil
}

// Start executes plan in the background.
func (c *Controller) Start(ctx context.Context, plan Plan) error {
	if err := c.claim(len(plan.Recipients)); err != nil {
		return err
	}
	go c.execute(ctx, plan)
	return nil
}

func (c *Controller) Pause() bool  { return c.run.Pause() }
func (c *Controller) Resume() bool { return c.run.Resume() }
func (c *Controller) Stop() bool   { return c.run.Stop() }

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.status
	s.Phase = c.run.Phase()
	return s
}

func (c *Controller) claim(total int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.busy || !c.run.Start() {
		return ErrAlreadyRunning
	}
	c.busy = true
	started := c.now()
	c.status = Status{Total: total, StartedAt: &started, Last: c.status.Last}
	return nil
}

func (c *Controller) execute(ctx context.Context, plan Plan) Summary {
	start := time.Now()
	total := len(plan.Recipients)
	watermarking := c.dispatcher.Watermarking(plan.File)

	batched := total > batchThreshold
	batches := [][]model.Recipient{plan.Recipients}
	if batched {
		batches = chunk(plan.Recipients, c.cfg.BatchSize)
	}

	sum := Summary{Total: total, Batches: len(batches)}
	sent := make(map[string]struct{}, total)
	stopped := false

	slog.Info("bulk campaign started", "recipients", total, "batches", len(batches), "watermarking", watermarking)

loop:
	for b, batch := range batches {
		c.update(func(s *Status) {
			s.Batch = b + 1
			s.Batches = len(batches)
		})

		for i, r := range batch {
			if err := c.run.WaitWhilePaused(ctx); err != nil {
				stopped = true
				break loop
			}
			if _, dup := sent[r.Phone]; dup {
				sum.Skipped++
				slog.Info("skipping duplicate recipient", "to", r.Phone)
				continue
			}

			c.update(func(s *Status) { s.Current = r.DisplayName() })

			out := c.dispatcher.Dispatch(ctx, service.Message{
				Recipient: r,
				Template:  plan.Message,
				File:      plan.File,
				Source:    string(model.ActivityBulk),
			})
			if out.Success {
				sum.Sent++
				sent[r.Phone] = struct{}{}
			} else {
				sum.Failed++
			}
			c.update(func(s *Status) {
				s.Sent = sum.Sent
				s.Failed = sum.Failed
			})

			if i < len(batch)-1 {
				idx := i
				if batched {
					idx = sum.Sent + sum.Failed
				}
				d := c.policy.Next(delay.Params{Watermarking: watermarking, Index: idx, Total: total})
				if err := c.sleep(ctx, d); err != nil {
					stopped = true
					break loop
				}
			}
		}

		if b < len(batches)-1 {
			slog.Info("batch finished, waiting", "batch", b+1, "of", len(batches), "delay", c.cfg.BatchDelay)
			if err := c.sleep(ctx, c.cfg.BatchDelay); err != nil {
				stopped = true
				break loop
			}
		}
	}

	sum.Stopped = stopped
	c.finish(ctx, batched, sum)

	slog.Info("bulk campaign finished",
		"recipients", total,
		"sent", sum.Sent,
		"failed", sum.Failed,
		"skipped", sum.Skipped,
		"stopped", sum.Stopped,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return sum
}

func (c *Controller) finish(ctx context.Context, batched bool, sum Summary) {
	defer func() {
		c.mu.Lock()
		c.busy = false
		c.status.Current = ""
		c.status.Last = &sum
		c.mu.Unlock()
	}()

	if sum.Stopped {
		c.run.Stop()
		metrics.BulkRuns.WithLabelValues("stopped").Inc()
		return
	}
	c.run.Finish()
	metrics.BulkRuns.WithLabelValues("completed").Inc()

	a := model.Activity{
		ID:         uuid.NewString(),
		Type:       model.ActivityBulk,
		Message:    fmt.Sprintf("Bulk send completed: %d recipients", sum.Total),
		Time:       c.now(),
		Recipients: sum.Total,
		Success:    sum.Sent,
		Failed:     sum.Failed,
	}
	if batched {
		a.Message = fmt.Sprintf("Batched bulk send: %d recipients in %d batches", sum.Total, sum.Batches)
		a.Batches = sum.Batches
	}
	if c.activities == nil {
		return
	}
	if err := c.activities.AppendActivity(context.WithoutCancel(ctx), a); err != nil {
		slog.Warn("bulk activity append failed", "err", err)
	}
}

func (c *Controller) update(fn func(s *Status)) {
	c.mu.Lock()
	fn(&c.status)
	c.mu.Unlock()
}
