package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/LeventeLantos/dispatch-engine/internal/apperror"
	"github.com/LeventeLantos/dispatch-engine/internal/delay"
	"github.com/LeventeLantos/dispatch-engine/internal/model"
	"github.com/LeventeLantos/dispatch-engine/internal/repo"
	"github.com/LeventeLantos/dispatch-engine/internal/runctl"
	"github.com/LeventeLantos/dispatch-engine/internal/service"
)

type fakeDispatcher struct {
	mu         sync.Mutex
	calls      []service.Message
	panicOn    string
	onDispatch func(n int)
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, m service.Message) model.Outcome {
	f.mu.Lock()
	f.calls = append(f.calls, m)
	n := len(f.calls)
	hook := f.onDispatch
	f.mu.Unlock()

	if m.Recipient.Phone == f.panicOn {
		panic("gateway exploded")
	}
	if hook != nil {
		hook(n)
	}
	return model.Outcome{Phone: m.Recipient.Phone, Success: true}
}

func (f *fakeDispatcher) Watermarking(file *model.FileMeta) bool { return false }

func (f *fakeDispatcher) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func at(hh, mm int) time.Time {
	return time.Date(2026, 10, 15, hh, mm, 20, 0, time.Local)
}

func newTestRunner(t *testing.T, d Dispatcher, now time.Time, jobs ...model.Job) (*Runner, *repo.MemoryStore, *[]time.Duration) {
	t.Helper()

	store := repo.NewMemoryStore()
	for _, j := range jobs {
		if err := store.Jobs().Create(context.Background(), j); err != nil {
			t.Fatalf("seed job %d: %v", j.ID, err)
		}
	}

	r := NewRunner(store.Jobs(), d, delay.NewPolicy(delay.Config{Base: time.Second}), store, 2*time.Second)
	r.now = func() time.Time { return now }

	var slept []time.Duration
	r.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return r, store, &slept
}

func job(id int64, hhmm string, phones ...string) model.Job {
	j := model.Job{ID: id, Time: hhmm, Message: "Hi {name}"}
	for _, p := range phones {
		j.Recipients = append(j.Recipients, model.Recipient{Phone: p})
	}
	return j
}

func TestDue_ToleranceWindow(t *testing.T) {
	t.Parallel()

	now := at(10, 30)
	cases := []struct {
		time string
		sent bool
		want bool
	}{
		{"10:30", false, true},
		{"10:29", false, true},
		{"10:31", false, true},
		{"10:28", false, false},
		{"10:32", false, false},
		{"10:30", true, false},
		{"bad", false, false},
	}
	for _, tc := range cases {
		j := model.Job{Time: tc.time, Sent: tc.sent}
		if got := Due(j, now); got != tc.want {
			t.Fatalf("Due(%q, sent=%v) at 10:30 = %v, want %v", tc.time, tc.sent, got, tc.want)
		}
	}
}

func TestTick_ExecutesDueJobsAndMarksSent(t *testing.T) {
	t.Parallel()

	d := &fakeDispatcher{}
	r, store, slept := newTestRunner(t, d, at(10, 30),
		job(1, "10:29", "+361", "+362"),
		job(2, "10:28", "+363"),
		job(3, "10:30", "+364"),
	)
	ctx := context.Background()

	r.Tick(ctx)

	if d.total() != 3 {
		t.Fatalf("expected 3 dispatches, got %d", d.total())
	}
	j1, _ := store.Jobs().Get(ctx, 1)
	j2, _ := store.Jobs().Get(ctx, 2)
	j3, _ := store.Jobs().Get(ctx, 3)
	if !j1.Sent || j1.SentAt == nil || j2.Sent || !j3.Sent {
		t.Fatalf("unexpected sent flags: j1=%v j2=%v j3=%v", j1.Sent, j2.Sent, j3.Sent)
	}

	// one recipient delay in job 1, one gap between jobs 1 and 3
	if len(*slept) != 2 || (*slept)[1] != 2*time.Second {
		t.Fatalf("unexpected sleeps %v", *slept)
	}

	r.Tick(ctx)
	if d.total() != 3 {
		t.Fatalf("sent jobs must not be re-selected, got %d dispatches", d.total())
	}

	acts, _ := store.ListActivities(ctx, 10)
	if len(acts) != 2 || acts[0].Type != model.ActivityScheduled {
		t.Fatalf("expected 2 scheduled activities, got %+v", acts)
	}
}

func TestTick_PanickingJobLeftUnsent(t *testing.T) {
	t.Parallel()

	d := &fakeDispatcher{panicOn: "+361"}
	r, store, _ := newTestRunner(t, d, at(9, 0),
		job(1, "09:00", "+361"),
		job(2, "09:00", "+362"),
	)
	ctx := context.Background()

	r.Tick(ctx)

	j1, _ := store.Jobs().Get(ctx, 1)
	j2, _ := store.Jobs().Get(ctx, 2)
	if j1.Sent {
		t.Fatalf("job that failed must stay unsent")
	}
	if !j2.Sent {
		t.Fatalf("following job must still run and be marked sent")
	}
	if r.Status().Busy {
		t.Fatalf("tick guard must be released")
	}
}

func TestTick_SkippedWhilePausedOrStopped(t *testing.T) {
	t.Parallel()

	d := &fakeDispatcher{}
	r, _, _ := newTestRunner(t, d, at(9, 0), job(1, "09:00", "+361"))
	ctx := context.Background()

	r.Pause()
	r.Tick(ctx)
	if d.total() != 0 {
		t.Fatalf("paused scheduler must not dispatch")
	}

	r.Resume()
	r.Stop()
	r.Tick(ctx)
	if d.total() != 0 {
		t.Fatalf("stopped scheduler must not dispatch")
	}

	if !r.Start() {
		t.Fatalf("expected Start() to leave stopped")
	}
	r.Tick(ctx)
	if d.total() != 1 {
		t.Fatalf("expected dispatch after restart, got %d", d.total())
	}
}

func TestExecute_StopEndsJobEarly(t *testing.T) {
	t.Parallel()

	d := &fakeDispatcher{}
	r, _, _ := newTestRunner(t, d, at(9, 0))
	d.onDispatch = func(n int) {
		if n == 2 {
			r.Stop()
		}
	}

	res, err := r.Execute(context.Background(), job(1, "09:00", "+361", "+362", "+363", "+364"))
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if !res.Stopped || res.Success != 2 || d.total() != 2 {
		t.Fatalf("expected stop after 2 recipients, got %+v dispatches=%d", res, d.total())
	}
	if r.Status().Phase != runctl.Stopped {
		t.Fatalf("expected stopped phase, got %s", r.Status().Phase)
	}
}

func TestExecute_NoRecipientsIsNoop(t *testing.T) {
	t.Parallel()

	d := &fakeDispatcher{}
	r, store, _ := newTestRunner(t, d, at(9, 0))

	res, err := r.Execute(context.Background(), job(1, "09:00"))
	if err != nil || res != (JobResult{}) {
		t.Fatalf("expected empty result, got %+v err=%v", res, err)
	}
	acts, _ := store.ListActivities(context.Background(), 10)
	if d.total() != 0 || len(acts) != 0 {
		t.Fatalf("expected no dispatch and no activity")
	}
}

func TestSendNow_ForceRequiredForSentJob(t *testing.T) {
	t.Parallel()

	d := &fakeDispatcher{}
	r, store, _ := newTestRunner(t, d, at(15, 0), job(1, "08:00", "+361"))
	ctx := context.Background()

	if _, err := r.SendNow(ctx, 1, false); err != nil {
		t.Fatalf("SendNow() error: %v", err)
	}
	j, _ := store.Jobs().Get(ctx, 1)
	if !j.Sent {
		t.Fatalf("expected job marked sent")
	}

	var conflict apperror.ConflictError
	if _, err := r.SendNow(ctx, 1, false); !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError for resend without force, got %v", err)
	}
	if _, err := r.SendNow(ctx, 1, true); err != nil {
		t.Fatalf("forced SendNow() error: %v", err)
	}
	if d.total() != 2 {
		t.Fatalf("expected 2 dispatches, got %d", d.total())
	}

	var nf apperror.NotFoundError
	if _, err := r.SendNow(ctx, 99, false); !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}
