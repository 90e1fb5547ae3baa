package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/LeventeLantos/dispatch-engine/internal/metrics"
	"github.com/LeventeLantos/dispatch-engine/internal/model"
	"github.com/LeventeLantos/dispatch-engine/internal/repo"
	"github.com/LeventeLantos/dispatch-engine/internal/service"
)

type Kind string

const (
	Start   Kind = "start"
	Renewal Kind = "renewal"
	End     Kind = "end"
)

// Templates are the lifecycle messages. An empty template disables its kind.
type Templates struct {
	Start   string
	Renewal string
	End     string
}

func (t Templates) For(k Kind) string {
	switch k {
	case Start:
		return t.Start
	case Renewal:
		return t.Renewal
	case End:
		return t.End
	}
	return ""
}

type Dispatcher interface {
	Dispatch(ctx context.Context, m service.Message) model.Outcome
}

type ActivityStore interface {
	AppendActivity(ctx context.Context, a model.Activity) error
}

// ContactUpdate is an edit of an existing contact. An empty StartDate
// keeps the stored one.
type ContactUpdate struct {
	Name      string `json:"name"`
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

// Notifier fires each lifecycle notification once per contact and
// transition. Flags are written only after a successful dispatch, so a
// failure is retried on the next check.
type Notifier struct {
	contacts   repo.ContactRepository
	dispatcher Dispatcher
	activities ActivityStore
	templates  Templates
	loc        *time.Location
	gap        time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	checking atomic.Bool
	// mu serializes read-modify-write of contacts between checks and edits.
	mu sync.Mutex
}

func New(contacts repo.ContactRepository, d Dispatcher, activities ActivityStore, templates Templates) *Notifier {
	return &Notifier{
		contacts:   contacts,
		dispatcher: d,
		activities: activities,
		templates:  templates,
		loc:        time.Local,
		gap:        time.Second,
		now:        time.Now,
		sleep:      sleepCtx,
	}
}

func (n *Notifier) today() time.Time {
	return model.Midnight(n.now().In(n.loc))
}

// Check runs the start and expiry checks over every contact. Overlapping
// calls return immediately.
func (n *Notifier) Check(ctx context.Context) {
	if !n.checking.CompareAndSwap(false, true) {
		slog.Debug("lifecycle check skipped, previous still running")
		return
	}
	defer n.checking.Store(false)

	contacts, err := n.contacts.List(ctx)
	if err != nil {
		slog.Error("load contacts failed", "err", err)
		return
	}

	today := n.today()
	attempted := 0
	for _, c := range contacts {
		if ctx.Err() != nil {
			return
		}
		k, err := n.checkContact(ctx, c.Phone, today, true)
		if err != nil {
			slog.Error("lifecycle check failed", "phone", c.Phone, "err", err)
			continue
		}
		if k > 0 {
			attempted += k
			if err := n.sleep(ctx, n.gap); err != nil {
				return
			}
		}
	}

	slog.Info("lifecycle check completed", "contacts", len(contacts), "notifications", attempted)
}

// checkContact reloads one contact and applies the date checks to it. It
// returns how many notifications were attempted.
func (n *Notifier) checkContact(ctx context.Context, phone string, today time.Time, withExpiry bool) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	c, err := n.contacts.Get(ctx, phone)
	if err != nil {
		return 0, err
	}

	attempted := 0
	changed := false

	if start, ok := model.ParseDate(c.StartDate, n.loc); ok &&
		start.Equal(today) && !c.StartNotified && n.templates.Start != "" {
		attempted++
		if n.notify(ctx, Start, c) {
			at := n.now()
			c.StartNotified = true
			c.StartNotifiedAt = &at
			changed = true
		}
	}

	if end, ok := model.ParseDate(c.EndDate, n.loc); withExpiry && ok &&
		!c.NotifiedEnd && n.templates.End != "" && !end.After(today) {
		status := model.NotifiedToday
		if end.Before(today) {
			status = model.NotifiedPastDue
		}
		attempted++
		if n.notify(ctx, End, c) {
			at := n.now()
			c.NotifiedEnd = true
			c.NotifiedAt = &at
			c.ExpiryStatus = status
			changed = true
		}
	}

	if changed {
		if err := n.contacts.Update(ctx, c); err != nil {
			return attempted, fmt.Errorf("save notification flags: %w", err)
		}
	}
	return attempted, nil
}

// AddContact stores a new contact and sends the welcome right away when
// its plan starts today.
func (n *Notifier) AddContact(ctx context.Context, c model.Contact) (model.Contact, error) {
	c.Phone = model.NormalizePhone(c.Phone)
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		c.Name = c.Phone
	}
	c.StartNotified, c.StartNotifiedAt = false, nil
	c.RenewalNotified, c.RenewalNotifiedAt = false, nil
	c.NotifiedEnd, c.NotifiedAt = false, nil
	c.ExpiryStatus = ""
	c.CreatedAt = n.now()
	c.SchemaVersion = model.ContactSchemaVersion

	if err := c.Validate(); err != nil {
		return model.Contact{}, err
	}

	n.mu.Lock()
	err := n.contacts.Create(ctx, c)
	n.mu.Unlock()
	if err != nil {
		return model.Contact{}, err
	}

	if start, ok := model.ParseDate(c.StartDate, n.loc); ok && start.Equal(n.today()) {
		if _, err := n.checkContact(ctx, c.Phone, n.today(), false); err != nil {
			slog.Warn("welcome on create failed", "phone", c.Phone, "err", err)
		}
	}
	return n.contacts.Get(ctx, c.Phone)
}

// UpdateContact applies an edit. When the plan dates change and a renewal
// template is set, the renewal is sent before returning; on success a
// changed end date re-arms the expiry notification.
func (n *Notifier) UpdateContact(ctx context.Context, phone string, upd ContactUpdate) (model.Contact, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	old, err := n.contacts.Get(ctx, phone)
	if err != nil {
		return model.Contact{}, err
	}

	c := old
	if name := strings.TrimSpace(upd.Name); name != "" {
		c.Name = name
	}
	if upd.StartDate != "" {
		c.StartDate = upd.StartDate
	}
	c.EndDate = upd.EndDate

	if err := c.Validate(); err != nil {
		return model.Contact{}, err
	}
	if err := n.contacts.Update(ctx, c); err != nil {
		return model.Contact{}, err
	}

	startChanged := upd.StartDate != "" && upd.StartDate != old.StartDate
	endChanged := upd.EndDate != "" && upd.EndDate != old.EndDate
	if !(startChanged || endChanged) || n.templates.Renewal == "" {
		return c, nil
	}

	slog.Info("plan dates changed, sending renewal",
		"phone", c.Phone,
		"old_start", old.StartDate, "old_end", old.EndDate,
		"new_start", c.StartDate, "new_end", c.EndDate,
	)
	if !n.notify(ctx, Renewal, c) {
		return c, nil
	}

	at := n.now()
	c.RenewalNotified = true
	c.RenewalNotifiedAt = &at
	if endChanged {
		c.NotifiedEnd = false
		c.NotifiedAt = nil
		c.ExpiryStatus = ""
	}
	if err := n.contacts.Update(ctx, c); err != nil {
		return c, fmt.Errorf("save renewal flags: %w", err)
	}
	return c, nil
}

// Renew sends the renewal message to a contact regardless of date changes.
func (n *Notifier) Renew(ctx context.Context, phone string) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	c, err := n.contacts.Get(ctx, phone)
	if err != nil {
		return false, err
	}
	if n.templates.Renewal == "" {
		return false, nil
	}
	if !n.notify(ctx, Renewal, c) {
		return false, nil
	}

	at := n.now()
	c.RenewalNotified = true
	c.RenewalNotifiedAt = &at
	return true, n.contacts.Update(ctx, c)
}

func (n *Notifier) notify(ctx context.Context, kind Kind, c model.Contact) bool {
	now := n.now().In(n.loc)
	name := c.Name
	if name == "" {
		name = "Customer"
	}

	out := n.dispatcher.Dispatch(ctx, service.Message{
		Recipient: model.Recipient{Phone: c.Phone, Name: name},
		Template:  n.templates.For(kind),
		Vars: map[string]string{
			"name":  name,
			"phone": c.Phone,
			"start": orNA(c.StartDate),
			"end":   orNA(c.EndDate),
			"date":  now.Format(model.DateLayout),
			"time":  now.Format("15:04:05"),
		},
		Source: string(model.ActivityAutomation),
	})

	metrics.LifecycleNotifications.WithLabelValues(string(kind), metrics.Result(out.Success)).Inc()

	msg := fmt.Sprintf("Sent %s notification to %s", kind, name)
	if !out.Success {
		msg = fmt.Sprintf("Failed to send %s notification to %s", kind, name)
		slog.Warn("lifecycle notification failed", "kind", kind, "phone", c.Phone, "err", out.Error)
	} else {
		slog.Info("lifecycle notification sent", "kind", kind, "phone", c.Phone)
	}

	if n.activities != nil {
		ok := out.Success
		a := model.Activity{
			ID:               uuid.NewString(),
			Type:             model.ActivityAutomation,
			Message:          msg,
			Time:             n.now(),
			Phone:            c.Phone,
			NotificationType: string(kind),
			Succeeded:        &ok,
		}
		if err := n.activities.AppendActivity(context.WithoutCancel(ctx), a); err != nil {
			slog.Warn("automation activity append failed", "err", err)
		}
	}
	return out.Success
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
