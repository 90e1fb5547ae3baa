package repo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/LeventeLantos/dispatch-engine/internal/apperror"
	"github.com/LeventeLantos/dispatch-engine/internal/model"
)

const (
	maxMemoryLogs       = 500
	maxMemoryActivities = 1000
)

// MemoryStore keeps every record in process memory. It implements all four
// repositories and is safe for concurrent use.
type MemoryStore struct {
	mu         sync.Mutex
	jobs       []model.Job
	contacts   []model.Contact
	logs       []model.LogEntry
	activities []model.Activity
	nextLogID  int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Jobs returns a JobRepository view of the store.
func (s *MemoryStore) Jobs() JobRepository { return memoryJobs{s} }

func (s *MemoryStore) Contacts() ContactRepository { return memoryContacts{s} }

type memoryJobs struct{ s *MemoryStore }

func (m memoryJobs) List(ctx context.Context) ([]model.Job, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	out := make([]model.Job, len(m.s.jobs))
	copy(out, m.s.jobs)
	return out, nil
}

func (m memoryJobs) Get(ctx context.Context, id int64) (model.Job, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, j := range m.s.jobs {
		if j.ID == id {
			return j, nil
		}
	}
	return model.Job{}, apperror.NotFoundError(fmt.Sprintf("job %d not found", id))
}

func (m memoryJobs) Create(ctx context.Context, j model.Job) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, e := range m.s.jobs {
		if e.ID == j.ID {
			return apperror.ConflictError(fmt.Sprintf("job %d already exists", j.ID))
		}
	}
	if j.SchemaVersion == 0 {
		j.SchemaVersion = model.JobSchemaVersion
	}
	m.s.jobs = append(m.s.jobs, j)
	return nil
}

func (m memoryJobs) MarkSent(ctx context.Context, id int64, sentAt time.Time) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for i := range m.s.jobs {
		if m.s.jobs[i].ID == id {
			t := sentAt
			m.s.jobs[i].Sent = true
			m.s.jobs[i].SentAt = &t
			return nil
		}
	}
	return apperror.NotFoundError(fmt.Sprintf("job %d not found", id))
}

func (m memoryJobs) Delete(ctx context.Context, id int64) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for i := range m.s.jobs {
		if m.s.jobs[i].ID == id {
			m.s.jobs = append(m.s.jobs[:i], m.s.jobs[i+1:]...)
			return nil
		}
	}
	return apperror.NotFoundError(fmt.Sprintf("job %d not found", id))
}

type memoryContacts struct{ s *MemoryStore }

func (m memoryContacts) List(ctx context.Context) ([]model.Contact, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	out := make([]model.Contact, len(m.s.contacts))
	copy(out, m.s.contacts)
	return out, nil
}

func (m memoryContacts) Get(ctx context.Context, phone string) (model.Contact, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, c := range m.s.contacts {
		if c.Phone == phone {
			return c, nil
		}
	}
	return model.Contact{}, apperror.NotFoundError(fmt.Sprintf("contact %s not found", phone))
}

func (m memoryContacts) Create(ctx context.Context, c model.Contact) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, e := range m.s.contacts {
		if e.Phone == c.Phone {
			return apperror.ConflictError(fmt.Sprintf("contact %s already exists", c.Phone))
		}
	}
	if c.SchemaVersion == 0 {
		c.SchemaVersion = model.ContactSchemaVersion
	}
	m.s.contacts = append(m.s.contacts, c)
	return nil
}

func (m memoryContacts) Update(ctx context.Context, c model.Contact) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for i := range m.s.contacts {
		if m.s.contacts[i].Phone == c.Phone {
			if c.SchemaVersion == 0 {
				c.SchemaVersion = model.ContactSchemaVersion
			}
			m.s.contacts[i] = c
			return nil
		}
	}
	return apperror.NotFoundError(fmt.Sprintf("contact %s not found", c.Phone))
}

// AppendLog keeps only the newest maxMemoryLogs entries.
func (s *MemoryStore) AppendLog(ctx context.Context, e model.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextLogID++
	e.ID = s.nextLogID
	s.logs = append(s.logs, e)
	if over := len(s.logs) - maxMemoryLogs; over > 0 {
		s.logs = append([]model.LogEntry(nil), s.logs[over:]...)
	}
	return nil
}

// ListLogs returns entries newest first.
func (s *MemoryStore) ListLogs(ctx context.Context, limit, offset int) ([]model.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	from, to := page(len(s.logs), limit, offset)
	out := make([]model.LogEntry, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, s.logs[len(s.logs)-1-i])
	}
	return out, nil
}

func (s *MemoryStore) AppendActivity(ctx context.Context, a model.Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activities = append(s.activities, a)
	if over := len(s.activities) - maxMemoryActivities; over > 0 {
		s.activities = append([]model.Activity(nil), s.activities[over:]...)
	}
	return nil
}

func (s *MemoryStore) ListActivities(ctx context.Context, limit int) ([]model.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, to := page(len(s.activities), limit, 0)
	out := make([]model.Activity, 0, to)
	for i := 0; i < to; i++ {
		out = append(out, s.activities[len(s.activities)-1-i])
	}
	return out, nil
}
