package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/LeventeLantos/dispatch-engine/internal/model"
)

type JobRepository interface {
	List(ctx context.Context) ([]model.Job, error)
	Get(ctx context.Context, id int64) (model.Job, error)
	Create(ctx context.Context, j model.Job) error
	MarkSent(ctx context.Context, id int64, sentAt time.Time) error
	Delete(ctx context.Context, id int64) error
}

type ContactRepository interface {
	List(ctx context.Context) ([]model.Contact, error)
	Get(ctx context.Context, phone string) (model.Contact, error)
	Create(ctx context.Context, c model.Contact) error
	Update(ctx context.Context, c model.Contact) error
}

type LogRepository interface {
	AppendLog(ctx context.Context, e model.LogEntry) error
	ListLogs(ctx context.Context, limit, offset int) ([]model.LogEntry, error)
}

type ActivityRepository interface {
	AppendActivity(ctx context.Context, a model.Activity) error
	ListActivities(ctx context.Context, limit int) ([]model.Activity, error)
}

func checkVersion(kind string, key any, v, current int) error {
	if v < 0 || v > current {
		return fmt.Errorf("%s %v: unsupported schema version %d", kind, key, v)
	}
	return nil
}

func page(n, limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	if offset > n {
		offset = n
	}
	end := offset + limit
	if end > n {
		end = n
	}
	return offset, end
}
