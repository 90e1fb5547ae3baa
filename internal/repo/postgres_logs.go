package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/LeventeLantos/dispatch-engine/internal/model"
)

type PostgresLogRepo struct {
	db *sql.DB
}

func NewPostgresLogRepo(db *sql.DB) *PostgresLogRepo {
	return &PostgresLogRepo{db: db}
}

func (r *PostgresLogRepo) AppendLog(ctx context.Context, e model.LogEntry) error {
	var resp *string
	if len(e.Response) > 0 && json.Valid(e.Response) {
		s := string(e.Response)
		resp = &s
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO dispatch_logs (logged_at, recipient, filename, message, status, response, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, e.Time, e.To, e.Filename, e.Message, string(e.Status), resp, e.Error)
	return err
}

func (r *PostgresLogRepo) ListLogs(ctx context.Context, limit, offset int) ([]model.LogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, logged_at, recipient, filename, message, status, response, error
		FROM dispatch_logs
		ORDER BY logged_at DESC, id DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.LogEntry
	for rows.Next() {
		var e model.LogEntry
		var status string
		var resp []byte
		if err := rows.Scan(&e.ID, &e.Time, &e.To, &e.Filename, &e.Message, &status, &resp, &e.Error); err != nil {
			return nil, err
		}
		e.Status = model.LogStatus(status)
		if len(resp) > 0 {
			e.Response = json.RawMessage(resp)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type PostgresActivityRepo struct {
	db *sql.DB
}

func NewPostgresActivityRepo(db *sql.DB) *PostgresActivityRepo {
	return &PostgresActivityRepo{db: db}
}

func (r *PostgresActivityRepo) AppendActivity(ctx context.Context, a model.Activity) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO activities (id, type, occurred_at, payload)
		VALUES ($1, $2, $3, $4)
	`, a.ID, string(a.Type), a.Time, string(payload))
	return err
}

func (r *PostgresActivityRepo) ListActivities(ctx context.Context, limit int) ([]model.Activity, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, payload
		FROM activities
		ORDER BY occurred_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Activity
	for rows.Next() {
		var id string
		var payload []byte
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, err
		}
		var a model.Activity
		if err := json.Unmarshal(payload, &a); err != nil {
			return nil, fmt.Errorf("activity %s: decode: %w", id, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
