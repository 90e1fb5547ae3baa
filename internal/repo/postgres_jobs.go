package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/LeventeLantos/dispatch-engine/internal/apperror"
	"github.com/LeventeLantos/dispatch-engine/internal/model"
)

type PostgresJobRepo struct {
	db *sql.DB
}

func NewPostgresJobRepo(db *sql.DB) *PostgresJobRepo {
	return &PostgresJobRepo{db: db}
}

const jobColumns = `id, time_of_day, recipients, message, file_meta, created_at, sent, sent_at, schema_version`

func (r *PostgresJobRepo) List(ctx context.Context) ([]model.Job, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (r *PostgresJobRepo) Get(ctx context.Context, id int64) (model.Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Job{}, apperror.NotFoundError(fmt.Sprintf("job %d not found", id))
	}
	return j, err
}

func (r *PostgresJobRepo) Create(ctx context.Context, j model.Job) error {
	recipients, err := json.Marshal(j.Recipients)
	if err != nil {
		return err
	}
	var file *string
	if j.File != nil {
		b, err := json.Marshal(j.File)
		if err != nil {
			return err
		}
		s := string(b)
		file = &s
	}
	if j.SchemaVersion == 0 {
		j.SchemaVersion = model.JobSchemaVersion
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO jobs (id, time_of_day, recipients, message, file_meta, created_at, sent, sent_at, schema_version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, j.ID, j.Time, string(recipients), j.Message, file, j.Created, j.Sent, nullTime(j.SentAt), j.SchemaVersion)
	if isUniqueViolation(err) {
		return apperror.ConflictError(fmt.Sprintf("job %d already exists", j.ID))
	}
	return err
}

func (r *PostgresJobRepo) MarkSent(ctx context.Context, id int64, sentAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs
		SET sent = true,
		    sent_at = $2
		WHERE id = $1
	`, id, sentAt)
	if err != nil {
		return err
	}
	return expectRow(res, fmt.Sprintf("job %d not found", id))
}

func (r *PostgresJobRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectRow(res, fmt.Sprintf("job %d not found", id))
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (model.Job, error) {
	var j model.Job
	var recipients, file []byte
	var sentAt sql.NullTime

	if err := s.Scan(
		&j.ID,
		&j.Time,
		&recipients,
		&j.Message,
		&file,
		&j.Created,
		&j.Sent,
		&sentAt,
		&j.SchemaVersion,
	); err != nil {
		return model.Job{}, err
	}
	if err := checkVersion("job", j.ID, j.SchemaVersion, model.JobSchemaVersion); err != nil {
		return model.Job{}, err
	}
	if err := json.Unmarshal(recipients, &j.Recipients); err != nil {
		return model.Job{}, fmt.Errorf("job %d: decode recipients: %w", j.ID, err)
	}
	if len(file) > 0 {
		j.File = &model.FileMeta{}
		if err := json.Unmarshal(file, j.File); err != nil {
			return model.Job{}, fmt.Errorf("job %d: decode file: %w", j.ID, err)
		}
	}
	j.SentAt = timePtr(sentAt)
	return j, nil
}

func expectRow(res sql.Result, notFound string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperror.NotFoundError(notFound)
	}
	return nil
}
