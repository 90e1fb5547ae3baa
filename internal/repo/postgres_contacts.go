package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/LeventeLantos/dispatch-engine/internal/apperror"
	"github.com/LeventeLantos/dispatch-engine/internal/model"
)

type PostgresContactRepo struct {
	db *sql.DB
}

func NewPostgresContactRepo(db *sql.DB) *PostgresContactRepo {
	return &PostgresContactRepo{db: db}
}

const contactColumns = `phone, name, start_date, end_date,
	start_notified, start_notified_at, renewal_notified, renewal_notified_at,
	notified_end, notified_at, expiry_status, created_at, schema_version`

func (r *PostgresContactRepo) List(ctx context.Context) ([]model.Contact, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+contactColumns+` FROM contacts ORDER BY created_at ASC, phone ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PostgresContactRepo) Get(ctx context.Context, phone string) (model.Contact, error) {
	c, err := scanContact(r.db.QueryRowContext(ctx, `SELECT `+contactColumns+` FROM contacts WHERE phone = $1`, phone))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Contact{}, apperror.NotFoundError(fmt.Sprintf("contact %s not found", phone))
	}
	return c, err
}

func (r *PostgresContactRepo) Create(ctx context.Context, c model.Contact) error {
	if c.SchemaVersion == 0 {
		c.SchemaVersion = model.ContactSchemaVersion
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO contacts (`+contactColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, contactArgs(c)...)
	if isUniqueViolation(err) {
		return apperror.ConflictError(fmt.Sprintf("contact %s already exists", c.Phone))
	}
	return err
}

// Update replaces every column of an existing contact.
func (r *PostgresContactRepo) Update(ctx context.Context, c model.Contact) error {
	if c.SchemaVersion == 0 {
		c.SchemaVersion = model.ContactSchemaVersion
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE contacts
		SET name = $2,
		    start_date = $3,
		    end_date = $4,
		    start_notified = $5,
		    start_notified_at = $6,
		    renewal_notified = $7,
		    renewal_notified_at = $8,
		    notified_end = $9,
		    notified_at = $10,
		    expiry_status = $11,
		    created_at = $12,
		    schema_version = $13
		WHERE phone = $1
	`, contactArgs(c)...)
	if err != nil {
		return err
	}
	return expectRow(res, fmt.Sprintf("contact %s not found", c.Phone))
}

func contactArgs(c model.Contact) []any {
	return []any{
		c.Phone,
		c.Name,
		c.StartDate,
		c.EndDate,
		c.StartNotified,
		nullTime(c.StartNotifiedAt),
		c.RenewalNotified,
		nullTime(c.RenewalNotifiedAt),
		c.NotifiedEnd,
		nullTime(c.NotifiedAt),
		string(c.ExpiryStatus),
		c.CreatedAt,
		c.SchemaVersion,
	}
}

func scanContact(s scanner) (model.Contact, error) {
	var c model.Contact
	var startAt, renewalAt, endAt sql.NullTime
	var expiry string

	if err := s.Scan(
		&c.Phone,
		&c.Name,
		&c.StartDate,
		&c.EndDate,
		&c.StartNotified,
		&startAt,
		&c.RenewalNotified,
		&renewalAt,
		&c.NotifiedEnd,
		&endAt,
		&expiry,
		&c.CreatedAt,
		&c.SchemaVersion,
	); err != nil {
		return model.Contact{}, err
	}
	if err := checkVersion("contact", c.Phone, c.SchemaVersion, model.ContactSchemaVersion); err != nil {
		return model.Contact{}, err
	}
	c.StartNotifiedAt = timePtr(startAt)
	c.RenewalNotifiedAt = timePtr(renewalAt)
	c.NotifiedAt = timePtr(endAt)
	c.ExpiryStatus = model.ExpiryStatus(expiry)
	return c, nil
}
