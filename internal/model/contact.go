package model

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/LeventeLantos/dispatch-engine/internal/apperror"
)

const (
	ContactSchemaVersion = 1

	// DateLayout is the calendar date format of plan start/end dates.
	DateLayout = "2006-01-02"
)

type ExpiryStatus string

const (
	NotifiedToday   ExpiryStatus = "notified_today"
	NotifiedPastDue ExpiryStatus = "notified_past_due"
)

// Contact is a saved recipient with an optional plan period.
type Contact struct {
	Phone     string `json:"phone"`
	Name      string `json:"name"`
	StartDate string `json:"startDate,omitempty"`
	EndDate   string `json:"endDate,omitempty"`

	StartNotified     bool       `json:"startNotified"`
	StartNotifiedAt   *time.Time `json:"startNotifiedAt,omitempty"`
	RenewalNotified   bool       `json:"renewalNotified"`
	RenewalNotifiedAt *time.Time `json:"renewalNotifiedAt,omitempty"`
	NotifiedEnd       bool       `json:"notifiedEnd"`
	NotifiedAt        *time.Time `json:"notifiedAt,omitempty"`

	ExpiryStatus  ExpiryStatus `json:"expiryStatus,omitempty"`
	CreatedAt     time.Time    `json:"createdAt"`
	SchemaVersion int          `json:"schemaVersion"`
}

func (c Contact) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.Phone, validation.Required),
		validation.Field(&c.StartDate, validation.Date(DateLayout)),
		validation.Field(&c.EndDate, validation.Date(DateLayout)),
		validation.Field(&c.SchemaVersion, validation.In(0, ContactSchemaVersion).Error("unsupported schema version")),
	)
	if err != nil {
		return apperror.ValidationError(err.Error())
	}
	return nil
}

func (c Contact) Recipient() Recipient {
	return Recipient{Phone: c.Phone, Name: c.Name}
}

// ParseDate parses a plan date as local midnight in loc.
func ParseDate(s string, loc *time.Location) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(DateLayout, s, loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Midnight truncates t to the start of its calendar day in t's location.
func Midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
