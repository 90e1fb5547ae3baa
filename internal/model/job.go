package model

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/LeventeLantos/dispatch-engine/internal/apperror"
)

// JobSchemaVersion is the only Job layout this build reads.
const JobSchemaVersion = 1

var timeOfDay = regexp.MustCompile(`^([01]?[0-9]|2[0-3]):[0-5][0-9]$`)

// FileMeta is an attachment carried inline as base64.
type FileMeta struct {
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
	Base64   string `json:"base64"`
}

// Size returns the decoded byte length of the attachment.
func (f FileMeta) Size() int64 {
	s := strings.TrimSpace(f.Base64)
	if s == "" {
		return 0
	}
	pad := len(s) - len(strings.TrimRight(s, "="))
	return int64(base64.StdEncoding.DecodedLen(len(s)) - pad)
}

// Watermarkable reports whether the watermark service accepts this type.
func (f FileMeta) Watermarkable() bool {
	mt := strings.ToLower(f.MimeType)
	return mt == "application/pdf" || strings.HasPrefix(mt, "image/")
}

// Job is a one-shot scheduled send. Sent flips false->true exactly once.
type Job struct {
	ID            int64       `json:"id"`
	Time          string      `json:"time"`
	Recipients    []Recipient `json:"recipients"`
	Message       string      `json:"message"`
	File          *FileMeta   `json:"fileMeta,omitempty"`
	Created       time.Time   `json:"created"`
	Sent          bool        `json:"sent"`
	SentAt        *time.Time  `json:"sentAt,omitempty"`
	SchemaVersion int         `json:"schemaVersion"`
}

func (j Job) Validate() error {
	err := validation.ValidateStruct(&j,
		validation.Field(&j.Time, validation.Required, validation.Match(timeOfDay).Error("must be HH:MM")),
		validation.Field(&j.Recipients, validation.Required),
		validation.Field(&j.SchemaVersion, validation.In(0, JobSchemaVersion).Error("unsupported schema version")),
	)
	if err != nil {
		return apperror.ValidationError(err.Error())
	}
	return nil
}

// MinuteOfDay returns hours*60+minutes of the job's time.
func (j Job) MinuteOfDay() (int, error) {
	if !timeOfDay.MatchString(j.Time) {
		return 0, fmt.Errorf("job %d: invalid time %q", j.ID, j.Time)
	}
	var h, m int
	if _, err := fmt.Sscanf(j.Time, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("job %d: parse time %q: %w", j.ID, j.Time, err)
	}
	return h*60 + m, nil
}
