package model

import (
	"encoding/json"
	"time"
)

type LogStatus string

const (
	LogSent   LogStatus = "sent"
	LogFailed LogStatus = "failed"
	LogError  LogStatus = "error"
)

// LogEntry is the durable trace of a single dispatch attempt.
type LogEntry struct {
	ID       int64           `json:"id,omitempty"`
	Time     time.Time       `json:"time"`
	To       string          `json:"to"`
	Filename string          `json:"filename,omitempty"`
	Message  string          `json:"message,omitempty"`
	Status   LogStatus       `json:"status"`
	Response json.RawMessage `json:"response,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Outcome is the transient result of one dispatch.
type Outcome struct {
	Phone       string          `json:"phone"`
	Success     bool            `json:"success"`
	ExternalID  string          `json:"externalId,omitempty"`
	Filename    string          `json:"filename,omitempty"`
	Watermarked bool            `json:"watermarked"`
	Raw         json.RawMessage `json:"raw,omitempty"`
	Error       string          `json:"error,omitempty"`
}

type ActivityType string

const (
	ActivityBulk       ActivityType = "bulk"
	ActivityScheduled  ActivityType = "scheduled"
	ActivityAutomation ActivityType = "automation"
	ActivityContact    ActivityType = "contact"
)

// Activity is a coarse record of a run, job or automation event.
type Activity struct {
	ID               string       `json:"id"`
	Type             ActivityType `json:"type"`
	Message          string       `json:"message"`
	Time             time.Time    `json:"time"`
	Recipients       int          `json:"recipients,omitempty"`
	Success          int          `json:"success,omitempty"`
	Failed           int          `json:"failed,omitempty"`
	Batches          int          `json:"batches,omitempty"`
	JobID            int64        `json:"jobId,omitempty"`
	Stopped          bool         `json:"stopped,omitempty"`
	Phone            string       `json:"phone,omitempty"`
	NotificationType string       `json:"notificationType,omitempty"`
	Succeeded        *bool        `json:"succeeded,omitempty"`
}
