package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/LeventeLantos/dispatch-engine/internal/client"
	"github.com/LeventeLantos/dispatch-engine/internal/metrics"
	"github.com/LeventeLantos/dispatch-engine/internal/model"
)

type SendClient interface {
	Send(ctx context.Context, to, body, filename, base64Data string) (client.Result, error)
}

type Watermarker interface {
	Watermark(ctx context.Context, documentBase64, fileType, text string) (string, error)
}

type LogStore interface {
	AppendLog(ctx context.Context, e model.LogEntry) error
}

type WatermarkConfig struct {
	Enabled  bool
	Format   string
	Template string
}

// Message is one dispatch request. Vars adds placeholders beyond {name}.
type Message struct {
	Recipient model.Recipient
	Template  string
	Vars      map[string]string
	File      *model.FileMeta
	Source    string
}

type Dispatcher struct {
	client      SendClient
	watermarker Watermarker
	logs        LogStore
	wm          WatermarkConfig
	now         func() time.Time

	onSent   func(ctx context.Context, source string, o model.Outcome) error
	onFailed func(ctx context.Context, source string, o model.Outcome) error
}

func NewDispatcher(c SendClient, w Watermarker, logs LogStore, wm WatermarkConfig) *Dispatcher {
	return &Dispatcher{
		client:      c,
		watermarker: w,
		logs:        logs,
		wm:          wm,
		now:         time.Now,
	}
}

func (d *Dispatcher) WithHooks(
	onSent func(ctx context.Context, source string, o model.Outcome) error,
	onFailed func(ctx context.Context, source string, o model.Outcome) error,
) *Dispatcher {
	d.onSent = onSent
	d.onFailed = onFailed
	return d
}

// Watermarking reports whether an attachment goes through the watermark
// service, which also shortens the inter-dispatch delay.
func (d *Dispatcher) Watermarking(file *model.FileMeta) bool {
	return file != nil && d.wm.Enabled && d.watermarker != nil
}

// Dispatch sends one message and always writes one log entry. It never
// returns an error; transport and decode failures become a failed Outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, m Message) model.Outcome {
	to := m.Recipient.Phone
	name := m.Recipient.DisplayName()

	vars := map[string]string{"name": name}
	for k, v := range m.Vars {
		vars[k] = v
	}
	body := Render(m.Template, vars)
	if strings.TrimSpace(body) == "" {
		body = " "
	}

	out := model.Outcome{Phone: to}

	var data string
	if m.File != nil {
		data = m.File.Base64
		out.Filename = m.File.Filename
		if d.Watermarking(m.File) && m.File.Watermarkable() {
			text := WatermarkText(d.wm.Format, d.wm.Template, name, to)
			marked, err := d.watermarker.Watermark(ctx, m.File.Base64, m.File.MimeType, text)
			if err != nil {
				metrics.WatermarkFallbacks.Inc()
				slog.Warn("watermark failed, sending original", "to", to, "file", m.File.Filename, "err", err)
			} else {
				data = marked
				out.Filename = "WM_" + m.File.Filename
				out.Watermarked = true
			}
		}
	}

	entry := model.LogEntry{
		Time:     d.now(),
		To:       to,
		Filename: out.Filename,
		Message:  body,
	}

	res, err := d.client.Send(ctx, to, body, out.Filename, data)
	if err == nil {
		var v client.Verdict
		v, err = client.InterpretResponse(res.StatusCode, res.Body)
		if err == nil {
			out.Success = v.Success
			out.ExternalID = v.ExternalID
			out.Raw = v.Raw
			entry.Response = v.Raw
			entry.Status = model.LogFailed
			if v.Success {
				entry.Status = model.LogSent
			}
		}
	}
	if err != nil {
		out.Success = false
		out.Error = err.Error()
		entry.Status = model.LogError
		entry.Error = err.Error()
	}

	if d.logs != nil {
		if lerr := d.logs.AppendLog(ctx, entry); lerr != nil {
			slog.Warn("dispatch log append failed", "to", to, "err", lerr)
		}
	}

	metrics.Dispatches.WithLabelValues(sourceLabel(m.Source), string(entry.Status)).Inc()

	if out.Success {
		if d.onSent != nil {
			_ = d.onSent(ctx, m.Source, out)
		}
	} else {
		slog.Info("dispatch failed", "to", to, "source", m.Source, "status", entry.Status, "err", out.Error)
		if d.onFailed != nil {
			_ = d.onFailed(ctx, m.Source, out)
		}
	}
	return out
}

func sourceLabel(s string) string {
	if s == "" {
		return "direct"
	}
	return s
}
