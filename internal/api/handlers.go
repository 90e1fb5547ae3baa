package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/LeventeLantos/dispatch-engine/internal/apperror"
	"github.com/LeventeLantos/dispatch-engine/internal/cache"
	"github.com/LeventeLantos/dispatch-engine/internal/campaign"
	"github.com/LeventeLantos/dispatch-engine/internal/model"
	"github.com/LeventeLantos/dispatch-engine/internal/notifier"
	"github.com/LeventeLantos/dispatch-engine/internal/repo"
	"github.com/LeventeLantos/dispatch-engine/internal/scheduler"
)

// maxBodyBytes leaves room for a base64 attachment at the default size limit.
const maxBodyBytes = 64 << 20

type Deps struct {
	Runner     *scheduler.Runner
	Loop       *scheduler.Loop
	Campaigns  *campaign.Controller
	Notifier   *notifier.Notifier
	Jobs       repo.JobRepository
	Contacts   repo.ContactRepository
	Logs       repo.LogRepository
	Activities repo.ActivityRepository
	Receipts   cache.ReceiptCache

	// BaseContext outlives requests; background sends run under it.
	BaseContext context.Context
}

type Handler struct {
	Deps
	now func() time.Time
}

func NewHandler(d Deps) *Handler {
	if d.BaseContext == nil {
		d.BaseContext = context.Background()
	}
	return &Handler{Deps: d, now: time.Now}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.schedulerStatus())
}

func (h *Handler) SchedulerStart(w http.ResponseWriter, r *http.Request) {
	started := h.Runner.Start()
	if h.Loop != nil && h.Loop.Start() {
		started = true
	}
	if !started {
		writeError(w, apperror.ConflictError("scheduler is already running"))
		return
	}
	writeJSON(w, http.StatusOK, h.schedulerStatus())
}

func (h *Handler) SchedulerPause(w http.ResponseWriter, r *http.Request) {
	if !h.Runner.Pause() {
		writeError(w, apperror.ConflictError("scheduler is not running"))
		return
	}
	writeJSON(w, http.StatusOK, h.schedulerStatus())
}

func (h *Handler) SchedulerResume(w http.ResponseWriter, r *http.Request) {
	if !h.Runner.Resume() {
		writeError(w, apperror.ConflictError("scheduler is not paused"))
		return
	}
	h.wakeScheduler()
	writeJSON(w, http.StatusOK, h.schedulerStatus())
}

// SchedulerStop lets the current recipient finish; no new job starts.
func (h *Handler) SchedulerStop(w http.ResponseWriter, r *http.Request) {
	if err := requireConfirm(r); err != nil {
		writeError(w, err)
		return
	}
	if !h.Runner.Stop() {
		writeError(w, apperror.ConflictError("scheduler is not running"))
		return
	}
	writeJSON(w, http.StatusOK, h.schedulerStatus())
}

func (h *Handler) schedulerStatus() map[string]any {
	st := h.Runner.Status()
	out := map[string]any{
		"phase":      st.Phase,
		"busy":       st.Busy,
		"currentJob": st.CurrentJob,
	}
	if h.Loop != nil {
		out["running"] = h.Loop.IsRunning()
		out["ticks"] = h.Loop.Ticks()
		if last := h.Loop.LastTick(); !last.IsZero() {
			out["lastTick"] = last
		}
	}
	return out
}

// wakeScheduler runs a tick now so a job due this minute does not wait
// for the next interval.
func (h *Handler) wakeScheduler() {
	if h.Loop != nil {
		h.Loop.Trigger()
	}
}

func (h *Handler) StartCampaign(w http.ResponseWriter, r *http.Request) {
	var req campaign.Request
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	plan, err := h.Campaigns.Prepare(req)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.Campaigns.Start(h.BaseContext, plan); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"recipients": len(plan.Recipients)})
}

func (h *Handler) CampaignStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Campaigns.Status())
}

func (h *Handler) CampaignPause(w http.ResponseWriter, r *http.Request) {
	if !h.Campaigns.Pause() {
		writeError(w, apperror.ConflictError("no running campaign"))
		return
	}
	writeJSON(w, http.StatusOK, h.Campaigns.Status())
}

func (h *Handler) CampaignResume(w http.ResponseWriter, r *http.Request) {
	if !h.Campaigns.Resume() {
		writeError(w, apperror.ConflictError("campaign is not paused"))
		return
	}
	writeJSON(w, http.StatusOK, h.Campaigns.Status())
}

func (h *Handler) CampaignStop(w http.ResponseWriter, r *http.Request) {
	if err := requireConfirm(r); err != nil {
		writeError(w, err)
		return
	}
	if !h.Campaigns.Stop() {
		writeError(w, apperror.ConflictError("no running campaign"))
		return
	}
	writeJSON(w, http.StatusOK, h.Campaigns.Status())
}

func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	items, err := h.Jobs.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": nonNil(items)})
}

type jobRequest struct {
	ID         int64             `json:"id"`
	Time       string            `json:"time"`
	Recipients []model.Recipient `json:"recipients"`
	Message    string            `json:"message"`
	File       *model.FileMeta   `json:"fileMeta,omitempty"`
}

func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req jobRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	now := h.now()
	j := model.Job{
		ID:            req.ID,
		Time:          req.Time,
		Message:       req.Message,
		File:          req.File,
		Created:       now,
		SchemaVersion: model.JobSchemaVersion,
	}
	if j.ID == 0 {
		j.ID = now.UnixMilli()
	}
	for _, rc := range req.Recipients {
		if p := model.NormalizePhone(rc.Phone); p != "" {
			j.Recipients = append(j.Recipients, model.Recipient{Phone: p, Name: rc.Name})
		}
	}

	if err := j.Validate(); err != nil {
		writeError(w, err)
		return
	}
	if err := h.Jobs.Create(r.Context(), j); err != nil {
		writeError(w, err)
		return
	}
	h.wakeScheduler()
	writeJSON(w, http.StatusCreated, j)
}

func (h *Handler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.Jobs.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) SendJobNow(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	force := r.URL.Query().Get("force") == "true"
	if err := h.Runner.StartSendNow(h.BaseContext, id, force); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"id": id})
}

func (h *Handler) ListContacts(w http.ResponseWriter, r *http.Request) {
	items, err := h.Contacts.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": nonNil(items)})
}

func (h *Handler) CreateContact(w http.ResponseWriter, r *http.Request) {
	var c model.Contact
	if err := decodeBody(w, r, &c); err != nil {
		writeError(w, err)
		return
	}
	saved, err := h.Notifier.AddContact(r.Context(), c)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (h *Handler) UpdateContact(w http.ResponseWriter, r *http.Request) {
	var upd notifier.ContactUpdate
	if err := decodeBody(w, r, &upd); err != nil {
		writeError(w, err)
		return
	}
	c, err := h.Notifier.UpdateContact(r.Context(), pathPhone(r), upd)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) RenewContact(w http.ResponseWriter, r *http.Request) {
	sent, err := h.Notifier.Renew(r.Context(), pathPhone(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sent": sent})
}

func (h *Handler) ContactReceipt(w http.ResponseWriter, r *http.Request) {
	phone := pathPhone(r)
	if h.Receipts == nil {
		writeError(w, apperror.NotFoundError("receipt cache is disabled"))
		return
	}
	rec, ok, err := h.Receipts.LastSent(r.Context(), phone)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, apperror.NotFoundError(fmt.Sprintf("no receipt for %s", phone)))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) ListLogs(w http.ResponseWriter, r *http.Request) {
	limit := parseInt(r.URL.Query().Get("limit"), 50)
	offset := parseInt(r.URL.Query().Get("offset"), 0)

	items, err := h.Logs.ListLogs(r.Context(), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": nonNil(items)})
}

func (h *Handler) ListActivities(w http.ResponseWriter, r *http.Request) {
	limit := parseInt(r.URL.Query().Get("limit"), 50)

	items, err := h.Activities.ListActivities(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": nonNil(items)})
}

func requireConfirm(r *http.Request) error {
	if r.URL.Query().Get("confirm") != "true" {
		return apperror.ValidationError("stop requires confirm=true")
	}
	return nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		return 0, apperror.ValidationError("invalid job id")
	}
	return id, nil
}

func pathPhone(r *http.Request) string {
	return model.NormalizePhone(r.PathValue("phone"))
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperror.ValidationError("invalid request body: " + err.Error())
	}
	return nil
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func parseInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func writeError(w http.ResponseWriter, err error) {
	if coded, ok := apperror.As(err); ok {
		writeJSON(w, coded.StatusCode(), map[string]any{"error": coded.Error(), "code": coded.ErrCode()})
		return
	}
	slog.Error("request failed", "err", err)
	writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
