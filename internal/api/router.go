package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router registers every route. relay is mounted only when non-nil.
func Router(h *Handler, relay http.Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", h.Health)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /v1/scheduler/status", h.SchedulerStatus)
	mux.HandleFunc("POST /v1/scheduler/start", h.SchedulerStart)
	mux.HandleFunc("POST /v1/scheduler/pause", h.SchedulerPause)
	mux.HandleFunc("POST /v1/scheduler/resume", h.SchedulerResume)
	mux.HandleFunc("POST /v1/scheduler/stop", h.SchedulerStop)

	mux.HandleFunc("POST /v1/campaigns", h.StartCampaign)
	mux.HandleFunc("GET /v1/campaigns/status", h.CampaignStatus)
	mux.HandleFunc("POST /v1/campaigns/pause", h.CampaignPause)
	mux.HandleFunc("POST /v1/campaigns/resume", h.CampaignResume)
	mux.HandleFunc("POST /v1/campaigns/stop", h.CampaignStop)

	mux.HandleFunc("GET /v1/jobs", h.ListJobs)
	mux.HandleFunc("POST /v1/jobs", h.CreateJob)
	mux.HandleFunc("DELETE /v1/jobs/{id}", h.DeleteJob)
	mux.HandleFunc("POST /v1/jobs/{id}/send", h.SendJobNow)

	mux.HandleFunc("GET /v1/contacts", h.ListContacts)
	mux.HandleFunc("POST /v1/contacts", h.CreateContact)
	mux.HandleFunc("PUT /v1/contacts/{phone}", h.UpdateContact)
	mux.HandleFunc("POST /v1/contacts/{phone}/renewal", h.RenewContact)
	mux.HandleFunc("GET /v1/contacts/{phone}/receipt", h.ContactReceipt)

	mux.HandleFunc("GET /v1/logs", h.ListLogs)
	mux.HandleFunc("GET /v1/activities", h.ListActivities)

	if relay != nil {
		mux.Handle("POST /v1/gateway/send", relay)
	}

	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("dispatch-engine"))
	})

	return mux
}
