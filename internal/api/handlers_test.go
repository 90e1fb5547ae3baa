package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/LeventeLantos/dispatch-engine/internal/cache"
	"github.com/LeventeLantos/dispatch-engine/internal/campaign"
	"github.com/LeventeLantos/dispatch-engine/internal/delay"
	"github.com/LeventeLantos/dispatch-engine/internal/model"
	"github.com/LeventeLantos/dispatch-engine/internal/notifier"
	"github.com/LeventeLantos/dispatch-engine/internal/repo"
	"github.com/LeventeLantos/dispatch-engine/internal/scheduler"
	"github.com/LeventeLantos/dispatch-engine/internal/service"
)

type fakeDispatcher struct {
	mu     sync.Mutex
	phones []string
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, m service.Message) model.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.phones = append(f.phones, m.Recipient.Phone)
	return model.Outcome{Phone: m.Recipient.Phone, Success: true}
}

func (f *fakeDispatcher) Watermarking(file *model.FileMeta) bool { return false }

func (f *fakeDispatcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.phones)
}

type testServer struct {
	store *repo.MemoryStore
	disp  *fakeDispatcher
	h     *Handler
	mux   http.Handler
}

func newTestServer(t *testing.T, receipts cache.ReceiptCache) *testServer {
	t.Helper()

	store := repo.NewMemoryStore()
	disp := &fakeDispatcher{}
	policy := delay.NewPolicy(delay.Config{})

	h := NewHandler(Deps{
		Runner:    scheduler.NewRunner(store.Jobs(), disp, policy, store, 0),
		Campaigns: campaign.New(disp, policy, store, campaign.Config{BatchSize: 50, MaxFileSize: 1 << 20}),
		Notifier: notifier.New(store.Contacts(), disp, store, notifier.Templates{
			Start:   "Welcome {name}",
			Renewal: "Renewed until {end}",
			End:     "Expired {end}",
		}),
		Jobs:        store.Jobs(),
		Contacts:    store.Contacts(),
		Logs:        store,
		Activities:  store,
		Receipts:    receipts,
		BaseContext: context.Background(),
	})
	h.now = func() time.Time { return time.Date(2026, 3, 4, 9, 30, 0, 0, time.UTC) }

	return &testServer{store: store, disp: disp, h: h, mux: Router(h, nil)}
}

func (s *testServer) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	s.mux.ServeHTTP(rr, req)
	return rr
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var m map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &m); err != nil {
		t.Fatalf("failed to decode json: %v body=%q", err, rr.Body.String())
	}
	return m
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("expected %d, got %d body=%q", want, rr.Code, rr.Body.String())
	}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)

	rr := s.do(t, http.MethodGet, "/v1/health", "")
	expectStatus(t, rr, http.StatusOK)

	if ok, _ := decodeJSON(t, rr)["ok"].(bool); !ok {
		t.Fatalf("expected ok=true, got %q", rr.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	rr := s.do(t, http.MethodGet, "/metrics", "")
	expectStatus(t, rr, http.StatusOK)
}

func TestSchedulerLifecycle(t *testing.T) {
	s := newTestServer(t, nil)

	rr := s.do(t, http.MethodGet, "/v1/scheduler/status", "")
	expectStatus(t, rr, http.StatusOK)
	if got := decodeJSON(t, rr)["phase"]; got != "running" {
		t.Fatalf("expected running, got %v", got)
	}

	expectStatus(t, s.do(t, http.MethodPost, "/v1/scheduler/start", ""), http.StatusConflict)

	rr = s.do(t, http.MethodPost, "/v1/scheduler/pause", "")
	expectStatus(t, rr, http.StatusOK)
	if got := decodeJSON(t, rr)["phase"]; got != "paused" {
		t.Fatalf("expected paused, got %v", got)
	}
	expectStatus(t, s.do(t, http.MethodPost, "/v1/scheduler/pause", ""), http.StatusConflict)
	expectStatus(t, s.do(t, http.MethodPost, "/v1/scheduler/resume", ""), http.StatusOK)

	rr = s.do(t, http.MethodPost, "/v1/scheduler/stop", "")
	expectStatus(t, rr, http.StatusBadRequest)
	if got := decodeJSON(t, rr)["code"]; got != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR, got %v", got)
	}

	rr = s.do(t, http.MethodPost, "/v1/scheduler/stop?confirm=true", "")
	expectStatus(t, rr, http.StatusOK)
	if got := decodeJSON(t, rr)["phase"]; got != "stopped" {
		t.Fatalf("expected stopped, got %v", got)
	}

	expectStatus(t, s.do(t, http.MethodPost, "/v1/scheduler/start", ""), http.StatusOK)
}

func TestCreateJob_NormalizesAndAssignsID(t *testing.T) {
	s := newTestServer(t, nil)

	rr := s.do(t, http.MethodPost, "/v1/jobs",
		`{"time":"09:30","recipients":[{"phone":"+36 (30) 123","name":"Ann"},{"phone":"  "}],"message":"hi {name}"}`)
	expectStatus(t, rr, http.StatusCreated)

	var j model.Job
	if err := json.Unmarshal(rr.Body.Bytes(), &j); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if want := s.h.now().UnixMilli(); j.ID != want {
		t.Fatalf("expected id %d, got %d", want, j.ID)
	}
	if len(j.Recipients) != 1 || j.Recipients[0].Phone != "+3630123" {
		t.Fatalf("unexpected recipients: %+v", j.Recipients)
	}

	rr = s.do(t, http.MethodGet, "/v1/jobs", "")
	expectStatus(t, rr, http.StatusOK)
	items, _ := decodeJSON(t, rr)["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("expected 1 job, got %d", len(items))
	}

	expectStatus(t, s.do(t, http.MethodPost, "/v1/jobs",
		`{"id":`+jsonInt(j.ID)+`,"time":"10:00","recipients":[{"phone":"+1"}],"message":"x"}`), http.StatusConflict)
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func TestCreateJob_WakesScheduler(t *testing.T) {
	s := newTestServer(t, nil)

	loop, err := scheduler.NewLoop("scheduler", time.Hour, s.h.Runner.Tick)
	if err != nil {
		t.Fatalf("NewLoop: %v", err)
	}
	s.h.Loop = loop
	loop.Start()
	defer loop.Stop()
	eventually(t, func() bool { return loop.Ticks() == 1 })

	rr := s.do(t, http.MethodPost, "/v1/jobs", `{"time":"09:30","recipients":[{"phone":"+1"}],"message":"x"}`)
	expectStatus(t, rr, http.StatusCreated)

	eventually(t, func() bool { return loop.Ticks() >= 2 })

	rr = s.do(t, http.MethodGet, "/v1/scheduler/status", "")
	expectStatus(t, rr, http.StatusOK)
	if got, _ := decodeJSON(t, rr)["ticks"].(float64); got < 2 {
		t.Fatalf("expected ticks >= 2 in status, got %v", got)
	}
}

func TestCreateJob_Rejects(t *testing.T) {
	s := newTestServer(t, nil)

	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"time":`},
		{"bad time", `{"time":"25:00","recipients":[{"phone":"+1"}],"message":"x"}`},
		{"no recipients", `{"time":"09:00","message":"x"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectStatus(t, s.do(t, http.MethodPost, "/v1/jobs", tt.body), http.StatusBadRequest)
		})
	}
}

func TestDeleteJob(t *testing.T) {
	s := newTestServer(t, nil)
	ctx := context.Background()

	if err := s.store.Jobs().Create(ctx, model.Job{ID: 7, Time: "08:00", Recipients: []model.Recipient{{Phone: "+1"}}, Message: "x"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	expectStatus(t, s.do(t, http.MethodDelete, "/v1/jobs/abc", ""), http.StatusBadRequest)
	expectStatus(t, s.do(t, http.MethodDelete, "/v1/jobs/7", ""), http.StatusNoContent)
	expectStatus(t, s.do(t, http.MethodDelete, "/v1/jobs/7", ""), http.StatusNotFound)
}

func TestSendJobNow(t *testing.T) {
	s := newTestServer(t, nil)
	ctx := context.Background()

	j := model.Job{ID: 1, Time: "23:59", Recipients: []model.Recipient{{Phone: "+1"}, {Phone: "+2"}}, Message: "x"}
	if err := s.store.Jobs().Create(ctx, j); err != nil {
		t.Fatalf("seed: %v", err)
	}

	expectStatus(t, s.do(t, http.MethodPost, "/v1/jobs/1/send", ""), http.StatusAccepted)
	eventually(t, func() bool {
		got, err := s.store.Jobs().Get(ctx, 1)
		return err == nil && got.Sent && !s.h.Runner.Status().Busy
	})
	if got := s.disp.count(); got != 2 {
		t.Fatalf("expected 2 dispatches, got %d", got)
	}

	expectStatus(t, s.do(t, http.MethodPost, "/v1/jobs/1/send", ""), http.StatusConflict)
	expectStatus(t, s.do(t, http.MethodPost, "/v1/jobs/1/send?force=true", ""), http.StatusAccepted)
	eventually(t, func() bool { return s.disp.count() == 4 })

	expectStatus(t, s.do(t, http.MethodPost, "/v1/jobs/99/send", ""), http.StatusNotFound)
}

func TestStartCampaign(t *testing.T) {
	s := newTestServer(t, nil)

	rr := s.do(t, http.MethodPost, "/v1/campaigns",
		`{"sources":{"manual":"+361\n+362\n+361"},"message":"hello"}`)
	expectStatus(t, rr, http.StatusAccepted)
	if got := decodeJSON(t, rr)["recipients"]; got != float64(2) {
		t.Fatalf("expected 2 recipients, got %v", got)
	}

	eventually(t, func() bool {
		st := s.h.Campaigns.Status()
		return st.Phase == "idle" && st.Last != nil
	})
	if got := s.disp.count(); got != 2 {
		t.Fatalf("expected 2 dispatches, got %d", got)
	}

	rr = s.do(t, http.MethodGet, "/v1/activities?limit=5", "")
	expectStatus(t, rr, http.StatusOK)
	items, _ := decodeJSON(t, rr)["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("expected 1 activity, got %d", len(items))
	}
}

func TestStartCampaign_Rejects(t *testing.T) {
	s := newTestServer(t, nil)

	rr := s.do(t, http.MethodPost, "/v1/campaigns", `{"sources":{},"message":"hello"}`)
	expectStatus(t, rr, http.StatusBadRequest)

	rr = s.do(t, http.MethodPost, "/v1/campaigns", `{"sources":{"manual":"+1"}}`)
	expectStatus(t, rr, http.StatusBadRequest)
}

func TestCampaignControls_NoRun(t *testing.T) {
	s := newTestServer(t, nil)

	expectStatus(t, s.do(t, http.MethodPost, "/v1/campaigns/pause", ""), http.StatusConflict)
	expectStatus(t, s.do(t, http.MethodPost, "/v1/campaigns/resume", ""), http.StatusConflict)
	expectStatus(t, s.do(t, http.MethodPost, "/v1/campaigns/stop", ""), http.StatusBadRequest)
	expectStatus(t, s.do(t, http.MethodPost, "/v1/campaigns/stop?confirm=true", ""), http.StatusConflict)

	rr := s.do(t, http.MethodGet, "/v1/campaigns/status", "")
	expectStatus(t, rr, http.StatusOK)
	if got := decodeJSON(t, rr)["phase"]; got != "idle" {
		t.Fatalf("expected idle, got %v", got)
	}
}

func TestContacts(t *testing.T) {
	s := newTestServer(t, nil)

	rr := s.do(t, http.MethodPost, "/v1/contacts", `{"phone":"+36 1","name":"Ann","endDate":"2030-01-01"}`)
	expectStatus(t, rr, http.StatusCreated)
	if got := decodeJSON(t, rr)["phone"]; got != "+361" {
		t.Fatalf("expected normalized phone, got %v", got)
	}
	expectStatus(t, s.do(t, http.MethodPost, "/v1/contacts", `{"phone":"+361"}`), http.StatusConflict)
	expectStatus(t, s.do(t, http.MethodPost, "/v1/contacts", `{"phone":"+1","endDate":"soon"}`), http.StatusBadRequest)

	rr = s.do(t, http.MethodPut, "/v1/contacts/+361", `{"endDate":"2031-01-01"}`)
	expectStatus(t, rr, http.StatusOK)
	body := decodeJSON(t, rr)
	if body["endDate"] != "2031-01-01" || body["renewalNotified"] != true {
		t.Fatalf("expected renewed contact, got %v", body)
	}
	if got := s.disp.count(); got != 1 {
		t.Fatalf("expected 1 renewal dispatch, got %d", got)
	}

	rr = s.do(t, http.MethodPost, "/v1/contacts/+361/renewal", "")
	expectStatus(t, rr, http.StatusOK)
	if got := decodeJSON(t, rr)["sent"]; got != true {
		t.Fatalf("expected sent=true, got %v", got)
	}

	expectStatus(t, s.do(t, http.MethodPut, "/v1/contacts/+999", `{"endDate":"2031-01-01"}`), http.StatusNotFound)

	rr = s.do(t, http.MethodGet, "/v1/contacts", "")
	expectStatus(t, rr, http.StatusOK)
	items, _ := decodeJSON(t, rr)["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("expected 1 contact, got %d", len(items))
	}
}

func TestContactReceipt(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	receipts := cache.NewRedisCache(rdb, time.Hour)
	s := newTestServer(t, receipts)

	expectStatus(t, s.do(t, http.MethodGet, "/v1/contacts/+361/receipt", ""), http.StatusNotFound)

	sentAt := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)
	if err := receipts.StoreSent(context.Background(), "+361", "ext-1", "bulk", sentAt); err != nil {
		t.Fatalf("store: %v", err)
	}

	rr := s.do(t, http.MethodGet, "/v1/contacts/+361/receipt", "")
	expectStatus(t, rr, http.StatusOK)
	if got := decodeJSON(t, rr)["remoteMessageId"]; got != "ext-1" {
		t.Fatalf("expected ext-1, got %v", got)
	}
}

func TestContactReceipt_Disabled(t *testing.T) {
	s := newTestServer(t, nil)

	expectStatus(t, s.do(t, http.MethodGet, "/v1/contacts/+361/receipt", ""), http.StatusNotFound)
}

func TestListLogs_Paging(t *testing.T) {
	s := newTestServer(t, nil)
	ctx := context.Background()

	for _, p := range []string{"+1", "+2", "+3"} {
		if err := s.store.AppendLog(ctx, model.LogEntry{To: p, Status: model.LogSent}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	rr := s.do(t, http.MethodGet, "/v1/logs?limit=2&offset=1", "")
	expectStatus(t, rr, http.StatusOK)
	items, _ := decodeJSON(t, rr)["items"].([]any)
	if len(items) != 2 {
		t.Fatalf("expected 2 logs, got %d", len(items))
	}
	if first, _ := items[0].(map[string]any); first["to"] != "+2" {
		t.Fatalf("expected newest-first paging to start at +2, got %v", first)
	}

	rr = s.do(t, http.MethodGet, "/v1/logs?limit=nope", "")
	expectStatus(t, rr, http.StatusOK)
	items, _ = decodeJSON(t, rr)["items"].([]any)
	if len(items) != 3 {
		t.Fatalf("expected default limit to return all 3, got %d", len(items))
	}
}

func TestRelayMountedWhenConfigured(t *testing.T) {
	s := newTestServer(t, nil)

	called := false
	mux := Router(s.h, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/gateway/send", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if !called || rr.Code != http.StatusOK {
		t.Fatalf("expected relay to handle request, called=%v code=%d", called, rr.Code)
	}
}

func TestParseInt(t *testing.T) {
	tests := []struct {
		raw  string
		def  int
		want int
	}{
		{"", 50, 50},
		{"10", 50, 10},
		{"abc", 50, 50},
		{"-1", 50, -1},
	}
	for _, tt := range tests {
		if got := parseInt(tt.raw, tt.def); got != tt.want {
			t.Fatalf("parseInt(%q, %d) = %d, want %d", tt.raw, tt.def, got, tt.want)
		}
	}
}
