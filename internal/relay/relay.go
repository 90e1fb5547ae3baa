package relay

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/LeventeLantos/dispatch-engine/internal/client"
)

type Config struct {
	UpstreamURL string
	InstanceID  string
	Token       string
	Timeout     time.Duration
}

// Handler accepts the gateway payload and forwards it, form encoded, to
// the chat API's document or chat endpoint.
type Handler struct {
	cfg    Config
	audit  *AuditLog
	client *http.Client
	now    func() time.Time
}

func NewHandler(cfg Config, audit *AuditLog) *Handler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	cfg.UpstreamURL = strings.TrimRight(cfg.UpstreamURL, "/")
	return &Handler{
		cfg:    cfg,
		audit:  audit,
		client: &http.Client{Timeout: cfg.Timeout},
		now:    time.Now,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var in client.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"error": "No input received"})
		return
	}

	instance := strings.TrimSpace(in.InstanceID)
	if instance == "" {
		instance = h.cfg.InstanceID
	}
	token := strings.TrimSpace(in.Token)
	if token == "" {
		token = h.cfg.Token
	}

	to := strings.TrimSpace(in.To)
	body := strings.TrimSpace(in.Body)
	data := strings.TrimSpace(in.Base64)
	filename := strings.TrimSpace(in.Filename)

	if to == "" {
		writeJSON(w, http.StatusOK, map[string]any{"error": []map[string]string{{"to": "is required"}}})
		return
	}
	if body == "" && data == "" {
		body = " "
	}

	kind := "chat"
	form := url.Values{"to": {to}, "body": {body}}
	if data != "" && filename != "" {
		kind = "document"
		form = url.Values{"to": {to}, "document": {data}, "filename": {filename}, "caption": {body}}
	}

	endpoint := h.cfg.UpstreamURL + "/" + url.PathEscape(instance) + "/messages/" + kind + "?" + url.Values{"token": {token}}.Encode()

	status, respBody, err := h.forward(r, endpoint, form)

	auditType := "chat"
	if data != "" {
		auditType = "document"
	}
	if h.audit != nil {
		if aerr := h.audit.Append(AuditEntry{
			Time:      h.now().Format("2006-01-02 15:04:05"),
			Instance:  instance,
			TokenUsed: maskToken(token),
			To:        to,
			Type:      auditType,
			HTTP:      status,
			Response:  string(respBody),
		}); aerr != nil {
			slog.Warn("relay audit append failed", "err", aerr)
		}
	}

	if err != nil {
		slog.Warn("relay upstream request failed", "to", to, "type", kind, "err", err)
		writeJSON(w, http.StatusOK, map[string]any{"error": err.Error()})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(respBody)
}

func (h *Handler) forward(r *http.Request, endpoint string, form url.Values) (int, []byte, error) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := h.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, b, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
