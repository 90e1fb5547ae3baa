package relay

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
)

// AuditEntry is one forwarded request as written to the audit file.
type AuditEntry struct {
	Time      string `json:"time"`
	Instance  string `json:"instance"`
	TokenUsed string `json:"token_used"`
	To        string `json:"to"`
	Type      string `json:"type"`
	HTTP      int    `json:"http"`
	Response  string `json:"response"`
}

// AuditLog appends entries to a JSON Lines file.
type AuditLog struct {
	mu sync.Mutex
	f  *os.File
}

func OpenAuditLog(path string) (*AuditLog, error) {
	if path == "" {
		return nil, errors.New("audit path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &AuditLog{f: f}, nil
}

func (a *AuditLog) Append(e AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.f == nil {
		return errors.New("audit file closed")
	}
	return json.NewEncoder(a.f).Encode(e)
}

func (a *AuditLog) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.f == nil {
		return nil
	}
	err := a.f.Close()
	a.f = nil
	return err
}

func maskToken(token string) string {
	if len(token) > 5 {
		token = token[:5]
	}
	return token + "..."
}
