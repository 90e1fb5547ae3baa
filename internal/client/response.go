package client

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Verdict is the interpreted gateway response.
type Verdict struct {
	Success    bool
	ExternalID string
	Raw        json.RawMessage
}

type gatewayResponse struct {
	Results []struct {
		Success any             `json:"success"`
		ID      json.RawMessage `json:"id"`
	} `json:"results"`
	Success any             `json:"success"`
	Error   json.RawMessage `json:"error"`
}

// InterpretResponse applies the success signals in priority order:
//  1. results[0].success (results[0].id is the external message id)
//  2. a truthy top-level success
//  3. a 2xx status without an error field
//
// The first applicable signal decides. A body that is not JSON is an error;
// a JSON value other than an object carries no fields, so only the status
// counts.
func InterpretResponse(status int, body []byte) (Verdict, error) {
	if !json.Valid(body) {
		return Verdict{}, fmt.Errorf("decode gateway response: invalid json body=%q", string(body))
	}

	v := Verdict{Raw: json.RawMessage(body)}

	var r gatewayResponse
	if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 && trimmed[0] == '{' {
		if err := json.Unmarshal(body, &r); err != nil {
			return Verdict{}, fmt.Errorf("decode gateway response: %w body=%q", err, string(body))
		}
	}

	switch {
	case len(r.Results) > 0:
		v.Success = truthy(r.Results[0].Success)
		v.ExternalID = rawID(r.Results[0].ID)
	case truthy(r.Success):
		v.Success = true
	case status >= 200 && status < 300 && !present(r.Error):
		v.Success = true
	}
	return v, nil
}

func rawID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case float64:
		return x != 0
	default:
		return true
	}
}

func present(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	switch string(raw) {
	case "null", "false", `""`, "0":
		return false
	}
	return true
}
