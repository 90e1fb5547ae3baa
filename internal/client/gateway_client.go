package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Instance holds the credentials of the active gateway instance.
type Instance struct {
	ID    string
	Token string
}

type GatewayClient struct {
	url      string
	instance Instance
	client   *http.Client
}

func NewGatewayClient(url string, instance Instance, timeout time.Duration) *GatewayClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GatewayClient{
		url:      url,
		instance: instance,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// SendRequest is the payload posted to the gateway endpoint.
type SendRequest struct {
	To         string `json:"to"`
	Body       string `json:"body"`
	Filename   string `json:"filename"`
	Base64     string `json:"base64"`
	InstanceID string `json:"instance_id"`
	Token      string `json:"token"`
}

// Result is the raw HTTP exchange; InterpretResponse decides success.
type Result struct {
	StatusCode int
	Body       []byte
}

func (c *GatewayClient) Send(ctx context.Context, to, body, filename, base64Data string) (Result, error) {
	if body == "" {
		body = " "
	}
	reqBody, err := json.Marshal(SendRequest{
		To:         to,
		Body:       body,
		Filename:   filename,
		Base64:     base64Data,
		InstanceID: c.instance.ID,
		Token:      c.instance.Token,
	})
	if err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqBody))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("read gateway response: %w", err)
	}

	return Result{StatusCode: resp.StatusCode, Body: respBody}, nil
}
