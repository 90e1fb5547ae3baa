package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	AlignmentDiagonal = "diagonal"

	watermarkFontSize = 40
	watermarkOpacity  = 0.3
)

type WatermarkClient struct {
	url    string
	client *http.Client
}

func NewWatermarkClient(url string, timeout time.Duration) *WatermarkClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &WatermarkClient{
		url: url,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

type watermarkRequest struct {
	DocumentBase64 string  `json:"document_base64"`
	FileType       string  `json:"file_type"`
	WatermarkText  string  `json:"watermark_text"`
	Alignment      string  `json:"alignment"`
	FontSize       int     `json:"font_size"`
	Opacity        float64 `json:"opacity"`
}

type watermarkResponse struct {
	WatermarkedBase64 string `json:"watermarked_base64"`
}

// Watermark returns the marked document. Any error means no watermark is available.
func (c *WatermarkClient) Watermark(ctx context.Context, documentBase64, fileType, text string) (string, error) {
	reqBody, err := json.Marshal(watermarkRequest{
		DocumentBase64: documentBase64,
		FileType:       fileType,
		WatermarkText:  text,
		Alignment:      AlignmentDiagonal,
		FontSize:       watermarkFontSize,
		Opacity:        watermarkOpacity,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("watermark server error: %d body=%q", resp.StatusCode, string(body))
	}

	var wr watermarkResponse
	if err := json.Unmarshal(body, &wr); err != nil {
		return "", fmt.Errorf("failed to decode json: %w body=%q", err, string(body))
	}
	if wr.WatermarkedBase64 == "" {
		return "", errors.New("watermark server returned empty data")
	}
	return wr.WatermarkedBase64, nil
}
