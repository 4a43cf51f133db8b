// Package mathpix converts math-heavy PDFs via the Mathpix OCR API.
// Formulas come back as LaTeX inside Markdown, which survives chunking
// and lexical indexing far better than rasterised equations.
package mathpix

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/refrab/refrab/internal/core/ports/driven"
)

// Ensure Converter implements the interface.
var _ driven.Converter = (*Converter)(nil)

// Default configuration values.
const (
	DefaultBaseURL      = "https://api.mathpix.com"
	DefaultTimeout      = 60 * time.Second
	DefaultPollInterval = 3 * time.Second

	// DefaultRequestRate throttles API calls. Mathpix caps free-tier
	// accounts well below this; the bucket mainly protects the polling
	// loop from hammering the status endpoint.
	DefaultRequestRate = 2.0
)

// Config holds credentials and tuning for the Mathpix converter.
type Config struct {
	// AppID and AppKey are the Mathpix API credentials.
	AppID  string
	AppKey string

	// BaseURL overrides the API endpoint, mainly for tests.
	BaseURL string

	// Timeout is the per-request timeout (default: 60s).
	Timeout time.Duration

	// PollInterval is the delay between conversion status checks.
	PollInterval time.Duration
}

// Converter runs PDFs through the asynchronous Mathpix conversion flow:
// upload, poll until completed, fetch the Markdown rendition.
type Converter struct {
	client       *http.Client
	limiter      *rate.Limiter
	baseURL      string
	appID        string
	appKey       string
	pollInterval time.Duration
}

// New creates a Mathpix converter.
func New(cfg Config) *Converter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	return &Converter{
		client:       &http.Client{Timeout: cfg.Timeout},
		limiter:      rate.NewLimiter(rate.Limit(DefaultRequestRate), 1),
		baseURL:      cfg.BaseURL,
		appID:        cfg.AppID,
		appKey:       cfg.AppKey,
		pollInterval: cfg.PollInterval,
	}
}

// Name returns the engine identifier.
func (c *Converter) Name() string {
	return driven.ConverterMathOCR
}

// uploadResponse is the POST /v3/pdf response.
type uploadResponse struct {
	PDFID string `json:"pdf_id"`
	Error string `json:"error"`
}

// statusResponse is the GET /v3/pdf/{id} response.
type statusResponse struct {
	Status   string `json:"status"`
	NumPages int    `json:"num_pages"`
	Error    string `json:"error"`
}

// Convert uploads the PDF and blocks until Mathpix finishes processing
// or the context expires.
func (c *Converter) Convert(ctx context.Context, data []byte, _ driven.ConvertOptions) (*driven.ConvertResult, error) {
	pdfID, err := c.upload(ctx, data)
	if err != nil {
		return nil, err
	}

	pages, err := c.waitCompleted(ctx, pdfID)
	if err != nil {
		return nil, err
	}

	text, err := c.fetchMarkdown(ctx, pdfID)
	if err != nil {
		return nil, err
	}

	return &driven.ConvertResult{
		Text:      text,
		PageCount: pages,
		Confident: true,
	}, nil
}

func (c *Converter) upload(ctx context.Context, data []byte) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "document.pdf")
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(data); err != nil {
		return "", fmt.Errorf("write form file: %w", err)
	}
	optionsJSON := `{"conversion_formats":{"md":true},"math_inline_delimiters":["$","$"]}`
	if err := mw.WriteField("options_json", optionsJSON); err != nil {
		return "", fmt.Errorf("write options: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v3/pdf", &body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apiError(resp)
	}

	var up uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&up); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if up.Error != "" {
		return "", fmt.Errorf("mathpix: %s", up.Error)
	}
	if up.PDFID == "" {
		return "", fmt.Errorf("mathpix: no pdf_id in response")
	}
	return up.PDFID, nil
}

// waitCompleted polls the conversion status until it settles.
func (c *Converter) waitCompleted(ctx context.Context, pdfID string) (int, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		status, err := c.status(ctx, pdfID)
		if err != nil {
			return 0, err
		}
		switch status.Status {
		case "completed":
			return status.NumPages, nil
		case "error":
			return 0, fmt.Errorf("mathpix: conversion failed: %s", status.Error)
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Converter) status(ctx context.Context, pdfID string) (*statusResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v3/pdf/"+pdfID, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	var st statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &st, nil
}

func (c *Converter) fetchMarkdown(ctx context.Context, pdfID string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v3/pdf/"+pdfID+".md", http.NoBody)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apiError(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	return string(body), nil
}

func (c *Converter) authorize(req *http.Request) {
	req.Header.Set("app_id", c.appID)
	req.Header.Set("app_key", c.appKey)
}

func apiError(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("mathpix error (status %d): failed to read response", resp.StatusCode)
	}
	return fmt.Errorf("mathpix error (status %d): %s", resp.StatusCode, string(body))
}
