package converter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"invoice-harvester-go/internal/clock"
	"invoice-harvester-go/internal/config"
)

const (
	maxResponseSize = 16 << 20
	retryPause      = 500 * time.Millisecond
)

// DocumentConverter turns documents into text and HTML into PDF
type DocumentConverter interface {
	// ExtractText returns "" when nothing usable could be extracted
	ExtractText(ctx context.Context, pdf []byte, timeout time.Duration) string
	RenderPDF(ctx context.Context, html string) ([]byte, error)
}

// ErrRenderUnavailable is returned by converters without a render endpoint
var ErrRenderUnavailable = errors.New("pdf rendering not configured")

// New returns an HTTP converter when an endpoint is configured, otherwise Noop
func New(cfg config.ConverterConfig, log logrus.FieldLogger) DocumentConverter {
	if cfg.ExtractURL == "" && cfg.RenderURL == "" {
		log.Info("Document converter not configured, PDF text extraction disabled")
		return Noop{}
	}
	return NewHTTPConverter(cfg, log)
}

// HTTPConverter talks to an external conversion service.
// ExtractURL accepts a PDF body and answers {"text": "..."}; RenderURL
// accepts HTML and answers with PDF bytes.
type HTTPConverter struct {
	cfg    config.ConverterConfig
	client *http.Client
	clk    clock.Clock
	log    logrus.FieldLogger
}

// NewHTTPConverter creates a converter for cfg
func NewHTTPConverter(cfg config.ConverterConfig, log logrus.FieldLogger) *HTTPConverter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &HTTPConverter{
		cfg:    cfg,
		client: &http.Client{},
		clk:    clock.Real{},
		log:    log,
	}
}

// WithClock replaces the clock used for retry pauses
func (c *HTTPConverter) WithClock(clk clock.Clock) *HTTPConverter {
	c.clk = clk
	return c
}

type extractResponse struct {
	Text string `json:"text"`
}

func (c *HTTPConverter) ExtractText(ctx context.Context, pdf []byte, timeout time.Duration) string {
	if c.cfg.ExtractURL == "" || len(pdf) == 0 {
		return ""
	}
	if timeout <= 0 || timeout > c.cfg.Timeout {
		timeout = c.cfg.Timeout
	}

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := c.clk.Sleep(ctx, retryPause); err != nil {
				return ""
			}
		}
		body, err := c.post(ctx, c.cfg.ExtractURL, "application/pdf", pdf, timeout)
		if err != nil {
			c.log.WithError(err).WithField("attempt", attempt+1).Warn("Text extraction failed")
			if ctx.Err() != nil {
				return ""
			}
			continue
		}
		var resp extractResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			c.log.WithError(err).Warn("Text extraction returned an unreadable response")
			return ""
		}
		return strings.TrimSpace(resp.Text)
	}
	return ""
}

func (c *HTTPConverter) RenderPDF(ctx context.Context, html string) ([]byte, error) {
	if c.cfg.RenderURL == "" {
		return nil, ErrRenderUnavailable
	}
	data, err := c.post(ctx, c.cfg.RenderURL, "text/html; charset=utf-8", []byte(html), c.cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		return nil, fmt.Errorf("render pdf: response is not a PDF document")
	}
	return data, nil
}

func (c *HTTPConverter) post(ctx context.Context, url, contentType string, payload []byte, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("converter returned status %d", resp.StatusCode)
	}
	return data, nil
}

// Noop never extracts and never renders
type Noop struct{}

func (Noop) ExtractText(context.Context, []byte, time.Duration) string { return "" }

func (Noop) RenderPDF(context.Context, string) ([]byte, error) { return nil, ErrRenderUnavailable }
