package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"invoice-harvester-go/internal/apperr"
	"invoice-harvester-go/internal/budget"
	"invoice-harvester-go/internal/clock"
	"invoice-harvester-go/internal/models"
	"invoice-harvester-go/internal/validator"
)

const (
	backoffBase = time.Second
	backoffCap  = 10 * time.Second
	maxBodySize = 4 << 20
)

// Config holds the settings of the extraction client
type Config struct {
	Endpoint         string
	APIKey           string
	Temperature      float64
	MaxRetries       int
	CallTimeout      time.Duration
	ExtractionBudget time.Duration
	MaxTextChars     int
	InlineMaxBytes   int64
	RateLimitMaxWait time.Duration
	PromptTemplate   string
}

// Limiter is the admission control the client calls before each attempt
type Limiter interface {
	AwaitAdmission(ctx context.Context, maxWait time.Duration) error
	RecordCall()
}

// Gate decides whether a parsed record is a genuine invoice
type Gate interface {
	Check(rec *models.InvoiceRecord) validator.Decision
}

// Observer receives call-level events; metrics implement it
type Observer interface {
	AICall(status string)
	AIFailure(kind string)
}

// Request is the content of one extraction
type Request struct {
	// Text is used in text mode and as hint text in document mode
	Text string
	// Document, when set and small enough, is sent inline
	Document     []byte
	DocumentMIME string
}

// Result is either an accepted record or a rejection reason
type Result struct {
	Record   *models.InvoiceRecord
	Decision validator.Decision
}

// Accepted reports whether the record passed validation
func (r Result) Accepted() bool { return r.Record != nil && r.Decision.Accepted }

// Client calls the generative model endpoint and turns its output into
// validated invoice records.
type Client struct {
	cfg      Config
	http     *http.Client
	limiter  Limiter
	gate     Gate
	prompts  *PromptBuilder
	clk      clock.Clock
	log      logrus.FieldLogger
	observer Observer
	rnd      func() float64
}

// Option customizes a Client
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

// WithClock injects a clock for budgets and backoff
func WithClock(clk clock.Clock) Option { return func(c *Client) { c.clk = clk } }

// WithObserver registers a call observer
func WithObserver(o Observer) Option { return func(c *Client) { c.observer = o } }

// WithJitter replaces the jitter source, which must return values in [0,1)
func WithJitter(fn func() float64) Option { return func(c *Client) { c.rnd = fn } }

// NewClient creates an extraction client
func NewClient(cfg Config, limiter Limiter, gate Gate, log logrus.FieldLogger, opts ...Option) *Client {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 25 * time.Second
	}
	if cfg.ExtractionBudget <= 0 {
		cfg.ExtractionBudget = 40 * time.Second
	}
	if cfg.InlineMaxBytes <= 0 {
		cfg.InlineMaxBytes = 4 << 20
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	c := &Client{
		cfg:     cfg,
		http:    &http.Client{},
		limiter: limiter,
		gate:    gate,
		prompts: NewPromptBuilder(cfg.PromptTemplate, cfg.MaxTextChars),
		clk:     clock.Real{},
		log:     log,
		rnd:     rand.Float64,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// CanInline reports whether a document of size n is sent to the model directly
func (c *Client) CanInline(n int) bool {
	return n > 0 && int64(n) <= c.cfg.InlineMaxBytes
}

// Extract sends the request to the model, retrying per the error class,
// and validates the parsed record. msgGuard is the enclosing per-message
// budget and may be nil.
func (c *Client) Extract(ctx context.Context, req Request, msgGuard *budget.Guard) (Result, error) {
	extraction := budget.New("extraction", c.cfg.ExtractionBudget, c.clk)
	payload := c.buildPayload(req)
	log := c.log.WithField("request_id", uuid.NewString())

	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		if err := budget.CheckAll("pre-call", msgGuard, extraction); err != nil {
			return Result{}, err
		}

		rec, err := c.attempt(ctx, payload, msgGuard, extraction, log.WithField("attempt", attempt+1))
		if err == nil {
			d := c.gate.Check(rec)
			if !d.Accepted {
				log.WithFields(logrus.Fields{"rule": d.Rule.String(), "reason": d.Reason}).Info("Extracted record rejected")
			}
			return Result{Record: rec, Decision: d}, nil
		}
		lastErr = err

		kind := apperr.KindOf(err)
		c.observeFailure(kind)
		entry := log.WithFields(logrus.Fields{"kind": kind.String(), "error": err.Error()})
		switch kind {
		case apperr.KindTimeout, apperr.KindFatal:
			entry.Warn("Extraction failed, not retrying")
			return Result{}, err
		case apperr.KindParse:
			entry.Warn("Model output unusable, retrying immediately")
			continue
		case apperr.KindRetriable:
			if attempt == c.cfg.MaxRetries-1 {
				break
			}
			wait := c.backoff(attempt)
			if wait >= budget.Tightest(msgGuard, extraction) {
				return Result{}, apperr.Timeout("ai/backoff",
					fmt.Errorf("backoff %s exceeds remaining budget: %w", wait, err))
			}
			entry.WithField("backoff", wait.String()).Warn("Retriable model error, backing off")
			if serr := c.clk.Sleep(ctx, wait); serr != nil {
				return Result{}, apperr.Timeout("ai/backoff", serr)
			}
		}
	}
	return Result{}, fmt.Errorf("extraction failed after %d attempts: %w", c.cfg.MaxRetries, lastErr)
}

func (c *Client) attempt(ctx context.Context, payload generateRequest, msgGuard, extraction *budget.Guard, log logrus.FieldLogger) (*models.InvoiceRecord, error) {
	if c.limiter != nil {
		maxWait := c.cfg.RateLimitMaxWait
		if r := budget.Tightest(msgGuard, extraction); maxWait <= 0 || r < maxWait {
			maxWait = r
		}
		if err := c.limiter.AwaitAdmission(ctx, maxWait); err != nil {
			return nil, err
		}
		c.limiter.RecordCall()
	}

	callBudget := c.cfg.CallTimeout
	if r := budget.Tightest(msgGuard, extraction); r < callBudget {
		callBudget = r
	}
	call := budget.New("call", callBudget, c.clk)

	raw, err := c.send(ctx, payload, callBudget, log)
	if err != nil {
		return nil, err
	}
	if err := budget.CheckAll("post-call", msgGuard, extraction, call); err != nil {
		return nil, err
	}

	obj, err := ParseResponse(raw)
	if err != nil {
		return nil, err
	}
	if err := budget.CheckAll("post-parse", msgGuard, extraction); err != nil {
		return nil, err
	}
	return ToRecord(obj), nil
}

// send performs one HTTP round trip bounded by timeout
func (c *Client) send(ctx context.Context, payload generateRequest, timeout time.Duration, log logrus.FieldLogger) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", apperr.Fatal("ai/encode", 0, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", apperr.Fatal("ai/request", 0, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.observeCall("network_error")
		return "", classifyTransportError(callCtx, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		c.observeCall("network_error")
		return "", classifyTransportError(callCtx, err)
	}

	log.WithFields(logrus.Fields{
		"status":     resp.StatusCode,
		"bytes":      len(raw),
		"elapsed_ms": time.Since(start).Milliseconds(),
	}).Debug("Model response received")

	if resp.StatusCode != http.StatusOK {
		c.observeCall(fmt.Sprintf("%d", resp.StatusCode))
		cause := fmt.Errorf("model endpoint returned %d: %s", resp.StatusCode, sample(string(raw)))
		if apperr.RetriableStatus(resp.StatusCode) {
			return "", apperr.Retriable("ai/call", resp.StatusCode, cause)
		}
		return "", apperr.Fatal("ai/call", resp.StatusCode, cause)
	}
	c.observeCall("ok")

	var gr generateResponse
	if err := json.Unmarshal(raw, &gr); err != nil {
		return "", apperr.Parse("ai/envelope", err)
	}
	text := gr.text()
	if text == "" {
		reason := "no candidates"
		if gr.PromptFeedback != nil && gr.PromptFeedback.BlockReason != "" {
			reason = "blocked: " + gr.PromptFeedback.BlockReason
		}
		return "", apperr.Parse("ai/envelope", errors.New(reason))
	}
	return text, nil
}

// classifyTransportError maps a failed round trip to the taxonomy.
// A deadline on the call context is a timeout; connection-level
// failures are transient; anything else is fatal.
func classifyTransportError(callCtx context.Context, err error) error {
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return apperr.Timeout("ai/call", err)
	}
	if errors.Is(err, context.Canceled) {
		return apperr.Timeout("ai/call", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return apperr.Timeout("ai/call", err)
		}
		return apperr.Retriable("ai/call", 0, err)
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return apperr.Retriable("ai/call", 0, err)
	}
	return apperr.Fatal("ai/call", 0, err)
}

func (c *Client) buildPayload(req Request) generateRequest {
	if c.CanInline(len(req.Document)) {
		return documentPayload(c.prompts.Multimodal(req.Text), req.Document, req.DocumentMIME, c.cfg.Temperature)
	}
	return textPayload(c.prompts.Text(req.Text), c.cfg.Temperature)
}

// backoff returns min(2^attempt * 1s + jitter(0..1s), 10s)
func (c *Client) backoff(attempt int) time.Duration {
	d := backoffBase<<uint(attempt) + time.Duration(c.rnd()*float64(time.Second))
	if d > backoffCap {
		return backoffCap
	}
	return d
}

func (c *Client) observeCall(status string) {
	if c.observer != nil {
		c.observer.AICall(status)
	}
}

func (c *Client) observeFailure(kind apperr.Kind) {
	if c.observer != nil {
		c.observer.AIFailure(kind.String())
	}
}
