package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoice-harvester-go/internal/apperr"
	"invoice-harvester-go/internal/budget"
	"invoice-harvester-go/internal/clock"
	"invoice-harvester-go/internal/ratelimit"
	"invoice-harvester-go/internal/validator"
)

func modelReply(text string) []byte {
	body := map[string]any{
		"candidates": []any{
			map[string]any{"content": map[string]any{"parts": []any{map[string]any{"text": text}}}},
		},
	}
	b, _ := json.Marshal(body)
	return b
}

type recordingObserver struct {
	calls    []string
	failures []string
}

func (o *recordingObserver) AICall(status string)  { o.calls = append(o.calls, status) }
func (o *recordingObserver) AIFailure(kind string) { o.failures = append(o.failures, kind) }

type fixture struct {
	client   *Client
	clk      *clock.Fake
	limiter  *ratelimit.SlidingWindow
	observer *recordingObserver
}

func newFixture(t *testing.T, url string, cfg Config) *fixture {
	t.Helper()
	log, _ := test.NewNullLogger()
	clk := clock.NewFake(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	v, err := validator.New(validator.Policy{Aliases: []string{"Nexia Studio"}})
	require.NoError(t, err)

	cfg.Endpoint = url
	if cfg.APIKey == "" {
		cfg.APIKey = "secret"
	}
	lim := ratelimit.New(60, clk, log)
	obs := &recordingObserver{}
	c := NewClient(cfg, lim, v, log, WithClock(clk), WithJitter(func() float64 { return 0 }), WithObserver(obs))
	return &fixture{client: c, clk: clk, limiter: lim, observer: obs}
}

func TestExtractAcceptsInvoice(t *testing.T) {
	var got generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write(modelReply(`{"isInvoice":true,"provider":"Carles Lopez Garcia","invoiceNumber":"10983","amountExVat":"778","vatAmount":"163,38","totalAmount":"824,68"}`))
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL, Config{Temperature: 0.1})
	res, err := f.client.Extract(context.Background(), Request{Text: "Factura 10983"}, nil)
	require.NoError(t, err)
	require.True(t, res.Accepted())
	assert.Equal(t, "10983", res.Record.InvoiceNumber)
	assert.Equal(t, "824.68", res.Record.TotalAmount.String())

	require.Len(t, got.Contents, 1)
	require.Len(t, got.Contents[0].Parts, 1)
	assert.Contains(t, got.Contents[0].Parts[0].Text, "Factura 10983")
	assert.Equal(t, 0.1, got.GenerationConfig.Temperature)
	assert.Equal(t, 1, f.limiter.InWindow())
	assert.Equal(t, []string{"ok"}, f.observer.calls)
}

func TestExtractInlinesSmallDocument(t *testing.T) {
	var got generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write(modelReply(`{"isInvoice":false,"rejectionReason":"order confirmation"}`))
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL, Config{InlineMaxBytes: 1024})
	res, err := f.client.Extract(context.Background(), Request{Text: "subject", Document: []byte("%PDF-1.4")}, nil)
	require.NoError(t, err)
	assert.False(t, res.Accepted())
	assert.Equal(t, validator.RuleNotInvoice, res.Decision.Rule)

	require.Len(t, got.Contents[0].Parts, 2)
	require.NotNil(t, got.Contents[0].Parts[0].InlineData)
	assert.Equal(t, "application/pdf", got.Contents[0].Parts[0].InlineData.MimeType)
	assert.Equal(t, "JVBERi0xLjQ=", got.Contents[0].Parts[0].InlineData.Data)
}

func TestExtractRetriesRetriableWithBackoff(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write(modelReply(`{"isInvoice":true,"provider":"Endesa","invoiceNumber":"E1"}`))
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL, Config{MaxRetries: 3})
	res, err := f.client.Extract(context.Background(), Request{Text: "x"}, nil)
	require.NoError(t, err)
	assert.True(t, res.Accepted())
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, f.clk.Sleeps())
	assert.Equal(t, []string{"retriable", "retriable"}, f.observer.failures)
	assert.Equal(t, 3, f.limiter.InWindow())
}

func TestExtractWithoutInvoiceFlagIsValidated(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write(modelReply(`{"provider":"Endesa","invoiceNumber":"E-77","totalAmount":"121,00"}`))
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL, Config{MaxRetries: 3})
	res, err := f.client.Extract(context.Background(), Request{Text: "Factura E-77"}, nil)
	require.NoError(t, err)
	require.True(t, res.Accepted())
	assert.Equal(t, "E-77", res.Record.InvoiceNumber)
	assert.Equal(t, "121", res.Record.TotalAmount.String())
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	assert.Empty(t, f.observer.failures)
}

func TestExtractRetriableExhausted(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL, Config{MaxRetries: 2})
	_, err := f.client.Extract(context.Background(), Request{Text: "x"}, nil)
	require.Error(t, err)
	assert.True(t, apperr.IsRetriable(err))
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
	assert.Equal(t, []time.Duration{time.Second}, f.clk.Sleeps())
}

func TestExtractFatalIsNotRetried(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL, Config{MaxRetries: 3})
	_, err := f.client.Extract(context.Background(), Request{Text: "x"}, nil)
	require.Error(t, err)
	assert.Equal(t, apperr.KindFatal, apperr.KindOf(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestExtractParseFailureRetriesWithoutBackoff(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.Write(modelReply("Sorry, I cannot help with that."))
			return
		}
		w.Write(modelReply("```json\n{\"isInvoice\":true,\"provider\":\"Endesa\",\"invoiceNumber\":\"E2\"}\n```"))
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL, Config{MaxRetries: 3})
	res, err := f.client.Extract(context.Background(), Request{Text: "x"}, nil)
	require.NoError(t, err)
	assert.True(t, res.Accepted())
	assert.Empty(t, f.clk.Sleeps())
	assert.Equal(t, []string{"parse"}, f.observer.failures)
}

func TestExtractCallTimeoutIsNotRetried(t *testing.T) {
	var hits int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	f := newFixture(t, srv.URL, Config{MaxRetries: 3, CallTimeout: 50 * time.Millisecond})
	_, err := f.client.Extract(context.Background(), Request{Text: "x"}, nil)
	require.Error(t, err)
	assert.True(t, apperr.IsTimeout(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	assert.Equal(t, []string{"timeout"}, f.observer.failures)
}

func TestExtractStopsWhenMessageBudgetSpent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no call expected")
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL, Config{})
	msg := budget.New("message", time.Second, f.clk)
	f.clk.Advance(2 * time.Second)

	_, err := f.client.Extract(context.Background(), Request{Text: "x"}, msg)
	require.Error(t, err)
	assert.True(t, apperr.IsTimeout(err))
}

func TestExtractBackoffBeyondBudgetIsTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL, Config{MaxRetries: 3})
	msg := budget.New("message", 500*time.Millisecond, f.clk)

	_, err := f.client.Extract(context.Background(), Request{Text: "x"}, msg)
	require.Error(t, err)
	assert.True(t, apperr.IsTimeout(err))
	assert.Empty(t, f.clk.Sleeps())
}

func TestBackoffIsCapped(t *testing.T) {
	f := newFixture(t, "http://unused", Config{})
	assert.Equal(t, time.Second, f.client.backoff(0))
	assert.Equal(t, 8*time.Second, f.client.backoff(3))
	assert.Equal(t, 10*time.Second, f.client.backoff(4))

	f.client.rnd = func() float64 { return 0.5 }
	assert.Equal(t, 2500*time.Millisecond, f.client.backoff(1))
}
