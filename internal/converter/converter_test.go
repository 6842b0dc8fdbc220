package converter

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoice-harvester-go/internal/clock"
	"invoice-harvester-go/internal/config"
)

func newConverter(t *testing.T, handler http.HandlerFunc, retries int) (*HTTPConverter, *clock.Fake) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	log, _ := test.NewNullLogger()
	clk := clock.NewFake(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	c := NewHTTPConverter(config.ConverterConfig{
		ExtractURL: srv.URL + "/extract",
		RenderURL:  srv.URL + "/render",
		Timeout:    5 * time.Second,
		MaxRetries: retries,
	}, log).WithClock(clk)
	return c, clk
}

func TestExtractText(t *testing.T) {
	c, _ := newConverter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/pdf", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "%PDF-1.4", string(body))
		w.Write([]byte(`{"text":"  Factura 10983\nTotal 824,68 \n"}`))
	}, 2)

	assert.Equal(t, "Factura 10983\nTotal 824,68", c.ExtractText(context.Background(), []byte("%PDF-1.4"), time.Second))
}

func TestExtractTextRetriesThenGivesUp(t *testing.T) {
	var calls int32
	c, clk := newConverter(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}, 2)

	assert.Equal(t, "", c.ExtractText(context.Background(), []byte("%PDF"), time.Second))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, []time.Duration{retryPause, retryPause}, clk.Sleeps())
}

func TestExtractTextRecoversOnRetry(t *testing.T) {
	var calls int32
	c, _ := newConverter(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"text":"ok"}`))
	}, 2)

	assert.Equal(t, "ok", c.ExtractText(context.Background(), []byte("%PDF"), 0))
}

func TestExtractTextBadJSONIsEmpty(t *testing.T) {
	c, _ := newConverter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>`))
	}, 2)
	assert.Equal(t, "", c.ExtractText(context.Background(), []byte("%PDF"), time.Second))
}

func TestRenderPDF(t *testing.T) {
	c, _ := newConverter(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/render" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte("%PDF-1.7 rendered"))
	}, 0)

	data, err := c.RenderPDF(context.Background(), "<p>hola</p>")
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7 rendered", string(data))
}

func TestRenderPDFRejectsNonPDF(t *testing.T) {
	c, _ := newConverter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>"))
	}, 0)
	_, err := c.RenderPDF(context.Background(), "<p>x</p>")
	assert.Error(t, err)
}

func TestNoop(t *testing.T) {
	var n Noop
	assert.Equal(t, "", n.ExtractText(context.Background(), []byte("x"), time.Second))
	_, err := n.RenderPDF(context.Background(), "x")
	assert.ErrorIs(t, err, ErrRenderUnavailable)

	log, _ := test.NewNullLogger()
	assert.IsType(t, Noop{}, New(config.ConverterConfig{}, log))
}
