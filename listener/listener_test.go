package listener

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gobridge/ghrelay/bus"
	"github.com/gobridge/ghrelay/telemetry"
)

const secret = "3b0b6f9e-secret"

type fakeSink struct {
	mu       sync.Mutex
	got      []Delivery
	verify   error
	received chan Delivery
	block    chan struct{}
}

func newFakeSink() *fakeSink {
	return &fakeSink{received: make(chan Delivery, 16)}
}

func (s *fakeSink) Verify(d Delivery) error {
	return s.verify
}

func (s *fakeSink) Receive(ctx context.Context, d Delivery) {
	s.mu.Lock()
	s.got = append(s.got, d)
	s.mu.Unlock()
	s.received <- d
	if s.block != nil {
		<-s.block
	}
}

func (s *fakeSink) bodies() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, d := range s.got {
		out = append(out, string(d.Body))
	}
	return out
}

type fixture struct {
	l       *Listener
	sink    *fakeSink
	bus     *bus.Dispatcher
	metrics *telemetry.Metrics
	handler http.Handler
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	cfg.Secret = secret
	reg := prometheus.NewRegistry()
	m := telemetry.NewMetrics(reg)
	d := bus.New(nil)
	sink := newFakeSink()
	l := New(cfg, map[string]Sink{"github": sink}, d, m, reg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() {
		if sink.block != nil {
			select {
			case <-sink.block:
			default:
				close(sink.block)
			}
		}
		l.Shutdown(context.Background())
	})
	return &fixture{l: l, sink: sink, bus: d, metrics: m, handler: l.Handler()}
}

func (f *fixture) do(method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("X-GitHub-Event", "push")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func waitDelivery(t *testing.T, s *fakeSink) Delivery {
	t.Helper()
	select {
	case d := <-s.received:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery received")
		return Delivery{}
	}
}

func TestWebhook(t *testing.T) {
	f := newFixture(t, Config{})

	rec := f.do(http.MethodPost, "/"+secret+"/github", []byte(`{"ref":"refs/heads/main"}`))
	require.Equal(t, http.StatusOK, rec.Code)

	d := waitDelivery(t, f.sink)
	assert.Equal(t, "github", d.Source)
	assert.Equal(t, "push", d.Header.Get("X-GitHub-Event"))
	assert.JSONEq(t, `{"ref":"refs/heads/main"}`, string(d.Body))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.WebhooksReceived.WithLabelValues("github")))

	t.Run("wrong secret", func(t *testing.T) {
		rec := f.do(http.MethodPost, "/not-the-secret/github", []byte(`{}`))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("unknown source", func(t *testing.T) {
		rec := f.do(http.MethodPost, "/"+secret+"/gitlab", []byte(`{}`))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("get is not allowed", func(t *testing.T) {
		rec := f.do(http.MethodGet, "/"+secret+"/github", nil)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestWebhookOrder(t *testing.T) {
	f := newFixture(t, Config{QueueSize: 8})
	for _, body := range []string{"1", "2", "3", "4", "5"} {
		require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/"+secret+"/github", []byte(body)).Code)
	}
	require.NoError(t, f.l.Shutdown(context.Background()))
	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, f.sink.bodies())
}

func TestPayloadLimit(t *testing.T) {
	f := newFixture(t, Config{MaxPayload: 16})

	rec := f.do(http.MethodPost, "/"+secret+"/github", []byte(strings.Repeat("x", 17)))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.WebhooksRejected.WithLabelValues("too_large")))

	rec = f.do(http.MethodPost, "/"+secret+"/github", []byte(strings.Repeat("x", 16)))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSignatureRejected(t *testing.T) {
	f := newFixture(t, Config{})
	f.sink.verify = errors.New("bad signature")

	rec := f.do(http.MethodPost, "/"+secret+"/github", []byte(`{}`))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.WebhooksRejected.WithLabelValues("signature")))
}

func TestQueueFull(t *testing.T) {
	f := newFixture(t, Config{QueueSize: 1})
	f.sink.block = make(chan struct{})

	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/"+secret+"/github", []byte("first")).Code)
	waitDelivery(t, f.sink)

	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/"+secret+"/github", []byte("second")).Code)
	assert.Equal(t, http.StatusServiceUnavailable, f.do(http.MethodPost, "/"+secret+"/github", []byte("third")).Code)

	close(f.sink.block)
	waitDelivery(t, f.sink)
	assert.Equal(t, []string{"first", "second"}, f.sink.bodies())
}

func TestShutdownRefusesNewWork(t *testing.T) {
	f := newFixture(t, Config{})
	require.NoError(t, f.l.Shutdown(context.Background()))

	rec := f.do(http.MethodPost, "/"+secret+"/github", []byte(`{}`))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestKill(t *testing.T) {
	f := newFixture(t, Config{})
	destroyed := make(chan struct{}, 1)
	f.bus.Subscribe(bus.DestroyTopic, func(ctx context.Context, p bus.Payload) error {
		destroyed <- struct{}{}
		return nil
	})

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/wrong/kill", nil).Code)

	rec := f.do(http.MethodGet, "/"+secret+"/kill", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	select {
	case <-destroyed:
	case <-time.After(2 * time.Second):
		t.Fatal("destroy was not published")
	}
}

func TestStatic(t *testing.T) {
	f := newFixture(t, Config{})

	rec := f.do(http.MethodGet, "/static/bot.png", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))

	for _, name := range []string{"..", ".hidden", "%2e%2e", "a%5cb"} {
		t.Run("rejects "+name, func(t *testing.T) {
			assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/static/"+name, nil).Code)
		})
	}

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/static/missing.png", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/static/../listener.go", nil).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, Config{})
	f.do(http.MethodPost, "/"+secret+"/github", []byte(`{}`))

	rec := f.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ghrelay_webhooks_received_total")
}
