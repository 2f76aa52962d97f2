// Package listener is the HTTP ingress: webhook deliveries under a secret
// path prefix, the kill switch, static avatars and metrics.
package listener

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/netutil"

	"github.com/gobridge/ghrelay/bus"
	"github.com/gobridge/ghrelay/telemetry"
)

// DefaultMaxPayload is the largest accepted webhook body.
const DefaultMaxPayload = 6 << 20

// Delivery is one accepted webhook request.
type Delivery struct {
	Source string
	Header http.Header
	Body   []byte
}

// Sink consumes deliveries for one source. Verify runs on the request
// goroutine, Receive later on the ingress worker.
type Sink interface {
	Verify(d Delivery) error
	Receive(ctx context.Context, d Delivery)
}

// Config configures a Listener.
type Config struct {
	Addr       string
	Secret     string
	MaxPayload int64
	MaxConns   int
	QueueSize  int
}

type job struct {
	delivery Delivery
	span     trace.SpanContext
}

// Listener serves the ingress endpoints and feeds accepted deliveries, in
// acceptance order, to their sinks from a single worker.
type Listener struct {
	cfg      Config
	sinks    map[string]Sink
	bus      *bus.Dispatcher
	metrics  *telemetry.Metrics
	gatherer prometheus.Gatherer
	log      *slog.Logger
	tracer   trace.Tracer
	server   *http.Server

	mu     sync.Mutex
	closed bool
	queue  chan job
	done   chan struct{}
}

// New creates a Listener and starts its worker. Call Shutdown to stop it.
func New(cfg Config, sinks map[string]Sink, d *bus.Dispatcher, m *telemetry.Metrics, g prometheus.Gatherer, log *slog.Logger) *Listener {
	if cfg.MaxPayload <= 0 {
		cfg.MaxPayload = DefaultMaxPayload
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}

	l := &Listener{
		cfg:      cfg,
		sinks:    sinks,
		bus:      d,
		metrics:  m,
		gatherer: g,
		log:      log,
		tracer:   telemetry.Tracer(),
		queue:    make(chan job, cfg.QueueSize),
		done:     make(chan struct{}),
	}
	l.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           l.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go l.work()
	return l
}

// Handler returns the ingress routes.
func (l *Listener) Handler() http.Handler {
	r := mux.NewRouter()
	r.SkipClean(true)

	r.HandleFunc("/static/{name}", l.static).Methods(http.MethodGet, http.MethodHead)
	if l.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(l.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	r.HandleFunc("/{secret}/kill", l.withSecret(l.kill))
	r.HandleFunc("/{secret}/{source}", l.withSecret(l.webhook)).Methods(http.MethodPost)
	return r
}

func (l *Listener) withSecret(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		got := mux.Vars(r)["secret"]
		if subtle.ConstantTimeCompare([]byte(got), []byte(l.cfg.Secret)) != 1 {
			http.NotFound(w, r)
			return
		}
		h(w, r)
	}
}

func (l *Listener) kill(w http.ResponseWriter, r *http.Request) {
	l.log.InfoContext(r.Context(), "kill requested", "remote", r.RemoteAddr)
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "Ok.\n")

	ctx := context.WithoutCancel(r.Context())
	go l.bus.Destroy(ctx)
}

func (l *Listener) webhook(w http.ResponseWriter, r *http.Request) {
	source := mux.Vars(r)["source"]
	ctx, span := l.tracer.Start(r.Context(), "listener.webhook", trace.WithAttributes(
		attribute.String("ghrelay.source", source),
	))
	defer span.End()

	sink, ok := l.sinks[source]
	if !ok {
		l.reject(ctx, w, http.StatusNotFound, "unknown_source", fmt.Errorf("unknown source %q", source))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, l.cfg.MaxPayload))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			l.reject(ctx, w, http.StatusInternalServerError, "too_large", fmt.Errorf("payload exceeds %d bytes", tooLarge.Limit))
			return
		}
		l.reject(ctx, w, http.StatusBadRequest, "read", fmt.Errorf("reading body: %w", err))
		return
	}

	d := Delivery{Source: source, Header: r.Header.Clone(), Body: body}
	if err := sink.Verify(d); err != nil {
		l.reject(ctx, w, http.StatusUnauthorized, "signature", err)
		return
	}

	if !l.enqueue(job{delivery: d, span: span.SpanContext()}) {
		l.reject(ctx, w, http.StatusServiceUnavailable, "queue_full", errors.New("ingress queue full"))
		return
	}

	l.metrics.WebhooksReceived.WithLabelValues(source).Inc()
	w.WriteHeader(http.StatusOK)
}

func (l *Listener) reject(ctx context.Context, w http.ResponseWriter, status int, reason string, err error) {
	l.metrics.WebhooksRejected.WithLabelValues(reason).Inc()
	l.log.WarnContext(ctx, "webhook rejected", "status", status, "error", err)
	http.Error(w, http.StatusText(status), status)
}

// enqueue reports false when the queue is full or the listener is shutting
// down.
func (l *Listener) enqueue(j job) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	select {
	case l.queue <- j:
		l.metrics.QueueDepth.Inc()
		return true
	default:
		return false
	}
}

func (l *Listener) work() {
	defer close(l.done)
	for j := range l.queue {
		l.metrics.QueueDepth.Dec()
		ctx := trace.ContextWithRemoteSpanContext(context.Background(), j.span)
		l.sinks[j.delivery.Source].Receive(ctx, j.delivery)
	}
}

// ListenAndServe binds cfg.Addr and serves until Shutdown. A bind failure is
// returned immediately.
func (l *Listener) ListenAndServe() error {
	ln, err := net.Listen("tcp", l.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", l.cfg.Addr, err)
	}
	return l.Serve(ln)
}

// Serve accepts connections on ln, at most cfg.MaxConns at a time when set.
func (l *Listener) Serve(ln net.Listener) error {
	if l.cfg.MaxConns > 0 {
		ln = netutil.LimitListener(ln, l.cfg.MaxConns)
	}
	l.log.Info("listening", "addr", ln.Addr().String())
	if err := l.server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, then waits for queued deliveries to be
// processed.
func (l *Listener) Shutdown(ctx context.Context) error {
	err := l.server.Shutdown(ctx)

	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.queue)
	}
	l.mu.Unlock()

	select {
	case <-l.done:
	case <-ctx.Done():
		return errors.Join(err, fmt.Errorf("draining ingress queue: %w", ctx.Err()))
	}
	return err
}
