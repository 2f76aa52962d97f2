package bot

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gobridge/ghrelay/bus"
	"github.com/gobridge/ghrelay/rules"
	"github.com/gobridge/ghrelay/store"
	"github.com/gobridge/ghrelay/telemetry"
)

// RuleLookup answers whether a rule path is enabled.
type RuleLookup interface {
	Lookup(domain string, path rules.Path) bool
}

// Router delivers every published event to the channels whose rules enable
// it.
type Router struct {
	channels  *Registry
	rules     RuleLookup
	transport Transport
	bus       *bus.Dispatcher
	metrics   *telemetry.Metrics
	tracer    trace.Tracer
}

// NewRouter creates a Router. Call Subscribe to attach it to a dispatcher.
func NewRouter(channels *Registry, rules RuleLookup, t Transport, d *bus.Dispatcher, m *telemetry.Metrics) *Router {
	return &Router{
		channels:  channels,
		rules:     rules,
		transport: t,
		bus:       d,
		metrics:   m,
		tracer:    telemetry.Tracer(),
	}
}

// Subscribe registers the router on every event topic.
func (r *Router) Subscribe() (unsubscribe func()) {
	var unsubs []func()
	for _, t := range bus.EventTopics {
		unsubs = append(unsubs, r.bus.Subscribe(t, r.deliver))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// deliver posts concurrently to every enabled channel and returns once all
// posts finished.
func (r *Router) deliver(ctx context.Context, p bus.Payload) error {
	e := p.Event
	if e == nil {
		return nil
	}

	ctx, span := r.tracer.Start(ctx, "bot.deliver", trace.WithAttributes(
		attribute.String("ghrelay.path", e.Path.String()),
	))
	defer span.End()

	r.bus.Log(ctx, append([]string{"Sending event"}, e.Path...)...)

	var wg sync.WaitGroup
	for _, c := range r.channels.Snapshot() {
		path := append(rules.Path{c.ID}, e.Path...)
		if !r.rules.Lookup(store.EventRules, path) {
			continue
		}

		wg.Add(1)
		go func(channelID string) {
			defer wg.Done()
			start := time.Now()
			err := r.transport.Post(ctx, channelID, e.Message)
			r.metrics.DeliveryDuration.Observe(time.Since(start).Seconds())
			if err != nil {
				r.metrics.Deliveries.WithLabelValues("failed").Inc()
				span.SetStatus(codes.Error, "delivery failed")
				r.bus.Error(ctx, &DeliveryError{Channel: channelID, Err: err})
				return
			}
			r.metrics.Deliveries.WithLabelValues("sent").Inc()
		}(c.ID)
	}
	wg.Wait()
	return nil
}
