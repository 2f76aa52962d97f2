package github

import (
	"context"
	"errors"
	"fmt"

	gogithub "github.com/google/go-github/v68/github"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gobridge/ghrelay/bus"
	"github.com/gobridge/ghrelay/listener"
	"github.com/gobridge/ghrelay/telemetry"
)

// Receiver is the ingress sink for GitHub deliveries.
type Receiver struct {
	normalizer *Normalizer
	bus        *bus.Dispatcher
	secret     []byte
	metrics    *telemetry.Metrics
	tracer     trace.Tracer
}

// NewReceiver creates a Receiver. An empty secret disables signature
// checking.
func NewReceiver(n *Normalizer, d *bus.Dispatcher, secret string, m *telemetry.Metrics) *Receiver {
	return &Receiver{
		normalizer: n,
		bus:        d,
		secret:     []byte(secret),
		metrics:    m,
		tracer:     telemetry.Tracer(),
	}
}

// ErrMissingSignature is returned by Verify when a secret is configured but
// the delivery is unsigned.
var ErrMissingSignature = errors.New("missing " + gogithub.SHA256SignatureHeader + " header")

// Verify checks the delivery's HMAC signature.
func (r *Receiver) Verify(d listener.Delivery) error {
	if len(r.secret) == 0 {
		return nil
	}
	sig := d.Header.Get(gogithub.SHA256SignatureHeader)
	if sig == "" {
		return ErrMissingSignature
	}
	if err := gogithub.ValidateSignature(sig, d.Body, r.secret); err != nil {
		return fmt.Errorf("validating signature: %w", err)
	}
	return nil
}

// Receive normalizes the delivery and publishes the resulting events.
func (r *Receiver) Receive(ctx context.Context, d listener.Delivery) {
	tag := Tag(d.Header.Get(gogithub.EventTypeHeader))

	ctx, span := r.tracer.Start(ctx, "github.receive", trace.WithAttributes(
		attribute.String("github.event", tag),
		attribute.String("ghrelay.source", d.Source),
	))
	defer span.End()

	if !r.normalizer.Handles(tag) {
		r.bus.Log(ctx, "Ignored event", tag)
		return
	}

	events, err := r.normalizer.Normalize(ctx, tag, d.Body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "normalization failed")
		r.metrics.NormalizationErrors.WithLabelValues(tag).Inc()
		r.bus.Error(ctx, err)
		return
	}

	span.SetAttributes(attribute.Int("ghrelay.events", len(events)))
	for _, e := range events {
		r.bus.Log(ctx, append([]string{"Saw event"}, e.Path...)...)
		r.metrics.EventsPublished.WithLabelValues(string(e.Category())).Inc()
		r.bus.PublishEvent(ctx, e)
	}
}
