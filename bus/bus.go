// Package bus is the in-process publish/subscribe hub every canonical event,
// log line, error and lifecycle signal flows through.
//
// Publishing is synchronous: subscribers run in subscription order on the
// publisher's goroutine. There is no buffering and no replay.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/gobridge/ghrelay/event"
)

// Topic is one of the fixed set of bus topics.
type Topic uint8

// Topics.
const (
	IssueTopic Topic = iota
	PullRequestTopic
	BranchTopic
	BuildTopic
	LogTopic
	ErrorTopic
	DestroyTopic

	topicCount
)

var topicNames = [topicCount]string{
	IssueTopic:       "issue",
	PullRequestTopic: "pullrequest",
	BranchTopic:      "branch",
	BuildTopic:       "build",
	LogTopic:         "log",
	ErrorTopic:       "error",
	DestroyTopic:     "destroy",
}

func (t Topic) String() string {
	if t >= topicCount {
		return fmt.Sprintf("topic(%d)", uint8(t))
	}
	return topicNames[t]
}

// EventTopics are the topics that carry canonical events.
var EventTopics = []Topic{IssueTopic, PullRequestTopic, BranchTopic, BuildTopic}

// TopicFor maps an event category to its topic.
func TopicFor(c event.Category) (Topic, bool) {
	switch c {
	case event.Issue:
		return IssueTopic, true
	case event.PullRequest:
		return PullRequestTopic, true
	case event.Branch:
		return BranchTopic, true
	case event.Build:
		return BuildTopic, true
	}
	return 0, false
}

// Payload is what travels on a topic. Event topics set Event, LogTopic sets
// Fields and ErrorTopic sets Err.
type Payload struct {
	Event  *event.Event
	Fields []string
	Err    error
}

// Subscriber handles one payload. A returned error is republished on
// ErrorTopic.
type Subscriber func(ctx context.Context, p Payload) error

type subscription struct {
	id int
	fn Subscriber
}

// Dispatcher routes payloads to subscribers. The zero value is not usable,
// use New.
type Dispatcher struct {
	mu     sync.RWMutex
	nextID int
	subs   [topicCount][]subscription

	fallback *slog.Logger
}

// New creates a Dispatcher. fallback receives failures of ErrorTopic
// subscribers, which cannot be reported on the bus itself; nil means
// slog.Default().
func New(fallback *slog.Logger) *Dispatcher {
	if fallback == nil {
		fallback = slog.Default()
	}
	return &Dispatcher{fallback: fallback}
}

// Subscribe registers fn on topic and returns a function that removes it.
func (d *Dispatcher) Subscribe(t Topic, fn Subscriber) (unsubscribe func()) {
	if t >= topicCount {
		panic("bus: subscribe to unknown " + t.String())
	}

	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.subs[t] = append(d.subs[t], subscription{id: id, fn: fn})
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		subs := d.subs[t]
		for i, s := range subs {
			if s.id == id {
				d.subs[t] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers p to every current subscriber of t in subscription order.
func (d *Dispatcher) Publish(ctx context.Context, t Topic, p Payload) {
	if t >= topicCount {
		d.fallback.ErrorContext(ctx, "bus: publish to unknown topic", "topic", t.String())
		return
	}

	d.mu.RLock()
	subs := d.subs[t]
	d.mu.RUnlock()

	for _, s := range subs {
		if err := d.call(ctx, s.fn, p); err != nil {
			d.failed(ctx, t, err)
		}
	}
}

func (d *Dispatcher) call(ctx context.Context, fn Subscriber, p Payload) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn(ctx, p)
}

func (d *Dispatcher) failed(ctx context.Context, t Topic, err error) {
	if t == ErrorTopic {
		d.fallback.ErrorContext(ctx, "bus: error subscriber failed", "error", err)
		return
	}
	d.Publish(ctx, ErrorTopic, Payload{Err: fmt.Errorf("%s subscriber: %w", t, err)})
}

// PublishEvent publishes e on the topic of its category.
func (d *Dispatcher) PublishEvent(ctx context.Context, e *event.Event) {
	t, ok := TopicFor(e.Category())
	if !ok {
		d.Error(ctx, fmt.Errorf("bus: no topic for event category %q", e.Category()))
		return
	}
	d.Publish(ctx, t, Payload{Event: e})
}

// Log publishes a log line made of fields.
func (d *Dispatcher) Log(ctx context.Context, fields ...string) {
	d.Publish(ctx, LogTopic, Payload{Fields: fields})
}

// Error publishes err on ErrorTopic. A nil err is ignored.
func (d *Dispatcher) Error(ctx context.Context, err error) {
	if err == nil {
		return
	}
	d.Publish(ctx, ErrorTopic, Payload{Err: err})
}

// Destroy publishes the shutdown signal.
func (d *Dispatcher) Destroy(ctx context.Context) {
	d.Publish(ctx, DestroyTopic, Payload{})
}

// PanicError is reported when a subscriber panics.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Line renders a log payload the way the log command shows it.
func (p Payload) Line() string {
	if p.Err != nil {
		return p.Err.Error()
	}
	return strings.Join(p.Fields, " ")
}
