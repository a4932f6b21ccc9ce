// Package audit models the fire-and-forget event channel between the
// detection core and whatever stores security logs. Sink failures are
// structurally incapable of affecting a verdict: events are emitted
// best-effort, never retried, and panics in a sink are swallowed.
package audit

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Kind enumerates audit event categories.
type Kind string

const (
	KindSecurityLog     Kind = "security_log"
	KindSuspiciousInput Kind = "suspicious_input"
	KindModeration      Kind = "moderation"
	KindTrustedBypass   Kind = "trusted_bypass"
	KindPatternImport   Kind = "pattern_import"
)

// Event is one audit record. Payload keys are free-form; values must be
// loggable. Sinks must tolerate duplicate delivery.
type Event struct {
	ID        string
	Kind      Kind
	UserID    string
	Timestamp time.Time
	Payload   map[string]interface{}
}

// Sink receives audit events. Implementations must not block the caller for
// longer than a log write; anything slower belongs behind AsyncSink.
type Sink interface {
	RecordEvent(evt Event)
}

// Emit builds an event and delivers it to the sink, tolerating a nil sink
// and recovering any sink panic.
func Emit(sink Sink, kind Kind, userID string, payload map[string]interface{}) {
	if sink == nil {
		return
	}
	evt := Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		UserID:    userID,
		Timestamp: time.Now(),
		Payload:   payload,
	}
	defer func() {
		_ = recover()
	}()
	sink.RecordEvent(evt)
}

// LogSink writes audit events as structured log records.
type LogSink struct {
	logger *logrus.Logger
}

func NewLogSink(logger *logrus.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) RecordEvent(evt Event) {
	fields := logrus.Fields{
		"event_id": evt.ID,
		"kind":     evt.Kind,
	}
	if evt.UserID != "" {
		fields["user_id"] = evt.UserID
	}
	for k, v := range evt.Payload {
		fields[k] = v
	}
	s.logger.WithFields(fields).Info("audit event")
}

// AsyncSink decouples event delivery from the request path through a bounded
// buffer. When the buffer is full the event is dropped, matching the
// fire-and-forget contract.
type AsyncSink struct {
	next    Sink
	events  chan Event
	done    chan struct{}
	stopped sync.Once
}

func NewAsyncSink(next Sink, buffer int) *AsyncSink {
	if buffer <= 0 {
		buffer = 256
	}
	s := &AsyncSink{
		next:   next,
		events: make(chan Event, buffer),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *AsyncSink) run() {
	for {
		select {
		case evt := <-s.events:
			s.deliver(evt)
		case <-s.done:
			// drain what is already buffered
			for {
				select {
				case evt := <-s.events:
					s.deliver(evt)
				default:
					return
				}
			}
		}
	}
}

func (s *AsyncSink) deliver(evt Event) {
	defer func() {
		_ = recover()
	}()
	s.next.RecordEvent(evt)
}

func (s *AsyncSink) RecordEvent(evt Event) {
	select {
	case s.events <- evt:
	default:
		// buffer full; drop
	}
}

// Stop flushes buffered events and stops the worker.
func (s *AsyncSink) Stop() {
	s.stopped.Do(func() { close(s.done) })
}

// NopSink discards every event.
type NopSink struct{}

func (NopSink) RecordEvent(Event) {}
