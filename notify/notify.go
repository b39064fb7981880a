/*
Package notify delivers operation outcomes to whoever displays them.

PURPOSE:
  Every occupancy, billing and pricing operation produces an outcome:
  success, or a failure with a machine-readable code and a display message.
  The engine hands that outcome to a Sink; the sink decides how it reaches
  a human (log line, webhook into a chat channel, UI toast service).

SINKS:
  LogSink      zap structured log line
  WebhookSink  JSON POST with retries (resty)
  Multi        fan-out to several sinks
  Nop          discard

  Sinks never fail the operation that produced the event. Delivery errors
  are logged by the sink and swallowed.

SEE ALSO:
  - dorm/errors.go: Kinds and codes carried in Event
*/
package notify

import (
	"context"
	"time"

	"github.com/warp/dorm-engine/dorm"
	"go.uber.org/zap"
)

// Outcome is the coarse result of an operation.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomePartial Outcome = "partial"
)

// Event describes one finished operation.
type Event struct {
	Operation string    `json:"operation"`
	Outcome   Outcome   `json:"outcome"`
	Kind      dorm.Kind `json:"kind,omitempty"`
	Code      string    `json:"code,omitempty"`
	Message   string    `json:"message"`
	Subject   string    `json:"subject,omitempty"`
	ActorID   string    `json:"actor_id,omitempty"`
	At        time.Time `json:"at"`
}

// Sink receives events.
type Sink interface {
	Notify(ctx context.Context, e Event)
}

// Success builds a success event.
func Success(op, subject, message string) Event {
	return Event{Operation: op, Outcome: OutcomeSuccess, Subject: subject, Message: message, At: time.Now().UTC()}
}

// Failure builds a failure event from err.
func Failure(op, subject string, err error) Event {
	return Event{
		Operation: op,
		Outcome:   OutcomeFailure,
		Kind:      dorm.KindOf(err),
		Code:      dorm.CodeOf(err),
		Message:   err.Error(),
		Subject:   subject,
		At:        time.Now().UTC(),
	}
}

// From builds a success or failure event depending on err.
func From(op, subject, successMessage string, err error) Event {
	if err != nil {
		return Failure(op, subject, err)
	}
	return Success(op, subject, successMessage)
}

// By stamps the actor on the event.
func (e Event) By(a dorm.Actor) Event {
	e.ActorID = a.ID
	return e
}

// =============================================================================
// BASIC SINKS
// =============================================================================

// Nop discards events.
type Nop struct{}

func (Nop) Notify(context.Context, Event) {}

// LogSink writes events as structured log lines.
type LogSink struct {
	Log *zap.Logger
}

func NewLogSink(l *zap.Logger) *LogSink { return &LogSink{Log: l} }

func (s *LogSink) Notify(_ context.Context, e Event) {
	fields := []zap.Field{
		zap.String("operation", e.Operation),
		zap.String("outcome", string(e.Outcome)),
		zap.String("subject", e.Subject),
		zap.String("actor_id", e.ActorID),
	}
	if e.Outcome == OutcomeSuccess {
		s.Log.Info(e.Message, fields...)
		return
	}
	fields = append(fields, zap.String("kind", string(e.Kind)), zap.String("code", e.Code))
	if e.Kind == dorm.KindPersistence {
		s.Log.Error(e.Message, fields...)
		return
	}
	s.Log.Warn(e.Message, fields...)
}

// Multi fans out to every sink in order.
type Multi []Sink

func (m Multi) Notify(ctx context.Context, e Event) {
	for _, s := range m {
		if s != nil {
			s.Notify(ctx, e)
		}
	}
}

var (
	_ Sink = Nop{}
	_ Sink = (*LogSink)(nil)
	_ Sink = Multi(nil)
)
