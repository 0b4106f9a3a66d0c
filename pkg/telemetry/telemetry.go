// Package telemetry fans generation lifecycle events out to configured
// sinks. Sinks are side channels: a slow or panicking sink never delays or
// fails the request that produced the event.
package telemetry

import (
	"log/slog"
	"sync"
	"time"
)

// EventType names what happened.
type EventType string

const (
	EventGenerationSucceeded EventType = "generation_succeeded"
	EventGenerationFailed    EventType = "generation_failed"
	EventAdmissionDenied     EventType = "admission_denied"
	EventBudgetDenied        EventType = "budget_denied"
	EventVoteRecorded        EventType = "vote_recorded"
)

// Event is one lifecycle notification.
type Event struct {
	Type      EventType
	RequestID string
	Profile   string
	Model     string
	Scope     string
	Window    string
	Reason    string
	CostUSD   float64
	Duration  time.Duration
	At        time.Time
}

// Sink receives events. Implementations must be safe for concurrent use.
type Sink interface {
	Name() string
	Notify(Event)
}

// Notifier delivers events to every sink, capturing panics and never
// blocking the caller.
type Notifier struct {
	sinks  []Sink
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewNotifier creates a Notifier over the given sinks.
func NewNotifier(logger *slog.Logger, sinks ...Sink) *Notifier {
	return &Notifier{sinks: sinks, logger: logger}
}

// Notify dispatches the event to all sinks asynchronously.
func (n *Notifier) Notify(event Event) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	for _, sink := range n.sinks {
		n.wg.Add(1)
		go func(s Sink) {
			defer n.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					n.logger.Error("telemetry sink panicked", "sink", s.Name(), "panic", r)
				}
			}()
			s.Notify(event)
		}(sink)
	}
}

// Wait blocks until all in-flight notifications finish. Used in tests and
// on shutdown.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

// LogSink writes events to the structured log.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a slog-backed sink.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Notify(event Event) {
	attrs := []any{
		"type", string(event.Type),
		"request_id", event.RequestID,
		"profile", event.Profile,
	}
	if event.Model != "" {
		attrs = append(attrs, "model", event.Model)
	}
	if event.Scope != "" {
		attrs = append(attrs, "scope", event.Scope, "window", event.Window)
	}
	if event.Reason != "" {
		attrs = append(attrs, "reason", event.Reason)
	}
	if event.CostUSD > 0 {
		attrs = append(attrs, "cost_usd", event.CostUSD)
	}
	if event.Duration > 0 {
		attrs = append(attrs, "duration", event.Duration)
	}
	s.logger.Info("telemetry event", attrs...)
}
