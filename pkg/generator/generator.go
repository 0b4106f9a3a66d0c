// Package generator orchestrates one factoid generation end to end:
// prompt assembly, the upstream call, persistence, and budget settlement.
// Every run resolves its budget reservation exactly once, whatever path it
// exits through.
package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dailyfactoid/factoid/pkg/factoid"
	"github.com/dailyfactoid/factoid/pkg/openrouter"
	"github.com/dailyfactoid/factoid/pkg/telemetry"
)

// Stage is a progress marker emitted while a run advances.
type Stage string

const (
	StageAdmitted   Stage = "admitted"
	StagePrompting  Stage = "prompting"
	StageCalling    Stage = "calling"
	StagePersisting Stage = "persisting"
	StageSettling   Stage = "settling"
	StageSucceeded  Stage = "succeeded"
)

// ErrorCode distinguishes terminal failures for clients.
type ErrorCode string

const (
	CodeInput             ErrorCode = "input"
	CodeUpstreamTimeout   ErrorCode = "upstream_timeout"
	CodeUpstreamRejected  ErrorCode = "upstream_rejected"
	CodeUpstreamMalformed ErrorCode = "upstream_malformed"
	CodePersistFailed     ErrorCode = "persist_failed"
)

// EventKind is the wire-level event name.
type EventKind string

const (
	KindStatus  EventKind = "status"
	KindFactoid EventKind = "factoid"
	KindError   EventKind = "error"
)

// Event is one ordered notification from a run. Status events carry a
// stage; the terminal event is either a factoid or an error.
type Event struct {
	Kind    EventKind        `json:"kind"`
	Stage   Stage            `json:"stage,omitempty"`
	Factoid *factoid.Factoid `json:"factoid,omitempty"`
	Code    ErrorCode        `json:"code,omitempty"`
	Message string           `json:"message,omitempty"`
}

// EmitFunc receives events in emission order. It must not block for long;
// the transport adapter drops delivery when the client is gone.
type EmitFunc func(Event)

// RunError is the terminal failure of a run.
type RunError struct {
	Code ErrorCode
	Err  error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("generation failed (%s): %v", e.Code, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// PublicMessage is the client-safe description of the failure. The wrapped
// collaborator error stays in the logs.
func (e *RunError) PublicMessage() string { return publicMessage(e.Code) }

// Upstream is the model caller. Satisfied by *openrouter.Client.
type Upstream interface {
	Enabled() bool
	DefaultModel() string
	Generate(ctx context.Context, model, prompt string) (*openrouter.Result, error)
	EstimateCost(prompt string) float64
}

// Reservation is the budget claim to resolve. Satisfied by
// *costguard.Reservation.
type Reservation interface {
	Settle(ctx context.Context, actual float64) error
	Release(ctx context.Context) error
	Estimate() float64
}

// resolveTimeout bounds settlement and release. Resolution runs on a
// detached context so a disconnected client cannot leak a reservation.
const resolveTimeout = 5 * time.Second

// Generator runs generation requests.
type Generator struct {
	store    factoid.Store
	upstream Upstream
	notifier *telemetry.Notifier
	logger   *slog.Logger
	now      func() time.Time

	promptExamples int
}

// Option configures a Generator.
type Option func(*Generator)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// WithPromptExamples sets how many recent factoids seed the prompt.
func WithPromptExamples(n int) Option {
	return func(g *Generator) { g.promptExamples = n }
}

// New creates a Generator.
func New(store factoid.Store, upstream Upstream, notifier *telemetry.Notifier, logger *slog.Logger, opts ...Option) *Generator {
	g := &Generator{
		store:          store,
		upstream:       upstream,
		notifier:       notifier,
		logger:         logger,
		now:            time.Now,
		promptExamples: 25,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Run executes one admitted generation request. The reservation is resolved
// exactly once on every exit path: released on input and upstream failures,
// settled on success and on persistence failures (the upstream cost was
// incurred either way).
func (g *Generator) Run(ctx context.Context, req *factoid.GenerationRequest, res Reservation, emit EmitFunc) (f *factoid.Factoid, runErr error) {
	started := g.now()

	// Release is the default resolution. Reservations resolve at most once,
	// so an explicit settle earlier turns this into a no-op.
	defer func() {
		if err := g.resolve(res.Release); err != nil {
			g.logger.Error("failed to release reservation", "request_id", req.ID, "error", err)
		}
	}()

	req.MarkStarted(started)
	if err := g.store.UpdateRequest(ctx, req); err != nil {
		g.logger.Warn("failed to persist request start", "request_id", req.ID, "error", err)
	}

	emit(Event{Kind: KindStatus, Stage: StageAdmitted})

	emit(Event{Kind: KindStatus, Stage: StagePrompting})
	prompt, err := g.buildPrompt(ctx, req.Topic)
	if err != nil {
		return nil, g.fail(ctx, req, emit, CodeInput, err, 0, started)
	}

	emit(Event{Kind: KindStatus, Stage: StageCalling})
	result, err := g.callUpstream(ctx, req, prompt)
	if err != nil {
		return nil, g.fail(ctx, req, emit, upstreamCode(err), err, 0, started)
	}

	actualCost := result.Usage.Cost
	if actualCost <= 0 && g.upstream.Enabled() {
		// The provider did not report a charge; bill the estimate. Stub
		// results cost nothing and settle at zero.
		actualCost = res.Estimate()
	}
	req.Model = result.Model
	req.PromptTokens = result.Usage.PromptTokens
	req.CompletionTokens = result.Usage.CompletionTokens
	req.ActualCostUSD = actualCost

	emit(Event{Kind: KindStatus, Stage: StagePersisting})
	f = &factoid.Factoid{
		Text:      result.Text,
		Subject:   result.Subject,
		Emoji:     result.Emoji,
		Model:     result.Model,
		CostUSD:   actualCost,
		CreatedBy: req.ID,
		CreatedAt: g.now().UTC(),
	}
	if err := g.store.SaveFactoid(g.detachedCtx(ctx), f); err != nil {
		// The upstream charge happened, so the budget pays for it even
		// though nothing was stored.
		if serr := g.resolve(func(rctx context.Context) error { return res.Settle(rctx, actualCost) }); serr != nil {
			g.logger.Error("failed to settle after persist failure", "request_id", req.ID, "error", serr)
		}
		return nil, g.fail(ctx, req, emit, CodePersistFailed, err, actualCost, started)
	}

	emit(Event{Kind: KindStatus, Stage: StageSettling})
	if err := g.resolve(func(rctx context.Context) error { return res.Settle(rctx, actualCost) }); err != nil {
		g.logger.Error("failed to settle reservation", "request_id", req.ID, "error", err)
	}

	req.MarkCompleted(factoid.StatusSucceeded, "", g.now())
	if err := g.store.UpdateRequest(g.detachedCtx(ctx), req); err != nil {
		g.logger.Warn("failed to persist request completion", "request_id", req.ID, "error", err)
	}

	emit(Event{Kind: KindFactoid, Factoid: f})
	emit(Event{Kind: KindStatus, Stage: StageSucceeded})

	g.notifier.Notify(telemetry.Event{
		Type:      telemetry.EventGenerationSucceeded,
		RequestID: req.ID.String(),
		Profile:   req.Profile,
		Model:     req.Model,
		CostUSD:   actualCost,
		Duration:  g.now().Sub(started),
	})
	return f, nil
}

func (g *Generator) buildPrompt(ctx context.Context, topic string) (string, error) {
	recent, err := g.store.RecentFactoids(ctx, g.promptExamples)
	if err != nil {
		g.logger.Warn("failed to load prompt examples", "error", err)
		recent = nil
	}
	return factoid.BuildPrompt(topic, recent)
}

func (g *Generator) callUpstream(ctx context.Context, req *factoid.GenerationRequest, prompt string) (*openrouter.Result, error) {
	if !g.upstream.Enabled() {
		return stubResult(req.Topic), nil
	}
	return g.upstream.Generate(ctx, req.Model, prompt)
}

// fail records the terminal failure, emits the error event, and notifies
// telemetry. costUSD is nonzero only when the upstream charge stands.
func (g *Generator) fail(ctx context.Context, req *factoid.GenerationRequest, emit EmitFunc, code ErrorCode, err error, costUSD float64, started time.Time) error {
	req.MarkCompleted(factoid.StatusFailed, err.Error(), g.now())
	req.ActualCostUSD = costUSD
	if uerr := g.store.UpdateRequest(g.detachedCtx(ctx), req); uerr != nil {
		g.logger.Warn("failed to persist request failure", "request_id", req.ID, "error", uerr)
	}

	emit(Event{Kind: KindError, Code: code, Message: publicMessage(code)})

	g.logger.Error("generation failed",
		"request_id", req.ID, "code", string(code), "error", err)
	g.notifier.Notify(telemetry.Event{
		Type:      telemetry.EventGenerationFailed,
		RequestID: req.ID.String(),
		Profile:   req.Profile,
		Model:     req.Model,
		Reason:    string(code),
		CostUSD:   costUSD,
		Duration:  g.now().Sub(started),
	})
	return &RunError{Code: code, Err: err}
}

// resolve runs a billing resolution on a short detached context, so a
// disconnected client cannot leave a reservation unresolved.
func (g *Generator) resolve(op func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
	defer cancel()
	return op(ctx)
}

// detachedCtx keeps the request's values but survives client disconnects.
func (g *Generator) detachedCtx(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

func upstreamCode(err error) ErrorCode {
	var callErr *openrouter.CallError
	if errors.As(err, &callErr) {
		switch callErr.Kind {
		case openrouter.KindTimeout:
			return CodeUpstreamTimeout
		case openrouter.KindMalformed:
			return CodeUpstreamMalformed
		}
	}
	return CodeUpstreamRejected
}

// publicMessage keeps upstream details out of client-facing errors.
func publicMessage(code ErrorCode) string {
	switch code {
	case CodeInput:
		return "not enough context to generate a factoid; try providing a topic"
	case CodeUpstreamTimeout:
		return "the model did not answer in time"
	case CodeUpstreamRejected:
		return "the model provider rejected the request"
	case CodeUpstreamMalformed:
		return "the model returned an unusable response"
	case CodePersistFailed:
		return "the factoid was generated but could not be stored"
	default:
		return "generation failed"
	}
}

// stubResult serves local development when no API key is configured.
func stubResult(topic string) *openrouter.Result {
	subject := topic
	if subject == "" {
		subject = "Development"
	}
	return &openrouter.Result{
		Text:       "This is a locally generated stub factoid; configure an OpenRouter API key to get real ones.",
		Subject:    subject,
		Emoji:      "🛠️",
		Model:      "stub",
		Structured: true,
	}
}
