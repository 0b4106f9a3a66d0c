package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dailyfactoid/factoid/pkg/costguard"
	"github.com/dailyfactoid/factoid/pkg/counter"
	"github.com/dailyfactoid/factoid/pkg/factoid"
	"github.com/dailyfactoid/factoid/pkg/generator"
	"github.com/dailyfactoid/factoid/pkg/telemetry"
)

type generateParams struct {
	Topic string `json:"topic,omitempty"`
	Model string `json:"model,omitempty"`
}

// admit runs the full admission pipeline: rate limits first, then the
// budget reservation. On denial it writes the response and returns nil.
func (s *Server) admit(w http.ResponseWriter, r *http.Request, params generateParams) (*factoid.GenerationRequest, *costguard.Reservation) {
	ctx := r.Context()
	client := s.resolver.Resolve(r)
	profile := s.profileFor(r)

	decision, err := s.limiter.Admit(ctx, client, profile)
	if err != nil {
		s.logger.Error("admission check failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "admission check failed")
		return nil, nil
	}
	if !decision.Allowed {
		scope := "client"
		if decision.Scope == counter.ScopeGlobal {
			scope = "global"
		}
		s.notifier.Notify(telemetry.Event{
			Type:    telemetry.EventAdmissionDenied,
			Profile: profile,
			Scope:   scope,
			Window:  string(decision.Window),
		})
		retryAfter := int64(decision.RetryAfter.Seconds() + 0.5)
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: errorBody{
			Code:       "rate_limited",
			Message:    "rate limit reached; try again later",
			RetryAfter: retryAfter,
		}})
		return nil, nil
	}

	estimate := 0.0
	if s.upstream.Enabled() {
		estimate = s.upstream.EstimateCost(params.Topic)
	}
	reservation, err := s.guard.Reserve(ctx, profile, estimate)
	if err != nil {
		var budgetErr *costguard.BudgetExceededError
		if errors.As(err, &budgetErr) {
			s.notifier.Notify(telemetry.Event{
				Type:    telemetry.EventBudgetDenied,
				Profile: profile,
				Reason:  "daily_budget_exceeded",
			})
			remaining := budgetErr.Remaining
			writeJSON(w, http.StatusPaymentRequired, errorResponse{Error: errorBody{
				Code:         "budget_exceeded",
				Message:      "daily budget exhausted; try again tomorrow",
				RemainingUSD: &remaining,
			}})
			return nil, nil
		}
		s.logger.Error("budget reservation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "budget check failed")
		return nil, nil
	}

	req := factoid.NewRequest(string(client), profile, factoid.SourceManual)
	req.Topic = params.Topic
	req.Model = params.Model
	if req.Model == "" {
		req.Model = s.upstream.DefaultModel()
	}
	req.ExpectedCostUSD = reservation.Estimate()

	if err := s.store.CreateRequest(ctx, req); err != nil {
		s.logger.Error("failed to record generation request", "error", err)
		if rerr := reservation.Release(ctx); rerr != nil {
			s.logger.Error("failed to release reservation", "error", rerr)
		}
		writeError(w, http.StatusInternalServerError, "internal", "failed to record request")
		return nil, nil
	}

	return req, reservation
}

// handleGenerate is the synchronous endpoint: the run happens inline and
// only the terminal payload is returned.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	// An empty or malformed body is treated as a request with no
	// preferences rather than rejected.
	var params generateParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil && !errors.Is(err, io.EOF) {
		params = generateParams{}
	}

	req, reservation := s.admit(w, r, params)
	if req == nil {
		return
	}

	f, err := s.gen.Run(r.Context(), req, reservation, func(generator.Event) {})
	if err != nil {
		status, code := runErrorStatus(err)
		writeError(w, status, code, runErrorMessage(err))
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"factoid":    f,
		"request_id": req.ID,
	})
}

func runErrorStatus(err error) (int, string) {
	var runErr *generator.RunError
	if !errors.As(err, &runErr) {
		return http.StatusInternalServerError, "internal"
	}
	switch runErr.Code {
	case generator.CodeInput:
		return http.StatusBadRequest, string(runErr.Code)
	case generator.CodeUpstreamTimeout:
		return http.StatusGatewayTimeout, string(runErr.Code)
	case generator.CodeUpstreamRejected, generator.CodeUpstreamMalformed:
		return http.StatusBadGateway, string(runErr.Code)
	default:
		return http.StatusInternalServerError, string(runErr.Code)
	}
}

// runErrorMessage returns the client-safe failure text; the underlying
// collaborator error never reaches the transport.
func runErrorMessage(err error) string {
	var runErr *generator.RunError
	if errors.As(err, &runErr) {
		return runErr.PublicMessage()
	}
	return "generation failed"
}

func (s *Server) handleListFactoids(w http.ResponseWriter, r *http.Request) {
	page := factoid.Page{
		Limit:  queryInt(r, "page_size", factoid.DefaultPageSize),
		Offset: queryInt(r, "offset", 0),
	}

	list, err := s.store.ListFactoids(r.Context(), page)
	if err != nil {
		s.logger.Error("failed to list factoids", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to list factoids")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetFactoid(w http.ResponseWriter, r *http.Request) {
	f, err := s.store.GetFactoid(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, factoid.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "factoid not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to load factoid", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to load factoid")
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "factoid not found")
		return
	}

	var body struct {
		Type factoid.VoteType `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || !body.Type.Valid() {
		writeError(w, http.StatusBadRequest, "invalid_vote", `vote type must be "up" or "down"`)
		return
	}

	client := s.resolver.Resolve(r)
	f, err := s.store.RecordVote(r.Context(), factoid.Vote{
		FactoidID: id,
		ClientKey: string(client),
		Type:      body.Type,
	})
	if errors.Is(err, factoid.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "factoid not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to record vote", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to record vote")
		return
	}

	s.notifier.Notify(telemetry.Event{
		Type:    telemetry.EventVoteRecorded,
		Profile: s.profileFor(r),
		Reason:  string(body.Type),
	})
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var body struct {
		FactoidID string `json:"factoid_id"`
		RequestID string `json:"request_id,omitempty"`
		Vote      string `json:"vote,omitempty"`
		Comments  string `json:"comments,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "malformed feedback payload")
		return
	}

	factoidID, err := uuid.Parse(body.FactoidID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "factoid_id must be a UUID")
		return
	}

	fb := &factoid.Feedback{
		FactoidID: factoidID,
		ClientKey: string(s.resolver.Resolve(r)),
		Vote:      body.Vote,
		Comments:  body.Comments,
	}
	if body.RequestID != "" {
		if reqID, err := uuid.Parse(body.RequestID); err == nil {
			fb.RequestID = &reqID
		}
	}

	if err := s.store.SaveFeedback(r.Context(), fb); err != nil {
		if errors.Is(err, factoid.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "factoid not found")
			return
		}
		s.logger.Error("failed to save feedback", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to save feedback")
		return
	}
	writeJSON(w, http.StatusCreated, fb)
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.upstream.ListModels(r.Context())
	if err != nil {
		s.logger.Error("failed to fetch model catalog", "error", err)
		writeError(w, http.StatusBadGateway, "upstream", "model catalog unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"models": models})
}

// handleLimits reports the caller's remaining quota and budget without
// consuming anything.
func (s *Server) handleLimits(w http.ResponseWriter, r *http.Request) {
	client := s.resolver.Resolve(r)
	profile := s.profileFor(r)

	usage, err := s.limiter.Usage(r.Context(), client, profile)
	if err != nil {
		s.logger.Error("failed to read limits", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to read limits")
		return
	}

	response := map[string]interface{}{
		"profile": profile,
		"windows": usage,
	}

	spend, err := s.guard.CurrentSpend(r.Context(), profile)
	if err == nil {
		response["spend_usd"] = spend.Total()
		if budget, ok := s.cfg.Budgets.BudgetFor(profile); ok {
			response["budget_usd"] = budget
		}
	}

	writeJSON(w, http.StatusOK, response)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
