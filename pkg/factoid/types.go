// Package factoid holds the domain records of the service: generated
// factoids, the generation requests that produced them, votes, and feedback.
package factoid

import (
	"time"

	"github.com/google/uuid"
)

// RequestSource tags how a generation request entered the system.
type RequestSource string

const (
	SourceManual    RequestSource = "manual"
	SourceScheduled RequestSource = "scheduled"
)

// RequestStatus is the persisted lifecycle of a generation request.
type RequestStatus string

const (
	StatusPending   RequestStatus = "pending"
	StatusRunning   RequestStatus = "running"
	StatusSucceeded RequestStatus = "succeeded"
	StatusFailed    RequestStatus = "failed"
	StatusCancelled RequestStatus = "cancelled"
)

// VoteType is an up or down vote on a factoid.
type VoteType string

const (
	VoteUp   VoteType = "up"
	VoteDown VoteType = "down"
)

// Valid reports whether the vote type is one of the known values.
func (v VoteType) Valid() bool {
	return v == VoteUp || v == VoteDown
}

// Factoid is a persisted generated fact with vote counts and generation
// metadata.
type Factoid struct {
	ID        uuid.UUID `json:"id"`
	Text      string    `json:"text"`
	Subject   string    `json:"subject"`
	Emoji     string    `json:"emoji"`
	VotesUp   int64     `json:"votes_up"`
	VotesDown int64     `json:"votes_down"`
	Model     string    `json:"model,omitempty"`
	CostUSD   float64   `json:"cost_usd,omitempty"`
	CreatedBy uuid.UUID `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GenerationRequest tracks one generation operation end to end.
type GenerationRequest struct {
	ID               uuid.UUID     `json:"id"`
	ClientKey        string        `json:"-"`
	Profile          string        `json:"profile"`
	Source           RequestSource `json:"source"`
	Model            string        `json:"model"`
	Topic            string        `json:"topic,omitempty"`
	Status           RequestStatus `json:"status"`
	ExpectedCostUSD  float64       `json:"expected_cost_usd,omitempty"`
	ActualCostUSD    float64       `json:"actual_cost_usd,omitempty"`
	PromptTokens     int           `json:"prompt_tokens,omitempty"`
	CompletionTokens int           `json:"completion_tokens,omitempty"`
	StartedAt        *time.Time    `json:"started_at,omitempty"`
	CompletedAt      *time.Time    `json:"completed_at,omitempty"`
	ErrorMessage     string        `json:"error_message,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
}

// NewRequest creates a pending generation request.
func NewRequest(clientKey, profile string, source RequestSource) *GenerationRequest {
	return &GenerationRequest{
		ID:        uuid.New(),
		ClientKey: clientKey,
		Profile:   profile,
		Source:    source,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}
}

// MarkStarted transitions the request to running.
func (r *GenerationRequest) MarkStarted(now time.Time) {
	r.Status = StatusRunning
	if r.StartedAt == nil {
		t := now.UTC()
		r.StartedAt = &t
	}
}

// MarkCompleted records the terminal status and completion time.
func (r *GenerationRequest) MarkCompleted(status RequestStatus, errMsg string, now time.Time) {
	r.Status = status
	r.ErrorMessage = errMsg
	t := now.UTC()
	r.CompletedAt = &t
}

// Vote is a single vote event from a client.
type Vote struct {
	FactoidID uuid.UUID `json:"factoid_id"`
	ClientKey string    `json:"-"`
	Type      VoteType  `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}

// Feedback is free-form feedback on a factoid.
type Feedback struct {
	ID        int64      `json:"id"`
	FactoidID uuid.UUID  `json:"factoid_id"`
	RequestID *uuid.UUID `json:"request_id,omitempty"`
	ClientKey string     `json:"-"`
	Vote      string     `json:"vote,omitempty"`
	Comments  string     `json:"comments,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
