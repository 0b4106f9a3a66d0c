package factoid

import (
	"context"
	"errors"
	"fmt"

	"github.com/dailyfactoid/factoid/pkg/config"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// DefaultPageSize and MaxPageSize bound factoid listings.
const (
	DefaultPageSize = 20
	MaxPageSize     = 50
)

// Page selects a slice of a listing.
type Page struct {
	Limit  int
	Offset int
}

// Clamp normalizes the page to the configured bounds.
func (p Page) Clamp() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageSize
	}
	if p.Limit > MaxPageSize {
		p.Limit = MaxPageSize
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// List is one page of factoids plus the total count.
type List struct {
	Items []Factoid `json:"items"`
	Total int64     `json:"total"`
}

// Store persists the domain records. Implementations: SQL (sqlite or
// postgres) and in-memory.
type Store interface {
	// SaveFactoid inserts a new factoid.
	SaveFactoid(ctx context.Context, f *Factoid) error

	// GetFactoid returns a factoid by ID, or ErrNotFound.
	GetFactoid(ctx context.Context, id string) (*Factoid, error)

	// ListFactoids returns factoids newest first.
	ListFactoids(ctx context.Context, page Page) (List, error)

	// RecentFactoids returns up to limit factoids newest first, for prompt
	// examples.
	RecentFactoids(ctx context.Context, limit int) ([]Factoid, error)

	// CreateRequest inserts a generation request.
	CreateRequest(ctx context.Context, r *GenerationRequest) error

	// UpdateRequest persists lifecycle changes to a request.
	UpdateRequest(ctx context.Context, r *GenerationRequest) error

	// RecordVote applies a vote. A client voting again on the same factoid
	// replaces its previous vote. Returns the factoid with updated counts.
	RecordVote(ctx context.Context, v Vote) (*Factoid, error)

	// SaveFeedback inserts a feedback record.
	SaveFeedback(ctx context.Context, fb *Feedback) error

	Close() error
}

// NewStore builds the record store selected by the configuration.
func NewStore(cfg *config.Config) (Store, error) {
	switch cfg.Records.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sql":
		db, ok := cfg.GetDatabase(cfg.Records.Database)
		if !ok {
			return nil, fmt.Errorf("records database %q not configured", cfg.Records.Database)
		}
		return NewSQLStore(db)
	default:
		return nil, fmt.Errorf("unknown records backend %q", cfg.Records.Backend)
	}
}
