package factoid

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps records in process memory. It backs tests and the
// default zero-config deployment.
type MemoryStore struct {
	mu       sync.RWMutex
	factoids map[uuid.UUID]*Factoid
	requests map[uuid.UUID]*GenerationRequest
	votes    map[voteKey]VoteType
	feedback []*Feedback
	nextFeed int64
}

type voteKey struct {
	factoidID uuid.UUID
	clientKey string
}

// NewMemoryStore creates an empty in-memory record store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		factoids: make(map[uuid.UUID]*Factoid),
		requests: make(map[uuid.UUID]*GenerationRequest),
		votes:    make(map[voteKey]VoteType),
	}
}

func (s *MemoryStore) SaveFactoid(_ context.Context, f *Factoid) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	f.UpdatedAt = f.CreatedAt

	clone := *f
	s.factoids[f.ID] = &clone
	return nil
}

func (s *MemoryStore) GetFactoid(_ context.Context, id string) (*Factoid, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.factoids[parsed]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *f
	return &clone, nil
}

func (s *MemoryStore) ListFactoids(_ context.Context, page Page) (List, error) {
	page = page.Clamp()

	s.mu.RLock()
	defer s.mu.RUnlock()

	sorted := s.sortedLocked()
	total := int64(len(sorted))

	if page.Offset >= len(sorted) {
		return List{Items: []Factoid{}, Total: total}, nil
	}
	end := page.Offset + page.Limit
	if end > len(sorted) {
		end = len(sorted)
	}

	items := make([]Factoid, 0, end-page.Offset)
	for _, f := range sorted[page.Offset:end] {
		items = append(items, *f)
	}
	return List{Items: items, Total: total}, nil
}

func (s *MemoryStore) RecentFactoids(_ context.Context, limit int) ([]Factoid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sorted := s.sortedLocked()
	if limit > 0 && limit < len(sorted) {
		sorted = sorted[:limit]
	}

	items := make([]Factoid, 0, len(sorted))
	for _, f := range sorted {
		items = append(items, *f)
	}
	return items, nil
}

// sortedLocked returns factoids newest first. Callers hold the lock.
func (s *MemoryStore) sortedLocked() []*Factoid {
	sorted := make([]*Factoid, 0, len(s.factoids))
	for _, f := range s.factoids {
		sorted = append(sorted, f)
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].ID.String() > sorted[j].ID.String()
		}
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})
	return sorted
}

func (s *MemoryStore) CreateRequest(_ context.Context, r *GenerationRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *r
	s.requests[r.ID] = &clone
	return nil
}

func (s *MemoryStore) UpdateRequest(_ context.Context, r *GenerationRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.requests[r.ID]; !ok {
		return ErrNotFound
	}
	clone := *r
	s.requests[r.ID] = &clone
	return nil
}

// GetRequest returns a stored generation request. Used by tests.
func (s *MemoryStore) GetRequest(id uuid.UUID) (*GenerationRequest, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.requests[id]
	if !ok {
		return nil, false
	}
	clone := *r
	return &clone, true
}

func (s *MemoryStore) RecordVote(_ context.Context, v Vote) (*Factoid, error) {
	if !v.Type.Valid() {
		return nil, ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.factoids[v.FactoidID]
	if !ok {
		return nil, ErrNotFound
	}

	key := voteKey{factoidID: v.FactoidID, clientKey: v.ClientKey}
	if prev, voted := s.votes[key]; voted {
		if prev == v.Type {
			clone := *f
			return &clone, nil
		}
		// The client changed its mind; move the vote.
		if prev == VoteUp {
			f.VotesUp--
		} else {
			f.VotesDown--
		}
	}
	s.votes[key] = v.Type

	if v.Type == VoteUp {
		f.VotesUp++
	} else {
		f.VotesDown++
	}
	f.UpdatedAt = time.Now().UTC()

	clone := *f
	return &clone, nil
}

func (s *MemoryStore) SaveFeedback(_ context.Context, fb *Feedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.factoids[fb.FactoidID]; !ok {
		return ErrNotFound
	}

	s.nextFeed++
	fb.ID = s.nextFeed
	if fb.CreatedAt.IsZero() {
		fb.CreatedAt = time.Now().UTC()
	}

	clone := *fb
	s.feedback = append(s.feedback, &clone)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
