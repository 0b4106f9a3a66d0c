package factoid

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/dailyfactoid/factoid/pkg/config"
)

// SQLStore persists records in sqlite or postgres.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

// NewSQLStore opens the database and bootstraps the schema.
func NewSQLStore(cfg *config.DatabaseConfig) (*SQLStore, error) {
	db, err := sql.Open(cfg.DriverName(), cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns(cfg.MaxIdle)

	s := &SQLStore{db: db, dialect: cfg.Dialect()}
	if err := s.bootstrap(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) bootstrap() error {
	serial := "INTEGER PRIMARY KEY AUTOINCREMENT"
	float := "REAL"
	if s.dialect == "postgres" {
		serial = "BIGSERIAL PRIMARY KEY"
		float = "DOUBLE PRECISION"
	}

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS factoids (
			id TEXT PRIMARY KEY,
			text TEXT NOT NULL,
			subject TEXT NOT NULL DEFAULT '',
			emoji TEXT NOT NULL DEFAULT '',
			votes_up BIGINT NOT NULL DEFAULT 0,
			votes_down BIGINT NOT NULL DEFAULT 0,
			model TEXT NOT NULL DEFAULT '',
			cost_usd %s NOT NULL DEFAULT 0,
			created_by TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`, float),
		`CREATE INDEX IF NOT EXISTS idx_factoids_created_at ON factoids (created_at)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS generation_requests (
			id TEXT PRIMARY KEY,
			client_key TEXT NOT NULL,
			profile TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT 'manual',
			model TEXT NOT NULL DEFAULT '',
			topic TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			expected_cost_usd %s NOT NULL DEFAULT 0,
			actual_cost_usd %s NOT NULL DEFAULT 0,
			prompt_tokens INTEGER NOT NULL DEFAULT 0,
			completion_tokens INTEGER NOT NULL DEFAULT 0,
			started_at TIMESTAMP,
			completed_at TIMESTAMP,
			error_message TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		)`, float, float),
		`CREATE INDEX IF NOT EXISTS idx_requests_client ON generation_requests (client_key)`,
		`CREATE TABLE IF NOT EXISTS factoid_votes (
			factoid_id TEXT NOT NULL,
			client_key TEXT NOT NULL,
			vote_type TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			PRIMARY KEY (factoid_id, client_key)
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS factoid_feedback (
			id %s,
			factoid_id TEXT NOT NULL,
			request_id TEXT,
			client_key TEXT NOT NULL DEFAULT '',
			vote TEXT NOT NULL DEFAULT '',
			comments TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		)`, serial),
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("bootstrap schema: %w", err)
		}
	}
	return nil
}

// rebind converts ? placeholders to $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) SaveFactoid(ctx context.Context, f *Factoid) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	f.UpdatedAt = f.CreatedAt

	var createdBy sql.NullString
	if f.CreatedBy != uuid.Nil {
		createdBy = sql.NullString{String: f.CreatedBy.String(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO factoids
		(id, text, subject, emoji, votes_up, votes_down, model, cost_usd, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		f.ID.String(), f.Text, f.Subject, f.Emoji, f.VotesUp, f.VotesDown,
		f.Model, f.CostUSD, createdBy, f.CreatedAt, f.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save factoid: %w", err)
	}
	return nil
}

const factoidColumns = `id, text, subject, emoji, votes_up, votes_down, model, cost_usd, created_by, created_at, updated_at`

func scanFactoid(row interface{ Scan(...interface{}) error }) (*Factoid, error) {
	var f Factoid
	var id string
	var createdBy sql.NullString

	err := row.Scan(&id, &f.Text, &f.Subject, &f.Emoji, &f.VotesUp, &f.VotesDown,
		&f.Model, &f.CostUSD, &createdBy, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}

	f.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("corrupt factoid id %q: %w", id, err)
	}
	if createdBy.Valid {
		f.CreatedBy, _ = uuid.Parse(createdBy.String)
	}
	return &f, nil
}

func (s *SQLStore) GetFactoid(ctx context.Context, id string) (*Factoid, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrNotFound
	}

	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT `+factoidColumns+` FROM factoids WHERE id = ?`), parsed.String())
	f, err := scanFactoid(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get factoid: %w", err)
	}
	return f, nil
}

func (s *SQLStore) ListFactoids(ctx context.Context, page Page) (List, error) {
	page = page.Clamp()

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM factoids`).Scan(&total); err != nil {
		return List{}, fmt.Errorf("count factoids: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT `+factoidColumns+` FROM factoids ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`),
		page.Limit, page.Offset)
	if err != nil {
		return List{}, fmt.Errorf("list factoids: %w", err)
	}
	defer rows.Close()

	items := []Factoid{}
	for rows.Next() {
		f, err := scanFactoid(rows)
		if err != nil {
			return List{}, fmt.Errorf("list factoids: %w", err)
		}
		items = append(items, *f)
	}
	if err := rows.Err(); err != nil {
		return List{}, fmt.Errorf("list factoids: %w", err)
	}
	return List{Items: items, Total: total}, nil
}

func (s *SQLStore) RecentFactoids(ctx context.Context, limit int) ([]Factoid, error) {
	if limit <= 0 {
		limit = defaultPromptExamples
	}

	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT `+factoidColumns+` FROM factoids ORDER BY created_at DESC, id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("recent factoids: %w", err)
	}
	defer rows.Close()

	var items []Factoid
	for rows.Next() {
		f, err := scanFactoid(rows)
		if err != nil {
			return nil, fmt.Errorf("recent factoids: %w", err)
		}
		items = append(items, *f)
	}
	return items, rows.Err()
}

func (s *SQLStore) CreateRequest(ctx context.Context, r *GenerationRequest) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO generation_requests
		(id, client_key, profile, source, model, topic, status, expected_cost_usd, actual_cost_usd,
		 prompt_tokens, completion_tokens, started_at, completed_at, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		r.ID.String(), r.ClientKey, r.Profile, string(r.Source), r.Model, r.Topic, string(r.Status),
		r.ExpectedCostUSD, r.ActualCostUSD, r.PromptTokens, r.CompletionTokens,
		r.StartedAt, r.CompletedAt, r.ErrorMessage, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return nil
}

func (s *SQLStore) UpdateRequest(ctx context.Context, r *GenerationRequest) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE generation_requests SET
		model = ?, status = ?, expected_cost_usd = ?, actual_cost_usd = ?,
		prompt_tokens = ?, completion_tokens = ?, started_at = ?, completed_at = ?, error_message = ?
		WHERE id = ?`),
		r.Model, string(r.Status), r.ExpectedCostUSD, r.ActualCostUSD,
		r.PromptTokens, r.CompletionTokens, r.StartedAt, r.CompletedAt, r.ErrorMessage,
		r.ID.String())
	if err != nil {
		return fmt.Errorf("update request: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) RecordVote(ctx context.Context, v Vote) (*Factoid, error) {
	if !v.Type.Valid() {
		return nil, ErrNotFound
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("record vote: %w", err)
	}
	defer tx.Rollback()

	var prev string
	err = tx.QueryRowContext(ctx,
		s.rebind(`SELECT vote_type FROM factoid_votes WHERE factoid_id = ? AND client_key = ?`),
		v.FactoidID.String(), v.ClientKey).Scan(&prev)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx,
			s.rebind(`INSERT INTO factoid_votes (factoid_id, client_key, vote_type, created_at) VALUES (?, ?, ?, ?)`),
			v.FactoidID.String(), v.ClientKey, string(v.Type), v.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("record vote: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("record vote: %w", err)
	case prev == string(v.Type):
		// Idempotent repeat; counts are already right.
		return s.voteResult(ctx, tx, v.FactoidID)
	default:
		_, err = tx.ExecContext(ctx,
			s.rebind(`UPDATE factoid_votes SET vote_type = ?, created_at = ? WHERE factoid_id = ? AND client_key = ?`),
			string(v.Type), v.CreatedAt, v.FactoidID.String(), v.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("record vote: %w", err)
		}
		undo := `votes_down = votes_down - 1`
		if prev == string(VoteUp) {
			undo = `votes_up = votes_up - 1`
		}
		if _, err = tx.ExecContext(ctx,
			s.rebind(`UPDATE factoids SET `+undo+` WHERE id = ?`), v.FactoidID.String()); err != nil {
			return nil, fmt.Errorf("record vote: %w", err)
		}
	}

	bump := `votes_down = votes_down + 1`
	if v.Type == VoteUp {
		bump = `votes_up = votes_up + 1`
	}
	res, err := tx.ExecContext(ctx,
		s.rebind(`UPDATE factoids SET `+bump+`, updated_at = ? WHERE id = ?`),
		v.CreatedAt, v.FactoidID.String())
	if err != nil {
		return nil, fmt.Errorf("record vote: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, ErrNotFound
	}

	return s.voteResult(ctx, tx, v.FactoidID)
}

func (s *SQLStore) voteResult(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*Factoid, error) {
	row := tx.QueryRowContext(ctx,
		s.rebind(`SELECT `+factoidColumns+` FROM factoids WHERE id = ?`), id.String())
	f, err := scanFactoid(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("record vote: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("record vote: %w", err)
	}
	return f, nil
}

func (s *SQLStore) SaveFeedback(ctx context.Context, fb *Feedback) error {
	if fb.CreatedAt.IsZero() {
		fb.CreatedAt = time.Now().UTC()
	}

	if _, err := s.GetFactoid(ctx, fb.FactoidID.String()); err != nil {
		return err
	}

	var requestID sql.NullString
	if fb.RequestID != nil {
		requestID = sql.NullString{String: fb.RequestID.String(), Valid: true}
	}

	if s.dialect == "postgres" {
		err := s.db.QueryRowContext(ctx, s.rebind(`INSERT INTO factoid_feedback
			(factoid_id, request_id, client_key, vote, comments, created_at)
			VALUES (?, ?, ?, ?, ?, ?) RETURNING id`),
			fb.FactoidID.String(), requestID, fb.ClientKey, fb.Vote, fb.Comments, fb.CreatedAt).Scan(&fb.ID)
		if err != nil {
			return fmt.Errorf("save feedback: %w", err)
		}
		return nil
	}

	res, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO factoid_feedback
		(factoid_id, request_id, client_key, vote, comments, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`),
		fb.FactoidID.String(), requestID, fb.ClientKey, fb.Vote, fb.Comments, fb.CreatedAt)
	if err != nil {
		return fmt.Errorf("save feedback: %w", err)
	}
	fb.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
