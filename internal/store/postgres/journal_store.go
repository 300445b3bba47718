package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/alanyoungcy/predator/internal/domain"
)

// querier is the subset of pgxpool.Pool the journal needs.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// JournalStore implements domain.JournalStore using PostgreSQL. Writes are
// idempotent so a stream replay after a restart does not duplicate rows.
type JournalStore struct {
	db querier
}

// NewJournalStore creates a JournalStore backed by db, usually Client.Pool().
func NewJournalStore(db querier) *JournalStore {
	return &JournalStore{db: db}
}

// RecordDecision stores a decision. The full decision is kept as JSONB and
// the filterable fields are projected into columns.
func (s *JournalStore) RecordDecision(ctx context.Context, d domain.TradeDecision) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("postgres: marshal decision %s: %w", d.ID, err)
	}

	const query = `
		INSERT INTO trade_decisions (
			id, allow, reason, quality_grade, sizing_factor,
			signal_kind, system_state, payload, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`

	_, err = s.db.Exec(ctx, query,
		d.ID, d.Allow, d.Reason, string(d.QualityGrade), d.SizingFactor,
		string(d.Signal.Kind), string(d.SystemState.State), payload, d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: record decision %s: %w", d.ID, err)
	}
	return nil
}

// RecordTransition appends a state transition.
func (s *JournalStore) RecordTransition(ctx context.Context, t domain.StateTransition) error {
	const query = `
		INSERT INTO state_transitions (from_state, to_state, cause, occurred_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (occurred_at, from_state, to_state) DO NOTHING`

	_, err := s.db.Exec(ctx, query, string(t.From), string(t.To), t.Cause, t.Timestamp)
	if err != nil {
		return fmt.Errorf("postgres: record transition %s->%s: %w", t.From, t.To, err)
	}
	return nil
}

// ListDecisions returns decisions newest first.
func (s *JournalStore) ListDecisions(ctx context.Context, opts domain.ListOpts) ([]domain.TradeDecision, error) {
	query, args := listQuery("SELECT payload FROM trade_decisions", "created_at", opts)
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list decisions: %w", err)
	}
	defer rows.Close()

	var out []domain.TradeDecision
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("postgres: scan decision: %w", err)
		}
		var d domain.TradeDecision
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal decision: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list decisions rows: %w", err)
	}
	return out, nil
}

// ListTransitions returns state transitions newest first.
func (s *JournalStore) ListTransitions(ctx context.Context, opts domain.ListOpts) ([]domain.StateTransition, error) {
	query, args := listQuery(
		"SELECT occurred_at, from_state, to_state, cause FROM state_transitions",
		"occurred_at", opts)
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transitions: %w", err)
	}
	defer rows.Close()

	var out []domain.StateTransition
	for rows.Next() {
		var (
			t        domain.StateTransition
			from, to string
		)
		if err := rows.Scan(&t.Timestamp, &from, &to, &t.Cause); err != nil {
			return nil, fmt.Errorf("postgres: scan transition: %w", err)
		}
		t.From = domain.SystemState(from)
		t.To = domain.SystemState(to)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list transitions rows: %w", err)
	}
	return out, nil
}

// listQuery appends the time filter, ordering and pagination of opts to base.
func listQuery(base, timeCol string, opts domain.ListOpts) (string, []any) {
	query := base + " WHERE 1=1"
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND %s >= $%d", timeCol, argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND %s <= $%d", timeCol, argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += fmt.Sprintf(" ORDER BY %s DESC", timeCol)

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}
	return query, args
}

var _ domain.JournalStore = (*JournalStore)(nil)
