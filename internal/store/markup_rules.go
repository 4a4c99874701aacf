package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"xs2event-gateway/internal/pricing"
)

const markupRuleColumns = `id, level, sport_type, tournament_id, team_id, event_id, ticket_id,
	markup_type, markup_amount, markup_percentage, is_active, created_at, updated_at`

func scanMarkupRule(row rowScanner) (*pricing.MarkupRule, error) {
	var r pricing.MarkupRule
	var level, markupType string
	err := row.Scan(&r.ID, &level, &r.SportType, &r.TournamentID, &r.TeamID, &r.EventID, &r.TicketID,
		&markupType, &r.MarkupAmount, &r.MarkupPercentage, &r.IsActive, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Level = pricing.Level(level)
	r.MarkupType = pricing.MarkupType(markupType)
	return &r, nil
}

// FindMarkupRule implements pricing.MarkupRuleStore.
func (s *Store) FindMarkupRule(ctx context.Context, level pricing.Level, lookup pricing.Lookup) (*pricing.MarkupRule, error) {
	query := `SELECT ` + markupRuleColumns + ` FROM markup_rules WHERE ` + matchClause +
		` ORDER BY updated_at DESC, id DESC LIMIT 1`

	r, err := scanMarkupRule(s.db.QueryRowContext(ctx, query, matchArgs(level, lookup)...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query markup rule: %w", err)
	}
	return r, nil
}

// GetMarkupRule returns the rule with the given id.
func (s *Store) GetMarkupRule(ctx context.Context, id int64) (*pricing.MarkupRule, error) {
	query := `SELECT ` + markupRuleColumns + ` FROM markup_rules WHERE id = $1`
	r, err := scanMarkupRule(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("markup rule %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get markup rule %d: %w", id, err)
	}
	return r, nil
}

// ListMarkupRules returns every rule, optionally filtered by sport.
func (s *Store) ListMarkupRules(ctx context.Context, sportType string) ([]pricing.MarkupRule, error) {
	query := `SELECT ` + markupRuleColumns + ` FROM markup_rules`
	var args []any
	if sportType != "" {
		query += ` WHERE sport_type = $1`
		args = append(args, sportType)
	}
	query += ` ORDER BY sport_type, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list markup rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []pricing.MarkupRule{}
	for rows.Next() {
		r, err := scanMarkupRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan markup rule: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// CreateMarkupRule validates r, derives its level and inserts it. On
// success r carries the new id and timestamps.
func (s *Store) CreateMarkupRule(ctx context.Context, r *pricing.MarkupRule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	now := s.now()
	r.CreatedAt, r.UpdatedAt = now, now

	query := `INSERT INTO markup_rules (level, sport_type, tournament_id, team_id, event_id, ticket_id,
		markup_type, markup_amount, markup_percentage, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12) RETURNING id`
	args := append([]any{string(r.Level)}, keyArgs(r.Lookup)...)
	args = append(args, string(r.MarkupType), r.MarkupAmount, r.MarkupPercentage, r.IsActive, now, now)

	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&r.ID); err != nil {
		return fmt.Errorf("insert markup rule: %w", mapWriteError(err))
	}
	s.logger.Info("markup rule created", "id", r.ID, "level", r.Level, "sport_type", r.SportType)
	return nil
}

// UpdateMarkupRule replaces every mutable field of the rule with r.ID.
func (s *Store) UpdateMarkupRule(ctx context.Context, r *pricing.MarkupRule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	r.UpdatedAt = s.now()

	query := `UPDATE markup_rules SET level = $1, sport_type = $2, tournament_id = $3, team_id = $4,
		event_id = $5, ticket_id = $6, markup_type = $7, markup_amount = $8, markup_percentage = $9,
		is_active = $10, updated_at = $11 WHERE id = $12`
	args := append([]any{string(r.Level)}, keyArgs(r.Lookup)...)
	args = append(args, string(r.MarkupType), r.MarkupAmount, r.MarkupPercentage, r.IsActive, r.UpdatedAt, r.ID)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update markup rule %d: %w", r.ID, mapWriteError(err))
	}
	if err := expectOneRow(res); err != nil {
		return fmt.Errorf("markup rule %d: %w", r.ID, err)
	}

	stored, err := s.GetMarkupRule(ctx, r.ID)
	if err != nil {
		return err
	}
	*r = *stored
	s.logger.Info("markup rule updated", "id", r.ID, "level", r.Level, "is_active", r.IsActive)
	return nil
}

// DeleteMarkupRule removes the rule with the given id.
func (s *Store) DeleteMarkupRule(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM markup_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete markup rule %d: %w", id, err)
	}
	if err := expectOneRow(res); err != nil {
		return fmt.Errorf("markup rule %d: %w", id, err)
	}
	s.logger.Info("markup rule deleted", "id", id)
	return nil
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
