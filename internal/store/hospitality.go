package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"xs2event-gateway/internal/pricing"
)

const assignmentColumns = `id, level, sport_type, tournament_id, team_id, event_id, ticket_id,
	hospitality_id, name, description, price_usd, is_active, created_at, updated_at`

func scanAssignment(row rowScanner) (*pricing.HospitalityAssignment, error) {
	var a pricing.HospitalityAssignment
	var level string
	err := row.Scan(&a.ID, &level, &a.SportType, &a.TournamentID, &a.TeamID, &a.EventID, &a.TicketID,
		&a.HospitalityID, &a.Name, &a.Description, &a.PriceUSD, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Level = pricing.Level(level)
	return &a, nil
}

func (s *Store) queryAssignments(ctx context.Context, query string, args ...any) ([]pricing.HospitalityAssignment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := []pricing.HospitalityAssignment{}
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// FindAssignments implements pricing.HospitalityStore.
func (s *Store) FindAssignments(ctx context.Context, level pricing.Level, lookup pricing.Lookup) ([]pricing.HospitalityAssignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM hospitality_assignments WHERE ` + matchClause + ` ORDER BY id`
	out, err := s.queryAssignments(ctx, query, matchArgs(level, lookup)...)
	if err != nil {
		return nil, fmt.Errorf("query hospitality assignments: %w", err)
	}
	return out, nil
}

// GetAssignment returns the assignment with the given id.
func (s *Store) GetAssignment(ctx context.Context, id int64) (*pricing.HospitalityAssignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM hospitality_assignments WHERE id = $1`
	a, err := scanAssignment(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("hospitality assignment %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get hospitality assignment %d: %w", id, err)
	}
	return a, nil
}

// ListAssignments returns every assignment, optionally filtered by sport.
func (s *Store) ListAssignments(ctx context.Context, sportType string) ([]pricing.HospitalityAssignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM hospitality_assignments`
	var args []any
	if sportType != "" {
		query += ` WHERE sport_type = $1`
		args = append(args, sportType)
	}
	query += ` ORDER BY sport_type, id`

	out, err := s.queryAssignments(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list hospitality assignments: %w", err)
	}
	return out, nil
}

// CreateAssignment validates a, derives its level and inserts it.
func (s *Store) CreateAssignment(ctx context.Context, a *pricing.HospitalityAssignment) error {
	if err := a.Validate(); err != nil {
		return err
	}
	now := s.now()
	a.CreatedAt, a.UpdatedAt = now, now

	query := `INSERT INTO hospitality_assignments (level, sport_type, tournament_id, team_id, event_id, ticket_id,
		hospitality_id, name, description, price_usd, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13) RETURNING id`
	args := append([]any{string(a.Level)}, keyArgs(a.Lookup)...)
	args = append(args, a.HospitalityID, a.Name, a.Description, a.PriceUSD, a.IsActive, now, now)

	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&a.ID); err != nil {
		return fmt.Errorf("insert hospitality assignment: %w", mapWriteError(err))
	}
	s.logger.Info("hospitality assignment created", "id", a.ID, "level", a.Level, "hospitality_id", a.HospitalityID)
	return nil
}

// UpdateAssignment replaces every mutable field of the assignment with a.ID.
func (s *Store) UpdateAssignment(ctx context.Context, a *pricing.HospitalityAssignment) error {
	if err := a.Validate(); err != nil {
		return err
	}
	a.UpdatedAt = s.now()

	query := `UPDATE hospitality_assignments SET level = $1, sport_type = $2, tournament_id = $3, team_id = $4,
		event_id = $5, ticket_id = $6, hospitality_id = $7, name = $8, description = $9, price_usd = $10,
		is_active = $11, updated_at = $12 WHERE id = $13`
	args := append([]any{string(a.Level)}, keyArgs(a.Lookup)...)
	args = append(args, a.HospitalityID, a.Name, a.Description, a.PriceUSD, a.IsActive, a.UpdatedAt, a.ID)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update hospitality assignment %d: %w", a.ID, mapWriteError(err))
	}
	if err := expectOneRow(res); err != nil {
		return fmt.Errorf("hospitality assignment %d: %w", a.ID, err)
	}

	stored, err := s.GetAssignment(ctx, a.ID)
	if err != nil {
		return err
	}
	*a = *stored
	s.logger.Info("hospitality assignment updated", "id", a.ID, "is_active", a.IsActive)
	return nil
}

// DeleteAssignment removes the assignment with the given id.
func (s *Store) DeleteAssignment(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM hospitality_assignments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete hospitality assignment %d: %w", id, err)
	}
	if err := expectOneRow(res); err != nil {
		return fmt.Errorf("hospitality assignment %d: %w", id, err)
	}
	s.logger.Info("hospitality assignment deleted", "id", id)
	return nil
}
