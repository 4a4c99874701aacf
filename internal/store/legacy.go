package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"xs2event-gateway/internal/pricing"
)

const legacyColumns = `ticket_id, event_id, markup_type, markup_amount, markup_percentage,
	base_price_usd, markup_price_usd, final_price_usd, updated_at`

func scanLegacy(row rowScanner) (*pricing.LegacyMarkup, error) {
	var lm pricing.LegacyMarkup
	var markupType string
	err := row.Scan(&lm.TicketID, &lm.EventID, &markupType, &lm.MarkupAmount, &lm.MarkupPercentage,
		&lm.BasePriceUSD, &lm.MarkupPriceUSD, &lm.FinalPriceUSD, &lm.UpdatedAt)
	if err != nil {
		return nil, err
	}
	lm.MarkupType = pricing.MarkupType(markupType)
	return &lm, nil
}

// GetMarkupByTicket implements pricing.LegacyMarkupStore.
func (s *Store) GetMarkupByTicket(ctx context.Context, ticketID string) (*pricing.LegacyMarkup, error) {
	query := `SELECT ` + legacyColumns + ` FROM legacy_markups WHERE ticket_id = $1`
	lm, err := scanLegacy(s.db.QueryRowContext(ctx, query, ticketID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query legacy markup: %w", err)
	}
	return lm, nil
}

// GetMarkupsByEvent implements pricing.LegacyMarkupStore.
func (s *Store) GetMarkupsByEvent(ctx context.Context, eventID string) ([]pricing.LegacyMarkup, error) {
	query := `SELECT ` + legacyColumns + ` FROM legacy_markups WHERE event_id = $1 ORDER BY ticket_id`
	rows, err := s.db.QueryContext(ctx, query, eventID)
	if err != nil {
		return nil, fmt.Errorf("query legacy markups: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []pricing.LegacyMarkup{}
	for rows.Next() {
		lm, err := scanLegacy(rows)
		if err != nil {
			return nil, fmt.Errorf("scan legacy markup: %w", err)
		}
		out = append(out, *lm)
	}
	return out, rows.Err()
}

// UpsertLegacyMarkup inserts or replaces the legacy markup for lm.TicketID.
// Derived prices are recomputed from the base price.
func (s *Store) UpsertLegacyMarkup(ctx context.Context, lm *pricing.LegacyMarkup) error {
	if err := lm.Validate(); err != nil {
		return err
	}
	lm.UpdatedAt = s.now()

	query := `INSERT INTO legacy_markups (` + legacyColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (ticket_id) DO UPDATE SET
			event_id = excluded.event_id,
			markup_type = excluded.markup_type,
			markup_amount = excluded.markup_amount,
			markup_percentage = excluded.markup_percentage,
			base_price_usd = excluded.base_price_usd,
			markup_price_usd = excluded.markup_price_usd,
			final_price_usd = excluded.final_price_usd,
			updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query, lm.TicketID, lm.EventID, string(lm.MarkupType),
		lm.MarkupAmount, lm.MarkupPercentage, lm.BasePriceUSD, lm.MarkupPriceUSD, lm.FinalPriceUSD, lm.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert legacy markup %s: %w", lm.TicketID, err)
	}
	s.logger.Info("legacy markup stored", "ticket_id", lm.TicketID, "event_id", lm.EventID)
	return nil
}
