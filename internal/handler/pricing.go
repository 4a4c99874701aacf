package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"xs2event-gateway/internal/pricing"
)

// PricingHandler serves markup and hospitality resolution.
type PricingHandler struct {
	resolver *pricing.Resolver
	logger   *slog.Logger
}

// NewPricingHandler creates a PricingHandler.
func NewPricingHandler(r *pricing.Resolver, logger *slog.Logger) *PricingHandler {
	return &PricingHandler{
		resolver: r,
		logger:   logger.With("component", "pricing_handler"),
	}
}

type markupBatchRequest struct {
	pricing.Lookup
	Tickets []pricing.TicketPrice `json:"tickets"`
}

type hospitalityBatchRequest struct {
	pricing.Lookup
	TicketIDs []string `json:"ticket_ids"`
}

func lookupFromQuery(c echo.Context) pricing.Lookup {
	return pricing.Lookup{
		SportType:    c.QueryParam("sport_type"),
		TournamentID: c.QueryParam("tournament_id"),
		TeamID:       c.QueryParam("team_id"),
		EventID:      c.QueryParam("event_id"),
		TicketID:     c.QueryParam("ticket_id"),
	}
}

// Markup resolves the markup for one ticket.
func (h *PricingHandler) Markup(c echo.Context) error {
	var base float64
	if raw := c.QueryParam("base_price"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return h.mapError(c, &pricing.ValidationError{Field: "base_price", Reason: "must be a number"})
		}
		base = v
	}

	m, err := h.resolver.ResolveMarkup(c.Request().Context(), lookupFromQuery(c), base)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"data": m})
}

// Markups resolves markups for a batch of tickets of one event.
func (h *PricingHandler) Markups(c echo.Context) error {
	var req markupBatchRequest
	if err := c.Bind(&req); err != nil {
		return err
	}

	out, err := h.resolver.ResolveMarkupsForTickets(c.Request().Context(), req.Lookup, req.Tickets)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"data": out})
}

// TicketHospitality lists every hospitality service that applies to a ticket.
func (h *PricingHandler) TicketHospitality(c echo.Context) error {
	out, err := h.resolver.ResolveHospitalitiesForTicket(c.Request().Context(), lookupFromQuery(c))
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"data": out})
}

// EventHospitality lists every hospitality service that applies to an event.
func (h *PricingHandler) EventHospitality(c echo.Context) error {
	out, err := h.resolver.ResolveHospitalitiesForEvent(c.Request().Context(), lookupFromQuery(c))
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"data": out})
}

// TicketsHospitality resolves hospitality for a batch of tickets, grouped by ticket id.
func (h *PricingHandler) TicketsHospitality(c echo.Context) error {
	var req hospitalityBatchRequest
	if err := c.Bind(&req); err != nil {
		return err
	}

	out, err := h.resolver.ResolveHospitalitiesForTickets(c.Request().Context(), req.Lookup, req.TicketIDs)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"data": out})
}

func (h *PricingHandler) mapError(c echo.Context, err error) error {
	if errors.Is(err, pricing.ErrValidation) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	h.logger.Error("pricing resolution failed",
		"err", err,
		"path", c.Request().URL.Path,
	)
	return c.JSON(http.StatusInternalServerError, map[string]string{
		"error": "pricing resolution failed",
	})
}
