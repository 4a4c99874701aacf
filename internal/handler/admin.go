package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"xs2event-gateway/internal/pricing"
	"xs2event-gateway/internal/store"
)

// RuleAdmin is the write side of the rule store.
type RuleAdmin interface {
	ListMarkupRules(ctx context.Context, sportType string) ([]pricing.MarkupRule, error)
	CreateMarkupRule(ctx context.Context, r *pricing.MarkupRule) error
	UpdateMarkupRule(ctx context.Context, r *pricing.MarkupRule) error
	DeleteMarkupRule(ctx context.Context, id int64) error

	ListAssignments(ctx context.Context, sportType string) ([]pricing.HospitalityAssignment, error)
	CreateAssignment(ctx context.Context, a *pricing.HospitalityAssignment) error
	UpdateAssignment(ctx context.Context, a *pricing.HospitalityAssignment) error
	DeleteAssignment(ctx context.Context, id int64) error

	UpsertLegacyMarkup(ctx context.Context, lm *pricing.LegacyMarkup) error
}

// AdminHandler serves CRUD for markup rules, hospitality assignments and
// legacy markups.
type AdminHandler struct {
	store  RuleAdmin
	logger *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(s RuleAdmin, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		store:  s,
		logger: logger.With("component", "admin_handler"),
	}
}

// ListMarkupRules returns all rules, optionally filtered by ?sport_type=.
func (h *AdminHandler) ListMarkupRules(c echo.Context) error {
	rules, err := h.store.ListMarkupRules(c.Request().Context(), c.QueryParam("sport_type"))
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"data": rules})
}

// CreateMarkupRule stores a new rule. Rules are active unless is_active is false.
func (h *AdminHandler) CreateMarkupRule(c echo.Context) error {
	r := pricing.MarkupRule{IsActive: true}
	if err := c.Bind(&r); err != nil {
		return err
	}
	r.ID = 0
	if err := h.store.CreateMarkupRule(c.Request().Context(), &r); err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]any{"data": r})
}

// UpdateMarkupRule replaces the rule addressed by :id.
func (h *AdminHandler) UpdateMarkupRule(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	r := pricing.MarkupRule{IsActive: true}
	if err := c.Bind(&r); err != nil {
		return err
	}
	r.ID = id
	if err := h.store.UpdateMarkupRule(c.Request().Context(), &r); err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"data": r})
}

// DeleteMarkupRule removes the rule addressed by :id.
func (h *AdminHandler) DeleteMarkupRule(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := h.store.DeleteMarkupRule(c.Request().Context(), id); err != nil {
		return h.mapError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ListAssignments returns all hospitality assignments.
func (h *AdminHandler) ListAssignments(c echo.Context) error {
	list, err := h.store.ListAssignments(c.Request().Context(), c.QueryParam("sport_type"))
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"data": list})
}

// CreateAssignment stores a new hospitality assignment.
func (h *AdminHandler) CreateAssignment(c echo.Context) error {
	a := pricing.HospitalityAssignment{IsActive: true}
	if err := c.Bind(&a); err != nil {
		return err
	}
	a.ID = 0
	if err := h.store.CreateAssignment(c.Request().Context(), &a); err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]any{"data": a})
}

// UpdateAssignment replaces the assignment addressed by :id.
func (h *AdminHandler) UpdateAssignment(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	a := pricing.HospitalityAssignment{IsActive: true}
	if err := c.Bind(&a); err != nil {
		return err
	}
	a.ID = id
	if err := h.store.UpdateAssignment(c.Request().Context(), &a); err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"data": a})
}

// DeleteAssignment removes the assignment addressed by :id.
func (h *AdminHandler) DeleteAssignment(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := h.store.DeleteAssignment(c.Request().Context(), id); err != nil {
		return h.mapError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// PutLegacyMarkup inserts or replaces the legacy markup for :ticket_id.
func (h *AdminHandler) PutLegacyMarkup(c echo.Context) error {
	var lm pricing.LegacyMarkup
	if err := c.Bind(&lm); err != nil {
		return err
	}
	lm.TicketID = c.Param("ticket_id")
	if err := h.store.UpsertLegacyMarkup(c.Request().Context(), &lm); err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"data": lm})
}

func pathID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "id must be a positive integer")
	}
	return id, nil
}

func (h *AdminHandler) mapError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, pricing.ErrValidation):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, store.ErrNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, store.ErrConflict):
		return c.JSON(http.StatusConflict, map[string]string{"error": store.ErrConflict.Error()})
	}

	h.logger.Error("admin request failed",
		"err", err,
		"method", c.Request().Method,
		"path", c.Request().URL.Path,
	)
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
}
