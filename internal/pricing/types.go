// Package pricing resolves hierarchical markup rules and hospitality
// assignments for a ticket or event.
package pricing

import (
	"errors"
	"fmt"
	"time"
)

// Level is a hierarchy level, from sport (coarsest) to ticket (finest).
type Level string

const (
	LevelTicket     Level = "ticket"
	LevelEvent      Level = "event"
	LevelTeam       Level = "team"
	LevelTournament Level = "tournament"
	LevelSport      Level = "sport"
)

// Levels lists every level, most specific first.
var Levels = []Level{LevelTicket, LevelEvent, LevelTeam, LevelTournament, LevelSport}

// Valid reports whether l is a known level.
func (l Level) Valid() bool {
	switch l {
	case LevelTicket, LevelEvent, LevelTeam, LevelTournament, LevelSport:
		return true
	}
	return false
}

// Source tells where a resolved value came from.
type Source string

const (
	SourceRule   Source = "rule"
	SourceLegacy Source = "legacy"
)

// MarkupType selects how a markup is applied to a base price.
type MarkupType string

const (
	MarkupFixed      MarkupType = "fixed"
	MarkupPercentage MarkupType = "percentage"
)

// Valid reports whether t is a known markup type.
func (t MarkupType) Valid() bool {
	return t == MarkupFixed || t == MarkupPercentage
}

// Lookup is the context a rule is matched against. It doubles as the key
// of a stored rule, where empty ids mean "any".
type Lookup struct {
	SportType    string `json:"sport_type"`
	TournamentID string `json:"tournament_id,omitempty"`
	TeamID       string `json:"team_id,omitempty"`
	EventID      string `json:"event_id,omitempty"`
	TicketID     string `json:"ticket_id,omitempty"`
}

// ID returns the identifier for the given level.
func (l Lookup) ID(level Level) string {
	switch level {
	case LevelTicket:
		return l.TicketID
	case LevelEvent:
		return l.EventID
	case LevelTeam:
		return l.TeamID
	case LevelTournament:
		return l.TournamentID
	case LevelSport:
		return l.SportType
	}
	return ""
}

// Level returns the finest level with a populated identifier. A key with
// only a sport is a sport-level key.
func (l Lookup) Level() Level {
	for _, level := range Levels {
		if l.ID(level) != "" {
			return level
		}
	}
	return LevelSport
}

// WithTicket returns a copy of l scoped to ticketID.
func (l Lookup) WithTicket(ticketID string) Lookup {
	l.TicketID = ticketID
	return l
}

// MarkupRule is an admin-configured markup bound to one hierarchy key.
type MarkupRule struct {
	ID int64 `json:"id"`
	Lookup
	Level            Level      `json:"level"`
	MarkupType       MarkupType `json:"markup_type"`
	MarkupAmount     float64    `json:"markup_amount"`
	MarkupPercentage float64    `json:"markup_percentage"`
	IsActive         bool       `json:"is_active"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// HospitalityAssignment binds a hospitality service to one hierarchy key.
type HospitalityAssignment struct {
	ID int64 `json:"id"`
	Lookup
	Level         Level     `json:"level"`
	HospitalityID string    `json:"hospitality_id"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	PriceUSD      float64   `json:"price_usd"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// LegacyMarkup is a flat per-ticket markup kept from before rules existed.
type LegacyMarkup struct {
	TicketID         string     `json:"ticket_id"`
	EventID          string     `json:"event_id"`
	MarkupType       MarkupType `json:"markup_type"`
	MarkupAmount     float64    `json:"markup_amount"`
	MarkupPercentage float64    `json:"markup_percentage"`
	BasePriceUSD     float64    `json:"base_price_usd"`
	MarkupPriceUSD   float64    `json:"markup_price_usd"`
	FinalPriceUSD    float64    `json:"final_price_usd"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Markup is a resolved markup applied to a base price.
type Markup struct {
	Level            Level      `json:"level"`
	Source           Source     `json:"source"`
	MarkupType       MarkupType `json:"markup_type"`
	MarkupAmount     float64    `json:"markup_amount"`
	MarkupPriceUSD   float64    `json:"markup_price_usd"`
	MarkupPercentage float64    `json:"markup_percentage"`
	BasePriceUSD     float64    `json:"base_price_usd"`
	FinalPriceUSD    float64    `json:"final_price_usd"`
}

// Hospitality is a resolved hospitality service.
type Hospitality struct {
	AssignmentID  int64   `json:"assignment_id"`
	HospitalityID string  `json:"hospitality_id"`
	Name          string  `json:"name"`
	Description   string  `json:"description,omitempty"`
	PriceUSD      float64 `json:"price_usd"`
	Level         Level   `json:"level"`
	Source        Source  `json:"source"`
}

// TicketPrice pairs a ticket with its base price for batch resolution.
type TicketPrice struct {
	TicketID     string  `json:"ticket_id"`
	BasePriceUSD float64 `json:"base_price_usd"`
}

// ErrValidation is matched by every *ValidationError.
var ErrValidation = errors.New("validation failed")

// ValidationError reports a missing or malformed input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

// Is matches ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func required(field string) *ValidationError {
	return &ValidationError{Field: field, Reason: "is required"}
}
