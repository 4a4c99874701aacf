package pricing

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"xs2event-gateway/internal/metrics"
)

// MarkupRuleStore finds the active markup rule stored at level that applies
// to lookup. It returns nil, nil when there is none; when several match, the
// most recently updated one is returned.
type MarkupRuleStore interface {
	FindMarkupRule(ctx context.Context, level Level, lookup Lookup) (*MarkupRule, error)
}

// HospitalityStore finds every active assignment stored at level that
// applies to lookup.
type HospitalityStore interface {
	FindAssignments(ctx context.Context, level Level, lookup Lookup) ([]HospitalityAssignment, error)
}

// LegacyMarkupStore reads the flat per-ticket markup table.
type LegacyMarkupStore interface {
	GetMarkupByTicket(ctx context.Context, ticketID string) (*LegacyMarkup, error)
	GetMarkupsByEvent(ctx context.Context, eventID string) ([]LegacyMarkup, error)
}

const (
	kindMarkup      = "markup"
	kindHospitality = "hospitality"
	noMatch         = "none"
)

// Resolver applies the level hierarchy on top of the rule stores.
// It never retries; a missing rule is a nil result, not an error.
type Resolver struct {
	rules       MarkupRuleStore
	hospitality HospitalityStore
	legacy      LegacyMarkupStore
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// NewResolver creates a Resolver.
// The metrics parameter is optional; pass nil to disable resolution metrics.
func NewResolver(rules MarkupRuleStore, hospitality HospitalityStore, legacy LegacyMarkupStore, logger *slog.Logger, m *metrics.Metrics) *Resolver {
	return &Resolver{
		rules:       rules,
		hospitality: hospitality,
		legacy:      legacy,
		logger:      logger.With("component", "pricing_resolver"),
		metrics:     m,
	}
}

// ResolveMarkup returns the most specific active rule for the ticket in
// lookup applied to basePrice, falling back to the legacy ticket table.
// It returns nil when neither produces a match.
func (r *Resolver) ResolveMarkup(ctx context.Context, lookup Lookup, basePrice float64) (*Markup, error) {
	if err := validateLookup(lookup, LevelTicket); err != nil {
		return nil, err
	}
	if err := validatePrice(basePrice); err != nil {
		return nil, err
	}

	rule, level, err := r.findMostSpecific(ctx, lookup, Levels)
	if err != nil {
		return nil, err
	}
	if rule != nil {
		m := applyRule(rule, level, basePrice)
		r.record(kindMarkup, string(m.Level), string(m.Source))
		return m, nil
	}

	legacy, err := r.legacy.GetMarkupByTicket(ctx, lookup.TicketID)
	if err != nil {
		return nil, fmt.Errorf("get legacy markup for ticket %s: %w", lookup.TicketID, err)
	}
	if legacy == nil {
		r.record(kindMarkup, noMatch, noMatch)
		return nil, nil
	}
	m := applyLegacy(legacy, basePrice)
	r.record(kindMarkup, string(m.Level), string(m.Source))
	return m, nil
}

// ResolveMarkupsForTickets resolves markups for several tickets of the event
// in lookup. Levels shared by every ticket are probed once and the legacy
// table is read with a single event query. Tickets without a match map to nil.
func (r *Resolver) ResolveMarkupsForTickets(ctx context.Context, lookup Lookup, tickets []TicketPrice) (map[string]*Markup, error) {
	if err := validateLookup(lookup, LevelEvent); err != nil {
		return nil, err
	}
	for _, t := range tickets {
		if t.TicketID == "" {
			return nil, required("ticket_id")
		}
		if err := validatePrice(t.BasePriceUSD); err != nil {
			return nil, err
		}
	}

	out := make(map[string]*Markup, len(tickets))
	if len(tickets) == 0 {
		return out, nil
	}

	lookup.TicketID = ""
	shared, sharedLevel, err := r.findMostSpecific(ctx, lookup, Levels[1:])
	if err != nil {
		return nil, err
	}

	var unresolved []TicketPrice
	for _, t := range tickets {
		rule, err := r.rules.FindMarkupRule(ctx, LevelTicket, lookup.WithTicket(t.TicketID))
		if err != nil {
			return nil, fmt.Errorf("find ticket markup rule for %s: %w", t.TicketID, err)
		}
		switch {
		case rule != nil:
			out[t.TicketID] = applyRule(rule, LevelTicket, t.BasePriceUSD)
		case shared != nil:
			out[t.TicketID] = applyRule(shared, sharedLevel, t.BasePriceUSD)
		default:
			unresolved = append(unresolved, t)
			continue
		}
		r.record(kindMarkup, string(out[t.TicketID].Level), string(SourceRule))
	}

	if len(unresolved) == 0 {
		return out, nil
	}

	legacy, err := r.legacy.GetMarkupsByEvent(ctx, lookup.EventID)
	if err != nil {
		return nil, fmt.Errorf("get legacy markups for event %s: %w", lookup.EventID, err)
	}
	byTicket := make(map[string]*LegacyMarkup, len(legacy))
	for i := range legacy {
		byTicket[legacy[i].TicketID] = &legacy[i]
	}
	for _, t := range unresolved {
		lm, ok := byTicket[t.TicketID]
		if !ok {
			out[t.TicketID] = nil
			r.record(kindMarkup, noMatch, noMatch)
			continue
		}
		out[t.TicketID] = applyLegacy(lm, t.BasePriceUSD)
		r.record(kindMarkup, string(LevelTicket), string(SourceLegacy))
	}
	return out, nil
}

// ResolveHospitalitiesForTicket returns every active assignment that applies
// to the ticket in lookup, across all levels, most specific first.
func (r *Resolver) ResolveHospitalitiesForTicket(ctx context.Context, lookup Lookup) ([]Hospitality, error) {
	if err := validateLookup(lookup, LevelTicket); err != nil {
		return nil, err
	}
	list, err := r.collect(ctx, lookup, Levels)
	if err != nil {
		return nil, err
	}
	r.recordHospitality(list)
	return list, nil
}

// ResolveHospitalitiesForEvent returns every active assignment that applies
// to the event in lookup. Ticket-level assignments are not included.
func (r *Resolver) ResolveHospitalitiesForEvent(ctx context.Context, lookup Lookup) ([]Hospitality, error) {
	if err := validateLookup(lookup, LevelEvent); err != nil {
		return nil, err
	}
	lookup.TicketID = ""
	list, err := r.collect(ctx, lookup, Levels[1:])
	if err != nil {
		return nil, err
	}
	r.recordHospitality(list)
	return list, nil
}

// ResolveHospitalitiesForTickets resolves assignments for several tickets of
// the event in lookup, grouped by ticket id. A ticket without assignments
// maps to an empty list.
func (r *Resolver) ResolveHospitalitiesForTickets(ctx context.Context, lookup Lookup, ticketIDs []string) (map[string][]Hospitality, error) {
	if err := validateLookup(lookup, LevelEvent); err != nil {
		return nil, err
	}
	for _, id := range ticketIDs {
		if id == "" {
			return nil, required("ticket_ids")
		}
	}

	out := make(map[string][]Hospitality, len(ticketIDs))
	if len(ticketIDs) == 0 {
		return out, nil
	}

	lookup.TicketID = ""
	shared, err := r.collect(ctx, lookup, Levels[1:])
	if err != nil {
		return nil, err
	}

	for _, id := range ticketIDs {
		found, err := r.hospitality.FindAssignments(ctx, LevelTicket, lookup.WithTicket(id))
		if err != nil {
			return nil, fmt.Errorf("find ticket hospitality for %s: %w", id, err)
		}
		list := make([]Hospitality, 0, len(found)+len(shared))
		for _, a := range found {
			list = append(list, toHospitality(a, LevelTicket))
		}
		out[id] = append(list, shared...)
		r.recordHospitality(out[id])
	}
	return out, nil
}

// findMostSpecific probes levels in order and returns the first match.
// Levels whose identifier is absent from lookup cannot match and are skipped.
func (r *Resolver) findMostSpecific(ctx context.Context, lookup Lookup, levels []Level) (*MarkupRule, Level, error) {
	for _, level := range levels {
		if lookup.ID(level) == "" {
			continue
		}
		rule, err := r.rules.FindMarkupRule(ctx, level, lookup)
		if err != nil {
			return nil, "", fmt.Errorf("find %s markup rule: %w", level, err)
		}
		if rule != nil {
			r.logger.Debug("markup rule matched",
				"rule_id", rule.ID,
				"level", level,
				"sport_type", lookup.SportType,
				"event_id", lookup.EventID,
				"ticket_id", lookup.TicketID,
			)
			return rule, level, nil
		}
	}
	return nil, "", nil
}

func (r *Resolver) collect(ctx context.Context, lookup Lookup, levels []Level) ([]Hospitality, error) {
	out := []Hospitality{}
	for _, level := range levels {
		if lookup.ID(level) == "" {
			continue
		}
		found, err := r.hospitality.FindAssignments(ctx, level, lookup)
		if err != nil {
			return nil, fmt.Errorf("find %s hospitality: %w", level, err)
		}
		for _, a := range found {
			out = append(out, toHospitality(a, level))
		}
	}
	return out, nil
}

func (r *Resolver) recordHospitality(list []Hospitality) {
	if len(list) == 0 {
		r.record(kindHospitality, noMatch, noMatch)
		return
	}
	r.record(kindHospitality, string(list[0].Level), string(SourceRule))
}

func (r *Resolver) record(kind, level, source string) {
	if r.metrics != nil {
		r.metrics.Resolutions.WithLabelValues(kind, level, source).Inc()
	}
}

// validateLookup checks sport_type and the identifier of the finest level
// the operation resolves for.
func validateLookup(lookup Lookup, finest Level) error {
	if lookup.SportType == "" {
		return required("sport_type")
	}
	if lookup.ID(finest) == "" {
		return required(string(finest) + "_id")
	}
	return nil
}

func validatePrice(p float64) error {
	return nonNegative("base_price", p)
}

func applyRule(rule *MarkupRule, level Level, base float64) *Markup {
	m := &Markup{
		Level:            level,
		Source:           SourceRule,
		MarkupType:       rule.MarkupType,
		MarkupAmount:     rule.MarkupAmount,
		MarkupPercentage: rule.MarkupPercentage,
	}
	price(m, base)
	return m
}

// applyLegacy prices a legacy row against base. When no base price is
// given, the stored prices are returned unchanged.
func applyLegacy(lm *LegacyMarkup, base float64) *Markup {
	m := &Markup{
		Level:            LevelTicket,
		Source:           SourceLegacy,
		MarkupType:       lm.MarkupType,
		MarkupAmount:     lm.MarkupAmount,
		MarkupPercentage: lm.MarkupPercentage,
	}
	if base == 0 {
		m.BasePriceUSD = lm.BasePriceUSD
		m.MarkupPriceUSD = lm.MarkupPriceUSD
		m.FinalPriceUSD = lm.FinalPriceUSD
		return m
	}
	price(m, base)
	return m
}

func price(m *Markup, base float64) {
	m.BasePriceUSD = roundCents(base)
	m.MarkupPriceUSD, m.FinalPriceUSD = Price(m.MarkupType, m.MarkupAmount, m.MarkupPercentage, base)
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

func toHospitality(a HospitalityAssignment, level Level) Hospitality {
	return Hospitality{
		AssignmentID:  a.ID,
		HospitalityID: a.HospitalityID,
		Name:          a.Name,
		Description:   a.Description,
		PriceUSD:      a.PriceUSD,
		Level:         level,
		Source:        SourceRule,
	}
}
