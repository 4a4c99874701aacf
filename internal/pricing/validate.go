package pricing

import "math"

// Validate checks a rule before it is written. It derives Level from the
// populated identifiers; a caller-supplied Level must agree with it.
func (r *MarkupRule) Validate() error {
	if err := validateKey(r.Lookup, &r.Level); err != nil {
		return err
	}
	if !r.MarkupType.Valid() {
		return &ValidationError{Field: "markup_type", Reason: "must be fixed or percentage"}
	}
	if err := nonNegative("markup_amount", r.MarkupAmount); err != nil {
		return err
	}
	return nonNegative("markup_percentage", r.MarkupPercentage)
}

// Validate checks an assignment before it is written. Level is derived as
// for markup rules.
func (a *HospitalityAssignment) Validate() error {
	if err := validateKey(a.Lookup, &a.Level); err != nil {
		return err
	}
	if a.HospitalityID == "" {
		return required("hospitality_id")
	}
	if a.Name == "" {
		return required("name")
	}
	return nonNegative("price_usd", a.PriceUSD)
}

// Validate checks a legacy markup and fills in its derived prices.
func (lm *LegacyMarkup) Validate() error {
	if lm.TicketID == "" {
		return required("ticket_id")
	}
	if lm.EventID == "" {
		return required("event_id")
	}
	if !lm.MarkupType.Valid() {
		return &ValidationError{Field: "markup_type", Reason: "must be fixed or percentage"}
	}
	for field, v := range map[string]float64{
		"markup_amount":     lm.MarkupAmount,
		"markup_percentage": lm.MarkupPercentage,
		"base_price_usd":    lm.BasePriceUSD,
	} {
		if err := nonNegative(field, v); err != nil {
			return err
		}
	}
	lm.MarkupPriceUSD, lm.FinalPriceUSD = Price(lm.MarkupType, lm.MarkupAmount, lm.MarkupPercentage, lm.BasePriceUSD)
	lm.BasePriceUSD = roundCents(lm.BasePriceUSD)
	return nil
}

// Price returns the markup and the final price for base, both rounded to cents.
func Price(t MarkupType, amount, percentage, base float64) (markupUSD, finalUSD float64) {
	markup := amount
	if t == MarkupPercentage {
		markup = base * percentage / 100
	}
	return roundCents(markup), roundCents(base + markup)
}

func validateKey(key Lookup, level *Level) error {
	if key.SportType == "" {
		return required("sport_type")
	}
	derived := key.Level()
	if *level != "" && *level != derived {
		return &ValidationError{Field: "level", Reason: "must match the finest identifier set (" + string(derived) + ")"}
	}
	*level = derived
	return nil
}

func nonNegative(field string, v float64) error {
	if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return &ValidationError{Field: field, Reason: "must be a non-negative number"}
	}
	return nil
}
