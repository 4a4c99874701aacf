package pricing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"xs2event-gateway/internal/metrics"
)

// memStore is an in-memory rule store with the same matching semantics as
// the SQL store. It counts every lookup.
type memStore struct {
	rules       []MarkupRule
	assignments []HospitalityAssignment
	legacy      []LegacyMarkup
	calls       int
	err         error
}

func applies(key Lookup, level Level, lookup Lookup) bool {
	if key.Level() != level || key.SportType != lookup.SportType {
		return false
	}
	for _, l := range Levels[:4] {
		if id := key.ID(l); id != "" && id != lookup.ID(l) {
			return false
		}
	}
	return true
}

func (m *memStore) FindMarkupRule(_ context.Context, level Level, lookup Lookup) (*MarkupRule, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	var best *MarkupRule
	for i := range m.rules {
		r := &m.rules[i]
		if !r.IsActive || !applies(r.Lookup, level, lookup) {
			continue
		}
		if best == nil || r.UpdatedAt.After(best.UpdatedAt) {
			best = r
		}
	}
	return best, nil
}

func (m *memStore) FindAssignments(_ context.Context, level Level, lookup Lookup) ([]HospitalityAssignment, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	var out []HospitalityAssignment
	for _, a := range m.assignments {
		if a.IsActive && applies(a.Lookup, level, lookup) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memStore) GetMarkupByTicket(_ context.Context, ticketID string) (*LegacyMarkup, error) {
	m.calls++
	for i := range m.legacy {
		if m.legacy[i].TicketID == ticketID {
			return &m.legacy[i], nil
		}
	}
	return nil, nil
}

func (m *memStore) GetMarkupsByEvent(_ context.Context, eventID string) ([]LegacyMarkup, error) {
	m.calls++
	var out []LegacyMarkup
	for _, lm := range m.legacy {
		if lm.EventID == eventID {
			out = append(out, lm)
		}
	}
	return out, nil
}

func newTestResolver(s *memStore, m *metrics.Metrics) *Resolver {
	return NewResolver(s, s, s, slog.New(slog.NewTextHandler(io.Discard, nil)), m)
}

var ticketCtx = Lookup{SportType: "soccer", TeamID: "ManUtd", EventID: "E1", TicketID: "T1"}

func sportRule() MarkupRule {
	return MarkupRule{ID: 1, Lookup: Lookup{SportType: "soccer"}, MarkupType: MarkupPercentage, MarkupPercentage: 5, IsActive: true}
}

func teamRule() MarkupRule {
	return MarkupRule{ID: 2, Lookup: Lookup{SportType: "soccer", TeamID: "ManUtd"}, MarkupType: MarkupFixed, MarkupAmount: 10, IsActive: true}
}

func TestResolveMarkup_TeamBeatsSport(t *testing.T) {
	s := &memStore{rules: []MarkupRule{sportRule(), teamRule()}}
	r := newTestResolver(s, nil)

	m, err := r.ResolveMarkup(context.Background(), ticketCtx, 100)
	if err != nil {
		t.Fatalf("ResolveMarkup() error = %v", err)
	}
	if m == nil {
		t.Fatal("ResolveMarkup() = nil, want team rule")
	}
	if m.Level != LevelTeam || m.Source != SourceRule {
		t.Errorf("level/source = %s/%s, want team/rule", m.Level, m.Source)
	}
	if m.MarkupType != MarkupFixed || m.MarkupPriceUSD != 10 || m.FinalPriceUSD != 110 {
		t.Errorf("markup = %+v, want fixed $10 on $100", m)
	}
}

func TestResolveMarkup_TicketBeatsTeam(t *testing.T) {
	ticket := MarkupRule{ID: 3, Lookup: ticketCtx, MarkupType: MarkupFixed, MarkupAmount: 20, IsActive: true}
	s := &memStore{rules: []MarkupRule{sportRule(), teamRule(), ticket}}
	r := newTestResolver(s, nil)

	m, err := r.ResolveMarkup(context.Background(), ticketCtx, 100)
	if err != nil {
		t.Fatalf("ResolveMarkup() error = %v", err)
	}
	if m == nil || m.Level != LevelTicket || m.MarkupAmount != 20 {
		t.Fatalf("ResolveMarkup() = %+v, want ticket-level $20", m)
	}
}

func TestResolveMarkup_SportPercentage(t *testing.T) {
	s := &memStore{rules: []MarkupRule{sportRule()}}
	r := newTestResolver(s, nil)

	m, err := r.ResolveMarkup(context.Background(), ticketCtx, 123.4)
	if err != nil {
		t.Fatalf("ResolveMarkup() error = %v", err)
	}
	if m == nil || m.Level != LevelSport {
		t.Fatalf("ResolveMarkup() = %+v, want sport rule", m)
	}
	if m.MarkupPriceUSD != 6.17 {
		t.Errorf("MarkupPriceUSD = %v, want 6.17", m.MarkupPriceUSD)
	}
	if m.FinalPriceUSD != 129.57 {
		t.Errorf("FinalPriceUSD = %v, want 129.57", m.FinalPriceUSD)
	}
	if m.MarkupPercentage != 5 {
		t.Errorf("MarkupPercentage = %v, want 5", m.MarkupPercentage)
	}
}

func TestResolveMarkup_InactiveAndMismatchedIgnored(t *testing.T) {
	inactive := MarkupRule{ID: 4, Lookup: ticketCtx, MarkupType: MarkupFixed, MarkupAmount: 99}
	otherTeam := MarkupRule{ID: 5, Lookup: Lookup{SportType: "soccer", TeamID: "Arsenal"}, MarkupType: MarkupFixed, MarkupAmount: 7, IsActive: true}
	otherTournament := MarkupRule{ID: 6, Lookup: Lookup{SportType: "soccer", TournamentID: "UCL", TeamID: "ManUtd"}, MarkupType: MarkupFixed, MarkupAmount: 8, IsActive: true}
	s := &memStore{rules: []MarkupRule{sportRule(), inactive, otherTeam, otherTournament}}
	r := newTestResolver(s, nil)

	m, err := r.ResolveMarkup(context.Background(), ticketCtx, 100)
	if err != nil {
		t.Fatalf("ResolveMarkup() error = %v", err)
	}
	if m == nil || m.Level != LevelSport {
		t.Fatalf("ResolveMarkup() = %+v, want sport fallback", m)
	}
}

func TestResolveMarkup_SameLevelMostRecentWins(t *testing.T) {
	now := time.Now()
	older := teamRule()
	older.UpdatedAt = now.Add(-time.Hour)
	newer := MarkupRule{ID: 9, Lookup: Lookup{SportType: "soccer", TournamentID: "EPL", TeamID: "ManUtd"}, MarkupType: MarkupFixed, MarkupAmount: 15, IsActive: true, UpdatedAt: now}
	s := &memStore{rules: []MarkupRule{older, newer}}
	r := newTestResolver(s, nil)

	lookup := ticketCtx
	lookup.TournamentID = "EPL"
	m, err := r.ResolveMarkup(context.Background(), lookup, 100)
	if err != nil {
		t.Fatalf("ResolveMarkup() error = %v", err)
	}
	if m == nil || m.MarkupAmount != 15 {
		t.Fatalf("ResolveMarkup() = %+v, want most recently updated rule ($15)", m)
	}
}

func TestResolveMarkup_LegacyFallback(t *testing.T) {
	s := &memStore{legacy: []LegacyMarkup{{
		TicketID: "T1", EventID: "E1", MarkupType: MarkupFixed, MarkupAmount: 12.5,
		BasePriceUSD: 50, MarkupPriceUSD: 12.5, FinalPriceUSD: 62.5,
	}}}
	m := metrics.New()
	r := newTestResolver(s, m)

	got, err := r.ResolveMarkup(context.Background(), ticketCtx, 100)
	if err != nil {
		t.Fatalf("ResolveMarkup() error = %v", err)
	}
	if got == nil || got.Level != LevelTicket || got.Source != SourceLegacy {
		t.Fatalf("ResolveMarkup() = %+v, want ticket/legacy", got)
	}
	if got.FinalPriceUSD != 112.5 {
		t.Errorf("FinalPriceUSD = %v, want 112.5", got.FinalPriceUSD)
	}
	if v := testutil.ToFloat64(m.Resolutions.WithLabelValues(kindMarkup, "ticket", "legacy")); v != 1 {
		t.Errorf("resolutions{ticket,legacy} = %v, want 1", v)
	}

	stored, err := r.ResolveMarkup(context.Background(), ticketCtx, 0)
	if err != nil {
		t.Fatalf("ResolveMarkup() error = %v", err)
	}
	if stored.BasePriceUSD != 50 || stored.FinalPriceUSD != 62.5 {
		t.Errorf("without base price got %+v, want stored legacy prices", stored)
	}
}

func TestResolveMarkup_NoMatch(t *testing.T) {
	m := metrics.New()
	r := newTestResolver(&memStore{}, m)

	got, err := r.ResolveMarkup(context.Background(), ticketCtx, 100)
	if err != nil {
		t.Fatalf("ResolveMarkup() error = %v", err)
	}
	if got != nil {
		t.Errorf("ResolveMarkup() = %+v, want nil", got)
	}
	if v := testutil.ToFloat64(m.Resolutions.WithLabelValues(kindMarkup, noMatch, noMatch)); v != 1 {
		t.Errorf("resolutions{none} = %v, want 1", v)
	}
}

func TestResolveMarkup_SkipsAbsentLevels(t *testing.T) {
	s := &memStore{}
	r := newTestResolver(s, nil)

	// sport, team, event and ticket probes plus the legacy read; no tournament.
	if _, err := r.ResolveMarkup(context.Background(), ticketCtx, 100); err != nil {
		t.Fatalf("ResolveMarkup() error = %v", err)
	}
	if s.calls != 5 {
		t.Errorf("store calls = %d, want 5", s.calls)
	}
}

func TestResolveMarkup_StoreError(t *testing.T) {
	boom := errors.New("db down")
	r := newTestResolver(&memStore{err: boom}, nil)

	_, err := r.ResolveMarkup(context.Background(), ticketCtx, 100)
	if !errors.Is(err, boom) {
		t.Errorf("ResolveMarkup() error = %v, want wrapped %v", err, boom)
	}
}

func TestValidationBeforeStoreAccess(t *testing.T) {
	tests := []struct {
		name  string
		field string
		call  func(r *Resolver) error
	}{
		{"markup without sport", "sport_type", func(r *Resolver) error {
			_, err := r.ResolveMarkup(context.Background(), Lookup{TicketID: "T1", EventID: "E1"}, 10)
			return err
		}},
		{"markup without ticket", "ticket_id", func(r *Resolver) error {
			_, err := r.ResolveMarkup(context.Background(), Lookup{SportType: "soccer", EventID: "E1"}, 10)
			return err
		}},
		{"markup negative price", "base_price", func(r *Resolver) error {
			_, err := r.ResolveMarkup(context.Background(), ticketCtx, -1)
			return err
		}},
		{"batch markup without event", "event_id", func(r *Resolver) error {
			_, err := r.ResolveMarkupsForTickets(context.Background(), Lookup{SportType: "soccer"}, []TicketPrice{{TicketID: "T1"}})
			return err
		}},
		{"batch markup empty ticket id", "ticket_id", func(r *Resolver) error {
			_, err := r.ResolveMarkupsForTickets(context.Background(), Lookup{SportType: "soccer", EventID: "E1"}, []TicketPrice{{}})
			return err
		}},
		{"hospitality ticket without sport", "sport_type", func(r *Resolver) error {
			_, err := r.ResolveHospitalitiesForTicket(context.Background(), Lookup{TicketID: "T1"})
			return err
		}},
		{"hospitality ticket without ticket", "ticket_id", func(r *Resolver) error {
			_, err := r.ResolveHospitalitiesForTicket(context.Background(), Lookup{SportType: "soccer", EventID: "E1"})
			return err
		}},
		{"hospitality event without event", "event_id", func(r *Resolver) error {
			_, err := r.ResolveHospitalitiesForEvent(context.Background(), Lookup{SportType: "soccer"})
			return err
		}},
		{"hospitality batch without sport", "sport_type", func(r *Resolver) error {
			_, err := r.ResolveHospitalitiesForTickets(context.Background(), Lookup{EventID: "E1"}, []string{"T1"})
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &memStore{rules: []MarkupRule{sportRule()}}
			err := tt.call(newTestResolver(s, nil))

			if !errors.Is(err, ErrValidation) {
				t.Fatalf("error = %v, want ErrValidation", err)
			}
			var ve *ValidationError
			if errors.As(err, &ve) && ve.Field != tt.field {
				t.Errorf("Field = %q, want %q", ve.Field, tt.field)
			}
			if s.calls != 0 {
				t.Errorf("store calls = %d, want 0", s.calls)
			}
		})
	}
}

func TestResolveMarkupsForTickets(t *testing.T) {
	ticket := MarkupRule{ID: 3, Lookup: Lookup{SportType: "soccer", TeamID: "ManUtd", EventID: "E1", TicketID: "T1"}, MarkupType: MarkupFixed, MarkupAmount: 20, IsActive: true}
	s := &memStore{
		rules:  []MarkupRule{teamRule(), ticket},
		legacy: []LegacyMarkup{{TicketID: "T3", EventID: "E2", MarkupType: MarkupFixed, MarkupAmount: 1}},
	}
	r := newTestResolver(s, nil)

	lookup := Lookup{SportType: "soccer", TeamID: "ManUtd", EventID: "E1"}
	got, err := r.ResolveMarkupsForTickets(context.Background(), lookup, []TicketPrice{
		{TicketID: "T1", BasePriceUSD: 100},
		{TicketID: "T2", BasePriceUSD: 50},
	})
	if err != nil {
		t.Fatalf("ResolveMarkupsForTickets() error = %v", err)
	}
	if got["T1"] == nil || got["T1"].Level != LevelTicket || got["T1"].FinalPriceUSD != 120 {
		t.Errorf("T1 = %+v, want ticket-level $120", got["T1"])
	}
	if got["T2"] == nil || got["T2"].Level != LevelTeam || got["T2"].FinalPriceUSD != 60 {
		t.Errorf("T2 = %+v, want team-level $60", got["T2"])
	}
}

func TestResolveMarkupsForTickets_LegacyAndMissing(t *testing.T) {
	s := &memStore{legacy: []LegacyMarkup{
		{TicketID: "T1", EventID: "E1", MarkupType: MarkupPercentage, MarkupPercentage: 10},
	}}
	r := newTestResolver(s, nil)

	got, err := r.ResolveMarkupsForTickets(context.Background(), Lookup{SportType: "tennis", EventID: "E1"}, []TicketPrice{
		{TicketID: "T1", BasePriceUSD: 200},
		{TicketID: "T2", BasePriceUSD: 200},
	})
	if err != nil {
		t.Fatalf("ResolveMarkupsForTickets() error = %v", err)
	}
	if got["T1"] == nil || got["T1"].Source != SourceLegacy || got["T1"].FinalPriceUSD != 220 {
		t.Errorf("T1 = %+v, want legacy $220", got["T1"])
	}
	if m, ok := got["T2"]; !ok || m != nil {
		t.Errorf("T2 = %+v (present %v), want explicit nil", m, ok)
	}
	// event + sport probes, two ticket probes, one legacy event read.
	if s.calls != 5 {
		t.Errorf("store calls = %d, want 5", s.calls)
	}
}

func TestResolveHospitalitiesForTicket_Union(t *testing.T) {
	s := &memStore{assignments: []HospitalityAssignment{
		{ID: 1, Lookup: Lookup{SportType: "soccer"}, HospitalityID: "A", Name: "Lounge", IsActive: true},
		{ID: 2, Lookup: ticketCtx, HospitalityID: "B", Name: "Dinner", IsActive: true},
		{ID: 3, Lookup: Lookup{SportType: "soccer", EventID: "E9"}, HospitalityID: "C", IsActive: true},
		{ID: 4, Lookup: Lookup{SportType: "soccer", TeamID: "ManUtd"}, HospitalityID: "D", IsActive: false},
	}}
	r := newTestResolver(s, nil)

	got, err := r.ResolveHospitalitiesForTicket(context.Background(), ticketCtx)
	if err != nil {
		t.Fatalf("ResolveHospitalitiesForTicket() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2: %+v", len(got), got)
	}
	if got[0].HospitalityID != "B" || got[0].Level != LevelTicket {
		t.Errorf("got[0] = %+v, want B at ticket level", got[0])
	}
	if got[1].HospitalityID != "A" || got[1].Level != LevelSport || got[1].Source != SourceRule {
		t.Errorf("got[1] = %+v, want A at sport level", got[1])
	}
}

func TestResolveHospitalitiesForEvent(t *testing.T) {
	s := &memStore{assignments: []HospitalityAssignment{
		{ID: 1, Lookup: Lookup{SportType: "soccer"}, HospitalityID: "A", IsActive: true},
		{ID: 2, Lookup: ticketCtx, HospitalityID: "B", IsActive: true},
		{ID: 3, Lookup: Lookup{SportType: "soccer", EventID: "E1"}, HospitalityID: "C", IsActive: true},
	}}
	r := newTestResolver(s, nil)

	got, err := r.ResolveHospitalitiesForEvent(context.Background(), ticketCtx)
	if err != nil {
		t.Fatalf("ResolveHospitalitiesForEvent() error = %v", err)
	}
	if len(got) != 2 || got[0].HospitalityID != "C" || got[1].HospitalityID != "A" {
		t.Errorf("got = %+v, want [C A]", got)
	}

	empty, err := r.ResolveHospitalitiesForEvent(context.Background(), Lookup{SportType: "golf", EventID: "G1"})
	if err != nil {
		t.Fatalf("ResolveHospitalitiesForEvent() error = %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Errorf("got = %#v, want empty non-nil list", empty)
	}
}

func TestResolveHospitalitiesForTickets(t *testing.T) {
	s := &memStore{assignments: []HospitalityAssignment{
		{ID: 1, Lookup: Lookup{SportType: "soccer", EventID: "E1"}, HospitalityID: "A", IsActive: true},
		{ID: 2, Lookup: Lookup{SportType: "soccer", EventID: "E1", TicketID: "T1"}, HospitalityID: "B", IsActive: true},
	}}
	r := newTestResolver(s, nil)

	got, err := r.ResolveHospitalitiesForTickets(context.Background(), Lookup{SportType: "soccer", EventID: "E1"}, []string{"T1", "T2"})
	if err != nil {
		t.Fatalf("ResolveHospitalitiesForTickets() error = %v", err)
	}
	if len(got["T1"]) != 2 || got["T1"][0].HospitalityID != "B" {
		t.Errorf("T1 = %+v, want [B A]", got["T1"])
	}
	if len(got["T2"]) != 1 || got["T2"][0].HospitalityID != "A" {
		t.Errorf("T2 = %+v, want [A]", got["T2"])
	}

	none, err := r.ResolveHospitalitiesForTickets(context.Background(), Lookup{SportType: "golf", EventID: "G1"}, []string{"X"})
	if err != nil {
		t.Fatalf("ResolveHospitalitiesForTickets() error = %v", err)
	}
	if l, ok := none["X"]; !ok || l == nil || len(l) != 0 {
		t.Errorf("X = %#v, want empty list", l)
	}
}

func TestLookupLevel(t *testing.T) {
	tests := []struct {
		key  Lookup
		want Level
	}{
		{Lookup{SportType: "soccer"}, LevelSport},
		{Lookup{SportType: "soccer", TournamentID: "EPL"}, LevelTournament},
		{Lookup{SportType: "soccer", TeamID: "ManUtd"}, LevelTeam},
		{Lookup{SportType: "soccer", TournamentID: "EPL", EventID: "E1"}, LevelEvent},
		{ticketCtx, LevelTicket},
	}
	for _, tt := range tests {
		if got := tt.key.Level(); got != tt.want {
			t.Errorf("%+v.Level() = %s, want %s", tt.key, got, tt.want)
		}
	}
}
