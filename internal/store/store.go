// Package store persists markup rules, hospitality assignments and legacy
// markups in SQL. SQLite is the default driver; PostgreSQL is selected with
// driver = "postgres".
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"xs2event-gateway/internal/config"
	"xs2event-gateway/internal/pricing"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

var (
	// ErrNotFound is returned when an addressed row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write would create a second active
	// row for the same key.
	ErrConflict = errors.New("an active row already exists for this key")
)

var (
	_ pricing.MarkupRuleStore   = (*Store)(nil)
	_ pricing.HospitalityStore  = (*Store)(nil)
	_ pricing.LegacyMarkupStore = (*Store)(nil)
)

// Store is the SQL-backed rule store.
type Store struct {
	db     *sql.DB
	driver string
	logger *slog.Logger
	now    func() time.Time
}

// New opens the store configured in cfg.Rules and applies the schema.
func New(cfg *config.Config, logger *slog.Logger) (*Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return Open(ctx, cfg.Rules.Driver, cfg.Rules.DSN, logger)
}

// Open connects with the given driver and DSN and applies the schema.
func Open(ctx context.Context, driver, dsn string, logger *slog.Logger) (*Store, error) {
	if driver == "" {
		driver = DriverSQLite
	}
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported rules driver %q", driver)
	}
	if dsn == "" {
		return nil, fmt.Errorf("%s DSN is required", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// SQLite allows a single writer.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	s := &Store{
		db:     db,
		driver: driver,
		logger: logger.With("component", "rule_store"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	s.logger.Info("rule store ready", "driver", driver)
	return s, nil
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Driver returns the configured driver name.
func (s *Store) Driver() string {
	return s.driver
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS markup_rules (
	id {{id}},
	level VARCHAR(16) NOT NULL,
	sport_type VARCHAR(100) NOT NULL,
	tournament_id VARCHAR(100) NOT NULL DEFAULT '',
	team_id VARCHAR(100) NOT NULL DEFAULT '',
	event_id VARCHAR(100) NOT NULL DEFAULT '',
	ticket_id VARCHAR(100) NOT NULL DEFAULT '',
	markup_type VARCHAR(16) NOT NULL,
	markup_amount {{float}} NOT NULL DEFAULT 0,
	markup_percentage {{float}} NOT NULL DEFAULT 0,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at {{time}} NOT NULL,
	updated_at {{time}} NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS ux_markup_rules_active_key
	ON markup_rules(sport_type, tournament_id, team_id, event_id, ticket_id) WHERE is_active;
CREATE INDEX IF NOT EXISTS idx_markup_rules_level ON markup_rules(level, sport_type);

CREATE TABLE IF NOT EXISTS hospitality_assignments (
	id {{id}},
	level VARCHAR(16) NOT NULL,
	sport_type VARCHAR(100) NOT NULL,
	tournament_id VARCHAR(100) NOT NULL DEFAULT '',
	team_id VARCHAR(100) NOT NULL DEFAULT '',
	event_id VARCHAR(100) NOT NULL DEFAULT '',
	ticket_id VARCHAR(100) NOT NULL DEFAULT '',
	hospitality_id VARCHAR(100) NOT NULL,
	name VARCHAR(255) NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	price_usd {{float}} NOT NULL DEFAULT 0,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at {{time}} NOT NULL,
	updated_at {{time}} NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS ux_hospitality_active_key
	ON hospitality_assignments(sport_type, tournament_id, team_id, event_id, ticket_id, hospitality_id) WHERE is_active;
CREATE INDEX IF NOT EXISTS idx_hospitality_level ON hospitality_assignments(level, sport_type);

CREATE TABLE IF NOT EXISTS legacy_markups (
	ticket_id VARCHAR(100) PRIMARY KEY,
	event_id VARCHAR(100) NOT NULL,
	markup_type VARCHAR(16) NOT NULL,
	markup_amount {{float}} NOT NULL DEFAULT 0,
	markup_percentage {{float}} NOT NULL DEFAULT 0,
	base_price_usd {{float}} NOT NULL DEFAULT 0,
	markup_price_usd {{float}} NOT NULL DEFAULT 0,
	final_price_usd {{float}} NOT NULL DEFAULT 0,
	updated_at {{time}} NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_legacy_markups_event ON legacy_markups(event_id);
`

func (s *Store) migrate(ctx context.Context) error {
	var r *strings.Replacer
	switch s.driver {
	case DriverPostgres:
		r = strings.NewReplacer("{{id}}", "BIGSERIAL PRIMARY KEY", "{{float}}", "DOUBLE PRECISION", "{{time}}", "TIMESTAMPTZ")
	default:
		r = strings.NewReplacer("{{id}}", "INTEGER PRIMARY KEY AUTOINCREMENT", "{{float}}", "REAL", "{{time}}", "TIMESTAMP")
	}
	_, err := s.db.ExecContext(ctx, r.Replace(schema))
	return err
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// mapWriteError translates unique violations into ErrConflict.
func mapWriteError(err error) error {
	if err == nil {
		return nil
	}
	var se sqlite3.Error
	if errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique {
		return fmt.Errorf("%w: %w", ErrConflict, err)
	}
	var pe *pq.Error
	if errors.As(err, &pe) && pe.Code == "23505" {
		return fmt.Errorf("%w: %w", ErrConflict, err)
	}
	return err
}

// keyArgs returns the hierarchy columns in table order.
func keyArgs(k pricing.Lookup) []any {
	return []any{k.SportType, k.TournamentID, k.TeamID, k.EventID, k.TicketID}
}

// matchClause matches rows stored at one level whose populated identifiers
// all equal the lookup's. Placeholders start at $1 with the level.
const matchClause = `is_active AND level = $1 AND sport_type = $2
	AND (tournament_id = '' OR tournament_id = $3)
	AND (team_id = '' OR team_id = $4)
	AND (event_id = '' OR event_id = $5)
	AND (ticket_id = '' OR ticket_id = $6)`

func matchArgs(level pricing.Level, lookup pricing.Lookup) []any {
	return append([]any{string(level)}, keyArgs(lookup)...)
}
