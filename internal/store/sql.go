package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/blacktop/xpub/internal/xpub"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schema string

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// SQL stores credentials in SQLite or PostgreSQL.
type SQL struct {
	db     *sql.DB
	driver string
}

// Open connects to the database and applies the schema.
// For SQLite the DSN can be ":memory:" for an in-memory database.
func Open(driver, dsn string) (*SQL, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == DriverSQLite {
		// one connection keeps ":memory:" databases alive and serializes writers
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &SQL{db: db, driver: driver}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database connection.
func (s *SQL) Close() error {
	return s.db.Close()
}

func (s *SQL) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// rebind rewrites ? placeholders for drivers that use numbered ones.
func (s *SQL) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// FindRegistration returns the registration for platformID or nil if there is none.
func (s *SQL) FindRegistration(ctx context.Context, platformID string) (*xpub.PlatformRegistration, error) {
	query := s.rebind(`SELECT platform_id, client_id, client_secret FROM registrations WHERE platform_id = ?`)

	var reg xpub.PlatformRegistration
	err := s.db.QueryRowContext(ctx, query, platformID).Scan(&reg.PlatformID, &reg.ClientID, &reg.ClientSecret)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query registration: %w", err)
	}
	return &reg, nil
}

// SaveRegistration inserts reg. An existing registration for the same platform is kept.
func (s *SQL) SaveRegistration(ctx context.Context, reg xpub.PlatformRegistration) error {
	query := s.rebind(`
		INSERT INTO registrations (platform_id, client_id, client_secret, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (platform_id) DO NOTHING
	`)
	if _, err := s.db.ExecContext(ctx, query, reg.PlatformID, reg.ClientID, reg.ClientSecret, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to insert registration: %w", err)
	}
	return nil
}

// FindAuthorization returns the user authorization for platformID or nil if there is none.
func (s *SQL) FindAuthorization(ctx context.Context, platformID string) (*xpub.UserAuthorization, error) {
	query := s.rebind(`
		SELECT platform_id, access_token, access_token_secret, subject, obtained_at
		FROM authorizations
		WHERE platform_id = ?
	`)

	var auth xpub.UserAuthorization
	err := s.db.QueryRowContext(ctx, query, platformID).Scan(
		&auth.PlatformID, &auth.AccessToken, &auth.AccessTokenSecret, &auth.Subject, &auth.ObtainedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query authorization: %w", err)
	}
	return &auth, nil
}

// SaveAuthorization inserts auth, replacing a previous authorization for the platform.
func (s *SQL) SaveAuthorization(ctx context.Context, auth xpub.UserAuthorization) error {
	query := s.rebind(`
		INSERT INTO authorizations (platform_id, access_token, access_token_secret, subject, obtained_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (platform_id) DO UPDATE SET
			access_token = excluded.access_token,
			access_token_secret = excluded.access_token_secret,
			subject = excluded.subject,
			obtained_at = excluded.obtained_at
	`)
	_, err := s.db.ExecContext(ctx, query,
		auth.PlatformID, auth.AccessToken, auth.AccessTokenSecret, auth.Subject, auth.ObtainedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert authorization: %w", err)
	}
	return nil
}
