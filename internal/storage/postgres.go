package storage

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// schema holds the single configuration table. One row per key; profile
// separates multiple device identities sharing a database.
const schema = `
CREATE TABLE IF NOT EXISTS ksm_config (
    profile TEXT NOT NULL,
    name TEXT NOT NULL,
    value TEXT NOT NULL,
    PRIMARY KEY (profile, name)
);
`

// PostgresStorage persists configuration rows in PostgreSQL, for fleets
// that keep device credentials in a shared database instead of local
// files. Upserts make Set atomic; the database serializes writers.
type PostgresStorage struct {
	// DB is the database handle for executing queries.
	DB *sql.DB
	// Profile scopes this device's rows within the table.
	Profile string
}

// OpenPostgres connects to PostgreSQL with the given DSN, verifies the
// connection and ensures the configuration schema exists.
func OpenPostgres(dsn, profile string) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return NewPostgresStorage(db, profile), nil
}

// NewPostgresStorage wraps an existing connection. db must point at a
// database where the ksm_config table already exists.
func NewPostgresStorage(db *sql.DB, profile string) *PostgresStorage {
	if profile == "" {
		profile = "default"
	}
	return &PostgresStorage{DB: db, Profile: profile}
}

func (s *PostgresStorage) Get(key Key) (string, bool, error) {
	var value string
	err := s.DB.QueryRow(
		`SELECT value FROM ksm_config WHERE profile = $1 AND name = $2`,
		s.Profile, string(key),
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return value, true, nil
}

func (s *PostgresStorage) Set(key Key, value string) error {
	_, err := s.DB.Exec(
		`INSERT INTO ksm_config (profile, name, value) VALUES ($1, $2, $3)
		 ON CONFLICT (profile, name) DO UPDATE SET value = EXCLUDED.value`,
		s.Profile, string(key), value,
	)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStorage) Delete(key Key) error {
	_, err := s.DB.Exec(
		`DELETE FROM ksm_config WHERE profile = $1 AND name = $2`,
		s.Profile, string(key),
	)
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStorage) Keys() ([]Key, error) {
	rows, err := s.DB.Query(
		`SELECT name FROM ksm_config WHERE profile = $1 ORDER BY name`,
		s.Profile,
	)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	var keys []Key
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, Key(name))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	return keys, nil
}
