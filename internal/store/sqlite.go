package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite"
)

const (
	KeyTheme               = "theme"
	KeyDemoBannerDismissed = "demo_banner_dismissed"

	ThemeLight = "light"
	ThemeDark  = "dark"
)

// ErrInvalidPreference is returned for a value a preference key does not accept.
var ErrInvalidPreference = errors.New("invalid preference")

type Store struct {
	db *sql.DB
}

// Preferences are the few per-installation display settings that survive a restart.
type Preferences struct {
	Theme               string `json:"theme"`
	DemoBannerDismissed bool   `json:"demo_banner_dismissed"`
	UpdatedAt           string `json:"updated_at,omitempty"`
}

func DefaultPreferences() Preferences {
	return Preferences{Theme: ThemeLight}
}

func Open(path string) (*Store, error) {
	if path == "" {
		path = "data/app.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=3000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pragma busy_timeout: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS preferences (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TEXT
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// GetPreference returns the stored value and whether the key exists.
func (s *Store) GetPreference(key string) (string, bool, error) {
	if s == nil || s.db == nil {
		return "", false, fmt.Errorf("store not initialized")
	}
	var value string
	err := s.db.QueryRow(`SELECT value FROM preferences WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get preference %s: %w", key, err)
	}
	return value, true, nil
}

func (s *Store) UpsertPreference(key, value string) error {
	if s == nil || s.db == nil {
		return nil
	}
	_, err := s.db.Exec(
		`INSERT INTO preferences (key, value, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		key, value, time.Now().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upsert preference %s: %w", key, err)
	}
	return nil
}

// LoadPreferences fills unset keys from DefaultPreferences.
func (s *Store) LoadPreferences() (Preferences, error) {
	if s == nil || s.db == nil {
		return Preferences{}, fmt.Errorf("store not initialized")
	}
	prefs := DefaultPreferences()
	rows, err := s.db.Query(`SELECT key, value, updated_at FROM preferences`)
	if err != nil {
		return Preferences{}, fmt.Errorf("query preferences: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		var updatedAt sql.NullString
		if err := rows.Scan(&key, &value, &updatedAt); err != nil {
			return Preferences{}, fmt.Errorf("scan preference: %w", err)
		}
		switch key {
		case KeyTheme:
			if validTheme(value) {
				prefs.Theme = value
			}
		case KeyDemoBannerDismissed:
			prefs.DemoBannerDismissed, _ = strconv.ParseBool(value)
		default:
			continue
		}
		if updatedAt.Valid && updatedAt.String > prefs.UpdatedAt {
			prefs.UpdatedAt = updatedAt.String
		}
	}
	if err := rows.Err(); err != nil {
		return Preferences{}, fmt.Errorf("rows preferences: %w", err)
	}
	return prefs, nil
}

// SaveTheme stores theme, which must be light or dark.
func (s *Store) SaveTheme(theme string) error {
	if !validTheme(theme) {
		return fmt.Errorf("%w: theme %q", ErrInvalidPreference, theme)
	}
	return s.UpsertPreference(KeyTheme, theme)
}

func (s *Store) SaveDemoBannerDismissed(dismissed bool) error {
	return s.UpsertPreference(KeyDemoBannerDismissed, strconv.FormatBool(dismissed))
}

func validTheme(theme string) bool {
	return theme == ThemeLight || theme == ThemeDark
}
