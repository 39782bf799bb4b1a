// Package sqlitestore persists games, cards and profiles in a SQLite database.
package sqlitestore

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/straub/table/internal/domain"
	"github.com/straub/table/internal/ports"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

//go:embed schema.sql
var schema string

// Store persists table state in SQLite. Games and cards are stored as JSON documents.
type Store struct {
	sqlDB *sql.DB
}

// Open opens a SQLite store at path and creates the schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) LoadGame(ctx context.Context, id string) (*domain.Game, error) {
	var doc string
	err := s.sqlDB.QueryRowContext(ctx, `SELECT doc FROM games WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ports.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load game %s: %w", id, err)
	}
	var g domain.Game
	if err := json.Unmarshal([]byte(doc), &g); err != nil {
		return nil, fmt.Errorf("decode game %s: %w", id, err)
	}
	return &g, nil
}

// SaveGame upserts the document and indexes its players in the same transaction.
func (s *Store) SaveGame(ctx context.Context, game *domain.Game) error {
	doc, err := json.Marshal(game)
	if err != nil {
		return fmt.Errorf("encode game %s: %w", game.ID, err)
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save game %s: %w", game.ID, err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO games (id, doc, version, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET doc = excluded.doc, version = excluded.version, updated_at = excluded.updated_at`,
		game.ID, string(doc), game.Version, time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save game %s: %w", game.ID, err)
	}
	for _, p := range game.Players {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO game_players (game_id, username) VALUES (?, ?)`,
			game.ID, domain.NormalizeUsername(p.Username),
		); err != nil {
			return fmt.Errorf("index game %s player %s: %w", game.ID, p.Username, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit game %s: %w", game.ID, err)
	}
	return nil
}

func (s *Store) ListGames(ctx context.Context, player string) ([]domain.GameSummary, error) {
	query, args := `SELECT doc FROM games`, []any{}
	if player != "" {
		query = `SELECT g.doc FROM games g JOIN game_players p ON p.game_id = g.id WHERE p.username = ?`
		args = append(args, domain.NormalizeUsername(player))
	}
	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list games: %w", err)
	}
	defer rows.Close()

	var out []domain.GameSummary
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan game: %w", err)
		}
		var g domain.Game
		if err := json.Unmarshal([]byte(doc), &g); err != nil {
			return nil, fmt.Errorf("decode game: %w", err)
		}
		out = append(out, g.Summary())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list games: %w", err)
	}
	domain.SortSummaries(out)
	return out, nil
}

func (s *Store) LoadCard(ctx context.Context, id string) (*domain.Card, error) {
	var doc string
	err := s.sqlDB.QueryRowContext(ctx, `SELECT doc FROM cards WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ports.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load card %s: %w", id, err)
	}
	var c domain.Card
	if err := json.Unmarshal([]byte(doc), &c); err != nil {
		return nil, fmt.Errorf("decode card %s: %w", id, err)
	}
	return &c, nil
}

func (s *Store) SaveCard(ctx context.Context, card *domain.Card) error {
	doc, err := json.Marshal(card)
	if err != nil {
		return fmt.Errorf("encode card %s: %w", card.ID, err)
	}
	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO cards (id, game_id, doc) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET game_id = excluded.game_id, doc = excluded.doc`,
		card.ID, card.GameID, string(doc),
	)
	if err != nil {
		return fmt.Errorf("save card %s: %w", card.ID, err)
	}
	return nil
}

func (s *Store) FindProfilesByUsername(ctx context.Context, usernames []string) ([]domain.Profile, error) {
	out := make([]domain.Profile, 0, len(usernames))
	for _, name := range usernames {
		row := s.sqlDB.QueryRowContext(ctx,
			`SELECT id, username, first_name, created_at FROM profiles WHERE username = ?`,
			domain.NormalizeUsername(name),
		)
		p, err := scanProfile(row)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("find profile %q: %w", name, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *Store) SearchProfiles(ctx context.Context, prefix string, limit int) ([]domain.Profile, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, username, first_name, created_at FROM profiles
		 WHERE substr(username, 1, ?) = ? ORDER BY username LIMIT ?`,
		len(domain.NormalizeUsername(prefix)), domain.NormalizeUsername(prefix), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search profiles: %w", err)
	}
	defer rows.Close()

	var out []domain.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) CreateProfile(ctx context.Context, profile domain.Profile) error {
	createdAt := profile.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO profiles (id, username, first_name, created_at) VALUES (?, ?, ?, ?)`,
		profile.ID, domain.NormalizeUsername(profile.Username), profile.FirstName, createdAt.UnixMilli(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ports.ErrAlreadyExists
		}
		return fmt.Errorf("create profile: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProfile(row scanner) (domain.Profile, error) {
	var (
		p         domain.Profile
		createdAt int64
	)
	if err := row.Scan(&p.ID, &p.Username, &p.FirstName, &createdAt); err != nil {
		return domain.Profile{}, err
	}
	p.CreatedAt = time.UnixMilli(createdAt).UTC()
	return p, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

var _ ports.Store = (*Store)(nil)
