package data

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// OpenSQLite opens (creating if needed) a sqlite backed store
func OpenSQLite(path string) (Store, error) {
	if path == "" {
		return nil, errors.New("sqlite store needs a database path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	// a single writer avoids "database is locked" between our own goroutines
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrations failed: %w", err)
	}

	log.Printf("[store] sqlite store at %s", path)
	return &nodeStore{b: &sqliteNodes{db: db}}, nil
}

func runMigrations(db *sql.DB) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return err
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

type sqliteNodes struct {
	db *sql.DB
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func (s *sqliteNodes) lookup(ctx context.Context, paths []string) (map[string]string, error) {
	out := make(map[string]string)
	if len(paths) == 0 {
		return out, nil
	}
	args := make([]interface{}, len(paths))
	for i, p := range paths {
		args[i] = p
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, value FROM nodes WHERE path IN (`+placeholders(len(paths))+`)`, args...)
	if err != nil {
		return nil, err
	}
	return scanNodes(rows, out)
}

func (s *sqliteNodes) descendants(ctx context.Context, prefix string) (map[string]string, error) {
	out := make(map[string]string)
	var (
		rows *sql.Rows
		err  error
	)
	if prefix == "" {
		rows, err = s.db.QueryContext(ctx, `SELECT path, value FROM nodes`)
	} else {
		// '0' sorts right after '/', so this range is exactly prefix/...
		rows, err = s.db.QueryContext(ctx,
			`SELECT path, value FROM nodes WHERE path >= ? AND path < ?`, prefix+"/", prefix+"0")
	}
	if err != nil {
		return nil, err
	}
	return scanNodes(rows, out)
}

func scanNodes(rows *sql.Rows, out map[string]string) (map[string]string, error) {
	defer rows.Close()
	for rows.Next() {
		var path, value string
		if err := rows.Scan(&path, &value); err != nil {
			return nil, err
		}
		out[path] = value
	}
	return out, rows.Err()
}

func (s *sqliteNodes) put(ctx context.Context, path, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO nodes (path, value, updated_at) VALUES (?, ?, ?)`,
		path, value, time.Now().Unix())
	return err
}

func (s *sqliteNodes) putIfAbsent(ctx context.Context, path, value string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO nodes (path, value, updated_at) VALUES (?, ?, ?)`,
		path, value, time.Now().Unix())
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *sqliteNodes) remove(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	args := make([]interface{}, len(paths))
	for i, p := range paths {
		args[i] = p
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM nodes WHERE path IN (`+placeholders(len(paths))+`)`, args...)
	return err
}

func (s *sqliteNodes) close() error {
	return s.db.Close()
}
