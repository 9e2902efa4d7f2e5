// Package store is the transactional row store behind the lock,
// reconciliation and lifecycle services. Every project gets its own
// SQLite database file; SQLite's single-writer model is what serializes
// overlapping reconciliation and lifecycle transactions per project.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/corral-io/corral/internal/store/migrations"
)

// Store opens and caches per-project databases under a data directory.
type Store struct {
	dir string

	mu  sync.Mutex
	dbs map[string]*ProjectDB
}

// Open prepares a store rooted at dir. Project databases are created
// lazily on first access.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return &Store{
		dir: dir,
		dbs: make(map[string]*ProjectDB),
	}, nil
}

// Project returns the database for one project, opening and migrating it
// on first use.
func (s *Store) Project(ctx context.Context, projectID string) (*ProjectDB, error) {
	if projectID == "" {
		return nil, fmt.Errorf("project id is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if db, ok := s.dbs[projectID]; ok {
		return db, nil
	}

	path := s.ProjectPath(projectID)
	db, err := openProjectDB(ctx, projectID, path)
	if err != nil {
		return nil, err
	}
	s.dbs[projectID] = db
	return db, nil
}

// ProjectPath returns the database file path for a project.
func (s *Store) ProjectPath(projectID string) string {
	return filepath.Join(s.dir, projectID+".db")
}

// Close closes every open project database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for id, db := range s.dbs {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.dbs, id)
	}
	return firstErr
}

// ProjectDB is the handle to one project's database.
type ProjectDB struct {
	projectID string
	db        *sql.DB
}

func openProjectDB(ctx context.Context, projectID, path string) (*ProjectDB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open project database %s: %w", path, err)
	}
	// SQLite allows a single writer; more connections just contend.
	db.SetMaxOpenConns(1)

	p := &ProjectDB{projectID: projectID, db: db}
	if err := p.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return p, nil
}

func (p *ProjectDB) ProjectID() string { return p.projectID }

func (p *ProjectDB) Close() error { return p.db.Close() }

func (p *ProjectDB) migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY, applied_at TIMESTAMP NOT NULL)`); err != nil {
		return fmt.Errorf("create migration ledger: %w", err)
	}

	files, err := listMigrationFiles(migrations.Files)
	if err != nil {
		return err
	}
	for _, file := range files {
		var exists bool
		if err := p.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = ?)`, file).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", file, err)
		}
		if exists {
			continue
		}
		if err := p.applyMigration(ctx, file); err != nil {
			return err
		}
	}
	return nil
}

func (p *ProjectDB) applyMigration(ctx context.Context, file string) error {
	sqlBytes, err := migrations.Files.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", file, err)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, string(sqlBytes)); err != nil {
		return fmt.Errorf("apply migration %s: %w", file, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, file, time.Now().UTC()); err != nil {
		return fmt.Errorf("record migration %s: %w", file, err)
	}
	return tx.Commit()
}

func listMigrationFiles(migFS fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(migFS, ".")
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".sql" {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)
	return files, nil
}

// WithTx runs fn inside one transaction. fn returning an error aborts the
// transaction with no partial writes.
func (p *ProjectDB) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	tx := &Tx{tx: sqlTx}
	if err := fn(tx); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Tx exposes the typed queries available inside one transaction.
type Tx struct {
	tx *sql.Tx
}
