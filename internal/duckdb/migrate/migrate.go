// Package migrate applies the embedded DuckDB schema for samples and
// diagnostics.
package migrate

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"path"
	"sort"
	"strconv"
	"strings"
)

//go:embed migrations/*.sql
var embedded embed.FS

// ErrChecksumMismatch is returned when an already applied migration file was edited.
var ErrChecksumMismatch = errors.New("migrate: applied migration was modified")

// ErrDuplicateVersion is returned when two migration files share a version.
var ErrDuplicateVersion = errors.New("migrate: duplicate migration version")

// Migration is one versioned schema file, named <version>_<name>.sql.
type Migration struct {
	Version  int
	Name     string
	SQL      string
	Checksum string
}

// Status describes how far a database is behind the embedded schema.
type Status struct {
	Current int
	Pending []string
}

// Runner applies migrations in version order, each in its own transaction,
// and records the checksum of what it ran.
type Runner struct {
	db   *sql.DB
	fsys fs.FS
}

// NewRunner creates a runner for the embedded schema.
func NewRunner(db *sql.DB) *Runner {
	return &Runner{db: db, fsys: embedded}
}

// Load reads and orders the migrations of fsys. Files live in "migrations/".
func Load(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, "migrations")
	if err != nil {
		return nil, fmt.Errorf("reading migrations: %w", err)
	}

	var migs []Migration
	seen := make(map[int]string)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		prefix, _, ok := strings.Cut(e.Name(), "_")
		if !ok {
			continue
		}
		ver, err := strconv.Atoi(prefix)
		if err != nil {
			return nil, fmt.Errorf("parsing version from %s: %w", e.Name(), err)
		}
		if prev, dup := seen[ver]; dup {
			return nil, fmt.Errorf("%w: %s and %s", ErrDuplicateVersion, prev, e.Name())
		}
		seen[ver] = e.Name()

		data, err := fs.ReadFile(fsys, path.Join("migrations", e.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", e.Name(), err)
		}
		sum := sha256.Sum256(data)
		migs = append(migs, Migration{
			Version:  ver,
			Name:     e.Name(),
			SQL:      string(data),
			Checksum: hex.EncodeToString(sum[:]),
		})
	}

	sort.Slice(migs, func(i, j int) bool { return migs[i].Version < migs[j].Version })
	return migs, nil
}

func (r *Runner) bootstrap(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		name       VARCHAR NOT NULL,
		checksum   VARCHAR NOT NULL,
		applied_at TIMESTAMP DEFAULT current_timestamp
	)`)
	return err
}

// applied maps each recorded version to its checksum.
func (r *Runner) applied(ctx context.Context) (map[int]string, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT version, checksum FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int]string)
	for rows.Next() {
		var (
			version  int
			checksum string
		)
		if err := rows.Scan(&version, &checksum); err != nil {
			return nil, err
		}
		out[version] = checksum
	}
	return out, rows.Err()
}

// Run applies every pending migration. A recorded migration whose file
// changed since it was applied stops the run with ErrChecksumMismatch.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap schema_migrations: %w", err)
	}
	migs, err := Load(r.fsys)
	if err != nil {
		return err
	}
	done, err := r.applied(ctx)
	if err != nil {
		return fmt.Errorf("reading applied migrations: %w", err)
	}

	for _, m := range migs {
		if sum, ok := done[m.Version]; ok {
			if sum != m.Checksum {
				return fmt.Errorf("%w: %s", ErrChecksumMismatch, m.Name)
			}
			continue
		}
		if err := r.apply(ctx, m); err != nil {
			return err
		}
		log.Printf("duckdb: applied migration %s", m.Name)
	}
	return nil
}

func (r *Runner) apply(ctx context.Context, m Migration) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx for %s: %w", m.Name, err)
	}
	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("executing %s: %w", m.Name, err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, name, checksum) VALUES (?, ?, ?)",
		m.Version, m.Name, m.Checksum); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("recording %s: %w", m.Name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", m.Name, err)
	}
	return nil
}

// Status reports the highest applied version and the files still to run.
func (r *Runner) Status(ctx context.Context) (Status, error) {
	if err := r.bootstrap(ctx); err != nil {
		return Status{}, fmt.Errorf("bootstrap schema_migrations: %w", err)
	}
	migs, err := Load(r.fsys)
	if err != nil {
		return Status{}, err
	}
	done, err := r.applied(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("reading applied migrations: %w", err)
	}

	var st Status
	for _, m := range migs {
		if _, ok := done[m.Version]; ok {
			if m.Version > st.Current {
				st.Current = m.Version
			}
			continue
		}
		st.Pending = append(st.Pending, m.Name)
	}
	return st, nil
}
