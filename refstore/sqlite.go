package refstore

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"github.com/tailscale/squibble"
	_ "modernc.org/sqlite"
)

//go:embed db/latest_schema.sql
var dbSchema string

var schema = &squibble.Schema{
	Current: dbSchema,
}

// DB stores people in a SQLite database. Name uniqueness is enforced by the
// schema (COLLATE NOCASE) as well as checked before insert.
type DB struct {
	mu sync.Mutex
	db *sql.DB

	filepath string
}

var _ Backing = &DB{}

func OpenSQLite(ctx context.Context, fname string) (*DB, error) {
	// Open the DB but flip on the cleaner timestamps from Go
	sqldb, err := sql.Open("sqlite", fname+"?_time_format=sqlite")
	if err != nil {
		return nil, err
	}
	// A single connection keeps :memory: databases alive and serialises
	// writers.
	sqldb.SetMaxOpenConns(1)
	if err := sqldb.PingContext(ctx); err != nil {
		sqldb.Close()
		return nil, err
	}
	if err := schema.Apply(ctx, sqldb); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrCorrupt, fname, err)
	}

	return &DB{db: sqldb, filepath: fname}, nil
}

func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	return db.db.Close()
}

// Exists is always true, the schema is created on open.
func (db *DB) Exists(ctx context.Context) (bool, error) { return true, nil }

func (db *DB) List(ctx context.Context) ([]Person, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT name, reference_image, facial_description, notes, added_date
		FROM people
		ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var people []Person
	for rows.Next() {
		var p Person
		if err := rows.Scan(&p.Name, &p.ReferenceImage, &p.FacialDescription, &p.Notes, &p.AddedDate); err != nil {
			return nil, err
		}
		people = append(people, p)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	return people, nil
}

func (db *DB) Insert(ctx context.Context, p Person) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	txn, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer txn.Rollback()

	// NOCASE only folds ASCII, so compare in Go as well.
	rows, err := txn.QueryContext(ctx, "SELECT name FROM people")
	if err != nil {
		return err
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return err
		}
		if strings.EqualFold(name, p.Name) {
			rows.Close()
			return fmt.Errorf("%w: %s", ErrAlreadyExists, p.Name)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	_, err = txn.ExecContext(ctx, `
		INSERT INTO people
		(name, reference_image, facial_description, notes, added_date)
		VALUES (?,?,?,?,?)`,
		p.Name, p.ReferenceImage, p.FacialDescription, p.Notes, p.AddedDate)
	if err != nil {
		return err
	}

	return txn.Commit()
}

func (db *DB) Delete(ctx context.Context, name string) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	people, err := db.List(ctx)
	if err != nil {
		return false, err
	}
	i := indexOf(people, name)
	if i < 0 {
		return false, nil
	}

	res, err := db.db.ExecContext(ctx, "DELETE FROM people WHERE name=?", people[i].Name)
	if err != nil {
		return false, err
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return ra > 0, nil
}
