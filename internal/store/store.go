// Package store is the boundary to the embedded relational engine. Each
// collection is a table of JSON documents; indexes on field paths are
// expression indexes over json_extract.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/matthewbaird/docagg/internal/document"
)

// ErrNotFound is returned for operations on a collection that does not exist.
var ErrNotFound = errors.New("collection not found")

// ErrInvalid is returned for malformed collection names and index paths.
var ErrInvalid = errors.New("invalid argument")

// DataColumn holds the JSON text of each document.
const DataColumn = "data"

// Store executes statements against an SQLite database through ent's SQL
// driver.
type Store struct {
	drv    *entsql.Driver
	logger *slog.Logger
}

// Open opens the database at dsn. The pool is limited to one connection so
// that in-memory databases are shared by every caller.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return New(db, logger), nil
}

// New wraps an open database handle.
func New(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		drv:    entsql.OpenDB(dialect.SQLite, db),
		logger: logger.With("component", "store"),
	}
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.drv.Close() }

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB { return s.drv.DB() }

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error { return s.drv.DB().PingContext(ctx) }

func builder() *entsql.DialectBuilder { return entsql.Dialect(dialect.SQLite) }

// CheckName validates a collection name.
func CheckName(name string) error {
	if !plainLabel.MatchString(name) || strings.HasPrefix(strings.ToLower(name), "sqlite_") {
		return fmt.Errorf("%w: collection name %q", ErrInvalid, name)
	}
	return nil
}

// CreateCollection creates the table for a collection if it does not exist.
func (s *Store) CreateCollection(ctx context.Context, name string) error {
	if err := CheckName(name); err != nil {
		return err
	}
	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (id TEXT PRIMARY KEY, %s TEXT NOT NULL)",
		QuoteIdent(name), DataColumn)
	if err := s.drv.Exec(ctx, ddl, []any{}, nil); err != nil {
		return fmt.Errorf("creating collection %s: %w", name, err)
	}
	return nil
}

// CollectionExists reports whether the collection's table exists.
func (s *Store) CollectionExists(ctx context.Context, name string) (bool, error) {
	query, args := builder().Select("name").From(entsql.Table("sqlite_master")).
		Where(entsql.And(entsql.EQ("type", "table"), entsql.EQ("name", name))).Query()
	var rows entsql.Rows
	if err := s.drv.Query(ctx, query, args, &rows); err != nil {
		return false, fmt.Errorf("reading schema: %w", err)
	}
	defer rows.Close()
	found := rows.Next()
	return found, rows.Err()
}

// Collections lists collection names in alphabetical order.
func (s *Store) Collections(ctx context.Context) ([]string, error) {
	query, args := builder().Select("name").From(entsql.Table("sqlite_master")).
		Where(entsql.And(entsql.EQ("type", "table"), entsql.Not(entsql.HasPrefix("name", "sqlite_")))).
		OrderBy("name").Query()
	var rows entsql.Rows
	if err := s.drv.Query(ctx, query, args, &rows); err != nil {
		return nil, fmt.Errorf("reading schema: %w", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// Insert stores documents in a collection, creating it when needed.
// Documents without an _id get a random UUID. The stored documents are
// returned in input order.
func (s *Store) Insert(ctx context.Context, collection string, docs ...*document.Document) ([]*document.Document, error) {
	if err := s.CreateCollection(ctx, collection); err != nil {
		return nil, err
	}
	tx, err := s.drv.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning insert: %w", err)
	}
	out := make([]*document.Document, 0, len(docs))
	for _, d := range docs {
		if !d.Has(document.IDField) {
			d = document.New(append([]document.Field{{Key: document.IDField, Value: uuid.NewString()}}, d.Fields()...)...)
		}
		data, err := document.Marshal(d)
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		query, args := builder().Insert(collection).Columns("id", DataColumn).
			Values(idKey(d.ID()), string(data)).Query()
		if err := tx.Exec(ctx, query, args, nil); err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("inserting into %s: %w", collection, err)
		}
		out = append(out, d)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing insert: %w", err)
	}
	s.logger.Debug("inserted documents", "collection", collection, "count", len(out))
	return out, nil
}

// idKey is the primary-key text of an _id value: strings as is, anything
// else as its JSON encoding.
func idKey(id any) string {
	if s, ok := id.(string); ok {
		return s
	}
	b, err := document.MarshalValue(id)
	if err != nil {
		return fmt.Sprint(id)
	}
	return "json:" + string(b)
}

// IndexName returns the name of the index on path. Collection names never
// contain a dot, so distinct (collection, path) pairs get distinct names.
func IndexName(collection string, path document.FieldPath) string {
	return "idx_" + collection + "." + string(path)
}

// CreateIndex creates an expression index on a field path and returns its
// name.
func (s *Store) CreateIndex(ctx context.Context, collection string, path document.FieldPath) (string, error) {
	ok, err := s.CollectionExists(ctx, collection)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, collection)
	}
	jp, valid := JSONPath(path)
	if !path.Valid() || !valid {
		return "", fmt.Errorf("%w: index path %q", ErrInvalid, path)
	}
	name := IndexName(collection, path)
	ddl := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (json_extract(%s, %s))",
		QuoteIdent(name), QuoteIdent(collection), DataColumn, quoteLiteral(jp))
	if err := s.drv.Exec(ctx, ddl, []any{}, nil); err != nil {
		return "", fmt.Errorf("creating index on %s.%s: %w", collection, path, err)
	}
	s.logger.Info("created index", "collection", collection, "path", string(path), "index", name)
	return name, nil
}

// IndexDef is one index definition as recorded in the schema.
type IndexDef struct {
	Name string
	SQL  string // empty for automatic indexes
}

// IndexDefinitions returns the index definitions of a collection.
func (s *Store) IndexDefinitions(ctx context.Context, collection string) ([]IndexDef, error) {
	ok, err := s.CollectionExists(ctx, collection)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, collection)
	}
	query, args := builder().Select("name", "sql").From(entsql.Table("sqlite_master")).
		Where(entsql.And(entsql.EQ("type", "index"), entsql.EQ("tbl_name", collection))).
		OrderBy("name").Query()
	var rows entsql.Rows
	if err := s.drv.Query(ctx, query, args, &rows); err != nil {
		return nil, fmt.Errorf("reading indexes of %s: %w", collection, err)
	}
	defer rows.Close()
	var defs []IndexDef
	for rows.Next() {
		var (
			name string
			ddl  sql.NullString
		)
		if err := rows.Scan(&name, &ddl); err != nil {
			return nil, err
		}
		defs = append(defs, IndexDef{Name: name, SQL: ddl.String})
	}
	return defs, rows.Err()
}

// Load materializes every document of a collection in natural order.
func (s *Store) Load(ctx context.Context, collection string) ([]*document.Document, error) {
	ok, err := s.CollectionExists(ctx, collection)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, collection)
	}
	return s.Query(ctx, fmt.Sprintf("SELECT %s FROM %s ORDER BY rowid", DataColumn, QuoteIdent(collection)), nil)
}

// Query runs a statement whose single result column is document JSON and
// decodes each row.
func (s *Store) Query(ctx context.Context, query string, args []any) ([]*document.Document, error) {
	if args == nil {
		args = []any{}
	}
	var rows entsql.Rows
	if err := s.drv.Query(ctx, query, args, &rows); err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*document.Document
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		d, err := document.Unmarshal([]byte(data))
		if err != nil {
			return nil, fmt.Errorf("decoding row %d: %w", len(out), err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
