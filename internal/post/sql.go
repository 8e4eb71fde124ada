package post

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"  // PostgreSQL driver
	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)

	"github.com/onnwee/bentofeed/internal/tracing"
	"github.com/onnwee/bentofeed/migrations"
)

// Dialect selects the SQL flavor used by SQLRepository.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// ErrUnsupportedDialect is returned for unknown database drivers.
var ErrUnsupportedDialect = errors.New("unsupported database dialect")

// ParseDialect validates a configured driver name.
func ParseDialect(s string) (Dialect, error) {
	switch Dialect(strings.ToLower(strings.TrimSpace(s))) {
	case DialectPostgres, "postgresql":
		return DialectPostgres, nil
	case DialectSQLite, "sqlite3":
		return DialectSQLite, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedDialect, s)
}

const postsTable = "bento_posts"

const selectColumns = `id, published_at_ms, view_count, content_type, is_featured, declared_size, bento_order, updated_at_ms`

// OpenDB opens and pings a database for the given dialect.
// SQLite connections get WAL journaling and a busy timeout.
func OpenDB(ctx context.Context, dialect Dialect, dsn string) (*sql.DB, error) {
	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dialect == DialectSQLite {
		for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=10000"} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				db.Close()
				return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
			}
		}
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// SQLRepository implements Repository on database/sql for PostgreSQL and SQLite.
// Every write runs in a single transaction that also bumps the catalog version.
type SQLRepository struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// NewSQLRepository creates a repository over an open database.
func NewSQLRepository(db *sql.DB, dialect Dialect) *SQLRepository {
	return &SQLRepository{
		db:      db,
		dialect: dialect,
		now:     time.Now,
	}
}

// DB exposes the underlying handle for health checks.
func (r *SQLRepository) DB() *sql.DB {
	return r.db
}

// Migrate applies the embedded schema. Statements are idempotent.
func (r *SQLRepository) Migrate(ctx context.Context) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, string(r.dialect), postsTable, tracing.DBOperationExec)
	defer func() { endSpan(err) }()

	ups, err := migrations.Up()
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	for _, up := range ups {
		for _, stmt := range migrations.Statements(up) {
			if _, err := r.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to apply migration: %w", err)
			}
		}
	}
	return nil
}

// rebind converts '?' placeholders to the dialect's positional form.
func (r *SQLRepository) rebind(query string) string {
	if r.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (Post, error) {
	var (
		p           Post
		publishedMs sql.NullInt64
		contentType string
		size        sql.NullString
		order       sql.NullInt64
		updatedMs   int64
	)
	if err := row.Scan(&p.ID, &publishedMs, &p.ViewCount, &contentType, &p.IsFeatured, &size, &order, &updatedMs); err != nil {
		return Post{}, err
	}
	p.ContentType = ContentType(contentType)
	if publishedMs.Valid {
		t := time.UnixMilli(publishedMs.Int64).UTC()
		p.PublishedAt = &t
	}
	if size.Valid {
		s := SizeClass(size.String)
		p.DeclaredSize = &s
	}
	if order.Valid {
		o := int(order.Int64)
		p.BentoOrder = &o
	}
	p.UpdatedAt = time.UnixMilli(updatedMs).UTC()
	return p, nil
}

// List returns every post ordered by ID.
func (r *SQLRepository) List(ctx context.Context) (posts []Post, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, string(r.dialect), postsTable, tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	rows, err := r.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM bento_posts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate posts: %w", err)
	}
	return posts, nil
}

// Version returns the catalog version counter.
func (r *SQLRepository) Version(ctx context.Context) (version int64, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, string(r.dialect), "bento_catalog_version", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	err = r.db.QueryRowContext(ctx, `SELECT version FROM bento_catalog_version WHERE id = 1`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read catalog version: %w", err)
	}
	return version, nil
}

// Get retrieves one post by ID.
func (r *SQLRepository) Get(ctx context.Context, id string) (p *Post, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, string(r.dialect), postsTable, tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	row := r.db.QueryRowContext(ctx, r.rebind(`SELECT `+selectColumns+` FROM bento_posts WHERE id = ?`), id)
	got, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPostNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get post: %w", err)
	}
	return &got, nil
}

// withTx runs fn in a transaction and bumps the catalog version before commit.
func (r *SQLRepository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE bento_catalog_version SET version = version + 1 WHERE id = 1`); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to bump catalog version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Upsert inserts a post or replaces its editorial fields, keeping overrides.
func (r *SQLRepository) Upsert(ctx context.Context, p Post) (err error) {
	if err := p.Validate(); err != nil {
		return err
	}

	ctx, endSpan := tracing.StartDBSpan(ctx, string(r.dialect), postsTable, tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	var publishedMs sql.NullInt64
	if p.PublishedAt != nil {
		publishedMs = sql.NullInt64{Int64: p.PublishedAt.UnixMilli(), Valid: true}
	}
	var size sql.NullString
	if p.DeclaredSize != nil {
		size = sql.NullString{String: string(*p.DeclaredSize), Valid: true}
	}
	var order sql.NullInt64
	if p.BentoOrder != nil {
		order = sql.NullInt64{Int64: int64(*p.BentoOrder), Valid: true}
	}

	query := r.rebind(`INSERT INTO bento_posts (id, published_at_ms, view_count, content_type, is_featured, declared_size, bento_order, updated_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			published_at_ms = excluded.published_at_ms,
			view_count = excluded.view_count,
			content_type = excluded.content_type,
			is_featured = excluded.is_featured,
			updated_at_ms = excluded.updated_at_ms`)

	return r.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, query,
			p.ID, publishedMs, p.ViewCount, string(p.ContentType), p.IsFeatured, size, order, r.now().UnixMilli(),
		); err != nil {
			return fmt.Errorf("failed to upsert post: %w", err)
		}
		return nil
	})
}

// Delete removes a post.
func (r *SQLRepository) Delete(ctx context.Context, id string) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, string(r.dialect), postsTable, tracing.DBOperationDelete)
	defer func() { endSpan(err) }()

	return r.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, r.rebind(`DELETE FROM bento_posts WHERE id = ?`), id)
		if err != nil {
			return fmt.Errorf("failed to delete post: %w", err)
		}
		return requireOneRow(res, id)
	})
}

// Reorder writes a dense BentoOrder for orderedIDs and clears all others in
// one transaction. An unknown ID rolls the whole write back.
func (r *SQLRepository) Reorder(ctx context.Context, orderedIDs []string) (err error) {
	if err := checkUnique(orderedIDs); err != nil {
		return err
	}

	ctx, endSpan := tracing.StartDBSpan(ctx, string(r.dialect), postsTable, tracing.DBOperationUpdate)
	defer func() { endSpan(err) }()

	now := r.now().UnixMilli()
	clearQuery := r.rebind(`UPDATE bento_posts SET bento_order = NULL, updated_at_ms = ? WHERE bento_order IS NOT NULL`)
	setQuery := r.rebind(`UPDATE bento_posts SET bento_order = ?, updated_at_ms = ? WHERE id = ?`)

	return r.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, clearQuery, now); err != nil {
			return fmt.Errorf("failed to clear bento order: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx, setQuery)
		if err != nil {
			return fmt.Errorf("failed to prepare reorder: %w", err)
		}
		defer stmt.Close()

		for i, id := range orderedIDs {
			res, err := stmt.ExecContext(ctx, i, now, id)
			if err != nil {
				return fmt.Errorf("failed to set bento order: %w", err)
			}
			if err := requireOneRow(res, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// SetSize sets or clears the declared size of one post.
func (r *SQLRepository) SetSize(ctx context.Context, id string, size *SizeClass) (err error) {
	if size != nil && !size.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidSize, *size)
	}

	ctx, endSpan := tracing.StartDBSpan(ctx, string(r.dialect), postsTable, tracing.DBOperationUpdate)
	defer func() { endSpan(err) }()

	var value sql.NullString
	if size != nil {
		value = sql.NullString{String: string(*size), Valid: true}
	}

	return r.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, r.rebind(`UPDATE bento_posts SET declared_size = ?, updated_at_ms = ? WHERE id = ?`),
			value, r.now().UnixMilli(), id)
		if err != nil {
			return fmt.Errorf("failed to set declared size: %w", err)
		}
		return requireOneRow(res, id)
	})
}

func requireOneRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %q", ErrPostNotFound, id)
	}
	return nil
}

func checkUnique(ids []string) error {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicatePost, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}
