// Package storage owns the relational schema and the tenant-scoped
// connection discipline. No multi-tenant table is touched except
// through a TenantConn, which applies the tenant context to the
// session before handing the connection out and fails closed when the
// tenant is missing or malformed.
package storage

import (
	"context"
	"database/sql"
	"regexp"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/idis-platform/idis/pkg/idiserr"
)

// Dialect identifies the SQL dialect behind a handle.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

var tenantIDShape = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// ValidTenantID reports whether id is UUID-shaped. Connections are
// never issued for anything else.
func ValidTenantID(id string) bool {
	return tenantIDShape.MatchString(id)
}

// TenantDB wraps a database handle so every connection carries tenant
// context. On Postgres that is the app.current_tenant session variable
// consumed by row-level security; on SQLite the wrapper pins the tenant
// to the connection and stores verify each statement against it.
type TenantDB struct {
	db      *sql.DB
	dialect Dialect
}

// Open connects to the database named by url. postgres:// URLs use the
// Postgres driver; sqlite:// and file: URLs use the SQLite driver.
func Open(url string) (*TenantDB, error) {
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		db, err := sql.Open("postgres", url)
		if err != nil {
			return nil, idiserr.Wrap(idiserr.KindInvalidInput, err, "storage: open postgres")
		}
		return &TenantDB{db: db, dialect: DialectPostgres}, nil
	case strings.HasPrefix(url, "sqlite://"):
		return openSQLite(strings.TrimPrefix(url, "sqlite://"))
	case strings.HasPrefix(url, "file:"), url == ":memory:":
		return openSQLite(url)
	default:
		return nil, idiserr.Newf(idiserr.KindInvalidInput, "storage: unsupported database url %q", redactURL(url))
	}
}

func openSQLite(dsn string) (*TenantDB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, idiserr.Wrap(idiserr.KindInvalidInput, err, "storage: open sqlite")
	}
	// The SQLite driver serializes writes; one connection avoids
	// SQLITE_BUSY under concurrent stores.
	db.SetMaxOpenConns(1)
	return &TenantDB{db: db, dialect: DialectSQLite}, nil
}

// Wrap adopts an already-open handle, for tests and callers that manage
// their own pool.
func Wrap(db *sql.DB, dialect Dialect) *TenantDB {
	return &TenantDB{db: db, dialect: dialect}
}

// DB exposes the underlying handle for schema management and for
// single-tenant sinks that carry tenant_id in every row they write.
func (t *TenantDB) DB() *sql.DB { return t.db }

// Dialect reports the SQL dialect.
func (t *TenantDB) Dialect() Dialect { return t.dialect }

// Close releases the pool.
func (t *TenantDB) Close() error { return t.db.Close() }

// Acquire returns a connection bound to tenantID. It fails closed:
// no UUID-shaped tenant, no connection. On Postgres the tenant is set
// as a session variable before the connection is handed out, so
// row-level security sees it on every statement.
func (t *TenantDB) Acquire(ctx context.Context, tenantID string) (*TenantConn, error) {
	if !ValidTenantID(tenantID) {
		return nil, idiserr.Newf(idiserr.KindInvalidInput, "storage: tenant id %q is not UUID-shaped", tenantID).WithPath("tenant_id")
	}
	conn, err := t.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	if t.dialect == DialectPostgres {
		if _, err := conn.ExecContext(ctx, `SELECT set_config('app.current_tenant', $1, false)`, tenantID); err != nil {
			_ = conn.Close()
			return nil, idiserr.Wrap(idiserr.KindConflict, err, "storage: set tenant context")
		}
	}
	return &TenantConn{conn: conn, tenantID: tenantID, dialect: t.dialect}, nil
}

// TenantConn is a connection pinned to one tenant. Stores must call
// Guard with the tenant of every row they touch, which catches a
// mixed-tenant statement before it reaches the database.
type TenantConn struct {
	conn     *sql.Conn
	tenantID string
	dialect  Dialect
}

// Tenant returns the tenant this connection is pinned to.
func (c *TenantConn) Tenant() string { return c.tenantID }

// Guard fails closed when tenantID differs from the connection's.
func (c *TenantConn) Guard(tenantID string) error {
	if tenantID != c.tenantID {
		return idiserr.Newf(idiserr.KindConflict,
			"storage: statement for tenant %q on a connection pinned to %q", tenantID, c.tenantID)
	}
	return nil
}

// ExecContext runs a statement on the pinned connection.
func (c *TenantConn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.conn.ExecContext(ctx, query, args...)
}

// QueryContext runs a query on the pinned connection.
func (c *TenantConn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.conn.QueryContext(ctx, query, args...)
}

// QueryRowContext runs a single-row query on the pinned connection.
func (c *TenantConn) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return c.conn.QueryRowContext(ctx, query, args...)
}

// Close resets the Postgres session variable and returns the
// connection to the pool.
func (c *TenantConn) Close() error {
	if c.dialect == DialectPostgres {
		_, _ = c.conn.ExecContext(context.Background(), `SELECT set_config('app.current_tenant', '', false)`)
	}
	return c.conn.Close()
}

// WithTenant acquires a pinned connection, runs fn, and releases it.
func (t *TenantDB) WithTenant(ctx context.Context, tenantID string, fn func(*TenantConn) error) error {
	conn, err := t.Acquire(ctx, tenantID)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()
	return fn(conn)
}

// redactURL strips anything after the scheme so credentials in a
// malformed URL never reach an error message.
func redactURL(url string) string {
	if i := strings.Index(url, "://"); i > 0 {
		return url[:i] + "://..."
	}
	if len(url) > 16 {
		return url[:16] + "..."
	}
	return url
}
