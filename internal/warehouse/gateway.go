// Package warehouse is the gateway between the pipeline and the SQL warehouse:
// it replaces staging tables with loaded data and executes transformation
// scripts.
package warehouse

import (
	"context"
	"database/sql"
	"database/sql/driver"
	stderrors "errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/snowflakedb/gosnowflake"

	"parcelhub/internal/observability"
	"parcelhub/internal/tabular"
	"parcelhub/pkg/errors"
)

const (
	defaultBatchSize    = 500
	defaultQueryTimeout = 30 * time.Minute
)

// TableRef names a table as project.dataset.table
type TableRef struct {
	Project string
	Dataset string
	Table   string
}

func (r TableRef) String() string {
	return r.Project + "." + r.Dataset + "." + r.Table
}

// Validate rejects identifiers that cannot be embedded into SQL unquoted
func (r TableRef) Validate() error {
	if err := validIdent("project", r.Project); err != nil {
		return err
	}
	if err := validIdent("dataset", r.Dataset); err != nil {
		return err
	}
	return validIdent("table", r.Table)
}

// QueryResult describes a completed script execution
type QueryResult struct {
	Statements   int
	RowsAffected int64
	Duration     time.Duration
}

// Gateway is what the ingestion and transformation drivers need from a
// warehouse session.
type Gateway interface {
	// LoadTable replaces target with the contents of t and returns the
	// number of rows the warehouse accepted.
	LoadTable(ctx context.Context, t *tabular.Table, target TableRef) (int64, error)
	// RunQuery executes every statement of a script in order.
	RunQuery(ctx context.Context, sqlText string) (QueryResult, error)
	Close() error
}

// Options tunes a Session
type Options struct {
	// MaxRetries bounds retries of connection-class failures
	MaxRetries uint64
	// RetryDelay is the first backoff interval; defaults to one second
	RetryDelay   time.Duration
	QueryTimeout time.Duration
	BatchSize    int
	Logger       *observability.Logger
}

// Session is a Gateway backed by database/sql
type Session struct {
	db      *sql.DB
	dialect dialect
	opts    Options
	logger  *observability.Logger
}

var _ Gateway = (*Session)(nil)

// Connect opens a session using creds and verifies it with a ping. Rejected
// or incomplete credentials yield an authentication error; unreachable
// warehouses are retried up to opts.MaxRetries times.
func Connect(ctx context.Context, creds Credentials, opts Options) (*Session, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	d, err := dialectFor(creds.Driver)
	if err != nil {
		return nil, err
	}

	dsn, err := d.DSN(creds)
	if err != nil {
		return nil, errors.AuthError("Failed to build connection string", err).
			WithContext("driver", d.Name())
	}

	db, err := sql.Open(d.DriverName(), dsn)
	if err != nil {
		return nil, errors.ConnectionError(fmt.Sprintf("Failed to open %s connection", d.Name()), err).
			WithContext("driver", d.Name())
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(10 * time.Minute)

	s := newSession(db, d, opts)
	err = errors.Retry(ctx, s.retryConfig("connect"), func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			if isAuthFailure(err) {
				return errors.AuthError("Warehouse rejected the credentials", err).
					WithContext("user", creds.User)
			}
			return errors.ConnectionError(fmt.Sprintf("Failed to connect to %s", d.Name()), err).
				WithContext("account", creds.Account).
				WithContext("host", creds.Host)
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	s.logger.WithField("driver", d.Name()).Debug("Warehouse session established")
	return s, nil
}

// NewSession wraps an already opened database handle
func NewSession(db *sql.DB, driverName string, opts Options) (*Session, error) {
	d, err := dialectFor(driverName)
	if err != nil {
		return nil, err
	}
	return newSession(db, d, opts), nil
}

func newSession(db *sql.DB, d dialect, opts Options) *Session {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = defaultQueryTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Session{db: db, dialect: d, opts: opts, logger: logger}
}

// Driver returns the dialect name of the session
func (s *Session) Driver() string { return s.dialect.Name() }

// Close releases the connection pool
func (s *Session) Close() error {
	if s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close connection: %w", err)
	}
	return nil
}

// LoadTable drops and recreates target with one text column per table column
// and inserts every row in parameterised batches inside one transaction. A
// table with no columns only drops the target. The count is reported after
// commit, so a failed load never reports rows.
func (s *Session) LoadTable(ctx context.Context, t *tabular.Table, target TableRef) (int64, error) {
	if err := target.Validate(); err != nil {
		return 0, err
	}
	if t == nil {
		t = &tabular.Table{}
	}
	for _, c := range t.Columns {
		if err := validIdent("column", c); err != nil {
			return 0, errors.LoadError(target.String(), err)
		}
	}

	var loaded int64
	err := errors.Retry(ctx, s.retryConfig("load "+target.String()), func(ctx context.Context) error {
		n, err := s.loadOnce(ctx, t, target)
		loaded = n
		return err
	})
	if err != nil {
		return 0, errors.LoadError(target.String(), err).
			WithContext("rows", t.NumRows())
	}
	return loaded, nil
}

func (s *Session) loadOnce(ctx context.Context, t *tabular.Table, target TableRef) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.QueryTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, classify(err, "Failed to begin load transaction", "")
	}
	done := false
	defer func() {
		if !done {
			_ = tx.Rollback()
		}
	}()

	if len(t.Columns) == 0 {
		stmt := s.dialect.DropTable(target)
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return 0, classify(err, "Failed to drop empty staging table", stmt)
		}
	} else {
		for _, stmt := range s.dialect.ReplaceTable(target, t.Columns) {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return 0, classify(err, "Failed to replace staging table", stmt)
			}
		}
	}

	var inserted int64
	batch := s.batchRows(len(t.Columns))
	for start := 0; start < len(t.Rows) && len(t.Columns) > 0; start += batch {
		end := start + batch
		if end > len(t.Rows) {
			end = len(t.Rows)
		}
		query, args := s.insertStatement(target, t.Columns, t.Rows[start:end])
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return 0, classify(err, fmt.Sprintf("Failed to insert rows %d-%d", start+1, end), query).
				WithContext("batch_start", start+1)
		}
		inserted += int64(end - start)
	}

	if err := tx.Commit(); err != nil {
		return 0, classify(err, "Failed to commit load transaction", "")
	}
	done = true
	return inserted, nil
}

func (s *Session) batchRows(columns int) int {
	rows := s.opts.BatchSize
	if columns > 0 {
		if byParams := s.dialect.MaxParams() / columns; byParams < rows {
			rows = byParams
		}
	}
	if rows < 1 {
		rows = 1
	}
	return rows
}

func (s *Session) insertStatement(target TableRef, columns []string, rows [][]tabular.Cell) (string, []interface{}) {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = s.dialect.Quote(c)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", s.dialect.Qualify(target), strings.Join(quoted, ", "))

	args := make([]interface{}, 0, len(rows)*len(columns))
	n := 0
	for r, row := range rows {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := range columns {
			if c > 0 {
				b.WriteString(", ")
			}
			n++
			b.WriteString(s.dialect.Placeholder(n))
			cell := row[c]
			args = append(args, sql.NullString{String: cell.Value, Valid: cell.Valid})
		}
		b.WriteByte(')')
	}
	return b.String(), args
}

// RunQuery executes the statements of sqlText in order inside one
// transaction. The first failing statement aborts the script.
func (s *Session) RunQuery(ctx context.Context, sqlText string) (QueryResult, error) {
	statements := SplitStatements(sqlText, s.dialect.BackslashEscapes())
	if len(statements) == 0 {
		return QueryResult{}, errors.InvalidInput("script", "", "contains no SQL statements")
	}

	start := time.Now()
	var result QueryResult
	err := errors.Retry(ctx, s.retryConfig("query"), func(ctx context.Context) error {
		r, err := s.runOnce(ctx, statements)
		result = r
		return err
	})
	result.Duration = time.Since(start)
	if err != nil {
		return result, err
	}
	return result, nil
}

func (s *Session) runOnce(ctx context.Context, statements []string) (QueryResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.QueryTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return QueryResult{}, classify(err, "Failed to begin transaction", "")
	}
	done := false
	defer func() {
		if !done {
			_ = tx.Rollback()
		}
	}()

	var result QueryResult
	for i, stmt := range statements {
		res, err := tx.ExecContext(ctx, stmt)
		if err != nil {
			return QueryResult{}, classify(err, fmt.Sprintf("Failed to execute statement %d", i+1), stmt).
				WithContext("statement_index", i+1).
				WithContext("total_statements", len(statements))
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			result.RowsAffected += n
		}
		result.Statements++
	}

	if err := tx.Commit(); err != nil {
		return QueryResult{}, classify(err, "Failed to commit transaction", "")
	}
	done = true
	return result, nil
}

func (s *Session) retryConfig(op string) *errors.RetryConfig {
	cfg := errors.DefaultRetryConfig()
	cfg.MaxRetries = s.opts.MaxRetries
	if s.opts.RetryDelay > 0 {
		cfg.InitialDelay = s.opts.RetryDelay
	}
	cfg.OnRetry = func(attempt uint64, err error) {
		s.logger.WithError(err).
			WithField("operation", op).
			Warnf("Transient warehouse failure, retrying (attempt %d of %d)", attempt+1, s.opts.MaxRetries+1)
	}
	return cfg
}

// classify maps a driver error to a recoverable connection error or a
// non-recoverable SQL error.
func classify(err error, message, query string) *errors.AppError {
	if isConnectionFailure(err) {
		return errors.ConnectionError(message, err)
	}
	return errors.SQLError(message, query, err)
}

func isConnectionFailure(err error) bool {
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return false
	}
	if stderrors.Is(err, driver.ErrBadConn) || stderrors.Is(err, sql.ErrConnDone) ||
		stderrors.Is(err, mysql.ErrInvalidConn) {
		return true
	}
	var netErr net.Error
	return stderrors.As(err, &netErr)
}

// Snowflake reports bad credentials as 390100, MySQL as 1045.
const (
	snowflakeAuthFailed = 390100
	mysqlAccessDenied   = 1045
)

func isAuthFailure(err error) bool {
	var sfErr *gosnowflake.SnowflakeError
	if stderrors.As(err, &sfErr) && sfErr.Number == snowflakeAuthFailed {
		return true
	}
	var myErr *mysql.MySQLError
	if stderrors.As(err, &myErr) && myErr.Number == mysqlAccessDenied {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"authentication failed",
		"incorrect username or password",
		"password authentication failed",
		"login failed",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
