package warehouse

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/microsoft/go-mssqldb"
	"github.com/snowflakedb/gosnowflake"
	_ "modernc.org/sqlite"

	"parcelhub/pkg/errors"
)

// Supported warehouse drivers
const (
	DriverSnowflake = "snowflake"
	DriverPostgres  = "postgres"
	DriverSQLServer = "sqlserver"
	DriverMySQL     = "mysql"
	DriverSQLite    = "sqlite"
)

// Credentials identify the warehouse account the pipeline runs as. A non-empty
// DSN takes precedence over the individual fields.
type Credentials struct {
	Driver    string `yaml:"driver"`
	Account   string `yaml:"account"`
	User      string `yaml:"user"`
	Password  string `yaml:"password"`
	Database  string `yaml:"database"`
	Warehouse string `yaml:"warehouse"`
	Role      string `yaml:"role"`
	Host      string `yaml:"host"`
	Port      string `yaml:"port"`
	DSN       string `yaml:"dsn"`
}

// Validate checks that the fields the selected driver needs are present
func (c Credentials) Validate() error {
	d, err := dialectFor(c.Driver)
	if err != nil {
		return err
	}
	if c.DSN != "" {
		return nil
	}

	var missing []string
	switch d.Name() {
	case DriverSnowflake:
		if c.Account == "" {
			missing = append(missing, "account")
		}
		if c.User == "" {
			missing = append(missing, "user")
		}
		if c.Password == "" {
			missing = append(missing, "password")
		}
	case DriverSQLite:
		if c.Database == "" {
			missing = append(missing, "database")
		}
	default:
		if c.Host == "" {
			missing = append(missing, "host")
		}
		if c.User == "" {
			missing = append(missing, "user")
		}
	}
	if len(missing) > 0 {
		return errors.AuthError(
			fmt.Sprintf("credentials for %s are missing: %s", d.Name(), strings.Join(missing, ", ")), nil).
			WithContext("driver", d.Name())
	}
	return nil
}

// dialect captures the SQL differences between supported warehouses
type dialect interface {
	Name() string
	DriverName() string
	DSN(c Credentials) (string, error)
	Qualify(ref TableRef) string
	Quote(ident string) string
	Placeholder(n int) string
	// ReplaceTable returns the statements that leave an empty text table
	ReplaceTable(ref TableRef, columns []string) []string
	DropTable(ref TableRef) string
	MaxParams() int
	// BackslashEscapes reports whether '\' escapes inside plain string literals
	BackslashEscapes() bool
}

func dialectFor(name string) (dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", DriverSnowflake:
		return snowflakeDialect{}, nil
	case DriverPostgres, "postgresql", "pgx":
		return postgresDialect{}, nil
	case DriverSQLServer, "mssql":
		return sqlServerDialect{}, nil
	case DriverMySQL:
		return mySQLDialect{}, nil
	case DriverSQLite:
		return sqliteDialect{}, nil
	default:
		return nil, errors.ConfigError(fmt.Sprintf("unsupported warehouse driver %q", name), "driver")
	}
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validIdent(kind, s string) error {
	if !identPattern.MatchString(s) {
		return errors.InvalidInput(kind, s, "must match [A-Za-z_][A-Za-z0-9_]*")
	}
	return nil
}

func columnDefs(d dialect, columns []string, typ string) string {
	defs := make([]string, len(columns))
	for i, c := range columns {
		defs[i] = d.Quote(c) + " " + typ
	}
	return strings.Join(defs, ", ")
}

func hostPort(c Credentials, port string) string {
	if c.Port != "" {
		port = c.Port
	}
	return net.JoinHostPort(c.Host, port)
}

// snowflake

type snowflakeDialect struct{}

func (snowflakeDialect) Name() string           { return DriverSnowflake }
func (snowflakeDialect) DriverName() string     { return "snowflake" }
func (snowflakeDialect) MaxParams() int         { return 16384 }
func (snowflakeDialect) BackslashEscapes() bool { return true }

func (snowflakeDialect) DSN(c Credentials) (string, error) {
	if c.DSN != "" {
		return c.DSN, nil
	}
	cfg := &gosnowflake.Config{
		Account:   c.Account,
		User:      c.User,
		Password:  c.Password,
		Database:  c.Database,
		Warehouse: c.Warehouse,
		Role:      c.Role,
	}
	return gosnowflake.DSN(cfg)
}

// Identifiers stay unquoted so Snowflake folds them to upper case the same
// way hand-written transformation SQL does.
func (snowflakeDialect) Quote(ident string) string { return ident }

func (d snowflakeDialect) Qualify(ref TableRef) string {
	return ref.String()
}

func (snowflakeDialect) Placeholder(int) string { return "?" }

func (d snowflakeDialect) ReplaceTable(ref TableRef, columns []string) []string {
	return []string{fmt.Sprintf("CREATE OR REPLACE TABLE %s (%s)", d.Qualify(ref), columnDefs(d, columns, "VARCHAR"))}
}

func (d snowflakeDialect) DropTable(ref TableRef) string {
	return "DROP TABLE IF EXISTS " + d.Qualify(ref)
}

// postgres

type postgresDialect struct{}

func (postgresDialect) Name() string           { return DriverPostgres }
func (postgresDialect) DriverName() string     { return "pgx" }
func (postgresDialect) MaxParams() int         { return 65535 }
func (postgresDialect) BackslashEscapes() bool { return false }

func (postgresDialect) DSN(c Credentials) (string, error) {
	if c.DSN != "" {
		return c.DSN, nil
	}
	u := &url.URL{
		Scheme: "postgresql",
		User:   url.UserPassword(c.User, c.Password),
		Host:   hostPort(c, "5432"),
		Path:   "/" + c.Database,
	}
	return u.String(), nil
}

func (postgresDialect) Quote(ident string) string { return `"` + ident + `"` }

// The project is the connection's database; only dataset and table qualify.
func (d postgresDialect) Qualify(ref TableRef) string {
	return d.Quote(ref.Dataset) + "." + d.Quote(ref.Table)
}

func (postgresDialect) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (d postgresDialect) ReplaceTable(ref TableRef, columns []string) []string {
	return []string{
		d.DropTable(ref),
		fmt.Sprintf("CREATE TABLE %s (%s)", d.Qualify(ref), columnDefs(d, columns, "TEXT")),
	}
}

func (d postgresDialect) DropTable(ref TableRef) string {
	return "DROP TABLE IF EXISTS " + d.Qualify(ref)
}

// sqlserver

type sqlServerDialect struct{}

func (sqlServerDialect) Name() string           { return DriverSQLServer }
func (sqlServerDialect) DriverName() string     { return "sqlserver" }
func (sqlServerDialect) MaxParams() int         { return 2000 }
func (sqlServerDialect) BackslashEscapes() bool { return false }

func (sqlServerDialect) DSN(c Credentials) (string, error) {
	if c.DSN != "" {
		return c.DSN, nil
	}
	u := &url.URL{
		Scheme: "sqlserver",
		User:   url.UserPassword(c.User, c.Password),
		Host:   hostPort(c, "1433"),
	}
	q := u.Query()
	if c.Database != "" {
		q.Set("database", c.Database)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (sqlServerDialect) Quote(ident string) string { return "[" + ident + "]" }

func (d sqlServerDialect) Qualify(ref TableRef) string {
	return d.Quote(ref.Project) + "." + d.Quote(ref.Dataset) + "." + d.Quote(ref.Table)
}

func (sqlServerDialect) Placeholder(n int) string { return fmt.Sprintf("@p%d", n) }

func (d sqlServerDialect) ReplaceTable(ref TableRef, columns []string) []string {
	return []string{
		d.DropTable(ref),
		fmt.Sprintf("CREATE TABLE %s (%s)", d.Qualify(ref), columnDefs(d, columns, "NVARCHAR(MAX)")),
	}
}

func (d sqlServerDialect) DropTable(ref TableRef) string {
	return "DROP TABLE IF EXISTS " + d.Qualify(ref)
}

// mysql

type mySQLDialect struct{}

func (mySQLDialect) Name() string           { return DriverMySQL }
func (mySQLDialect) DriverName() string     { return "mysql" }
func (mySQLDialect) MaxParams() int         { return 65535 }
func (mySQLDialect) BackslashEscapes() bool { return true }

func (mySQLDialect) DSN(c Credentials) (string, error) {
	if c.DSN != "" {
		return c.DSN, nil
	}
	cfg := mysql.NewConfig()
	cfg.User = c.User
	cfg.Passwd = c.Password
	cfg.Net = "tcp"
	cfg.Addr = hostPort(c, "3306")
	cfg.DBName = c.Database
	return cfg.FormatDSN(), nil
}

func (mySQLDialect) Quote(ident string) string { return "`" + ident + "`" }

// MySQL schemas are databases, so the dataset is the database name.
func (d mySQLDialect) Qualify(ref TableRef) string {
	return d.Quote(ref.Dataset) + "." + d.Quote(ref.Table)
}

func (mySQLDialect) Placeholder(int) string { return "?" }

func (d mySQLDialect) ReplaceTable(ref TableRef, columns []string) []string {
	return []string{
		d.DropTable(ref),
		fmt.Sprintf("CREATE TABLE %s (%s)", d.Qualify(ref), columnDefs(d, columns, "TEXT")),
	}
}

func (d mySQLDialect) DropTable(ref TableRef) string {
	return "DROP TABLE IF EXISTS " + d.Qualify(ref)
}

// sqlite

type sqliteDialect struct{}

func (sqliteDialect) Name() string           { return DriverSQLite }
func (sqliteDialect) DriverName() string     { return "sqlite" }
func (sqliteDialect) MaxParams() int         { return 32766 }
func (sqliteDialect) BackslashEscapes() bool { return false }

func (sqliteDialect) DSN(c Credentials) (string, error) {
	if c.DSN != "" {
		return c.DSN, nil
	}
	return "file:" + c.Database + "?_pragma=busy_timeout(5000)", nil
}

func (sqliteDialect) Quote(ident string) string { return `"` + ident + `"` }

// SQLite has no schemas inside a file; the dataset becomes a table prefix.
func (d sqliteDialect) Qualify(ref TableRef) string {
	return d.Quote(ref.Dataset + "__" + ref.Table)
}

func (sqliteDialect) Placeholder(int) string { return "?" }

func (d sqliteDialect) ReplaceTable(ref TableRef, columns []string) []string {
	return []string{
		d.DropTable(ref),
		fmt.Sprintf("CREATE TABLE %s (%s)", d.Qualify(ref), columnDefs(d, columns, "TEXT")),
	}
}

func (d sqliteDialect) DropTable(ref TableRef) string {
	return "DROP TABLE IF EXISTS " + d.Qualify(ref)
}
