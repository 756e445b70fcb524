package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aquaform/aquaform/pkg/engine"
	"github.com/aquaform/aquaform/pkg/schema"
	"github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog"
)

// Config is the connection configuration of the SQL backend. DSN takes
// precedence over the discrete fields.
type Config struct {
	Dialect        string        `koanf:"dialect" validate:"required,oneof=mysql mariadb postgres postgresql pg sqlite sqlite3"`
	DSN            string        `koanf:"dsn"`
	Host           string        `koanf:"host"`
	Port           int           `koanf:"port" validate:"gte=0,lte=65535"`
	User           string        `koanf:"user"`
	Password       string        `koanf:"password"`
	Database       string        `koanf:"database"`
	ConnectTimeout time.Duration `koanf:"connect_timeout"`
}

// DataSourceName builds the driver DSN for d.
func (c Config) DataSourceName(d Dialect) (string, error) {
	switch d.(type) {
	case MySQL:
		return c.mysqlDSN()
	case Postgres:
		return c.postgresDSN(), nil
	case SQLite:
		return c.sqliteDSN()
	default:
		return "", fmt.Errorf("no DSN builder for dialect %s", d.Name())
	}
}

func (c Config) mysqlDSN() (string, error) {
	if c.DSN != "" {
		// Reject a malformed DSN before connecting.
		if _, err := mysql.ParseDSN(c.DSN); err != nil {
			return "", fmt.Errorf("invalid mysql dsn: %w", err)
		}
		return c.DSN, nil
	}
	cfg := mysql.NewConfig()
	cfg.User = c.User
	cfg.Passwd = c.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(orDefault(c.Host, "localhost"), strconv.Itoa(orDefaultPort(c.Port, 3306)))
	cfg.DBName = c.Database
	cfg.ParseTime = true
	cfg.Timeout = c.ConnectTimeout
	return cfg.FormatDSN(), nil
}

func (c Config) postgresDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(orDefault(c.Host, "localhost"), strconv.Itoa(orDefaultPort(c.Port, 5432))),
		Path:   "/" + c.Database,
	}
	if c.User != "" {
		u.User = url.UserPassword(c.User, c.Password)
	}
	if c.ConnectTimeout > 0 {
		u.RawQuery = url.Values{"connect_timeout": {strconv.Itoa(int(c.ConnectTimeout.Seconds()))}}.Encode()
	}
	return u.String()
}

func (c Config) sqliteDSN() (string, error) {
	dsn := c.DSN
	if dsn == "" {
		dsn = c.Database
	}
	if dsn == "" {
		return "", errors.New("sqlite requires a database path")
	}
	dsn = strings.TrimPrefix(dsn, "sqlite://")
	if strings.Contains(dsn, "foreign_keys") {
		return dsn, nil
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)", nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func orDefaultPort(p, def int) int {
	if p == 0 {
		return def
	}
	return p
}

// Adapter is the engine.Backend for SQL databases. Every action runs as
// plain statements on a database/sql pool.
type Adapter struct {
	db      *sql.DB
	dialect Dialect
	logger  zerolog.Logger
}

// Open connects to the database described by cfg and pings it.
func Open(ctx context.Context, cfg Config, logger zerolog.Logger) (*Adapter, error) {
	d, err := DialectFor(cfg.Dialect)
	if err != nil {
		return nil, err
	}
	dsn, err := cfg.DataSourceName(d)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(d.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", d.Name(), err)
	}

	pingCtx := ctx
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		code := d.Classify(err)
		if code == engine.ErrCodeInternal {
			code = engine.ErrCodeConnectionFailure
		}
		return nil, engine.NewBackendError(code, fmt.Sprintf("failed to connect to %s", d.Name()), err)
	}

	return New(db, d, logger), nil
}

// New wraps an open pool.
func New(db *sql.DB, d Dialect, logger zerolog.Logger) *Adapter {
	return &Adapter{
		db:      db,
		dialect: d,
		logger:  logger.With().Str("component", "sqldb").Str("dialect", d.Name()).Logger(),
	}
}

// Kind implements engine.Backend.
func (a *Adapter) Kind() schema.Kind { return schema.KindSQLTable }

// Capabilities implements engine.Backend.
func (a *Adapter) Capabilities() engine.Capabilities { return a.dialect.Capabilities() }

// Dialect returns the active dialect.
func (a *Adapter) Dialect() Dialect { return a.dialect }

// Statements renders action without running it.
func (a *Adapter) Statements(action *engine.Action) ([]string, error) {
	return Statements(a.dialect, action)
}

// Execute implements engine.Backend.
func (a *Adapter) Execute(ctx context.Context, action *engine.Action) (*engine.ActionResult, error) {
	start := time.Now()
	stmts, err := Statements(a.dialect, action)
	if err != nil {
		return nil, err
	}

	for _, stmt := range stmts {
		a.logger.Debug().
			Str("resource", action.Resource).
			Str("type", string(action.Type)).
			Str("sql", stmt).
			Msg("Executing statement")
		if _, err := a.db.ExecContext(ctx, stmt); err != nil {
			return nil, wrapError(a.dialect, action, stmt, err)
		}
	}

	return &engine.ActionResult{Statements: stmts, Duration: time.Since(start)}, nil
}

// Describe implements engine.Backend.
func (a *Adapter) Describe(ctx context.Context, name string) (*engine.Description, error) {
	desc, err := a.dialect.Describe(ctx, a.db, name)
	if err != nil {
		var ee *engine.EngineError
		if errors.As(err, &ee) {
			return nil, err
		}
		return nil, engine.NewBackendError(a.dialect.Classify(err), "describe failed", err).WithResource(name)
	}
	return desc, nil
}

// Close implements engine.Backend.
func (a *Adapter) Close() error {
	return a.db.Close()
}
