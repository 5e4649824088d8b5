package source

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/torosent/b52/internal/config"
	"github.com/torosent/b52/internal/logging"
)

const defaultDialTimeout = 10 * time.Second

// SQLSource reads URLs with a single parameterized query whose only argument
// is the row limit.
type SQLSource struct {
	db    *sql.DB
	query string
	norm  normalizer
}

// OpenSQL connects to the database named by cfg and verifies the connection.
func OpenSQL(ctx context.Context, cfg config.SourceConfig, logger *zap.Logger) (*SQLSource, error) {
	driver := strings.ToLower(cfg.Driver)
	if driver == "" {
		driver = config.DriverMySQL
	}

	var db *sql.DB
	switch driver {
	case config.DriverMySQL:
		mc, err := mysql.ParseDSN(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("parse mysql dsn: %w", err)
		}
		if mc.Timeout == 0 {
			mc.Timeout = defaultDialTimeout
		}
		connector, err := mysql.NewConnector(mc)
		if err != nil {
			return nil, fmt.Errorf("mysql connector: %w", err)
		}
		db = sql.OpenDB(connector)
	case config.DriverPostgres, "postgresql":
		connector, err := pq.NewConnector(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("parse postgres dsn: %w", err)
		}
		db = sql.OpenDB(connector)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, cfg.Driver)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect %s: %w", driver, err)
	}

	query := cfg.Query
	if query == "" {
		query = config.DefaultQuery
	}
	if driver != config.DriverMySQL {
		query = rebindDollar(query)
	}
	return NewSQL(db, query, cfg.MaxURLLength, logger), nil
}

// NewSQL wraps an open database. The source takes ownership of db.
func NewSQL(db *sql.DB, query string, maxURLLength int, logger *zap.Logger) *SQLSource {
	return &SQLSource{
		db:    db,
		query: query,
		norm:  normalizer{maxLen: maxURLLength, logger: logging.OrNop(logger)},
	}
}

func (s *SQLSource) Fetch(ctx context.Context, count int) ([]string, error) {
	if count <= 0 {
		return []string{}, nil
	}

	rows, err := s.db.QueryContext(ctx, s.query, count)
	if err != nil {
		return nil, fmt.Errorf("query urls: %w", err)
	}
	defer rows.Close()

	urls := make([]string, 0, count)
	for rows.Next() {
		var u sql.NullString
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan url: %w", err)
		}
		if !u.Valid {
			continue
		}
		urls = s.norm.add(urls, u.String)
		if len(urls) == count {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read urls: %w", err)
	}

	s.norm.short(len(urls), count)
	return urls, nil
}

func (s *SQLSource) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// rebindDollar rewrites ? placeholders outside quoted literals to $1, $2, ...
func rebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 4)
	n := 0
	var quote rune
	for _, r := range query {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
		case r == '?':
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
