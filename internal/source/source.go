// Package source materializes the URL list for a run from a backing store:
// a SQL database (MySQL or PostgreSQL) or a local file (text, CSV, JSON, YAML).
package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/torosent/b52/internal/config"
	"github.com/torosent/b52/internal/logging"
)

var (
	// ErrUnsupportedDriver is returned for a SQL driver other than mysql or postgres.
	ErrUnsupportedDriver = errors.New("source: unsupported SQL driver")
	// ErrUnsupportedFormat is returned for a file format that cannot be read.
	ErrUnsupportedFormat = errors.New("source: unsupported file format")
)

// Source yields URLs in backing-store order. Fetch is a one-shot bulk read.
type Source interface {
	// Fetch returns at most count URLs. count <= 0 returns an empty list
	// without touching the store.
	Fetch(ctx context.Context, count int) ([]string, error)
	Close() error
}

// New opens the source described by cfg. SQL sources verify their connection
// before returning.
func New(ctx context.Context, cfg config.SourceConfig, logger *zap.Logger) (Source, error) {
	logger = logging.OrNop(logger).With(zap.String("source", string(cfg.Type)))
	switch cfg.Type {
	case config.SourceTypeSQL, "":
		return OpenSQL(ctx, cfg, logger)
	case config.SourceTypeFile:
		return NewFile(cfg, logger)
	default:
		return nil, fmt.Errorf("source: unknown type %q", cfg.Type)
	}
}

// normalizer applies the ingestion rules shared by every backend.
type normalizer struct {
	maxLen int
	logger *zap.Logger
}

// add appends raw to urls unless it is blank, truncating it to maxLen runes.
func (n normalizer) add(urls []string, raw string) []string {
	u := strings.TrimSpace(raw)
	if u == "" {
		return urls
	}
	if n.maxLen > 0 && utf8.RuneCountInString(u) > n.maxLen {
		truncated := truncateRunes(u, n.maxLen)
		n.logger.Warn("url exceeds maximum length; truncated",
			zap.Int("max_url_length", n.maxLen),
			zap.String("url", truncated),
		)
		u = truncated
	}
	return append(urls, u)
}

// short logs when the store held fewer URLs than requested.
func (n normalizer) short(got, want int) {
	if got < want {
		n.logger.Warn("source returned fewer urls than requested",
			zap.Int("requested", want),
			zap.Int("returned", got),
		)
	}
}

func truncateRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
