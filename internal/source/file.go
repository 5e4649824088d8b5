package source

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/torosent/b52/internal/config"
	"github.com/torosent/b52/internal/logging"
)

const (
	FormatText = "text"
	FormatCSV  = "csv"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// FileSource reads URLs from a local file. The file is read on every Fetch.
type FileSource struct {
	path   string
	format string
	field  string
	norm   normalizer
}

// NewFile prepares a file source. The format is inferred from the extension
// when cfg.Format is empty.
func NewFile(cfg config.SourceConfig, logger *zap.Logger) (*FileSource, error) {
	if cfg.File == "" {
		return nil, errors.New("source: file path is required")
	}
	format := strings.ToLower(cfg.Format)
	switch format {
	case "":
		format = FormatFromPath(cfg.File)
	case "txt":
		format = FormatText
	case "yml":
		format = FormatYAML
	}
	switch format {
	case FormatText, FormatCSV, FormatJSON, FormatYAML:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	field := cfg.URLField
	if field == "" {
		field = config.DefaultURLField
	}
	return &FileSource{
		path:   cfg.File,
		format: format,
		field:  field,
		norm:   normalizer{maxLen: cfg.MaxURLLength, logger: logging.OrNop(logger)},
	}, nil
}

// FormatFromPath maps a file extension to a format name, defaulting to text.
func FormatFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV
	case ".json":
		return FormatJSON
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatText
	}
}

func (s *FileSource) Fetch(ctx context.Context, count int) ([]string, error) {
	if count <= 0 {
		return []string{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("open url file: %w", err)
	}

	var raw []string
	switch s.format {
	case FormatText:
		raw, err = readText(data)
	case FormatCSV:
		raw, err = readCSV(data, s.field)
	case FormatJSON:
		raw, err = readJSON(data, s.field)
	case FormatYAML:
		raw, err = readYAML(data, s.field)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s url file %s: %w", s.format, s.path, err)
	}

	urls := make([]string, 0, min(count, len(raw)))
	for _, r := range raw {
		if len(urls) == count {
			break
		}
		urls = s.norm.add(urls, r)
	}
	s.norm.short(len(urls), count)
	return urls, nil
}

func (s *FileSource) Close() error { return nil }

// readText returns one value per line; lines starting with # are comments.
func readText(data []byte) ([]string, error) {
	var out []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out, sc.Err()
}

// readCSV returns the column named field. The first row is the header.
func readCSV(data []byte, field string) ([]string, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := -1
	for i, name := range header {
		if strings.EqualFold(strings.TrimSpace(name), field) {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, fmt.Errorf("column %q not found in header", field)
	}

	var out []string
	for line := 2; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", line, err)
		}
		if col < len(row) {
			out = append(out, row[col])
		}
	}
}

// readJSON accepts an array of strings, or an array of objects whose URL is
// found at the gjson path field.
func readJSON(data []byte, field string) ([]string, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.New("invalid JSON")
	}
	root := gjson.ParseBytes(data)
	if !root.IsArray() {
		return nil, errors.New("expected a JSON array")
	}

	path := strings.TrimPrefix(field, "$.")
	var out []string
	root.ForEach(func(_, item gjson.Result) bool {
		switch {
		case item.Type == gjson.String:
			out = append(out, item.String())
		case item.IsObject():
			if v := item.Get(path); v.Exists() {
				out = append(out, v.String())
			}
		}
		return true
	})
	return out, nil
}

// readYAML accepts a sequence of strings or of mappings keyed by field.
func readYAML(data []byte, field string) ([]string, error) {
	var items []yaml.Node
	if err := yaml.Unmarshal(data, &items); err != nil {
		return nil, err
	}

	var out []string
	for _, item := range items {
		switch item.Kind {
		case yaml.ScalarNode:
			out = append(out, item.Value)
		case yaml.MappingNode:
			for i := 0; i+1 < len(item.Content); i += 2 {
				if item.Content[i].Value == field {
					out = append(out, item.Content[i+1].Value)
					break
				}
			}
		}
	}
	return out, nil
}
