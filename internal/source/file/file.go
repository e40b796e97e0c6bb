// Package file serves candidates from a JSON file. It backs offline runs and
// fixtures.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spigell/talent-screener/internal/source"
	"go.uber.org/zap"
)

const name = "file"

// Adapter reads a JSON array of candidate objects.
type Adapter struct {
	path   string
	logger *zap.Logger
}

func New(path string, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{path: path, logger: logger}
}

func (a *Adapter) Name() string {
	return name
}

// Search loads the file and positions the stream at cursor, which is the
// index of the next record.
func (a *Adapter) Search(ctx context.Context, q source.Query, cursor source.Cursor) (source.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(a.path)
	if err != nil {
		return nil, fmt.Errorf("reading candidates file %q: %w", a.path, err)
	}

	var records []map[string]any
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parsing candidates file %q: %w", a.path, err)
	}

	start, err := parseCursor(cursor)
	if err != nil {
		return nil, err
	}

	a.logger.Debug("candidates file loaded",
		zap.String("path", a.path),
		zap.Int("records", len(records)),
		zap.Int("start", start),
	)

	return &stream{records: records, next: start, keywords: lowerAll(q.Keywords)}, nil
}

func parseCursor(cursor source.Cursor) (int, error) {
	if cursor == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(string(cursor))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid file cursor %q", cursor)
	}
	return n, nil
}

type stream struct {
	records  []map[string]any
	next     int
	keywords []string
}

func (s *stream) Next(ctx context.Context) (*source.RawCandidate, error) {
	for s.next < len(s.records) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		idx := s.next
		s.next++

		record := s.records[idx]
		if !s.matches(record) {
			continue
		}

		id := strings.TrimSpace(fmt.Sprint(record["id"]))
		if record["id"] == nil || id == "" {
			id = strconv.Itoa(idx)
		}

		return &source.RawCandidate{
			ExternalID: id,
			Source:     name,
			Payload:    record,
			Cursor:     source.Cursor(strconv.Itoa(s.next)),
		}, nil
	}

	return nil, source.ErrExhausted
}

func (s *stream) matches(record map[string]any) bool {
	if len(s.keywords) == 0 {
		return true
	}
	data, err := json.Marshal(record)
	if err != nil {
		return false
	}
	text := strings.ToLower(string(data))
	for _, kw := range s.keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func (s *stream) Close() error {
	return nil
}

func lowerAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
