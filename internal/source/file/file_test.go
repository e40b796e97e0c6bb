package file

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spigell/talent-screener/internal/source"
)

const fixture = `[
  {"id": "a", "name": "Ann", "email": "ann@example.com", "skills": ["Go"]},
  {"name": "Bob", "phone": "+1 555 0100", "skills": ["Python"]},
  {"id": "c", "name": "Cid", "email": "cid@example.com", "skills": ["Python", "ML"]}
]`

func writeFixture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "candidates.json")
	if err := os.WriteFile(path, []byte(fixture), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func drain(t *testing.T, stream source.Stream) []*source.RawCandidate {
	t.Helper()
	var out []*source.RawCandidate
	for {
		c, err := stream.Next(context.Background())
		if errors.Is(err, source.ErrExhausted) {
			return out
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		out = append(out, c)
	}
}

func TestSearchYieldsAllRecords(t *testing.T) {
	a := New(writeFixture(t), nil)

	stream, err := a.Search(context.Background(), source.Query{}, "")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	got := drain(t, stream)

	if len(got) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(got))
	}
	if got[0].ExternalID != "a" || got[1].ExternalID != "1" {
		t.Fatalf("unexpected ids: %q, %q", got[0].ExternalID, got[1].ExternalID)
	}
	if got[2].Cursor != "3" {
		t.Fatalf("unexpected last cursor %q", got[2].Cursor)
	}
}

func TestSearchRestartsFromCursor(t *testing.T) {
	a := New(writeFixture(t), nil)

	stream, err := a.Search(context.Background(), source.Query{}, "2")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	got := drain(t, stream)

	if len(got) != 1 || got[0].ExternalID != "c" {
		t.Fatalf("expected only candidate c after cursor, got %+v", got)
	}
}

func TestSearchFiltersByKeywords(t *testing.T) {
	a := New(writeFixture(t), nil)

	stream, err := a.Search(context.Background(), source.Query{Keywords: []string{"python"}}, "")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	got := drain(t, stream)

	if len(got) != 2 {
		t.Fatalf("expected 2 python candidates, got %d", len(got))
	}
	if got[0].Cursor != "2" {
		t.Fatalf("cursor must track file position, got %q", got[0].Cursor)
	}
}

func TestSearchRejectsBadCursor(t *testing.T) {
	a := New(writeFixture(t), nil)
	if _, err := a.Search(context.Background(), source.Query{}, "page:1"); err == nil {
		t.Fatal("expected error for foreign cursor")
	}
}
