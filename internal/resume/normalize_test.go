package resume

import (
	"errors"
	"strings"
	"testing"

	"github.com/spigell/talent-screener/internal/model"
	"github.com/spigell/talent-screener/internal/source"
)

func TestNormalizePayload(t *testing.T) {
	raw := &source.RawCandidate{
		ExternalID: "42",
		Source:     "portal",
		Payload: map[string]any{
			"name":                "  Jane   Doe ",
			"email":               "Jane.Doe@Example.com",
			"phone":               "+1 (555) 010-0199",
			"skills":              "golang, Python, python, k8s",
			"years_of_experience": "6",
			"summary":             "Backend engineer",
		},
	}

	r, err := Normalize(raw)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}

	if r.Name != "Jane Doe" {
		t.Fatalf("unexpected name %q", r.Name)
	}
	if r.Email != "jane.doe@example.com" {
		t.Fatalf("unexpected email %q", r.Email)
	}
	if r.Phone != "+15550100199" {
		t.Fatalf("unexpected phone %q", r.Phone)
	}
	if strings.Join(r.Skills, ",") != "Go,Kubernetes,Python" {
		t.Fatalf("unexpected skills %v", r.Skills)
	}
	if r.YearsOfExperience != 6 {
		t.Fatalf("unexpected years %v", r.YearsOfExperience)
	}
	if r.Source != model.SourceScraped || r.ExternalID != "42" {
		t.Fatalf("unexpected source fields: %+v", r)
	}
	if r.Fingerprint == "" {
		t.Fatal("expected fingerprint to be set")
	}
}

func TestNormalizeExtractsFromText(t *testing.T) {
	raw := &source.RawCandidate{Payload: map[string]any{
		"name": "Li Wei",
		"text": "Contact: li.wei@mail.org, +86 138 0013 8000\nWorked 5 years in data engineering 2016-2021",
	}}

	r, err := Normalize(raw)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if r.Email != "li.wei@mail.org" {
		t.Fatalf("unexpected email %q", r.Email)
	}
	if r.Phone != "+8613800138000" {
		t.Fatalf("unexpected phone %q", r.Phone)
	}
	if r.YearsOfExperience != 5 {
		t.Fatalf("unexpected years %v", r.YearsOfExperience)
	}
	if r.Summary == "" {
		t.Fatal("expected summary from text")
	}
}

func TestNormalizeRejectsIncompleteRecords(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]any
	}{
		{name: "no name", payload: map[string]any{"email": "a@b.io"}},
		{name: "no contact", payload: map[string]any{"name": "Ann", "text": "no contacts here"}},
		{name: "bad types", payload: map[string]any{"name": "Ann", "email": "a@b.io", "years_of_experience": "many"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(&source.RawCandidate{Payload: tt.payload})
			if !errors.Is(err, ErrUnparsableInput) {
				t.Fatalf("expected ErrUnparsableInput, got %v", err)
			}
		})
	}
}

func TestFingerprintIsStable(t *testing.T) {
	a, err := Normalize(&source.RawCandidate{Payload: map[string]any{
		"name": "Ann Lee", "email": "ANN@example.com ", "phone": "555-010-0100",
	}})
	if err != nil {
		t.Fatalf("normalize a: %v", err)
	}
	b, err := Normalize(&source.RawCandidate{Payload: map[string]any{
		"name": "Annie Lee", "email": "ann@example.com", "phone": "(555) 010 0100",
	}})
	if err != nil {
		t.Fatalf("normalize b: %v", err)
	}
	if a.Fingerprint != b.Fingerprint {
		t.Fatal("expected equal contacts to share a fingerprint")
	}

	c := &model.Resume{Name: "Ann Lee", Source: model.SourceManual}
	d := &model.Resume{Name: "ann  lee", Source: model.SourceManual}
	e := &model.Resume{Name: "Ann Lee", Source: model.SourceScraped}
	if Fingerprint(c) != Fingerprint(d) {
		t.Fatal("expected name fallback to ignore case and spacing")
	}
	if Fingerprint(c) == Fingerprint(e) {
		t.Fatal("expected name fallback to include source")
	}
	if Fingerprint(c) == a.Fingerprint {
		t.Fatal("contact and name fingerprints must differ")
	}
}

func TestDocumentFromText(t *testing.T) {
	body := "Maria Garcia\nmaria@garcia.dev\nSenior ML engineer with 8+ years of experience\n"

	r, err := NormalizeDocument("maria_resume.txt", strings.NewReader(body))
	if err != nil {
		t.Fatalf("normalize document: %v", err)
	}
	if r.Name != "Maria Garcia" || r.Email != "maria@garcia.dev" {
		t.Fatalf("unexpected resume %+v", r)
	}
	if r.YearsOfExperience != 8 {
		t.Fatalf("unexpected years %v", r.YearsOfExperience)
	}
	if r.Source != model.SourceManual {
		t.Fatalf("unexpected source %q", r.Source)
	}
}

func TestDocumentNameFallsBackToFilename(t *testing.T) {
	body := "Experienced engineer, contact me at j.smith@mail.com or via the form below please."

	r, err := NormalizeDocument("John_Smith_CV_v2.md", strings.NewReader(body))
	if err != nil {
		t.Fatalf("normalize document: %v", err)
	}
	if r.Name != "John Smith" {
		t.Fatalf("unexpected name %q", r.Name)
	}
}

func TestDocumentRejectsUnsupportedType(t *testing.T) {
	_, err := NormalizeDocument("photo.png", strings.NewReader("x"))
	if !errors.Is(err, ErrUnparsableInput) {
		t.Fatalf("expected ErrUnparsableInput, got %v", err)
	}
}
