// Package resume turns sourced records and uploaded documents into canonical
// resumes and derives their identity fingerprint.
package resume

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spigell/talent-screener/internal/model"
	"github.com/spigell/talent-screener/internal/source"
)

// ErrUnparsableInput is returned when a name and at least one contact cannot
// be extracted.
var ErrUnparsableInput = errors.New("unparsable input")

const summaryLimit = 500

// fields is the payload layout shared by all sources.
type fields struct {
	Name              string   `mapstructure:"name"`
	Email             string   `mapstructure:"email"`
	Phone             string   `mapstructure:"phone"`
	Skills            []string `mapstructure:"skills"`
	YearsOfExperience float64  `mapstructure:"years_of_experience"`
	Summary           string   `mapstructure:"summary"`
	Text              string   `mapstructure:"text"`
}

// Normalize converts a sourced record into a Resume tagged as scraped.
func Normalize(raw *source.RawCandidate) (*model.Resume, error) {
	if raw == nil {
		return nil, fmt.Errorf("%w: empty candidate", ErrUnparsableInput)
	}

	var f fields
	cfg := &mapstructure.DecoderConfig{
		Result:           &f,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToSliceHookFunc(","),
	}
	decoder, err := mapstructure.NewDecoder(cfg)
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw.Payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparsableInput, err)
	}

	r, err := build(f, model.SourceScraped)
	if err != nil {
		return nil, fmt.Errorf("candidate %q: %w", raw.ExternalID, err)
	}
	r.ExternalID = raw.ExternalID
	return r, nil
}

// FromText builds a manual Resume from an extracted document body.
func FromText(text, fallbackName string) (*model.Resume, error) {
	text = cleanText(text)
	f := fields{
		Name: nameFromText(text),
		Text: text,
	}
	if f.Name == "" {
		f.Name = fallbackName
	}
	return build(f, model.SourceManual)
}

func build(f fields, tag model.SourceTag) (*model.Resume, error) {
	text := cleanText(f.Text)

	r := &model.Resume{
		Name:              strings.Join(strings.Fields(f.Name), " "),
		Email:             normalizeEmail(f.Email),
		Phone:             normalizePhone(f.Phone),
		Skills:            normalizeSkills(f.Skills),
		YearsOfExperience: f.YearsOfExperience,
		Summary:           strings.TrimSpace(f.Summary),
		Text:              text,
		Source:            tag,
	}

	if r.Email == "" {
		r.Email = extractEmail(text)
	}
	if r.Phone == "" {
		r.Phone = extractPhone(text)
	}
	if r.YearsOfExperience <= 0 {
		r.YearsOfExperience = extractYears(text)
	}
	if r.Summary == "" {
		r.Summary = summarize(text)
	}

	if r.Name == "" {
		return nil, fmt.Errorf("%w: missing name", ErrUnparsableInput)
	}
	if r.Email == "" && r.Phone == "" {
		return nil, fmt.Errorf("%w: missing email and phone", ErrUnparsableInput)
	}

	r.Fingerprint = Fingerprint(r)
	return r, nil
}

// Fingerprint returns the identity used for deduplication: normalized email
// and phone when any is known, otherwise name and source tag. Records that
// share an email but differ in phone presence get different fingerprints.
func Fingerprint(r *model.Resume) string {
	if r == nil {
		return ""
	}

	var key string
	email := normalizeEmail(r.Email)
	phone := normalizePhone(r.Phone)
	if email != "" || phone != "" {
		key = "contact:" + email + "|" + phone
	} else {
		key = "name:" + strings.ToLower(strings.Join(strings.Fields(r.Name), " ")) + "|" + string(r.Source)
	}
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func normalizeSkills(skills []string) []string {
	seen := make(map[string]struct{}, len(skills))
	out := make([]string, 0, len(skills))
	for _, s := range skills {
		s = NormalizeSkill(s)
		if s == "" {
			continue
		}
		key := strings.ToLower(s)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func summarize(text string) string {
	runes := []rune(strings.ReplaceAll(text, "\n", " "))
	if len(runes) <= summaryLimit {
		return string(runes)
	}
	return string(runes[:summaryLimit]) + "..."
}
