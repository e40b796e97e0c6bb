package resume

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?\d[\d\s\-().]{7,}\d`)
	controlChars = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)
	fileNoise    = regexp.MustCompile(`(?i)\b(resume|cv|curriculum|vitae|final|v\d+)\b`)
)

var yearsPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\+?\s*(?:years?|yrs?)\b`),
	regexp.MustCompile(`(?i)experience\D{0,20}(\d+(?:\.\d+)?)`),
}

var skillAliases = map[string]string{
	"js":               "JavaScript",
	"javascript":       "JavaScript",
	"ts":               "TypeScript",
	"typescript":       "TypeScript",
	"py":               "Python",
	"python":           "Python",
	"golang":           "Go",
	"go":               "Go",
	"reactjs":          "React",
	"react":            "React",
	"vuejs":            "Vue.js",
	"vue":              "Vue.js",
	"nodejs":           "Node.js",
	"node":             "Node.js",
	"ml":               "ML",
	"machine learning": "ML",
	"k8s":              "Kubernetes",
	"kubernetes":       "Kubernetes",
	"postgres":         "PostgreSQL",
	"postgresql":       "PostgreSQL",
}

func extractEmail(text string) string {
	return strings.ToLower(emailPattern.FindString(text))
}

func extractPhone(text string) string {
	for _, match := range phonePattern.FindAllString(text, -1) {
		// Shorter runs in free text are usually year ranges.
		if phone := normalizePhone(match); len(strings.TrimPrefix(phone, "+")) >= 9 {
			return phone
		}
	}
	return ""
}

func extractYears(text string) float64 {
	for _, pattern := range yearsPatterns {
		m := pattern.FindStringSubmatch(text)
		if len(m) < 2 {
			continue
		}
		years, err := strconv.ParseFloat(m[1], 64)
		if err == nil && years >= 0 && years < 70 {
			return years
		}
	}
	return 0
}

// normalizePhone keeps digits and a leading plus. Numbers shorter than seven
// digits are rejected.
func normalizePhone(raw string) string {
	raw = strings.TrimSpace(raw)
	var b strings.Builder
	digits := 0
	for i, r := range raw {
		switch {
		case r == '+' && i == 0:
			b.WriteRune(r)
		case unicode.IsDigit(r):
			b.WriteRune(r)
			digits++
		}
	}
	if digits < 7 || digits > 15 {
		return ""
	}
	return b.String()
}

func normalizeEmail(raw string) string {
	email := strings.ToLower(strings.TrimSpace(raw))
	if !emailPattern.MatchString(email) {
		return ""
	}
	return email
}

// NormalizeSkill maps common spellings to one canonical name.
func NormalizeSkill(skill string) string {
	skill = strings.Join(strings.Fields(skill), " ")
	if skill == "" {
		return ""
	}
	if canonical, ok := skillAliases[strings.ToLower(skill)]; ok {
		return canonical
	}
	return skill
}

// nameFromFilename guesses a name from an uploaded file name such as
// "Jane_Doe_resume_v2.pdf".
func nameFromFilename(filename string) string {
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	base = strings.NewReplacer("_", " ", "-", " ", ".", " ").Replace(base)
	base = fileNoise.ReplaceAllString(base, " ")
	base = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsSpace(r) {
			return r
		}
		return -1
	}, base)
	name := strings.Join(strings.Fields(base), " ")
	if len([]rune(name)) < 2 {
		return ""
	}
	return name
}

// nameFromText takes the first short line made of letters only.
func nameFromText(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		words := strings.Fields(line)
		if len(words) > 4 {
			return ""
		}
		for _, r := range line {
			if !unicode.IsLetter(r) && !unicode.IsSpace(r) && r != '-' && r != '\'' && r != '.' {
				return ""
			}
		}
		return strings.Join(words, " ")
	}
	return ""
}

func cleanText(text string) string {
	text = controlChars.ReplaceAllString(text, "")
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
