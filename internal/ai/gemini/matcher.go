package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	_ "embed"

	"github.com/spigell/talent-screener/internal/ai"
	"github.com/spigell/talent-screener/internal/logger"
	"github.com/spigell/talent-screener/internal/model"
	"go.uber.org/zap"
)

const (
	provider            = "gemini"
	systemInstruction   = "You are a meticulous technical recruiter. You always answer with strict JSON."
	defaultMaxLogLength = 200
	resumeTextLimit     = 6000
)

//go:embed prompt.md
var promptTemplate string

type contentGenerator interface {
	GenerateContent(ctx context.Context, system, message string) (string, error)
	Model() string
}

// Matcher scores resumes against jobs with a Gemini generator.
type Matcher struct {
	generator contentGenerator
	logger    *zap.Logger
	maxLogLen int
}

var _ ai.Backend = (*Matcher)(nil)

func NewMatcher(generator contentGenerator, log *zap.Logger, maxLogLength int) *Matcher {
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}

	return &Matcher{
		generator: generator,
		logger:    logger.WithCommonFields(log, provider, generator.Model()),
		maxLogLen: maxLogLength,
	}
}

func (m *Matcher) Model() string {
	return m.generator.Model()
}

// Assess implements ai.Backend.
func (m *Matcher) Assess(ctx context.Context, resume *model.Resume, job *model.Job) (*ai.Assessment, error) {
	if resume == nil {
		return nil, fmt.Errorf("resume is required")
	}
	if job == nil {
		return nil, fmt.Errorf("job is required")
	}

	prompt, err := buildPrompt(resume, job)
	if err != nil {
		return nil, err
	}

	m.logger.Debug("gemini generate content request",
		zap.String("job_id", job.ID),
		zap.String("fingerprint", resume.Fingerprint),
		zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
		zap.String("prompt_preview", logger.TruncateForLog(prompt, m.maxLogLen)),
	)

	raw, err := m.generator.GenerateContent(ctx, systemInstruction, prompt)
	if err != nil {
		return nil, err
	}

	m.logger.Debug("gemini generate content response",
		zap.String("job_id", job.ID),
		zap.String("fingerprint", resume.Fingerprint),
		zap.Int("response_length", utf8.RuneCountInString(raw)),
		zap.String("response_preview", logger.TruncateForLog(raw, m.maxLogLen)),
	)

	assessment, err := parseResponse(raw)
	if err != nil {
		return nil, err
	}
	assessment.Raw = raw
	assessment.Model = m.generator.Model()
	return assessment, nil
}

func buildPrompt(resume *model.Resume, job *model.Job) (string, error) {
	text := resume.Text
	if runes := []rune(text); len(runes) > resumeTextLimit {
		text = string(runes[:resumeTextLimit])
	}

	resumeJSON, err := json.MarshalIndent(map[string]any{
		"name":                resume.Name,
		"skills":              resume.Skills,
		"years_of_experience": resume.YearsOfExperience,
		"summary":             resume.Summary,
		"text":                text,
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal resume payload: %w", err)
	}

	jobJSON, err := json.MarshalIndent(map[string]any{
		"title":                job.Title,
		"required_skills":      job.RequiredSkills,
		"preferred_skills":     job.PreferredSkills,
		"min_experience_years": job.MinExperienceYears,
		"education":            job.Education,
		"description":          job.Description,
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal job payload: %w", err)
	}

	template := promptTemplate
	if strings.TrimSpace(template) == "" {
		template = "Job:\n{{JOB_JSON}}\n\nResume:\n{{RESUME_JSON}}\n\nJSON Response:"
	}
	prompt := strings.ReplaceAll(template, "{{RESUME_JSON}}", string(resumeJSON))
	prompt = strings.ReplaceAll(prompt, "{{JOB_JSON}}", string(jobJSON))
	return prompt, nil
}

func parseResponse(raw string) (*ai.Assessment, error) {
	cleaned := extractJSON(raw)

	var data map[string]any
	if err := json.Unmarshal([]byte(cleaned), &data); err != nil {
		return nil, fmt.Errorf("%w: parse gemini response: %v", ai.ErrInvalidResponse, err)
	}

	score := coerceFloat(data["score"])
	if err := ai.ValidateScore(score); err != nil {
		return nil, err
	}

	rationale := coerceString(data["rationale"])
	if rationale == "" {
		rationale = coerceString(data["reason"])
	}
	if matched := coerceList(data["matched_skills"]); len(matched) > 0 {
		rationale = strings.TrimSpace(rationale + "\nMatched: " + strings.Join(matched, ", "))
	}
	if missing := coerceList(data["missing_skills"]); len(missing) > 0 {
		rationale = strings.TrimSpace(rationale + "\nMissing: " + strings.Join(missing, ", "))
	}

	return &ai.Assessment{Score: score, Rationale: rationale}, nil
}

func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSpace(raw)
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	if start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}"); start > 0 && end > start {
		raw = raw[start : end+1]
	}
	return strings.TrimSpace(strings.Trim(raw, "`"))
}

func coerceFloat(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case int:
		return float64(val)
	case string:
		trimmed := strings.TrimSuffix(strings.TrimSpace(val), "%")
		if trimmed == "" {
			return math.NaN()
		}
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return math.NaN()
		}
		return f
	default:
		return math.NaN()
	}
}

func coerceString(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case nil:
		return ""
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

func coerceList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := coerceString(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}
