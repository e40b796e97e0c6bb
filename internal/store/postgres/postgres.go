// Package postgres is a Store backed by PostgreSQL through the pgx driver.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spigell/talent-screener/internal/model"
	"github.com/spigell/talent-screener/internal/store"
)

const pingTimeout = 5 * time.Second

type Options struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ store.Store = (*Store)(nil)

// Open connects to the database and checks the connection.
func Open(ctx context.Context, opts Options) (*Store, error) {
	db, err := sql.Open("pgx", opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func mapError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func toJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}

func fromJSON(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

const jobColumns = `id, title, required_skills, preferred_skills, min_experience_years, education, description, created_at`

func scanJob(row scanner) (*model.Job, error) {
	var (
		job                 model.Job
		required, preferred []byte
	)
	if err := row.Scan(&job.ID, &job.Title, &required, &preferred, &job.MinExperienceYears, &job.Education, &job.Description, &job.CreatedAt); err != nil {
		return nil, err
	}
	if err := fromJSON(required, &job.RequiredSkills); err != nil {
		return nil, fmt.Errorf("decode required skills: %w", err)
	}
	if err := fromJSON(preferred, &job.PreferredSkills); err != nil {
		return nil, fmt.Errorf("decode preferred skills: %w", err)
	}
	return &job, nil
}

func (s *Store) CreateJob(ctx context.Context, job *model.Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.now().UTC()
	}

	required, err := toJSON(nonNil(job.RequiredSkills))
	if err != nil {
		return err
	}
	preferred, err := toJSON(nonNil(job.PreferredSkills))
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (`+jobColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		job.ID, job.Title, required, preferred, job.MinExperienceYears, job.Education, job.Description, job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id string) (*model.Job, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err)
	}
	return job, nil
}

func (s *Store) ListJobs(ctx context.Context) ([]model.Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]model.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

const resumeColumns = `id, fingerprint, external_id, name, email, phone, skills, years_of_experience, summary, body, source, created_at`

func scanResume(row scanner) (*model.Resume, error) {
	var (
		r      model.Resume
		skills []byte
		source string
	)
	if err := row.Scan(&r.ID, &r.Fingerprint, &r.ExternalID, &r.Name, &r.Email, &r.Phone, &skills, &r.YearsOfExperience, &r.Summary, &r.Text, &source, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.Source = model.SourceTag(source)
	if err := fromJSON(skills, &r.Skills); err != nil {
		return nil, fmt.Errorf("decode skills: %w", err)
	}
	return &r, nil
}

// SaveResume inserts the resume or returns the one stored under the same
// fingerprint.
func (s *Store) SaveResume(ctx context.Context, r *model.Resume) (*model.Resume, error) {
	id := r.ID
	if id == "" {
		id = uuid.NewString()
	}
	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now().UTC()
	}
	skills, err := toJSON(nonNil(r.Skills))
	if err != nil {
		return nil, err
	}

	stored, err := scanResume(s.db.QueryRowContext(ctx, `
		INSERT INTO resumes (`+resumeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (fingerprint) DO UPDATE SET fingerprint = EXCLUDED.fingerprint
		RETURNING `+resumeColumns,
		id, r.Fingerprint, r.ExternalID, r.Name, r.Email, r.Phone, skills, r.YearsOfExperience, r.Summary, r.Text, string(r.Source), createdAt,
	))
	if err != nil {
		return nil, fmt.Errorf("upsert resume: %w", err)
	}
	return stored, nil
}

func (s *Store) GetResume(ctx context.Context, id string) (*model.Resume, error) {
	r, err := scanResume(s.db.QueryRowContext(ctx, `SELECT `+resumeColumns+` FROM resumes WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err)
	}
	return r, nil
}

const resultColumns = `id, resume_id, job_id, run_id, fingerprint, score, rationale, model, created_at, updated_at`

func scanResult(row scanner) (*model.AnalysisResult, error) {
	var res model.AnalysisResult
	if err := row.Scan(&res.ID, &res.ResumeID, &res.JobID, &res.RunID, &res.Fingerprint, &res.Score, &res.Rationale, &res.Model, &res.CreatedAt, &res.UpdatedAt); err != nil {
		return nil, err
	}
	return &res, nil
}

// SaveResult upserts by job and fingerprint. A superseded result keeps its id
// and creation time.
func (s *Store) SaveResult(ctx context.Context, res *model.AnalysisResult) (*model.AnalysisResult, error) {
	now := s.now().UTC()
	id := res.ID
	if id == "" {
		id = uuid.NewString()
	}
	createdAt := res.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	stored, err := scanResult(s.db.QueryRowContext(ctx, `
		INSERT INTO analysis_results (`+resultColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (job_id, fingerprint) DO UPDATE SET
			resume_id = EXCLUDED.resume_id,
			run_id = EXCLUDED.run_id,
			score = EXCLUDED.score,
			rationale = EXCLUDED.rationale,
			model = EXCLUDED.model,
			updated_at = EXCLUDED.updated_at
		RETURNING `+resultColumns,
		id, res.ResumeID, res.JobID, res.RunID, res.Fingerprint, res.Score, res.Rationale, res.Model, createdAt, now,
	))
	if err != nil {
		return nil, fmt.Errorf("upsert result: %w", err)
	}
	return stored, nil
}

func (s *Store) FindResult(ctx context.Context, jobID, fingerprint string) (*model.AnalysisResult, error) {
	res, err := scanResult(s.db.QueryRowContext(ctx,
		`SELECT `+resultColumns+` FROM analysis_results WHERE job_id = $1 AND fingerprint = $2`,
		jobID, fingerprint,
	))
	if err != nil {
		return nil, mapError(err)
	}
	return res, nil
}

func (s *Store) ListResults(ctx context.Context, jobID string) ([]model.AnalysisResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+resultColumns+` FROM analysis_results WHERE job_id = $1 ORDER BY score DESC, id`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var out []model.AnalysisResult
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *res)
	}
	return out, rows.Err()
}

const runColumns = `id, job_id, job, params, status, cursor, counts, error, version, created_at, updated_at, completed_at`

func scanRun(row scanner) (*model.WorkflowRun, error) {
	var (
		run                 model.WorkflowRun
		job, params, counts []byte
		status              string
		completedAt         sql.NullTime
	)
	if err := row.Scan(&run.ID, &run.JobID, &job, &params, &status, &run.Cursor, &counts, &run.Error, &run.Version, &run.CreatedAt, &run.UpdatedAt, &completedAt); err != nil {
		return nil, err
	}
	run.Status = model.RunStatus(status)
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	if err := fromJSON(job, &run.Job); err != nil {
		return nil, fmt.Errorf("decode job snapshot: %w", err)
	}
	if err := fromJSON(params, &run.Params); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	if err := fromJSON(counts, &run.Counts); err != nil {
		return nil, fmt.Errorf("decode counts: %w", err)
	}
	return &run, nil
}

func runDocuments(run *model.WorkflowRun) (job, params, counts []byte, err error) {
	if job, err = toJSON(run.Job); err != nil {
		return nil, nil, nil, err
	}
	if params, err = toJSON(run.Params); err != nil {
		return nil, nil, nil, err
	}
	if counts, err = toJSON(run.Counts); err != nil {
		return nil, nil, nil, err
	}
	return job, params, counts, nil
}

func (s *Store) CreateRun(ctx context.Context, run *model.WorkflowRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	now := s.now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now
	run.Version = 1

	job, params, counts, err := runDocuments(run)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflow_runs (`+runColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		run.ID, run.JobID, job, params, string(run.Status), run.Cursor, counts, run.Error, run.Version, run.CreatedAt, run.UpdatedAt, run.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// UpdateRun writes the run if its version matches the stored one and bumps
// the version.
func (s *Store) UpdateRun(ctx context.Context, run *model.WorkflowRun) error {
	job, params, counts, err := runDocuments(run)
	if err != nil {
		return err
	}
	now := s.now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE workflow_runs SET
			job = $3, params = $4, status = $5, cursor = $6, counts = $7, error = $8,
			version = version + 1, updated_at = $9, completed_at = $10
		WHERE id = $1 AND version = $2`,
		run.ID, run.Version, job, params, string(run.Status), run.Cursor, counts, run.Error, now, run.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM workflow_runs WHERE id = $1)`, run.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check run: %w", err)
		}
		if !exists {
			return store.ErrNotFound
		}
		return store.ErrConflict
	}

	run.Version++
	run.UpdatedAt = now
	return nil
}

func (s *Store) GetRun(ctx context.Context, id string) (*model.WorkflowRun, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM workflow_runs WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err)
	}
	return run, nil
}

func (s *Store) ListRuns(ctx context.Context, jobID string) ([]model.WorkflowRun, error) {
	return s.queryRuns(ctx, `SELECT `+runColumns+` FROM workflow_runs WHERE job_id = $1 ORDER BY created_at DESC, id DESC`, jobID)
}

func (s *Store) ListRunsByStatus(ctx context.Context, statuses ...model.RunStatus) ([]model.WorkflowRun, error) {
	if len(statuses) == 0 {
		return s.queryRuns(ctx, `SELECT `+runColumns+` FROM workflow_runs ORDER BY created_at DESC, id DESC`)
	}

	placeholders := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, st := range statuses {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = string(st)
	}
	return s.queryRuns(ctx,
		`SELECT `+runColumns+` FROM workflow_runs WHERE status IN (`+strings.Join(placeholders, ", ")+`) ORDER BY created_at DESC, id DESC`,
		args...,
	)
}

func (s *Store) queryRuns(ctx context.Context, query string, args ...any) ([]model.WorkflowRun, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []model.WorkflowRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

func (s *Store) GetSyncRecord(ctx context.Context, resultID string) (*model.SyncRecord, error) {
	var rec model.SyncRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT result_id, remote_id, synced_at FROM sync_records WHERE result_id = $1`, resultID,
	).Scan(&rec.ResultID, &rec.RemoteID, &rec.SyncedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &rec, nil
}

func (s *Store) SaveSyncRecord(ctx context.Context, rec *model.SyncRecord) error {
	if rec.SyncedAt.IsZero() {
		rec.SyncedAt = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_records (result_id, remote_id, synced_at) VALUES ($1, $2, $3)
		ON CONFLICT (result_id) DO UPDATE SET remote_id = EXCLUDED.remote_id, synced_at = EXCLUDED.synced_at`,
		rec.ResultID, rec.RemoteID, rec.SyncedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert sync record: %w", err)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
