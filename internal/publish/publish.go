// Package publish mirrors analysis results into a remote table. A SyncRecord
// per result makes repeated publishing update the same remote record.
package publish

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spigell/talent-screener/internal/model"
	"github.com/spigell/talent-screener/internal/ratelimit"
	"github.com/spigell/talent-screener/internal/retry"
	"github.com/spigell/talent-screener/internal/store"
	"go.uber.org/zap"
)

const defaultTimeout = 30 * time.Second

// ErrAuth is returned when the table rejects the credentials. It is not
// retried; the result is published again on the next explicit sync.
var ErrAuth = errors.New("sync authentication failed")

// TransientError wraps a failure worth retrying.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("sync %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a TransientError.
func Transient(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}

// Classify maps table errors to retry decisions.
func Classify(err error) retry.Decision {
	var transient *TransientError
	switch {
	case errors.Is(err, ErrAuth):
		return retry.Decision{}
	case errors.As(err, &transient), errors.Is(err, context.DeadlineExceeded):
		return retry.Decision{Retry: true, Budget: retry.BudgetTransient}
	default:
		return retry.Decision{}
	}
}

// Table is a remote record store.
type Table interface {
	Create(ctx context.Context, fields map[string]any) (string, error)
	Update(ctx context.Context, recordID string, fields map[string]any) error
}

// Entry is what gets published for one result.
type Entry struct {
	Result *model.AnalysisResult
	Resume *model.Resume
	Job    *model.Job
}

type Options struct {
	Limiter *ratelimit.Limiter
	Policy  retry.Policy
	Timeout time.Duration
	Logger  *zap.Logger
}

type Publisher struct {
	table   Table
	store   store.Store
	limiter *ratelimit.Limiter
	policy  retry.Policy
	timeout time.Duration
	logger  *zap.Logger
	locks   keyedMutex
	now     func() time.Time
}

func New(table Table, s store.Store, opts Options) *Publisher {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	return &Publisher{
		table:   table,
		store:   s,
		limiter: opts.Limiter,
		policy:  opts.Policy,
		timeout: opts.Timeout,
		logger:  opts.Logger,
		now:     time.Now,
	}
}

// Finder is implemented by tables that can look a record up by the result id
// it was published for. Find returns an empty id when there is none.
type Finder interface {
	Find(ctx context.Context, resultID string) (string, error)
}

// Upsert creates the remote record for a result, or updates the one created
// before. Calls for the same result are serialized.
//
// A pending SyncRecord with an empty RemoteID is saved before the remote
// create. If a call finds one, an earlier create may have reached the table,
// so the record is looked up through Finder before creating again. Tables
// without Finder are published at least once in that case.
func (p *Publisher) Upsert(ctx context.Context, e Entry) (*model.SyncRecord, error) {
	if e.Result == nil || e.Result.ID == "" {
		return nil, errors.New("result id is required")
	}

	unlock := p.locks.Lock(e.Result.ID)
	defer unlock()

	fields := Fields(e)

	rec, err := p.store.GetSyncRecord(ctx, e.Result.ID)
	switch {
	case err == nil && rec.RemoteID == "":
		remoteID, err := p.find(ctx, e.Result.ID)
		if err != nil {
			return nil, err
		}
		rec.RemoteID = remoteID
	case errors.Is(err, store.ErrNotFound):
		rec = &model.SyncRecord{ResultID: e.Result.ID}
		if err := p.store.SaveSyncRecord(ctx, rec); err != nil {
			return nil, fmt.Errorf("save pending sync record: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("get sync record: %w", err)
	}

	if rec.RemoteID != "" {
		_, err = retry.Do(ctx, p.policy, Classify, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, p.call(ctx, func(ctx context.Context) error {
				return p.table.Update(ctx, rec.RemoteID, fields)
			})
		}, p.notify(e.Result.ID))
		if err != nil {
			return nil, fmt.Errorf("update remote record %s: %w", rec.RemoteID, err)
		}
		p.logger.Debug("remote record updated", zap.String("result_id", e.Result.ID), zap.String("record_id", rec.RemoteID))
	} else {
		remoteID, err := p.create(ctx, e.Result.ID, fields)
		if err != nil {
			return nil, fmt.Errorf("create remote record: %w", err)
		}
		rec.RemoteID = remoteID
		p.logger.Debug("remote record created", zap.String("result_id", e.Result.ID), zap.String("record_id", remoteID))
	}

	rec.SyncedAt = p.now().UTC()
	if err := p.store.SaveSyncRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("save sync record: %w", err)
	}
	return rec, nil
}

// create adds the remote record. A retried create first looks for the record
// the failed attempt may have written.
func (p *Publisher) create(ctx context.Context, resultID string, fields map[string]any) (string, error) {
	finder, canFind := p.table.(Finder)
	attempt := 0

	return retry.Do(ctx, p.policy, Classify, func(ctx context.Context) (string, error) {
		attempt++
		if attempt > 1 && canFind {
			var found string
			err := p.call(ctx, func(ctx context.Context) error {
				var err error
				found, err = finder.Find(ctx, resultID)
				return err
			})
			if err != nil {
				return "", err
			}
			if found != "" {
				return found, nil
			}
		}

		var id string
		err := p.call(ctx, func(ctx context.Context) error {
			var err error
			id, err = p.table.Create(ctx, fields)
			return err
		})
		return id, err
	}, p.notify(resultID))
}

// find looks up the record of an interrupted create.
func (p *Publisher) find(ctx context.Context, resultID string) (string, error) {
	finder, ok := p.table.(Finder)
	if !ok {
		p.logger.Warn("previous create for the result may have succeeded, creating again", zap.String("result_id", resultID))
		return "", nil
	}

	remoteID, err := retry.Do(ctx, p.policy, Classify, func(ctx context.Context) (string, error) {
		var id string
		err := p.call(ctx, func(ctx context.Context) error {
			var err error
			id, err = finder.Find(ctx, resultID)
			return err
		})
		return id, err
	}, p.notify(resultID))
	if err != nil {
		return "", fmt.Errorf("find remote record: %w", err)
	}
	if remoteID != "" {
		p.logger.Debug("adopting remote record of an interrupted create", zap.String("result_id", resultID), zap.String("record_id", remoteID))
	}
	return remoteID, nil
}

func (p *Publisher) call(ctx context.Context, fn func(context.Context) error) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return fn(callCtx)
}

func (p *Publisher) notify(resultID string) retry.Notify {
	return func(n int, budget string, delay time.Duration, err error) {
		p.logger.Debug("retrying sync",
			zap.String("result_id", resultID),
			zap.Int("attempt", n),
			zap.String("budget", budget),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	}
}

// ResultIDField is the remote column holding the analysis result id.
const ResultIDField = "Result ID"

// Fields renders the remote record for an entry.
func Fields(e Entry) map[string]any {
	fields := map[string]any{
		ResultIDField: e.Result.ID,
		"Score":       e.Result.Score,
		"Rationale":   e.Result.Rationale,
		"Analyzed At": e.Result.UpdatedAt.UnixMilli(),
	}
	if e.Result.UpdatedAt.IsZero() {
		fields["Analyzed At"] = e.Result.CreatedAt.UnixMilli()
	}
	if e.Job != nil {
		fields["Job"] = e.Job.Title
	}
	if e.Resume != nil {
		fields["Candidate"] = e.Resume.Name
		fields["Email"] = e.Resume.Email
		fields["Phone"] = e.Resume.Phone
		fields["Skills"] = strings.Join(e.Resume.Skills, ", ")
		fields["Experience (years)"] = e.Resume.YearsOfExperience
		fields["Source"] = string(e.Resume.Source)
	}
	return fields
}

type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Lock locks key and returns its unlock func.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*lockEntry)
	}
	entry, ok := k.locks[key]
	if !ok {
		entry = &lockEntry{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
