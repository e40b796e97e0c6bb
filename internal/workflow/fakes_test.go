package workflow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/spigell/talent-screener/internal/ai"
	"github.com/spigell/talent-screener/internal/model"
	"github.com/spigell/talent-screener/internal/source"
)

// fakeSource serves payloads by index. The cursor is the index of the next
// record.
type fakeSource struct {
	mu       sync.Mutex
	items    []map[string]any
	gates    map[int]chan struct{}
	reached  chan int
	failures map[int][]error
	cursors  []source.Cursor
}

func newFakeSource(items ...map[string]any) *fakeSource {
	return &fakeSource{
		items:    items,
		gates:    make(map[int]chan struct{}),
		reached:  make(chan int, 16),
		failures: make(map[int][]error),
	}
}

// hold makes Next block before returning record i until the returned func is
// called.
func (s *fakeSource) hold(i int) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	gate := make(chan struct{})
	s.gates[i] = gate
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.gates, i)
			s.mu.Unlock()
			close(gate)
		})
	}
}

// fail makes Next return errs, one per call, before returning record i.
func (s *fakeSource) fail(i int, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[i] = append(s.failures[i], errs...)
}

func (s *fakeSource) searches() []source.Cursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]source.Cursor(nil), s.cursors...)
}

func (s *fakeSource) Name() string { return "fake" }

func (s *fakeSource) Search(_ context.Context, _ source.Query, cursor source.Cursor) (source.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors = append(s.cursors, cursor)

	pos := 0
	if cursor != "" {
		n, err := strconv.Atoi(string(cursor))
		if err != nil {
			return nil, err
		}
		pos = n
	}
	return &fakeStream{src: s, pos: pos}, nil
}

type fakeStream struct {
	src *fakeSource
	pos int
}

func (st *fakeStream) Next(ctx context.Context) (*source.RawCandidate, error) {
	s := st.src
	s.mu.Lock()
	i := st.pos
	if errs := s.failures[i]; len(errs) > 0 {
		s.failures[i] = errs[1:]
		s.mu.Unlock()
		return nil, errs[0]
	}
	gate := s.gates[i]
	s.mu.Unlock()

	if gate != nil {
		select {
		case s.reached <- i:
		default:
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if i >= len(s.items) {
		return nil, source.ErrExhausted
	}
	st.pos++
	return &source.RawCandidate{
		ExternalID: fmt.Sprintf("ext-%d", i),
		Source:     "fake",
		Payload:    s.items[i],
		Cursor:     source.Cursor(strconv.Itoa(st.pos)),
	}, nil
}

func (st *fakeStream) Close() error { return nil }

// fakeBackend scores by name and records calls per resume name.
type fakeBackend struct {
	mu      sync.Mutex
	calls   map[string]int
	scores  map[string]float64
	errs    map[string][]error
	gates   map[string]chan struct{}
	started chan string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		calls:   make(map[string]int),
		scores:  make(map[string]float64),
		errs:    make(map[string][]error),
		gates:   make(map[string]chan struct{}),
		started: make(chan string, 16),
	}
}

func (b *fakeBackend) hold(name string) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	gate := make(chan struct{})
	b.gates[name] = gate
	return func() { close(gate) }
}

func (b *fakeBackend) Model() string { return "fake-model" }

func (b *fakeBackend) Assess(ctx context.Context, r *model.Resume, _ *model.Job) (*ai.Assessment, error) {
	b.mu.Lock()
	b.calls[r.Name]++
	gate := b.gates[r.Name]
	var err error
	if errs := b.errs[r.Name]; len(errs) > 0 {
		err = errs[0]
		b.errs[r.Name] = errs[1:]
	}
	score, ok := b.scores[r.Name]
	b.mu.Unlock()

	select {
	case b.started <- r.Name:
	default:
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		score = 70
	}
	return &ai.Assessment{Score: score, Rationale: "matches " + r.Name}, nil
}

func (b *fakeBackend) callsFor(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[name]
}

func (b *fakeBackend) totalCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := 0
	for _, n := range b.calls {
		total += n
	}
	return total
}

// fakeTable is a remote table whose failures can be switched on.
type fakeTable struct {
	mu      sync.Mutex
	creates int
	updates int
	err     error
}

func (t *fakeTable) setErr(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.err = err
}

func (t *fakeTable) Create(context.Context, map[string]any) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return "", t.err
	}
	t.creates++
	return fmt.Sprintf("rec-%d", t.creates), nil
}

func (t *fakeTable) Update(context.Context, string, map[string]any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return t.err
	}
	t.updates++
	return nil
}

func (t *fakeTable) counts() (int, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.creates, t.updates
}

func candidate(name, email string) map[string]any {
	return map[string]any{
		"name":                name,
		"email":               email,
		"skills":              "python, ml",
		"years_of_experience": "4",
	}
}

var errBoom = errors.New("boom")

const waitTimeout = 5 * time.Second
