// Package memstore is an in-memory domain.Store. A single mutex makes every
// operation atomic, which gives TryLease the same compare-and-set semantics
// as the durable backends. Intended for tests and single-process demos.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/SirClappington/jobexec/internal/clock"
	"github.com/SirClappington/jobexec/internal/domain"
)

var _ domain.Store = (*Store)(nil)

// Store keeps every record set in maps keyed by id.
type Store struct {
	mu sync.Mutex

	jobs     map[domain.Kind]map[string]*domain.Job
	dead     map[string]*domain.DeadLetterJob
	historic map[string]*domain.HistoricJob
	// ids holds every id ever created; ids are never reused.
	ids map[string]struct{}

	clock clock.Clock
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock that stamps create times.
func WithClock(c clock.Clock) Option { return func(s *Store) { s.clock = c } }

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		jobs:     make(map[domain.Kind]map[string]*domain.Job, len(domain.Kinds)),
		dead:     make(map[string]*domain.DeadLetterJob),
		historic: make(map[string]*domain.HistoricJob),
		ids:      make(map[string]struct{}),
		clock:    clock.System{},
	}
	for _, k := range domain.Kinds {
		s.jobs[k] = make(map[string]*domain.Job)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() error { return nil }

func (s *Store) set(kind domain.Kind) (map[string]*domain.Job, error) {
	m, ok := s.jobs[kind]
	if !ok {
		return nil, domain.ErrInvalidKind
	}
	return m, nil
}

// CreateJob stores a copy of j. An empty ID is filled in. An id already
// used by any job, live or finished, is rejected.
func (s *Store) CreateJob(_ context.Context, j *domain.Job) error {
	if err := j.Prepare(s.clock.Now()); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.set(j.Kind)
	if err != nil {
		return err
	}
	if _, used := s.ids[j.ID]; used {
		return domain.ErrJobAlreadyExists
	}
	s.ids[j.ID] = struct{}{}
	m[j.ID] = j.Clone()
	return nil
}

// GetJob returns a copy of the job.
func (s *Store) GetJob(_ context.Context, kind domain.Kind, id string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.set(kind)
	if err != nil {
		return nil, err
	}
	j, ok := m[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return j.Clone(), nil
}

// FindAcquirableJobs returns unleased due jobs ordered by due date.
func (s *Store) FindAcquirableJobs(_ context.Context, kind domain.Kind, now time.Time, maxResults int) ([]*domain.Job, error) {
	return s.page(kind, maxResults, func(j *domain.Job) bool { return j.Acquirable(now) },
		func(a, b *domain.Job) int { return a.DueDate.Compare(b.DueDate) })
}

// FindExpiredJobs returns leased jobs whose expiration is before now.
func (s *Store) FindExpiredJobs(_ context.Context, kind domain.Kind, now time.Time, maxResults int) ([]*domain.Job, error) {
	return s.page(kind, maxResults, func(j *domain.Job) bool { return j.Expired(now) },
		func(a, b *domain.Job) int { return a.LockExpirationTime.Compare(*b.LockExpirationTime) })
}

func (s *Store) page(kind domain.Kind, limit int, keep func(*domain.Job) bool, cmp func(a, b *domain.Job) int) ([]*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.set(kind)
	if err != nil {
		return nil, err
	}

	out := make([]*domain.Job, 0)
	for _, j := range m {
		if keep(j) {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if c := cmp(out[a], out[b]); c != 0 {
			return c < 0
		}
		return out[a].ID < out[b].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	for i, j := range out {
		out[i] = j.Clone()
	}
	return out, nil
}

// TryLease leases the job if nobody holds it.
func (s *Store) TryLease(_ context.Context, kind domain.Kind, id, owner string, expiration time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.set(kind)
	if err != nil {
		return false, err
	}
	j, ok := m[id]
	if !ok || j.Leased() {
		return false, nil
	}
	j.Lease(owner, expiration)
	return true, nil
}

// ClearLease drops any lease on the job.
func (s *Store) ClearLease(_ context.Context, kind domain.Kind, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.set(kind)
	if err != nil {
		return false, err
	}
	j, ok := m[id]
	if !ok || !j.Leased() {
		return false, nil
	}
	j.ClearLease()
	return true, nil
}

// ApplyOutcome finalizes or reschedules the job.
func (s *Store) ApplyOutcome(_ context.Context, kind domain.Kind, id string, o domain.Outcome) error {
	if err := o.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.set(kind)
	if err != nil {
		return err
	}
	j, ok := m[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	if !j.OwnedBy(o.Owner) {
		return domain.ErrLeaseLost
	}

	switch o.Type {
	case domain.OutcomeComplete:
		delete(m, id)
	case domain.OutcomeArchive:
		s.historic[id] = o.Historic(j)
		delete(m, id)
	case domain.OutcomeDeadLetter:
		s.dead[id] = o.DeadLetter(j)
		delete(m, id)
	case domain.OutcomeRetry, domain.OutcomeReschedule:
		o.ApplyTo(j)
	}
	return nil
}

// ListJobs returns jobs of kind matching f.
func (s *Store) ListJobs(_ context.Context, kind domain.Kind, f domain.Filter) ([]*domain.Job, error) {
	if err := f.Validate(domain.SetJobs); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.set(kind)
	if err != nil {
		return nil, err
	}
	all := make([]*domain.Job, 0, len(m))
	for _, j := range m {
		all = append(all, j)
	}
	out := domain.Select(all, f, domain.SetJobs, domain.JobFields)
	for i, j := range out {
		out[i] = j.Clone()
	}
	return out, nil
}

// CountJobs counts jobs of kind matching f, ignoring paging.
func (s *Store) CountJobs(ctx context.Context, kind domain.Kind, f domain.Filter) (int64, error) {
	f.Limit, f.Offset = 0, 0
	jobs, err := s.ListJobs(ctx, kind, f)
	return int64(len(jobs)), err
}

// ListDeadLetters returns dead-letter jobs matching f.
func (s *Store) ListDeadLetters(_ context.Context, f domain.Filter) ([]*domain.DeadLetterJob, error) {
	if err := f.Validate(domain.SetDeadLetters); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]*domain.DeadLetterJob, 0, len(s.dead))
	for _, d := range s.dead {
		all = append(all, d)
	}
	out := domain.Select(all, f, domain.SetDeadLetters, domain.DeadLetterFields)
	for i, d := range out {
		cp := *d
		cp.Job = *d.Job.Clone()
		out[i] = &cp
	}
	return out, nil
}

// CountDeadLetters counts dead-letter jobs matching f.
func (s *Store) CountDeadLetters(ctx context.Context, f domain.Filter) (int64, error) {
	f.Limit, f.Offset = 0, 0
	out, err := s.ListDeadLetters(ctx, f)
	return int64(len(out)), err
}

// ResubmitDeadLetter moves a dead letter back into its lane.
func (s *Store) ResubmitDeadLetter(_ context.Context, id string, retries int, due time.Time) (*domain.Job, error) {
	if err := domain.ValidateRetries(retries); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.dead[id]
	if !ok {
		return nil, domain.ErrDeadLetterNotFound
	}
	m, err := s.set(d.Kind)
	if err != nil {
		return nil, err
	}
	if _, exists := m[id]; exists {
		return nil, domain.ErrJobAlreadyExists
	}

	j := d.Job.Clone()
	j.ClearLease()
	j.Retries = retries
	j.DueDate = due
	m[id] = j
	delete(s.dead, id)
	return j.Clone(), nil
}

// ListHistoricJobs returns historic jobs matching f.
func (s *Store) ListHistoricJobs(_ context.Context, f domain.Filter) ([]*domain.HistoricJob, error) {
	if err := f.Validate(domain.SetHistoric); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]*domain.HistoricJob, 0, len(s.historic))
	for _, h := range s.historic {
		all = append(all, h)
	}
	out := domain.Select(all, f, domain.SetHistoric, domain.HistoricFields)
	for i, h := range out {
		cp := *h
		cp.Job = *h.Job.Clone()
		out[i] = &cp
	}
	return out, nil
}

// CountHistoricJobs counts historic jobs matching f.
func (s *Store) CountHistoricJobs(ctx context.Context, f domain.Filter) (int64, error) {
	f.Limit, f.Offset = 0, 0
	out, err := s.ListHistoricJobs(ctx, f)
	return int64(len(out)), err
}
