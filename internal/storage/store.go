// Package storage is the PostgreSQL job record store. Leasing is a single
// conditional UPDATE guarded by "lock_owner IS NULL"; history and dead-letter
// transitions are single DELETE ... RETURNING / INSERT statements, so every
// store call is atomic without an explicit transaction.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/SirClappington/jobexec/internal/clock"
	"github.com/SirClappington/jobexec/internal/domain"
)

var _ domain.Store = (*Store)(nil)

const (
	tableDeadLetter = "dead_letter_jobs"
	tableHistoric   = "historic_jobs"

	baseColumns = `id, handler_type, configuration, tenant_id, execution_id,
		process_instance_id, process_definition_id, due_date, retries, attempts,
		exception_message, exception_stacktrace, archive, repeat_cycle, create_time`
	liveColumns = baseColumns + `, lock_owner, lock_expiration_time`

	// ownedBy restricts an outcome to the lease holder or a swept job.
	ownedBy = `(lock_owner = $2 OR lock_owner IS NULL)`
)

var liveTables = map[domain.Kind]string{
	domain.KindJob:     "jobs",
	domain.KindHistory: "history_jobs",
}

type Store struct {
	db    *pgxpool.Pool
	clock clock.Clock
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock that stamps create times.
func WithClock(c clock.Clock) Option { return func(s *Store) { s.clock = c } }

func New(db *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{db: db, clock: clock.System{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects a pool to dsn.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "storage: connect")
	}
	return New(db, opts...), nil
}

func (s *Store) Ping(ctx context.Context) error { return s.db.Ping(ctx) }

func (s *Store) Close() error {
	s.db.Close()
	return nil
}

func table(kind domain.Kind) (string, error) {
	t, ok := liveTables[kind]
	if !ok {
		return "", domain.ErrInvalidKind
	}
	return t, nil
}

// CreateJob persists an unleased job. Its id is reserved in job_ids by the
// same statement and never released, so a finished job's id cannot be reused.
func (s *Store) CreateJob(ctx context.Context, j *domain.Job) error {
	if err := j.Prepare(s.clock.Now()); err != nil {
		return err
	}
	t, err := table(j.Kind)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, fmt.Sprintf(`with reserved as (
			insert into job_ids (id) values ($1) returning id
		)
		insert into %s (`+liveColumns+`)
		select reserved.id, $2::text, $3::bytea, $4::text, $5::text, $6::text, $7::text,
		       $8::timestamptz, $9::int, $10::int, $11::text, $12::text, $13::boolean,
		       $14::text, $15::timestamptz, $16::text, $17::timestamptz
		from reserved`, t),
		j.ID, j.HandlerType, j.Configuration, j.TenantID, j.ExecutionID,
		j.ProcessInstanceID, j.ProcessDefinitionID, j.DueDate, j.Retries, j.Attempts,
		j.ExceptionMessage, j.ExceptionStacktrace, j.Archive, j.Repeat, j.CreateTime,
		j.LockOwner, j.LockExpirationTime,
	)
	if isDuplicateKey(err) {
		return domain.ErrJobAlreadyExists
	}
	return errors.Wrap(err, "storage: insert job")
}

func (s *Store) GetJob(ctx context.Context, kind domain.Kind, id string) (*domain.Job, error) {
	t, err := table(kind)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRow(ctx, fmt.Sprintf(`select `+liveColumns+` from %s where id = $1`, t), id)
	j, err := scanLive(row, kind)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrJobNotFound
	}
	return j, errors.Wrap(err, "storage: get job")
}

func (s *Store) FindAcquirableJobs(ctx context.Context, kind domain.Kind, now time.Time, maxResults int) ([]*domain.Job, error) {
	t, err := table(kind)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, fmt.Sprintf(`select `+liveColumns+` from %s
		where lock_owner is null and due_date <= $1
		order by due_date asc, id asc limit $2`, t), now, limitArg(maxResults))
	if err != nil {
		return nil, errors.Wrap(err, "storage: find acquirable jobs")
	}
	return collectLive(rows, kind)
}

func (s *Store) FindExpiredJobs(ctx context.Context, kind domain.Kind, now time.Time, maxResults int) ([]*domain.Job, error) {
	t, err := table(kind)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, fmt.Sprintf(`select `+liveColumns+` from %s
		where lock_owner is not null and lock_expiration_time < $1
		order by lock_expiration_time asc, id asc limit $2`, t), now, limitArg(maxResults))
	if err != nil {
		return nil, errors.Wrap(err, "storage: find expired jobs")
	}
	return collectLive(rows, kind)
}

func (s *Store) TryLease(ctx context.Context, kind domain.Kind, id, owner string, expiration time.Time) (bool, error) {
	t, err := table(kind)
	if err != nil {
		return false, err
	}
	tag, err := s.db.Exec(ctx, fmt.Sprintf(`update %s
		set lock_owner = $2, lock_expiration_time = $3
		where id = $1 and lock_owner is null`, t), id, owner, expiration)
	if err != nil {
		return false, errors.Wrap(err, "storage: lease job")
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) ClearLease(ctx context.Context, kind domain.Kind, id string) (bool, error) {
	t, err := table(kind)
	if err != nil {
		return false, err
	}
	tag, err := s.db.Exec(ctx, fmt.Sprintf(`update %s
		set lock_owner = null, lock_expiration_time = null
		where id = $1 and lock_owner is not null`, t), id)
	if err != nil {
		return false, errors.Wrap(err, "storage: clear lease")
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) ApplyOutcome(ctx context.Context, kind domain.Kind, id string, o domain.Outcome) error {
	if err := o.Validate(); err != nil {
		return err
	}
	t, err := table(kind)
	if err != nil {
		return err
	}

	var tag pgconn.CommandTag
	switch o.Type {
	case domain.OutcomeComplete:
		tag, err = s.db.Exec(ctx, fmt.Sprintf(`delete from %s where id = $1 and `+ownedBy, t), id, o.Owner)
	case domain.OutcomeRetry:
		tag, err = s.db.Exec(ctx, fmt.Sprintf(`update %s
			set lock_owner = null, lock_expiration_time = null,
			    retries = retries - 1, attempts = attempts + 1, due_date = $3,
			    exception_message = $4, exception_stacktrace = $5
			where id = $1 and `+ownedBy, t),
			id, o.Owner, o.DueDate, o.ExceptionMessage, o.ExceptionStacktrace)
	case domain.OutcomeReschedule:
		tag, err = s.db.Exec(ctx, fmt.Sprintf(`update %s
			set lock_owner = null, lock_expiration_time = null, due_date = $3,
			    exception_message = '', exception_stacktrace = ''
			where id = $1 and `+ownedBy, t), id, o.Owner, o.DueDate)
	case domain.OutcomeArchive:
		started := o.StartedAt
		if started.IsZero() {
			started = o.Now
		}
		tag, err = s.db.Exec(ctx, fmt.Sprintf(`with moved as (
				delete from %s where id = $1 and `+ownedBy+` returning `+baseColumns+`
			)
			insert into `+tableHistoric+` (kind, `+baseColumns+`, start_time, end_time)
			select $3::text, `+baseColumns+`, $4::timestamptz, $5::timestamptz from moved`, t),
			id, o.Owner, string(kind), started, o.Now)
	case domain.OutcomeDeadLetter:
		tag, err = s.db.Exec(ctx, fmt.Sprintf(`with moved as (
				delete from %s where id = $1 and `+ownedBy+` returning `+baseColumns+`
			)
			insert into `+tableDeadLetter+` (kind, `+baseColumns+`, failed_at)
			select $3::text, id, handler_type, configuration, tenant_id, execution_id,
			       process_instance_id, process_definition_id, due_date, 0, attempts + 1,
			       $4::text, $5::text, archive, repeat_cycle, create_time, $6::timestamptz
			from moved`, t),
			id, o.Owner, string(kind), o.ExceptionMessage, o.ExceptionStacktrace, o.Now)
	}
	if err != nil {
		return errors.Wrapf(err, "storage: apply %s outcome", o.Type)
	}
	if tag.RowsAffected() == 0 {
		return s.outcomeMiss(ctx, t, id)
	}
	return nil
}

// outcomeMiss explains why an owner-guarded write touched no row.
func (s *Store) outcomeMiss(ctx context.Context, t, id string) error {
	var exists bool
	err := s.db.QueryRow(ctx, fmt.Sprintf(`select exists(select 1 from %s where id = $1)`, t), id).Scan(&exists)
	if err != nil {
		return errors.Wrap(err, "storage: check job")
	}
	if exists {
		return domain.ErrLeaseLost
	}
	return domain.ErrJobNotFound
}

func (s *Store) ListJobs(ctx context.Context, kind domain.Kind, f domain.Filter) ([]*domain.Job, error) {
	t, err := table(kind)
	if err != nil {
		return nil, err
	}
	q, args, err := buildQuery(`select `+liveColumns+` from `+t, f, domain.SetJobs)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "storage: list jobs")
	}
	return collectLive(rows, kind)
}

func (s *Store) CountJobs(ctx context.Context, kind domain.Kind, f domain.Filter) (int64, error) {
	t, err := table(kind)
	if err != nil {
		return 0, err
	}
	return s.count(ctx, t, f, domain.SetJobs)
}

func (s *Store) ListDeadLetters(ctx context.Context, f domain.Filter) ([]*domain.DeadLetterJob, error) {
	q, args, err := buildQuery(`select kind, `+baseColumns+`, failed_at from `+tableDeadLetter, f, domain.SetDeadLetters)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "storage: list dead letters")
	}
	defer rows.Close()

	var out []*domain.DeadLetterJob
	for rows.Next() {
		d := &domain.DeadLetterJob{}
		dest := append([]any{&d.Kind}, baseDest(&d.Job)...)
		if err := rows.Scan(append(dest, &d.FailedAt)...); err != nil {
			return nil, errors.Wrap(err, "storage: scan dead letter")
		}
		d.FailedAt = d.FailedAt.UTC()
		normalize(&d.Job)
		out = append(out, d)
	}
	return out, errors.Wrap(rows.Err(), "storage: iterate dead letters")
}

func (s *Store) CountDeadLetters(ctx context.Context, f domain.Filter) (int64, error) {
	return s.count(ctx, tableDeadLetter, f, domain.SetDeadLetters)
}

// ResubmitDeadLetter moves the dead letter back into its live table.
func (s *Store) ResubmitDeadLetter(ctx context.Context, id string, retries int, due time.Time) (*domain.Job, error) {
	if err := domain.ValidateRetries(retries); err != nil {
		return nil, err
	}
	var kind domain.Kind
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `select kind from `+tableDeadLetter+` where id = $1 for update`, id).Scan(&kind)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrDeadLetterNotFound
		}
		if err != nil {
			return errors.Wrap(err, "storage: lock dead letter")
		}
		t, err := table(kind)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, fmt.Sprintf(`with moved as (
				delete from `+tableDeadLetter+` where id = $1 returning `+baseColumns+`
			)
			insert into %s (`+baseColumns+`)
			select id, handler_type, configuration, tenant_id, execution_id,
			       process_instance_id, process_definition_id, $2::timestamptz, $3::int, attempts,
			       exception_message, exception_stacktrace, archive, repeat_cycle, create_time
			from moved`, t), id, due, retries)
		if isDuplicateKey(err) {
			return domain.ErrJobAlreadyExists
		}
		return errors.Wrap(err, "storage: resubmit dead letter")
	})
	if err != nil {
		return nil, err
	}
	return s.GetJob(ctx, kind, id)
}

func (s *Store) ListHistoricJobs(ctx context.Context, f domain.Filter) ([]*domain.HistoricJob, error) {
	q, args, err := buildQuery(`select kind, `+baseColumns+`, start_time, end_time from `+tableHistoric, f, domain.SetHistoric)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "storage: list historic jobs")
	}
	defer rows.Close()

	var out []*domain.HistoricJob
	for rows.Next() {
		h := &domain.HistoricJob{}
		dest := append([]any{&h.Kind}, baseDest(&h.Job)...)
		if err := rows.Scan(append(dest, &h.StartTime, &h.EndTime)...); err != nil {
			return nil, errors.Wrap(err, "storage: scan historic job")
		}
		h.StartTime, h.EndTime = h.StartTime.UTC(), h.EndTime.UTC()
		normalize(&h.Job)
		out = append(out, h)
	}
	return out, errors.Wrap(rows.Err(), "storage: iterate historic jobs")
}

func (s *Store) CountHistoricJobs(ctx context.Context, f domain.Filter) (int64, error) {
	return s.count(ctx, tableHistoric, f, domain.SetHistoric)
}

func (s *Store) count(ctx context.Context, t string, f domain.Filter, set domain.RecordSet) (int64, error) {
	f.Limit, f.Offset, f.SortBy = 0, 0, ""
	if err := f.Validate(set); err != nil {
		return 0, err
	}
	where, args := whereClause(f)
	var n int64
	err := s.db.QueryRow(ctx, `select count(*) from `+t+where, args...).Scan(&n)
	return n, errors.Wrap(err, "storage: count")
}

func baseDest(j *domain.Job) []any {
	return []any{
		&j.ID, &j.HandlerType, &j.Configuration, &j.TenantID, &j.ExecutionID,
		&j.ProcessInstanceID, &j.ProcessDefinitionID, &j.DueDate, &j.Retries, &j.Attempts,
		&j.ExceptionMessage, &j.ExceptionStacktrace, &j.Archive, &j.Repeat, &j.CreateTime,
	}
}

func scanLive(row pgx.Row, kind domain.Kind) (*domain.Job, error) {
	j := &domain.Job{Kind: kind}
	if err := row.Scan(append(baseDest(j), &j.LockOwner, &j.LockExpirationTime)...); err != nil {
		return nil, err
	}
	normalize(j)
	return j, nil
}

func collectLive(rows pgx.Rows, kind domain.Kind) ([]*domain.Job, error) {
	defer rows.Close()
	var out []*domain.Job
	for rows.Next() {
		j, err := scanLive(rows, kind)
		if err != nil {
			return nil, errors.Wrap(err, "storage: scan job")
		}
		out = append(out, j)
	}
	return out, errors.Wrap(rows.Err(), "storage: iterate jobs")
}

func normalize(j *domain.Job) {
	j.DueDate = j.DueDate.UTC()
	j.CreateTime = j.CreateTime.UTC()
	if j.LockExpirationTime != nil {
		e := j.LockExpirationTime.UTC()
		j.LockExpirationTime = &e
	}
}

// limitArg maps a non-positive page size to SQL "limit null" (no limit).
func limitArg(n int) any {
	if n <= 0 {
		return nil
	}
	return n
}

func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Truncate empties every table.
func (s *Store) Truncate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `truncate jobs, history_jobs, job_ids, `+tableDeadLetter+`, `+tableHistoric)
	return errors.Wrap(err, "storage: truncate")
}
