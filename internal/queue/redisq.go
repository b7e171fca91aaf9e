// Package queue is the Redis job record store. Each live job is a hash;
// unleased jobs sit in a ready sorted set scored by due date and leased jobs
// in a leased set scored by expiration. Every state change runs as a Lua
// script, so leasing is a single atomic compare-and-set on the owner field.
package queue

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"

	"github.com/SirClappington/jobexec/internal/clock"
	"github.com/SirClappington/jobexec/internal/domain"
)

var _ domain.Store = (*RedisQ)(nil)

// outcomeRetries bounds the optimistic loop in ApplyOutcome.
const outcomeRetries = 5

var errOutcomeConflict = errors.New("queue: job changed during outcome")

type RedisQ struct {
	rdb   *r.Client
	clock clock.Clock
}

// Option configures a RedisQ.
type Option func(*RedisQ)

// WithClock sets the clock that stamps create times.
func WithClock(c clock.Clock) Option { return func(q *RedisQ) { q.clock = c } }

func New(rdb *r.Client, opts ...Option) *RedisQ {
	q := &RedisQ{rdb: rdb, clock: clock.System{}}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Open connects to addr and checks the connection.
func Open(ctx context.Context, addr, password string, db int, opts ...Option) (*RedisQ, error) {
	rdb := r.NewClient(&r.Options{Addr: addr, Password: password, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, "queue: connect")
	}
	return New(rdb, opts...), nil
}

func (q *RedisQ) Ping(ctx context.Context) error { return q.rdb.Ping(ctx).Err() }

func (q *RedisQ) Close() error { return q.rdb.Close() }

// CreateJob stores j and reserves its id for good; an id used by any job,
// live or finished, is rejected.
func (q *RedisQ) CreateJob(ctx context.Context, j *domain.Job) error {
	if err := j.Prepare(q.clock.Now()); err != nil {
		return err
	}
	body, err := encodeJob(j)
	if err != nil {
		return err
	}
	n, err := createScript.Run(ctx, q.rdb,
		[]string{jobKey(j.Kind, j.ID), readyKey(j.Kind), idsKey(j.Kind), reservedKey},
		j.ID, body, ceilMilli(j.DueDate),
	).Int()
	if err != nil {
		return errors.Wrap(err, "queue: create job")
	}
	if n == 0 {
		return domain.ErrJobAlreadyExists
	}
	return nil
}

func (q *RedisQ) GetJob(ctx context.Context, kind domain.Kind, id string) (*domain.Job, error) {
	if !kind.Valid() {
		return nil, domain.ErrInvalidKind
	}
	j, _, err := q.load(ctx, kind, id)
	return j, err
}

// load reads one job together with its raw body, which ApplyOutcome uses as
// the compare value of its optimistic write.
func (q *RedisQ) load(ctx context.Context, kind domain.Kind, id string) (*domain.Job, string, error) {
	m, err := q.rdb.HGetAll(ctx, jobKey(kind, id)).Result()
	if err != nil {
		return nil, "", errors.Wrap(err, "queue: get job")
	}
	j, err := fromHash(kind, m)
	if err != nil {
		return nil, "", err
	}
	return j, m["body"], nil
}

func (q *RedisQ) loadMany(ctx context.Context, kind domain.Kind, ids []string) ([]*domain.Job, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	pipe := q.rdb.Pipeline()
	cmds := make([]*r.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, jobKey(kind, id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, errors.Wrap(err, "queue: load jobs")
	}

	out := make([]*domain.Job, 0, len(ids))
	for _, cmd := range cmds {
		j, err := fromHash(kind, cmd.Val())
		if errors.Is(err, domain.ErrJobNotFound) {
			// Finished between the index read and the load.
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, nil
}

func fromHash(kind domain.Kind, m map[string]string) (*domain.Job, error) {
	body, ok := m["body"]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	rec, err := decode(body)
	if err != nil {
		return nil, err
	}
	j := rec.job()
	j.Kind = kind
	if owner, ok := m["owner"]; ok {
		exp, err := time.Parse(time.RFC3339Nano, m["expires"])
		if err != nil {
			return nil, errors.Wrap(err, "queue: lease expiration")
		}
		j.Lease(owner, exp.UTC())
	}
	return &j, nil
}

func (q *RedisQ) FindAcquirableJobs(ctx context.Context, kind domain.Kind, now time.Time, maxResults int) ([]*domain.Job, error) {
	if !kind.Valid() {
		return nil, domain.ErrInvalidKind
	}
	ids, err := q.rdb.ZRangeByScore(ctx, readyKey(kind), &r.ZRangeBy{
		Min: "-inf", Max: strconv.FormatInt(now.UnixMilli(), 10), Count: int64(max(maxResults, 0)),
	}).Result()
	if err != nil {
		return nil, errors.Wrap(err, "queue: find acquirable jobs")
	}
	jobs, err := q.loadMany(ctx, kind, ids)
	if err != nil {
		return nil, err
	}
	return keep(jobs, func(j *domain.Job) bool { return j.Acquirable(now) }), nil
}

func (q *RedisQ) FindExpiredJobs(ctx context.Context, kind domain.Kind, now time.Time, maxResults int) ([]*domain.Job, error) {
	if !kind.Valid() {
		return nil, domain.ErrInvalidKind
	}
	ids, err := q.rdb.ZRangeByScore(ctx, leasedKey(kind), &r.ZRangeBy{
		Min: "-inf", Max: "(" + strconv.FormatInt(now.UnixMilli(), 10), Count: int64(max(maxResults, 0)),
	}).Result()
	if err != nil {
		return nil, errors.Wrap(err, "queue: find expired jobs")
	}
	jobs, err := q.loadMany(ctx, kind, ids)
	if err != nil {
		return nil, err
	}
	return keep(jobs, func(j *domain.Job) bool { return j.Expired(now) }), nil
}

func keep(jobs []*domain.Job, ok func(*domain.Job) bool) []*domain.Job {
	out := jobs[:0]
	for _, j := range jobs {
		if ok(j) {
			out = append(out, j)
		}
	}
	return out
}

func (q *RedisQ) TryLease(ctx context.Context, kind domain.Kind, id, owner string, expiration time.Time) (bool, error) {
	if !kind.Valid() {
		return false, domain.ErrInvalidKind
	}
	n, err := leaseScript.Run(ctx, q.rdb,
		[]string{jobKey(kind, id), readyKey(kind), leasedKey(kind)},
		id, owner, ceilMilli(expiration), expiration.UTC().Format(time.RFC3339Nano),
	).Int()
	if err != nil {
		return false, errors.Wrap(err, "queue: lease job")
	}
	return n == 1, nil
}

func (q *RedisQ) ClearLease(ctx context.Context, kind domain.Kind, id string) (bool, error) {
	if !kind.Valid() {
		return false, domain.ErrInvalidKind
	}
	n, err := clearScript.Run(ctx, q.rdb,
		[]string{jobKey(kind, id), readyKey(kind), leasedKey(kind)}, id,
	).Int()
	if err != nil {
		return false, errors.Wrap(err, "queue: clear lease")
	}
	return n == 1, nil
}

// ApplyOutcome computes the new record in Go and commits it with a script
// that re-checks the owner and the unchanged body. A changed body means a
// concurrent writer won; the outcome is re-evaluated against the new state.
func (q *RedisQ) ApplyOutcome(ctx context.Context, kind domain.Kind, id string, o domain.Outcome) error {
	if err := o.Validate(); err != nil {
		return err
	}
	if !kind.Valid() {
		return domain.ErrInvalidKind
	}
	for i := 0; i < outcomeRetries; i++ {
		err := q.applyOnce(ctx, kind, id, o)
		if !errors.Is(err, errOutcomeConflict) {
			return err
		}
	}
	return errOutcomeConflict
}

func (q *RedisQ) applyOnce(ctx context.Context, kind domain.Kind, id string, o domain.Outcome) error {
	j, body, err := q.load(ctx, kind, id)
	if err != nil {
		return err
	}
	if !j.OwnedBy(o.Owner) {
		return domain.ErrLeaseLost
	}

	var (
		mode            = "move"
		newBody, target string
		newDue          int64
		targetKey       = historicKey
	)
	switch o.Type {
	case domain.OutcomeComplete:
	case domain.OutcomeArchive:
		target, err = encodeHistoric(o.Historic(j))
	case domain.OutcomeDeadLetter:
		targetKey = deadLetterKey
		target, err = encodeDeadLetter(o.DeadLetter(j))
	case domain.OutcomeRetry, domain.OutcomeReschedule:
		mode = "update"
		o.ApplyTo(j)
		newDue = ceilMilli(j.DueDate)
		newBody, err = encodeJob(j)
	}
	if err != nil {
		return err
	}

	n, err := outcomeScript.Run(ctx, q.rdb,
		[]string{jobKey(kind, id), readyKey(kind), leasedKey(kind), idsKey(kind), targetKey},
		id, o.Owner, body, mode, newBody, newDue, target,
	).Int()
	if err != nil {
		return errors.Wrapf(err, "queue: apply %s outcome", o.Type)
	}
	switch n {
	case outcomeApplied:
		return nil
	case outcomeMissing:
		return domain.ErrJobNotFound
	case outcomeLeaseLost:
		return domain.ErrLeaseLost
	default:
		return errOutcomeConflict
	}
}

func (q *RedisQ) all(ctx context.Context, kind domain.Kind) ([]*domain.Job, error) {
	if !kind.Valid() {
		return nil, domain.ErrInvalidKind
	}
	ids, err := q.rdb.SMembers(ctx, idsKey(kind)).Result()
	if err != nil {
		return nil, errors.Wrap(err, "queue: list job ids")
	}
	return q.loadMany(ctx, kind, ids)
}

func (q *RedisQ) ListJobs(ctx context.Context, kind domain.Kind, f domain.Filter) ([]*domain.Job, error) {
	if err := f.Validate(domain.SetJobs); err != nil {
		return nil, err
	}
	jobs, err := q.all(ctx, kind)
	if err != nil {
		return nil, err
	}
	return domain.Select(jobs, f, domain.SetJobs, domain.JobFields), nil
}

func (q *RedisQ) CountJobs(ctx context.Context, kind domain.Kind, f domain.Filter) (int64, error) {
	f.Limit, f.Offset = 0, 0
	jobs, err := q.ListJobs(ctx, kind, f)
	return int64(len(jobs)), err
}

func (q *RedisQ) ListDeadLetters(ctx context.Context, f domain.Filter) ([]*domain.DeadLetterJob, error) {
	if err := f.Validate(domain.SetDeadLetters); err != nil {
		return nil, err
	}
	vals, err := q.rdb.HVals(ctx, deadLetterKey).Result()
	if err != nil {
		return nil, errors.Wrap(err, "queue: list dead letters")
	}
	all := make([]*domain.DeadLetterJob, 0, len(vals))
	for _, v := range vals {
		d, err := decodeDeadLetter(v)
		if err != nil {
			return nil, err
		}
		all = append(all, d)
	}
	return domain.Select(all, f, domain.SetDeadLetters, domain.DeadLetterFields), nil
}

func (q *RedisQ) CountDeadLetters(ctx context.Context, f domain.Filter) (int64, error) {
	f.Limit, f.Offset = 0, 0
	out, err := q.ListDeadLetters(ctx, f)
	return int64(len(out)), err
}

func (q *RedisQ) ResubmitDeadLetter(ctx context.Context, id string, retries int, due time.Time) (*domain.Job, error) {
	if err := domain.ValidateRetries(retries); err != nil {
		return nil, err
	}
	v, err := q.rdb.HGet(ctx, deadLetterKey, id).Result()
	if errors.Is(err, r.Nil) {
		return nil, domain.ErrDeadLetterNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "queue: get dead letter")
	}
	d, err := decodeDeadLetter(v)
	if err != nil {
		return nil, err
	}

	j := d.Job.Clone()
	j.ClearLease()
	j.Retries = retries
	j.DueDate = due.UTC()
	body, err := encodeJob(j)
	if err != nil {
		return nil, err
	}
	n, err := resubmitScript.Run(ctx, q.rdb,
		[]string{deadLetterKey, jobKey(j.Kind, id), readyKey(j.Kind), idsKey(j.Kind)},
		id, body, ceilMilli(j.DueDate),
	).Int()
	if err != nil {
		return nil, errors.Wrap(err, "queue: resubmit dead letter")
	}
	switch n {
	case -1:
		return nil, domain.ErrDeadLetterNotFound
	case 0:
		return nil, domain.ErrJobAlreadyExists
	}
	return j, nil
}

func (q *RedisQ) ListHistoricJobs(ctx context.Context, f domain.Filter) ([]*domain.HistoricJob, error) {
	if err := f.Validate(domain.SetHistoric); err != nil {
		return nil, err
	}
	vals, err := q.rdb.HVals(ctx, historicKey).Result()
	if err != nil {
		return nil, errors.Wrap(err, "queue: list historic jobs")
	}
	all := make([]*domain.HistoricJob, 0, len(vals))
	for _, v := range vals {
		h, err := decodeHistoric(v)
		if err != nil {
			return nil, err
		}
		all = append(all, h)
	}
	return domain.Select(all, f, domain.SetHistoric, domain.HistoricFields), nil
}

func (q *RedisQ) CountHistoricJobs(ctx context.Context, f domain.Filter) (int64, error) {
	f.Limit, f.Offset = 0, 0
	out, err := q.ListHistoricJobs(ctx, f)
	return int64(len(out)), err
}
