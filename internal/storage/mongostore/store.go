// Package mongostore is the MongoDB job record store. Leasing is a single
// UpdateOne filtered on lockOwner being null, which MongoDB applies
// atomically per document.
package mongostore

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/SirClappington/jobexec/internal/clock"
	"github.com/SirClappington/jobexec/internal/domain"
)

var _ domain.Store = (*Store)(nil)

const (
	collDeadLetter = "dead_letter_jobs"
	collHistoric   = "historic_jobs"
	// collJobIDs reserves every id ever created, keyed by _id.
	collJobIDs = "job_ids"
)

var liveCollections = map[domain.Kind]string{
	domain.KindJob:     "jobs",
	domain.KindHistory: "history_jobs",
}

// Store keeps live jobs in one collection per kind.
type Store struct {
	db     *mongo.Database
	client *mongo.Client // set only when the store owns the connection
	clock  clock.Clock
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock that stamps create times.
func WithClock(c clock.Clock) Option { return func(s *Store) { s.clock = c } }

// New wraps an existing database. Close leaves the client connected.
func New(db *mongo.Database, opts ...Option) *Store {
	s := &Store{db: db, clock: clock.System{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects to uri, ensures indexes, and returns a store that
// disconnects on Close.
func Open(ctx context.Context, uri, database string, opts ...Option) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, "mongostore: connect")
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, errors.Wrap(err, "mongostore: ping")
	}
	s := New(client.Database(database), opts...)
	s.client = client
	if err := s.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

// EnsureIndexes creates the acquisition and sweep indexes.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	for _, name := range liveCollections {
		_, err := s.db.Collection(name).Indexes().CreateMany(ctx, []mongo.IndexModel{
			{Keys: bson.D{{Key: "lockOwner", Value: 1}, {Key: "dueDate", Value: 1}}},
			{Keys: bson.D{{Key: "lockExpirationTime", Value: 1}}, Options: options.Index().SetSparse(true)},
		})
		if err != nil {
			return errors.Wrapf(err, "mongostore: index %s", name)
		}
	}
	_, err := s.db.Collection(collHistoric).Indexes().CreateOne(ctx,
		mongo.IndexModel{Keys: bson.D{{Key: "endTime", Value: 1}}})
	return errors.Wrap(err, "mongostore: index historic")
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}

func (s *Store) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(context.Background())
}

func (s *Store) live(kind domain.Kind) (*mongo.Collection, error) {
	name, ok := liveCollections[kind]
	if !ok {
		return nil, domain.ErrInvalidKind
	}
	return s.db.Collection(name), nil
}

// ownedBy matches the job while it is leased by owner or not leased at all.
func ownedBy(id, owner string) bson.M {
	return bson.M{"_id": id, "$or": []bson.M{{"lockOwner": owner}, {"lockOwner": nil}}}
}

// CreateJob reserves the id in job_ids before inserting, so an id used by
// any job, live or finished, is rejected.
func (s *Store) CreateJob(ctx context.Context, j *domain.Job) error {
	if err := j.Prepare(s.clock.Now()); err != nil {
		return err
	}
	c, err := s.live(j.Kind)
	if err != nil {
		return err
	}
	ids := s.db.Collection(collJobIDs)
	_, err = ids.InsertOne(ctx, bson.M{"_id": j.ID})
	if mongo.IsDuplicateKeyError(err) {
		return domain.ErrJobAlreadyExists
	}
	if err != nil {
		return errors.Wrap(err, "mongostore: reserve job id")
	}
	if _, err := c.InsertOne(ctx, toDocument(j)); err != nil {
		_, _ = ids.DeleteOne(ctx, bson.M{"_id": j.ID})
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrJobAlreadyExists
		}
		return errors.Wrap(err, "mongostore: insert job")
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, kind domain.Kind, id string) (*domain.Job, error) {
	c, err := s.live(kind)
	if err != nil {
		return nil, err
	}
	var d document
	err = c.FindOne(ctx, bson.M{"_id": id}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "mongostore: get job")
	}
	return d.job(), nil
}

func (s *Store) FindAcquirableJobs(ctx context.Context, kind domain.Kind, now time.Time, maxResults int) ([]*domain.Job, error) {
	return s.findLive(ctx, kind,
		bson.M{"lockOwner": nil, "dueDate": bson.M{"$lte": now}},
		bson.D{{Key: "dueDate", Value: 1}, {Key: "_id", Value: 1}}, maxResults)
}

func (s *Store) FindExpiredJobs(ctx context.Context, kind domain.Kind, now time.Time, maxResults int) ([]*domain.Job, error) {
	return s.findLive(ctx, kind,
		bson.M{"lockOwner": bson.M{"$ne": nil}, "lockExpirationTime": bson.M{"$lt": now}},
		bson.D{{Key: "lockExpirationTime", Value: 1}, {Key: "_id", Value: 1}}, maxResults)
}

func (s *Store) findLive(ctx context.Context, kind domain.Kind, filter bson.M, sort bson.D, limit int) ([]*domain.Job, error) {
	c, err := s.live(kind)
	if err != nil {
		return nil, err
	}
	opts := options.Find().SetSort(sort)
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return s.collectLive(ctx, c, filter, opts)
}

func (s *Store) collectLive(ctx context.Context, c *mongo.Collection, filter bson.M, opts *options.FindOptions) ([]*domain.Job, error) {
	cur, err := c.Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Wrap(err, "mongostore: find jobs")
	}
	var docs []document
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "mongostore: decode jobs")
	}
	out := make([]*domain.Job, len(docs))
	for i, d := range docs {
		out[i] = d.job()
	}
	return out, nil
}

func (s *Store) TryLease(ctx context.Context, kind domain.Kind, id, owner string, expiration time.Time) (bool, error) {
	c, err := s.live(kind)
	if err != nil {
		return false, err
	}
	res, err := c.UpdateOne(ctx,
		bson.M{"_id": id, "lockOwner": nil},
		bson.M{"$set": bson.M{"lockOwner": owner, "lockExpirationTime": expiration}})
	if err != nil {
		return false, errors.Wrap(err, "mongostore: lease job")
	}
	return res.ModifiedCount == 1, nil
}

func (s *Store) ClearLease(ctx context.Context, kind domain.Kind, id string) (bool, error) {
	c, err := s.live(kind)
	if err != nil {
		return false, err
	}
	res, err := c.UpdateOne(ctx,
		bson.M{"_id": id, "lockOwner": bson.M{"$ne": nil}},
		bson.M{"$set": bson.M{"lockOwner": nil, "lockExpirationTime": nil}})
	if err != nil {
		return false, errors.Wrap(err, "mongostore: clear lease")
	}
	return res.ModifiedCount == 1, nil
}

// ApplyOutcome is guarded by ownedBy. Moves write the target record first
// and then delete the live job, so a crash in between leaves a duplicate
// rather than losing the job; a lost guard undoes the write.
func (s *Store) ApplyOutcome(ctx context.Context, kind domain.Kind, id string, o domain.Outcome) error {
	if err := o.Validate(); err != nil {
		return err
	}
	c, err := s.live(kind)
	if err != nil {
		return err
	}

	switch o.Type {
	case domain.OutcomeComplete:
		res, err := c.DeleteOne(ctx, ownedBy(id, o.Owner))
		if err != nil {
			return errors.Wrap(err, "mongostore: complete job")
		}
		if res.DeletedCount == 0 {
			return s.outcomeMiss(ctx, c, id)
		}
		return nil

	case domain.OutcomeRetry, domain.OutcomeReschedule:
		set := bson.M{"lockOwner": nil, "lockExpirationTime": nil, "dueDate": o.DueDate}
		update := bson.M{"$set": set}
		if o.Type == domain.OutcomeRetry {
			set["exceptionMessage"] = o.ExceptionMessage
			set["exceptionStacktrace"] = o.ExceptionStacktrace
			update["$inc"] = bson.M{"retries": -1, "attempts": 1}
		} else {
			set["exceptionMessage"] = ""
			set["exceptionStacktrace"] = ""
		}
		res, err := c.UpdateOne(ctx, ownedBy(id, o.Owner), update)
		if err != nil {
			return errors.Wrapf(err, "mongostore: apply %s outcome", o.Type)
		}
		if res.MatchedCount == 0 {
			return s.outcomeMiss(ctx, c, id)
		}
		return nil
	}

	var d document
	err = c.FindOne(ctx, ownedBy(id, o.Owner)).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return s.outcomeMiss(ctx, c, id)
	}
	if err != nil {
		return errors.Wrap(err, "mongostore: load job")
	}

	target, doc := s.db.Collection(collHistoric), document{}
	if o.Type == domain.OutcomeDeadLetter {
		target, doc = s.db.Collection(collDeadLetter), deadLetterDocument(o.DeadLetter(d.job()))
	} else {
		doc = historicDocument(o.Historic(d.job()))
	}
	_, err = target.ReplaceOne(ctx, bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return errors.Wrapf(err, "mongostore: write %s record", o.Type)
	}

	res, err := c.DeleteOne(ctx, ownedBy(id, o.Owner))
	if err != nil {
		return errors.Wrapf(err, "mongostore: apply %s outcome", o.Type)
	}
	if res.DeletedCount == 0 {
		_, _ = target.DeleteOne(ctx, bson.M{"_id": id})
		return s.outcomeMiss(ctx, c, id)
	}
	return nil
}

func (s *Store) outcomeMiss(ctx context.Context, c *mongo.Collection, id string) error {
	n, err := c.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return errors.Wrap(err, "mongostore: check job")
	}
	if n > 0 {
		return domain.ErrLeaseLost
	}
	return domain.ErrJobNotFound
}

func (s *Store) ListJobs(ctx context.Context, kind domain.Kind, f domain.Filter) ([]*domain.Job, error) {
	if err := f.Validate(domain.SetJobs); err != nil {
		return nil, err
	}
	c, err := s.live(kind)
	if err != nil {
		return nil, err
	}
	return s.collectLive(ctx, c, toBSON(f), findOptions(f, domain.SetJobs))
}

func (s *Store) CountJobs(ctx context.Context, kind domain.Kind, f domain.Filter) (int64, error) {
	c, err := s.live(kind)
	if err != nil {
		return 0, err
	}
	return count(ctx, c, f, domain.SetJobs)
}

func (s *Store) ListDeadLetters(ctx context.Context, f domain.Filter) ([]*domain.DeadLetterJob, error) {
	docs, err := s.find(ctx, collDeadLetter, f, domain.SetDeadLetters)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.DeadLetterJob, len(docs))
	for i, d := range docs {
		out[i] = d.deadLetter()
	}
	return out, nil
}

func (s *Store) CountDeadLetters(ctx context.Context, f domain.Filter) (int64, error) {
	return count(ctx, s.db.Collection(collDeadLetter), f, domain.SetDeadLetters)
}

// ResubmitDeadLetter inserts the live job before removing the dead letter;
// a concurrent resubmission loses on the duplicate key.
func (s *Store) ResubmitDeadLetter(ctx context.Context, id string, retries int, due time.Time) (*domain.Job, error) {
	if err := domain.ValidateRetries(retries); err != nil {
		return nil, err
	}
	dead := s.db.Collection(collDeadLetter)
	var d document
	err := dead.FindOne(ctx, bson.M{"_id": id}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrDeadLetterNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "mongostore: get dead letter")
	}

	j := d.job()
	j.ClearLease()
	j.Retries = retries
	j.DueDate = due.UTC()
	c, err := s.live(j.Kind)
	if err != nil {
		return nil, err
	}
	_, err = c.InsertOne(ctx, toDocument(j))
	if mongo.IsDuplicateKeyError(err) {
		return nil, domain.ErrJobAlreadyExists
	}
	if err != nil {
		return nil, errors.Wrap(err, "mongostore: resubmit dead letter")
	}

	res, err := dead.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return nil, errors.Wrap(err, "mongostore: remove dead letter")
	}
	if res.DeletedCount == 0 {
		_, _ = c.DeleteOne(ctx, bson.M{"_id": id})
		return nil, domain.ErrDeadLetterNotFound
	}
	return j, nil
}

func (s *Store) ListHistoricJobs(ctx context.Context, f domain.Filter) ([]*domain.HistoricJob, error) {
	docs, err := s.find(ctx, collHistoric, f, domain.SetHistoric)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.HistoricJob, len(docs))
	for i, d := range docs {
		out[i] = d.historic()
	}
	return out, nil
}

func (s *Store) CountHistoricJobs(ctx context.Context, f domain.Filter) (int64, error) {
	return count(ctx, s.db.Collection(collHistoric), f, domain.SetHistoric)
}

func (s *Store) find(ctx context.Context, coll string, f domain.Filter, set domain.RecordSet) ([]document, error) {
	if err := f.Validate(set); err != nil {
		return nil, err
	}
	cur, err := s.db.Collection(coll).Find(ctx, toBSON(f), findOptions(f, set))
	if err != nil {
		return nil, errors.Wrapf(err, "mongostore: find %s", coll)
	}
	var docs []document
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.Wrapf(err, "mongostore: decode %s", coll)
	}
	return docs, nil
}

func count(ctx context.Context, c *mongo.Collection, f domain.Filter, set domain.RecordSet) (int64, error) {
	f.Limit, f.Offset = 0, 0
	if err := f.Validate(set); err != nil {
		return 0, err
	}
	n, err := c.CountDocuments(ctx, toBSON(f))
	return n, errors.Wrap(err, "mongostore: count")
}
