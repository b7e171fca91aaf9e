// Package backend opens the job store selected by configuration.
package backend

import (
	"context"

	"github.com/pkg/errors"

	"github.com/SirClappington/jobexec/internal/config"
	"github.com/SirClappington/jobexec/internal/domain"
	"github.com/SirClappington/jobexec/internal/queue"
	"github.com/SirClappington/jobexec/internal/storage"
	"github.com/SirClappington/jobexec/internal/storage/memstore"
	"github.com/SirClappington/jobexec/internal/storage/mongostore"
)

// Open connects to cfg.StoreBackend and verifies the connection.
func Open(ctx context.Context, cfg config.Config) (domain.Store, error) {
	var (
		s   domain.Store
		err error
	)
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		var pg *storage.Store
		if pg, err = storage.Open(ctx, cfg.PostgresDSN); err == nil {
			s = pg
		}
	case config.BackendRedis:
		var rq *queue.RedisQ
		if rq, err = queue.Open(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB); err == nil {
			s = rq
		}
	case config.BackendMongo:
		var ms *mongostore.Store
		if ms, err = mongostore.Open(ctx, cfg.MongoURI, cfg.MongoDatabase); err == nil {
			s = ms
		}
	case config.BackendMemory:
		return memstore.New(), nil
	default:
		return nil, errors.Errorf("backend: unknown store backend %q", cfg.StoreBackend)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "backend: open %s", cfg.StoreBackend)
	}
	if err := s.Ping(ctx); err != nil {
		_ = s.Close()
		return nil, errors.Wrapf(err, "backend: ping %s", cfg.StoreBackend)
	}
	return s, nil
}
