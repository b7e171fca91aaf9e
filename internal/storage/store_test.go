package storage_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/SirClappington/jobexec/internal/clock"
	"github.com/SirClappington/jobexec/internal/domain"
	"github.com/SirClappington/jobexec/internal/storage"
	"github.com/SirClappington/jobexec/internal/storage/storetest"
)

// postgresDSN returns POSTGRES_TEST_DSN, or starts a throwaway container when
// it is unset.
func postgresDSN(t *testing.T) string {
	t.Helper()
	if dsn := os.Getenv("POSTGRES_TEST_DSN"); dsn != "" {
		return dsn
	}
	if testing.Short() {
		t.Skip("POSTGRES_TEST_DSN not set and -short given")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("jobexec_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}
	return dsn
}

func TestStoreContract(t *testing.T) {
	dsn := postgresDSN(t)
	if err := storage.Migrate(dsn, "../../migrations"); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	storetest.Run(t, func(t *testing.T) domain.Store {
		ctx := context.Background()
		s, err := storage.Open(ctx, dsn)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		if err := s.Truncate(ctx); err != nil {
			t.Fatalf("Truncate: %v", err)
		}
		return s
	})

	t.Run("CreateStampsWithClock", func(t *testing.T) {
		ctx := context.Background()
		at := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
		s, err := storage.Open(ctx, dsn, storage.WithClock(clock.NewManual(at)))
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		if err := s.Truncate(ctx); err != nil {
			t.Fatalf("Truncate: %v", err)
		}
		storetest.CreateStampsWithClock(t, s, at)
	})
}
