package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ricirt/marketplace-realtime/internal/db"
	"github.com/ricirt/marketplace-realtime/internal/domain"
)

func runPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)
	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "market",
			"POSTGRES_PASSWORD": "market",
			"POSTGRES_DB":       "market",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).WithStartupTimeout(90 * time.Second),
	}
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "5432")
	require.NoError(t, err)
	url := fmt.Sprintf("postgres://market:market@%s:%s/market?sslmode=disable", host, port.Port())

	require.NoError(t, db.Migrate(url))
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestPgStore_Integration(t *testing.T) {
	pool := runPostgres(t)
	ctx := context.Background()
	store := NewPgStore(pool)
	qs := NewQueues(store, 2, domain.QueueEscrowRelease)

	job, err := qs.Enqueue(ctx, domain.CourseAutoRelease{EnrollmentID: "e1"}, Options{})
	require.NoError(t, err)
	delayed, err := qs.Enqueue(ctx, domain.CourseAutoRelease{EnrollmentID: "e2"}, Options{Delay: time.Hour})
	require.NoError(t, err)

	claimed, err := store.Claim(ctx, domain.QueueEscrowRelease, "w1", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, job.ID, claimed.ID)
	assert.Equal(t, 1, claimed.Attempts)
	assert.JSONEq(t, `{"enrollmentId":"e1"}`, string(claimed.Payload))

	none, err := store.Claim(ctx, domain.QueueEscrowRelease, "w2", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, none, "the delayed job is not due")

	assert.ErrorIs(t, store.Complete(ctx, job.ID, "w2"), ErrLeaseLost)
	require.NoError(t, store.Complete(ctx, job.ID, "w1"))

	depths, err := qs.Depths(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueDepth{Delayed: 1, Completed: 1}, depths[domain.QueueEscrowRelease])

	got, err := store.Get(ctx, delayed.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobDelayed, got.State)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPgStore_ConcurrentClaimsSkipLocked(t *testing.T) {
	pool := runPostgres(t)
	ctx := context.Background()
	store := NewPgStore(pool)
	qs := NewQueues(store, 1, domain.QueueEscrowRelease)
	for i := 0; i < 30; i++ {
		_, err := qs.Enqueue(ctx, domain.OrderEscrowRelease{OrderID: fmt.Sprint(i)}, Options{})
		require.NoError(t, err)
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for w := 0; w < 6; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for {
				j, err := store.Claim(ctx, domain.QueueEscrowRelease, fmt.Sprintf("w%d", w), time.Minute)
				if err != nil || j == nil {
					return
				}
				mu.Lock()
				seen[j.ID]++
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()

	assert.Len(t, seen, 30)
	for _, n := range seen {
		assert.Equal(t, 1, n)
	}
}

func TestPgStore_RequeueExpired(t *testing.T) {
	pool := runPostgres(t)
	ctx := context.Background()
	store := NewPgStore(pool)
	qs := NewQueues(store, 2, domain.QueueEscrowRelease)

	job, err := qs.Enqueue(ctx, domain.OrderEscrowRelease{OrderID: "o1"}, Options{})
	require.NoError(t, err)
	_, err = store.Claim(ctx, domain.QueueEscrowRelease, "crashed", time.Millisecond)
	require.NoError(t, err)

	n, err := store.RequeueExpired(ctx, time.Now().UTC().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobWaiting, got.State)
	require.NotNil(t, got.LastError)
}
