package reports

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saral-erp/saral-erp/internal/money"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client, time.Minute)
}

func TestCacheVersionInitialisesToOne(t *testing.T) {
	c := newTestCache(t)
	ver, err := c.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), ver)

	// Stable across calls.
	ver, err = c.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), ver)
}

func TestFetchJSONCachesLoaderResult(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	key, err := c.BuildKey(ctx, keyTrialBalance(uuid.New(), time.Date(2025, time.June, 30, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)

	calls := 0
	loader := func(ctx context.Context) (interface{}, error) {
		calls++
		return TrialBalance{
			DebitTotal:  money.MustNew("100.00", "INR"),
			CreditTotal: money.MustNew("100.00", "INR"),
		}, nil
	}

	var tb TrialBalance
	require.NoError(t, c.FetchJSON(ctx, key, &tb, loader))
	assert.Equal(t, 1, calls)
	assert.Equal(t, "100.00", tb.DebitTotal.StringFixed())

	// Second fetch is served from Redis.
	var again TrialBalance
	require.NoError(t, c.FetchJSON(ctx, key, &again, loader))
	assert.Equal(t, 1, calls)
	assert.True(t, again.DebitTotal.Equal(tb.DebitTotal))
}

func TestBumpInvalidatesOldKeys(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	tenantID := uuid.New()
	asOf := time.Date(2025, time.June, 30, 0, 0, 0, 0, time.UTC)

	key1, err := c.BuildKey(ctx, keyTrialBalance(tenantID, asOf))
	require.NoError(t, err)

	calls := 0
	loader := func(ctx context.Context) (interface{}, error) {
		calls++
		return TrialBalance{AsOf: asOf}, nil
	}
	var tb TrialBalance
	require.NoError(t, c.FetchJSON(ctx, key1, &tb, loader))
	require.Equal(t, 1, calls)

	require.NoError(t, c.Bump(ctx))

	// The versioned key changed, so the loader runs again.
	key2, err := c.BuildKey(ctx, keyTrialBalance(tenantID, asOf))
	require.NoError(t, err)
	assert.NotEqual(t, key1, key2)
	require.NoError(t, c.FetchJSON(ctx, key2, &tb, loader))
	assert.Equal(t, 2, calls)
}

func TestNilCacheFallsThroughToLoader(t *testing.T) {
	var c *Cache
	calls := 0
	loader := func(ctx context.Context) (interface{}, error) {
		calls++
		return TrialBalance{}, nil
	}
	var tb TrialBalance
	key, err := c.BuildKey(context.Background(), "reports", "tb")
	require.NoError(t, err)
	require.NoError(t, c.FetchJSON(context.Background(), key, &tb, loader))
	require.NoError(t, c.FetchJSON(context.Background(), key, &tb, loader))
	assert.Equal(t, 2, calls)
}
