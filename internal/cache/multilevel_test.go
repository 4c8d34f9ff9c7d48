package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsknowledge/retrieval-service/internal/observability"
	"github.com/opsknowledge/retrieval-service/pkg/model"
)

func newTestMultiLevel(t *testing.T, withTier2 bool) (*MultiLevel, func()) {
	t.Helper()

	cfg := Config{
		MaxKeys:             100,
		MemoryThresholdMB:   16,
		DefaultTTL:          time.Minute,
		CompressionEnabled:  true,
		CompressionMinBytes: 16,
		SweepInterval:       0,
	}

	var tier2 Tier2
	var cleanup func()
	if withTier2 {
		mr, err := miniredis.Run()
		require.NoError(t, err)
		tier2 = NewRedisTier2(mr.Addr(), "", 0)
		cleanup = mr.Close
	} else {
		cleanup = func() {}
	}

	mlc, err := New(cfg, tier2, observability.NewLogger("test"), observability.NewPromMetricsClient())
	require.NoError(t, err)

	return mlc, func() {
		_ = mlc.Close()
		cleanup()
	}
}

func TestMultiLevel_MissThenHit(t *testing.T) {
	mlc, cleanup := newTestMultiLevel(t, false)
	defer cleanup()

	calls := 0
	exec := func(ctx context.Context) (interface{}, error) {
		calls++
		return map[string]string{"result": "ok"}, nil
	}

	_, hit, err := mlc.GetOrCompute(context.Background(), "k1", model.CacheTags{}, time.Minute, exec)
	require.NoError(t, err)
	assert.False(t, hit)

	_, hit, err = mlc.GetOrCompute(context.Background(), "k1", model.CacheTags{}, time.Minute, exec)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 1, calls, "second call should be served from cache, not recomputed")
}

func TestMultiLevel_SingleFlight(t *testing.T) {
	mlc, cleanup := newTestMultiLevel(t, false)
	defer cleanup()

	var calls int
	exec := func(ctx context.Context) (interface{}, error) {
		calls++
		time.Sleep(20 * time.Millisecond)
		return "value", nil
	}

	done := make(chan struct{}, 5)
	for i := 0; i < 5; i++ {
		go func() {
			_, _, _ = mlc.GetOrCompute(context.Background(), "concurrent-key", model.CacheTags{}, time.Minute, exec)
			done <- struct{}{}
		}()
	}
	for i := 0; i < 5; i++ {
		<-done
	}

	assert.Equal(t, 1, calls, "concurrent callers for the same key should observe exactly one computation")
}

func TestMultiLevel_ZeroTTLNeverCaches(t *testing.T) {
	mlc, cleanup := newTestMultiLevel(t, false)
	defer cleanup()

	calls := 0
	exec := func(ctx context.Context) (interface{}, error) {
		calls++
		return "v", nil
	}

	_, _, err := mlc.GetOrCompute(context.Background(), "zero-ttl", model.CacheTags{}, 0, exec)
	require.NoError(t, err)
	_, _, err = mlc.GetOrCompute(context.Background(), "zero-ttl", model.CacheTags{}, 0, exec)
	require.NoError(t, err)

	assert.Equal(t, 2, calls, "ttl=0 entries must never be cached")
}

func TestMultiLevel_Tier2PromotesToTier1(t *testing.T) {
	mlc, cleanup := newTestMultiLevel(t, true)
	defer cleanup()

	exec := func(ctx context.Context) (interface{}, error) {
		return "a reasonably sized value used to force compression in this test", nil
	}

	_, hit, err := mlc.GetOrCompute(context.Background(), "tier2-key", model.CacheTags{}, time.Minute, exec)
	require.NoError(t, err)
	assert.False(t, hit)

	mlc.tier1.Delete("tier2-key") // force the next read to come from Tier2

	value, found := mlc.getDecoded(context.Background(), "tier2-key")
	require.True(t, found)
	assert.NotEmpty(t, value)

	_, foundAfterPromotion := mlc.tier1.Get("tier2-key", time.Now())
	assert.True(t, foundAfterPromotion, "a Tier2 hit should promote the entry back into Tier1")
}

func TestMultiLevel_Invalidate(t *testing.T) {
	mlc, cleanup := newTestMultiLevel(t, false)
	defer cleanup()

	exec := func(ctx context.Context) (interface{}, error) { return "v", nil }

	_, _, err := mlc.GetOrCompute(context.Background(), "inv-key", model.CacheTags{TableName: "incidents"}, time.Minute, exec)
	require.NoError(t, err)

	removed := mlc.Invalidate(context.Background(), "incidents")
	assert.Equal(t, 1, removed)

	_, hit, err := mlc.GetOrCompute(context.Background(), "inv-key", model.CacheTags{TableName: "incidents"}, time.Minute, exec)
	require.NoError(t, err)
	assert.False(t, hit, "invalidated entry should be a miss")
}
