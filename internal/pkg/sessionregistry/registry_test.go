package sessionregistry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"fable-self/internal/pkg/metrics"
	"fable-self/internal/pkg/xerrors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T, ttl time.Duration) *Registry[string] {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.NewBattleMetricsWithRegistry("test", reg)
	return New[string](ttl, m, nil)
}

func TestRegistryReserveGetRelease(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, time.Minute)

	require.NoError(t, r.Reserve(ctx, "owner-1", "session-a"))
	got, ok := r.Get(ctx, "owner-1")
	require.True(t, ok)
	require.Equal(t, "session-a", got)

	require.True(t, r.Release(ctx, "owner-1", "finished"))
	_, ok = r.Get(ctx, "owner-1")
	require.False(t, ok)
}

func TestRegistryReserveRejectsDuplicate(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, time.Minute)

	require.NoError(t, r.Reserve(ctx, "owner-1", "first"))
	err := r.Reserve(ctx, "owner-1", "second")
	require.Error(t, err)

	var appErr *xerrors.AppError
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, xerrors.CodeAlreadyInBattle, appErr.Code)

	// 原会话不被覆盖
	got, ok := r.Get(ctx, "owner-1")
	require.True(t, ok)
	require.Equal(t, "first", got)
}

func TestRegistryReserveConcurrent(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, time.Minute)

	const workers = 32
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- r.Reserve(ctx, "owner-1", "session")
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		}
	}
	require.Equal(t, 1, succeeded)
	require.Equal(t, 1, r.Len())
}

func TestRegistryReleaseIdempotent(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, time.Minute)

	require.NoError(t, r.Reserve(ctx, "owner-1", "session"))
	require.True(t, r.Release(ctx, "owner-1", "finished"))
	require.False(t, r.Release(ctx, "owner-1", "finished"))
}

func TestRegistryTouchExtendsExpiry(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, time.Minute)

	require.NoError(t, r.Reserve(ctx, "owner-1", "session"))

	// 时钟推进到原始 TTL 之后, 但每次 Touch 都续期
	now := time.Now()
	r.clock = func() time.Time { return now.Add(50 * time.Second) }
	require.True(t, r.Touch(ctx, "owner-1"))

	r.clock = func() time.Time { return now.Add(90 * time.Second) }
	require.Empty(t, r.ExpiredOwners(ctx))

	// 续期之后再过一个完整 TTL 才算过期
	r.clock = func() time.Time { return now.Add(111 * time.Second) }
	require.Equal(t, []string{"owner-1"}, r.ExpiredOwners(ctx))

	require.False(t, r.Touch(ctx, "unknown"))
}

func TestRegistryExpiredOwners(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, 10*time.Millisecond)

	require.NoError(t, r.Reserve(ctx, "owner-1", "session"))
	require.Empty(t, r.ExpiredOwners(ctx))

	r.clock = func() time.Time { return time.Now().Add(time.Second) }
	owners := r.ExpiredOwners(ctx)
	require.Equal(t, []string{"owner-1"}, owners)

	// ExpiredOwners 只做报告, 不做删除
	_, ok := r.Get(ctx, "owner-1")
	require.True(t, ok)
}
