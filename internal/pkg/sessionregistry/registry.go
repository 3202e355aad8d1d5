package sessionregistry

import (
	"context"
	"sync"
	"time"

	"fable-self/internal/pkg/log"
	"fable-self/internal/pkg/metrics"
	"fable-self/internal/pkg/xerrors"
)

type entry[T any] struct {
	value     T
	expiresAt time.Time
}

// Registry 提供线程安全的进行中会话注册表, 保证同一 ownerID 同时最多持有一个会话。
// Reserve 在持锁状态下完成检查与写入, 并发调用只会有一个成功。
type Registry[T any] struct {
	ttl     time.Duration
	metrics *metrics.BattleMetrics
	logger  log.Logger
	clock   func() time.Time
	mu      sync.RWMutex
	store   map[string]*entry[T]
}

// New 返回默认 Registry 实例。
func New[T any](ttl time.Duration, m *metrics.BattleMetrics, logger log.Logger) *Registry[T] {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if m == nil {
		m = metrics.DefaultBattleMetrics
	}
	if logger == nil {
		logger = log.GetLogger()
	}
	return &Registry[T]{
		ttl:     ttl,
		metrics: m,
		logger:  logger.With("component", "session_registry"),
		clock:   time.Now,
		store:   make(map[string]*entry[T]),
	}
}

// Reserve 以原子方式为 ownerID 登记一个新会话。
// ownerID 已存在未释放的会话时返回 AlreadyInBattle 错误, 不会覆盖原会话。
func (r *Registry[T]) Reserve(ctx context.Context, ownerID string, value T) error {
	if ownerID == "" {
		return xerrors.NewValidationError("ownerId", "ownerId is required")
	}

	r.mu.Lock()
	if _, ok := r.store[ownerID]; ok {
		r.mu.Unlock()
		r.logger.InfoContext(ctx, "session reserve rejected, owner already registered",
			log.String("owner_id", ownerID))
		return xerrors.NewAlreadyInBattleError(ownerID)
	}
	r.store[ownerID] = &entry[T]{
		value:     value,
		expiresAt: r.clock().Add(r.ttl),
	}
	r.mu.Unlock()

	r.metrics.IncActiveSessions(metrics.GetServiceName())
	r.logger.DebugContext(ctx, "session reserved",
		log.String("owner_id", ownerID))
	return nil
}

// Touch 刷新 ownerID 名下会话的过期时间。
// 会话每处理一次动作就应调用, 活跃会话不会被后台清扫误判为过期。
func (r *Registry[T]) Touch(ctx context.Context, ownerID string) bool {
	if ownerID == "" {
		return false
	}

	r.mu.Lock()
	e, ok := r.store[ownerID]
	if ok {
		e.expiresAt = r.clock().Add(r.ttl)
	}
	r.mu.Unlock()
	return ok
}

// Get 返回 ownerID 名下的会话。
func (r *Registry[T]) Get(ctx context.Context, ownerID string) (T, bool) {
	var zero T
	if ownerID == "" {
		return zero, false
	}

	r.mu.RLock()
	value, ok := r.store[ownerID]
	r.mu.RUnlock()

	if !ok {
		return zero, false
	}
	return value.value, true
}

// Release 释放 ownerID 名下的会话。重复释放只生效一次。
func (r *Registry[T]) Release(ctx context.Context, ownerID string, reason string) bool {
	if ownerID == "" {
		return false
	}

	r.mu.Lock()
	_, ok := r.store[ownerID]
	if ok {
		delete(r.store, ownerID)
	}
	r.mu.Unlock()

	if ok {
		r.metrics.DecActiveSessions(metrics.GetServiceName())
		r.logger.InfoContext(ctx, "session released",
			log.String("owner_id", ownerID),
			log.String("reason", reason))
	}
	return ok
}

// ExpiredOwners 返回自最近一次 Reserve/Touch 起已超过 TTL 的 ownerID 列表,
// 供后台清扫任务使用。不做删除, 释放仍然统一走 Release。
func (r *Registry[T]) ExpiredOwners(ctx context.Context) []string {
	now := r.clock()

	r.mu.RLock()
	defer r.mu.RUnlock()

	var owners []string
	for ownerID, e := range r.store {
		if now.After(e.expiresAt) {
			owners = append(owners, ownerID)
		}
	}
	return owners
}

// Len 返回当前登记的会话数。
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.store)
}
