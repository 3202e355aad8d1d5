package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"fable-self/internal/pkg/log"
	"fable-self/internal/pkg/metrics"
	"fable-self/internal/pkg/notify"
	"fable-self/internal/pkg/redis"
	"fable-self/internal/pkg/sessionregistry"
	"fable-self/internal/pkg/xerrors"
	"fable-self/internal/repository/entity"
	"fable-self/internal/repository/interfaces"

	"github.com/aarondl/null/v8"
	"github.com/google/uuid"
)

// DefaultBattleTimeout 无动作超时窗口
const DefaultBattleTimeout = 600 * time.Second

// battleRuntime 会话及其运行时资源。
// 所有读写都必须持有 mu; 定时器只在持锁状态下操作。
type battleRuntime struct {
	mu      sync.Mutex
	session *BattleSession
	timer   *time.Timer
}

// SessionStore 会话注册表抽象。
// 实现必须保证 Reserve 对同一 ownerID 的并发调用只有一个成功。
type SessionStore interface {
	Reserve(ctx context.Context, ownerID string, rt *battleRuntime) error
	Get(ctx context.Context, ownerID string) (*battleRuntime, bool)
	Touch(ctx context.Context, ownerID string) bool
	Release(ctx context.Context, ownerID string, reason string) bool
	ExpiredOwners(ctx context.Context) []string
	Len() int
}

// NewSessionRegistry 构造默认的会话注册表实现。
// ttl 是注册表自身的过期判定窗口, 应大于战斗超时。
func NewSessionRegistry(ttl time.Duration, logger log.Logger) SessionStore {
	return sessionregistry.New[*battleRuntime](ttl, metrics.DefaultBattleMetrics, logger)
}

type defaultRandomSource struct{}

func (defaultRandomSource) Float64() float64 { return rand.Float64() }

// BattleService 战斗会话状态机。
type BattleService struct {
	catalog     *OpponentCatalog
	store       SessionStore
	profileRepo interfaces.PlayerProfileRepository
	recordRepo  interfaces.BattleRecordRepository
	cache       *redis.Client // 可选, nil 时跳过快照缓存
	logger      log.Logger
	metrics     *metrics.BattleMetrics
	rng         RandomSource
	timeout     time.Duration
	clock       func() time.Time
}

// NewBattleService 创建战斗服务。
// cache 和 recordRepo 为可选依赖, 传 nil 时对应能力静默关闭。
func NewBattleService(
	catalog *OpponentCatalog,
	store SessionStore,
	profileRepo interfaces.PlayerProfileRepository,
	recordRepo interfaces.BattleRecordRepository,
	cache *redis.Client,
	logger log.Logger,
	timeout time.Duration,
) *BattleService {
	if logger == nil {
		logger = log.GetLogger()
	}
	if timeout <= 0 {
		timeout = DefaultBattleTimeout
	}
	return &BattleService{
		catalog:     catalog,
		store:       store,
		profileRepo: profileRepo,
		recordRepo:  recordRepo,
		cache:       cache,
		logger:      logger.With("component", "battle_service"),
		metrics:     metrics.DefaultBattleMetrics,
		rng:         defaultRandomSource{},
		timeout:     timeout,
		clock:       time.Now,
	}
}

// Start 开始一场战斗。
// 校验顺序: 对手存在 → 档案存在 → 等级门槛 → 注册表预约。
// 等级不足在任何注册表变更之前返回。
func (s *BattleService) Start(ctx context.Context, ownerID, opponentKey string) (*BattleUpdate, error) {
	def, ok := s.catalog.Get(opponentKey)
	if !ok {
		return nil, xerrors.NewOpponentNotFoundError(opponentKey)
	}

	profile, err := s.profileRepo.GetByOwnerID(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if !profile.MeetsLevel(def.LevelRequirement) {
		return nil, xerrors.NewBattleLevelTooLowError(opponentKey, def.LevelRequirement, profile.Level)
	}

	player, err := combatantFromProfile(profile)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	session := &BattleSession{
		SessionID:    uuid.NewString(),
		OwnerID:      ownerID,
		Player:       player,
		Opponent:     def.NewCombatant(uuid.NewString()),
		OpponentDef:  def,
		Turn:         TurnPlayer,
		Round:        1,
		State:        StateActive,
		CreatedAt:    now,
		LastActionAt: now,
	}
	rt := &battleRuntime{session: session}

	if err := s.store.Reserve(ctx, ownerID, rt); err != nil {
		return nil, err
	}

	rt.mu.Lock()
	rt.timer = time.AfterFunc(s.timeout, func() {
		s.handleTimeout(ownerID, session.SessionID)
	})
	update := session.snapshot("battle started", nil)
	rt.mu.Unlock()

	s.logger.InfoContext(ctx, "battle started",
		log.String("owner_id", ownerID),
		log.String("session_id", session.SessionID),
		log.String("opponent_key", opponentKey))

	s.publishUpdate(ctx, update)
	return update, nil
}

// Act 处理玩家的一次动作。
// 玩家动作结算后, 会话仍为 active 时对手自动用基础属性攻击一次,
// 然后回合数递增、行动权交还玩家。每次成功的 Act 重置超时。
// 结算过程中的 panic 被恢复并按 fled 终结会话, 避免槽位永久占用。
func (s *BattleService) Act(ctx context.Context, ownerID string, action Action) (update *BattleUpdate, err error) {
	start := s.clock()
	defer func() {
		s.metrics.RecordAction(string(action), time.Since(start), metrics.GetServiceName())
	}()

	// 未知动作在任何会话状态变更之前拒绝
	if _, ok := legalActions[action]; !ok {
		return nil, xerrors.NewInvalidBattleActionError(string(action), "unknown action")
	}

	rt, ok := s.store.Get(ctx, ownerID)
	if !ok {
		return nil, xerrors.NewBattleSessionNotFoundError(ownerID)
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorContext(ctx, "battle action panicked",
				log.Any("panic_value", r),
				log.String("owner_id", ownerID),
				log.String("action", string(action)))
			s.finalizeLocked(ctx, rt, StateFled, "internal failure")
			update = nil
			err = xerrors.FromCode(xerrors.CodeInternalError).
				WithService("battle", "act").
				WithOwner(ownerID, rt.session.SessionID)
		}
	}()

	session := rt.session
	if session.State != StateActive {
		// 终结竞态: 注册表命中但会话刚被终结
		return nil, xerrors.NewBattleSessionNotFoundError(ownerID)
	}
	if session.Turn != TurnPlayer {
		return nil, xerrors.NewInvalidBattleActionError(string(action), "not player's turn")
	}

	if action == ActionFlee {
		return s.finalizeLocked(ctx, rt, StateFled, "player fled"), nil
	}

	// 玩家回合开始: 状态效果递减
	session.Player.TickEffects()

	result, err := Resolve(session.Player, session.Opponent, action, session.OpponentDef.Weakness, session.OpponentDef.Resistance, s.rng)
	if err != nil {
		return nil, err
	}
	lastAction := s.applyResult(session.Player, session.Opponent, "player", action, result)

	if session.Opponent.IsDefeated() {
		return s.finalizeLocked(ctx, rt, StateVictory, lastAction), nil
	}

	// 对手回合: 目录驱动, 恒为基础属性普通攻击
	session.Turn = TurnOpponent
	session.Opponent.TickEffects()
	oppResult, err := Resolve(session.Opponent, session.Player, ActionAttack, ElementNone, ElementNone, s.rng)
	if err != nil {
		return nil, err
	}
	lastAction += "; " + s.applyResult(session.Opponent, session.Player, "opponent", ActionAttack, oppResult)

	if session.Player.IsDefeated() {
		return s.finalizeLocked(ctx, rt, StateDefeat, lastAction), nil
	}

	// 行动权交还玩家, 回合数只在此处递增
	session.Turn = TurnPlayer
	session.Round++
	session.LastActionAt = s.clock()
	if rt.timer != nil {
		rt.timer.Reset(s.timeout)
	}
	// 注册表过期时间与超时窗口同步续期
	s.store.Touch(ctx, ownerID)

	update = session.snapshot(lastAction, nil)
	s.publishUpdate(ctx, update)
	return update, nil
}

// GetCurrent 返回调用者当前会话的快照。
func (s *BattleService) GetCurrent(ctx context.Context, ownerID string) (*BattleUpdate, error) {
	rt, ok := s.store.Get(ctx, ownerID)
	if !ok {
		return nil, xerrors.NewBattleSessionNotFoundError(ownerID)
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.session.State != StateActive {
		return nil, xerrors.NewBattleSessionNotFoundError(ownerID)
	}
	return rt.session.snapshot("", nil), nil
}

// OpponentKeys 返回目录中全部 opponentKey。
func (s *BattleService) OpponentKeys() []string {
	return s.catalog.Keys()
}

// ActiveBattleCount 返回进行中的会话数, 供 RPC 和健康检查使用。
func (s *BattleService) ActiveBattleCount() int {
	return s.store.Len()
}

// SweepExpired 后台清扫: 将注册表认定过期且确实超过无动作窗口的会话按超时终结。
// 兜底路径, 正常情况由每会话定时器处理; LastActionAt 是超时判定的唯一依据,
// 注册表 TTL 只用来缩小候选集。
func (s *BattleService) SweepExpired(ctx context.Context) int {
	swept := 0
	for _, ownerID := range s.store.ExpiredOwners(ctx) {
		rt, ok := s.store.Get(ctx, ownerID)
		if !ok {
			continue
		}
		rt.mu.Lock()
		if rt.session.State == StateActive && s.clock().Sub(rt.session.LastActionAt) >= s.timeout {
			s.finalizeLocked(ctx, rt, StateTimedOut, "battle timed out")
			swept++
		}
		rt.mu.Unlock()
	}
	return swept
}

// handleTimeout 超时定时器回调。
// 会话可能已经正常终结并释放, 必须先重查注册表, 缺席时为 no-op。
func (s *BattleService) handleTimeout(ownerID, sessionID string) {
	ctx := context.Background()

	rt, ok := s.store.Get(ctx, ownerID)
	if !ok {
		return
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	// 槽位可能已被同一 owner 的新会话占用
	if rt.session.SessionID != sessionID || rt.session.State != StateActive {
		return
	}

	s.logger.InfoContext(ctx, "battle timed out",
		log.String("owner_id", ownerID),
		log.String("session_id", sessionID))
	s.finalizeLocked(ctx, rt, StateTimedOut, "battle timed out")
}

// applyResult 将结算结果应用到参战者, 返回动作描述。
func (s *BattleService) applyResult(attacker, defender *Combatant, side string, action Action, result *ResolveResult) string {
	service := metrics.GetServiceName()

	if result.Damage > 0 {
		defender.ApplyDamage(result.Damage)
		s.metrics.RecordDamage(side, result.Damage, service)
		if result.Critical {
			return fmt.Sprintf("%s %s: %d damage (critical)", side, action, result.Damage)
		}
		return fmt.Sprintf("%s %s: %d damage", side, action, result.Damage)
	}
	if result.Healing > 0 || action == ActionUseItem {
		healed := attacker.Heal(result.Healing)
		return fmt.Sprintf("%s %s: restored %d health", side, action, healed)
	}
	for _, effect := range result.EffectsApplied {
		attacker.AddEffect(effect)
	}
	return fmt.Sprintf("%s %s", side, action)
}

// finalizeLocked 执行终结流程, 调用方必须持有 rt.mu:
// 置终态 → 停定时器 → 胜利结算奖励 → 档案回写(victory/defeat) →
// 战斗记录落库 → 释放槽位 → 发布终局更新。
func (s *BattleService) finalizeLocked(ctx context.Context, rt *battleRuntime, state SessionState, lastAction string) *BattleUpdate {
	session := rt.session
	session.State = state
	finishedAt := s.clock()
	session.LastActionAt = finishedAt

	if rt.timer != nil {
		rt.timer.Stop()
	}

	var reward *RewardSummary
	if state == StateVictory {
		scaled := ScaleReward(session.OpponentDef)
		reward = &scaled
	}

	// 档案回写只发生在 victory/defeat
	if state == StateVictory || state == StateDefeat {
		outcome := &interfaces.BattleOutcome{
			OwnerID:    session.OwnerID,
			Result:     string(state),
			Health:     session.Player.Health,
			FinishedAt: finishedAt,
		}
		if reward != nil {
			outcome.Experience = reward.Experience
			outcome.Gold = reward.Gold
			outcome.Items = reward.Items
		}
		if _, err := s.profileRepo.ApplyBattleOutcome(ctx, outcome); err != nil {
			s.logger.ErrorContext(ctx, "failed to apply battle outcome",
				log.String("owner_id", session.OwnerID),
				log.String("session_id", session.SessionID),
				log.Any("error", err))
		}
	}

	s.recordBattle(ctx, session, reward, finishedAt)

	s.store.Release(ctx, session.OwnerID, string(state))
	s.metrics.RecordBattleFinished(string(state), session.Round, metrics.GetServiceName())

	update := session.snapshot(lastAction, reward)
	s.publishTerminal(ctx, update)
	return update
}

func (s *BattleService) recordBattle(ctx context.Context, session *BattleSession, reward *RewardSummary, finishedAt time.Time) {
	if s.recordRepo == nil {
		return
	}

	record := &entity.BattleRecord{
		SessionID:   session.SessionID,
		OwnerID:     session.OwnerID,
		OpponentKey: session.OpponentDef.Kind,
		Result:      string(session.State),
		Rounds:      session.Round,
		StartedAt:   session.CreatedAt,
		FinishedAt:  null.TimeFrom(finishedAt),
	}
	if reward != nil {
		record.RewardExperience = reward.Experience
		record.RewardGold = reward.Gold
	}
	if err := s.recordRepo.Create(ctx, record); err != nil {
		s.logger.WarnContext(ctx, "failed to persist battle record",
			log.String("session_id", session.SessionID),
			log.Any("error", err))
	}
}

func (s *BattleService) publishUpdate(ctx context.Context, update *BattleUpdate) {
	if err := notify.PublishBattleEvent(ctx, notify.SubjectBattleUpdate, update); err != nil {
		s.logger.WarnContext(ctx, "failed to publish battle update",
			log.String("session_id", update.SessionID),
			log.Any("error", err))
	}
	s.cacheSnapshot(ctx, update)
}

func (s *BattleService) publishTerminal(ctx context.Context, update *BattleUpdate) {
	if err := notify.PublishBattleEvent(ctx, notify.SubjectBattleFinished, update); err != nil {
		s.logger.WarnContext(ctx, "failed to publish battle finished event",
			log.String("session_id", update.SessionID),
			log.Any("error", err))
	}
	if s.cache != nil {
		if err := s.cache.DeleteKey(ctx, snapshotCacheKey(update.OwnerID)); err != nil {
			s.logger.WarnContext(ctx, "failed to drop battle snapshot cache",
				log.String("owner_id", update.OwnerID),
				log.Any("error", err))
		}
	}
}

func (s *BattleService) cacheSnapshot(ctx context.Context, update *BattleUpdate) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(update)
	if err != nil {
		return
	}
	if err := s.cache.SetWithTTL(ctx, snapshotCacheKey(update.OwnerID), data, s.timeout); err != nil {
		s.logger.WarnContext(ctx, "failed to cache battle snapshot",
			log.String("owner_id", update.OwnerID),
			log.Any("error", err))
	}
}

func snapshotCacheKey(ownerID string) string {
	return "battle:snapshot:" + ownerID
}

// combatantFromProfile 由玩家档案构造战斗实例。
// 生命为档案当前值, 非法时回满。未知战斗风格在此拒绝。
func combatantFromProfile(profile *entity.PlayerProfile) (*Combatant, error) {
	style := StyleBalanced
	if profile.CombatStyle != "" {
		parsed, err := ParseCombatStyle(profile.CombatStyle)
		if err != nil {
			return nil, err
		}
		style = parsed
	}

	health := profile.Health
	if health <= 0 || health > profile.MaxHealth {
		health = profile.MaxHealth
	}

	return &Combatant{
		Identity:       profile.OwnerID,
		Level:          profile.Level,
		Health:         health,
		MaxHealth:      profile.MaxHealth,
		Attack:         profile.Attack,
		Defense:        profile.Defense,
		Style:          style,
		CriticalChance: profile.CriticalChance,
	}, nil
}
