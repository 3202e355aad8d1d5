package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fable-self/internal/pkg/log"
	"fable-self/internal/pkg/xerrors"
	"fable-self/internal/repository/entity"
	"fable-self/internal/repository/interfaces"
)

const serviceCatalogJSON = `{
	"goblin": {
		"name": "Goblin",
		"level": 1,
		"health": 80,
		"attack": 12,
		"defense": 4,
		"critical_chance": 0,
		"level_requirement": 1,
		"reward": {"experience": 50, "gold": 25}
	},
	"brute": {
		"name": "Brute",
		"level": 1,
		"health": 500,
		"attack": 200,
		"defense": 0,
		"critical_chance": 0,
		"level_requirement": 1,
		"reward": {"experience": 10, "gold": 5}
	},
	"dragon": {
		"name": "Ancient Dragon",
		"level": 12,
		"health": 500,
		"attack": 45,
		"defense": 25,
		"critical_chance": 0,
		"element": "fire",
		"weakness": "water",
		"resistance": "fire",
		"level_requirement": 10,
		"reward": {"experience": 1200, "gold": 600}
	}
}`

type fakeProfileRepo struct {
	mu       sync.Mutex
	profiles map[string]*entity.PlayerProfile
	applied  []*interfaces.BattleOutcome
}

func newFakeProfileRepo() *fakeProfileRepo {
	return &fakeProfileRepo{profiles: make(map[string]*entity.PlayerProfile)}
}

func (f *fakeProfileRepo) GetByOwnerID(ctx context.Context, ownerID string) (*entity.PlayerProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	profile, ok := f.profiles[ownerID]
	if !ok {
		return nil, xerrors.NewProfileNotFoundError(ownerID)
	}
	return profile, nil
}

func (f *fakeProfileRepo) Create(ctx context.Context, profile *entity.PlayerProfile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles[profile.OwnerID] = profile
	return nil
}

func (f *fakeProfileRepo) ApplyBattleOutcome(ctx context.Context, outcome *interfaces.BattleOutcome) (*entity.PlayerProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, outcome)

	profile, ok := f.profiles[outcome.OwnerID]
	if !ok {
		return nil, xerrors.NewProfileNotFoundError(outcome.OwnerID)
	}
	profile.Experience += outcome.Experience
	profile.Gold += outcome.Gold
	profile.Health = outcome.Health
	switch outcome.Result {
	case string(StateVictory):
		profile.BattleWins++
	case string(StateDefeat), string(StateTimedOut):
		profile.BattleLosses++
	case string(StateFled):
		profile.BattleFlees++
	}
	return profile, nil
}

func (f *fakeProfileRepo) appliedOutcomes() []*interfaces.BattleOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*interfaces.BattleOutcome(nil), f.applied...)
}

type fakeRecordRepo struct {
	mu      sync.Mutex
	records []*entity.BattleRecord
}

func (f *fakeRecordRepo) Create(ctx context.Context, record *entity.BattleRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, record)
	return nil
}

func (f *fakeRecordRepo) ListRecentByOwner(ctx context.Context, ownerID string, limit int) ([]*entity.BattleRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*entity.BattleRecord
	for _, r := range f.records {
		if r.OwnerID == ownerID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRecordRepo) all() []*entity.BattleRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*entity.BattleRecord(nil), f.records...)
}

// panicRand 用于模拟结算过程中的意外 panic
type panicRand struct{}

func (panicRand) Float64() float64 { panic("rng exploded") }

func newTestProfile(ownerID string) *entity.PlayerProfile {
	return &entity.PlayerProfile{
		OwnerID:   ownerID,
		Level:     1,
		Attack:    15,
		Defense:   8,
		Health:    100,
		MaxHealth: 100,
	}
}

func newTestService(t *testing.T, timeout time.Duration) (*BattleService, *fakeProfileRepo, *fakeRecordRepo) {
	t.Helper()

	catalog, err := ParseOpponentCatalog([]byte(serviceCatalogJSON))
	require.NoError(t, err)

	logger := log.GetLogger()
	profileRepo := newFakeProfileRepo()
	recordRepo := &fakeRecordRepo{}
	store := NewSessionRegistry(timeout+time.Minute, logger)

	svc := NewBattleService(catalog, store, profileRepo, recordRepo, nil, logger, timeout)
	svc.rng = stubRand{0.99} // 默认无暴击
	return svc, profileRepo, recordRepo
}

func requireCode(t *testing.T, err error, code xerrors.ErrorCode) {
	t.Helper()
	var appErr *xerrors.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, code, appErr.Code)
}

func TestStartBattle(t *testing.T) {
	svc, profileRepo, _ := newTestService(t, time.Hour)
	require.NoError(t, profileRepo.Create(context.Background(), newTestProfile("owner-1")))

	update, err := svc.Start(context.Background(), "owner-1", "goblin")
	require.NoError(t, err)
	require.NotEmpty(t, update.SessionID)
	require.Equal(t, StateActive, update.State)
	require.Equal(t, 1, update.Round)
	require.Equal(t, TurnPlayer, update.Turn)
	require.Equal(t, 100, update.Player.Health)
	require.Equal(t, 80, update.Opponent.Health)
	require.False(t, update.Terminal)
	require.Equal(t, 1, svc.ActiveBattleCount())
}

func TestStartRejectsUnknownOpponent(t *testing.T) {
	svc, profileRepo, _ := newTestService(t, time.Hour)
	require.NoError(t, profileRepo.Create(context.Background(), newTestProfile("owner-1")))

	_, err := svc.Start(context.Background(), "owner-1", "slime")
	requireCode(t, err, xerrors.CodeOpponentNotFound)
	require.Zero(t, svc.ActiveBattleCount())
}

func TestStartRejectsMissingProfile(t *testing.T) {
	svc, _, _ := newTestService(t, time.Hour)

	_, err := svc.Start(context.Background(), "ghost", "goblin")
	requireCode(t, err, xerrors.CodeProfileNotFound)
}

func TestStartEnforcesLevelRequirement(t *testing.T) {
	svc, profileRepo, _ := newTestService(t, time.Hour)
	require.NoError(t, profileRepo.Create(context.Background(), newTestProfile("owner-1")))

	_, err := svc.Start(context.Background(), "owner-1", "dragon")
	requireCode(t, err, xerrors.CodeBattleLevelTooLow)
	// 等级门槛在预约之前拦截, 注册表不留痕迹
	require.Zero(t, svc.ActiveBattleCount())
}

func TestStartRejectsConcurrentBattle(t *testing.T) {
	svc, profileRepo, _ := newTestService(t, time.Hour)
	require.NoError(t, profileRepo.Create(context.Background(), newTestProfile("owner-1")))

	first, err := svc.Start(context.Background(), "owner-1", "goblin")
	require.NoError(t, err)

	_, err = svc.Start(context.Background(), "owner-1", "goblin")
	requireCode(t, err, xerrors.CodeAlreadyInBattle)

	// 原会话不受影响
	current, err := svc.GetCurrent(context.Background(), "owner-1")
	require.NoError(t, err)
	require.Equal(t, first.SessionID, current.SessionID)
	require.Equal(t, 1, svc.ActiveBattleCount())
}

func TestStartRejectsUnknownCombatStyle(t *testing.T) {
	svc, profileRepo, _ := newTestService(t, time.Hour)
	profile := newTestProfile("owner-1")
	profile.CombatStyle = "chaotic"
	require.NoError(t, profileRepo.Create(context.Background(), profile))

	_, err := svc.Start(context.Background(), "owner-1", "goblin")
	requireCode(t, err, xerrors.CodeInvalidParams)
	require.Zero(t, svc.ActiveBattleCount())
}

// 完整对局: 玩家每回合造成 15-4=11 伤害, 对手反击 12-8=4,
// 第 8 次攻击击败 80 血量的对手。
func TestFullBattleVictory(t *testing.T) {
	svc, profileRepo, recordRepo := newTestService(t, time.Hour)
	require.NoError(t, profileRepo.Create(context.Background(), newTestProfile("owner-1")))

	start, err := svc.Start(context.Background(), "owner-1", "goblin")
	require.NoError(t, err)

	var update *BattleUpdate
	for i := 1; i <= 7; i++ {
		update, err = svc.Act(context.Background(), "owner-1", ActionAttack)
		require.NoError(t, err)
		require.Equal(t, StateActive, update.State)
		require.Equal(t, i+1, update.Round)
		require.Equal(t, TurnPlayer, update.Turn)
		require.Equal(t, 80-11*i, update.Opponent.Health)
		require.Equal(t, 100-4*i, update.Player.Health)
	}

	update, err = svc.Act(context.Background(), "owner-1", ActionAttack)
	require.NoError(t, err)
	require.Equal(t, StateVictory, update.State)
	require.True(t, update.Terminal)
	require.Zero(t, update.Opponent.Health)
	require.Equal(t, 72, update.Player.Health)
	require.NotNil(t, update.Reward)
	require.EqualValues(t, 50, update.Reward.Experience)
	require.EqualValues(t, 25, update.Reward.Gold)

	// 槽位已释放, 再次行动视为无会话
	require.Zero(t, svc.ActiveBattleCount())
	_, err = svc.Act(context.Background(), "owner-1", ActionAttack)
	requireCode(t, err, xerrors.CodeBattleSessionNotFound)

	// 档案回写
	outcomes := profileRepo.appliedOutcomes()
	require.Len(t, outcomes, 1)
	require.Equal(t, string(StateVictory), outcomes[0].Result)
	require.EqualValues(t, 50, outcomes[0].Experience)
	require.Equal(t, 72, outcomes[0].Health)

	profile, err := profileRepo.GetByOwnerID(context.Background(), "owner-1")
	require.NoError(t, err)
	require.EqualValues(t, 50, profile.Experience)
	require.EqualValues(t, 25, profile.Gold)
	require.Equal(t, 1, profile.BattleWins)

	// 战斗记录
	records := recordRepo.all()
	require.Len(t, records, 1)
	require.Equal(t, start.SessionID, records[0].SessionID)
	require.Equal(t, "goblin", records[0].OpponentKey)
	require.Equal(t, string(StateVictory), records[0].Result)
	require.Equal(t, 8, records[0].Rounds)
	require.True(t, records[0].FinishedAt.Valid)
}

func TestBattleDefeat(t *testing.T) {
	svc, profileRepo, recordRepo := newTestService(t, time.Hour)
	require.NoError(t, profileRepo.Create(context.Background(), newTestProfile("owner-1")))

	_, err := svc.Start(context.Background(), "owner-1", "brute")
	require.NoError(t, err)

	update, err := svc.Act(context.Background(), "owner-1", ActionAttack)
	require.NoError(t, err)
	require.Equal(t, StateDefeat, update.State)
	require.True(t, update.Terminal)
	require.Zero(t, update.Player.Health)
	require.Nil(t, update.Reward)
	require.Zero(t, svc.ActiveBattleCount())

	// 失败也回写档案, 但奖励为零
	outcomes := profileRepo.appliedOutcomes()
	require.Len(t, outcomes, 1)
	require.Equal(t, string(StateDefeat), outcomes[0].Result)
	require.Zero(t, outcomes[0].Experience)
	require.Zero(t, outcomes[0].Gold)

	records := recordRepo.all()
	require.Len(t, records, 1)
	require.Equal(t, string(StateDefeat), records[0].Result)
}

func TestFleeEndsBattleWithoutProfileSync(t *testing.T) {
	svc, profileRepo, recordRepo := newTestService(t, time.Hour)
	require.NoError(t, profileRepo.Create(context.Background(), newTestProfile("owner-1")))

	_, err := svc.Start(context.Background(), "owner-1", "goblin")
	require.NoError(t, err)

	update, err := svc.Act(context.Background(), "owner-1", ActionFlee)
	require.NoError(t, err)
	require.Equal(t, StateFled, update.State)
	require.True(t, update.Terminal)
	require.Nil(t, update.Reward)
	require.Zero(t, svc.ActiveBattleCount())

	// 逃跑不触发档案回写
	require.Empty(t, profileRepo.appliedOutcomes())
	records := recordRepo.all()
	require.Len(t, records, 1)
	require.Equal(t, string(StateFled), records[0].Result)
}

func TestDefendReducesNextOpponentAttack(t *testing.T) {
	svc, profileRepo, _ := newTestService(t, time.Hour)
	require.NoError(t, profileRepo.Create(context.Background(), newTestProfile("owner-1")))

	_, err := svc.Start(context.Background(), "owner-1", "goblin")
	require.NoError(t, err)

	// 防御提升 +4, 对手攻击 12 - (8+4) = 0 → 保底 1
	update, err := svc.Act(context.Background(), "owner-1", ActionDefend)
	require.NoError(t, err)
	require.Equal(t, 99, update.Player.Health)
	require.Len(t, update.Player.StatusEffects, 1)

	// 下一回合开始时效果到期, 对手攻击恢复 12-8=4
	update, err = svc.Act(context.Background(), "owner-1", ActionAttack)
	require.NoError(t, err)
	require.Equal(t, 95, update.Player.Health)
	require.Empty(t, update.Player.StatusEffects)
}

// 被拒绝的动作不能留下任何状态变更, 已生效的防御提升必须原样保留。
func TestRejectedActionLeavesSessionUntouched(t *testing.T) {
	svc, profileRepo, _ := newTestService(t, time.Hour)
	require.NoError(t, profileRepo.Create(context.Background(), newTestProfile("owner-1")))

	_, err := svc.Start(context.Background(), "owner-1", "goblin")
	require.NoError(t, err)

	update, err := svc.Act(context.Background(), "owner-1", ActionDefend)
	require.NoError(t, err)
	require.Len(t, update.Player.StatusEffects, 1)

	_, err = svc.Act(context.Background(), "owner-1", Action("dance"))
	requireCode(t, err, xerrors.CodeInvalidBattleAction)

	// 效果、回合数和生命值都不受被拒绝动作影响
	current, err := svc.GetCurrent(context.Background(), "owner-1")
	require.NoError(t, err)
	require.Len(t, current.Player.StatusEffects, 1)
	require.Equal(t, update.Round, current.Round)
	require.Equal(t, update.Player.Health, current.Player.Health)
	require.Equal(t, update.Opponent.Health, current.Opponent.Health)

	// 下一次合法动作开始时效果正常到期, 对手反击伤害回到 12-8=4
	after, err := svc.Act(context.Background(), "owner-1", ActionAttack)
	require.NoError(t, err)
	require.Equal(t, current.Player.Health-4, after.Player.Health)
}

func TestUseItemHealsUpToMax(t *testing.T) {
	svc, profileRepo, _ := newTestService(t, time.Hour)
	require.NoError(t, profileRepo.Create(context.Background(), newTestProfile("owner-1")))

	_, err := svc.Start(context.Background(), "owner-1", "goblin")
	require.NoError(t, err)

	// 先挨一下: 100 → 96
	update, err := svc.Act(context.Background(), "owner-1", ActionAttack)
	require.NoError(t, err)
	require.Equal(t, 96, update.Player.Health)

	// 治疗受上限约束: min(30, 4) 回满后再挨一下
	update, err = svc.Act(context.Background(), "owner-1", ActionUseItem)
	require.NoError(t, err)
	require.Equal(t, 96, update.Player.Health)
}

func TestGetCurrentWithoutSession(t *testing.T) {
	svc, _, _ := newTestService(t, time.Hour)

	_, err := svc.GetCurrent(context.Background(), "owner-1")
	requireCode(t, err, xerrors.CodeBattleSessionNotFound)
}

func TestActWithoutSession(t *testing.T) {
	svc, _, _ := newTestService(t, time.Hour)

	_, err := svc.Act(context.Background(), "owner-1", ActionAttack)
	requireCode(t, err, xerrors.CodeBattleSessionNotFound)
}

func TestBattleTimesOutAfterInactivity(t *testing.T) {
	svc, profileRepo, recordRepo := newTestService(t, 30*time.Millisecond)
	require.NoError(t, profileRepo.Create(context.Background(), newTestProfile("owner-1")))

	_, err := svc.Start(context.Background(), "owner-1", "goblin")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return svc.ActiveBattleCount() == 0
	}, 2*time.Second, 10*time.Millisecond)

	_, err = svc.Act(context.Background(), "owner-1", ActionAttack)
	requireCode(t, err, xerrors.CodeBattleSessionNotFound)

	// 超时不回写档案, 但保留战斗记录
	require.Empty(t, profileRepo.appliedOutcomes())
	records := recordRepo.all()
	require.Len(t, records, 1)
	require.Equal(t, string(StateTimedOut), records[0].Result)

	// 超时后可以开新会话
	_, err = svc.Start(context.Background(), "owner-1", "goblin")
	require.NoError(t, err)
}

func TestTimeoutAfterNormalFinishIsNoop(t *testing.T) {
	svc, profileRepo, recordRepo := newTestService(t, time.Hour)
	require.NoError(t, profileRepo.Create(context.Background(), newTestProfile("owner-1")))

	start, err := svc.Start(context.Background(), "owner-1", "goblin")
	require.NoError(t, err)

	_, err = svc.Act(context.Background(), "owner-1", ActionFlee)
	require.NoError(t, err)

	// 会话已终结释放, 迟到的超时回调必须是 no-op
	svc.handleTimeout("owner-1", start.SessionID)
	require.Empty(t, profileRepo.appliedOutcomes())
	require.Len(t, recordRepo.all(), 1)
}

func TestSweepExpiredFinalizesStaleSessions(t *testing.T) {
	catalog, err := ParseOpponentCatalog([]byte(serviceCatalogJSON))
	require.NoError(t, err)

	logger := log.GetLogger()
	profileRepo := newFakeProfileRepo()
	recordRepo := &fakeRecordRepo{}
	// 注册表 TTL 远小于战斗超时, 把会话送进清扫候选集
	store := NewSessionRegistry(30*time.Millisecond, logger)
	svc := NewBattleService(catalog, store, profileRepo, recordRepo, nil, logger, time.Hour)
	svc.rng = stubRand{0.99}

	require.NoError(t, profileRepo.Create(context.Background(), newTestProfile("owner-1")))
	_, err = svc.Start(context.Background(), "owner-1", "goblin")
	require.NoError(t, err)

	// 模拟定时器丢失且无动作时间已超过超时窗口的会话
	rt, ok := svc.store.Get(context.Background(), "owner-1")
	require.True(t, ok)
	rt.mu.Lock()
	rt.timer.Stop()
	rt.session.LastActionAt = time.Now().Add(-2 * time.Hour)
	rt.mu.Unlock()

	time.Sleep(60 * time.Millisecond)
	require.Equal(t, 1, svc.SweepExpired(context.Background()))
	require.Zero(t, svc.ActiveBattleCount())

	records := recordRepo.all()
	require.Len(t, records, 1)
	require.Equal(t, string(StateTimedOut), records[0].Result)

	// 再次清扫无事可做
	require.Zero(t, svc.SweepExpired(context.Background()))
}

// 注册表 TTL 过期只是清扫的候选条件, LastActionAt 仍在超时窗口内的会话不能被终结。
func TestSweepSparesRecentlyActiveSessions(t *testing.T) {
	catalog, err := ParseOpponentCatalog([]byte(serviceCatalogJSON))
	require.NoError(t, err)

	logger := log.GetLogger()
	profileRepo := newFakeProfileRepo()
	recordRepo := &fakeRecordRepo{}
	store := NewSessionRegistry(30*time.Millisecond, logger)
	svc := NewBattleService(catalog, store, profileRepo, recordRepo, nil, logger, time.Hour)
	svc.rng = stubRand{0.99}

	require.NoError(t, profileRepo.Create(context.Background(), newTestProfile("owner-1")))
	start, err := svc.Start(context.Background(), "owner-1", "goblin")
	require.NoError(t, err)

	// 刚开局的会话即使注册表 TTL 已过也不能被扫掉
	time.Sleep(60 * time.Millisecond)
	require.Zero(t, svc.SweepExpired(context.Background()))

	// 动作会续期注册表, 活跃对局在 TTL 反复过期后依然存活
	for i := 0; i < 3; i++ {
		_, err = svc.Act(context.Background(), "owner-1", ActionDefend)
		require.NoError(t, err)
		time.Sleep(60 * time.Millisecond)
		require.Zero(t, svc.SweepExpired(context.Background()))
	}

	current, err := svc.GetCurrent(context.Background(), "owner-1")
	require.NoError(t, err)
	require.Equal(t, start.SessionID, current.SessionID)
	require.Equal(t, StateActive, current.State)
	require.Empty(t, recordRepo.all())
}

func TestActPanicReleasesSlot(t *testing.T) {
	svc, profileRepo, recordRepo := newTestService(t, time.Hour)
	require.NoError(t, profileRepo.Create(context.Background(), newTestProfile("owner-1")))

	_, err := svc.Start(context.Background(), "owner-1", "goblin")
	require.NoError(t, err)

	svc.rng = panicRand{}
	update, err := svc.Act(context.Background(), "owner-1", ActionAttack)
	require.Nil(t, update)
	requireCode(t, err, xerrors.CodeInternalError)

	// 槽位必须被释放, 会话按逃跑收尾, 不发奖励
	require.Zero(t, svc.ActiveBattleCount())
	require.Empty(t, profileRepo.appliedOutcomes())
	records := recordRepo.all()
	require.Len(t, records, 1)
	require.Equal(t, string(StateFled), records[0].Result)

	// 之后可以正常开新会话
	svc.rng = stubRand{0.99}
	_, err = svc.Start(context.Background(), "owner-1", "goblin")
	require.NoError(t, err)
}

func TestPlayerHealthCarriesIntoBattle(t *testing.T) {
	svc, profileRepo, _ := newTestService(t, time.Hour)
	profile := newTestProfile("owner-1")
	profile.Health = 40
	require.NoError(t, profileRepo.Create(context.Background(), profile))

	update, err := svc.Start(context.Background(), "owner-1", "goblin")
	require.NoError(t, err)
	require.Equal(t, 40, update.Player.Health)
	require.Equal(t, 100, update.Player.MaxHealth)
}

func TestInvalidProfileHealthResetsToMax(t *testing.T) {
	svc, profileRepo, _ := newTestService(t, time.Hour)
	profile := newTestProfile("owner-1")
	profile.Health = 0
	require.NoError(t, profileRepo.Create(context.Background(), profile))

	update, err := svc.Start(context.Background(), "owner-1", "goblin")
	require.NoError(t, err)
	require.Equal(t, 100, update.Player.Health)
}

func TestOpponentKeys(t *testing.T) {
	svc, _, _ := newTestService(t, time.Hour)
	require.Equal(t, []string{"brute", "dragon", "goblin"}, svc.OpponentKeys())
}
