package interfaces

import (
	"context"
	"time"

	"fable-self/internal/repository/entity"
)

// BattleOutcome 描述一场战斗结束后需要落库的结果。
type BattleOutcome struct {
	OwnerID    string
	Result     string // 结果状态（victory/defeat/fled/timedOut）
	Experience int64  // 本场获得的经验；非胜利为 0
	Gold       int64  // 本场获得的金币；非胜利为 0
	Items      []string
	Health     int // 战斗结束时玩家剩余生命
	FinishedAt time.Time
}

// PlayerProfileRepository 负责玩家档案的持久化。
type PlayerProfileRepository interface {
	// GetByOwnerID 返回 ownerID 对应的档案, 不存在时返回 ProfileNotFound 错误。
	GetByOwnerID(ctx context.Context, ownerID string) (*entity.PlayerProfile, error)

	// Create 创建新档案。
	Create(ctx context.Context, profile *entity.PlayerProfile) error

	// ApplyBattleOutcome 在单个事务内应用战斗结果:
	// 累加经验和金币, 处理升级, 写入奖励物品, 更新战斗统计。返回更新后的档案。
	ApplyBattleOutcome(ctx context.Context, outcome *BattleOutcome) (*entity.PlayerProfile, error)
}
