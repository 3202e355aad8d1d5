package interfaces

import (
	"context"

	"fable-self/internal/repository/entity"
)

// BattleRecordRepository 负责已结束战斗的持久化。
type BattleRecordRepository interface {
	// Create 写入一条战斗记录。同一 session_id 重复写入时覆盖更新。
	Create(ctx context.Context, record *entity.BattleRecord) error

	// ListRecentByOwner 返回 ownerID 最近的战斗记录, 按结束时间倒序。
	ListRecentByOwner(ctx context.Context, ownerID string, limit int) ([]*entity.BattleRecord, error)
}
