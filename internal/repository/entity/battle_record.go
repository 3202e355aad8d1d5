package entity

import (
	"encoding/json"
	"time"

	"github.com/aarondl/null/v8"
)

// BattleRecord 已结束战斗的持久化记录
type BattleRecord struct {
	// 主键：战斗会话 ID
	SessionID string `db:"session_id" json:"session_id"`

	OwnerID     string `db:"owner_id" json:"owner_id"`
	OpponentKey string `db:"opponent_key" json:"opponent_key"`

	// 结果状态（victory/defeat/fled/timedOut）
	Result string `db:"result" json:"result"`
	Rounds int    `db:"rounds" json:"rounds"`

	// 发放的奖励；非胜利结果为 0
	RewardExperience int64 `db:"reward_experience" json:"reward_experience"`
	RewardGold       int64 `db:"reward_gold" json:"reward_gold"`

	// 回合流水 JSON
	Turns json.RawMessage `db:"turns" json:"turns,omitempty"`

	StartedAt  time.Time `db:"started_at" json:"started_at"`
	FinishedAt null.Time `db:"finished_at" json:"finished_at,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// TableName 返回表名
func (BattleRecord) TableName() string {
	return "battle_records"
}
