package entity

import (
	"time"

	"github.com/aarondl/null/v8"
)

// PlayerProfile 数据库玩家档案实体
type PlayerProfile struct {
	// 主键：聊天平台用户 ID
	OwnerID string `db:"owner_id" json:"owner_id"`

	// 展示信息
	DisplayName null.String `db:"display_name" json:"display_name,omitempty"`

	// 成长数据
	Level      int   `db:"level" json:"level"`
	Experience int64 `db:"experience" json:"experience"`
	Gold       int64 `db:"gold" json:"gold"`

	// 战斗属性
	Attack         int     `db:"attack" json:"attack"`
	Defense        int     `db:"defense" json:"defense"`
	Health         int     `db:"health" json:"health"`
	MaxHealth      int     `db:"max_health" json:"max_health"`
	CombatStyle    string  `db:"combat_style" json:"combat_style"`
	CriticalChance float64 `db:"critical_chance" json:"critical_chance"`

	// 战斗统计
	BattleWins   int `db:"battle_wins" json:"battle_wins"`
	BattleLosses int `db:"battle_losses" json:"battle_losses"`
	BattleFlees  int `db:"battle_flees" json:"battle_flees"`

	// 最近一场战斗结束时间
	LastBattleAt null.Time `db:"last_battle_at" json:"last_battle_at,omitempty"`

	// 时间戳
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
	DeletedAt null.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

// TableName 返回表名
func (PlayerProfile) TableName() string {
	return "player_profiles"
}

// IsDeleted 检查档案是否被软删除
func (p *PlayerProfile) IsDeleted() bool {
	return p.DeletedAt.Valid
}

// MeetsLevel 检查玩家等级是否达到要求
func (p *PlayerProfile) MeetsLevel(required int) bool {
	return p.Level >= required
}
