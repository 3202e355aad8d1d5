package service

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/go-playground/validator/v10"
)

// OpponentReward 对手的基础奖励配置。
type OpponentReward struct {
	Experience int64    `json:"experience" validate:"min=0"`
	Gold       int64    `json:"gold" validate:"min=0"`
	Items      []string `json:"items,omitempty" validate:"dive,required"`
}

// OpponentDefinition 对手目录条目, 加载后不可变。
type OpponentDefinition struct {
	Kind             string         `json:"kind" validate:"required"`
	Name             string         `json:"name" validate:"required"`
	Level            int            `json:"level" validate:"min=1"`
	Health           int            `json:"health" validate:"min=1"`
	Attack           int            `json:"attack" validate:"min=0"`
	Defense          int            `json:"defense" validate:"min=0"`
	CriticalChance   float64        `json:"critical_chance" validate:"min=0,max=1"`
	Abilities        []string       `json:"abilities,omitempty" validate:"dive,required"`
	Element          Element        `json:"element,omitempty" validate:"omitempty,oneof=fire water earth wind light dark"`
	Weakness         Element        `json:"weakness,omitempty" validate:"omitempty,oneof=fire water earth wind light dark"`
	Resistance       Element        `json:"resistance,omitempty" validate:"omitempty,oneof=fire water earth wind light dark"`
	LevelRequirement int            `json:"level_requirement" validate:"min=1"`
	Reward           OpponentReward `json:"reward"`
}

// NewCombatant 按目录条目构造对手战斗实例。
// 实例 ID 由调用方提供, 对手恒为均衡风格, 使用自身基础属性。
func (d *OpponentDefinition) NewCombatant(instanceID string) *Combatant {
	return &Combatant{
		Identity:       instanceID,
		Level:          d.Level,
		Health:         d.Health,
		MaxHealth:      d.Health,
		Attack:         d.Attack,
		Defense:        d.Defense,
		Style:          StyleBalanced,
		CriticalChance: d.CriticalChance,
		Element:        d.Element,
	}
}

// OpponentCatalog 只读的对手目录, 按 opponentKey 检索。
type OpponentCatalog struct {
	entries map[string]*OpponentDefinition
}

// LoadOpponentCatalog 从 JSON 文件加载目录并在加载时校验每个条目。
// 任何条目不合法都会导致加载失败, 而不是推迟到使用时报错。
func LoadOpponentCatalog(path string) (*OpponentCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取对手目录失败: %w", err)
	}
	return ParseOpponentCatalog(data)
}

// ParseOpponentCatalog 从 JSON 数据解析目录。
func ParseOpponentCatalog(data []byte) (*OpponentCatalog, error) {
	var raw map[string]*OpponentDefinition
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("解析对手目录失败: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("对手目录为空")
	}

	validate := validator.New()
	for key, def := range raw {
		if def == nil {
			return nil, fmt.Errorf("对手目录条目 %q 为空", key)
		}
		if def.Kind == "" {
			def.Kind = key
		}
		if err := validate.Struct(def); err != nil {
			return nil, fmt.Errorf("对手目录条目 %q 校验失败: %w", key, err)
		}
		if def.Weakness != ElementNone && def.Weakness == def.Resistance {
			return nil, fmt.Errorf("对手目录条目 %q 弱点与抗性元素相同", key)
		}
	}

	return &OpponentCatalog{entries: raw}, nil
}

// Get 按 key 查找对手定义。
func (c *OpponentCatalog) Get(key string) (*OpponentDefinition, bool) {
	def, ok := c.entries[key]
	return def, ok
}

// Keys 返回排序后的全部 opponentKey。
func (c *OpponentCatalog) Keys() []string {
	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Len 返回条目数。
func (c *OpponentCatalog) Len() int {
	return len(c.entries)
}
