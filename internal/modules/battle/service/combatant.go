package service

import (
	"time"

	"fable-self/internal/pkg/xerrors"
)

// CombatStyle 战斗风格, 封闭枚举
type CombatStyle string

const (
	StyleAggressive CombatStyle = "aggressive"
	StyleDefensive  CombatStyle = "defensive"
	StyleBalanced   CombatStyle = "balanced"
	StyleBerserker  CombatStyle = "berserker"
)

// StyleModifiers 风格对基础属性的修正
type StyleModifiers struct {
	AttackBonus    int
	DefenseBonus   int
	CriticalChance float64
}

var styleModifiers = map[CombatStyle]StyleModifiers{
	StyleAggressive: {AttackBonus: 5, DefenseBonus: -2, CriticalChance: 0.15},
	StyleDefensive:  {AttackBonus: -2, DefenseBonus: 5, CriticalChance: 0.05},
	StyleBalanced:   {AttackBonus: 0, DefenseBonus: 0, CriticalChance: 0.10},
	StyleBerserker:  {AttackBonus: 10, DefenseBonus: -5, CriticalChance: 0.25},
}

// ParseCombatStyle 解析风格字符串, 未知风格在边界处拒绝而不是静默回退。
func ParseCombatStyle(s string) (CombatStyle, error) {
	style := CombatStyle(s)
	if _, ok := styleModifiers[style]; !ok {
		return "", xerrors.NewValidationError("combatStyle", "unknown combat style: "+s)
	}
	return style, nil
}

// Modifiers 返回风格修正值。未知风格返回零修正, 正常路径不会出现。
func (s CombatStyle) Modifiers() StyleModifiers {
	return styleModifiers[s]
}

// Element 元素属性
type Element string

const (
	ElementNone  Element = ""
	ElementFire  Element = "fire"
	ElementWater Element = "water"
	ElementEarth Element = "earth"
	ElementWind  Element = "wind"
	ElementLight Element = "light"
	ElementDark  Element = "dark"
)

// EffectKind 状态效果种类
type EffectKind string

const (
	// EffectDefendBoost 防御动作带来的临时防御提升
	EffectDefendBoost EffectKind = "defendBoost"
)

// Effect 状态效果。TurnsLeft 以持有者的回合计数,
// 持有者回合开始时递减, 归零后移除。
type Effect struct {
	Kind      EffectKind `json:"kind"`
	Attribute string     `json:"attribute"`
	Amount    int        `json:"amount"`
	TurnsLeft int        `json:"turns_left"`
}

// Combatant 战斗参与者, 玩家和对手共用同一模型。
type Combatant struct {
	Identity       string      `json:"identity"`
	Level          int         `json:"level"`
	Health         int         `json:"health"`
	MaxHealth      int         `json:"max_health"`
	Attack         int         `json:"attack"`
	Defense        int         `json:"defense"`
	Style          CombatStyle `json:"style"`
	CriticalChance float64     `json:"critical_chance"`
	Element        Element     `json:"element,omitempty"`
	StatusEffects  []Effect    `json:"status_effects,omitempty"`
}

// ApplyDamage 扣减生命, 下限 0。
func (c *Combatant) ApplyDamage(amount int) {
	if amount < 0 {
		amount = 0
	}
	c.Health -= amount
	if c.Health < 0 {
		c.Health = 0
	}
}

// Heal 恢复生命, 上限 MaxHealth。
func (c *Combatant) Heal(amount int) int {
	if amount < 0 {
		amount = 0
	}
	healed := amount
	if c.Health+healed > c.MaxHealth {
		healed = c.MaxHealth - c.Health
	}
	c.Health += healed
	return healed
}

// IsDefeated 生命归零即被击败。
func (c *Combatant) IsDefeated() bool {
	return c.Health <= 0
}

// EffectiveDefense 返回含风格修正和状态效果的防御值。
func (c *Combatant) EffectiveDefense() int {
	defense := c.Defense + c.Style.Modifiers().DefenseBonus
	for _, e := range c.StatusEffects {
		if e.Attribute == "defense" {
			defense += e.Amount
		}
	}
	return defense
}

// EffectiveAttack 返回含风格修正的攻击值。
func (c *Combatant) EffectiveAttack() int {
	return c.Attack + c.Style.Modifiers().AttackBonus
}

// EffectiveCriticalChance 返回含风格修正的暴击率, 截断到 [0,1]。
func (c *Combatant) EffectiveCriticalChance() float64 {
	chance := c.CriticalChance + c.Style.Modifiers().CriticalChance
	if chance < 0 {
		return 0
	}
	if chance > 1 {
		return 1
	}
	return chance
}

// AddEffect 附加状态效果。同种效果刷新持续时间, 不叠加。
func (c *Combatant) AddEffect(effect Effect) {
	for i := range c.StatusEffects {
		if c.StatusEffects[i].Kind == effect.Kind {
			c.StatusEffects[i] = effect
			return
		}
	}
	c.StatusEffects = append(c.StatusEffects, effect)
}

// TickEffects 持有者回合开始时调用, 递减持续时间并移除到期效果。
func (c *Combatant) TickEffects() {
	remaining := c.StatusEffects[:0]
	for _, e := range c.StatusEffects {
		e.TurnsLeft--
		if e.TurnsLeft > 0 {
			remaining = append(remaining, e)
		}
	}
	c.StatusEffects = remaining
}

// SessionState 会话状态
type SessionState string

const (
	StateActive   SessionState = "active"
	StateVictory  SessionState = "victory"
	StateDefeat   SessionState = "defeat"
	StateFled     SessionState = "fled"
	StateTimedOut SessionState = "timedOut"
)

// IsTerminal active 是唯一的非终结状态。
func (s SessionState) IsTerminal() bool {
	return s != StateActive
}

// TurnSide 当前行动方
type TurnSide string

const (
	TurnPlayer   TurnSide = "player"
	TurnOpponent TurnSide = "opponent"
)

// BattleSession 进行中的战斗会话。
// 只能由 BattleService 在持有会话锁的情况下修改。
type BattleSession struct {
	SessionID    string
	OwnerID      string
	Player       *Combatant
	Opponent     *Combatant
	OpponentDef  *OpponentDefinition
	Turn         TurnSide
	Round        int
	State        SessionState
	CreatedAt    time.Time
	LastActionAt time.Time
}

// RewardSummary 终局发放的奖励。
type RewardSummary struct {
	Experience int64    `json:"experience"`
	Gold       int64    `json:"gold"`
	Items      []string `json:"items,omitempty"`
}

// BattleUpdate 每次 start/act 返回给表现层的会话快照。
type BattleUpdate struct {
	SessionID  string         `json:"session_id"`
	OwnerID    string         `json:"owner_id"`
	State      SessionState   `json:"state"`
	Round      int            `json:"round"`
	Turn       TurnSide       `json:"turn"`
	Player     Combatant      `json:"player"`
	Opponent   Combatant      `json:"opponent"`
	LastAction string         `json:"last_action"`
	Terminal   bool           `json:"terminal"`
	Reward     *RewardSummary `json:"reward,omitempty"`
}

// snapshot 生成脱离会话内部状态的更新对象。
func (s *BattleSession) snapshot(lastAction string, reward *RewardSummary) *BattleUpdate {
	player := *s.Player
	player.StatusEffects = append([]Effect(nil), s.Player.StatusEffects...)
	opponent := *s.Opponent
	opponent.StatusEffects = append([]Effect(nil), s.Opponent.StatusEffects...)

	return &BattleUpdate{
		SessionID:  s.SessionID,
		OwnerID:    s.OwnerID,
		State:      s.State,
		Round:      s.Round,
		Turn:       s.Turn,
		Player:     player,
		Opponent:   opponent,
		LastAction: lastAction,
		Terminal:   s.State.IsTerminal(),
		Reward:     reward,
	}
}
