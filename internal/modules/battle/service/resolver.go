package service

import (
	"fable-self/internal/pkg/xerrors"
)

// Action 玩家可选的战斗动作
type Action string

const (
	ActionAttack  Action = "attack"
	ActionDefend  Action = "defend"
	ActionSpecial Action = "specialMove"
	ActionUseItem Action = "useItem"
	ActionFlee    Action = "flee"
)

var legalActions = map[Action]struct{}{
	ActionAttack:  {},
	ActionDefend:  {},
	ActionSpecial: {},
	ActionUseItem: {},
	ActionFlee:    {},
}

// ParseAction 解析动作字符串, 未知动作在边界处拒绝。
func ParseAction(s string) (Action, error) {
	action := Action(s)
	if _, ok := legalActions[action]; !ok {
		return "", xerrors.NewInvalidBattleActionError(s, "unknown action")
	}
	return action, nil
}

// RandomSource 随机数来源。测试中注入确定性序列。
type RandomSource interface {
	// Float64 返回 [0,1) 均匀分布的随机数。
	Float64() float64
}

// 结算常数
const (
	criticalMultiplier   = 2.0
	weaknessMultiplier   = 1.5
	resistanceMultiplier = 0.5
	specialMultiplier    = 1.5
	defendBoostRatio     = 0.5
	defendBoostTurns     = 1 // 覆盖到玩家下一回合开始前
	itemHealAmount       = 30
)

// ResolveResult 单次动作的结算结果。
// 结算不修改任何参战者, 由状态机负责应用。
type ResolveResult struct {
	Damage         int
	Healing        int
	Critical       bool
	EffectsApplied []Effect
}

// Resolve 结算一次动作。纯函数:
// 1. baseDamage = max(1, 攻击方攻击(含风格) - 防御方防御(含风格和效果))
// 2. 暴击判定: rng < 暴击率 时伤害翻倍
// 3. 元素修正: 动作元素命中防御方弱点 x1.5, 命中抗性 x0.5
// 4. defend 不造成伤害, 给攻击方自身附加 1 回合防御提升
// 5. useItem 恢复生命, 不超过上限
// flee 不经过结算器, 由状态机直接终结会话。
func Resolve(attacker, defender *Combatant, action Action, weakness, resistance Element, rng RandomSource) (*ResolveResult, error) {
	switch action {
	case ActionAttack, ActionSpecial:
		return resolveStrike(attacker, defender, action, weakness, resistance, rng), nil

	case ActionDefend:
		boost := int(float64(attacker.Defense) * defendBoostRatio)
		if boost < 1 {
			boost = 1
		}
		return &ResolveResult{
			EffectsApplied: []Effect{{
				Kind:      EffectDefendBoost,
				Attribute: "defense",
				Amount:    boost,
				TurnsLeft: defendBoostTurns,
			}},
		}, nil

	case ActionUseItem:
		healing := itemHealAmount
		if headroom := attacker.MaxHealth - attacker.Health; healing > headroom {
			healing = headroom
		}
		return &ResolveResult{Healing: healing}, nil

	case ActionFlee:
		return nil, xerrors.NewInvalidBattleActionError(string(action), "flee does not resolve damage")

	default:
		return nil, xerrors.NewInvalidBattleActionError(string(action), "unknown action")
	}
}

func resolveStrike(attacker, defender *Combatant, action Action, weakness, resistance Element, rng RandomSource) *ResolveResult {
	base := attacker.EffectiveAttack() - defender.EffectiveDefense()
	if base < 1 {
		base = 1
	}
	damage := float64(base)

	critical := rng.Float64() < attacker.EffectiveCriticalChance()
	if critical {
		damage *= criticalMultiplier
	}

	// 普通攻击无元素; 特殊攻击带攻击方元素, 并有额外倍率
	element := ElementNone
	if action == ActionSpecial {
		element = attacker.Element
		damage *= specialMultiplier
	}
	if element != ElementNone {
		switch element {
		case weakness:
			damage *= weaknessMultiplier
		case resistance:
			damage *= resistanceMultiplier
		}
	}

	final := int(damage)
	if final < 1 {
		final = 1
	}
	return &ResolveResult{Damage: final, Critical: critical}
}
