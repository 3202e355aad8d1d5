package service

// rewardLevelStep 每级需求带来的奖励加成
const rewardLevelStep = 0.1

// ScaleReward 按对手的等级要求缩放基础奖励:
// scaled = base * (1 + 0.1*(levelRequirement-1)), 截断取整。
// 等级要求为 1 的对手发放精确的基础奖励。
func ScaleReward(def *OpponentDefinition) RewardSummary {
	multiplier := 1 + rewardLevelStep*float64(def.LevelRequirement-1)
	return RewardSummary{
		Experience: int64(float64(def.Reward.Experience) * multiplier),
		Gold:       int64(float64(def.Reward.Gold) * multiplier),
		Items:      append([]string(nil), def.Reward.Items...),
	}
}
