package tasks

import (
	"context"

	"github.com/robfig/cron/v3"

	"fable-self/internal/modules/battle/service"
	"fable-self/internal/pkg/log"
)

// SessionSweeperTask 定时清扫任务
// 兜底释放超时但定时器未触发的会话（主路径是每会话定时器）
type SessionSweeperTask struct {
	battleService *service.BattleService
	logger        log.Logger
	cron          *cron.Cron
}

// NewSessionSweeperTask 创建定时清扫任务实例
func NewSessionSweeperTask(battleService *service.BattleService, logger log.Logger) *SessionSweeperTask {
	return &SessionSweeperTask{
		battleService: battleService,
		logger:        logger,
	}
}

// Start 启动定时任务
func (t *SessionSweeperTask) Start() {
	t.cron = cron.New(cron.WithSeconds()) // 支持秒级调度（用于测试）

	// 每分钟执行一次兜底清扫
	// Cron 表达式: 秒 分 时 日 月 周
	_, err := t.cron.AddFunc("0 * * * * *", func() {
		swept := t.battleService.SweepExpired(context.Background())
		if swept > 0 {
			t.logger.Info("【定时任务】超时会话清扫完成", "swept_count", swept)
		}
	})

	if err != nil {
		t.logger.Error("【定时任务】添加清扫任务失败", err)
		return
	}

	t.cron.Start()
	t.logger.Info("【定时任务】已启动 - 每分钟执行超时会话兜底清扫")
}

// Stop 停止定时任务（优雅关闭）
func (t *SessionSweeperTask) Stop() {
	if t.cron != nil {
		t.logger.Info("【定时任务】正在停止定时任务...")
		ctx := t.cron.Stop()
		<-ctx.Done()
		t.logger.Info("【定时任务】定时任务已停止")
	}
}
