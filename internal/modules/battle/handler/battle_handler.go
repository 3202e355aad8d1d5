package handler

import (
	"context"

	"github.com/labstack/echo/v4"

	"fable-self/internal/modules/battle/service"
	"fable-self/internal/pkg/ctxkey"
	"fable-self/internal/pkg/response"
	"fable-self/internal/pkg/xerrors"
)

// BattleHandler 战斗引擎的 HTTP 入口。
// 外部指令分发器的 battle start / battle act 一比一映射到这里。
type BattleHandler struct {
	battleService *service.BattleService
	respWriter    response.Writer
}

// NewBattleHandler 构造函数。
func NewBattleHandler(battleService *service.BattleService, respWriter response.Writer) *BattleHandler {
	return &BattleHandler{
		battleService: battleService,
		respWriter:    respWriter,
	}
}

type startBattleRequest struct {
	OpponentKey string `json:"opponent_key" validate:"required"`
}

type battleActionRequest struct {
	Action string `json:"action" validate:"required,oneof=attack defend specialMove useItem flee"`
}

// ownerID 从请求头解析调用者身份, 写入 context。
// 网关负责鉴权, 这里只消费它注入的 X-Owner-Id。
func ownerID(c echo.Context) (string, context.Context, error) {
	owner := c.Request().Header.Get("X-Owner-Id")
	if owner == "" {
		return "", nil, xerrors.NewValidationError("ownerId", "X-Owner-Id header is required")
	}
	ctx := ctxkey.WithValue(c.Request().Context(), ctxkey.OwnerID, owner)
	return owner, ctx, nil
}

// StartBattle 开始战斗。
// POST /api/v1/battle/battles
func (h *BattleHandler) StartBattle(c echo.Context) error {
	owner, ctx, err := ownerID(c)
	if err != nil {
		return response.EchoError(c, h.respWriter, err)
	}

	var req startBattleRequest
	if err := c.Bind(&req); err != nil {
		return response.EchoBadRequest(c, h.respWriter, "invalid start battle payload")
	}
	if err := c.Validate(&req); err != nil {
		return response.EchoError(c, h.respWriter, xerrors.NewValidationError("opponent_key", "opponent_key is required"))
	}

	update, err := h.battleService.Start(ctx, owner, req.OpponentKey)
	if err != nil {
		return response.EchoError(c, h.respWriter, err)
	}
	return response.EchoOK(c, h.respWriter, update)
}

// Act 处理一次战斗动作。
// POST /api/v1/battle/battles/action
func (h *BattleHandler) Act(c echo.Context) error {
	owner, ctx, err := ownerID(c)
	if err != nil {
		return response.EchoError(c, h.respWriter, err)
	}

	var req battleActionRequest
	if err := c.Bind(&req); err != nil {
		return response.EchoBadRequest(c, h.respWriter, "invalid battle action payload")
	}
	if err := c.Validate(&req); err != nil {
		return response.EchoError(c, h.respWriter, xerrors.NewInvalidBattleActionError(req.Action, "unsupported action"))
	}

	action, err := service.ParseAction(req.Action)
	if err != nil {
		return response.EchoError(c, h.respWriter, err)
	}

	update, err := h.battleService.Act(ctx, owner, action)
	if err != nil {
		return response.EchoError(c, h.respWriter, err)
	}
	return response.EchoOK(c, h.respWriter, update)
}

// GetCurrent 返回调用者当前会话的快照。
// GET /api/v1/battle/battles/current
func (h *BattleHandler) GetCurrent(c echo.Context) error {
	owner, ctx, err := ownerID(c)
	if err != nil {
		return response.EchoError(c, h.respWriter, err)
	}

	update, err := h.battleService.GetCurrent(ctx, owner)
	if err != nil {
		return response.EchoError(c, h.respWriter, err)
	}
	return response.EchoOK(c, h.respWriter, update)
}

// ListOpponents 返回全部可挑战对手的 key。
// GET /api/v1/battle/opponents
func (h *BattleHandler) ListOpponents(c echo.Context) error {
	return response.EchoOK(c, h.respWriter, h.battleService.OpponentKeys())
}
