// File: internal/pkg/i18n/error_messages.go
package i18n

import (
	"fable-self/internal/pkg/xerrors"

	"golang.org/x/text/language"
)

// ErrorMessages 错误消息的多语言映射
var ErrorMessages = map[xerrors.ErrorCode]map[language.Tag]string{
	// 1xxxxx: 通用错误码
	xerrors.CodeSuccess:           {language.Chinese: "操作成功", language.English: "Operation successful"},
	xerrors.CodeInternalError:     {language.Chinese: "内部服务错误", language.English: "Internal server error"},
	xerrors.CodeInvalidParams:     {language.Chinese: "参数错误", language.English: "Invalid parameters"},
	xerrors.CodeInvalidRequest:    {language.Chinese: "请求格式错误", language.English: "Invalid request format"},
	xerrors.CodeResourceNotFound:  {language.Chinese: "资源不存在", language.English: "Resource not found"},
	xerrors.CodeDuplicateResource: {language.Chinese: "资源已存在", language.English: "Resource already exists"},
	xerrors.CodeRateLimitExceeded: {language.Chinese: "请求频率限制", language.English: "Rate limit exceeded"},

	// 6xxxxx: 业务逻辑错误码
	xerrors.CodeBusinessLogicError:  {language.Chinese: "业务逻辑错误", language.English: "Business logic error"},
	xerrors.CodeDataIntegrityError:  {language.Chinese: "数据完整性错误", language.English: "Data integrity error"},
	xerrors.CodeOperationNotAllowed: {language.Chinese: "操作不被允许", language.English: "Operation not allowed"},
	xerrors.CodeResourceLocked:      {language.Chinese: "资源被锁定", language.English: "Resource locked"},

	// 7xxxxx: 外部服务错误码
	xerrors.CodeExternalServiceError: {language.Chinese: "外部服务错误", language.English: "External service error"},
	xerrors.CodeDatabaseError:        {language.Chinese: "数据库错误", language.English: "Database error"},
	xerrors.CodeCacheError:           {language.Chinese: "缓存服务错误", language.English: "Cache service error"},
	xerrors.CodeMessageQueueError:    {language.Chinese: "消息队列错误", language.English: "Message queue error"},

	// 8xxxxx: 游戏业务错误码
	xerrors.CodeProfileNotFound:   {language.Chinese: "玩家档案不存在", language.English: "Player profile not found"},
	xerrors.CodeInsufficientLevel: {language.Chinese: "等级不足", language.English: "Insufficient level"},

	// 战斗相关 (83xxxx)
	xerrors.CodeAlreadyInBattle:       {language.Chinese: "已有进行中的战斗", language.English: "A battle is already in progress"},
	xerrors.CodeBattleLevelTooLow:     {language.Chinese: "等级未达到对手要求", language.English: "Level requirement not met for this opponent"},
	xerrors.CodeOpponentNotFound:      {language.Chinese: "对手不存在", language.English: "Unknown opponent"},
	xerrors.CodeBattleSessionNotFound: {language.Chinese: "战斗会话不存在", language.English: "No active battle session"},
	xerrors.CodeInvalidBattleAction:   {language.Chinese: "无效的战斗动作", language.English: "Invalid battle action"},
}

// GetErrorMessage 根据错误码和语言获取本地化错误消息
func GetErrorMessage(code xerrors.ErrorCode, lang language.Tag) string {
	messages, ok := ErrorMessages[code]
	if !ok {
		return code.Message()
	}
	if msg, ok := messages[lang]; ok {
		return msg
	}
	if msg, ok := messages[DefaultLanguage]; ok {
		return msg
	}
	return code.Message()
}
