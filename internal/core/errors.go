package core

import "errors"

// 引擎錯誤分類.
// 結構性錯誤（查找失敗、權限不足、速率限制）同步返回給請求方，
// 且不會部分修改狀態；外部協作服務的失敗由各組件就地降級處理，
// 不會以這些錯誤的形式傳遞給發送方.
var (
	// ErrChannelNotFound 頻道不存在.
	ErrChannelNotFound = errors.New("channel not found")

	// ErrMessageNotFound 消息不存在.
	ErrMessageNotFound = errors.New("message not found")

	// ErrUserNotFound 用戶不存在.
	ErrUserNotFound = errors.New("user not found")

	// ErrPermissionDenied 缺少執行操作所需的能力（如創建頻道）.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrForbidden 請求方不是消息發送者或頻道管理員.
	ErrForbidden = errors.New("forbidden")

	// ErrNotAMember 發送方不是頻道成員.
	ErrNotAMember = errors.New("not a channel member")

	// ErrRateLimitExceeded 滑動窗口內消息數已達頻道上限.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrCapacityExceeded 頻道成員數已達上限.
	ErrCapacityExceeded = errors.New("channel capacity exceeded")

	// ErrExternalServiceUnavailable 外部協作服務（分類器、郵件、推送）不可用.
	// 此錯誤只用於內部記錄與降級判斷，不向發送方傳遞.
	ErrExternalServiceUnavailable = errors.New("external service unavailable")
)
