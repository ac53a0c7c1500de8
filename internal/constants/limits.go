package constants

import "time"

// HTTP 請求相關常數
const (
	DefaultMaxRequestBodySize = 10 << 20 // 10MB
	DefaultMaxMultipartMemory = 10 << 20 // 10MB
	DefaultRequestTimeout     = 30       // 秒
)

// 分頁相關常數
const (
	DefaultPageSize        = 20
	DefaultMaxPageSize     = 100
	DefaultHistoryPageSize = 50
	MinPageSize            = 1
)

// 頻道相關常數
const (
	DefaultMaxChannelMembers    = 1000
	DefaultMaxChannelNameLength = 100
	MinChannelNameLength        = 1
	DirectChannelMembers        = 2
)

// 訊息相關常數
const (
	DefaultMaxMessageLength = 10000
	DefaultRetentionDays    = 30
)

// 訊息速率限制（滑動窗口）
const (
	RateLimitWindow              = 60 * time.Second
	DefaultMessagesPerMinute     = 30
	DefaultHTTPRateLimitPerMin   = 100
	HTTPRateLimitCleanupInterval = 10 * time.Minute
)

// 內容審核相關常數
const (
	DefaultModerationThreshold = 70
	DefaultModerationTimeout   = 2 * time.Second
	ModerationMaxScore         = 100
)

// 在線狀態相關常數
const (
	DefaultPresenceIdleThreshold = 5 * time.Minute
)

// 清理排程預設值（cron 表達式）
const (
	DefaultMessageSweepCron   = "0 * * * *"   // 每小時
	DefaultRateLimitSweepCron = "* * * * *"   // 每分鐘
	DefaultPresenceSweepCron  = "*/5 * * * *" // 每 5 分鐘
)

// 連接中心相關常數
const (
	DefaultTransportBuffer  = 16
	DefaultWriteTimeout     = 10 * time.Second
	DefaultPingInterval     = 30 * time.Second
	DefaultMaxInboundSize   = 64 << 10 // 64KB
	DefaultConnectionsPerIP = 3
)

// 外部協作服務相關常數
const (
	DefaultCollaboratorTimeout = 3 * time.Second
)

// 通知相關常數
const (
	DefaultNotificationListLimit = 50
	MaxNotificationListLimit     = 200
)

// 用戶 ID 相關常數
const (
	MaxUserIDLength = 100
)

// 加密相關常數
const (
	EncryptedPrefixLength = 10
	MasterKeyLength       = 32 // 256 bits
)
