package server

import (
	"net/http"
	"strconv"
	"time"

	"chat-core/internal/channel"
	"chat-core/internal/constants"
	"chat-core/internal/engine"
	"chat-core/internal/httputil"
	"chat-core/internal/message"
	"chat-core/internal/platform/middleware"
	"chat-core/internal/user"

	"github.com/gin-gonic/gin"
)

// handler REST API 處理器.
type handler struct {
	eng *engine.Engine
}

func newHandler(eng *engine.Engine) *handler {
	return &handler{eng: eng}
}

// ensureUser 把已認證的身份註冊進用戶目錄（冪等）.
func (h *handler) ensureUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := middleware.GetIdentity(c)
		if id == nil {
			httputil.Unauthorized(c, "")
			c.Abort()
			return
		}
		h.eng.Users.Register(id.UserID, id.Username, id.DisplayName)
		c.Next()
	}
}

// ---- 頻道 ----

// createChannel 創建頻道.
func (h *handler) createChannel(c *gin.Context) {
	id := middleware.GetIdentity(c)

	var req struct {
		Name     string            `json:"name" binding:"required"`
		Kind     string            `json:"kind"`
		Members  []string          `json:"members"`
		Settings *channel.Settings `json:"settings"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.BadRequest(c, "無效的請求格式")
		return
	}
	if len(req.Name) > constants.DefaultMaxChannelNameLength {
		httputil.BadRequest(c, "頻道名稱過長")
		return
	}

	ch, err := h.eng.Registry.CreateChannel(c.Request.Context(), id.UserID, channel.Spec{
		Name:     req.Name,
		Kind:     channel.Kind(req.Kind),
		Members:  req.Members,
		Settings: req.Settings,
	})
	if err != nil {
		httputil.EngineError(c, err)
		return
	}

	c.JSON(http.StatusCreated, httputil.NewSuccessResponse(httputil.DataCreated, channelView(ch)))
}

// listChannels 列出當前用戶所屬的頻道.
func (h *handler) listChannels(c *gin.Context) {
	id := middleware.GetIdentity(c)

	channels := h.eng.Registry.ListForUser(id.UserID)
	views := make([]gin.H, 0, len(channels))
	for _, ch := range channels {
		views = append(views, channelView(ch))
	}

	c.JSON(http.StatusOK, httputil.NewSuccessResponse(httputil.DataRetrieved, views))
}

// joinChannel 加入頻道.
func (h *handler) joinChannel(c *gin.Context) {
	id := middleware.GetIdentity(c)
	channelID := c.Param("channel_id")

	result, err := h.eng.Registry.JoinChannel(c.Request.Context(), id.UserID, channelID)
	if err != nil {
		httputil.EngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": httputil.DataUpdated,
		"result":  string(result),
	})
}

// approveJoin 版主審批加入請求.
func (h *handler) approveJoin(c *gin.Context) {
	id := middleware.GetIdentity(c)
	channelID := c.Param("channel_id")

	var req struct {
		UserID  string `json:"user_id" binding:"required"`
		Approve *bool  `json:"approve" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.BadRequest(c, "無效的請求格式")
		return
	}

	result, err := h.eng.Registry.ApproveJoin(c.Request.Context(), id.UserID, channelID, req.UserID, *req.Approve)
	if err != nil {
		httputil.EngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": httputil.DataUpdated,
		"result":  string(result),
	})
}

// leaveChannel 離開頻道.
func (h *handler) leaveChannel(c *gin.Context) {
	id := middleware.GetIdentity(c)
	channelID := c.Param("channel_id")

	removed, err := h.eng.Registry.LeaveChannel(c.Request.Context(), id.UserID, channelID)
	if err != nil {
		httputil.EngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": httputil.DataUpdated,
		"removed": removed,
	})
}

// listMembers 列出頻道成員.
func (h *handler) listMembers(c *gin.Context) {
	id := middleware.GetIdentity(c)
	channelID := c.Param("channel_id")

	ch, err := h.eng.Registry.Get(channelID)
	if err != nil {
		httputil.EngineError(c, err)
		return
	}
	if !ch.IsMember(id.UserID) {
		httputil.Forbidden(c, "只有頻道成員可以查看成員列表")
		return
	}

	members, err := h.eng.Registry.Members(channelID)
	if err != nil {
		httputil.EngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, httputil.NewSuccessResponse(httputil.DataRetrieved, members))
}

// ---- 訊息 ----

// sendMessage 發送訊息.
func (h *handler) sendMessage(c *gin.Context) {
	id := middleware.GetIdentity(c)

	var req struct {
		ChannelID   string               `json:"channel_id"`
		RecipientID string               `json:"recipient_id"`
		Content     string               `json:"content"`
		Kind        string               `json:"kind"`
		Attachments []message.Attachment `json:"attachments"`
		ReplyTo     []string             `json:"reply_to"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.BadRequest(c, "無效的請求格式")
		return
	}

	msg, err := h.eng.Messages.Send(c.Request.Context(), message.SendRequest{
		SenderID:    id.UserID,
		ChannelID:   req.ChannelID,
		RecipientID: req.RecipientID,
		Content:     req.Content,
		Kind:        message.Kind(req.Kind),
		Attachments: req.Attachments,
		ReplyTo:     req.ReplyTo,
	})
	if err != nil {
		httputil.EngineError(c, err)
		return
	}

	c.JSON(http.StatusCreated, httputil.NewSuccessResponse(httputil.DataCreated, msg))
}

// history 頻道歷史分頁（最新優先，before 為 RFC3339 時間游標）.
func (h *handler) history(c *gin.Context) {
	id := middleware.GetIdentity(c)
	channelID := c.Param("channel_id")

	var before time.Time
	if raw := c.Query("before"); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			httputil.BadRequest(c, "無效的時間游標")
			return
		}
		before = parsed
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))

	msgs, err := h.eng.Messages.History(c.Request.Context(), channelID, id.UserID, before, limit)
	if err != nil {
		httputil.EngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, httputil.NewSuccessResponse(httputil.DataRetrieved, msgs))
}

// editMessage 編輯訊息.
func (h *handler) editMessage(c *gin.Context) {
	id := middleware.GetIdentity(c)
	messageID := c.Param("message_id")

	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.BadRequest(c, "無效的請求格式")
		return
	}

	msg, err := h.eng.Messages.Edit(c.Request.Context(), messageID, id.UserID, req.Content)
	if err != nil {
		httputil.EngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, httputil.NewSuccessResponse(httputil.DataUpdated, msg))
}

// deleteMessage 刪除訊息.
func (h *handler) deleteMessage(c *gin.Context) {
	id := middleware.GetIdentity(c)
	messageID := c.Param("message_id")

	if err := h.eng.Messages.Delete(c.Request.Context(), messageID, id.UserID); err != nil {
		httputil.EngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, httputil.Success(httputil.DataDeleted))
}

// react 切換表情反應.
func (h *handler) react(c *gin.Context) {
	id := middleware.GetIdentity(c)
	messageID := c.Param("message_id")

	var req struct {
		Emoji string `json:"emoji" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.BadRequest(c, "無效的請求格式")
		return
	}

	msg, err := h.eng.Messages.React(c.Request.Context(), messageID, id.UserID, req.Emoji)
	if err != nil {
		httputil.EngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, httputil.NewSuccessResponse(httputil.DataUpdated, msg))
}

// markRead 標記頻道訊息已讀.
func (h *handler) markRead(c *gin.Context) {
	id := middleware.GetIdentity(c)
	channelID := c.Param("channel_id")

	marked, err := h.eng.Messages.MarkRead(c.Request.Context(), channelID, id.UserID)
	if err != nil {
		httputil.EngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, httputil.SuccessWithCount(httputil.DataUpdated, marked))
}

// ---- 審核 ----

// reviewQueue 列出頻道的待審訊息.
func (h *handler) reviewQueue(c *gin.Context) {
	id := middleware.GetIdentity(c)
	channelID := c.Param("channel_id")

	queue, err := h.eng.Messages.ReviewQueue(c.Request.Context(), channelID, id.UserID)
	if err != nil {
		httputil.EngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, httputil.NewSuccessResponse(httputil.DataRetrieved, queue))
}

// reviewMessage 版主裁決待審訊息.
func (h *handler) reviewMessage(c *gin.Context) {
	id := middleware.GetIdentity(c)
	messageID := c.Param("message_id")

	var req struct {
		Decision string `json:"decision" binding:"required"`
		Reason   string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.BadRequest(c, "無效的請求格式")
		return
	}

	msg, err := h.eng.Messages.Review(c.Request.Context(), messageID, id.UserID,
		message.ReviewDecision(req.Decision), req.Reason)
	if err != nil {
		httputil.EngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, httputil.NewSuccessResponse(httputil.DataUpdated, msg))
}

// ---- 通知 ----

// listNotifications 列出當前用戶的通知.
func (h *handler) listNotifications(c *gin.Context) {
	id := middleware.GetIdentity(c)

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(constants.DefaultNotificationListLimit)))
	if limit <= 0 || limit > constants.MaxNotificationListLimit {
		limit = constants.DefaultNotificationListLimit
	}
	unreadOnly := c.Query("unread") == "true"

	list := h.eng.Notifications.Store().List(id.UserID, limit, unreadOnly)
	c.JSON(http.StatusOK, httputil.NewSuccessResponse(httputil.DataRetrieved, list))
}

// unreadCount 未讀通知數.
func (h *handler) unreadCount(c *gin.Context) {
	id := middleware.GetIdentity(c)
	c.JSON(http.StatusOK, httputil.SuccessWithCount(httputil.DataRetrieved, h.eng.Notifications.UnreadCount(id.UserID)))
}

// markNotificationRead 標記單則通知已讀.
func (h *handler) markNotificationRead(c *gin.Context) {
	id := middleware.GetIdentity(c)
	notificationID := c.Param("notification_id")

	if err := h.eng.Notifications.Store().MarkRead(id.UserID, notificationID); err != nil {
		httputil.EngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, httputil.Success(httputil.DataUpdated))
}

// markAllNotificationsRead 標記全部通知已讀.
func (h *handler) markAllNotificationsRead(c *gin.Context) {
	id := middleware.GetIdentity(c)
	marked := h.eng.Notifications.Store().MarkAllRead(id.UserID)
	c.JSON(http.StatusOK, httputil.SuccessWithCount(httputil.DataUpdated, marked))
}

// ---- 用戶 ----

// updateStatus 切換用戶狀態（away/busy 等）.
func (h *handler) updateStatus(c *gin.Context) {
	id := middleware.GetIdentity(c)

	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.BadRequest(c, "無效的請求格式")
		return
	}

	if err := h.eng.Hub.UpdateStatus(c.Request.Context(), id.UserID, user.Status(req.Status)); err != nil {
		httputil.EngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, httputil.Success(httputil.DataUpdated))
}

// typing 發送打字指示.
func (h *handler) typing(c *gin.Context) {
	id := middleware.GetIdentity(c)
	channelID := c.Param("channel_id")

	var req struct {
		IsTyping bool `json:"is_typing"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.BadRequest(c, "無效的請求格式")
		return
	}

	if err := h.eng.Hub.Typing(c.Request.Context(), id.UserID, channelID, req.IsTyping); err != nil {
		httputil.EngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, httputil.Success(httputil.DataUpdated))
}

// channelView 頻道的對外視圖.
func channelView(ch *channel.Channel) gin.H {
	return gin.H{
		"id":            ch.ID,
		"name":          ch.Name,
		"kind":          string(ch.Kind),
		"members":       ch.MemberIDs(),
		"moderators":    ch.ModeratorIDs(),
		"settings":      ch.Settings,
		"created_at":    ch.CreatedAt,
		"last_activity": ch.LastActivity,
		"message_count": ch.MessageCount,
		"archived":      ch.Archived,
	}
}
