package message

import (
	"context"
	"fmt"

	"chat-core/internal/core"
	"chat-core/internal/platform/logger"
)

// ReviewDecision 版主對待審訊息的裁決.
type ReviewDecision string

const (
	ReviewApprove ReviewDecision = "approve"
	ReviewReject  ReviewDecision = "reject"
)

// ReviewQueue 列出頻道的待審訊息（flagged / rejected）.
// 只有頻道版主可以查看；內容解密後返回.
func (s *Service) ReviewQueue(ctx context.Context, channelID, moderatorID string) ([]*Message, error) {
	ch, err := s.registry.Get(channelID)
	if err != nil {
		return nil, err
	}
	if !ch.IsModerator(moderatorID) {
		return nil, fmt.Errorf("只有版主可以查看審核隊列: %w", core.ErrPermissionDenied)
	}

	var queue []*Message
	for _, msg := range s.store.ListChannel(channelID) {
		switch msg.ModerationStatus {
		case ModerationFlagged, ModerationRejected:
			queue = append(queue, s.decrypt(ctx, msg, channelID))
		}
	}

	return queue, nil
}

// Review 版主裁決一則待審訊息.
// 批准的訊息立即廣播給全頻道（此前其他成員看不到）；
// 駁回則維持不可見.裁決連同操作者與理由寫入日誌，構成審核軌跡.
func (s *Service) Review(ctx context.Context, messageID, moderatorID string, decision ReviewDecision, reason string) (*Message, error) {
	existing, err := s.store.Get(messageID)
	if err != nil {
		return nil, err
	}

	ch, err := s.registry.Get(existing.ChannelID)
	if err != nil {
		return nil, err
	}
	if !ch.IsModerator(moderatorID) {
		return nil, fmt.Errorf("只有版主可以裁決訊息: %w", core.ErrPermissionDenied)
	}

	if existing.ModerationStatus == ModerationApproved && decision == ReviewApprove {
		return existing, nil
	}

	// 帶旗標放行的訊息本來就可見，批准只清除旗標，不補做廣播
	wasVisible := existing.ModerationStatus != ModerationRejected

	updated, err := s.store.Update(messageID, func(m *Message) error {
		switch decision {
		case ReviewApprove:
			m.ModerationStatus = ModerationApproved
		case ReviewReject:
			m.ModerationStatus = ModerationRejected
		default:
			return fmt.Errorf("無效的裁決: %s", decision)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.persistMessage(ctx, updated)

	logger.Info(ctx, fmt.Sprintf("版主裁決訊息: %s", decision),
		logger.WithMessageID(messageID),
		logger.WithChannelID(ch.ID),
		logger.WithUserID(moderatorID),
		logger.WithAction("moderation_review"),
		logger.WithDetails(map[string]interface{}{
			"decision":        string(decision),
			"reason":          reason,
			"previous_status": string(existing.ModerationStatus),
		}))

	// 新批准的訊息此刻才對其他成員可見，補做廣播與通知.
	// 補做的廣播同樣走頻道提交鎖，與新訊息保持一致的觀察順序.
	if decision == ReviewApprove && !wasVisible {
		plain := s.decrypt(ctx, updated, ch.ID)
		if s.broadcaster != nil {
			commitMu := s.channelCommitMu(ch.ID)
			commitMu.Lock()
			s.broadcaster.BroadcastToChannel(ctx, ch.ID, core.NewEvent(core.EventNewMessage, plain))
			commitMu.Unlock()
		}
		if s.notifier != nil {
			s.notifier.DispatchMessage(ctx, plain, ch)
		}
	}

	return updated, nil
}
